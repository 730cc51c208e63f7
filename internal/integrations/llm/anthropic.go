package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"scoreledger/internal/domain"
	"scoreledger/internal/logging"
)

const (
	anthropicDefaultEndpoint = "https://api.anthropic.com/"
	anthropicMaxTokens       = 8192
)

// AnthropicExtractor streams the extraction through the Messages API.
type AnthropicExtractor struct {
	opts     Options
	endpoint string
	client   anthropic.Client
	log      logrus.FieldLogger
}

func NewAnthropicExtractor(opts Options) *AnthropicExtractor {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = anthropicDefaultEndpoint
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	client := anthropic.NewClient(
		option.WithAPIKey(opts.APIKey),
		option.WithBaseURL(endpoint),
		option.WithHTTPClient(opts.httpClient()),
		option.WithMaxRetries(0),
	)
	return &AnthropicExtractor{
		opts:     opts,
		endpoint: endpoint,
		client:   client,
		log:      logging.Component(opts.Logger, "llm.anthropic"),
	}
}

func (e *AnthropicExtractor) Extract(ctx context.Context, rawText string) (string, error) {
	stream := e.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(e.opts.Model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(e.opts.Temperature),
		System: []anthropic.TextBlockParam{
			{Text: e.opts.systemPrompt(), CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(rawText)),
		},
	})
	defer stream.Close()

	var (
		text  strings.Builder
		usage Usage
	)
	for stream.Next() {
		switch event := stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			usage.InputTokens = event.Message.Usage.InputTokens
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := event.Delta.AsAny().(anthropic.TextDelta); ok {
				text.WriteString(delta.Text)
			}
		case anthropic.MessageDeltaEvent:
			usage.OutputTokens = event.Usage.OutputTokens
		}
	}

	if err := stream.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		e.log.WithError(err).Warn("llm anthropic error")
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", &domain.NetworkError{Endpoint: e.endpoint, StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", &domain.NetworkError{Endpoint: e.endpoint, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.log.WithFields(logrus.Fields{
		"model":      e.opts.Model,
		"size":       text.Len(),
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	}).Info("llm anthropic response")
	return text.String(), nil
}
