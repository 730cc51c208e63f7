package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"scoreledger/internal/domain"
	"scoreledger/internal/logging"
)

const (
	chatCompletionsPath = "/chat/completions"
	maxErrorBodyBytes   = 4096
)

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature float64         `json:"temperature"`
}

// OpenAIExtractor talks to any OpenAI-compatible chat completions endpoint
// in streaming mode.
type OpenAIExtractor struct {
	opts     Options
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger
}

func NewOpenAIExtractor(opts Options) *OpenAIExtractor {
	return &OpenAIExtractor{
		opts:     opts,
		endpoint: chatCompletionsURL(opts.Endpoint),
		client:   opts.httpClient(),
		log:      logging.Component(opts.Logger, "llm.openai"),
	}
}

// chatCompletionsURL accepts either the full completions URL or a base URL
// such as https://host/v1.
func chatCompletionsURL(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "https://api.openai.com/v1" + chatCompletionsPath
	}
	if strings.HasSuffix(endpoint, chatCompletionsPath) {
		return endpoint
	}
	return strings.TrimRight(endpoint, "/") + chatCompletionsPath
}

func (e *OpenAIExtractor) Extract(ctx context.Context, rawText string) (string, error) {
	reqBody := openAIRequest{
		Model: e.opts.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: e.opts.systemPrompt()},
			{Role: "user", Content: rawText},
		},
		Stream:      true,
		Temperature: e.opts.Temperature,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if e.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.opts.APIKey)
	}

	e.log.WithFields(logrus.Fields{"model": e.opts.Model, "input_bytes": len(rawText)}).Debug("llm extract request")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		e.log.WithError(err).Warn("llm openai transport error")
		return "", &domain.NetworkError{Endpoint: e.endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		e.log.WithField("status", resp.StatusCode).Warn("llm openai non-success response")
		return "", &domain.NetworkError{
			Endpoint:   e.endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	text, usage, err := AssembleSSE(ctx, resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			return "", &domain.NetworkError{Endpoint: e.endpoint, StatusCode: resp.StatusCode, Body: streamErr.Message, Err: err}
		}
		return "", &domain.NetworkError{Endpoint: e.endpoint, Err: err}
	}

	e.log.WithFields(logrus.Fields{
		"model":      e.opts.Model,
		"size":       len(text),
		"tokens_in":  usage.InputTokens,
		"tokens_out": usage.OutputTokens,
	}).Info("llm openai response")
	return text, nil
}
