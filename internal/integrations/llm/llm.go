package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"scoreledger/internal/config"
	"scoreledger/internal/httpx"
	"scoreledger/internal/logging"
)

// Extractor turns free-form text into the raw model output. Implementations
// stream the response and return the concatenated text.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (string, error)
}

type ExtractorFunc func(ctx context.Context, rawText string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, rawText string) (string, error) {
	return f(ctx, rawText)
}

type Options struct {
	Endpoint     string
	APIKey       string
	Model        string
	Temperature  float64
	SystemPrompt string
	HTTPClient   *http.Client
	Logger       logrus.FieldLogger
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return httpx.ExternalHTTPClient()
}

func (o Options) systemPrompt() string {
	if o.SystemPrompt != "" {
		return o.SystemPrompt
	}
	return DefaultSystemPrompt
}

// NewFromConfig builds the extractor for the configured provider.
func NewFromConfig(cfg config.Config, logger logrus.FieldLogger) (Extractor, error) {
	if err := cfg.CheckLLMCredentials(); err != nil {
		return nil, err
	}
	prompt, err := LoadSystemPrompt(cfg.LLMSystemPromptPath)
	if err != nil {
		return nil, err
	}
	opts := Options{
		Endpoint:     cfg.LLMEndpoint,
		APIKey:       cfg.LLMAPIKey,
		Model:        cfg.LLMModel,
		Temperature:  cfg.LLMTemperature,
		SystemPrompt: prompt,
		Logger:       logging.Component(logger, "llm"),
	}
	switch cfg.LLMProvider {
	case "anthropic":
		return NewAnthropicExtractor(opts), nil
	case "openai", "":
		return NewOpenAIExtractor(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}
