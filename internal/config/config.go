package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
)

type Config struct {
	LLMProvider         string  `yaml:"llm_provider" validate:"oneof=openai anthropic"`
	LLMEndpoint         string  `yaml:"llm_endpoint"`
	LLMAPIKey           string  `yaml:"llm_api_key"`
	LLMModel            string  `yaml:"llm_model"`
	LLMTemperature      float64 `yaml:"llm_temperature" validate:"gte=0,lte=2"`
	LLMSystemPromptPath string  `yaml:"llm_system_prompt_path"`
	LLMRetryAttempts    int     `yaml:"llm_retry_attempts" validate:"gte=1,lte=10"`
	LLMRetryBackoffSecs int     `yaml:"llm_retry_backoff_seconds" validate:"gte=0"`
	OpenAIAPIKey        string  `yaml:"openai_api_key"`
	AnthropicAPIKey     string  `yaml:"anthropic_api_key"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds" validate:"gte=5"`

	DBPath           string `yaml:"db_path"`
	PendingExportDir string `yaml:"pending_export_dir"`

	SlackBotToken           string   `yaml:"slack_bot_token"`
	SlackAppToken           string   `yaml:"slack_app_token"`
	ReviewChannelID         string   `yaml:"review_channel_id"`
	Reviewers               []string `yaml:"reviewers"`
	PendingReminderSchedule string   `yaml:"pending_reminder_schedule"`

	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

var validate = validator.New()

// LoadConfig loads configuration and exits the process when it is invalid.
func LoadConfig() Config {
	cfg, err := Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	return cfg
}

// Load reads config.yaml (or CONFIG_PATH), applies environment overrides and
// defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		logrus.Debugf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMEndpoint, "LLM_ENDPOINT")
	envOverride(&cfg.LLMAPIKey, "LLM_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMSystemPromptPath, "LLM_SYSTEM_PROMPT_PATH")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.PendingExportDir, "PENDING_EXPORT_DIR")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackAppToken, "SLACK_APP_TOKEN")
	envOverride(&cfg.ReviewChannelID, "REVIEW_CHANNEL_ID")
	envOverrideAllowEmpty(&cfg.PendingReminderSchedule, "PENDING_REMINDER_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	if err := envOverrideFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.LLMRetryAttempts, "LLM_RETRY_ATTEMPTS"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.LLMRetryBackoffSecs, "LLM_RETRY_BACKOFF_SECONDS"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"); err != nil {
		return cfg, err
	}

	if reviewers := os.Getenv("REVIEWERS"); reviewers != "" {
		cfg.Reviewers = nil
		for _, r := range strings.Split(reviewers, ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				cfg.Reviewers = append(cfg.Reviewers, r)
			}
		}
	}

	applyDefaults(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validating config: %w", err)
	}

	if (cfg.SlackBotToken == "") != (cfg.SlackAppToken == "") {
		return cfg, fmt.Errorf("slack_bot_token and slack_app_token must be set together")
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("invalid timezone '%s': %w", cfg.Timezone, err)
		}
		cfg.Location = loc
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("invalid log_level '%s': %w", cfg.LogLevel, err)
	}

	if schedule := strings.TrimSpace(cfg.PendingReminderSchedule); schedule != "" {
		if _, err := ParseSchedule(schedule); err != nil {
			return cfg, fmt.Errorf("invalid pending_reminder_schedule '%s': %w", schedule, err)
		}
	}

	if cfg.LLMSystemPromptPath != "" {
		if _, err := os.Stat(cfg.LLMSystemPromptPath); err != nil {
			return cfg, fmt.Errorf("invalid llm_system_prompt_path '%s': %w", cfg.LLMSystemPromptPath, err)
		}
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	if cfg.LLMAPIKey == "" {
		switch cfg.LLMProvider {
		case "openai":
			cfg.LLMAPIKey = cfg.OpenAIAPIKey
		case "anthropic":
			cfg.LLMAPIKey = cfg.AnthropicAPIKey
		}
	}
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case "anthropic":
			cfg.LLMModel = defaultAnthropicModel
		default:
			cfg.LLMModel = defaultOpenAIModel
		}
	}
	if cfg.LLMEndpoint == "" && cfg.LLMProvider == "openai" {
		cfg.LLMEndpoint = defaultOpenAIEndpoint
	}
	if cfg.LLMTemperature == 0 {
		cfg.LLMTemperature = 0.3
	}
	if cfg.LLMRetryAttempts == 0 {
		cfg.LLMRetryAttempts = 3
	}
	if cfg.LLMRetryBackoffSecs == 0 {
		cfg.LLMRetryBackoffSecs = 2
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./scoreledger.db"
	}
	if cfg.PendingExportDir == "" {
		cfg.PendingExportDir = "./exports"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
}

// RetryBackoff is the fixed pause between extraction attempts.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.LLMRetryBackoffSecs) * time.Second
}

// CheckLLMCredentials reports a missing API key for providers that need one.
// Anthropic and the hosted OpenAI endpoint always do; a self-hosted
// OpenAI-compatible endpoint may run without a key. Only commands that call
// the model check this, so review commands work with no key at all.
func (c Config) CheckLLMCredentials() error {
	if c.LLMAPIKey != "" {
		return nil
	}
	switch c.LLMProvider {
	case "anthropic":
	case "openai", "":
		if !isHostedOpenAI(c.LLMEndpoint) {
			return nil
		}
	default:
		return nil
	}
	provider := c.LLMProvider
	if provider == "" {
		provider = "openai"
	}
	return fmt.Errorf("an API key is required for llm_provider=%s (llm_api_key or %s_api_key)", provider, provider)
}

func isHostedOpenAI(endpoint string) bool {
	if endpoint == "" {
		return true
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), "api.openai.com")
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(spec)
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
