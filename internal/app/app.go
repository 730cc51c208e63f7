package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/slack-go/slack"

	"scoreledger/internal/config"
	"scoreledger/internal/httpx"
	"scoreledger/internal/importer"
	"scoreledger/internal/integrations/llm"
	slackbot "scoreledger/internal/integrations/slack"
	"scoreledger/internal/logging"
	"scoreledger/internal/pending"
	"scoreledger/internal/reminder"
	"scoreledger/internal/storage/sqlite"
)

// App holds the long-lived collaborators shared by every command.
type App struct {
	Config  config.Config
	Log     *logrus.Logger
	Store   *sqlite.Store
	Pending *pending.Service
}

func Open(cfg config.Config) (*App, error) {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	logger.WithFields(logrus.Fields{
		"provider":      cfg.LLMProvider,
		"model":         cfg.LLMModel,
		"retries":       cfg.LLMRetryAttempts,
		"timezone":      cfg.Timezone,
		"db":            cfg.DBPath,
		"http_timeout":  appliedHTTPTimeout,
		"reviewers":     len(cfg.Reviewers),
		"slack_enabled": cfg.SlackConfigured(),
	}).Debug("config loaded")

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DBPath, err)
	}
	svc := pending.NewService(store, logger, pending.Options{Location: cfg.Location})
	return &App{Config: cfg, Log: logger, Store: store, Pending: svc}, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

// Importer builds the import orchestrator with the configured extractor.
func (a *App) Importer() (*importer.Orchestrator, error) {
	extractor, err := llm.NewFromConfig(a.Config, a.Log)
	if err != nil {
		return nil, err
	}
	return a.orchestrator(extractor), nil
}

// PayloadImporter builds an orchestrator for already extracted payloads. It
// needs no model credentials; calling ImportText on it is an error.
func (a *App) PayloadImporter() *importer.Orchestrator {
	return a.orchestrator(llm.ExtractorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("no extractor configured for payload imports")
	}))
}

func (a *App) orchestrator(extractor llm.Extractor) *importer.Orchestrator {
	return importer.New(importer.Deps{
		Extractor: extractor,
		Retry: llm.RetryPolicy{
			Attempts: a.Config.LLMRetryAttempts,
			Backoff:  a.Config.RetryBackoff(),
			Logger:   a.Log,
		},
		Roster:        a.Store,
		Ledger:        a.Store,
		TeacherLedger: a.Store,
		Observations:  a.Store,
		Pending:       a.Pending,
		Audit:         a.Store,
		Logger:        a.Log,
		Location:      a.Config.Location,
	})
}

// Serve runs the Slack bot and the pending reminder until ctx is done or the
// bot connection fails.
func (a *App) Serve(ctx context.Context) error {
	if !a.Config.SlackConfigured() {
		return fmt.Errorf("slack_bot_token and slack_app_token are required to serve")
	}
	imp, err := a.Importer()
	if err != nil {
		return err
	}

	api := slack.New(
		a.Config.SlackBotToken,
		slack.OptionAppLevelToken(a.Config.SlackAppToken),
	)
	bot := slackbot.New(api, imp, a.Pending, a.Config.Reviewers, a.Log)
	reviewerIDs, err := bot.ReviewerIDs()
	if err != nil {
		a.Log.WithError(err).Warn("resolving reviewers failed")
	}

	rem := reminder.New(a.Pending, api, a.Log, reminder.Options{
		Schedule:    a.Config.PendingReminderSchedule,
		ChannelID:   a.Config.ReviewChannelID,
		ReviewerIDs: reviewerIDs,
		Location:    a.Config.Location,
	})
	if err := rem.Start(ctx); err != nil {
		return err
	}

	a.Log.Info("starting scoreledger bot")
	return bot.Run(ctx)
}
