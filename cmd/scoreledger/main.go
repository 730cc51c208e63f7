package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scoreledger/internal/app"
	"scoreledger/internal/config"
)

var (
	configPath string
	logLevel   string

	application *app.App
)

var rootCmd = &cobra.Command{
	Use:   "scoreledger",
	Short: "Turn free-form behaviour notes into student score records",
	Long: `scoreledger extracts score records from pasted text with a language
model, binds each record to a student on the roster, and queues anything it
cannot bind for human review.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
				return err
			}
		}
		if logLevel != "" {
			if err := os.Setenv("LOG_LEVEL", logLevel); err != nil {
				return err
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		application, err = app.Open(cfg)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: config.yaml or $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log_level (debug, info, warn, error)")

	rootCmd.AddCommand(importCmd, pendingCmd, rosterCmd, tallyCmd, serveCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run executes the command line and closes the application whether or not
// the command succeeded.
func run(ctx context.Context, args []string) error {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if cerr := closeApplication(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func closeApplication() error {
	if application == nil {
		return nil
	}
	err := application.Close()
	application = nil
	return err
}
