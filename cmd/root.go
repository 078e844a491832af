// Package cmd defines and implements the CLI commands for the crawlengine executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/config"
	"github.com/JakeFAU/crawlengine/internal/logging"
)

type ctxKey struct{}

// cliEnv is what PersistentPreRunE hands to subcommands.
type cliEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crawlengine",
		Short: "A polite, fault-tolerant crawl dispatcher.",
		Long: `crawlengine dispatches fetch requests under a bounded concurrency budget,
paces them, routes pages to handlers, and retries failures with decaying
priority until a retry ceiling is reached.`,
		SilenceUsage: true,

		// Loads configuration and the logger before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, &cliEnv{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(ctxKey{}).(*cliEnv); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd(), newPushCmd())
	return cmd
}

func envFrom(ctx context.Context) (*cliEnv, error) {
	rt, ok := ctx.Value(ctxKey{}).(*cliEnv)
	if !ok || rt == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
