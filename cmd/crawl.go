package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/app"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var seeds []string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the crawler",
		Long: `Seeds the queue from crawler.seeds and --seed, then dispatches until the
queue drains. With server.enabled the HTTP API accepts more requests and the
crawl runs until SIGINT/SIGTERM. A second signal interrupts in-flight fetches.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("initialize crawl: %w", err)
			}

			all := append(append([]string(nil), rt.cfg.Crawler.Seeds...), seeds...)
			n := a.Seed(all)
			rt.logger.Info("seeded", zap.Int("accepted", n), zap.Int("given", len(all)))

			signals := make(chan os.Signal, 2)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)

			runErr := a.Run(cmd.Context(), signals)
			if err := a.Close(); err != nil {
				rt.logger.Warn("close crawl", zap.Error(err))
			}
			if runErr != nil {
				return fmt.Errorf("run crawl: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&seeds, "seed", nil, "seed URL (repeatable)")
	return cmd
}
