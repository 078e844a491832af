package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlengine/internal/job"
	redissource "github.com/JakeFAU/crawlengine/internal/source/redis"
)

// newPushCmd creates the 'push' subcommand, which appends URLs to the Redis
// backlog consumed by the lazy queue.
func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push URL...",
		Short: "Append URLs to the Redis request backlog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := envFrom(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.Redis.Addr == "" {
				return errors.New("redis.addr is not configured")
			}
			subs := make([]job.Submission, 0, len(args))
			for _, u := range args {
				subs = append(subs, job.Submission{URL: u})
			}

			client, err := redissource.NewClient(cmd.Context(), rt.cfg.Redis)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck // best-effort close

			n, err := redissource.Push(cmd.Context(), client, rt.cfg.Redis.Key, subs...)
			if err != nil {
				return err
			}
			rt.logger.Info("backlog updated", zap.Int("pushed", len(subs)), zap.Int64("length", n))
			fmt.Fprintf(cmd.OutOrStdout(), "%d queued, backlog length %d\n", len(subs), n)
			return nil
		},
	}
	return cmd
}
