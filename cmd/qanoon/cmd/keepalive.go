package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

func newKeepAliveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keepalive",
		Short: "Ping the embedding provider periodically until interrupted",
		Long: `Keepalive sends a small embedding request at the configured interval so
a hosted embedding endpoint stays warm. Failures are logged and do not
stop the loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeepAlive(cmd.Context(), cmd)
		},
	}
}

func runKeepAlive(ctx context.Context, cmd *cobra.Command) error {
	out := writerFor(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	keeper := svc.Keeper()
	keeper.Start(ctx)
	out.Statusf("💓", "Pinging %s every %s (Ctrl+C to stop)", cfg.Embeddings.Provider, cfg.KeepAlive.Interval)

	<-ctx.Done()
	keeper.Stop()

	stats := keeper.Stats()
	out.Statusf("", "Sent %d pings, %d failed", stats.Ticks, stats.Failures)
	return nil
}
