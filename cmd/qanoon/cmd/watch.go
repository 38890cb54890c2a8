package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qanoon/internal/watcher"
)

type watchOptions struct {
	records      []string
	forcePolling bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Update the index whenever record files change",
		Long: `Watch monitors the given record files and runs an incremental update after
each burst of changes settles. Runs until interrupted.

Examples:
  qanoon watch --records legal_data_final.json
  qanoon watch --records acts.json --polling`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.records, "records", "r", nil, "Record JSON file to watch (repeatable)")
	cmd.Flags().BoolVar(&opts.forcePolling, "polling", false, "Poll file metadata instead of using filesystem notifications")
	_ = cmd.MarkFlagRequired("records")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, opts watchOptions) error {
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

	update := func(ctx context.Context, paths []string) error {
		records, err := loadRecords(ctx, cfg, paths)
		if err != nil {
			return err
		}
		res, err := svc.Update(ctx, records)
		if err != nil {
			return err
		}
		if res.Records > 0 {
			out.Successf("Added %d records (%d chunks) from %d file(s)", res.Records, res.Chunks, len(paths))
		}
		return nil
	}

	w, err := watcher.NewCorpusWatcher(opts.records, update, watcher.Options{
		Debounce:     cfg.Watch.Debounce,
		ForcePolling: opts.forcePolling,
	})
	if err != nil {
		return err
	}

	// Pick up edits made while nothing was watching.
	if err := update(ctx, w.Paths()); err != nil {
		slog.Warn("watch_initial_update_failed", slog.String("error", err.Error()))
		out.Warningf("Initial update failed: %v", err)
	}

	out.Statusf("👀", "Watching %d file(s) (Ctrl+C to stop)", len(w.Paths()))
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("watcher stopped: %w", err)
	}
	out.Status("", "Stopped")
	return nil
}
