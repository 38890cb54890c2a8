package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qanoon/internal/config"
	"github.com/Aman-CERP/qanoon/internal/index"
	"github.com/Aman-CERP/qanoon/internal/output"
	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/pkg/qanoon"
)

// serviceHook lets tests inject options such as a fake generation client.
var serviceHook func() []qanoon.Option

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}
	slog.Debug("config_loaded",
		slog.String("dir", projectDir),
		slog.String("index", cfg.Index.Path),
		slog.String("embeddings", cfg.Embeddings.Provider))
	return cfg, nil
}

func openService(ctx context.Context, cfg *config.Config, opts ...qanoon.Option) (*qanoon.Service, error) {
	if serviceHook != nil {
		opts = append(opts, serviceHook()...)
	}
	return qanoon.Open(ctx, cfg, opts...)
}

func loadRecords(ctx context.Context, cfg *config.Config, paths []string) ([]record.Record, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one --records file is required")
	}
	return record.LoadFiles(ctx, paths, cfg.Build.Workers)
}

// progressPrinter renders builder progress on out.
func progressPrinter(out *output.Writer) index.ProgressFunc {
	return func(stage index.Stage, done, total int) {
		out.Progress(done, total, string(stage))
	}
}

func printResult(out *output.Writer, verb string, res *index.Result) {
	if res.Resumed {
		out.Status("↩️ ", "Resumed from checkpoint")
	}
	out.Successf("%s %d records (%d chunks) in %s", verb, res.Records, res.Chunks, res.Duration.Round(time.Millisecond))
	if res.Skipped > 0 {
		out.Statusf("", "%d already indexed, skipped", res.Skipped)
	}
	out.Statusf("", "Index now holds %d entries", res.Total)
}

func writerFor(cmd *cobra.Command) *output.Writer {
	return output.New(cmd.OutOrStdout())
}
