package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/pkg/qanoon"
)

type buildOptions struct {
	records []string
	force   bool
}

func newBuildCmd() *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the vector index from record files",
		Long: `Build chunks, embeds, and indexes every record in the given JSON files.

An interrupted build resumes from its last checkpoint when rerun with the
same records and embedding model. --force discards the checkpoint and any
existing index.

Examples:
  qanoon build --records legal_data_final.json
  qanoon build --records acts.json --records ordinances.json --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBuild(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.records, "records", "r", nil, "Record JSON file (repeatable)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Discard checkpoint and existing index")
	_ = cmd.MarkFlagRequired("records")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, opts buildOptions) error {
	out := writerFor(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	records, err := loadRecords(ctx, cfg, opts.records)
	if err != nil {
		return err
	}
	out.Statusf("📚", "Loaded %d records from %d file(s)", len(records), len(opts.records))

	svc, err := openService(ctx, cfg, qanoon.SkipIndexLoad(), qanoon.WithProgress(progressPrinter(out)))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	slog.Info("build_command", slog.Int("records", len(records)), slog.Bool("force", opts.force))
	build := svc.Build
	if opts.force {
		build = svc.Rebuild
	}
	res, err := build(ctx, records)
	if err != nil {
		return err
	}
	printResult(out, "Indexed", res)
	return nil
}

type updateOptions struct {
	records      []string
	appendCorpus string
}

func newUpdateCmd() *cobra.Command {
	var opts updateOptions

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Append records whose titles are not yet indexed",
		Long: `Update embeds only records whose normalized title (lowercase, file
extension removed) is not already in the catalog, appends them to the
existing index, and saves it. Already-indexed content is never re-embedded.

With --append-corpus the newly indexed records are also appended to the
given corpus JSON file.

Examples:
  qanoon update --records new_laws.json
  qanoon update --records new_laws.json --append-corpus legal_data_final.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.records, "records", "r", nil, "Candidate record JSON file (repeatable)")
	cmd.Flags().StringVar(&opts.appendCorpus, "append-corpus", "", "Corpus JSON file to extend with the new records")
	_ = cmd.MarkFlagRequired("records")

	return cmd
}

func runUpdate(ctx context.Context, cmd *cobra.Command, opts updateOptions) error {
	out := writerFor(cmd)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	candidates, err := loadRecords(ctx, cfg, opts.records)
	if err != nil {
		return err
	}

	svc, err := openService(ctx, cfg, qanoon.SkipIndexLoad(), qanoon.WithProgress(progressPrinter(out)))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	res, err := svc.Update(ctx, candidates)
	if err != nil {
		return err
	}
	if res.Records == 0 {
		out.Successf("Index is up to date (%d candidates already indexed)", res.Skipped)
		return nil
	}
	printResult(out, "Added", res)

	if opts.appendCorpus != "" {
		added := res.Added
		if err := record.AppendFile(opts.appendCorpus, added); err != nil {
			return err
		}
		out.Statusf("💾", "Appended %d records to %s", len(added), opts.appendCorpus)
	}
	return nil
}
