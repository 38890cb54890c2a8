package cmd

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	k        int
	jsonOut  bool
	maxRunes int
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Retrieve the passages nearest to a query",
		Long: `Search embeds the query and prints the k most similar passages from the
loaded index, best match first. No language model is called.

Examples:
  qanoon search "punishment for theft"
  qanoon search -k 3 --json "bail in non-bailable offences"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "limit", "k", 0, "Number of passages (default from config)")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&opts.maxRunes, "width", 300, "Truncate passage text to this many characters")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	k := opts.k
	if k <= 0 {
		k = cfg.Retrieval.K
	}
	results, err := svc.Search(ctx, query, k)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	out := writerFor(cmd)
	if len(results) == 0 {
		out.Warningf("No passages found for %q", query)
		return nil
	}
	for i, r := range results {
		out.Passage(i+1, r.Title, r.Source, r.Score, r.Text, opts.maxRunes)
	}
	return nil
}
