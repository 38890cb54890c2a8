package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/qanoon/pkg/qanoon"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index, catalog, and checkpoint state",
		Long: `Status reports the persisted index artifact, the record catalog, any
pending build checkpoint, and titles that are out of sync between the
index and the catalog.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openService(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	st, err := svc.Status(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	printStatus(cmd, st)
	return nil
}

func printStatus(cmd *cobra.Command, st *qanoon.Status) {
	out := writerFor(cmd)

	out.Status("📦", "Index")
	if st.Artifact == nil {
		out.Fields([][2]string{
			{"Path", st.IndexPath},
			{"State", "not built"},
		})
	} else {
		out.Fields([][2]string{
			{"Path", st.Artifact.Path},
			{"Entries", strconv.Itoa(st.Artifact.Count)},
			{"Dimensions", strconv.Itoa(st.Artifact.Dimensions)},
			{"Metric", string(st.Artifact.Metric)},
			{"Model", st.Artifact.Model},
			{"Size", formatBytes(st.Artifact.SizeBytes)},
		})
	}
	out.Newline()

	out.Status("🗂️ ", "Catalog")
	last := "never"
	if !st.Catalog.LastIndexed.IsZero() {
		last = st.Catalog.LastIndexed.Format(time.RFC3339)
	}
	out.Fields([][2]string{
		{"Titles", strconv.Itoa(st.Catalog.Records)},
		{"Chunks", strconv.Itoa(st.Catalog.Chunks)},
		{"Last indexed", last},
	})
	out.Newline()

	out.Status("⚙️ ", "Runtime")
	generation := "disabled (no credentials)"
	if st.Generation {
		generation = "enabled"
	}
	out.Fields([][2]string{
		{"Embedder", fmt.Sprintf("%s (%d dims)", st.Embedder, st.Dimensions)},
		{"Breaker", st.Breaker},
		{"Generation", generation},
	})

	if cp := st.Checkpoint; cp != nil {
		out.Newline()
		out.Warningf("Interrupted build: %d/%d chunks embedded with %s (%s)",
			cp.Embedded, cp.Total, cp.Model, cp.UpdatedAt.Format(time.RFC3339))
		out.Status("", "Run 'qanoon build' with the same records to resume")
	}

	if len(st.Issues) > 0 {
		out.Newline()
		out.Warningf("%d title(s) out of sync between index and catalog", len(st.Issues))
		for _, issue := range st.Issues {
			out.Statusf("", "%s: %s", issue.Type, issue.Title)
		}
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
