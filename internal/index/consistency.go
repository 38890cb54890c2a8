package index

import (
	"context"
	"log/slog"
	"time"

	"github.com/Aman-CERP/qanoon/internal/record"
	"github.com/Aman-CERP/qanoon/internal/store"
)

// IssueType categorizes a disagreement between catalog and index.
type IssueType int

const (
	// IssueUnlisted is a title present in the index but not in the catalog.
	IssueUnlisted IssueType = iota
	// IssueMissing is a title listed in the catalog with no index entries.
	IssueMissing
)

// String returns a short label for logs.
func (t IssueType) String() string {
	switch t {
	case IssueUnlisted:
		return "unlisted"
	case IssueMissing:
		return "missing"
	default:
		return "unknown"
	}
}

// Issue is one detected disagreement, keyed by normalized title.
type Issue struct {
	Type  IssueType
	Title string
	Stat  store.TitleStat // index side; zero for IssueMissing
}

// CheckResult is the outcome of a consistency check.
type CheckResult struct {
	IndexTitles   int
	CatalogTitles int
	Issues        []Issue
	Duration      time.Duration
}

// Consistent reports whether no issues were found.
func (r *CheckResult) Consistent() bool { return len(r.Issues) == 0 }

// ConsistencyChecker compares the catalog listing with the titles actually
// present in the vector index.
type ConsistencyChecker struct {
	catalog *store.Catalog
	index   *store.VectorIndex
}

// NewConsistencyChecker creates a checker over catalog and index.
func NewConsistencyChecker(catalog *store.Catalog, index *store.VectorIndex) *ConsistencyChecker {
	return &ConsistencyChecker{catalog: catalog, index: index}
}

// Check lists titles that appear on only one side.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()

	listed, err := c.catalog.IndexedTitles(ctx)
	if err != nil {
		return nil, err
	}

	stats := c.index.TitleStats()
	inIndex := make(map[string]struct{}, len(stats))
	var issues []Issue
	for _, st := range stats {
		key := record.NormalizeTitle(st.Title)
		if _, dup := inIndex[key]; dup {
			continue
		}
		inIndex[key] = struct{}{}
		if _, ok := listed[key]; !ok {
			issues = append(issues, Issue{Type: IssueUnlisted, Title: key, Stat: st})
		}
	}
	for key := range listed {
		if _, ok := inIndex[key]; !ok {
			issues = append(issues, Issue{Type: IssueMissing, Title: key})
		}
	}

	return &CheckResult{
		IndexTitles:   len(inIndex),
		CatalogTitles: len(listed),
		Issues:        issues,
		Duration:      time.Since(start),
	}, nil
}

// Repair lists unlisted titles in the catalog so they are not embedded
// again. Missing titles need a rebuild and are only logged.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Issue) error {
	var recs []record.Record
	counts := make(map[string]int)
	missing := 0
	for _, is := range issues {
		switch is.Type {
		case IssueUnlisted:
			recs = append(recs, record.Record{Title: is.Stat.Title, Source: is.Stat.Source, Type: is.Stat.Type})
			counts[is.Title] = is.Stat.Chunks
		case IssueMissing:
			missing++
		}
	}

	if len(recs) > 0 {
		if err := c.catalog.MarkIndexed(ctx, recs, counts); err != nil {
			return err
		}
		slog.Info("catalog_repaired", slog.Int("titles", len(recs)))
	}
	if missing > 0 {
		slog.Warn("catalog_missing_titles",
			slog.Int("missing", missing),
			slog.String("hint", "run 'qanoon build --force' to rebuild"))
	}
	return nil
}
