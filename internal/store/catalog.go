package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/record"
)

// Checkpoint is the saved state of an interrupted build.
type Checkpoint struct {
	Stage      string // "embedding" while a build is running
	Total      int    // chunks planned
	Embedded   int    // chunks already appended and saved
	Model      string
	Dimensions int
	Plan       string // digest of the planned chunk IDs, in order
	UpdatedAt  time.Time
}

// CatalogStats summarizes the record listing.
type CatalogStats struct {
	Records     int
	Chunks      int
	LastIndexed time.Time
}

// Catalog is the SQLite companion to the vector index. It lists indexed
// records by normalized title and stores the build checkpoint.
type Catalog struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

const catalogSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS records (
	norm_title TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	source     TEXT NOT NULL,
	type       TEXT NOT NULL,
	chunks     INTEGER NOT NULL DEFAULT 0,
	indexed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoint (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	stage      TEXT NOT NULL,
	total      INTEGER NOT NULL,
	embedded   INTEGER NOT NULL,
	model      TEXT NOT NULL,
	dims       INTEGER NOT NULL,
	plan       TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// OpenCatalog opens or creates the catalog at path. An empty path opens an
// in-memory catalog.
func OpenCatalog(path string) (*Catalog, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, qerrors.IOError("failed to create catalog directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to open catalog", err)
	}

	// One connection: a single writer, and :memory: stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to set pragma", err)
		}
	}
	if _, err := db.Exec(catalogSchema); err != nil {
		_ = db.Close()
		return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to initialize catalog schema", err)
	}

	return &Catalog{db: db, path: path}, nil
}

func (c *Catalog) check() error {
	if c.closed {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "catalog is closed", nil)
	}
	return nil
}

// IndexedTitles returns the normalized titles of every indexed record.
func (c *Catalog) IndexedTitles(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, `SELECT norm_title FROM records`)
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to list titles", err)
	}
	defer func() { _ = rows.Close() }()

	titles := make(map[string]struct{})
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to scan title", err)
		}
		titles[t] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to list titles", err)
	}
	return titles, nil
}

// MarkIndexed records the given records in one transaction. chunkCounts is
// keyed by normalized title; records sharing a title accumulate chunks.
func (c *Catalog) MarkIndexed(ctx context.Context, records []record.Record, chunkCounts map[string]int) error {
	if len(records) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (norm_title, title, source, type, chunks, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(norm_title) DO UPDATE SET
			chunks = records.chunks + excluded.chunks,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to prepare insert", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixNano()
	counted := make(map[string]bool, len(records))
	for _, r := range records {
		key := record.NormalizeTitle(r.Title)
		n := 0
		if !counted[key] {
			n = chunkCounts[key]
			counted[key] = true
		}
		if _, err := stmt.ExecContext(ctx, key, r.Title, r.Source, r.Type, n, now); err != nil {
			return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to mark record indexed", err).
				WithDetail("title", r.Title)
		}
	}

	if err := tx.Commit(); err != nil {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to commit catalog", err)
	}
	return nil
}

// SaveCheckpoint stores the build checkpoint, replacing any previous one.
func (c *Catalog) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO checkpoint (id, stage, total, embedded, model, dims, plan, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			total = excluded.total,
			embedded = excluded.embedded,
			model = excluded.model,
			dims = excluded.dims,
			plan = excluded.plan,
			updated_at = excluded.updated_at`,
		cp.Stage, cp.Total, cp.Embedded, cp.Model, cp.Dimensions, cp.Plan, cp.UpdatedAt.UnixNano())
	if err != nil {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to save checkpoint", err)
	}
	return nil
}

// LoadCheckpoint returns the saved checkpoint, or nil if there is none.
func (c *Catalog) LoadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}

	var cp Checkpoint
	var updated int64
	err := c.db.QueryRowContext(ctx,
		`SELECT stage, total, embedded, model, dims, plan, updated_at FROM checkpoint WHERE id = 1`).
		Scan(&cp.Stage, &cp.Total, &cp.Embedded, &cp.Model, &cp.Dimensions, &cp.Plan, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to load checkpoint", err)
	}
	cp.UpdatedAt = time.Unix(0, updated)
	return &cp, nil
}

// ClearCheckpoint removes the saved checkpoint.
func (c *Catalog) ClearCheckpoint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM checkpoint`); err != nil {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to clear checkpoint", err)
	}
	return nil
}

// Reset removes every record and the checkpoint.
func (c *Catalog) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM records; DELETE FROM checkpoint;`); err != nil {
		return qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to reset catalog", err)
	}
	return nil
}

// Stats returns record and chunk totals.
func (c *Catalog) Stats(ctx context.Context) (CatalogStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return CatalogStats{}, err
	}

	var stats CatalogStats
	var last sql.NullInt64
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(chunks), 0), MAX(indexed_at) FROM records`).
		Scan(&stats.Records, &stats.Chunks, &last)
	if err != nil {
		return CatalogStats{}, qerrors.New(qerrors.ErrCodeCatalogFailed, "failed to read catalog stats", err)
	}
	if last.Valid {
		stats.LastIndexed = time.Unix(0, last.Int64)
	}
	return stats, nil
}

// Path returns the database path ("" for in-memory).
func (c *Catalog) Path() string { return c.path }

// Close checkpoints the WAL and closes the database. Idempotent.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close catalog: %w", err)
	}
	return nil
}
