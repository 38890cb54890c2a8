package record

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the normalization pool size.
const DefaultWorkers = 8

// LoadFile reads a JSON array of raw records from path and normalizes them
// on a pool of workers. Output order matches input order; records without
// text are dropped.
func LoadFile(ctx context.Context, path string, workers int) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records %s: %w", path, err)
	}

	var raws []RawRecord
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parse records %s: %w", path, err)
	}

	records, err := NormalizeAll(ctx, raws, workers)
	if err != nil {
		return nil, err
	}

	slog.Debug("records_loaded",
		slog.String("path", path),
		slog.Int("raw", len(raws)),
		slog.Int("normalized", len(records)))
	return records, nil
}

// LoadFiles loads several record files and concatenates them in argument order.
func LoadFiles(ctx context.Context, paths []string, workers int) ([]Record, error) {
	var all []Record
	for _, p := range paths {
		records, err := LoadFile(ctx, p, workers)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// NormalizeAll normalizes raws concurrently. Each worker writes only its own
// slot of a pre-sized slice, so no further synchronization is needed.
func NormalizeAll(ctx context.Context, raws []RawRecord, workers int) ([]Record, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	slots := make([]Record, len(raws))
	ok := make([]bool, len(raws))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range raws {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i], ok[i] = Normalize(raws[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(raws))
	for i, keep := range ok {
		if keep {
			out = append(out, slots[i])
		}
	}
	return out, nil
}

// AppendFile appends records to the JSON array at path, creating it if
// needed. Existing entries are preserved byte-for-byte. The file is replaced
// atomically.
func AppendFile(path string, records []Record) error {
	var existing []json.RawMessage
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("parse corpus %s: %w", path, err)
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read corpus %s: %w", path, err)
	}

	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			return err
		}
		existing = append(existing, b)
	}

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write corpus: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace corpus: %w", err)
	}
	return nil
}
