package store

import (
	"bufio"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/Aman-CERP/qanoon/internal/chunk"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

const (
	snapshotMagic   = "QANOON-IDX"
	snapshotVersion = 1
)

// snapshot is the on-disk form of a VectorIndex. Vectors and chunks are
// stored as parallel slices so a truncated or tampered artifact shows up
// as a count mismatch on Load.
type snapshot struct {
	Magic      string
	Version    int
	Dimensions int
	Metric     Metric
	Model      string
	Count      int
	Vectors    [][]float32
	Chunks     []chunk.Chunk
}

// Save writes a zstd-compressed gob snapshot to path via temp file + rename.
func (x *VectorIndex) Save(path string) error {
	x.mu.RLock()
	snap := snapshot{
		Magic:      snapshotMagic,
		Version:    snapshotVersion,
		Dimensions: x.cfg.Dimensions,
		Metric:     x.cfg.Metric,
		Model:      x.cfg.Model,
		Count:      len(x.entries),
		Vectors:    make([][]float32, len(x.entries)),
		Chunks:     make([]chunk.Chunk, len(x.entries)),
	}
	for i, e := range x.entries {
		snap.Vectors[i] = e.Vector
		snap.Chunks[i] = e.Chunk
	}
	x.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return qerrors.IOError("failed to create index directory", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return qerrors.IOError("failed to create index file", err)
	}

	if err := writeSnapshot(file, &snap); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return qerrors.IOError("failed to sync index file", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return qerrors.IOError("failed to close index file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return qerrors.IOError("failed to rename index file", err)
	}

	slog.Debug("vector_index_saved",
		slog.String("path", path),
		slog.Int("count", snap.Count))
	return nil
}

func writeSnapshot(f *os.File, snap *snapshot) error {
	bw := bufio.NewWriter(f)
	enc, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return qerrors.InternalError("failed to create zstd encoder", err)
	}
	if err := gob.NewEncoder(enc).Encode(snap); err != nil {
		_ = enc.Close()
		return qerrors.IOError("failed to encode index", err)
	}
	if err := enc.Close(); err != nil {
		return qerrors.IOError("failed to flush zstd stream", err)
	}
	if err := bw.Flush(); err != nil {
		return qerrors.IOError("failed to write index file", err)
	}
	return nil
}

// Load replaces the index contents with the snapshot at path. The artifact
// is validated against the configured dimensions, metric, and model before
// anything is replaced. A missing file returns an error matching
// ErrIndexNotFound.
func (x *VectorIndex) Load(path string) error {
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}

	if snap.Dimensions != x.cfg.Dimensions {
		return dimensionMismatch(x.cfg.Dimensions, snap.Dimensions).WithDetail("path", path)
	}
	if snap.Metric != x.cfg.Metric {
		return qerrors.New(qerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index built with metric %s, configured %s", snap.Metric, x.cfg.Metric), nil).
			WithDetail("path", path).
			WithSuggestion("rebuild the index with 'qanoon build --force'")
	}
	if x.cfg.Model != "" && snap.Model != x.cfg.Model {
		return qerrors.New(qerrors.ErrCodeModelMismatch,
			fmt.Sprintf("index built with model %s, configured %s", snap.Model, x.cfg.Model), nil).
			WithDetail("path", path).
			WithSuggestion("rebuild the index with 'qanoon build --force'")
	}
	if snap.Count != len(snap.Vectors) || snap.Count != len(snap.Chunks) {
		return qerrors.New(qerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("index count mismatch: header %d, vectors %d, payloads %d", snap.Count, len(snap.Vectors), len(snap.Chunks)), nil).
			WithDetail("path", path)
	}

	entries := make([]Entry, snap.Count)
	for i := range entries {
		if len(snap.Vectors[i]) != snap.Dimensions {
			return qerrors.New(qerrors.ErrCodeCorruptIndex,
				fmt.Sprintf("vector %d has %d dimensions, header says %d", i, len(snap.Vectors[i]), snap.Dimensions), nil)
		}
		entries[i] = Entry{Vector: snap.Vectors[i], Chunk: snap.Chunks[i]}
	}

	x.mu.Lock()
	x.replace(entries)
	x.mu.Unlock()

	slog.Debug("vector_index_loaded",
		slog.String("path", path),
		slog.Int("count", len(entries)),
		slog.String("mode", string(x.cfg.Mode)))
	return nil
}

func readSnapshot(path string) (*snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, qerrors.New(qerrors.ErrCodeIndexNotFound, "no index at "+path, err).
				WithSuggestion("run 'qanoon build' first")
		}
		return nil, qerrors.IOError("failed to open index file", err)
	}
	defer func() { _ = file.Close() }()

	dec, err := zstd.NewReader(bufio.NewReader(file))
	if err != nil {
		return nil, qerrors.New(qerrors.ErrCodeCorruptIndex, "index is not a zstd stream", err)
	}
	defer dec.Close()

	var snap snapshot
	if err := gob.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, qerrors.New(qerrors.ErrCodeCorruptIndex, "failed to decode index", err).
			WithDetail("path", path)
	}
	if snap.Magic != snapshotMagic {
		return nil, qerrors.New(qerrors.ErrCodeCorruptIndex, "not a qanoon index file", nil).WithDetail("path", path)
	}
	if snap.Version != snapshotVersion {
		return nil, qerrors.New(qerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("unsupported index version %d", snap.Version), nil).WithDetail("path", path)
	}
	return &snap, nil
}

// IndexInfo describes a persisted index without configuring one.
type IndexInfo struct {
	Path       string
	Dimensions int
	Metric     Metric
	Model      string
	Count      int
	SizeBytes  int64
}

// ReadIndexInfo decodes the artifact header fields at path.
func ReadIndexInfo(path string) (*IndexInfo, error) {
	snap, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	info := &IndexInfo{
		Path:       path,
		Dimensions: snap.Dimensions,
		Metric:     snap.Metric,
		Model:      snap.Model,
		Count:      snap.Count,
	}
	if st, err := os.Stat(path); err == nil {
		info.SizeBytes = st.Size()
	}
	return info, nil
}
