package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// UpdateFunc receives the tracked files that changed in one debounced
// batch. It runs on the watcher goroutine, so batches never overlap.
type UpdateFunc func(ctx context.Context, paths []string) error

// Stats counts watcher activity.
type Stats struct {
	Batches  uint64 `json:"batches"`
	Updates  uint64 `json:"updates"`
	Failures uint64 `json:"failures"`
}

// CorpusWatcher runs UpdateFunc whenever a tracked record file changes.
type CorpusWatcher struct {
	paths  []string
	update UpdateFunc
	opts   Options

	mu      sync.Mutex
	running bool
	mode    string

	batches  atomic.Uint64
	updates  atomic.Uint64
	failures atomic.Uint64
}

// NewCorpusWatcher tracks paths (files, not directories).
func NewCorpusWatcher(paths []string, update UpdateFunc, opts Options) (*CorpusWatcher, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to watch")
	}
	if update == nil {
		return nil, fmt.Errorf("update function is required")
	}
	abs := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		abs = append(abs, a)
	}
	return &CorpusWatcher{paths: abs, update: update, opts: opts.WithDefaults()}, nil
}

// Paths returns the absolute tracked paths.
func (w *CorpusWatcher) Paths() []string { return append([]string(nil), w.paths...) }

// Mode is "fsnotify" or "polling" once Run has started.
func (w *CorpusWatcher) Mode() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Stats returns a snapshot of the counters.
func (w *CorpusWatcher) Stats() Stats {
	return Stats{Batches: w.batches.Load(), Updates: w.updates.Load(), Failures: w.failures.Load()}
}

// Run watches until ctx is cancelled. Update failures are logged and the
// watcher keeps going.
func (w *CorpusWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	src := w.openSource()
	defer func() { _ = src.close() }()

	w.mu.Lock()
	w.mode = src.name()
	w.mu.Unlock()

	debouncer := NewDebouncer(w.opts.Debounce)
	defer debouncer.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srcDone := make(chan error, 1)
	go func() { srcDone <- src.run(ctx, debouncer.Add) }()

	slog.Info("watch_started",
		slog.String("mode", src.name()),
		slog.Int("files", len(w.paths)),
		slog.Duration("debounce", w.opts.Debounce))

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch_stopped", slog.Uint64("updates", w.updates.Load()))
			return nil
		case err := <-srcDone:
			return err
		case batch, ok := <-debouncer.Output():
			if !ok {
				return nil
			}
			w.handle(ctx, batch)
		}
	}
}

func (w *CorpusWatcher) openSource() source {
	if !w.opts.ForcePolling {
		s, err := newFsnotifySource(w.paths, func(err error) {
			slog.Warn("watch_error", slog.String("error", err.Error()))
		})
		if err == nil {
			return s
		}
		slog.Warn("watch_fsnotify_unavailable",
			slog.String("error", err.Error()),
			slog.Duration("poll_interval", w.opts.PollInterval))
	}
	return newPollSource(w.paths, w.opts.PollInterval)
}

func (w *CorpusWatcher) handle(ctx context.Context, batch []FileEvent) {
	w.batches.Add(1)

	var changed []string
	for _, ev := range batch {
		if ev.Operation.Changed() {
			changed = append(changed, ev.Path)
			continue
		}
		slog.Warn("watch_file_removed",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()))
	}
	if len(changed) == 0 {
		return
	}

	start := time.Now()
	err := w.runUpdate(ctx, changed)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failures.Add(1)
		slog.Error("watch_update_failed",
			slog.Any("paths", changed),
			slog.String("error", err.Error()))
		return
	}
	w.updates.Add(1)
	slog.Info("watch_update_complete",
		slog.Any("paths", changed),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
}

// runUpdate converts a panic in the callback into an error.
func (w *CorpusWatcher) runUpdate(ctx context.Context, paths []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("update panicked: %v", r)
		}
	}()
	return w.update(ctx, paths)
}
