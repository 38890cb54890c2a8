package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// source feeds raw events for the tracked paths to emit until ctx ends.
type source interface {
	run(ctx context.Context, emit func(FileEvent)) error
	close() error
	name() string
}

// fsnotifySource watches the parent directory of every tracked file.
type fsnotifySource struct {
	w       *fsnotify.Watcher
	tracked map[string]struct{}
	errs    func(error)
}

func newFsnotifySource(paths []string, errs func(error)) (*fsnotifySource, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	tracked := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		tracked[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return &fsnotifySource{w: w, tracked: tracked, errs: errs}, nil
}

func (s *fsnotifySource) name() string { return "fsnotify" }

func (s *fsnotifySource) run(ctx context.Context, emit func(FileEvent)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.w.Events:
			if !ok {
				return nil
			}
			if _, ok := s.tracked[filepath.Clean(ev.Name)]; !ok {
				continue
			}
			op, ok := operationOf(ev.Op)
			if !ok {
				continue
			}
			emit(FileEvent{Path: filepath.Clean(ev.Name), Operation: op, Timestamp: time.Now()})
		case err, ok := <-s.w.Errors:
			if !ok {
				return nil
			}
			s.errs(err)
		}
	}
}

func (s *fsnotifySource) close() error { return s.w.Close() }

func operationOf(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	case op.Has(fsnotify.Remove):
		return OpDelete, true
	case op.Has(fsnotify.Rename):
		return OpRename, true
	}
	return 0, false
}

// pollSource stats each tracked file on an interval.
type pollSource struct {
	paths    []string
	interval time.Duration
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPollSource(paths []string, interval time.Duration) *pollSource {
	s := &pollSource{paths: paths, interval: interval, state: make(map[string]fileSnapshot)}
	for _, p := range paths {
		if snap, ok := stat(p); ok {
			s.state[p] = snap
		}
	}
	return s
}

func (s *pollSource) name() string { return "polling" }

func (s *pollSource) run(ctx context.Context, emit func(FileEvent)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.detectChanges(emit)
		}
	}
}

func (s *pollSource) detectChanges(emit func(FileEvent)) {
	for _, p := range s.paths {
		prev, existed := s.state[p]
		cur, exists := stat(p)
		var op Operation
		switch {
		case exists && !existed:
			op = OpCreate
		case !exists && existed:
			op = OpDelete
		case exists && (cur.modTime != prev.modTime || cur.size != prev.size):
			op = OpModify
		default:
			continue
		}
		if exists {
			s.state[p] = cur
		} else {
			delete(s.state, p)
		}
		emit(FileEvent{Path: p, Operation: op, Timestamp: time.Now()})
	}
}

func (s *pollSource) close() error { return nil }

func stat(path string) (fileSnapshot, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return fileSnapshot{}, false
	}
	return fileSnapshot{modTime: info.ModTime(), size: info.Size()}, true
}
