package store

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// lockRetryDelay is how often a blocked Lock polls the file lock.
const lockRetryDelay = 50 * time.Millisecond

// BuildLock serializes index mutation. The file lock excludes other
// processes; the semaphore excludes other goroutines in this process,
// which a per-process flock cannot.
type BuildLock struct {
	path  string
	flock *flock.Flock
	sem   chan struct{}
}

// NewBuildLock creates a lock backed by the file at path.
func NewBuildLock(path string) *BuildLock {
	return &BuildLock{
		path:  path,
		flock: flock.New(path),
		sem:   make(chan struct{}, 1),
	}
}

// Lock blocks until the lock is held or ctx is done.
func (l *BuildLock) Lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return qerrors.New(qerrors.ErrCodeIndexLocked, "index is being built by another operation", ctx.Err())
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		<-l.sem
		return qerrors.IOError("failed to create lock directory", err)
	}

	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		<-l.sem
		if err == nil {
			err = ctx.Err()
		}
		return qerrors.New(qerrors.ErrCodeIndexLocked, "index is being built by another process", err).
			WithDetail("lock", l.path)
	}
	return nil
}

// TryLock acquires the lock without blocking. It reports false if another
// goroutine or process holds it.
func (l *BuildLock) TryLock() (bool, error) {
	select {
	case l.sem <- struct{}{}:
	default:
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		<-l.sem
		return false, qerrors.IOError("failed to create lock directory", err)
	}

	ok, err := l.flock.TryLock()
	if err != nil || !ok {
		<-l.sem
		if err != nil {
			return false, qerrors.IOError("failed to acquire lock", err)
		}
		return false, nil
	}
	return true, nil
}

// Unlock releases the lock. Calling it while unlocked is a no-op.
func (l *BuildLock) Unlock() error {
	if len(l.sem) == 0 {
		return nil
	}
	defer func() { <-l.sem }()
	if err := l.flock.Unlock(); err != nil {
		return qerrors.IOError("failed to release lock", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *BuildLock) Path() string { return l.path }
