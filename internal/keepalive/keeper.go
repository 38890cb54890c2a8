// Package keepalive pings the embedding provider on a fixed interval so
// hosted endpoints stay warm between queries.
package keepalive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default settings.
const (
	DefaultInterval = 5 * time.Minute
	DefaultTimeout  = 30 * time.Second
)

// Pinger is the provider handle the keeper touches. embed.Embedder
// satisfies it.
type Pinger interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures a Keeper.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Stats is a snapshot of keeper activity.
type Stats struct {
	Ticks       int64     `json:"ticks"`
	Failures    int64     `json:"failures"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Keeper runs the ping loop in a background goroutine.
type Keeper struct {
	pinger Pinger
	cfg    Config

	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	running bool
	stats   Stats
}

// New creates a stopped Keeper.
func New(p Pinger, cfg Config) *Keeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Keeper{pinger: p, cfg: cfg}
}

// Start launches the loop. It is a no-op when already running.
func (k *Keeper) Start(ctx context.Context) {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return
	}
	k.running = true
	k.stopCh = make(chan struct{})
	k.doneCh = make(chan struct{})
	stopCh, doneCh := k.stopCh, k.doneCh
	k.mu.Unlock()

	slog.Info("keepalive_started", slog.Duration("interval", k.cfg.Interval))
	go k.run(ctx, stopCh, doneCh)
}

// Stop signals the loop to exit and waits for it.
func (k *Keeper) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	select {
	case <-k.stopCh:
	default:
		close(k.stopCh)
	}
	doneCh := k.doneCh
	k.mu.Unlock()

	<-doneCh
}

// Running reports whether the loop is active.
func (k *Keeper) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.running
}

// Stats returns a copy of the counters.
func (k *Keeper) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

func (k *Keeper) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer func() {
		k.mu.Lock()
		k.running = false
		k.mu.Unlock()
		slog.Info("keepalive_stopped")
	}()

	ticker := time.NewTicker(k.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			k.tick(ctx)
		}
	}
}

// tick issues one ping. Errors and panics are recorded, never propagated.
func (k *Keeper) tick(ctx context.Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		k.record(err)
	}()

	pctx, cancel := context.WithTimeout(ctx, k.cfg.Timeout)
	defer cancel()
	_, err = k.pinger.Embed(pctx, "ping")
}

func (k *Keeper) record(err error) {
	k.mu.Lock()
	k.stats.Ticks++
	if err != nil {
		k.stats.Failures++
		k.stats.LastError = err.Error()
	} else {
		k.stats.LastSuccess = time.Now()
		k.stats.LastError = ""
	}
	ticks := k.stats.Ticks
	k.mu.Unlock()

	if err != nil {
		slog.Warn("keepalive_failed", slog.Int64("tick", ticks), slog.String("error", err.Error()))
		return
	}
	slog.Debug("keepalive_ok", slog.Int64("tick", ticks))
}
