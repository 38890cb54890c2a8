package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// Config tunes the Orchestrator.
type Config struct {
	Model       string
	Temperature float64

	// MaxRetries is the number of attempt cycles (default: 3). A cycle
	// tries each credential once.
	MaxRetries int

	// BackoffBase is multiplied by the cycle number between cycles
	// (default: 5s).
	BackoffBase time.Duration

	// AttemptTimeout bounds one upstream attempt including its stream
	// (0 disables).
	AttemptTimeout time.Duration

	// Credentials in rotation order.
	Credentials []Credential
}

// Orchestrator drives one generation request through
// ATTEMPT → {DONE, KEY_SWITCH, BACKOFF, EMIT_FALLBACK}.
type Orchestrator struct {
	client StreamClient
	cfg    Config
}

// NewOrchestrator validates cfg and applies defaults.
func NewOrchestrator(client StreamClient, cfg Config) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("stream client is required")
	}
	if NewCredentialPool(cfg.Credentials).Len() == 0 {
		return nil, qerrors.New(qerrors.ErrCodeNoCredentials, "no generation credentials configured", nil).
			WithSuggestion("set GROQ_API_KEY or QANOON_GENERATION_API_KEYS")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	return &Orchestrator{client: client, cfg: cfg}, nil
}

// Generate streams the answer to a single user prompt.
func (o *Orchestrator) Generate(ctx context.Context, prompt string) <-chan string {
	return o.Stream(ctx, []Message{{Role: RoleUser, Content: prompt}})
}

// Stream streams the answer to a conversation. The channel carries the
// upstream fragments in order, or a single fallback message, and is
// always closed. Cancel ctx to stop early.
func (o *Orchestrator) Stream(ctx context.Context, messages []Message) <-chan string {
	out := make(chan string)
	req := Request{Model: o.cfg.Model, Messages: messages, Temperature: o.cfg.Temperature}
	go o.run(ctx, req, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- string) {
	defer close(out)

	log := slog.With(slog.String("request_id", uuid.NewString()))
	pool := NewCredentialPool(o.cfg.Credentials)
	start := time.Now()
	cycle := 1
	sent := 0
	var delivered strings.Builder

	defer func() {
		if r := recover(); r != nil {
			log.Error("generation_panic", slog.Any("panic", r))
			o.emit(ctx, out, APIErrorPrefix+"internal error")
		}
	}()

	for {
		cred, _ := pool.Current()
		n, err := o.attempt(ctx, cred, req, out, &delivered)
		sent += n

		if err == nil {
			log.Info("generation_done",
				slog.Int("cycle", cycle),
				slog.Int("key", pool.Position()),
				slog.Int("fragments", sent),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()))
			return
		}
		if ctx.Err() != nil {
			log.Info("generation_cancelled", slog.Int("fragments", sent))
			return
		}

		kind := classify(err)
		switch kind {
		case failureTooLarge:
			o.fallback(ctx, out, log, TooComplexMessage, kind, err)
			return

		case failureOther:
			o.fallback(ctx, out, log, APIErrorPrefix+causeText(err), kind, err)
			return
		}

		if pool.Advance() {
			log.Info("generation_key_switch",
				slog.Int("cycle", cycle),
				slog.Int("key", pool.Position()),
				slog.String("credential", cred.Redacted()),
				slog.String("error", err.Error()))
			continue
		}

		if cycle >= o.cfg.MaxRetries {
			o.fallback(ctx, out, log, CapacityMessage, kind, err)
			return
		}

		delay := o.cfg.BackoffBase * time.Duration(cycle)
		log.Warn("generation_backoff",
			slog.Int("cycle", cycle),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if !sleep(ctx, delay) {
			log.Info("generation_cancelled", slog.Int("fragments", sent))
			return
		}
		pool.Reset()
		cycle++
	}
}

// attempt runs one upstream call, forwarding fragments as they arrive.
// Text already in delivered from an earlier attempt is not sent again.
// It returns the number of fragments forwarded.
func (o *Orchestrator) attempt(ctx context.Context, cred Credential, req Request, out chan<- string, delivered *strings.Builder) (int, error) {
	actx := ctx
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	stream, err := o.client.Stream(actx, cred, req)
	if err != nil {
		return 0, attemptError(ctx, actx, err)
	}
	defer func() { _ = stream.Close() }()

	skip := replay{sent: delivered.String()}
	n := 0
	for stream.Next() {
		frag := skip.trim(stream.Fragment())
		if frag == "" {
			continue
		}
		select {
		case out <- frag:
			delivered.WriteString(frag)
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	if err := stream.Err(); err != nil {
		return n, attemptError(ctx, actx, err)
	}
	return n, nil
}

// replay drops the prefix of a retried stream that matches text the
// consumer already received. Once the streams diverge everything passes
// through.
type replay struct {
	sent string
	pos  int
}

func (r *replay) trim(frag string) string {
	if r.pos >= len(r.sent) || frag == "" {
		return frag
	}
	rest := r.sent[r.pos:]
	n := 0
	for n < len(rest) && n < len(frag) && rest[n] == frag[n] {
		n++
	}
	switch {
	case n == len(frag):
		r.pos += n
		return ""
	case n == len(rest):
		r.pos = len(r.sent)
		return frag[n:]
	}
	// Diverged inside a rune: resend the whole rune.
	for n > 0 && !utf8.RuneStart(frag[n]) {
		n--
	}
	r.pos = len(r.sent)
	return frag[n:]
}

// attemptError marks a per-attempt deadline as a timeout so it is retried,
// while a cancelled parent stays a cancellation.
func attemptError(parent, attempt context.Context, err error) error {
	if parent.Err() == nil && errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return qerrors.New(qerrors.ErrCodeNetworkTimeout, "generation attempt timed out", err)
	}
	return err
}

func (o *Orchestrator) fallback(ctx context.Context, out chan<- string, log *slog.Logger, msg string, kind failure, err error) {
	log.Warn("generation_fallback",
		slog.String("reason", kind.String()),
		slog.String("error", err.Error()))
	o.emit(ctx, out, msg)
}

func (o *Orchestrator) emit(ctx context.Context, out chan<- string, msg string) {
	select {
	case out <- msg:
	case <-ctx.Done():
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a fragment channel into one string.
func Collect(ch <-chan string) string {
	var b strings.Builder
	for s := range ch {
		b.WriteString(s)
	}
	return b.String()
}
