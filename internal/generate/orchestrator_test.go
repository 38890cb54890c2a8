package generate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// step is one scripted upstream attempt.
type step struct {
	frags   []string
	err     error // returned by Stream
	midErr  error // returned by Err after frags
	blockOn <-chan struct{}
}

type scriptedClient struct {
	mu    sync.Mutex
	steps []step
	creds []Credential
}

func (c *scriptedClient) Stream(ctx context.Context, cred Credential, _ Request) (FragmentStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = append(c.creds, cred)
	if len(c.steps) == 0 {
		return nil, fmt.Errorf("script exhausted")
	}
	s := c.steps[0]
	c.steps = c.steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	return &fakeStream{ctx: ctx, step: s, pos: -1}, nil
}

func (c *scriptedClient) calls() []Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Credential(nil), c.creds...)
}

type fakeStream struct {
	ctx  context.Context
	step step
	pos  int
	err  error
}

func (s *fakeStream) Next() bool {
	if s.pos+1 >= len(s.step.frags) {
		if s.step.blockOn != nil {
			select {
			case <-s.step.blockOn:
			case <-s.ctx.Done():
				s.err = s.ctx.Err()
				return false
			}
		}
		s.err = s.step.midErr
		return false
	}
	s.pos++
	return true
}

func (s *fakeStream) Fragment() string { return s.step.frags[s.pos] }
func (s *fakeStream) Err() error       { return s.err }
func (s *fakeStream) Close() error     { return nil }

func rateLimited() error {
	return qerrors.FromStatus(429, "rate limit reached", nil)
}

func newTestOrchestrator(t *testing.T, client StreamClient, creds ...Credential) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(client, Config{
		Model:       "test-model",
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		Credentials: creds,
	})
	require.NoError(t, err)
	return o
}

func TestOrchestrator_StreamsFragmentsInOrder(t *testing.T) {
	client := &scriptedClient{steps: []step{{frags: []string{"Article ", "", "25 ", "applies."}}}}
	o := newTestOrchestrator(t, client, "key-a", "key-b")

	got := Collect(o.Generate(context.Background(), "question"))

	assert.Equal(t, "Article 25 applies.", got)
	assert.Equal(t, []Credential{"key-a"}, client.calls())
}

func TestOrchestrator_SwitchesKeyOnRateLimit(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{err: rateLimited()},
		{frags: []string{"ok"}},
	}}
	o := newTestOrchestrator(t, client, "key-a", "key-b")

	assert.Equal(t, "ok", Collect(o.Generate(context.Background(), "q")))
	assert.Equal(t, []Credential{"key-a", "key-b"}, client.calls())
}

func TestOrchestrator_ExhaustionEmitsCapacityMessage(t *testing.T) {
	var steps []step
	for range 6 {
		steps = append(steps, step{err: rateLimited()})
	}
	client := &scriptedClient{steps: steps}
	o := newTestOrchestrator(t, client, "key-a", "key-b")

	got := Collect(o.Generate(context.Background(), "q"))

	assert.Equal(t, CapacityMessage, got)
	assert.Equal(t, []Credential{"key-a", "key-b", "key-a", "key-b", "key-a", "key-b"}, client.calls())
}

func TestOrchestrator_RecoversAfterBackoff(t *testing.T) {
	client := &scriptedClient{steps: []step{
		{err: rateLimited()},
		{err: qerrors.FromStatus(503, "overloaded", nil)},
		{frags: []string{"late answer"}},
	}}
	o := newTestOrchestrator(t, client, "key-a", "key-b")

	assert.Equal(t, "late answer", Collect(o.Generate(context.Background(), "q")))
	assert.Equal(t, []Credential{"key-a", "key-b", "key-a"}, client.calls())
}

func TestOrchestrator_PayloadTooLarge(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: qerrors.FromStatus(413, "request too large", nil)}}}
	o := newTestOrchestrator(t, client, "key-a", "key-b")

	assert.Equal(t, TooComplexMessage, Collect(o.Generate(context.Background(), "q")))
	assert.Len(t, client.calls(), 1)
}

func TestOrchestrator_TooLargeByMessage(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: errors.New("context_length_exceeded: prompt is 40000 tokens")}}}
	o := newTestOrchestrator(t, client, "key-a")

	assert.Equal(t, TooComplexMessage, Collect(o.Generate(context.Background(), "q")))
}

func TestOrchestrator_OtherErrorEmitsCause(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: qerrors.FromStatus(401, "invalid api key", nil)}}}
	o := newTestOrchestrator(t, client, "key-a", "key-b")

	got := Collect(o.Generate(context.Background(), "q"))

	assert.Equal(t, APIErrorPrefix+"upstream returned 401: invalid api key", got)
	assert.Len(t, client.calls(), 1)
}

func TestOrchestrator_KeySwitchMidStreamDoesNotRepeatText(t *testing.T) {
	tests := []struct {
		name  string
		retry []string
		want  string
	}{
		{
			name:  "same fragments",
			retry: []string{"Whoever ", "commits ", "theft."},
			want:  "Whoever commits theft.",
		},
		{
			name:  "different fragmenting",
			retry: []string{"Whoever commits th", "eft."},
			want:  "Whoever commits theft.",
		},
		{
			name:  "diverging answer",
			retry: []string{"Whoever steals."},
			want:  "Whoever commits steals.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: key-a fails after two fragments and key-b answers in full
			client := &scriptedClient{steps: []step{
				{frags: []string{"Whoever ", "commits "}, midErr: rateLimited()},
				{frags: tt.retry},
			}}
			o := newTestOrchestrator(t, client, "key-a", "key-b")

			// When: collecting the stream
			got := Collect(o.Generate(context.Background(), "q"))

			// Then: text already delivered is not sent twice
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []Credential{"key-a", "key-b"}, client.calls())
		})
	}
}

func TestOrchestrator_MidStreamFailureAfterBackoffResumes(t *testing.T) {
	// Given: one key that drops the connection mid-answer, then recovers
	client := &scriptedClient{steps: []step{
		{frags: []string{"An agreement "}, midErr: qerrors.New(qerrors.ErrCodeNetworkUnavailable, "connection reset", nil)},
		{frags: []string{"An agreement ", "enforceable by law."}},
	}}
	o := newTestOrchestrator(t, client, "key-a")

	got := Collect(o.Generate(context.Background(), "q"))

	assert.Equal(t, "An agreement enforceable by law.", got)
	assert.Equal(t, []Credential{"key-a", "key-a"}, client.calls())
}

func TestReplay_Trim(t *testing.T) {
	r := replay{sent: "دفعہ ۳۷۹"}
	assert.Equal(t, "", r.trim("دفعہ "))
	assert.Equal(t, "۸۰", r.trim("۳۸۰"), "divergence inside a rune resends the whole rune")
	assert.Equal(t, " ok", r.trim(" ok"))
}

func TestOrchestrator_CancelStopsStream(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := &scriptedClient{steps: []step{{frags: []string{"first"}, blockOn: block}}}
	o := newTestOrchestrator(t, client, "key-a")

	ctx, cancel := context.WithCancel(context.Background())
	ch := o.Generate(ctx, "q")

	assert.Equal(t, "first", <-ch)
	cancel()

	select {
	case frag, ok := <-ch:
		assert.False(t, ok, "unexpected fragment %q after cancel", frag)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed after cancel")
	}
}

func TestOrchestrator_CancelDuringBackoff(t *testing.T) {
	client := &scriptedClient{steps: []step{{err: rateLimited()}}}
	o, err := NewOrchestrator(client, Config{
		MaxRetries:  3,
		BackoffBase: time.Hour,
		Credentials: []Credential{"key-a"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	got := Collect(o.Generate(ctx, "q"))

	assert.Empty(t, got)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestOrchestrator_AttemptTimeoutIsRetried(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	client := &scriptedClient{steps: []step{
		{blockOn: block},
		{frags: []string{"second key"}},
	}}
	o, err := NewOrchestrator(client, Config{
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		AttemptTimeout: 20 * time.Millisecond,
		Credentials:    []Credential{"key-a", "key-b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "second key", Collect(o.Generate(context.Background(), "q")))
}

func TestNewOrchestrator_RequiresCredentials(t *testing.T) {
	_, err := NewOrchestrator(&scriptedClient{}, Config{Credentials: []Credential{" ", ""}})
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeNoCredentials, qerrors.GetCode(err))

	_, err = NewOrchestrator(nil, Config{Credentials: []Credential{"k"}})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want failure
	}{
		{qerrors.FromStatus(429, "slow down", nil), failureTransient},
		{qerrors.FromStatus(503, "down", nil), failureTransient},
		{qerrors.FromStatus(413, "big", nil), failureTooLarge},
		{qerrors.FromStatus(400, "bad", nil), failureOther},
		{context.DeadlineExceeded, failureTransient},
		{errors.New("Error 429: rate_limit_exceeded"), failureTransient},
		{errors.New("payload too large"), failureTooLarge},
		{errors.New("boom"), failureOther},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}
