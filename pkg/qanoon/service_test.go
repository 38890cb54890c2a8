package qanoon

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qanoon/internal/config"
	"github.com/Aman-CERP/qanoon/internal/embed"
	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/generate"
	"github.com/Aman-CERP/qanoon/internal/record"
)

// recordingClient answers every request with fixed fragments and keeps the
// messages it was sent.
type recordingClient struct {
	mu       sync.Mutex
	requests []generate.Request
	answer   []string
}

func (c *recordingClient) Stream(_ context.Context, _ generate.Credential, req generate.Request) (generate.FragmentStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return &sliceStream{frags: c.answer, pos: -1}, nil
}

func (c *recordingClient) last() generate.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

type sliceStream struct {
	frags []string
	pos   int
}

func (s *sliceStream) Next() bool {
	s.pos++
	return s.pos < len(s.frags)
}

func (s *sliceStream) Fragment() string { return s.frags[s.pos] }
func (s *sliceStream) Err() error       { return nil }
func (s *sliceStream) Close() error     { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Index.Path = filepath.Join(t.TempDir(), config.DataDirName, "index.gob.zst")
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 128
	cfg.Build.BatchSize = 4
	cfg.Generation.Credentials = []string{"key-a"}
	cfg.Generation.BackoffBase = time.Millisecond
	cfg.KeepAlive.Enabled = false
	return cfg
}

func corpus() []record.Record {
	return []record.Record{
		{Title: "Penal Code 379", Text: "Whoever commits theft shall be punished with imprisonment", Source: "Official PDF", Type: "Act"},
		{Title: "Contract Act 10", Text: "An agreement enforceable by law is a contract", Source: "Official PDF", Type: "Act"},
		{Title: "Evidence Act 3", Text: "Facts which are relevant may be proved by witnesses", Source: "Official PDF", Type: "Order"},
	}
}

func openService(t *testing.T, cfg *config.Config, opts ...Option) *Service {
	t.Helper()
	svc, err := Open(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestService_BuildThenRetrieve(t *testing.T) {
	// Given: a fresh service with no index on disk
	cfg := testConfig(t)
	svc := openService(t, cfg)
	ctx := context.Background()
	assert.Empty(t, svc.Retrieve(ctx, "theft", 3))

	// When: the corpus is built
	res, err := svc.Build(ctx, corpus())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Records)

	// Then: retrieval finds the relevant passage
	got := svc.Retrieve(ctx, "punishment for theft", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "Penal Code 379", got[0].Title)
}

func TestService_ReopenLoadsIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = first.Build(ctx, corpus())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := openService(t, cfg)
	got, err := second.Search(ctx, "agreement enforceable by law", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Contract Act 10", got[0].Title)
	assert.Positive(t, got[0].Score)
}

func TestService_OpenRejectsMismatchedIndex(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	svc, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = svc.Build(ctx, corpus())
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	// Given: an artifact built at 128 dimensions
	// When: opening with a 64-dimension embedder
	_, err = Open(ctx, cfg, WithEmbedder(embed.NewStaticEmbedder(64)))

	// Then: loading fails unless the load is skipped for a rebuild
	require.Error(t, err)
	assert.Equal(t, qerrors.ErrCodeDimensionMismatch, qerrors.GetCode(err))

	rebuild := openService(t, cfg, WithEmbedder(embed.NewStaticEmbedder(64)), SkipIndexLoad())
	_, err = rebuild.Rebuild(ctx, corpus())
	require.NoError(t, err)
}

func TestService_UpdateAddsNewTitles(t *testing.T) {
	cfg := testConfig(t)
	svc := openService(t, cfg)
	ctx := context.Background()

	_, err := svc.Build(ctx, corpus()[:2])
	require.NoError(t, err)

	res, err := svc.Update(ctx, corpus())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Records)
	assert.Equal(t, 2, res.Skipped)

	got := svc.Retrieve(ctx, "relevant facts proved by witnesses", 1)
	require.Len(t, got, 1)
	assert.Equal(t, "Evidence Act 3", got[0].Title)
}

func TestService_ConsultBuildsPrompt(t *testing.T) {
	// Given: an indexed corpus and a recording model
	cfg := testConfig(t)
	client := &recordingClient{answer: []string{"Theft is ", "punishable."}}
	svc := openService(t, cfg, WithStreamClient(client))
	ctx := context.Background()
	_, err := svc.Build(ctx, corpus())
	require.NoError(t, err)

	var history []generate.Message
	for i := range 8 {
		role := generate.RoleUser
		if i%2 == 1 {
			role = generate.RoleAssistant
		}
		history = append(history, generate.Message{Role: role, Content: "turn " + string(rune('a'+i))})
	}

	// When: consulting with eight turns of history
	answer := generate.Collect(svc.Consult(ctx, "punishment for theft", history, InLanguage(LanguageUrdu), WithK(2)))

	// Then: the stream is forwarded and the prompt carries context and the last six turns
	assert.Equal(t, "Theft is punishable.", answer)

	req := client.last()
	assert.Equal(t, cfg.Generation.Model, req.Model)
	require.Len(t, req.Messages, 8)
	assert.Equal(t, generate.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Language: Urdu.")
	assert.Equal(t, "turn c", req.Messages[1].Content)
	assert.Equal(t, "turn h", req.Messages[6].Content)

	user := req.Messages[7]
	assert.Equal(t, generate.RoleUser, user.Role)
	assert.Contains(t, user.Content, "\n--- SOURCE: Penal Code 379 ---\nWhoever commits theft")
	assert.True(t, strings.HasSuffix(user.Content, "QUERY: punishment for theft"))
	assert.Equal(t, 2, strings.Count(user.Content, "--- SOURCE:"))
}

func TestService_ConsultWithoutContext(t *testing.T) {
	client := &recordingClient{answer: []string{"ok"}}
	svc := openService(t, testConfig(t), WithStreamClient(client))

	_ = generate.Collect(svc.Consult(context.Background(), "anything", nil))

	user := client.last().Messages[len(client.last().Messages)-1]
	assert.Equal(t, "DATA:\n"+generate.NoContextMessage+"\n\nQUERY: anything", user.Content)
}

func TestService_AnswerWithoutCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Generation.Credentials = nil
	svc := openService(t, cfg)

	got := generate.Collect(svc.Answer(context.Background(), "q"))

	assert.True(t, strings.HasPrefix(got, generate.APIErrorPrefix))
	assert.Contains(t, got, qerrors.ErrCodeNoCredentials)
}

func TestService_Status(t *testing.T) {
	cfg := testConfig(t)
	svc := openService(t, cfg)
	ctx := context.Background()

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	assert.Nil(t, st.Artifact)
	assert.Zero(t, st.Catalog.Records)

	_, err = svc.Build(ctx, corpus())
	require.NoError(t, err)

	st, err = svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.Artifact)
	assert.Equal(t, st.Loaded, st.Artifact.Count)
	assert.Equal(t, 3, st.Catalog.Records)
	assert.Nil(t, st.Checkpoint)
	assert.Empty(t, st.Issues)
	assert.True(t, st.Generation)
	assert.Equal(t, "static-128", st.Embedder)
}

func TestService_KeepAliveAndClose(t *testing.T) {
	cfg := testConfig(t)
	cfg.KeepAlive.Enabled = true
	cfg.KeepAlive.Interval = time.Hour

	svc, err := Open(context.Background(), cfg, WithKeepAlive(true))
	require.NoError(t, err)
	assert.True(t, svc.Keeper().Running())

	require.NoError(t, svc.Close())
	assert.False(t, svc.Keeper().Running())
	assert.NoError(t, svc.Close())
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, generate.NoContextMessage, FormatContext(nil))
}
