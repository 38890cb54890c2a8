package generate

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// DefaultBaseURL is the Groq OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// OpenAIStreamClient streams chat completions from an OpenAI-compatible
// endpoint. One SDK client is kept per credential.
type OpenAIStreamClient struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.Mutex
	clients map[Credential]*openai.Client
}

var _ StreamClient = (*OpenAIStreamClient)(nil)

// NewOpenAIStreamClient creates a client for baseURL. A nil httpClient uses
// a default one.
func NewOpenAIStreamClient(baseURL string, httpClient *http.Client) *OpenAIStreamClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenAIStreamClient{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		httpClient: httpClient,
		clients:    make(map[Credential]*openai.Client),
	}
}

func (c *OpenAIStreamClient) client(cred Credential) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[cred]; ok {
		return cl
	}
	// the SDK's retry loop is disabled; rotation and backoff belong to the Orchestrator
	cl := openai.NewClient(
		option.WithAPIKey(string(cred)),
		option.WithBaseURL(c.baseURL),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(0),
	)
	c.clients[cred] = &cl
	return &cl
}

// Stream opens a streaming chat completion.
func (c *OpenAIStreamClient) Stream(ctx context.Context, cred Credential, req Request) (FragmentStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    toParams(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	stream := c.client(cred).Chat.Completions.NewStreaming(ctx, params)
	return &chunkStream{stream: stream}, nil
}

func toParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

type chunkStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	frag   string
}

func (s *chunkStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		s.frag = chunk.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *chunkStream) Fragment() string { return s.frag }

func (s *chunkStream) Err() error {
	err := s.stream.Err()
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return qerrors.FromStatus(apiErr.StatusCode, msg, err)
	}
	return qerrors.FromTransport(err)
}

func (s *chunkStream) Close() error { return s.stream.Close() }
