// Package generate streams answers from an OpenAI-compatible chat endpoint
// with retry, credential rotation, and backoff around each request.
package generate

import (
	"context"
)

// Fixed user-facing messages. Generation always ends in the upstream
// answer or exactly one of these.
const (
	CapacityMessage   = "⚠️ **Daily Limit Reached**: The AI model has reached its maximum server capacity for today. Please try again tomorrow."
	TooComplexMessage = "⚠️ **Query Too Complex**: Your question is too large for the model to process. Please simplify your query and try again."
	NoContextMessage  = "No specific legal document found."
	APIErrorPrefix    = "⚠️ API Error: "
)

// Role is a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is a single generation call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
}

// Credential is an upstream API key.
type Credential string

// Redacted returns a form safe for logs.
func (c Credential) Redacted() string {
	if len(c) <= 8 {
		return "****"
	}
	return string(c[:4]) + "…" + string(c[len(c)-4:])
}

// FragmentStream yields text fragments of one upstream response.
type FragmentStream interface {
	// Next advances to the next fragment. It returns false at the end of
	// the stream or on error.
	Next() bool
	Fragment() string
	Err() error
	Close() error
}

// StreamClient opens a streaming completion with a given credential.
type StreamClient interface {
	Stream(ctx context.Context, cred Credential, req Request) (FragmentStream, error)
}
