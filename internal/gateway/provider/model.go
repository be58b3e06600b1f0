package provider

import "context"

type ChatPayload struct {
	System      string
	User        string
	ExpectJSON  bool
	MaxTokens   int
	Temperature float64
}

// ModelProvider is a chat-completion backend.
type ModelProvider interface {
	ID() string
	Call(ctx context.Context, payload ChatPayload) (string, error)
}
