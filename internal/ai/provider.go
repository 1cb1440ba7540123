package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is a synchronous chat-completion client. Implementations make a
// single attempt; retry policy lives in the RetryingProvider decorator.
type Provider interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Params are the generation knobs forwarded to the model server.
type Params struct {
	MaxOutputTokens int
	Temperature     float64
	TopP            float64
	ContextWindow   int
}

func DefaultParams() Params {
	return Params{
		MaxOutputTokens: 300,
		Temperature:     0.7,
		TopP:            0.9,
		ContextWindow:   2048,
	}
}
