// Package llm adapts model providers to the two calls the scaffolder makes:
// a single-shot generation and a streamed chat turn.
package llm

import (
	"context"

	"github.com/example/site-scaffolder/internal/models"
)

// Request is one call to a provider. Messages are in conversation order and
// the last one is the turn being answered.
type Request struct {
	System    string
	Messages  []models.ChatMessage
	MaxTokens int
}

// Client is implemented by every provider.
type Client interface {
	Name() string
	GenerateText(ctx context.Context, req Request) (string, error)
	// GenerateTextStream calls onDelta for each text fragment in arrival
	// order. An error from onDelta aborts the stream and is returned as is.
	GenerateTextStream(ctx context.Context, req Request, onDelta func(chunk string) error) error
}

// UserPrompt is a request holding a single user message.
func UserPrompt(system, prompt string, maxTokens int) Request {
	return Request{
		System:    system,
		Messages:  []models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
	}
}
