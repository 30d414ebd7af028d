// Package llm holds the types shared by language model clients.
package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Token is one streamed fragment of an answer. A Token with Err set is the
// last value on its channel.
type Token struct {
	Text string
	Err  error
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator streams an answer. The channel is closed when generation ends.
type Generator interface {
	GenerateStreamingAnswer(ctx context.Context, messages []Message) (<-chan Token, error)
}
