package port

import "context"

// Embedder turns text into fixed-size vectors.
// Implementations can target Ollama, Gemini, or any compatible API.
type Embedder interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChatRequest is a single-turn completion request.
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
}

// ChatModel abstracts the generative model backend.
type ChatModel interface {
	// ModelName returns the identifier of the model being used.
	ModelName() string

	// Chat sends the request and returns the complete response text.
	Chat(ctx context.Context, req ChatRequest) (string, error)
}
