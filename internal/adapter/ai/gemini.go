package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// maxGeminiBatch is the largest batch BatchEmbedContents accepts.
const maxGeminiBatch = 100

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey     string
	EmbedModel string // e.g. text-embedding-004
	ChatModel  string // e.g. gemini-2.5-flash

	// RequestsPerSecond throttles outgoing calls. Zero disables throttling.
	RequestsPerSecond float64

	// Timeout bounds each API call. Zero leaves calls on the caller's deadline.
	Timeout time.Duration
}

// GeminiProvider implements port.Embedder and port.ChatModel with the Gemini API.
type GeminiProvider struct {
	client  *genai.Client
	cfg     GeminiConfig
	limiter *rate.Limiter
}

// NewGeminiProvider creates the client. A missing API key is reported as port.ErrProviderUnavailable.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: missing API key: %w", port.ErrProviderUnavailable)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w: %v", port.ErrProviderUnavailable, err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &GeminiProvider{client: client, cfg: cfg, limiter: limiter}, nil
}

// ModelName returns the chat model identifier.
func (g *GeminiProvider) ModelName() string {
	return g.cfg.ChatModel
}

func (g *GeminiProvider) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.Timeout)
}

// Embed generates a vector embedding for the given text.
func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}

	resp, err := g.client.EmbeddingModel(g.cfg.EmbedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w: %v", port.ErrProviderUnavailable, err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini embed: empty response")
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch embeds texts with the batch API, in slices of at most 100.
func (g *GeminiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.cfg.EmbedModel)
	out := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += maxGeminiBatch {
		end := min(start+maxGeminiBatch, len(texts))

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("gemini embed batch: %w", err)
		}

		b := em.NewBatch()
		for _, t := range texts[start:end] {
			b.AddContent(genai.Text(t))
		}
		callCtx, cancel := g.bound(ctx)
		resp, err := em.BatchEmbedContents(callCtx, b)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("gemini embed batch: %w: %v", port.ErrProviderUnavailable, err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini embed batch: got %d embeddings for %d texts", len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}

	return out, nil
}

// Chat generates a completion with the system prompt as system instruction.
func (g *GeminiProvider) Chat(ctx context.Context, req port.ChatRequest) (string, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("gemini chat: %w", err)
	}

	model := g.client.GenerativeModel(g.cfg.ChatModel)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.UserPrompt))
	if err != nil {
		return "", fmt.Errorf("gemini chat: %w: %v", port.ErrProviderUnavailable, err)
	}

	var parts []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				parts = append(parts, string(text))
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Close releases the underlying client.
func (g *GeminiProvider) Close() error {
	return g.client.Close()
}
