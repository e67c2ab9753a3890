package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// fallbackContextChars bounds the raw context surfaced when the model fails.
const fallbackContextChars = 500

const generatorSystemPrompt = `You are an IT support assistant. Answer the user's question using ONLY the documentation excerpts provided in the context.
Rules:
- Do not use outside knowledge. If the context does not contain enough information, say so explicitly.
- When an excerpt is marked with a page number, cite it, e.g. (page 12).
- Be concise and practical; prefer numbered steps for procedures.`

var errEmptyAnswer = errors.New("model returned an empty answer")

// GeneratorConfig bounds model calls and answers.
type GeneratorConfig struct {
	Temperature     float64
	MaxOutputTokens int
	MaxAnswerChars  int
	Timeout         time.Duration
}

// Generator turns a question plus retrieved context into a grounded answer.
type Generator struct {
	model port.ChatModel
	cfg   GeneratorConfig
}

// NewGenerator creates a generator. A nil model makes every grounded call fall back.
func NewGenerator(model port.ChatModel, cfg GeneratorConfig) *Generator {
	if cfg.MaxAnswerChars <= 0 {
		cfg.MaxAnswerChars = 4000
	}
	return &Generator{model: model, cfg: cfg}
}

// Generate always returns a non-empty answer no longer than MaxAnswerChars.
// A non-nil error reports that the model failed and the answer is the fallback.
func (g *Generator) Generate(ctx context.Context, question, contextText string) (string, error) {
	if strings.TrimSpace(contextText) == "" {
		return g.limit(noInformationAnswer(question)), nil
	}

	if g.model == nil {
		return g.limit(fallbackAnswer(contextText)), fmt.Errorf("generate: %w", port.ErrProviderUnavailable)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	answer, err := g.model.Chat(ctx, port.ChatRequest{
		SystemPrompt: generatorSystemPrompt,
		UserPrompt:   buildUserPrompt(question, contextText),
		Temperature:  g.cfg.Temperature,
		MaxTokens:    g.cfg.MaxOutputTokens,
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = errEmptyAnswer
	}
	if err != nil {
		return g.limit(fallbackAnswer(contextText)), fmt.Errorf("generate: %w", err)
	}

	return g.limit(strings.TrimSpace(answer)), nil
}

func (g *Generator) limit(s string) string {
	return truncateRunes(s, g.cfg.MaxAnswerChars)
}

func buildUserPrompt(question, contextText string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\n\nAnswer:", contextText, question)
}

func noInformationAnswer(question string) string {
	return fmt.Sprintf("I could not find relevant information in the IT support documentation to answer: \"%s\"", question)
}

func fallbackAnswer(contextText string) string {
	return "The assistant could not generate an answer right now. Here is the most relevant documentation found:\n\n" +
		truncateRunes(strings.TrimSpace(contextText), fallbackContextChars)
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
