package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// EmbedderFactory builds the real embedder on first use.
type EmbedderFactory func(ctx context.Context) (port.Embedder, error)

// LazyEmbedder defers construction of an expensive embedder until the first call
// and reuses it afterwards. If construction fails, it is not retried and every
// call reports port.ErrProviderUnavailable.
type LazyEmbedder struct {
	factory EmbedderFactory

	once  sync.Once
	inner port.Embedder
	err   error
}

// NewLazyEmbedder wraps factory.
func NewLazyEmbedder(factory EmbedderFactory) *LazyEmbedder {
	return &LazyEmbedder{factory: factory}
}

func (l *LazyEmbedder) get(ctx context.Context) (port.Embedder, error) {
	l.once.Do(func() {
		l.inner, l.err = l.factory(ctx)
		if l.err != nil {
			slog.Error("embedding provider unavailable", "error", l.err)
			return
		}
		slog.Info("embedding provider initialized")
	})
	if l.err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrProviderUnavailable, l.err)
	}
	return l.inner, nil
}

// Embed generates a vector embedding for the given text.
func (l *LazyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.Embed(ctx, text)
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (l *LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return e.EmbedBatch(ctx, texts)
}
