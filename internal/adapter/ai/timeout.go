package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// BoundedEmbedder applies a per-call deadline to another embedder.
// A call that runs past the deadline reports port.ErrProviderUnavailable.
type BoundedEmbedder struct {
	inner   port.Embedder
	timeout time.Duration
}

// WithTimeout bounds every call made through inner. A non-positive timeout returns inner unchanged.
func WithTimeout(inner port.Embedder, timeout time.Duration) port.Embedder {
	if timeout <= 0 {
		return inner
	}
	return &BoundedEmbedder{inner: inner, timeout: timeout}
}

// Embed generates a vector embedding for the given text.
func (b *BoundedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vec, err := b.inner.Embed(ctx, text)
	if err != nil {
		return nil, deadlineErr(ctx, "embed", err)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts in one call.
func (b *BoundedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	vecs, err := b.inner.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, deadlineErr(ctx, "embed batch", err)
	}
	return vecs, nil
}

func deadlineErr(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, port.ErrProviderUnavailable) {
		return fmt.Errorf("%s: %w: %v", op, port.ErrProviderUnavailable, err)
	}
	return err
}
