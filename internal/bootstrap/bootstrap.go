// Package bootstrap assembles the application graph from configuration.
// The HTTP server and the admin CLI share it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/arturoeanton/go-helpdesk-rag/internal/adapter/ai"
	"github.com/arturoeanton/go-helpdesk-rag/internal/adapter/store"
	"github.com/arturoeanton/go-helpdesk-rag/internal/cluster"
	"github.com/arturoeanton/go-helpdesk-rag/internal/ingest"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
	"github.com/arturoeanton/go-helpdesk-rag/pkg/config"
)

// App holds every long-lived component. There is exactly one of each per process.
type App struct {
	Config   *config.Config
	Store    *store.SQLStore
	Embedder port.Embedder
	Index    port.VectorIndex
	Chat     port.ChatModel
	Assigner *cluster.Assigner
	Pipeline *service.Pipeline
	Indexer  *service.Indexer
	Clusters *service.ClusterService
	Auth     *service.AuthService

	mu      sync.Mutex
	closers []func() error
}

// New connects the database, builds the providers and wires the services.
// Provider failures do not abort startup; the affected stages degrade at query time.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Store: db}
	app.onClose(db.Close)

	app.Embedder = ai.WithTimeout(ai.NewLazyEmbedder(app.embedderFactory()), cfg.ProviderTimeout)

	app.Index, err = app.newIndex(ctx)
	if err != nil {
		app.Close()
		return nil, err
	}

	chat, err := app.newChatModel(ctx)
	if err == nil {
		app.Chat = chat
	} else {
		slog.Error("chat model unavailable, answers will fall back to raw context", "provider", cfg.LLMProvider, "error", err)
	}

	app.Assigner = cluster.NewAssigner(ctx, app.Embedder, ingest.LoadReferenceQuestions(), cfg.ClusterModelPath,
		cluster.WithClusters(cfg.NClusters))

	generator := service.NewGenerator(app.Chat, service.GeneratorConfig{
		Temperature:     cfg.Temperature,
		MaxOutputTokens: cfg.MaxOutputTokens,
		MaxAnswerChars:  cfg.MaxAnswerChars,
		Timeout:         cfg.ProviderTimeout,
	})
	app.Pipeline = service.NewPipeline(app.Assigner, app.Index, generator, service.PipelineConfig{
		RelevanceThreshold: cfg.RelevanceThreshold,
		MinContextResults:  cfg.MinContextResults,
		DefaultNResults:    cfg.DefaultNResults,
	})

	splitter := ingest.NewSplitter(ingest.WithChunkSize(cfg.ChunkSize), ingest.WithOverlap(cfg.ChunkOverlap))
	app.Indexer = service.NewIndexer(app.Index, app.Embedder, ingest.NewLoader(splitter), cfg.SourcePath)
	app.Clusters = service.NewClusterService(app.Assigner, db, cfg.ClusterModelPath)
	app.Auth = service.NewAuthService(db, cfg)

	return app, nil
}

// Close releases every resource opened by New.
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func (a *App) onClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

func (a *App) ollama() *ai.OllamaProvider {
	cfg := a.Config
	return ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{BaseURL: cfg.OllamaEmbedURL, Model: cfg.OllamaEmbedModel, Token: cfg.OllamaEmbedToken},
		ai.OllamaEndpointConfig{BaseURL: cfg.OllamaChatURL, Model: cfg.OllamaChatModel, Token: cfg.OllamaChatToken},
		cfg.ProviderTimeout,
	)
}

func (a *App) gemini(ctx context.Context) (*ai.GeminiProvider, error) {
	cfg := a.Config
	g, err := ai.NewGeminiProvider(ctx, ai.GeminiConfig{
		APIKey:            cfg.GeminiAPIKey,
		EmbedModel:        cfg.GeminiEmbedModel,
		ChatModel:         cfg.LLMModel,
		RequestsPerSecond: cfg.GeminiRPS,
		Timeout:           cfg.ProviderTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(g.Close)
	return g, nil
}

func (a *App) embedderFactory() ai.EmbedderFactory {
	return func(context.Context) (port.Embedder, error) {
		switch a.Config.EmbedProvider {
		case config.ProviderOllama:
			return a.ollama(), nil
		case config.ProviderGemini:
			// the client outlives the first request
			g, err := a.gemini(context.Background())
			if err != nil {
				return nil, err
			}
			return g, nil
		default:
			return nil, fmt.Errorf("unknown embed provider %q", a.Config.EmbedProvider)
		}
	}
}

func (a *App) newChatModel(ctx context.Context) (port.ChatModel, error) {
	switch a.Config.LLMProvider {
	case config.ProviderOllama:
		return a.ollama(), nil
	case config.ProviderGemini:
		g, err := a.gemini(ctx)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", a.Config.LLMProvider)
	}
}

func (a *App) newIndex(ctx context.Context) (port.VectorIndex, error) {
	cfg := a.Config
	switch cfg.VectorBackend {
	case config.BackendChromem:
		return store.NewChromemIndex(cfg.ChromaPersistDir, cfg.CollectionName, a.Embedder)
	case config.BackendPgvector:
		return store.NewPgVectorIndex(ctx, a.Store.DB(), cfg.CollectionName, cfg.EmbeddingDimension, a.Embedder)
	default:
		return nil, errors.New("unknown vector backend " + cfg.VectorBackend)
	}
}

// IndexIfEmpty runs a full reindex when the index holds no entries.
func (a *App) IndexIfEmpty(ctx context.Context) error {
	n, err := a.Index.Count(ctx)
	if err != nil {
		return fmt.Errorf("count index: %w", err)
	}
	if n > 0 {
		slog.Info("vector index ready", "entries", n)
		return nil
	}
	slog.Info("vector index empty, indexing")
	_, err = a.Indexer.Reindex(ctx, false, nil)
	return err
}
