package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/ingest"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// indexBatchSize is the number of chunks embedded and stored per Add call.
const indexBatchSize = 100

// ProgressFunc receives indexing progress: the current stage, chunks stored so far and the total.
type ProgressFunc func(stage string, done, total int)

// IndexReport summarizes a reindex run.
type IndexReport struct {
	References    int  `json:"references"`
	SourceChunks  int  `json:"source_chunks"`
	Total         int  `json:"total"`
	SourceMissing bool `json:"source_missing"`
	IndexCount    int  `json:"index_count"`
}

// Indexer loads the reference questions and the source document into the vector index.
// Only one run may be active at a time.
type Indexer struct {
	index      port.VectorIndex
	embedder   port.Embedder
	loader     *ingest.Loader
	sourcePath string
	running    atomic.Bool
}

// NewIndexer creates an indexer for sourcePath.
func NewIndexer(index port.VectorIndex, embedder port.Embedder, loader *ingest.Loader, sourcePath string) *Indexer {
	return &Indexer{index: index, embedder: embedder, loader: loader, sourcePath: sourcePath}
}

// Running reports whether a reindex is in progress.
func (ix *Indexer) Running() bool {
	return ix.running.Load()
}

// ReindexRun holds the indexer's single run slot until Run returns.
type ReindexRun struct {
	ix   *Indexer
	used atomic.Bool
}

// Start reserves the run slot, or returns port.ErrReindexInProgress when it is taken.
func (ix *Indexer) Start() (*ReindexRun, error) {
	if !ix.running.CompareAndSwap(false, true) {
		return nil, port.ErrReindexInProgress
	}
	return &ReindexRun{ix: ix}, nil
}

// Run executes the reserved reindex and releases the slot. It runs at most once.
func (r *ReindexRun) Run(ctx context.Context, reset bool, progress ProgressFunc) (*IndexReport, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, errors.New("reindex: run already executed")
	}
	defer r.ix.running.Store(false)
	return r.ix.reindex(ctx, reset, progress)
}

// Reindex rebuilds the index. With reset, existing entries are replaced;
// otherwise new entries are appended after the existing ones. A missing source
// document is tolerated as long as at least one document remains to index.
//
// Every chunk is embedded before the index is touched, so a provider failure
// leaves the current index as it was.
func (ix *Indexer) Reindex(ctx context.Context, reset bool, progress ProgressFunc) (*IndexReport, error) {
	run, err := ix.Start()
	if err != nil {
		return nil, err
	}
	return run.Run(ctx, reset, progress)
}

func (ix *Indexer) reindex(ctx context.Context, reset bool, progress ProgressFunc) (*IndexReport, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}

	progress("loading", 0, 0)
	chunks := ingest.ReferenceChunks(ingest.LoadReferenceQuestions())
	report := &IndexReport{References: len(chunks)}

	sourceChunks, err := ix.loader.LoadAndChunkSource(ix.sourcePath)
	switch {
	case errors.Is(err, port.ErrSourceNotFound):
		slog.Warn("source document not found, indexing reference questions only", "path", ix.sourcePath)
		report.SourceMissing = true
	case err != nil:
		return nil, fmt.Errorf("reindex: %w", err)
	default:
		report.SourceChunks = len(sourceChunks)
		chunks = append(chunks, sourceChunks...)
	}

	report.Total = len(chunks)
	if report.Total == 0 {
		return nil, fmt.Errorf("reindex: %w", port.ErrNoDocuments)
	}

	entries, err := ix.embed(ctx, chunks, progress)
	if err != nil {
		return nil, fmt.Errorf("reindex: %w", err)
	}

	if reset {
		progress("resetting", 0, report.Total)
		if err := ix.index.Reset(ctx); err != nil {
			return nil, fmt.Errorf("reindex: %w", err)
		}
	}

	if err := ix.store(ctx, entries, progress); err != nil {
		return nil, fmt.Errorf("reindex: %w", err)
	}

	count, err := ix.index.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("reindex: %w", err)
	}
	report.IndexCount = count

	slog.Info("reindex complete",
		"references", report.References,
		"source_chunks", report.SourceChunks,
		"index_count", report.IndexCount,
	)
	return report, nil
}

func (ix *Indexer) embed(ctx context.Context, chunks []domain.Chunk, progress ProgressFunc) ([]domain.IndexEntry, error) {
	entries := make([]domain.IndexEntry, 0, len(chunks))
	for start := 0; start < len(chunks); start += indexBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+indexBatchSize, len(chunks))

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vecs))
		}
		for i, c := range chunks[start:end] {
			entries = append(entries, domain.IndexEntry{Embedding: vecs[i], Text: c.Text, Metadata: c.Metadata})
		}
		progress("embedding", end, len(chunks))
	}
	return entries, nil
}

func (ix *Indexer) store(ctx context.Context, entries []domain.IndexEntry, progress ProgressFunc) error {
	for start := 0; start < len(entries); start += indexBatchSize {
		end := min(start+indexBatchSize, len(entries))
		if err := ix.index.AddEntries(ctx, entries[start:end]); err != nil {
			return fmt.Errorf("store entries %d-%d: %w", start, end, err)
		}
		progress("indexing", end, len(entries))
	}
	return nil
}
