package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// Metadata keys used in chromem documents.
const (
	metaSource  = "source"
	metaPage    = "page_number"
	metaChapter = "chapter"
	metaCat     = "category"
)

// ChromemIndex is a port.VectorIndex persisted on disk with chromem-go.
// Distances are cosine distances (1 - cosine similarity).
type ChromemIndex struct {
	embedder port.Embedder
	db       *chromem.DB
	name     string

	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewChromemIndex opens (or creates) the collection name under dir.
// An empty dir keeps the index in memory.
func NewChromemIndex(dir, name string, embedder port.Embedder) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	idx := &ChromemIndex{embedder: embedder, db: db, name: name}
	if err := idx.openCollection(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (x *ChromemIndex) openCollection() error {
	c, err := x.db.GetOrCreateCollection(x.name, map[string]string{"hnsw:space": "cosine"}, x.embedder.Embed)
	if err != nil {
		return fmt.Errorf("open collection %s: %w", x.name, err)
	}
	x.collection = c
	return nil
}

// Add embeds all chunk texts in one batch and stores them as doc_<n>,
// continuing from the current count.
func (x *ChromemIndex) Add(ctx context.Context, chunks []domain.Chunk) error {
	entries, err := embedChunks(ctx, x.embedder, chunks)
	if err != nil {
		return err
	}
	return x.AddEntries(ctx, entries)
}

// AddEntries stores pre-embedded entries. Missing IDs become doc_<n>.
func (x *ChromemIndex) AddEntries(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	offset := x.collection.Count()
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		id := e.ID
		if id == "" {
			id = entryID(offset + i)
		}
		docs[i] = chromem.Document{
			ID:        id,
			Metadata:  encodeMetadata(e.Metadata),
			Embedding: e.Embedding,
			Content:   e.Text,
		}
	}

	if err := x.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add documents: %w", err)
	}
	return nil
}

// Search returns up to k nearest entries by ascending cosine distance.
func (x *ChromemIndex) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := min(k, x.collection.Count())
	if n <= 0 {
		return []domain.SearchResult{}, nil
	}

	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := x.collection.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection: %w", err)
	}

	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, domain.SearchResult{
			ID:       h.ID,
			Text:     h.Content,
			Metadata: decodeMetadata(h.Metadata),
			Distance: max(0, 1-float64(h.Similarity)),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	return results, nil
}

// Count returns the number of stored entries.
func (x *ChromemIndex) Count(_ context.Context) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.collection.Count(), nil
}

// Reset drops and recreates the collection.
func (x *ChromemIndex) Reset(_ context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.db.DeleteCollection(x.name); err != nil {
		return fmt.Errorf("delete collection %s: %w", x.name, err)
	}
	return x.openCollection()
}

// embedChunks embeds chunk texts in one batch.
func embedChunks(ctx context.Context, embedder port.Embedder, chunks []domain.Chunk) ([]domain.IndexEntry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}

	entries := make([]domain.IndexEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = domain.IndexEntry{Embedding: vecs[i], Text: c.Text, Metadata: c.Metadata}
	}
	return entries, nil
}

func entryID(n int) string {
	return "doc_" + strconv.Itoa(n)
}

func encodeMetadata(m domain.ChunkMetadata) map[string]string {
	out := map[string]string{metaSource: m.Source}
	if m.PageNumber != nil {
		out[metaPage] = strconv.Itoa(*m.PageNumber)
	}
	if m.Chapter != nil {
		out[metaChapter] = *m.Chapter
	}
	if m.Category != nil {
		out[metaCat] = *m.Category
	}
	return out
}

func decodeMetadata(m map[string]string) domain.ChunkMetadata {
	meta := domain.ChunkMetadata{Source: m[metaSource]}
	if v, ok := m[metaPage]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			meta.PageNumber = &n
		}
	}
	if v, ok := m[metaChapter]; ok {
		meta.Chapter = &v
	}
	if v, ok := m[metaCat]; ok {
		meta.Category = &v
	}
	return meta
}
