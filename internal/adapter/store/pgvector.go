package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// PgVectorIndex is a port.VectorIndex stored in a Postgres table with the
// pgvector extension. Search ranks by the <=> cosine distance operator.
type PgVectorIndex struct {
	db        *sqlx.DB
	embedder  port.Embedder
	table     string
	dimension int

	mu sync.Mutex
}

// NewPgVectorIndex creates the extension and table for collection if needed.
func NewPgVectorIndex(ctx context.Context, db *sqlx.DB, collection string, dimension int, embedder port.Embedder) (*PgVectorIndex, error) {
	v := &PgVectorIndex{
		db:        db,
		embedder:  embedder,
		table:     pq.QuoteIdentifier(collection),
		dimension: dimension,
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq BIGINT PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			metadata JSONB NOT NULL,
			embedding vector(%d) NOT NULL
		)`, v.table, dimension),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("init pgvector: %w", err)
		}
	}
	return v, nil
}

// Add embeds all chunks in one batch and inserts them in a single transaction.
func (v *PgVectorIndex) Add(ctx context.Context, chunks []domain.Chunk) error {
	entries, err := embedChunks(ctx, v.embedder, chunks)
	if err != nil {
		return err
	}
	return v.AddEntries(ctx, entries)
}

// AddEntries inserts pre-embedded entries in a single transaction.
func (v *PgVectorIndex) AddEntries(ctx context.Context, entries []domain.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tx, err := v.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var offset int
	if err := tx.GetContext(ctx, &offset, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, v.table)); err != nil {
		return fmt.Errorf("count entries: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (seq, id, content, metadata, embedding) VALUES ($1, $2, $3, $4, $5)`, v.table))
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if len(e.Embedding) != v.dimension {
			return fmt.Errorf("entry %d: embedding has %d dimensions, index expects %d", i, len(e.Embedding), v.dimension)
		}
		meta, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		seq := offset + i
		id := e.ID
		if id == "" {
			id = entryID(seq)
		}
		if _, err := stmt.ExecContext(ctx, seq, id, e.Text, string(meta), pgvector.NewVector(e.Embedding)); err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}
	}

	return tx.Commit()
}

// Search performs a cosine distance search.
func (v *PgVectorIndex) Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		return []domain.SearchResult{}, nil
	}
	n, err := v.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []domain.SearchResult{}, nil
	}

	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := v.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, content, metadata, embedding <=> $1 AS distance
		 FROM %s ORDER BY distance LIMIT $2`, v.table),
		pgvector.NewVector(vec), k)
	if err != nil {
		return nil, fmt.Errorf("search similar: %w", err)
	}
	defer rows.Close()

	results := []domain.SearchResult{}
	for rows.Next() {
		var (
			r    domain.SearchResult
			meta []byte
		)
		if err := rows.Scan(&r.ID, &r.Text, &meta, &r.Distance); err != nil {
			return nil, fmt.Errorf("scan similar: %w", err)
		}
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		r.Distance = max(0, r.Distance)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Count returns the number of stored entries.
func (v *PgVectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.GetContext(ctx, &n, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, v.table)); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Reset removes every entry.
func (v *PgVectorIndex) Reset(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, v.table)); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return nil
}
