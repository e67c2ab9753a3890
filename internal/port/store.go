package port

import (
	"context"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
)

// VectorIndex persists embedded chunks and answers nearest-neighbour queries.
type VectorIndex interface {
	// Add embeds all chunk texts in one batch and stores them with IDs continuing from Count.
	Add(ctx context.Context, chunks []domain.Chunk) error

	// AddEntries stores entries that already carry their embedding.
	// Entries without an ID are numbered continuing from Count.
	AddEntries(ctx context.Context, entries []domain.IndexEntry) error

	// Search returns at most k results ordered by ascending distance.
	// An empty index yields an empty slice and no error.
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int, error)

	// Reset removes every entry.
	Reset(ctx context.Context) error
}

// UserStore persists registered users.
type UserStore interface {
	CreateUser(ctx context.Context, u *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error)
	SetUserRole(ctx context.Context, id, role string) error
}

// QueryStore persists answered questions.
type QueryStore interface {
	CreateQuery(ctx context.Context, q *domain.QueryRecord) error
	ListQueriesByUser(ctx context.Context, userID string, limit, offset int) ([]domain.QueryRecord, error)
	ListAllQuestions(ctx context.Context) ([]domain.QueryRecord, error)
	UpdateQueryCluster(ctx context.Context, id, cluster string) error
}

// AuditStore persists audit logs.
type AuditStore interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
	ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error)
}
