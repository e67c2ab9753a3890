package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

const sqlitePrefix = "sqlite://"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLStore handles all relational database operations (users, queries, audit logs).
// It runs on Postgres (lib/pq) or, for sqlite:// URLs, on an embedded SQLite file.
type SQLStore struct {
	db *sqlx.DB
}

// Open connects to databaseURL and creates the tables if needed.
func Open(ctx context.Context, databaseURL string) (*SQLStore, error) {
	driver, dsn := "postgres", databaseURL
	if strings.HasPrefix(databaseURL, sqlitePrefix) {
		driver, dsn = "sqlite", strings.TrimPrefix(databaseURL, sqlitePrefix)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite allows a single writer; an in-memory database exists per connection.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			cluster TEXT NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queries_user ON queries(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			resource TEXT NOT NULL,
			resource_id TEXT NOT NULL,
			details TEXT NOT NULL,
			ip TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle, shared with the pgvector index.
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Users ---

// CreateUser inserts a user. A duplicate email yields port.ErrUserExists.
func (s *SQLStore) CreateUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = domain.RoleUser
	}
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	query := s.db.Rebind(`INSERT INTO users (id, email, name, password_hash, role, created_at, updated_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return port.ErrUserExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves a user by email.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getUser(ctx, "email", email)
}

// GetUserByID retrieves a user by ID.
func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStore) getUser(ctx context.Context, column, value string) (*domain.User, error) {
	query := s.db.Rebind(`SELECT id, email, name, password_hash, role, created_at, updated_at
	          FROM users WHERE ` + column + ` = ?`)

	var user domain.User
	if err := s.db.GetContext(ctx, &user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, port.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// ListUsers returns users ordered by creation time.
func (s *SQLStore) ListUsers(ctx context.Context, limit, offset int) ([]domain.User, error) {
	query := s.db.Rebind(`SELECT id, email, name, password_hash, role, created_at, updated_at
	          FROM users ORDER BY created_at LIMIT ? OFFSET ?`)

	users := []domain.User{}
	if err := s.db.SelectContext(ctx, &users, query, limit, offset); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SetUserRole changes a user's role. An unknown id yields port.ErrUserNotFound.
func (s *SQLStore) SetUserRole(ctx context.Context, id, role string) error {
	query := s.db.Rebind(`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return port.ErrUserNotFound
	}
	return nil
}

// --- Queries ---

// CreateQuery persists an answered question.
func (s *SQLStore) CreateQuery(ctx context.Context, q *domain.QueryRecord) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO queries (id, user_id, question, answer, cluster, latency_ms, created_at)
	          VALUES (:id, :user_id, :question, :answer, :cluster, :latency_ms, :created_at)`
	if _, err := s.db.NamedExecContext(ctx, query, q); err != nil {
		return fmt.Errorf("create query: %w", err)
	}
	return nil
}

// ListQueriesByUser returns a user's queries, newest first.
func (s *SQLStore) ListQueriesByUser(ctx context.Context, userID string, limit, offset int) ([]domain.QueryRecord, error) {
	query := s.db.Rebind(`SELECT id, user_id, question, answer, cluster, latency_ms, created_at
	          FROM queries WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`)

	records := []domain.QueryRecord{}
	if err := s.db.SelectContext(ctx, &records, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	return records, nil
}

// ListAllQuestions returns every stored query, oldest first.
func (s *SQLStore) ListAllQuestions(ctx context.Context) ([]domain.QueryRecord, error) {
	records := []domain.QueryRecord{}
	err := s.db.SelectContext(ctx, &records,
		`SELECT id, user_id, question, answer, cluster, latency_ms, created_at FROM queries ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list all queries: %w", err)
	}
	return records, nil
}

// UpdateQueryCluster relabels a stored query.
func (s *SQLStore) UpdateQueryCluster(ctx context.Context, id, cluster string) error {
	query := s.db.Rebind(`UPDATE queries SET cluster = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, cluster, id); err != nil {
		return fmt.Errorf("update query cluster: %w", err)
	}
	return nil
}

// --- Audit Logs ---

// WriteAudit implements middleware.AuditWriter.
func (s *SQLStore) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	query := s.db.Rebind(`INSERT INTO audit_logs (id, user_id, action, resource, resource_id, details, ip, user_agent, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(context.Background(), query,
		uuid.NewString(), userID, action, resource, resourceID, details, ip, userAgent, time.Now().UTC(),
	)
	return err
}

// ListAuditLogs returns recent audit logs, optionally filtered by action.
func (s *SQLStore) ListAuditLogs(ctx context.Context, limit int, action string) ([]domain.AuditLog, error) {
	query := `SELECT id, user_id, action, resource, resource_id, details, ip, user_agent, created_at
	          FROM audit_logs`
	args := []interface{}{}

	if action != "" {
		query += " WHERE action = ?"
		args = append(args, action)
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	logs := []domain.AuditLog{}
	if err := s.db.SelectContext(ctx, &logs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
