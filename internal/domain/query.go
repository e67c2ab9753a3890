package domain

import "time"

// QueryRecord is a persisted question/answer exchange.
type QueryRecord struct {
	ID        string    `json:"id"         db:"id"`
	UserID    string    `json:"user_id"    db:"user_id"`
	Question  string    `json:"question"   db:"question"`
	Answer    string    `json:"answer"     db:"answer"`
	Cluster   string    `json:"cluster"    db:"cluster"`
	LatencyMS int64     `json:"latency_ms" db:"latency_ms"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Cluster labels that are not derived from the model.
const (
	ClusterUncategorized = "Uncategorized"
)
