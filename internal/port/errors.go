package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrSourceNotFound      = errors.New("source not found")
	ErrClusteringUnfit     = errors.New("clustering model not fitted")
	ErrNotEnoughSamples    = errors.New("not enough samples")
	ErrNoDocuments         = errors.New("no documents to index")
	ErrReindexInProgress   = errors.New("reindex already in progress")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("token invalid")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrInvalidCredentials  = errors.New("invalid credentials")
)
