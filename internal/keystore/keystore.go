// Package keystore persists issued API keys. The KeyStore interface hides
// the backing store from callers; the embedded SQLite store is the default
// and a Postgres store covers multi-node deployments.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/plyraAI/plyra-memory-server/internal/model"
)

var (
	// ErrDuplicateHash is returned by CreateKey when a record with the same
	// key hash already exists. Hash collisions are rejected by the store's
	// unique constraint, never silently overwritten.
	ErrDuplicateHash = errors.New("key hash already exists")

	// ErrStoreClosed is returned by any operation after Close.
	ErrStoreClosed = errors.New("key store is closed")

	// ErrUnavailable wraps underlying storage I/O failures. Callers must
	// treat it as a 5xx-class failure of the request, not an authentication
	// failure, so operators can tell a down store from broken keys.
	ErrUnavailable = errors.New("key store unavailable")
)

// CreateKeyParams carries the persisted fields for a new key record. The id
// and created_at are assigned by the store.
type CreateKeyParams struct {
	KeyHash      string
	KeyPrefix    string
	WorkspaceID  string
	Label        string
	Env          string
	RateLimitRPM int
}

// KeyStore is the abstract storage contract for API keys. Implementations
// must be safe for use from concurrent requests sharing one handle.
type KeyStore interface {
	// CreateKey inserts a new record with a fresh id, created_at set to now,
	// is_active true and last_used_at null. Returns ErrDuplicateHash when the
	// hash is already present.
	CreateKey(ctx context.Context, p CreateKeyParams) (*model.APIKeyInfo, error)

	// ValidateKey looks up an active record by hash. On hit it advances
	// last_used_at to now and returns the derived AuthContext. On miss,
	// absent or revoked being deliberately indistinguishable, it returns
	// (nil, nil). Errors are store failures only, never auth outcomes.
	ValidateKey(ctx context.Context, keyHash string) (*model.AuthContext, error)

	// ListKeys returns all records for a workspace, active and revoked,
	// newest first. Hashes and plaintext are never included.
	ListKeys(ctx context.Context, workspaceID string) ([]model.APIKeyInfo, error)

	// RevokeKey marks a key inactive. Returns whether the id exists; revoking
	// an already-revoked key is not an error and still reports true.
	RevokeKey(ctx context.Context, keyID string) (bool, error)

	// GetKeyInfo returns the record for an id, or (nil, nil) if absent.
	GetKeyInfo(ctx context.Context, keyID string) (*model.APIKeyInfo, error)

	// Close releases the store handle. Subsequent operations return
	// ErrStoreClosed.
	Close() error
}

// Open selects a store implementation from the key-store URL: postgres:// or
// postgresql:// picks the networked Postgres store, anything else is treated
// as a SQLite database path (empty string for in-memory).
func Open(url string, defaultRateLimit int) (KeyStore, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgresStore(url, defaultRateLimit)
	}
	return NewSQLiteStore(url, defaultRateLimit)
}

// storeErr tags an underlying I/O failure so callers can match it with
// errors.Is(err, ErrUnavailable) while keeping the operation and cause.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
