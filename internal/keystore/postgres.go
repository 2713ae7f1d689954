package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/plyraAI/plyra-memory-server/internal/model"
)

// PostgresStore is the networked key store for multi-node deployments, where
// several gateway processes share one key database. Same contract as the
// embedded store; Postgres provides the write serialization.
type PostgresStore struct {
	db               *sqlx.DB
	closed           atomic.Bool
	defaultRateLimit int
}

// NewPostgresStore connects to the given postgres:// URL and establishes the
// schema if absent.
func NewPostgresStore(url string, defaultRateLimit int) (*PostgresStore, error) {
	db, err := sqlx.Connect("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open key database: %w", err)
	}

	s := &PostgresStore{db: db, defaultRateLimit: defaultRateLimit}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key database: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			label TEXT,
			env TEXT NOT NULL DEFAULT 'live',
			rate_limit_rpm INTEGER NOT NULL DEFAULT 600,
			created_at TIMESTAMPTZ NOT NULL,
			last_used_at TIMESTAMPTZ,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_keys_hash ON api_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_keys_workspace ON api_keys(workspace_id)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Close releases the connection pool. Subsequent operations return
// ErrStoreClosed.
func (s *PostgresStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CreateKey inserts a new key record.
func (s *PostgresStore) CreateKey(ctx context.Context, p CreateKeyParams) (*model.APIKeyInfo, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	if p.RateLimitRPM == 0 {
		p.RateLimitRPM = s.defaultRateLimit
	}

	row := keyRow{
		ID:           uuid.Must(uuid.NewV7()).String(),
		KeyHash:      p.KeyHash,
		KeyPrefix:    p.KeyPrefix,
		WorkspaceID:  p.WorkspaceID,
		Label:        sql.NullString{String: p.Label, Valid: p.Label != ""},
		Env:          p.Env,
		RateLimitRPM: p.RateLimitRPM,
		CreatedAt:    time.Now().UTC(),
		IsActive:     true,
	}

	const q = `INSERT INTO api_keys
		(id, key_hash, key_prefix, workspace_id, label, env, rate_limit_rpm, created_at, is_active)
		VALUES
		(:id, :key_hash, :key_prefix, :workspace_id, :label, :env, :rate_limit_rpm, :created_at, :is_active)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateHash
		}
		return nil, storeErr("insert api key", err)
	}

	info := row.toInfo()
	return &info, nil
}

// ValidateKey resolves an active key hash to an AuthContext and advances
// last_used_at. A miss returns (nil, nil).
func (s *PostgresStore) ValidateKey(ctx context.Context, keyHash string) (*model.AuthContext, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var row keyRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM api_keys WHERE key_hash = $1 AND is_active", keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr("lookup api key", err)
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = $1 WHERE id = $2", time.Now().UTC(), row.ID); err != nil {
		return nil, storeErr("update last_used_at", err)
	}

	return &model.AuthContext{
		WorkspaceID: row.WorkspaceID,
		KeyID:       row.ID,
		Env:         row.Env,
		KeyPrefix:   row.KeyPrefix,
	}, nil
}

// ListKeys returns all keys for a workspace, newest first.
func (s *PostgresStore) ListKeys(ctx context.Context, workspaceID string) ([]model.APIKeyInfo, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM api_keys WHERE workspace_id = $1 ORDER BY created_at DESC", workspaceID)
	if err != nil {
		return nil, storeErr("list api keys", err)
	}

	infos := make([]model.APIKeyInfo, len(rows))
	for i, r := range rows {
		infos[i] = r.toInfo()
	}
	return infos, nil
}

// RevokeKey marks a key inactive, reporting whether the id exists.
func (s *PostgresStore) RevokeKey(ctx context.Context, keyID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = FALSE WHERE id = $1", keyID)
	if err != nil {
		return false, storeErr("revoke api key", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("revoke api key rows affected", err)
	}
	return n > 0, nil
}

// GetKeyInfo returns the record for an id, or (nil, nil) if absent.
func (s *PostgresStore) GetKeyInfo(ctx context.Context, keyID string) (*model.APIKeyInfo, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var row keyRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE id = $1", keyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr("get api key", err)
	}

	info := row.toInfo()
	return &info, nil
}
