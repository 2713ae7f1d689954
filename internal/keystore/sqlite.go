package keystore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/plyraAI/plyra-memory-server/internal/model"
)

// SQLiteStore is the embedded single-node key store. It is the default for
// self-hosted deployments; the whole process shares one handle and SQLite
// serializes the writes.
type SQLiteStore struct {
	db               *sqlx.DB
	closed           atomic.Bool
	defaultRateLimit int
}

// NewSQLiteStore opens (or creates) the key database at path and establishes
// the schema. Pass an empty path for an in-memory store. Opening an
// already-initialized database is safe; migration is idempotent.
func NewSQLiteStore(path string, defaultRateLimit int) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create key store dir: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open key database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	s := &SQLiteStore{db: db, defaultRateLimit: defaultRateLimit}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate key database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			workspace_id TEXT NOT NULL,
			label TEXT,
			env TEXT NOT NULL DEFAULT 'live',
			rate_limit_rpm INTEGER NOT NULL DEFAULT 600,
			created_at DATETIME NOT NULL,
			last_used_at DATETIME,
			is_active INTEGER NOT NULL DEFAULT 1
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

// Close releases the database handle. Subsequent operations return
// ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// keyRow maps 1:1 to the api_keys table columns.
type keyRow struct {
	ID           string         `db:"id"`
	KeyHash      string         `db:"key_hash"`
	KeyPrefix    string         `db:"key_prefix"`
	WorkspaceID  string         `db:"workspace_id"`
	Label        sql.NullString `db:"label"`
	Env          string         `db:"env"`
	RateLimitRPM int            `db:"rate_limit_rpm"`
	CreatedAt    time.Time      `db:"created_at"`
	LastUsedAt   *time.Time     `db:"last_used_at"`
	IsActive     bool           `db:"is_active"`
}

func (r keyRow) toInfo() model.APIKeyInfo {
	return model.APIKeyInfo{
		KeyID:        r.ID,
		WorkspaceID:  r.WorkspaceID,
		KeyPrefix:    r.KeyPrefix,
		Label:        r.Label.String,
		Env:          r.Env,
		RateLimitRPM: r.RateLimitRPM,
		CreatedAt:    r.CreatedAt,
		LastUsedAt:   r.LastUsedAt,
		IsActive:     r.IsActive,
	}
}

// CreateKey inserts a new key record. The hash must already be computed; the
// plaintext never reaches this package.
func (s *SQLiteStore) CreateKey(ctx context.Context, p CreateKeyParams) (*model.APIKeyInfo, error) {
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
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, ErrDuplicateHash
		}
		return nil, storeErr("insert api key", err)
	}

	info := row.toInfo()
	return &info, nil
}

// ValidateKey resolves an active key hash to an AuthContext and advances
// last_used_at. A miss, whether absent or revoked, returns (nil, nil).
func (s *SQLiteStore) ValidateKey(ctx context.Context, keyHash string) (*model.AuthContext, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var row keyRow
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM api_keys WHERE key_hash = ? AND is_active = 1", keyHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr("lookup api key", err)
	}

	// Concurrent validations race on this update; last write wins and that
	// is fine; the field is informational, not an authorization input.
	if _, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now().UTC(), row.ID); err != nil {
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
func (s *SQLiteStore) ListKeys(ctx context.Context, workspaceID string) ([]model.APIKeyInfo, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var rows []keyRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM api_keys WHERE workspace_id = ? ORDER BY created_at DESC", workspaceID)
	if err != nil {
		return nil, storeErr("list api keys", err)
	}

	infos := make([]model.APIKeyInfo, len(rows))
	for i, r := range rows {
		infos[i] = r.toInfo()
	}
	return infos, nil
}

// RevokeKey marks a key inactive. Reports whether the id exists; already
// revoked keys still report true.
func (s *SQLiteStore) RevokeKey(ctx context.Context, keyID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}

	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0 WHERE id = ?", keyID)
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
func (s *SQLiteStore) GetKeyInfo(ctx context.Context, keyID string) (*model.APIKeyInfo, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var row keyRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE id = ?", keyID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, storeErr("get api key", err)
	}

	info := row.toInfo()
	return &info, nil
}
