package model

import "time"

// APIKeyInfo is the public view of a stored API key. The raw key is never
// stored; only a SHA-256 hash and a short prefix for identification are
// persisted, and the hash never leaves the keystore package.
type APIKeyInfo struct {
	KeyID        string     `json:"key_id" db:"id"`
	WorkspaceID  string     `json:"workspace_id" db:"workspace_id"`
	KeyPrefix    string     `json:"key_prefix" db:"key_prefix"` // First 16 chars + "..."
	Label        string     `json:"label,omitempty" db:"label"`
	Env          string     `json:"env" db:"env"`
	RateLimitRPM int        `json:"rate_limit_rpm" db:"rate_limit_rpm"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	IsActive     bool       `json:"is_active" db:"is_active"`
}

// AuthContext is the request-scoped identity derived from a validated API
// key. It never contains the plaintext key or its hash.
type AuthContext struct {
	WorkspaceID string `json:"workspace_id"`
	KeyID       string `json:"key_id"`
	Env         string `json:"env"`
	KeyPrefix   string `json:"api_key_prefix"`
}

// CreateKeyRequest is the admin payload for minting a new key.
type CreateKeyRequest struct {
	WorkspaceID  string `json:"workspace_id"`
	Label        string `json:"label,omitempty"`
	Env          string `json:"env,omitempty"`            // "live" or "test"
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // override default quota
}

// CreateKeyResponse includes the plaintext key, shown exactly once.
type CreateKeyResponse struct {
	Key         string    `json:"key"` // plm_live_... plaintext, shown ONCE
	KeyID       string    `json:"key_id"`
	WorkspaceID string    `json:"workspace_id"`
	KeyPrefix   string    `json:"key_prefix"`
	Label       string    `json:"label,omitempty"`
	Env         string    `json:"env"`
	CreatedAt   time.Time `json:"created_at"`
	IsActive    bool      `json:"is_active"`
}

// RevokeKeyResponse reports the outcome of a key revocation.
type RevokeKeyResponse struct {
	Revoked bool   `json:"revoked"`
	KeyID   string `json:"key_id"`
}
