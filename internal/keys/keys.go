// Package keys generates and hashes plyra API keys.
//
// Key format:
//
//	plm_live_<48 random hex chars>    production
//	plm_test_<48 random hex chars>    test/dev
//
// Only the SHA-256 hash of a key is ever persisted; the plaintext exists in
// the Generate return value and the one-time create response, nowhere else.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Prefix is the fixed leading literal every plyra key starts with. The auth
// middleware rejects bearer tokens without it before doing any hashing or
// storage work.
const Prefix = "plm_"

// randomBytes is the number of random bytes per key; hex-encodes to 48 chars.
const randomBytes = 24

// Generate creates a new API key for the given environment and returns the
// plaintext alongside its hex SHA-256 hash. Environments other than "live"
// and "test" are coerced to "live", so the credential itself can never carry
// an invalid env tag.
func Generate(env string) (plaintext, hash string, err error) {
	if env != "live" && env != "test" {
		env = "live"
	}

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate random key: %w", err)
	}

	plaintext = Prefix + env + "_" + hex.EncodeToString(buf)
	return plaintext, Hash(plaintext), nil
}

// Hash returns the hex-encoded SHA-256 digest of a plaintext key. Validation
// uses the same digest as generation, so a stored hash always matches the
// hash recomputed from the presented key.
func Hash(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

// DisplayPrefix returns the first 16 characters of the key plus an ellipsis.
// Enough for a human to identify a key in a list, never enough to use it,
// and never a lookup column.
func DisplayPrefix(plaintext string) string {
	if len(plaintext) <= 16 {
		return plaintext + "..."
	}
	return plaintext[:16] + "..."
}

// CoerceEnv normalizes an environment tag the same way Generate does, so the
// stored record and the credential never disagree about the env.
func CoerceEnv(env string) string {
	if env != "live" && env != "test" {
		return "live"
	}
	return env
}
