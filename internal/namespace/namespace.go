// Package namespace derives the compound tenant namespace handed to the
// memory engine. Derivation is pure: no I/O, no randomness, no clock.
package namespace

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Namespace identifies a (workspace, user, agent) triple to the memory
// engine, plus the stable session id the engine's episodic layer keys on.
type Namespace struct {
	// ID is the compound namespace string, e.g. "ws_acme:u_u1:a_support".
	ID string
	// SessionID is a deterministic digest of ID. The same triple always maps
	// to the same session, within and across process restarts, so episodic
	// recall sees memories written by earlier requests instead of starting a
	// fresh session each time.
	SessionID string
}

// Derive builds the namespace for a workspace and optional user/agent ids.
// Component order is fixed: workspace, then user, then agent. Empty optional
// components are omitted entirely.
func Derive(workspaceID, userID, agentID string) Namespace {
	parts := []string{"ws_" + workspaceID}
	if userID != "" {
		parts = append(parts, "u_"+userID)
	}
	if agentID != "" {
		parts = append(parts, "a_"+agentID)
	}
	id := strings.Join(parts, ":")

	// md5 here is a fast stable digest, not a security boundary; the session
	// id needs determinism and low collision probability, nothing more.
	sum := md5.Sum([]byte(id))

	return Namespace{
		ID:        id,
		SessionID: hex.EncodeToString(sum[:]),
	}
}
