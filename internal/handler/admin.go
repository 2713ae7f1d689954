package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plyraAI/plyra-memory-server/internal/keys"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
	"github.com/plyraAI/plyra-memory-server/internal/model"
)

// AdminHandler manages the API key lifecycle: create, list, revoke. All of
// its routes sit behind the admin gateway.
type AdminHandler struct {
	store            keystore.KeyStore
	defaultRateLimit int
}

// NewAdminHandler creates an AdminHandler backed by the given store.
func NewAdminHandler(store keystore.KeyStore, defaultRateLimit int) *AdminHandler {
	return &AdminHandler{store: store, defaultRateLimit: defaultRateLimit}
}

// CreateKey mints a new API key for a workspace and returns the plaintext
// exactly once. Any workspace_id string is accepted as a new or existing
// tenant; there is no tenant registry to validate against.
// POST /admin/keys
func (h *AdminHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.WorkspaceID == "" {
		writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	env := keys.CoerceEnv(req.Env)
	plaintext, keyHash, err := keys.Generate(env)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key: "+err.Error())
		return
	}

	rateLimit := req.RateLimitRPM
	if rateLimit == 0 {
		rateLimit = h.defaultRateLimit
	}

	info, err := h.store.CreateKey(r.Context(), keystore.CreateKeyParams{
		KeyHash:      keyHash,
		KeyPrefix:    keys.DisplayPrefix(plaintext),
		WorkspaceID:  req.WorkspaceID,
		Label:        req.Label,
		Env:          env,
		RateLimitRPM: rateLimit,
	})
	if err != nil {
		if errors.Is(err, keystore.ErrDuplicateHash) {
			writeError(w, http.StatusConflict, "Key hash collision, retry the request")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "Failed to save API key: "+err.Error())
		return
	}

	// The only time the plaintext is ever returned.
	writeJSON(w, http.StatusCreated, model.CreateKeyResponse{
		Key:         plaintext,
		KeyID:       info.KeyID,
		WorkspaceID: info.WorkspaceID,
		KeyPrefix:   info.KeyPrefix,
		Label:       info.Label,
		Env:         info.Env,
		CreatedAt:   info.CreatedAt,
		IsActive:    true,
	})
}

// ListKeys returns every key for a workspace, active and revoked, newest
// first. Hashes and plaintext never appear here.
// GET /admin/keys/{workspaceID}
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")

	infos, err := h.store.ListKeys(r.Context(), workspaceID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to list API keys: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: infos,
		Meta:     &model.ResponseMeta{Count: len(infos)},
	})
}

// RevokeKey deactivates a key by id. Revoking an already-revoked key
// succeeds; an id that never existed is a 404.
// DELETE /admin/keys/{keyID}
func (h *AdminHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")

	existed, err := h.store.RevokeKey(r.Context(), keyID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Failed to revoke API key: "+err.Error())
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, "API key not found: "+keyID)
		return
	}

	writeJSON(w, http.StatusOK, model.RevokeKeyResponse{Revoked: true, KeyID: keyID})
}
