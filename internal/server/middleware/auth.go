package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/plyraAI/plyra-memory-server/internal/keys"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
	"github.com/plyraAI/plyra-memory-server/internal/model"
)

type contextKeyAuth string

// AuthContextKey is the context key for the validated tenant identity.
const AuthContextKey contextKeyAuth = "auth_context"

// The three tenant-auth rejection kinds are distinct for diagnostics but map
// to one uniform 401 body, so the response never reveals which step failed.
var (
	errMissingCredential   = errors.New("missing credential")
	errMalformedCredential = errors.New("malformed credential")
	errInvalidCredential   = errors.New("invalid credential")
)

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// Authenticate returns an HTTP middleware that validates the request's API
// key against the key store:
//
//  1. Extract the bearer token from the Authorization header.
//  2. Cheap format check: plyra keys start with "plm_".
//  3. Hash the token and look the hash up in the store.
//
// On success an AuthContext is attached to the request context. On failure a
// uniform 401 JSON response is returned. Store failures surface as 503;
// a down store is not an invalid key.
func Authenticate(store keystore.KeyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				rejectAuth(w, r, logger, errMissingCredential)
				return
			}
			if !strings.HasPrefix(token, keys.Prefix) {
				rejectAuth(w, r, logger, errMalformedCredential)
				return
			}

			authCtx, err := store.ValidateKey(r.Context(), keys.Hash(token))
			if err != nil {
				logger.Error("key store validation failed",
					"error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusServiceUnavailable, "Key store unavailable")
				return
			}
			if authCtx == nil {
				rejectAuth(w, r, logger, errInvalidCredential)
				return
			}

			ctx := context.WithValue(r.Context(), AuthContextKey, authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware for the privileged key-management
// endpoints. The bearer token is compared in constant time against the
// single operator-configured admin secret; no hashing, no store lookup, no
// tenant scoping. A valid tenant key never passes this check.
func RequireAdmin(adminKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	secret := []byte(adminKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok || subtle.ConstantTimeCompare([]byte(token), secret) != 1 {
				logger.Debug("admin authorization rejected",
					"request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusUnauthorized, "Invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetAuthContext extracts the validated tenant identity from the context.
// Returns nil on unauthenticated requests.
func GetAuthContext(ctx context.Context) *model.AuthContext {
	if a, ok := ctx.Value(AuthContextKey).(*model.AuthContext); ok {
		return a
	}
	return nil
}

func rejectAuth(w http.ResponseWriter, r *http.Request, logger *slog.Logger, reason error) {
	logger.Debug("authentication rejected",
		"reason", reason.Error(),
		"path", r.URL.Path,
		"request_id", GetRequestID(r.Context()),
	)
	writeAuthError(w, http.StatusUnauthorized, "Invalid or missing API key")
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Manually construct JSON to avoid an import cycle with the handler
	// package.
	w.Write([]byte(`{"error":{"code":` + statusString(status) + `,"message":"` + message + `"}}`))
}

func statusString(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "401"
	case http.StatusServiceUnavailable:
		return "503"
	default:
		return "500"
	}
}
