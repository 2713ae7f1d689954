package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/plyraAI/plyra-memory-server/internal/config"
	"github.com/plyraAI/plyra-memory-server/internal/keystore"
	"github.com/plyraAI/plyra-memory-server/internal/memory"
	"github.com/plyraAI/plyra-memory-server/internal/namespace"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const testAdminKey = "plm_admin_integration_test_secret"

// fakeEngine is an in-process memory.Engine that records the namespace of the
// last call and returns canned results. Setting err makes every call fail.
type fakeEngine struct {
	lastNS    namespace.Namespace
	lastLayer string
	err       error
}

func (f *fakeEngine) Remember(ctx context.Context, ns namespace.Namespace, p memory.RememberParams) (*memory.RememberResult, error) {
	f.lastNS = ns
	if f.err != nil {
		return nil, f.err
	}
	return &memory.RememberResult{WorkingEntryID: "w-1", EpisodeID: "e-1"}, nil
}

func (f *fakeEngine) Recall(ctx context.Context, ns namespace.Namespace, p memory.RecallParams) (*memory.RecallResult, error) {
	f.lastNS = ns
	if f.err != nil {
		return nil, f.err
	}
	return &memory.RecallResult{
		Results:    []map[string]interface{}{{"content": "remembered thing", "score": 0.91}},
		TotalFound: 1,
	}, nil
}

func (f *fakeEngine) ContextFor(ctx context.Context, ns namespace.Namespace, p memory.ContextParams) (*memory.ContextResult, error) {
	f.lastNS = ns
	if f.err != nil {
		return nil, f.err
	}
	return &memory.ContextResult{Content: "## Context\nremembered thing", TokenCount: 7, MemoriesUsed: 1}, nil
}

func (f *fakeEngine) Stats(ctx context.Context, ns namespace.Namespace) (*memory.Stats, error) {
	f.lastNS = ns
	if f.err != nil {
		return nil, f.err
	}
	return &memory.Stats{Working: 3, Episodic: 2, Semantic: 5}, nil
}

func (f *fakeEngine) Clear(ctx context.Context, ns namespace.Namespace, layer string) error {
	f.lastNS = ns
	f.lastLayer = layer
	return f.err
}

// testEnv holds the shared state for integration tests.
type testEnv struct {
	server *Server
	store  keystore.KeyStore
	engine *fakeEngine
}

// newTestEnv creates a fresh environment with an in-memory key store, a fake
// engine, and a fully wired Server.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := keystore.NewSQLiteStore("", 600) // in-memory SQLite
	if err != nil {
		t.Fatalf("keystore.NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := &fakeEngine{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.AdminAPIKey = testAdminKey
	srv := New(cfg, store, engine, logger)

	return &testEnv{server: srv, store: store, engine: engine}
}

// do executes an HTTP request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doBearer executes a request authenticated with a tenant API key.
func (e *testEnv) doBearer(t *testing.T, method, path string, body io.Reader, key string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + key,
	})
}

// doAdmin executes a request authenticated with the operator admin secret.
func (e *testEnv) doAdmin(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + testAdminKey,
	})
}

// createKey mints a key for a workspace through the admin endpoint and
// returns the plaintext key and its id.
func (e *testEnv) createKey(t *testing.T, workspaceID string) (plaintext, keyID string) {
	t.Helper()
	body := jsonBody(t, map[string]interface{}{
		"workspace_id": workspaceID,
		"label":        "integration-test",
	})
	rr := e.doAdmin(t, "POST", "/admin/keys/", body)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		Key   string `json:"key"`
		KeyID string `json:"key_id"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Key == "" || resp.KeyID == "" {
		t.Fatalf("createKey: empty key or key_id in response %s", rr.Body.String())
	}
	return resp.Key, resp.KeyID
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Service route tests
// ---------------------------------------------------------------------------

func TestRoot(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["service"] != "plyra-memory-server" {
		t.Errorf("service = %v, want plyra-memory-server", resp["service"])
	}
	if resp["version"] != Version {
		t.Errorf("version = %v, want %s", resp["version"], Version)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/health", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	uptime, ok := resp["uptime_seconds"].(float64)
	if !ok || uptime < 0 {
		t.Errorf("uptime_seconds = %v, want >= 0", resp["uptime_seconds"])
	}
}

// ---------------------------------------------------------------------------
// Admin key management tests
// ---------------------------------------------------------------------------

func TestAdminCreateKey(t *testing.T) {
	env := newTestEnv(t)

	body := jsonBody(t, map[string]interface{}{
		"workspace_id": "acme",
		"label":        "CI pipeline",
		"env":          "live",
	})
	rr := env.doAdmin(t, "POST", "/admin/keys/", body)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		Key         string `json:"key"`
		KeyID       string `json:"key_id"`
		WorkspaceID string `json:"workspace_id"`
		KeyPrefix   string `json:"key_prefix"`
		Label       string `json:"label"`
		Env         string `json:"env"`
		IsActive    bool   `json:"is_active"`
	}
	decodeJSON(t, rr, &resp)

	if !strings.HasPrefix(resp.Key, "plm_live_") {
		t.Errorf("key = %q, want plm_live_ prefix", resp.Key)
	}
	if len(resp.Key) != len("plm_live_")+48 {
		t.Errorf("key length = %d, want %d", len(resp.Key), len("plm_live_")+48)
	}
	if resp.WorkspaceID != "acme" {
		t.Errorf("workspace_id = %q, want acme", resp.WorkspaceID)
	}
	if resp.Label != "CI pipeline" {
		t.Errorf("label = %q, want CI pipeline", resp.Label)
	}
	if !resp.IsActive {
		t.Error("expected is_active = true")
	}
	if !strings.HasPrefix(resp.Key, strings.TrimSuffix(resp.KeyPrefix, "...")) {
		t.Errorf("key_prefix %q does not match key %q", resp.KeyPrefix, resp.Key)
	}
}

func TestAdminCreateKey_EnvCoercion(t *testing.T) {
	env := newTestEnv(t)

	// Anything other than "test" is coerced to "live".
	body := jsonBody(t, map[string]interface{}{
		"workspace_id": "acme",
		"env":          "production",
	})
	rr := env.doAdmin(t, "POST", "/admin/keys/", body)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		Key string `json:"key"`
		Env string `json:"env"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Env != "live" {
		t.Errorf("env = %q, want live", resp.Env)
	}
	if !strings.HasPrefix(resp.Key, "plm_live_") {
		t.Errorf("key = %q, want plm_live_ prefix", resp.Key)
	}
}

func TestAdminCreateKey_Validation(t *testing.T) {
	env := newTestEnv(t)

	// Missing workspace_id.
	rr := env.doAdmin(t, "POST", "/admin/keys/", jsonBody(t, map[string]interface{}{"label": "no workspace"}))
	assertStatus(t, rr, http.StatusBadRequest)

	// Malformed body.
	rr = env.doAdmin(t, "POST", "/admin/keys/", bytes.NewBufferString("{invalid json"))
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestAdminListKeys(t *testing.T) {
	env := newTestEnv(t)
	env.createKey(t, "acme")
	env.createKey(t, "acme")
	env.createKey(t, "other")

	rr := env.doAdmin(t, "GET", "/admin/keys/acme", nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Resource []map[string]interface{} `json:"resource"`
		Meta     struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	decodeJSON(t, rr, &resp)

	if len(resp.Resource) != 2 {
		t.Fatalf("list count = %d, want 2", len(resp.Resource))
	}
	if resp.Meta.Count != 2 {
		t.Errorf("meta.count = %d, want 2", resp.Meta.Count)
	}
	for i, rec := range resp.Resource {
		if rec["workspace_id"] != "acme" {
			t.Errorf("list[%d].workspace_id = %v, want acme", i, rec["workspace_id"])
		}
		// Neither plaintext nor hash ever appear in listings.
		if _, ok := rec["key"]; ok {
			t.Errorf("list[%d] leaked the plaintext key", i)
		}
		if _, ok := rec["key_hash"]; ok {
			t.Errorf("list[%d] leaked the key hash", i)
		}
	}
}

func TestAdminRevokeKey(t *testing.T) {
	env := newTestEnv(t)
	_, keyID := env.createKey(t, "acme")

	rr := env.doAdmin(t, "DELETE", "/admin/keys/"+keyID, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Revoked bool   `json:"revoked"`
		KeyID   string `json:"key_id"`
	}
	decodeJSON(t, rr, &resp)
	if !resp.Revoked {
		t.Error("expected revoked = true")
	}
	if resp.KeyID != keyID {
		t.Errorf("key_id = %q, want %q", resp.KeyID, keyID)
	}

	// Revoking again is idempotent.
	rr = env.doAdmin(t, "DELETE", "/admin/keys/"+keyID, nil)
	assertStatus(t, rr, http.StatusOK)
}

func TestAdminRevokeKey_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAdmin(t, "DELETE", "/admin/keys/no-such-id", nil)
	assertStatus(t, rr, http.StatusNotFound)
}

func TestAdminEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/admin/keys/"},
		{"GET", "/admin/keys/acme"},
		{"DELETE", "/admin/keys/some-id"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			var body io.Reader
			if ep.method == "POST" {
				body = jsonBody(t, map[string]string{"workspace_id": "acme"})
			}
			rr := env.do(t, ep.method, ep.path, body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestAdminEndpoints_WrongSecret(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doBearer(t, "GET", "/admin/keys/acme", nil, "plm_admin_not_the_secret")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminEndpoints_TenantKeyRejected(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	// A valid tenant key is not the operator secret.
	rr := env.doBearer(t, "GET", "/admin/keys/acme", nil, key)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// Tenant authentication tests
// ---------------------------------------------------------------------------

func TestMemoryEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/v1/remember"},
		{"POST", "/v1/recall"},
		{"POST", "/v1/context"},
		{"GET", "/v1/stats"},
		{"DELETE", "/v1/memory"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			var body io.Reader
			if ep.method != "GET" {
				body = jsonBody(t, map[string]string{})
			}
			rr := env.do(t, ep.method, ep.path, body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestMemoryEndpoint_FabricatedKey(t *testing.T) {
	env := newTestEnv(t)

	tests := []string{
		"not_a_plyra_key",
		"plm_live_0000000000000000000000000000000000000000000000ff",
		"sk_live_123456",
	}
	for _, key := range tests {
		rr := env.doBearer(t, "GET", "/v1/stats", nil, key)
		assertStatus(t, rr, http.StatusUnauthorized)

		var errResp struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		decodeJSON(t, rr, &errResp)
		if errResp.Error.Message != "Invalid or missing API key" {
			t.Errorf("error message = %q, want uniform rejection message", errResp.Error.Message)
		}
	}
}

func TestMemoryEndpoint_ValidKey(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	body := jsonBody(t, map[string]interface{}{
		"content": "the deploy runs at 3pm",
	})
	rr := env.doBearer(t, "POST", "/v1/remember", body, key)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		WorkingEntryID string `json:"working_entry_id"`
		FactsQueued    bool   `json:"facts_queued"`
	}
	decodeJSON(t, rr, &resp)
	if resp.WorkingEntryID != "w-1" {
		t.Errorf("working_entry_id = %q, want w-1", resp.WorkingEntryID)
	}
	if !resp.FactsQueued {
		t.Error("expected facts_queued = true")
	}

	// The engine saw the workspace-scoped namespace, never the raw tenant id.
	if env.engine.lastNS.ID != "ws_acme" {
		t.Errorf("engine namespace = %q, want ws_acme", env.engine.lastNS.ID)
	}
	if env.engine.lastNS.SessionID == "" {
		t.Error("expected non-empty session id")
	}
}

func TestKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Create a key and use it.
	key, keyID := env.createKey(t, "acme")
	rr := env.doBearer(t, "GET", "/v1/stats", nil, key)
	assertStatus(t, rr, http.StatusOK)

	// Revoke it.
	rr = env.doAdmin(t, "DELETE", "/admin/keys/"+keyID, nil)
	assertStatus(t, rr, http.StatusOK)

	// The same key no longer authenticates, indistinguishable from absent.
	rr = env.doBearer(t, "GET", "/v1/stats", nil, key)
	assertStatus(t, rr, http.StatusUnauthorized)

	// The revoked record is still visible to the admin listing.
	rr = env.doAdmin(t, "GET", "/admin/keys/acme", nil)
	assertStatus(t, rr, http.StatusOK)

	var listResp struct {
		Resource []map[string]interface{} `json:"resource"`
	}
	decodeJSON(t, rr, &listResp)
	if len(listResp.Resource) != 1 {
		t.Fatalf("list count = %d, want 1", len(listResp.Resource))
	}
	if listResp.Resource[0]["is_active"] != false {
		t.Errorf("is_active = %v, want false after revoke", listResp.Resource[0]["is_active"])
	}
}

func TestWorkspaceIsolation(t *testing.T) {
	env := newTestEnv(t)
	alphaKey, _ := env.createKey(t, "alpha")
	betaKey, _ := env.createKey(t, "beta")

	body := jsonBody(t, map[string]interface{}{"content": "alpha secret"})
	rr := env.doBearer(t, "POST", "/v1/remember", body, alphaKey)
	assertStatus(t, rr, http.StatusOK)
	alphaNS := env.engine.lastNS.ID

	body = jsonBody(t, map[string]interface{}{"query": "secret"})
	rr = env.doBearer(t, "POST", "/v1/recall", body, betaKey)
	assertStatus(t, rr, http.StatusOK)
	betaNS := env.engine.lastNS.ID

	if alphaNS == betaNS {
		t.Fatalf("workspaces share namespace %q", alphaNS)
	}
	if alphaNS != "ws_alpha" || betaNS != "ws_beta" {
		t.Errorf("namespaces = %q, %q; want ws_alpha, ws_beta", alphaNS, betaNS)
	}
}

// ---------------------------------------------------------------------------
// Namespace derivation through the HTTP surface
// ---------------------------------------------------------------------------

func TestNamespace_UserAndAgentScoping(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	body := jsonBody(t, map[string]interface{}{
		"content":  "user fact",
		"user_id":  "alice",
		"agent_id": "support-bot",
	})
	rr := env.doBearer(t, "POST", "/v1/remember", body, key)
	assertStatus(t, rr, http.StatusOK)

	if env.engine.lastNS.ID != "ws_acme:u_alice:a_support-bot" {
		t.Errorf("namespace = %q, want ws_acme:u_alice:a_support-bot", env.engine.lastNS.ID)
	}
}

func TestStats_QueryParamScoping(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	rr := env.doBearer(t, "GET", "/v1/stats?user_id=alice", nil, key)
	assertStatus(t, rr, http.StatusOK)

	if env.engine.lastNS.ID != "ws_acme:u_alice" {
		t.Errorf("namespace = %q, want ws_acme:u_alice", env.engine.lastNS.ID)
	}

	var resp struct {
		WorkspaceID string `json:"workspace_id"`
		Working     int    `json:"working"`
	}
	decodeJSON(t, rr, &resp)
	if resp.WorkspaceID != "acme" {
		t.Errorf("workspace_id = %q, want acme", resp.WorkspaceID)
	}
	if resp.Working != 3 {
		t.Errorf("working = %d, want 3", resp.Working)
	}
}

// ---------------------------------------------------------------------------
// Memory route validation tests
// ---------------------------------------------------------------------------

func TestRecall_InvalidLayer(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	body := jsonBody(t, map[string]interface{}{
		"query":  "anything",
		"layers": []string{"procedural"},
	})
	rr := env.doBearer(t, "POST", "/v1/recall", body, key)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestRemember_MissingContent(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	rr := env.doBearer(t, "POST", "/v1/remember", jsonBody(t, map[string]string{}), key)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestDeleteMemory_DefaultLayer(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	rr := env.doBearer(t, "DELETE", "/v1/memory", jsonBody(t, map[string]string{}), key)
	assertStatus(t, rr, http.StatusOK)

	if env.engine.lastLayer != "working" {
		t.Errorf("cleared layer = %q, want working", env.engine.lastLayer)
	}
}

func TestEngineFailure_BadGateway(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")
	env.engine.err = errors.New("engine connection refused")

	rr := env.doBearer(t, "GET", "/v1/stats", nil, key)
	assertStatus(t, rr, http.StatusBadGateway)
}

// ---------------------------------------------------------------------------
// Store failure tests
// ---------------------------------------------------------------------------

func TestStoreFailure_ServiceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	key, _ := env.createKey(t, "acme")

	// A dead store is a 503 on both surfaces, never a 401.
	env.store.Close()

	rr := env.doBearer(t, "GET", "/v1/stats", nil, key)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	rr = env.doAdmin(t, "GET", "/admin/keys/acme", nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

// ---------------------------------------------------------------------------
// Error response format
// ---------------------------------------------------------------------------

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/v1/stats", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &errResp)

	if errResp.Error.Code != 401 {
		t.Errorf("error.code = %d, want 401", errResp.Error.Code)
	}
	if errResp.Error.Message == "" {
		t.Error("expected non-empty error.message")
	}
}

// ---------------------------------------------------------------------------
// CORS headers
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/health", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "Authorization,Content-Type",
	})

	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}
