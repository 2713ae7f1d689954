package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plyraAI/plyra-memory-server/internal/namespace"
)

// Remote talks JSON-over-HTTP to a memory engine service. The namespace id
// travels as agent_id and the stable session id as session_id, which is how
// the engine keys its episodic layer.
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote creates a Remote engine client for the given base URL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Remote) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode engine request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("call memory engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("memory engine %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode engine response: %w", err)
	}
	return nil
}

// scope carries the namespace fields every engine call includes.
type scope struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
}

func scopeOf(ns namespace.Namespace) scope {
	return scope{AgentID: ns.ID, SessionID: ns.SessionID}
}

// Remember writes content into the namespace's memory.
func (r *Remote) Remember(ctx context.Context, ns namespace.Namespace, p RememberParams) (*RememberResult, error) {
	req := struct {
		scope
		Content    string                 `json:"content"`
		Importance float64                `json:"importance"`
		Source     string                 `json:"source,omitempty"`
		Metadata   map[string]interface{} `json:"metadata,omitempty"`
	}{scopeOf(ns), p.Content, p.Importance, p.Source, p.Metadata}

	var resp struct {
		WorkingEntryID string `json:"working_entry_id"`
		EpisodeID      string `json:"episode_id"`
	}
	if err := r.post(ctx, "/remember", req, &resp); err != nil {
		return nil, err
	}
	return &RememberResult{WorkingEntryID: resp.WorkingEntryID, EpisodeID: resp.EpisodeID}, nil
}

// Recall searches the namespace's memory.
func (r *Remote) Recall(ctx context.Context, ns namespace.Namespace, p RecallParams) (*RecallResult, error) {
	req := struct {
		scope
		Query  string   `json:"query"`
		TopK   int      `json:"top_k"`
		Layers []string `json:"layers,omitempty"`
	}{scopeOf(ns), p.Query, p.TopK, p.Layers}

	var resp struct {
		Results    []map[string]interface{} `json:"results"`
		TotalFound int                      `json:"total_found"`
		CacheHit   bool                     `json:"cache_hit"`
	}
	if err := r.post(ctx, "/recall", req, &resp); err != nil {
		return nil, err
	}
	return &RecallResult{Results: resp.Results, TotalFound: resp.TotalFound, CacheHit: resp.CacheHit}, nil
}

// ContextFor assembles prompt-ready context for a query.
func (r *Remote) ContextFor(ctx context.Context, ns namespace.Namespace, p ContextParams) (*ContextResult, error) {
	req := struct {
		scope
		Query       string `json:"query"`
		TokenBudget int    `json:"token_budget"`
	}{scopeOf(ns), p.Query, p.TokenBudget}

	var resp struct {
		Content      string `json:"content"`
		TokenCount   int    `json:"token_count"`
		MemoriesUsed int    `json:"memories_used"`
		CacheHit     bool   `json:"cache_hit"`
	}
	if err := r.post(ctx, "/context", req, &resp); err != nil {
		return nil, err
	}
	return &ContextResult{
		Content:      resp.Content,
		TokenCount:   resp.TokenCount,
		MemoriesUsed: resp.MemoriesUsed,
		CacheHit:     resp.CacheHit,
	}, nil
}

// Stats returns per-layer counts for the namespace.
func (r *Remote) Stats(ctx context.Context, ns namespace.Namespace) (*Stats, error) {
	var resp struct {
		Working   int `json:"working"`
		Episodic  int `json:"episodic"`
		Semantic  int `json:"semantic"`
		CacheSize int `json:"cache_size"`
	}
	if err := r.post(ctx, "/stats", scopeOf(ns), &resp); err != nil {
		return nil, err
	}
	return &Stats{
		Working:   resp.Working,
		Episodic:  resp.Episodic,
		Semantic:  resp.Semantic,
		CacheSize: resp.CacheSize,
	}, nil
}

// Clear drops a memory layer for the namespace.
func (r *Remote) Clear(ctx context.Context, ns namespace.Namespace, layer string) error {
	req := struct {
		scope
		Layer string `json:"layer,omitempty"`
	}{scopeOf(ns), layer}
	return r.post(ctx, "/clear", req, nil)
}
