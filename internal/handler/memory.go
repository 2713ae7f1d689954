package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/plyraAI/plyra-memory-server/internal/memory"
	"github.com/plyraAI/plyra-memory-server/internal/model"
	"github.com/plyraAI/plyra-memory-server/internal/namespace"
	"github.com/plyraAI/plyra-memory-server/internal/server/middleware"
)

// validLayers are the memory layers a recall or delete may name.
var validLayers = map[string]bool{
	"working":  true,
	"episodic": true,
	"semantic": true,
}

// MemoryHandler proxies tenant-scoped memory operations to the external
// engine. Every request runs behind the auth gateway; the handler derives
// the namespace from the validated workspace plus request-supplied
// user_id/agent_id and forwards everything else opaquely.
type MemoryHandler struct {
	engine    memory.Engine
	startedAt time.Time
}

// NewMemoryHandler creates a MemoryHandler for the given engine.
func NewMemoryHandler(engine memory.Engine) *MemoryHandler {
	return &MemoryHandler{engine: engine, startedAt: time.Now()}
}

// scope derives the namespace for the authenticated workspace.
func (h *MemoryHandler) scope(r *http.Request, userID, agentID string) namespace.Namespace {
	auth := middleware.GetAuthContext(r.Context())
	return namespace.Derive(auth.WorkspaceID, userID, agentID)
}

// Remember writes content to the tenant's memory.
// POST /v1/remember
func (h *MemoryHandler) Remember(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()

	var req model.RememberRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.Importance == 0 {
		req.Importance = 0.6
	}

	ns := h.scope(r, req.UserID, req.AgentID)
	result, err := h.engine.Remember(r.Context(), ns, memory.RememberParams{
		Content:    req.Content,
		Importance: req.Importance,
		Source:     req.Source,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "Memory engine error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.RememberResponse{
		WorkingEntryID: result.WorkingEntryID,
		EpisodeID:      result.EpisodeID,
		FactsQueued:    true, // extraction runs in the engine's background
		LatencyMs:      sinceMs(t0),
	})
}

// Recall searches the tenant's memory.
// POST /v1/recall
func (h *MemoryHandler) Recall(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()

	var req model.RecallRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	for _, layer := range req.Layers {
		if !validLayers[layer] {
			writeError(w, http.StatusBadRequest, "Invalid layer. Use: working, episodic, semantic")
			return
		}
	}
	if req.TopK == 0 {
		req.TopK = 10
	}

	ns := h.scope(r, req.UserID, req.AgentID)
	result, err := h.engine.Recall(r.Context(), ns, memory.RecallParams{
		Query:  req.Query,
		TopK:   req.TopK,
		Layers: req.Layers,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "Memory engine error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.RecallResponse{
		Query:      req.Query,
		Results:    result.Results,
		TotalFound: result.TotalFound,
		CacheHit:   result.CacheHit,
		LatencyMs:  sinceMs(t0),
	})
}

// Context assembles prompt-ready context for a query.
// POST /v1/context
func (h *MemoryHandler) Context(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()

	var req model.ContextRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TokenBudget == 0 {
		req.TokenBudget = 2048
	}

	ns := h.scope(r, req.UserID, req.AgentID)
	result, err := h.engine.ContextFor(r.Context(), ns, memory.ContextParams{
		Query:       req.Query,
		TokenBudget: req.TokenBudget,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, "Memory engine error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.ContextResponse{
		Query:        req.Query,
		Content:      result.Content,
		TokenCount:   result.TokenCount,
		TokenBudget:  req.TokenBudget,
		MemoriesUsed: result.MemoriesUsed,
		CacheHit:     result.CacheHit,
		LatencyMs:    sinceMs(t0),
	})
}

// Stats reports memory counts for the authenticated workspace.
// GET /v1/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	auth := middleware.GetAuthContext(r.Context())
	q := r.URL.Query()

	ns := h.scope(r, q.Get("user_id"), q.Get("agent_id"))
	stats, err := h.engine.Stats(r.Context(), ns)
	if err != nil {
		writeError(w, http.StatusBadGateway, "Memory engine error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.StatsResponse{
		WorkspaceID:   auth.WorkspaceID,
		Working:       stats.Working,
		Episodic:      stats.Episodic,
		Semantic:      stats.Semantic,
		CacheSize:     stats.CacheSize,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
	})
}

// Delete clears a scoped slice of the tenant's memory, defaulting to the
// working layer.
// DELETE /v1/memory
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req model.DeleteMemoryRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	layer := req.Layer
	if layer == "" {
		layer = "working"
	}
	if !validLayers[layer] {
		writeError(w, http.StatusBadRequest, "Invalid layer. Use: working, episodic, semantic")
		return
	}

	ns := h.scope(r, req.UserID, req.AgentID)
	if err := h.engine.Clear(r.Context(), ns, layer); err != nil {
		writeError(w, http.StatusBadGateway, "Memory engine error: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.DeleteMemoryResponse{
		Deleted: true,
		Message: fmt.Sprintf("Cleared %s memory for namespace %s", layer, ns.ID),
	})
}

func sinceMs(t0 time.Time) float64 {
	return float64(time.Since(t0).Microseconds()) / 1000.0
}
