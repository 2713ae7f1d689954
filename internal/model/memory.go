package model

// Request and response shapes for the tenant-scoped memory routes. The
// user_id/agent_id fields are consumed by namespace derivation only; the
// rest of each payload is forwarded opaquely to the memory engine.

// RememberRequest writes a piece of content into the tenant's memory.
type RememberRequest struct {
	Content    string                 `json:"content"`
	UserID     string                 `json:"user_id,omitempty"`
	AgentID    string                 `json:"agent_id,omitempty"`
	Importance float64                `json:"importance,omitempty"`
	Source     string                 `json:"source,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// RememberResponse reports what the engine stored.
type RememberResponse struct {
	WorkingEntryID string  `json:"working_entry_id,omitempty"`
	EpisodeID      string  `json:"episode_id,omitempty"`
	FactsQueued    bool    `json:"facts_queued"`
	LatencyMs      float64 `json:"latency_ms"`
}

// RecallRequest searches the tenant's memory.
type RecallRequest struct {
	Query   string   `json:"query"`
	UserID  string   `json:"user_id,omitempty"`
	AgentID string   `json:"agent_id,omitempty"`
	TopK    int      `json:"top_k,omitempty"`
	Layers  []string `json:"layers,omitempty"` // working, episodic, semantic
}

// RecallResponse carries the engine's search results.
type RecallResponse struct {
	Query      string                   `json:"query"`
	Results    []map[string]interface{} `json:"results"`
	TotalFound int                      `json:"total_found"`
	CacheHit   bool                     `json:"cache_hit"`
	LatencyMs  float64                  `json:"latency_ms"`
}

// ContextRequest asks for prompt-ready context within a token budget.
type ContextRequest struct {
	Query       string `json:"query"`
	UserID      string `json:"user_id,omitempty"`
	AgentID     string `json:"agent_id,omitempty"`
	TokenBudget int    `json:"token_budget,omitempty"`
}

// ContextResponse is the assembled context block.
type ContextResponse struct {
	Query        string  `json:"query"`
	Content      string  `json:"content"`
	TokenCount   int     `json:"token_count"`
	TokenBudget  int     `json:"token_budget"`
	MemoriesUsed int     `json:"memories_used"`
	CacheHit     bool    `json:"cache_hit"`
	LatencyMs    float64 `json:"latency_ms"`
}

// StatsResponse reports memory counts for the authenticated workspace.
type StatsResponse struct {
	WorkspaceID   string  `json:"workspace_id"`
	Working       int     `json:"working"`
	Episodic      int     `json:"episodic"`
	Semantic      int     `json:"semantic"`
	CacheSize     int     `json:"cache_size"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// DeleteMemoryRequest clears a scoped slice of the tenant's memory.
type DeleteMemoryRequest struct {
	UserID  string `json:"user_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
	Layer   string `json:"layer,omitempty"` // working | episodic | semantic | "" = working
}

// DeleteMemoryResponse reports the outcome of a scoped clear.
type DeleteMemoryResponse struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message"`
}
