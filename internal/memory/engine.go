// Package memory defines the contract with the external memory engine. The
// gateway authenticates and namespaces requests; everything behind this
// interface (retrieval, embeddings, extraction, caching) belongs to the
// engine service.
package memory

import (
	"context"

	"github.com/plyraAI/plyra-memory-server/internal/namespace"
)

// RememberParams is the write contract: content plus scoring hints.
type RememberParams struct {
	Content    string
	Importance float64
	Source     string
	Metadata   map[string]interface{}
}

// RememberResult reports what the engine stored.
type RememberResult struct {
	WorkingEntryID string
	EpisodeID      string
}

// RecallParams is the search contract.
type RecallParams struct {
	Query  string
	TopK   int
	Layers []string
}

// RecallResult carries scored matches from the engine.
type RecallResult struct {
	Results    []map[string]interface{}
	TotalFound int
	CacheHit   bool
}

// ContextParams asks for prompt-ready context within a token budget.
type ContextParams struct {
	Query       string
	TokenBudget int
}

// ContextResult is the assembled context block.
type ContextResult struct {
	Content      string
	TokenCount   int
	MemoriesUsed int
	CacheHit     bool
}

// Stats holds per-layer memory counts for a namespace.
type Stats struct {
	Working   int
	Episodic  int
	Semantic  int
	CacheSize int
}

// Engine is the memory engine as seen from the gateway. Every call is scoped
// to a derived namespace; the engine never sees raw tenant identifiers.
type Engine interface {
	Remember(ctx context.Context, ns namespace.Namespace, p RememberParams) (*RememberResult, error)
	Recall(ctx context.Context, ns namespace.Namespace, p RecallParams) (*RecallResult, error)
	ContextFor(ctx context.Context, ns namespace.Namespace, p ContextParams) (*ContextResult, error)
	Stats(ctx context.Context, ns namespace.Namespace) (*Stats, error)
	// Clear drops the given layer ("working" when empty) for the namespace.
	Clear(ctx context.Context, ns namespace.Namespace, layer string) error
}
