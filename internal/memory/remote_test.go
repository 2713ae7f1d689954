package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plyraAI/plyra-memory-server/internal/namespace"
)

func TestRemoteRememberForwardsScope(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/remember" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"working_entry_id": "w1",
			"episode_id":       "e1",
		})
	}))
	defer srv.Close()

	ns := namespace.Derive("acme", "u1", "agent1")
	engine := NewRemote(srv.URL)

	res, err := engine.Remember(context.Background(), ns, RememberParams{
		Content:    "hello",
		Importance: 0.7,
	})
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if res.WorkingEntryID != "w1" || res.EpisodeID != "e1" {
		t.Errorf("result: %+v", res)
	}
	if got["agent_id"] != ns.ID {
		t.Errorf("agent_id: got %v, want %q", got["agent_id"], ns.ID)
	}
	if got["session_id"] != ns.SessionID {
		t.Errorf("session_id: got %v, want %q", got["session_id"], ns.SessionID)
	}
	if got["content"] != "hello" {
		t.Errorf("content: got %v", got["content"])
	}
}

func TestRemoteRecall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results":     []map[string]interface{}{{"content": "a"}, {"content": "b"}},
			"total_found": 2,
			"cache_hit":   true,
		})
	}))
	defer srv.Close()

	engine := NewRemote(srv.URL)
	res, err := engine.Recall(context.Background(), namespace.Derive("acme", "", ""), RecallParams{
		Query: "q", TopK: 10,
	})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if res.TotalFound != 2 || !res.CacheHit || len(res.Results) != 2 {
		t.Errorf("result: %+v", res)
	}
}

func TestRemoteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	engine := NewRemote(srv.URL)
	_, err := engine.Stats(context.Background(), namespace.Derive("acme", "", ""))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}
