package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	srv, mock := testServer(t)

	body := `{"spec_id":"s1","spec_text":"Turn on WAL mode for the overlay store"}`
	w := do(t, srv, "POST", "/api/run", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["spec_id"] != "s1" {
		t.Errorf("spec_id = %v, want s1", resp["spec_id"])
	}
	if resp["tier2_used"] != true {
		t.Errorf("tier2_used = %v, want true", resp["tier2_used"])
	}
	if !strings.Contains(resp["briefing_md"].(string), "# Task Brief: s1") {
		t.Errorf("briefing_md = %v", resp["briefing_md"])
	}
	if mock.CallCount() != 1 {
		t.Errorf("tier2 calls = %d, want 1", mock.CallCount())
	}
}

func TestRunMissingSpec(t *testing.T) {
	srv, _ := testServer(t)

	for _, body := range []string{`{"spec_id":"s1"}`, `not json`} {
		w := do(t, srv, "POST", "/api/run", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestCompile(t *testing.T) {
	srv, mock := testServer(t)

	w := do(t, srv, "POST", "/api/compile", `{"spec_text":"chi router","explain":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Briefing string `json:"briefing_md"`
		Explain  *struct {
			Candidates []map[string]any `json:"candidates"`
		} `json:"explain"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(resp.Briefing, "# Task Brief: adhoc") {
		t.Errorf("briefing = %q", resp.Briefing)
	}
	if resp.Explain == nil || len(resp.Explain.Candidates) != 2 {
		t.Errorf("explain = %+v, want 2 candidates", resp.Explain)
	}
	if mock.CallCount() != 0 {
		t.Errorf("tier2 calls = %d, want 0", mock.CallCount())
	}
}

func TestCreateMemory(t *testing.T) {
	srv, _ := testServer(t)

	body := `{"content":"Use chi for routing","kind":"decision","agent":"planner","created_at":"2026-05-02T10:00:00Z"}`
	w := do(t, srv, "POST", "/api/memories", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Memory struct {
			ID      string   `json:"id"`
			Content string   `json:"content"`
			Tags    []string `json:"tags"`
		} `json:"memory"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.Memory.Content, "[DECISION]: Use chi for routing") {
		t.Errorf("content = %q", resp.Memory.Content)
	}
}

func TestCreateMemoryStrictRejects(t *testing.T) {
	srv, _ := testServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing created_at", `{"content":"x","agent":"a"}`, http.StatusBadRequest},
		{"missing agent", `{"content":"x","created_at":"2026-05-02T10:00:00Z"}`, http.StatusBadRequest},
		{"bad timestamp", `{"content":"x","agent":"a","created_at":"yesterday"}`, http.StatusBadRequest},
		{"empty content", `{"agent":"a"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := do(t, srv, "POST", "/api/memories", tt.body)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d; body: %s", tt.name, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestUpdateMemoryNotFound(t *testing.T) {
	srv, _ := testServer(t)
	w := do(t, srv, "PUT", "/api/memories/ghost", `{"content":"x","agent":"a"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestInvalidateAfterRun(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/run", `{"spec_id":"s1","spec_text":"WAL mode overlay"}`)

	w := do(t, srv, "POST", "/api/memories/m1/invalidate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["invalidated"] != float64(1) {
		t.Errorf("invalidated = %v, want 1", resp["invalidated"])
	}

	w = do(t, srv, "GET", "/api/cache/stats", "")
	var stats map[string]int
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats["entries"] != 0 {
		t.Errorf("entries = %d, want 0", stats["entries"])
	}
}

func TestMaintenanceRoutes(t *testing.T) {
	srv, _ := testServer(t)
	do(t, srv, "POST", "/api/run", `{"spec_text":"WAL mode overlay"}`)

	w := do(t, srv, "POST", "/api/scores/recalculate", "")
	var recalc map[string]int
	json.Unmarshal(w.Body.Bytes(), &recalc)
	if w.Code != http.StatusOK || recalc["recalculated"] != 2 {
		t.Errorf("recalculate: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, srv, "POST", "/api/cache/prune", "")
	var prune map[string]int
	json.Unmarshal(w.Body.Bytes(), &prune)
	if w.Code != http.StatusOK || prune["pruned"] != 0 {
		t.Errorf("prune: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, srv, "GET", "/api/overlay/top?limit=1", "")
	var top struct {
		Memories []overlayEntry `json:"memories"`
	}
	json.Unmarshal(w.Body.Bytes(), &top)
	if w.Code != http.StatusOK || len(top.Memories) != 1 {
		t.Errorf("overlay/top: status = %d, body = %s", w.Code, w.Body.String())
	}
	if top.Memories[0].UsageCount != 1 {
		t.Errorf("usage_count = %d, want 1", top.Memories[0].UsageCount)
	}

	if w := do(t, srv, "GET", "/api/overlay/top?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
