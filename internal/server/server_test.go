package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/stage0"
	"github.com/lazypower/stage0/internal/store"
	"github.com/lazypower/stage0/internal/tier2"
)

func testServer(t *testing.T) (*Server, *tier2.MockClient) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ks, err := knowledge.OpenSQLiteMemory()
	if err != nil {
		t.Fatalf("OpenSQLiteMemory: %v", err)
	}
	t.Cleanup(func() { ks.Close() })

	for _, m := range []memory.Memory{
		{ID: "m1", Content: "Enable WAL mode on the overlay store", Domain: "db", Importance: 8},
		{ID: "m2", Content: "Chi router handles the api", Domain: "api", Importance: 5},
	} {
		m.CreatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		if err := ks.Create(context.Background(), &m); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	mock := &tier2.MockClient{Response: &tier2.Response{Synthesis: "## Executive Summary\nok"}}
	eng := stage0.New(stage0.Options{
		Config:      config.Default(),
		Knowledge:   ks,
		Overlay:     db,
		Tier2Client: mock,
		Quota:       tier2.NewMemoryQuota(0),
		Logger:      logging.Discard(),
	})
	return New(eng, "test-version", logging.Discard()), mock
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := do(t, srv, "GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["tier2"] != true {
		t.Errorf("tier2 = %v, want true", body["tier2"])
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := testServer(t)
	if w := do(t, srv, "GET", "/api/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
