package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/stage0"
	"github.com/lazypower/stage0/internal/store"
	"github.com/lazypower/stage0/internal/tier2"
)

func testEngine(t *testing.T) *stage0.Engine {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ks, err := knowledge.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })

	m := memory.Memory{ID: "m1", Content: "Overlay store runs in WAL mode", Domain: "db", Importance: 7,
		CreatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, ks.Create(context.Background(), &m))

	return stage0.New(stage0.Options{
		Config:      config.Default(),
		Knowledge:   ks,
		Overlay:     db,
		Tier2Client: &tier2.MockClient{Response: &tier2.Response{Synthesis: "## Executive Summary\nok"}},
		Quota:       tier2.NewMemoryQuota(0),
		Logger:      logging.Discard(),
	})
}

func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestDefinitions(t *testing.T) {
	eng := testEngine(t)
	tests := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewRunTool(eng).Definition(), "stage0_run", []string{"spec_text"}},
		{NewInvalidateTool(eng).Definition(), "stage0_invalidate", []string{"memory_id"}},
		{NewRememberTool(eng).Definition(), "stage0_remember", []string{"content", "agent"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.def.Name)
		assert.ElementsMatch(t, tt.required, tt.def.InputSchema.Required, tt.name)
	}
	assert.NotNil(t, New(eng, "test"))
}

func TestRunTool(t *testing.T) {
	tool := NewRunTool(testEngine(t))

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"spec_id":   "s1",
		"spec_text": "Check WAL mode on the overlay store",
		"branch":    "main",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var out stage0.Result
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	assert.Equal(t, "s1", out.SpecID)
	assert.Equal(t, []string{"m1"}, out.MemoriesUsed)
	assert.True(t, out.Tier2Used)
	assert.Contains(t, out.BriefingMarkdown, "# Task Brief: s1")
}

func TestRunToolRequiresSpec(t *testing.T) {
	res, err := NewRunTool(testEngine(t)).Handle(context.Background(), makeReq(map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestInvalidateTool(t *testing.T) {
	eng := testEngine(t)
	ctx := context.Background()
	_, err := NewRunTool(eng).Handle(ctx, makeReq(map[string]any{"spec_text": "WAL mode"}))
	require.NoError(t, err)

	res, err := NewInvalidateTool(eng).Handle(ctx, makeReq(map[string]any{"memory_id": "m1"}))
	require.NoError(t, err)
	assert.Equal(t, "Invalidated 1 cache entries for m1", resultText(res))
}

func TestRememberTool(t *testing.T) {
	tool := NewRememberTool(testEngine(t))
	ctx := context.Background()

	res, err := tool.Handle(ctx, makeReq(map[string]any{
		"content":    "Split the overlay writer into batches",
		"agent":      "planner",
		"created_at": "2026-05-03T10:00:00Z",
		"kind":       "decision",
		"tags":       "db, perf",
		"priority":   float64(9),
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var out stage0.WriteResult
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	require.NotNil(t, out.Memory)
	assert.Equal(t, 9, out.Memory.Importance)
	assert.Contains(t, out.Memory.Tags, "agent:planner")
	assert.Contains(t, out.Memory.Tags, "type:decision")
	assert.Contains(t, out.Memory.Tags, "perf")

	res, err = tool.Handle(ctx, makeReq(map[string]any{"content": "no timestamp", "agent": "planner"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
