package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lazypower/stage0/internal/guardian"
	"github.com/lazypower/stage0/internal/iqo"
	"github.com/lazypower/stage0/internal/stage0"
)

// boolArg extracts a boolean argument, or defaultVal when missing.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// intArg extracts an integer argument. JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

// RunTool handles stage0_run.
type RunTool struct {
	eng *stage0.Engine
}

func NewRunTool(eng *stage0.Engine) *RunTool { return &RunTool{eng: eng} }

func (t *RunTool) Definition() mcp.Tool {
	return mcp.NewTool("stage0_run",
		mcp.WithDescription("Compile a context briefing for a spec and, when available, a cached or fresh Tier 2 synthesis."),
		mcp.WithString("spec_text",
			mcp.Required(),
			mcp.Description("Full text of the spec to brief"),
		),
		mcp.WithString("spec_id",
			mcp.Description("Identifier echoed in the briefing title (default: adhoc)"),
		),
		mcp.WithString("branch",
			mcp.Description("Current git branch"),
		),
		mcp.WithString("recent_files",
			mcp.Description("Comma-separated recently edited paths"),
		),
		mcp.WithBoolean("explain",
			mcp.Description("Include per-candidate score breakdowns"),
		),
	)
}

func (t *RunTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	spec := req.GetString("spec_text", "")
	if strings.TrimSpace(spec) == "" {
		return mcp.NewToolResultError("'spec_text' is required"), nil
	}
	opts := stage0.RunOptions{
		Env: iqo.Env{
			Branch:      req.GetString("branch", ""),
			RecentFiles: splitCSV(req.GetString("recent_files", "")),
		},
		Explain: boolArg(req, "explain", false),
	}
	res, err := t.eng.Run(ctx, req.GetString("spec_id", "adhoc"), spec, opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", err)), nil
	}
	return jsonResult(res)
}

// InvalidateTool handles stage0_invalidate.
type InvalidateTool struct {
	eng *stage0.Engine
}

func NewInvalidateTool(eng *stage0.Engine) *InvalidateTool { return &InvalidateTool{eng: eng} }

func (t *InvalidateTool) Definition() mcp.Tool {
	return mcp.NewTool("stage0_invalidate",
		mcp.WithDescription("Drop every cached synthesis that used the given memory."),
		mcp.WithString("memory_id",
			mcp.Required(),
			mcp.Description("ID of the changed memory"),
		),
	)
}

func (t *InvalidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("memory_id", "")
	if id == "" {
		return mcp.NewToolResultError("'memory_id' is required"), nil
	}
	n, err := t.eng.InvalidateMemory(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalidate failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Invalidated %d cache entries for %s", n, id)), nil
}

// RememberTool handles stage0_remember.
type RememberTool struct {
	eng *stage0.Engine
}

func NewRememberTool(eng *stage0.Engine) *RememberTool { return &RememberTool{eng: eng} }

func (t *RememberTool) Definition() mcp.Tool {
	return mcp.NewTool("stage0_remember",
		mcp.WithDescription("Store a memory through the metadata and template guardians."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("What to remember; sentences are sorted into context, reasoning and outcome"),
		),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Name of the agent writing the memory"),
		),
		mcp.WithString("created_at",
			mcp.Description("RFC3339 timestamp of the event (required in strict mode)"),
		),
		mcp.WithString("kind",
			mcp.Description("pattern, decision, problem, insight or other"),
		),
		mcp.WithString("domain",
			mcp.Description("Domain, e.g. db or api"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags"),
		),
		mcp.WithNumber("priority",
			mcp.Description("Initial priority 1-10 (default 7)"),
		),
		mcp.WithBoolean("infer_links",
			mcp.Description("Propose causal links to memories in the same domain"),
		),
	)
}

func (t *RememberTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("'content' is required"), nil
	}
	d := guardian.Draft{
		Content:   content,
		Agent:     req.GetString("agent", ""),
		CreatedAt: req.GetString("created_at", ""),
		Kind:      req.GetString("kind", ""),
		Domain:    req.GetString("domain", ""),
		Tags:      splitCSV(req.GetString("tags", "")),
		Priority:  intArg(req, "priority", 0),
	}
	res, err := t.eng.WriteMemory(ctx, d, stage0.WriteOptions{InferLinks: boolArg(req, "infer_links", false)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("remember failed: %v", err)), nil
	}
	return jsonResult(res)
}
