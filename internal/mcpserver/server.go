// Package mcpserver exposes the engine as MCP tools over stdio.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/lazypower/stage0/internal/stage0"
)

// New creates the MCP server with every stage0 tool registered.
func New(eng *stage0.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"stage0",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	run := NewRunTool(eng)
	s.AddTool(run.Definition(), run.Handle)

	invalidate := NewInvalidateTool(eng)
	s.AddTool(invalidate.Definition(), invalidate.Handle)

	remember := NewRememberTool(eng)
	s.AddTool(remember.Definition(), remember.Handle)

	return s
}

// ServeStdio blocks serving s on stdin/stdout.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `Stage0 compiles a token-bounded briefing of relevant memories for a spec ` +
	`before planning starts. Call stage0_run with the spec text first. Record durable ` +
	`decisions, patterns and problems with stage0_remember. After editing a memory outside ` +
	`stage0, call stage0_invalidate with its id.`
