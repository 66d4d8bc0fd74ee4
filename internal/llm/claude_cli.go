package llm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// defaultCLITimeout applies only when the caller's context has no deadline.
const defaultCLITimeout = 120 * time.Second

// envPrefixesDropped never reach the subprocess, so a claude session that
// launched stage0 as a tool cannot re-enter it.
var envPrefixesDropped = []string{"CLAUDE_", "STAGE0_"}

// ClaudeCLI runs `claude -p` as a one-turn subprocess with the prompt on stdin.
type ClaudeCLI struct {
	Bin   string
	Model string
}

// NewClaudeCLI creates a client for the claude binary on PATH.
func NewClaudeCLI(model string) *ClaudeCLI {
	return &ClaudeCLI{Bin: "claude", Model: model}
}

func (c *ClaudeCLI) args() []string {
	args := []string{"-p", "--max-turns", "1"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	return args
}

func (c *ClaudeCLI) Complete(ctx context.Context, prompt string) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCLITimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Bin, c.args()...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = filterEnv(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("claude cli: %w", ctx.Err())
		}
		return nil, fmt.Errorf("claude cli: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, fmt.Errorf("claude cli: empty response")
	}
	return &Response{Content: out, Provider: "claude-cli"}, nil
}

func filterEnv(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, e := range env {
		if !hasAnyPrefix(e, envPrefixesDropped) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
