package iqo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lazypower/stage0/internal/llm"
)

// LLM asks a completion model for the Query.
type LLM struct {
	Client llm.Client
}

func (e *LLM) Extract(ctx context.Context, spec string, env Env) (*Query, error) {
	resp, err := e.Client.Complete(ctx, llm.IntentPrompt(spec, env.Branch, env.RecentFiles))
	if err != nil {
		return nil, fmt.Errorf("intent llm: %w", err)
	}
	q, err := parseQuery(resp.Content)
	if err != nil {
		return nil, err
	}
	q.OptionalTags = append(q.OptionalTags, envTags(env)...)
	return q, nil
}

// parseQuery tolerates code fences and prose around the JSON object.
func parseQuery(content string) (*Query, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if nl := strings.Index(content, "\n"); nl >= 0 {
			content = content[nl+1:]
		}
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in intent response")
	}

	var q Query
	if err := json.Unmarshal([]byte(content[start:end+1]), &q); err != nil {
		return nil, fmt.Errorf("parse intent response: %w", err)
	}
	return &q, nil
}
