package llm

import (
	"fmt"
	"strings"
)

// IntentPrompt asks for the intent query object of a spec as JSON.
func IntentPrompt(spec, branch string, recentFiles []string) string {
	env := "none"
	if branch != "" || len(recentFiles) > 0 {
		env = fmt.Sprintf("branch=%q recent_files=[%s]", branch, strings.Join(recentFiles, ", "))
	}
	return fmt.Sprintf(`You are an intent extraction system. Read this task specification and describe which stored memories would help an engineer plan it.

SPECIFICATION:
%s

ENVIRONMENT: %s

Rules:
- domains: broad subject areas (e.g., "database", "auth", "frontend")
- required_tags: only tags every relevant memory must carry; usually empty
- optional_tags: tags that make a memory more relevant (e.g., "type:decision", "lang:go")
- keywords: up to 12 specific terms, most important first
- max_candidates: how many memories to consider, 0 for the default
- Return ONLY a JSON object, no other text

Return a JSON object:
{"domains": [], "required_tags": [], "optional_tags": [], "keywords": [], "max_candidates": 0}`, spec, env)
}
