package tier2

import (
	"fmt"
	"strings"
)

// Section titles of a synthesis, in order.
const (
	SectionSummary    = "Executive Summary"
	SectionGuardrails = "Architectural Guardrails"
	SectionHistory    = "Historical Context & Lessons"
	SectionRisks      = "Risks & Open Questions"
	SectionLinks      = "Suggested Causal Links"
)

var sections = []string{SectionSummary, SectionGuardrails, SectionHistory, SectionRisks, SectionLinks}

// BuildPrompt renders the fixed synthesis request.
func BuildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are the senior architect reviewing a task before planning starts.
Read the specification and the compiled briefing of project memories, then write a synthesis.

SPEC ID: %s

SPECIFICATION:
%s

BRIEFING:
%s

Respond in Markdown with exactly these sections, in this order:
`, req.SpecID, req.SpecText, req.Briefing)

	for i, s := range sections {
		fmt.Fprintf(&b, "%d. ## %s\n", i+1, s)
	}

	b.WriteString(`
Rules:
- Ground every statement in the briefing or the specification
- Keep the Executive Summary under 150 words
- In Suggested Causal Links, only reference memory ids listed in the briefing metadata
- Valid link types: causes, solves, contradicts, expands, supersedes
- If no links apply, return an empty array

Suggested Causal Links must be a fenced JSON array:
` + "```json" + `
[{"from_id": "...", "to_id": "...", "type": "causes", "confidence": 0.0, "reasoning": "..."}]
` + "```\n")
	return b.String()
}
