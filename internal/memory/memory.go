// Package memory holds the domain types shared between the knowledge store
// boundary, the compiler and the Tier2 path.
package memory

import (
	"sort"
	"strings"
	"time"
)

// Memory is a knowledge-store record. Stage0 references memories by ID and
// never owns them.
type Memory struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Domain     string    `json:"domain,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasTag reports whether the memory carries tag (case-insensitive).
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// HasAllTags reports whether every tag in want is present.
func (m *Memory) HasAllTags(want []string) bool {
	for _, t := range want {
		if !m.HasTag(t) {
			return false
		}
	}
	return true
}

// FirstLine returns the first non-empty line of the content, trimmed to max runes.
func (m *Memory) FirstLine(max int) string {
	for _, line := range strings.Split(m.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return Truncate(line, max)
	}
	return ""
}

// Relationship types accepted on the knowledge-store edge API.
const (
	RelCauses      = "causes"
	RelSolves      = "solves"
	RelContradicts = "contradicts"
	RelExpands     = "expands"
	RelSupersedes  = "supersedes"
)

var validRelations = map[string]bool{
	RelCauses:      true,
	RelSolves:      true,
	RelContradicts: true,
	RelExpands:     true,
	RelSupersedes:  true,
}

// ValidRelation reports whether t is a known relationship type.
func ValidRelation(t string) bool {
	return validRelations[strings.ToLower(t)]
}

// Link is a directed relationship edge between two memories.
type Link struct {
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// NormalizeTags lowercases, trims, dedupes and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Truncate cuts s to at most max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
