package dcc

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/lazypower/stage0/internal/memory"
)

// SnapshotChars caps the spec text quoted in the briefing.
const SnapshotChars = 1200

const (
	memoryLineChars = 400
	firstLineChars  = 200
)

type section int

const (
	secMemory section = iota
	secCode
	secDocs
	secConstraints
	secRisks
	numSections
)

var sectionTitles = [numSections]string{
	secMemory:      "Memory Context",
	secCode:        "Code Context",
	secDocs:        "Docs & Issues",
	secConstraints: "Inferred Constraints",
	secRisks:       "Known Risks",
}

// entry is one droppable unit: a memory or a code unit. Its lines in every
// section come from lines.
type entry struct {
	id    string
	order int
	score float64
	mem   *Candidate
	code  *CodeHit
}

type brief struct {
	Markdown  string
	Canonical string
	Tokens    int
	Memories []Candidate
	Code     []CodeHit
	Dropped  []string
}

// EstimateTokens is ceil(chars/4).
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// assemble renders the briefing, dropping whole entries with the lowest
// score until it fits maxTokens. Headers and metadata always stay.
func assemble(specID, spec string, mems []Candidate, code []CodeHit, maxTokens int) brief {
	entries := make([]*entry, 0, len(mems)+len(code))
	for i := range mems {
		entries = append(entries, memoryEntry(&mems[i], len(entries)))
	}
	for i := range code {
		entries = append(entries, codeEntry(&code[i], len(entries)))
	}

	var dropped []string
	md := render(specID, spec, entries, true)
	for maxTokens > 0 && EstimateTokens(md) > maxTokens && len(entries) > 0 {
		victim := lowest(entries)
		dropped = append(dropped, entries[victim].id)
		entries = append(entries[:victim], entries[victim+1:]...)
		md = render(specID, spec, entries, true)
	}

	b := brief{
		Markdown:  md,
		Canonical: render(specID, spec, entries, false),
		Tokens:    EstimateTokens(md),
		Dropped:   dropped,
	}
	for _, e := range entries {
		if e.mem != nil {
			b.Memories = append(b.Memories, *e.mem)
		} else {
			b.Code = append(b.Code, *e.code)
		}
	}
	return b
}

// lowest picks the entry to drop: lowest score, the later entry on ties.
func lowest(entries []*entry) int {
	v := 0
	for i, e := range entries {
		if e.score < entries[v].score || (e.score == entries[v].score && e.order > entries[v].order) {
			v = i
		}
	}
	return v
}

func memoryEntry(c *Candidate, order int) *entry {
	return &entry{id: c.MemoryID, order: order, score: c.Combined, mem: c}
}

func codeEntry(h *CodeHit, order int) *entry {
	return &entry{id: codePrefix + h.Unit.ID(), order: order, score: h.Score, code: h}
}

// lines returns what e contributes to section s. Score annotations are
// included only when scores is set.
func (e *entry) lines(s section, scores bool) []string {
	if e.code != nil {
		if s != secCode {
			return nil
		}
		id := e.code.Unit.ID()
		head := fmt.Sprintf("- `%s`", id)
		if scores {
			head += fmt.Sprintf(" (score %.2f)", e.code.Score)
		}
		return []string{head, "```go", e.code.Unit.Content, "```"}
	}

	c := e.mem
	m := &c.Memory
	switch s {
	case secMemory:
		text := memory.Truncate(oneLine(m.Content), memoryLineChars)
		if scores {
			return []string{fmt.Sprintf("- [%s] (score %.2f) %s", c.MemoryID, c.Combined, text)}
		}
		return []string{fmt.Sprintf("- [%s] %s", c.MemoryID, text)}
	case secDocs:
		if m.HasTag("type:doc") || m.HasTag("type:issue") {
			return []string{fmt.Sprintf("- [%s] %s", c.MemoryID, m.FirstLine(firstLineChars))}
		}
	case secConstraints:
		if m.HasTag("type:decision") || m.HasTag("type:pattern") {
			return []string{fmt.Sprintf("- %s ([%s])", m.FirstLine(firstLineChars), c.MemoryID)}
		}
	case secRisks:
		if m.HasTag("type:problem") {
			return []string{fmt.Sprintf("- %s ([%s])", m.FirstLine(firstLineChars), c.MemoryID)}
		}
	}
	return nil
}

func render(specID, spec string, entries []*entry, scores bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Task Brief: %s\n\n", specID)
	sb.WriteString("## Spec Snapshot\n\n")
	sb.WriteString(memory.Truncate(strings.TrimSpace(spec), SnapshotChars))
	sb.WriteString("\n\n")

	for s := section(0); s < numSections; s++ {
		var lines []string
		for _, e := range entries {
			lines = append(lines, e.lines(s, scores)...)
		}
		if s == secCode && len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n", sectionTitles[s])
		if len(lines) == 0 {
			sb.WriteString("_None._\n\n")
			continue
		}
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Metadata\n\n```json\n")
	sb.Write(metadataJSON(specID, entries, scores))
	sb.WriteString("\n```\n")
	return sb.String()
}

type metaMemory struct {
	ID         string   `json:"id"`
	Combined   *float64 `json:"combined_score,omitempty"`
	Similarity *float64 `json:"similarity_score,omitempty"`
	Dynamic    *float64 `json:"dynamic_score,omitempty"`
}

type metaCode struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score,omitempty"`
}

type metadata struct {
	SpecID    string       `json:"spec_id"`
	Memories  []metaMemory `json:"memories"`
	CodeUnits []metaCode   `json:"code_units"`
}

func metadataJSON(specID string, entries []*entry, scores bool) []byte {
	md := metadata{SpecID: specID, Memories: []metaMemory{}, CodeUnits: []metaCode{}}
	score := func(v float64) *float64 {
		if !scores {
			return nil
		}
		r := round6(v)
		return &r
	}
	for _, e := range entries {
		if e.mem != nil {
			md.Memories = append(md.Memories, metaMemory{
				ID:         e.mem.MemoryID,
				Combined:   score(e.mem.Combined),
				Similarity: score(e.mem.Similarity),
				Dynamic:    score(e.mem.Dynamic),
			})
		} else {
			md.CodeUnits = append(md.CodeUnits, metaCode{ID: e.code.Unit.ID(), Score: score(e.code.Score)})
		}
	}
	out, _ := json.MarshalIndent(md, "", "  ")
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// EmptyBriefing renders the briefing skeleton with no entries, for runs
// where the knowledge store could not be read.
func EmptyBriefing(specID, spec string) string {
	return render(specID, spec, nil, true)
}
