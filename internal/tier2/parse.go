package tier2

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lazypower/stage0/internal/memory"
)

type section struct {
	title string
	body  string
}

func splitSections(content string) []section {
	var out []section
	var cur *section
	var body strings.Builder
	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(body.String())
			out = append(out, *cur)
		}
		body.Reset()
	}
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &section{title: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return out
}

// ParseResponse extracts the synthesis text and suggested links. Link JSON
// that is missing or malformed yields no links; a response without any
// "## " section is ErrMalformedResponse.
func ParseResponse(content string) (*Response, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}
	secs := splitSections(content)
	if len(secs) == 0 {
		return nil, fmt.Errorf("%w: no sections", ErrMalformedResponse)
	}

	var synth strings.Builder
	linkSource := content
	for _, s := range secs {
		if strings.EqualFold(s.title, SectionLinks) {
			linkSource = s.body
			continue
		}
		if synth.Len() > 0 {
			synth.WriteString("\n\n")
		}
		fmt.Fprintf(&synth, "## %s\n%s", s.title, s.body)
	}

	return &Response{
		Synthesis:      synth.String(),
		SuggestedLinks: parseLinks(linkSource),
	}, nil
}

type rawLink struct {
	FromID     string   `json:"from_id"`
	ToID       string   `json:"to_id"`
	Type       string   `json:"type"`
	Relation   string   `json:"relation"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func parseLinks(s string) []memory.Link {
	block := firstJSONArray(s)
	if block == "" {
		return nil
	}
	var raw []rawLink
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return nil
	}
	links := make([]memory.Link, 0, len(raw))
	for _, r := range raw {
		t := r.Type
		if t == "" {
			t = r.Relation
		}
		conf := 0.5
		if r.Confidence != nil {
			conf = *r.Confidence
		}
		links = append(links, memory.Link{
			FromID:     strings.TrimSpace(r.FromID),
			ToID:       strings.TrimSpace(r.ToID),
			Type:       strings.ToLower(strings.TrimSpace(t)),
			Confidence: conf,
			Reasoning:  r.Reasoning,
		})
	}
	return links
}

// firstJSONArray returns the body of the first fenced block whose content
// is a JSON array. Only "json" and unlabeled fences qualify.
func firstJSONArray(s string) string {
	rest := s
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return ""
		}
		rest = rest[open+3:]
		nl := strings.Index(rest, "\n")
		if nl < 0 {
			return ""
		}
		lang := strings.ToLower(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return ""
		}
		body := strings.TrimSpace(rest[:end])
		rest = rest[end+3:]
		if (lang == "json" || lang == "") && strings.HasPrefix(body, "[") {
			return body
		}
	}
}

// FilterLinks keeps well-formed links between memories that were used in
// the briefing. Types are validated, self-links dropped, confidence
// clamped, and duplicate (from, to, type) triples collapsed to the first.
func FilterLinks(links []memory.Link, memoriesUsed []string) []memory.Link {
	used := make(map[string]bool, len(memoriesUsed))
	for _, id := range memoriesUsed {
		used[id] = true
	}
	seen := make(map[string]bool)
	var out []memory.Link
	for _, l := range links {
		l.Type = strings.ToLower(l.Type)
		if !memory.ValidRelation(l.Type) || l.FromID == l.ToID {
			continue
		}
		if !used[l.FromID] || !used[l.ToID] {
			continue
		}
		key := l.FromID + "\x00" + l.ToID + "\x00" + l.Type
		if seen[key] {
			continue
		}
		seen[key] = true
		switch {
		case l.Confidence < 0:
			l.Confidence = 0
		case l.Confidence > 1:
			l.Confidence = 1
		}
		out = append(out, l)
	}
	return out
}
