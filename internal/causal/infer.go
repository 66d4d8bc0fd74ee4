package causal

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lazypower/stage0/internal/memory"
)

// Inference defaults.
const (
	DefaultMinConfidence = 0.2
	DefaultMaxEdges      = 5
	minOverlap           = 0.1
)

type cue struct {
	phrase string
	boost  float64
}

type cueSet struct {
	relation string
	cues     []cue
}

// Blocking language is stored as contradicts, enabling language as expands.
var cueSets = []cueSet{
	{memory.RelCauses, []cue{
		{"caused", 0.4}, {"led to", 0.35}, {"resulted in", 0.4}, {"because of", 0.3},
		{"due to", 0.3}, {"triggered", 0.35}, {"produced", 0.25}, {"created", 0.2},
	}},
	{memory.RelContradicts, []cue{
		{"blocked", 0.4}, {"prevented", 0.4}, {"stops", 0.3}, {"blocks", 0.35},
		{"interferes with", 0.35}, {"conflicts with", 0.3}, {"incompatible with", 0.35}, {"breaks", 0.25},
	}},
	{memory.RelExpands, []cue{
		{"enabled", 0.4}, {"allows", 0.3}, {"makes possible", 0.4}, {"enables", 0.4},
		{"unlocks", 0.35}, {"required for", 0.35}, {"prerequisite for", 0.4}, {"depends on", 0.3},
	}},
}

// Detection is one causal phrase found in text.
type Detection struct {
	Relation string
	Phrase   string
	Boost    float64
}

// Detect returns every causal cue present in content, in cue order.
func Detect(content string) []Detection {
	lower := strings.ToLower(content)
	var out []Detection
	for _, set := range cueSets {
		for _, c := range set.cues {
			if strings.Contains(lower, c.phrase) {
				out = append(out, Detection{Relation: set.relation, Phrase: c.phrase, Boost: c.boost})
			}
		}
	}
	return out
}

// InferOptions tunes Infer. Zero values take the defaults.
type InferOptions struct {
	MinConfidence float64
	MaxEdges      int
}

// Infer proposes links from sourceID to candidates. The strongest cue in
// the source sets the relation; confidence is its boost scaled by word
// overlap with the candidate. Results are ordered by confidence, then ID.
func Infer(sourceID, content string, candidates []memory.Memory, opts InferOptions) []memory.Link {
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	if opts.MaxEdges <= 0 {
		opts.MaxEdges = DefaultMaxEdges
	}

	dets := Detect(content)
	if len(dets) == 0 {
		return nil
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Boost > best.Boost {
			best = d
		}
	}

	src := significantWords(content)
	var links []memory.Link
	for _, c := range candidates {
		if c.ID == sourceID {
			continue
		}
		ov := overlap(src, significantWords(c.Content))
		if ov <= minOverlap {
			continue
		}
		conf := best.Boost * ov
		if conf <= opts.MinConfidence {
			continue
		}
		if conf > 1 {
			conf = 1
		}
		links = append(links, memory.Link{
			FromID:     sourceID,
			ToID:       c.ID,
			Type:       best.Relation,
			Confidence: conf,
			Reasoning:  "detected " + `"` + best.Phrase + `"`,
		})
	}

	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Confidence != links[j].Confidence {
			return links[i].Confidence > links[j].Confidence
		}
		return links[i].ToID < links[j].ToID
	})
	if len(links) > opts.MaxEdges {
		links = links[:opts.MaxEdges]
	}
	return links
}

func significantWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.TrimFunc(w, func(r rune) bool { return unicode.IsPunct(r) })
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

// overlap is the shared-word count over the smaller set.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for w := range a {
		if b[w] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}
