// Package dcc is the dynamic context compiler: it narrows the knowledge
// store to candidates, ranks them by fused similarity and dynamic score,
// picks a diverse subset and renders a token-bounded briefing.
package dcc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lazypower/stage0/internal/codeunit"
	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/index"
	"github.com/lazypower/stage0/internal/iqo"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/scoring"
	"github.com/lazypower/stage0/internal/store"
)

// ErrKnowledge wraps knowledge store failures. Callers may degrade on it;
// any other Compile error is an overlay failure.
var ErrKnowledge = errors.New("knowledge store unavailable")

const codePrefix = "code:"

// Candidate is a memory with its ranking signals, all in [0,1].
type Candidate struct {
	MemoryID       string        `json:"memory_id"`
	Similarity     float64       `json:"similarity_score"`
	Dynamic        float64       `json:"dynamic_score"`
	Combined       float64       `json:"combined_score"`
	TagBoost       float64       `json:"tag_boost,omitempty"`
	LastAccessedAt int64         `json:"last_accessed_at"`
	Memory         memory.Memory `json:"-"`
}

// CodeHit is a selected code unit.
type CodeHit struct {
	Unit  codeunit.Unit `json:"unit"`
	Score float64       `json:"score"`
}

// Request is one compilation.
type Request struct {
	SpecID   string
	SpecText string
	Query    *iqo.Query
	Explain  bool
}

// Result is the compiled context.
type Result struct {
	Briefing   string      `json:"briefing_md"`
	Canonical  string      `json:"-"` // Briefing without scores; keys the Tier2 cache
	Selected   []Candidate `json:"selected"`
	Code       []CodeHit   `json:"code_units,omitempty"`
	Candidates int         `json:"candidates"`
	Tokens     int         `json:"tokens"`
	Dropped    []string    `json:"dropped,omitempty"`
	Explain    *Explain    `json:"explain,omitempty"`
}

// MemoryIDs returns the selected memory IDs in briefing order.
func (r *Result) MemoryIDs() []string {
	ids := make([]string, len(r.Selected))
	for i, c := range r.Selected {
		ids[i] = c.MemoryID
	}
	return ids
}

// Explain exposes every candidate's score breakdown.
type Explain struct {
	Query      iqo.Query      `json:"query"`
	Candidates []ExplainEntry `json:"candidates"`
}

// ExplainEntry is one row of Explain.
type ExplainEntry struct {
	Candidate
	Components scoring.Components `json:"components"`
	Selected   bool               `json:"selected"`
}

// Compiler holds the collaborators of a compilation. Index is a prototype:
// each compilation scores against its own Scope of it.
type Compiler struct {
	Knowledge knowledge.Store
	Scoring   *scoring.Engine
	Index     index.Backend
	Config    config.ContextConfig
	Code      []codeunit.Unit
	log       *slog.Logger
}

// NewCompiler creates a compiler. A nil backend gets a fresh lexical index.
func NewCompiler(ks knowledge.Store, se *scoring.Engine, ix index.Backend, cfg config.ContextConfig, logger *slog.Logger) *Compiler {
	if ix == nil {
		ix = index.NewLexical()
	}
	return &Compiler{Knowledge: ks, Scoring: se, Index: ix, Config: cfg, log: logging.OrDefault(logger)}
}

// LoadCode extracts code units from root for the code lane.
func (c *Compiler) LoadCode(root, repo string) error {
	units, err := codeunit.Extract(root, repo)
	if err != nil {
		return err
	}
	c.Code = units
	return nil
}

// Compile runs the pre-filter, ranking, selection and briefing assembly.
func (c *Compiler) Compile(ctx context.Context, req Request) (*Result, error) {
	q := req.Query
	if q == nil {
		q = iqo.Minimal(req.SpecText, c.Config.PreFilterLimit)
	}

	mems, err := c.prefilter(ctx, q)
	if err != nil {
		return nil, err
	}

	var recs map[string]*store.OverlayRecord
	if len(mems) > 0 {
		recs, err = c.Scoring.EnsureScored(ctx, mems)
		if err != nil {
			return nil, fmt.Errorf("ensure scored: %w", err)
		}
	}

	ix := c.Index.Scope()
	docs := make([]index.Document, len(mems))
	for i, m := range mems {
		docs[i] = index.Document{ID: m.ID, Kind: index.KindMemory, Text: m.Content}
	}
	if err := ix.Index(ctx, docs...); err != nil {
		return nil, fmt.Errorf("index candidates: %w", err)
	}

	query := queryText(req.SpecText, q)
	cands, err := c.rank(ctx, ix, query, q.OptionalTags, mems, recs)
	if err != nil {
		return nil, err
	}
	selected, err := c.selectDiverse(ctx, ix, cands)
	if err != nil {
		return nil, err
	}

	var code []CodeHit
	if c.Config.CodeEnabled && len(c.Code) > 0 {
		if code, err = c.codeLane(ctx, query); err != nil {
			return nil, err
		}
	}

	b := assemble(req.SpecID, req.SpecText, selected, code, c.Config.MaxTokens)
	res := &Result{
		Briefing:   b.Markdown,
		Canonical:  b.Canonical,
		Selected:   b.Memories,
		Code:       b.Code,
		Candidates: len(mems),
		Tokens:     b.Tokens,
		Dropped:    b.Dropped,
	}
	if req.Explain || c.Config.Explain {
		res.Explain = c.explain(q, cands, recs, res.Selected)
	}
	c.log.Debug("context compiled", "spec_id", req.SpecID, "candidates", len(mems),
		"selected", len(res.Selected), "code_units", len(res.Code), "tokens", res.Tokens)
	return res, nil
}

// prefilter queries once per domain with the required tags, merges by ID
// and orders by importance, recency and ID. Keywords never filter.
func (c *Compiler) prefilter(ctx context.Context, q *iqo.Query) ([]memory.Memory, error) {
	limit := q.MaxCandidates
	if limit <= 0 {
		limit = c.Config.PreFilterLimit
	}
	domains := q.Domains
	if len(domains) == 0 {
		domains = []string{""}
	}

	seen := make(map[string]bool)
	var out []memory.Memory
	for _, d := range domains {
		ms, err := c.Knowledge.Search(ctx, knowledge.Query{Domain: d, Tags: q.RequiredTags, Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrKnowledge, err)
		}
		for _, m := range ms {
			if m.ID == "" || seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	knowledge.SortMemories(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func queryText(spec string, q *iqo.Query) string {
	if len(q.Keywords) == 0 {
		return spec
	}
	return spec + "\n" + strings.Join(q.Keywords, " ")
}

// codeLane scores code units in their own scope so the memory corpus and
// the code corpus never share term statistics.
func (c *Compiler) codeLane(ctx context.Context, query string) ([]CodeHit, error) {
	byID := make(map[string]codeunit.Unit, len(c.Code))
	docs := make([]index.Document, len(c.Code))
	ids := make([]string, len(c.Code))
	for i, u := range c.Code {
		id := codePrefix + u.ID()
		byID[id] = u
		ids[i] = id
		docs[i] = index.Document{ID: id, Kind: index.KindCode, Text: u.Symbol + "\n" + u.Content}
	}
	ix := c.Index.Scope()
	if err := ix.Index(ctx, docs...); err != nil {
		return nil, fmt.Errorf("index code units: %w", err)
	}
	scored, err := ix.Score(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("score code units: %w", err)
	}
	topK := c.Config.CodeTopK
	if topK <= 0 {
		topK = 10
	}
	var hits []CodeHit
	for _, s := range scored {
		if s.Score <= 0 || len(hits) == topK {
			break
		}
		hits = append(hits, CodeHit{Unit: byID[s.ID], Score: s.Score})
	}
	return hits, nil
}

func (c *Compiler) explain(q *iqo.Query, cands []Candidate, recs map[string]*store.OverlayRecord, selected []Candidate) *Explain {
	chosen := make(map[string]bool, len(selected))
	for _, s := range selected {
		chosen[s.MemoryID] = true
	}
	ex := &Explain{Query: *q, Candidates: make([]ExplainEntry, 0, len(cands))}
	for _, cand := range cands {
		e := ExplainEntry{Candidate: cand, Selected: chosen[cand.MemoryID]}
		if r := recs[cand.MemoryID]; r != nil {
			e.Components = c.Scoring.Explain(r)
		}
		ex.Candidates = append(ex.Candidates, e)
	}
	return ex
}
