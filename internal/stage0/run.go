package stage0

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/stage0/internal/dcc"
	"github.com/lazypower/stage0/internal/iqo"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/tier2"
)

// Skip reasons. A run with a skip reason still succeeds.
const (
	SkipDisabled         = "stage0_disabled"
	SkipTier2Disabled    = "tier2_disabled"
	SkipTier2Timeout     = "tier2_timeout"
	SkipTier2Unavailable = "tier2_unavailable"
	SkipTier2Quota       = "tier2_quota_exhausted"
	SkipTier2Malformed   = "tier2_malformed_response"
	SkipKnowledge        = "knowledge_unavailable"
)

// Result is the outcome of one run.
type Result struct {
	RunID            string        `json:"run_id"`
	SpecID           string        `json:"spec_id"`
	BriefingMarkdown string        `json:"briefing_md"`
	BriefHash        string        `json:"brief_hash,omitempty"`
	DivineTruth      string        `json:"divine_truth,omitempty"`
	MemoriesUsed     []string      `json:"memories_used"`
	CacheHit         bool          `json:"cache_hit"`
	Tier2Used        bool          `json:"tier2_used"`
	LatencyMS        int64         `json:"latency_ms"`
	SkipReason       string        `json:"skip_reason,omitempty"`
	SuggestedLinks   []memory.Link `json:"suggested_links,omitempty"`
	LinksWritten     int           `json:"links_written"`
	Explain          *dcc.Explain  `json:"explain,omitempty"`
}

// RunOptions adjust a single run.
type RunOptions struct {
	Env     iqo.Env
	Explain bool
}

// Run compiles a briefing for the spec, escalates it to Tier2 through the
// cache, and records usage of the selected memories. Only overlay failures
// are returned as errors; everything else degrades into SkipReason.
func (e *Engine) Run(ctx context.Context, specID, specText string, opts RunOptions) (*Result, error) {
	start := time.Now()
	res := &Result{RunID: uuid.NewString(), SpecID: specID, MemoriesUsed: []string{}}
	log := e.log.With("run_id", res.RunID, "spec_id", specID)
	defer func() { res.LatencyMS = time.Since(start).Milliseconds() }()

	if !e.Config.Enabled {
		res.SkipReason = SkipDisabled
		return res, nil
	}

	q, err := iqo.Extract(ctx, e.Extractor, specText, opts.Env, e.Config.Context.PreFilterLimit)
	if err != nil {
		log.Info("intent extraction fell back to minimal query", "err", err)
	}

	comp, err := e.Compiler.Compile(ctx, dcc.Request{SpecID: specID, SpecText: specText, Query: q, Explain: opts.Explain})
	if errors.Is(err, dcc.ErrKnowledge) {
		log.Warn("knowledge store unavailable", "err", err)
		res.BriefingMarkdown = dcc.EmptyBriefing(specID, specText)
		res.SkipReason = SkipKnowledge
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compile context: %w", err)
	}
	res.BriefingMarkdown = comp.Briefing
	res.BriefHash = tier2.ComputeHash(comp.Canonical)
	res.MemoriesUsed = comp.MemoryIDs()
	res.Explain = comp.Explain

	e.escalate(ctx, res, specText)
	e.recordUsage(ctx, res)

	log.Info("run complete", "memories_used", len(res.MemoriesUsed), "cache_hit", res.CacheHit,
		"tier2_used", res.Tier2Used, "skip_reason", res.SkipReason)
	return res, nil
}

// escalate fills the Tier2 fields of res from the cache or a live call.
// The cache key uses BriefHash, which ignores score annotations, so usage
// recorded by one run does not defeat the cache for the next.
func (e *Engine) escalate(ctx context.Context, res *Result, specText string) {
	log := e.log.With("run_id", res.RunID, "spec_id", res.SpecID)
	if !e.Config.Tier2.Enabled {
		res.SkipReason = SkipTier2Disabled
		return
	}

	specHash := tier2.ComputeHash(specText)
	briefHash := res.BriefHash

	hit, err := e.Cache.Lookup(specHash, briefHash)
	if err != nil {
		log.Warn("cache lookup failed, treating as miss", "err", err)
	}
	if hit != nil {
		res.CacheHit = true
		res.Tier2Used = true
		res.DivineTruth = hit.SynthesisResult
		res.SuggestedLinks = hit.SuggestedLinks
		return
	}

	if e.Tier2 == nil {
		res.SkipReason = SkipTier2Unavailable
		return
	}
	resp, err := e.Tier2.Call(ctx, tier2.Request{SpecID: res.SpecID, SpecText: specText, Briefing: res.BriefingMarkdown})
	if err != nil {
		res.SkipReason = skipReason(err)
		log.Warn("tier2 skipped", "skip_reason", res.SkipReason, "err", err)
		return
	}

	links := tier2.FilterLinks(resp.SuggestedLinks, res.MemoriesUsed)
	rep := e.Ingestor.Ingest(ctx, links)
	res.Tier2Used = true
	res.DivineTruth = resp.Synthesis
	res.SuggestedLinks = links
	res.LinksWritten = rep.Written

	if _, err := e.Cache.Store(specHash, briefHash, resp.Synthesis, links, res.MemoriesUsed); err != nil {
		log.Warn("cache store failed", "err", err)
	}
}

func (e *Engine) recordUsage(ctx context.Context, res *Result) {
	if len(res.MemoriesUsed) == 0 {
		return
	}
	if err := e.Overlay.RecordAccess(res.MemoriesUsed, e.now()); err != nil {
		e.log.Warn("record usage failed", "run_id", res.RunID, "err", err)
		return
	}
	if err := e.Scoring.RecalculateMany(ctx, res.MemoriesUsed); err != nil {
		e.log.Warn("rescore failed", "run_id", res.RunID, "err", err)
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, tier2.ErrTimeout):
		return SkipTier2Timeout
	case errors.Is(err, tier2.ErrQuotaExhausted):
		return SkipTier2Quota
	case errors.Is(err, tier2.ErrMalformedResponse):
		return SkipTier2Malformed
	default:
		return SkipTier2Unavailable
	}
}

// Compile runs the intent extractor and compiler only. Nothing is recorded.
func (e *Engine) Compile(ctx context.Context, specID, specText string, opts RunOptions) (*dcc.Result, error) {
	q, err := iqo.Extract(ctx, e.Extractor, specText, opts.Env, e.Config.Context.PreFilterLimit)
	if err != nil {
		e.log.Info("intent extraction fell back to minimal query", "spec_id", specID, "err", err)
	}
	return e.Compiler.Compile(ctx, dcc.Request{SpecID: specID, SpecText: specText, Query: q, Explain: opts.Explain})
}
