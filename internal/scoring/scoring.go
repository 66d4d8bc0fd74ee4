// Package scoring computes the dynamic relevance score of a memory from its
// overlay record.
//
// Curves (all in [0,1]):
//   - usage:    ln(1+u) / ln(1+saturation), capped at 1
//   - recency:  half-life decay on days since last access (or creation)
//   - priority: initial_priority / 10
//   - decay:    half-life decay on age since creation
//   - novelty:  factor_max * (1 - u/threshold) while u < threshold
//
// The weighted sum plus novelty is divided by the sum of the weights plus
// factor_max, so the result stays in [0,1] without truncation and an unused
// memory keeps its lead over a heavily used one at any priority.
package scoring

import (
	"math"
	"time"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/store"
)

// Input is the subset of overlay fields the formula reads.
type Input struct {
	UsageCount      int
	InitialPriority int
	LastAccessedAt  *time.Time
	CreatedAt       time.Time
}

// Components is the per-term breakdown of a score, for explain output.
type Components struct {
	Usage    float64 `json:"usage"`
	Recency  float64 `json:"recency"`
	Priority float64 `json:"priority"`
	Decay    float64 `json:"decay"`
	Novelty  float64 `json:"novelty"`
	Final    float64 `json:"final"`
}

// InputFromRecord converts an overlay record into a formula input.
func InputFromRecord(r *store.OverlayRecord) Input {
	in := Input{
		UsageCount:      r.UsageCount,
		InitialPriority: r.InitialPriority,
		CreatedAt:       time.UnixMilli(r.CreatedAt),
	}
	if r.LastAccessedAt != nil {
		t := time.UnixMilli(*r.LastAccessedAt)
		in.LastAccessedAt = &t
	}
	return in
}

// Calculate evaluates the dynamic score at now.
func Calculate(in Input, cfg config.ScoringConfig, now time.Time) Components {
	var c Components
	u := in.UsageCount
	if u < 0 {
		u = 0
	}

	sat := cfg.UsageSaturation
	if sat <= 0 {
		sat = 5
	}
	c.Usage = math.Min(1, math.Log1p(float64(u))/math.Log1p(float64(sat)))

	last := in.CreatedAt
	if in.LastAccessedAt != nil {
		last = *in.LastAccessedAt
	}
	c.Recency = halfLife(daysBetween(last, now), cfg.RecencyHalfLifeDays)

	p := in.InitialPriority
	if p < 1 {
		p = 1
	} else if p > 10 {
		p = 10
	}
	c.Priority = float64(p) / 10

	c.Decay = halfLife(daysBetween(in.CreatedAt, now), cfg.DecayHalfLifeDays)

	if t := cfg.NoveltyBoostThreshold; t > 0 && u < t {
		c.Novelty = cfg.NoveltyBoostFactorMax * (1 - float64(u)/float64(t))
	}

	sum := cfg.UsageWeight*c.Usage +
		cfg.RecencyWeight*c.Recency +
		cfg.PriorityWeight*c.Priority +
		cfg.DecayWeight*c.Decay +
		c.Novelty
	c.Final = clamp01(sum / maxScore(cfg))
	return c
}

// Score is Calculate(...).Final for an overlay record.
func Score(r *store.OverlayRecord, cfg config.ScoringConfig, now time.Time) float64 {
	return Calculate(InputFromRecord(r), cfg, now).Final
}

// maxScore is the largest weighted sum Calculate can produce.
func maxScore(cfg config.ScoringConfig) float64 {
	m := cfg.UsageWeight + cfg.RecencyWeight + cfg.PriorityWeight + cfg.DecayWeight
	if cfg.NoveltyBoostThreshold > 0 && cfg.NoveltyBoostFactorMax > 0 {
		m += cfg.NoveltyBoostFactorMax
	}
	if m <= 0 {
		return 1
	}
	return m
}

func halfLife(days, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * days / halfLifeDays)
}

// daysBetween returns non-negative fractional days from a to b.
func daysBetween(a, b time.Time) float64 {
	d := b.Sub(a).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
