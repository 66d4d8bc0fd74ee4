package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/lazypower/stage0/internal/config"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func defaults() config.ScoringConfig {
	return config.Default().Scoring
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateFreshMemory(t *testing.T) {
	c := Calculate(Input{UsageCount: 0, InitialPriority: 7, CreatedAt: now}, defaults(), now)

	if c.Usage != 0 {
		t.Errorf("usage = %v, want 0", c.Usage)
	}
	if !approx(c.Recency, 1) || !approx(c.Decay, 1) {
		t.Errorf("recency/decay = %v/%v, want 1/1", c.Recency, c.Decay)
	}
	if !approx(c.Priority, 0.7) {
		t.Errorf("priority = %v, want 0.7", c.Priority)
	}
	if !approx(c.Novelty, 0.5) {
		t.Errorf("novelty = %v, want 0.5", c.Novelty)
	}
	// (0.30 + 0.25*0.7 + 0.15 + 0.5) / 1.5
	if !approx(c.Final, 0.75) {
		t.Errorf("final = %v, want 0.75", c.Final)
	}
}

func TestUsageSubLinear(t *testing.T) {
	cfg := defaults()
	prev := -1.0
	prevGain := math.Inf(1)
	for u := 0; u <= 5; u++ {
		c := Calculate(Input{UsageCount: u, InitialPriority: 5, CreatedAt: now}, cfg, now)
		if c.Usage <= prev {
			t.Errorf("usage(%d) = %v not increasing", u, c.Usage)
		}
		if u > 0 {
			gain := c.Usage - prev
			if gain >= prevGain {
				t.Errorf("usage gain at %d = %v, want diminishing", u, gain)
			}
			prevGain = gain
		}
		prev = c.Usage
	}
	c := Calculate(Input{UsageCount: 500, InitialPriority: 5, CreatedAt: now}, cfg, now)
	if c.Usage != 1 {
		t.Errorf("usage(500) = %v, want capped at 1", c.Usage)
	}
}

func TestRecencyHalfLife(t *testing.T) {
	cfg := defaults()
	last := now.Add(-7 * 24 * time.Hour)
	c := Calculate(Input{InitialPriority: 5, CreatedAt: last, LastAccessedAt: &last}, cfg, now)
	if !approx(c.Recency, 0.5) {
		t.Errorf("recency after one half-life = %v, want 0.5", c.Recency)
	}
}

func TestRecencyFallsBackToCreatedAt(t *testing.T) {
	cfg := defaults()
	created := now.Add(-14 * 24 * time.Hour)
	c := Calculate(Input{InitialPriority: 5, CreatedAt: created}, cfg, now)
	if !approx(c.Recency, 0.25) {
		t.Errorf("recency = %v, want 0.25", c.Recency)
	}
}

func TestDecayPenalizesAge(t *testing.T) {
	cfg := defaults()
	created := now.Add(-30 * 24 * time.Hour)
	recent := now
	c := Calculate(Input{UsageCount: 10, InitialPriority: 5, CreatedAt: created, LastAccessedAt: &recent}, cfg, now)
	if !approx(c.Decay, 0.5) {
		t.Errorf("decay after 30 days = %v, want 0.5", c.Decay)
	}
}

func TestPriorityClamped(t *testing.T) {
	cfg := defaults()
	for _, tt := range []struct {
		p    int
		want float64
	}{{0, 0.1}, {1, 0.1}, {10, 1}, {42, 1}} {
		c := Calculate(Input{InitialPriority: tt.p, CreatedAt: now}, cfg, now)
		if !approx(c.Priority, tt.want) {
			t.Errorf("priority(%d) = %v, want %v", tt.p, c.Priority, tt.want)
		}
	}
}

func TestNoveltyDecay(t *testing.T) {
	// Lower the weights so the boost dominates the other terms.
	cfg := defaults()
	cfg.UsageWeight, cfg.RecencyWeight, cfg.PriorityWeight, cfg.DecayWeight = 0.1, 0.1, 0.1, 0.1
	old := now.Add(-60 * 24 * time.Hour)

	fresh := Calculate(Input{UsageCount: 0, InitialPriority: 5, CreatedAt: old, LastAccessedAt: &old}, cfg, now)
	used := Calculate(Input{UsageCount: cfg.NoveltyBoostThreshold, InitialPriority: 5, CreatedAt: old, LastAccessedAt: &old}, cfg, now)

	if !(fresh.Final > used.Final) {
		t.Errorf("unused %v should outrank used-at-threshold %v", fresh.Final, used.Final)
	}
	if used.Novelty != 0 {
		t.Errorf("novelty at threshold = %v, want 0", used.Novelty)
	}

	mid := Calculate(Input{UsageCount: 2, InitialPriority: 5, CreatedAt: old, LastAccessedAt: &old}, cfg, now)
	if !approx(mid.Novelty, 0.5*(1-2.0/5)) {
		t.Errorf("novelty(2) = %v, want linear taper", mid.Novelty)
	}
}

func TestNoveltyDecayAtTopPriority(t *testing.T) {
	cfg := defaults()
	fresh := Calculate(Input{UsageCount: 0, InitialPriority: 10, CreatedAt: now, LastAccessedAt: &now}, cfg, now)
	used := Calculate(Input{UsageCount: cfg.NoveltyBoostThreshold, InitialPriority: 10, CreatedAt: now, LastAccessedAt: &now}, cfg, now)
	if !(fresh.Final > used.Final) {
		t.Errorf("unused %v should outrank used-at-threshold %v", fresh.Final, used.Final)
	}
	if fresh.Final > 1 || used.Final > 1 {
		t.Errorf("finals %v/%v exceed 1", fresh.Final, used.Final)
	}
}

func TestCalculateZeroWeights(t *testing.T) {
	cfg := config.ScoringConfig{}
	c := Calculate(Input{UsageCount: 3, InitialPriority: 7, CreatedAt: now}, cfg, now)
	if c.Final != 0 {
		t.Errorf("final = %v, want 0 with every weight zero", c.Final)
	}
}

func TestNoveltyDecayDefaults(t *testing.T) {
	cfg := defaults()
	old := now.Add(-20 * 24 * time.Hour)
	unused := Calculate(Input{UsageCount: 0, InitialPriority: 7, CreatedAt: old, LastAccessedAt: &old}, cfg, now)
	used := Calculate(Input{UsageCount: 5, InitialPriority: 7, CreatedAt: old, LastAccessedAt: &old}, cfg, now)
	if !(unused.Final > used.Final) {
		t.Errorf("unused %v should outrank used %v", unused.Final, used.Final)
	}
}

func TestCalculateDeterministic(t *testing.T) {
	cfg := defaults()
	last := now.Add(-36 * time.Hour)
	in := Input{UsageCount: 3, InitialPriority: 8, CreatedAt: now.Add(-72 * time.Hour), LastAccessedAt: &last}
	a := Calculate(in, cfg, now)
	b := Calculate(in, cfg, now)
	if a != b {
		t.Errorf("Calculate not deterministic: %+v vs %+v", a, b)
	}
	if a.Final < 0 || a.Final > 1 {
		t.Errorf("final = %v out of [0,1]", a.Final)
	}
}
