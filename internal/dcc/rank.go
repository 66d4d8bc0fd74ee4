package dcc

import (
	"context"
	"fmt"
	"sort"

	"github.com/lazypower/stage0/internal/index"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/store"
)

// tieEpsilon treats scores this close as equal.
const tieEpsilon = 1e-9

// rank fuses similarity with the stored dynamic score and adds the optional
// tag boost. Output is ordered by combined score, then recency of access,
// then ID.
func (c *Compiler) rank(ctx context.Context, ix index.Backend, query string, optionalTags []string,
	mems []memory.Memory, recs map[string]*store.OverlayRecord) ([]Candidate, error) {
	if len(mems) == 0 {
		return nil, nil
	}
	ids := make([]string, len(mems))
	for i, m := range mems {
		ids[i] = m.ID
	}
	scored, err := ix.Score(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}
	sim := make(map[string]float64, len(scored))
	for _, s := range scored {
		sim[s.ID] = s.Score
	}

	out := make([]Candidate, len(mems))
	for i, m := range mems {
		cand := Candidate{MemoryID: m.ID, Similarity: sim[m.ID], Memory: m}
		if r := recs[m.ID]; r != nil {
			cand.Dynamic = r.DynamicScore
			cand.LastAccessedAt = r.LastActivity()
		}
		cand.TagBoost = tagBoost(&m, optionalTags, c.Config.OptionalTagBoost)
		cand.Combined = clamp01(c.Config.SemanticSimilarityWeight*cand.Similarity +
			c.Config.DynamicScoreWeight*cand.Dynamic + cand.TagBoost)
		out[i] = cand
	}
	sort.SliceStable(out, func(i, j int) bool { return ranksAbove(out[i], out[j]) })
	return out, nil
}

// ranksAbove orders by combined score, treating scores within tieEpsilon
// as equal and falling back to preferred.
func ranksAbove(a, b Candidate) bool {
	if d := a.Combined - b.Combined; d > tieEpsilon || d < -tieEpsilon {
		return d > 0
	}
	return preferred(a, b)
}

// tagBoost is weight scaled by the fraction of optional tags m carries.
func tagBoost(m *memory.Memory, optional []string, weight float64) float64 {
	if weight <= 0 || len(optional) == 0 {
		return 0
	}
	n := 0
	for _, t := range optional {
		if m.HasTag(t) {
			n++
		}
	}
	return weight * float64(n) / float64(len(optional))
}

// preferred is the tie-break: more recent access first, then smaller ID.
func preferred(a, b Candidate) bool {
	if a.LastAccessedAt != b.LastAccessedAt {
		return a.LastAccessedAt > b.LastAccessedAt
	}
	return a.MemoryID < b.MemoryID
}

// selectDiverse is greedy MMR: each step takes the candidate maximizing
// λ·combined − (1−λ)·max similarity to anything already selected.
func (c *Compiler) selectDiverse(ctx context.Context, ix index.Backend, cands []Candidate) ([]Candidate, error) {
	k := c.Config.TopK
	if k <= 0 || len(cands) == 0 {
		return nil, nil
	}
	if k > len(cands) {
		k = len(cands)
	}
	lambda := c.Config.DiversityLambda

	remaining := append([]Candidate(nil), cands...)
	maxSim := make([]float64, len(remaining))
	selected := make([]Candidate, 0, k)

	for len(selected) < k {
		best := -1
		var bestScore float64
		for i, cand := range remaining {
			score := lambda*cand.Combined - (1-lambda)*maxSim[i]
			switch {
			case best < 0, score > bestScore+tieEpsilon:
				best, bestScore = i, score
			case score >= bestScore-tieEpsilon && preferred(cand, remaining[best]):
				best, bestScore = i, score
			}
		}

		pick := remaining[best]
		selected = append(selected, pick)
		remaining = append(remaining[:best], remaining[best+1:]...)
		maxSim = append(maxSim[:best], maxSim[best+1:]...)
		if len(selected) == k {
			break
		}

		for i, cand := range remaining {
			s, err := ix.Similarity(ctx, cand.MemoryID, pick.MemoryID)
			if err != nil {
				return nil, fmt.Errorf("similarity %s/%s: %w", cand.MemoryID, pick.MemoryID, err)
			}
			if s > maxSim[i] {
				maxSim[i] = s
			}
		}
	}
	return selected, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
