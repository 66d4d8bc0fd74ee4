package index

import (
	"context"
	"fmt"
)

// Hybrid blends two backends linearly: w*primary + (1-w)*secondary.
// Both receive every Index and Remove.
type Hybrid struct {
	Primary       Backend
	Secondary     Backend
	PrimaryWeight float64
}

// NewHybrid creates a hybrid backend. weight is clamped to [0,1].
func NewHybrid(primary, secondary Backend, weight float64) *Hybrid {
	return &Hybrid{Primary: primary, Secondary: secondary, PrimaryWeight: clamp01(weight)}
}

func (h *Hybrid) Index(ctx context.Context, docs ...Document) error {
	if err := h.Primary.Index(ctx, docs...); err != nil {
		return fmt.Errorf("index primary: %w", err)
	}
	if err := h.Secondary.Index(ctx, docs...); err != nil {
		return fmt.Errorf("index secondary: %w", err)
	}
	return nil
}

func (h *Hybrid) Remove(ctx context.Context, id string) error {
	if err := h.Primary.Remove(ctx, id); err != nil {
		return err
	}
	return h.Secondary.Remove(ctx, id)
}

func (h *Hybrid) Score(ctx context.Context, query string, ids []string) ([]Scored, error) {
	p, err := h.Primary.Score(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("score primary: %w", err)
	}
	s, err := h.Secondary.Score(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("score secondary: %w", err)
	}
	second := make(map[string]float64, len(s))
	for _, sc := range s {
		second[sc.ID] = sc.Score
	}
	out := make([]Scored, len(p))
	for i, sc := range p {
		out[i] = Scored{ID: sc.ID, Score: h.blend(sc.Score, second[sc.ID])}
	}
	SortScored(out)
	return out, nil
}

func (h *Hybrid) Similarity(ctx context.Context, a, b string) (float64, error) {
	p, err := h.Primary.Similarity(ctx, a, b)
	if err != nil {
		return 0, err
	}
	s, err := h.Secondary.Similarity(ctx, a, b)
	if err != nil {
		return 0, err
	}
	return h.blend(p, s), nil
}

func (h *Hybrid) Len() int { return h.Primary.Len() }

func (h *Hybrid) Scope() Backend {
	return NewHybrid(h.Primary.Scope(), h.Secondary.Scope(), h.PrimaryWeight)
}

func (h *Hybrid) blend(p, s float64) float64 {
	return clamp01(h.PrimaryWeight*p + (1-h.PrimaryWeight)*s)
}
