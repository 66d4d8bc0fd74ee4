package index

import (
	"context"
	"fmt"
	"sync"
)

type vecDoc struct {
	text string
	vec  []float64
}

// Vector is a dense-embedding backend. Cosine similarities are clamped to
// [0,1]; documents are embedded once per distinct text.
type Vector struct {
	mu   sync.RWMutex
	emb  Embedder
	docs map[string]*vecDoc
}

// NewVector creates an empty vector index over emb.
func NewVector(emb Embedder) *Vector {
	return &Vector{emb: emb, docs: make(map[string]*vecDoc)}
}

// Index embeds new or changed documents. Embedding runs without the lock.
func (v *Vector) Index(ctx context.Context, docs ...Document) error {
	for _, d := range docs {
		v.mu.RLock()
		cur, ok := v.docs[d.ID]
		v.mu.RUnlock()
		if ok && cur.text == d.Text {
			continue
		}
		vec, err := v.emb.Embed(ctx, d.Text)
		if err != nil {
			return fmt.Errorf("embed %s: %w", d.ID, err)
		}
		v.mu.Lock()
		v.docs[d.ID] = &vecDoc{text: d.Text, vec: vec}
		v.mu.Unlock()
	}
	return nil
}

func (v *Vector) Remove(_ context.Context, id string) error {
	v.mu.Lock()
	delete(v.docs, id)
	v.mu.Unlock()
	return nil
}

func (v *Vector) Score(ctx context.Context, query string, ids []string) ([]Scored, error) {
	q, err := v.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Scored, 0, len(ids))
	for _, id := range ids {
		var s float64
		if d, ok := v.docs[id]; ok {
			s = clamp01(CosineSimilarity(q, d.vec))
		}
		out = append(out, Scored{ID: id, Score: s})
	}
	SortScored(out)
	return out, nil
}

func (v *Vector) Similarity(_ context.Context, a, b string) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	da, okA := v.docs[a]
	db, okB := v.docs[b]
	if !okA || !okB {
		return 0, nil
	}
	return clamp01(CosineSimilarity(da.vec, db.vec)), nil
}

func (v *Vector) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.docs)
}

// Scope returns v itself: embeddings do not depend on the rest of the
// corpus, so the cache is shared across compilations.
func (v *Vector) Scope() Backend { return v }
