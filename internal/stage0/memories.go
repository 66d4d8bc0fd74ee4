package stage0

import (
	"context"

	"github.com/lazypower/stage0/internal/causal"
	"github.com/lazypower/stage0/internal/guardian"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/memory"
)

// WriteOptions adjust a guarded write.
type WriteOptions struct {
	// InferLinks proposes causal links from the new memory to others in
	// its domain and writes them through the ingestor.
	InferLinks bool
}

// WriteResult is a created memory plus any inferred links.
type WriteResult struct {
	Memory *memory.Memory `json:"memory"`
	Links  []memory.Link  `json:"links,omitempty"`
	Report causal.Report  `json:"report"`
}

// WriteMemory creates a memory through both guardians.
func (e *Engine) WriteMemory(ctx context.Context, d guardian.Draft, opts WriteOptions) (*WriteResult, error) {
	m, err := e.Writer.Create(ctx, d)
	if err != nil {
		return nil, err
	}

	res := &WriteResult{Memory: m}
	if !opts.InferLinks {
		return res, nil
	}
	peers, err := e.Knowledge.Search(ctx, knowledge.Query{Domain: m.Domain, Limit: e.Config.Context.PreFilterLimit})
	if err != nil {
		e.log.Warn("link inference skipped", "memory_id", m.ID, "err", err)
		return res, nil
	}
	res.Links = causal.Infer(m.ID, m.Content, peers, causal.InferOptions{})
	res.Report = e.Ingestor.Ingest(ctx, res.Links)
	return res, nil
}

// UpdateMemory rewrites a memory through both guardians. Dependent cache
// entries are invalidated and any cached embedding dropped.
func (e *Engine) UpdateMemory(ctx context.Context, id string, d guardian.Draft) (*memory.Memory, error) {
	return e.Writer.Update(ctx, id, d)
}
