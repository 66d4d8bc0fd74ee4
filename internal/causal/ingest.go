// Package causal writes suggested relationships back to the knowledge
// store and infers candidate links from causal language in memory text.
package causal

import (
	"context"
	"log/slog"

	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
)

// Report counts the outcome of one ingest batch.
type Report struct {
	Written           int `json:"written"`
	SkippedUnresolved int `json:"skipped_unresolved"`
	Failed            int `json:"failed"`
}

// Ingestor writes links whose endpoints both resolve in the knowledge store.
type Ingestor struct {
	Store knowledge.Store
	log   *slog.Logger
}

// NewIngestor creates an ingestor over store.
func NewIngestor(store knowledge.Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{Store: store, log: logging.OrDefault(logger)}
}

// Ingest never fails: per-link errors are logged and counted.
func (in *Ingestor) Ingest(ctx context.Context, links []memory.Link) Report {
	var rep Report
	resolved := make(map[string]bool)
	exists := func(id string) (bool, error) {
		if ok, seen := resolved[id]; seen {
			return ok, nil
		}
		m, err := in.Store.Get(ctx, id)
		if err != nil {
			return false, err
		}
		resolved[id] = m != nil
		return m != nil, nil
	}

	for _, l := range links {
		fromOK, err := exists(l.FromID)
		if err == nil && fromOK {
			var toOK bool
			toOK, err = exists(l.ToID)
			fromOK = toOK
		}
		if err != nil {
			in.log.Warn("resolve link endpoint", "from_id", l.FromID, "to_id", l.ToID, "error", err)
			rep.Failed++
			continue
		}
		if !fromOK {
			rep.SkippedUnresolved++
			continue
		}
		if err := in.Store.PutRelationship(ctx, l); err != nil {
			in.log.Warn("write relationship", "from_id", l.FromID, "to_id", l.ToID, "type", l.Type, "error", err)
			rep.Failed++
			continue
		}
		rep.Written++
	}
	if len(links) > 0 {
		in.log.Debug("links ingested", "written", rep.Written,
			"skipped_unresolved", rep.SkippedUnresolved, "failed", rep.Failed)
	}
	return rep
}
