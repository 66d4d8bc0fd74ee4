package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/store"
)

// Engine recalculates and persists dynamic scores in the overlay store.
type Engine struct {
	DB     *store.DB
	Config config.ScoringConfig
	Now    func() time.Time
	log    *slog.Logger
}

// NewEngine creates a scoring engine over the overlay store.
func NewEngine(db *store.DB, cfg config.ScoringConfig, logger *slog.Logger) *Engine {
	return &Engine{
		DB:     db,
		Config: cfg,
		Now:    time.Now,
		log:    logging.OrDefault(logger),
	}
}

// Recalculate recomputes and stores the score of one memory. A memory with
// no overlay record is a no-op.
func (e *Engine) Recalculate(ctx context.Context, memoryID string) (float64, error) {
	r, err := e.DB.GetRecord(memoryID)
	if err != nil {
		return 0, err
	}
	if r == nil {
		return 0, nil
	}
	score := Score(r, e.Config, e.Now())
	if err := e.DB.UpdateDynamicScore(memoryID, score); err != nil {
		return 0, err
	}
	return score, nil
}

// RecalculateMany recomputes the given memories in one write.
func (e *Engine) RecalculateMany(ctx context.Context, ids []string) error {
	recs, err := e.DB.GetRecords(ids)
	if err != nil {
		return err
	}
	now := e.Now()
	scores := make(map[string]float64, len(recs))
	for id, r := range recs {
		scores[id] = Score(r, e.Config, now)
	}
	return e.DB.UpdateDynamicScores(scores)
}

// RecalculateAll recomputes every overlay record. Returns the count updated.
func (e *Engine) RecalculateAll(ctx context.Context) (int, error) {
	recs, err := e.DB.ListRecords()
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	now := e.Now()
	scores := make(map[string]float64, len(recs))
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		scores[recs[i].MemoryID] = Score(&recs[i], e.Config, now)
	}
	if err := e.DB.UpdateDynamicScores(scores); err != nil {
		return 0, err
	}
	e.log.Debug("scores recalculated", "count", len(scores))
	return len(scores), nil
}

// EnsureScored lazily creates overlay records for memories seen for the
// first time and gives them an initial score. Returns the records for all
// of the given memories.
func (e *Engine) EnsureScored(ctx context.Context, mems []memory.Memory) (map[string]*store.OverlayRecord, error) {
	seeds := make([]store.Seed, len(mems))
	ids := make([]string, len(mems))
	for i, m := range mems {
		seeds[i] = store.Seed{
			MemoryID:        m.ID,
			InitialPriority: m.Importance,
			CreatedAt:       m.CreatedAt.UnixMilli(),
		}
		ids[i] = m.ID
	}
	created, err := e.DB.EnsureRecords(seeds)
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		if err := e.RecalculateMany(ctx, created); err != nil {
			return nil, fmt.Errorf("score new records: %w", err)
		}
		e.log.Debug("overlay records created", "count", len(created))
	}
	return e.DB.GetRecords(ids)
}

// Explain returns the score breakdown of an overlay record at the engine's now.
func (e *Engine) Explain(r *store.OverlayRecord) Components {
	return Calculate(InputFromRecord(r), e.Config, e.Now())
}
