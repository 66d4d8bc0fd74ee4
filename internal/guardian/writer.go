package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/scoring"
	"github.com/lazypower/stage0/internal/store"
)

// Writer is the guarded write path: both guardians, then the knowledge
// store, then the overlay record.
type Writer struct {
	Store    knowledge.Store
	Scoring  *scoring.Engine
	Metadata Metadata
	Template Template

	// OnUpdate runs after a successful update, e.g. cache invalidation.
	OnUpdate func(ctx context.Context, m *memory.Memory) error

	log *slog.Logger
}

// NewWriter creates a writer from the guardian config.
func NewWriter(ks knowledge.Store, se *scoring.Engine, cfg config.GuardianConfig, logger *slog.Logger) *Writer {
	return &Writer{
		Store:   ks,
		Scoring: se,
		Metadata: Metadata{
			Strict:          cfg.StrictMetadata,
			DefaultPriority: cfg.DefaultPriority,
			DefaultAgent:    cfg.DefaultAgent,
		},
		log: logging.OrDefault(logger),
	}
}

// Prepare runs both guardians without writing.
func (w *Writer) Prepare(d Draft) (*Normalized, error) {
	n, err := w.Metadata.Apply(d)
	if err != nil {
		return nil, err
	}
	n.Memory.Content = w.Template.Format(n.Kind, n.Memory.Content)
	return n, nil
}

// Create writes a new memory and seeds its overlay record.
func (w *Writer) Create(ctx context.Context, d Draft) (*memory.Memory, error) {
	n, err := w.Prepare(d)
	if err != nil {
		return nil, err
	}
	m := n.Memory
	if err := w.Store.Create(ctx, &m); err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}
	if err := w.seed(ctx, &m, n.Priority); err != nil {
		return &m, err
	}
	w.log.Info("memory created", "memory_id", m.ID, "kind", n.Kind, "agent", n.Agent)
	return &m, nil
}

// Update rewrites an existing memory. Fields missing from d keep their
// stored values; created_at is always the stored one.
func (w *Writer) Update(ctx context.Context, id string, d Draft) (*memory.Memory, error) {
	cur, err := w.Store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	if cur == nil {
		return nil, fmt.Errorf("update memory %s: %w", id, knowledge.ErrNotFound)
	}

	d.ID = id
	d.CreatedAt = cur.CreatedAt.UTC().Format(time.RFC3339)
	if d.Content == "" {
		d.Content = cur.Content
	}
	if d.Domain == "" {
		d.Domain = cur.Domain
	}
	if d.Tags == nil {
		d.Tags = cur.Tags
	}
	if d.Priority == 0 {
		d.Priority = cur.Importance
	}
	if d.UpdatedAt == "" {
		d.UpdatedAt = w.Metadata.now().Format(time.RFC3339)
	}

	n, err := w.Prepare(d)
	if err != nil {
		return nil, err
	}
	m := n.Memory
	if err := w.Store.Update(ctx, &m); err != nil {
		return nil, fmt.Errorf("update memory: %w", err)
	}
	if err := w.seed(ctx, &m, n.Priority); err != nil {
		return &m, err
	}
	if w.OnUpdate != nil {
		if err := w.OnUpdate(ctx, &m); err != nil {
			return &m, fmt.Errorf("after update: %w", err)
		}
	}
	w.log.Info("memory updated", "memory_id", m.ID, "kind", n.Kind)
	return &m, nil
}

func (w *Writer) seed(ctx context.Context, m *memory.Memory, priority int) error {
	if w.Scoring == nil {
		return nil
	}
	if _, err := w.Scoring.EnsureScored(ctx, []memory.Memory{*m}); err != nil {
		return fmt.Errorf("seed overlay: %w", err)
	}
	db := w.Scoring.DB
	if err := db.SetInitialPriority(m.ID, priority); err != nil {
		return err
	}
	if err := db.SetStructureStatus(m.ID, store.StructureStructured); err != nil {
		return err
	}
	if _, err := w.Scoring.Recalculate(ctx, m.ID); err != nil {
		return fmt.Errorf("score memory: %w", err)
	}
	return nil
}
