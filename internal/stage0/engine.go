// Package stage0 wires the compiler, the Tier2 cache and client, the causal
// ingestor and the guardians into a single engine the surfaces call.
package stage0

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lazypower/stage0/internal/causal"
	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/dcc"
	"github.com/lazypower/stage0/internal/guardian"
	"github.com/lazypower/stage0/internal/index"
	"github.com/lazypower/stage0/internal/iqo"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/llm"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/scoring"
	"github.com/lazypower/stage0/internal/store"
	"github.com/lazypower/stage0/internal/tier2"
)

// Engine is the Stage0 entry point.
type Engine struct {
	Config    config.Config
	Knowledge knowledge.Store
	Overlay   *store.DB
	Scoring   *scoring.Engine
	Compiler  *dcc.Compiler
	Extractor iqo.Extractor
	Cache     *tier2.Cache
	Tier2     *tier2.Caller // nil when no Tier2 client could be built
	Ingestor  *causal.Ingestor
	Writer    *guardian.Writer
	Now       func() time.Time

	log *slog.Logger
}

// Options are the collaborators of New. Nil fields get defaults.
type Options struct {
	Config      config.Config
	Knowledge   knowledge.Store
	Overlay     *store.DB
	Index       index.Backend
	Extractor   iqo.Extractor
	Tier2Client tier2.Client
	Quota       tier2.Quota
	Logger      *slog.Logger
}

// New assembles an engine from already-open stores.
func New(o Options) *Engine {
	log := logging.OrDefault(o.Logger)
	cfg := o.Config

	se := scoring.NewEngine(o.Overlay, cfg.Scoring, log)
	e := &Engine{
		Config:    cfg,
		Knowledge: o.Knowledge,
		Overlay:   o.Overlay,
		Scoring:   se,
		Compiler:  dcc.NewCompiler(o.Knowledge, se, o.Index, cfg.Context, log),
		Extractor: o.Extractor,
		Cache:     tier2.NewCache(o.Overlay, cfg.CacheTTL()),
		Ingestor:  causal.NewIngestor(o.Knowledge, log),
		Writer:    guardian.NewWriter(o.Knowledge, se, cfg.Guardians, log),
		Now:       time.Now,
		log:       log,
	}
	if e.Extractor == nil {
		e.Extractor = iqo.Heuristic{}
	}
	if o.Tier2Client != nil {
		q := o.Quota
		if q == nil {
			q = tier2.NewLedgerQuota(o.Overlay, cfg.Tier2.DailyQuota)
		}
		e.Tier2 = tier2.NewCaller(o.Tier2Client, q, cfg.Tier2.CallTimeout.Duration, log)
	}
	e.Writer.OnUpdate = e.afterUpdate
	return e
}

// Open builds an engine from config: the overlay database, the knowledge
// store, the retrieval backend and the LLM-backed clients.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, func() error, error) {
	log := logging.OrDefault(logger)

	path := cfg.Database.OverlayPath
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, nil, err
	}

	ks, closeKS, err := knowledge.Open(cfg.Knowledge)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	closeAll := func() error {
		kerr := closeKS()
		if err := db.Close(); err != nil {
			return err
		}
		return kerr
	}

	o := Options{
		Config:    cfg,
		Knowledge: ks,
		Overlay:   db,
		Index:     openIndex(ctx, cfg.Context, log),
		Logger:    log,
	}
	if cfg.Context.IntentExtractor == "llm" {
		if c, err := llm.NewClient(cfg.LLM); err != nil {
			log.Warn("intent llm unavailable, using heuristic", "err", err)
		} else {
			o.Extractor = &iqo.LLM{Client: c}
		}
	}
	if cfg.Tier2.Enabled {
		if c, err := llm.NewClient(tier2LLMConfig(cfg)); err != nil {
			log.Warn("tier2 client unavailable", "err", err)
		} else {
			o.Tier2Client = tier2.NewLLMClient(c)
		}
	}

	e := New(o)
	if cfg.Context.CodeEnabled && cfg.Context.CodeRoot != "" {
		if err := e.Compiler.LoadCode(cfg.Context.CodeRoot, ""); err != nil {
			log.Warn("code lane disabled", "code_root", cfg.Context.CodeRoot, "err", err)
		}
	}
	return e, closeAll, nil
}

func openIndex(ctx context.Context, cfg config.ContextConfig, log *slog.Logger) index.Backend {
	lex := index.NewLexical()
	if cfg.Backend != "hybrid" {
		return lex
	}
	if !index.ProbeOllama(ctx, cfg.EmbedURL, cfg.EmbedModel) {
		log.Warn("embedding server unreachable, using lexical backend", "embed_url", cfg.EmbedURL)
		return lex
	}
	vec := index.NewVector(index.NewOllamaEmbedder(cfg.EmbedURL, cfg.EmbedModel))
	return index.NewHybrid(lex, vec, cfg.HybridLexicalWeight)
}

// tier2LLMConfig overlays the [tier2] provider settings on [llm].
func tier2LLMConfig(cfg config.Config) config.LLMConfig {
	lc := cfg.LLM
	if cfg.Tier2.Provider != "" && cfg.Tier2.Provider != lc.Provider {
		lc.Provider = cfg.Tier2.Provider
		lc.Model = ""
	}
	if cfg.Tier2.Model != "" {
		lc.Model = cfg.Tier2.Model
	}
	if cfg.Tier2.MaxOutputTokens > 0 {
		lc.MaxTokens = cfg.Tier2.MaxOutputTokens
	}
	return lc
}

// afterUpdate keeps the cache and index consistent with an edited memory.
func (e *Engine) afterUpdate(ctx context.Context, m *memory.Memory) error {
	if _, err := e.InvalidateMemory(ctx, m.ID); err != nil {
		return err
	}
	return e.Compiler.Index.Remove(ctx, m.ID)
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// InvalidateMemory drops every cache entry that depended on memoryID.
func (e *Engine) InvalidateMemory(_ context.Context, memoryID string) (int, error) {
	n, err := e.Cache.InvalidateByMemory(memoryID)
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", memoryID, err)
	}
	if n > 0 {
		e.log.Info("cache invalidated", "memory_id", memoryID, "entries", n)
	}
	return n, nil
}

// RecalculateScores runs the full scoring pass.
func (e *Engine) RecalculateScores(ctx context.Context) (int, error) {
	return e.Scoring.RecalculateAll(ctx)
}

// PruneCache deletes expired cache entries.
func (e *Engine) PruneCache(_ context.Context) (int, error) {
	return e.Cache.Prune()
}

// CacheStats reports the cache contents.
func (e *Engine) CacheStats(_ context.Context) (*store.CacheStats, error) {
	return e.Cache.Stats()
}

// TopMemories lists overlay records by dynamic score.
func (e *Engine) TopMemories(_ context.Context, limit int) ([]store.OverlayRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.Overlay.TopByScore(limit)
}
