package stage0

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/guardian"
	"github.com/lazypower/stage0/internal/knowledge"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/store"
	"github.com/lazypower/stage0/internal/tier2"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

const spec = "Tune sqlite busy timeout and WAL mode for the overlay writers"

type fixture struct {
	eng  *Engine
	ks   *knowledge.SQLite
	db   *store.DB
	mock *tier2.MockClient
}

// newFixture builds an engine with default scoring over two db memories.
func newFixture(t *testing.T, mock *tier2.MockClient, mutate func(*config.Config)) *fixture {
	t.Helper()
	ks, err := knowledge.OpenSQLiteMemory()
	require.NoError(t, err)
	t.Cleanup(func() { ks.Close() })
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Tier2.CallTimeout = config.Duration{Duration: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}

	var client tier2.Client
	if mock != nil {
		client = mock
	}
	eng := New(Options{
		Config:      cfg,
		Knowledge:   ks,
		Overlay:     db,
		Tier2Client: client,
		Quota:       tier2.NewMemoryQuota(0),
		Logger:      logging.Discard(),
	})
	setNow(eng, t0.Add(24*time.Hour))

	for _, m := range []memory.Memory{
		{ID: "m1", Content: "Set busy timeout to five seconds on sqlite writers", Domain: "db", Importance: 8},
		{ID: "m2", Content: "WAL mode lets readers proceed during overlay writes", Domain: "db", Importance: 6},
	} {
		m.CreatedAt = t0
		require.NoError(t, ks.Create(context.Background(), &m))
	}
	return &fixture{eng: eng, ks: ks, db: db, mock: mock}
}

func setNow(eng *Engine, at time.Time) {
	now := func() time.Time { return at }
	eng.Now = now
	eng.Scoring.Now = now
	eng.Cache.Now = now
}

func synthesis() *tier2.Response {
	return &tier2.Response{Synthesis: "## Executive Summary\nKeep WAL on.", Provider: "mock"}
}

func TestRunDisabled(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{}, func(c *config.Config) { c.Enabled = false })
	res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, SkipDisabled, res.SkipReason)
	assert.Empty(t, res.BriefingMarkdown)
	assert.Equal(t, 0, f.mock.CallCount())
}

func TestRunTier2DisabledRecordsUsage(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{}, func(c *config.Config) { c.Tier2.Enabled = false })
	res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, SkipTier2Disabled, res.SkipReason)
	assert.False(t, res.Tier2Used)
	assert.Contains(t, res.BriefingMarkdown, "# Task Brief: s1")
	assert.ElementsMatch(t, []string{"m1", "m2"}, res.MemoriesUsed)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 0, f.mock.CallCount())

	for _, id := range res.MemoriesUsed {
		r, err := f.db.GetRecord(id)
		require.NoError(t, err)
		require.NotNil(t, r)
		assert.Equal(t, 1, r.UsageCount, id)
		require.NotNil(t, r.LastAccessedAt)
		assert.Equal(t, t0.Add(24*time.Hour).UnixMilli(), *r.LastAccessedAt)
	}
}

func TestRunCachesSynthesis(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	ctx := context.Background()

	first, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.True(t, first.Tier2Used)
	assert.Empty(t, first.SkipReason)
	assert.Equal(t, "## Executive Summary\nKeep WAL on.", first.DivineTruth)

	second, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.BriefHash, second.BriefHash)
	assert.Equal(t, first.MemoriesUsed, second.MemoriesUsed)
	assert.True(t, second.CacheHit)
	assert.True(t, second.Tier2Used)
	assert.Equal(t, first.DivineTruth, second.DivineTruth)
	assert.Equal(t, 1, f.mock.CallCount())

	key := tier2.CacheKey(tier2.ComputeHash(spec), first.BriefHash)
	e, err := f.db.GetCacheEntry(key)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, 1, e.HitCount)

	deps, err := f.db.CacheDependencies(key)
	require.NoError(t, err)
	assert.ElementsMatch(t, first.MemoriesUsed, deps)

	_, err = f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	e, _ = f.db.GetCacheEntry(key)
	assert.Equal(t, 2, e.HitCount)
	assert.Equal(t, 1, f.mock.CallCount())
}

func TestRunCacheSurvivesScoreChurn(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	setNow(f.eng, t0.Add(120*24*time.Hour))
	ctx := context.Background()

	first, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	before, err := f.db.GetRecord("m1")
	require.NoError(t, err)

	second, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	after, err := f.db.GetRecord("m1")
	require.NoError(t, err)

	require.NotNil(t, before)
	require.NotNil(t, after)
	assert.Equal(t, 1, before.UsageCount)
	assert.Equal(t, 2, after.UsageCount)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.BriefHash, second.BriefHash)
	assert.Equal(t, 1, f.mock.CallCount())
}

func TestRunTier2Timeout(t *testing.T) {
	mock := &tier2.MockClient{Response: synthesis(), Delay: 500 * time.Millisecond}
	f := newFixture(t, mock, func(c *config.Config) {
		c.Tier2.CallTimeout = config.Duration{Duration: 50 * time.Millisecond}
	})

	start := time.Now()
	res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, SkipTier2Timeout, res.SkipReason)
	assert.False(t, res.Tier2Used)
	assert.Empty(t, res.DivineTruth)
	assert.NotEmpty(t, res.BriefingMarkdown)

	stats, err := f.eng.CacheStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Entries)
}

func TestRunSkipReasons(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"malformed", tier2.ErrMalformedResponse, SkipTier2Malformed},
		{"unavailable", errors.New("connection reset"), SkipTier2Unavailable},
		{"quota", tier2.ErrQuotaExhausted, SkipTier2Quota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &tier2.MockClient{Err: tt.err}, nil)
			res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.SkipReason)
			assert.False(t, res.Tier2Used)
		})
	}
}

func TestRunQuotaExhausted(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	f.eng.Tier2.Quota = tier2.NewMemoryQuota(1)
	ctx := context.Background()

	first, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.True(t, first.Tier2Used)

	second, err := f.eng.Run(ctx, "s2", "Add chi middleware for request IDs", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, SkipTier2Quota, second.SkipReason)
	assert.Equal(t, 1, f.mock.CallCount())
}

func TestRunNoTier2Client(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, SkipTier2Unavailable, res.SkipReason)
}

type downStore struct{ knowledge.Store }

func (downStore) Search(context.Context, knowledge.Query) ([]memory.Memory, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestRunKnowledgeUnavailable(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	f.eng.Compiler.Knowledge = downStore{}

	res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, SkipKnowledge, res.SkipReason)
	assert.Empty(t, res.MemoriesUsed)
	assert.Contains(t, res.BriefingMarkdown, "## Memory Context")
	assert.Equal(t, 0, f.mock.CallCount())
}

func TestRunIngestsFilteredLinks(t *testing.T) {
	resp := synthesis()
	resp.SuggestedLinks = []memory.Link{
		{FromID: "m1", ToID: "m2", Type: "causes", Confidence: 0.8, Reasoning: "timeout needs WAL"},
		{FromID: "m1", ToID: "ghost", Type: "causes", Confidence: 0.9},
		{FromID: "m2", ToID: "m2", Type: "expands", Confidence: 0.5},
	}
	f := newFixture(t, &tier2.MockClient{Response: resp}, nil)

	res, err := f.eng.Run(context.Background(), "s1", spec, RunOptions{})
	require.NoError(t, err)
	require.Len(t, res.SuggestedLinks, 1)
	assert.Equal(t, 1, res.LinksWritten)

	rels, err := f.ks.Relationships(context.Background(), "m1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "m2", rels[0].ToID)
}

func TestUpdateMemoryInvalidatesCache(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	ctx := context.Background()

	_, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	stats, _ := f.eng.CacheStats(ctx)
	require.Equal(t, 1, stats.Entries)

	_, err = f.eng.UpdateMemory(ctx, "m1", guardian.Draft{
		Content: "Set busy timeout to ten seconds on sqlite writers",
		Agent:   "tester",
	})
	require.NoError(t, err)

	stats, _ = f.eng.CacheStats(ctx)
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, 0, stats.Dependencies)

	res, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Contains(t, res.BriefingMarkdown, "ten seconds")
	assert.Equal(t, 2, f.mock.CallCount())
}

func TestInvalidateMemory(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	ctx := context.Background()

	_, err := f.eng.Run(ctx, "s1", spec, RunOptions{})
	require.NoError(t, err)
	_, err = f.eng.Run(ctx, "s2", "Document WAL mode for overlay readers", RunOptions{})
	require.NoError(t, err)

	n, err := f.eng.InvalidateMemory(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.eng.InvalidateMemory(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCompileRecordsNothing(t *testing.T) {
	f := newFixture(t, &tier2.MockClient{Response: synthesis()}, nil)
	res, err := f.eng.Compile(context.Background(), "s1", spec, RunOptions{Explain: true})
	require.NoError(t, err)
	require.NotNil(t, res.Explain)
	assert.NotEmpty(t, res.Selected)

	r, err := f.db.GetRecord(res.Selected[0].MemoryID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 0, r.UsageCount)
	assert.Nil(t, r.LastAccessedAt)
	assert.Equal(t, 0, f.mock.CallCount())
}

func TestWriteMemoryInfersLinks(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	peer := memory.Memory{ID: "p1", Content: "Readers blocked by long transactions in the overlay database", Domain: "db", CreatedAt: t0}
	require.NoError(t, f.ks.Create(ctx, &peer))

	res, err := f.eng.WriteMemory(ctx, guardian.Draft{
		Content:   "Long transactions in the overlay database caused readers to block",
		Domain:    "db",
		Kind:      "problem",
		Agent:     "tester",
		CreatedAt: "2026-05-02T09:00:00Z",
	}, WriteOptions{InferLinks: true})
	require.NoError(t, err)
	require.NotNil(t, res.Memory)
	assert.Contains(t, res.Memory.Content, "[PROBLEM]:")

	require.NotEmpty(t, res.Links)
	assert.Equal(t, "p1", res.Links[0].ToID)
	assert.Equal(t, memory.RelCauses, res.Links[0].Type)
	assert.Equal(t, len(res.Links), res.Report.Written)

	r, err := f.db.GetRecord(res.Memory.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, store.StructureStructured, r.StructureStatus)
}
