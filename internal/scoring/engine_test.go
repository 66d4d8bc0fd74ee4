package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	e := NewEngine(db, defaults(), logging.Discard())
	e.Now = func() time.Time { return now }
	return e
}

func TestEnsureScoredCreatesAndScores(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	mems := []memory.Memory{
		{ID: "a", Importance: 9, CreatedAt: now.Add(-90 * 24 * time.Hour)},
		{ID: "b", Importance: 0, CreatedAt: now},
	}
	recs, err := e.EnsureScored(ctx, mems)
	if err != nil {
		t.Fatalf("EnsureScored: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs["a"].InitialPriority != 9 {
		t.Errorf("a priority = %d, want 9", recs["a"].InitialPriority)
	}
	if recs["b"].InitialPriority != store.DefaultPriority {
		t.Errorf("b priority = %d, want default", recs["b"].InitialPriority)
	}
	for id, r := range recs {
		if r.DynamicScore <= 0 {
			t.Errorf("%s score = %v, want initial score", id, r.DynamicScore)
		}
	}
}

func TestRecalculateIdempotentAndOrderIndependent(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	old := now.Add(-40 * 24 * time.Hour)
	e.DB.EnsureRecords([]store.Seed{
		{MemoryID: "a", InitialPriority: 3, CreatedAt: old.UnixMilli()},
		{MemoryID: "b", InitialPriority: 8, CreatedAt: old.UnixMilli()},
	})
	e.DB.RecordAccess([]string{"a", "a", "b"}, old.Add(24*time.Hour))

	if _, err := e.Recalculate(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Recalculate(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	first, _ := e.DB.GetRecords([]string{"a", "b"})

	n, err := e.RecalculateAll(ctx)
	if err != nil {
		t.Fatalf("RecalculateAll: %v", err)
	}
	if n != 2 {
		t.Errorf("recalculated %d, want 2", n)
	}
	e.RecalculateAll(ctx)
	second, _ := e.DB.GetRecords([]string{"a", "b"})

	for _, id := range []string{"a", "b"} {
		if first[id].DynamicScore != second[id].DynamicScore {
			t.Errorf("%s: incremental %v != full %v", id, first[id].DynamicScore, second[id].DynamicScore)
		}
	}
}

func TestRecalculateMissing(t *testing.T) {
	e := testEngine(t)
	score, err := e.Recalculate(context.Background(), "ghost")
	if err != nil || score != 0 {
		t.Errorf("Recalculate(ghost) = %v, %v; want 0, nil", score, err)
	}
}

func TestSchedulerRunsImmediately(t *testing.T) {
	e := testEngine(t)
	e.DB.EnsureRecords([]store.Seed{{MemoryID: "a", InitialPriority: 5, CreatedAt: now.UnixMilli()}})

	s := NewScheduler(e, time.Hour)
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r, _ := e.DB.GetRecord("a")
		if r != nil && r.DynamicScore > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	r, _ := e.DB.GetRecord("a")
	if r.DynamicScore <= 0 {
		t.Errorf("score = %v, want scheduler to have scored the record", r.DynamicScore)
	}
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	s := NewScheduler(testEngine(t), time.Hour)
	s.Stop()
}
