package store

import (
	"testing"
	"time"

	"github.com/lazypower/stage0/internal/memory"
)

func putEntry(t *testing.T, db *DB, hash string, created time.Time, ttl time.Duration, deps ...string) {
	t.Helper()
	e := &CacheEntry{
		InputHash:       hash,
		SpecHash:        "spec-" + hash,
		BriefHash:       "brief-" + hash,
		SynthesisResult: "synthesis " + hash,
		SuggestedLinks:  []memory.Link{{FromID: "a", ToID: "b", Type: "causes", Confidence: 0.8}},
		CreatedAt:       created.UnixMilli(),
		ExpiresAt:       created.Add(ttl).UnixMilli(),
	}
	if err := db.PutCacheEntry(e, deps); err != nil {
		t.Fatalf("PutCacheEntry %s: %v", hash, err)
	}
}

func TestCacheHitCounting(t *testing.T) {
	db := testDB(t)
	base := time.UnixMilli(1_700_000_000_000)
	putEntry(t, db, "h1", base, 24*time.Hour, "a", "b")

	for want := 1; want <= 2; want++ {
		e, err := db.HitCacheEntry("h1", base.Add(time.Hour))
		if err != nil {
			t.Fatalf("HitCacheEntry: %v", err)
		}
		if e == nil {
			t.Fatal("expected hit")
		}
		if e.HitCount != want {
			t.Errorf("hit_count = %d, want %d", e.HitCount, want)
		}
		if e.LastHitAt == nil || *e.LastHitAt != base.Add(time.Hour).UnixMilli() {
			t.Errorf("last_hit_at = %v", e.LastHitAt)
		}
	}

	e, _ := db.GetCacheEntry("h1")
	if len(e.SuggestedLinks) != 1 || e.SuggestedLinks[0].Type != "causes" {
		t.Errorf("links = %+v", e.SuggestedLinks)
	}
}

func TestCacheExpiredNeverReturned(t *testing.T) {
	db := testDB(t)
	base := time.UnixMilli(1_700_000_000_000)
	putEntry(t, db, "old", base, time.Hour)

	e, err := db.HitCacheEntry("old", base.Add(time.Hour))
	if err != nil {
		t.Fatalf("HitCacheEntry: %v", err)
	}
	if e != nil {
		t.Error("entry returned at expires_at")
	}

	// still physically present until pruned
	raw, _ := db.GetCacheEntry("old")
	if raw == nil || raw.HitCount != 0 {
		t.Errorf("raw = %+v, want unswept entry with no hits", raw)
	}

	n, err := db.DeleteExpiredCache(base.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteExpiredCache: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	stats, _ := db.CacheStats(base)
	if stats.Entries != 0 || stats.Dependencies != 0 {
		t.Errorf("stats = %+v, want empty", stats)
	}
}

func TestCacheMissing(t *testing.T) {
	db := testDB(t)
	e, err := db.HitCacheEntry("nope", time.Now())
	if err != nil || e != nil {
		t.Errorf("HitCacheEntry = %+v, %v; want nil, nil", e, err)
	}
}

func TestPutCacheEntryUpsertResets(t *testing.T) {
	db := testDB(t)
	base := time.UnixMilli(1_700_000_000_000)
	putEntry(t, db, "h", base, time.Hour, "a", "b")
	db.HitCacheEntry("h", base)

	putEntry(t, db, "h", base.Add(time.Minute), time.Hour, "c")

	e, _ := db.GetCacheEntry("h")
	if e.HitCount != 0 {
		t.Errorf("hit_count = %d, want reset to 0", e.HitCount)
	}
	deps, _ := db.CacheDependencies("h")
	if len(deps) != 1 || deps[0] != "c" {
		t.Errorf("deps = %v, want [c]", deps)
	}
}

func TestDeleteCacheByMemoryFanOut(t *testing.T) {
	db := testDB(t)
	base := time.Now()
	putEntry(t, db, "h1", base, time.Hour, "a", "b")
	putEntry(t, db, "h2", base, time.Hour, "a", "c")
	putEntry(t, db, "h3", base, time.Hour, "c")

	n, err := db.DeleteCacheByMemory("a")
	if err != nil {
		t.Fatalf("DeleteCacheByMemory: %v", err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}

	for _, h := range []string{"h1", "h2"} {
		if e, _ := db.GetCacheEntry(h); e != nil {
			t.Errorf("%s still cached", h)
		}
		if deps, _ := db.CacheDependencies(h); len(deps) != 0 {
			t.Errorf("%s deps = %v, want none", h, deps)
		}
	}
	if e, _ := db.GetCacheEntry("h3"); e == nil {
		t.Error("h3 should survive")
	}

	n, _ = db.DeleteCacheByMemory("a")
	if n != 0 {
		t.Errorf("second invalidate removed %d, want 0", n)
	}
}
