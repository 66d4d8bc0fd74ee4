package tier2

import (
	"context"
	"sync"
	"time"

	"github.com/lazypower/stage0/internal/store"
)

// Quota limits Tier2 calls per UTC day.
type Quota interface {
	// Acquire counts one call and reports whether it is allowed.
	Acquire(ctx context.Context) (bool, error)
	// Used returns today's count.
	Used(ctx context.Context) (int, error)
}

// LedgerQuota persists the counter in the overlay store, so the limit
// holds across processes.
type LedgerQuota struct {
	DB    *store.DB
	Limit int // <= 0 means unlimited
	Now   func() time.Time
}

// NewLedgerQuota creates a persisted quota.
func NewLedgerQuota(db *store.DB, limit int) *LedgerQuota {
	return &LedgerQuota{DB: db, Limit: limit, Now: time.Now}
}

func (q *LedgerQuota) Acquire(_ context.Context) (bool, error) {
	return q.DB.AcquireTier2Call(store.UsageDay(q.Now()), q.Limit)
}

func (q *LedgerQuota) Used(_ context.Context) (int, error) {
	return q.DB.Tier2Calls(store.UsageDay(q.Now()))
}

// MemoryQuota is an in-process counter.
type MemoryQuota struct {
	Limit int
	Now   func() time.Time

	mu   sync.Mutex
	day  string
	used int
}

// NewMemoryQuota creates an in-process quota.
func NewMemoryQuota(limit int) *MemoryQuota {
	return &MemoryQuota{Limit: limit, Now: time.Now}
}

func (q *MemoryQuota) roll() {
	if d := store.UsageDay(q.Now()); d != q.day {
		q.day = d
		q.used = 0
	}
}

func (q *MemoryQuota) Acquire(_ context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll()
	if q.Limit > 0 && q.used >= q.Limit {
		return false, nil
	}
	q.used++
	return true, nil
}

func (q *MemoryQuota) Used(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll()
	return q.used, nil
}
