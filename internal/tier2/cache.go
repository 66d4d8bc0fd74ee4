package tier2

import (
	"fmt"
	"time"

	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/store"
)

// DefaultTTL is how long a synthesis stays valid.
const DefaultTTL = 24 * time.Hour

// Cache is the Tier2 synthesis cache over the overlay store.
type Cache struct {
	DB  *store.DB
	TTL time.Duration
	Now func() time.Time
}

// NewCache creates a cache with the given TTL; ttl <= 0 uses DefaultTTL.
func NewCache(db *store.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{DB: db, TTL: ttl, Now: time.Now}
}

// Lookup returns a live entry and counts the hit, or nil on a miss.
func (c *Cache) Lookup(specHash, briefHash string) (*store.CacheEntry, error) {
	e, err := c.DB.HitCacheEntry(CacheKey(specHash, briefHash), c.Now())
	if err != nil {
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	return e, nil
}

// Store writes a synthesis and its memory dependencies.
func (c *Cache) Store(specHash, briefHash, synthesis string, links []memory.Link, memoryIDs []string) (*store.CacheEntry, error) {
	now := c.Now()
	e := &store.CacheEntry{
		InputHash:       CacheKey(specHash, briefHash),
		SpecHash:        specHash,
		BriefHash:       briefHash,
		SynthesisResult: synthesis,
		SuggestedLinks:  links,
		CreatedAt:       now.UnixMilli(),
		ExpiresAt:       now.Add(c.TTL).UnixMilli(),
	}
	if err := c.DB.PutCacheEntry(e, memoryIDs); err != nil {
		return nil, fmt.Errorf("cache store: %w", err)
	}
	return e, nil
}

// InvalidateByMemory drops every entry that depended on memoryID.
func (c *Cache) InvalidateByMemory(memoryID string) (int, error) {
	return c.DB.DeleteCacheByMemory(memoryID)
}

// Prune drops expired entries.
func (c *Cache) Prune() (int, error) {
	return c.DB.DeleteExpiredCache(c.Now())
}

// Stats reports cache counters.
func (c *Cache) Stats() (*store.CacheStats, error) {
	return c.DB.CacheStats(c.Now())
}
