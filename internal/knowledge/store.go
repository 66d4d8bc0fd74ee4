// Package knowledge is the boundary to the external knowledge store that
// owns memories and their relationships. Stage0 reads candidates and writes
// relationships through Store; the two adapters are a local SQLite store
// and an HTTP client for a remote service.
package knowledge

import (
	"context"
	"errors"
	"sort"

	"github.com/lazypower/stage0/internal/memory"
)

// ErrNotFound is returned by Update when the memory does not exist.
var ErrNotFound = errors.New("memory not found")

// Query selects memories by metadata. Empty fields do not filter.
type Query struct {
	Domain   string
	Tags     []string // all required
	Keywords []string // any may match
	Limit    int
}

// Store is the knowledge store as seen by stage0.
type Store interface {
	// Search returns memories ordered by importance desc, created_at desc, id asc.
	Search(ctx context.Context, q Query) ([]memory.Memory, error)
	// Get returns nil, nil when the memory does not exist.
	Get(ctx context.Context, id string) (*memory.Memory, error)
	// PutRelationship upserts a typed edge between two memories.
	PutRelationship(ctx context.Context, link memory.Link) error
	// Create assigns an ID when m.ID is empty.
	Create(ctx context.Context, m *memory.Memory) error
	Update(ctx context.Context, m *memory.Memory) error
}

const defaultSearchLimit = 150

// SortMemories applies the Search order in place.
func SortMemories(ms []memory.Memory) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
