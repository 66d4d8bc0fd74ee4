// Package index provides the retrieval backends the compiler scores
// candidates with. Callers depend only on Backend.
package index

import (
	"context"
	"sort"
)

// Kind distinguishes memory documents from code units in one index.
type Kind string

const (
	KindMemory Kind = "memory"
	KindCode   Kind = "code"
)

// Document is one unit of indexed text.
type Document struct {
	ID   string
	Kind Kind
	Text string
}

// Scored is a document ID with a similarity in [0,1].
type Scored struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Backend is a swappable retrieval implementation.
type Backend interface {
	// Index upserts documents. Re-indexing unchanged text is a no-op and
	// never rebuilds other entries.
	Index(ctx context.Context, docs ...Document) error
	// Remove drops a document; unknown IDs are ignored.
	Remove(ctx context.Context, id string) error
	// Score returns one entry per id, sorted by score descending then id.
	// IDs that are not indexed score 0.
	Score(ctx context.Context, query string, ids []string) ([]Scored, error)
	// Similarity compares two indexed documents with the same metric Score uses.
	Similarity(ctx context.Context, a, b string) (float64, error)
	// Len returns the number of indexed documents.
	Len() int
	// Scope returns an empty backend of the same configuration for one
	// compilation, so corpus statistics cover only what that compilation
	// indexes. State that does not depend on the corpus, such as cached
	// embeddings, may be shared with the receiver.
	Scope() Backend
}

// SortScored orders by score descending, then ID ascending.
func SortScored(s []Scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}
