// Package iqo turns a spec into an intent query object: the metadata and
// keywords the compiler pre-filters and ranks candidates with.
package iqo

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lazypower/stage0/internal/index"
	"github.com/lazypower/stage0/internal/memory"
)

// DefaultMaxCandidates is the candidate ceiling when none is configured.
const DefaultMaxCandidates = 150

// MaxKeywords caps extracted keywords.
const MaxKeywords = 12

// ErrEmpty is returned when an extractor produced nothing usable.
var ErrEmpty = errors.New("intent query is empty")

// Env is what the caller knows about the working environment.
type Env struct {
	Cwd         string   `json:"cwd,omitempty"`
	Branch      string   `json:"branch,omitempty"`
	RecentFiles []string `json:"recent_files,omitempty"`
}

// Query is the intent query object.
type Query struct {
	Domains       []string `json:"domains"`
	RequiredTags  []string `json:"required_tags"`
	OptionalTags  []string `json:"optional_tags"`
	Keywords      []string `json:"keywords"`
	MaxCandidates int      `json:"max_candidates"`
}

// Empty reports whether q carries no retrieval signal at all.
func (q *Query) Empty() bool {
	return len(q.Domains) == 0 && len(q.RequiredTags) == 0 &&
		len(q.OptionalTags) == 0 && len(q.Keywords) == 0
}

// Extractor produces a Query from a spec.
type Extractor interface {
	Extract(ctx context.Context, spec string, env Env) (*Query, error)
}

// Extract runs ex and never fails: on error or an empty result it falls
// back to Minimal. The returned error is informational only.
func Extract(ctx context.Context, ex Extractor, spec string, env Env, ceiling int) (*Query, error) {
	if ceiling <= 0 {
		ceiling = DefaultMaxCandidates
	}
	var err error
	var q *Query
	if ex != nil {
		q, err = ex.Extract(ctx, spec, env)
		if err == nil && (q == nil || q.Empty()) {
			err = ErrEmpty
		}
	} else {
		err = ErrEmpty
	}
	if err != nil {
		return Minimal(spec, ceiling), err
	}
	normalize(q, ceiling)
	return q, nil
}

// Minimal is the fallback query: naive keywords and no metadata filters.
func Minimal(spec string, ceiling int) *Query {
	q := &Query{Keywords: topKeywords(spec, MaxKeywords)}
	normalize(q, ceiling)
	return q
}

func normalize(q *Query, ceiling int) {
	if ceiling <= 0 {
		ceiling = DefaultMaxCandidates
	}
	q.Domains = memory.NormalizeTags(q.Domains)
	q.RequiredTags = memory.NormalizeTags(q.RequiredTags)
	q.OptionalTags = memory.NormalizeTags(q.OptionalTags)

	seen := make(map[string]bool, len(q.Keywords))
	kws := make([]string, 0, len(q.Keywords))
	for _, k := range q.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		kws = append(kws, k)
		if len(kws) == MaxKeywords {
			break
		}
	}
	q.Keywords = kws

	if q.MaxCandidates <= 0 || q.MaxCandidates > ceiling {
		q.MaxCandidates = ceiling
	}
}

// topKeywords ranks tokens by frequency, breaking ties by first occurrence.
func topKeywords(text string, n int) []string {
	tokens := index.Tokenize(text)
	count := make(map[string]int)
	var order []string
	for _, t := range tokens {
		if count[t] == 0 {
			order = append(order, t)
		}
		count[t]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return count[order[i]] > count[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

var langByExt = map[string]string{
	".go":   "go",
	".rs":   "rust",
	".py":   "python",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".java": "java",
	".rb":   "ruby",
	".sql":  "sql",
	".md":   "markdown",
}

func envTags(env Env) []string {
	var tags []string
	if env.Branch != "" {
		tags = append(tags, "branch:"+env.Branch)
	}
	for _, f := range env.RecentFiles {
		if lang, ok := langByExt[strings.ToLower(filepath.Ext(f))]; ok {
			tags = append(tags, "lang:"+lang)
		}
	}
	return tags
}
