package index

import (
	"context"
	"math"
	"sort"
	"sync"
)

// BM25 parameters.
const (
	DefaultK1 = 1.5
	DefaultB  = 0.75
)

type lexDoc struct {
	kind   Kind
	text   string
	tf     map[string]int
	terms  []string // sorted unique terms; fixes float summation order
	length int
}

// Lexical is an in-memory BM25-weighted TF-IDF index. Similarity is the
// cosine between BM25 term-weight vectors, which keeps scores in [0,1].
type Lexical struct {
	mu       sync.RWMutex
	k1, b    float64
	docs     map[string]*lexDoc
	df       map[string]int
	totalLen int
}

// NewLexical creates an empty index with the default BM25 parameters.
func NewLexical() *Lexical {
	return NewLexicalWithParams(DefaultK1, DefaultB)
}

// NewLexicalWithParams creates an empty index with custom k1 and b.
func NewLexicalWithParams(k1, b float64) *Lexical {
	return &Lexical{
		k1:   k1,
		b:    b,
		docs: make(map[string]*lexDoc),
		df:   make(map[string]int),
	}
}

func newLexDoc(d Document) *lexDoc {
	tokens := Tokenize(d.Text)
	tf := make(map[string]int)
	for _, tok := range tokens {
		tf[tok]++
	}
	terms := make([]string, 0, len(tf))
	for t := range tf {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	return &lexDoc{kind: d.Kind, text: d.Text, tf: tf, terms: terms, length: len(tokens)}
}

func (l *Lexical) Index(_ context.Context, docs ...Document) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range docs {
		if old, ok := l.docs[d.ID]; ok {
			if old.text == d.Text && old.kind == d.Kind {
				continue
			}
			l.drop(d.ID, old)
		}
		nd := newLexDoc(d)
		l.docs[d.ID] = nd
		l.totalLen += nd.length
		for _, t := range nd.terms {
			l.df[t]++
		}
	}
	return nil
}

func (l *Lexical) Remove(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.docs[id]; ok {
		l.drop(id, old)
	}
	return nil
}

// drop removes a document's contribution to the corpus statistics.
func (l *Lexical) drop(id string, d *lexDoc) {
	delete(l.docs, id)
	l.totalLen -= d.length
	for _, t := range d.terms {
		if l.df[t] <= 1 {
			delete(l.df, t)
		} else {
			l.df[t]--
		}
	}
}

// Scope returns a new empty index with the same BM25 parameters.
func (l *Lexical) Scope() Backend {
	return NewLexicalWithParams(l.k1, l.b)
}

func (l *Lexical) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.docs)
}

// Has reports whether id is indexed.
func (l *Lexical) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.docs[id]
	return ok
}

func (l *Lexical) idf(term string) float64 {
	n := float64(len(l.docs))
	return math.Log((n+1)/(float64(l.df[term])+1)) + 1
}

func (l *Lexical) avgLen() float64 {
	if len(l.docs) == 0 {
		return 1
	}
	avg := float64(l.totalLen) / float64(len(l.docs))
	if avg == 0 {
		return 1
	}
	return avg
}

func (l *Lexical) weight(d *lexDoc, term string, avg float64) float64 {
	tf := float64(d.tf[term])
	if tf == 0 {
		return 0
	}
	norm := l.k1 * (1 - l.b + l.b*float64(d.length)/avg)
	return l.idf(term) * tf * (l.k1 + 1) / (tf + norm)
}

func (l *Lexical) norm(d *lexDoc, avg float64) float64 {
	var sum float64
	for _, t := range d.terms {
		w := l.weight(d, t, avg)
		sum += w * w
	}
	return math.Sqrt(sum)
}

func (l *Lexical) Score(_ context.Context, query string, ids []string) ([]Scored, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	qtf := make(map[string]int)
	for _, tok := range Tokenize(query) {
		qtf[tok]++
	}
	qterms := make([]string, 0, len(qtf))
	for t := range qtf {
		qterms = append(qterms, t)
	}
	sort.Strings(qterms)

	qw := make([]float64, len(qterms))
	var qsum float64
	for i, t := range qterms {
		qw[i] = l.idf(t) * float64(qtf[t])
		qsum += qw[i] * qw[i]
	}
	qnorm := math.Sqrt(qsum)
	avg := l.avgLen()

	out := make([]Scored, 0, len(ids))
	for _, id := range ids {
		d, ok := l.docs[id]
		if !ok || qnorm == 0 {
			out = append(out, Scored{ID: id})
			continue
		}
		var dot float64
		for i, t := range qterms {
			dot += qw[i] * l.weight(d, t, avg)
		}
		dnorm := l.norm(d, avg)
		score := 0.0
		if dnorm > 0 {
			score = clamp01(dot / (qnorm * dnorm))
		}
		out = append(out, Scored{ID: id, Score: score})
	}
	SortScored(out)
	return out, nil
}

func (l *Lexical) Similarity(_ context.Context, a, b string) (float64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	da, okA := l.docs[a]
	db, okB := l.docs[b]
	if !okA || !okB {
		return 0, nil
	}
	avg := l.avgLen()
	var dot float64
	for _, t := range da.terms {
		if _, ok := db.tf[t]; ok {
			dot += l.weight(da, t, avg) * l.weight(db, t, avg)
		}
	}
	denom := l.norm(da, avg) * l.norm(db, avg)
	if denom == 0 {
		return 0, nil
	}
	return clamp01(dot / denom), nil
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
