// Package eval measures retrieval quality over labelled specs.
package eval

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/BurntSushi/toml"

	"github.com/lazypower/stage0/internal/stage0"
)

// Case is one labelled spec: the memories a good briefing should contain.
type Case struct {
	Name     string   `toml:"name" json:"name"`
	Spec     string   `toml:"spec" json:"spec"`
	Relevant []string `toml:"relevant" json:"relevant"`
}

type caseFile struct {
	Cases []Case `toml:"case"`
}

// LoadCases reads [[case]] tables from a TOML file.
func LoadCases(path string) ([]Case, error) {
	var f caseFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode cases %s: %w", path, err)
	}
	for i, c := range f.Cases {
		if c.Spec == "" {
			return nil, fmt.Errorf("case %d (%s): empty spec", i, c.Name)
		}
		if c.Name == "" {
			f.Cases[i].Name = fmt.Sprintf("case-%d", i+1)
		}
	}
	return f.Cases, nil
}

// Retriever returns memory IDs in rank order for a case.
type Retriever interface {
	Retrieve(ctx context.Context, c Case) ([]string, error)
}

// EngineRetriever evaluates the engine's compiler without recording usage.
type EngineRetriever struct {
	Engine *stage0.Engine
}

func (r EngineRetriever) Retrieve(ctx context.Context, c Case) ([]string, error) {
	res, err := r.Engine.Compile(ctx, c.Name, c.Spec, stage0.RunOptions{})
	if err != nil {
		return nil, err
	}
	return res.MemoryIDs(), nil
}

// CaseResult holds the metrics of one case.
type CaseResult struct {
	Name           string   `json:"name"`
	Retrieved      []string `json:"retrieved"`
	Precision      float64  `json:"precision"`
	Recall         float64  `json:"recall"`
	ReciprocalRank float64  `json:"reciprocal_rank"`
}

// Report aggregates a run over all cases.
type Report struct {
	Cases         []CaseResult `json:"cases"`
	MeanPrecision float64      `json:"mean_precision"`
	MeanRecall    float64      `json:"mean_recall"`
	MRR           float64      `json:"mrr"`
}

// Run scores every case. The first retrieval error aborts.
func Run(ctx context.Context, r Retriever, cases []Case) (*Report, error) {
	rep := &Report{Cases: make([]CaseResult, 0, len(cases))}
	for _, c := range cases {
		got, err := r.Retrieve(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("retrieve %s: %w", c.Name, err)
		}
		cr := CaseResult{
			Name:           c.Name,
			Retrieved:      got,
			Precision:      Precision(got, c.Relevant),
			Recall:         Recall(got, c.Relevant),
			ReciprocalRank: ReciprocalRank(got, c.Relevant),
		}
		rep.Cases = append(rep.Cases, cr)
		rep.MeanPrecision += cr.Precision
		rep.MeanRecall += cr.Recall
		rep.MRR += cr.ReciprocalRank
	}
	if n := float64(len(rep.Cases)); n > 0 {
		rep.MeanPrecision /= n
		rep.MeanRecall /= n
		rep.MRR /= n
	}
	return rep, nil
}

func set(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

// Precision is |retrieved ∩ relevant| / |retrieved|.
func Precision(retrieved, relevant []string) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	rel := set(relevant)
	hits := 0
	for _, id := range retrieved {
		if rel[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(retrieved))
}

// Recall is |retrieved ∩ relevant| / |relevant|. No relevant IDs is 1.
func Recall(retrieved, relevant []string) float64 {
	if len(relevant) == 0 {
		return 1
	}
	got := set(retrieved)
	hits := 0
	for id := range set(relevant) {
		if got[id] {
			hits++
		}
	}
	return float64(hits) / float64(len(set(relevant)))
}

// ReciprocalRank is 1/rank of the first relevant ID, or 0.
func ReciprocalRank(retrieved, relevant []string) float64 {
	rel := set(relevant)
	for i, id := range retrieved {
		if rel[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// Print writes the report as an aligned table. A nil writer means stdout.
func (r *Report) Print(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tPRECISION\tRECALL\tRR\tRETRIEVED")
	for _, c := range r.Cases {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%d\n", c.Name, c.Precision, c.Recall, c.ReciprocalRank, len(c.Retrieved))
	}
	fmt.Fprintf(tw, "MEAN\t%.3f\t%.3f\t%.3f\t\n", r.MeanPrecision, r.MeanRecall, r.MRR)
	tw.Flush()
}
