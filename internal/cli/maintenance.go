package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/stage0/internal/eval"
)

var (
	topLimit int
	evalJSON bool
)

var recalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recalculate every dynamic score",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, closeEngine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine()

		n, err := eng.RecalculateScores(cmd.Context())
		if err != nil {
			return fmt.Errorf("recalculate: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recalculated %d records\n", n)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired Tier2 cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, closeEngine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine()

		n, err := eng.PruneCache(cmd.Context())
		if err != nil {
			return fmt.Errorf("prune: %w", err)
		}
		st, err := eng.CacheStats(cmd.Context())
		if err != nil {
			return fmt.Errorf("cache stats: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries (%d remain, %d hits served)\n", n, st.Entries, st.TotalHits)
		return nil
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List the highest-scoring memories in the overlay",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, closeEngine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine()

		recs, err := eng.TopMemories(cmd.Context(), topLimit)
		if err != nil {
			return fmt.Errorf("top memories: %w", err)
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Overlay is empty. Run some specs first.")
			return nil
		}
		for i, r := range recs {
			last := "never"
			if r.LastAccessedAt != nil {
				last = time.UnixMilli(*r.LastAccessedAt).UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.3f] %s (used %d, last %s)\n",
				i+1, r.DynamicScore, r.MemoryID, r.UsageCount, last)
		}
		return nil
	},
}

var evalCmd = &cobra.Command{
	Use:   "eval <cases.toml>",
	Short: "Measure retrieval precision and recall against labelled cases",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cases, err := eval.LoadCases(args[0])
		if err != nil {
			return err
		}
		eng, _, closeEngine, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer closeEngine()

		rep, err := eval.Run(cmd.Context(), eval.EngineRetriever{Engine: eng}, cases)
		if err != nil {
			return fmt.Errorf("eval: %w", err)
		}
		if evalJSON {
			return printJSON(cmd.OutOrStdout(), rep)
		}
		rep.Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	topCmd.Flags().IntVarP(&topLimit, "limit", "n", 20, "Maximum number of records")
	evalCmd.Flags().BoolVar(&evalJSON, "json", false, "Print the report as JSON")
}
