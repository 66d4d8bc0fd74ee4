package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/stage0/internal/dcc"
	"github.com/lazypower/stage0/internal/iqo"
	"github.com/lazypower/stage0/internal/stage0"
)

var (
	runSpecID  string
	runBranch  string
	runFiles   []string
	runExplain bool
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run [spec-file]",
	Short: "Compile a briefing for a spec and escalate it to Tier2",
	Long:  "Reads the spec from the given file, or from stdin when the file is omitted or \"-\".",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRun,
}

var compileCmd = &cobra.Command{
	Use:   "compile [spec-file]",
	Short: "Compile a briefing without Tier2 or usage recording",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCompile,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, compileCmd} {
		c.Flags().StringVar(&runSpecID, "spec-id", "", "Spec identifier (default: file name, or \"adhoc\")")
		c.Flags().StringVar(&runBranch, "branch", "", "Current branch, used as an intent tag")
		c.Flags().StringSliceVar(&runFiles, "file", nil, "Recently touched file (repeatable)")
		c.Flags().BoolVar(&runExplain, "explain", false, "Include the candidate score breakdown")
		c.Flags().BoolVar(&runJSON, "json", false, "Print the full result as JSON")
	}
}

// readSpec returns the spec text and a default spec id.
func readSpec(args []string, stdin io.Reader) (string, string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), "adhoc", nil
	}
	b, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("read spec: %w", err)
	}
	base := filepath.Base(args[0])
	return string(b), strings.TrimSuffix(base, filepath.Ext(base)), nil
}

func runOptions() stage0.RunOptions {
	cwd, _ := os.Getwd()
	return stage0.RunOptions{
		Env:     iqo.Env{Cwd: cwd, Branch: runBranch, RecentFiles: runFiles},
		Explain: runExplain,
	}
}

func specArgs(args []string) (string, string, error) {
	spec, id, err := readSpec(args, os.Stdin)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(spec) == "" {
		return "", "", fmt.Errorf("spec is empty")
	}
	if runSpecID != "" {
		id = runSpecID
	}
	return spec, id, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	spec, specID, err := specArgs(args)
	if err != nil {
		return err
	}
	eng, _, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	res, err := eng.Run(cmd.Context(), specID, spec, runOptions())
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if runJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	if res.DivineTruth != "" {
		fmt.Fprintln(out, res.DivineTruth)
	} else {
		fmt.Fprintln(out, res.BriefingMarkdown)
	}
	fmt.Fprintf(os.Stderr, "run %s: %d memories, cache_hit=%t tier2=%t %dms",
		res.RunID, len(res.MemoriesUsed), res.CacheHit, res.Tier2Used, res.LatencyMS)
	if res.SkipReason != "" {
		fmt.Fprintf(os.Stderr, " (skipped: %s)", res.SkipReason)
	}
	fmt.Fprintln(os.Stderr)
	if res.Explain != nil {
		printExplain(os.Stderr, res.Explain)
	}
	return nil
}

func runCompile(cmd *cobra.Command, args []string) error {
	spec, specID, err := specArgs(args)
	if err != nil {
		return err
	}
	eng, _, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	res, err := eng.Compile(cmd.Context(), specID, spec, runOptions())
	if err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if runJSON {
		return printJSON(cmd.OutOrStdout(), res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Briefing)
	fmt.Fprintf(os.Stderr, "compiled %s: %d memories, %d code units, ~%d tokens, %d dropped\n",
		specID, len(res.Selected), len(res.Code), res.Tokens, len(res.Dropped))
	if res.Explain != nil {
		printExplain(os.Stderr, res.Explain)
	}
	return nil
}

func printExplain(w io.Writer, ex *dcc.Explain) {
	fmt.Fprintf(w, "keywords: %s\n", strings.Join(ex.Query.Keywords, ", "))
	for _, c := range ex.Candidates {
		mark := " "
		if c.Selected {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %-28s combined=%.3f sim=%.3f dyn=%.3f\n",
			mark, c.MemoryID, c.Combined, c.Similarity, c.Dynamic)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
