package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lazypower/stage0/internal/guardian"
	"github.com/lazypower/stage0/internal/stage0"
)

var (
	rememberAgent      string
	rememberKind       string
	rememberDomain     string
	rememberTags       string
	rememberPriority   int
	rememberCreatedAt  string
	rememberInferLinks bool
)

var rememberCmd = &cobra.Command{
	Use:   "remember [content...]",
	Short: "Write a memory through the guardians",
	Long:  "Writes a memory. Content comes from the arguments, or from stdin when none are given.",
	RunE:  runRemember,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <memory-id>",
	Short: "Drop cached Tier2 results that depend on a memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runInvalidate,
}

func init() {
	rememberCmd.Flags().StringVar(&rememberAgent, "agent", "cli", "Authoring agent")
	rememberCmd.Flags().StringVar(&rememberKind, "kind", "", "Memory kind: pattern, decision, problem, insight, other (default: inferred)")
	rememberCmd.Flags().StringVarP(&rememberDomain, "domain", "d", "", "Domain")
	rememberCmd.Flags().StringVarP(&rememberTags, "tags", "t", "", "Comma-separated tags")
	rememberCmd.Flags().IntVarP(&rememberPriority, "priority", "p", 0, "Initial priority 1-10")
	rememberCmd.Flags().StringVar(&rememberCreatedAt, "created-at", "", "RFC3339 creation time (default now)")
	rememberCmd.Flags().BoolVar(&rememberInferLinks, "infer-links", false, "Propose causal links within the domain")
}

func splitTags(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func runRemember(cmd *cobra.Command, args []string) error {
	content := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		content = string(b)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("memory content is empty")
	}

	eng, _, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	d := guardian.Draft{
		Content:   content,
		Agent:     rememberAgent,
		Kind:      rememberKind,
		Domain:    rememberDomain,
		Tags:      splitTags(rememberTags),
		Priority:  rememberPriority,
		CreatedAt: rememberCreatedAt,
	}
	res, err := eng.WriteMemory(cmd.Context(), d, stage0.WriteOptions{InferLinks: rememberInferLinks})
	if err != nil {
		return fmt.Errorf("remember: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s\n", res.Memory.ID)
	for _, l := range res.Links {
		fmt.Fprintf(os.Stderr, "  link %s -[%s]-> %s (%.2f)\n", l.FromID, l.Type, l.ToID, l.Confidence)
	}
	if rememberInferLinks {
		fmt.Fprintf(os.Stderr, "  links written: %d, unresolved: %d, failed: %d\n",
			res.Report.Written, res.Report.SkippedUnresolved, res.Report.Failed)
	}
	return nil
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	eng, _, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	n, err := eng.InvalidateMemory(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "invalidated %d cache entries\n", n)
	return nil
}
