package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/stage0/internal/config"
	"github.com/lazypower/stage0/internal/logging"
	"github.com/lazypower/stage0/internal/stage0"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stage0",
	Short: "Context compilation and tiered memory cache for agent planning",
	Long: "Stage0 compiles a token-bounded briefing of the memories most relevant to a spec, " +
		"escalates it to a Tier2 model through a persistent cache, and learns which memories matter.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $STAGE0_CONFIG or ~/.stage0/stage0.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(rememberCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(recalcCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(evalCmd)
}

// loadConfig resolves the config file, then applies env overrides.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("STAGE0_CONFIG")
	}
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openEngine is a helper that builds the engine for CLI commands. The
// returned close func must be called when the command finishes.
func openEngine(ctx context.Context) (*stage0.Engine, *slog.Logger, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log := logging.New(cfg.Logging, os.Stderr)
	eng, closeFn, err := stage0.Open(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open engine: %w", err)
	}
	return eng, log, closeFn, nil
}
