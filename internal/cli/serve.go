package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/stage0/internal/scoring"
	"github.com/lazypower/stage0/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	eng, log, closeEngine, err := openEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer closeEngine()

	cfg := eng.Config
	fmt.Fprintf(os.Stderr, "  knowledge: %s\n", cfg.Knowledge.Backend)
	fmt.Fprintf(os.Stderr, "  index: %s\n", cfg.Context.Backend)
	if eng.Tier2 != nil {
		provider := cfg.Tier2.Provider
		if provider == "" {
			provider = cfg.LLM.Provider
		}
		fmt.Fprintf(os.Stderr, "  tier2: %s (quota %d/day)\n", provider, cfg.Tier2.DailyQuota)
	} else {
		fmt.Fprintf(os.Stderr, "  tier2: disabled\n")
	}

	sched := scoring.NewScheduler(eng.Scoring, cfg.Scoring.RecalculationInterval.Duration)
	sched.Start()
	defer sched.Stop()

	srv := server.New(eng, VersionString(), log)
	addr := cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		fmt.Fprintf(os.Stderr, "stage0 serving on %s\n", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}()

	<-done
	fmt.Fprintln(os.Stderr, "\nshutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
