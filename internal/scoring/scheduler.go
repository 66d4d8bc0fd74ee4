package scoring

import (
	"context"
	"time"
)

// Scheduler runs RecalculateAll on a fixed interval until stopped.
// Its absence only means scores go stale between accesses.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
}

// NewScheduler creates a scheduler; Start must be called to begin ticking.
func NewScheduler(e *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		engine:   e,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs one recalculation immediately, then one per interval.
func (s *Scheduler) Start() {
	s.started = true
	go func() {
		defer close(s.doneCh)
		s.run()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	n, err := s.engine.RecalculateAll(ctx)
	if err != nil {
		s.engine.log.Warn("scheduled recalculation failed", "error", err)
		return
	}
	s.engine.log.Info("scheduled recalculation", "records", n)
}

// Stop halts the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.started {
		<-s.doneCh
	}
}
