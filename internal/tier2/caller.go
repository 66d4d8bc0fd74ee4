package tier2

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lazypower/stage0/internal/logging"
)

// DefaultTimeout bounds a single Tier2 call.
const DefaultTimeout = 30 * time.Second

// Caller gates a Client behind the daily quota and a hard timeout.
type Caller struct {
	Client  Client
	Quota   Quota
	Timeout time.Duration
	log     *slog.Logger
}

// NewCaller creates a caller. A nil quota means unlimited.
func NewCaller(c Client, q Quota, timeout time.Duration, logger *slog.Logger) *Caller {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Caller{Client: c, Quota: q, Timeout: timeout, log: logging.OrDefault(logger)}
}

type result struct {
	resp *Response
	err  error
}

// Call acquires quota and runs the synthesis. On deadline the in-flight
// call is abandoned: its result is discarded and never reaches the cache.
// Every error wraps one of ErrTimeout, ErrUnavailable,
// ErrMalformedResponse or ErrQuotaExhausted.
func (c *Caller) Call(ctx context.Context, req Request) (*Response, error) {
	if c.Quota != nil {
		ok, err := c.Quota.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: quota ledger: %v", ErrUnavailable, err)
		}
		if !ok {
			return nil, ErrQuotaExhausted
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	done := make(chan result, 1)
	start := time.Now()
	go func() {
		resp, err := c.Client.Synthesize(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, classify(r.err)
		}
		if r.resp == nil {
			return nil, fmt.Errorf("%w: nil response", ErrMalformedResponse)
		}
		c.log.Debug("tier2 call complete", "spec_id", req.SpecID,
			"latency_ms", time.Since(start).Milliseconds(), "tokens", r.resp.TokensUsed)
		return r.resp, nil
	case <-ctx.Done():
		c.log.Warn("tier2 call abandoned", "spec_id", req.SpecID, "timeout", c.Timeout)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrQuotaExhausted):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}
