// Package tier2 escalates a compiled briefing to a long-context reasoning
// service and caches the synthesis keyed by the spec and briefing hashes.
package tier2

import (
	"context"
	"errors"

	"github.com/lazypower/stage0/internal/memory"
)

// Degraded failure modes. None of these fail a run.
var (
	ErrTimeout           = errors.New("tier2 call timed out")
	ErrUnavailable       = errors.New("tier2 service unavailable")
	ErrMalformedResponse = errors.New("tier2 response malformed")
	ErrQuotaExhausted    = errors.New("tier2 daily quota exhausted")
)

// Request is what the service is asked to synthesize.
type Request struct {
	SpecID   string
	SpecText string
	Briefing string
}

// Response is a parsed synthesis.
type Response struct {
	Synthesis      string
	SuggestedLinks []memory.Link
	Provider       string
	TokensUsed     int
}

// Client is the Tier2 service boundary.
type Client interface {
	Synthesize(ctx context.Context, req Request) (*Response, error)
}
