package tier2

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lazypower/stage0/internal/llm"
)

// LLMClient runs the synthesis on any completion provider.
type LLMClient struct {
	LLM llm.Client
}

// NewLLMClient wraps an llm.Client as a Tier2 client.
func NewLLMClient(c llm.Client) *LLMClient {
	return &LLMClient{LLM: c}
}

func (c *LLMClient) Synthesize(ctx context.Context, req Request) (*Response, error) {
	out, err := c.LLM.Complete(ctx, BuildPrompt(req))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: nil completion", ErrMalformedResponse)
	}
	resp, err := ParseResponse(out.Content)
	if err != nil {
		return nil, err
	}
	resp.Provider = out.Provider
	resp.TokensUsed = out.TokensUsed
	return resp, nil
}

// MockClient is a Tier2 test double.
type MockClient struct {
	Response *Response
	Err      error
	Delay    time.Duration // ignores ctx, to exercise the caller's abandon path

	mu       sync.Mutex
	Requests []Request
}

func (m *MockClient) Synthesize(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.mu.Unlock()
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response == nil {
		return &Response{}, nil
	}
	r := *m.Response
	return &r, nil
}

// CallCount returns the number of Synthesize calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
