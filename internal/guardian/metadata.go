package guardian

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/stage0/internal/memory"
	"github.com/lazypower/stage0/internal/store"
)

var (
	ErrMissingCreatedAt   = errors.New("created_at is required")
	ErrMissingAttribution = errors.New("agent attribution is required")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
)

// UnknownAgent is the attribution of last resort outside strict mode.
const UnknownAgent = "unknown"

// Draft is a memory as submitted by a writer.
type Draft struct {
	ID        string   `json:"id,omitempty"`
	Content   string   `json:"content"`
	Domain    string   `json:"domain,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Kind      string   `json:"kind,omitempty"`
	Agent     string   `json:"agent,omitempty"`
	Priority  int      `json:"priority,omitempty"`
	CreatedAt string   `json:"created_at,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Normalized is a draft after the metadata guardian.
type Normalized struct {
	Memory   memory.Memory
	Kind     Kind
	Agent    string
	Priority int
}

// Metadata enforces timestamps, attribution and priority.
type Metadata struct {
	Strict          bool
	DefaultPriority int
	DefaultAgent    string
	Now             func() time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and a few common variants; zone-less
// values are taken as UTC. The result is UTC at second precision.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// Apply normalizes d. In strict mode a missing created_at or attribution
// is an error instead of a default.
func (g *Metadata) Apply(d Draft) (*Normalized, error) {
	var created time.Time
	if strings.TrimSpace(d.CreatedAt) == "" {
		if g.Strict {
			return nil, ErrMissingCreatedAt
		}
		created = g.now().Truncate(time.Second)
	} else {
		t, err := ParseTimestamp(d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("created_at: %w", err)
		}
		created = t
	}

	updated := created
	if strings.TrimSpace(d.UpdatedAt) != "" {
		t, err := ParseTimestamp(d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("updated_at: %w", err)
		}
		updated = t
	}

	agent, err := g.attribution(d)
	if err != nil {
		return nil, err
	}

	kind, ok := ParseKind(d.Kind)
	if !ok {
		kind = InferKind(d.Content, d.Tags)
	}

	priority := d.Priority
	if priority == 0 {
		priority = g.DefaultPriority
	}
	if priority == 0 {
		priority = store.DefaultPriority
	}
	priority = min(max(priority, 1), 10)

	tags := []string{"agent:" + agent, kind.Tag()}
	for _, t := range d.Tags {
		lt := strings.ToLower(strings.TrimSpace(t))
		if strings.HasPrefix(lt, "agent:") || strings.HasPrefix(lt, "type:") {
			continue
		}
		tags = append(tags, t)
	}

	return &Normalized{
		Memory: memory.Memory{
			ID:         d.ID,
			Content:    strings.TrimSpace(d.Content),
			Domain:     strings.ToLower(strings.TrimSpace(d.Domain)),
			Tags:       memory.NormalizeTags(tags),
			Importance: priority,
			CreatedAt:  created,
			UpdatedAt:  updated,
		},
		Kind:     kind,
		Agent:    agent,
		Priority: priority,
	}, nil
}

func (g *Metadata) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Metadata) attribution(d Draft) (string, error) {
	if a := cleanAgent(d.Agent); a != "" {
		return a, nil
	}
	for _, t := range d.Tags {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(t)), "agent:") {
			if a := cleanAgent(t); a != "" {
				return a, nil
			}
		}
	}
	if a := cleanAgent(g.DefaultAgent); a != "" {
		return a, nil
	}
	if g.Strict {
		return "", ErrMissingAttribution
	}
	return UnknownAgent, nil
}

func cleanAgent(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= len("agent:") && strings.EqualFold(s[:len("agent:")], "agent:") {
		s = s[len("agent:"):]
	}
	return strings.ToLower(strings.TrimSpace(s))
}
