// Package guardian normalizes memories on the way into the knowledge store:
// metadata (timestamps, attribution, priority) and a fixed content template.
package guardian

import (
	"regexp"
	"strings"
)

// Kind classifies a memory.
type Kind string

const (
	KindPattern  Kind = "PATTERN"
	KindDecision Kind = "DECISION"
	KindProblem  Kind = "PROBLEM"
	KindInsight  Kind = "INSIGHT"
	KindOther    Kind = "OTHER"
)

var kinds = []Kind{KindPattern, KindDecision, KindProblem, KindInsight, KindOther}

// Tag returns the tag form, e.g. "type:pattern".
func (k Kind) Tag() string {
	return "type:" + strings.ToLower(string(k))
}

// ParseKind accepts "pattern", "PATTERN" or "type:pattern".
func ParseKind(s string) (Kind, bool) {
	s = strings.ToUpper(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "type:"))
	for _, k := range kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

var kindPrefix = regexp.MustCompile(`^\s*\[([A-Za-z]+)\]:`)

// InferKind reads the kind from the first type: tag, then from a leading
// "[KIND]:" in content. Defaults to KindOther.
func InferKind(content string, tags []string) Kind {
	for _, t := range tags {
		if strings.HasPrefix(strings.ToLower(t), "type:") {
			if k, ok := ParseKind(t); ok {
				return k
			}
		}
	}
	if m := kindPrefix.FindStringSubmatch(content); m != nil {
		if k, ok := ParseKind(m[1]); ok {
			return k
		}
	}
	return KindOther
}
