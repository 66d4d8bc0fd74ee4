package iqo

import (
	"bufio"
	"context"
	"strings"
)

// Heuristic extracts a Query from header lines and term frequency.
//
//	Domain: database
//	Domains: auth, api
//	Tags: type:decision
//	Required-Tags: lang:go
type Heuristic struct{}

func (Heuristic) Extract(_ context.Context, spec string, env Env) (*Query, error) {
	q := &Query{}
	var body strings.Builder

	sc := bufio.NewScanner(strings.NewReader(spec))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		key, val, ok := header(line)
		if !ok {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		switch key {
		case "domain", "domains":
			q.Domains = append(q.Domains, splitList(val)...)
		case "tags":
			q.OptionalTags = append(q.OptionalTags, splitList(val)...)
		case "required-tags":
			q.RequiredTags = append(q.RequiredTags, splitList(val)...)
		default:
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}

	q.Keywords = topKeywords(body.String(), MaxKeywords)
	q.OptionalTags = append(q.OptionalTags, envTags(env)...)
	return q, nil
}

func header(line string) (key, val string, ok bool) {
	k, v, found := strings.Cut(strings.TrimSpace(line), ":")
	if !found || strings.ContainsAny(k, " \t") {
		return "", "", false
	}
	switch k = strings.ToLower(k); k {
	case "domain", "domains", "tags", "required-tags":
		return k, strings.TrimSpace(v), true
	}
	return "", "", false
}

func splitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
