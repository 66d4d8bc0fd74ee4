package guardian

import (
	"fmt"
	"regexp"
	"strings"
)

// Pending fills an empty template section.
const Pending = "(pending)"

const maxTitle = 80

var templated = regexp.MustCompile(`(?s)^\[[A-Z]+\]: .+\n\nCONTEXT: .*\n\nREASONING: .*\n\nOUTCOME: .*$`)

var (
	reasoningCues = []string{"because", "since", "so that", "in order to", "the reason", "why", "rationale"}
	outcomeCues   = []string{"result", "now ", "fixed", "resolved", "outcome", "therefore", "as a result", "which led", "improved", "reduced"}
)

// Template rewrites content into the fixed four-part structure:
//
//	[KIND]: title
//
//	CONTEXT: ...
//
//	REASONING: ...
//
//	OUTCOME: ...
//
// Only sentences from the source are used.
type Template struct{}

// IsTemplated reports whether content already follows the structure.
func IsTemplated(content string) bool {
	return templated.MatchString(strings.TrimSpace(content))
}

func (Template) Format(kind Kind, content string) string {
	content = strings.TrimSpace(content)
	if IsTemplated(content) {
		return content
	}
	content = strings.TrimSpace(kindPrefix.ReplaceAllString(content, ""))

	sentences := splitSentences(content)
	title := Pending
	if len(sentences) > 0 {
		title = strings.TrimRight(sentences[0], ".!?")
		if r := []rune(title); len(r) > maxTitle {
			title = strings.TrimSpace(string(r[:maxTitle-3])) + "..."
		}
		sentences = sentences[1:]
	}

	var ctx, why, out []string
	for _, s := range sentences {
		lower := strings.ToLower(s)
		switch {
		case hasCue(lower, reasoningCues):
			why = append(why, s)
		case hasCue(lower, outcomeCues):
			out = append(out, s)
		default:
			ctx = append(ctx, s)
		}
	}

	return fmt.Sprintf("[%s]: %s\n\nCONTEXT: %s\n\nREASONING: %s\n\nOUTCOME: %s",
		kind, title, join(ctx), join(why), join(out))
}

func hasCue(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

func join(ss []string) string {
	if len(ss) == 0 {
		return Pending
	}
	return strings.Join(ss, " ")
}

func splitSentences(s string) []string {
	var out []string
	var cur strings.Builder
	emit := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			out = append(out, t)
		}
		cur.Reset()
	}
	runes := []rune(s)
	for i, r := range runes {
		if r == '\n' {
			emit()
			continue
		}
		cur.WriteRune(r)
		if (r == '.' || r == '!' || r == '?') && (i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			emit()
		}
	}
	emit()
	return out
}
