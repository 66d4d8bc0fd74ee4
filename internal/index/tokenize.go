package index

import "strings"

var stopWords = map[string]bool{
	"the": true, "be": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true, "he": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true, "his": true,
	"by": true, "from": true, "they": true, "we": true, "say": true, "her": true, "she": true,
	"or": true, "an": true, "will": true, "my": true, "one": true, "all": true, "would": true,
	"there": true, "their": true, "what": true, "so": true, "up": true, "out": true, "if": true,
	"about": true, "who": true, "get": true, "which": true, "me": true, "is": true,
	"are": true, "was": true, "were": true, "been": true, "has": true, "had": true, "can": true,
	"should": true, "must": true, "when": true, "then": true, "than": true, "into": true,
	"its": true, "our": true, "also": true, "any": true, "each": true, "only": true,
}

// Tokenize splits text into lowercase terms of [a-z0-9_-], dropping
// single-character tokens and stop words.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 {
			tok := strings.Trim(current.String(), "-_")
			if len(tok) > 1 && !stopWords[tok] {
				tokens = append(tokens, tok)
			}
		}
		current.Reset()
	}
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}
