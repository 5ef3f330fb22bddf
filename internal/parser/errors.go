package parser

import (
	"fmt"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/pslens/pslens/internal/lexer"
)

// ParseError represents a fatal parse error with context for a useful
// message. Constructs the parser merely does not model are not errors;
// they become error placeholder nodes instead.
type ParseError struct {
	Position lexer.Position

	Message string // clear, specific: "unterminated string literal"
	Context string // what we were parsing: "switch clause"

	Expected []lexer.TokenType // tokens that would have been valid
	Got      lexer.TokenType   // what we found instead

	Suggestion string // actionable fix, when we have one
}

func (e ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "line %d:%d: %s", e.Position.Line, e.Position.Column, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, " (while parsing %s)", e.Context)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "; %s", e.Suggestion)
	}
	return b.String()
}

// keywords the parser recognizes, used for misspelling suggestions.
var keywordList = []string{
	"if", "elseif", "else", "while", "do", "until", "for", "foreach", "in",
	"switch", "try", "catch", "finally", "function", "class", "enum",
	"return", "break", "continue", "throw", "default", "param",
}

// suggestKeyword returns a "did you mean" hint for a near-miss keyword,
// or an empty string when nothing is close enough.
func suggestKeyword(word string) string {
	matches := fuzzy.RankFindNormalizedFold(word, keywordList)
	if len(matches) == 0 {
		return ""
	}
	best := matches[0]
	for _, m := range matches[1:] {
		if m.Distance < best.Distance {
			best = m
		}
	}
	if best.Distance > 2 {
		return ""
	}
	return fmt.Sprintf("did you mean %q?", best.Target)
}
