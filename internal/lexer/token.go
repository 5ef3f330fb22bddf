package lexer

import (
	"fmt"

	"github.com/pslens/pslens/internal/syntax"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL

	// Statement separators
	NEWLINE
	SEMI

	// Punctuation
	COMMA
	DOT
	DOTDOT     // .. range operator
	COLONCOLON // :: static member access
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET
	ATPAREN     // @(
	ATBRACE     // @{
	DOLLARPAREN // $(
	PIPE
	AMP // & call operator

	// Assignment operators
	ASSIGN
	PLUS_ASSIGN
	MINUS_ASSIGN
	STAR_ASSIGN
	SLASH_ASSIGN
	PERCENT_ASSIGN

	// Arithmetic operators
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	BANG
	PLUSPLUS
	MINUSMINUS

	// DASHWORD is a '-' immediately followed by letters: either a named
	// operator (-join, -eq, -f ...) or a command parameter (-Name). The
	// parser classifies it; Text includes the leading dash.
	DASHWORD

	// REDIRECT is a stream redirection spelling: >, >>, 2>, 2>>, 2>&1, *>.
	// Text carries the exact spelling.
	REDIRECT

	// Literals and words
	VARIABLE // $name or ${name}; Text is the name without sigil or braces
	STRING   // quoted string; Text is the decoded value, Quote the style
	NUMBER   // integer or float; Text is the raw spelling
	IDENT    // bareword: identifiers, command names, paths
)

var tokenNames = [...]string{
	EOF:            "EOF",
	ILLEGAL:        "ILLEGAL",
	NEWLINE:        "NEWLINE",
	SEMI:           "SEMI",
	COMMA:          "COMMA",
	DOT:            "DOT",
	DOTDOT:         "DOTDOT",
	COLONCOLON:     "COLONCOLON",
	LPAREN:         "LPAREN",
	RPAREN:         "RPAREN",
	LBRACE:         "LBRACE",
	RBRACE:         "RBRACE",
	LBRACKET:       "LBRACKET",
	RBRACKET:       "RBRACKET",
	ATPAREN:        "ATPAREN",
	ATBRACE:        "ATBRACE",
	DOLLARPAREN:    "DOLLARPAREN",
	PIPE:           "PIPE",
	AMP:            "AMP",
	ASSIGN:         "ASSIGN",
	PLUS_ASSIGN:    "PLUS_ASSIGN",
	MINUS_ASSIGN:   "MINUS_ASSIGN",
	STAR_ASSIGN:    "STAR_ASSIGN",
	SLASH_ASSIGN:   "SLASH_ASSIGN",
	PERCENT_ASSIGN: "PERCENT_ASSIGN",
	PLUS:           "PLUS",
	MINUS:          "MINUS",
	PLUSPLUS:       "PLUSPLUS",
	MINUSMINUS:     "MINUSMINUS",
	STAR:           "STAR",
	SLASH:          "SLASH",
	PERCENT:        "PERCENT",
	BANG:           "BANG",
	DASHWORD:       "DASHWORD",
	REDIRECT:       "REDIRECT",
	VARIABLE:       "VARIABLE",
	STRING:         "STRING",
	NUMBER:         "NUMBER",
	IDENT:          "IDENT",
}

func (t TokenType) String() string {
	if int(t) >= 0 && int(t) < len(tokenNames) {
		return tokenNames[t]
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position represents a position in the source code.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
	Offset int // 0-based byte offset
}

// Token represents a lexical token.
type Token struct {
	Type     TokenType
	Text     string       // semantic text (decoded for STRING, name for VARIABLE)
	Raw      string       // undecoded span, double-quoted STRING containing '$' only
	Quote    syntax.Quote // quoting style, STRING only
	Position Position
	End      int // byte offset just past the token, for source capture
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)", t.Type, t.Text)
}
