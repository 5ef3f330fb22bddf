// Package lexer tokenizes PowerShell-family source text for the parser.
//
// The lexer is deliberately forgiving: anything it cannot classify becomes
// an ILLEGAL token, which the parser turns into an error placeholder node
// that preserves the original source verbatim. Hostile input must never
// make tokenization fail outright.
package lexer

import (
	"strings"

	"github.com/pslens/pslens/internal/syntax"
)

// Lexer scans source bytes into tokens.
type Lexer struct {
	input    []byte
	position int
	line     int
	column   int
}

// New creates a lexer over the given source.
func New(input []byte) *Lexer {
	return &Lexer{input: input, line: 1, column: 1}
}

// Lex tokenizes the whole source in one call.
func Lex(src []byte) []Token {
	l := New(src)
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens
		}
	}
}

func (l *Lexer) pos() Position {
	return Position{Line: l.line, Column: l.column, Offset: l.position}
}

func (l *Lexer) peek() byte {
	if l.position >= len(l.input) {
		return 0
	}
	return l.input[l.position]
}

func (l *Lexer) peekAt(n int) byte {
	if l.position+n >= len(l.input) {
		return 0
	}
	return l.input[l.position+n]
}

func (l *Lexer) advance() byte {
	ch := l.input[l.position]
	l.position++
	if ch == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return ch
}

func (l *Lexer) token(t TokenType, text string, start Position) Token {
	return Token{Type: t, Text: text, Position: start, End: l.position}
}

// Next returns the next token, skipping whitespace and comments.
func (l *Lexer) Next() Token {
	l.skipSpaceAndComments()

	start := l.pos()
	if l.position >= len(l.input) {
		return l.token(EOF, "", start)
	}

	ch := l.peek()
	switch {
	case ch == '\n':
		l.advance()
		// Collapse consecutive blank lines into one separator
		for {
			l.skipSpaceAndComments()
			if l.peek() != '\n' {
				break
			}
			l.advance()
		}
		return l.token(NEWLINE, "\n", start)

	case ch == '\'':
		return l.lexSingleQuoted(start)
	case ch == '"':
		return l.lexDoubleQuoted(start)
	case ch == '$':
		return l.lexDollar(start)
	case isDigit(ch):
		if l.peekAt(1) == '>' {
			return l.lexRedirect(start)
		}
		return l.lexNumber(start)
	case isIdentStart(ch):
		return l.lexIdent(start)
	}

	l.advance()
	switch ch {
	case ';':
		return l.token(SEMI, ";", start)
	case ',':
		return l.token(COMMA, ",", start)
	case '.':
		if l.peek() == '.' {
			l.advance()
			return l.token(DOTDOT, "..", start)
		}
		return l.token(DOT, ".", start)
	case ':':
		if l.peek() == ':' {
			l.advance()
			return l.token(COLONCOLON, "::", start)
		}
		return l.token(ILLEGAL, ":", start)
	case '(':
		return l.token(LPAREN, "(", start)
	case ')':
		return l.token(RPAREN, ")", start)
	case '{':
		return l.token(LBRACE, "{", start)
	case '}':
		return l.token(RBRACE, "}", start)
	case '[':
		return l.token(LBRACKET, "[", start)
	case ']':
		return l.token(RBRACKET, "]", start)
	case '|':
		return l.token(PIPE, "|", start)
	case '&':
		return l.token(AMP, "&", start)
	case '!':
		return l.token(BANG, "!", start)
	case '=':
		return l.token(ASSIGN, "=", start)
	case '+':
		if l.peek() == '=' {
			l.advance()
			return l.token(PLUS_ASSIGN, "+=", start)
		}
		if l.peek() == '+' {
			l.advance()
			return l.token(PLUSPLUS, "++", start)
		}
		return l.token(PLUS, "+", start)
	case '-':
		if isAlpha(l.peek()) {
			return l.lexDashWord(start)
		}
		if l.peek() == '=' {
			l.advance()
			return l.token(MINUS_ASSIGN, "-=", start)
		}
		if l.peek() == '-' {
			l.advance()
			return l.token(MINUSMINUS, "--", start)
		}
		return l.token(MINUS, "-", start)
	case '*':
		if l.peek() == '>' {
			l.position--
			l.column--
			return l.lexRedirect(start)
		}
		if l.peek() == '=' {
			l.advance()
			return l.token(STAR_ASSIGN, "*=", start)
		}
		return l.token(STAR, "*", start)
	case '/':
		if l.peek() == '=' {
			l.advance()
			return l.token(SLASH_ASSIGN, "/=", start)
		}
		return l.token(SLASH, "/", start)
	case '%':
		if l.peek() == '=' {
			l.advance()
			return l.token(PERCENT_ASSIGN, "%=", start)
		}
		return l.token(PERCENT, "%", start)
	case '>':
		l.position--
		l.column--
		return l.lexRedirect(start)
	case '@':
		switch l.peek() {
		case '(':
			l.advance()
			return l.token(ATPAREN, "@(", start)
		case '{':
			l.advance()
			return l.token(ATBRACE, "@{", start)
		}
		return l.token(ILLEGAL, "@", start)
	}

	return l.token(ILLEGAL, string(ch), start)
}

func (l *Lexer) skipSpaceAndComments() {
	for l.position < len(l.input) {
		ch := l.peek()
		switch {
		case ch == ' ' || ch == '\t' || ch == '\r':
			l.advance()
		case ch == '`' && (l.peekAt(1) == '\n' || (l.peekAt(1) == '\r' && l.peekAt(2) == '\n')):
			// Backtick line continuation
			l.advance()
			for l.peek() == '\r' {
				l.advance()
			}
			l.advance()
		case ch == '#':
			for l.position < len(l.input) && l.peek() != '\n' {
				l.advance()
			}
		case ch == '<' && l.peekAt(1) == '#':
			l.advance()
			l.advance()
			for l.position < len(l.input) {
				if l.peek() == '#' && l.peekAt(1) == '>' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return
		}
	}
}

// lexSingleQuoted scans 'text' with '' as the quote escape.
func (l *Lexer) lexSingleQuoted(start Position) Token {
	l.advance() // opening quote
	var b strings.Builder
	for l.position < len(l.input) {
		ch := l.advance()
		if ch == '\'' {
			if l.peek() == '\'' {
				l.advance()
				b.WriteByte('\'')
				continue
			}
			tok := l.token(STRING, b.String(), start)
			tok.Quote = syntax.SingleQuote
			return tok
		}
		b.WriteByte(ch)
	}
	return l.token(ILLEGAL, b.String(), start) // unterminated
}

// lexDoubleQuoted scans "text", decoding backtick escapes and doubled
// quotes. When the span contains a dollar sign the raw source is kept on
// the token: decoding cannot tell an escaped sigil from a live one, so
// such literals regenerate from the original spelling.
func (l *Lexer) lexDoubleQuoted(start Position) Token {
	l.advance() // opening quote
	rawStart := l.position
	var b strings.Builder
	for l.position < len(l.input) {
		ch := l.advance()
		switch ch {
		case '"':
			if l.peek() == '"' {
				l.advance()
				b.WriteByte('"')
				continue
			}
			tok := l.token(STRING, b.String(), start)
			tok.Quote = syntax.DoubleQuote
			raw := string(l.input[rawStart : l.position-1])
			if strings.ContainsRune(raw, '$') {
				tok.Raw = raw
			}
			return tok
		case '`':
			if l.position >= len(l.input) {
				break
			}
			esc := l.advance()
			switch esc {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case '0':
				b.WriteByte(0)
			case 'a':
				b.WriteByte(7)
			case 'b':
				b.WriteByte(8)
			default:
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(ch)
		}
	}
	return l.token(ILLEGAL, b.String(), start) // unterminated
}

// lexDollar scans $name, ${braced name} or the $( subexpression opener.
func (l *Lexer) lexDollar(start Position) Token {
	l.advance() // $
	switch {
	case l.peek() == '(':
		l.advance()
		return l.token(DOLLARPAREN, "$(", start)
	case l.peek() == '{':
		l.advance()
		var b strings.Builder
		for l.position < len(l.input) && l.peek() != '}' {
			b.WriteByte(l.advance())
		}
		if l.peek() == '}' {
			l.advance()
			return l.token(VARIABLE, b.String(), start)
		}
		return l.token(ILLEGAL, b.String(), start)
	case isVarChar(l.peek()):
		var b strings.Builder
		for l.position < len(l.input) && isVarChar(l.peek()) {
			b.WriteByte(l.advance())
		}
		return l.token(VARIABLE, b.String(), start)
	}
	return l.token(ILLEGAL, "$", start)
}

// lexNumber scans decimal, hexadecimal and floating literals, keeping the
// raw spelling (including any trailing long suffix) for the parser.
func (l *Lexer) lexNumber(start Position) Token {
	var b strings.Builder
	if l.peek() == '0' && (l.peekAt(1) == 'x' || l.peekAt(1) == 'X') {
		b.WriteByte(l.advance())
		b.WriteByte(l.advance())
		for isHexDigit(l.peek()) {
			b.WriteByte(l.advance())
		}
	} else {
		for isDigit(l.peek()) {
			b.WriteByte(l.advance())
		}
		if l.peek() == '.' && isDigit(l.peekAt(1)) {
			b.WriteByte(l.advance())
			for isDigit(l.peek()) {
				b.WriteByte(l.advance())
			}
		}
	}
	if l.peek() == 'l' || l.peek() == 'L' {
		b.WriteByte(l.advance())
	}
	return l.token(NUMBER, b.String(), start)
}

// lexRedirect scans redirection spellings: >, >>, 2>, 2>>, 2>&1, *>.
func (l *Lexer) lexRedirect(start Position) Token {
	var b strings.Builder
	if isDigit(l.peek()) || l.peek() == '*' {
		b.WriteByte(l.advance())
	}
	b.WriteByte(l.advance()) // >
	if l.peek() == '>' {
		b.WriteByte(l.advance())
	} else if l.peek() == '&' && isDigit(l.peekAt(1)) {
		b.WriteByte(l.advance())
		b.WriteByte(l.advance())
	}
	return l.token(REDIRECT, b.String(), start)
}

// lexDashWord scans '-' followed by letters: named operators and command
// parameters share this shape.
func (l *Lexer) lexDashWord(start Position) Token {
	var b strings.Builder
	b.WriteByte('-')
	for isAlpha(l.peek()) || isDigit(l.peek()) {
		b.WriteByte(l.advance())
	}
	return l.token(DASHWORD, b.String(), start)
}

// lexIdent scans barewords: identifiers, keywords and command names such
// as Write-Output. An interior dash is part of the word only when followed
// by an alphanumeric, so `$a -gt 1` still splits correctly.
func (l *Lexer) lexIdent(start Position) Token {
	var b strings.Builder
	for {
		ch := l.peek()
		if isIdentStart(ch) || isDigit(ch) {
			b.WriteByte(l.advance())
			continue
		}
		if ch == '-' && (isAlpha(l.peekAt(1)) || isDigit(l.peekAt(1))) {
			b.WriteByte(l.advance())
			continue
		}
		break
	}
	return l.token(IDENT, b.String(), start)
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isHexDigit(ch byte) bool {
	return isDigit(ch) || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentStart(ch byte) bool {
	return isAlpha(ch) || ch == '_'
}

func isVarChar(ch byte) bool {
	return isAlpha(ch) || isDigit(ch) || ch == '_' || ch == ':'
}
