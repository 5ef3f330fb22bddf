package lexer_test

import (
	"testing"

	"github.com/pslens/pslens/internal/lexer"
	"github.com/pslens/pslens/internal/syntax"
)

func types(tokens []lexer.Token) []lexer.TokenType {
	out := make([]lexer.TokenType, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Type
	}
	return out
}

func expectTypes(t *testing.T, src string, want ...lexer.TokenType) []lexer.Token {
	t.Helper()
	want = append(want, lexer.EOF)
	tokens := lexer.Lex([]byte(src))
	got := types(tokens)
	if len(got) != len(want) {
		t.Fatalf("Lex(%q) = %v, want %v", src, got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Lex(%q) token %d = %v, want %v", src, i, got[i], want[i])
		}
	}
	return tokens
}

func TestTokenStreams(t *testing.T) {
	expectTypes(t, `$a = 1 + 2`,
		lexer.VARIABLE, lexer.ASSIGN, lexer.NUMBER, lexer.PLUS, lexer.NUMBER)
	expectTypes(t, `Write-Output $x`,
		lexer.IDENT, lexer.VARIABLE)
	expectTypes(t, `1..3`,
		lexer.NUMBER, lexer.DOTDOT, lexer.NUMBER)
	expectTypes(t, `[char]::ToUpper`,
		lexer.LBRACKET, lexer.IDENT, lexer.RBRACKET, lexer.COLONCOLON, lexer.IDENT)
	expectTypes(t, `a | % { $_ }`,
		lexer.IDENT, lexer.PIPE, lexer.PERCENT, lexer.LBRACE, lexer.VARIABLE, lexer.RBRACE)
	expectTypes(t, `@(1, 2)`,
		lexer.ATPAREN, lexer.NUMBER, lexer.COMMA, lexer.NUMBER, lexer.RPAREN)
	expectTypes(t, `@{ a = 1 }`,
		lexer.ATBRACE, lexer.IDENT, lexer.ASSIGN, lexer.NUMBER, lexer.RBRACE)
	expectTypes(t, `$(1)`,
		lexer.DOLLARPAREN, lexer.NUMBER, lexer.RPAREN)
	expectTypes(t, `& $fn`,
		lexer.AMP, lexer.VARIABLE)
	expectTypes(t, `$a -eq 3`,
		lexer.VARIABLE, lexer.DASHWORD, lexer.NUMBER)
	expectTypes(t, `$i++`,
		lexer.VARIABLE, lexer.PLUSPLUS)
	expectTypes(t, `$i--`,
		lexer.VARIABLE, lexer.MINUSMINUS)
	expectTypes(t, `$a += 1`,
		lexer.VARIABLE, lexer.PLUS_ASSIGN, lexer.NUMBER)
	expectTypes(t, `$a -= 1`,
		lexer.VARIABLE, lexer.MINUS_ASSIGN, lexer.NUMBER)
	expectTypes(t, `2 - 1`,
		lexer.NUMBER, lexer.MINUS, lexer.NUMBER)
}

// An interior dash stays in the word only when an alphanumeric follows,
// so operators after a bareword still split.
func TestDashedIdentifiers(t *testing.T) {
	tokens := expectTypes(t, `Invoke-Expression`, lexer.IDENT)
	if tokens[0].Text != "Invoke-Expression" {
		t.Fatalf("Text = %q", tokens[0].Text)
	}
	expectTypes(t, `cmd - arg`, lexer.IDENT, lexer.MINUS, lexer.IDENT)
}

func TestVariables(t *testing.T) {
	tests := []struct {
		src, name string
	}{
		{`$count`, "count"},
		{`${weird name}`, "weird name"},
		{`$env:PATH`, "env:PATH"},
		{`$_`, "_"},
	}
	for _, tt := range tests {
		tokens := lexer.Lex([]byte(tt.src))
		if tokens[0].Type != lexer.VARIABLE {
			t.Fatalf("Lex(%q)[0] = %v, want VARIABLE", tt.src, tokens[0].Type)
		}
		if tokens[0].Text != tt.name {
			t.Errorf("Lex(%q) name = %q, want %q", tt.src, tokens[0].Text, tt.name)
		}
	}
}

func TestStringDecoding(t *testing.T) {
	tests := []struct {
		src   string
		value string
		quote syntax.Quote
	}{
		{`'plain'`, "plain", syntax.SingleQuote},
		{`'it''s'`, "it's", syntax.SingleQuote},
		{"'back`tick'", "back`tick", syntax.SingleQuote},
		{`"plain"`, "plain", syntax.DoubleQuote},
		{"\"a`nb\"", "a\nb", syntax.DoubleQuote},
		{"\"a`tb\"", "a\tb", syntax.DoubleQuote},
		{"\"q`\"q\"", `q"q`, syntax.DoubleQuote},
		{`"d""d"`, `d"d`, syntax.DoubleQuote},
		{`"keep $var"`, "keep $var", syntax.DoubleQuote},
	}
	for _, tt := range tests {
		tokens := lexer.Lex([]byte(tt.src))
		tok := tokens[0]
		if tok.Type != lexer.STRING {
			t.Fatalf("Lex(%q)[0] = %v, want STRING", tt.src, tok.Type)
		}
		if tok.Text != tt.value {
			t.Errorf("Lex(%q) value = %q, want %q", tt.src, tok.Text, tt.value)
		}
		if tok.Quote != tt.quote {
			t.Errorf("Lex(%q) quote = %v, want %v", tt.src, tok.Quote, tt.quote)
		}
	}
}

// Double-quoted spans holding a dollar sign keep their raw spelling:
// after decoding, an escaped sigil and a live one read the same.
func TestDoubleQuotedRawSpanKept(t *testing.T) {
	tests := []struct {
		src   string
		value string
		raw   string
	}{
		{"\"`$PSHome\"", "$PSHome", "`$PSHome"},
		{`"keep $var"`, "keep $var", "keep $var"},
		{"\"a`n$v\"", "a\n$v", "a`n$v"},
		{`"plain"`, "plain", ""},
		{"\"a`nb\"", "a\nb", ""},
	}
	for _, tt := range tests {
		tok := lexer.Lex([]byte(tt.src))[0]
		if tok.Type != lexer.STRING {
			t.Fatalf("Lex(%q)[0] = %v, want STRING", tt.src, tok.Type)
		}
		if tok.Text != tt.value {
			t.Errorf("Lex(%q) value = %q, want %q", tt.src, tok.Text, tt.value)
		}
		if tok.Raw != tt.raw {
			t.Errorf("Lex(%q) raw = %q, want %q", tt.src, tok.Raw, tt.raw)
		}
	}
}

func TestUnterminatedStringIsIllegal(t *testing.T) {
	for _, src := range []string{`'open`, `"open`, `${open`} {
		tokens := lexer.Lex([]byte(src))
		found := false
		for _, tok := range tokens {
			if tok.Type == lexer.ILLEGAL {
				found = true
			}
		}
		if !found {
			t.Errorf("Lex(%q) produced no ILLEGAL token: %v", src, types(tokens))
		}
	}
}

func TestNumbers(t *testing.T) {
	tests := []struct {
		src, text string
	}{
		{`42`, "42"},
		{`0xFF`, "0xFF"},
		{`3.14`, "3.14"},
		{`42L`, "42L"},
		{`0x10l`, "0x10l"},
	}
	for _, tt := range tests {
		tokens := lexer.Lex([]byte(tt.src))
		if tokens[0].Type != lexer.NUMBER || tokens[0].Text != tt.text {
			t.Errorf("Lex(%q) = %v %q, want NUMBER %q", tt.src, tokens[0].Type, tokens[0].Text, tt.text)
		}
	}
}

func TestRedirects(t *testing.T) {
	for _, spelling := range []string{`>`, `>>`, `2>`, `2>>`, `2>&1`, `*>`, `*>>`} {
		tokens := lexer.Lex([]byte(spelling))
		if tokens[0].Type != lexer.REDIRECT || tokens[0].Text != spelling {
			t.Errorf("Lex(%q) = %v %q, want REDIRECT %q",
				spelling, tokens[0].Type, tokens[0].Text, spelling)
		}
	}
}

func TestCommentsSkipped(t *testing.T) {
	expectTypes(t, "a # trailing comment\nb",
		lexer.IDENT, lexer.NEWLINE, lexer.IDENT)
	expectTypes(t, "a <# inline #> b",
		lexer.IDENT, lexer.IDENT)
	expectTypes(t, "<# multi\nline #>\na",
		lexer.NEWLINE, lexer.IDENT)
}

func TestBlankLinesCollapse(t *testing.T) {
	expectTypes(t, "a\n\n\n\nb", lexer.IDENT, lexer.NEWLINE, lexer.IDENT)
}

func TestLineContinuation(t *testing.T) {
	expectTypes(t, "a `\nb", lexer.IDENT, lexer.IDENT)
	expectTypes(t, "a `\r\nb", lexer.IDENT, lexer.IDENT)
}

func TestPositions(t *testing.T) {
	tokens := lexer.Lex([]byte("$a = 1\n$b = 2"))
	if tokens[0].Position.Line != 1 || tokens[0].Position.Column != 1 {
		t.Errorf("first token at %+v", tokens[0].Position)
	}
	var second lexer.Token
	for _, tok := range tokens {
		if tok.Type == lexer.VARIABLE && tok.Text == "b" {
			second = tok
		}
	}
	if second.Position.Line != 2 || second.Position.Column != 1 {
		t.Errorf("$b at %+v, want line 2 column 1", second.Position)
	}
	if second.Position.Offset != 7 {
		t.Errorf("$b offset = %d, want 7", second.Position.Offset)
	}
}
