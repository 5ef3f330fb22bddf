package parser_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pslens/pslens/internal/codegen"
	"github.com/pslens/pslens/internal/parser"
)

// roundTrip parses source and renders it back to canonical text.
func roundTrip(t *testing.T, src string) string {
	t.Helper()
	program, errs := parser.Parse([]byte(src))
	if len(errs) > 0 {
		t.Fatalf("Parse(%q) errors: %v", src, errs)
	}
	return codegen.Generate(program)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			"assignment with arithmetic",
			`$a = 1 + 2`,
			"$a = 0x1 + 0x2\n",
		},
		{
			"hex literal survives",
			`$n = 0xFF`,
			"$n = 0xFF\n",
		},
		{
			"command with arguments",
			`Write-Output hello -NoEnumerate`,
			"Write-Output hello -NoEnumerate\n",
		},
		{
			"comma glued command argument",
			`Write-Output 1, 2, 3`,
			"Write-Output 0x1, 0x2, 0x3\n",
		},
		{
			"pipeline",
			`1..3 | ForEach-Object { $_ }`,
			"0x1..0x3 | ForEach-Object { $_ }\n",
		},
		{
			"if else",
			"if ($a) { Write-Output 1 } else { Write-Output 2 }",
			"if ($a) {\n    Write-Output 0x1\n} else {\n    Write-Output 0x2\n}\n",
		},
		{
			"elseif chain",
			"if ($a) { $x = 1 } elseif ($b) { $x = 2 }",
			"if ($a) {\n    $x = 0x1\n} elseif ($b) {\n    $x = 0x2\n}\n",
		},
		{
			"member chain",
			`$s.ToUpper().Length`,
			"$s.ToUpper().Length\n",
		},
		{
			"static invocation",
			`[System.Convert]::ToChar(65)`,
			"[System.Convert]::ToChar(0x41)\n",
		},
		{
			"cast",
			`[char]65`,
			"[char]0x41\n",
		},
		{
			"array type suffix",
			`[byte[]]$b`,
			"[byte[]]$b\n",
		},
		{
			"hashtable",
			`@{ a = 1; b = 'x' }`,
			"@{ a = 0x1; b = 'x' }\n",
		},
		{
			"do until",
			"do { $i = $i + 1 } until ($i -gt 5)",
			"do {\n    $i = $i + 0x1\n} until ($i -gt 0x5)\n",
		},
		{
			"foreach",
			"foreach ($x in $list) { Write-Output $x }",
			"foreach ($x in $list) {\n    Write-Output $x\n}\n",
		},
		{
			"function with defaults",
			"function Get-Thing($a, $b = 2) { return $a }",
			"function Get-Thing($a, $b = 0x2) {\n    return $a\n}\n",
		},
		{
			"try catch finally",
			"try { $x = 1 } catch { $x = 2 } finally { $x = 3 }",
			"try {\n    $x = 0x1\n} catch {\n    $x = 0x2\n} finally {\n    $x = 0x3\n}\n",
		},
		{
			"postfix increment normalizes",
			`$i++`,
			"$i += 0x1\n",
		},
		{
			"call operator",
			`& 'Get-Date'`,
			"& 'Get-Date'\n",
		},
		{
			"redirection",
			`Write-Output hi 2>> err.log`,
			"Write-Output hi 2>> err.log\n",
		},
		{
			"subexpression",
			`$x = $(1; 2)`,
			"$x = $(0x1; 0x2)\n",
		},
		{
			"array subexpression",
			`$x = @(1, 2)`,
			"$x = @(0x1, 0x2)\n",
		},
		{
			"double quoted interpolation kept",
			`Write-Output "value: $v"`,
			"Write-Output \"value: $v\"\n",
		},
		{
			"escaped sigil kept",
			"Write-Output \"`$PSHome\"",
			"Write-Output \"`$PSHome\"\n",
		},
		{
			"escaped and live sigils kept",
			"Write-Output \"`$lit is $v\"",
			"Write-Output \"`$lit is $v\"\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.src)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// A second render of the regenerated text must be byte-identical - the
// fixed-point loop depends on it.
func TestRoundTripStable(t *testing.T) {
	srcs := []string{
		"$a = 1 + 2\nif ($a) { Write-Output $a }",
		"foreach ($x in 1..5) { $sum = $sum + $x }",
		"function F { return 'x' }\nF",
	}
	for _, src := range srcs {
		first := roundTrip(t, src)
		second := roundTrip(t, first)
		if first != second {
			t.Errorf("unstable round trip for %q:\nfirst:  %q\nsecond: %q", src, first, second)
		}
	}
}

func TestUnmodeledStatementPreserved(t *testing.T) {
	program, errs := parser.Parse([]byte("= 5"))
	if len(errs) > 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	got := codegen.Generate(program)
	if got != "= 5\n" {
		t.Errorf("error node did not preserve source: %q", got)
	}
}

func TestParenthesizedAssignment(t *testing.T) {
	src := "($a = 0x5)\nWrite-Output $a\n"
	got := roundTrip(t, src)
	if got != src {
		t.Errorf("parenthesized assignment: got %q, want %q", got, src)
	}
}

func TestDanglingCloserTerminates(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{")", ")\n"},
		{")\nWrite-Output 0x1", ")\nWrite-Output 0x1\n"},
		{"]", "]\n"},
	}
	for _, tt := range tests {
		program, errs := parser.Parse([]byte(tt.src))
		if len(errs) > 0 {
			t.Fatalf("%q: unexpected errors: %v", tt.src, errs)
		}
		got := codegen.Generate(program)
		if got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestFatalErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"do without while", "do { $x = 1 } forever", "do body must be followed by while or until"},
		{"try without handler", "try { $x = 1 }", "try statement requires catch or finally"},
		{"unterminated single quote", "$x = 'abc", "unterminated string literal"},
		{"unterminated double quote", `$x = "abc`, "unterminated string literal"},
		{"unterminated braced variable", "${name", "unterminated braced variable name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := parser.Parse([]byte(tt.src))
			if len(errs) == 0 {
				t.Fatalf("Parse(%q) succeeded, want fatal error", tt.src)
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e.Error(), tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("errors %v do not mention %q", errs, tt.want)
			}
		})
	}
}

func TestMisspelledKeywordSuggestion(t *testing.T) {
	_, errs := parser.Parse([]byte("do { $x = 1 } wile ($x)"))
	if len(errs) == 0 {
		t.Fatal("expected a fatal error")
	}
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	if !strings.Contains(joined, `did you mean "while"?`) {
		t.Errorf("expected a suggestion mentioning while, got: %s", joined)
	}
}
