package eval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pslens/pslens/internal/eval"
	"github.com/pslens/pslens/internal/syntax"
)

func TestCanonicalType(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"char", "system.char"},
		{"Char", "system.char"},
		{"System.Convert", "system.convert"},
		{"byte[]", "system.byte"},
		{" Text.Encoding ", "system.text.encoding"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, eval.CanonicalType(tt.in))
	}
}

func TestTypeAllowed(t *testing.T) {
	g := eval.NewGate()

	allowed := []string{
		"char", "convert", "math", "string",
		"System.Text.Encoding", "Text.Encoding",
		"System.Security.Cryptography.MD5",
		"System.IO.MemoryStream",
		"byte[]", "char[]",
	}
	for _, name := range allowed {
		assert.True(t, g.TypeAllowed(name), name)
	}

	denied := []string{
		"System.Net.WebClient",
		"System.IO.File",
		"System.Diagnostics.Process",
		"System.Reflection.Assembly",
		"ScriptBlock",
		"",
		// Prefix matching is per dotted segment, not per character.
		"System.Mathematics.Thing",
		"System.StringBuilder",
	}
	for _, name := range denied {
		assert.False(t, g.TypeAllowed(name), name)
	}
}

func TestTypeAllowedExtraPrefixes(t *testing.T) {
	g := eval.NewGate("System.Numerics")
	assert.True(t, g.TypeAllowed("System.Numerics.BigInteger"))
	assert.False(t, eval.NewGate().TypeAllowed("System.Numerics.BigInteger"))
}

func TestDeniedTypeNeverFolds(t *testing.T) {
	_, ok := fold(t, eval.NewContext(), `[System.IO.File]::ReadAllText('x')`)
	assert.False(t, ok)
}

func defineFunctions(t *testing.T, ctx *eval.Context, src string) map[string]*syntax.Node {
	t.Helper()
	program := parseProgram(t, src)
	fns := map[string]*syntax.Node{}
	for _, stmt := range program.Elems {
		require.Equal(t, syntax.KindFunction, stmt.Kind)
		ctx.DefineFunction(stmt.Name, stmt)
		fns[stmt.Name] = stmt
	}
	return fns
}

func TestIsSafeToInline(t *testing.T) {
	tests := []struct {
		name string
		src  string
		fn   string
		want bool
	}{
		{
			"pure decoder",
			"function Decode($s) {\n    $out = ''\n    $out = $out + [char]65\n    return $out + $s\n}",
			"Decode",
			true,
		},
		{
			"pure conditional",
			"function Pick($n) { if ($n -gt 0) { return 'pos' } else { return 'neg' } }",
			"Pick",
			true,
		},
		{
			"command call",
			"function Bad { Invoke-WebRequest 'http://x' }",
			"Bad",
			false,
		},
		{
			"loop body",
			"function Loops { while ($true) { $x = 1 } }",
			"Loops",
			false,
		},
		{
			"member invocation",
			"function M($s) { return $s.ToUpper() }",
			"M",
			false,
		},
		{
			"direct recursion",
			"function R($n) { return (R $n) }",
			"R",
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := eval.NewContext()
			fns := defineFunctions(t, ctx, tt.src)
			g := eval.NewGate()
			got := g.IsSafeToInline(ctx, fns[tt.fn], map[string]bool{})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsSafeToInlineMutualRecursion(t *testing.T) {
	ctx := eval.NewContext()
	fns := defineFunctions(t, ctx,
		"function A($n) { return (B $n) }\nfunction B($n) { return (A $n) }")
	g := eval.NewGate()
	assert.False(t, g.IsSafeToInline(ctx, fns["A"], map[string]bool{}))
	assert.False(t, g.IsSafeToInline(ctx, fns["B"], map[string]bool{}))
}

func TestIsSafeToInlinePureCallChain(t *testing.T) {
	ctx := eval.NewContext()
	fns := defineFunctions(t, ctx,
		"function Inner($n) { return $n + 1 }\nfunction Outer($n) { return (Inner $n) }")
	g := eval.NewGate()
	assert.True(t, g.IsSafeToInline(ctx, fns["Outer"], map[string]bool{}))
}

func TestSideEffectFree(t *testing.T) {
	ctx := eval.NewContext()
	g := eval.NewGate()

	pure := []string{`1 + 2`, `$a`, `[char]$c`, `('a', 'b')`}
	for _, src := range pure {
		assert.True(t, g.SideEffectFree(ctx, parseExpr(t, src)), src)
	}

	// Indexing is outside the purity grammar: a receiver can hide an
	// indexer with behavior of its own.
	impure := []string{`Remove-Item x`, `$o.Close()`, `a | b`, `$arr[0]`}
	for _, src := range impure {
		assert.False(t, g.SideEffectFree(ctx, parseExpr(t, src)), src)
	}
}
