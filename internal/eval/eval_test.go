package eval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pslens/pslens/internal/eval"
	"github.com/pslens/pslens/internal/parser"
	"github.com/pslens/pslens/internal/syntax"
)

func parseProgram(t *testing.T, src string) *syntax.Node {
	t.Helper()
	program, errs := parser.Parse([]byte(src))
	require.Empty(t, errs, "parse %q", src)
	return program
}

// parseExpr parses a single expression statement.
func parseExpr(t *testing.T, src string) *syntax.Node {
	t.Helper()
	program := parseProgram(t, src)
	require.Len(t, program.Elems, 1, "parse %q", src)
	return program.Elems[0]
}

func fold(t *testing.T, ctx *eval.Context, src string) (any, bool) {
	t.Helper()
	ev := eval.New(ctx, eval.NewGate())
	return ev.TryConstant(parseExpr(t, src))
}

func TestFoldArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`1 + 2`, int64(3)},
		{`10 - 3`, int64(7)},
		{`6 * 7`, int64(42)},
		{`10 / 2`, int64(5)},
		{`10 / 4`, 2.5},
		{`10 % 3`, int64(1)},
		{`2.5 + 0.5`, 3.0},
		{`-5`, int64(-5)},
		{`'ab' * 3`, "ababab"},
		{`'a' + 'b'`, "ab"},
		{`'a' + 1`, "a1"},
		{`7 -band 3`, int64(3)},
		{`1 -shl 4`, int64(16)},
		{`-bnot 0`, int64(-1)},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, ok := fold(t, eval.NewContext(), tt.src)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFoldIntegerOverflowWidens(t *testing.T) {
	got, ok := fold(t, eval.NewContext(), `9223372036854775807 + 1`)
	require.True(t, ok)
	assert.IsType(t, float64(0), got)
}

func TestDivisionByZeroDoesNotFold(t *testing.T) {
	for _, src := range []string{`1 / 0`, `1 % 0`} {
		_, ok := fold(t, eval.NewContext(), src)
		assert.False(t, ok, src)
	}
}

func TestFoldComparisons(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{`'Abc' -eq 'abc'`, true},
		{`'Abc' -ceq 'abc'`, false},
		{`'Abc' -ne 'abc'`, false},
		{`3 -gt 2`, true},
		{`3 -le 2`, false},
		{`'b' -gt 'a'`, true},
		{`$true -and 1`, true},
		{`$false -or 0`, false},
		{`$true -xor $true`, false},
		{`'x' -in 'a', 'x'`, true},
		{`('a', 'b') -contains 'B'`, true},
		{`('a', 'b') -ccontains 'B'`, false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, ok := fold(t, eval.NewContext(), tt.src)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// -and with a falsy constant left side folds even when the right side is
// an unknown variable.
func TestShortCircuit(t *testing.T) {
	got, ok := fold(t, eval.NewContext(), `$false -and $unknown`)
	require.True(t, ok)
	assert.Equal(t, false, got)

	got, ok = fold(t, eval.NewContext(), `$true -or $unknown`)
	require.True(t, ok)
	assert.Equal(t, true, got)

	_, ok = fold(t, eval.NewContext(), `$true -and $unknown`)
	assert.False(t, ok)
}

func TestFoldStringOperators(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`'{0}-{1}' -f 1, 2`, "1-2"},
		{`'x{0}' -f 5`, "x5"},
		{`'a,b,c' -split ','`, []any{"a", "b", "c"}},
		{`('a', 'b', 'c') -join '-'`, "a-b-c"},
		{`-join ('1', '2', '3')`, "123"},
		{`'aAa' -replace 'a', 'b'`, "bbb"},
		{`'aAa' -creplace 'a', 'b'`, "bAb"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, ok := fold(t, eval.NewContext(), tt.src)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Separators with regex metacharacters keep their runtime regex
// semantics, so they never fold.
func TestRegexSeparatorsDoNotFold(t *testing.T) {
	for _, src := range []string{
		`'a.b' -split '.'`,
		`'abc' -replace '.', 'x'`,
		`'a1' -replace '\d', ''`,
		`'abc' -match 'a.c'`,
	} {
		_, ok := fold(t, eval.NewContext(), src)
		assert.False(t, ok, src)
	}
}

func TestFoldRange(t *testing.T) {
	got, ok := fold(t, eval.NewContext(), `1..4`)
	require.True(t, ok)
	assert.Equal(t, []any{int64(1), int64(2), int64(3), int64(4)}, got)

	got, ok = fold(t, eval.NewContext(), `3..1`)
	require.True(t, ok)
	assert.Equal(t, []any{int64(3), int64(2), int64(1)}, got)

	// Oversized ranges stay unfolded instead of allocating.
	_, ok = fold(t, eval.NewContext(), `1..99999999`)
	assert.False(t, ok)

	// Bounds that span nearly the whole int64 width must not wrap the
	// element count.
	_, ok = fold(t, eval.NewContext(), `-9223372036854775807..9223372036854775807`)
	assert.False(t, ok)
	_, ok = fold(t, eval.NewContext(), `9223372036854775807..-9223372036854775807`)
	assert.False(t, ok)
}

func TestFoldRepetitionOversized(t *testing.T) {
	for _, src := range []string{
		`'ab' * 6000000000000000000`,
		`'ab' * 99999999`,
		`(1, 2) * 6000000000000000000`,
	} {
		_, ok := fold(t, eval.NewContext(), src)
		assert.False(t, ok, src)
	}
}

func TestFoldVariables(t *testing.T) {
	ctx := eval.NewContext()
	ctx.SetConstant("key", "abc")
	ctx.SetConstant("n", int64(2))

	got, ok := fold(t, ctx, `$key * $n`)
	require.True(t, ok)
	assert.Equal(t, "abcabc", got)

	ctx.Taint("key")
	_, ok = fold(t, ctx, `$key`)
	assert.False(t, ok)
}

func TestDoubleQuotedInterpolationNeverFolds(t *testing.T) {
	_, ok := fold(t, eval.NewContext(), `"value: $v"`)
	assert.False(t, ok)

	got, ok := fold(t, eval.NewContext(), `"plain"`)
	require.True(t, ok)
	assert.Equal(t, "plain", got)
}

func TestFoldIndexing(t *testing.T) {
	ctx := eval.NewContext()
	ctx.SetConstant("arr", []any{"a", "b", "c"})

	tests := []struct {
		src  string
		want any
	}{
		{`$arr[1]`, "b"},
		{`$arr[-1]`, "c"},
		{`'hello'[1]`, "e"},
		{`$arr[99]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, ok := fold(t, ctx, tt.src)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFoldCasts(t *testing.T) {
	tests := []struct {
		src  string
		want any
	}{
		{`[char]65`, "A"},
		{`[int]'42'`, int64(42)},
		{`[int]'A'`, int64(65)},
		{`[int]2.5`, int64(2)},
		{`[int]3.5`, int64(4)},
		{`[byte]200`, int64(200)},
		{`[string]42`, "42"},
		{`[double]'1.5'`, 1.5},
		{`[bool]0`, false},
		{`[char[]]'ab'`, []any{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, ok := fold(t, eval.NewContext(), tt.src)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := fold(t, eval.NewContext(), `[byte]300`)
	assert.False(t, ok, "out-of-range byte cast must not fold")
}

func TestFoldSubExpressions(t *testing.T) {
	got, ok := fold(t, eval.NewContext(), `$(1 + 2)`)
	require.True(t, ok)
	assert.Equal(t, int64(3), got)

	got, ok = fold(t, eval.NewContext(), `@(1, 2)`)
	require.True(t, ok)
	assert.Equal(t, []any{int64(1), int64(2)}, got)
}

func TestToString(t *testing.T) {
	tests := []struct {
		v    any
		want string
	}{
		{nil, ""},
		{true, "True"},
		{false, "False"},
		{int64(42), "42"},
		{2.5, "2.5"},
		{"x", "x"},
		{[]any{int64(1), "a"}, "1 a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, eval.ToString(tt.v))
	}
}

func TestTruthy(t *testing.T) {
	assert.True(t, eval.Truthy("0"))
	assert.True(t, eval.Truthy(int64(-1)))
	assert.True(t, eval.Truthy([]any{nil}))
	assert.False(t, eval.Truthy(""))
	assert.False(t, eval.Truthy(int64(0)))
	assert.False(t, eval.Truthy([]any{}))
	assert.False(t, eval.Truthy(nil))
}

func TestRepresentable(t *testing.T) {
	assert.True(t, eval.Representable(nil))
	assert.True(t, eval.Representable(int64(1)))
	assert.True(t, eval.Representable([]any{"a", int64(1)}))
	assert.False(t, eval.Representable(struct{}{}))
}
