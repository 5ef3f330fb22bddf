package rewrite_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pslens/pslens/internal/codegen"
	"github.com/pslens/pslens/internal/eval"
	"github.com/pslens/pslens/internal/parser"
	"github.com/pslens/pslens/internal/rewrite"
)

// deobfuscate drives parse, rewrite and eliminate to a fixed point, the
// way the engine does, and returns the final text.
func deobfuscate(t *testing.T, src string) string {
	t.Helper()
	text := src
	for i := 0; i < 20; i++ {
		program, errs := parser.Parse([]byte(text))
		require.Empty(t, errs, "parse %q", text)
		gate := eval.NewGate()
		ev := eval.New(eval.NewContext(), gate)
		rewrite.Pass(program, ev)
		rewrite.Eliminate(program, gate)
		next := codegen.Generate(program)
		if next == text {
			return text
		}
		text = next
	}
	return text
}

// onePass runs a single rewrite pass without elimination.
func onePass(t *testing.T, src string) string {
	t.Helper()
	program, errs := parser.Parse([]byte(src))
	require.Empty(t, errs)
	rewrite.Pass(program, eval.New(eval.NewContext(), eval.NewGate()))
	return codegen.Generate(program)
}

func TestFoldsArithmeticIntoOutput(t *testing.T) {
	got := deobfuscate(t, "$a = 1 + 2\nWrite-Output $a")
	assert.Equal(t, "Write-Output 0x3\n", got)
}

func TestFoldsStringRepetition(t *testing.T) {
	got := deobfuscate(t, "$s = 'ab' * 3\nWrite-Output $s")
	assert.Equal(t, "Write-Output 'ababab'\n", got)
}

func TestConstantPropagationChain(t *testing.T) {
	got := deobfuscate(t, "$a = 5\n$b = $a + 1\n$c = $b * 2\nWrite-Output $c")
	assert.Equal(t, "Write-Output 0xC\n", got)
}

func TestCompoundAssignmentNormalizes(t *testing.T) {
	got := deobfuscate(t, "$a = 1\n$a += 2\nWrite-Output $a")
	assert.Equal(t, "Write-Output 0x3\n", got)
}

func TestConstantConditionSplicesBranch(t *testing.T) {
	got := deobfuscate(t, "if (1 -eq 1) { Write-Output 'yes' } else { Write-Output 'no' }")
	assert.Equal(t, "Write-Output 'yes'\n", got)

	got = deobfuscate(t, "if (1 -eq 2) { Write-Output 'yes' } else { Write-Output 'no' }")
	assert.Equal(t, "Write-Output 'no'\n", got)
}

func TestFalseWhileLoopRemoved(t *testing.T) {
	got := deobfuscate(t, "while ($false) { Write-Output 'never' }\nWrite-Output 'after'")
	assert.Equal(t, "Write-Output 'after'\n", got)
}

func TestEmptyForeachRemoved(t *testing.T) {
	got := deobfuscate(t, "foreach ($x in @()) { Write-Output $x }\nWrite-Output 'after'")
	assert.Equal(t, "Write-Output 'after'\n", got)
}

func TestEmptyHusksRemoved(t *testing.T) {
	got := deobfuscate(t, "while ($unknown) { }\ntry { } catch { }\nWrite-Output 'kept'")
	assert.Equal(t, "Write-Output 'kept'\n", got)
}

func TestEmptiedLoopBodyCollapses(t *testing.T) {
	got := deobfuscate(t, "while ($u) { $dead = 1 }\nWrite-Output 'kept'")
	assert.Equal(t, "Write-Output 'kept'\n", got)
}

func TestEmptySwitchRemoved(t *testing.T) {
	got := deobfuscate(t, "switch ($u) { 1 { } default { } }\nWrite-Output 'kept'")
	assert.Equal(t, "Write-Output 'kept'\n", got)
}

func TestEmptyForeachHuskRemoved(t *testing.T) {
	got := deobfuscate(t, "foreach ($x in $items) { }\nWrite-Output 'kept'")
	assert.Equal(t, "Write-Output 'kept'\n", got)
}

// The loop variable survives the loop, so a downstream read keeps an
// otherwise empty foreach.
func TestEmptyForeachKeptWhenVariableRead(t *testing.T) {
	got := deobfuscate(t, "foreach ($x in $items) { }\nWrite-Output $x")
	assert.Contains(t, got, "foreach ($x in $items)")
}

// A variable assigned in only one arm of an unknown branch cannot be
// substituted afterwards.
func TestUnknownBranchTaintsAssignments(t *testing.T) {
	got := deobfuscate(t, "$a = 1\nif ($unknown) { $a = 2 }\nWrite-Output $a")
	assert.Equal(t, "$a = 0x1\nif ($unknown) {\n    $a = 0x2\n}\nWrite-Output $a\n", got)
}

// An escaped dollar sign in a double-quoted literal must not come back
// as live interpolation.
func TestEscapedSigilSurvives(t *testing.T) {
	src := "Write-Output \"`$PSHome\"\n"
	got := deobfuscate(t, src)
	assert.Equal(t, src, got)
}

// An assignment in expression position clears whatever was known about
// its target, and the target is never substituted.
func TestParenAssignmentTaints(t *testing.T) {
	got := deobfuscate(t, "$a = 1\n($a = $unknown)\nWrite-Output $a")
	assert.Equal(t, "$a = 0x1\n($a = $unknown)\nWrite-Output $a\n", got)
}

// Loop bodies re-execute, so a value assigned before the loop must not
// be substituted into a body that also assigns it.
func TestLoopBodyNotSubstituted(t *testing.T) {
	got := onePass(t, "$i = 0\nwhile ($i -lt 3) {\n    $i = $i + 1\n}\nWrite-Output $i")
	assert.Contains(t, got, "$i = $i + 0x1")
	assert.Contains(t, got, "Write-Output $i")
}

func TestDeniedNamespaceLeftAlone(t *testing.T) {
	src := "$c = New-Object System.Net.WebClient\n$c.DownloadString('http://x')\n"
	got := deobfuscate(t, src)
	assert.Contains(t, got, "New-Object System.Net.WebClient")
	assert.Contains(t, got, "DownloadString")
}

func TestDeadAssignmentsEliminated(t *testing.T) {
	got := deobfuscate(t, "$junk = 'unused'\n$junk2 = 1 + 1\nWrite-Output 'kept'")
	assert.Equal(t, "Write-Output 'kept'\n", got)
}

func TestUncalledFunctionEliminated(t *testing.T) {
	got := deobfuscate(t, "function Unused { return 1 }\nWrite-Output 'kept'")
	assert.Equal(t, "Write-Output 'kept'\n", got)
}

func TestCalledFunctionInlinedAndRemoved(t *testing.T) {
	got := deobfuscate(t,
		"function Key {\n    $a = 'k'\n    $b = '3'\n    return $a + $b + 'y'\n}\n$k = Key\nWrite-Output $k")
	assert.Equal(t, "Write-Output 'k3y'\n", got)
}

func TestDynamicInvocationKeepsEverything(t *testing.T) {
	// The & operator resolves its target at runtime, so no function can
	// be proven uncalled.
	got := deobfuscate(t, "function Maybe { return 1 }\n$n = 'Maybe'\n& $n")
	assert.Contains(t, got, "function Maybe")
}

func TestInterpolationKeepsVariables(t *testing.T) {
	// A remaining interpolated string reads any variable, so writes stay.
	got := deobfuscate(t, "$who = $env:USER\n\"hello $who\"")
	assert.Contains(t, got, "$who")
	assert.Contains(t, got, `"hello $who"`)
}

func TestArrayReverseJoin(t *testing.T) {
	got := deobfuscate(t,
		"$a = ('1', '2', '3')\n[array]::Reverse($a)\n$s = -join $a\nWrite-Output $s")
	assert.Equal(t, "Write-Output '321'\n", got)
}

func TestCharMapPipeline(t *testing.T) {
	got := deobfuscate(t,
		"$s = -join ((65, 66, 67) | ForEach-Object { [char]$_ })\nWrite-Output $s")
	assert.Equal(t, "Write-Output 'ABC'\n", got)
}

func TestBase64Decode(t *testing.T) {
	got := deobfuscate(t,
		"$d = [System.Text.Encoding]::UTF8.GetString([System.Convert]::FromBase64String('aGVsbG8='))\nWrite-Output $d")
	assert.Equal(t, "Write-Output 'hello'\n", got)
}

func TestTryBranchTaints(t *testing.T) {
	got := deobfuscate(t,
		"$a = 1\ntry { $a = Get-Risky } catch { $a = 2 }\nWrite-Output $a")
	assert.Contains(t, got, "Write-Output $a")
}

// Output of deobfuscate is a fixed point: one more full pass must not
// change it.
func TestFixedPointIsStable(t *testing.T) {
	srcs := []string{
		"$a = 1 + 2\nWrite-Output $a",
		"$i = 0\nwhile ($i -lt 3) { $i = $i + 1 }\nWrite-Output $i",
		"if ($unknown) { $a = 2 }\nWrite-Output $a",
	}
	for _, src := range srcs {
		final := deobfuscate(t, src)
		program, errs := parser.Parse([]byte(final))
		require.Empty(t, errs)
		gate := eval.NewGate()
		rewrite.Pass(program, eval.New(eval.NewContext(), gate))
		rewrite.Eliminate(program, gate)
		assert.Equal(t, final, codegen.Generate(program), "source: %s", src)
	}
}
