package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDeobfuscateConverges(t *testing.T) {
	path := writeScript(t, "sample.ps1", "$a = 1 + 2\nWrite-Output $a\n")

	eng := New(DefaultConfig())
	report, err := eng.Deobfuscate(path)
	require.NoError(t, err)

	assert.True(t, report.Converged)
	require.NotEmpty(t, report.Passes)
	last := report.Passes[len(report.Passes)-1]
	assert.False(t, last.Changed)
	for _, p := range report.Passes {
		assert.Len(t, p.Digest, 32, "pass %d", p.Pass)
	}

	final, err := os.ReadFile(filepath.Join(filepath.Dir(path), "sample_deobfuscated.ps1"))
	require.NoError(t, err)
	assert.Equal(t, "Write-Output 0x3\n", string(final))

	// First snapshot carries the pass 1 result.
	snap, err := os.ReadFile(filepath.Join(filepath.Dir(path), "sample_deobfuscated_001.ps1"))
	require.NoError(t, err)
	assert.Equal(t, "Write-Output 0x3\n", string(snap))
}

func TestDeobfuscatePassLimit(t *testing.T) {
	path := writeScript(t, "deep.ps1", "$a = 1\n$b = $a\n$c = $b\nWrite-Output $c\n")

	cfg := DefaultConfig()
	cfg.MaxPasses = 1
	report, err := New(cfg).Deobfuscate(path)
	require.NoError(t, err)

	assert.False(t, report.Converged)
	assert.Len(t, report.Passes, 1)

	// The final file still carries the last pass's text.
	final, err := os.ReadFile(filepath.Join(filepath.Dir(path), "deep_deobfuscated.ps1"))
	require.NoError(t, err)
	assert.NotEqual(t, "", string(final))
}

func TestDeobfuscateNoIntermediate(t *testing.T) {
	path := writeScript(t, "s.ps1", "Write-Output 'x'\n")

	cfg := DefaultConfig()
	cfg.KeepIntermediate = false
	_, err := New(cfg).Deobfuscate(path)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "_deobfuscated_0")
	}
}

func TestDeobfuscateAlreadyCanonical(t *testing.T) {
	path := writeScript(t, "id.ps1", "Write-Output 'x'\n")

	report, err := New(DefaultConfig()).Deobfuscate(path)
	require.NoError(t, err)
	assert.True(t, report.Converged)
	assert.Len(t, report.Passes, 1)
	assert.False(t, report.Passes[0].Changed)
}

func TestDeobfuscateWritesReport(t *testing.T) {
	path := writeScript(t, "r.ps1", "$a = 1 + 1\nWrite-Output $a\n")
	reportPath := filepath.Join(filepath.Dir(path), "r.report")

	cfg := DefaultConfig()
	cfg.ReportPath = reportPath
	want, err := New(cfg).Deobfuscate(path)
	require.NoError(t, err)

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var got Report
	require.NoError(t, cbor.Unmarshal(raw, &got))
	assert.Equal(t, want.Input, got.Input)
	assert.Equal(t, want.Output, got.Output)
	assert.Equal(t, want.Converged, got.Converged)
	assert.Len(t, got.Passes, len(want.Passes))
}

func TestDeobfuscateParseFailure(t *testing.T) {
	path := writeScript(t, "broken.ps1", "$x = 'abc\n")

	_, err := New(DefaultConfig()).Deobfuscate(path)
	require.Error(t, err)
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, ErrParseFailed, runErr.Type)
	assert.Contains(t, runErr.Message, "unterminated string literal")
}

func TestDeobfuscateMissingInput(t *testing.T) {
	_, err := New(DefaultConfig()).Deobfuscate(filepath.Join(t.TempDir(), "nope.ps1"))
	require.Error(t, err)
	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, ErrInputRead, runErr.Type)
}

func TestDeobfuscateStripBackticks(t *testing.T) {
	path := writeScript(t, "bt.ps1", "Wr`ite-`Output 'x'\n")

	cfg := DefaultConfig()
	cfg.StripBackticks = true
	report, err := New(cfg).Deobfuscate(path)
	require.NoError(t, err)

	final, err := os.ReadFile(report.Output)
	require.NoError(t, err)
	assert.Equal(t, "Write-Output 'x'\n", string(final))
}
