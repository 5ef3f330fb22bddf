// Package engine drives a deobfuscation run end to end: read, parse,
// iterate rewrite passes to a fixed point, and write the per-pass and
// final outputs next to the input file.
package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pslens/pslens/internal/codegen"
	"github.com/pslens/pslens/internal/eval"
	"github.com/pslens/pslens/internal/parser"
	"github.com/pslens/pslens/internal/rewrite"
)

// Engine runs deobfuscation with a fixed configuration. Instances are
// stateless between runs; one engine may process many files in turn.
type Engine struct {
	cfg Config

	// Debug, when set, receives per-pass progress lines.
	Debug io.Writer
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.Debug != nil {
		fmt.Fprintf(e.Debug, format+"\n", args...)
	}
}

// Deobfuscate processes one script file. Pass snapshots are written as
// name_deobfuscated_001.ext and so on in the input's directory, and the
// converged text as name_deobfuscated.ext. The returned report lists
// every pass with a digest of its output.
func (e *Engine) Deobfuscate(path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapError(ErrInputRead, "cannot read input script", err).WithContext("path", path)
	}
	if e.cfg.StripBackticks {
		raw = StripBackticks(raw)
	}

	program, parseErrs := parser.Parse(raw)
	if len(parseErrs) > 0 {
		msgs := make([]string, len(parseErrs))
		for i, pe := range parseErrs {
			msgs[i] = pe.Error()
		}
		return nil, NewError(ErrParseFailed, strings.Join(msgs, "; ")).WithContext("path", path)
	}

	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	report := &Report{Input: path}
	prev := codegen.Generate(program)

	for pass := 1; pass <= e.cfg.MaxPasses; pass++ {
		// Each pass starts from an empty context: knowledge is rebuilt
		// from the current tree, never carried over.
		gate := eval.NewGate(e.cfg.AllowPrefixes...)
		ev := eval.New(eval.NewContext(), gate)
		rewrite.Pass(program, ev)
		rewrite.Eliminate(program, gate)

		text := codegen.Generate(program)
		entry := PassReport{Pass: pass, Digest: digest(text), Changed: text != prev}

		if e.cfg.KeepIntermediate {
			entry.File = filepath.Join(dir, fmt.Sprintf("%s_deobfuscated_%03d%s", base, pass, ext))
			if err := os.WriteFile(entry.File, []byte(text), 0o644); err != nil {
				return nil, WrapError(ErrOutputWrite, "cannot write pass snapshot", err).
					WithContext("pass", pass).WithContext("path", entry.File)
			}
		}
		report.Passes = append(report.Passes, entry)
		e.debugf("pass %d: %d bytes, changed=%v", pass, len(text), entry.Changed)

		if !entry.Changed {
			report.Converged = true
			break
		}
		prev = text
	}

	report.Output = filepath.Join(dir, base+"_deobfuscated"+ext)
	if err := os.WriteFile(report.Output, []byte(prev), 0o644); err != nil {
		return nil, WrapError(ErrOutputWrite, "cannot write final output", err).
			WithContext("path", report.Output)
	}

	if e.cfg.ReportPath != "" {
		if err := report.Write(e.cfg.ReportPath); err != nil {
			return nil, err
		}
	}
	return report, nil
}
