package engine

import (
	"os"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// PassReport records one rewrite iteration.
type PassReport struct {
	Pass    int    `cbor:"pass"`
	File    string `cbor:"file,omitempty"`
	Digest  []byte `cbor:"digest"`
	Changed bool   `cbor:"changed"`
}

// Report summarizes a deobfuscation run. It serializes to CBOR so runs
// can be archived and diffed without worrying about text encodings.
type Report struct {
	Input     string       `cbor:"input"`
	Output    string       `cbor:"output"`
	Passes    []PassReport `cbor:"passes"`
	Converged bool         `cbor:"converged"`
}

// Write serializes the report to path.
func (r *Report) Write(path string) error {
	raw, err := cbor.Marshal(r)
	if err != nil {
		return WrapError(ErrReportWrite, "cannot encode run report", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return WrapError(ErrReportWrite, "cannot write run report", err).WithContext("path", path)
	}
	return nil
}

// digest fingerprints one pass's output text.
func digest(text string) []byte {
	sum := blake2b.Sum256([]byte(text))
	return sum[:]
}
