package engine

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/xyproto/env/v2"
)

// DefaultMaxPasses bounds the rewrite loop when no configuration
// overrides it.
const DefaultMaxPasses = 20

// Config controls a deobfuscation run. Values load from an optional
// JSON file, then PSLENS_* environment variables override the file.
type Config struct {
	// MaxPasses caps the rewrite iterations before the run stops even
	// without reaching a fixed point.
	MaxPasses int `json:"maxPasses"`

	// KeepIntermediate writes the numbered per-pass snapshot files in
	// addition to the final output.
	KeepIntermediate bool `json:"keepIntermediate"`

	// StripBackticks removes cosmetic backtick escapes from the source
	// before parsing.
	StripBackticks bool `json:"stripBackticks"`

	// AllowPrefixes extends the safety gate's namespace allowlist.
	AllowPrefixes []string `json:"allowPrefixes"`

	// ReportPath, when set, writes a binary run report there.
	ReportPath string `json:"reportPath"`
}

const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "maxPasses": {"type": "integer", "minimum": 1, "maximum": 100},
    "keepIntermediate": {"type": "boolean"},
    "stripBackticks": {"type": "boolean"},
    "allowPrefixes": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "reportPath": {"type": "string"}
  }
}`

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		MaxPasses:        DefaultMaxPasses,
		KeepIntermediate: true,
	}
}

// LoadConfig builds the run configuration from an optional JSON file
// path plus environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, WrapError(ErrConfigLoad, "cannot read config file", err).WithContext("path", path)
		}
		if err := validateConfig(raw); err != nil {
			return cfg, WrapError(ErrConfigInvalid, "config file rejected by schema", err).WithContext("path", path)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return cfg, WrapError(ErrConfigLoad, "cannot decode config file", err).WithContext("path", path)
		}
	}
	applyEnv(&cfg)
	if cfg.MaxPasses < 1 || cfg.MaxPasses > 100 {
		return cfg, NewError(ErrConfigInvalid, "maxPasses must be between 1 and 100").
			WithContext("maxPasses", cfg.MaxPasses)
	}
	return cfg, nil
}

func validateConfig(raw []byte) error {
	schema, err := jsonschema.CompileString("pslens.schema.json", configSchema)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func applyEnv(cfg *Config) {
	cfg.MaxPasses = env.Int("PSLENS_MAX_PASSES", cfg.MaxPasses)
	if env.Has("PSLENS_KEEP_INTERMEDIATE") {
		cfg.KeepIntermediate = env.Bool("PSLENS_KEEP_INTERMEDIATE")
	}
	if env.Has("PSLENS_STRIP_BACKTICKS") {
		cfg.StripBackticks = env.Bool("PSLENS_STRIP_BACKTICKS")
	}
	if prefixes := env.Str("PSLENS_ALLOW_PREFIXES"); prefixes != "" {
		for _, p := range strings.Split(prefixes, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.AllowPrefixes = append(cfg.AllowPrefixes, p)
			}
		}
	}
	cfg.ReportPath = env.Str("PSLENS_REPORT", cfg.ReportPath)
}
