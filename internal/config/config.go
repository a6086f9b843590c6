// Package config carries the knobs that drive an interpreter pass. The CLI
// owns flag parsing; this package owns defaults and the optional config file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseConfig drives one interpreter pass. The zero value is the default,
// lenient configuration.
type ParseConfig struct {
	// Strict converts any accumulated pass failure (grammar, JSON, payload
	// integrity, off-rank, handler) into a hard error at pass end.
	Strict bool
	// StrictCompileID hard-fails the pass if any record landed in the
	// unknown compile id bucket. Independent of Strict.
	StrictCompileID bool
	// Verbose enables per-record diagnostics (unknown fields and the like).
	Verbose bool
	// PlainText asks handlers for diff-friendly plain output where they
	// would otherwise defer to the report renderer.
	PlainText bool
	// Export switches the pass to the export-debugging handler set.
	Export bool
}

// File is the YAML configuration file shape. Only fields present in the file
// override the in-memory config, so flags keep working as overrides.
type File struct {
	Strict          *bool `yaml:"strict"`
	StrictCompileID *bool `yaml:"strict_compile_id"`
	Verbose         *bool `yaml:"verbose"`
	PlainText       *bool `yaml:"plain_text"`
	Export          *bool `yaml:"export"`
}

// LoadFile reads a YAML config file and applies it over cfg.
func LoadFile(path string, cfg *ParseConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	f.apply(cfg)
	return nil
}

func (f *File) apply(cfg *ParseConfig) {
	if f.Strict != nil {
		cfg.Strict = *f.Strict
	}
	if f.StrictCompileID != nil {
		cfg.StrictCompileID = *f.StrictCompileID
	}
	if f.Verbose != nil {
		cfg.Verbose = *f.Verbose
	}
	if f.PlainText != nil {
		cfg.PlainText = *f.PlainText
	}
	if f.Export != nil {
		cfg.Export = *f.Export
	}
}
