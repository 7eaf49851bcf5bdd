// Package config parses the project/job configuration file spec.md §6
// describes: input files, per-section address→TU mappings, forced
// symbols, forced splits/non-splits, section alignments, and the output
// directory. Every recognized option has a defined effect; unknown options
// are a fatal error, enforced with gopkg.in/yaml.v3's KnownFields(true)
// decoder option exactly as the teacher's cmd/root.go initConfig reads its
// own YAML project file through viper, except strict here where the
// teacher's own config is permissive.
package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gc-decomp/splitter/internal/object"
)

// Inputs names the binaries this job analyzes.
type Inputs struct {
	DOL  string   `yaml:"dol"`
	RELs []string `yaml:"rels,omitempty"`
	ELF  string   `yaml:"elf,omitempty"`
}

// AddressRange is a half-open [Start, End) range of virtual addresses,
// spelled as hex strings in the YAML document (e.g. "0x80003100") and
// parsed into uint32 during Parse.
type AddressRange struct {
	StartHex string `yaml:"start"`
	EndHex   string `yaml:"end"`
	Start    uint32 `yaml:"-"`
	End      uint32 `yaml:"-"`
}

// TU names one translation unit and, per section name, the address ranges
// assigned to it (spec.md §6 "per-section address→TU mappings").
type TU struct {
	Name     string                  `yaml:"name"`
	Sections map[string]AddressRange `yaml:"sections"`
}

// ForcedSymbol is a user-asserted symbol the analyzer must honor verbatim
// rather than infer, overriding whatever the Control-Flow Analyzer or
// Signature Matcher would otherwise have produced at that address.
type ForcedSymbol struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Kind    string `yaml:"kind"` // function, object, label, section
	Size    uint32 `yaml:"size,omitempty"`
	Hidden  bool   `yaml:"hidden,omitempty"`
	Weak    bool   `yaml:"weak,omitempty"`
}

// Resolved converts the hex address and string kind into their internal
// forms, validating both, and returns the parsed address alongside the
// Symbol (minus Ref, which depends on which section the caller resolves
// the address against).
func (f ForcedSymbol) Resolved() (object.Symbol, uint32, error) {
	addr, err := parseHex32(f.Address)
	if err != nil {
		return object.Symbol{}, 0, fmt.Errorf("forced symbol %q: %w", f.Name, err)
	}
	kind, err := parseSymbolKind(f.Kind)
	if err != nil {
		return object.Symbol{}, 0, fmt.Errorf("forced symbol %q: %w", f.Name, err)
	}
	binding := object.BindGlobal
	if f.Weak {
		binding = object.BindWeak
	}
	return object.Symbol{
		Name:    f.Name,
		Size:    f.Size,
		Kind:    kind,
		Binding: binding,
		Flags:   object.SymbolFlags{Hidden: f.Hidden},
	}, addr, nil
}

func parseSymbolKind(s string) (object.SymbolKind, error) {
	switch s {
	case "function":
		return object.SymFunction, nil
	case "object":
		return object.SymObject, nil
	case "label":
		return object.SymLabel, nil
	case "section":
		return object.SymSection, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOption, s)
	}
}

// Alignment names a per-section alignment override, in bytes.
type Alignment struct {
	Section string `yaml:"section"`
	Bytes   uint32 `yaml:"bytes"`
}

// Config is the top-level, strictly-validated project configuration.
type Config struct {
	Inputs          Inputs         `yaml:"inputs"`
	TUs             []TU           `yaml:"translation_units"`
	ForcedSymbols   []ForcedSymbol `yaml:"forced_symbols,omitempty"`
	ForcedSplits    []string       `yaml:"forced_splits,omitempty"`
	ForcedNonSplits []string       `yaml:"forced_non_splits,omitempty"`
	Alignments      []Alignment    `yaml:"alignments,omitempty"`
	OutputDir       string         `yaml:"output_dir"`
	// RequireFullCoverage rejects configurations that leave any byte of a
	// partitioned section unassigned, for projects that relink to a
	// byte-identical image.
	RequireFullCoverage bool `yaml:"require_full_coverage,omitempty"`
}

// ErrUnknownOption is returned when the document contains a key this
// parser does not recognize, or a recognized key holds a value outside its
// defined vocabulary (spec.md §6: "unknown options are a fatal error").
var ErrUnknownOption = fmt.Errorf("config: unknown option")

// ErrInvalidConfig is returned by Validate for a structurally valid
// document that nonetheless fails a field-level constraint (a malformed
// hex address, a missing required field).
var ErrInvalidConfig = fmt.Errorf("config: invalid configuration")

// Parse decodes a YAML project configuration document, rejecting any key
// not present in Config's schema.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOption, err)
	}
	if err := cfg.resolveAddresses(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// resolveAddresses parses every hex address field once, up front, so the
// rest of the pipeline works with uint32 values and Parse reports a
// malformed address (the first one found) instead of failing lazily deep
// in the Splitter.
func (c *Config) resolveAddresses() error {
	for ti := range c.TUs {
		for name, r := range c.TUs[ti].Sections {
			start, err := parseHex32(r.StartHex)
			if err != nil {
				return fmt.Errorf("%w: translation unit %q section %q start: %v", ErrInvalidConfig, c.TUs[ti].Name, name, err)
			}
			end, err := parseHex32(r.EndHex)
			if err != nil {
				return fmt.Errorf("%w: translation unit %q section %q end: %v", ErrInvalidConfig, c.TUs[ti].Name, name, err)
			}
			if end <= start {
				return fmt.Errorf("%w: translation unit %q section %q: end 0x%x is not after start 0x%x", ErrInvalidConfig, c.TUs[ti].Name, name, end, start)
			}
			r.Start, r.End = start, end
			c.TUs[ti].Sections[name] = r
		}
	}
	return nil
}

// Validate checks cross-field invariants Parse's per-field resolution
// cannot: at least one input, a non-empty output directory, and that every
// forced symbol's address and kind are well-formed (fatal before any
// output is written, per spec.md §7 "Configuration errors").
func (c *Config) Validate() error {
	if c.Inputs.DOL == "" && c.Inputs.ELF == "" {
		return fmt.Errorf("%w: at least one of inputs.dol or inputs.elf is required", ErrInvalidConfig)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidConfig)
	}
	for _, fs := range c.ForcedSymbols {
		if _, _, err := fs.Resolved(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

func parseHex32(s string) (uint32, error) {
	if s == "" {
		return 0, fmt.Errorf("empty address")
	}
	var v uint32
	_, err := fmt.Sscanf(s, "0x%x", &v)
	if err != nil {
		_, err2 := fmt.Sscanf(s, "%x", &v)
		if err2 != nil {
			return 0, fmt.Errorf("malformed hex address %q", s)
		}
	}
	return v, nil
}
