package config

import (
	"fmt"
	"strings"

	yaml2 "gopkg.in/yaml.v2"
)

// legacyDocument is the flat, loosely-typed shape some older decompilation
// projects' project.yml files still use: plain hex strings without units,
// no per-section ranges, one TU per top-level key. yaml.v2 (rather than
// v3's strict decoder) matches that looseness on purpose, since a legacy
// file is expected to carry keys this package no longer defines.
type legacyDocument struct {
	DOL   string            `yaml:"dol"`
	RELs  []string          `yaml:"rels"`
	Units map[string]string `yaml:"units"` // name -> "start-end" hex range over the whole image
	Out   string            `yaml:"out"`
}

// ParseLegacy reads a v1-style project file and upgrades it into a current
// Config, collapsing each unit's single whole-image range onto a synthetic
// ".text" section since legacy files predate per-section TU assignment.
func ParseLegacy(data []byte) (*Config, error) {
	var doc legacyDocument
	if err := yaml2.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: legacy document: %v", ErrInvalidConfig, err)
	}

	cfg := &Config{
		Inputs:    Inputs{DOL: doc.DOL, RELs: doc.RELs},
		OutputDir: doc.Out,
	}
	for name, span := range doc.Units {
		start, end, err := splitLegacyRange(span)
		if err != nil {
			return nil, fmt.Errorf("%w: unit %q: %v", ErrInvalidConfig, name, err)
		}
		cfg.TUs = append(cfg.TUs, TU{
			Name: name,
			Sections: map[string]AddressRange{
				".text": {Start: start, End: end},
			},
		})
	}
	return cfg, nil
}

func splitLegacyRange(span string) (start, end uint32, err error) {
	startHex, endHex, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, fmt.Errorf("malformed range %q, want \"<start>-<end>\"", span)
	}
	start, err = parseHex32(startHex)
	if err != nil {
		return 0, 0, err
	}
	end, err = parseHex32(endHex)
	if err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("end 0x%x is not after start 0x%x", end, start)
	}
	return start, end, nil
}
