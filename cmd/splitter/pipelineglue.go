package splitter

import (
	"fmt"

	"github.com/gc-decomp/splitter/internal/config"
	"github.com/gc-decomp/splitter/internal/pipeline"
	"github.com/gc-decomp/splitter/internal/split"
)

// analyzeFromConfig reads the DOL/REL inputs a project config names and
// runs the full Loader-through-Section-Analyzer chain.
func analyzeFromConfig(cfg *config.Config) (*pipeline.AnalyzedObject, error) {
	in := pipeline.Inputs{}

	if cfg.Inputs.DOL != "" {
		data, err := readInput(cfg.Inputs.DOL)
		if err != nil {
			return nil, err
		}
		in.DOL = data
	}

	for _, path := range cfg.Inputs.RELs {
		data, err := readInput(path)
		if err != nil {
			return nil, err
		}
		in.RELs = append(in.RELs, data)
	}

	if cfg.Inputs.ELF != "" {
		data, err := readInput(cfg.Inputs.ELF)
		if err != nil {
			return nil, err
		}
		in.ELF = data
	}

	for _, fs := range cfg.ForcedSymbols {
		sym, addr, err := fs.Resolved()
		if err != nil {
			return nil, err
		}
		in.ForcedSymbols = append(in.ForcedSymbols, pipeline.ForcedSymbol{Symbol: sym, Address: addr})
	}

	return pipeline.Analyze(in)
}

// tusFromConfig converts the config's name->section->hex-range form into
// split.TU's name->section-index->Range form, resolving each section name
// against the analyzed Object so the config file never has to know section
// ordering.
func tusFromConfig(analyzed *pipeline.AnalyzedObject, cfg *config.Config) ([]split.TU, error) {
	tus := make([]split.TU, 0, len(cfg.TUs))
	for _, ctu := range cfg.TUs {
		ranges := make(map[int]split.Range, len(ctu.Sections))
		for name, r := range ctu.Sections {
			idx, ok := analyzed.Object.SectionIndex(name)
			if !ok {
				return nil, fmt.Errorf("translation unit %q: unknown section %q", ctu.Name, name)
			}
			ranges[idx] = split.Range{Start: r.Start, End: r.End}
		}
		tus = append(tus, split.TU{Name: ctu.Name, Ranges: ranges})
	}
	return tus, nil
}

// splitFromConfig runs analyzeFromConfig followed by the Splitter, Link
// Orderer and Writer stages described by cfg's translation_units.
func splitFromConfig(cfg *config.Config) (*pipeline.Output, error) {
	analyzed, err := analyzeFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	tus, err := tusFromConfig(analyzed, cfg)
	if err != nil {
		return nil, err
	}

	alignments := make(map[string]uint32, len(cfg.Alignments))
	for _, a := range cfg.Alignments {
		alignments[a.Section] = a.Bytes
	}

	return pipeline.Split(pipeline.Plan{
		Analyzed:            analyzed,
		TUs:                 tus,
		ForcedSplitNames:    cfg.ForcedSplits,
		ForcedNonSplitNames: cfg.ForcedNonSplits,
		SectionAlignments:   alignments,
		RequireFullCoverage: cfg.RequireFullCoverage,
	})
}
