// Package diag collects non-fatal analysis warnings in the canonical order
// the pipeline must report them in: by address, then by section id.
package diag

import (
	"fmt"
	"sort"
)

// Severity classifies a Warning for rendering purposes. All Warnings are
// non-fatal by construction; fatal conditions are returned as errors instead.
type Severity int

const (
	// SeverityAmbiguous marks analysis ambiguities (overlapping ranges,
	// unresolvable hi/lo pairs, unknown relocation targets) where the
	// pipeline fell back to a safe default and continued.
	SeverityAmbiguous Severity = iota
	// SeverityInfo marks informational notices (e.g. a signature match).
	SeverityInfo
)

// Warning is a single structured, addressable diagnostic.
type Warning struct {
	Address   uint32
	SectionID int
	Severity  Severity
	Stage     string
	Message   string
}

func (w Warning) String() string {
	return fmt.Sprintf("[%s] 0x%08x (section %d): %s", w.Stage, w.Address, w.SectionID, w.Message)
}

// Bag accumulates warnings from one or more analyzer stages, possibly
// running concurrently, and can be sorted into canonical order before being
// surfaced to the user.
type Bag struct {
	warnings []Warning
}

// Add appends a warning to the bag.
func (b *Bag) Add(w Warning) {
	b.warnings = append(b.warnings, w)
}

// Addf is a convenience constructor for an ambiguity warning.
func (b *Bag) Addf(stage string, address uint32, sectionID int, format string, args ...any) {
	b.Add(Warning{
		Address:   address,
		SectionID: sectionID,
		Severity:  SeverityAmbiguous,
		Stage:     stage,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Merge appends every warning from other into b. Used to combine the
// per-worker bags produced by a parallelized stage before sorting.
func (b *Bag) Merge(other *Bag) {
	if other == nil {
		return
	}
	b.warnings = append(b.warnings, other.warnings...)
}

// Sorted returns the accumulated warnings ordered by (address, section id),
// satisfying the canonical-order requirement regardless of how they were
// produced or in what order workers finished.
func (b *Bag) Sorted() []Warning {
	out := make([]Warning, len(b.warnings))
	copy(out, b.warnings)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].SectionID < out[j].SectionID
	})
	return out
}

// Len reports how many warnings have been collected.
func (b *Bag) Len() int {
	return len(b.warnings)
}
