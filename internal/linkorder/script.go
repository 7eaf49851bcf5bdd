package linkorder

import (
	"fmt"
	"strings"
)

// MemoryRegion is one MEMORY directive in the emitted linker script.
type MemoryRegion struct {
	Name       string
	Origin     uint32
	Length     uint32
	Attributes string // e.g. "rx", "rw"
}

// SectionPlacement describes one SECTIONS entry: the output section name,
// the address it must land at, its alignment, and (derived from the
// topological order) the ordered list of input object files contributing
// to it.
type SectionPlacement struct {
	Name    string
	Address uint32
	Align   uint32
	Objects []string
}

// Script is everything EmitScript needs to render a CodeWarrior-format
// linker script.
type Script struct {
	Regions  []MemoryRegion
	Sections []SectionPlacement
}

// EmitScript writes a textual linker script in the CodeWarrior linker's
// format: MEMORY regions, then SECTIONS with per-section address,
// alignment, and the explicit ordered list of input object files
// (spec.md §4.8, §6).
func EmitScript(s Script) string {
	var b strings.Builder

	b.WriteString("MEMORY\n{\n")
	for _, r := range s.Regions {
		fmt.Fprintf(&b, "    %s (%s) : ORIGIN = 0x%08X, LENGTH = 0x%X\n", r.Name, r.Attributes, r.Origin, r.Length)
	}
	b.WriteString("}\n\n")

	b.WriteString("SECTIONS\n{\n")
	for _, sec := range s.Sections {
		fmt.Fprintf(&b, "    %s 0x%08X ALIGN(0x%X) :\n    {\n", sec.Name, sec.Address, sec.Align)
		for _, obj := range sec.Objects {
			fmt.Fprintf(&b, "        %s (%s)\n", obj, sec.Name)
		}
		b.WriteString("    }\n")
	}
	b.WriteString("}\n")

	return b.String()
}
