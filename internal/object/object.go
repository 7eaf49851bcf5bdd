// Package object defines the in-memory representation shared by every
// pipeline stage: Object, Section, Symbol, Relocation. Identity of a symbol
// or relocation target is always (section index, offset) rather than a
// pointer, so that a split Object can reference the bytes and symbols it
// owns by value instead of aliasing the parent Object it was carved from.
package object

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Arch is fixed for the whole analyzer: PowerPC 32-bit, big-endian.
type Arch struct {
	Name      string
	WordSize  int
	BigEndian bool
}

// PPC32 is the only architecture this toolkit analyzes.
var PPC32 = Arch{Name: "powerpc", WordSize: 4, BigEndian: true}

// SectionKind classifies what a Section holds.
type SectionKind int

const (
	SectionUnknown SectionKind = iota
	SectionCode
	SectionData
	SectionRodata
	SectionBSS
	SectionCtors
	SectionDtors
	SectionExtab
	SectionExtabIndex
	SectionOther
)

func (k SectionKind) String() string {
	switch k {
	case SectionCode:
		return "code"
	case SectionData:
		return "data"
	case SectionRodata:
		return "rodata"
	case SectionBSS:
		return "bss"
	case SectionCtors:
		return "ctors"
	case SectionDtors:
		return "dtors"
	case SectionExtab:
		return "extab"
	case SectionExtabIndex:
		return "extabindex"
	case SectionOther:
		return "other"
	default:
		return "unknown"
	}
}

// Section is one ordered entry in an Object's section table.
type Section struct {
	Name    string
	Kind    SectionKind
	Address uint32 // virtual load address
	Size    uint32
	Align   uint32
	Data    []byte // nil for SectionBSS
}

// IsBSS reports whether the section carries no file bytes.
func (s *Section) IsBSS() bool {
	return s.Kind == SectionBSS
}

// SymbolBinding is the linkage visibility of a Symbol.
type SymbolBinding int

const (
	BindLocal SymbolBinding = iota
	BindGlobal
	BindWeak
)

// SymbolKind classifies what a Symbol names.
type SymbolKind int

const (
	SymFunction SymbolKind = iota
	SymObject
	SymLabel
	SymSection
)

// SymbolFlags are orthogonal boolean attributes of a Symbol.
type SymbolFlags struct {
	Hidden        bool
	ForceActive   bool
	AutoGenerated bool
}

// SymbolRef is the stable identity of a symbol: which section it lives in
// and its byte offset within that section. It never embeds a pointer, so it
// survives being copied into a split, immutable child Object.
type SymbolRef struct {
	Section int
	Offset  uint32
}

// UndefSection is the pseudo section index of a symbol imported from
// another object in the link set. An undefined ref's Offset holds the
// symbol's virtual address in the original image, so Address stays
// meaningful for link ordering; the Object Writer emits it as SHN_UNDEF
// with a zero value.
const UndefSection = -1

func (r SymbolRef) String() string {
	return fmt.Sprintf("sec%d+0x%x", r.Section, r.Offset)
}

// Symbol is one named location within an Object.
type Symbol struct {
	Ref     SymbolRef
	Name    string
	Size    uint32
	Kind    SymbolKind
	Binding SymbolBinding
	Flags   SymbolFlags
}

// RelocKind enumerates the PowerPC ABI relocation types CodeWarrior emits.
type RelocKind int

const (
	R_PPC_NONE RelocKind = iota
	R_PPC_ADDR32
	R_PPC_ADDR16_HI
	R_PPC_ADDR16_HA
	R_PPC_ADDR16_LO
	R_PPC_REL24
	R_PPC_REL14
	R_PPC_EMB_SDA21
	R_PPC_SDA_REL
	R_PPC_DTPREL
	R_DOLPHIN_NOP    // REL-module-relative placeholder fixup
	R_DOLPHIN_SECTION
	R_DOLPHIN_END
)

func (k RelocKind) String() string {
	switch k {
	case R_PPC_ADDR32:
		return "R_PPC_ADDR32"
	case R_PPC_ADDR16_HI:
		return "R_PPC_ADDR16_HI"
	case R_PPC_ADDR16_HA:
		return "R_PPC_ADDR16_HA"
	case R_PPC_ADDR16_LO:
		return "R_PPC_ADDR16_LO"
	case R_PPC_REL24:
		return "R_PPC_REL24"
	case R_PPC_REL14:
		return "R_PPC_REL14"
	case R_PPC_EMB_SDA21:
		return "R_PPC_EMB_SDA21"
	case R_PPC_SDA_REL:
		return "R_PPC_SDA_REL"
	case R_PPC_DTPREL:
		return "R_PPC_DTPREL"
	case R_DOLPHIN_NOP:
		return "R_DOLPHIN_NOP"
	case R_DOLPHIN_SECTION:
		return "R_DOLPHIN_SECTION"
	case R_DOLPHIN_END:
		return "R_DOLPHIN_END"
	default:
		return "R_PPC_NONE"
	}
}

// Relocation records that the 4 (or 2, for 16-bit forms) bytes at Offset in
// a given section symbolically reference Target, with Addend applied.
type Relocation struct {
	Offset uint32
	Kind   RelocKind
	Target SymbolRef
	Addend int32
}

// Object is the top-level in-memory representation threaded through the
// whole pipeline. Each stage takes an Object and returns a new Object; none
// mutate their input in place once Freeze has been called (enforced by
// convention, not by the type system, matching the teacher repo's resolver
// pipeline where each stage returns a fresh ProgramFileContents).
type Object struct {
	Arch Arch

	// EntryPoint is the DOL's main entry address.
	EntryPoint uint32
	// SecondaryEntries holds constructor/destructor table targets, REL
	// exports, and REL prolog/epilog/unresolved addresses, plus any
	// user-provided seed symbols.
	SecondaryEntries []uint32

	Sections []Section
	// Symbols is keyed by SymbolRef for O(1) identity lookups; the
	// iteration order used for deterministic output is produced by
	// SortedSymbols, not by map order.
	Symbols map[SymbolRef]Symbol
	// symbolNames enforces name uniqueness within the Object.
	symbolNames map[string]SymbolRef

	// Relocations is keyed by section index; within each section the
	// slice is kept ordered by Offset.
	Relocations map[int][]Relocation

	frozen bool
}

// New returns an empty, mutable Object for PPC32.
func New() *Object {
	return &Object{
		Arch:        PPC32,
		Symbols:     make(map[SymbolRef]Symbol),
		symbolNames: make(map[string]SymbolRef),
		Relocations: make(map[int][]Relocation),
	}
}

// Freeze marks the Object as immutable; subsequent AddSymbol/AddRelocation
// calls panic, catching accidental mutation-in-place bugs across the
// Splitter barrier (spec.md §3 Lifecycle).
func (o *Object) Freeze() {
	o.frozen = true
}

// Frozen reports whether Freeze has been called.
func (o *Object) Frozen() bool {
	return o.frozen
}

// AddSection appends a new section and returns its index.
func (o *Object) AddSection(s Section) int {
	if o.frozen {
		panic("object: AddSection on frozen Object")
	}
	o.Sections = append(o.Sections, s)
	return len(o.Sections) - 1
}

// AddSymbol registers a symbol, enforcing name uniqueness within the
// Object (spec.md §3 invariant). Returns an error, not a panic, since a
// name collision is an analysis-time condition callers must handle (e.g.
// by disambiguating a synthetic name), not a programming bug.
func (o *Object) AddSymbol(s Symbol) error {
	if o.frozen {
		panic("object: AddSymbol on frozen Object")
	}
	if existing, ok := o.symbolNames[s.Name]; ok && existing != s.Ref {
		return fmt.Errorf("%w: %q already bound at %s, cannot rebind at %s", ErrDuplicateSymbolName, s.Name, existing, s.Ref)
	}
	o.Symbols[s.Ref] = s
	o.symbolNames[s.Name] = s.Ref
	return nil
}

// Symbol looks up a symbol by its stable (section, offset) identity.
func (o *Object) Symbol(ref SymbolRef) (Symbol, bool) {
	s, ok := o.Symbols[ref]
	return s, ok
}

// SymbolByName looks up a symbol by its unique name.
func (o *Object) SymbolByName(name string) (Symbol, bool) {
	ref, ok := o.symbolNames[name]
	if !ok {
		return Symbol{}, false
	}
	return o.Symbols[ref], true
}

// AddRelocation inserts a relocation into a section's relocation list,
// keeping the list ordered by Offset.
func (o *Object) AddRelocation(sectionIdx int, r Relocation) {
	if o.frozen {
		panic("object: AddRelocation on frozen Object")
	}
	list := o.Relocations[sectionIdx]
	i := 0
	for i < len(list) && list[i].Offset < r.Offset {
		i++
	}
	list = append(list, Relocation{})
	copy(list[i+1:], list[i:])
	list[i] = r
	o.Relocations[sectionIdx] = list
}

// SortedSymbols returns every symbol ordered by (section, offset), the
// deterministic order used for emitted output.
func (o *Object) SortedSymbols() []Symbol {
	out := make([]Symbol, 0, len(o.Symbols))
	for _, s := range o.Symbols {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Symbol) int {
		if a.Ref.Section != b.Ref.Section {
			return a.Ref.Section - b.Ref.Section
		}
		return int(a.Ref.Offset) - int(b.Ref.Offset)
	})
	return out
}

// SectionNames returns the name of every section in table order, a thin
// wrapper kept next to SortedSymbols so callers reporting on an Object's
// shape don't hand-roll the same loop.
func (o *Object) SectionNames() []string {
	names := make([]string, len(o.Sections))
	for i, s := range o.Sections {
		names[i] = s.Name
	}
	return names
}

// SectionIndex returns the index of the section with the given name, using
// golang.org/x/exp/slices.IndexFunc in place of a hand-rolled search loop.
func (o *Object) SectionIndex(name string) (int, bool) {
	i := slices.IndexFunc(o.Sections, func(s Section) bool { return s.Name == name })
	if i < 0 {
		return 0, false
	}
	return i, true
}

// ErrDuplicateSymbolName is returned by AddSymbol when a name is already
// bound to a different (section, offset) location.
var ErrDuplicateSymbolName = fmt.Errorf("duplicate symbol name")

// SyntheticFunctionName returns the deterministic fn_<hex addr> scheme for
// an address with no recovered name.
func SyntheticFunctionName(addr uint32) string {
	return fmt.Sprintf("fn_%08x", addr)
}

// SyntheticLabelName returns the deterministic lbl_<hex addr> scheme.
func SyntheticLabelName(addr uint32) string {
	return fmt.Sprintf("lbl_%08x", addr)
}

// SyntheticDataName returns the deterministic data_<hex addr> scheme.
func SyntheticDataName(addr uint32) string {
	return fmt.Sprintf("data_%08x", addr)
}
