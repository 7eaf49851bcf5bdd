// Package secdata infers section kinds and the type/extent of data objects
// within data sections, and parses the linker-generated support tables
// (.ctors, .dtors, extab, extabindex) those objects co-splitting depends on
// (spec.md §4.6).
//
// The ctors/dtors and extabindex-binding logic mirrors the teacher's
// pkg/hw/cpu/mc/memoryresolver.go remapDebugInfoAddresses: both walk one
// table keyed by address and produce a second table of bound records
// without mutating the source table in place.
package secdata

import (
	"github.com/gc-decomp/splitter/internal/diag"
	"github.com/gc-decomp/splitter/internal/object"
)

// CtorEntry is one function-pointer slot in a .ctors/.dtors table.
type CtorEntry struct {
	Offset uint32 // offset within the table section
	Target uint32 // function address, 0 marks the table's null terminator
}

// ParseCtorTable walks a .ctors/.dtors section's raw words, stopping at the
// null-word terminator (spec.md §4.6). Each non-null entry must be
// word-aligned and reference a function reachable by analysis; callers
// supply isKnownFunction to check that and record a warning if not.
func ParseCtorTable(sec object.Section, isKnownFunction func(uint32) bool, bag *diag.Bag, stage string) []CtorEntry {
	var entries []CtorEntry
	for off := uint32(0); off+4 <= sec.Size; off += 4 {
		word := beWord(sec.Data[off : off+4])
		if word == 0 {
			break
		}
		entries = append(entries, CtorEntry{Offset: off, Target: word})
		if isKnownFunction != nil && !isKnownFunction(word) {
			bag.Addf(stage, sec.Address+off, 0, "%s entry at offset 0x%x targets 0x%08x, which analysis did not reach as a function", sec.Name, off, word)
		}
	}
	return entries
}

func beWord(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// ExtabRange is one CodeWarrior exception-table record: a byte range within
// extab and the function it describes.
type ExtabRange struct {
	Offset   uint32 // offset within the extab section
	Length   uint32
	Function uint32
}

// ExtabIndexEntry binds a code range (a function) to an ExtabRange,
// spec.md §4.6: "each extabindex entry binds a code range to an extab
// record; these bindings drive co-splitting".
type ExtabIndexEntry struct {
	Offset      uint32 // offset within the extabindex section
	Function    uint32
	ExtabOffset uint32
	ExtabLength uint32
}

// extabIndexEntrySize is the fixed CodeWarrior extabindex record layout:
// function address (4 bytes), extab section offset (4 bytes), extab length
// (4 bytes).
const extabIndexEntrySize = 12

// ParseExtabIndex decodes a fixed-stride extabindex section into one entry
// per function, preserving original relative order (spec.md §3 invariant:
// "extabindex entries are paired 1:1 with extab ranges and with their
// owning function").
func ParseExtabIndex(sec object.Section, bag *diag.Bag, stage string) []ExtabIndexEntry {
	var entries []ExtabIndexEntry
	for off := uint32(0); off+extabIndexEntrySize <= sec.Size; off += extabIndexEntrySize {
		fn := beWord(sec.Data[off : off+4])
		extOff := beWord(sec.Data[off+4 : off+8])
		extLen := beWord(sec.Data[off+8 : off+12])
		if fn == 0 && extOff == 0 && extLen == 0 {
			continue
		}
		entries = append(entries, ExtabIndexEntry{Offset: off, Function: fn, ExtabOffset: extOff, ExtabLength: extLen})
	}
	if sec.Size%extabIndexEntrySize != 0 {
		bag.Addf(stage, sec.Address+sec.Size-(sec.Size%extabIndexEntrySize), 0, "%s size 0x%x is not a multiple of the %d-byte entry stride", sec.Name, sec.Size, extabIndexEntrySize)
	}
	return entries
}

// ExtabRanges derives the extab byte ranges referenced by a parsed
// extabindex table, used by the Splitter to co-split extab alongside the
// function and extabindex entry that own it.
func ExtabRanges(entries []ExtabIndexEntry) []ExtabRange {
	out := make([]ExtabRange, 0, len(entries))
	for _, e := range entries {
		out = append(out, ExtabRange{Offset: e.ExtabOffset, Length: e.ExtabLength, Function: e.Function})
	}
	return out
}

// DataObjectKind classifies a run of bytes within a data/rodata section.
type DataObjectKind int

const (
	DataOpaque DataObjectKind = iota
	DataCString
	DataWideString
	DataStringTable
)

// DataObject is one inferred data object: a run of bytes between two
// addresses both referenced externally (spec.md §4.6).
type DataObject struct {
	Start, End uint32
	Kind       DataObjectKind
}

// InferDataObjects splits a section's address range at every boundary
// address and classifies each resulting run by its byte pattern.
// boundaries must be sorted and include sec.Address and sec.Address+Size.
func InferDataObjects(sec object.Section, boundaries []uint32) []DataObject {
	var objs []DataObject
	for i := 0; i+1 < len(boundaries); i++ {
		start, end := boundaries[i], boundaries[i+1]
		if start >= end {
			continue
		}
		lo, hi := start-sec.Address, end-sec.Address
		if hi > uint32(len(sec.Data)) {
			hi = uint32(len(sec.Data))
		}
		if lo >= hi {
			continue
		}
		objs = append(objs, DataObject{Start: start, End: end, Kind: classify(sec.Data[lo:hi])})
	}
	return objs
}

func classify(b []byte) DataObjectKind {
	if len(b) == 0 {
		return DataOpaque
	}
	if isCString(b) {
		return DataCString
	}
	if isWideString(b) {
		return DataWideString
	}
	return DataOpaque
}

// isCString reports whether b is entirely printable ASCII (plus common
// whitespace) terminated by a single trailing NUL.
func isCString(b []byte) bool {
	if b[len(b)-1] != 0 {
		return false
	}
	for _, c := range b[:len(b)-1] {
		if c == 0 {
			return false
		}
		if c < 0x09 || (c > 0x0D && c < 0x20) || c > 0x7E {
			return false
		}
	}
	return true
}

// isWideString reports whether b looks like a UTF-16BE string: an even
// length, a high byte of 0 on every code unit in the printable ASCII
// range, and a terminating 0x0000 code unit.
func isWideString(b []byte) bool {
	if len(b) < 4 || len(b)%2 != 0 {
		return false
	}
	if b[len(b)-2] != 0 || b[len(b)-1] != 0 {
		return false
	}
	for i := 0; i+2 <= len(b)-2; i += 2 {
		if b[i] != 0 {
			return false
		}
		c := b[i+1]
		if c < 0x09 || (c > 0x0D && c < 0x20) || c > 0x7E {
			return false
		}
	}
	return true
}

// ClassifySupportSections recognizes .ctors, .dtors, extab, and extabindex
// tables among obj's still-generic data sections, before any fallback
// rodata/data classification commits them to something else. Neither DOL
// nor REL inputs carry section names for these tables, only their byte
// shape, so each candidate is confirmed structurally: extabindex by its
// fixed 12-byte stride with every function field landing inside a known
// code section, ctors/dtors by a null-terminated run of code-section
// addresses, and extab by elimination, as the nearest unclassified section
// large enough to hold every extabindex entry's range (spec.md §4.6).
func ClassifySupportSections(obj *object.Object) {
	extabIndexSection := -1
	for i, sec := range obj.Sections {
		if !isSupportCandidate(sec) {
			continue
		}
		if looksLikeExtabIndex(obj, sec) {
			obj.Sections[i].Kind = object.SectionExtabIndex
			extabIndexSection = i
		}
	}

	ctorsFound := false
	for i, sec := range obj.Sections {
		if !isSupportCandidate(sec) {
			continue
		}
		if looksLikeCtorTable(obj, sec) {
			if !ctorsFound {
				obj.Sections[i].Kind = object.SectionCtors
				ctorsFound = true
			} else {
				obj.Sections[i].Kind = object.SectionDtors
			}
		}
	}

	if extabIndexSection >= 0 {
		if i, ok := findExtabSection(obj, extabIndexSection); ok {
			obj.Sections[i].Kind = object.SectionExtab
		}
	}
}

func isSupportCandidate(sec object.Section) bool {
	if sec.IsBSS() || sec.Data == nil {
		return false
	}
	switch sec.Kind {
	case object.SectionData, object.SectionRodata, object.SectionUnknown:
		return true
	default:
		return false
	}
}

func looksLikeExtabIndex(obj *object.Object, sec object.Section) bool {
	if sec.Size == 0 || sec.Size%extabIndexEntrySize != 0 {
		return false
	}
	n := sec.Size / extabIndexEntrySize
	if n == 0 || n > 4096 {
		return false
	}
	for off := uint32(0); off+extabIndexEntrySize <= sec.Size; off += extabIndexEntrySize {
		fn := beWord(sec.Data[off : off+4])
		if fn == 0 {
			continue
		}
		if !isCodeAddress(obj, fn) {
			return false
		}
	}
	return true
}

// looksLikeCtorTable reports whether sec is a null-terminated run of
// code-section addresses with no interior null word, the shape spec.md
// §4.6 and §8 Scenario S2 describe for .ctors/.dtors.
func looksLikeCtorTable(obj *object.Object, sec object.Section) bool {
	if sec.Size == 0 || sec.Size%4 != 0 || sec.Size > 4096 {
		return false
	}
	if beWord(sec.Data[sec.Size-4:]) != 0 {
		return false
	}
	for off := uint32(0); off+4 < sec.Size; off += 4 {
		word := beWord(sec.Data[off : off+4])
		if word == 0 {
			return false
		}
		if !isCodeAddress(obj, word) {
			return false
		}
	}
	return true
}

func isCodeAddress(obj *object.Object, addr uint32) bool {
	idx := obj.SectionAt(addr)
	return idx >= 0 && obj.Sections[idx].Kind == object.SectionCode
}

// findExtabSection picks the unclassified section nearest extabIndexSection
// that is large enough to hold every range its entries describe; CodeWarrior
// always emits extab immediately before extabindex.
func findExtabSection(obj *object.Object, extabIndexSection int) (int, bool) {
	sec := obj.Sections[extabIndexSection]
	var maxEnd uint32
	for off := uint32(0); off+extabIndexEntrySize <= sec.Size; off += extabIndexEntrySize {
		extOff := beWord(sec.Data[off+4 : off+8])
		extLen := beWord(sec.Data[off+8 : off+12])
		if end := extOff + extLen; end > maxEnd {
			maxEnd = end
		}
	}

	best := -1
	for i, s := range obj.Sections {
		if i == extabIndexSection || !isSupportCandidate(s) || s.Size < maxEnd {
			continue
		}
		if best < 0 || distance(i, extabIndexSection) < distance(best, extabIndexSection) {
			best = i
		}
	}
	return best, best >= 0
}

func distance(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

// ClassifySection infers a section's kind when header flags are absent
// (spec.md §4.6, primarily needed for stripped REL sections): executable
// instruction patterns mark code, all-zero content with no raw bytes marks
// bss, and everything else falls back to rodata or data based on whether
// relocations reference it from code (supplied by the caller via
// referencedAsReadOnly, since only the Relocation Reconstructor knows which
// sections are read through a pointer load vs written to).
func ClassifySection(sec object.Section, referencedAsReadOnly bool) object.SectionKind {
	if sec.Kind != object.SectionUnknown {
		return sec.Kind
	}
	if sec.Data == nil {
		return object.SectionBSS
	}
	if looksLikeCode(sec.Data) {
		return object.SectionCode
	}
	if referencedAsReadOnly {
		return object.SectionRodata
	}
	return object.SectionData
}

// looksLikeCode is a coarse heuristic: PowerPC instructions in CodeWarrior
// output overwhelmingly begin with a primary opcode byte in the small set
// actually emitted (branches, loads/stores, arithmetic); a section whose
// first word's top 6 bits fall in that set is treated as code pending
// stronger evidence from the Control-Flow Analyzer.
func looksLikeCode(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	op := data[0] >> 2
	switch op {
	case 14, 15, 16, 18, 19, 24, 25, 31, 32, 33, 34, 36, 37, 38, 40, 44, 48, 50, 52, 54:
		return true
	}
	return false
}
