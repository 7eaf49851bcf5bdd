package dolrel

import (
	"encoding/binary"
	"fmt"

	"github.com/gc-decomp/splitter/internal/object"
)

const relHeaderMinSize = 0x40

// relocTypeByte mirrors the ELF R_PPC_* numbering REL relocation records
// use, plus the three Dolphin-specific stream control codes.
const (
	relTypeNone       = 0
	relTypeAddr32     = 1
	relTypeAddr16Lo   = 4
	relTypeAddr16Hi   = 5
	relTypeAddr16Ha   = 6
	relTypeRel24      = 10
	relTypeRel14      = 11
	relTypeSdaRel     = 110
	relTypeDolphinNop = 201
	relTypeDolphinSec = 202
	relTypeDolphinEnd = 203
)

// ErrTruncatedREL is returned when a REL file is shorter than its own
// declared section/relocation/import tables require.
var ErrTruncatedREL = fmt.Errorf("dolrel: truncated REL file")

// RELSectionInfo is one raw entry from a REL's section-info table: a file
// offset (whose low bit is the executable flag, cleared before use) and a
// length. A zero length marks an absent/bss section.
type RELSectionInfo struct {
	FileOffset uint32
	Length     uint32
	Executable bool
}

// RELHeader is the fixed-size module header preceding a REL's section and
// relocation tables.
type RELHeader struct {
	ID                uint32
	NumSections       uint32
	SectionInfoOffset uint32
	NameOffset        uint32
	NameSize          uint32
	Version           uint32
	BSSSize           uint32
	RelocOffset       uint32
	ImpOffset         uint32
	ImpSize           uint32
	PrologSection     uint8
	EpilogSection     uint8
	UnresolvedSection uint8
	PrologOffset      uint32
	EpilogOffset      uint32
	UnresolvedOffset  uint32
	Align             uint32
	BSSAlign          uint32
}

// RELImport names one module whose relocation stream follows: the compact
// stream is shared by all modules and is segmented by explicit
// R_DOLPHIN_SECTION/module-change markers rather than by a length prefix.
type RELImport struct {
	ModuleID    uint32
	RelocOffset uint32
}

// RELReloc is one unapplied relocation record from a REL's stream: a patch
// site within this module (section index + offset) and a symbolic target
// in another module. The load address stays symbolic (module id + section
// + addend) until rel merge assigns concrete ranges; for the main module
// (id 0, the DOL) the addend is already an absolute address.
type RELReloc struct {
	PatchSection  int
	PatchOffset   uint32
	Kind          object.RelocKind
	TargetModule  uint32
	TargetSection int
	Addend        uint32
}

// ParsedREL is everything the loader extracts from a REL file before any
// address assignment: the header, section table, unapplied relocation
// records, and the special prolog/epilog/unresolved entry points.
type ParsedREL struct {
	Header      RELHeader
	Sections    []RELSectionInfo
	Imports     []RELImport
	Relocations []RELReloc
}

func readRELHeader(data []byte) (RELHeader, error) {
	if len(data) < relHeaderMinSize {
		return RELHeader{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrTruncatedREL, relHeaderMinSize, len(data))
	}
	be := binary.BigEndian
	h := RELHeader{
		ID:                be.Uint32(data[0x00:]),
		NumSections:       be.Uint32(data[0x0C:]),
		SectionInfoOffset: be.Uint32(data[0x10:]),
		NameOffset:        be.Uint32(data[0x14:]),
		NameSize:          be.Uint32(data[0x18:]),
		Version:           be.Uint32(data[0x1C:]),
		BSSSize:           be.Uint32(data[0x20:]),
		RelocOffset:       be.Uint32(data[0x24:]),
		ImpOffset:         be.Uint32(data[0x28:]),
		ImpSize:           be.Uint32(data[0x2C:]),
		PrologSection:     data[0x30],
		EpilogSection:     data[0x31],
		UnresolvedSection: data[0x32],
		PrologOffset:      be.Uint32(data[0x34:]),
		EpilogOffset:      be.Uint32(data[0x38:]),
		UnresolvedOffset:  be.Uint32(data[0x3C:]),
	}
	if len(data) >= relHeaderMinSize+8 {
		h.Align = be.Uint32(data[0x40:])
		h.BSSAlign = be.Uint32(data[0x44:])
	}
	return h, nil
}

// ParseREL decodes a raw REL file's header, section table, and relocation
// stream. Relocations are recorded symbolically (module id + section +
// offset) and never applied to section bytes, matching the spec's
// requirement that REL load addresses stay unresolved until rel merge.
func ParseREL(data []byte) (*ParsedREL, error) {
	h, err := readRELHeader(data)
	if err != nil {
		return nil, err
	}

	sections, err := readRELSections(data, h)
	if err != nil {
		return nil, err
	}

	relocs, imports, err := readRELRelocStream(data, h)
	if err != nil {
		return nil, err
	}

	return &ParsedREL{Header: h, Sections: sections, Imports: imports, Relocations: relocs}, nil
}

func readRELSections(data []byte, h RELHeader) ([]RELSectionInfo, error) {
	need := uint64(h.SectionInfoOffset) + uint64(h.NumSections)*8
	if need > uint64(len(data)) {
		return nil, fmt.Errorf("%w: section table at 0x%x needs %d entries, file is %d bytes", ErrTruncatedREL, h.SectionInfoOffset, h.NumSections, len(data))
	}
	be := binary.BigEndian
	out := make([]RELSectionInfo, h.NumSections)
	for i := range out {
		rec := data[h.SectionInfoOffset+uint32(i)*8:]
		raw := be.Uint32(rec)
		out[i] = RELSectionInfo{
			FileOffset: raw &^ 1,
			Executable: raw&1 != 0,
			Length:     be.Uint32(rec[4:]),
		}
	}
	return out, nil
}

// readRELRelocStream walks the compact relocation stream. Each import
// table entry names a module id and an offset into the shared stream; the
// stream for that module is a run of 8-byte records (offset-delta u16,
// type u8, section u8, addend u32) terminated by R_DOLPHIN_END.
// R_DOLPHIN_SECTION switches which of this REL's own sections subsequent
// records target; R_DOLPHIN_NOP only advances the running offset.
func readRELRelocStream(data []byte, h RELHeader) ([]RELReloc, []RELImport, error) {
	if h.ImpSize%8 != 0 {
		return nil, nil, fmt.Errorf("%w: import table size %d is not a multiple of 8", ErrTruncatedREL, h.ImpSize)
	}
	numImports := h.ImpSize / 8
	need := uint64(h.ImpOffset) + uint64(h.ImpSize)
	if need > uint64(len(data)) {
		return nil, nil, fmt.Errorf("%w: import table at 0x%x needs %d bytes, file is %d bytes", ErrTruncatedREL, h.ImpOffset, h.ImpSize, len(data))
	}

	be := binary.BigEndian
	imports := make([]RELImport, numImports)
	for i := range imports {
		rec := data[h.ImpOffset+uint32(i)*8:]
		imports[i] = RELImport{ModuleID: be.Uint32(rec), RelocOffset: be.Uint32(rec[4:])}
	}

	var relocs []RELReloc
	for _, imp := range imports {
		list, err := readOneModuleRelocRun(data, imp.RelocOffset, imp.ModuleID)
		if err != nil {
			return nil, nil, err
		}
		relocs = append(relocs, list...)
	}
	return relocs, imports, nil
}

// readOneModuleRelocRun walks one import entry's run of 8-byte records.
// R_DOLPHIN_SECTION selects which of this REL's own sections subsequent
// records patch; each ordinary record's section byte names the section the
// target lives in, within targetModule (ignored for module 0, where the
// addend is an absolute DOL address).
func readOneModuleRelocRun(data []byte, start uint32, targetModule uint32) ([]RELReloc, error) {
	var out []RELReloc
	curOffset := uint32(0)
	curSection := -1
	pos := start

	for {
		if uint64(pos)+8 > uint64(len(data)) {
			return nil, fmt.Errorf("%w: relocation stream runs past end of file at 0x%x", ErrTruncatedREL, pos)
		}
		be := binary.BigEndian
		rec := data[pos:]
		delta := be.Uint16(rec[0:])
		typ := rec[2]
		section := rec[3]
		addend := be.Uint32(rec[4:])
		pos += 8

		switch typ {
		case relTypeDolphinEnd:
			return out, nil
		case relTypeDolphinSec:
			curSection = int(section)
			curOffset = 0
			continue
		case relTypeDolphinNop:
			curOffset += uint32(delta)
			continue
		}

		curOffset += uint32(delta)
		kind, err := fromRELRelocType(typ)
		if err != nil {
			return nil, err
		}
		out = append(out, RELReloc{
			PatchSection:  curSection,
			PatchOffset:   curOffset,
			Kind:          kind,
			TargetModule:  targetModule,
			TargetSection: int(section),
			Addend:        addend,
		})
	}
}

func fromRELRelocType(typ uint8) (object.RelocKind, error) {
	switch typ {
	case relTypeAddr32:
		return object.R_PPC_ADDR32, nil
	case relTypeAddr16Hi:
		return object.R_PPC_ADDR16_HI, nil
	case relTypeAddr16Ha:
		return object.R_PPC_ADDR16_HA, nil
	case relTypeAddr16Lo:
		return object.R_PPC_ADDR16_LO, nil
	case relTypeRel24:
		return object.R_PPC_REL24, nil
	case relTypeRel14:
		return object.R_PPC_REL14, nil
	case relTypeSdaRel:
		return object.R_PPC_SDA_REL, nil
	default:
		return object.R_PPC_NONE, fmt.Errorf("dolrel: unrecognized REL relocation type byte 0x%x", typ)
	}
}
