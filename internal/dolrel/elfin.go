package dolrel

import (
	"debug/elf"
	"fmt"
	"io"

	"github.com/gc-decomp/splitter/internal/object"
)

// ErrUnsupportedELF is returned when an input claims to be an unstripped
// ELF object but is not a 32-bit big-endian PPC relocatable or executable.
var ErrUnsupportedELF = fmt.Errorf("dolrel: unsupported ELF input")

// ParseUnstrippedELF reads an ELF32 PPC object (typically a leftover
// unstripped debug build of the same binary) and decodes it into an
// Object, carrying over its sections and whatever symbols the file still
// has; relocation sections are not decoded. This is an optional, higher-fidelity substitute for the
// Control Flow Analyzer and Signature Matcher stages when it's available:
// real symbol names and exact function boundaries replace heuristics.
//
// Follows the teacher's BinaryFileParser.Parse() shape: open, elf.NewFile,
// verify class/endianness, walk Sections, walk Symbols, decode.
func ParseUnstrippedELF(r io.ReaderAt) (*object.Object, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedELF, err)
	}

	if ef.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("%w: expected 32-bit ELF, got %v", ErrUnsupportedELF, ef.Class)
	}
	if ef.Data != elf.ELFDATA2MSB {
		return nil, fmt.Errorf("%w: expected big-endian ELF, got %v", ErrUnsupportedELF, ef.Data)
	}
	if ef.Machine != elf.EM_PPC {
		return nil, fmt.Errorf("%w: expected EM_PPC, got %v", ErrUnsupportedELF, ef.Machine)
	}

	obj := object.New()
	obj.EntryPoint = uint32(ef.Entry)

	elfSectionIdx := make(map[*elf.Section]int, len(ef.Sections))
	for _, sec := range ef.Sections {
		if sec.Type == elf.SHT_NULL || sec.Name == "" {
			continue
		}
		kind := classifyELFSection(sec)
		var data []byte
		if sec.Type != elf.SHT_NOBITS {
			data, err = sec.Data()
			if err != nil {
				return nil, fmt.Errorf("%w: reading section %q: %v", ErrUnsupportedELF, sec.Name, err)
			}
		}
		idx := obj.AddSection(object.Section{
			Name:    sec.Name,
			Kind:    kind,
			Address: uint32(sec.Addr),
			Size:    uint32(sec.Size),
			Align:   uint32(sec.Addralign),
			Data:    data,
		})
		elfSectionIdx[sec] = idx
	}

	symbols, err := ef.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("%w: reading symbols: %v", ErrUnsupportedELF, err)
	}

	for _, sym := range symbols {
		if sym.Section == elf.SHN_UNDEF || sym.Name == "" {
			continue
		}
		if int(sym.Section) >= len(ef.Sections) {
			continue
		}
		sec := ef.Sections[sym.Section]
		secIdx, ok := elfSectionIdx[sec]
		if !ok {
			continue
		}
		offset := uint32(sym.Value) - uint32(sec.Addr)

		binding := object.BindLocal
		switch elf.ST_BIND(sym.Info) {
		case elf.STB_GLOBAL:
			binding = object.BindGlobal
		case elf.STB_WEAK:
			binding = object.BindWeak
		}

		kind := object.SymLabel
		switch elf.ST_TYPE(sym.Info) {
		case elf.STT_FUNC:
			kind = object.SymFunction
		case elf.STT_OBJECT:
			kind = object.SymObject
		case elf.STT_SECTION:
			kind = object.SymSection
		}

		if err := obj.AddSymbol(object.Symbol{
			Ref:     object.SymbolRef{Section: secIdx, Offset: offset},
			Name:    sym.Name,
			Size:    uint32(sym.Size),
			Kind:    kind,
			Binding: binding,
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedELF, err)
		}
	}

	for _, sec := range ef.Sections {
		secIdx, ok := elfSectionIdx[sec]
		if !ok || sec.Type != elf.SHT_RELA && sec.Type != elf.SHT_REL {
			continue
		}
		// Relocation section names follow ".rela<target>" or ".rel<target>";
		// the Go stdlib does not expose decoded PPC relocations generically,
		// so callers that need them should fall back to the REL/DOL loader
		// paths, which carry their own relocation streams. Relocation
		// sections are skipped here and nothing about them is recorded in
		// the returned Object.
		_ = secIdx
	}

	return obj, nil
}

func classifyELFSection(sec *elf.Section) object.SectionKind {
	if sec.Type == elf.SHT_NOBITS {
		return object.SectionBSS
	}
	if sec.Flags&elf.SHF_EXECINSTR != 0 {
		return object.SectionCode
	}
	if sec.Flags&elf.SHF_WRITE != 0 {
		return object.SectionData
	}
	if sec.Flags&elf.SHF_ALLOC != 0 {
		return object.SectionRodata
	}
	return object.SectionUnknown
}
