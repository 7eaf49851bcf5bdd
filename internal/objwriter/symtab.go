package objwriter

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gc-decomp/splitter/internal/object"
)

const (
	stbLocal  = 0
	stbGlobal = 1
	stbWeak   = 2

	sttNotype  = 0
	sttObject  = 1
	sttFunc    = 2
	sttSection = 3

	stvHidden = 2
)

// sortedSymbols returns every symbol ref in the object ordered the way a
// CodeWarrior-produced .o lays out its symbol table: all STB_LOCAL entries
// first, then STB_GLOBAL, then STB_WEAK, ties within a binding class broken
// by name. ELF requires locals to precede non-locals (they're partitioned
// by sh_info on .symtab), and a stable secondary order keeps repeated
// writer runs byte-identical.
func sortedSymbols(obj *object.Object) []object.SymbolRef {
	refs := make([]object.SymbolRef, 0, len(obj.Symbols))
	for ref := range obj.Symbols {
		refs = append(refs, ref)
	}
	rank := func(b object.SymbolBinding) int {
		switch b {
		case object.BindLocal:
			return 0
		case object.BindGlobal:
			return 1
		default:
			return 2
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		si, sj := obj.Symbols[refs[i]], obj.Symbols[refs[j]]
		ri, rj := rank(si.Binding), rank(sj.Binding)
		if ri != rj {
			return ri < rj
		}
		if si.Name != sj.Name {
			return si.Name < sj.Name
		}
		if refs[i].Section != refs[j].Section {
			return refs[i].Section < refs[j].Section
		}
		return refs[i].Offset < refs[j].Offset
	})
	return refs
}

func elfBinding(b object.SymbolBinding) uint8 {
	switch b {
	case object.BindGlobal:
		return stbGlobal
	case object.BindWeak:
		return stbWeak
	default:
		return stbLocal
	}
}

func elfType(k object.SymbolKind) uint8 {
	switch k {
	case object.SymFunction:
		return sttFunc
	case object.SymObject:
		return sttObject
	case object.SymSection:
		return sttSection
	default:
		return sttNotype
	}
}

// encodeSymtab builds the raw .symtab bytes (null entry first, then the
// symbols in the order sortedSymbols returned) and reports the index of the
// first non-local entry, which becomes sh_info on the .symtab section
// header per the ELF spec.
func encodeSymtab(obj *object.Object, order []object.SymbolRef, elfIndexOfSection []int, strtab *stringTable) ([]byte, int, error) {
	be := binary.BigEndian
	buf := make([]byte, 16*(len(order)+1))

	firstGlobal := len(order) + 1
	foundGlobal := false

	for i, ref := range order {
		sym, ok := obj.Symbols[ref]
		if !ok {
			return nil, 0, fmt.Errorf("objwriter: symbol ref %s missing from object", ref)
		}
		if !foundGlobal && sym.Binding != object.BindLocal {
			firstGlobal = i + 1
			foundGlobal = true
		}

		shndx, ok := sectionIndexFor(ref.Section, elfIndexOfSection)
		if !ok {
			return nil, 0, fmt.Errorf("objwriter: symbol %q references out-of-range section %d", sym.Name, ref.Section)
		}

		off := (i + 1) * 16
		nameOff := strtab.intern(sym.Name)
		be.PutUint32(buf[off:], nameOff)
		value := obj.Address(ref)
		if ref.Section == object.UndefSection {
			value = 0 // undefined imports carry no value of their own
		}
		be.PutUint32(buf[off+4:], value)
		be.PutUint32(buf[off+8:], sym.Size)
		buf[off+12] = elfBinding(sym.Binding)<<4 | elfType(sym.Kind)
		var other uint8
		if sym.Flags.Hidden {
			other = stvHidden
		}
		buf[off+13] = other
		be.PutUint16(buf[off+14:], uint16(shndx))
	}

	return buf, firstGlobal, nil
}

func sectionIndexFor(srcIdx int, elfIndexOfSection []int) (int, bool) {
	if srcIdx == object.UndefSection {
		return 0, true // SHN_UNDEF
	}
	if srcIdx < 0 || srcIdx >= len(elfIndexOfSection) {
		return 0, false
	}
	return elfIndexOfSection[srcIdx], true
}

// encodeRela builds the raw .rela<section> bytes (Elf32_Rela entries:
// r_offset, r_info, r_addend) for one section's relocation list.
func encodeRela(relocs []object.Relocation, obj *object.Object, symIndexByRef map[object.SymbolRef]uint32) ([]byte, error) {
	be := binary.BigEndian
	buf := make([]byte, 12*len(relocs))

	for i, r := range relocs {
		typ, err := relocTypeNumber(r.Kind)
		if err != nil {
			return nil, err
		}
		symIdx, ok := symIndexByRef[r.Target]
		if !ok {
			return nil, fmt.Errorf("objwriter: relocation at offset 0x%x targets unknown symbol %s", r.Offset, r.Target)
		}
		off := i * 12
		be.PutUint32(buf[off:], r.Offset)
		be.PutUint32(buf[off+4:], symIdx<<8|typ)
		be.PutUint32(buf[off+8:], uint32(r.Addend))
	}

	return buf, nil
}
