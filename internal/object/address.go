package object

// SectionAt returns the index of the section whose virtual address range
// contains addr, or -1 if no section covers it.
func (o *Object) SectionAt(addr uint32) int {
	for i, s := range o.Sections {
		if addr >= s.Address && addr < s.Address+s.Size {
			return i
		}
	}
	return -1
}

// Resolve converts a virtual address into a SymbolRef against whichever
// section currently contains it. The offset is relative to the section's
// base address, not to any enclosing symbol.
func (o *Object) Resolve(addr uint32) (SymbolRef, bool) {
	idx := o.SectionAt(addr)
	if idx < 0 {
		return SymbolRef{}, false
	}
	return SymbolRef{Section: idx, Offset: addr - o.Sections[idx].Address}, true
}

// Address converts a SymbolRef back to a virtual address. For an
// undefined-import ref the Offset IS the address in the original image
// (see UndefSection).
func (o *Object) Address(ref SymbolRef) uint32 {
	if ref.Section == UndefSection {
		return ref.Offset
	}
	if ref.Section < 0 || ref.Section >= len(o.Sections) {
		return 0
	}
	return o.Sections[ref.Section].Address + ref.Offset
}

// EnclosingSymbol finds the symbol with the greatest offset at or below
// addr within the same section, used to normalize a synthesized
// relocation's addend so the target points at the nearest enclosing
// user-visible symbol (spec.md §4.4).
func (o *Object) EnclosingSymbol(addr uint32) (Symbol, int32, bool) {
	ref, ok := o.Resolve(addr)
	if !ok {
		return Symbol{}, 0, false
	}
	var best *Symbol
	for r, s := range o.Symbols {
		if r.Section != ref.Section || r.Offset > ref.Offset {
			continue
		}
		if best == nil || r.Offset > best.Ref.Offset {
			sc := s
			best = &sc
		}
	}
	if best == nil {
		return Symbol{}, 0, false
	}
	addend := int32(ref.Offset) - int32(best.Ref.Offset)
	return *best, addend, true
}

// ByteAt returns the byte at a virtual address, and whether the section
// backing it carries file data (false for bss, which has no raw bytes).
func (o *Object) ByteAt(addr uint32) (byte, bool) {
	idx := o.SectionAt(addr)
	if idx < 0 {
		return 0, false
	}
	sec := o.Sections[idx]
	if sec.IsBSS() {
		return 0, false
	}
	off := addr - sec.Address
	if int(off) >= len(sec.Data) {
		return 0, false
	}
	return sec.Data[off], true
}

// Word32At reads a big-endian 32-bit word at addr, PowerPC's native order.
func (o *Object) Word32At(addr uint32) (uint32, bool) {
	var w uint32
	for i := uint32(0); i < 4; i++ {
		b, ok := o.ByteAt(addr + i)
		if !ok {
			return 0, false
		}
		w = (w << 8) | uint32(b)
	}
	return w, true
}
