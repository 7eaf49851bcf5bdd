// Package dolrel implements the Binary Loader: parsing a GameCube/Wii DOL
// executable, REL relocatable modules, and (for inputs that still carry
// one) an unstripped ELF32 PPC object, into the uniform object.Object
// representation the rest of the pipeline operates on.
//
// The overall shape — open the raw bytes, read a fixed header, walk its
// section table, decode into a shared in-memory representation — follows
// the teacher's llvm.BinaryFileParser.Parse(), which does the equivalent
// job for its own toy object format.
package dolrel

import (
	"encoding/binary"
	"fmt"

	"github.com/gc-decomp/splitter/internal/object"
)

const (
	dolHeaderSize  = 0x100
	dolNumText     = 7
	dolNumData     = 11
	dolTextOffsOff = 0x00
	dolDataOffsOff = dolTextOffsOff + 4*dolNumText
	dolTextAddrOff = dolDataOffsOff + 4*dolNumData
	dolDataAddrOff = dolTextAddrOff + 4*dolNumText
	dolTextSizeOff = dolDataAddrOff + 4*dolNumData
	dolDataSizeOff = dolTextSizeOff + 4*dolNumText
	dolBSSAddrOff  = dolDataSizeOff + 4*dolNumData
	dolBSSSizeOff  = dolBSSAddrOff + 4
	dolEntryOff    = dolBSSSizeOff + 4
)

// ErrTruncatedDOL is returned when the input is shorter than a DOL header,
// or a section's file offset/size extends past the end of the file.
var ErrTruncatedDOL = fmt.Errorf("dolrel: truncated DOL file")

// ErrOverlappingDOLSection is returned when two DOL sections claim
// overlapping virtual address ranges, or their declared order does not
// match ascending address order.
var ErrOverlappingDOLSection = fmt.Errorf("dolrel: overlapping or misordered DOL sections")

type dolRawSection struct {
	fileOffset uint32
	addr       uint32
	size       uint32
	text       bool
	index      int
}

// ParseDOL decodes a raw DOL file into an Object. Section names follow
// CodeWarrior convention: text sections are named ".text" (first) then
// ".textN"; data sections ".data"/".dataN", with a best-effort rename to
// ".rodata"/".sdata"/".sdata2" left to the Section & Data Analyzer stage,
// which has the information (cross-references, ctors, string content) this
// loader does not.
func ParseDOL(data []byte) (*object.Object, error) {
	if len(data) < dolHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncatedDOL, len(data), dolHeaderSize)
	}
	be := binary.BigEndian

	var raw []dolRawSection
	for i := 0; i < dolNumText; i++ {
		off := be.Uint32(data[dolTextOffsOff+4*i:])
		addr := be.Uint32(data[dolTextAddrOff+4*i:])
		size := be.Uint32(data[dolTextSizeOff+4*i:])
		if off == 0 && addr == 0 && size == 0 {
			continue
		}
		raw = append(raw, dolRawSection{fileOffset: off, addr: addr, size: size, text: true, index: i})
	}
	for i := 0; i < dolNumData; i++ {
		off := be.Uint32(data[dolDataOffsOff+4*i:])
		addr := be.Uint32(data[dolDataAddrOff+4*i:])
		size := be.Uint32(data[dolDataSizeOff+4*i:])
		if off == 0 && addr == 0 && size == 0 {
			continue
		}
		raw = append(raw, dolRawSection{fileOffset: off, addr: addr, size: size, text: false, index: i})
	}

	bssAddr := be.Uint32(data[dolBSSAddrOff:])
	bssSize := be.Uint32(data[dolBSSSizeOff:])
	entry := be.Uint32(data[dolEntryOff:])

	if err := checkDOLOrdering(raw); err != nil {
		return nil, err
	}

	obj := object.New()
	obj.EntryPoint = entry

	textSeen, dataSeen := 0, 0
	for _, r := range raw {
		if uint64(r.fileOffset)+uint64(r.size) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section at file offset 0x%x size 0x%x exceeds file length %d", ErrTruncatedDOL, r.fileOffset, r.size, len(data))
		}
		name := sectionName(r.text, textSeen, dataSeen)
		if r.text {
			textSeen++
		} else {
			dataSeen++
		}
		kind := object.SectionData
		if r.text {
			kind = object.SectionCode
		}
		sectionData := make([]byte, r.size)
		copy(sectionData, data[r.fileOffset:r.fileOffset+r.size])
		obj.AddSection(object.Section{
			Name:    name,
			Kind:    kind,
			Address: r.addr,
			Size:    r.size,
			Align:   4,
			Data:    sectionData,
		})
	}

	if bssSize > 0 {
		obj.AddSection(object.Section{
			Name:    ".bss",
			Kind:    object.SectionBSS,
			Address: bssAddr,
			Size:    bssSize,
			Align:   8,
		})
	}

	return obj, nil
}

func sectionName(text bool, textSeen, dataSeen int) string {
	if text {
		if textSeen == 0 {
			return ".text"
		}
		return fmt.Sprintf(".text%d", textSeen)
	}
	if dataSeen == 0 {
		return ".data"
	}
	return fmt.Sprintf(".data%d", dataSeen)
}

// checkDOLOrdering rejects overlapping virtual address ranges and section
// lists that are not already in ascending address order, matching the
// spec's "any overlap or misordering is a fatal error" rule. Sections are
// checked independent of text/data class, since both classes share one
// flat address space at runtime.
func checkDOLOrdering(raw []dolRawSection) error {
	ordered := make([]dolRawSection, len(raw))
	copy(ordered, raw)
	for i := 1; i < len(ordered); i++ {
		prev := ordered[i-1]
		cur := ordered[i]
		if cur.addr < prev.addr {
			return fmt.Errorf("%w: section at 0x%x appears after section at 0x%x in header order", ErrOverlappingDOLSection, cur.addr, prev.addr)
		}
	}
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := ordered[i], ordered[j]
			if rangesOverlap(a.addr, a.size, b.addr, b.size) {
				return fmt.Errorf("%w: [0x%x,0x%x) overlaps [0x%x,0x%x)", ErrOverlappingDOLSection, a.addr, a.addr+a.size, b.addr, b.addr+b.size)
			}
		}
	}
	return nil
}

func rangesOverlap(aAddr, aSize, bAddr, bSize uint32) bool {
	if aSize == 0 || bSize == 0 {
		return false
	}
	aEnd := aAddr + aSize
	bEnd := bAddr + bSize
	return aAddr < bEnd && bAddr < aEnd
}
