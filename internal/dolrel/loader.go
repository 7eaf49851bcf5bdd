package dolrel

import (
	"fmt"
	"sort"

	"github.com/gc-decomp/splitter/internal/object"
)

const relMergeAlign = 32

// MergedREL is one REL module after rel merge has assigned it a concrete
// load address range immediately following the DOL image.
type MergedREL struct {
	ID       uint32
	BaseAddr uint32
	Parsed   *ParsedREL
}

// MergeRELs assigns each parsed REL module a virtual address range
// immediately following dolImageEnd, 32-byte aligned, in ascending REL id
// order, matching the spec's "rel merge" requirement. The assignment is
// pure data; it does not mutate the ParsedREL's own section-info table.
func MergeRELs(dolImageEnd uint32, parsed []*ParsedREL) []MergedREL {
	ordered := make([]*ParsedREL, len(parsed))
	copy(ordered, parsed)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Header.ID < ordered[j].Header.ID
	})

	out := make([]MergedREL, len(ordered))
	cursor := alignUp32(dolImageEnd, relMergeAlign)
	for i, p := range ordered {
		out[i] = MergedREL{ID: p.Header.ID, BaseAddr: cursor, Parsed: p}
		cursor = alignUp32(cursor+relTotalSize(p), relMergeAlign)
	}
	return out
}

func relTotalSize(p *ParsedREL) uint32 {
	var total uint32
	for _, s := range p.Sections {
		if s.FileOffset == 0 {
			continue // absent section (e.g. this REL's own bss placeholder)
		}
		total += s.Length
	}
	total += p.Header.BSSSize
	return total
}

func alignUp32(v uint32, align uint32) uint32 {
	if r := v % align; r != 0 {
		return v + (align - r)
	}
	return v
}

// BuildRELObject turns one merged REL module into sections placed at their
// assigned addresses, using the REL file's own raw bytes for section
// contents. relData is the raw bytes of the REL file the module was parsed
// from (section file offsets in ParsedREL are relative to it). The second
// result maps REL section-table indices to indices in the returned
// Object's section list, which callers need to resolve the module's
// relocation stream (its patch sites and targets are keyed by REL section
// index).
func BuildRELObject(m MergedREL, relData []byte) (*object.Object, map[int]int) {
	obj := object.New()
	secMap := make(map[int]int, len(m.Parsed.Sections))
	addr := m.BaseAddr
	for i, s := range m.Parsed.Sections {
		if s.FileOffset == 0 && s.Length == 0 {
			continue
		}
		kind := object.SectionData
		if s.Executable {
			kind = object.SectionCode
		}
		if s.Length == 0 {
			kind = object.SectionBSS
		}

		var data []byte
		if kind != object.SectionBSS {
			data = make([]byte, s.Length)
			copy(data, relData[s.FileOffset:s.FileOffset+s.Length])
		}

		secMap[i] = obj.AddSection(object.Section{
			Name:    relSectionName(i, kind),
			Kind:    kind,
			Address: addr,
			Size:    s.Length,
			Align:   4,
			Data:    data,
		})
		addr += alignUp32(s.Length, 4)
	}

	if m.Parsed.Header.BSSSize > 0 {
		obj.AddSection(object.Section{
			Name:    ".bss",
			Kind:    object.SectionBSS,
			Address: addr,
			Size:    m.Parsed.Header.BSSSize,
			Align:   8,
		})
	}

	return obj, secMap
}

func relSectionName(index int, kind object.SectionKind) string {
	if kind == object.SectionCode {
		if index == 0 {
			return ".text"
		}
		return fmt.Sprintf(".text%d", index)
	}
	if index == 0 {
		return ".data"
	}
	return fmt.Sprintf(".data%d", index)
}
