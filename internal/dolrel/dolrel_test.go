package dolrel

import (
	"encoding/binary"
	"testing"

	"github.com/gc-decomp/splitter/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMinimalDOL(textAddr uint32, textSize uint32, entry uint32) []byte {
	buf := make([]byte, dolHeaderSize+int(textSize))
	be := binary.BigEndian
	be.PutUint32(buf[dolTextOffsOff:], dolHeaderSize)
	be.PutUint32(buf[dolTextAddrOff:], textAddr)
	be.PutUint32(buf[dolTextSizeOff:], textSize)
	be.PutUint32(buf[dolEntryOff:], entry)
	return buf
}

func TestParseDOLSingleTextSection(t *testing.T) {
	raw := buildMinimalDOL(0x80003100, 0x40, 0x80003100)
	obj, err := ParseDOL(raw)
	require.NoError(t, err)
	require.Len(t, obj.Sections, 1)
	assert.Equal(t, ".text", obj.Sections[0].Name)
	assert.Equal(t, uint32(0x80003100), obj.Sections[0].Address)
	assert.Equal(t, uint32(0x80003100), obj.EntryPoint)
}

func TestParseDOLRejectsTruncatedFile(t *testing.T) {
	_, err := ParseDOL(make([]byte, 0x50))
	assert.ErrorIs(t, err, ErrTruncatedDOL)
}

func TestParseDOLRejectsOverlappingSections(t *testing.T) {
	raw := buildMinimalDOL(0x80003000, 0x100, 0x80003000)
	be := binary.BigEndian
	// Add a second text section overlapping the first.
	be.PutUint32(raw[dolTextOffsOff+4:], dolHeaderSize)
	be.PutUint32(raw[dolTextAddrOff+4:], 0x80003080)
	be.PutUint32(raw[dolTextSizeOff+4:], 0x40)

	_, err := ParseDOL(raw)
	assert.ErrorIs(t, err, ErrOverlappingDOLSection)
}

func TestParseDOLRejectsFileShorterThanDeclaredSection(t *testing.T) {
	raw := buildMinimalDOL(0x80003100, 0x40, 0x80003100)
	raw = raw[:len(raw)-0x10] // truncate past the section's declared end
	_, err := ParseDOL(raw)
	assert.ErrorIs(t, err, ErrTruncatedDOL)
}

func buildMinimalREL(id uint32, numSections int) []byte {
	const sectionInfoOff = relHeaderMinSize + 8
	sectionsBytes := numSections * 8
	impOff := uint32(sectionInfoOff + sectionsBytes)

	buf := make([]byte, int(impOff))
	be := binary.BigEndian
	be.PutUint32(buf[0x00:], id)
	be.PutUint32(buf[0x0C:], uint32(numSections))
	be.PutUint32(buf[0x10:], sectionInfoOff)
	be.PutUint32(buf[0x28:], impOff)
	be.PutUint32(buf[0x2C:], 0)

	// One section: executable, offset past the header+table, length 0x20.
	secOff := uint32(len(buf))
	buf = append(buf, make([]byte, 0x20)...)
	be.PutUint32(buf[sectionInfoOff:], secOff|1)
	be.PutUint32(buf[sectionInfoOff+4:], 0x20)

	return buf
}

func TestParseRELHeaderAndSections(t *testing.T) {
	raw := buildMinimalREL(3, 1)
	parsed, err := ParseREL(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), parsed.Header.ID)
	require.Len(t, parsed.Sections, 1)
	assert.True(t, parsed.Sections[0].Executable)
	assert.Equal(t, uint32(0x20), parsed.Sections[0].Length)
}

// buildRELWithRelocStream assembles a two-section REL whose relocation
// stream patches a REL24 at offset 8 of its executable section against an
// absolute address in the main module (scenario S5's shape).
func buildRELWithRelocStream(id uint32, dolTarget uint32) []byte {
	const (
		sectionInfoOff = uint32(0x48)
		impOff         = sectionInfoOff + 2*8
		relocOff       = impOff + 8
		sec0Off        = relocOff + 3*8
		sec0Len        = uint32(0x20)
		sec1Off        = sec0Off + sec0Len
		sec1Len        = uint32(0x10)
	)
	buf := make([]byte, sec1Off+sec1Len)
	be := binary.BigEndian
	be.PutUint32(buf[0x00:], id)
	be.PutUint32(buf[0x0C:], 2)
	be.PutUint32(buf[0x10:], sectionInfoOff)
	be.PutUint32(buf[0x24:], relocOff)
	be.PutUint32(buf[0x28:], impOff)
	be.PutUint32(buf[0x2C:], 8)

	be.PutUint32(buf[sectionInfoOff:], sec0Off|1)
	be.PutUint32(buf[sectionInfoOff+4:], sec0Len)
	be.PutUint32(buf[sectionInfoOff+8:], sec1Off)
	be.PutUint32(buf[sectionInfoOff+12:], sec1Len)

	be.PutUint32(buf[impOff:], 0) // references the main module
	be.PutUint32(buf[impOff+4:], relocOff)

	// R_DOLPHIN_SECTION -> section 0, then REL24 at offset 8, then end.
	buf[relocOff+2] = relTypeDolphinSec
	buf[relocOff+3] = 0
	be.PutUint16(buf[relocOff+8:], 8)
	buf[relocOff+10] = relTypeRel24
	buf[relocOff+11] = 0
	be.PutUint32(buf[relocOff+12:], dolTarget)
	buf[relocOff+18] = relTypeDolphinEnd

	return buf
}

func TestParseRELRelocationStream(t *testing.T) {
	raw := buildRELWithRelocStream(2, 0x80003100)
	parsed, err := ParseREL(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Relocations, 1)
	r := parsed.Relocations[0]
	assert.Equal(t, 0, r.PatchSection)
	assert.Equal(t, uint32(8), r.PatchOffset)
	assert.Equal(t, object.R_PPC_REL24, r.Kind)
	assert.Equal(t, uint32(0), r.TargetModule)
	assert.Equal(t, uint32(0x80003100), r.Addend)
}

func TestMergeRELsAssignsAlignedAddressesInIDOrder(t *testing.T) {
	relB := &ParsedREL{Header: RELHeader{ID: 2, BSSSize: 0x10}, Sections: []RELSectionInfo{{FileOffset: 0x40, Length: 0x30}}}
	relA := &ParsedREL{Header: RELHeader{ID: 1, BSSSize: 0}, Sections: []RELSectionInfo{{FileOffset: 0x40, Length: 0x14}}}

	merged := MergeRELs(0x80010000, []*ParsedREL{relB, relA})
	require.Len(t, merged, 2)
	assert.Equal(t, uint32(1), merged[0].ID)
	assert.Equal(t, uint32(2), merged[1].ID)
	assert.Equal(t, uint32(0), merged[0].BaseAddr%relMergeAlign)
	assert.Equal(t, uint32(0), merged[1].BaseAddr%relMergeAlign)
	assert.True(t, merged[1].BaseAddr > merged[0].BaseAddr)
}

func TestMergeRELsDeterministicAddresses(t *testing.T) {
	rels := []*ParsedREL{
		{Header: RELHeader{ID: 5}, Sections: []RELSectionInfo{{FileOffset: 0x40, Length: 0x13}}},
		{Header: RELHeader{ID: 1}, Sections: []RELSectionInfo{{FileOffset: 0x40, Length: 0x7}}},
		{Header: RELHeader{ID: 3}, Sections: []RELSectionInfo{{FileOffset: 0x40, Length: 0x9}}},
	}
	first := MergeRELs(0x80010000, rels)
	second := MergeRELs(0x80010000, rels)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].BaseAddr, second[i].BaseAddr)
	}
}
