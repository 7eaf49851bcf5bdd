package split

import (
	"testing"

	"github.com/gc-decomp/splitter/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario S4: two TUs claim overlapping addresses -> fatal before any
// output is written.
func TestScenarioS4ConflictingTUsAreFatal(t *testing.T) {
	tus := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1100}}},
		{Name: "b.o", Ranges: map[int]Range{0: {Start: 0x10F0, End: 0x1200}}},
	}
	err := CheckConflicts(tus)
	assert.ErrorIs(t, err, ErrConflictingTU)

	src := object.New()
	src.AddSection(object.Section{Name: ".text", Address: 0x1000, Size: 0x200, Data: make([]byte, 0x200)})
	_, err = Split(src, tus, nil)
	assert.ErrorIs(t, err, ErrConflictingTU)
}

func TestSplitProducesDisjointChildrenAndExportsReferencedSymbols(t *testing.T) {
	src := object.New()
	idx := src.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: 0x1000, Size: 0x20, Data: make([]byte, 0x20)})
	require.NoError(t, src.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: idx, Offset: 0}, Name: "a", Binding: object.BindLocal, Kind: object.SymFunction}))
	require.NoError(t, src.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: idx, Offset: 0x10}, Name: "b", Binding: object.BindLocal, Kind: object.SymFunction}))

	tus := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1010}}},
		{Name: "b.o", Ranges: map[int]Range{0: {Start: 0x1010, End: 0x1020}}},
	}

	referencedExternally := func(ref object.SymbolRef) bool {
		sym, _ := src.Symbol(ref)
		return sym.Name == "a" // pretend b.o calls a
	}

	children, err := Split(src, tus, referencedExternally)
	require.NoError(t, err)
	require.Len(t, children, 2)

	aSym, ok := children[0].Object.SymbolByName("a")
	require.True(t, ok)
	assert.Equal(t, object.BindGlobal, aSym.Binding)

	bSym, ok := children[1].Object.SymbolByName("b")
	require.True(t, ok)
	assert.Equal(t, object.BindLocal, bSym.Binding)
}

// A relocation whose target lands in a sibling TU must be rewritten into
// an undefined import, and an in-TU target into child coordinates, so each
// child object stands alone at link time.
func TestSplitRemapsRelocationTargetsAcrossTUs(t *testing.T) {
	src := object.New()
	idx := src.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: 0x1000, Size: 0x20, Data: make([]byte, 0x20)})
	refA := object.SymbolRef{Section: idx, Offset: 0}
	refB := object.SymbolRef{Section: idx, Offset: 0x10}
	require.NoError(t, src.AddSymbol(object.Symbol{Ref: refA, Name: "a", Binding: object.BindGlobal, Kind: object.SymFunction}))
	require.NoError(t, src.AddSymbol(object.Symbol{Ref: refB, Name: "b", Binding: object.BindGlobal, Kind: object.SymFunction}))
	// a calls b (cross-TU), and b branches to itself (in-TU).
	src.AddRelocation(idx, object.Relocation{Offset: 0x4, Kind: object.R_PPC_REL24, Target: refB})
	src.AddRelocation(idx, object.Relocation{Offset: 0x14, Kind: object.R_PPC_REL24, Target: refB})

	tus := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1010}}},
		{Name: "b.o", Ranges: map[int]Range{0: {Start: 0x1010, End: 0x1020}}},
	}
	children, err := Split(src, tus, nil)
	require.NoError(t, err)

	aRelocs := children[0].Object.Relocations[0]
	require.Len(t, aRelocs, 1)
	assert.Equal(t, object.UndefSection, aRelocs[0].Target.Section)
	imp, ok := children[0].Object.Symbol(aRelocs[0].Target)
	require.True(t, ok, "cross-TU target must become an undefined import symbol")
	assert.Equal(t, "b", imp.Name)
	assert.Equal(t, object.BindGlobal, imp.Binding)

	bRelocs := children[1].Object.Relocations[0]
	require.Len(t, bRelocs, 1)
	assert.Equal(t, object.SymbolRef{Section: 0, Offset: 0}, bRelocs[0].Target, "in-TU target must be rewritten to child coordinates")
}

func TestCheckCoverageReportsGaps(t *testing.T) {
	src := object.New()
	src.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: 0x1000, Size: 0x30, Data: make([]byte, 0x30)})

	full := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1020}}},
		{Name: "b.o", Ranges: map[int]Range{0: {Start: 0x1020, End: 0x1030}}},
	}
	assert.NoError(t, CheckCoverage(src, full))

	gapped := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1010}}},
		{Name: "b.o", Ranges: map[int]Range{0: {Start: 0x1020, End: 0x1030}}},
	}
	assert.ErrorIs(t, CheckCoverage(src, gapped), ErrUnassignedAddress)
}

// A TU that claims both a forced boundary and another function is rejected
// before any output is written (spec.md §4.5: a signature-forced symbol
// must be its translation unit's sole occupant).
func TestCheckForcedBoundariesRejectsSharedTU(t *testing.T) {
	tus := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1100}}},
	}
	err := CheckForcedBoundaries(tus, []uint32{0x1000}, []uint32{0x1000, 0x1080})
	assert.ErrorIs(t, err, ErrForcedBoundaryViolated)
}

func TestCheckForcedBoundariesAllowsSoleOccupant(t *testing.T) {
	tus := []TU{
		{Name: "a.o", Ranges: map[int]Range{0: {Start: 0x1000, End: 0x1040}}},
		{Name: "b.o", Ranges: map[int]Range{0: {Start: 0x1040, End: 0x1100}}},
	}
	err := CheckForcedBoundaries(tus, []uint32{0x1000}, []uint32{0x1000, 0x1080})
	assert.NoError(t, err)
}

func TestCoSplitSupportTablesPreservesOrder(t *testing.T) {
	entries := []SupportEntry{
		{TableName: ".ctors", Function: 0x100},
		{TableName: ".ctors", Function: 0x200},
		{TableName: ".ctors", Function: 0x100},
	}
	owner := func(fn uint32) (string, bool) {
		switch fn {
		case 0x100:
			return "a.o", true
		case 0x200:
			return "b.o", true
		}
		return "", false
	}

	grouped := CoSplitSupportTables(entries, owner)
	require.Len(t, grouped["a.o"], 2)
	assert.Equal(t, uint32(0x100), grouped["a.o"][0].Function)
	assert.Equal(t, uint32(0x100), grouped["a.o"][1].Function)
	require.Len(t, grouped["b.o"], 1)
}
