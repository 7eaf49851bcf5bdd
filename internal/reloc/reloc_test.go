package reloc

import (
	"testing"

	"github.com/gc-decomp/splitter/internal/diag"
	"github.com/gc-decomp/splitter/internal/object"
	"github.com/gc-decomp/splitter/internal/ppc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simm16(v int16) int16 {
	return v
}

// scenario S3: lis r3, 0x8004; addi r3, r3, -0x7F00 at 0x80003000
// expected target 0x80038100 (0x80040000 - 0x7F00 = 0x80038100).
func TestHiLoPairAddiMatchesScenarioS3(t *testing.T) {
	lis := ppc.Decode(uint32(15)<<26 | uint32(3)<<21 | uint32(0)<<16 | 0x8004)
	addi := ppc.Decode(uint32(14)<<26 | uint32(3)<<21 | uint32(3)<<16 | uint32(uint16(simm16(-0x7F00))))

	bag := &diag.Bag{}
	pairs := FindHiLoPairs([]ppc.Instruction{lis, addi}, 0x80003000, bag, "reloc")
	require.Len(t, pairs, 1)
	assert.Equal(t, object.R_PPC_ADDR16_HA, pairs[0].HiKind)
	assert.Equal(t, object.R_PPC_ADDR16_LO, pairs[0].LoKind)
	assert.Equal(t, uint32(0x80038100), pairs[0].Target)
	assert.Equal(t, 0, bag.Len())
}

func TestHiLoPairOriUsesNonSignExtendingCombine(t *testing.T) {
	lis := ppc.Decode(uint32(15)<<26 | uint32(4)<<21 | uint32(0)<<16 | 0x8004)
	ori := ppc.Decode(uint32(24)<<26 | uint32(4)<<21 | uint32(4)<<16 | 0xFF00)

	bag := &diag.Bag{}
	pairs := FindHiLoPairs([]ppc.Instruction{lis, ori}, 0x80003000, bag, "reloc")
	require.Len(t, pairs, 1)
	assert.Equal(t, object.R_PPC_ADDR16_HI, pairs[0].HiKind)
	assert.Equal(t, uint32(0x8004FF00), pairs[0].Target)
}

func TestHiLoPairLoadStoreDisplacement(t *testing.T) {
	lis := ppc.Decode(uint32(15)<<26 | uint32(5)<<21 | uint32(0)<<16 | 0x8004)
	lwz := ppc.Decode(uint32(32)<<26 | uint32(6)<<21 | uint32(5)<<16 | 0x0010)

	bag := &diag.Bag{}
	pairs := FindHiLoPairs([]ppc.Instruction{lis, lwz}, 0x80003000, bag, "reloc")
	require.Len(t, pairs, 1)
	assert.Equal(t, uint32(0x80040010), pairs[0].Target)
}

func TestHiLoPairBrokenByClobberProducesWarning(t *testing.T) {
	lis := ppc.Decode(uint32(15)<<26 | uint32(3)<<21 | uint32(0)<<16 | 0x8004)
	clobber := ppc.Decode(uint32(14)<<26 | uint32(3)<<21 | uint32(0)<<16 | 0x1234) // addi r3, r0, 0x1234 redefines r3

	bag := &diag.Bag{}
	pairs := FindHiLoPairs([]ppc.Instruction{lis, clobber}, 0x80003000, bag, "reloc")
	assert.Empty(t, pairs)
	assert.Equal(t, 1, bag.Len())
}

func TestHiLoPairDoesNotCrossFunctionBoundary(t *testing.T) {
	lis := ppc.Decode(uint32(15)<<26 | uint32(3)<<21 | uint32(0)<<16 | 0x8004)
	bag := &diag.Bag{}
	// Only the lis is passed (simulating end-of-function); no lo half exists
	// within these bounds, so no pair should be formed even if a
	// syntactically matching addi exists at the start of the next function.
	pairs := FindHiLoPairs([]ppc.Instruction{lis}, 0x80003000, bag, "reloc")
	assert.Empty(t, pairs)
	assert.Equal(t, 1, bag.Len())
}

func TestFindSDAReferencesR13AndR2(t *testing.T) {
	// lwz r4, 0x10(r13) -> small data via r13
	lwzR13 := ppc.Decode(uint32(32)<<26 | uint32(4)<<21 | uint32(13)<<16 | 0x0010)
	// stw r5, 0x20(r2) -> small data 2 via r2
	stwR2 := ppc.Decode(uint32(36)<<26 | uint32(5)<<21 | uint32(2)<<16 | 0x0020)

	bases := Bases{SDABase: 0x80100000, SDA2Base: 0x80200000}
	refs := FindSDAReferences([]ppc.Instruction{lwzR13, stwR2}, bases)
	require.Len(t, refs, 2)
	assert.Equal(t, SDAR13, refs[0].Base)
	assert.Equal(t, uint32(0x80100010), refs[0].Target)
	assert.Equal(t, SDAR2, refs[1].Base)
	assert.Equal(t, uint32(0x80200020), refs[1].Target)
}

// FindSDABases must pick up the __init_registers shape: lis/addi into r13
// and lis/ori into r2, while ignoring pairs into other registers and pairs
// whose low half only uses r13 as a load base.
func TestFindSDABasesFromEntryProlog(t *testing.T) {
	instrs := []ppc.Instruction{
		ppc.Decode(uint32(15)<<26 | uint32(13)<<21 | uint32(0)<<16 | 0x8010),                     // lis r13, 0x8010
		ppc.Decode(uint32(14)<<26 | uint32(13)<<21 | uint32(13)<<16 | uint32(uint16(simm16(-8)))), // addi r13, r13, -8
		ppc.Decode(uint32(15)<<26 | uint32(2)<<21 | uint32(0)<<16 | 0x8020),                      // lis r2, 0x8020
		ppc.Decode(uint32(24)<<26 | uint32(2)<<21 | uint32(2)<<16 | 0x0100),                      // ori r2, r2, 0x100
		ppc.Decode(uint32(15)<<26 | uint32(3)<<21 | uint32(0)<<16 | 0x8004),                      // lis r3, 0x8004 (not a base)
		ppc.Decode(uint32(14)<<26 | uint32(3)<<21 | uint32(3)<<16 | 0x0000),                      // addi r3, r3, 0
	}
	bases := FindSDABases(instrs)
	assert.Equal(t, uint32(0x800FFFF8), bases.SDABase)
	assert.Equal(t, uint32(0x80200100), bases.SDA2Base)
}

func TestFindSDABasesIgnoresLoadBaseUse(t *testing.T) {
	instrs := []ppc.Instruction{
		ppc.Decode(uint32(15)<<26 | uint32(13)<<21 | uint32(0)<<16 | 0x8010), // lis r13, 0x8010
		ppc.Decode(uint32(32)<<26 | uint32(4)<<21 | uint32(13)<<16 | 0x0010), // lwz r4, 0x10(r13): consumes, does not establish
	}
	bases := FindSDABases(instrs)
	assert.Zero(t, bases.SDABase)
	assert.Zero(t, bases.SDA2Base)
}
