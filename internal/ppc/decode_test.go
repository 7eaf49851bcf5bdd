package ppc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func simm16(v int16) int16 {
	return v
}

func TestDecodeBranchAndLink(t *testing.T) {
	// bl +0x10 : opcode 18, LI=0x10, AA=0, LK=1
	word := uint32(18)<<26 | 0x10 | 1
	inst := Decode(word)
	assert.Equal(t, MnBL, inst.Mnemonic)
	assert.True(t, inst.IsCall)
	assert.Equal(t, int32(0x10), inst.BranchTarget)
	assert.False(t, inst.Absolute)
}

func TestDecodeUnconditionalBranchAbsolute(t *testing.T) {
	// ba 0x10000 : opcode 18, LI=0x10000, AA=1, LK=0
	word := uint32(18)<<26 | 0x00010000 | 0x2
	inst := Decode(word)
	assert.Equal(t, MnB, inst.Mnemonic)
	assert.True(t, inst.IsUnconditionalBranch)
	assert.True(t, inst.Absolute)
	assert.Equal(t, uint32(0x00010000), inst.AbsoluteBranchTarget(0))
}

func TestDecodeBLR(t *testing.T) {
	// bclr with BO=20 (10100), BI=0, LK=0 -> blr
	word := uint32(19)<<26 | uint32(20)<<21 | uint32(0)<<16 | uint32(16)<<1
	inst := Decode(word)
	assert.Equal(t, MnBCLR, inst.Mnemonic)
	assert.True(t, inst.IsReturnLike)
	assert.True(t, inst.IsBranchToLinkRegister)
}

func TestDecodeLisAddi(t *testing.T) {
	// lis r3, 0x8004 == addis r3, r0, 0x8004
	lis := uint32(15)<<26 | uint32(3)<<21 | uint32(0)<<16 | 0x8004
	inst := Decode(lis)
	assert.Equal(t, MnAddis, inst.Mnemonic)
	assert.Equal(t, 3, inst.RD)
	assert.Equal(t, 0, inst.RA)
	assert.Equal(t, int32(-0x7FFC), inst.Immediate) // 0x8004 sign-extended

	// addi r3, r3, -0x7F00
	addi := uint32(14)<<26 | uint32(3)<<21 | uint32(3)<<16 | uint32(uint16(simm16(-0x7F00)))
	inst2 := Decode(addi)
	assert.Equal(t, MnAddi, inst2.Mnemonic)
	assert.Equal(t, int32(-0x7F00), inst2.Immediate)
}

func TestDecodePurity(t *testing.T) {
	words := []uint32{0, 0x60000000, 0x48000011, 0x7C0802A6}
	for _, w := range words {
		a := Decode(w)
		b := Decode(w)
		assert.Equal(t, a, b)
	}
}

func TestIsPadding(t *testing.T) {
	assert.True(t, IsPadding(0))
	assert.True(t, IsPadding(0x60000000))
	assert.False(t, IsPadding(0x48000011))
}
