package cfa

import (
	"encoding/binary"
	"testing"

	"github.com/gc-decomp/splitter/internal/diag"
	"github.com/gc-decomp/splitter/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simm16(v int16) int16 {
	return v
}

func word(w uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, w)
	return b
}

func blrWord() uint32 {
	return uint32(19)<<26 | uint32(20)<<21 | uint32(0)<<16 | uint32(16)<<1
}

func blWord(disp int32) uint32 {
	return uint32(18)<<26 | (uint32(disp) & 0x03FFFFFC) | 1
}

func bWord(disp int32, absolute bool) uint32 {
	w := uint32(18)<<26 | (uint32(disp) & 0x03FFFFFC)
	if absolute {
		w |= 0x2
	}
	return w
}

// buildObject assembles a flat .text section out of 4-byte words starting
// at base.
func buildObject(base uint32, words []uint32) *object.Object {
	o := object.New()
	data := make([]byte, 0, len(words)*4)
	for _, w := range words {
		data = append(data, word(w)...)
	}
	o.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: base, Size: uint32(len(data)), Data: data})
	return o
}

func TestScenarioS1TwoFunctionsOneCall(t *testing.T) {
	base := uint32(0x80003100)
	// [0] stwu-like placeholder (nop, prologue not required for this test)
	// [1] bl +0x10 (calls word index 1+4=5 -> offset 0x10 from this instr)
	// [2] nop body
	// [3] blr
	// [4] nop padding
	// [5] callee body
	// [6] blr
	words := []uint32{
		0x60000000,    // 0: nop
		blWord(0x10),  // 1: bl +0x10  -> target = addr(1)+0x10
		0x60000000,    // 2: nop
		blrWord(),     // 3: blr
		0x60000000,    // 4: nop padding between functions
		0x60000000,    // 5: callee body
		blrWord(),     // 6: blr
	}
	obj := buildObject(base, words)
	bag := &diag.Bag{}

	res := Analyze(obj, []uint32{base}, nil, bag)

	require.Len(t, res.Functions, 2)
	assert.Equal(t, base, res.Functions[0].Start)
	calleeAddr := base + 5*4
	assert.True(t, res.CallTargets[calleeAddr])
}

func TestScenarioS6TailCallEndsFunctionAtBranch(t *testing.T) {
	base := uint32(0x80010000 - 0x100)
	tailTarget := uint32(0x80010000)

	o := object.New()
	o.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: base, Size: 0x108, Data: make([]byte, 0x108)})
	// instruction 0: nop
	binary.BigEndian.PutUint32(o.Sections[0].Data[0:4], 0x60000000)
	// instruction 1: b 0x80010000, encoded relative (AA=0): CodeWarrior
	// never emits AA=1 branches to GameCube/Wii RAM addresses since the
	// 24-bit LI field can't represent them as an absolute address.
	bRel := bWord(int32(tailTarget-(base+4)), false)
	binary.BigEndian.PutUint32(o.Sections[0].Data[4:8], bRel)
	// target function's prologue pattern: stwu r1, -16(r1)
	stwu := uint32(37)<<26 | uint32(1)<<21 | uint32(1)<<16 | uint32(uint16(simm16(-16)))
	binary.BigEndian.PutUint32(o.Sections[0].Data[0x100:0x104], stwu)
	binary.BigEndian.PutUint32(o.Sections[0].Data[0x104:0x108], blrWord())

	bag := &diag.Bag{}
	res := Analyze(o, []uint32{base}, nil, bag)

	require.GreaterOrEqual(t, len(res.Functions), 1)
	first := res.Functions[0]
	assert.Equal(t, base+8, first.End, "function must end right after the tail-call branch")
	assert.Equal(t, tailTarget, res.TailCallEdge[base])
}

// A backward branch that lands inside the function's own traced range must
// stay an intra-function jump even when the target's bytes look like a
// prologue (a stwu r1 opening a loop body), since spec.md §4.3 step 3 makes
// "outside the bounding range" a precondition for every tail-call
// sub-heuristic. Getting this wrong truncates the function at the branch.
func TestInRangeBranchToPrologueShapedWordIsNotATailCall(t *testing.T) {
	base := uint32(0x80030000)
	stwu := uint32(37)<<26 | uint32(1)<<21 | uint32(1)<<16 | uint32(uint16(simm16(-16)))
	words := []uint32{
		0x60000000,       // 0: nop
		stwu,             // 1: stwu r1, -16(r1): prologue-shaped, mid-function
		0x60000000,       // 2: nop
		bWord(-8, false), // 3: b back to word 1
	}
	obj := buildObject(base, words)
	bag := &diag.Bag{}

	res := Analyze(obj, []uint32{base}, nil, bag)

	require.Len(t, res.Functions, 1)
	fn := res.Functions[0]
	assert.Equal(t, base, fn.Start)
	assert.Equal(t, base+0x10, fn.End, "the loop body must stay inside the function")
	assert.Empty(t, res.TailCallEdge)
}

func TestTailCallMonotonicity(t *testing.T) {
	// Marking a target as a known function (via an explicit seed) must
	// never shrink the caller's inferred range relative to treating the
	// same branch as an in-range jump would.
	base := uint32(0x80020000)
	target := base + 0x100

	words := make([]uint32, 0x40)
	for i := range words {
		words[i] = 0x60000000
	}
	words[0] = bWord(0x100, false) // b +0x100 relative -> target

	o := object.New()
	data := make([]byte, 0x200)
	for i, w := range words {
		binary.BigEndian.PutUint32(data[i*4:i*4+4], w)
	}
	binary.BigEndian.PutUint32(data[0x100:0x104], blrWord())
	o.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: base, Size: uint32(len(data)), Data: data})

	bag1 := &diag.Bag{}
	res1 := Analyze(o, []uint32{base}, nil, bag1)
	f1 := res1.Functions[0]

	bag2 := &diag.Bag{}
	res2 := Analyze(o, []uint32{base, target}, nil, bag2)
	var f2 *Function
	for i := range res2.Functions {
		if res2.Functions[i].Seed == base {
			f2 = &res2.Functions[i]
		}
	}
	require.NotNil(t, f2)
	assert.GreaterOrEqual(t, f2.End-f2.Start, f1.End-f1.Start)
}
