package objwriter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gc-decomp/splitter/internal/object"
)

func TestRenderAssemblyLabelsAndResolvesCallTarget(t *testing.T) {
	o := object.New()
	// blr at offset 0, then a b at offset 4 back to offset 0 (branch operand
	// resolves by name).
	data := []byte{
		0x4e, 0x80, 0x00, 0x20, // blr
		0x4b, 0xff, 0xff, 0xfc, // b -0x4 (branches back to fn_80003100)
	}
	secIdx := o.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: 0x80003100, Size: uint32(len(data)), Data: data})
	require.NoError(t, o.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: secIdx, Offset: 0}, Name: "fn_80003100", Kind: object.SymFunction}))
	require.NoError(t, o.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: secIdx, Offset: 4}, Name: "fn_80003104", Kind: object.SymFunction}))

	out := RenderAssembly(o)
	assert.Contains(t, out, "fn_80003100:")
	assert.Contains(t, out, "fn_80003104:")
	assert.Contains(t, out, "80003100: bclr")
	assert.Contains(t, out, "80003104: b      fn_80003100")
}
