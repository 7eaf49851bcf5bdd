package objwriter

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/gc-decomp/splitter/internal/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleObject() *object.Object {
	obj := object.New()
	text := obj.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: 0x80001000, Size: 0x10, Align: 4, Data: make([]byte, 0x10)})
	bss := obj.AddSection(object.Section{Name: ".bss", Kind: object.SectionBSS, Address: 0x80004000, Size: 0x20, Align: 8})

	_ = obj.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: text, Offset: 0}, Name: "func_80001000", Kind: object.SymFunction, Binding: object.BindGlobal, Size: 0x10})
	_ = obj.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: bss, Offset: 0}, Name: "g_counter", Kind: object.SymObject, Binding: object.BindLocal, Size: 4})

	obj.AddRelocation(text, object.Relocation{Offset: 4, Kind: object.R_PPC_ADDR32, Target: object.SymbolRef{Section: bss, Offset: 0}})

	obj.Freeze()
	return obj
}

func TestWriteProducesValidELFHeader(t *testing.T) {
	obj := buildSimpleObject()
	out, err := Write(obj)
	require.NoError(t, err)

	require.True(t, len(out) >= ehsize)
	assert.Equal(t, []byte{0x7F, 'E', 'L', 'F'}, out[:4])
	assert.Equal(t, uint8(elfClass32), out[4])
	assert.Equal(t, uint8(elfDataBE), out[5])

	be := binary.BigEndian
	assert.Equal(t, etRel, be.Uint16(out[16:18]))
	assert.Equal(t, emPPC, be.Uint16(out[18:20]))
}

func TestWriteIsDeterministicAcrossRuns(t *testing.T) {
	obj := buildSimpleObject()
	out1, err := Write(obj)
	require.NoError(t, err)
	out2, err := Write(obj)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(out1, out2))
}

func TestWriteOrdersLocalsBeforeGlobalsInSymtab(t *testing.T) {
	obj := buildSimpleObject()
	order := sortedSymbols(obj)
	require.Len(t, order, 2)
	first, _ := obj.Symbol(order[0])
	assert.Equal(t, object.BindLocal, first.Binding)
}

func TestWriteRejectsUnencodableRelocationKind(t *testing.T) {
	obj := object.New()
	idx := obj.AddSection(object.Section{Name: ".text", Kind: object.SectionCode, Address: 0x80001000, Size: 4, Data: make([]byte, 4)})
	_ = obj.AddSymbol(object.Symbol{Ref: object.SymbolRef{Section: idx, Offset: 0}, Name: "f", Kind: object.SymFunction, Binding: object.BindGlobal})
	obj.AddRelocation(idx, object.Relocation{Offset: 0, Kind: object.R_DOLPHIN_NOP, Target: object.SymbolRef{Section: idx, Offset: 0}})
	obj.Freeze()

	_, err := Write(obj)
	assert.Error(t, err)
}
