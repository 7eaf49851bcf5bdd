package linkorder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoSortRespectsEdgesAndAddressTieBreak(t *testing.T) {
	nodes := []Node{
		{Name: "c.o", LowestAddr: 0x3000},
		{Name: "a.o", LowestAddr: 0x1000},
		{Name: "b.o", LowestAddr: 0x2000},
	}
	edges := []Edge{{From: "c.o", To: "a.o"}} // c's support table references a function in a.o

	order, err := TopoSort(nodes, edges)
	require.NoError(t, err)
	// c.o must precede a.o despite its higher address.
	assert.Less(t, indexOf(order, "c.o"), indexOf(order, "a.o"))
	// The ready set starts as {b.o, c.o} (a.o waits on c.o); lowest address
	// first picks b.o (0x2000), then c.o, and only then a.o.
	assert.Equal(t, 3, len(order))
	assert.Equal(t, []string{"b.o", "c.o", "a.o"}, order)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	nodes := []Node{{Name: "a.o"}, {Name: "b.o"}}
	edges := []Edge{{From: "a.o", To: "b.o"}, {From: "b.o", To: "a.o"}}
	_, err := TopoSort(nodes, edges)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestEmitScriptIncludesOrderedObjects(t *testing.T) {
	script := Script{
		Regions: []MemoryRegion{{Name: "MEM1", Origin: 0x80000000, Length: 0x1800000, Attributes: "rwx"}},
		Sections: []SectionPlacement{
			{Name: ".text", Address: 0x80003100, Align: 4, Objects: []string{"a.o", "b.o"}},
		},
	}
	out := EmitScript(script)
	assert.True(t, strings.Contains(out, "MEMORY"))
	assert.True(t, strings.Contains(out, "a.o"))
	assert.True(t, strings.Index(out, "a.o") < strings.Index(out, "b.o"))
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}
