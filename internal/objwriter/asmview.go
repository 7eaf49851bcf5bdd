package objwriter

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/gc-decomp/splitter/internal/object"
	"github.com/gc-decomp/splitter/internal/ppc"
)

// RenderAssembly produces a deterministic, address-annotated disassembly
// listing of every code section in obj, symbol references resolved by
// name where one exists at the target address. It exists purely to let a
// reviewer diff a split child object against the original image by eye;
// nothing else in the pipeline consumes its output.
func RenderAssembly(obj *object.Object) string {
	var b strings.Builder
	for idx, sec := range obj.Sections {
		if sec.Kind != object.SectionCode || sec.IsBSS() {
			continue
		}
		fmt.Fprintf(&b, "; %s 0x%08x +0x%x\n", sec.Name, sec.Address, sec.Size)
		renderSection(&b, obj, idx, sec)
		b.WriteByte('\n')
	}
	return b.String()
}

func renderSection(b *strings.Builder, obj *object.Object, secIdx int, sec object.Section) {
	for off := uint32(0); off+4 <= uint32(len(sec.Data)); off += 4 {
		addr := sec.Address + off
		word := binary.BigEndian.Uint32(sec.Data[off:])
		inst := ppc.Decode(word)

		if sym, ok := obj.Symbol(object.SymbolRef{Section: secIdx, Offset: off}); ok {
			fmt.Fprintf(b, "%s:\n", sym.Name)
		}

		fmt.Fprintf(b, "  %08x: %-6s %s\n", addr, inst.Mnemonic, operandString(obj, secIdx, addr, inst))
	}
}

func operandString(obj *object.Object, secIdx int, addr uint32, inst ppc.Instruction) string {
	switch {
	case inst.IsUnconditionalBranch || inst.IsCall:
		target := inst.AbsoluteBranchTarget(addr)
		return branchOperand(obj, target)
	case inst.IsConditionalBranch && !inst.IsBranchToLinkRegister:
		target := inst.AbsoluteBranchTarget(addr)
		return fmt.Sprintf("%d, %d, %s", inst.BO, inst.BI, branchOperand(obj, target))
	case inst.IsBranchToLinkRegister || inst.IsReturnLike:
		return ""
	default:
		return fmt.Sprintf("r%d, r%d, 0x%x", inst.RD, inst.RA, uint16(inst.Immediate))
	}
}

func branchOperand(obj *object.Object, target uint32) string {
	if ref, ok := obj.Resolve(target); ok {
		if sym, ok := obj.Symbol(ref); ok {
			return sym.Name
		}
	}
	return fmt.Sprintf("0x%08x", target)
}
