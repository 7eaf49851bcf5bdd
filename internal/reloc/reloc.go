// Package reloc reconstructs the symbolic relocations the CodeWarrior
// linker originally consumed, from the decoded instruction stream alone.
//
// The hi/lo pairing logic here generalizes the same bit-level shape the
// teacher repo's pkg/hw/cpu/llvm/fixup.go already implements for its own
// toy architecture: EncodeFixupValue/DecodeFixupValue pack/unpack a 16-bit
// immediate, and CombineLoHiImmediate/SplitToLoHiImmediate combine a pair
// of halves into one 32-bit address. PowerPC's lis+addi/ori pairing is the
// same operation with ADDR16_HA's extra "round toward the sign of the low
// half" wrinkle folded in.
package reloc

import (
	"github.com/gc-decomp/splitter/internal/diag"
	"github.com/gc-decomp/splitter/internal/object"
	"github.com/gc-decomp/splitter/internal/ppc"
)

// SDABase identifies which small-data-area base register (r2 or r13) an
// SDA-relative load/store used.
type SDABase int

const (
	SDANone SDABase = iota
	SDAR13          // r13, .sdata/.sbss
	SDAR2           // r2, .sdata2/.sbss2
)

// Bases carries the two small-data-area base addresses, normally recovered
// from a function's prologue (spec.md §4.4 SDA rule) or supplied by user
// configuration when no prologue establishes them (e.g. a REL's own code
// never re-derives r2/r13, it inherits them from the DOL).
type Bases struct {
	SDABase  uint32 // r13
	SDA2Base uint32 // r2
}

// combineHiLo reproduces the PowerPC hi/lo addressing rule: the full
// 32-bit address is (hiImm << 16) + sign_extend(loImm) for ADDR16_HA/ADDR16_LO
// pairs (addi, or a load/store displacement) and (hiImm << 16) | loImm for
// an ADDR16_HI/ADDR16_LO (ori) pair. This mirrors
// llvm.CombineLoHiImmediate's (hiImm<<16)|loImm shape, generalized with the
// sign-extending variant PowerPC's addi/displacement forms require.
func combineHiLo(hiImm int32, loImm int32, signExtending bool) uint32 {
	if signExtending {
		return uint32(hiImm<<16) + uint32(loImm)
	}
	return uint32(hiImm<<16) | uint32(uint16(loImm))
}

// HiLoPair is one reconstructed (ADDR16_HA|ADDR16_HI, ADDR16_LO) pair.
type HiLoPair struct {
	HiInstrIndex int
	LoInstrIndex int
	HiKind       object.RelocKind
	LoKind       object.RelocKind
	Target       uint32
}

// FindHiLoPairs scans a straight-line sequence of decoded instructions
// belonging to a single function (pairs never cross function boundaries,
// spec.md §4.4) and pairs each "lis rX" with the first later instruction
// along a path that preserves rX: addi/ori on rX, or a load/store using rX
// as its base register.
//
// funcInstrs must be the full decoded instruction list for one function,
// in address order; funcAddr is the address of funcInstrs[0].
func FindHiLoPairs(funcInstrs []ppc.Instruction, funcAddr uint32, bag *diag.Bag, stage string) []HiLoPair {
	var pairs []HiLoPair

	for i, inst := range funcInstrs {
		if inst.Mnemonic != ppc.MnAddis {
			continue
		}
		reg := inst.RD
		// addis with rA != 0 is "add to a register", not a hi-immediate
		// load; only rA==0 forms (the conventional "lis") establish a
		// fresh upper half worth pairing.
		if inst.RA != 0 {
			continue
		}

		pair, found := findLoForRegister(funcInstrs, i, reg)
		if !found {
			bag.Addf(stage, funcAddr+uint32(i*4), 0, "lis into r%d has no matching lo half within function bounds", reg)
			continue
		}
		pairs = append(pairs, pair)
	}

	return pairs
}

// findLoForRegister walks forward from just after a "lis rX" looking for
// the first instruction that consumes rX as the low half of a hi/lo pair,
// without an intervening redefinition of rX (local data-flow only, per
// spec.md §4.4).
func findLoForRegister(instrs []ppc.Instruction, hiIdx int, reg int) (HiLoPair, bool) {
	for j := hiIdx + 1; j < len(instrs); j++ {
		lo := instrs[j]

		switch lo.Mnemonic {
		case ppc.MnAddi:
			if lo.RA == reg {
				hi := instrs[hiIdx]
				target := combineHiLo(hi.Immediate, lo.Immediate, true)
				return HiLoPair{HiInstrIndex: hiIdx, LoInstrIndex: j, HiKind: object.R_PPC_ADDR16_HA, LoKind: object.R_PPC_ADDR16_LO, Target: target}, true
			}
		case ppc.MnOri:
			if lo.RA == reg {
				hi := instrs[hiIdx]
				target := combineHiLo(hi.Immediate, lo.Immediate, false)
				return HiLoPair{HiInstrIndex: hiIdx, LoInstrIndex: j, HiKind: object.R_PPC_ADDR16_HI, LoKind: object.R_PPC_ADDR16_LO, Target: target}, true
			}
		case ppc.MnLwz, ppc.MnLbz, ppc.MnLhz, ppc.MnLwzu, ppc.MnStw, ppc.MnStwu, ppc.MnSth, ppc.MnStb,
			ppc.MnLfs, ppc.MnLfd, ppc.MnStfs, ppc.MnStfd:
			if lo.RA == reg {
				hi := instrs[hiIdx]
				target := combineHiLo(hi.Immediate, lo.Immediate, true)
				return HiLoPair{HiInstrIndex: hiIdx, LoInstrIndex: j, HiKind: object.R_PPC_ADDR16_HA, LoKind: object.R_PPC_ADDR16_LO, Target: target}, true
			}
		}

		// rX clobbered by something else before a lo half consumed it:
		// stop looking, this lis has no pair.
		if definesRegister(lo, reg) {
			return HiLoPair{}, false
		}
	}
	return HiLoPair{}, false
}

// definesRegister reports whether inst writes a new value into reg,
// breaking the data-flow chain from a preceding "lis reg".
func definesRegister(inst ppc.Instruction, reg int) bool {
	switch inst.Mnemonic {
	case ppc.MnAddis, ppc.MnAddi, ppc.MnOri, ppc.MnLwz, ppc.MnLbz, ppc.MnLhz, ppc.MnLwzu, ppc.MnMflr:
		return inst.RD == reg
	}
	return false
}

// FindSDABases recovers the two small-data-area base addresses from the
// entry point's register-initialization sequence (spec.md §4.4: "the bases
// are identified from the entry's prolog"). CodeWarrior's __init_registers
// establishes them as lis/addi (or lis/ori) pairs into r13 and r2; any
// other register's hi/lo pair is ignored, as is a pair whose low half
// merely uses r13/r2 as a load base without redefining it.
//
// entryInstrs must be the decoded instruction list of the function
// containing the entry point. A base that the prolog never establishes is
// left zero; callers may overlay user-supplied _SDA_BASE_/_SDA2_BASE_
// symbols on top.
func FindSDABases(entryInstrs []ppc.Instruction) Bases {
	var b Bases
	for i, inst := range entryInstrs {
		if inst.Mnemonic != ppc.MnAddis || inst.RA != 0 {
			continue
		}
		reg := inst.RD
		if reg != 2 && reg != 13 {
			continue
		}
		pair, found := findLoForRegister(entryInstrs, i, reg)
		if !found {
			continue
		}
		lo := entryInstrs[pair.LoInstrIndex]
		if (lo.Mnemonic != ppc.MnAddi && lo.Mnemonic != ppc.MnOri) || lo.RD != reg {
			continue
		}
		switch reg {
		case 13:
			b.SDABase = pair.Target
		case 2:
			b.SDA2Base = pair.Target
		}
	}
	return b
}

// SDAReloc is a reconstructed small-data-area relocation.
type SDAReloc struct {
	InstrIndex int
	Base       SDABase
	Target     uint32
}

// FindSDAReferences scans a function's instructions for loads/stores whose
// base register is r2 or r13, producing one SDAReloc per match (spec.md
// §4.4 SDA rule). Instructions whose base is neither r2 nor r13 are
// ignored; this function does not attempt to disambiguate a load that
// happens to use r2/r13 for an unrelated reason (e.g. a spilled copy),
// since the Relocation Reconstructor runs before such aliasing analysis
// would be possible without disassembling the whole program twice.
func FindSDAReferences(funcInstrs []ppc.Instruction, bases Bases) []SDAReloc {
	const r2 = 2
	const r13 = 13

	var out []SDAReloc
	for i, inst := range funcInstrs {
		var base SDABase
		var baseAddr uint32
		switch inst.RA {
		case r13:
			base, baseAddr = SDAR13, bases.SDABase
		case r2:
			base, baseAddr = SDAR2, bases.SDA2Base
		default:
			continue
		}

		switch inst.Mnemonic {
		case ppc.MnLwz, ppc.MnLbz, ppc.MnLhz, ppc.MnLwzu, ppc.MnStw, ppc.MnStwu, ppc.MnSth, ppc.MnStb,
			ppc.MnLfs, ppc.MnLfd, ppc.MnStfs, ppc.MnStfd:
			out = append(out, SDAReloc{InstrIndex: i, Base: base, Target: baseAddr + uint32(inst.Immediate)})
		}
	}
	return out
}
