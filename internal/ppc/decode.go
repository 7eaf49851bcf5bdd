package ppc

// Instruction is the decoded form of one 4-byte PowerPC instruction word,
// exposing exactly the fields the rest of the pipeline needs: mnemonic
// class, operand register fields, a sign-extended immediate, a branch
// target, and the predicate flags spec.md §4.2 names.
type Instruction struct {
	Raw      uint32
	Mnemonic Mnemonic

	// RD/RA are register fields; meaning depends on Mnemonic (RD holds rS
	// for stores). -1 when not applicable to this instruction's form.
	RD, RA int

	// Immediate is the sign-extended (or zero-extended for ori/oris)
	// 16-bit immediate/displacement field, where applicable.
	Immediate int32

	// BranchTarget is the absolute target address for a branch whose AA
	// bit is set, or the PC-relative displacement otherwise; callers
	// combine it with the instruction's own address via
	// AbsoluteBranchTarget.
	BranchTarget int32
	Absolute     bool
	Link         bool // LK bit: this is a call-like branch (bl/bcl)

	// BO, BI are the condition fields of B-form/XL-form branches.
	BO, BI int

	IsCall                  bool
	IsUnconditionalBranch   bool
	IsConditionalBranch     bool
	IsBranchToLinkRegister  bool
	IsReturnLike            bool
}

// signExtend16 sign-extends the low 16 bits of v.
func signExtend16(v uint32) int32 {
	return int32(int16(uint16(v)))
}

// Decode decodes a single 4-byte big-endian PowerPC instruction word.
// Decode is pure: identical bytes always yield an identical Instruction,
// independent of address or any surrounding context (spec.md §4.2,
// Testable Property 2).
func Decode(word uint32) Instruction {
	inst := Instruction{Raw: word, RD: -1, RA: -1}
	primary := (word >> 26) & 0x3F

	switch primary {
	case opB:
		li := word & 0x03FFFFFC
		// Sign-extend the 24-bit LI field (bits 6-29), already masked
		// and left-shifted into place by the &0x03FFFFFC above.
		if li&0x02000000 != 0 {
			li |= 0xFC000000
		}
		inst.BranchTarget = int32(li)
		inst.Absolute = word&0x2 != 0
		inst.Link = word&0x1 != 0
		if inst.Link {
			inst.Mnemonic = MnBL
			inst.IsCall = true
		} else {
			inst.Mnemonic = MnB
			inst.IsUnconditionalBranch = true
		}

	case opBC:
		inst.BO = int((word >> 21) & 0x1F)
		inst.BI = int((word >> 16) & 0x1F)
		bd := word & 0xFFFC
		if bd&0x8000 != 0 {
			bd |= 0xFFFF0000
		}
		inst.BranchTarget = int32(bd)
		inst.Absolute = word&0x2 != 0
		inst.Link = word&0x1 != 0
		inst.IsConditionalBranch = true
		if inst.Link {
			inst.Mnemonic = MnBCL
			inst.IsCall = true
		} else {
			inst.Mnemonic = MnBC
		}

	case opXL:
		xo := (word >> 1) & 0x3FF
		inst.BO = int((word >> 21) & 0x1F)
		inst.BI = int((word >> 16) & 0x1F)
		inst.Link = word&0x1 != 0
		switch xo {
		case 16: // bclr[l]
			inst.Mnemonic = MnBCLR
			inst.IsBranchToLinkRegister = true
			if inst.Link {
				inst.IsCall = true
			}
			// blr proper: BO=20 (branch always), BI=0, LK=0.
			if inst.BO == 20 && inst.BI == 0 && !inst.Link {
				inst.IsReturnLike = true
			}
		case 528: // bcctr[l]
			inst.Mnemonic = MnBCCTR
			if inst.Link {
				inst.IsCall = true
			}
		}

	case opAddi:
		inst.Mnemonic = MnAddi
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)

	case opAddis:
		inst.Mnemonic = MnAddis
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)

	case opOri:
		inst.Mnemonic = MnOri
		inst.RD = int((word >> 16) & 0x1F) // rA is the destination for ori
		inst.RA = int((word >> 21) & 0x1F) // rS is the source
		inst.Immediate = int32(word & 0xFFFF)

	case opLwz:
		inst.Mnemonic = MnLwz
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opLwzu:
		inst.Mnemonic = MnLwzu
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opLbz:
		inst.Mnemonic = MnLbz
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opLhz:
		inst.Mnemonic = MnLhz
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opStw:
		inst.Mnemonic = MnStw
		inst.RD = int((word >> 21) & 0x1F) // rS, the value stored
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opStwu:
		inst.Mnemonic = MnStwu
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opSth:
		inst.Mnemonic = MnSth
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opStb:
		inst.Mnemonic = MnStb
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opLfs:
		inst.Mnemonic = MnLfs
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opLfd:
		inst.Mnemonic = MnLfd
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opStfs:
		inst.Mnemonic = MnStfs
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)
	case opStfd:
		inst.Mnemonic = MnStfd
		inst.RD = int((word >> 21) & 0x1F)
		inst.RA = int((word >> 16) & 0x1F)
		inst.Immediate = signExtend16(word)

	case opSPR:
		xo := (word >> 1) & 0x3FF
		spr := ((word >> 16) & 0x1F) | ((word >> 6) & 0x3E0)
		switch xo {
		case xoMfspr:
			if spr == sprLR {
				inst.Mnemonic = MnMflr
				inst.RD = int((word >> 21) & 0x1F)
			}
		case xoMtspr:
			if spr == sprLR {
				inst.Mnemonic = MnMtlr
				inst.RD = int((word >> 21) & 0x1F)
			}
		}
	}

	if inst.Mnemonic == MnUnknown && word != 0 {
		inst.Mnemonic = MnOther
	}
	return inst
}

// AbsoluteBranchTarget resolves a branch's target address given the
// address of the branch instruction itself, honoring the AA bit.
func (i Instruction) AbsoluteBranchTarget(pc uint32) uint32 {
	if i.Absolute {
		return uint32(i.BranchTarget)
	}
	return pc + uint32(i.BranchTarget)
}

// IsPadding reports whether word is the canonical zero-fill or nop pattern
// CodeWarrior uses to pad functions up to their section's alignment
// (spec.md §4.3 step 6).
func IsPadding(word uint32) bool {
	const nop = 0x60000000 // ori r0, r0, 0
	return word == 0 || word == nop
}

// LooksLikePrologue reports whether the word at an address matches the
// start of a CodeWarrior function prologue: a stwu whose base register is
// r1. Only this one word is inspected; the stored register, the sign of
// the displacement and the link-register save that usually follows are not
// checked (spec.md §4.3 step 3.ii).
func LooksLikePrologue(word uint32) bool {
	inst := Decode(word)
	return inst.Mnemonic == MnStwu && inst.RA == 1
}
