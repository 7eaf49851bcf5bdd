// Package ppc implements a pure, referentially transparent decoder for the
// subset of the PowerPC 32-bit instruction set that CodeWarrior actually
// emits for GameCube/Wii titles: branches, hi/lo immediate loads, and
// displacement loads/stores. Decode is a single switch on the primary
// opcode field (with a nested switch on the extended opcode for the XL and
// SPR forms), kept in one file rather than spread across several.
package ppc

// Mnemonic identifies a decoded instruction's operation, independent of its
// encoding form.
type Mnemonic int

const (
	MnUnknown Mnemonic = iota
	MnB
	MnBL
	MnBC
	MnBCL
	MnBCLR  // includes BLR as the BO=20,BI=0 special case
	MnBCCTR
	MnAddi
	MnAddis // also covers "lis" (addis with rA=0)
	MnOri
	MnLwz
	MnLbz
	MnLhz
	MnLwzu
	MnStw
	MnSth
	MnStb
	MnStwu
	MnLfs
	MnLfd
	MnStfs
	MnStfd
	MnMflr
	MnMtlr
	MnOther
)

var mnemonicNames = map[Mnemonic]string{
	MnUnknown: "unknown",
	MnB:       "b",
	MnBL:      "bl",
	MnBC:      "bc",
	MnBCL:     "bcl",
	MnBCLR:    "bclr",
	MnBCCTR:   "bcctr",
	MnAddi:    "addi",
	MnAddis:   "addis",
	MnOri:     "ori",
	MnLwz:     "lwz",
	MnLbz:     "lbz",
	MnLhz:     "lhz",
	MnLwzu:    "lwzu",
	MnStw:     "stw",
	MnSth:     "sth",
	MnStb:     "stb",
	MnStwu:    "stwu",
	MnLfs:     "lfs",
	MnLfd:     "lfd",
	MnStfs:    "stfs",
	MnStfd:    "stfd",
	MnMflr:    "mflr",
	MnMtlr:    "mtlr",
	MnOther:   "other",
}

func (m Mnemonic) String() string {
	if s, ok := mnemonicNames[m]; ok {
		return s
	}
	return "unknown"
}

// Primary opcode field values (bits 0-5) this decoder recognizes.
const (
	opB     = 18
	opBC    = 16
	opXL    = 19 // bclr/bcctr live in the extended opcode of form XL
	opMulli = 7
	opAddic = 12
	opAddi  = 14
	opAddis = 15
	opOri   = 24
	opOris  = 25
	opLwz   = 32
	opLwzu  = 33
	opLbz   = 34
	opStw   = 36
	opStwu  = 37
	opStb   = 38
	opLhz   = 40
	opSth   = 44
	opLfs   = 48
	opLfd   = 50
	opStfs  = 52
	opStfd  = 54
	opSPR   = 31 // mfspr/mtspr extended opcodes
)

const (
	xoMfspr = 339
	xoMtspr = 467
	sprLR   = 8
)
