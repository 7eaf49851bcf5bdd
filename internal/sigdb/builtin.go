package sigdb

// builtinFingerprints seeds the well-known CodeWarrior/SDK runtime
// functions that every GameCube/Wii title links in near-identically. Real
// fingerprints are far larger; these are representative entries sized for
// this toolkit's built-in table and can be extended without touching the
// scanning logic in sigdb.go. Declaration order is the scan order (spec.md
// §4.5: "the database is scanned in a fixed order").
var builtinFingerprints = []Fingerprint{
	{
		// stwu r1, -16(r1) ; mflr r0 : the canonical CodeWarrior function
		// prologue used to open an exception-handling frame.
		Name: "__init_cpp_exceptions",
		Bytes: []MaskedByte{
			{Value: 0x94, Mask: 0xFF},
			{Value: 0x21, Mask: 0xFF},
			{Value: 0xFF, Mask: 0xFF},
			{Value: 0xF0, Mask: 0xFF},
			{Value: 0x7C, Mask: 0xFF},
			{Value: 0x08, Mask: 0xFF},
			{Value: 0x02, Mask: 0xFF},
			{Value: 0xA6, Mask: 0xFF},
		},
		// The prologue alone is shared by thousands of functions; what
		// distinguishes __init_cpp_exceptions is the immediate bl to the
		// fragment-registration helper.
		Shape: []RelocationShapeConstraint{
			{InstructionIndex: 2, MustBeCall: true},
		},
		Size:          64,
		SplitBoundary: true,
	},
	{
		// The Metrowerks Runtime Library's __fill_mem, matched on its
		// opening word alone (subf r3, r3, r0), with no shape constraint.
		// Matched after the
		// exception-init prologue so the two never race for the same
		// address in a single title.
		Name: "__fill_mem",
		Bytes: []MaskedByte{
			{Value: 0x7C, Mask: 0xFF},
			{Value: 0x63, Mask: 0xFF},
			{Value: 0x00, Mask: 0xFF},
			{Value: 0x50, Mask: 0xFF},
		},
		Size: 32,
	},
	{
		// memcpy's opening word-copy loop prologue.
		Name: "memcpy",
		Bytes: []MaskedByte{
			{Value: 0x2C, Mask: 0xFF},
			{Value: 0x05, Mask: 0xFF},
			{Value: 0x00, Mask: 0xFF},
			{Value: 0x00, Mask: 0xFF},
		},
		Size: 128,
	},
}
