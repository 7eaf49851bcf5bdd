// Package sigdb implements the signature matcher: a built-in, process-wide
// immutable database of byte-masked fingerprints for CodeWarrior/SDK
// library functions and data, scanned in a fixed deterministic order so the
// first non-conflicting match always wins (spec.md §4.5).
//
// The fixed-table-scanned-at-init shape is grounded on the teacher repo's
// instructions.InstructionsDescriptor / mc.OpCodesDescriptor: both build an
// immutable lookup table once, at package init, and panic immediately if
// the table is internally inconsistent (makeOpCodesDescriptor panics if an
// OpCode has no mnemonic entry). sigdb's init panics the same way if two
// builtin fingerprints share a name.
package sigdb

import (
	"fmt"

	"github.com/gc-decomp/splitter/internal/ppc"
)

// MaskedByte is one (byte, mask) pair compared against the candidate
// function body: the fingerprint matches at this position only if
// (candidateByte & Mask) == (Value & Mask).
type MaskedByte struct {
	Value byte
	Mask  byte
}

// RelocationShapeConstraint narrows a match further than raw bytes can:
// e.g. "the 3rd instruction is a bl to a function matching fingerprint X".
// InstructionIndex is 0-based; TargetFingerprint, if non-empty, must also
// match at the branch's target address.
type RelocationShapeConstraint struct {
	InstructionIndex  int
	MustBeCall        bool
	TargetFingerprint string
}

// Fingerprint names a single recognizable function or data object.
type Fingerprint struct {
	Name  string
	Bytes []MaskedByte
	Shape []RelocationShapeConstraint
	Size  int
	// SplitBoundary, when true, forces this symbol to be the sole
	// occupant of its translation unit regardless of user configuration
	// (spec.md §4.5, e.g. __init_cpp_exceptions).
	SplitBoundary bool
}

// Match returns true if candidate (a function's raw bytes, already
// length-checked by the caller) satisfies f's byte mask.
func (f Fingerprint) Match(candidate []byte) bool {
	if len(candidate) < len(f.Bytes) {
		return false
	}
	for i, mb := range f.Bytes {
		if candidate[i]&mb.Mask != mb.Value&mb.Mask {
			return false
		}
	}
	return true
}

// DB is the immutable, process-wide fingerprint table.
type DB struct {
	ordered []Fingerprint
	byName  map[string]int
}

// Builtin is loaded once at process start and never mutated thereafter
// (spec.md §9 Design Notes: "the signature database is loaded once at
// startup and held as a process-wide immutable table; no other global
// state").
var Builtin = mustBuild(builtinFingerprints)

func mustBuild(fps []Fingerprint) *DB {
	db := &DB{byName: make(map[string]int, len(fps))}
	for _, fp := range fps {
		if _, dup := db.byName[fp.Name]; dup {
			panic(fmt.Sprintf("sigdb: duplicate builtin fingerprint name %q", fp.Name))
		}
		db.byName[fp.Name] = len(db.ordered)
		db.ordered = append(db.ordered, fp)
	}
	// Forward references are allowed in Shape constraints, so name
	// resolution is only checkable once the whole table is built.
	for _, fp := range db.ordered {
		for _, c := range fp.Shape {
			if c.TargetFingerprint == "" {
				continue
			}
			if _, ok := db.byName[c.TargetFingerprint]; !ok {
				panic(fmt.Sprintf("sigdb: fingerprint %q shape references unknown fingerprint %q", fp.Name, c.TargetFingerprint))
			}
		}
	}
	return db
}

// Match is one successful scan result.
type Match struct {
	Fingerprint Fingerprint
	Address     uint32
}

// Conflict records two fingerprints that both claimed the same address.
type Conflict struct {
	Address uint32
	First   string
	Second  string
}

// ShapeResolver reads instruction words and raw bytes from the analyzed
// image, letting Scan evaluate relocation-shape constraints that reach
// outside the candidate's own bytes (a branch target's body lives at an
// arbitrary other address). *object.Object satisfies it.
type ShapeResolver interface {
	ByteAt(addr uint32) (byte, bool)
	Word32At(addr uint32) (uint32, bool)
}

// Scan walks the database in its fixed declaration order and returns the
// first non-conflicting match for the bytes starting at addr. A second,
// later fingerprint that also matches the same bytes is reported as a
// Conflict rather than silently ignored (spec.md §4.5: "conflicts are
// reported"). res may be nil, in which case any fingerprint carrying a
// Shape constraint is treated as unverifiable and skipped rather than
// matched on bytes alone.
func (db *DB) Scan(addr uint32, candidate []byte, res ShapeResolver) (*Match, []Conflict) {
	var first *Match
	var conflicts []Conflict

	for _, fp := range db.ordered {
		if !fp.Match(candidate) {
			continue
		}
		if !db.matchesShape(fp, addr, res) {
			continue
		}
		if first == nil {
			m := Match{Fingerprint: fp, Address: addr}
			first = &m
			continue
		}
		conflicts = append(conflicts, Conflict{Address: addr, First: first.Fingerprint.Name, Second: fp.Name})
	}

	return first, conflicts
}

// matchesShape evaluates every RelocationShapeConstraint on fp against the
// image (spec.md §4.5: "optional relocation shape constraints (e.g., 'the
// 3rd instruction is a bl to a function matching fingerprint X')").
func (db *DB) matchesShape(fp Fingerprint, addr uint32, res ShapeResolver) bool {
	if len(fp.Shape) == 0 {
		return true
	}
	if res == nil {
		return false
	}
	for _, c := range fp.Shape {
		instAddr := addr + uint32(c.InstructionIndex)*4
		word, ok := res.Word32At(instAddr)
		if !ok {
			return false
		}
		inst := ppc.Decode(word)
		if c.MustBeCall && !inst.IsCall {
			return false
		}
		if c.TargetFingerprint != "" {
			target, ok := db.ByName(c.TargetFingerprint)
			if !ok {
				return false
			}
			body := readBytes(res, inst.AbsoluteBranchTarget(instAddr), len(target.Bytes))
			if body == nil || !target.Match(body) {
				return false
			}
		}
	}
	return true
}

func readBytes(res ShapeResolver, addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		b, ok := res.ByteAt(addr + uint32(i))
		if !ok {
			return nil
		}
		out[i] = b
	}
	return out
}

// ByName looks up a builtin fingerprint by name, used by tests and by
// matchesShape's TargetFingerprint resolution.
func (db *DB) ByName(name string) (Fingerprint, bool) {
	idx, ok := db.byName[name]
	if !ok {
		return Fingerprint{}, false
	}
	return db.ordered[idx], true
}

// Len reports how many fingerprints are registered.
func (db *DB) Len() int {
	return len(db.ordered)
}
