// Package cfa traces reachable code from a set of entry points and infers
// function and basic-block extents, including the tail-call heuristic that
// disambiguates an unconditional branch used as a function's logical return
// from one used as an ordinary jump within the function (spec.md §4.3).
package cfa

import (
	"sort"

	"github.com/gc-decomp/splitter/internal/diag"
	"github.com/gc-decomp/splitter/internal/object"
	"github.com/gc-decomp/splitter/internal/ppc"
)

// Function is one inferred function extent.
type Function struct {
	Start, End uint32 // [Start, End)
	Seed       uint32 // the address this function was first seeded from
	// Ambiguous marks a function whose range overlapped another seed's
	// hull and was kept anyway because it has an external reference
	// (spec.md §4.3 step 5).
	Ambiguous bool
}

// Block is one basic block within a function, terminating at a branch,
// call, or return.
type Block struct {
	Start, End uint32
}

// Result is the output of Analyze: the recovered functions, demoted labels
// (seeds that lost the overlap-disambiguation race and had no external
// reference), and basic blocks per function start address.
type Result struct {
	Functions    []Function
	Labels       []uint32
	Blocks       map[uint32][]Block
	CallTargets  map[uint32]bool // addresses reached via bl, i.e. confirmed function entries
	TailCallEdge map[uint32]uint32
}

// ExternalRefChecker reports, for a candidate demoted seed address, whether any
// other part of the program still references it directly (spec.md step 5:
// "unless it has an external reference, then the split is flagged as
// ambiguous"). Supplied by the caller since only the Relocation
// Reconstructor / Section Analyzer know about data-word references; CFA
// itself only tracks branch/call edges.
type ExternalRefChecker func(addr uint32) bool

// Analyze traces reachable code from seeds, forming functions, basic
// blocks, and tail-call edges. Instruction words are read with
// obj.Word32At; its ok=false past the end of a section is one of the
// forward-tracing stop conditions.
func Analyze(obj *object.Object, seeds []uint32, hasExternalRef ExternalRefChecker, bag *diag.Bag) Result {
	res := Result{
		Blocks:       make(map[uint32][]Block),
		CallTargets:  make(map[uint32]bool),
		TailCallEdge: make(map[uint32]uint32),
	}
	if hasExternalRef == nil {
		hasExternalRef = func(uint32) bool { return false }
	}

	visited := make(map[uint32]bool)
	queue := append([]uint32{}, seeds...)
	hulls := make(map[uint32]*hull)

	for len(queue) > 0 {
		seed := queue[0]
		queue = queue[1:]
		if visited[seed] {
			continue
		}
		visited[seed] = true

		h := &hull{lo: seed, hi: seed}
		blocks, newSeeds := traceFunction(obj, seed, h, res, hasExternalRef, bag)
		res.Blocks[seed] = blocks
		hulls[seed] = h

		for _, ns := range newSeeds {
			if !visited[ns] {
				queue = append(queue, ns)
			}
		}
	}

	res.Functions, res.Labels = disambiguate(hulls, hasExternalRef, bag)
	return res
}

type hull struct {
	lo, hi uint32
}

func (h *hull) extend(start, end uint32) {
	if start < h.lo {
		h.lo = start
	}
	if end > h.hi {
		h.hi = end
	}
}

// traceFunction forms basic blocks starting at seed until it runs off the
// end of its containing section, a return, or an out-of-range tail call.
// It returns the blocks formed and any new function seeds discovered (bl
// targets, b targets that satisfy the tail-call heuristic, and conditional
// branch targets in the same section), extending
// h to the function's running bounding range as each block closes.
func traceFunction(obj *object.Object, seed uint32, h *hull, res Result, hasExternalRef ExternalRefChecker, bag *diag.Bag) ([]Block, []uint32) {
	var blocks []Block
	var newSeeds []uint32

	// Jump targets already followed within this function; a backward `b`
	// to one of them is a loop edge, not new code to trace.
	followed := map[uint32]bool{seed: true}

	blockStart := seed
	addr := seed
	sectionIdx := obj.SectionAt(seed)

	closeBlock := func(end uint32) {
		blocks = append(blocks, Block{Start: blockStart, End: end})
		h.extend(blockStart, end)
	}

	for {
		if obj.SectionAt(addr) != sectionIdx {
			// Ran off the end of the owning section without an explicit
			// terminator; close the block here (spec.md: "analysis
			// proceeds with best-effort bounds").
			closeBlock(addr)
			break
		}

		word, ok := obj.Word32At(addr)
		if !ok {
			closeBlock(addr)
			break
		}
		if word == 0 {
			// A zero word is never a valid instruction: inter-function
			// padding. A nop is NOT a stop condition here, since compilers
			// schedule nops mid-function; nop padding after a blr is
			// unreachable from tracing anyway (spec.md §4.3 step 6).
			closeBlock(addr)
			break
		}

		inst := ppc.Decode(word)
		next := addr + 4

		switch {
		case inst.IsCall:
			target := inst.AbsoluteBranchTarget(addr)
			res.CallTargets[target] = true
			newSeeds = append(newSeeds, target)
			// Execution continues at the following instruction; a call
			// does not end the current basic block under this model
			// since control returns here, matching how CodeWarrior
			// output never branches around a bl's return address.

		case inst.IsUnconditionalBranch:
			target := inst.AbsoluteBranchTarget(addr)
			closeBlock(next)

			if isTailCall(obj, h, target, res, hasExternalRef) {
				res.TailCallEdge[seed] = target
				newSeeds = append(newSeeds, target)
				return blocks, newSeeds
			}

			if followed[target] {
				// Loop back edge: everything reachable from the target
				// has already been traced.
				return blocks, newSeeds
			}
			followed[target] = true

			// Ordinary intra-function jump: keep tracing from the
			// target, joining it into this function's block set.
			blockStart = target
			addr = target
			continue

		case inst.IsConditionalBranch:
			target := inst.AbsoluteBranchTarget(addr)
			closeBlock(next)
			// A conditional branch's target, when it lands inside the
			// same section, is queued as a new seed and traced on its
			// own; its blocks are not joined into this function's block
			// set or range. The fallthrough path continues from next.
			if obj.SectionAt(target) == sectionIdx {
				newSeeds = append(newSeeds, target)
			}
			blockStart = next
			addr = next
			continue

		case inst.IsBranchToLinkRegister && inst.IsReturnLike:
			closeBlock(next)
			return blocks, newSeeds

		case inst.IsBranchToLinkRegister:
			// blr-family used mid-function with a non-return BO/BI
			// (rare, e.g. computed dispatch): treat like a terminator
			// but do not end the function search, mirroring an
			// ambiguous-but-continue stance.
			closeBlock(next)
			return blocks, newSeeds
		}

		addr = next
	}

	return blocks, newSeeds
}

// isTailCall implements spec.md §4.3 step 3's heuristic: a `b` target is a
// tail call only if it lies outside the current function's bounding range
// so far AND the target is already a known function, looks like a function
// prologue, or is referenced by a known function-pointer table (surfaced
// via hasExternalRef, since CFA alone cannot see data-word references).
func isTailCall(obj *object.Object, h *hull, target uint32, res Result, hasExternalRef ExternalRefChecker) bool {
	if target >= h.lo && target < h.hi {
		// Inside the function's own traced range: an ordinary loop or
		// forwarding jump, never a tail call, regardless of what the
		// target's bytes happen to look like.
		return false
	}

	if res.CallTargets[target] {
		return true
	}
	if word, ok := obj.Word32At(target); ok && ppc.LooksLikePrologue(word) {
		return true
	}
	if hasExternalRef(target) {
		return true
	}
	// Any other out-of-range unconditional branch is conservatively kept
	// as an intra-function jump, rather than silently misclassified as a
	// tail call.
	return false
}

// disambiguate resolves overlapping hulls: the earlier-address seed wins;
// a later, overlapping seed is demoted to a label unless it has an
// external reference, in which case both survive and the split is flagged
// ambiguous (spec.md §4.3 step 5, Testable Property 4).
func disambiguate(hulls map[uint32]*hull, hasExternalRef ExternalRefChecker, bag *diag.Bag) ([]Function, []uint32) {
	seeds := make([]uint32, 0, len(hulls))
	for s := range hulls {
		seeds = append(seeds, s)
	}
	sort.Slice(seeds, func(i, j int) bool { return seeds[i] < seeds[j] })

	var functions []Function
	var labels []uint32

	for _, seed := range seeds {
		h := hulls[seed]
		overlapsEarlier := false
		for _, f := range functions {
			if seed >= f.Start && seed < f.End {
				overlapsEarlier = true
				break
			}
		}

		if overlapsEarlier {
			if hasExternalRef(seed) {
				functions = append(functions, Function{Start: h.lo, End: h.hi, Seed: seed, Ambiguous: true})
				bag.Addf("cfa", seed, 0, "function at 0x%08x overlaps an earlier function's range but has an external reference; kept as ambiguous", seed)
			} else {
				labels = append(labels, seed)
				bag.Addf("cfa", seed, 0, "function seed at 0x%08x overlaps an earlier function's range; demoted to label", seed)
			}
			continue
		}

		functions = append(functions, Function{Start: h.lo, End: h.hi, Seed: seed})
	}

	return functions, labels
}
