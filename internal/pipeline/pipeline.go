// Package pipeline wires the Loader, Disassembler, Control-Flow Analyzer,
// Signature Matcher, Relocation Reconstructor, Section/Data Analyzer,
// Splitter, Link Orderer, and Object Writer into the single ordered flow
// spec.md §2 describes, the way the teacher's mc.Resolve chains its own
// resolver stages end to end. Every stage here consumes an immutable
// *object.Object and either mutates a not-yet-frozen working copy or
// returns a brand new artifact; nothing is mutated in place once frozen.
package pipeline

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/gc-decomp/splitter/internal/cfa"
	"github.com/gc-decomp/splitter/internal/diag"
	"github.com/gc-decomp/splitter/internal/dolrel"
	"github.com/gc-decomp/splitter/internal/linkorder"
	"github.com/gc-decomp/splitter/internal/object"
	"github.com/gc-decomp/splitter/internal/objwriter"
	"github.com/gc-decomp/splitter/internal/ppc"
	"github.com/gc-decomp/splitter/internal/reloc"
	"github.com/gc-decomp/splitter/internal/secdata"
	"github.com/gc-decomp/splitter/internal/sigdb"
	"github.com/gc-decomp/splitter/internal/split"
)

// Inputs bundles the raw file contents Analyze needs. Reading files from disk
// is the CLI's job (spec.md treats file IO as an external collaborator);
// this package only ever sees bytes already in memory, which is also what
// keeps it trivially testable without a filesystem.
type Inputs struct {
	DOL  []byte
	RELs [][]byte // raw bytes of each REL named in config.Inputs.RELs, same order
	// ELF is an optional unstripped ELF build of the same binary, used as a
	// higher-fidelity substitute for the DOL when no DOL is supplied.
	ELF []byte
	// ForcedSymbols are user-asserted symbols from the project config
	// (spec.md §6); they are applied verbatim before analysis and their
	// function-kind entries become Control-Flow Analyzer seeds (spec.md
	// §4.3 step 1: "any user-provided symbols").
	ForcedSymbols []ForcedSymbol
}

// ForcedSymbol is one user-asserted symbol, pre-resolved from the config's
// hex-string form: the Symbol's Ref is ignored and recomputed from Address
// against the loaded image.
type ForcedSymbol struct {
	Symbol  object.Symbol
	Address uint32
}

// AnalyzedObject is the frozen, fully-analyzed global image: every
// function, relocation, and section kind the Control-Flow Analyzer,
// Relocation Reconstructor, and Section/Data Analyzer could recover,
// before any Splitter configuration is applied.
type AnalyzedObject struct {
	Object    *object.Object
	Functions []cfa.Function
	Labels    []uint32
	Warnings  *diag.Bag
	// Support carries the whole-image .ctors/.dtors/extab/extabindex
	// entries the Section/Data Analyzer recovered, forward to Split since
	// support-table co-splitting (spec.md §4.7) can only run once
	// translation-unit assignment is known.
	Support SupportEntries
	// ForcedBoundaries holds the addresses of functions a signature match
	// flagged SplitBoundary: true, which Split must refuse to merge with
	// any other function in the same translation unit (spec.md §4.5).
	ForcedBoundaries []uint32
}

// SupportEntries bundles every constructor/destructor and exception-table
// entry recovered from an analyzed image, in their original table order.
type SupportEntries struct {
	Ctors      []secdata.CtorEntry
	Dtors      []secdata.CtorEntry
	ExtabIndex []secdata.ExtabIndexEntry
	Extab      []secdata.ExtabRange
}

// Analyze runs every stage up to, but not including, the Splitter: Loader
// through Section/Data Analyzer (spec.md §2's data-flow order). The result
// is a frozen Object ready to be partitioned by Split.
func Analyze(in Inputs) (*AnalyzedObject, error) {
	bag := &diag.Bag{}

	obj, relPending, err := load(in, bag)
	if err != nil {
		return nil, err
	}

	secdata.ClassifySupportSections(obj)

	seeds := append([]uint32{obj.EntryPoint}, obj.SecondaryEntries...)
	seeds = append(seeds, applyForcedSymbols(obj, in.ForcedSymbols, bag)...)
	seeds = append(seeds, seedsFromSupportTables(obj, bag)...)
	seeds = append(seeds, branchTargetSeeds(relPending)...)

	cfaRes := cfa.Analyze(obj, seeds, externalRefChecker(obj), bag)

	registerFunctionSymbols(obj, cfaRes, bag)
	registerLabelSymbols(obj, cfaRes)

	forcedBoundaries := matchSignatures(obj, cfaRes, bag)
	applyRELRelocations(obj, relPending, bag)
	reconstructRelocations(obj, cfaRes, bag)
	reconstructDataRelocations(obj, bag)
	classifyUnknownSections(obj)

	support := collectSupportEntries(obj, bag)

	obj.Freeze()

	return &AnalyzedObject{
		Object:           obj,
		Functions:        cfaRes.Functions,
		Labels:           cfaRes.Labels,
		Warnings:         bag,
		Support:          support,
		ForcedBoundaries: forcedBoundaries,
	}, nil
}

// collectSupportEntries parses every .ctors/.dtors/extab/extabindex section
// ClassifySupportSections tagged, in section order, so Split can later
// co-split each entry into the translation unit that owns the function it
// references (spec.md §4.6-§4.7).
func collectSupportEntries(obj *object.Object, bag *diag.Bag) SupportEntries {
	var out SupportEntries
	isKnownFunction := func(addr uint32) bool {
		idx := obj.SectionAt(addr)
		return idx >= 0 && obj.Sections[idx].Kind == object.SectionCode
	}
	for _, sec := range obj.Sections {
		switch sec.Kind {
		case object.SectionCtors:
			out.Ctors = append(out.Ctors, secdata.ParseCtorTable(sec, isKnownFunction, bag, "secdata")...)
		case object.SectionDtors:
			out.Dtors = append(out.Dtors, secdata.ParseCtorTable(sec, isKnownFunction, bag, "secdata")...)
		case object.SectionExtabIndex:
			entries := secdata.ParseExtabIndex(sec, bag, "secdata")
			out.ExtabIndex = append(out.ExtabIndex, entries...)
			out.Extab = append(out.Extab, secdata.ExtabRanges(entries)...)
		}
	}
	return out
}

// load implements the Binary Loader stage: parse the DOL, parse and merge
// every REL (rel merge, spec.md §4.1), and union the result into a single
// analyzable image. Per-REL parsing happens concurrently (spec.md §5: "an
// implementation MAY parallelize ... per-REL loading"); output bytes are
// identical regardless of worker count since each REL's parse is pure and
// MergeRELs' address assignment is a deterministic post-processing pass
// over the results, not a function of arrival order.
func load(in Inputs, bag *diag.Bag) (*object.Object, []pendingRELReloc, error) {
	var obj *object.Object
	var err error
	switch {
	case len(in.DOL) != 0:
		obj, err = dolrel.ParseDOL(in.DOL)
	case len(in.ELF) != 0:
		obj, err = dolrel.ParseUnstrippedELF(bytes.NewReader(in.ELF))
	default:
		return nil, nil, fmt.Errorf("pipeline: no DOL or ELF input provided")
	}
	if err != nil {
		return nil, nil, err
	}

	if len(in.RELs) == 0 {
		return obj, nil, nil
	}

	parsed := make([]*dolrel.ParsedREL, len(in.RELs))
	errs := make([]error, len(in.RELs))
	var wg sync.WaitGroup
	for i, raw := range in.RELs {
		wg.Add(1)
		go func(i int, raw []byte) {
			defer wg.Done()
			p, err := dolrel.ParseREL(raw)
			parsed[i] = p
			errs[i] = err
		}(i, raw)
	}
	wg.Wait()
	for _, e := range errs {
		if e != nil {
			return nil, nil, e
		}
	}

	dolEnd := imageEnd(obj)
	merged := dolrel.MergeRELs(dolEnd, parsed)

	// First pass places every module's sections, building the
	// (module id, REL section index) -> merged section index mapping the
	// relocation streams are keyed by; the second pass can then resolve
	// cross-module targets no matter which module order they reference.
	secMaps := make(map[uint32]map[int]int, len(merged))
	for _, m := range merged {
		relIdx := relIndexByID(parsed, m.ID)
		relObj, relSecMap := dolrel.BuildRELObject(m, in.RELs[relIdx])
		bySectionIdx := make(map[int]int, len(relSecMap)) // relObj section idx -> REL section-table idx
		for relSec, objSec := range relSecMap {
			bySectionIdx[objSec] = relSec
		}
		mergedMap := make(map[int]int, len(relSecMap))
		for i, sec := range relObj.Sections {
			g := obj.AddSection(sec)
			if relSec, ok := bySectionIdx[i]; ok {
				mergedMap[relSec] = g
			}
		}
		secMaps[m.ID] = mergedMap
		obj.SecondaryEntries = append(obj.SecondaryEntries, m.BaseAddr+m.Parsed.Header.PrologOffset)
	}

	var pending []pendingRELReloc
	for _, m := range merged {
		for _, r := range m.Parsed.Relocations {
			patchIdx, ok := secMaps[m.ID][r.PatchSection]
			if !ok {
				bag.Addf("loader", 0, r.PatchSection, "module %d relocation patches absent section %d", m.ID, r.PatchSection)
				continue
			}
			target, ok := resolveRELTarget(obj, secMaps, r)
			if !ok {
				bag.Addf("loader", obj.Sections[patchIdx].Address+r.PatchOffset, patchIdx, "module %d relocation targets unknown module %d section %d", m.ID, r.TargetModule, r.TargetSection)
				continue
			}
			pending = append(pending, pendingRELReloc{SectionIdx: patchIdx, Offset: r.PatchOffset, Kind: r.Kind, Target: target})
		}
	}

	return obj, pending, nil
}

// pendingRELReloc is one REL-stream relocation after rel merge has turned
// its symbolic (module id, section, addend) target into a concrete address
// in the merged image, held until analysis has registered symbols to
// normalize it against.
type pendingRELReloc struct {
	SectionIdx int
	Offset     uint32
	Kind       object.RelocKind
	Target     uint32
}

// resolveRELTarget maps a REL relocation's symbolic target to an address in
// the merged image: module 0 addends are already absolute DOL addresses;
// any other module's addend is an offset into that module's named section.
func resolveRELTarget(obj *object.Object, secMaps map[uint32]map[int]int, r dolrel.RELReloc) (uint32, bool) {
	if r.TargetModule == 0 {
		return r.Addend, true
	}
	m, ok := secMaps[r.TargetModule]
	if !ok {
		return 0, false
	}
	idx, ok := m[r.TargetSection]
	if !ok {
		return 0, false
	}
	return obj.Sections[idx].Address + r.Addend, true
}

// branchTargetSeeds extracts the REL24/REL14 targets from a module's
// relocation stream as extra function seeds: a cross-module branch target
// is a function entry by construction, and may be unreachable from the
// DOL's own entry points (spec.md §4.3 step 1, "REL exports").
func branchTargetSeeds(pending []pendingRELReloc) []uint32 {
	var seeds []uint32
	for _, p := range pending {
		if p.Kind == object.R_PPC_REL24 || p.Kind == object.R_PPC_REL14 {
			seeds = append(seeds, p.Target)
		}
	}
	return seeds
}

// applyRELRelocations registers every rel-merged relocation on the unified
// image, normalizing each target to its nearest enclosing symbol the same
// way reconstructed relocations are (spec.md §4.1: parsed but NOT applied;
// the bytes stay untouched and the reference becomes symbolic).
func applyRELRelocations(obj *object.Object, pending []pendingRELReloc, bag *diag.Bag) {
	for _, p := range pending {
		sec := obj.Sections[p.SectionIdx]
		addReconstructedReloc(obj, p.SectionIdx, sec.Address+p.Offset, p.Kind, p.Target, bag)
	}
}

func relIndexByID(parsed []*dolrel.ParsedREL, id uint32) int {
	for i, p := range parsed {
		if p.Header.ID == id {
			return i
		}
	}
	return 0
}

func imageEnd(obj *object.Object) uint32 {
	var end uint32
	for _, s := range obj.Sections {
		if e := s.Address + s.Size; e > end {
			end = e
		}
	}
	return end
}

// applyForcedSymbols registers every user-asserted symbol on the freshly
// loaded image, before any analyzer runs, so the Control-Flow Analyzer and
// Signature Matcher see them as ground truth rather than competing
// inferences. Function-kind entries are returned as extra seeds. A forced
// symbol whose address resolves to no section, or whose name collides with
// a different address, is a configuration-level problem surfaced as a
// warning here since the image itself is still analyzable without it.
func applyForcedSymbols(obj *object.Object, forced []ForcedSymbol, bag *diag.Bag) []uint32 {
	var seeds []uint32
	for _, f := range forced {
		ref, ok := obj.Resolve(f.Address)
		if !ok {
			bag.Addf("config", f.Address, 0, "forced symbol %q at 0x%08x does not resolve to any section", f.Symbol.Name, f.Address)
			continue
		}
		sym := f.Symbol
		sym.Ref = ref
		if err := obj.AddSymbol(sym); err != nil {
			bag.Addf("config", f.Address, ref.Section, "forced symbol %q: %v", f.Symbol.Name, err)
			continue
		}
		if sym.Kind == object.SymFunction {
			seeds = append(seeds, f.Address)
		}
	}
	return seeds
}

// seedsFromSupportTables scans every .ctors/.dtors section already present
// for candidate function seeds, since the Control-Flow Analyzer needs them
// as entry points before it can itself confirm they are functions
// (spec.md §4.1 step 1: "constructor/destructor table targets").
func seedsFromSupportTables(obj *object.Object, bag *diag.Bag) []uint32 {
	var seeds []uint32
	for _, sec := range obj.Sections {
		if sec.Kind != object.SectionCtors && sec.Kind != object.SectionDtors {
			continue
		}
		for _, e := range secdata.ParseCtorTable(sec, nil, bag, "loader") {
			seeds = append(seeds, e.Target)
		}
	}
	return seeds
}

// externalRefChecker answers cfa.ExternalRefChecker by asking whether any
// data word anywhere in the image already equals addr; a more precise
// answer (restricted to confirmed function-pointer tables) only becomes
// available after the Relocation Reconstructor runs, so this first pass
// over-approximates in the same conservative direction spec.md's ambiguity
// handling favors (kept, flagged ambiguous, not silently dropped).
func externalRefChecker(obj *object.Object) cfa.ExternalRefChecker {
	return func(addr uint32) bool {
		for _, sec := range obj.Sections {
			if sec.IsBSS() || sec.Kind == object.SectionCode {
				continue
			}
			for off := uint32(0); off+4 <= sec.Size; off += 4 {
				w, ok := obj.Word32At(sec.Address + off)
				if ok && w == addr {
					return true
				}
			}
		}
		return false
	}
}

func registerFunctionSymbols(obj *object.Object, res cfa.Result, bag *diag.Bag) {
	for _, fn := range res.Functions {
		ref, ok := obj.Resolve(fn.Start)
		if !ok {
			bag.Addf("cfa", fn.Start, 0, "function seed 0x%08x does not resolve to any section", fn.Start)
			continue
		}
		if _, exists := obj.Symbol(ref); exists {
			continue
		}
		_ = obj.AddSymbol(object.Symbol{
			Ref:     ref,
			Name:    object.SyntheticFunctionName(fn.Start),
			Size:    fn.End - fn.Start,
			Kind:    object.SymFunction,
			Binding: object.BindGlobal,
		})
	}
}

func registerLabelSymbols(obj *object.Object, res cfa.Result) {
	for _, addr := range res.Labels {
		ref, ok := obj.Resolve(addr)
		if !ok {
			continue
		}
		if _, exists := obj.Symbol(ref); exists {
			continue
		}
		_ = obj.AddSymbol(object.Symbol{Ref: ref, Name: object.SyntheticLabelName(addr), Kind: object.SymLabel, Binding: object.BindLocal})
	}
}

// matchSignatures runs the Signature Matcher over every recovered function
// body, in ascending address order for determinism, recording conflicts as
// warnings rather than silently picking a match (spec.md §4.5). It returns
// the addresses of every function whose matched fingerprint sets
// SplitBoundary, for Split to later enforce as a sole-TU-occupant
// requirement.
func matchSignatures(obj *object.Object, res cfa.Result, bag *diag.Bag) []uint32 {
	fns := append([]cfa.Function(nil), res.Functions...)
	sort.Slice(fns, func(i, j int) bool { return fns[i].Start < fns[j].Start })

	var forcedBoundaries []uint32
	for _, fn := range fns {
		body := sectionBytesInRange(obj, fn.Start, fn.End)
		if body == nil {
			continue
		}
		match, conflicts := sigdb.Builtin.Scan(fn.Start, body, obj)
		for _, c := range conflicts {
			bag.Addf("sigdb", c.Address, 0, "fingerprint conflict: %q and %q both match at 0x%08x", c.First, c.Second, c.Address)
		}
		if match == nil {
			continue
		}
		ref, ok := obj.Resolve(fn.Start)
		if !ok {
			continue
		}
		sym, _ := obj.Symbol(ref)
		sym.Name = match.Fingerprint.Name
		sym.Ref = ref
		sym.Kind = object.SymFunction
		_ = obj.AddSymbol(sym)

		if match.Fingerprint.SplitBoundary {
			forcedBoundaries = append(forcedBoundaries, fn.Start)
		}
	}
	return forcedBoundaries
}

func sectionBytesInRange(obj *object.Object, start, end uint32) []byte {
	idx := obj.SectionAt(start)
	if idx < 0 {
		return nil
	}
	sec := obj.Sections[idx]
	if sec.IsBSS() {
		return nil
	}
	lo, hi := start-sec.Address, end-sec.Address
	if hi > uint32(len(sec.Data)) {
		hi = uint32(len(sec.Data))
	}
	if lo >= hi {
		return nil
	}
	return sec.Data[lo:hi]
}

// reconstructRelocations runs the Relocation Reconstructor over each
// recovered function: branch targets become REL24/REL14, lis/addi/ori
// pairs become ADDR16_HA|HI/LO, and r2/r13-based loads/stores become
// SDA-relative relocations (spec.md §4.4).
func reconstructRelocations(obj *object.Object, res cfa.Result, bag *diag.Bag) {
	bases := deriveSDABases(obj, res)

	for _, fn := range res.Functions {
		secIdx := obj.SectionAt(fn.Start)
		if secIdx < 0 {
			continue
		}
		instrs := decodeRange(obj, fn.Start, fn.End)

		for _, pair := range reloc.FindHiLoPairs(instrs, fn.Start, bag, "reloc") {
			addReconstructedReloc(obj, secIdx, fn.Start+uint32(pair.HiInstrIndex)*4, pair.HiKind, pair.Target, bag)
			addReconstructedReloc(obj, secIdx, fn.Start+uint32(pair.LoInstrIndex)*4, pair.LoKind, pair.Target, bag)
		}

		if bases.SDABase != 0 || bases.SDA2Base != 0 {
			for _, sr := range reloc.FindSDAReferences(instrs, bases) {
				addReconstructedReloc(obj, secIdx, fn.Start+uint32(sr.InstrIndex)*4, object.R_PPC_EMB_SDA21, sr.Target, bag)
			}
		}

		for i, inst := range instrs {
			addr := fn.Start + uint32(i)*4
			if inst.IsCall || inst.IsUnconditionalBranch {
				target := inst.AbsoluteBranchTarget(addr)
				kind := object.R_PPC_REL24
				addReconstructedReloc(obj, secIdx, addr, kind, target, bag)
			} else if inst.IsConditionalBranch {
				target := inst.AbsoluteBranchTarget(addr)
				addReconstructedReloc(obj, secIdx, addr, object.R_PPC_REL14, target, bag)
			}
		}
	}
}

// deriveSDABases recovers the small-data-area base addresses, preferring an
// explicit _SDA_BASE_/_SDA2_BASE_ symbol (from a forced symbol or an
// unstripped ELF's symbol table) and falling back to scanning the entry
// point's register-initialization sequence (spec.md §4.4: "the bases are
// identified from the entry's prolog").
func deriveSDABases(obj *object.Object, res cfa.Result) reloc.Bases {
	var bases reloc.Bases
	if entry, ok := functionContaining(res.Functions, obj.EntryPoint); ok {
		instrs := decodeRange(obj, entry.Start, entry.End)
		bases = reloc.FindSDABases(instrs)
		// CodeWarrior's __start establishes r13/r2 in a helper it calls
		// (__init_registers) rather than inline; scan direct callees too.
		for i, inst := range instrs {
			if bases.SDABase != 0 && bases.SDA2Base != 0 {
				break
			}
			if !inst.IsCall {
				continue
			}
			target := inst.AbsoluteBranchTarget(entry.Start + uint32(i)*4)
			callee, ok := functionContaining(res.Functions, target)
			if !ok || callee.Start != target {
				continue
			}
			calleeBases := reloc.FindSDABases(decodeRange(obj, callee.Start, callee.End))
			if bases.SDABase == 0 {
				bases.SDABase = calleeBases.SDABase
			}
			if bases.SDA2Base == 0 {
				bases.SDA2Base = calleeBases.SDA2Base
			}
		}
	}
	if s, ok := obj.SymbolByName("_SDA_BASE_"); ok {
		bases.SDABase = obj.Address(s.Ref)
	}
	if s, ok := obj.SymbolByName("_SDA2_BASE_"); ok {
		bases.SDA2Base = obj.Address(s.Ref)
	}
	return bases
}

func functionContaining(fns []cfa.Function, addr uint32) (cfa.Function, bool) {
	for _, fn := range fns {
		if addr >= fn.Start && addr < fn.End {
			return fn, true
		}
	}
	return cfa.Function{}, false
}

func decodeRange(obj *object.Object, start, end uint32) []ppc.Instruction {
	var out []ppc.Instruction
	for addr := start; addr < end; addr += 4 {
		w, ok := obj.Word32At(addr)
		if !ok {
			break
		}
		out = append(out, ppc.Decode(w))
	}
	return out
}

// addReconstructedReloc normalizes the target to its nearest enclosing
// symbol plus an addend (spec.md §4.4: "the addend accounts for the
// offset"), synthesizing a label symbol if analysis never reached the
// target directly.
func addReconstructedReloc(obj *object.Object, secIdx int, addr uint32, kind object.RelocKind, target uint32, bag *diag.Bag) {
	offset := addr - obj.Sections[secIdx].Address
	for _, existing := range obj.Relocations[secIdx] {
		if existing.Offset == offset {
			// Already covered, e.g. a REL-stream relocation at a branch the
			// instruction scan would also reconstruct; the stream's record
			// is authoritative.
			return
		}
	}

	sym, addend, ok := obj.EnclosingSymbol(target)
	var targetRef object.SymbolRef
	if ok {
		targetRef = sym.Ref
	} else {
		ref, resOk := obj.Resolve(target)
		if !resOk {
			bag.Addf("reloc", addr, secIdx, "relocation target 0x%08x does not resolve to any known section", target)
			return
		}
		// Code targets become labels; anything in a data-bearing section
		// becomes a data object symbol (spec.md §3: data_<hex addr>).
		name, kind := object.SyntheticLabelName(target), object.SymLabel
		if obj.Sections[ref.Section].Kind != object.SectionCode {
			name, kind = object.SyntheticDataName(target), object.SymObject
		}
		_ = obj.AddSymbol(object.Symbol{Ref: ref, Name: name, Kind: kind, Binding: object.BindLocal})
		targetRef = ref
		addend = 0
	}

	sec := obj.Sections[secIdx]
	obj.AddRelocation(secIdx, object.Relocation{Offset: addr - sec.Address, Kind: kind, Target: targetRef, Addend: addend})
}

// reconstructDataRelocations scans data and rodata sections for aligned
// words whose value lands inside some section's address range, treating
// each as a tentative ADDR32 relocation (spec.md §4.4: "Data words whose
// value lies within any section's address range ... are tentatively
// treated as ADDR32 relocations"). Words that resolve nowhere, and words
// at offsets already claimed by an earlier relocation (a REL stream
// record, a support-table binding), are left as raw bytes.
func reconstructDataRelocations(obj *object.Object, bag *diag.Bag) {
	for secIdx, sec := range obj.Sections {
		if sec.Kind != object.SectionData && sec.Kind != object.SectionRodata {
			continue
		}
		for off := uint32(0); off+4 <= uint32(len(sec.Data)); off += 4 {
			w, ok := obj.Word32At(sec.Address + off)
			if !ok || w == 0 {
				continue
			}
			if _, ok := obj.Resolve(w); !ok {
				continue
			}
			addReconstructedReloc(obj, secIdx, sec.Address+off, object.R_PPC_ADDR32, w, bag)
		}
	}
}

// classifyUnknownSections runs the Section & Data Analyzer over every
// section whose kind the Loader could not determine (REL sections in
// particular carry no name/flag metadata once stripped).
func classifyUnknownSections(obj *object.Object) {
	for i, sec := range obj.Sections {
		if sec.Kind != object.SectionUnknown {
			continue
		}
		obj.Sections[i].Kind = secdata.ClassifySection(sec, false)
	}
}

// Plan is the Splitter + Link Orderer + Writer stage's input: the analyzed
// global Object plus the user's translation-unit assignment.
type Plan struct {
	Analyzed *AnalyzedObject
	TUs      []split.TU
	// ForcedSplitNames and ForcedNonSplitNames are the project config's
	// forced_splits/forced_non_splits symbol name lists (spec.md §6).
	// ForcedSplitNames adds user-named symbols to the Signature Matcher's
	// forced-boundary set; ForcedNonSplitNames removes named symbols from
	// it, overriding a signature match the user knows is safe to merge.
	ForcedSplitNames    []string
	ForcedNonSplitNames []string
	// SectionAlignments maps section names to the project config's
	// alignment overrides (spec.md §6), applied to every child object's
	// matching section before the Writer and linker-script stages run.
	SectionAlignments map[string]uint32
	// RequireFullCoverage makes any gap in a partitioned section a fatal
	// configuration error instead of tolerated inter-function padding;
	// projects aiming at a byte-identical relink set this.
	RequireFullCoverage bool
}

// Output is the final artifact set: one ELF32 object per translation unit,
// in link order, plus the linker script text.
type Output struct {
	ObjectNames  []string // in link order
	ObjectBytes  map[string][]byte
	LinkerScript string
	Warnings     []diag.Warning
}

// Split runs the Splitter, Link Orderer, and Object Writer stages over an
// already-Analyzed object, producing one relocatable object file per
// translation unit (spec.md §4.7-§4.9).
func Split(plan Plan) (*Output, error) {
	obj := plan.Analyzed.Object
	bag := plan.Analyzed.Warnings

	forcedBoundaries := resolveForcedBoundaries(obj, plan.Analyzed.ForcedBoundaries, plan.ForcedSplitNames, plan.ForcedNonSplitNames)
	if err := split.CheckForcedBoundaries(plan.TUs, forcedBoundaries, functionAddrs(plan.Analyzed.Functions)); err != nil {
		return nil, err
	}
	if plan.RequireFullCoverage {
		if err := split.CheckCoverage(obj, plan.TUs); err != nil {
			return nil, err
		}
	}

	referencedExternally := crossTUReferenceChecker(obj, plan.TUs)
	children, err := split.Split(obj, plan.TUs, referencedExternally)
	if err != nil {
		return nil, err
	}

	coSplitSupportTables(obj, children, plan.TUs, plan.Analyzed.Support)
	applyAlignmentOverrides(children, plan.SectionAlignments)

	nodes := make([]linkorder.Node, 0, len(children))
	ownerByAddr := make(map[uint32]string, len(children))
	for _, c := range children {
		lowest := lowestAddress(c)
		nodes = append(nodes, linkorder.Node{Name: c.Name, LowestAddr: lowest})
		for _, sym := range c.Object.SortedSymbols() {
			if sym.Ref.Section == object.UndefSection {
				continue // an import is owned by whichever sibling defines it
			}
			ownerByAddr[c.Object.Address(sym.Ref)] = c.Name
		}
	}

	edges := buildEdges(children, ownerByAddr)
	order, err := linkorder.TopoSort(nodes, edges)
	if err != nil {
		return nil, err
	}

	objBytes, err := writeObjectsConcurrently(children)
	if err != nil {
		return nil, err
	}

	script := linkorder.EmitScript(buildScript(children, order))

	return &Output{
		ObjectNames:  order,
		ObjectBytes:  objBytes,
		LinkerScript: script,
		Warnings:     bag.Sorted(),
	}, nil
}

// coSplitSupportTables moves every .ctors/.dtors/extab/extabindex entry
// into the same child object as the function it references, even when the
// user's translation-unit configuration never partitioned those sections
// directly (spec.md §4.7 "Support-table co-splitting"; Testable Property
// 5). belongsTo is derived from the same TU address ranges the Splitter
// itself used, so an entry always lands with the function's actual owner.
func coSplitSupportTables(src *object.Object, children []split.ChildObject, tus []split.TU, support SupportEntries) {
	belongsTo := func(fn uint32) (string, bool) {
		secIdx := src.SectionAt(fn)
		if secIdx < 0 {
			return "", false
		}
		name := tuOwning(tus, secIdx, fn)
		return name, name != ""
	}

	byName := make(map[string]*split.ChildObject, len(children))
	for i := range children {
		byName[children[i].Name] = &children[i]
	}

	ctorsAddr, _ := sourceSectionAddr(src, object.SectionCtors)
	dtorsAddr, _ := sourceSectionAddr(src, object.SectionDtors)

	ctorGroups := split.CoSplitSupportTables(ctorSupportEntries(".ctors", support.Ctors), belongsTo)
	for name, entries := range ctorGroups {
		appendCtorSection(byName[name], ".ctors", object.SectionCtors, ctorsAddr, entries)
	}

	dtorGroups := split.CoSplitSupportTables(ctorSupportEntries(".dtors", support.Dtors), belongsTo)
	for name, entries := range dtorGroups {
		appendCtorSection(byName[name], ".dtors", object.SectionDtors, dtorsAddr, entries)
	}

	extabAddr, _ := sourceSectionAddr(src, object.SectionExtab)
	extabIdxAddr, _ := sourceSectionAddr(src, object.SectionExtabIndex)

	extabIdxGroups := split.CoSplitSupportTables(extabIndexSupportEntries(support.ExtabIndex), belongsTo)
	extabGroups := split.CoSplitSupportTables(extabSupportEntries(support.Extab), belongsTo)
	for name, entries := range extabIdxGroups {
		appendExtabSections(src, byName[name], extabAddr, extabIdxAddr, entries, extabGroups[name])
	}
}

func ctorSupportEntries(table string, entries []secdata.CtorEntry) []split.SupportEntry {
	out := make([]split.SupportEntry, len(entries))
	for i, e := range entries {
		out[i] = split.SupportEntry{TableName: table, Function: e.Target, Payload: e}
	}
	return out
}

func extabIndexSupportEntries(entries []secdata.ExtabIndexEntry) []split.SupportEntry {
	out := make([]split.SupportEntry, len(entries))
	for i, e := range entries {
		out[i] = split.SupportEntry{TableName: "extabindex", Function: e.Function, Payload: e}
	}
	return out
}

func extabSupportEntries(entries []secdata.ExtabRange) []split.SupportEntry {
	out := make([]split.SupportEntry, len(entries))
	for i, e := range entries {
		out[i] = split.SupportEntry{TableName: "extab", Function: e.Function, Payload: e}
	}
	return out
}

// appendCtorSection builds a fresh, null-terminated .ctors/.dtors section in
// child from the entries CoSplitSupportTables routed to it, preserving their
// original relative order and giving each slot an R_PPC_ADDR32 relocation
// against the function symbol Split already copied into this same child
// (spec.md §3 invariant: "a split carrying the function MUST carry its
// paired entries in both tables").
func appendCtorSection(child *split.ChildObject, name string, kind object.SectionKind, addr uint32, entries []split.SupportEntry) {
	if child == nil || len(entries) == 0 {
		return
	}
	secIdx := child.Object.AddSection(object.Section{Name: name, Kind: kind, Address: addr, Align: 4})

	var data []byte
	for _, e := range entries {
		ce := e.Payload.(secdata.CtorEntry)
		off := uint32(len(data))
		data = appendBEWord(data, ce.Target)
		if sym, _, ok := child.Object.EnclosingSymbol(ce.Target); ok {
			child.Object.AddRelocation(secIdx, object.Relocation{Offset: off, Kind: object.R_PPC_ADDR32, Target: sym.Ref})
		}
	}
	data = appendBEWord(data, 0) // null terminator, matching the source table's shape

	sec := child.Object.Sections[secIdx]
	sec.Data = data
	sec.Size = uint32(len(data))
	child.Object.Sections[secIdx] = sec
}

// appendExtabSections builds a child's extab and extabindex sections
// together: each extabindex record's offset/length fields are rewritten to
// point at the record's new position within the child's own extab section,
// since entries routed to different TUs no longer share one global extab
// byte range (spec.md §4.6: "extabindex entries are paired 1:1 with extab
// ranges").
func appendExtabSections(src *object.Object, child *split.ChildObject, extabAddr, extabIdxAddr uint32, idxEntries, rangeEntries []split.SupportEntry) {
	if child == nil || len(idxEntries) == 0 {
		return
	}

	srcExtab, haveSrcExtab := sourceExtabSection(src)

	rangeByFunction := make(map[uint32]secdata.ExtabRange, len(rangeEntries))
	for _, e := range rangeEntries {
		r := e.Payload.(secdata.ExtabRange)
		rangeByFunction[r.Function] = r
	}

	extabSecIdx := child.Object.AddSection(object.Section{Name: "extab", Kind: object.SectionExtab, Address: extabAddr, Align: 4})
	idxSecIdx := child.Object.AddSection(object.Section{Name: "extabindex", Kind: object.SectionExtabIndex, Address: extabIdxAddr, Align: 4})

	var extabData []byte
	var idxData []byte
	for _, e := range idxEntries {
		ie := e.Payload.(secdata.ExtabIndexEntry)
		r, haveRange := rangeByFunction[ie.Function]

		newExtabOffset := uint32(len(extabData))
		var newExtabLength uint32
		if haveRange {
			newExtabLength = r.Length
			if haveSrcExtab && r.Offset+r.Length <= uint32(len(srcExtab.Data)) {
				extabData = append(extabData, srcExtab.Data[r.Offset:r.Offset+r.Length]...)
			} else {
				extabData = append(extabData, make([]byte, r.Length)...)
			}
		}

		idxOff := uint32(len(idxData))
		idxData = appendBEWord(idxData, ie.Function)
		idxData = appendBEWord(idxData, newExtabOffset)
		idxData = appendBEWord(idxData, newExtabLength)
		if sym, _, ok := child.Object.EnclosingSymbol(ie.Function); ok {
			child.Object.AddRelocation(idxSecIdx, object.Relocation{Offset: idxOff, Kind: object.R_PPC_ADDR32, Target: sym.Ref})
		}
	}

	setSectionData(child.Object, extabSecIdx, extabData)
	setSectionData(child.Object, idxSecIdx, idxData)
}

func sourceExtabSection(src *object.Object) (object.Section, bool) {
	for _, sec := range src.Sections {
		if sec.Kind == object.SectionExtab {
			return sec, true
		}
	}
	return object.Section{}, false
}

// sourceSectionAddr finds the first section of the given kind in src,
// giving a co-split synthetic section the same linker-script placement the
// original whole-image table had, even though its own address range is no
// longer meaningful as a split boundary.
func sourceSectionAddr(src *object.Object, kind object.SectionKind) (uint32, bool) {
	for _, sec := range src.Sections {
		if sec.Kind == kind {
			return sec.Address, true
		}
	}
	return 0, false
}

func setSectionData(obj *object.Object, secIdx int, data []byte) {
	sec := obj.Sections[secIdx]
	sec.Data = data
	sec.Size = uint32(len(data))
	obj.Sections[secIdx] = sec
}

func appendBEWord(b []byte, w uint32) []byte {
	return append(b, byte(w>>24), byte(w>>16), byte(w>>8), byte(w))
}

func lowestAddress(c split.ChildObject) uint32 {
	var lowest uint32
	first := true
	for _, sec := range c.Object.Sections {
		if first || sec.Address < lowest {
			lowest = sec.Address
			first = false
		}
	}
	return lowest
}

// applyAlignmentOverrides rewrites the Align field of every child section
// named in the config's alignments list; both the Object Writer's
// sh_addralign and the linker script's ALIGN directives read it from here.
func applyAlignmentOverrides(children []split.ChildObject, overrides map[string]uint32) {
	if len(overrides) == 0 {
		return
	}
	for _, c := range children {
		for i, sec := range c.Object.Sections {
			if a, ok := overrides[sec.Name]; ok && a != 0 {
				sec.Align = a
				c.Object.Sections[i] = sec
			}
		}
	}
}

// crossTUReferenceChecker reports whether a symbol defined in one TU is
// referenced by a relocation originating in a different TU, the signal
// split.Split needs to decide which local symbols must be promoted to
// global (spec.md §4.7 rule (i)).
func crossTUReferenceChecker(obj *object.Object, tus []split.TU) func(object.SymbolRef) bool {
	owner := make(map[object.SymbolRef]string, len(obj.Symbols))
	for _, tu := range tus {
		for secIdx, r := range tu.Ranges {
			for ref := range obj.Symbols {
				if ref.Section != secIdx {
					continue
				}
				addr := obj.Address(ref)
				if addr >= r.Start && addr < r.End {
					owner[ref] = tu.Name
				}
			}
		}
	}

	referencers := make(map[object.SymbolRef]map[string]bool)
	for secIdx, relocs := range obj.Relocations {
		for _, rel := range relocs {
			addr := obj.Sections[secIdx].Address + rel.Offset
			from := tuOwning(tus, secIdx, addr)
			if from == "" {
				continue
			}
			if referencers[rel.Target] == nil {
				referencers[rel.Target] = make(map[string]bool)
			}
			referencers[rel.Target][from] = true
		}
	}

	return func(ref object.SymbolRef) bool {
		own := owner[ref]
		for from := range referencers[ref] {
			if from != own {
				return true
			}
		}
		return false
	}
}

// resolveForcedBoundaries combines the Signature Matcher's automatic
// forced-boundary set with the project config's forced_splits/
// forced_non_splits symbol name lists (spec.md §6): a name in
// forcedSplitNames adds that symbol's address to the set even if no
// signature matched it; a name in forcedNonSplitNames removes it, letting
// the user override a signature match they know is safe to merge.
func resolveForcedBoundaries(obj *object.Object, sigBoundaries []uint32, forcedSplitNames, forcedNonSplitNames []string) []uint32 {
	set := make(map[uint32]bool, len(sigBoundaries)+len(forcedSplitNames))
	for _, addr := range sigBoundaries {
		set[addr] = true
	}
	for _, name := range forcedSplitNames {
		if sym, ok := obj.SymbolByName(name); ok {
			set[obj.Address(sym.Ref)] = true
		}
	}
	for _, name := range forcedNonSplitNames {
		if sym, ok := obj.SymbolByName(name); ok {
			delete(set, obj.Address(sym.Ref))
		}
	}

	out := make([]uint32, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func functionAddrs(fns []cfa.Function) []uint32 {
	out := make([]uint32, len(fns))
	for i, fn := range fns {
		out[i] = fn.Start
	}
	return out
}

func tuOwning(tus []split.TU, secIdx int, addr uint32) string {
	for _, tu := range tus {
		if r, ok := tu.Ranges[secIdx]; ok && addr >= r.Start && addr < r.End {
			return tu.Name
		}
	}
	return ""
}

// buildEdges constructs the Link Orderer's reference graph per spec.md
// §4.8's two edge kinds: U→V when U's lowest address in some section is
// strictly lower than V's lowest in the same section, and U→V when a
// support-table relocation in U targets a symbol whose nearest enclosing
// owner is V. Ordinary code relocations contribute no edges; mutual
// cross-TU calls would otherwise manufacture cycles out of a graph the
// spec requires to be acyclic.
func buildEdges(children []split.ChildObject, ownerByAddr map[uint32]string) []linkorder.Edge {
	seen := make(map[linkorder.Edge]bool)
	var edges []linkorder.Edge
	add := func(e linkorder.Edge) {
		if e.From != e.To && !seen[e] {
			seen[e] = true
			edges = append(edges, e)
		}
	}

	for _, e := range addressOrderEdges(children) {
		add(e)
	}

	for _, c := range children {
		for secIdx, relocs := range c.Object.Relocations {
			switch c.Object.Sections[secIdx].Kind {
			case object.SectionCtors, object.SectionDtors, object.SectionExtab, object.SectionExtabIndex:
			default:
				continue
			}
			for _, rel := range relocs {
				targetAddr := c.Object.Address(rel.Target)
				to, ok := ownerByAddr[targetAddr]
				if !ok {
					continue
				}
				add(linkorder.Edge{From: c.Name, To: to})
			}
		}
	}
	return edges
}

// addressOrderEdges derives the §4.8 same-section address-order edges:
// for every section name, TUs are grouped by their lowest address within
// that section and each group is linked to the next strictly higher one.
// Chaining consecutive groups rather than emitting the full pairwise set
// keeps the graph linear; transitivity gives the topological sort the
// same constraint. Co-split support sections share one synthetic address
// across TUs and so land in a single group, contributing no edge.
func addressOrderEdges(children []split.ChildObject) []linkorder.Edge {
	type entry struct {
		tu     string
		lowest uint32
	}
	bySection := make(map[string][]entry)
	for _, c := range children {
		lowestIn := make(map[string]uint32)
		for _, sec := range c.Object.Sections {
			if cur, ok := lowestIn[sec.Name]; !ok || sec.Address < cur {
				lowestIn[sec.Name] = sec.Address
			}
		}
		for name, lowest := range lowestIn {
			bySection[name] = append(bySection[name], entry{tu: c.Name, lowest: lowest})
		}
	}

	names := make([]string, 0, len(bySection))
	for name := range bySection {
		names = append(names, name)
	}
	sort.Strings(names)

	var edges []linkorder.Edge
	for _, name := range names {
		entries := bySection[name]
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].lowest != entries[j].lowest {
				return entries[i].lowest < entries[j].lowest
			}
			return entries[i].tu < entries[j].tu
		})
		groupStart := 0
		for i := 1; i <= len(entries); i++ {
			if i < len(entries) && entries[i].lowest == entries[groupStart].lowest {
				continue
			}
			if i < len(entries) {
				for _, from := range entries[groupStart:i] {
					for _, to := range entries[i:] {
						if to.lowest != entries[i].lowest {
							break
						}
						edges = append(edges, linkorder.Edge{From: from.tu, To: to.tu})
					}
				}
			}
			groupStart = i
		}
	}
	return edges
}

func buildScript(children []split.ChildObject, order []string) linkorder.Script {
	byName := make(map[string]split.ChildObject, len(children))
	for _, c := range children {
		byName[c.Name] = c
	}

	bySection := make(map[string][]string) // section name -> object names in link order
	addrBySection := make(map[string]uint32)
	alignBySection := make(map[string]uint32)
	for _, name := range order {
		c := byName[name]
		for _, sec := range c.Object.Sections {
			bySection[sec.Name] = append(bySection[sec.Name], name)
			if _, ok := addrBySection[sec.Name]; !ok {
				addrBySection[sec.Name] = sec.Address
			}
			if sec.Align > alignBySection[sec.Name] {
				alignBySection[sec.Name] = sec.Align
			}
		}
	}

	names := make([]string, 0, len(bySection))
	for name := range bySection {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return addrBySection[names[i]] < addrBySection[names[j]] })

	var placements []linkorder.SectionPlacement
	for _, name := range names {
		placements = append(placements, linkorder.SectionPlacement{
			Name:    name,
			Address: addrBySection[name],
			Align:   alignBySection[name],
			Objects: bySection[name],
		})
	}

	return linkorder.Script{
		Regions:  []linkorder.MemoryRegion{{Name: "MEM_RAM", Origin: 0x80000000, Length: 0x01800000, Attributes: "rwx"}},
		Sections: placements,
	}
}

// writeObjectsConcurrently serializes every translation unit's child
// Object with the Object Writer, one worker per TU (spec.md §5: "an
// implementation MAY parallelize ... per-TU writing"), since Write is a
// pure function of its input Object and workers never share mutable
// state.
func writeObjectsConcurrently(children []split.ChildObject) (map[string][]byte, error) {
	type result struct {
		name  string
		bytes []byte
		err   error
	}
	results := make(chan result, len(children))
	var wg sync.WaitGroup
	for _, c := range children {
		wg.Add(1)
		go func(c split.ChildObject) {
			defer wg.Done()
			b, err := objwriter.Write(c.Object)
			results <- result{name: c.Name, bytes: b, err: err}
		}(c)
	}
	wg.Wait()
	close(results)

	out := make(map[string][]byte, len(children))
	for r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out[r.name] = r.bytes
	}
	return out, nil
}
