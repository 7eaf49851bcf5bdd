// Package rso is a placeholder for Wii RSO (Relocatable Shared Object)
// support. RSO shares REL's basic shape (runtime-loaded, self-relocating)
// but with a different header layout and an export/import model some Wii
// titles use instead of REL; spec.md §9 Open Question (i) declares full RSO
// handling non-functional for this core and asks for a stub interface with
// a clear unimplemented error rather than silently misparsing the format.
package rso

import (
	"errors"

	"github.com/gc-decomp/splitter/internal/object"
)

// ErrNotImplemented is returned by every Loader method. Callers should
// treat an RSO input as unsupported and fail the run rather than attempt a
// best-effort parse, since RSO's header and relocation stream diverge from
// REL enough that reusing the REL reader would silently misread them.
var ErrNotImplemented = errors.New("rso: RSO loading is not implemented")

// Loader is the interface the Binary Loader would implement for RSO input,
// mirrored on dolrel's ParseREL/ParseDOL shape so that wiring in a real
// implementation later requires no change to callers beyond swapping the
// concrete type.
type Loader interface {
	// Parse decodes a raw RSO file into an Object. Unlike dolrel.ParsedREL,
	// no module id or export/import tables are returned.
	Parse(data []byte) (*object.Object, error)
}

// stubLoader is the only Loader implementation in this core.
type stubLoader struct{}

// NewLoader returns the stub RSO loader. It exists so call sites can wire
// up an rso.Loader today and get a real implementation later without
// changing their own signatures.
func NewLoader() Loader {
	return stubLoader{}
}

func (stubLoader) Parse([]byte) (*object.Object, error) {
	return nil, ErrNotImplemented
}
