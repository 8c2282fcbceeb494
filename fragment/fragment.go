// Package fragment defines the boundary this back end shares with the
// fragment manager / trampoline compiler, which spec.md §1 places out of
// scope as an external collaborator. It supplies the narrow Resolver
// interface — "does fragment X have a known entry address yet" — that
// the assembler holds as its Frags field (the fragment-exit selector,
// asm_frag_exit, does not query it), plus a small
// in-memory Table good enough to drive tests and the CLI's smoke-compile
// path without a real trace cache.
package fragment

// ID names a compiled fragment; the LIR's guard-record accessor (spec.md
// §6) surfaces one of these as a side-exit's target.
type ID uint32

// Resolver answers whether a fragment's entry point is already known.
// The real fragment manager backs this with its trace cache; here it is
// consumed strictly as an interface, per spec.md §1/§6.
type Resolver interface {
	Resolve(id ID) (entry uintptr, ok bool)
}

// Table is a minimal, map-backed Resolver, used by tests and by the CLI
// driver for single-fragment smoke compiles where no real trace cache
// exists yet.
type Table struct {
	entries map[ID]uintptr
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{entries: map[ID]uintptr{}}
}

// Resolve implements Resolver.
func (t *Table) Resolve(id ID) (uintptr, bool) {
	addr, ok := t.entries[id]
	return addr, ok
}

// Register records id's entry address, e.g. once a fragment finishes
// compiling and its code has been handed off (spec.md §5).
func (t *Table) Register(id ID, entry uintptr) {
	t.entries[id] = entry
}
