// Package guard defines the guard record spec.md §3/§6 hands the
// assembler at a trace side-exit: enough state for the fragment manager
// to later overwrite the exit's jump target once the guarded path is
// itself compiled.
package guard

// PatchKind identifies which of the three bit-exact patch-site shapes
// spec.md §6 allows nPatchBranch to recognize.
type PatchKind int

const (
	// PatchRel32 covers `jmp rel32`, `jcc rel32`, and `call rel32`: the
	// patch site is a 4-byte displacement immediately preceding
	// InstrEnd.
	PatchRel32 PatchKind = iota
	// PatchAbs64 covers an 8-byte absolute address embedded in a
	// `jmp [rip+0]` trampoline.
	PatchAbs64
)

// Record associates one patchable exit location with the LIR guard that
// produced it. The fragment manager (out of scope for this back end)
// owns the lifetime of Records; the assembler only ever appends to and
// reads from them.
type Record struct {
	// GuardID is an opaque identifier supplied by the LIR; this back end
	// never interprets it.
	GuardID uint64

	// ExitCode is an opaque value for the fragment manager's use; the
	// assembler never sets it. At the exit RAX holds the address of this
	// Record itself, from which the fragment manager can recover which
	// guard fired.
	ExitCode uint64

	// PatchAddr is the runtime address of the patch site's first byte
	// (the start of the rel32/abs64 field, not the instruction itself).
	PatchAddr uintptr
	Kind      PatchKind

	// InstrEnd is the address immediately after the patched instruction;
	// PC-relative patch values are computed as target-InstrEnd.
	InstrEnd uintptr

	// patched records whether Patch has already installed a target,
	// making a second identical Patch call a no-op (spec.md §8
	// "Idempotent patching").
	patched     bool
	lastTarget  uintptr
	lastReach   reach
}

type reach int

const (
	reachNone reach = iota
	reach8
	reach32
	reach64
)
