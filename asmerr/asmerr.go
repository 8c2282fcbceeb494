// Package asmerr defines the three error kinds spec.md §7 names for the
// x86-64 back end, as sentinel errors usable with errors.Is/errors.As —
// the idiomatic Go rendering of the spec's "kind of error" taxonomy.
package asmerr

import "fmt"

// BranchTooFar is returned when an instruction needing a disp32 (or a
// later patch request) observed a target farther than 2 GiB away. The
// driver may retry the whole compilation with ForceLongBranch set.
var BranchTooFar = fmt.Errorf("asmerr: branch target exceeds 32-bit reach")

// UnsupportedOpcode is returned when the selector is asked to translate
// a LIR opcode it does not implement. It is returned whether or not
// Debug is set; no Assert guards that case.
var UnsupportedOpcode = fmt.Errorf("asmerr: unsupported LIR opcode")

// PreconditionViolation marks a register-class or immediate-size
// mismatch between the code selector and the mnemonic layer — a
// programming bug, not a recoverable runtime condition.
var PreconditionViolation = fmt.Errorf("asmerr: precondition violation")

// Opcode wraps UnsupportedOpcode with the failing opcode's name and
// program-counter, matching the wrapping style of the teacher's own
// `fmt.Errorf("unknown opcode %s at pc %d", ...)`.
func Opcode(name string, pc uint64) error {
	return fmt.Errorf("%w: %s at pc %d", UnsupportedOpcode, name, pc)
}

// Precondition wraps PreconditionViolation with a caller-supplied reason.
func Precondition(format string, args ...any) error {
	return fmt.Errorf("%w: %s", PreconditionViolation, fmt.Sprintf(format, args...))
}

// Debug gates the assert-in-debug/undefined-in-release split spec.md §7
// calls for. Left false in normal builds; test code that wants strict
// precondition checking sets it explicitly.
var Debug = false

// Assert panics with a Precondition error when Debug is enabled and cond
// is false; it is a silent no-op otherwise, matching "asserted in debug
// builds; in release ... undefined".
func Assert(cond bool, format string, args ...any) {
	if !Debug || cond {
		return
	}
	panic(Precondition(format, args...))
}
