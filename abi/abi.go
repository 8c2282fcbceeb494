// Package abi holds the two calling-convention tables the code selector
// and prologue/epilogue consult: System V AMD64 and Microsoft x64.
package abi

import "github.com/tracejit/x64backend/reg"

// Convention is an immutable description of one platform's calling
// convention, selected at build time (spec.md §3 "Calling convention
// tables").
type Convention struct {
	Name string

	// GPArgs and FPArgs are ordered argument-register sequences.
	GPArgs []reg.Register
	FPArgs []reg.Register

	// CalleeSaved is the ordered set of registers the callee must
	// preserve; the prologue/epilogue push/pop these around the frame.
	CalleeSaved []reg.Register

	// ShadowSpace is the number of bytes the caller must reserve above
	// the return address for the callee's use (Windows x64 only).
	ShadowSpace int

	// StackAlign is the required RSP alignment at a `call` instruction.
	StackAlign int

	// Windows selects the Microsoft x64 rules where the two ABIs differ:
	// GP and FP arguments share positional slots (GPArgSlot/FPArgSlot),
	// and the prologue adds ShadowSpace and touches each stack page. It
	// is false for SystemV. (float4 arguments are passed by pointer on
	// both ABIs regardless; see F4ArgSlot.)
	Windows bool
}

// SystemV is the Linux/BSD/macOS AMD64 calling convention: 6 GP argument
// registers, 8 XMM argument registers, 5 callee-saved GP registers, no
// shadow space.
var SystemV = Convention{
	Name:   "systemv",
	GPArgs: []reg.Register{reg.RDI, reg.RSI, reg.RDX, reg.RCX, reg.R8, reg.R9},
	FPArgs: []reg.Register{
		reg.XMM0, reg.XMM1, reg.XMM2, reg.XMM3,
		reg.XMM4, reg.XMM5, reg.XMM6, reg.XMM7,
	},
	CalleeSaved: []reg.Register{reg.RBX, reg.R12, reg.R13, reg.R14, reg.R15},
	ShadowSpace: 0,
	StackAlign:  16,
	Windows:     false,
}

// Windows64 is the Microsoft x64 calling convention: 4 argument slots
// shared positionally between GP and XMM registers, 32 bytes of caller-
// reserved shadow space, 7 callee-saved GP registers.
var Windows64 = Convention{
	Name:   "win64",
	GPArgs: []reg.Register{reg.RCX, reg.RDX, reg.R8, reg.R9},
	FPArgs: []reg.Register{reg.XMM0, reg.XMM1, reg.XMM2, reg.XMM3},
	CalleeSaved: []reg.Register{
		reg.RBX, reg.RSI, reg.RDI, reg.R12, reg.R13, reg.R14, reg.R15,
	},
	ShadowSpace: 32,
	StackAlign:  16,
	Windows:     true,
}

// ArgSlot describes where the Nth call argument of a given class lands
// under Windows' positional (not per-class) argument-register scheme.
type ArgSlot struct {
	Reg       reg.Register
	InMemory  bool // beyond the register window: passed on the stack
	ByPointer bool // float4: passed by pointer in a GP slot (both ABIs)
}

// GPArgSlot returns the register (or memory disposition) for the argIndex
// GP-typed argument. On System V, GP and FP arguments have independent
// counters; on Windows the counters are shared and positional.
func (c Convention) GPArgSlot(argIndex int) ArgSlot {
	if c.Windows {
		return c.positionalSlot(argIndex, true)
	}
	if argIndex < len(c.GPArgs) {
		return ArgSlot{Reg: c.GPArgs[argIndex]}
	}
	return ArgSlot{InMemory: true}
}

// FPArgSlot returns the register (or memory disposition) for the argIndex
// FP-typed (scalar float/double) argument.
func (c Convention) FPArgSlot(argIndex int) ArgSlot {
	if c.Windows {
		return c.positionalSlot(argIndex, false)
	}
	if argIndex < len(c.FPArgs) {
		return ArgSlot{Reg: c.FPArgs[argIndex]}
	}
	return ArgSlot{InMemory: true}
}

// F4ArgSlot returns the disposition for a float4 (128-bit vector)
// argument at the given positional slot index. Per spec.md §9 Open
// Question (b), float4 arguments are passed by pointer in a GP slot on
// both ABIs.
func (c Convention) F4ArgSlot(argIndex int) ArgSlot {
	slot := c.positionalSlot(argIndex, true)
	slot.ByPointer = true
	return slot
}

// positionalSlot implements Windows' shared 0..3 slot index: forceGP
// pins the slot to the GP register regardless of class (GPArgSlot,
// F4ArgSlot), while a slot requested as FP (forceGP false) still falls
// back to the GP register once the index runs past FPArgs' length.
func (c Convention) positionalSlot(argIndex int, forceGP bool) ArgSlot {
	if argIndex >= len(c.GPArgs) {
		return ArgSlot{InMemory: true}
	}
	if forceGP || argIndex >= len(c.FPArgs) {
		return ArgSlot{Reg: c.GPArgs[argIndex]}
	}
	return ArgSlot{Reg: c.FPArgs[argIndex]}
}

// ResultGP and ResultFP name the registers that hold integer/pointer and
// scalar-float results respectively; identical on both ABIs.
const (
	ResultGP = reg.RAX
)

var ResultFP = reg.XMM0
