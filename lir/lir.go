// Package lir is the concrete, minimal low-level intermediate
// representation this repository uses to exercise the x86-64 back end.
// The real LIR — its opcode catalogue, def-use chains, and the pass that
// produces it — is explicitly out of scope for this back end (spec.md
// §1); this package supplies just enough of a typed, instruction-is-its-
// own-value SSA form to drive the code selector described in spec.md
// §4.4 through every accessor spec.md §3/§6 names.
//
// Instructions double as values (as in LLVM/SSA IR): an instruction's
// result is referenced by other instructions holding a pointer to it.
package lir

import "github.com/tracejit/x64backend/reg"

// Type is the LIR's scalar/vector value type.
type Type uint8

const (
	TI  Type = iota // 32-bit integer
	TQ              // 64-bit integer or pointer
	TD              // 64-bit (double) float
	TF              // 32-bit (single) float
	TF4             // 128-bit, 4x float32 vector
)

func (t Type) String() string {
	return [...]string{"i", "q", "d", "f", "f4"}[t]
}

// Cond is a comparison condition, shared by integer and floating compare
// opcodes; the selector (spec.md §4.4 asm_cmpd) is responsible for the
// lt->gt(swap) / le->ge(swap) rewrite float comparisons need.
type Cond uint8

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondLE
	CondGT
	CondGE
	CondLTU
	CondLEU
	CondGTU
	CondGEU
)

// Opcode names one LIR operation family. Width/signedness is carried on
// the Type field rather than duplicated per opcode.
type Opcode uint16

const (
	OpParam Opcode = iota
	OpParamSaved
	OpImm

	OpAdd
	OpSub
	OpAnd
	OpOr
	OpXor
	OpMul
	OpDiv
	OpMod
	OpNeg
	OpNot
	OpShl
	OpShr // logical right shift
	OpSar // arithmetic right shift

	// Overflow-checked arithmetic; the selector emits the ALU op
	// followed by a jo/jno branch (spec.md §4.4 asm_branch_ov).
	OpAddJov
	OpSubJov
	OpMulJov

	OpCmp   // produces a condition-code-bearing pseudo-value
	OpCond  // materializes Cmp's result as a 0/1 integer (asm_cond)
	OpCmov  // select(cmp, ifTrue, ifFalse)
	OpBranch

	OpLoad
	OpStore
	OpCall
	OpRet
	OpJump
	OpLabel     // basic-block entry, used only as a branch target
	OpGuardExit // trace side-exit

	// Conversions (spec.md §4.4).
	OpI2D
	OpQ2D
	OpUI2D
	OpI2F
	OpUI2F
	OpF2I
	OpD2I
	OpF2D
	OpD2F
	OpF2F4
	OpFFFF2F4
	OpSwzF4 // lane swizzle: f4x/y/z/w and general swzf4
)

// CallInfo carries the ABI-relevant facts about an OpCall instruction.
type CallInfo struct {
	Callee   uint64 // absolute address; meaningless when Indirect
	Indirect bool
	ArgTypes []Type
}

// Instruction is both a LIR operation and, if it produces a result, the
// value other instructions reference by pointer. Register-allocation
// state (Reg/HasReg/Disp/HasDisp) is mutated in place by package
// regalloc as the selector walks the function backwards — this mirrors
// the teacher's own instructions carrying their allocation state
// directly (pvm's Instruction.Args/Pc fields play the analogous role for
// the simpler fixed-register PVM ISA).
type Instruction struct {
	ID   int
	Op   Opcode
	Type Type

	// Operands, 1-indexed per spec.md §3/§6 ("operands 1..4"); Oprnd(0)
	// panics.
	operands [4]*Instruction
	noper    int

	// Immediate payload; only the field matching Type is meaningful.
	ImmI  int32
	ImmQ  int64
	ImmD  float64
	ImmF  float32
	ImmF4 [4]float32

	// Register allocation state, mutated by regalloc.
	Reg     reg.Register
	HasReg  bool
	Disp    int32
	HasDisp bool

	Tainted bool

	// Branch/compare metadata.
	Cond   Cond
	Invert bool         // OpBranch: take the branch when Cond's value is false
	Target *Instruction // OpJump/OpBranch target (an OpLabel)

	// Call metadata.
	Call *CallInfo

	// Param metadata.
	ParamIndex int

	// PC is an opaque diagnostic value (e.g. LIR program offset), used
	// only in error messages.
	PC uint64
}

// Opcode returns the instruction's opcode.
func (ins *Instruction) Opcode() Opcode { return ins.Op }

// Oprnd returns the i'th operand (1..4).
func (ins *Instruction) Oprnd(i int) *Instruction {
	if i < 1 || i > 4 {
		panic("lir: operand index out of range")
	}
	return ins.operands[i-1]
}

// NOperands reports how many operands are populated.
func (ins *Instruction) NOperands() int { return ins.noper }

func (ins *Instruction) setOperands(ops ...*Instruction) *Instruction {
	if len(ops) > 4 {
		panic("lir: at most 4 operands supported")
	}
	ins.noper = len(ops)
	copy(ins.operands[:], ops)
	return ins
}

// Type predicates (spec.md §3: isI, isQ, isD, isF, isF4).
func (ins *Instruction) IsI() bool  { return ins.Type == TI }
func (ins *Instruction) IsQ() bool  { return ins.Type == TQ }
func (ins *Instruction) IsD() bool  { return ins.Type == TD }
func (ins *Instruction) IsF() bool  { return ins.Type == TF }
func (ins *Instruction) IsF4() bool { return ins.Type == TF4 }

// Immediate-kind predicates (isImmI, isImmQ, isImmD, isImmF, isImmF4,
// isImmAny).
func (ins *Instruction) IsImmI() bool   { return ins.Op == OpImm && ins.Type == TI }
func (ins *Instruction) IsImmQ() bool   { return ins.Op == OpImm && ins.Type == TQ }
func (ins *Instruction) IsImmD() bool   { return ins.Op == OpImm && ins.Type == TD }
func (ins *Instruction) IsImmF() bool   { return ins.Op == OpImm && ins.Type == TF }
func (ins *Instruction) IsImmF4() bool  { return ins.Op == OpImm && ins.Type == TF4 }
func (ins *Instruction) IsImmAny() bool { return ins.Op == OpImm }

// Register-assignment predicates/accessors (isInReg, getReg, isInRegMask).
func (ins *Instruction) IsInReg() bool { return ins.HasReg }
func (ins *Instruction) GetReg() reg.Register {
	if !ins.HasReg {
		panic("lir: GetReg on unallocated instruction")
	}
	return ins.Reg
}
func (ins *Instruction) IsInRegMask(m reg.RegisterMask) bool {
	return ins.HasReg && m.Contains(ins.Reg)
}

// ArDisp returns the spill-slot displacement (from the frame pointer)
// assigned to this instruction, if any.
func (ins *Instruction) ArDisp() int32 {
	if !ins.HasDisp {
		panic("lir: ArDisp on instruction with no spill slot")
	}
	return ins.Disp
}

// IsTainted reports whether this value is derivable from
// attacker-controlled input (spec.md §3/§7 "taint bit").
func (ins *Instruction) IsTainted() bool { return ins.Tainted }
