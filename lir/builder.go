package lir

// Func is a single trace fragment's LIR program: a flat, forward-ordered
// instruction list (definitions always precede uses, as in any SSA form)
// that the assembler's code selector visits in reverse (spec.md §4: "the
// selector walks the LIR backwards, emitting into a reverse-growing
// buffer").
type Func struct {
	Name  string
	Instr []*Instruction
	next  int
}

// NewFunc returns an empty fragment builder.
func NewFunc(name string) *Func {
	return &Func{Name: name}
}

func (f *Func) emit(ins *Instruction) *Instruction {
	ins.ID = f.next
	f.next++
	f.Instr = append(f.Instr, ins)
	return ins
}

// ReverseWalk returns the fragment's instructions in reverse program
// order, the order the code selector (package asm) consumes them in.
func (f *Func) ReverseWalk() []*Instruction {
	out := make([]*Instruction, len(f.Instr))
	for i, ins := range f.Instr {
		out[len(f.Instr)-1-i] = ins
	}
	return out
}

// Param appends a parameter-read instruction (asm_param) for positional
// argument index idx.
func (f *Func) Param(idx int, t Type) *Instruction {
	return f.emit(&Instruction{Op: OpParam, Type: t, ParamIndex: idx})
}

// ParamSaved appends a callee-saved-register parameter read
// (asm_param_saved): the value already lives in a fixed register at
// fragment entry rather than an ABI argument slot.
func (f *Func) ParamSaved(idx int, t Type) *Instruction {
	return f.emit(&Instruction{Op: OpParamSaved, Type: t, ParamIndex: idx})
}

// ImmI appends a 32-bit integer immediate.
func (f *Func) ImmI(v int32) *Instruction {
	return f.emit(&Instruction{Op: OpImm, Type: TI, ImmI: v})
}

// ImmQ appends a 64-bit integer/pointer immediate.
func (f *Func) ImmQ(v int64) *Instruction {
	return f.emit(&Instruction{Op: OpImm, Type: TQ, ImmQ: v})
}

// ImmD appends a double-precision float immediate.
func (f *Func) ImmD(v float64) *Instruction {
	return f.emit(&Instruction{Op: OpImm, Type: TD, ImmD: v})
}

// ImmF appends a single-precision float immediate.
func (f *Func) ImmF(v float32) *Instruction {
	return f.emit(&Instruction{Op: OpImm, Type: TF, ImmF: v})
}

// ImmF4 appends a 4x float32 vector immediate.
func (f *Func) ImmF4(v [4]float32) *Instruction {
	return f.emit(&Instruction{Op: OpImm, Type: TF4, ImmF4: v})
}

// bin appends a two-operand instruction of the given opcode/type.
func (f *Func) bin(op Opcode, t Type, a, b *Instruction) *Instruction {
	ins := &Instruction{Op: op, Type: t}
	ins.setOperands(a, b)
	return f.emit(ins)
}

func (f *Func) Add(t Type, a, b *Instruction) *Instruction { return f.bin(OpAdd, t, a, b) }
func (f *Func) Sub(t Type, a, b *Instruction) *Instruction { return f.bin(OpSub, t, a, b) }
func (f *Func) And(t Type, a, b *Instruction) *Instruction { return f.bin(OpAnd, t, a, b) }
func (f *Func) Or(t Type, a, b *Instruction) *Instruction  { return f.bin(OpOr, t, a, b) }
func (f *Func) Xor(t Type, a, b *Instruction) *Instruction { return f.bin(OpXor, t, a, b) }
func (f *Func) Mul(t Type, a, b *Instruction) *Instruction { return f.bin(OpMul, t, a, b) }
func (f *Func) Div(t Type, a, b *Instruction) *Instruction { return f.bin(OpDiv, t, a, b) }
func (f *Func) Mod(t Type, a, b *Instruction) *Instruction { return f.bin(OpMod, t, a, b) }
func (f *Func) Shl(t Type, a, b *Instruction) *Instruction { return f.bin(OpShl, t, a, b) }
func (f *Func) Shr(t Type, a, b *Instruction) *Instruction { return f.bin(OpShr, t, a, b) }
func (f *Func) Sar(t Type, a, b *Instruction) *Instruction { return f.bin(OpSar, t, a, b) }

// AddJov/SubJov/MulJov append overflow-checked arithmetic; the selector
// emits the ALU op directly followed by a jo/jno to the given exit.
func (f *Func) AddJov(t Type, a, b, exit *Instruction) *Instruction {
	ins := &Instruction{Op: OpAddJov, Type: t, Target: exit}
	ins.setOperands(a, b)
	return f.emit(ins)
}
func (f *Func) SubJov(t Type, a, b, exit *Instruction) *Instruction {
	ins := &Instruction{Op: OpSubJov, Type: t, Target: exit}
	ins.setOperands(a, b)
	return f.emit(ins)
}
func (f *Func) MulJov(t Type, a, b, exit *Instruction) *Instruction {
	ins := &Instruction{Op: OpMulJov, Type: t, Target: exit}
	ins.setOperands(a, b)
	return f.emit(ins)
}

func (f *Func) Neg(t Type, a *Instruction) *Instruction {
	ins := &Instruction{Op: OpNeg, Type: t}
	ins.setOperands(a)
	return f.emit(ins)
}
func (f *Func) Not(t Type, a *Instruction) *Instruction {
	ins := &Instruction{Op: OpNot, Type: t}
	ins.setOperands(a)
	return f.emit(ins)
}

// Cmp appends a comparison; its only consumers should be Cond, Cmov, or
// Branch.
func (f *Func) Cmp(cond Cond, a, b *Instruction) *Instruction {
	ins := &Instruction{Op: OpCmp, Type: TI, Cond: cond}
	ins.setOperands(a, b)
	return f.emit(ins)
}

// Cond materializes cmp's boolean result as a 0/1 32-bit integer
// (asm_cond).
func (f *Func) Cond(cmp *Instruction) *Instruction {
	ins := &Instruction{Op: OpCond, Type: TI}
	ins.setOperands(cmp)
	return f.emit(ins)
}

// Cmov selects ifTrue or ifFalse per cmp's result (asm_cmov).
func (f *Func) Cmov(t Type, cmp, ifTrue, ifFalse *Instruction) *Instruction {
	ins := &Instruction{Op: OpCmov, Type: t}
	ins.setOperands(cmp, ifTrue, ifFalse)
	return f.emit(ins)
}

// Label appends a branch-target pseudo-instruction.
func (f *Func) Label() *Instruction {
	return f.emit(&Instruction{Op: OpLabel})
}

// Branch appends a conditional branch to target, taken when cmp's
// condition holds.
func (f *Func) Branch(cmp, target *Instruction) *Instruction {
	ins := &Instruction{Op: OpBranch, Target: target}
	ins.setOperands(cmp)
	return f.emit(ins)
}

// BranchIfFalse appends a conditional branch to target, taken when cmp's
// condition does NOT hold (spec.md §8 scenario 4's "branch(onFalse, ...)").
func (f *Func) BranchIfFalse(cmp, target *Instruction) *Instruction {
	ins := &Instruction{Op: OpBranch, Target: target, Invert: true}
	ins.setOperands(cmp)
	return f.emit(ins)
}

// Jump appends an unconditional branch to target.
func (f *Func) Jump(target *Instruction) *Instruction {
	return f.emit(&Instruction{Op: OpJump, Target: target})
}

// GuardExit appends a trace side-exit instruction, gated on cmp.
func (f *Func) GuardExit(cmp *Instruction) *Instruction {
	ins := &Instruction{Op: OpGuardExit}
	ins.setOperands(cmp)
	return f.emit(ins)
}

// Load appends a memory load of type t from base+disp.
func (f *Func) Load(t Type, base *Instruction, disp int32) *Instruction {
	ins := &Instruction{Op: OpLoad, Type: t, ImmI: disp}
	ins.setOperands(base)
	return f.emit(ins)
}

// Store appends a memory store of val to base+disp.
func (f *Func) Store(base *Instruction, disp int32, val *Instruction) *Instruction {
	ins := &Instruction{Op: OpStore, Type: val.Type, ImmI: disp}
	ins.setOperands(base, val)
	return f.emit(ins)
}

// Call appends a direct or indirect call. callee is the target
// instruction for indirect calls, nil for direct calls (whose address
// lives in info.Callee).
func (f *Func) Call(t Type, info *CallInfo, callee *Instruction, args ...*Instruction) *Instruction {
	ins := &Instruction{Op: OpCall, Type: t, Call: info}
	ops := args
	if callee != nil {
		ops = append([]*Instruction{callee}, args...)
	}
	ins.setOperands(ops...)
	return f.emit(ins)
}

// Ret appends a fragment return of val (nil for a void return).
func (f *Func) Ret(val *Instruction) *Instruction {
	ins := &Instruction{Op: OpRet}
	if val != nil {
		ins.setOperands(val)
	}
	return f.emit(ins)
}

// Conversion helpers (asm_cvt family).
func (f *Func) conv(op Opcode, t Type, a *Instruction) *Instruction {
	ins := &Instruction{Op: op, Type: t}
	ins.setOperands(a)
	return f.emit(ins)
}

func (f *Func) I2D(a *Instruction) *Instruction  { return f.conv(OpI2D, TD, a) }
func (f *Func) Q2D(a *Instruction) *Instruction  { return f.conv(OpQ2D, TD, a) }
func (f *Func) UI2D(a *Instruction) *Instruction { return f.conv(OpUI2D, TD, a) }
func (f *Func) I2F(a *Instruction) *Instruction  { return f.conv(OpI2F, TF, a) }
func (f *Func) UI2F(a *Instruction) *Instruction { return f.conv(OpUI2F, TF, a) }
func (f *Func) F2I(a *Instruction) *Instruction  { return f.conv(OpF2I, TI, a) }
func (f *Func) D2I(a *Instruction) *Instruction  { return f.conv(OpD2I, TI, a) }
func (f *Func) F2D(a *Instruction) *Instruction  { return f.conv(OpF2D, TD, a) }
func (f *Func) D2F(a *Instruction) *Instruction  { return f.conv(OpD2F, TF, a) }

// F4FromScalars packs four independent float32 values into one f4.
func (f *Func) F4FromScalars(a, b, c, d *Instruction) *Instruction {
	ins := &Instruction{Op: OpFFFF2F4, Type: TF4}
	ins.setOperands(a, b, c, d)
	return f.emit(ins)
}

// F2F4 broadcasts/widens a single scalar float into an f4 lane 0.
func (f *Func) F2F4(a *Instruction) *Instruction { return f.conv(OpF2F4, TF4, a) }

// SwzF4 appends a lane-swizzle of an f4 value; lanes[i] selects which of
// the 4 input lanes (0-3) output lane i copies from. lanes always has
// four entries; an f4x/f4y/f4z/f4w extract is a pattern whose lane 0
// entry names the wanted input lane.
func (f *Func) SwzF4(a *Instruction, lanes [4]byte) *Instruction {
	ins := &Instruction{Op: OpSwzF4, Type: TF4, ImmF4: [4]float32{
		float32(lanes[0]), float32(lanes[1]), float32(lanes[2]), float32(lanes[3]),
	}}
	ins.setOperands(a)
	return f.emit(ins)
}

// Taint marks ins as attacker-influenced, requiring blinded immediate
// materialization and displacement handling wherever it feeds an
// instruction spec.md §4.4/§4.7 names as blind-sensitive.
func (ins *Instruction) Taint() *Instruction {
	ins.Tainted = true
	return ins
}
