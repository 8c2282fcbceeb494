// Package asm is the Assembler: the mutable, single-compilation-lifetime
// object spec.md §2 describes as owning the reverse-growing code cursor
// and driving the register allocator one LIR instruction at a time.
//
// Grounded on the teacher's RecompilerVM (pvm/recompiler.go), generalized
// from a fixed-register-mapping PVM-to-x86 translator into a real
// selector/allocator pair, and on the teacher's own Disassemble function
// for the round-trip test style carried into assembler_test.go.
package asm

import (
	"fmt"

	"github.com/tracejit/x64backend/abi"
	"github.com/tracejit/x64backend/asmerr"
	"github.com/tracejit/x64backend/blind"
	"github.com/tracejit/x64backend/codebuf"
	"github.com/tracejit/x64backend/constpool"
	"github.com/tracejit/x64backend/fragment"
	"github.com/tracejit/x64backend/guard"
	"github.com/tracejit/x64backend/lir"
	"github.com/tracejit/x64backend/regalloc"
	"github.com/tracejit/x64backend/xlog"
)

// Assembler is the single mutable object one compilation owns: its own
// code cursors, its own register-allocator state, and a private constant
// pool (spec.md §5).
type Assembler struct {
	Buf   *codebuf.Buffer
	Alloc *regalloc.Allocator
	Conv  abi.Convention
	Pool  *constpool.Pool
	Frags fragment.Resolver
	Blind blind.Policy

	// Verbose gates the selector's per-instruction trace line, the
	// togglable counterpart to the teacher's unconditional trace Printfs
	// in Translate — this back end runs inside a JIT's hot path rather
	// than a one-shot CLI, so tracing defaults to off.
	Verbose bool

	guards []*guard.Record

	// cur is the cursor mnemonic emission currently targets; toggled by
	// WithExit to redirect a lazily-generated exit stub without every
	// selector routine threading an explicit cursor argument.
	cur *codebuf.Cursor

	// poolAddr is the address placeConstPool wrote Pool's contents to, 0
	// if the fragment had no non-tainted float/double/float4 immediates
	// to pool. poolLayout is the offset table Pool.Layout() returned at
	// that point, valid for the lifetime of this Assembler since nothing
	// interns further constants into Pool after placement.
	poolAddr   uintptr
	poolLayout constpool.Layout
}

// New returns an Assembler ready to translate one fragment.
func New(buf *codebuf.Buffer, conv abi.Convention, pool *constpool.Pool, frags fragment.Resolver) *Assembler {
	a := &Assembler{
		Buf:   buf,
		Alloc: regalloc.New(conv),
		Conv:  conv,
		Pool:  pool,
		Frags: frags,
		Blind: blind.Default,
	}
	a.cur = buf.Main
	a.Alloc.AssignSavedRegs()
	return a
}

// Guards returns every guard record created while translating this
// fragment, for the fragment manager to later patch.
func (a *Assembler) Guards() []*guard.Record { return a.guards }

// setError poisons the assembler; per spec.md §5 subsequent emission
// becomes a silent no-op until the caller observes Err().
func (a *Assembler) setError(err error) { a.Buf.SetError(err) }

// Err returns the sticky error, if any.
func (a *Assembler) Err() error { return a.Buf.Err() }

// WithExit redirects mnemonic emission to the exit cursor for the
// duration of fn, e.g. while lazily generating a guard's epilogue stub.
func (a *Assembler) WithExit(fn func()) {
	prev := a.cur
	a.cur = a.Buf.Exit
	fn()
	a.cur = prev
}

// bridge builds the unconditional jump underrunProtect writes into a
// freshly opened chunk to reach the byte the old chunk's cursor had
// reached (spec.md §4.2).
func (a *Assembler) bridge(target uintptr) []byte {
	return a.jmpRel32Bytes(target, a.cur.Active().CursorAddr())
}

// emit writes a single complete instruction to the active cursor,
// underrun-protecting first. Every mnemonic routine funnels through this.
func (a *Assembler) emit(bs []byte) uintptr {
	if a.Buf.Err() != nil {
		return 0
	}
	if err := a.Buf.UnderrunProtect(a.cur, len(bs), a.bridge); err != nil {
		return 0
	}
	a.Buf.Emit(a.cur, bs)
	return a.cur.Active().CursorAddr()
}

// placeConstPool pre-scans f for every non-tainted float/double/float4
// immediate, interns each into Pool, and writes the resulting
// deduplicated literal region once, ahead of the backward walk, so
// later RIP-relative references (asmImm's materializeFPImm/
// materializeF4Imm) have a fixed address to compute displacements
// against. Tainted immediates are never interned: a pool slot is just
// as predictable a location as an inline immediate and defeats
// blinding the same way.
func (a *Assembler) placeConstPool(f *lir.Func) {
	for _, ins := range f.Instr {
		switch {
		case ins.IsImmD() && !ins.IsTainted():
			a.Pool.InternF64(ins.ImmD)
		case ins.IsImmF() && !ins.IsTainted():
			a.Pool.InternF32(ins.ImmF)
		case ins.IsImmF4() && !ins.IsTainted():
			a.Pool.InternF4(ins.ImmF4)
		}
	}
	bs := a.Pool.Bytes()
	if len(bs) == 0 {
		return
	}
	a.poolLayout = a.Pool.Layout()
	a.poolAddr = a.emit(bs)
}

// Translate runs the code selector over every instruction of f in
// reverse program order, the discipline spec.md §2 describes.
func (a *Assembler) Translate(f *lir.Func) error {
	a.placeConstPool(f)
	for _, ins := range f.ReverseWalk() {
		if a.Buf.Err() != nil {
			return a.Buf.Err()
		}
		a.trace("selecting ins #%d op=%d type=%d", ins.ID, ins.Opcode(), ins.Type)
		if err := a.selectOne(ins); err != nil {
			a.setError(err)
			return err
		}
	}
	return a.Buf.Err()
}

// trace writes a selector-step diagnostic through xlog when Verbose is
// set; a silent no-op otherwise.
func (a *Assembler) trace(format string, args ...any) {
	if !a.Verbose {
		return
	}
	xlog.Debugf(format, args...)
}

// Compile runs the code selector over f and then writes the fragment
// entry sequence. The prologue always comes last here, not first: its
// stack reservation depends on how large regalloc's spill area grew
// while selecting code, which is only known once Translate finishes —
// and, since the buffer is reverse-growing, "emitted last" is exactly
// "lands at the lowest address," i.e. the fragment's real entry point.
func (a *Assembler) Compile(f *lir.Func) error {
	if err := a.Translate(f); err != nil {
		return err
	}
	return a.EmitPrologue()
}

// selectOne dispatches one LIR instruction to its code-selector family,
// per the opcode groupings of spec.md §4.4.
func (a *Assembler) selectOne(ins *lir.Instruction) error {
	switch ins.Opcode() {
	case lir.OpImm:
		return a.asmImm(ins)
	case lir.OpParam, lir.OpParamSaved:
		return a.asmParam(ins)
	case lir.OpAdd, lir.OpSub, lir.OpAnd, lir.OpOr, lir.OpXor, lir.OpMul:
		if ins.IsD() || ins.IsF() || ins.IsF4() {
			return a.asmFop(ins)
		}
		return a.asmArith(ins)
	case lir.OpDiv, lir.OpMod:
		return a.asmDivMod(ins)
	case lir.OpNeg:
		return a.asmNeg(ins)
	case lir.OpNot:
		return a.asmNot(ins)
	case lir.OpShl, lir.OpShr, lir.OpSar:
		return a.asmShift(ins)
	case lir.OpAddJov, lir.OpSubJov, lir.OpMulJov:
		return a.asmArithOv(ins)
	case lir.OpCmp:
		return nil // materialized by its consumer (Cond/Cmov/Branch)
	case lir.OpCond:
		return a.asmCond(ins)
	case lir.OpCmov:
		return a.asmCmov(ins)
	case lir.OpBranch:
		return a.asmBranch(ins)
	case lir.OpJump:
		return a.asmJump(ins)
	case lir.OpGuardExit:
		return a.asmFragExit(ins)
	case lir.OpLoad:
		return a.asmLoad(ins)
	case lir.OpStore:
		return a.asmStore(ins)
	case lir.OpCall:
		return a.asmCall(ins)
	case lir.OpRet:
		return a.asmRet(ins)
	case lir.OpLabel:
		return nil
	case lir.OpI2D, lir.OpQ2D, lir.OpUI2D, lir.OpI2F, lir.OpUI2F,
		lir.OpF2I, lir.OpD2I, lir.OpF2D, lir.OpD2F, lir.OpF2F4, lir.OpFFFF2F4:
		return a.asmConvert(ins)
	case lir.OpSwzF4:
		return a.asmSwzF4(ins)
	default:
		return asmerr.Opcode(fmt.Sprintf("%d", ins.Opcode()), ins.PC)
	}
}
