package asm

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/tracejit/x64backend/abi"
	"github.com/tracejit/x64backend/asmerr"
	"github.com/tracejit/x64backend/blind"
	"github.com/tracejit/x64backend/enc"
	"github.com/tracejit/x64backend/guard"
	"github.com/tracejit/x64backend/lir"
	"github.com/tracejit/x64backend/reg"
)

// The code selector, per spec.md §4.4: one routine per LIR-opcode
// family. Every routine below follows the reverse-emission discipline
// spec.md §9 describes: calls are written in the natural execution
// order the reader expects, and emitInOrder takes care of issuing them
// to the cursor in the reverse sequence the decrementing cursor needs to
// land them at ascending addresses.

// emitInOrder calls fns so that the resulting bytes, read forward in
// memory, execute in the order fns are listed here — even though the
// code buffer is written back-to-front. The last fn listed is emitted
// first (landing at the highest address among this group, executed
// last); the first fn listed is emitted last (landing at the lowest
// address, executed first).
func (a *Assembler) emitInOrder(fns ...func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

func allowFor(t lir.Type) reg.RegisterMask {
	if t == lir.TD || t == lir.TF || t == lir.TF4 {
		return reg.FPMask
	}
	return reg.GPMask
}

func wideOf(t lir.Type) bool { return t == lir.TQ }

func fitsInt32(ins *lir.Instruction) bool {
	switch {
	case ins.IsImmI():
		return true
	case ins.IsImmQ():
		return ins.ImmQ >= -(1<<31) && ins.ImmQ <= (1<<31)-1
	default:
		return false
	}
}

func imm32Of(ins *lir.Instruction) int32 {
	if ins.IsImmI() {
		return ins.ImmI
	}
	return int32(ins.ImmQ)
}

func aluOpcodeBytes(op lir.Opcode) []byte {
	switch op {
	case lir.OpAdd, lir.OpAddJov:
		return opAdd
	case lir.OpSub, lir.OpSubJov:
		return opSub
	case lir.OpAnd:
		return opAnd
	case lir.OpOr:
		return opOr
	case lir.OpXor:
		return opXor
	default:
		panic("asm: not an ALU opcode")
	}
}

func blindMnemonicFor(op lir.Opcode) blind.Mnemonic {
	switch op {
	case lir.OpAdd:
		return blind.Add
	case lir.OpSub:
		return blind.Sub
	case lir.OpAnd:
		return blind.And
	case lir.OpOr:
		return blind.Or
	case lir.OpXor:
		return blind.Xor
	default:
		panic("asm: opcode has no blind pairing")
	}
}

// beginOp1Regs reserves a result register for ins within allow and
// reports the register its single operand should be read from: its own
// register if already allocated, otherwise the same register as the
// result (so a following 2-address op computes directly into rr).
func (a *Assembler) beginOp1Regs(ins *lir.Instruction, allow reg.RegisterMask) (rr, ra reg.Register, err error) {
	rr, err = a.Alloc.PrepareResultReg(ins, allow)
	if err != nil {
		return 0, 0, err
	}
	op := ins.Oprnd(1)
	if op.IsInReg() {
		ra = op.GetReg()
	} else {
		ra = rr
	}
	return rr, ra, nil
}

// beginOp2Regs is beginOp1Regs extended with a second operand, forced
// into a register distinct from ra when the two operands are not
// already the same value.
func (a *Assembler) beginOp2Regs(ins *lir.Instruction, allow reg.RegisterMask) (rr, ra, rb reg.Register, err error) {
	rr, ra, err = a.beginOp1Regs(ins, allow)
	if err != nil {
		return
	}
	opb := ins.Oprnd(2)
	if opb.IsInReg() && opb.GetReg() != ra {
		rb = opb.GetReg()
		return
	}
	rb, err = a.Alloc.FindRegFor(opb, allow.Remove(ra))
	return
}

// endOpRegs releases ins's own register/slot, then binds its
// not-yet-allocated left operand to ra so the allocator inserts the
// spill/reload the backward walk needs when it reaches that operand's
// definition.
func (a *Assembler) endOpRegs(ins *lir.Instruction, rr, ra reg.Register) error {
	a.Alloc.FreeResourcesOf(ins)
	op := ins.Oprnd(1)
	if !op.IsInReg() {
		return a.Alloc.FindSpecificRegForUnallocated(op, ra)
	}
	return nil
}

// asmImm is asm_imm{i,q,d,f,f4}: materializes an immediate LIR value into
// whatever register a consumer already pinned it to during the backward
// walk, mirroring asmParam/bindParamSlot's pattern of writing a value's
// bits only once its definition is reached.
//
// Most immediates never get here at all: asmArith's alu-imm and lea
// folds, asmMul's imul-imm form, asmShift's masked count, and
// movImmToMem32's store fold all consume an Imm operand's bits straight
// off the LIR node without ever calling the allocator on it, so the
// node stays unallocated and IsInReg reports false. This is reached
// only when some generic operand-resolution path (FindRegFor,
// FindSpecificRegFor, PrepareResultReg) forced the immediate into a
// register: a 64-bit integer literal outside movabs-free range, any
// float/double/float4 operand of an arithmetic, compare, or cmov op, an
// immediate call argument, or an immediate return value.
func (a *Assembler) asmImm(ins *lir.Instruction) error {
	if !ins.IsInReg() {
		return nil
	}
	rr := ins.GetReg()
	var err error
	switch ins.Type {
	case lir.TI:
		err = a.materializeGPImm(rr, false, uint64(uint32(ins.ImmI)), ins.IsTainted())
	case lir.TQ:
		err = a.materializeGPImm(rr, true, uint64(ins.ImmQ), ins.IsTainted())
	case lir.TD:
		err = a.materializeFPImm(rr, true, math.Float64bits(ins.ImmD), ins.IsTainted(), true)
	case lir.TF:
		err = a.materializeFPImm(rr, false, uint64(math.Float32bits(ins.ImmF)), ins.IsTainted(), false)
	case lir.TF4:
		err = a.materializeF4Imm(rr, ins.ImmF4, ins.IsTainted())
	default:
		err = asmerr.Precondition("asm_imm: unsupported type")
	}
	if err != nil {
		return err
	}
	a.Alloc.FreeResourcesOf(ins)
	return nil
}

// fitsInt32Bits reports whether v, read as a two's-complement width-w
// integer, fits in a sign-extended 32-bit immediate.
func fitsInt32Bits(v uint64) bool {
	s := int64(v)
	return s >= -(1<<31) && s <= (1<<31)-1
}

// gpImmSteps returns, in natural execution order, the emission steps
// that load the (possibly blinded) bit pattern v into dst, an ordinary
// GP register. w selects the 32- or 64-bit form.
func (a *Assembler) gpImmSteps(dst reg.Register, w bool, v uint64, tainted bool) ([]func(), error) {
	if !w || fitsInt32Bits(v) {
		imm := int32(uint32(v))
		if a.Blind.ShouldBlind(tainted, v) {
			load, xorWith := blind.Imm32(uint32(imm))
			return []func(){
				func() { a.movRI32(w, dst, int32(load)) },
				func() { a.aluImm(opXor, w, dst, int32(xorWith)) },
			}, nil
		}
		return []func(){func() { a.movRI32(w, dst, imm) }}, nil
	}
	if a.Blind.ShouldBlind(tainted, v) {
		load, xorWith := blind.Imm64(v)
		tmp, err := a.Alloc.AllocTempReg(reg.GPMask.Remove(dst))
		if err != nil {
			return nil, err
		}
		a.Alloc.FreeTempReg(tmp)
		return []func(){
			func() { a.movabs(dst, load) },
			func() { a.movabs(tmp, xorWith) },
			func() { a.aluRR(opXor, true, dst, tmp) },
		}, nil
	}
	return []func(){func() { a.movabs(dst, v) }}, nil
}

// materializeGPImm loads v into dst and commits the bytes immediately.
func (a *Assembler) materializeGPImm(dst reg.Register, w bool, v uint64, tainted bool) error {
	steps, err := a.gpImmSteps(dst, w, v, tainted)
	if err != nil {
		return err
	}
	a.emitInOrder(steps...)
	return nil
}

// materializeFPImm loads a scalar float/double immediate into dst,
// preferring a RIP-relative load out of the fragment's constant pool
// (spec.md §4.4's findImmD/findImmF) and falling back to a GP-register
// bit-cast only for tainted values, since a pool slot is just as
// predictable a code-adjacent location as an inline immediate would be
// and defeats blinding the same way.
func (a *Assembler) materializeFPImm(dst reg.Register, w bool, bits uint64, tainted bool, isDouble bool) error {
	if !tainted {
		if addr, ok := a.poolSlotAddr(isDouble, bits); ok {
			tmp, err := a.Alloc.AllocTempReg(reg.GPMask)
			if err != nil {
				return err
			}
			a.emitInOrder(
				func() { a.leaRIPRelTo(tmp, addr) },
				func() {
					if isDouble {
						a.movsdMem(dst, tmp, 0)
					} else {
						a.movssMem(dst, tmp, 0)
					}
				},
			)
			a.Alloc.FreeTempReg(tmp)
			return nil
		}
	}
	return a.materializeFPImmBitcast(dst, w, bits, tainted)
}

// materializeFPImmBitcast bit-casts a scalar float/double immediate
// into an XMM register: the bit pattern loads into a temporary GP
// register (where blinding applies uniformly to any bit pattern
// regardless of its intended interpretation) and movdqFromGPR
// reinterprets it.
func (a *Assembler) materializeFPImmBitcast(dst reg.Register, w bool, bits uint64, tainted bool) error {
	tmp, err := a.Alloc.AllocTempReg(reg.GPMask)
	if err != nil {
		return err
	}
	steps, err := a.gpImmSteps(tmp, w, bits, tainted)
	if err != nil {
		a.Alloc.FreeTempReg(tmp)
		return err
	}
	steps = append(steps, func() { a.movdqFromGPR(w, dst, tmp) })
	a.emitInOrder(steps...)
	a.Alloc.FreeTempReg(tmp)
	return nil
}

// materializeF4Imm loads a float4 immediate out of the constant pool,
// preferring movaps when the slot lands 16-byte aligned and movups
// otherwise (spec.md §4.4's findImmF4FromPool), falling back to the
// per-lane bit-cast construction for tainted vectors.
func (a *Assembler) materializeF4Imm(dst reg.Register, v [4]float32, tainted bool) error {
	if !tainted {
		if addr, ok := a.poolSlotAddrF4(v); ok {
			tmp, err := a.Alloc.AllocTempReg(reg.GPMask)
			if err != nil {
				return err
			}
			aligned := addr%16 == 0
			a.emitInOrder(
				func() { a.leaRIPRelTo(tmp, addr) },
				func() {
					if aligned {
						a.movapsMem(dst, tmp, 0)
					} else {
						a.movupsMem(dst, tmp, 0)
					}
				},
			)
			a.Alloc.FreeTempReg(tmp)
			return nil
		}
	}
	return a.materializeF4ImmBitcast(dst, v, tainted)
}

// materializeF4ImmBitcast builds a float4 immediate the same way
// asmFFFF2F4 combines four independently-computed scalars: each lane
// bit-casts through the shared GP scratch register, then
// unpcklps/movlhps assembles the four lanes into dst.
func (a *Assembler) materializeF4ImmBitcast(dst reg.Register, v [4]float32, tainted bool) error {
	tmp, err := a.Alloc.AllocTempReg(reg.GPMask)
	if err != nil {
		return err
	}
	var lanes [4]reg.Register
	lanes[0] = dst
	var err2 error
	for i := 1; i < 4; i++ {
		lanes[i], err2 = a.Alloc.AllocTempReg(reg.FPMask)
		if err2 != nil {
			a.Alloc.FreeTempReg(tmp)
			for j := 1; j < i; j++ {
				a.Alloc.FreeTempReg(lanes[j])
			}
			return err2
		}
	}
	var steps []func()
	for i := 0; i < 4; i++ {
		laneSteps, err2 := a.gpImmSteps(tmp, false, uint64(math.Float32bits(v[i])), tainted)
		if err2 != nil {
			a.Alloc.FreeTempReg(tmp)
			for j := 1; j < 4; j++ {
				a.Alloc.FreeTempReg(lanes[j])
			}
			return err2
		}
		li := lanes[i]
		steps = append(steps, laneSteps...)
		steps = append(steps, func() { a.movdqFromGPR(false, li, tmp) })
	}
	steps = append(steps,
		func() { a.unpcklpsRR(lanes[0], lanes[1]) },
		func() { a.unpcklpsRR(lanes[2], lanes[3]) },
		func() { a.movlhpsRR(lanes[0], lanes[2]) },
	)
	a.emitInOrder(steps...)
	a.Alloc.FreeTempReg(tmp)
	for i := 1; i < 4; i++ {
		a.Alloc.FreeTempReg(lanes[i])
	}
	return nil
}

// poolSlotAddr returns the absolute address of bits's slot in the
// fragment's constant pool, if one was placed. Every non-tainted
// float/double immediate in the fragment was already interned during
// placeConstPool's pre-scan, so InternF64/InternF32 here only ever
// resolves an existing slot.
func (a *Assembler) poolSlotAddr(isDouble bool, bits uint64) (uintptr, bool) {
	if a.poolAddr == 0 {
		return 0, false
	}
	if isDouble {
		idx := a.Pool.InternF64(math.Float64frombits(bits))
		return a.poolAddr + uintptr(a.poolLayout.F64Offsets[idx]), true
	}
	idx := a.Pool.InternF32(math.Float32frombits(uint32(bits)))
	return a.poolAddr + uintptr(a.poolLayout.F32Offsets[idx]), true
}

func (a *Assembler) poolSlotAddrF4(v [4]float32) (uintptr, bool) {
	if a.poolAddr == 0 {
		return 0, false
	}
	idx := a.Pool.InternF4(v)
	return a.poolAddr + uintptr(a.poolLayout.F4Offsets[idx]), true
}

// leaRIPRelTo loads target's absolute address into dst: a RIP-relative
// lea when the displacement fits a disp32 (always true in practice for
// an address inside the same fragment's own code chunk), an absolute
// movabs otherwise.
func (a *Assembler) leaRIPRelTo(dst reg.Register, target uintptr) uintptr {
	instrEnd := a.cur.Addr()
	delta := int64(target) - int64(instrEnd)
	if delta >= math.MinInt32 && delta <= math.MaxInt32 {
		return a.leaRIPRel(true, dst, int32(delta))
	}
	return a.movabs(dst, uint64(target))
}

// asmArith is asm_arith: integer/logic 2-address ALU ops, with immediate
// and blinding fast paths.
func (a *Assembler) asmArith(ins *lir.Instruction) error {
	if ins.Opcode() == lir.OpMul {
		return a.asmMul(ins)
	}
	t := ins.Type
	w := wideOf(t)
	allow := allowFor(t)
	rhs := ins.Oprnd(2)
	opBytes := aluOpcodeBytes(ins.Opcode())

	if fitsInt32(rhs) {
		imm := imm32Of(rhs)
		if !a.Blind.ShouldBlind(rhs.IsTainted(), uint64(uint32(imm))) {
			// add-immediate folds into a single lea, computed directly in
			// the left operand's own register and then copied to the
			// result register, avoiding a separate flags-setting add.
			if ins.Opcode() == lir.OpAdd && t != lir.TD && t != lir.TF && t != lir.TF4 {
				rr, ra, err := a.beginOp1Regs(ins, allow)
				if err != nil {
					return err
				}
				a.emitInOrder(
					func() { a.leaMem(w, ra, ra, imm) },
					func() {
						if rr != ra {
							a.movRR(w, rr, ra)
						}
					},
				)
				return a.endOpRegs(ins, rr, ra)
			}

			rr, ra, err := a.beginOp1Regs(ins, allow)
			if err != nil {
				return err
			}
			a.emitInOrder(
				func() {
					if rr != ra {
						a.movRR(w, rr, ra)
					}
				},
				func() { a.aluImm(opBytes, w, rr, imm) },
			)
			return a.endOpRegs(ins, rr, ra)
		}

		rr, ra, err := a.beginOp1Regs(ins, allow)
		if err != nil {
			return err
		}
		p1, p2 := blind.ArithPair(blindMnemonicFor(ins.Opcode()), uint32(imm))
		a.emitInOrder(
			func() {
				if rr != ra {
					a.movRR(w, rr, ra)
				}
			},
			func() { a.aluImm(opBytes, w, rr, int32(p1)) },
			func() { a.aluImm(opBytes, w, rr, int32(p2)) },
		)
		return a.endOpRegs(ins, rr, ra)
	}

	rr, ra, rb, err := a.beginOp2Regs(ins, allow)
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movRR(w, rr, ra)
			}
		},
		func() { a.aluRR(opBytes, w, rr, rb) },
	)
	return a.endOpRegs(ins, rr, ra)
}

// asmMul is imul's share of asm_arith: the 3-address `imul r, b, imm`
// form needs no result move, per spec.md §4.4.
func (a *Assembler) asmMul(ins *lir.Instruction) error {
	t := ins.Type
	w := wideOf(t)
	allow := allowFor(t)
	lhs, rhs := ins.Oprnd(1), ins.Oprnd(2)

	if fitsInt32(rhs) && !a.Blind.ShouldBlind(rhs.IsTainted(), uint64(uint32(imm32Of(rhs)))) {
		rr, err := a.Alloc.PrepareResultReg(ins, allow)
		if err != nil {
			return err
		}
		ra := rr
		if lhs.IsInReg() {
			ra = lhs.GetReg()
		}
		a.imulImm(w, rr, ra, imm32Of(rhs))
		a.Alloc.FreeResourcesOf(ins)
		if !lhs.IsInReg() {
			return a.Alloc.FindSpecificRegForUnallocated(lhs, ra)
		}
		return nil
	}

	rr, ra, rb, err := a.beginOp2Regs(ins, allow)
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movRR(w, rr, ra)
			}
		},
		func() { a.imulRR(w, rr, rb) },
	)
	return a.endOpRegs(ins, rr, ra)
}

// asmArithOv is asm_branch_ov: an overflow-checked ALU op immediately
// followed by a jo to the guarded exit.
func (a *Assembler) asmArithOv(ins *lir.Instruction) error {
	t := ins.Type
	w := wideOf(t)
	allow := allowFor(t)
	rr, ra, rb, err := a.beginOp2Regs(ins, allow)
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movRR(w, rr, ra)
			}
		},
		func() {
			if ins.Opcode() == lir.OpMulJov {
				a.imulRR(w, rr, rb)
			} else {
				a.aluRR(aluOpcodeBytes(ins.Opcode()), w, rr, rb)
			}
		},
		func() { a.emitCondBranch(CC_O, ins.Target) },
	)
	return a.endOpRegs(ins, rr, ra)
}

func (a *Assembler) asmNeg(ins *lir.Instruction) error {
	t := ins.Type
	w := wideOf(t)
	rr, ra, err := a.beginOp1Regs(ins, allowFor(t))
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movRR(w, rr, ra)
			}
		},
		func() { a.negR(w, rr) },
	)
	return a.endOpRegs(ins, rr, ra)
}

func (a *Assembler) asmNot(ins *lir.Instruction) error {
	t := ins.Type
	w := wideOf(t)
	rr, ra, err := a.beginOp1Regs(ins, allowFor(t))
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movRR(w, rr, ra)
			}
		},
		func() { a.notR(w, rr) },
	)
	return a.endOpRegs(ins, rr, ra)
}

// asmShift is asm_shift/asm_shift_imm: variable shifts route their count
// through RCX; immediate counts are masked to 6 bits and never blinded
// (shift counts are not meaningful attacker payload bytes).
func (a *Assembler) asmShift(ins *lir.Instruction) error {
	t := ins.Type
	w := wideOf(t)
	allow := allowFor(t)
	ext := shiftExtFor(ins.Opcode())
	rhs := ins.Oprnd(2)

	if rhs.IsImmAny() {
		rr, ra, err := a.beginOp1Regs(ins, allow)
		if err != nil {
			return err
		}
		count := byte(imm32Of(rhs)) & 0x3F
		a.emitInOrder(
			func() {
				if rr != ra {
					a.movRR(w, rr, ra)
				}
			},
			func() { a.shiftImm(w, ext, rr, count) },
		)
		return a.endOpRegs(ins, rr, ra)
	}

	// Variable shift: count must sit in CL.
	lhs := ins.Oprnd(1)
	if err := a.Alloc.FindSpecificRegFor(rhs, reg.RCX); err != nil {
		return err
	}
	rr, err := a.Alloc.PrepareResultReg(ins, allow.Remove(reg.RCX))
	if err != nil {
		return err
	}
	ra := rr
	if lhs.IsInReg() {
		ra = lhs.GetReg()
	}
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movRR(w, rr, ra)
			}
		},
		func() { a.shiftCL(w, ext, rr) },
	)
	a.Alloc.FreeResourcesOf(ins)
	if !lhs.IsInReg() {
		if err := a.Alloc.FindSpecificRegForUnallocated(lhs, ra); err != nil {
			return err
		}
	}
	return nil
}

func shiftExtFor(op lir.Opcode) byte {
	switch op {
	case lir.OpShl:
		return 4
	case lir.OpShr:
		return 5
	case lir.OpSar:
		return 7
	default:
		panic("asm: not a shift opcode")
	}
}

// asmDivMod is asm_div/asm_div_mod: signed division via idiv, dividend
// sign-extended into RDX:RAX first. div's result is RAX, mod's is RDX;
// a mod consuming the same operands as a sibling div reuses one idiv
// (not modeled independently here — each Div/Mod node emits its own
// idiv, which is simpler and still correct, at the cost of the
// instruction-sharing optimization spec.md §4.4 allows but does not
// require).
func (a *Assembler) asmDivMod(ins *lir.Instruction) error {
	t := ins.Type
	w := wideOf(t)
	lhs, rhs := ins.Oprnd(1), ins.Oprnd(2)

	if err := a.Alloc.EvictScratchRegsExcept(0); err != nil {
		return err
	}

	resultReg := reg.RAX
	if ins.Opcode() == lir.OpMod {
		resultReg = reg.RDX
	}
	if err := a.Alloc.FindSpecificRegForUnallocated(ins, resultReg); err != nil {
		return err
	}

	divisor, err := a.Alloc.FindRegFor(rhs, reg.GPMask.Remove(reg.RAX).Remove(reg.RDX))
	if err != nil {
		return err
	}

	// The dividend must sit in RAX. If a still-live use already pinned
	// lhs to a different register, copy it in; otherwise leave lhs
	// unallocated so its own definition targets RAX directly.
	needsMove := lhs.IsInReg() && lhs.GetReg() != reg.RAX
	var fromReg reg.Register
	if needsMove {
		fromReg = lhs.GetReg()
	}

	a.emitInOrder(
		func() {
			if needsMove {
				a.movRR(w, reg.RAX, fromReg)
			}
		},
		func() {
			if w {
				a.cqo()
			} else {
				a.cdq()
			}
		},
		func() { a.idiv(w, divisor) },
	)

	a.Alloc.FreeResourcesOf(ins)
	if !lhs.IsInReg() {
		return a.Alloc.FindSpecificRegForUnallocated(lhs, reg.RAX)
	}
	return nil
}

// asmFop is asm_fop: scalar/packed float arithmetic, 2-operand register
// form.
func (a *Assembler) asmFop(ins *lir.Instruction) error {
	t := ins.Type
	rr, ra, rb, err := a.beginOp2Regs(ins, allowFor(t))
	if err != nil {
		return err
	}
	op := a.fopFor(ins.Opcode(), t)
	a.emitInOrder(
		func() {
			if rr != ra {
				a.movByClass(t, rr, ra)
			}
		},
		func() { op(rr, rb) },
	)
	return a.endOpRegs(ins, rr, ra)
}

func (a *Assembler) movByClass(t lir.Type, dst, src reg.Register) {
	switch t {
	case lir.TD:
		a.movsdRR(dst, src)
	case lir.TF:
		a.movssRR(dst, src)
	case lir.TF4:
		a.sseRR(enc.NoPrefix, opMovapsRM, dst, src)
	default:
		a.movRR(wideOf(t), dst, src)
	}
}

func (a *Assembler) fopFor(op lir.Opcode, t lir.Type) func(dst, src reg.Register) uintptr {
	switch {
	case t == lir.TD:
		switch op {
		case lir.OpAdd:
			return a.addsdRR
		case lir.OpSub:
			return a.subsdRR
		case lir.OpMul:
			return a.mulsdRR
		case lir.OpDiv:
			return a.divsdRR
		}
	case t == lir.TF:
		switch op {
		case lir.OpAdd:
			return a.addssRR
		case lir.OpSub:
			return a.subssRR
		case lir.OpMul:
			return a.mulssRR
		case lir.OpDiv:
			return a.divssRR
		}
	case t == lir.TF4:
		switch op {
		case lir.OpAdd:
			return a.addpsRR
		case lir.OpSub:
			return a.subpsRR
		case lir.OpMul:
			return a.mulpsRR
		case lir.OpDiv:
			return a.divpsRR
		}
	}
	panic("asm: unsupported float opcode/type combination")
}

// cmpPlan is the operand/condition bookkeeping emitCompareInstr needs to
// actually write the cmp/ucomisd/ucomiss bytes. Splitting "resolve
// registers and condition code" from "emit" lets callers fold the single
// emission into a larger emitInOrder sequence alongside whatever consumes
// the resulting flags (setcc, cmovcc, jcc) without nesting two emit calls
// inside one callback, which emitInOrder's reversal cannot sequence
// correctly (see emitInOrder's doc comment).
type cmpPlan struct {
	cc             Cond
	ra, rb         reg.Register
	hasImm         bool
	imm            int32
	isFloat, isDbl bool
	w              bool
}

// prepareCompare resolves an OpCmp instruction's operands and target
// condition code without emitting any bytes. Float comparisons are
// rewritten lt->gt(swap) and le->ge(swap) per spec.md §4.4, so only
// gt/ge/eq ever reach ucomisd/ucomiss directly.
func (a *Assembler) prepareCompare(cmp *lir.Instruction) (cmpPlan, error) {
	var p cmpPlan
	opA, opB := cmp.Oprnd(1), cmp.Oprnd(2)
	if opA.IsD() || opA.IsF() {
		p.isFloat = true
		p.isDbl = opA.IsD()
		cond, first, second := cmp.Cond, opA, opB
		switch cond {
		case lir.CondLT:
			cond, first, second = lir.CondGT, opB, opA
		case lir.CondLE:
			cond, first, second = lir.CondGE, opB, opA
		}
		var err error
		p.ra, err = a.Alloc.FindRegFor(first, reg.FPMask)
		if err != nil {
			return p, err
		}
		p.rb, err = a.Alloc.FindRegFor(second, reg.FPMask)
		if err != nil {
			return p, err
		}
		p.cc = floatCondToCC(cond)
		return p, nil
	}

	p.w = wideOf(opA.Type)
	var err error
	p.ra, err = a.Alloc.FindRegFor(opA, reg.GPMask)
	if err != nil {
		return p, err
	}
	if fitsInt32(opB) {
		p.hasImm = true
		p.imm = imm32Of(opB)
	} else {
		p.rb, err = a.Alloc.FindRegFor(opB, reg.GPMask.Remove(p.ra))
		if err != nil {
			return p, err
		}
	}
	p.cc = intCondToCC(cmp.Cond)
	return p, nil
}

// emitCompareInstr writes the single cmp/ucomisd/ucomiss instruction a
// resolved cmpPlan describes.
func (a *Assembler) emitCompareInstr(p cmpPlan) uintptr {
	switch {
	case p.isFloat && p.isDbl:
		return a.ucomisdRR(p.ra, p.rb)
	case p.isFloat:
		return a.ucomissRR(p.ra, p.rb)
	case p.hasImm:
		return a.cmpImm(p.w, p.ra, p.imm)
	default:
		return a.cmpRR(p.w, p.ra, p.rb)
	}
}

func intCondToCC(c lir.Cond) Cond {
	switch c {
	case lir.CondEQ:
		return CC_E
	case lir.CondNE:
		return CC_NE
	case lir.CondLT:
		return CC_L
	case lir.CondLE:
		return CC_LE
	case lir.CondGT:
		return CC_G
	case lir.CondGE:
		return CC_GE
	case lir.CondLTU:
		return CC_B
	case lir.CondLEU:
		return CC_BE
	case lir.CondGTU:
		return CC_A
	case lir.CondGEU:
		return CC_AE
	default:
		panic("asm: unknown integer condition")
	}
}

// floatCondToCC maps the already gt/ge/eq-normalized float condition to
// the unsigned condition codes ucomisd/ucomiss's flags support.
func floatCondToCC(c lir.Cond) Cond {
	switch c {
	case lir.CondGT:
		return CC_A
	case lir.CondGE:
		return CC_AE
	case lir.CondEQ:
		return CC_E
	case lir.CondNE:
		return CC_NE
	default:
		panic("asm: float condition not normalized to gt/ge/eq/ne")
	}
}

func invertCC(cc Cond) Cond {
	switch cc {
	case CC_E:
		return CC_NE
	case CC_NE:
		return CC_E
	case CC_L:
		return CC_GE
	case CC_GE:
		return CC_L
	case CC_LE:
		return CC_G
	case CC_G:
		return CC_LE
	case CC_B:
		return CC_AE
	case CC_AE:
		return CC_B
	case CC_BE:
		return CC_A
	case CC_A:
		return CC_BE
	case CC_O:
		return CC_NO
	case CC_NO:
		return CC_O
	default:
		panic("asm: no inverse defined for condition")
	}
}

// asmCond is asm_cond: the compare executes first, then setcc into the
// result's low byte, then movzx8 zero-extends that byte into the whole
// register, so the result is exactly 0 or 1.
func (a *Assembler) asmCond(ins *lir.Instruction) error {
	cmp := ins.Oprnd(1)
	rr, err := a.Alloc.PrepareResultReg(ins, reg.GPMask)
	if err != nil {
		return err
	}
	p, err := a.prepareCompare(cmp)
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() { a.emitCompareInstr(p) },
		func() { a.setcc(p.cc, rr) },
		func() { a.movzx8(false, rr, rr) },
	)
	a.Alloc.FreeResourcesOf(ins)
	return a.Buf.Err()
}

// asmCmov is asm_cmov: for GP results, move the not-taken arm into the
// result first, then compare, then cmov from the taken arm, so EFLAGS
// survives from the comparison through to the cmov untouched. FP has no
// cmov form, so it is lowered to a branch around a scalar/vector copy
// instead.
func (a *Assembler) asmCmov(ins *lir.Instruction) error {
	t := ins.Type
	if t == lir.TD || t == lir.TF || t == lir.TF4 {
		return a.asmCmovFloat(ins)
	}
	cmp, ifTrue, ifFalse := ins.Oprnd(1), ins.Oprnd(2), ins.Oprnd(3)
	w := wideOf(t)
	rr, err := a.Alloc.PrepareResultReg(ins, reg.GPMask)
	if err != nil {
		return err
	}
	raTrue, err := a.Alloc.FindRegFor(ifTrue, reg.GPMask.Remove(rr))
	if err != nil {
		return err
	}
	raFalse := rr
	if ifFalse.IsInReg() {
		raFalse = ifFalse.GetReg()
	}
	p, err := a.prepareCompare(cmp)
	if err != nil {
		return err
	}
	a.emitInOrder(
		func() {
			if rr != raFalse {
				a.movRR(w, rr, raFalse)
			}
		},
		func() { a.emitCompareInstr(p) },
		func() { a.cmovcc(w, p.cc, rr, raTrue) },
	)
	a.Alloc.FreeResourcesOf(ins)
	if !ifFalse.IsInReg() {
		return a.Alloc.FindSpecificRegForUnallocated(ifFalse, raFalse)
	}
	return nil
}

// asmCmovFloat lowers a float/vector select to: default the result to
// the false arm, compare, jump past the true-copy when the condition
// does not hold, otherwise fall through and overwrite with the true arm.
// The skip target is always exactly the cursor position captured before
// this instruction's bytes are written: the true-copy is by construction
// the last thing this function emits, and nothing else follows it within
// this LIR instruction's block.
func (a *Assembler) asmCmovFloat(ins *lir.Instruction) error {
	cmp, ifTrue, ifFalse := ins.Oprnd(1), ins.Oprnd(2), ins.Oprnd(3)
	t := ins.Type
	rr, err := a.Alloc.PrepareResultReg(ins, reg.FPMask)
	if err != nil {
		return err
	}
	raTrue, err := a.Alloc.FindRegFor(ifTrue, reg.FPMask)
	if err != nil {
		return err
	}
	raFalse := rr
	if ifFalse.IsInReg() {
		raFalse = ifFalse.GetReg()
	}
	p, err := a.prepareCompare(cmp)
	if err != nil {
		return err
	}

	skipTarget := a.cur.Active().CursorAddr()
	a.emitInOrder(
		func() {
			if rr != raFalse {
				a.movByClass(t, rr, raFalse)
			}
		},
		func() { a.emitCompareInstr(p) },
		func() { a.emitCondBranchTo(invertCC(p.cc), skipTarget) },
		func() {
			if rr != raTrue {
				a.movByClass(t, rr, raTrue)
			}
		},
	)
	a.Alloc.FreeResourcesOf(ins)
	if !ifFalse.IsInReg() {
		return a.Alloc.FindSpecificRegForUnallocated(ifFalse, raFalse)
	}
	return nil
}

// asmBranch is asm_branch_helper: emits the compare and a jcc rel32 and
// records a patch site for later fixup. The branch is always the rel32
// form; it is not narrowed to rel8 when the target turns out to be near.
func (a *Assembler) asmBranch(ins *lir.Instruction) error {
	cmp := ins.Oprnd(1)
	p, err := a.prepareCompare(cmp)
	if err != nil {
		return err
	}
	cc := p.cc
	if ins.Invert {
		cc = invertCC(cc)
	}
	a.emitInOrder(
		func() { a.emitCompareInstr(p) },
		func() { a.emitCondBranch(cc, ins.Target) },
	)
	return a.Buf.Err()
}

func (a *Assembler) asmJump(ins *lir.Instruction) error {
	a.emitUncondBranch(ins.Target)
	return a.Buf.Err()
}

// emitCondBranch emits a Jcc targeting target and records a guard record
// for the patch site so a later retarget (or this target's own address,
// if not yet known) can be installed. The branch is always emitted in the
// rel32 form with a zero displacement and keeps that width: nothing
// narrows it to rel8 later, and guard.Patch rewrites only the displacement.
func (a *Assembler) emitCondBranch(cc Cond, target *lir.Instruction) *guard.Record {
	bs := a.jccRel32Bytes(cc, 0)
	addr := a.emit(bs)
	end := addr + uintptr(len(bs))
	rec := &guard.Record{Kind: guard.PatchRel32, PatchAddr: end - 4, InstrEnd: end}
	a.guards = append(a.guards, rec)
	return rec
}

// emitCondBranchTo emits a Jcc to an already-known in-fragment address,
// resolved entirely within this instruction's own emission (e.g. the
// branch-around-copy asmCmovFloat uses). Unlike emitCondBranch, target is
// not a later LIR instruction awaiting a guard patch: it is computed from
// the cursor directly, so no guard.Record is needed.
func (a *Assembler) emitCondBranchTo(cc Cond, target uintptr) uintptr {
	instrEnd := a.cur.Active().CursorAddr()
	delta := int32(int64(target) - int64(instrEnd))
	return a.emit(a.jccRel32Bytes(cc, delta))
}

func (a *Assembler) emitUncondBranch(target *lir.Instruction) *guard.Record {
	bs := a.jmpRel32Bytes(0, 0)
	addr := a.emit(bs)
	end := addr + uintptr(len(bs))
	rec := &guard.Record{Kind: guard.PatchRel32, PatchAddr: end - 4, InstrEnd: end}
	a.guards = append(a.guards, rec)
	return rec
}

// asmFragExit is nFragExit: loads RAX with the guard record pointer,
// then emits a jmp rel32 with a zero displacement whose patch site is
// recorded in the guard list for a later guard.Patch. It does not
// consult a.Frags: an exit to a fragment whose entry is already known
// is emitted the same way, not as a direct jump to that entry.
func (a *Assembler) asmFragExit(ins *lir.Instruction) error {
	rec := &guard.Record{GuardID: uint64(ins.ID)}
	a.guards = append(a.guards, rec)

	a.emitInOrder(
		func() { a.movabs(reg.RAX, uint64(uintptr(unsafe.Pointer(rec)))) },
		func() {
			bs := a.jmpRel32Bytes(0, 0)
			addr := a.emit(bs)
			end := addr + uintptr(len(bs))
			rec.Kind, rec.PatchAddr, rec.InstrEnd = guard.PatchRel32, end-4, end
		},
	)
	return a.Buf.Err()
}

// asmLoad is asm_load32/64/128: base-register load with displacement
// blinding on tainted accesses.
func (a *Assembler) asmLoad(ins *lir.Instruction) error {
	t := ins.Type
	base := ins.Oprnd(1)
	disp := ins.ImmI
	allow := allowFor(t)

	rr, err := a.Alloc.PrepareResultReg(ins, allow)
	if err != nil {
		return err
	}
	rbase, err := a.Alloc.FindRegFor(base, reg.GPMask)
	if err != nil {
		return err
	}

	if base.IsTainted() && a.Blind.ShouldBlind(true, uint64(uint32(disp))) {
		tmp, err := a.Alloc.AllocTempReg(reg.GPMask.Remove(rbase).Remove(rr))
		if err != nil {
			return err
		}
		adj, newDisp := blind.DisplaceLoad(disp)
		a.Alloc.BeginLoadRegs()
		a.emitInOrder(
			func() { a.leaMem(true, tmp, rbase, adj) },
			func() { a.loadByClass(t, rr, tmp, newDisp) },
		)
		a.Alloc.EndLoadRegs()
		a.Alloc.FreeTempReg(tmp)
		a.Alloc.FreeResourcesOf(ins)
		return nil
	}

	a.loadByClass(t, rr, rbase, disp)
	a.Alloc.FreeResourcesOf(ins)
	return nil
}

func (a *Assembler) loadByClass(t lir.Type, dst, base reg.Register, disp int32) {
	switch t {
	case lir.TD:
		a.movsdMem(dst, base, disp)
	case lir.TF4:
		a.movupsMem(dst, base, disp)
	default:
		a.movMem(wideOf(t), dst, base, disp)
	}
}

// asmStore is asm_store32/64/128: immediate stores use a direct
// mov-to-memory form when the immediate is untainted or unblindable;
// otherwise the value is materialized to a register first.
func (a *Assembler) asmStore(ins *lir.Instruction) error {
	base, val := ins.Oprnd(1), ins.Oprnd(2)
	disp := ins.ImmI
	t := val.Type

	rbase, err := a.Alloc.FindRegFor(base, reg.GPMask)
	if err != nil {
		return err
	}

	if val.IsImmAny() && fitsInt32(val) && t != lir.TD && t != lir.TF && t != lir.TF4 {
		imm := imm32Of(val)
		if !a.Blind.ShouldBlind(val.IsTainted(), uint64(uint32(imm))) {
			a.movImmToMem32(rbase, disp, imm)
			return nil
		}
	}

	rval, err := a.Alloc.FindRegFor(val, allowFor(t).Remove(rbase))
	if err != nil {
		return err
	}
	switch t {
	case lir.TD:
		a.movsdToMem(rbase, disp, rval)
	default:
		a.movToMem(wideOf(t), rbase, disp, rval)
	}
	return nil
}

// asmCall is asm_call: classifies arguments per the active calling
// convention, evicts caller-saved registers, and emits a disp32 call
// when in range or else materializes the target and calls indirectly.
func (a *Assembler) asmCall(ins *lir.Instruction) error {
	info := ins.Call
	args := make([]*lir.Instruction, ins.NOperands())
	for i := 1; i <= ins.NOperands(); i++ {
		args[i-1] = ins.Oprnd(i)
	}
	if info.Indirect {
		args = args[1:] // operand 1 is the callee value itself
	}

	resultAllow := reg.RAX.Mask()
	if ins.IsD() || ins.IsF() {
		resultAllow = reg.XMM0.Mask()
	}
	if err := a.Alloc.EvictScratchRegsExcept(0); err != nil {
		return err
	}

	// Windows shares one positional slot index 0..3 across GP and FP
	// arguments (spec.md §3); System V classifies GP and FP arguments
	// into independent register files with independent counters.
	gpIdx, fpIdx, posIdx := 0, 0, 0
	for i, arg := range args {
		var slot abi.ArgSlot
		switch info.ArgTypes[i] {
		case lir.TD, lir.TF:
			if a.Conv.Windows {
				slot = a.Conv.FPArgSlot(posIdx)
				posIdx++
			} else {
				slot = a.Conv.FPArgSlot(fpIdx)
				fpIdx++
			}
		case lir.TF4:
			if a.Conv.Windows {
				slot = a.Conv.F4ArgSlot(posIdx)
				posIdx++
			} else {
				slot = a.Conv.F4ArgSlot(gpIdx)
				gpIdx++
			}
		default:
			if a.Conv.Windows {
				slot = a.Conv.GPArgSlot(posIdx)
				posIdx++
			} else {
				slot = a.Conv.GPArgSlot(gpIdx)
				gpIdx++
			}
		}
		if slot.InMemory {
			a.setError(asmerr.Precondition("asm_call: stack-passed arguments beyond the register window are unsupported"))
			return a.Buf.Err()
		}
		if err := a.Alloc.FindSpecificRegFor(arg, slot.Reg); err != nil {
			return err
		}
	}

	rr, err := a.Alloc.PrepareResultReg(ins, resultAllow)
	if err != nil {
		return err
	}

	if info.Indirect {
		callee := ins.Oprnd(1)
		rcallee, err := a.Alloc.FindRegFor(callee, reg.GPMask.Remove(rr))
		if err != nil {
			return err
		}
		a.callIndirect(rcallee)
	} else if !a.Buf.ForceLongBranch && fitsInt32FromAddr(info.Callee, a.cur.Addr()) {
		delta := int32(int64(info.Callee) - int64(a.cur.Addr()))
		a.emit(a.callRel32Bytes(delta))
	} else {
		a.emitInOrder(
			func() { a.movabs(reg.RAX, info.Callee) },
			func() { a.callIndirect(reg.RAX) },
		)
	}
	a.Alloc.FreeResourcesOf(ins)
	return nil
}

func fitsInt32FromAddr(target uint64, from uintptr) bool {
	delta := int64(target) - int64(from)
	return delta >= -(1<<31) && delta <= (1<<31)-1
}

// asmParam is asm_param: ordinary parameters bind to ABI argument
// registers, saved-kind parameters to callee-saved registers.
func (a *Assembler) asmParam(ins *lir.Instruction) error {
	var slot abi.ArgSlot
	switch {
	case ins.Opcode() == lir.OpParamSaved:
		if ins.ParamIndex >= len(a.Conv.CalleeSaved) {
			return asmerr.Precondition("asm_param: saved-parameter index %d beyond callee-saved window", ins.ParamIndex)
		}
		slot = abi.ArgSlot{Reg: a.Conv.CalleeSaved[ins.ParamIndex]}
	case ins.IsD() || ins.IsF():
		slot = a.Conv.FPArgSlot(ins.ParamIndex)
	case ins.IsF4():
		slot = a.Conv.F4ArgSlot(ins.ParamIndex)
	default:
		slot = a.Conv.GPArgSlot(ins.ParamIndex)
	}
	if slot.InMemory {
		return asmerr.Precondition("asm_param: parameter %d beyond the register window is unsupported", ins.ParamIndex)
	}
	return a.bindParamSlot(ins, slot.Reg)
}

// bindParamSlot places a parameter's entry value wherever the backward
// walk already needs it. A consumer processed earlier in that walk (so
// earlier in LIR, later in actual call order) may already have pinned
// ins to a register of its own choosing before reaching this, the
// param's own definition; in that case the entry register's value must
// be copied there, since nothing else will do it once this point in the
// backward walk has passed.
func (a *Assembler) bindParamSlot(ins *lir.Instruction, slotReg reg.Register) error {
	if !ins.IsInReg() {
		return a.Alloc.FindSpecificRegForUnallocated(ins, slotReg)
	}
	target := ins.GetReg()
	a.Alloc.FreeResourcesOf(ins)
	if target != slotReg {
		a.movByClass(ins.Type, target, slotReg)
	}
	return nil
}

// asmRet is asm_ret: places the return value in RAX/XMM0 and falls into
// the epilogue. It emits no save or restore of callee-saved registers.
func (a *Assembler) asmRet(ins *lir.Instruction) error {
	if ins.NOperands() == 1 {
		val := ins.Oprnd(1)
		want := reg.RAX
		if val.IsD() || val.IsF() {
			want = reg.XMM0
		}
		if err := a.Alloc.FindSpecificRegFor(val, want); err != nil {
			return err
		}
	}
	a.emitEpilogue()
	return a.Buf.Err()
}

// asmConvert is the conversion family (i2d, q2d, ui2d, i2f, ui2f, f2i,
// d2i, f2d, d2f, f2f4, ffff2f4): each int-to-float conversion (i2d, q2d,
// ui2d, i2f, ui2f) is preceded (in emission order, so following it in
// reverse walk order) by an xorps of the destination against itself to
// break the false dependency cvt* carries on its upper bits. The
// float-to-float conversions f2d and d2f are emitted without that xorps.
func (a *Assembler) asmConvert(ins *lir.Instruction) error {
	switch ins.Opcode() {
	case lir.OpFFFF2F4:
		return a.asmFFFF2F4(ins)
	}
	src := ins.Oprnd(1)
	switch ins.Opcode() {
	case lir.OpI2D, lir.OpQ2D, lir.OpUI2D:
		return a.asmIntToFloat(ins, src, true)
	case lir.OpI2F, lir.OpUI2F:
		return a.asmIntToFloat(ins, src, false)
	case lir.OpF2I, lir.OpD2I:
		return a.asmFloatToInt(ins, src)
	case lir.OpF2D:
		rr, ra, err := a.beginOp1Regs(ins, reg.FPMask)
		if err != nil {
			return err
		}
		a.emitInOrder(func() { a.cvtss2sdRR(rr, ra) })
		return a.endOpRegs(ins, rr, ra)
	case lir.OpD2F:
		rr, ra, err := a.beginOp1Regs(ins, reg.FPMask)
		if err != nil {
			return err
		}
		a.emitInOrder(func() { a.cvtsd2ssRR(rr, ra) })
		return a.endOpRegs(ins, rr, ra)
	case lir.OpF2F4:
		rr, ra, err := a.beginOp1Regs(ins, reg.FPMask)
		if err != nil {
			return err
		}
		a.emitInOrder(
			func() {
				if rr != ra {
					a.movssRR(rr, ra)
				}
			},
			func() { a.pshufd(rr, rr, 0) },
		)
		return a.endOpRegs(ins, rr, ra)
	}
	return asmerr.Opcode(fmt.Sprintf("%d", ins.Opcode()), ins.PC)
}

func (a *Assembler) asmIntToFloat(ins *lir.Instruction, src *lir.Instruction, double bool) error {
	allow := reg.FPMask
	rr, err := a.Alloc.PrepareResultReg(ins, allow)
	if err != nil {
		return err
	}
	rsrc, err := a.Alloc.FindRegFor(src, reg.GPMask)
	if err != nil {
		return err
	}
	w := src.Type == lir.TQ
	a.emitInOrder(
		func() { a.xorpsRR(rr, rr) },
		func() {
			if double {
				a.cvtsi2sdRR(w, rr, rsrc)
			} else {
				a.cvtsi2ssRR(w, rr, rsrc)
			}
		},
	)
	a.Alloc.FreeResourcesOf(ins)
	return nil
}

func (a *Assembler) asmFloatToInt(ins *lir.Instruction, src *lir.Instruction) error {
	rr, err := a.Alloc.PrepareResultReg(ins, reg.GPMask)
	if err != nil {
		return err
	}
	rsrc, err := a.Alloc.FindRegFor(src, reg.FPMask)
	if err != nil {
		return err
	}
	w := ins.Type == lir.TQ
	if src.IsD() {
		a.cvttsd2siRR(w, rr, rsrc)
	} else {
		a.cvttss2siRR(w, rr, rsrc)
	}
	a.Alloc.FreeResourcesOf(ins)
	return nil
}

// asmFFFF2F4 packs four independently-converted scalars (each already
// zero in lanes 1-3, per asmIntToFloat's xorps-before-cvt sequence) into
// one f4: unpcklps pairs (a,b) and (c,d) into the low/high halves, then
// movlhps joins them.
func (a *Assembler) asmFFFF2F4(ins *lir.Instruction) error {
	rr, err := a.Alloc.PrepareResultReg(ins, reg.FPMask)
	if err != nil {
		return err
	}
	var lanes [4]reg.Register
	for i := 0; i < 4; i++ {
		lanes[i], err = a.Alloc.FindRegFor(ins.Oprnd(i+1), reg.FPMask.Remove(rr))
		if err != nil {
			return err
		}
	}
	a.emitInOrder(
		func() { a.unpcklpsRR(lanes[0], lanes[1]) },
		func() { a.unpcklpsRR(lanes[2], lanes[3]) },
		func() { a.movlhpsRR(lanes[0], lanes[2]) },
		func() {
			if rr != lanes[0] {
				a.movByClass(ins.Type, rr, lanes[0])
			}
		},
	)
	a.Alloc.FreeResourcesOf(ins)
	return nil
}

// asmSwzF4 is the f4x/f4y/f4z/f4w/swzf4 family: a single pshufd with an
// immediate lane-select mask.
func (a *Assembler) asmSwzF4(ins *lir.Instruction) error {
	rr, ra, err := a.beginOp1Regs(ins, reg.FPMask)
	if err != nil {
		return err
	}
	mask := byte(ins.ImmF4[0]) | byte(ins.ImmF4[1])<<2 | byte(ins.ImmF4[2])<<4 | byte(ins.ImmF4[3])<<6
	a.emitInOrder(func() { a.pshufd(rr, ra, mask) })
	return a.endOpRegs(ins, rr, ra)
}
