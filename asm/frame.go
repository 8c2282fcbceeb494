package asm

import "github.com/tracejit/x64backend/reg"

// osPageSize is the guard-page stride the prologue probes at on Windows;
// spec.md §4.6 calls for page-sized strides without naming a platform
// page-size source, so this names the one constant (4096) every x86-64
// target in scope actually uses.
const osPageSize = 4096

// EmitPrologue writes the fragment's entry sequence: push the caller's
// frame pointer, establish FP=RSP, and reserve the stack area the
// allocator's spill slots (plus, on Windows, the callee's shadow space)
// need. It must run after Translate — the reservation size depends on
// how large the spill area grew while the selector walked the fragment
// backwards — which lands it at the lowest address in the buffer, ahead
// of everything Translate already wrote.
//
// Per spec.md §8's prologue-correctness property: afterward, RBP == old
// RSP - 8 and RSP == RBP - amt with RSP a multiple of the platform stack
// alignment.
func (a *Assembler) EmitPrologue() error {
	amt := a.Alloc.FrameSize()
	if a.Conv.Windows {
		amt += int32(a.Conv.ShadowSpace)
	}
	if align := int32(a.Conv.StackAlign); align > 0 {
		if rem := amt % align; rem != 0 {
			amt += align - rem
		}
	}

	steps := []func(){
		func() { a.push(reg.RBP) },
		func() { a.movRR(true, reg.RBP, reg.RSP) },
	}
	if amt > 0 {
		steps = append(steps, func() { a.aluImm(opSub, true, reg.RSP, amt) })
	}
	if a.Conv.Windows {
		for offset := int32(osPageSize); offset <= amt; offset += osPageSize {
			offset := offset
			steps = append(steps, func() { a.movImmToMem32(reg.RBP, -offset, 0) })
		}
	}
	a.emitInOrder(steps...)
	return a.Buf.Err()
}

// emitEpilogue is asm_ret's tail: restore RSP from RBP, pop the caller's
// frame pointer, and return. Written as explicit mov/pop rather than
// `leave` to match this back end's avoidance of opcodes not already
// needed elsewhere in the mnemonic layer.
func (a *Assembler) emitEpilogue() {
	a.emitInOrder(
		func() { a.movRR(true, reg.RSP, reg.RBP) },
		func() { a.pop(reg.RBP) },
		func() { a.ret() },
	)
}
