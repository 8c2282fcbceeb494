// Package regalloc is the greedy, backwards, second-chance register
// allocator the code selector (package asm) drives one LIR instruction
// at a time, per spec.md §4.5/§6. The method names below intentionally
// mirror the allocator interface spec.md §6 names (prepareResultReg,
// findRegFor, evictIfActive, ...), which are themselves the classic
// nanojit/TraceMonkey backwards-assembler vocabulary this back end's
// architecture descends from.
//
// "Backwards" here means the selector visits LIR from the last
// instruction to the first, so a value's def is processed after all of
// its uses; the allocator tracks, at every point in that walk, which
// physical registers are "active" (already claimed by a not-yet-defined
// value) and frees a register the moment it reaches that value's
// definition.
package regalloc

import (
	"fmt"

	"github.com/tracejit/x64backend/abi"
	"github.com/tracejit/x64backend/asmerr"
	"github.com/tracejit/x64backend/lir"
	"github.com/tracejit/x64backend/reg"
)

// Allocator holds the register file's live state during one fragment's
// backwards code-selection pass.
type Allocator struct {
	conv abi.Convention

	freeGP reg.RegisterMask
	freeFP reg.RegisterMask

	// active[r] is the LIR value currently occupying r, or nil.
	active [32]*lir.Instruction

	hints map[*lir.Instruction]reg.RegisterMask

	frameSize int32 // bytes of spill area reserved so far, always a positive count growing from 0

	saves []snapshot
}

type snapshot struct {
	freeGP, freeFP reg.RegisterMask
	active         [32]*lir.Instruction
}

// New returns an allocator whose free set is every register except RSP
// and the frame pointer (reg.GPMask/FPMask already exclude those).
func New(conv abi.Convention) *Allocator {
	return &Allocator{
		conv:   conv,
		freeGP: reg.GPMask,
		freeFP: reg.FPMask,
		hints:  map[*lir.Instruction]reg.RegisterMask{},
	}
}

func (a *Allocator) freeMaskFor(t lir.Type) *reg.RegisterMask {
	if t == lir.TD || t == lir.TF || t == lir.TF4 {
		return &a.freeFP
	}
	return &a.freeGP
}

func classMask(t lir.Type) reg.RegisterMask {
	if t == lir.TD || t == lir.TF || t == lir.TF4 {
		return reg.FPMask
	}
	return reg.GPMask
}

func (a *Allocator) bind(ins *lir.Instruction, r reg.Register) {
	a.active[r] = ins
	free := a.freeMaskFor(ins.Type)
	*free = free.Remove(r)
	ins.Reg = r
	ins.HasReg = true
}

// unbind detaches whatever value occupies r without spilling it; callers
// must already have decided the value doesn't need preserving.
func (a *Allocator) unbind(r reg.Register) {
	occ := a.active[r]
	if occ == nil {
		return
	}
	a.active[r] = nil
	occ.HasReg = false
	free := a.freeMaskFor(occ.Type)
	*free = free.Add(r)
}

// PrepareResultReg ensures ins ends up in a register within allow,
// evicting or reusing as needed, and returns it. Called at an
// instruction's definition site (the last point the backwards walk
// visits it), after which the register is free for instructions further
// back in program order.
func (a *Allocator) PrepareResultReg(ins *lir.Instruction, allow reg.RegisterMask) (reg.Register, error) {
	if ins.IsInReg() && allow.Contains(ins.GetReg()) {
		return ins.GetReg(), nil
	}
	r, err := a.FindRegFor(ins, allow)
	if err != nil {
		return 0, err
	}
	return r, nil
}

// FindRegFor returns a register within allow holding (or now bound to
// hold) ins's value, allocating a free one or evicting a second-chance
// candidate if the class is full.
func (a *Allocator) FindRegFor(ins *lir.Instruction, allow reg.RegisterMask) (reg.Register, error) {
	if ins.IsInReg() && allow.Contains(ins.GetReg()) {
		return ins.GetReg(), nil
	}
	candidates := allow & *a.freeMaskFor(ins.Type)
	if r, ok := candidates.Pick(); ok {
		a.bind(ins, r)
		return r, nil
	}
	r, err := a.evictOneOf(allow, ins.Type)
	if err != nil {
		return 0, err
	}
	a.bind(ins, r)
	return r, nil
}

// FindRegFor2 allocates distinct registers for two values sharing an
// allow set, e.g. the dividend/divisor pairing idiv needs split across
// RAX/RDX.
func (a *Allocator) FindRegFor2(ins1, ins2 *lir.Instruction, allow reg.RegisterMask) (r1, r2 reg.Register, err error) {
	r1, err = a.FindRegFor(ins1, allow)
	if err != nil {
		return 0, 0, err
	}
	r2, err = a.FindRegFor(ins2, allow.Remove(r1))
	if err != nil {
		return 0, 0, err
	}
	return r1, r2, nil
}

// FindSpecificRegFor forces ins into exactly r, evicting whatever
// currently occupies it.
func (a *Allocator) FindSpecificRegFor(ins *lir.Instruction, r reg.Register) error {
	if ins.IsInReg() && ins.GetReg() == r {
		return nil
	}
	if ins.IsInReg() {
		a.unbind(ins.Reg)
	}
	if _, err := a.EvictIfActive(r); err != nil {
		return err
	}
	a.bind(ins, r)
	return nil
}

// FindSpecificRegForUnallocated is FindSpecificRegFor's precondition-
// checked form, for callers that know ins must not already carry a
// register (e.g. materializing a fresh parameter).
func (a *Allocator) FindSpecificRegForUnallocated(ins *lir.Instruction, r reg.Register) error {
	asmerr.Assert(!ins.IsInReg(), "regalloc: FindSpecificRegForUnallocated on already-allocated value")
	return a.FindSpecificRegFor(ins, r)
}

// FindMemFor returns a spill-slot displacement for ins, reserving one if
// it doesn't already have one.
func (a *Allocator) FindMemFor(ins *lir.Instruction) int32 {
	if ins.HasDisp {
		return ins.Disp
	}
	size := int32(8)
	if ins.Type == lir.TF4 {
		size = 16
	} else if ins.Type == lir.TI || ins.Type == lir.TF {
		size = 4
	}
	a.frameSize += size
	if rem := a.frameSize % size; rem != 0 {
		a.frameSize += size - rem
	}
	ins.Disp = -a.frameSize
	ins.HasDisp = true
	return ins.Disp
}

// EvictIfActive frees r's occupant, if any, spilling it to memory first
// unless it can be rematerialized instead. Returns the evicted value.
func (a *Allocator) EvictIfActive(r reg.Register) (*lir.Instruction, error) {
	occ := a.active[r]
	if occ == nil {
		return nil, nil
	}
	if !a.CanRemat(occ) {
		a.FindMemFor(occ)
	}
	a.unbind(r)
	return occ, nil
}

// EvictScratchRegsExcept frees every active register not in keep,
// spilling as EvictIfActive does. Used before a call, whose ABI clobbers
// the caller-saved set wholesale.
func (a *Allocator) EvictScratchRegsExcept(keep reg.RegisterMask) error {
	for r := reg.Register(0); r < 32; r++ {
		if keep.Contains(r) {
			continue
		}
		if _, err := a.EvictIfActive(r); err != nil {
			return err
		}
	}
	return nil
}

// AllocTempReg allocates a register for the selector's own transient use
// (not bound to any LIR value); the caller must FreeTempReg it once
// done.
func (a *Allocator) AllocTempReg(allow reg.RegisterMask) (reg.Register, error) {
	t := lir.TI
	if allow&reg.FPMask == allow {
		t = lir.TD
	}
	candidates := allow & *a.freeMaskFor(t)
	if r, ok := candidates.Pick(); ok {
		free := a.freeMaskFor(t)
		*free = free.Remove(r)
		return r, nil
	}
	return a.evictOneOf(allow, t)
}

// FreeTempReg releases a register obtained from AllocTempReg.
func (a *Allocator) FreeTempReg(r reg.Register) {
	t := lir.TI
	if r.IsFP() {
		t = lir.TD
	}
	free := a.freeMaskFor(t)
	*free = free.Add(r)
}

// FreeResourcesOf releases ins's register and/or spill slot. Called once
// the backwards walk reaches ins's definition and no instruction further
// back can observe its value.
func (a *Allocator) FreeResourcesOf(ins *lir.Instruction) {
	if ins.IsInReg() {
		a.unbind(ins.Reg)
	}
	ins.HasDisp = false
	delete(a.hints, ins)
}

// ReleaseRegisters frees every active register, e.g. at a fragment's
// entry point where nothing should still be considered live going
// further back.
func (a *Allocator) ReleaseRegisters() {
	for r := reg.Register(0); r < 32; r++ {
		if a.active[r] != nil {
			a.unbind(r)
		}
	}
}

// AssignSavedRegs removes this convention's callee-saved registers from
// general circulation; they remain reachable only via
// FindSpecificRegFor, matching the prologue/epilogue's exclusive claim
// on them for the trace's lifetime.
func (a *Allocator) AssignSavedRegs() {
	for _, r := range a.conv.CalleeSaved {
		a.freeGP = a.freeGP.Remove(r)
	}
}

// BeginLoadRegs snapshots the allocator's live state so a short interval
// (asmLoad's displacement-blinded load and its temporary register) can
// be emitted against a known baseline, which the matching EndLoadRegs
// then restores.
func (a *Allocator) BeginLoadRegs() {
	a.saves = append(a.saves, snapshot{freeGP: a.freeGP, freeFP: a.freeFP, active: a.active})
}

// EndLoadRegs restores the state captured by the matching BeginLoadRegs.
func (a *Allocator) EndLoadRegs() {
	n := len(a.saves)
	asmerr.Assert(n > 0, "regalloc: EndLoadRegs without matching BeginLoadRegs")
	s := a.saves[n-1]
	a.saves = a.saves[:n-1]

	// Reconcile per-instruction Reg/HasReg fields, which live on the LIR
	// instructions themselves rather than in the snapshot: whatever the
	// interval left active loses its binding, whatever the snapshot had
	// active gets it back.
	for r := reg.Register(0); r < 32; r++ {
		if cur := a.active[r]; cur != nil && cur != s.active[r] {
			cur.HasReg = false
		}
	}
	a.freeGP, a.freeFP, a.active = s.freeGP, s.freeFP, s.active
	for r := reg.Register(0); r < 32; r++ {
		if occ := a.active[r]; occ != nil {
			occ.Reg = r
			occ.HasReg = true
		}
	}
}

// SetHint records a preferred-register mask for ins, consulted the next
// time it needs a register.
func (a *Allocator) SetHint(ins *lir.Instruction, mask reg.RegisterMask) {
	a.hints[ins] = mask
}

// Hint returns ins's preferred-register mask, or the full class mask if
// none was recorded.
func (a *Allocator) Hint(ins *lir.Instruction) reg.RegisterMask {
	if m, ok := a.hints[ins]; ok {
		return m
	}
	return classMask(ins.Type)
}

// RegCopyCandidates returns the subset of allow that already holds the
// same value as r, letting the selector skip a redundant mov.
func (a *Allocator) RegCopyCandidates(r reg.Register, allow reg.RegisterMask) reg.RegisterMask {
	occ := a.active[r]
	if occ == nil {
		return 0
	}
	var out reg.RegisterMask
	for cand := reg.Register(0); cand < 32; cand++ {
		if !allow.Contains(cand) {
			continue
		}
		if a.active[cand] == occ {
			out = out.Add(cand)
		}
	}
	return out
}

// CanRemat reports whether ins is cheap to reconstruct at its use site
// rather than spilling and reloading it: true for untainted immediates
// and for callee-saved-register parameters (OpParamSaved). Tainted
// immediates and ordinary parameters are not rematerializable.
func (a *Allocator) CanRemat(ins *lir.Instruction) bool {
	if ins.IsImmAny() {
		return !ins.IsTainted()
	}
	return ins.Op == lir.OpParamSaved
}

// FrameSize returns the spill area's current size in bytes, 16-byte
// aligned, for the prologue's stack-allocation instruction.
func (a *Allocator) FrameSize() int32 {
	if rem := a.frameSize % 16; rem != 0 {
		return a.frameSize + (16 - rem)
	}
	return a.frameSize
}

// evictOneOf picks a member of allow already bound to a value and frees
// it, preferring one that can be rematerialized over one that needs an
// actual spill store.
func (a *Allocator) evictOneOf(allow reg.RegisterMask, t lir.Type) (reg.Register, error) {
	busy := allow & classMask(t) &^ *a.freeMaskFor(t)
	if busy.Empty() {
		return 0, fmt.Errorf("regalloc: %w: no register available in mask 0x%08x", asmerr.PreconditionViolation, uint32(allow))
	}
	// second chance: prefer evicting a rematerializable occupant first.
	for r := reg.Register(0); r < 32; r++ {
		if busy.Contains(r) && a.CanRemat(a.active[r]) {
			a.unbind(r)
			return r, nil
		}
	}
	r, _ := busy.Pick()
	if _, err := a.EvictIfActive(r); err != nil {
		return 0, err
	}
	return r, nil
}
