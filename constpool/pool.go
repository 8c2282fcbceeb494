// Package constpool implements the deduplicated literal pool spec.md §4.4
// and §6 refer to for float/double/float4 immediate materialization:
// findImmF4FromPool, findImmD, findImmF.
package constpool

import (
	"math"
)

// Pool deduplicates float64/float32/float4 (128-bit vector) constants by
// raw bit pattern and hands back a stable slot index; the assembler maps
// slot indices to addresses once the pool itself has been placed in a
// code chunk (constants are emitted once, near the fragment that uses
// them, and referenced RIP-relative).
type Pool struct {
	f32   []uint32
	f32ix map[uint32]int
	f64   []uint64
	f64ix map[uint64]int
	f4    [][4]uint32
	f4ix  map[[4]uint32]int
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		f32ix: map[uint32]int{},
		f64ix: map[uint64]int{},
		f4ix:  map[[4]uint32]int{},
	}
}

// InternF32 returns the slot index for v, adding it if this is the first
// occurrence (findImmF).
func (p *Pool) InternF32(v float32) int {
	bits := math.Float32bits(v)
	if i, ok := p.f32ix[bits]; ok {
		return i
	}
	i := len(p.f32)
	p.f32 = append(p.f32, bits)
	p.f32ix[bits] = i
	return i
}

// InternF64 returns the slot index for v, adding it if new (findImmD).
func (p *Pool) InternF64(v float64) int {
	bits := math.Float64bits(v)
	if i, ok := p.f64ix[bits]; ok {
		return i
	}
	i := len(p.f64)
	p.f64 = append(p.f64, bits)
	p.f64ix[bits] = i
	return i
}

// InternF4 returns the slot index for a 4x float32 vector v, adding it
// if new (findImmF4FromPool). Slots are always 16-byte aligned once
// placed, so callers may prefer `movaps` over `movups`.
func (p *Pool) InternF4(v [4]float32) int {
	var bits [4]uint32
	for i, f := range v {
		bits[i] = math.Float32bits(f)
	}
	if i, ok := p.f4ix[bits]; ok {
		return i
	}
	i := len(p.f4)
	p.f4 = append(p.f4, bits)
	p.f4ix[bits] = i
	return i
}

// Layout assigns byte offsets to every interned constant within a single
// contiguous, 16-byte-aligned region: float4 slots first (already
// naturally aligned at 16 bytes each), then f64 (8-byte slots), then f32
// (4-byte slots) — widest-first packing avoids padding between groups.
type Layout struct {
	F4Offsets  []int
	F64Offsets []int
	F32Offsets []int
	Size       int
}

// Layout computes byte offsets for every constant currently in the pool.
func (p *Pool) Layout() Layout {
	off := 0
	l := Layout{
		F4Offsets:  make([]int, len(p.f4)),
		F64Offsets: make([]int, len(p.f64)),
		F32Offsets: make([]int, len(p.f32)),
	}
	for i := range p.f4 {
		l.F4Offsets[i] = off
		off += 16
	}
	for i := range p.f64 {
		l.F64Offsets[i] = off
		off += 8
	}
	for i := range p.f32 {
		l.F32Offsets[i] = off
		off += 4
	}
	// pad to 16 so the whole region can be placed at an alignment the
	// caller controls without splitting a trailing f32 group across it.
	if rem := off % 16; rem != 0 {
		off += 16 - rem
	}
	l.Size = off
	return l
}

// Bytes serializes the pool's contents in the same order Layout assigns
// offsets, ready to be copied into a code chunk.
func (p *Pool) Bytes() []byte {
	l := p.Layout()
	out := make([]byte, l.Size)
	putU32 := func(off int, v uint32) {
		out[off] = byte(v)
		out[off+1] = byte(v >> 8)
		out[off+2] = byte(v >> 16)
		out[off+3] = byte(v >> 24)
	}
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			out[off+i] = byte(v >> (8 * i))
		}
	}
	for i, v := range p.f4 {
		for j, word := range v {
			putU32(l.F4Offsets[i]+4*j, word)
		}
	}
	for i, v := range p.f64 {
		putU64(l.F64Offsets[i], v)
	}
	for i, v := range p.f32 {
		putU32(l.F32Offsets[i], v)
	}
	return out
}
