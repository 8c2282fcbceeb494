// Package enc packs (opcode template, registers, displacement, immediate)
// tuples into concrete x86-64 instruction bytes. This is the leaf layer
// described in spec.md §4.1: pure functions, no allocator or buffer
// dependency, REX/ModRM/SIB legality enforced at the type level where
// practical.
//
// Encoding follows the teacher's opcode-constant naming (pvm/x86_constants.go
// in the retrieval pack) but adds the REX/ModRM composition helpers that
// package pvm never needed, because its PVM source ISA maps 1:1 onto a
// fixed register file and never emits SIB- or RIP-relative addressing.
package enc

import "fmt"

// REX prefix bits.
const (
	RexW byte = 0x08
	RexR byte = 0x04
	RexX byte = 0x02
	RexB byte = 0x01
	rexBase byte = 0x40
)

// ModRM mod field values.
const (
	ModIndirect      byte = 0x00
	ModIndirectDisp8 byte = 0x01
	ModIndirectDisp32 byte = 0x02
	ModRegister      byte = 0x03
)

// SIB "no index" encoding and the two register-number classes that force
// special-case memory addressing.
const (
	SIBNoIndex   byte = 0x04
	rspEnc       byte = 0x04 // RSP / R12 low 3 bits
	rbpEnc       byte = 0x05 // RBP / R13 low 3 bits
)

// Buf is a small append-only byte builder used by the encoder helpers; it
// exists so callers can pre-size the backing array once per instruction
// instead of relying on repeated append growth.
type Buf struct {
	b []byte
}

// NewBuf returns a Buf with capacity for n bytes.
func NewBuf(n int) *Buf { return &Buf{b: make([]byte, 0, n)} }

func (buf *Buf) push(bs ...byte) { buf.b = append(buf.b, bs...) }

// Bytes returns the accumulated instruction bytes.
func (buf *Buf) Bytes() []byte { return buf.b }

// Len reports how many bytes have been written so far.
func (buf *Buf) Len() int { return len(buf.b) }

// rex composes a REX prefix from the W bit and the R/X/B extension bits.
// It returns the bare marker rexBase (0x40) when no extension bit is set
// and w is false; needsRex reports that case, in which the prefix may be
// elided (spec.md §4.1 rexrb).
func rex(w bool, r, x, b byte) byte {
	v := rexBase
	if w {
		v |= RexW
	}
	if r != 0 {
		v |= RexR
	}
	if x != 0 {
		v |= RexX
	}
	if b != 0 {
		v |= RexB
	}
	return v
}

// needsRex reports whether v (as produced by rex) carries any information
// beyond the bare REX marker, i.e. whether it must actually be emitted.
func needsRex(v byte) bool { return v != rexBase }

// mandatoryPrefix values recognized by rexp-prefixed helpers: SSE scalar
// forms need 0x66/0xF2/0xF3 ahead of any REX byte.
type Prefix byte

const (
	NoPrefix Prefix = 0x00
	P66      Prefix = 0x66
	PF2      Prefix = 0xF2
	PF3      Prefix = 0xF3
)

// modRR packs a register-direct ModRM byte (mod=11) for opcode-extension
// reg field regOrExt and r/m field rm.
func modRR(regOrExt, rm byte) byte {
	return ModRegister<<6 | (regOrExt&7)<<3 | (rm & 7)
}

// MemOperand describes a base(+index*scale)+disp memory operand prior to
// ModRM/SIB legalization. Index/Scale are zero when there is no SIB
// index register.
type MemOperand struct {
	Base       byte // 4-bit register number (REX-extended)
	HasIndex   bool
	Index      byte
	Scale      byte // 0=1, 1=2, 2=4, 3=8
	Disp       int32
	RIPRelative bool
}

// legalizeMemMod rewrites (mod, disp) for the three special base-register cases
// spec.md §4.1 calls out:
//
//   - base in {RSP, R12} (low 3 bits 100): illegal without SIB; the
//     caller must always emit a SIB byte with no index.
//   - base in {RBP, R13} (low 3 bits 101) with disp==0: mode 00 would be
//     RIP-relative, so this is forced to mode 01 with an explicit disp8
//     of 0.
//   - a disp32 that fits in a signed byte is shrunk to mode 01/disp8.
func legalizeMemMod(baseLow3 byte, mod byte, disp int32) (byte, int32, int) {
	if baseLow3 == rbpEnc && mod == ModIndirect && disp == 0 {
		return ModIndirectDisp8, 0, 1
	}
	if mod == ModIndirectDisp32 && disp >= -128 && disp <= 127 {
		return ModIndirectDisp8, disp, 1
	}
	switch mod {
	case ModIndirect:
		return ModIndirect, 0, 0
	case ModIndirectDisp8:
		return ModIndirectDisp8, disp, 1
	default:
		return ModIndirectDisp32, disp, 4
	}
}

// EmitDisp appends the little-endian bytes of disp truncated to n bytes
// (1 or 4).
func EmitDisp(buf *Buf, disp int32, n int) {
	if n == 1 {
		buf.push(byte(disp))
		return
	}
	buf.push(byte(disp), byte(disp>>8), byte(disp>>16), byte(disp>>24))
}

// EmitImm32 appends imm little-endian.
func EmitImm32(buf *Buf, imm int32) {
	buf.push(byte(imm), byte(imm>>8), byte(imm>>16), byte(imm>>24))
}

// EmitImm64 appends imm little-endian.
func EmitImm64(buf *Buf, imm uint64) {
	for i := 0; i < 8; i++ {
		buf.push(byte(imm >> (8 * i)))
	}
}

// illegalOperand formats the error for a ModRM/SIB combination that
// cannot be represented, e.g. a bare disp0 base of RBP/R13 requested at
// mode 00 directly instead of going through Mem. No encoder helper in
// this package calls it; they return encoded bytes with no error result.
func illegalOperand(format string, args ...any) error {
	return fmt.Errorf("enc: illegal operand: "+format, args...)
}
