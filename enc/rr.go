package enc

import "github.com/tracejit/x64backend/reg"

// RR encodes a register-direct instruction: optional REX, the given
// opcode bytes, and a mod=11 ModRM byte pairing regField (the ModRM.reg
// slot — an actual operand register, or an opcode-extension number, or
// reg.RZero when the encoding has no meaningful reg field) with rm (the
// ModRM.r/m slot). This is spec.md §4.1's `rexrb` generalized to
// multi-byte opcodes: REX is elided whenever it would carry no
// information (w==false and neither register needs an extension bit).
func RR(w bool, opcode []byte, regField, rm reg.Register) []byte {
	buf := NewBuf(1 + len(opcode) + 1)
	r := rex(w, regField.HighBit(), 0, rm.HighBit())
	if needsRex(r) {
		buf.push(r)
	}
	buf.push(opcode...)
	buf.push(modRR(regField.Enc(), rm.Enc()))
	return buf.Bytes()
}

// RR8 is RR for instructions operating on the low byte of rm (SETcc,
// MOVZX/MOVSX 8-bit sources, byte MOV). Per spec.md §4.1's `rexrb8`, the
// REX prefix is always emitted whenever rm is one of RSP/RBP/RSI/RDI,
// even though neither needs a REX extension bit, because without any
// REX byte those encodings alias AH/CH/DH/BH instead of the low byte of
// RSP/RBP/RSI/RDI.
func RR8(opcode []byte, regField, rm reg.Register) []byte {
	buf := NewBuf(1 + len(opcode) + 1)
	r := rex(false, regField.HighBit(), 0, rm.HighBit())
	if needsRex(r) || forcesRexForByteAccess(rm) {
		if !needsRex(r) {
			r = rexBase
		}
		buf.push(r)
	}
	buf.push(opcode...)
	buf.push(modRR(regField.Enc(), rm.Enc()))
	return buf.Bytes()
}

func forcesRexForByteAccess(r reg.Register) bool {
	switch r {
	case reg.RSP, reg.RBP, reg.RSI, reg.RDI:
		return true
	default:
		return false
	}
}

// PrefixedRR is RR with a mandatory prefix byte (0x66/0xF2/0xF3) ahead of
// REX, used for SSE scalar/packed register-register forms. Per spec.md
// §4.1's `rexprb`: when REX would be elided, the prefix simply becomes
// the first byte instead of the second.
func PrefixedRR(prefix Prefix, w bool, opcode []byte, regField, rm reg.Register) []byte {
	buf := NewBuf(2 + len(opcode) + 1)
	if prefix != NoPrefix {
		buf.push(byte(prefix))
	}
	r := rex(w, regField.HighBit(), 0, rm.HighBit())
	if needsRex(r) {
		buf.push(r)
	}
	buf.push(opcode...)
	buf.push(modRR(regField.Enc(), rm.Enc()))
	return buf.Bytes()
}

// RXB encodes a scaled-index memory operand [base + index*scale + disp]:
// REX.R/X/B from regField/index/base, opcode, a ModRM whose r/m field is
// 100 (SIB follows), and a SIB byte combining scale/index/base. This is
// spec.md §4.1's `rexrxb`, used by indexed loads/stores when the LIR
// expresses a scaled-index addressing mode rather than plain base+disp.
func RXB(w bool, opcode []byte, regField, index, base reg.Register, scale byte, disp int32) []byte {
	baseLow3 := base.Enc()
	mod, d, dn := legalizeMemMod(baseLow3, modForDisp(disp), disp)
	buf := NewBuf(2 + len(opcode) + 1 + dn)
	r := rex(w, regField.HighBit(), index.HighBit(), base.HighBit())
	if needsRex(r) {
		buf.push(r)
	}
	buf.push(opcode...)
	buf.push(mod<<6 | (regField.Enc()&7)<<3 | SIBNoIndex)
	buf.push((scale&3)<<6 | (index.Enc()&7)<<3 | (baseLow3 & 7))
	EmitDisp(buf, d, dn)
	return buf.Bytes()
}

func modForDisp(disp int32) byte {
	if disp == 0 {
		return ModIndirect
	}
	if disp >= -128 && disp <= 127 {
		return ModIndirectDisp8
	}
	return ModIndirectDisp32
}
