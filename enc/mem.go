package enc

import "github.com/tracejit/x64backend/reg"

// Mem encodes opcode with a ModRM addressing [base + disp], handling the
// three base-register special cases from spec.md §4.1:
//
//	(a) base in {RSP, R12}: illegal without SIB, so a no-index SIB byte
//	    is always emitted for these bases;
//	(b) base in {RBP, R13} with disp==0: encoded as mode 01, disp8=0,
//	    since mode 00 in this rm slot means RIP-relative;
//	(c) general base+disp, shrinking a disp32 that fits in a signed byte
//	    to mode 01/disp8.
//
// regField is the ModRM.reg slot: an actual register operand, or a small
// opcode-extension number for group 1/2/3/5 instructions (in which case
// pass it via reg.Register(n) since only the low 3 bits are read).
func Mem(w bool, opcode []byte, regField, base reg.Register, disp int32) []byte {
	baseLow3 := base.Enc()
	mod, d, dn := legalizeMemMod(baseLow3, modForDisp(disp), disp)

	needsSIB := baseLow3 == rspEnc // RSP or R12
	buf := NewBuf(1 + len(opcode) + 1 + 1 + dn)
	r := rex(w, regField.HighBit(), 0, base.HighBit())
	if needsRex(r) {
		buf.push(r)
	}
	buf.push(opcode...)
	if needsSIB {
		buf.push(mod<<6 | (regField.Enc()&7)<<3 | SIBNoIndex)
		buf.push(SIBNoIndex<<3 | (baseLow3 & 7)) // scale=0, index=none, base
	} else {
		buf.push(mod<<6 | (regField.Enc()&7)<<3 | (baseLow3 & 7))
	}
	EmitDisp(buf, d, dn)
	return buf.Bytes()
}

// PrefixedMem is Mem with a mandatory SSE prefix ahead of REX (movss,
// movsd, movups, movaps memory forms).
func PrefixedMem(prefix Prefix, w bool, opcode []byte, regField, base reg.Register, disp int32) []byte {
	body := Mem(w, opcode, regField, base, disp)
	if prefix == NoPrefix {
		return body
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, byte(prefix))
	out = append(out, body...)
	return out
}

// RIPRel encodes opcode with a RIP-relative operand: ModRM mod=00,
// rm=101, followed by a disp32 measured from the address of the byte
// immediately following the instruction. Callers compute disp themselves;
// since code is written backwards, the instruction's end is the cursor
// address just before it is emitted (see leaRIPRelTo in package asm).
func RIPRel(w bool, opcode []byte, regField reg.Register, disp int32) []byte {
	buf := NewBuf(1 + len(opcode) + 1 + 4)
	r := rex(w, regField.HighBit(), 0, 0)
	if needsRex(r) {
		buf.push(r)
	}
	buf.push(opcode...)
	buf.push(ModIndirect<<6 | (regField.Enc()&7)<<3 | rbpEnc)
	EmitImm32(buf, disp)
	return buf.Bytes()
}

// Ext wraps a small integer opcode-extension number (0..7) as the
// pseudo-register passed to Mem/RR's regField parameter for group
// 1/2/3/5 instructions, whose ModRM.reg slot selects the operation
// rather than naming a register.
func Ext(n byte) reg.Register { return reg.Register(n) }
