package asm

import (
	"github.com/tracejit/x64backend/enc"
	"github.com/tracejit/x64backend/reg"
)

// The mnemonic layer, per spec.md §4.3: one routine per native
// instruction, composing package enc's pure encoders and writing through
// the active cursor via Assembler.emit. The routines here do not assert
// their operands' preconditions and do not record a text comment per
// instruction; the only diagnostic hook is the selector's per-LIR-
// instruction trace line gated by Assembler.Verbose.

var (
	opAdd    = []byte{0x01} // add r/m, r
	opSub    = []byte{0x29} // sub r/m, r
	opAnd    = []byte{0x21}
	opOr     = []byte{0x09}
	opXor    = []byte{0x31}
	opCmp    = []byte{0x39}
	opMov    = []byte{0x89} // mov r/m, r
	opMovRM  = []byte{0x8B} // mov r, r/m
	opLea    = []byte{0x8D}
	opGrp1I8 = []byte{0x83} // add/or/adc/sbb/and/sub/xor/cmp r/m, imm8 (sign-extended)
	opGrp1I32 = []byte{0x81}
	opImulRR = []byte{0x0F, 0xAF}
	opImulI  = []byte{0x69} // imul r, r/m, imm32
	opTest   = []byte{0x85}
	opNeg    = []byte{0xF7} // /3
	opNot    = []byte{0xF7} // /2
	opIDiv   = []byte{0xF7} // /7
	opShiftI8 = []byte{0xC1}
	opShiftCL = []byte{0xD3}
	opMovImm32 = []byte{0xC7} // /0, r/m, imm32
	opMovzx8   = []byte{0x0F, 0xB6}
	opMovzx16  = []byte{0x0F, 0xB7}
	opMovsx8   = []byte{0x0F, 0xBE}
	opMovsx16  = []byte{0x0F, 0xBF}
	opMovsxd   = []byte{0x63}
	opJmpRel32 = []byte{0xE9}
	opJmpRel8  = []byte{0xEB}
	opCallRel32 = []byte{0xE8}
	opRet      = []byte{0xC3}
	opPush     = []byte{0x50} // +r
	opPop      = []byte{0x58} // +r

	opUcomisd  = []byte{0x0F, 0x2E} // 66 prefix
	opUcomiss  = []byte{0x0F, 0x2E}
	opAddsd    = []byte{0x0F, 0x58} // F2 prefix
	opSubsd    = []byte{0x0F, 0x5C}
	opMulsd    = []byte{0x0F, 0x59}
	opDivsd    = []byte{0x0F, 0x5E}
	opAddss    = []byte{0x0F, 0x58} // F3 prefix
	opSubss    = []byte{0x0F, 0x5C}
	opMulss    = []byte{0x0F, 0x59}
	opDivss    = []byte{0x0F, 0x5E}
	opAddps    = []byte{0x0F, 0x58} // no prefix
	opSubps    = []byte{0x0F, 0x5C}
	opMulps    = []byte{0x0F, 0x59}
	opDivps    = []byte{0x0F, 0x5E}
	opXorps    = []byte{0x0F, 0x57}
	opMovsdRR  = []byte{0x0F, 0x10} // F2 prefix, xmm,xmm/m
	opMovssRR  = []byte{0x0F, 0x10} // F3 prefix
	opMovupsRM = []byte{0x0F, 0x10}
	opMovapsRM = []byte{0x0F, 0x28}
	opCvtsi2sd = []byte{0x0F, 0x2A} // F2 prefix
	opCvtsi2ss = []byte{0x0F, 0x2A} // F3 prefix
	opCvttsd2si = []byte{0x0F, 0x2C} // F2 prefix
	opCvttss2si = []byte{0x0F, 0x2C} // F3 prefix
	opCvtss2sd = []byte{0x0F, 0x5A} // F3 prefix
	opCvtsd2ss = []byte{0x0F, 0x5A} // F2 prefix
	opPshufd   = []byte{0x0F, 0x70} // 66 prefix, imm8
	opCmpps    = []byte{0x0F, 0xC2} // imm8 predicate
	opPmovmskb = []byte{0x0F, 0xD7} // 66 prefix
	opUnpcklps = []byte{0x0F, 0x14} // no prefix
	opMovlhps  = []byte{0x0F, 0x16} // no prefix, register form only
	opMovdq    = []byte{0x0F, 0x6E} // 66 prefix; REX.W -> movq xmm, r/m64

	opSetccBase  byte = 0x90 // 0F 90+cc
	opCmovccBase byte = 0x40 // 0F 40+cc
	opJccRel8Base byte = 0x70
	opJccRel32_0F byte = 0x80 // 0F 80+cc
)

// Cond identifies an x86 condition code (the low nibble of Jcc/SETcc/CMOVcc).
type Cond byte

const (
	CC_O  Cond = 0x0
	CC_NO Cond = 0x1
	CC_B  Cond = 0x2 // below / carry
	CC_AE Cond = 0x3
	CC_E  Cond = 0x4
	CC_NE Cond = 0x5
	CC_BE Cond = 0x6
	CC_A  Cond = 0x7
	CC_S  Cond = 0x8
	CC_NS Cond = 0x9
	CC_P  Cond = 0xA
	CC_NP Cond = 0xB
	CC_L  Cond = 0xC
	CC_GE Cond = 0xD
	CC_LE Cond = 0xE
	CC_G  Cond = 0xF
)

func (a *Assembler) movRR(w bool, dst, src reg.Register) uintptr {
	return a.emit(enc.RR(w, opMov, src, dst))
}

func (a *Assembler) leaMem(w bool, dst, base reg.Register, disp int32) uintptr {
	return a.emit(enc.Mem(w, opLea, dst, base, disp))
}

func (a *Assembler) leaRIPRel(w bool, dst reg.Register, disp int32) uintptr {
	return a.emit(enc.RIPRel(w, opLea, dst, disp))
}

func (a *Assembler) movRI32(w bool, dst reg.Register, imm int32) uintptr {
	buf := append([]byte(nil), enc.RR(w, opMovImm32, enc.Ext(0), dst)...)
	b := enc.NewBuf(4)
	enc.EmitImm32(b, imm)
	buf = append(buf, b.Bytes()...)
	return a.emit(buf)
}

// movabs materializes a full 64-bit immediate: REX.W + B8+r + imm64.
func (a *Assembler) movabs(dst reg.Register, imm uint64) uintptr {
	rexByte := byte(0x48 | dst.HighBit())
	bs := []byte{rexByte, 0xB8 + dst.Enc()}
	buf := enc.NewBuf(8)
	enc.EmitImm64(buf, imm)
	bs = append(bs, buf.Bytes()...)
	return a.emit(bs)
}

func (a *Assembler) xorRR(w bool, dst, src reg.Register) uintptr {
	return a.emit(enc.RR(w, opXor, src, dst))
}

func (a *Assembler) aluRR(op []byte, w bool, dst, src reg.Register) uintptr {
	return a.emit(enc.RR(w, op, src, dst))
}

func (a *Assembler) aluImm(op []byte, w bool, dst reg.Register, imm int32) uintptr {
	if imm >= -128 && imm <= 127 {
		buf := enc.RR(w, opGrp1I8, enc.Ext(extForAlu(op)), dst)
		out := append([]byte(nil), buf...)
		out = append(out, byte(imm))
		return a.emit(out)
	}
	buf := enc.RR(w, opGrp1I32, enc.Ext(extForAlu(op)), dst)
	out := append([]byte(nil), buf...)
	b := enc.NewBuf(4)
	enc.EmitImm32(b, imm)
	out = append(out, b.Bytes()...)
	return a.emit(out)
}

func extForAlu(op []byte) byte {
	switch op[0] {
	case 0x01:
		return 0 // add
	case 0x09:
		return 1 // or
	case 0x21:
		return 4 // and
	case 0x29:
		return 5 // sub
	case 0x31:
		return 6 // xor
	case 0x39:
		return 7 // cmp
	default:
		return 0
	}
}

func (a *Assembler) cmpRR(w bool, lhs, rhs reg.Register) uintptr {
	return a.emit(enc.RR(w, opCmp, rhs, lhs))
}

func (a *Assembler) cmpImm(w bool, lhs reg.Register, imm int32) uintptr {
	return a.aluImm(opCmp, w, lhs, imm)
}

func (a *Assembler) testRR(w bool, a1, a2 reg.Register) uintptr {
	return a.emit(enc.RR(w, opTest, a2, a1))
}

func (a *Assembler) negR(w bool, r reg.Register) uintptr {
	return a.emit(enc.RR(w, opNeg, enc.Ext(3), r))
}

func (a *Assembler) notR(w bool, r reg.Register) uintptr {
	return a.emit(enc.RR(w, opNot, enc.Ext(2), r))
}

func (a *Assembler) idiv(w bool, divisor reg.Register) uintptr {
	return a.emit(enc.RR(w, opIDiv, enc.Ext(7), divisor))
}

func (a *Assembler) imulRR(w bool, dst, src reg.Register) uintptr {
	return a.emit(enc.RR(w, opImulRR, dst, src))
}

// imulImm is the 3-address `imul dst, src, imm32` form.
func (a *Assembler) imulImm(w bool, dst, src reg.Register, imm int32) uintptr {
	buf := append([]byte(nil), enc.RR(w, opImulI, dst, src)...)
	b := enc.NewBuf(4)
	enc.EmitImm32(b, imm)
	buf = append(buf, b.Bytes()...)
	return a.emit(buf)
}

func (a *Assembler) cdq() uintptr { return a.emit([]byte{0x99}) }
func (a *Assembler) cqo() uintptr { return a.emit([]byte{0x48, 0x99}) }

func (a *Assembler) shiftImm(w bool, ext byte, r reg.Register, count byte) uintptr {
	buf := append([]byte(nil), enc.RR(w, opShiftI8, enc.Ext(ext), r)...)
	buf = append(buf, count&0x3F)
	return a.emit(buf)
}

func (a *Assembler) shiftCL(w bool, ext byte, r reg.Register) uintptr {
	return a.emit(enc.RR(w, opShiftCL, enc.Ext(ext), r))
}

func (a *Assembler) setcc(cc Cond, dst reg.Register) uintptr {
	return a.emit(enc.RR8([]byte{0x0F, opSetccBase + byte(cc)}, enc.Ext(0), dst))
}

func (a *Assembler) movzx8(w bool, dst, src reg.Register) uintptr {
	return a.emit(enc.RR(w, opMovzx8, dst, src))
}

func (a *Assembler) cmovcc(w bool, cc Cond, dst, src reg.Register) uintptr {
	return a.emit(enc.RR(w, []byte{0x0F, opCmovccBase + byte(cc)}, dst, src))
}

func (a *Assembler) push(r reg.Register) uintptr {
	bs := []byte{}
	if r.HighBit() != 0 {
		bs = append(bs, 0x41)
	}
	bs = append(bs, opPush[0]+r.Enc())
	return a.emit(bs)
}

func (a *Assembler) pop(r reg.Register) uintptr {
	bs := []byte{}
	if r.HighBit() != 0 {
		bs = append(bs, 0x41)
	}
	bs = append(bs, opPop[0]+r.Enc())
	return a.emit(bs)
}

func (a *Assembler) ret() uintptr { return a.emit(opRet) }

// jmpRel32Bytes builds a `jmp rel32` ending at instrEnd targeting target,
// used both as the underrun-protect bridge and as the emitted long-jump
// form.
func (a *Assembler) jmpRel32Bytes(target, instrEnd uintptr) []byte {
	delta := int32(int64(target) - int64(instrEnd))
	buf := enc.NewBuf(5)
	enc.EmitImm32(buf, delta)
	return append(append([]byte(nil), opJmpRel32...), buf.Bytes()...)
}

func (a *Assembler) jmpRel8Bytes(delta int8) []byte {
	return []byte{opJmpRel8[0], byte(delta)}
}

func (a *Assembler) jccRel8Bytes(cc Cond, delta int8) []byte {
	return []byte{opJccRel8Base + byte(cc), byte(delta)}
}

func (a *Assembler) jccRel32Bytes(cc Cond, delta int32) []byte {
	buf := enc.NewBuf(4)
	enc.EmitImm32(buf, delta)
	return append([]byte{0x0F, opJccRel32_0F + byte(cc)}, buf.Bytes()...)
}

func (a *Assembler) callRel32Bytes(delta int32) []byte {
	buf := enc.NewBuf(4)
	enc.EmitImm32(buf, delta)
	return append(append([]byte(nil), opCallRel32...), buf.Bytes()...)
}

func (a *Assembler) callIndirect(r reg.Register) uintptr {
	return a.emit(enc.RR(false, []byte{0xFF}, enc.Ext(2), r))
}

// SSE scalar/packed helpers. XMM register numbers reuse the same 4-bit
// field as GP, so enc.RR/enc.Mem work unmodified once callers pass
// reg.XMM* values; HighBit()/Enc() already handle the split correctly.

func (a *Assembler) sseRR(prefix enc.Prefix, op []byte, dst, src reg.Register) uintptr {
	return a.emit(enc.PrefixedRR(prefix, false, op, dst, src))
}

func (a *Assembler) movsdRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF2, opMovsdRR, dst, src) }
func (a *Assembler) movssRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF3, opMovssRR, dst, src) }
func (a *Assembler) addsdRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF2, opAddsd, dst, src) }
func (a *Assembler) subsdRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF2, opSubsd, dst, src) }
func (a *Assembler) mulsdRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF2, opMulsd, dst, src) }
func (a *Assembler) divsdRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF2, opDivsd, dst, src) }
func (a *Assembler) addssRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF3, opAddss, dst, src) }
func (a *Assembler) subssRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF3, opSubss, dst, src) }
func (a *Assembler) mulssRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF3, opMulss, dst, src) }
func (a *Assembler) divssRR(dst, src reg.Register) uintptr { return a.sseRR(enc.PF3, opDivss, dst, src) }
func (a *Assembler) addpsRR(dst, src reg.Register) uintptr { return a.sseRR(enc.NoPrefix, opAddps, dst, src) }
func (a *Assembler) subpsRR(dst, src reg.Register) uintptr { return a.sseRR(enc.NoPrefix, opSubps, dst, src) }
func (a *Assembler) mulpsRR(dst, src reg.Register) uintptr { return a.sseRR(enc.NoPrefix, opMulps, dst, src) }
func (a *Assembler) divpsRR(dst, src reg.Register) uintptr { return a.sseRR(enc.NoPrefix, opDivps, dst, src) }
func (a *Assembler) xorpsRR(dst, src reg.Register) uintptr { return a.sseRR(enc.NoPrefix, opXorps, dst, src) }
func (a *Assembler) ucomisdRR(a1, a2 reg.Register) uintptr { return a.sseRR(enc.P66, opUcomisd, a1, a2) }
func (a *Assembler) ucomissRR(a1, a2 reg.Register) uintptr { return a.sseRR(enc.NoPrefix, opUcomiss, a1, a2) }

func (a *Assembler) cvtsi2sdRR(w bool, dst reg.Register, src reg.Register) uintptr {
	return a.emit(enc.PrefixedRR(enc.PF2, w, opCvtsi2sd, dst, src))
}
func (a *Assembler) cvtsi2ssRR(w bool, dst reg.Register, src reg.Register) uintptr {
	return a.emit(enc.PrefixedRR(enc.PF3, w, opCvtsi2ss, dst, src))
}
func (a *Assembler) cvttsd2siRR(w bool, dst reg.Register, src reg.Register) uintptr {
	return a.emit(enc.PrefixedRR(enc.PF2, w, opCvttsd2si, dst, src))
}
func (a *Assembler) cvttss2siRR(w bool, dst reg.Register, src reg.Register) uintptr {
	return a.emit(enc.PrefixedRR(enc.PF3, w, opCvttss2si, dst, src))
}
func (a *Assembler) cvtss2sdRR(dst, src reg.Register) uintptr {
	return a.sseRR(enc.PF3, opCvtss2sd, dst, src)
}
func (a *Assembler) cvtsd2ssRR(dst, src reg.Register) uintptr {
	return a.sseRR(enc.PF2, opCvtsd2ss, dst, src)
}

func (a *Assembler) pshufd(dst, src reg.Register, imm byte) uintptr {
	buf := append([]byte(nil), enc.PrefixedRR(enc.P66, false, opPshufd, dst, src)...)
	buf = append(buf, imm)
	return a.emit(buf)
}

func (a *Assembler) cmpps(dst, src reg.Register, predicate byte) uintptr {
	buf := append([]byte(nil), enc.PrefixedRR(enc.NoPrefix, false, opCmpps, dst, src)...)
	buf = append(buf, predicate)
	return a.emit(buf)
}

func (a *Assembler) pmovmskb(dst, src reg.Register) uintptr {
	return a.sseRR(enc.P66, opPmovmskb, dst, src)
}

func (a *Assembler) unpcklpsRR(dst, src reg.Register) uintptr {
	return a.sseRR(enc.NoPrefix, opUnpcklps, dst, src)
}

// movlhpsRR sets dst's upper 64 bits to src's lower 64 bits, leaving
// dst's lower 64 bits unchanged.
func (a *Assembler) movlhpsRR(dst, src reg.Register) uintptr {
	return a.sseRR(enc.NoPrefix, opMovlhps, dst, src)
}

// movdqFromGPR is movd/movq xmm, r/m: the bit-cast half of immediate
// float/double materialization, which loads the raw bit pattern into a
// GP register first (so blinding and movabs can both apply to it) and
// then reinterprets it as a float/double via this move rather than a
// memory-resident constant pool.
func (a *Assembler) movdqFromGPR(w bool, dst, src reg.Register) uintptr {
	return a.emit(enc.PrefixedRR(enc.P66, w, opMovdq, dst, src))
}

func (a *Assembler) movMem(w bool, dst reg.Register, base reg.Register, disp int32) uintptr {
	return a.emit(enc.Mem(w, opMovRM, dst, base, disp))
}
func (a *Assembler) movToMem(w bool, base reg.Register, disp int32, src reg.Register) uintptr {
	return a.emit(enc.Mem(w, opMov, src, base, disp))
}
func (a *Assembler) movImmToMem32(base reg.Register, disp int32, imm int32) uintptr {
	buf := append([]byte(nil), enc.Mem(false, opMovImm32, enc.Ext(0), base, disp)...)
	b := enc.NewBuf(4)
	enc.EmitImm32(b, imm)
	buf = append(buf, b.Bytes()...)
	return a.emit(buf)
}
func (a *Assembler) movsdMem(dst reg.Register, base reg.Register, disp int32) uintptr {
	return a.emit(enc.PrefixedMem(enc.PF2, false, opMovsdRR, dst, base, disp))
}
func (a *Assembler) movssMem(dst reg.Register, base reg.Register, disp int32) uintptr {
	return a.emit(enc.PrefixedMem(enc.PF3, false, opMovssRR, dst, base, disp))
}
func (a *Assembler) movsdToMem(base reg.Register, disp int32, src reg.Register) uintptr {
	return a.emit(enc.PrefixedMem(enc.PF2, false, []byte{0x0F, 0x11}, src, base, disp))
}
func (a *Assembler) movupsMem(dst reg.Register, base reg.Register, disp int32) uintptr {
	return a.emit(enc.PrefixedMem(enc.NoPrefix, false, opMovupsRM, dst, base, disp))
}
func (a *Assembler) movapsMem(dst reg.Register, base reg.Register, disp int32) uintptr {
	return a.emit(enc.PrefixedMem(enc.NoPrefix, false, opMovapsRM, dst, base, disp))
}
