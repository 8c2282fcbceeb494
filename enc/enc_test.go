package enc_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/tracejit/x64backend/enc"
	"github.com/tracejit/x64backend/reg"
)

// decode is a thin independent-disassembler wrapper used to verify that
// every mnemonic routine's output decodes to the instruction the caller
// asked for, per spec.md §8's "Encoding round-trip" property.
func decode(t *testing.T, code []byte) x86asm.Inst {
	t.Helper()
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, len(code), inst.Len, "encoder emitted trailing bytes not covered by one instruction")
	return inst
}

func TestRR_AddRegReg64(t *testing.T) {
	// add rbx, r13  (ADD r/m64, r64 -> opcode 0x01, ModRM.reg=r13, rm=rbx)
	code := enc.RR(true, []byte{0x01}, reg.R13, reg.RBX)
	inst := decode(t, code)
	require.Equal(t, x86asm.ADD, inst.Op)
}

func TestRR_ElidesRexWhenNotNeeded(t *testing.T) {
	// add eax, ecx: no REX.W, no high registers -> REX may be dropped.
	code := enc.RR(false, []byte{0x01}, reg.RCX, reg.RAX)
	require.Len(t, code, 2, "expected opcode+modrm with no REX byte")
	decode(t, code)
}

func TestRR_KeepsRexForHighRegister(t *testing.T) {
	code := enc.RR(false, []byte{0x01}, reg.RCX, reg.R9)
	require.Len(t, code, 3)
	require.Equal(t, byte(0x41), code[0], "REX.B must be set for r9 as rm")
}

func TestMem_BaseRSPForcesSIB(t *testing.T) {
	// mov [rsp+0x10], rax
	code := enc.Mem(true, []byte{0x89}, reg.RAX, reg.RSP, 0x10)
	inst := decode(t, code)
	require.Equal(t, x86asm.MOV, inst.Op)
}

func TestMem_BaseR12ForcesSIB(t *testing.T) {
	code := enc.Mem(true, []byte{0x89}, reg.RAX, reg.R12, 0x10)
	inst := decode(t, code)
	require.Equal(t, x86asm.MOV, inst.Op)
}

func TestMem_BaseRBPZeroDispBecomesDisp8Zero(t *testing.T) {
	// [rbp+0] cannot be mode 00 (that means RIP-relative); must be
	// mode 01 with an explicit disp8 of 0.
	code := enc.Mem(true, []byte{0x8B}, reg.RAX, reg.RBP, 0)
	require.Equal(t, enc.ModIndirectDisp8, (code[len(code)-2])>>6&0x3, "expected mode 01 encoding for rbp+0")
	decode(t, code)
}

func TestMem_BaseR13ZeroDispBecomesDisp8Zero(t *testing.T) {
	code := enc.Mem(true, []byte{0x8B}, reg.RAX, reg.R13, 0)
	decode(t, code)
}

func TestMem_ShrinksDisp32ToDisp8(t *testing.T) {
	code := enc.Mem(true, []byte{0x8B}, reg.RAX, reg.RDI, 5)
	// 1 REX + 1 opcode + 1 modrm + 1 disp8 = 4 bytes, not 7.
	require.Len(t, code, 4)
	decode(t, code)
}

func TestMem_KeepsDisp32WhenOutOfDisp8Range(t *testing.T) {
	code := enc.Mem(true, []byte{0x8B}, reg.RAX, reg.RDI, 1000)
	require.Len(t, code, 7)
	decode(t, code)
}

func TestRIPRel(t *testing.T) {
	code := enc.RIPRel(true, []byte{0x8D}, reg.RAX, 0x100) // lea rax, [rip+0x100]
	inst := decode(t, code)
	require.Equal(t, x86asm.LEA, inst.Op)
}

func TestDisassembleRendersOneLinePerInstruction(t *testing.T) {
	code := append(
		enc.RR(true, []byte{0x01}, reg.R13, reg.RBX), // add rbx, r13
		0xC3, // ret
	)
	out := enc.Disassemble(code)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "0x0000:")
	require.Contains(t, lines[1], "0x0003:")
}

func TestDisassembleSkipsUndecodableByteAsDB(t *testing.T) {
	// A trailing 0x0F is a two-byte-opcode escape with nothing left to
	// escape to; Disassemble must emit a db directive for it rather than
	// stall or panic.
	out := enc.Disassemble([]byte{0xC3, 0x0F})
	require.Contains(t, out, "RET")
	require.Contains(t, out, "db 0x0f")
}
