package asm_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/x64backend/abi"
	"github.com/tracejit/x64backend/asm"
	"github.com/tracejit/x64backend/codebuf"
	"github.com/tracejit/x64backend/constpool"
	"github.com/tracejit/x64backend/fragment"
	"github.com/tracejit/x64backend/lir"
)

// fakeAlloc satisfies codebuf.Allocator with plain heap-backed chunks, the
// same pattern codebuf's own tests use, so the assembler can be exercised
// without mmap.
type fakeAlloc struct {
	base uintptr
}

func (f *fakeAlloc) CodeAlloc(size int) (*codebuf.Chunk, error) {
	f.base += uintptr(size) * 16
	data := make([]byte, size)
	return &codebuf.Chunk{Base: f.base, Data: data, Cursor: len(data)}, nil
}

func newAssembler(t *testing.T, conv abi.Convention) *asm.Assembler {
	t.Helper()
	buf, err := codebuf.New(&fakeAlloc{}, 4096)
	require.NoError(t, err)
	return asm.New(buf, conv, constpool.New(), fragment.NewTable())
}

// TestCompileParamAddImmediate walks through spec.md §8's canonical
// scenario: a fragment that adds an immediate to its first parameter and
// returns it. It doubles as a regression test for asm_param's handling of
// an operand the backward walk has already pinned to a register before
// reaching the operand's own definition.
func TestCompileParamAddImmediate(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("add_param_imm")
	p := f.Param(0, lir.TI)
	imm := f.ImmI(0x100)
	sum := f.Add(lir.TI, p, imm)
	f.Ret(sum)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	require.Equal(t, []byte{
		0x55,                   // push rbp
		0x48, 0x89, 0xE5,       // mov rbp, rsp
		0x89, 0xF8,             // mov eax, edi
		0x8D, 0x80, 0x00, 0x01, 0x00, 0x00, // lea eax, [rax+0x100]
		0x48, 0x89, 0xEC, // mov rsp, rbp
		0x5D,             // pop rbp
		0xC3,             // ret
	}, a.Buf.Main.Bytes())
}

// TestCompileStoreImmediateToParamBase covers asm_store's untainted
// immediate-to-memory path together with a parameter that is consumed only
// as an address, never itself forced into a fixed register by anything but
// its own asm_param binding.
func TestCompileStoreImmediateToParamBase(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("store_imm")
	base := f.Param(0, lir.TQ)
	imm := f.ImmI(0x11223344)
	f.Store(base, 16, imm)
	f.Ret(nil)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	require.Equal(t, []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xE5, // mov rbp, rsp
		0x48, 0x89, 0xF8, // mov rax, rdi
		0xC7, 0x40, 0x10, 0x44, 0x33, 0x22, 0x11, // mov dword [rax+0x10], 0x11223344
		0x48, 0x89, 0xEC, // mov rsp, rbp
		0x5D,             // pop rbp
		0xC3,             // ret
	}, a.Buf.Main.Bytes())
}

// TestCompileDivMod exercises asm_div_mod's cdq/idiv sequence and its two
// fixed-register outputs (quotient in rax, remainder in rdx).
func TestCompileDivMod(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("div_mod")
	num := f.Param(0, lir.TI)
	den := f.Param(1, lir.TI)
	q := f.Div(lir.TI, num, den)
	f.Ret(q)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	buf := a.Buf.Main.Bytes()
	// Prologue, then a param move into a scratch reg for the divisor (since
	// idiv's operand must not be rax/rdx), cdq, idiv, epilogue. Exact
	// register choice for the divisor is an allocator decision, so assert
	// on the fixed, ABI-mandated instructions rather than the whole stream.
	require.Equal(t, byte(0x55), buf[0], "push rbp")
	require.Contains(t, hexBytes(buf), "99") // cdq
	require.Contains(t, hexBytes(buf), "f7") // idiv opcode byte (0xF7 /7)
	require.Equal(t, byte(0xC3), buf[len(buf)-1], "ret")
}

func hexBytes(bs []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(bs)*2)
	for _, b := range bs {
		out = append(out, digits[b>>4], digits[b&0xF])
	}
	return string(out)
}

// TestCompileBranchAlwaysEmitsRel32Placeholder documents this back end's
// actual branch-width behavior: every conditional branch is emitted as a
// jcc rel32 with a recorded guard and keeps that width. Selection never
// narrows it, and package guard's patching rewrites only the 4-byte
// displacement.
func TestCompileBranchAlwaysEmitsRel32Placeholder(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("branch")
	x := f.Param(0, lir.TI)
	y := f.Param(1, lir.TI)
	cmp := f.Cmp(lir.CondLT, x, y)
	target := f.Label()
	f.Branch(cmp, target)
	f.Ret(nil)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())
	require.Len(t, a.Guards(), 1)

	buf := a.Buf.Main.Bytes()
	// The epilogue's fixed tail (mov rsp,rbp; pop rbp; ret) is always the
	// last 5 bytes; the jcc rel32 placeholder (0x0F, 0x8x, 4-byte disp)
	// immediately precedes it.
	require.GreaterOrEqual(t, len(buf), 11)
	jcc := buf[len(buf)-11 : len(buf)-5]
	require.Equal(t, byte(0x0F), jcc[0])
	require.Equal(t, byte(0x80), jcc[1]&0xF0)
	require.Equal(t, []byte{0x48, 0x89, 0xEC, 0x5D, 0xC3}, buf[len(buf)-5:])
}

// TestEmitPrologueWindowsTouchesGuardPage exercises the Windows
// calling-convention path of EmitPrologue directly: once the spill area
// crosses a page boundary, the prologue must touch that page with an
// immediate store before the function body can safely run past it.
// Growing the spill area through the allocator's own FindMemFor, rather
// than via a LIR program engineered to spill, keeps this test's
// expectations traceable to a single, already-verified call.
func TestEmitPrologueWindowsTouchesGuardPage(t *testing.T) {
	a := newAssembler(t, abi.Windows64)

	// 600 eight-byte slots: 4800 bytes of spill area, comfortably past one
	// 4096-byte page but short of a second.
	for i := 0; i < 600; i++ {
		a.Alloc.FindMemFor(&lir.Instruction{Type: lir.TQ})
	}
	require.Equal(t, int32(4800), a.Alloc.FrameSize())

	require.NoError(t, a.EmitPrologue())
	require.NoError(t, a.Err())

	require.Equal(t, []byte{
		0x55,                         // push rbp
		0x48, 0x89, 0xE5,             // mov rbp, rsp
		0x48, 0x81, 0xEC, 0xE0, 0x12, 0x00, 0x00, // sub rsp, 0x12E0 (4832)
		0xC7, 0x85, 0x00, 0xF0, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x00, // mov dword [rbp-0x1000], 0
	}, a.Buf.Main.Bytes())
}

// TestCompileWindowsCallSharesPositionalSlots exercises asm_call/asm_param
// under abi.Windows64, where a GP and an FP argument share one positional
// slot index instead of each having its own independent counter. A
// fragment that forwards its own (int, double) parameters straight through
// to a callee in the same order places both arguments in exactly the
// registers they already occupy (RCX, XMM1): if asm_call instead ran the FP
// argument through an independent counter starting at 0, it would demand
// XMM0 and force a redundant move out of XMM1.
func TestCompileWindowsCallSharesPositionalSlots(t *testing.T) {
	a := newAssembler(t, abi.Windows64)

	f := lir.NewFunc("win_call")
	p0 := f.Param(0, lir.TI)
	p1 := f.Param(1, lir.TD)
	info := &lir.CallInfo{Callee: 0x7fff00001000, ArgTypes: []lir.Type{lir.TI, lir.TD}}
	call := f.Call(lir.TI, info, nil, p0, p1)
	f.Ret(call)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	require.False(t, containsXMM01Swap(a.Buf.Main.Bytes()),
		"a shared positional counter should leave the TD argument in XMM1, requiring no xmm0/xmm1 move")
}

// containsXMM01Swap reports whether buf contains a reg-reg move between
// xmm0 and xmm1 in either direction, via movsd, movss, or movaps.
func containsXMM01Swap(buf []byte) bool {
	for i := 0; i+3 < len(buf); i++ {
		if (buf[i] == 0xF2 || buf[i] == 0xF3) && buf[i+1] == 0x0F &&
			(buf[i+2] == 0x10 || buf[i+2] == 0x11) &&
			(buf[i+3] == 0xC1 || buf[i+3] == 0xC8) {
			return true
		}
	}
	for i := 0; i+2 < len(buf); i++ {
		if buf[i] == 0x0F && buf[i+1] == 0x28 && (buf[i+2] == 0xC1 || buf[i+2] == 0xC8) {
			return true
		}
	}
	return false
}

// TestWindowsPositionalSlotsAreSharedAcrossClasses is a direct unit check
// on abi.Convention, the level Finding #1's original bug lived at: Windows
// GPArgSlot and FPArgSlot must draw from the same 0..3 index, so a GP
// argument at index 0 followed by an FP argument at index 1 lands in RCX
// then XMM1, never XMM0.
func TestWindowsPositionalSlotsAreSharedAcrossClasses(t *testing.T) {
	require.Equal(t, abi.Windows64.GPArgs[0], abi.Windows64.GPArgSlot(0).Reg)
	require.Equal(t, abi.Windows64.FPArgs[1], abi.Windows64.FPArgSlot(1).Reg)
	require.NotEqual(t, abi.Windows64.FPArgSlot(1).Reg, abi.Windows64.FPArgs[0])
}

// TestCompileImmFloatMaterializesFromConstPool covers asm_fop's float
// operand path once a non-tainted double immediate is forced into a
// register: asm_imm_d must load it via the constant pool placeConstPool
// wrote ahead of the backward walk, not leave the OpImm node unmaterialized.
func TestCompileImmFloatMaterializesFromConstPool(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("add_double_imm")
	p := f.Param(0, lir.TD)
	imm := f.ImmD(3.5)
	sum := f.Add(lir.TD, p, imm)
	f.Ret(sum)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	buf := a.Buf.Main.Bytes()
	hex := hexBytes(buf)
	// lea <reg>, [rip+disp32] materializing the pool address, then
	// movsd <reg>, [<reg>] loading the literal: 48 8D (lea modrm byte
	// varies by register) is too register-specific to match generically,
	// so assert on the movsd load's fixed F2 0F 10 prefix+opcode instead,
	// plus the addsd opcode used to combine it with the parameter.
	require.Contains(t, hex, "f20f10") // movsd xmm, [mem] (reg-mem form)
	require.Contains(t, hex, "f20f58") // addsd
	// The pool's 8-byte literal (3.5 as float64) must appear verbatim
	// somewhere in the stream, since it was placed, not blinded.
	var litBytes [8]byte
	binaryLittleEndianPutUint64(litBytes[:], math.Float64bits(3.5))
	require.True(t, bytes.Contains(buf, litBytes[:]))
}

func binaryLittleEndianPutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// TestCompileImmFloatTaintedNeverUsesPool covers the blinding/constant-pool
// interaction: a tainted double immediate must bit-cast through a blinded
// GP register rather than go through the constant pool, since a pool slot
// is just as predictable a code-adjacent address as an inline immediate.
func TestCompileImmFloatTaintedNeverUsesPool(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("add_double_imm_tainted")
	p := f.Param(0, lir.TD)
	imm := f.ImmD(3.5)
	imm.Tainted = true
	sum := f.Add(lir.TD, p, imm)
	f.Ret(sum)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	buf := a.Buf.Main.Bytes()
	var litBytes [8]byte
	binaryLittleEndianPutUint64(litBytes[:], math.Float64bits(3.5))
	require.False(t, bytes.Contains(buf, litBytes[:]),
		"a tainted float immediate must never appear verbatim, whether inline or in the constant pool")
}

// TestCompileImmInt64OutOfRangeUsesMovabs covers asm_imm_q for a 64-bit
// integer immediate outside movabs-free 32-bit range, forced into a
// register by being a call argument (one of the uses that makes an OpImm
// of type TQ reach the allocator rather than fold into an ALU-imm form).
func TestCompileImmInt64OutOfRangeUsesMovabs(t *testing.T) {
	a := newAssembler(t, abi.SystemV)

	f := lir.NewFunc("call_with_wide_imm")
	imm := f.ImmQ(0x1122334455667788)
	info := &lir.CallInfo{Callee: 0x40000000, ArgTypes: []lir.Type{lir.TQ}}
	call := f.Call(lir.TQ, info, nil, imm)
	f.Ret(call)

	require.NoError(t, a.Compile(f))
	require.NoError(t, a.Err())

	hex := hexBytes(a.Buf.Main.Bytes())
	require.Contains(t, hex, "8877665544332211") // imm64, little-endian bytes reversed in hex digits
}
