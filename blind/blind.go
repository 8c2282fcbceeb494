// Package blind implements the constant- and displacement-blinding
// hardening policy of spec.md §4.7: process-wide random masks mixed with
// tainted immediates so that attacker-influenced constants never appear
// verbatim in the JIT's code stream (a defense against JIT-spraying).
//
// The masks are read once from a cryptographic RNG (crypto/rand is the
// correct and sufficient tool here — see DESIGN.md for why no pack
// dependency substitutes for a CSPRNG read) and never mutated afterward,
// matching spec.md §5's "process-wide blind masks, initialized once at
// process start".
package blind

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

var (
	once  sync.Once
	mask32 uint32
	mask64 uint64
)

func ensureMasks() {
	once.Do(func() {
		var buf [12]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// A failed CSPRNG read means the process cannot be trusted
			// to harden constants; fail loudly rather than silently
			// emitting unblinded, attacker-controlled bytes.
			panic("blind: crypto/rand unavailable: " + err.Error())
		}
		mask32 = binary.LittleEndian.Uint32(buf[0:4])
		mask64 = binary.LittleEndian.Uint64(buf[4:12])
	})
}

// Mask32 returns the process-wide 32-bit blind mask.
func Mask32() uint32 { ensureMasks(); return mask32 }

// Mask64 returns the process-wide 64-bit blind mask.
func Mask64() uint64 { ensureMasks(); return mask64 }

// Policy decides which tainted constants are worth hardening. The zero
// value is the default policy: every 32-bit-representable value is
// blindable, since even a small constant can double as a short forged
// opcode sequence once placed at a predictable code address.
type Policy struct {
	// AlwaysBlindZero makes a tainted zero blinded as well. By default a
	// tainted zero is left unblinded; the assembler then materializes it
	// with a plain `mov r, 0` (it has no `xor r, r` form for zero).
	AlwaysBlindZero bool
}

// ShouldBlind reports whether v, when tainted, should be hardened rather
// than emitted verbatim.
func (p Policy) ShouldBlind(tainted bool, v uint64) bool {
	if !tainted {
		return false
	}
	if v == 0 && !p.AlwaysBlindZero {
		// A zero immediate carries no attacker-chosen bytes.
		return false
	}
	return true
}

// Default is the policy used when the caller has no reason to deviate.
var Default = Policy{}

// ArithPair rewrites a blindable ALU immediate op(r, k) into two ops
// using the process mask, per spec.md §4.4's asm_arith_imm_blind: the
// caller emits (in source order) op(r, a) then op(r, b) so that, read
// forward, r ends up holding op(op(initial, a), b) == op(initial, k).
//
// mnemonic identifies which of add/sub/and/or/xor is being blinded,
// since and/xor need a different split than add/sub to preserve
// semantics exactly (spec.md §4.4).
type Mnemonic int

const (
	Add Mnemonic = iota
	Sub
	And
	Or
	Xor
)

// ArithPair returns (a, b) such that applying mnemonic(., a) then
// mnemonic(., b) is equivalent to mnemonic(., k), for a 32-bit immediate
// k, without k ever appearing as either operand.
func ArithPair(m Mnemonic, k uint32) (a, b uint32) {
	mask := Mask32()
	switch m {
	case Add:
		// add r, mask; add r, k-mask
		return mask, k - mask
	case Sub:
		// sub r, mask; sub r, k-mask  (so total subtracted is mask+(k-mask)=k)
		return mask, k - mask
	case And:
		// and r, (k&mask)|~mask; and r, (k&~mask)|mask
		return (k & mask) | ^mask, (k &^ mask) | mask
	case Or:
		// or r, k&mask; or r, k&^mask  (either half alone can't reveal k)
		return k & mask, k &^ mask
	case Xor:
		// xor r, mask; xor r, k^mask
		return mask, k ^ mask
	default:
		panic("blind: unknown mnemonic")
	}
}

// Imm32 returns (loadValue, xorValue) such that `mov r, loadValue; xor r,
// xorValue` materializes k without k appearing verbatim, per spec.md
// §4.7.
func Imm32(k uint32) (load, xorWith uint32) {
	mask := Mask32()
	return k ^ mask, mask
}

// Imm64 is Imm32's 64-bit counterpart, for materializing a tainted
// immediate too wide for movabs's argument to fold into any 32-bit ALU
// form: `movabs r, loadValue; movabs tmp, xorValue; xor r, tmp`.
func Imm64(k uint64) (load, xorWith uint64) {
	mask := Mask64()
	return k ^ mask, mask
}

// DisplaceLoad rewrites a tainted displacement d on a memory access with
// base b into an equivalent (b + adj, d - adj) pair using a fresh random
// offset, so the raw displacement doesn't appear in the instruction
// stream (spec.md §4.7's "beginLoadRegs/endLoadRegs" scheme). The caller
// materializes `lea tmp, [b + adj]` into a temporary register held live
// only for the access, then addresses [tmp + (d - adj)].
func DisplaceLoad(d int32) (adjustBase int32, newDisp int32) {
	r := int32(Mask32())
	// Keep the adjustment small enough that base+adjustBase cannot
	// itself overflow a disp32 either, since it is applied via LEA.
	r &= 0x0000FFFF
	return r, d - r
}
