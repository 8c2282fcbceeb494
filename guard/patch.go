package guard

import (
	"fmt"
	"unsafe"

	"github.com/tracejit/x64backend/asmerr"
)

// classify returns the reach class a PC-relative displacement of delta
// bytes requires; mirrors the branch-reach quantization of spec.md §8.
func classify(delta int64) reach {
	switch {
	case delta >= -128 && delta <= 127:
		return reach8
	case delta >= -(1<<31) && delta <= (1<<31)-1:
		return reach32
	default:
		return reach64
	}
}

// Patch overwrites r's patch site so it targets addr, per spec.md §6's
// bit-exact contract: a PatchRel32 site is a disp32 immediately before
// InstrEnd; a PatchAbs64 site is an 8-byte absolute value. Applying Patch
// twice with the same addr is a no-op the second time (spec.md §8
// "Idempotent patching"). Re-patching to a target outside the
// originally-chosen reach class fails with asmerr.BranchTooFar rather
// than silently corrupting the instruction stream, since a PatchRel32
// site has no spare bytes to widen into.
func (r *Record) Patch(addr uintptr) error {
	if r.patched && r.lastTarget == addr {
		return nil
	}
	switch r.Kind {
	case PatchRel32:
		delta := int64(addr) - int64(r.InstrEnd)
		if delta < -(1<<31) || delta > (1<<31)-1 {
			return fmt.Errorf("guard: %w: rel32 patch target out of range", asmerr.BranchTooFar)
		}
		if r.patched && classify(delta) != r.lastReach {
			return fmt.Errorf("guard: %w: re-patch target left the originally chosen reach class", asmerr.BranchTooFar)
		}
		writeRel32(r.PatchAddr, int32(delta))
		r.lastReach = classify(delta)
	case PatchAbs64:
		writeAbs64(r.PatchAddr, uint64(addr))
	default:
		return fmt.Errorf("guard: unknown patch kind %d", r.Kind)
	}
	r.patched = true
	r.lastTarget = addr
	return nil
}

func writeRel32(at uintptr, v int32) {
	p := (*[4]byte)(unsafe.Pointer(at))
	p[0] = byte(v)
	p[1] = byte(v >> 8)
	p[2] = byte(v >> 16)
	p[3] = byte(v >> 24)
}

func writeAbs64(at uintptr, v uint64) {
	p := (*[8]byte)(unsafe.Pointer(at))
	for i := 0; i < 8; i++ {
		p[i] = byte(v >> (8 * i))
	}
}
