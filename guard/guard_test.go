package guard_test

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/x64backend/guard"
)

func TestPatchRel32(t *testing.T) {
	// lay out a fake `jmp rel32` site: [E9][4-byte disp] inside a real
	// buffer so writes are memory-safe.
	site := make([]byte, 8)
	site[0] = 0xE9
	patchAddr := uintptr(unsafe.Pointer(&site[1]))
	instrEnd := patchAddr + 4

	rec := &guard.Record{Kind: guard.PatchRel32, PatchAddr: patchAddr, InstrEnd: instrEnd}
	target := instrEnd + 100
	require.NoError(t, rec.Patch(target))

	got := int32(binary.LittleEndian.Uint32(site[1:5]))
	require.Equal(t, int32(100), got)
}

func TestPatchIsIdempotent(t *testing.T) {
	site := make([]byte, 8)
	site[0] = 0xE9
	patchAddr := uintptr(unsafe.Pointer(&site[1]))
	instrEnd := patchAddr + 4

	rec := &guard.Record{Kind: guard.PatchRel32, PatchAddr: patchAddr, InstrEnd: instrEnd}
	target := instrEnd + 100
	require.NoError(t, rec.Patch(target))
	before := append([]byte(nil), site...)
	require.NoError(t, rec.Patch(target))
	require.Equal(t, before, site, "second identical patch must be a no-op")
}

func TestPatchAbs64(t *testing.T) {
	site := make([]byte, 8)
	patchAddr := uintptr(unsafe.Pointer(&site[0]))

	rec := &guard.Record{Kind: guard.PatchAbs64, PatchAddr: patchAddr}
	require.NoError(t, rec.Patch(0x1122334455667788))
	require.Equal(t, uint64(0x1122334455667788), binary.LittleEndian.Uint64(site))
}
