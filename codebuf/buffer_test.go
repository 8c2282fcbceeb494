package codebuf_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tracejit/x64backend/codebuf"
)

type fakeAlloc struct {
	size  int
	base  uintptr
	count int
}

func (f *fakeAlloc) CodeAlloc(size int) (*codebuf.Chunk, error) {
	f.count++
	f.base += uintptr(size) * 16 // keep chunks apart, deterministically
	data := make([]byte, size)
	return &codebuf.Chunk{Base: f.base, Data: data, Cursor: len(data)}, nil
}

func TestEmitDecrementsCursor(t *testing.T) {
	alloc := &fakeAlloc{size: 64}
	buf, err := codebuf.New(alloc, 64)
	require.NoError(t, err)

	before := buf.Main.Active().Cursor
	buf.Emit(buf.Main, []byte{0x90})
	require.Equal(t, before-1, buf.Main.Active().Cursor)
	require.Equal(t, []byte{0x90}, buf.Main.Bytes())
}

func TestEmitOrderIsForwardInMemory(t *testing.T) {
	alloc := &fakeAlloc{size: 64}
	buf, err := codebuf.New(alloc, 64)
	require.NoError(t, err)

	buf.Emit(buf.Main, []byte{0x02}) // written first, ends up second
	buf.Emit(buf.Main, []byte{0x01}) // written second, ends up first
	require.Equal(t, []byte{0x01, 0x02}, buf.Main.Bytes())
}

func TestUnderrunProtectOpensNewChunkAndBridges(t *testing.T) {
	alloc := &fakeAlloc{size: 32}
	buf, err := codebuf.New(alloc, 32)
	require.NoError(t, err)

	bridgeCalls := 0
	bridge := func(target uintptr) []byte {
		bridgeCalls++
		require.NotZero(t, target)
		return []byte{0xE9, 0, 0, 0, 0} // jmp rel32, placeholder disp
	}

	// Fill the first chunk to the point where a 4-byte instruction plus
	// margin no longer fits.
	for buf.Main.Active().Remaining() >= codebuf.WriteMargin+4 {
		require.NoError(t, buf.UnderrunProtect(buf.Main, 1, bridge))
		buf.Emit(buf.Main, []byte{0x90})
	}
	require.NoError(t, buf.UnderrunProtect(buf.Main, 4, bridge))
	require.Equal(t, 1, bridgeCalls)
	require.Len(t, buf.Main.Chunks(), 2)
}

func TestSwapCodeChunks(t *testing.T) {
	alloc := &fakeAlloc{size: 32}
	buf, err := codebuf.New(alloc, 32)
	require.NoError(t, err)

	main, exit := buf.Main, buf.Exit
	buf.SwapCodeChunks()
	require.Same(t, main, buf.Exit)
	require.Same(t, exit, buf.Main)
}

func TestSetErrorIsSticky(t *testing.T) {
	alloc := &fakeAlloc{size: 32}
	buf, err := codebuf.New(alloc, 32)
	require.NoError(t, err)

	buf.SetError(assertErr{})
	require.Error(t, buf.Err())
	before := buf.Main.Active().Cursor
	buf.Emit(buf.Main, []byte{0x90})
	require.Equal(t, before, buf.Main.Active().Cursor, "emit must no-op once poisoned")
}

type assertErr struct{}

func (assertErr) Error() string { return "poisoned" }
