// Package codebuf implements the reverse-growing code cursor described in
// spec.md §4.2: instructions are written ending at a cursor which is then
// decremented, so bytes land in forward program order in memory even
// though the writer walks backwards through LIR. It also implements
// underrun protection (chunk chaining with a bridging jump) and the
// main/exit cursor pair a fragment's normal body and its lazily-emitted
// exit code share.
package codebuf

import "fmt"

// WriteMargin is the extra slack underrunProtect keeps beyond the
// caller's requested size, per spec.md §4.2 ("at least n bytes and an
// additional 8-byte write margin"): the widest single template this back
// end ever emits (a REX+opcode+ModRM+SIB+disp32 form) is 8 bytes.
const WriteMargin = 8

// Chunk is one contiguous, non-relocatable region of code memory.
// Instructions are written back-to-front starting at Cursor==len(Data).
type Chunk struct {
	Base   uintptr // address backing Data[0], supplied by the code-memory manager
	Data   []byte
	Cursor int // index of the first still-live byte; writes end here
}

func newChunk(base uintptr, data []byte) *Chunk {
	return &Chunk{Base: base, Data: data, Cursor: len(data)}
}

// Addr returns the runtime address corresponding to byte index i.
func (c *Chunk) Addr(i int) uintptr { return c.Base + uintptr(i) }

// CursorAddr returns the address the next write will end at.
func (c *Chunk) CursorAddr() uintptr { return c.Addr(c.Cursor) }

// Remaining reports how many bytes are free below the cursor.
func (c *Chunk) Remaining() int { return c.Cursor }

// Live returns the bytes written so far, in forward program order.
func (c *Chunk) Live() []byte { return c.Data[c.Cursor:] }

// write copies bs so that it ends exactly at the current cursor, then
// decrements the cursor by len(bs). Every call is a complete instruction:
// spec.md §5 relies on this to make cancellation safe mid-fragment.
func (c *Chunk) write(bs []byte) {
	n := len(bs)
	copy(c.Data[c.Cursor-n:c.Cursor], bs)
	c.Cursor -= n
}

// Allocator supplies fresh executable-eventually chunks; the concrete
// implementation (package codemem) owns the mmap/mprotect lifecycle.
// This is the "to the code memory manager" interface of spec.md §6.
type Allocator interface {
	CodeAlloc(size int) (*Chunk, error)
}

// Cursor is one of the Buffer's two reverse-growing write points (main
// or exit). It remembers every chunk it has spilled into, oldest first,
// so a fragment's final byte stream can be assembled once translation
// finishes.
type Cursor struct {
	name   string
	chunks []*Chunk // completed chunks, oldest first; last is not yet full
}

func newCursorAt(name string, first *Chunk) *Cursor {
	return &Cursor{name: name, chunks: []*Chunk{first}}
}

// Active returns the chunk currently being written into.
func (cu *Cursor) Active() *Chunk { return cu.chunks[len(cu.chunks)-1] }

// Chunks returns every chunk this cursor has written into, oldest first.
func (cu *Cursor) Chunks() []*Chunk { return cu.chunks }

// Addr returns the address the next instruction written to this cursor
// will end at — the value branch-displacement arithmetic is computed
// against.
func (cu *Cursor) Addr() uintptr { return cu.Active().CursorAddr() }

// Bytes concatenates every chunk's live bytes, oldest chunk first. Since
// code is written backwards, each newer chunk holds code that runs
// earlier in program order and ends in the bridge jump into the chunk
// before it; with more than one chunk the result is therefore not one
// contiguous program-order listing.
func (cu *Cursor) Bytes() []byte {
	var out []byte
	for _, c := range cu.chunks {
		out = append(out, c.Live()...)
	}
	return out
}

// Buffer owns the main and exit cursors and the allocator that backs
// both. Exactly one Buffer exists per compilation (spec.md §5: "each
// compilation owns its own ... code cursors").
type Buffer struct {
	Main *Cursor
	Exit *Cursor

	alloc     Allocator
	chunkSize int

	// ForceLongBranch mirrors the CLI/config surface of spec.md §6: when
	// set, asm_call always calls through movabs + an indirect call rather
	// than a direct call rel32, regardless of measured distance. Branches
	// do not consult it; they are always emitted in the rel32 form.
	ForceLongBranch bool

	err error // sticky BranchTooFar/allocation failure; see asmerr
}

// New allocates the first chunk for both cursors and returns a ready
// Buffer. chunkSize bounds how large each individually-allocated chunk
// is; underrun protection allocates additional chunks of the same size.
func New(alloc Allocator, chunkSize int) (*Buffer, error) {
	mainChunk, err := alloc.CodeAlloc(chunkSize)
	if err != nil {
		return nil, fmt.Errorf("codebuf: allocating main chunk: %w", err)
	}
	exitChunk, err := alloc.CodeAlloc(chunkSize)
	if err != nil {
		return nil, fmt.Errorf("codebuf: allocating exit chunk: %w", err)
	}
	return &Buffer{
		Main:      newCursorAt("main", mainChunk),
		Exit:      newCursorAt("exit", exitChunk),
		alloc:     alloc,
		chunkSize: chunkSize,
	}, nil
}

// SwapCodeChunks exchanges the main and exit cursors atomically (as seen
// by the single-threaded caller — spec.md §4.2), so mnemonic emission
// aimed "at the current cursor" can be redirected to the fragment's exit
// stub without every call site threading an explicit selector.
func (b *Buffer) SwapCodeChunks() { b.Main, b.Exit = b.Exit, b.Main }

// Err returns the sticky error set by a failed underrun protect or by
// SetError; once set, Emit becomes a silent no-op (spec.md §5).
func (b *Buffer) Err() error { return b.err }

// SetError poisons the buffer. Per spec.md §5, further emission is a
// no-op from the caller's perspective until the error is observed.
func (b *Buffer) SetError(err error) {
	if b.err == nil {
		b.err = err
	}
}

// UnderrunProtect ensures the active chunk of cursor has at least n+
// WriteMargin bytes remaining. If not, it opens a new chunk and writes a
// bridge: an unconditional jump from the new chunk's cursor to the old
// chunk's current cursor address, so a caller resuming emission at the
// new chunk still reaches the code already written.
//
// bridge is supplied by the caller (package asm) rather than hardcoded
// here, since building a `jmp rel32`/`jmp [rip+0]` instruction requires
// the encoder and knowledge of reach, both of which live above this
// package in the dependency order of spec.md §2.
func (b *Buffer) UnderrunProtect(cursor *Cursor, n int, bridge func(target uintptr) []byte) error {
	active := cursor.Active()
	if active.Remaining() >= n+WriteMargin {
		return nil
	}
	oldTarget := active.CursorAddr()
	next, err := b.alloc.CodeAlloc(b.chunkSize)
	if err != nil {
		b.SetError(fmt.Errorf("codebuf: underrun protect: %w", err))
		return b.err
	}
	cursor.chunks = append(cursor.chunks, next)
	next.write(bridge(oldTarget))
	if next.Remaining() < n+WriteMargin {
		b.SetError(fmt.Errorf("codebuf: chunk size %d too small for a single instruction of %d bytes plus bridge", b.chunkSize, n))
		return b.err
	}
	return nil
}

// Emit writes bs (a single complete instruction, per spec.md §4.2) so it
// ends at cursor's current position, then advances the cursor backward.
// The caller must have already satisfied UnderrunProtect(cursor,
// len(bs), ...). Emit is a no-op once the buffer is poisoned.
func (b *Buffer) Emit(cursor *Cursor, bs []byte) {
	if b.err != nil {
		return
	}
	cursor.Active().write(bs)
}
