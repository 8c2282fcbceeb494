//go:build linux || darwin

// Package codemem is the code-memory manager collaborator spec.md §6
// describes: it hands the assembler fresh RW chunks (codeAlloc) and,
// once a fragment is fully emitted, flips them to RX so the JIT-produced
// bytes become executable (W^X, per spec.md §5: "written while not
// executable, then flipped").
//
// Grounded on the teacher's own mmap/mprotect pair in
// pvm/recompiler.go's NewRecompilerVM/ExecuteX86Code, ported from the
// stdlib `syscall` package to `golang.org/x/sys/unix` per the pack's more
// modern dependency surface (tangzhangming/nova requires golang.org/x/sys).
package codemem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tracejit/x64backend/codebuf"
)

// Manager owns every chunk allocated for one compilation and finalizes
// them together once translation succeeds. It implements
// codebuf.Allocator.
type Manager struct {
	regions [][]byte // one mmap region per chunk, RW until Finalize
}

// New returns an empty Manager.
func New() *Manager { return &Manager{} }

// CodeAlloc mmaps a new anonymous, private, read-write region of size
// bytes and wraps it as a codebuf.Chunk. size is rounded up to a whole
// page since mmap only grants page multiples anyway.
func (m *Manager) CodeAlloc(size int) (*codebuf.Chunk, error) {
	pageSize := unix.Getpagesize()
	if rem := size % pageSize; rem != 0 {
		size += pageSize - rem
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("codemem: mmap %d bytes: %w", size, err)
	}
	m.regions = append(m.regions, data)
	base := uintptr(unsafe.Pointer(&data[0]))
	return &codebuf.Chunk{Base: base, Data: data, Cursor: len(data)}, nil
}

// Finalize mprotects every region RX and returns their (now immutable)
// live spans in the order they were allocated. After Finalize the
// Manager must not be asked for further chunks — code memory here is
// W^X, and the compiler that owns this Manager is done writing.
func (m *Manager) Finalize() ([][]byte, error) {
	spans := make([][]byte, 0, len(m.regions))
	for _, data := range m.regions {
		if err := unix.Mprotect(data, unix.PROT_READ|unix.PROT_EXEC); err != nil {
			return nil, fmt.Errorf("codemem: mprotect: %w", err)
		}
		spans = append(spans, data)
	}
	return spans, nil
}

// Release unmaps every region this Manager allocated; used when a
// compilation is aborted (spec.md §5's cooperative cancellation) or once
// a fragment is retired.
func (m *Manager) Release() error {
	for _, data := range m.regions {
		if err := unix.Munmap(data); err != nil {
			return fmt.Errorf("codemem: munmap: %w", err)
		}
	}
	m.regions = nil
	return nil
}
