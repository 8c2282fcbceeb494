//go:build windows

package codemem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/tracejit/x64backend/codebuf"
)

// Manager is the Windows counterpart of the Unix implementation in
// codemem.go: VirtualAlloc for RW chunks, VirtualProtect to flip them to
// RX once a fragment is done.
type Manager struct {
	regions []uintptr
	sizes   []int
}

func New() *Manager { return &Manager{} }

func (m *Manager) CodeAlloc(size int) (*codebuf.Chunk, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("codemem: VirtualAlloc %d bytes: %w", size, err)
	}
	m.regions = append(m.regions, addr)
	m.sizes = append(m.sizes, size)
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &codebuf.Chunk{Base: addr, Data: data, Cursor: size}, nil
}

func (m *Manager) Finalize() ([][]byte, error) {
	spans := make([][]byte, 0, len(m.regions))
	var old uint32
	for i, addr := range m.regions {
		if err := windows.VirtualProtect(addr, uintptr(m.sizes[i]), windows.PAGE_EXECUTE_READ, &old); err != nil {
			return nil, fmt.Errorf("codemem: VirtualProtect: %w", err)
		}
		spans = append(spans, unsafe.Slice((*byte)(unsafe.Pointer(addr)), m.sizes[i]))
	}
	return spans, nil
}

func (m *Manager) Release() error {
	for _, addr := range m.regions {
		if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
			return fmt.Errorf("codemem: VirtualFree: %w", err)
		}
	}
	m.regions, m.sizes = nil, nil
	return nil
}
