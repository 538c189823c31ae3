//go:build unix

package guest

import (
	"testing"
	"unsafe"

	"golang.org/x/sys/unix"
)

func TestAllocate(t *testing.T) {
	l := DefaultLayout()
	l.MemorySize = 4 << 20

	m, err := Allocate(l)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	defer m.Close()

	if m.Size() != l.MemorySize {
		t.Errorf("Size() = %d, want %d", m.Size(), l.MemorySize)
	}
	base := uintptr(unsafe.Pointer(&m.Bytes()[0]))
	if base%uintptr(unix.Getpagesize()) != 0 {
		t.Errorf("memory base %#x not page-aligned", base)
	}
	for i, b := range m.Bytes()[:3*PageSize+PageSize] {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want zero-initialized memory", i, b)
		}
	}
}

func TestAllocateInvalidLayout(t *testing.T) {
	l := DefaultLayout()
	l.PD = l.PDPT
	if _, err := Allocate(l); err == nil {
		t.Error("Allocate with an invalid layout should fail")
	}
}
