//go:build unix

package guest

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Allocate maps layout.MemorySize bytes of zeroed, page-aligned shared
// anonymous memory. The kernel backs pages lazily, so a 1 GiB guest only
// costs what the guest touches.
func Allocate(layout Layout) (*Memory, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	buf, err := unix.Mmap(-1, 0, int(layout.MemorySize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate %d bytes of guest memory: %w", layout.MemorySize, err)
	}
	return &Memory{buf: buf, layout: layout, release: unix.Munmap}, nil
}
