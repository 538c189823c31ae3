//go:build linux && amd64

package kvm

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	cachedPageSize int
	cachedPageMask uint64 // For fast alignment checks: addr & mask == 0
	pageSizeOnce   sync.Once
)

func initPageSize() {
	cachedPageSize = unix.Getpagesize()
	cachedPageMask = uint64(cachedPageSize - 1)
}

// pageSize returns the system page size, cached for performance
func pageSize() int {
	pageSizeOnce.Do(initPageSize)
	return cachedPageSize
}

// isPageAligned returns true if addr is page-aligned (fast path)
func isPageAligned(addr uint64) bool {
	pageSizeOnce.Do(initPageSize)
	return addr&cachedPageMask == 0
}

// Map registers host as guest physical memory starting at guestPhys in the
// given slot. The host slice base address, length, and guestPhys must be
// page-aligned. Registering the same slot again replaces it.
func (vm *VM) Map(slot uint32, guestPhys uint64, host []byte) error {
	if vm == nil {
		return fmt.Errorf("kvm: VM is nil")
	}
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()

	if vm.closed {
		return mapError(ErrClosed, "")
	}
	if len(host) == 0 {
		return mapError(nil, "map requires non-empty host buffer")
	}
	if guestPhys > math.MaxUint64-uint64(len(host)) {
		return mapError(nil, "guest address range would overflow")
	}

	if !isPageAligned(guestPhys) {
		return mapError(ErrInvalidAlignment, fmt.Sprintf("guestPhys 0x%x (page size: %d)", guestPhys, pageSize()))
	}
	if !isPageAligned(uint64(len(host))) {
		return mapError(ErrInvalidAlignment, fmt.Sprintf("host length %d not a page multiple (page size: %d)", len(host), pageSize()))
	}
	ptr := unsafe.Pointer(&host[0])
	if !isPageAligned(uint64(uintptr(ptr))) {
		return mapError(ErrInvalidAlignment, fmt.Sprintf("host base %p (page size: %d)", ptr, pageSize()))
	}

	region := userspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: guestPhys,
		MemorySize:    uint64(len(host)),
		UserspaceAddr: uint64(uintptr(ptr)),
	}
	err := ioctlPtr(vm.fd, kvmSetUserMemoryRegion, unsafe.Pointer(&region))
	runtime.KeepAlive(host)
	if err != nil {
		recordResourceError()
		e := opError("register_memory", ErrMemoryRegistrationFailed, err).(*Error)
		e.Detail = fmt.Sprintf("slot %d: %d bytes at 0x%x", slot, len(host), guestPhys)
		return e
	}

	recordMapOperation()
	return nil
}

func mapError(err error, detail string) error {
	return &Error{Op: "register_memory", Kind: ErrMemoryRegistrationFailed, Err: err, Detail: detail}
}
