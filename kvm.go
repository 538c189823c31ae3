//go:build linux && amd64

package kvm

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd int, req, arg uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return r, errno
	}
	return r, nil
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// Open opens the KVM device at path (DefaultDevice when empty), verifies the
// API version and the capabilities in RequiredCapabilities.
func Open(path string) (*KVM, error) {
	if path == "" {
		path = DefaultDevice
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		recordCapabilityError()
		e := opError("open_capability", ErrCapabilityUnavailable, err).(*Error)
		e.Detail = path
		return nil, e
	}

	version, err := ioctl(fd, kvmGetAPIVersion, 0)
	if err != nil {
		unix.Close(fd)
		recordCapabilityError()
		return nil, opError("open_capability", ErrCapabilityUnavailable, err)
	}
	if version != APIVersion {
		unix.Close(fd)
		recordCapabilityError()
		return nil, &Error{
			Op:     "open_capability",
			Kind:   ErrCapabilityUnavailable,
			Detail: fmt.Sprintf("API version %d, want %d", version, APIVersion),
		}
	}

	for _, c := range RequiredCapabilities {
		n, err := ioctl(fd, kvmCheckExtension, uintptr(c))
		if err != nil || n == 0 {
			unix.Close(fd)
			recordCapabilityError()
			e := &Error{Op: "open_capability", Kind: ErrCapabilityUnavailable, Detail: c.String() + " not reported"}
			if errno, ok := err.(unix.Errno); ok {
				e.Errno = errno
			}
			return nil, e
		}
	}

	k := &KVM{fd: fd, path: path}

	// Set finalizer as safety net in case Close() is not called
	runtime.SetFinalizer(k, (*KVM).finalize)

	return k, nil
}

// CheckExtension returns the host's answer to KVM_CHECK_EXTENSION; zero
// means unsupported.
func (k *KVM) CheckExtension(c Capability) (int, error) {
	if k == nil {
		return 0, fmt.Errorf("kvm: KVM is nil")
	}
	k.closeMu.Lock()
	defer k.closeMu.Unlock()

	if k.closed {
		return 0, ErrClosed
	}
	n, err := ioctl(k.fd, kvmCheckExtension, uintptr(c))
	if err != nil {
		return 0, opError("check_extension", ErrCapabilityUnavailable, err)
	}
	return int(n), nil
}

// VCPUMmapSize returns the size of the kvm_run mapping of each vCPU.
func (k *KVM) VCPUMmapSize() (int, error) {
	size, err := k.vcpuMmapSize()
	if err != nil {
		return 0, opError("vcpu_mmap_size", ErrCapabilityUnavailable, err)
	}
	return size, nil
}

func (k *KVM) vcpuMmapSize() (int, error) {
	if k == nil {
		return 0, fmt.Errorf("kvm: KVM is nil")
	}
	k.closeMu.Lock()
	defer k.closeMu.Unlock()

	if k.closed {
		return 0, ErrClosed
	}
	size, err := ioctl(k.fd, kvmGetVCPUMmapSize, 0)
	if err != nil {
		return 0, err
	}
	return int(size), nil
}

// Close releases the device handle. Idempotent.
func (k *KVM) Close() error {
	if k == nil {
		return nil
	}
	k.closeMu.Lock()
	defer k.closeMu.Unlock()

	if k.closed {
		return nil
	}
	if err := unix.Close(k.fd); err != nil {
		return fmt.Errorf("failed to close %s: %w", k.path, err)
	}
	k.closed = true
	runtime.SetFinalizer(k, nil)
	return nil
}

func (k *KVM) finalize() {
	if k == nil {
		return
	}
	if k.closeMu.TryLock() {
		defer k.closeMu.Unlock()
		if !k.closed {
			k.closed = true
			unix.Close(k.fd)
		}
	}
}

// CreateVM creates a new virtual machine.
func (k *KVM) CreateVM() (*VM, error) {
	start := time.Now()
	defer func() {
		recordVMCreate(time.Since(start))
	}()

	if k == nil {
		return nil, fmt.Errorf("kvm: KVM is nil")
	}
	k.closeMu.Lock()
	defer k.closeMu.Unlock()

	if k.closed {
		return nil, &Error{Op: "create_vm", Kind: ErrVMCreationFailed, Err: ErrClosed}
	}

	fd, err := ioctl(k.fd, kvmCreateVM, 0)
	if err != nil {
		recordResourceError()
		return nil, opError("create_vm", ErrVMCreationFailed, err)
	}

	vm := &VM{fd: int(fd), kvm: k}

	// Set finalizer as safety net in case Close() is not called
	runtime.SetFinalizer(vm, (*VM).finalize)

	return vm, nil
}

// Close destroys the VM. Idempotent.
func (vm *VM) Close() error {
	if vm == nil {
		return nil
	}

	// Lock instance first to prevent finalizer race
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()

	if vm.closed {
		return nil
	}

	if err := unix.Close(vm.fd); err != nil {
		return fmt.Errorf("failed to destroy VM: %w", err)
	}
	vm.closed = true

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(vm, nil)

	recordVMDestroy()
	return nil
}

// finalize is called by the garbage collector as a safety net
func (vm *VM) finalize() {
	if vm == nil {
		return
	}
	// Non-blocking lock to prevent deadlock in finalizers
	if vm.closeMu.TryLock() {
		defer vm.closeMu.Unlock()
		if !vm.closed {
			vm.closed = true
			unix.Close(vm.fd)
		}
	}
}

// CreateVCPU creates the next vCPU of the VM and maps its kvm_run page.
func (vm *VM) CreateVCPU() (*VCPU, error) {
	if vm == nil {
		return nil, fmt.Errorf("kvm: VM is nil")
	}
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()

	if vm.closed {
		return nil, &Error{Op: "create_vcpu", Kind: ErrVCPUCreationFailed, Err: ErrClosed}
	}

	id := vm.nextVCPU
	r, err := ioctl(vm.fd, kvmCreateVCPU, uintptr(id))
	if err != nil {
		recordResourceError()
		return nil, opError("create_vcpu", ErrVCPUCreationFailed, err)
	}
	fd := int(r)

	size, err := vm.kvm.vcpuMmapSize()
	if err != nil {
		unix.Close(fd)
		recordResourceError()
		return nil, opError("map_run_control", ErrRunControlMapFailed, err)
	}
	if size < runMinSize {
		unix.Close(fd)
		return nil, &Error{
			Op:     "map_run_control",
			Kind:   ErrRunControlMapFailed,
			Detail: fmt.Sprintf("kvm_run size %d smaller than %d", size, runMinSize),
		}
	}

	run, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		recordResourceError()
		return nil, opError("map_run_control", ErrRunControlMapFailed, err)
	}

	vm.nextVCPU++
	c := &VCPU{id: id, fd: fd, run: run}

	// Set finalizer as safety net in case Close() is not called
	runtime.SetFinalizer(c, (*VCPU).finalize)

	recordVCPUCreate()
	return c, nil
}

// Close unmaps the kvm_run page and destroys this vCPU.
func (c *VCPU) Close() error {
	if c == nil {
		return nil
	}

	// Lock instance to prevent finalizer race
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil
	}

	if err := c.release(); err != nil {
		return fmt.Errorf("failed to destroy vCPU: %w", err)
	}

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(c, nil)

	recordVCPUDestroy()
	return nil
}

func (c *VCPU) release() error {
	c.closed = true
	var unmapErr error
	if c.run != nil {
		unmapErr = unix.Munmap(c.run)
		c.run = nil
	}
	if err := unix.Close(c.fd); err != nil {
		return err
	}
	return unmapErr
}

// finalize is called by the garbage collector as a safety net
func (c *VCPU) finalize() {
	if c == nil {
		return
	}
	if c.closeMu.TryLock() {
		defer c.closeMu.Unlock()
		if !c.closed {
			c.release()
		}
	}
}
