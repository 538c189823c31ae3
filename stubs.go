//go:build !linux || !amd64

package kvm

import "context"

// Supported returns false on platforms other than linux/amd64.
func Supported() (bool, error) {
	return false, ErrNotSupported
}

// Open returns an error on platforms other than linux/amd64.
func Open(path string) (*KVM, error) {
	return nil, &Error{Op: "open_capability", Kind: ErrCapabilityUnavailable, Err: ErrNotSupported}
}

// Stub implementations for KVM methods
func (k *KVM) Close() error {
	return ErrNotSupported
}

func (k *KVM) CheckExtension(c Capability) (int, error) {
	return 0, ErrNotSupported
}

func (k *KVM) VCPUMmapSize() (int, error) {
	return 0, ErrNotSupported
}

func (k *KVM) CreateVM() (*VM, error) {
	return nil, &Error{Op: "create_vm", Kind: ErrVMCreationFailed, Err: ErrNotSupported}
}

// Stub implementations for VM methods
func (vm *VM) Close() error {
	return ErrNotSupported
}

func (vm *VM) Map(slot uint32, guestPhys uint64, host []byte) error {
	return &Error{Op: "register_memory", Kind: ErrMemoryRegistrationFailed, Err: ErrNotSupported}
}

func (vm *VM) CreateVCPU() (*VCPU, error) {
	return nil, &Error{Op: "create_vcpu", Kind: ErrVCPUCreationFailed, Err: ErrNotSupported}
}

// Stub implementations for VCPU methods
func (c *VCPU) Close() error {
	return ErrNotSupported
}

func (c *VCPU) GetRegs() (Regs, error) {
	return Regs{}, ErrNotSupported
}

func (c *VCPU) SetRegs(regs Regs) error {
	return ErrNotSupported
}

func (c *VCPU) GetSregs() (Sregs, error) {
	return Sregs{}, ErrNotSupported
}

func (c *VCPU) SetSregs(sregs Sregs) error {
	return ErrNotSupported
}

func (c *VCPU) Run(ctx context.Context) (Exit, error) {
	return nil, &Error{Op: "resume", Kind: ErrRunFailed, Err: ErrNotSupported}
}
