//go:build linux && amd64

package kvm

import (
	"fmt"
	"unsafe"
)

// GetRegs reads the general purpose registers.
func (c *VCPU) GetRegs() (Regs, error) {
	var regs Regs
	if c == nil {
		return regs, fmt.Errorf("kvm: VCPU is nil")
	}

	// Lock to prevent use-after-free
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return regs, ErrClosed
	}
	if err := ioctlPtr(c.fd, kvmGetRegs, unsafe.Pointer(&regs)); err != nil {
		recordResourceError()
		return regs, opError("get_registers", ErrRegisterProgrammingFailed, err)
	}

	recordRegisterOp()
	return regs, nil
}

// SetRegs writes the general purpose registers.
func (c *VCPU) SetRegs(regs Regs) error {
	if c == nil {
		return fmt.Errorf("kvm: VCPU is nil")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ioctlPtr(c.fd, kvmSetRegs, unsafe.Pointer(&regs)); err != nil {
		recordResourceError()
		return opError("program_registers", ErrRegisterProgrammingFailed, err)
	}

	recordRegisterOp()
	return nil
}

// GetSregs reads the special registers (segments, control registers, EFER).
func (c *VCPU) GetSregs() (Sregs, error) {
	var sregs Sregs
	if c == nil {
		return sregs, fmt.Errorf("kvm: VCPU is nil")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return sregs, ErrClosed
	}
	if err := ioctlPtr(c.fd, kvmGetSregs, unsafe.Pointer(&sregs)); err != nil {
		recordResourceError()
		return sregs, opError("get_special_registers", ErrRegisterProgrammingFailed, err)
	}

	recordRegisterOp()
	return sregs, nil
}

// SetSregs writes the special registers.
func (c *VCPU) SetSregs(sregs Sregs) error {
	if c == nil {
		return fmt.Errorf("kvm: VCPU is nil")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if err := ioctlPtr(c.fd, kvmSetSregs, unsafe.Pointer(&sregs)); err != nil {
		recordResourceError()
		return opError("program_special_registers", ErrRegisterProgrammingFailed, err)
	}

	recordRegisterOp()
	return nil
}
