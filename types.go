package kvm

import "sync"

// KVM is an open handle on the KVM control device.
type KVM struct {
	fd      int
	path    string
	closed  bool
	closeMu sync.Mutex // Protect against concurrent Close() and finalizer
}

// VM represents a single KVM virtual machine.
type VM struct {
	fd       int
	kvm      *KVM
	nextVCPU int
	closed   bool
	closeMu  sync.Mutex
}

// VCPU represents a single vCPU associated with a VM, together with its
// shared kvm_run page.
type VCPU struct {
	id      int
	fd      int
	run     []byte
	closed  bool
	closeMu sync.Mutex
}

// ID returns the vCPU index within its VM.
func (c *VCPU) ID() int {
	if c == nil {
		return -1
	}
	return c.id
}

// Path returns the device the handle was opened from.
func (k *KVM) Path() string {
	if k == nil {
		return ""
	}
	return k.path
}
