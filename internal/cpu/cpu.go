// Package cpu computes the vCPU state that lets the first guest instruction
// execute in 64-bit long mode with paging enabled and no firmware.
package cpu

import (
	kvm "github.com/blacktop/go-kvm"
)

// CR0 bits.
const (
	CR0PE uint64 = 1 << 0
	CR0MP uint64 = 1 << 1
	CR0ET uint64 = 1 << 4
	CR0NE uint64 = 1 << 5
	CR0WP uint64 = 1 << 16
	CR0AM uint64 = 1 << 18
	CR0PG uint64 = 1 << 31
)

// CR4 bits.
const (
	CR4PAE        uint64 = 1 << 5
	CR4OSFXSR     uint64 = 1 << 9
	CR4OSXMMEXCPT uint64 = 1 << 10
)

// EFER bits.
const (
	EFERLME uint64 = 1 << 8
	EFERLMA uint64 = 1 << 10
)

// RFLAGSReserved is bit 1 of RFLAGS, which always reads as one.
const RFLAGSReserved uint64 = 1 << 1

// Segment selectors. No GDT is built in guest memory; the hidden descriptor
// state is loaded directly through KVM_SET_SREGS.
const (
	CodeSelector = 1 << 3
	DataSelector = 2 << 3
)

// Segment descriptor types.
const (
	codeType = 11 // execute/read, accessed
	dataType = 3  // read/write, accessed
)

// ComputeRegisters returns the general purpose registers for the first
// instruction: everything zero except RIP, RSP and the reserved RFLAGS bit.
func ComputeRegisters(entry, stackTop uint64) kvm.Regs {
	return kvm.Regs{
		RIP:    entry,
		RSP:    stackTop,
		RFLAGS: RFLAGSReserved,
	}
}

// ControlState holds the paging and mode control registers.
type ControlState struct {
	CR0  uint64
	CR3  uint64
	CR4  uint64
	EFER uint64
}

// ComputeControlState enables protection, paging and long mode with the page
// table hierarchy rooted at pageTableBase.
func ComputeControlState(pageTableBase uint64) ControlState {
	return ControlState{
		CR0:  CR0PE | CR0MP | CR0ET | CR0NE | CR0WP | CR0AM | CR0PG,
		CR3:  pageTableBase,
		CR4:  CR4PAE | CR4OSFXSR | CR4OSXMMEXCPT,
		EFER: EFERLME | EFERLMA,
	}
}

// Apply writes the control state onto sregs.
func (s ControlState) Apply(sregs *kvm.Sregs) {
	sregs.CR0 = s.CR0
	sregs.CR3 = s.CR3
	sregs.CR4 = s.CR4
	sregs.EFER = s.EFER
}

// ComputeSegments returns the flat 64-bit code segment and the flat data
// segment used for DS, ES, FS, GS and SS.
func ComputeSegments() (code, data kvm.Segment) {
	code = kvm.Segment{
		Base:     0,
		Limit:    0xffffffff,
		Selector: CodeSelector,
		Type:     codeType,
		Present:  1,
		DPL:      0,
		DB:       0,
		S:        1,
		L:        1,
		G:        1,
	}
	data = code
	data.Type = dataType
	data.Selector = DataSelector
	return code, data
}

// ApplySegments loads code into CS and data into every data segment register.
func ApplySegments(sregs *kvm.Sregs, code, data kvm.Segment) {
	sregs.CS = code
	sregs.DS = data
	sregs.ES = data
	sregs.FS = data
	sregs.GS = data
	sregs.SS = data
}

// LongMode reports whether sregs describe 64-bit mode with paging, as
// ComputeControlState and ComputeSegments produce.
func LongMode(sregs kvm.Sregs) bool {
	return sregs.CR0&(CR0PE|CR0PG) == CR0PE|CR0PG &&
		sregs.CR4&CR4PAE != 0 &&
		sregs.EFER&(EFERLME|EFERLMA) == EFERLME|EFERLMA &&
		sregs.CS.L == 1 && sregs.CS.DB == 0
}
