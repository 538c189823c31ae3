package kvm

// DefaultDevice is the KVM control device.
const DefaultDevice = "/dev/kvm"

// APIVersion is the only stable KVM API version.
const APIVersion = 12

// Capability is a KVM_CHECK_EXTENSION argument.
type Capability uintptr

const (
	CapUserMemory    Capability = 3
	CapImmediateExit Capability = 136
)

func (c Capability) String() string {
	switch c {
	case CapUserMemory:
		return "KVM_CAP_USER_MEMORY"
	case CapImmediateExit:
		return "KVM_CAP_IMMEDIATE_EXIT"
	default:
		return "KVM_CAP_UNKNOWN"
	}
}

// RequiredCapabilities must all be reported by the host before a session starts.
var RequiredCapabilities = []Capability{
	CapUserMemory,
	CapImmediateExit,
}

// amd64 ioctl request numbers.
const (
	kvmGetAPIVersion       = 0xae00
	kvmCreateVM            = 0xae01
	kvmCheckExtension      = 0xae03
	kvmGetVCPUMmapSize     = 0xae04
	kvmCreateVCPU          = 0xae41
	kvmSetUserMemoryRegion = 0x4020ae46
	kvmRun                 = 0xae80
	kvmGetRegs             = 0x8090ae81
	kvmSetRegs             = 0x4090ae82
	kvmGetSregs            = 0x8138ae83
	kvmSetSregs            = 0x4138ae84
)

// Regs mirrors struct kvm_regs.
type Regs struct {
	RAX    uint64
	RBX    uint64
	RCX    uint64
	RDX    uint64
	RSI    uint64
	RDI    uint64
	RSP    uint64
	RBP    uint64
	R8     uint64
	R9     uint64
	R10    uint64
	R11    uint64
	R12    uint64
	R13    uint64
	R14    uint64
	R15    uint64
	RIP    uint64
	RFLAGS uint64
}

// Segment mirrors struct kvm_segment.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Type     uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// DTable mirrors struct kvm_dtable.
type DTable struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Sregs mirrors struct kvm_sregs.
type Sregs struct {
	CS              Segment
	DS              Segment
	ES              Segment
	FS              Segment
	GS              Segment
	SS              Segment
	TR              Segment
	LDT             Segment
	GDT             DTable
	IDT             DTable
	CR0             uint64
	CR2             uint64
	CR3             uint64
	CR4             uint64
	CR8             uint64
	EFER            uint64
	APICBase        uint64
	InterruptBitmap [4]uint64
}

// userspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
type userspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// kvm_run offsets. The exit union starts at 32.
const (
	runImmediateExit = 1
	runExitReason    = 8
	runUnion         = 32

	runIODirection  = runUnion
	runIOSize       = runUnion + 1
	runIOPort       = runUnion + 2
	runIOCount      = runUnion + 4
	runIODataOffset = runUnion + 8

	runFailEntryReason = runUnion
	runFailEntryCPU    = runUnion + 8

	runInternalSuberror = runUnion
	runInternalNData    = runUnion + 4
	runInternalData     = runUnion + 8
	runInternalMaxData  = 16

	runUnknownHardwareReason = runUnion

	// runMinSize covers the header plus the largest union member decoded here.
	runMinSize = runInternalData + runInternalMaxData*8
)
