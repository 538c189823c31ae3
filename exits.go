package kvm

import (
	"encoding/binary"
	"fmt"
)

// Raw KVM exit reasons.
const (
	exitReasonUnknown       = 0
	exitReasonIO            = 2
	exitReasonHLT           = 5
	exitReasonShutdown      = 8
	exitReasonFailEntry     = 9
	exitReasonInternalError = 17
)

// ExitKind categorizes vCPU exits.
type ExitKind int

const (
	ExitKindUnknown ExitKind = iota
	ExitKindHalt
	ExitKindIO
	ExitKindFailEntry
	ExitKindInternalError
	ExitKindShutdown

	numExitKinds
)

func (k ExitKind) String() string {
	switch k {
	case ExitKindHalt:
		return "KVM_EXIT_HLT"
	case ExitKindIO:
		return "KVM_EXIT_IO"
	case ExitKindFailEntry:
		return "KVM_EXIT_FAIL_ENTRY"
	case ExitKindInternalError:
		return "KVM_EXIT_INTERNAL_ERROR"
	case ExitKindShutdown:
		return "KVM_EXIT_SHUTDOWN"
	default:
		return "KVM_EXIT_UNKNOWN"
	}
}

// Exit is the decoded reason a vCPU stopped running guest code.
// The set of implementations is closed: ExitHalt, ExitIO, ExitFailEntry,
// ExitInternalError, ExitShutdown and ExitUnknown.
type Exit interface {
	Kind() ExitKind
	String() string
	exit()
}

// IODirection is the direction of a port I/O exit.
type IODirection uint8

const (
	IODirectionIn  IODirection = 0
	IODirectionOut IODirection = 1
)

func (d IODirection) String() string {
	if d == IODirectionOut {
		return "out"
	}
	return "in"
}

// ExitHalt is reported when the guest executes HLT.
type ExitHalt struct{}

func (ExitHalt) Kind() ExitKind { return ExitKindHalt }
func (ExitHalt) String() string { return "KVM_EXIT_HLT" }
func (ExitHalt) exit()          {}

// ExitIO is a port I/O access. Data is a copy of the bytes the run page held.
type ExitIO struct {
	Direction IODirection
	Port      uint16
	Size      uint8
	Count     uint32
	Data      []byte
}

func (ExitIO) Kind() ExitKind { return ExitKindIO }
func (ExitIO) exit()          {}

func (e ExitIO) String() string {
	return fmt.Sprintf("KVM_EXIT_IO: direction = %s, port = 0x%x, size = %d, count = %d",
		e.Direction, e.Port, e.Size, e.Count)
}

// DataByte returns the first byte of the transfer, or 0 when there is none.
func (e ExitIO) DataByte() byte {
	if len(e.Data) == 0 {
		return 0
	}
	return e.Data[0]
}

// ExitFailEntry is reported when hardware refused to enter the guest.
type ExitFailEntry struct {
	Reason uint64
	CPU    uint32
}

func (ExitFailEntry) Kind() ExitKind { return ExitKindFailEntry }
func (ExitFailEntry) exit()          {}

func (e ExitFailEntry) String() string {
	return fmt.Sprintf("KVM_EXIT_FAIL_ENTRY: hardware_entry_failure_reason = 0x%x", e.Reason)
}

// ExitInternalError is reported when KVM itself could not continue.
type ExitInternalError struct {
	Suberror uint32
	Data     []uint64
}

func (ExitInternalError) Kind() ExitKind { return ExitKindInternalError }
func (ExitInternalError) exit()          {}

func (e ExitInternalError) String() string {
	return fmt.Sprintf("KVM_EXIT_INTERNAL_ERROR: suberror = 0x%x (%s)", e.Suberror, internalErrorName(e.Suberror))
}

func internalErrorName(suberror uint32) string {
	switch suberror {
	case 1:
		return "KVM_INTERNAL_ERROR_EMULATION"
	case 2:
		return "KVM_INTERNAL_ERROR_SIMUL_EX"
	case 3:
		return "KVM_INTERNAL_ERROR_DELIVERY_EV"
	case 4:
		return "KVM_INTERNAL_ERROR_UNEXPECTED_EXIT_REASON"
	default:
		return "unknown"
	}
}

// ExitShutdown is reported on a triple fault.
type ExitShutdown struct{}

func (ExitShutdown) Kind() ExitKind { return ExitKindShutdown }
func (ExitShutdown) String() string { return "KVM_EXIT_SHUTDOWN" }
func (ExitShutdown) exit()          {}

// ExitUnknown carries any exit reason not handled above.
// HardwareReason is only meaningful when Reason is KVM_EXIT_UNKNOWN (0).
type ExitUnknown struct {
	Reason         uint32
	HardwareReason uint64
}

func (ExitUnknown) Kind() ExitKind { return ExitKindUnknown }
func (ExitUnknown) exit()          {}

func (e ExitUnknown) String() string {
	if e.Reason == exitReasonUnknown {
		return fmt.Sprintf("KVM_EXIT_UNKNOWN: hardware_exit_reason = 0x%x", e.HardwareReason)
	}
	return fmt.Sprintf("Unhandled reason: 0x%x", e.Reason)
}

// decodeExit reads the exit fields out of a kvm_run page.
func decodeExit(run []byte) Exit {
	if len(run) < runMinSize {
		return ExitUnknown{}
	}
	le := binary.LittleEndian

	reason := le.Uint32(run[runExitReason:])
	switch reason {
	case exitReasonHLT:
		return ExitHalt{}
	case exitReasonIO:
		e := ExitIO{
			Direction: IODirection(run[runIODirection]),
			Size:      run[runIOSize],
			Port:      le.Uint16(run[runIOPort:]),
			Count:     le.Uint32(run[runIOCount:]),
		}
		off := le.Uint64(run[runIODataOffset:])
		n := uint64(e.Size) * uint64(e.Count)
		if off < uint64(len(run)) && n <= uint64(len(run))-off {
			e.Data = append([]byte(nil), run[off:off+n]...)
		}
		return e
	case exitReasonFailEntry:
		return ExitFailEntry{
			Reason: le.Uint64(run[runFailEntryReason:]),
			CPU:    le.Uint32(run[runFailEntryCPU:]),
		}
	case exitReasonInternalError:
		e := ExitInternalError{Suberror: le.Uint32(run[runInternalSuberror:])}
		n := min(le.Uint32(run[runInternalNData:]), runInternalMaxData)
		for i := uint32(0); i < n; i++ {
			e.Data = append(e.Data, le.Uint64(run[runInternalData+8*int(i):]))
		}
		return e
	case exitReasonShutdown:
		return ExitShutdown{}
	default:
		e := ExitUnknown{Reason: reason}
		if reason == exitReasonUnknown {
			e.HardwareReason = le.Uint64(run[runUnknownHardwareReason:])
		}
		return e
	}
}
