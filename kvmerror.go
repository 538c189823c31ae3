package kvm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Setup and run failure kinds. Every *Error wraps exactly one of these.
var (
	ErrCapabilityUnavailable     = errors.New("kvm: capability unavailable")
	ErrVMCreationFailed          = errors.New("kvm: VM creation failed")
	ErrMemoryRegistrationFailed  = errors.New("kvm: memory registration failed")
	ErrVCPUCreationFailed        = errors.New("kvm: vCPU creation failed")
	ErrRunControlMapFailed       = errors.New("kvm: run control mapping failed")
	ErrRegisterProgrammingFailed = errors.New("kvm: register programming failed")
	ErrRunFailed                 = errors.New("kvm: vCPU run failed")
	ErrRunCanceled               = errors.New("kvm: vCPU run canceled")
)

// Common specific errors for API consumers
var (
	ErrClosed           = errors.New("kvm: handle is closed")
	ErrNotSupported     = errors.New("kvm: not supported on this platform")
	ErrInvalidAlignment = errors.New("kvm: address not page-aligned")
)

// Error describes a failed KVM operation.
type Error struct {
	Op     string        // step that failed, e.g. "create_vm"
	Kind   error         // one of the Err*Failed / ErrCapabilityUnavailable sentinels
	Errno  syscall.Errno // zero when the failure was not a syscall
	Err    error         // underlying cause other than an errno
	Detail string
}

func (e *Error) Error() string {
	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

func (e *Error) kindText() string {
	if e.Kind == nil {
		return "operation failed"
	}
	return strings.TrimPrefix(e.Kind.Error(), "kvm: ")
}

// detailedError provides full error context for development
func (e *Error) detailedError() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kvm: %s: %s", e.Op, e.kindText())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Errno != 0 {
		fmt.Fprintf(&b, ": %s", e.Errno.Error())
		if hint := errnoHint(e.Errno); hint != "" {
			b.WriteString(" - ")
			b.WriteString(hint)
		}
	}
	return b.String()
}

// sanitizedError provides minimal error information for production
func (e *Error) sanitizedError() string {
	return "kvm: " + e.kindText()
}

func (e *Error) Unwrap() []error {
	errs := []error{}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if e.Errno != 0 {
		errs = append(errs, e.Errno)
	}
	return errs
}

func errnoHint(errno syscall.Errno) string {
	switch errno {
	case syscall.ENOENT, syscall.ENODEV, syscall.ENXIO:
		return "KVM device missing; load the kvm_intel or kvm_amd module"
	case syscall.EACCES, syscall.EPERM:
		return "check read/write access to /dev/kvm (kvm group membership)"
	case syscall.EINVAL:
		return "check parameter values and alignment"
	case syscall.ENOMEM:
		return "host memory or locked memory limit exceeded"
	case syscall.EEXIST:
		return "slot or vCPU id already in use"
	case syscall.EBUSY:
		return "resource busy"
	case syscall.EFAULT:
		return "host address not accessible"
	default:
		return ""
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("KVM_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("KVM_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

func opError(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Kind: kind}
	if errno, ok := err.(syscall.Errno); ok {
		e.Errno = errno
	} else {
		e.Err = err
	}
	return e
}
