package kvm

import (
	"context"
	"errors"
	"strings"
	"syscall"
	"testing"
)

func TestErrorMessages(t *testing.T) {
	t.Setenv("KVM_ENV", "")
	t.Setenv("KVM_DEBUG", "")

	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "errno with hint",
			err:      &Error{Op: "open_capability", Kind: ErrCapabilityUnavailable, Errno: syscall.EACCES, Detail: "/dev/kvm"},
			expected: "kvm: open_capability: capability unavailable: /dev/kvm: permission denied - check read/write access to /dev/kvm (kvm group membership)",
		},
		{
			name:     "detail only",
			err:      &Error{Op: "open_capability", Kind: ErrCapabilityUnavailable, Detail: "API version 11, want 12"},
			expected: "kvm: open_capability: capability unavailable: API version 11, want 12",
		},
		{
			name:     "wrapped cause",
			err:      &Error{Op: "resume", Kind: ErrRunCanceled, Err: context.Canceled},
			expected: "kvm: resume: vCPU run canceled: context canceled",
		},
		{
			name:     "errno without hint",
			err:      &Error{Op: "create_vm", Kind: ErrVMCreationFailed, Errno: syscall.E2BIG},
			expected: "kvm: create_vm: VM creation failed: " + syscall.E2BIG.Error(),
		},
		{
			name:     "no kind",
			err:      &Error{Op: "resume"},
			expected: "kvm: resume: operation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorSanitized(t *testing.T) {
	err := &Error{Op: "create_vcpu", Kind: ErrVCPUCreationFailed, Errno: syscall.EEXIST}

	for _, env := range []struct{ key, value string }{
		{"KVM_ENV", "production"},
		{"KVM_ENV", "prod"},
		{"KVM_DEBUG", "false"},
	} {
		t.Run(env.key+"="+env.value, func(t *testing.T) {
			t.Setenv("KVM_ENV", "")
			t.Setenv("KVM_DEBUG", "")
			t.Setenv(env.key, env.value)

			if got := err.Error(); got != "kvm: vCPU creation failed" {
				t.Errorf("Error() = %q, want sanitized message", got)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := error(&Error{Op: "register_memory", Kind: ErrMemoryRegistrationFailed, Errno: syscall.EINVAL})

	if !errors.Is(err, ErrMemoryRegistrationFailed) {
		t.Error("errors.Is(err, ErrMemoryRegistrationFailed) = false")
	}
	if !errors.Is(err, syscall.EINVAL) {
		t.Error("errors.Is(err, EINVAL) = false")
	}
	if errors.Is(err, ErrVMCreationFailed) {
		t.Error("errors.Is(err, ErrVMCreationFailed) = true")
	}

	aligned := error(&Error{Op: "register_memory", Kind: ErrMemoryRegistrationFailed, Err: ErrInvalidAlignment})
	if !errors.Is(aligned, ErrInvalidAlignment) {
		t.Error("errors.Is(aligned, ErrInvalidAlignment) = false")
	}

	var e *Error
	if !errors.As(aligned, &e) || e.Op != "register_memory" {
		t.Errorf("errors.As did not recover the step, got %+v", e)
	}
}

func TestOpError(t *testing.T) {
	if opError("create_vm", ErrVMCreationFailed, nil) != nil {
		t.Error("opError with nil cause should return nil")
	}

	err := opError("create_vm", ErrVMCreationFailed, syscall.ENOMEM)
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("opError returned %T", err)
	}
	if e.Errno != syscall.ENOMEM || e.Err != nil {
		t.Errorf("errno not classified: %+v", e)
	}

	err = opError("resume", ErrRunCanceled, context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrRunCanceled) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestSentinelMessages(t *testing.T) {
	for _, err := range []error{
		ErrCapabilityUnavailable,
		ErrVMCreationFailed,
		ErrMemoryRegistrationFailed,
		ErrVCPUCreationFailed,
		ErrRunControlMapFailed,
		ErrRegisterProgrammingFailed,
		ErrRunFailed,
		ErrRunCanceled,
		ErrClosed,
		ErrNotSupported,
		ErrInvalidAlignment,
	} {
		if !strings.HasPrefix(err.Error(), "kvm: ") {
			t.Errorf("sentinel %q lacks kvm prefix", err)
		}
	}
}
