//go:build linux && amd64

package kvm

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// Run enters the guest until the next exit and returns it decoded.
//
// Run is cancellable: when ctx is done the vCPU thread is kicked out of
// KVM_RUN through immediate_exit and a SIGURG, and Run returns an error
// wrapping both ErrRunCanceled and ctx.Err().
func (c *VCPU) Run(ctx context.Context) (Exit, error) {
	start := time.Now()
	defer func() {
		recordRun(time.Since(start))
	}()

	if c == nil {
		return nil, fmt.Errorf("kvm: VCPU is nil")
	}

	// Lock to prevent use-after-free
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil, &Error{Op: "resume", Kind: ErrRunFailed, Err: ErrClosed}
	}
	if err := ctx.Err(); err != nil {
		recordRunCancel()
		return nil, &Error{Op: "resume", Kind: ErrRunCanceled, Err: err}
	}

	// The kick below targets this thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.run[runImmediateExit] = 0
	pid, tid := unix.Getpid(), unix.Gettid()

	stop := make(chan struct{})
	kicked := make(chan struct{})
	go func() {
		defer close(kicked)
		select {
		case <-ctx.Done():
			c.run[runImmediateExit] = 1
			unix.Tgkill(pid, tid, unix.SIGURG)
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-kicked
	}()

	for {
		_, err := ioctl(c.fd, kvmRun, 0)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				recordRunCancel()
				return nil, &Error{Op: "resume", Kind: ErrRunCanceled, Err: ctxErr}
			}
			// Runtime preemption signals land here too.
			recordRunRetry()
			continue
		}
		recordResourceError()
		return nil, opError("resume", ErrRunFailed, err)
	}

	exit := decodeExit(c.run)
	recordExit(exit.Kind())
	return exit, nil
}
