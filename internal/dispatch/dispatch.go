// Package dispatch drives a vCPU from exit to exit and decides, for each
// exit, whether the guest keeps running, has finished or has failed.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"runtime"

	kvm "github.com/blacktop/go-kvm"
)

// State is the outcome of handling one exit.
type State int

const (
	Running State = iota
	Halted
	Failed
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Halted:
		return "halted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrUnsupportedIO is returned for port input, which has no device behind it.
var ErrUnsupportedIO = errors.New("dispatch: unsupported port input")

// ErrUnexpectedExit wraps every exit that ends the guest other than HLT.
var ErrUnexpectedExit = errors.New("dispatch: unexpected exit")

// Resumer runs a vCPU until its next exit.
type Resumer interface {
	Resume(ctx context.Context) (kvm.Exit, error)
}

// ExitError reports the exit that failed the guest. Its message is the
// exit's diagnostic line, e.g.
//
//	KVM_EXIT_FAIL_ENTRY: hardware_entry_failure_reason = 0x7
type ExitError struct {
	Exit kvm.Exit
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrUnexpectedExit) {
		return fmt.Sprintf("%s: %v", e.Exit, e.Err)
	}
	return e.Exit.String()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Result summarizes a finished run.
type Result struct {
	State   State
	Resumes int
	// Output counts bytes written for port output.
	Output int
	// Last is the final exit, nil when a resume failed.
	Last kvm.Exit
}

// Dispatcher writes guest port output to out and logs exits.
type Dispatcher struct {
	out    io.Writer
	logger *slog.Logger
	buf    [1]byte
}

// New returns a Dispatcher. A nil logger discards logs.
func New(out io.Writer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	return &Dispatcher{out: out, logger: logger}
}

// Run resumes r until the guest halts or fails. The loop stays on one OS
// thread because KVM ties a vCPU to the thread that runs it.
func (d *Dispatcher) Run(ctx context.Context, r Resumer) (Result, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var res Result
	for {
		exit, err := r.Resume(ctx)
		res.Resumes++
		if err != nil {
			res.State = Failed
			return res, err
		}
		res.Last = exit

		state, err := d.Handle(exit)
		switch state {
		case Running:
			res.Output++
			continue
		case Halted:
			res.State = Halted
			return res, nil
		default:
			res.State = Failed
			return res, err
		}
	}
}

// Handle applies the exit policy to a single exit:
//
//	KVM_EXIT_HLT             halted
//	KVM_EXIT_IO (out)        one byte written to out, keep running
//	KVM_EXIT_IO (in)         failed, ErrUnsupportedIO
//	KVM_EXIT_FAIL_ENTRY      failed
//	KVM_EXIT_INTERNAL_ERROR  failed
//	KVM_EXIT_SHUTDOWN        failed
//	KVM_EXIT_UNKNOWN         failed
//	anything else            failed, logged as unhandled
func (d *Dispatcher) Handle(exit kvm.Exit) (State, error) {
	switch e := exit.(type) {
	case kvm.ExitHalt:
		d.logger.Info(e.String())
		return Halted, nil
	case kvm.ExitIO:
		if e.Direction != kvm.IODirectionOut {
			d.logger.Error("port input", "port", fmt.Sprintf("0x%x", e.Port), "size", e.Size)
			return Failed, &ExitError{Exit: e, Err: ErrUnsupportedIO}
		}
		d.buf[0] = e.DataByte()
		if _, err := d.out.Write(d.buf[:]); err != nil {
			return Failed, fmt.Errorf("dispatch: write port 0x%x output: %w", e.Port, err)
		}
		d.logger.Debug("port output", "port", fmt.Sprintf("0x%x", e.Port), "byte", fmt.Sprintf("0x%02x", d.buf[0]))
		return Running, nil
	case kvm.ExitFailEntry:
		return d.fail(e, "hardware_entry_failure_reason", fmt.Sprintf("0x%x", e.Reason), "cpu", e.CPU)
	case kvm.ExitInternalError:
		return d.fail(e, "suberror", fmt.Sprintf("0x%x", e.Suberror), "ndata", len(e.Data))
	case kvm.ExitShutdown:
		// Triple fault or explicit shutdown: terminal, never a clean exit.
		return d.fail(e)
	case kvm.ExitUnknown:
		return d.fail(e, "reason", fmt.Sprintf("0x%x", e.Reason), "hardware_exit_reason", fmt.Sprintf("0x%x", e.HardwareReason))
	case nil:
		return Failed, fmt.Errorf("%w: nil exit", ErrUnexpectedExit)
	default:
		d.logger.Error("unhandled exit type", "exit", exit.String(), "type", fmt.Sprintf("%T", exit))
		return Failed, &ExitError{Exit: exit, Err: ErrUnexpectedExit}
	}
}

func (d *Dispatcher) fail(exit kvm.Exit, attrs ...any) (State, error) {
	d.logger.Error(exit.String(), attrs...)
	return Failed, &ExitError{Exit: exit, Err: ErrUnexpectedExit}
}
