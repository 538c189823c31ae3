//go:build linux && amd64

package session

import (
	"context"
	"errors"
	"os"
	"testing"

	kvm "github.com/blacktop/go-kvm"
	"github.com/blacktop/go-kvm/internal/cpu"
)

func requireKVM(t *testing.T) {
	t.Helper()
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		t.Skip("Skipping KVM tests in CI environment")
	}
	if ok, err := kvm.Supported(); err != nil || !ok {
		t.Skipf("KVM not usable (supported=%v, err=%v)", ok, err)
	}
}

func TestSessionFirstExit(t *testing.T) {
	requireKVM(t)

	// mov al, 'Z'; mov dx, 0x3f8; out dx, al; hlt
	code := []byte{0xb0, 'Z', 0x66, 0xba, 0xf8, 0x03, 0xee, 0xf4}

	s, err := New(context.Background(), Config{Layout: smallLayout()}, code)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	exit, err := s.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	io, ok := exit.(kvm.ExitIO)
	if !ok {
		t.Fatalf("first exit = %v, want KVM_EXIT_IO", exit)
	}
	if io.Direction != kvm.IODirectionOut || io.Port != 0x3f8 || io.DataByte() != 'Z' {
		t.Errorf("ExitIO = %+v", io)
	}

	exit, err = s.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if _, ok := exit.(kvm.ExitHalt); !ok {
		t.Errorf("second exit = %v, want KVM_EXIT_HLT", exit)
	}
}

func TestSessionLongModeState(t *testing.T) {
	requireKVM(t)

	s, err := New(context.Background(), Config{Layout: smallLayout()}, []byte{0xf4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	sregs, err := s.vcpu.GetSregs()
	if err != nil {
		t.Fatalf("GetSregs: %v", err)
	}
	if !cpu.LongMode(sregs) {
		t.Errorf("vCPU not in long mode: CR0=0x%x CR4=0x%x EFER=0x%x", sregs.CR0, sregs.CR4, sregs.EFER)
	}
	if sregs.CR3 != 0x1000 {
		t.Errorf("CR3 = 0x%x, want 0x1000", sregs.CR3)
	}
	regs, err := s.Registers()
	if err != nil {
		t.Fatalf("Registers: %v", err)
	}
	if regs.RIP != 0 || regs.RSP != 0x200000 || regs.RFLAGS != 0x2 {
		t.Errorf("regs = %+v", regs)
	}
}

func TestSessionClose(t *testing.T) {
	requireKVM(t)

	s, err := New(context.Background(), Config{Layout: smallLayout()}, []byte{0xf4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.Resume(context.Background()); !errors.Is(err, kvm.ErrClosed) {
		t.Errorf("Resume after Close = %v, want ErrClosed", err)
	}
}
