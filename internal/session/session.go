// Package session builds a ready-to-run single-vCPU long-mode VM: guest
// memory with the program and page tables, the VM with that memory
// registered, and a vCPU programmed to start at the code base.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	kvm "github.com/blacktop/go-kvm"
	"github.com/blacktop/go-kvm/internal/cpu"
	"github.com/blacktop/go-kvm/internal/guest"
	"github.com/blacktop/go-kvm/internal/timing"
)

// memorySlot is the only memory slot used.
const memorySlot = 0

// Config describes a session.
type Config struct {
	// Device is the KVM device node; kvm.DefaultDevice when empty.
	Device string
	// Layout places code, tables and stack in guest memory.
	Layout guest.Layout
	// Logger receives setup progress at debug level. Optional.
	Logger *slog.Logger
	// Timer records one phase per setup step. Optional.
	Timer *timing.Timer
}

// Session owns every resource of one VM run.
type Session struct {
	cfg Config

	mem  *guest.Memory
	sys  *kvm.KVM
	vm   *kvm.VM
	vcpu *kvm.VCPU
}

// New performs the setup steps in order:
//
//	prepare memory → open_capability → create_vm → register_memory →
//	create_vcpu (+ map_run_control) → program_registers → program_special_registers
//
// Memory preparation (allocation, program copy, page tables) happens first so
// an oversized program is rejected before any KVM resource exists. On any
// failure everything acquired so far is released and the error names the
// failing step.
func New(ctx context.Context, cfg Config, code []byte) (*Session, error) {
	if cfg.Device == "" {
		cfg.Device = kvm.DefaultDevice
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
	}
	s := &Session{cfg: cfg}

	steps := []struct {
		name string
		run  func() error
	}{
		{"prepare_memory", func() error { return s.prepareMemory(code) }},
		{"open_capability", s.open},
		{"create_vm", s.createVM},
		{"register_memory", s.registerMemory},
		{"create_vcpu", s.createVCPU},
		{"program_registers", s.programRegisters},
		{"program_special_registers", s.programSpecialRegisters},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			s.Close()
			return nil, fmt.Errorf("session setup interrupted before %s: %w", step.name, err)
		}
		start := time.Now()
		if err := step.run(); err != nil {
			logger.Debug("setup step failed", "step", step.name, "error", err)
			s.Close()
			return nil, err
		}
		cfg.Timer.Mark(step.name)
		logger.Debug("setup step", "step", step.name, "duration", time.Since(start))
	}
	return s, nil
}

func (s *Session) prepareMemory(code []byte) error {
	l := s.cfg.Layout
	if err := l.Validate(); err != nil {
		return err
	}
	// Check the program against the layout before paying for the mapping.
	if limit := l.CodeLimit(); uint64(len(code)) >= limit {
		return fmt.Errorf("%w: %d bytes at 0x%x, limit %d", guest.ErrCodeTooLarge, len(code), l.CodeBase, limit-1)
	}

	mem, err := guest.Allocate(l)
	if err != nil {
		return err
	}
	s.mem = mem
	if err := mem.LoadCode(code); err != nil {
		return err
	}
	return mem.InstallPageTables()
}

func (s *Session) open() error {
	sys, err := kvm.Open(s.cfg.Device)
	if err != nil {
		return err
	}
	s.sys = sys
	return nil
}

func (s *Session) createVM() error {
	vm, err := s.sys.CreateVM()
	if err != nil {
		return err
	}
	s.vm = vm
	return nil
}

func (s *Session) registerMemory() error {
	return s.vm.Map(memorySlot, 0, s.mem.Bytes())
}

func (s *Session) createVCPU() error {
	vcpu, err := s.vm.CreateVCPU()
	if err != nil {
		return err
	}
	s.vcpu = vcpu
	return nil
}

func (s *Session) programRegisters() error {
	l := s.cfg.Layout
	return s.vcpu.SetRegs(cpu.ComputeRegisters(l.CodeBase, l.StackTop))
}

func (s *Session) programSpecialRegisters() error {
	sregs, err := s.vcpu.GetSregs()
	if err != nil {
		return err
	}
	cpu.ComputeControlState(s.cfg.Layout.PML4).Apply(&sregs)
	code, data := cpu.ComputeSegments()
	cpu.ApplySegments(&sregs, code, data)
	return s.vcpu.SetSregs(sregs)
}

// Resume runs the vCPU until its next exit.
func (s *Session) Resume(ctx context.Context) (kvm.Exit, error) {
	if s == nil || s.vcpu == nil {
		return nil, kvm.ErrClosed
	}
	return s.vcpu.Run(ctx)
}

// Registers returns the vCPU's current general purpose registers.
func (s *Session) Registers() (kvm.Regs, error) {
	if s == nil || s.vcpu == nil {
		return kvm.Regs{}, kvm.ErrClosed
	}
	return s.vcpu.GetRegs()
}

// Memory returns the guest memory.
func (s *Session) Memory() *guest.Memory {
	return s.mem
}

// Close releases the vCPU, the VM, the device handle and guest memory, in
// that order. Idempotent.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.vcpu != nil {
		errs = append(errs, s.vcpu.Close())
		s.vcpu = nil
	}
	if s.vm != nil {
		errs = append(errs, s.vm.Close())
		s.vm = nil
	}
	if s.sys != nil {
		errs = append(errs, s.sys.Close())
		s.sys = nil
	}
	if s.mem != nil {
		errs = append(errs, s.mem.Close())
		s.mem = nil
	}
	return errors.Join(errs...)
}
