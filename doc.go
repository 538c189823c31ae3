// Package kvm provides Go bindings for the Linux Kernel-based Virtual Machine
// (KVM) API on x86-64 hosts.
//
// Provides VM and vCPU management with guest memory registration, register
// access, and a cancellable run loop primitive that decodes each exit.
//
// # Requirements
//
//   - Linux on amd64 with hardware virtualization (VT-x or AMD-V)
//   - Read/write access to /dev/kvm (usually membership in the kvm group)
//   - KVM API version 12 with KVM_CAP_USER_MEMORY and KVM_CAP_IMMEDIATE_EXIT
//
// # Basic Usage
//
// Check if KVM is usable:
//
//	supported, err := kvm.Supported()
//	if err != nil || !supported {
//		log.Fatal("KVM not supported on this system")
//	}
//
// Create and manage a virtual machine:
//
//	sys, err := kvm.Open(kvm.DefaultDevice)
//	if err != nil {
//		log.Fatal("Failed to open KVM:", err)
//	}
//	defer sys.Close()
//
//	vm, err := sys.CreateVM()
//	if err != nil {
//		log.Fatal("Failed to create VM:", err)
//	}
//	defer vm.Close()
//
// Memory registration (host memory must be page-aligned, e.g. from mmap):
//
//	mem, _ := unix.Mmap(-1, 0, 1<<20, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
//	if err := vm.Map(0, 0, mem); err != nil {
//		log.Fatal("Failed to register memory:", err)
//	}
//
// Registers and execution:
//
//	vcpu, err := vm.CreateVCPU()
//	if err != nil {
//		log.Fatal("Failed to create vCPU:", err)
//	}
//	defer vcpu.Close()
//
//	regs, _ := vcpu.GetRegs()
//	regs.RIP = 0
//	regs.RFLAGS = 0x2
//	if err := vcpu.SetRegs(regs); err != nil {
//		log.Fatal("Failed to set registers:", err)
//	}
//
//	exit, err := vcpu.Run(ctx)
//	if err != nil {
//		log.Fatal("Failed to run vCPU:", err)
//	}
//	switch e := exit.(type) {
//	case kvm.ExitHalt:
//		fmt.Println("guest halted")
//	case kvm.ExitIO:
//		fmt.Printf("port 0x%x: %q\n", e.Port, e.Data)
//	default:
//		fmt.Println(exit)
//	}
//
// # Error Handling
//
// Failures are reported as *Error values naming the failed step and wrapping
// one of the kind sentinels (ErrCapabilityUnavailable, ErrVMCreationFailed,
// ErrMemoryRegistrationFailed, ErrVCPUCreationFailed, ErrRunControlMapFailed,
// ErrRegisterProgrammingFailed, ErrRunFailed, ErrRunCanceled) and the
// underlying errno, so both can be tested with errors.Is. Set KVM_ENV=production
// or KVM_DEBUG=false to strip errno details and hints from messages.
//
// # Resource Management
//
// All handles (KVM, VM, VCPU) must be explicitly closed using Close().
// Finalizers provide safety net cleanup.
//
// # Platform Support
//
// Linux amd64 only. Other platforms return ErrNotSupported.
package kvm
