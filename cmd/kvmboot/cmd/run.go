/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	kvm "github.com/blacktop/go-kvm"
	"github.com/blacktop/go-kvm/internal/disasm"
	"github.com/blacktop/go-kvm/internal/dispatch"
	"github.com/blacktop/go-kvm/internal/guest"
	"github.com/blacktop/go-kvm/internal/loader"
	"github.com/blacktop/go-kvm/internal/session"
	"github.com/blacktop/go-kvm/internal/timing"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
	addProgramFlags(runCmd)

	l := guest.DefaultLayout()
	runCmd.Flags().String("memory-size", fmt.Sprintf("%#x", l.MemorySize), "guest memory size (e.g. 0x200000, 4M)")
	runCmd.Flags().String("code-base", fmt.Sprintf("%#x", l.CodeBase), "guest address the program is loaded at")
	runCmd.Flags().String("pml4-offset", fmt.Sprintf("%#x", l.PML4), "guest address of the PML4 table")
	runCmd.Flags().String("pdpt-offset", fmt.Sprintf("%#x", l.PDPT), "guest address of the PDPT")
	runCmd.Flags().String("pd-offset", fmt.Sprintf("%#x", l.PD), "guest address of the page directory")
	runCmd.Flags().String("stack-top", fmt.Sprintf("%#x", l.StackTop), "initial stack pointer")
	runCmd.Flags().Duration("timeout", 0, "abort the guest after this long (default 30s, 0 in config disables)")
	runCmd.Flags().Bool("metrics", false, "print KVM operation metrics as JSON to stderr")
	runCmd.Flags().Bool("timing", false, "print setup phase timing to stderr")
}

var runCmd = &cobra.Command{
	Use:   "run [FILE]",
	Short: "Run a program until it halts",
	Long: `Run a flat x86-64 program in a fresh single-vCPU VM.

The program is read from:
  - FILE, when given
  - the built-in named by --builtin
  - stdin otherwise

FILE may be raw machine code, hex text, an ELF or a Mach-O image (see --format).
Every byte the guest writes to an I/O port is copied to stdout. The command
succeeds when the guest executes HLT and fails on any other exit.`,
	Example: `  # Print ABCD123
  kvmboot run --builtin hello

  # Run hex-encoded machine code from stdin
  echo "b0 41 66 ba 17 02 ee f4" | kvmboot run --format hex`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	code, err := readProgram(cmd, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	var timer *timing.Timer
	if cfg.Timing {
		timer = timing.New()
	}
	defer func() {
		if timer != nil {
			timer.Report(os.Stderr)
		}
		if cfg.Metrics {
			printMetrics(os.Stderr)
		}
	}()

	logger.Debug("starting guest", "bytes", len(code), "device", cfg.Device, "memory_size", cfg.MemorySize)

	sess, err := session.New(ctx, session.Config{
		Device: cfg.Device,
		Layout: cfg.Layout(),
		Logger: logger,
		Timer:  timer,
	}, code)
	if err != nil {
		return fmt.Errorf("failed to set up VM: %w", err)
	}
	defer sess.Close()

	res, err := dispatch.New(os.Stdout, logger).Run(ctx, sess)
	timer.Mark(timing.RunPhase)
	if err != nil {
		logFault(logger, sess)
		return fmt.Errorf("guest failed after %d exits: %w", res.Resumes, err)
	}
	logger.Debug("guest halted", "exits", res.Resumes, "output_bytes", res.Output)
	return nil
}

// logFault disassembles the program around the faulting RIP at debug level.
func logFault(logger *slog.Logger, sess *session.Session) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	regs, err := sess.Registers()
	if err != nil {
		logger.Debug("could not read registers", "error", err)
		return
	}
	mem := sess.Memory()
	insts := disasm.Decode(mem.Code(), mem.Layout().CodeBase)
	if in, ok := disasm.At(insts, regs.RIP); ok {
		logger.Debug("fault", "rip", fmt.Sprintf("%#x", regs.RIP), "instruction", in.Text)
	} else {
		logger.Debug("fault outside program", "rip", fmt.Sprintf("%#x", regs.RIP))
	}
	for _, in := range insts {
		logger.Debug("code", "addr", fmt.Sprintf("%#x", in.Addr), "bytes", fmt.Sprintf("% x", in.Bytes), "asm", in.Text)
	}
}

func printMetrics(w io.Writer) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(kvm.GetMetrics()); err != nil {
		fmt.Fprintf(w, "failed to encode metrics: %v\n", err)
	}
}

// addProgramFlags adds the flags that select a program.
func addProgramFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", string(loader.FormatAuto), "program format (auto, raw, hex, elf, macho)")
	cmd.Flags().StringP("builtin", "b", "", "run a built-in program instead of a file (hello, halt)")
}

// readProgram loads code from the FILE argument, --builtin or stdin.
func readProgram(cmd *cobra.Command, args []string) ([]byte, error) {
	name, err := cmd.Flags().GetString("builtin")
	if err != nil {
		return nil, err
	}
	f, err := cmd.Flags().GetString("format")
	if err != nil {
		return nil, err
	}
	format, err := loader.ParseFormat(f)
	if err != nil {
		return nil, err
	}

	switch {
	case len(args) > 0 && name != "":
		return nil, fmt.Errorf("FILE and --builtin are mutually exclusive")
	case len(args) > 0:
		return loader.Load(args[0], format)
	case name != "":
		return loader.Builtin(name)
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		return loader.Parse(data, format)
	}
}
