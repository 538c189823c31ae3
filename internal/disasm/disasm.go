// Package disasm renders guest code as Intel-syntax x86-64 assembly.
package disasm

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Instruction is one decoded instruction.
type Instruction struct {
	Addr  uint64
	Bytes []byte
	Text  string
}

// Decode disassembles code as 64-bit instructions starting at base. Bytes
// that do not decode, including instructions cut off by the end of code, are
// emitted one at a time as "(bad)".
func Decode(code []byte, base uint64) []Instruction {
	var out []Instruction
	for off := 0; off < len(code); {
		pc := base + uint64(off)
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil || inst.Len == 0 || inst.Op == 0 {
			out = append(out, Instruction{Addr: pc, Bytes: code[off : off+1], Text: "(bad)"})
			off++
			continue
		}
		out = append(out, Instruction{
			Addr:  pc,
			Bytes: code[off : off+inst.Len],
			Text:  strings.ToLower(x86asm.IntelSyntax(inst, pc, nil)),
		})
		off += inst.Len
	}
	return out
}

// Fprint writes one line per instruction:
//
//	0x00000000: 48 b8 41 42 43 44 31 32 33 0a   mov rax, 0xa33323144434241
func Fprint(w io.Writer, insts []Instruction) error {
	for _, in := range insts {
		if _, err := fmt.Fprintf(w, "%#08x: %-30s %s\n", in.Addr, fmt.Sprintf("% x", in.Bytes), in.Text); err != nil {
			return err
		}
	}
	return nil
}

// At returns the instruction containing addr.
func At(insts []Instruction, addr uint64) (Instruction, bool) {
	for _, in := range insts {
		if addr >= in.Addr && addr < in.Addr+uint64(len(in.Bytes)) {
			return in, true
		}
	}
	return Instruction{}, false
}
