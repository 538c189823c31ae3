// Package loader turns a file or a built-in name into the flat x86-64 code
// bytes that are copied to the guest code base.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// Format names an input encoding.
type Format string

const (
	FormatAuto  Format = "auto"
	FormatRaw   Format = "raw"
	FormatHex   Format = "hex"
	FormatELF   Format = "elf"
	FormatMachO Format = "macho"
)

// Formats lists every accepted format.
var Formats = []Format{FormatAuto, FormatRaw, FormatHex, FormatELF, FormatMachO}

var (
	ErrUnknownFormat = errors.New("loader: unknown format")
	ErrNoCode        = errors.New("loader: no code")
	ErrWrongArch     = errors.New("loader: not an x86-64 image")
)

// ParseFormat validates a format name. The empty string means auto.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatAuto, nil
	}
	f := Format(strings.ToLower(s))
	if !slices.Contains(Formats, f) {
		return "", fmt.Errorf("%w %q (want one of %s)", ErrUnknownFormat, s, formatList())
	}
	return f, nil
}

func formatList() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Load reads path and extracts code according to format.
func Load(path string, format Format) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read program: %w", err)
	}
	code, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return code, nil
}

// Parse extracts code from data.
func Parse(data []byte, format Format) ([]byte, error) {
	if format == FormatAuto || format == "" {
		format = Detect(data)
	}
	var (
		code []byte
		err  error
	)
	switch format {
	case FormatRaw:
		code = data
	case FormatHex:
		code, err = parseHex(data)
	case FormatELF:
		code, err = parseELF(data)
	case FormatMachO:
		code, err = parseMachO(data)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}
	if len(code) == 0 {
		return nil, ErrNoCode
	}
	return code, nil
}

var (
	elfMagic    = []byte("\x7fELF")
	fatMagic    = []byte{0xca, 0xfe, 0xba, 0xbe}
	machoMagics = [][]byte{
		{0xcf, 0xfa, 0xed, 0xfe}, // MH_MAGIC_64
		{0xce, 0xfa, 0xed, 0xfe}, // MH_MAGIC
		fatMagic,
	}
)

// Detect guesses the format of data: ELF and Mach-O by magic, hex when every
// byte is a hex digit, whitespace or a comment, raw otherwise.
func Detect(data []byte) Format {
	if bytes.HasPrefix(data, elfMagic) {
		return FormatELF
	}
	for _, m := range machoMagics {
		if bytes.HasPrefix(data, m) {
			return FormatMachO
		}
	}
	if looksHex(data) {
		return FormatHex
	}
	return FormatRaw
}

func looksHex(data []byte) bool {
	digits := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.NewReplacer("0x", "", "0X", "").Replace(stripComment(line))
		for _, r := range line {
			switch {
			case r == ' ' || r == '\t' || r == '\r' || r == ',':
			case strings.ContainsRune("0123456789abcdefABCDEF", r):
				digits++
			default:
				return false
			}
		}
	}
	return digits > 0
}

func stripComment(line string) string {
	if i := strings.IndexAny(line, "#;"); i >= 0 {
		return line[:i]
	}
	return line
}

// parseHex accepts hex digit pairs separated by any whitespace or commas,
// with "0x" prefixes and # or ; comments.
func parseHex(data []byte) ([]byte, error) {
	var sb strings.Builder
	for n, line := range strings.Split(string(data), "\n") {
		for _, field := range strings.FieldsFunc(stripComment(line), func(r rune) bool {
			return r == ' ' || r == '\t' || r == '\r' || r == ','
		}) {
			field = strings.TrimPrefix(strings.TrimPrefix(field, "0x"), "0X")
			if len(field)%2 != 0 {
				return nil, fmt.Errorf("loader: line %d: odd number of hex digits in %q", n+1, field)
			}
			sb.WriteString(field)
		}
	}
	code, err := hex.DecodeString(sb.String())
	if err != nil {
		return nil, fmt.Errorf("loader: invalid hex: %w", err)
	}
	return code, nil
}

// parseELF returns the .text section from the entry point onward.
func parseELF(data []byte) ([]byte, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loader: failed to parse ELF: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: ELF machine %s", ErrWrongArch, f.Machine)
	}
	text := f.Section(".text")
	if text == nil {
		return nil, fmt.Errorf("%w: ELF has no .text section", ErrNoCode)
	}
	code, err := text.Data()
	if err != nil {
		return nil, fmt.Errorf("loader: failed to read .text: %w", err)
	}
	return fromEntry(code, text.Addr, f.Entry), nil
}

// parseMachO returns __TEXT,__text from the LC_MAIN entry point onward. Fat
// images contribute their x86-64 slice.
func parseMachO(data []byte) ([]byte, error) {
	if bytes.HasPrefix(data, fatMagic) {
		return parseFatMachO(data)
	}
	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loader: failed to parse Mach-O: %w", err)
	}
	defer m.Close()
	return machoText(m)
}

func parseFatMachO(data []byte) ([]byte, error) {
	ff, err := macho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("loader: failed to parse fat Mach-O: %w", err)
	}
	defer ff.Close()

	var cpus []string
	for _, arch := range ff.Arches {
		if arch.CPU == types.CPUAmd64 {
			return machoText(arch.File)
		}
		cpus = append(cpus, arch.CPU.String())
	}
	return nil, fmt.Errorf("%w: fat Mach-O has no x86-64 slice (found %s)", ErrWrongArch, strings.Join(cpus, ", "))
}

func machoText(m *macho.File) ([]byte, error) {
	if m.CPU != types.CPUAmd64 {
		return nil, fmt.Errorf("%w: Mach-O CPU %s", ErrWrongArch, m.CPU)
	}
	text := m.Section("__TEXT", "__text")
	if text == nil {
		return nil, fmt.Errorf("%w: Mach-O has no __TEXT,__text section", ErrNoCode)
	}
	code, err := text.Data()
	if err != nil {
		return nil, fmt.Errorf("loader: failed to read __text: %w", err)
	}
	var entry uint64
	if main := m.GetLoadsByName("LC_MAIN"); len(main) > 0 {
		if ep, ok := main[0].(*macho.EntryPoint); ok {
			entry = ep.EntryOffset + m.GetBaseAddress()
		}
	}
	return fromEntry(code, text.Addr, entry), nil
}

// fromEntry drops the bytes of a section that precede entry. Entries outside
// the section leave it whole.
func fromEntry(code []byte, addr, entry uint64) []byte {
	if entry > addr && entry < addr+uint64(len(code)) {
		return code[entry-addr:]
	}
	return code
}
