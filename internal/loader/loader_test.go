package loader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatAuto, false},
		{"raw", FormatRaw, false},
		{"HEX", FormatHex, false},
		{"elf", FormatELF, false},
		{"macho", FormatMachO, false},
		{"pe", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("ParseFormat(%q) error = %v, want ErrUnknownFormat", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Format
	}{
		{"elf", []byte("\x7fELF\x02\x01\x01"), FormatELF},
		{"macho64", []byte{0xcf, 0xfa, 0xed, 0xfe, 0x07}, FormatMachO},
		{"hex", []byte("f4\n"), FormatHex},
		{"hex with comments", []byte("# halt\n0xf4 ; done\n"), FormatHex},
		{"raw hlt", []byte{0xf4}, FormatRaw},
		{"raw text", []byte("hello"), FormatRaw},
		{"empty", nil, FormatRaw},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Detect(tt.data); got != tt.want {
				t.Errorf("Detect = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	src := []byte(`
# mov al, 'A'
b0 41
; out 0x217
0x66,0xba 17 02
ee f4
`)
	got, err := Parse(src, FormatHex)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []byte{0xb0, 0x41, 0x66, 0xba, 0x17, 0x02, 0xee, 0xf4}
	if !bytes.Equal(got, want) {
		t.Errorf("Parse = % x, want % x", got, want)
	}

	for _, bad := range []string{"f", "zz", "f4 0"} {
		if _, err := Parse([]byte(bad), FormatHex); err == nil {
			t.Errorf("Parse(%q) succeeded", bad)
		}
	}
}

func TestParseRaw(t *testing.T) {
	got, err := Parse([]byte{0x90, 0xf4}, FormatRaw)
	if err != nil || !bytes.Equal(got, []byte{0x90, 0xf4}) {
		t.Errorf("Parse = % x, %v", got, err)
	}
	if _, err := Parse(nil, FormatRaw); !errors.Is(err, ErrNoCode) {
		t.Errorf("Parse(empty) = %v, want ErrNoCode", err)
	}
	if _, err := Parse([]byte{0xf4}, Format("coff")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Parse(coff) = %v, want ErrUnknownFormat", err)
	}
}

func TestParseELF(t *testing.T) {
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("needs a linux/amd64 ELF executable")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Skipf("no executable path: %v", err)
	}
	data, err := os.ReadFile(exe)
	if err != nil {
		t.Skipf("cannot read test binary: %v", err)
	}
	if got := Detect(data); got != FormatELF {
		t.Fatalf("Detect = %q, want elf", got)
	}
	code, err := Parse(data, FormatAuto)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(code) == 0 {
		t.Error("empty .text")
	}
}

const (
	cpuAmd64 = 0x01000007
	cpuArm64 = 0x0100000c
)

// thinMachO builds a 64-bit Mach-O executable with a single __TEXT segment
// holding code in __text.
func thinMachO(cpu uint32, code []byte) []byte {
	const (
		textOff  = 0x200
		textAddr = 0x100000000 + textOff
	)
	le := binary.LittleEndian
	var b []byte
	u32 := func(v uint32) { b = le.AppendUint32(b, v) }
	u64 := func(v uint64) { b = le.AppendUint64(b, v) }
	name := func(s string) { b = append(b, append([]byte(s), make([]byte, 16-len(s))...)...) }

	// mach_header_64
	u32(0xfeedfacf)
	u32(cpu)
	u32(3)       // subtype
	u32(2)       // MH_EXECUTE
	u32(1)       // ncmds
	u32(72 + 80) // sizeofcmds
	u32(0)       // flags
	u32(0)       // reserved

	// segment_command_64
	u32(0x19) // LC_SEGMENT_64
	u32(72 + 80)
	name("__TEXT")
	u64(0x100000000)
	u64(textOff + uint64(len(code)))
	u64(0)
	u64(textOff + uint64(len(code)))
	u32(5)
	u32(5)
	u32(1) // nsects
	u32(0)

	// section_64
	name("__text")
	name("__TEXT")
	u64(textAddr)
	u64(uint64(len(code)))
	u32(textOff)
	u32(0)          // align
	u32(0)          // reloff
	u32(0)          // nreloc
	u32(0x80000400) // S_ATTR_PURE_INSTRUCTIONS | S_ATTR_SOME_INSTRUCTIONS
	u32(0)
	u32(0)
	u32(0)

	b = append(b, make([]byte, textOff-len(b))...)
	return append(b, code...)
}

// fatMachO wraps thin images in a fat container, one page-aligned slice per
// image.
func fatMachO(cpus []uint32, images [][]byte) []byte {
	const align = 0x1000
	be := binary.BigEndian

	var b []byte
	b = be.AppendUint32(b, 0xcafebabe)
	b = be.AppendUint32(b, uint32(len(images)))
	offsets := make([]uint32, len(images))
	off := uint32(align)
	for i, img := range images {
		offsets[i] = off
		b = be.AppendUint32(b, cpus[i])
		b = be.AppendUint32(b, 3)
		b = be.AppendUint32(b, off)
		b = be.AppendUint32(b, uint32(len(img)))
		b = be.AppendUint32(b, 12) // 2^12
		off += (uint32(len(img)) + align - 1) &^ (align - 1)
	}
	for i, img := range images {
		b = append(b, make([]byte, int(offsets[i])-len(b))...)
		b = append(b, img...)
	}
	return b
}

func TestParseMachO(t *testing.T) {
	code := []byte{0xb0, 0x41, 0xee, 0xf4}
	img := thinMachO(cpuAmd64, code)
	if got := Detect(img); got != FormatMachO {
		t.Fatalf("Detect = %q, want macho", got)
	}
	got, err := Parse(img, FormatAuto)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(got, code) {
		t.Errorf("Parse = % x, want % x", got, code)
	}

	if _, err := Parse(thinMachO(cpuArm64, code), FormatMachO); !errors.Is(err, ErrWrongArch) {
		t.Errorf("Parse(arm64) = %v, want ErrWrongArch", err)
	}
}

func TestParseFatMachO(t *testing.T) {
	code := []byte{0x90, 0xf4}
	arm := thinMachO(cpuArm64, []byte{0x00, 0x00, 0x20, 0xd4})
	img := fatMachO([]uint32{cpuArm64, cpuAmd64}, [][]byte{arm, thinMachO(cpuAmd64, code)})

	if got := Detect(img); got != FormatMachO {
		t.Fatalf("Detect = %q, want macho", got)
	}
	got, err := Parse(img, FormatAuto)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !bytes.Equal(got, code) {
		t.Errorf("Parse = % x, want the x86-64 slice % x", got, code)
	}

	armOnly := fatMachO([]uint32{cpuArm64}, [][]byte{arm})
	if _, err := Parse(armOnly, FormatMachO); !errors.Is(err, ErrWrongArch) {
		t.Errorf("Parse(arm64-only fat) = %v, want ErrWrongArch", err)
	}
}

func TestParseCorruptImages(t *testing.T) {
	if _, err := Parse([]byte("\x7fELF garbage"), FormatELF); err == nil {
		t.Error("corrupt ELF parsed")
	}
	if _, err := Parse([]byte{0xcf, 0xfa, 0xed, 0xfe, 0x00}, FormatMachO); err == nil {
		t.Error("corrupt Mach-O parsed")
	}
}

func TestFromEntry(t *testing.T) {
	code := []byte{1, 2, 3, 4}
	tests := []struct {
		entry uint64
		want  []byte
	}{
		{0, code},
		{0x1000, code},
		{0x1002, []byte{3, 4}},
		{0x1004, code},
	}
	for _, tt := range tests {
		if got := fromEntry(code, 0x1000, tt.entry); !bytes.Equal(got, tt.want) {
			t.Errorf("fromEntry(0x%x) = %v, want %v", tt.entry, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.hex")
	if err := os.WriteFile(path, []byte("f4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, err := Load(path, FormatAuto)
	if err != nil || !bytes.Equal(code, []byte{0xf4}) {
		t.Errorf("Load = % x, %v", code, err)
	}
	if _, err := Load(filepath.Join(dir, "missing"), FormatRaw); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load(missing) = %v, want ErrNotExist", err)
	}
}

func TestBuiltins(t *testing.T) {
	hello, err := Builtin("hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(hello) != 26 || hello[len(hello)-1] != 0xf4 {
		t.Errorf("hello = % x", hello)
	}
	// The immediate holds the output in little-endian order.
	if !bytes.Equal(hello[2:10], []byte("ABCD123\n")) {
		t.Errorf("hello immediate = %q", hello[2:10])
	}

	hello[0] = 0
	again, _ := Builtin("hello")
	if again[0] != 0x48 {
		t.Error("Builtin returned shared storage")
	}

	if _, err := Builtin("nope"); err == nil {
		t.Error("Builtin(nope) succeeded")
	}

	names := BuiltinNames()
	if len(names) != 2 || names[0] != "halt" || names[1] != "hello" {
		t.Errorf("BuiltinNames = %v", names)
	}
	if progs := Builtins(); len(progs) != 2 || progs[1].Name != "hello" {
		t.Errorf("Builtins = %+v", progs)
	}
}
