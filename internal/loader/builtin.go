package loader

import (
	"fmt"
	"slices"
	"strings"
)

// Program is a built-in guest program.
type Program struct {
	Name        string
	Description string
	Code        []byte
}

var builtins = map[string]Program{
	"hello": {
		Name:        "hello",
		Description: "writes ABCD123\\n to port 0x217 one byte at a time, then halts",
		Code: []byte{
			// mov rax, 0x0a33323144434241
			0x48, 0xb8, 0x41, 0x42, 0x43, 0x44, 0x31, 0x32, 0x33, 0x0a,
			// push 8; pop rcx
			0x6a, 0x08, 0x59,
			// mov edx, 0x217
			0xba, 0x17, 0x02, 0x00, 0x00,
			// 1: out dx, al; shr rax, 8; loop 1b
			0xee, 0x48, 0xc1, 0xe8, 0x08, 0xe2, 0xf9,
			// hlt
			0xf4,
		},
	},
	"halt": {
		Name:        "halt",
		Description: "halts immediately",
		Code:        []byte{0xf4},
	},
}

// Builtin returns a copy of the named program's code.
func Builtin(name string) ([]byte, error) {
	p, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("loader: unknown builtin %q (want one of %s)", name, strings.Join(BuiltinNames(), ", "))
	}
	return slices.Clone(p.Code), nil
}

// Builtins returns every built-in program sorted by name.
func Builtins() []Program {
	out := make([]Program, 0, len(builtins))
	for _, name := range BuiltinNames() {
		out = append(out, builtins[name])
	}
	return out
}

// BuiltinNames returns the sorted built-in program names.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
