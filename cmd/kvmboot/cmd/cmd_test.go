package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDisasmBuiltin(t *testing.T) {
	out, err := execute(t, "", "disasm", "--builtin", "hello")
	if err != nil {
		t.Fatalf("disasm: %v", err)
	}
	for _, want := range []string{"mov", "out dx, al", "loop", "hlt"} {
		if !strings.Contains(out, want) {
			t.Errorf("disasm output missing %q:\n%s", want, out)
		}
	}
}

func TestDisasmStdinHex(t *testing.T) {
	out, err := execute(t, "90 f4\n", "disasm", "--builtin=", "--format", "hex", "--base", "0x1000")
	if err != nil {
		t.Fatalf("disasm: %v", err)
	}
	if !strings.HasPrefix(out, "0x00001000: 90") || !strings.Contains(out, "0x00001001: f4") {
		t.Errorf("disasm output:\n%s", out)
	}
}

func TestBuiltinsList(t *testing.T) {
	out, err := execute(t, "", "builtins")
	if err != nil {
		t.Fatalf("builtins: %v", err)
	}
	if !strings.Contains(out, "hello") || !strings.Contains(out, "halt") {
		t.Errorf("builtins output:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "kvmboot ") {
		t.Errorf("version output = %q", out)
	}
}

func TestRunRejectsFileAndBuiltin(t *testing.T) {
	_, err := execute(t, "", "run", "--builtin", "halt", "prog.bin")
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Errorf("run = %v, want mutually exclusive error", err)
	}
}

func TestRunUnknownFormat(t *testing.T) {
	_, err := execute(t, "", "run", "--builtin=", "--format", "pe", "prog.bin")
	if err == nil || !strings.Contains(err.Error(), "unknown format") {
		t.Errorf("run = %v, want unknown format error", err)
	}
}
