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
	"github.com/blacktop/go-kvm/internal/config"
	"github.com/blacktop/go-kvm/internal/disasm"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(disasmCmd)
	addProgramFlags(disasmCmd)
	disasmCmd.Flags().String("base", "0", "address of the first byte")
}

var disasmCmd = &cobra.Command{
	Use:     "disasm [FILE]",
	Aliases: []string{"dis"},
	Short:   "Disassemble a program as the guest would see it",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := readProgram(cmd, args)
		if err != nil {
			return err
		}
		b, err := cmd.Flags().GetString("base")
		if err != nil {
			return err
		}
		base, err := config.ParseSize(b)
		if err != nil {
			return err
		}
		return disasm.Fprint(cmd.OutOrStdout(), disasm.Decode(code, base))
	},
}
