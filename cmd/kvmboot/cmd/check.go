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
	"fmt"

	kvm "github.com/blacktop/go-kvm"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check KVM support, API version and required capabilities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ok := color.New(color.FgGreen).SprintFunc()
		bad := color.New(color.FgRed).SprintFunc()
		out := cmd.OutOrStdout()

		supported, err := kvm.Supported()
		switch {
		case err != nil:
			fmt.Fprintf(out, "kvm support: %s (%v)\n", bad("error"), err)
		case supported:
			fmt.Fprintf(out, "kvm support: %s\n", ok("yes"))
		default:
			fmt.Fprintf(out, "kvm support: %s\n", bad("no"))
		}

		sys, err := kvm.Open(cfg.Device)
		if err != nil {
			fmt.Fprintf(out, "device:      %s %s\n", cfg.Device, bad("unusable"))
			return err
		}
		defer sys.Close()
		fmt.Fprintf(out, "device:      %s %s\n", sys.Path(), ok("ok"))
		fmt.Fprintf(out, "api version: %d\n", kvm.APIVersion)

		for _, c := range kvm.RequiredCapabilities {
			n, err := sys.CheckExtension(c)
			switch {
			case err != nil:
				fmt.Fprintf(out, "  %-24s %s (%v)\n", c, bad("error"), err)
			case n > 0:
				fmt.Fprintf(out, "  %-24s %s\n", c, ok("yes"))
			default:
				fmt.Fprintf(out, "  %-24s %s\n", c, bad("no"))
			}
		}

		size, err := sys.VCPUMmapSize()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "vcpu mmap:   %d bytes\n", size)
		return nil
	},
}
