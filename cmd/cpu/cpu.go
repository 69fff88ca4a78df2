// Package cpu implements the "cpu" command group: running and disassembling
// EMU32 programs, the thin debug surface the expanded spec keeps (no
// interactive stepping/breakpoint TUI — see this repo's DESIGN.md).
package cpu

import (
	"github.com/spf13/cobra"
)

// CpuCmd groups the emulator-facing subcommands (exec, dump) under the
// build driver's root command.
var CpuCmd = &cobra.Command{
	Use:   "cpu",
	Short: "Run or inspect compiled EMU32 programs",
}
