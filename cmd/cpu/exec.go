package cpu

import (
	"fmt"
	"os"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/vm/bus"
	"github.com/emu32dev/emu32/pkg/vm/emulator"
	"github.com/emu32dev/emu32/pkg/vm/memory"
	"github.com/emu32dev/emu32/pkg/vm/mmu"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// entryPointSymbol is the global symbol cpu exec looks up as the program's
// first instruction. A linked .bexe does not serialize the linker's own
// resolved entry address (pkg/linker's Result.EntryValue lives only on the
// in-memory Linker, matching the reference linker's m_entry_symbol), so a
// standalone loader re-derives it from the symbol table instead, which is
// serialized.
const entryPointSymbol = "_start"

var (
	execMemoryPages uint32
	execMaxSteps    int
	execVerbose     bool
)

var execCmd = &cobra.Command{
	Use:   "exec <file.bexe>",
	Short: "Load and run a linked EMU32 executable",
	Long: `Loads a .bexe executable built by the build driver's link step and runs
it on the software emulator until it halts, runs out of steps, or traps.

No virtual memory process is set up: addresses pass through the MMU
identity-mapped, so the executable's sections are placed directly at the
physical addresses the linker script chose for them.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

func init() {
	CpuCmd.AddCommand(execCmd)
	execCmd.Flags().Uint32VarP(&execMemoryPages, "pages", "m", 256, "RAM size in 4KB pages")
	execCmd.Flags().IntVarP(&execMaxSteps, "max-steps", "n", 0, "maximum instructions to execute (0 = unlimited)")
	execCmd.Flags().BoolVarP(&execVerbose, "verbose", "v", false, "print register state on exit")
}

func runExec(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cpu exec: %w", err)
	}

	obj, err := belf.Read(raw)
	if err != nil {
		return fmt.Errorf("cpu exec: %s: %w", path, err)
	}

	ram := memory.NewRAM(0, execMemoryPages)
	b := bus.New(mmu.New(0, execMemoryPages-1, nil), nil, ram)

	entry, err := loadExecutable(b, obj)
	if err != nil {
		return fmt.Errorf("cpu exec: %s: %w", path, err)
	}

	e := emulator.New(b, os.Stdout)
	e.SetPC(entry)

	if err := e.Run(execMaxSteps); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("trap: ")+err.Error())
		if execVerbose {
			printRegisters(e)
		}
		return err
	}

	if execVerbose {
		printRegisters(e)
	}
	return nil
}

// loadExecutable copies obj's text/data payload into b at the addresses the
// linker assigned each section, and resolves the entry point by name. An
// object with no recorded section placement (e.g. one read straight from
// a relocatable .bo rather than a linked .bexe) is placed at address 0, the
// same default the linker's own DefaultScript would have chosen.
func loadExecutable(b *bus.Bus, obj *belf.ObjectFile) (uint32, error) {
	textBase, dataBase := sectionBase(obj, belf.SectionText), sectionBase(obj, belf.SectionData)

	for i, word := range obj.Text {
		if err := b.WriteWord(textBase+uint32(i*4), word); err != nil {
			return 0, err
		}
	}
	for i, v := range obj.Data {
		if err := b.WriteByte(dataBase+uint32(i), v); err != nil {
			return 0, err
		}
	}

	if sym, _, ok := obj.Symbol(entryPointSymbol); ok {
		return sym.Value, nil
	}
	return textBase, nil
}

func sectionBase(obj *belf.ObjectFile, typ belf.SectionType) uint32 {
	for _, s := range obj.Sections {
		if s.Type == typ {
			return s.Address
		}
	}
	return 0
}

func printRegisters(e *emulator.Emulator) {
	for i := 0; i < 10; i++ {
		fmt.Fprintf(os.Stderr, "  x%d = %d (0x%08X)\n", i, e.X(i), e.X(i))
	}
	fmt.Fprintf(os.Stderr, "  pc = 0x%08X\n", e.PC())
	fmt.Fprintf(os.Stderr, "  pstate = 0x%02X\n", e.PState())
}
