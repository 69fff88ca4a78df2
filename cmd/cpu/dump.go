package cpu

import (
	"fmt"
	"os"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/isa"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	dumpAddr      = color.New(color.FgCyan)
	dumpHex       = color.New(color.FgMagenta)
	dumpOpcode    = color.New(color.FgYellow, color.Bold)
	dumpSymHeader = color.New(color.FgWhite, color.Bold, color.Underline)
	dumpSymName   = color.New(color.FgHiGreen)
)

var dumpSymbols bool

var dumpCmd = &cobra.Command{
	Use:   "dump <file.bo|file.bexe>",
	Short: "Disassemble a BELF object's text section",
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	CpuCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpSymbols, "symbols", false, "also print the symbol table")
}

func runDump(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cpu dump: %w", err)
	}

	obj, err := belf.Read(raw)
	if err != nil {
		return fmt.Errorf("cpu dump: %s: %w", path, err)
	}

	base := sectionBase(obj, belf.SectionText)
	for i, word := range obj.Text {
		addr := base + uint32(i*4)
		op, fields, err := isa.Decode(word)
		if err != nil {
			fmt.Printf("%s: %s  %s\n", dumpAddr.Sprintf("0x%08X", addr), dumpHex.Sprintf("%08X", word), color.RedString("<invalid>"))
			continue
		}
		mnemonic := isa.String(op, fields)
		fmt.Printf("%s: %s  %s\n", dumpAddr.Sprintf("0x%08X", addr), dumpHex.Sprintf("%08X", word), dumpOpcode.Sprint(mnemonic))
	}

	if dumpSymbols {
		printSymbolTable(obj)
	}
	return nil
}

func printSymbolTable(obj *belf.ObjectFile) {
	fmt.Println()
	dumpSymHeader.Println("Symbols")
	for nameIdx, sym := range obj.Symbols {
		name := obj.Strings[nameIdx]
		fmt.Printf("  %s = %s  [%s]\n", dumpSymName.Sprint(name), dumpAddr.Sprintf("0x%08X", sym.Value), sym.Binding)
	}
}
