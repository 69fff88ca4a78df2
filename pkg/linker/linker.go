// Package linker implements the link step: it concatenates per-section
// payloads from a set of relocatable BELF objects, merges their symbol
// tables with scope-safe renaming, applies a linker-script-driven section
// placement, and resolves (or defers to the loader) the relocations each
// input recorded.
package linker

import (
	"errors"
	"strconv"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/utils"
)

var (
	ErrScriptParse      = errors.New("linker: malformed linker script")
	ErrUndefinedSymbol  = errors.New("linker: symbol definition not found")
	ErrMisalignedBranch = errors.New("linker: branch relocation target is not 4-byte aligned")
	ErrDuplicateSymbol  = errors.New("linker: multiple definition of symbol")
)

// Result is what Link returns in addition to the merged executable object:
// the resolved entry symbol's address, for the caller (the loader) to use
// as the initial program counter.
type Result struct {
	Object      *belf.ObjectFile
	EntryName   string
	EntryValue  uint32
}

// Link merges objs, in declaration order, into a single executable BELF
// object per script's section placement. objs is never mutated; each
// input's symbol table is read only (the per-input name->output-index
// bookkeeping the reference linker keeps by mutating the input's own symbol
// table is instead kept in a local side table here).
func Link(objs []*belf.ObjectFile, script *Script) (*Result, error) {
	out := belf.New(belf.FileTypeExecutable)

	for _, obj := range objs {
		out.Text = append(out.Text, obj.Text...)
	}
	for _, obj := range objs {
		out.Data = append(out.Data, obj.Data...)
	}
	for _, obj := range objs {
		out.BSSSize += obj.BSSSize
	}

	// Section sizes are now known, so placement (which bases its packing
	// cursor on them) runs after concatenation.
	offsets := placeSections(out, script)

	// exeIndex[i] maps obj[i]'s local NameIdx (= Symbols map key) to the
	// merged output's NameIdx, for the relocation pass below.
	exeIndex := make([]map[int]int, len(objs))

	var textRun, dataRun, bssRun uint32
	for i, obj := range objs {
		exeIndex[i] = make(map[int]int, len(obj.Symbols))

		for nameIdx, sym := range obj.Symbols {
			name := obj.Strings[nameIdx]
			if sym.Binding == belf.BindingLocal {
				name = name + ":LOCAL:" + strconv.Itoa(i)
			}

			val := sym.Value
			switch sym.Section {
			case objSectionText:
				val += offsets.text + textRun
			case objSectionData:
				val += offsets.data + dataRun
			case objSectionBSS:
				val += offsets.bss + bssRun
			}

			merged, err := mergeSymbol(out, name, val, sym.Binding, sym.Section)
			if err != nil {
				return nil, err
			}
			exeIndex[i][nameIdx] = merged.NameIdx
		}

		textRun += uint32(len(obj.Text) * 4)
		dataRun += uint32(len(obj.Data))
		bssRun += obj.BSSSize
	}

	textRun = 0
	for i, obj := range objs {
		for _, rel := range obj.RelText {
			exeSymIdx, ok := exeIndex[i][rel.Symbol]
			if !ok {
				return nil, utils.MakeError(ErrUndefinedSymbol, "input %v: relocation references unknown local symbol", i)
			}
			exeSym := out.Symbols[exeSymIdx]
			if exeSym.Binding == belf.BindingWeak {
				return nil, utils.MakeError(ErrUndefinedSymbol, "input %v: %q", i, out.Strings[exeSymIdx])
			}

			instrIndex := (offsets.text + textRun + rel.Offset) / 4

			if rel.Type == belf.RelocBOffset22 {
				if exeSym.Value%4 != 0 {
					return nil, utils.MakeError(ErrMisalignedBranch, "target 0x%x for %q", exeSym.Value, out.Strings[exeSymIdx])
				}
				targetWord := int32(exeSym.Value/4) - int32(instrIndex)
				word := out.Text[instrIndex]
				out.Text[instrIndex] = patchBOffset22(word, targetWord)
				continue
			}

			out.RelText = append(out.RelText, belf.Relocation{
				Offset: offsets.text + textRun + rel.Offset,
				Symbol: exeSymIdx,
				Type:   rel.Type,
				Shift:  rel.Shift,
			})
		}
		textRun += uint32(len(obj.Text) * 4)
	}

	result := &Result{Object: out, EntryName: script.Entry}
	if script.Entry != "" {
		sym, _, ok := out.Symbol(script.Entry)
		if !ok || sym.Binding == belf.BindingWeak {
			return nil, utils.MakeError(ErrUndefinedSymbol, "entry symbol %q", script.Entry)
		}
		result.EntryValue = sym.Value
	}
	return result, nil
}

// mergeSymbol adds name to out's symbol table via UpsertSymbol, first
// checking for the one case UpsertSymbol itself stays silent about: two
// inputs that both define the same (non-local) symbol. Locals never reach
// this conflict since each input's locals are uniquely ":LOCAL:<i>" mangled
// before this is called.
func mergeSymbol(out *belf.ObjectFile, name string, value uint32, binding belf.Binding, section int) (*belf.Symbol, error) {
	if existing, _, ok := out.Symbol(name); ok && existing.Section != belf.NoSection && section != belf.NoSection {
		return nil, utils.MakeError(ErrDuplicateSymbol, "%q", name)
	}
	return out.UpsertSymbol(name, value, binding, section), nil
}

// Fixed raw Symbol.Section codes, matching the assembler's convention
// (pkg/asm's objSectionText/Data/BSS): the section table itself is never
// populated by the assembler, so these are plain section-kind tags rather
// than indices into an actual Sections slice.
const (
	objSectionText = 0
	objSectionData = 1
	objSectionBSS  = 2
)

type sectionOffsets struct {
	text, data, bss uint32
}

// placeSections applies script's placement to out.Sections (consumed by
// belf.Write's applyPlacement) and returns the base address chosen for each
// of .text/.data/.bss — either the explicit address from the script or the
// running cursor, packed consecutively in the order sections are listed.
func placeSections(out *belf.ObjectFile, script *Script) sectionOffsets {
	var offsets sectionOffsets
	var cursor uint32

	for _, placement := range script.Placements {
		addr := cursor
		if placement.HasAddress {
			addr = placement.Address
		}

		var size uint32
		switch placement.Type {
		case belf.SectionText:
			offsets.text = addr
			size = uint32(len(out.Text) * 4)
		case belf.SectionData:
			offsets.data = addr
			size = uint32(len(out.Data))
		case belf.SectionBSS:
			offsets.bss = addr
			size = out.BSSSize
		}

		out.Sections = append(out.Sections, belf.Section{
			Type:           placement.Type,
			Address:        addr,
			LoadAtPhysical: placement.Physical,
		})
		cursor = addr + size
	}
	return offsets
}

// patchBOffset22 rewrites a Format B1 word's 22-bit immediate field (bits
// 10-31) with a new sign-extended word-offset immediate, leaving the opcode
// and condition fields (bits 0-9) untouched. Mirrors pkg/asm's relocate.go
// helper of the same name; duplicated rather than exported across packages
// since it is a one-line bit-twiddle tied to the instruction encoding, not
// shared assembler/linker state.
func patchBOffset22(word uint32, offset int32) uint32 {
	const bit, width = 10, 22
	mask := uint32(1)<<width - 1
	return (word &^ (mask << bit)) | ((uint32(offset) & mask) << bit)
}
