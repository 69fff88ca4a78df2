// Package belf implements BELF (Binary Emulator Linkable Format), the
// relocatable/executable object file container produced by the assembler
// and consumed by the linker and loader.
package belf

import (
	"errors"

	"github.com/emu32dev/emu32/pkg/utils"
)

// FileType distinguishes a relocatable object from a linked executable.
type FileType uint16

const (
	FileTypeRelocatable FileType = iota
	FileTypeExecutable
)

// Binding is a symbol's linkage visibility.
type Binding uint16

const (
	BindingLocal Binding = iota
	BindingGlobal
	BindingWeak
)

func (b Binding) String() string {
	switch b {
	case BindingLocal:
		return "LOCAL"
	case BindingGlobal:
		return "GLOBAL"
	case BindingWeak:
		return "WEAK"
	default:
		return "?"
	}
}

// SectionType identifies the role of an entry in the section table.
type SectionType uint32

const (
	SectionText SectionType = iota
	SectionData
	SectionBSS
	SectionSymtab
	SectionRelText
	SectionRelData
	SectionRelBSS
	SectionStrtab
)

// RelocType identifies how a relocation patches its target location.
type RelocType uint32

const (
	RelocOLo12 RelocType = iota
	RelocAdrpHi20
	RelocMovLo19
	RelocMovHi13
	RelocBOffset22
)

func (t RelocType) String() string {
	switch t {
	case RelocOLo12:
		return "R_O_LO12"
	case RelocAdrpHi20:
		return "R_ADRP_HI20"
	case RelocMovLo19:
		return "R_MOV_LO19"
	case RelocMovHi13:
		return "R_MOV_HI13"
	case RelocBOffset22:
		return "R_B_OFFSET22"
	default:
		return "?"
	}
}

// NoSection is the section index used by symbols that do not belong to a
// section (globals/externs declared outside any section).
const NoSection = -1

// Symbol is a BELF symbol table entry.
type Symbol struct {
	NameIdx int
	Value   uint32
	Binding Binding
	Section int // index into Sections, or NoSection
}

// Relocation is a BELF relocation table entry. TokenIndex is assembler-only
// bookkeeping (the source-token back-reference used by fill_local) and is
// never serialized to disk.
type Relocation struct {
	Offset     uint32
	Symbol     int // key into ObjectFile.Symbols (a string-table index)
	Type       RelocType
	Shift      uint32
	TokenIndex int
}

// Section is a BELF section table entry.
type Section struct {
	NameIdx        int
	Type           SectionType
	Start          uint32
	Size           uint32
	EntrySize      uint32
	LoadAtPhysical bool
	Address        uint32
}

// ObjectFile is the in-memory representation of a BELF object, relocatable
// or executable.
type ObjectFile struct {
	FileType      FileType
	TargetMachine uint16
	Flags         uint16

	Text    []uint32 // .text, one 32-bit instruction word per entry
	Data    []byte   // .data, raw bytes
	BSSSize uint32   // .bss, zero-filled at load

	Symbols map[int]*Symbol // keyed by NameIdx (an index into Strings)

	RelText []Relocation
	RelData []Relocation
	RelBSS  []Relocation

	Strings     []string
	StringTable map[string]int

	Sections     []Section
	SectionTable map[string]int
}

// Sentinel errors for the invariants listed in the spec's data model.
var (
	ErrDuplicateString     = errors.New("belf: string already interned")
	ErrDuplicateSection    = errors.New("belf: section name already defined")
	ErrUnknownSymbol       = errors.New("belf: relocation references unknown symbol")
	ErrUnalignedTextReloc  = errors.New("belf: text relocation offset is not a multiple of 4")
	ErrMisalignedBranch    = errors.New("belf: R_EMU32_B_OFFSET22 target is not 4-byte aligned")
	ErrUnknownSection      = errors.New("belf: symbol references unknown section index")
)

// New creates an empty ObjectFile of the given type.
func New(fileType FileType) *ObjectFile {
	return &ObjectFile{
		FileType:     fileType,
		Symbols:      make(map[int]*Symbol),
		StringTable:  make(map[string]int),
		SectionTable: make(map[string]int),
	}
}

// AddString interns a new string, erroring if it is already present — per
// invariant (f), callers are expected to check with HasString first (the
// assembler and linker do, via InternString below).
func (o *ObjectFile) AddString(s string) (int, error) {
	if _, ok := o.StringTable[s]; ok {
		return 0, utils.MakeError(ErrDuplicateString, "'%v'", s)
	}
	idx := len(o.Strings)
	o.Strings = append(o.Strings, s)
	o.StringTable[s] = idx
	return idx, nil
}

// HasString reports whether s is already interned.
func (o *ObjectFile) HasString(s string) (int, bool) {
	idx, ok := o.StringTable[s]
	return idx, ok
}

// InternString returns the index of s, interning it if necessary. This is
// the convenience entry point assembler/linker code uses instead of the
// strict AddString.
func (o *ObjectFile) InternString(s string) int {
	if idx, ok := o.StringTable[s]; ok {
		return idx
	}
	idx, _ := o.AddString(s)
	return idx
}

// AddSection adds a new section, erroring on a duplicate name per invariant (f).
func (o *ObjectFile) AddSection(name string, typ SectionType) (int, error) {
	if _, ok := o.SectionTable[name]; ok {
		return 0, utils.MakeError(ErrDuplicateSection, "'%v'", name)
	}
	nameIdx := o.InternString(name)
	idx := len(o.Sections)
	o.Sections = append(o.Sections, Section{NameIdx: nameIdx, Type: typ})
	o.SectionTable[name] = idx
	return idx, nil
}

// Symbol looks up a symbol by name, returning its name index and entry.
func (o *ObjectFile) Symbol(name string) (*Symbol, int, bool) {
	idx, ok := o.StringTable[name]
	if !ok {
		return nil, 0, false
	}
	sym, ok := o.Symbols[idx]
	return sym, idx, ok
}

// UpsertSymbol adds a new symbol, or merges into an existing one of the same
// name: an undefined (NoSection) entry adopts the new value/section, an
// already-defined entry keeps its own (callers that care about a genuine
// redefinition conflict, like the linker merging multiple inputs, check for
// it themselves before calling this); binding is only ever promoted
// (WEAK -> LOCAL -> GLOBAL), never downgraded by a later weaker reference —
// this is what lets a forward ".extern"/".global" declaration and the
// eventual label definition (or, at link time, another object's definition)
// combine into one coherent entry regardless of which is seen first.
func (o *ObjectFile) UpsertSymbol(name string, value uint32, binding Binding, section int) *Symbol {
	nameIdx := o.InternString(name)
	sym, ok := o.Symbols[nameIdx]
	if !ok {
		sym = &Symbol{NameIdx: nameIdx, Value: value, Binding: binding, Section: section}
		o.Symbols[nameIdx] = sym
		return sym
	}

	if sym.Section == NoSection && section != NoSection {
		sym.Value = value
		sym.Section = section
	}
	if binding == BindingGlobal || (binding == BindingLocal && sym.Binding == BindingWeak) {
		sym.Binding = binding
	}
	return sym
}

// CheckInvariants validates the cross-table invariants from the spec's data
// model: every relocation's symbol is a live symbol-table key, every text
// relocation offset is 4-aligned, and the section table agrees with the
// string table. It does not check alignment of resolved branch targets —
// that is the responsibility of whoever resolves the relocation (fill_local
// or the linker), since it depends on the resolved symbol's value.
func (o *ObjectFile) CheckInvariants() error {
	for name, idx := range o.SectionTable {
		if idx < 0 || idx >= len(o.Sections) {
			return utils.MakeError(ErrUnknownSection, "section table entry '%v' -> %v out of range", name, idx)
		}
		if o.Strings[o.Sections[idx].NameIdx] != name {
			return utils.MakeError(ErrUnknownSection, "section table entry '%v' does not match section name '%v'", name, o.Strings[o.Sections[idx].NameIdx])
		}
	}
	for _, relList := range [][]Relocation{o.RelText} {
		for _, rel := range relList {
			if rel.Offset%4 != 0 {
				return utils.MakeError(ErrUnalignedTextReloc, "offset 0x%x", rel.Offset)
			}
			if _, ok := o.Symbols[rel.Symbol]; !ok {
				return utils.MakeError(ErrUnknownSymbol, "symbol idx %v", rel.Symbol)
			}
		}
	}
	for _, relList := range [][]Relocation{o.RelData, o.RelBSS} {
		for _, rel := range relList {
			if _, ok := o.Symbols[rel.Symbol]; !ok {
				return utils.MakeError(ErrUnknownSymbol, "symbol idx %v", rel.Symbol)
			}
		}
	}
	return nil
}
