// Package asm implements the two-pass assembler: it consumes a preprocessed
// token stream and emits a relocatable BELF object file. The single
// left-to-right pass interleaves structural emission (sizing text/data/bss
// and the symbol table) with relocation recording; a follow-up fillLocal
// pass resolves whatever relocations turn out to be local, the same split
// the reference assembler uses between its main token-walk and fill_local.
package asm

import (
	"errors"
	"strconv"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// Section identifies which of the three output sections the assembler's
// cursor currently sits in.
type Section int

const (
	SectionNone Section = iota
	SectionText
	SectionData
	SectionBSS
)

// Fixed section indices a LOCAL symbol's Symbol.Section field is stamped
// with, matching the reference assembler's add_symbol(..., 0|1|2) calls.
const (
	objSectionText = 0
	objSectionData = 1
	objSectionBSS  = 2
)

var (
	ErrLabelOutsideSection   = errors.New("asm: label definition outside any section")
	ErrCodeOutsideText       = errors.New("asm: instruction outside .text section")
	ErrDataOutsideData       = errors.New("asm: data directive outside .data section")
	ErrDirectiveOutsideAny   = errors.New("asm: directive requires being inside a section")
	ErrMisplacedGlobal       = errors.New("asm: global/extern must appear outside any section")
	ErrBackwardsCursor       = errors.New("asm: cursor cannot move backwards")
	ErrMisaligned            = errors.New("asm: value is not a multiple of 4 in .text")
	ErrScendWithoutScope     = errors.New("asm: scend without a matching scope")
	ErrUnexpectedTokenKind   = errors.New("asm: unexpected token")
	ErrSectionNotImplemented = errors.New("asm: section directive is not implemented")
)

// Warning is a non-fatal diagnostic recorded during assembly (e.g. an
// expression value clamped to its declared range).
type Warning struct {
	Line    int
	Message string
}

// Assembler holds the mutable state threaded through a single assembly run.
type Assembler struct {
	obj *belf.ObjectFile
	s   *token.Stream

	curSection      Section
	curSectionIndex int

	scopes      []int
	totalScopes int

	warnings []Warning
}

// New creates an assembler over a fully preprocessed token stream.
func New(s *token.Stream) *Assembler {
	return &Assembler{
		obj: belf.New(belf.FileTypeRelocatable),
		s:   s,
	}
}

// Warnings returns every warning recorded during Assemble.
func (a *Assembler) Warnings() []Warning { return a.warnings }

func (a *Assembler) warn(line int, format string, args ...any) {
	a.warnings = append(a.warnings, Warning{Line: line, Message: utils.MakeError(errors.New("warning"), format, args...).Error()})
}

// Assemble drives the full two-phase pipeline: a left-to-right structural
// pass over the token stream, followed by fillLocal to resolve the
// relocations it can resolve without the linker.
func (a *Assembler) Assemble() (*belf.ObjectFile, error) {
	for a.s.HasNext() {
		if err := a.step(); err != nil {
			return nil, err
		}
	}

	a.fillLocal()
	return a.obj, nil
}

// step dispatches a single top-level token: a label, an instruction mnemonic,
// or an assembler directive. Whitespace and comments are consumed silently.
func (a *Assembler) step() error {
	t := a.s.GetToken()
	if t == nil {
		return nil
	}

	switch {
	case t.Is(token.Whitespaces) || t.Is(token.Comments):
		_, err := a.s.Consume()
		return err

	case t.Kind == token.Label:
		return a.handleLabel()

	case t.Kind == token.Instruction:
		return a.handleInstruction()

	case token.AssemblerDirectives.Has(t.Kind):
		return a.dispatchDirective(t.Kind)

	default:
		tok, _ := a.s.Consume()
		return utils.MakeError(ErrUnexpectedTokenKind, "line %v: %v %q", tok.Line, tok.Kind, tok.Value)
	}
}

func (a *Assembler) dispatchDirective(kind token.Kind) error {
	switch kind {
	case token.AsmGlobal:
		return a.handleGlobal()
	case token.AsmExtern:
		return a.handleExtern()
	case token.AsmOrg:
		return a.handleOrg()
	case token.AsmScope:
		return a.handleScope()
	case token.AsmScend:
		return a.handleScend()
	case token.AsmAdvance:
		return a.handleAdvance()
	case token.AsmAlign:
		return a.handleAlign()
	case token.AsmSection:
		return a.handleSection()
	case token.AsmText:
		return a.selectSection(SectionText)
	case token.AsmData:
		return a.selectSection(SectionData)
	case token.AsmBSS:
		return a.selectSection(SectionBSS)
	case token.AsmStop:
		return a.handleStop()
	case token.AsmByte, token.AsmSByte:
		return a.handleDataDirective(1)
	case token.AsmDByte, token.AsmSDByte:
		return a.handleDataDirective(2)
	case token.AsmWord, token.AsmSWord:
		return a.handleDataDirective(4)
	case token.AsmDWord, token.AsmSDWord:
		return a.handleDataDirective(8)
	case token.AsmChar:
		return a.handleChar()
	case token.AsmAscii:
		return a.handleAscii(false)
	case token.AsmAsciz:
		return a.handleAscii(true)
	default:
		return utils.MakeError(ErrUnexpectedTokenKind, "unhandled directive %v", kind)
	}
}

// textLen returns the current .text cursor in bytes.
func (a *Assembler) textLen() uint32 { return uint32(len(a.obj.Text) * 4) }

// dataLen returns the current .data cursor in bytes.
func (a *Assembler) dataLen() uint32 { return uint32(len(a.obj.Data)) }

// mangledLabel appends the innermost scope suffix, matching the reference
// assembler's "<name>::SCOPE:<n>" convention for labels defined inside a
// scope block.
func (a *Assembler) mangledLabel(name string) string {
	if len(a.scopes) == 0 {
		return name
	}
	return name + "::SCOPE:" + strconv.Itoa(a.scopes[len(a.scopes)-1])
}

// symbolIndex returns the string-table index for a (possibly not yet
// defined) symbol name, creating a WEAK placeholder entry the first time
// it is referenced — the same "forward reference creates a weak stub"
// behavior as the reference assembler's add_symbol, which never disturbs
// an already-recorded definition.
func (a *Assembler) symbolIndex(name string) int {
	if _, idx, ok := a.obj.Symbol(name); ok {
		return idx
	}
	sym := a.obj.UpsertSymbol(name, 0, belf.BindingWeak, belf.NoSection)
	return sym.NameIdx
}

func (a *Assembler) handleLabel() error {
	t, err := a.s.Consume()
	if err != nil {
		return err
	}
	if a.curSection == SectionNone {
		return utils.MakeError(ErrLabelOutsideSection, "line %v: %q", t.Line, t.Value)
	}

	name := t.Value[:len(t.Value)-1] // strip trailing ':'
	symbol := a.mangledLabel(name)

	switch a.curSection {
	case SectionText:
		a.obj.UpsertSymbol(symbol, a.textLen(), belf.BindingLocal, objSectionText)
	case SectionData:
		a.obj.UpsertSymbol(symbol, a.dataLen(), belf.BindingLocal, objSectionData)
	case SectionBSS:
		a.obj.UpsertSymbol(symbol, a.obj.BSSSize, belf.BindingLocal, objSectionBSS)
	}
	return nil
}
