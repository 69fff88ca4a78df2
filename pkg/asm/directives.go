package asm

import (
	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

func skipSpace(a *Assembler) { a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace)) }

func consumeLineEnd(a *Assembler) error {
	skipSpace(a)
	if !a.s.HasNext() {
		return nil
	}
	if a.s.IsNext(token.NewKindSet(token.WhitespaceNewline)) {
		_, err := a.s.Consume()
		return err
	}
	t := a.s.GetToken()
	return utils.MakeError(ErrUnexpectedTokenKind, "line %v: expected end of line, got %v %q", t.Line, t.Kind, t.Value)
}

// global NAME -- must appear outside any section.
func (a *Assembler) handleGlobal() error {
	t, _ := a.s.Consume()
	if a.curSection != SectionNone {
		return utils.MakeError(ErrMisplacedGlobal, "line %v: global", t.Line)
	}
	skipSpace(a)
	name, err := a.s.ConsumeKind(token.NewKindSet(token.Symbol))
	if err != nil {
		return err
	}
	a.obj.UpsertSymbol(name.Value, 0, belf.BindingGlobal, belf.NoSection)
	return consumeLineEnd(a)
}

// extern NAME -- must appear outside any section.
func (a *Assembler) handleExtern() error {
	t, _ := a.s.Consume()
	if a.curSection != SectionNone {
		return utils.MakeError(ErrMisplacedGlobal, "line %v: extern", t.Line)
	}
	skipSpace(a)
	name, err := a.s.ConsumeKind(token.NewKindSet(token.Symbol))
	if err != nil {
		return err
	}
	a.obj.UpsertSymbol(name.Value, 0, belf.BindingWeak, belf.NoSection)
	return consumeLineEnd(a)
}

// org expr -- advances the current section's cursor to an absolute value;
// moving backward is an error, and in .text the target must be 4-aligned.
func (a *Assembler) handleOrg() error {
	t, _ := a.s.Consume()
	if a.curSection == SectionNone {
		return utils.MakeError(ErrDirectiveOutsideAny, "line %v: org", t.Line)
	}
	val, err := a.parseExpression(0, 0xFFFFFF)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}

	switch a.curSection {
	case SectionBSS:
		if val < a.obj.BSSSize {
			return utils.MakeError(ErrBackwardsCursor, "line %v: org %v < %v", t.Line, val, a.obj.BSSSize)
		}
		a.obj.BSSSize = val
	case SectionData:
		if val < a.dataLen() {
			return utils.MakeError(ErrBackwardsCursor, "line %v: org %v < %v", t.Line, val, a.dataLen())
		}
		for a.dataLen() < val {
			a.obj.Data = append(a.obj.Data, 0)
		}
	case SectionText:
		if val < a.textLen() {
			return utils.MakeError(ErrBackwardsCursor, "line %v: org %v < %v", t.Line, val, a.textLen())
		}
		if val%4 != 0 {
			return utils.MakeError(ErrMisaligned, "line %v: org %v", t.Line, val)
		}
		for a.textLen() < val {
			a.obj.Text = append(a.obj.Text, 0)
		}
	}
	return nil
}

func (a *Assembler) handleScope() error {
	if _, err := a.s.Consume(); err != nil {
		return err
	}
	a.scopes = append(a.scopes, a.totalScopes)
	a.totalScopes++
	return consumeLineEnd(a)
}

func (a *Assembler) handleScend() error {
	t, _ := a.s.Consume()
	if len(a.scopes) == 0 {
		return utils.MakeError(ErrScendWithoutScope, "line %v", t.Line)
	}
	a.scopes = a.scopes[:len(a.scopes)-1]
	return consumeLineEnd(a)
}

// advance expr -- advances the cursor forward by expr bytes (4-multiple in text).
func (a *Assembler) handleAdvance() error {
	t, _ := a.s.Consume()
	if a.curSection == SectionNone {
		return utils.MakeError(ErrDirectiveOutsideAny, "line %v: advance", t.Line)
	}
	val, err := a.parseExpression(0, 0xFFFFFF)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}

	switch a.curSection {
	case SectionBSS:
		a.obj.BSSSize += val
	case SectionData:
		for i := uint32(0); i < val; i++ {
			a.obj.Data = append(a.obj.Data, 0)
		}
	case SectionText:
		if val%4 != 0 {
			return utils.MakeError(ErrMisaligned, "line %v: advance %v", t.Line, val)
		}
		for i := uint32(0); i < val; i += 4 {
			a.obj.Text = append(a.obj.Text, 0)
		}
	}
	return nil
}

// align expr -- pads forward to the next multiple of expr (4-multiple in text).
func (a *Assembler) handleAlign() error {
	t, _ := a.s.Consume()
	if a.curSection == SectionNone {
		return utils.MakeError(ErrDirectiveOutsideAny, "line %v: align", t.Line)
	}
	val, err := a.parseExpression(1, 0xFFFF)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	if val == 0 {
		return nil
	}

	switch a.curSection {
	case SectionBSS:
		a.obj.BSSSize += (val - a.obj.BSSSize%val) % val
	case SectionData:
		for a.dataLen()%val != 0 {
			a.obj.Data = append(a.obj.Data, 0)
		}
	case SectionText:
		if val%4 != 0 {
			return utils.MakeError(ErrMisaligned, "line %v: align %v", t.Line, val)
		}
		for a.textLen()%val != 0 {
			a.obj.Text = append(a.obj.Text, 0)
		}
	}
	return nil
}

// section "name" -- not implemented.
func (a *Assembler) handleSection() error {
	t, _ := a.s.Consume()
	skipSpace(a)
	if _, err := a.s.ConsumeKind(token.NewKindSet(token.LiteralString)); err != nil {
		return err
	}
	return utils.MakeError(ErrSectionNotImplemented, "line %v", t.Line)
}

func (a *Assembler) selectSection(sec Section) error {
	if _, err := a.s.Consume(); err != nil {
		return err
	}
	a.curSection = sec
	switch sec {
	case SectionText:
		a.curSectionIndex = objSectionText
	case SectionData:
		a.curSectionIndex = objSectionData
	case SectionBSS:
		a.curSectionIndex = objSectionBSS
	}
	return consumeLineEnd(a)
}

// stop -- jumps the cursor to end-of-stream, ending assembly early.
func (a *Assembler) handleStop() error {
	if _, err := a.s.Consume(); err != nil {
		return err
	}
	st := a.s.GetState()
	st.Toki = len(a.s.Tokens())
	a.s.SetState(st)
	return nil
}

func (a *Assembler) handleDataDirective(width int) error {
	t, _ := a.s.Consume()
	if a.curSection != SectionData {
		return utils.MakeError(ErrDataOutsideData, "line %v: data directive outside .data", t.Line)
	}
	values, err := a.parseArguments()
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	for _, v := range values {
		for i := 0; i < width; i++ {
			a.obj.Data = append(a.obj.Data, byte(v))
			v >>= 8
		}
	}
	return nil
}

// char c[,c...] -- each operand is a single-quoted literal char.
func (a *Assembler) handleChar() error {
	t, _ := a.s.Consume()
	if a.curSection != SectionData {
		return utils.MakeError(ErrDataOutsideData, "line %v: char outside data section", t.Line)
	}
	for {
		skipSpace(a)
		lit, err := a.s.ConsumeKind(token.NewKindSet(token.LiteralChar))
		if err != nil {
			return err
		}
		a.obj.Data = append(a.obj.Data, lit.Value[1])
		skipSpace(a)
		if a.s.IsNext(token.NewKindSet(token.Comma)) {
			if _, err := a.s.Consume(); err != nil {
				return err
			}
			continue
		}
		break
	}
	return consumeLineEnd(a)
}

// ascii "s"[,...] / asciz "s"[,...]
func (a *Assembler) handleAscii(nulTerminated bool) error {
	t, _ := a.s.Consume()
	if a.curSection != SectionData {
		return utils.MakeError(ErrDataOutsideData, "line %v: ascii/asciz outside data section", t.Line)
	}
	for {
		skipSpace(a)
		lit, err := a.s.ConsumeKind(token.NewKindSet(token.LiteralString))
		if err != nil {
			return err
		}
		inner := lit.Value[1 : len(lit.Value)-1]
		a.obj.Data = append(a.obj.Data, []byte(inner)...)
		if nulTerminated {
			a.obj.Data = append(a.obj.Data, 0)
		}
		skipSpace(a)
		if a.s.IsNext(token.NewKindSet(token.Comma)) {
			if _, err := a.s.Consume(); err != nil {
				return err
			}
			continue
		}
		break
	}
	return consumeLineEnd(a)
}
