package asm

import (
	"strings"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/isa"
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// handleInstruction encodes one instruction token (plus its optional
// condition suffix and operands) and appends the resulting word(s) to
// .text, recording any relocation the operands require.
func (a *Assembler) handleInstruction() error {
	t, err := a.s.Consume()
	if err != nil {
		return err
	}
	if a.curSection != SectionText {
		return utils.MakeError(ErrCodeOutsideText, "line %v: %q", t.Line, t.Value)
	}

	mnemonic := strings.ToLower(t.Value)

	if mnemonic == "ret" {
		return a.emitBranchRegister(isa.OpBX, isa.LR, t.Line)
	}

	op, sFlag, err := resolveOpcode(mnemonic)
	if err != nil {
		return utils.MakeError(err, "line %v", t.Line)
	}

	cond := isa.CondAL
	if a.s.IsNext(token.NewKindSet(token.Period)) {
		if _, err := a.s.Consume(); err != nil {
			return err
		}
		condTok, err := a.s.ConsumeKind(token.NewKindSet(token.Condition))
		if err != nil {
			return err
		}
		cond, err = isa.ParseCondition(condTok.Value)
		if err != nil {
			return err
		}
	}

	switch op.FormatOf() {
	case isa.FormatNone:
		return a.emitPlain(op)
	case isa.FormatO:
		return a.emitFormatO(op, sFlag, isCompare(op))
	case isa.FormatO1:
		return a.emitFormatO1(op)
	case isa.FormatO2:
		return a.emitFormatO2(op)
	case isa.FormatO3:
		return a.emitFormatO3(op)
	case isa.FormatM:
		return a.emitFormatM(op, sFlag)
	case isa.FormatM1:
		return a.emitFormatM1(op, sFlag)
	case isa.FormatB1:
		return a.emitBranchRelative(op, cond)
	case isa.FormatB2:
		return a.emitFormatB2(op, cond)
	case isa.FormatSWI:
		return a.emitFormatSWI(op)
	default:
		return utils.MakeError(ErrUnexpectedTokenKind, "line %v: unencodable instruction %q", t.Line, mnemonic)
	}
}

func isCompare(op isa.OpCode) bool {
	switch op {
	case isa.OpCMP, isa.OpCMN, isa.OpTST, isa.OpTEQ:
		return true
	default:
		return false
	}
}

// resolveOpcode maps a lexed mnemonic to its opcode and whether the text
// carried a trailing "s" flags-setting suffix (e.g. "adds", "umulls"); the
// lexer keeps the suffixed form as a single Instruction token, so the
// assembler is the layer that strips it back to the base mnemonic.
func resolveOpcode(mnemonic string) (isa.OpCode, bool, error) {
	if op, err := isa.ParseMnemonic(mnemonic); err == nil {
		return op, false, nil
	}
	if strings.HasSuffix(mnemonic, "s") {
		if op, err := isa.ParseMnemonic(mnemonic[:len(mnemonic)-1]); err == nil {
			return op, true, nil
		}
	}
	_, err := isa.ParseMnemonic(mnemonic)
	return 0, false, err
}

func (a *Assembler) appendWord(word uint32) uint32 {
	offset := a.textLen()
	a.obj.Text = append(a.obj.Text, word)
	return offset
}

func (a *Assembler) parseRegisterOperand() (int, error) {
	skipSpace(a)
	t, err := a.s.ConsumeKind(token.NewKindSet(token.Register))
	if err != nil {
		return 0, err
	}
	return isa.ParseRegister(t.Value)
}

func (a *Assembler) expectComma() error {
	skipSpace(a)
	if _, err := a.s.ConsumeKind(token.NewKindSet(token.Comma)); err != nil {
		return err
	}
	return nil
}

func (a *Assembler) emitPlain(op isa.OpCode) error {
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{}))
	return nil
}

// emitFormatO handles the 3-operand ALU group (rd, rn, op2) and the
// 2-operand compare group (rn, op2), where op2 is either a register,
// optionally shifted, or an immediate.
func (a *Assembler) emitFormatO(op isa.OpCode, sFlag, compare bool) error {
	var xd int
	var err error
	if !compare {
		xd, err = a.parseRegisterOperand()
		if err != nil {
			return err
		}
		if err := a.expectComma(); err != nil {
			return err
		}
	}
	xn, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}

	f := isa.Fields{S: sFlag, Xd: xd, Xn: xn}
	if err := a.parseOperand2(&f); err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, f))
	return nil
}

// parseOperand2 parses "#imm[, shiftkind #amt]" or "rm[, shiftkind #amt]".
func (a *Assembler) parseOperand2(f *isa.Fields) error {
	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.LiteralNumberDecimal, token.LiteralNumberHexadecimal, token.LiteralNumberBinary, token.LiteralNumberOctal)) {
		v, err := a.parseExpression(0, 1<<14-1)
		if err != nil {
			return err
		}
		f.ImmFlag = true
		f.Imm = int32(v)
		return nil
	}

	xm, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	f.Xm = xm

	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Comma)) {
		if _, err := a.s.Consume(); err != nil {
			return err
		}
		skipSpace(a)
		kindTok, err := a.s.ConsumeKind(token.NewKindSet(token.Symbol))
		if err != nil {
			return err
		}
		kind, ok := shiftKinds[strings.ToLower(kindTok.Value)]
		if !ok {
			return utils.MakeError(ErrUnexpectedTokenKind, "line %v: unknown shift kind %q", kindTok.Line, kindTok.Value)
		}
		f.ShiftKind = kind
		skipSpace(a)
		amt, err := a.parseExpression(0, 31)
		if err != nil {
			return err
		}
		f.ShiftAmt = uint8(amt)
	}
	return nil
}

var shiftKinds = map[string]uint8{"lsl": 0, "lsr": 1, "asr": 2, "ror": 3}

func (a *Assembler) emitFormatO1(op isa.OpCode) error {
	xd, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}
	xn, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}

	f := isa.Fields{Xd: xd, Xn: xn}
	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.LiteralNumberDecimal, token.LiteralNumberHexadecimal, token.LiteralNumberBinary, token.LiteralNumberOctal)) {
		v, err := a.parseExpression(0, 1<<14-1)
		if err != nil {
			return err
		}
		f.ImmFlag = true
		f.Imm = int32(v)
	} else {
		xm, err := a.parseRegisterOperand()
		if err != nil {
			return err
		}
		f.Xm = xm
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, f))
	return nil
}

func (a *Assembler) emitFormatO2(op isa.OpCode) error {
	xd, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}
	xdHi, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}
	xn, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}
	xm, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{Xd: xd, XdHi: xdHi, Xn: xn, Xm: xm}))
	return nil
}

// emitFormatO3 handles "mov/mvn rd, #imm19", "mov/mvn rd, rn[, #imm14]" and
// the absolute-address pseudo form "mov rd, symbol", which expands into a
// MOV_LO19/MOV_HI13 relocation pair the loader resolves at map time.
func (a *Assembler) emitFormatO3(op isa.OpCode) error {
	xd, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}

	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Symbol)) {
		symTok, _ := a.s.Consume()
		if err := consumeLineEnd(a); err != nil {
			return err
		}
		lo := a.appendWord(isa.Encode(op, isa.Fields{Xd: xd, ImmFlag: true}))
		a.recordReloc(lo, symTok.Value, belf.RelocMovLo19, 0)
		hi := a.appendWord(isa.Encode(op, isa.Fields{Xd: xd, ImmFlag: true}))
		a.recordReloc(hi, symTok.Value, belf.RelocMovHi13, 0)
		return nil
	}

	if a.s.IsNext(token.NewKindSet(token.LiteralNumberDecimal, token.LiteralNumberHexadecimal, token.LiteralNumberBinary, token.LiteralNumberOctal)) {
		v, err := a.parseExpression(0, 1<<19-1)
		if err != nil {
			return err
		}
		if err := consumeLineEnd(a); err != nil {
			return err
		}
		a.appendWord(isa.Encode(op, isa.Fields{Xd: xd, ImmFlag: true, Imm: int32(v)}))
		return nil
	}

	xn, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	f := isa.Fields{Xd: xd, Xn: xn}
	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Comma)) {
		if _, err := a.s.Consume(); err != nil {
			return err
		}
		v, err := a.parseExpression(0, 1<<14-1)
		if err != nil {
			return err
		}
		f.Imm = int32(v)
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, f))
	return nil
}

// emitFormatM handles load/store/swap: "rt, [rn, #imm|rm]" with optional
// ARM-style "], #imm" post-increment, plus the absolute pseudo form
// "rt, [symbol]" (ADRP_HI20 + O_LO12 pair).
func (a *Assembler) emitFormatM(op isa.OpCode, sFlag bool) error {
	xt, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}
	skipSpace(a)
	if _, err := a.s.ConsumeKind(token.NewKindSet(token.OpenBracket)); err != nil {
		return err
	}
	skipSpace(a)

	if a.s.IsNext(token.NewKindSet(token.Symbol)) {
		symTok, _ := a.s.Consume()
		skipSpace(a)
		if _, err := a.s.ConsumeKind(token.NewKindSet(token.CloseBracket)); err != nil {
			return err
		}
		if err := consumeLineEnd(a); err != nil {
			return err
		}
		adrp := a.appendWord(isa.Encode(isa.OpADRP, isa.Fields{S: sFlag, Xd: xt}))
		a.recordReloc(adrp, symTok.Value, belf.RelocAdrpHi20, 0)
		ld := a.appendWord(isa.Encode(op, isa.Fields{S: sFlag, Xd: xt, Xn: xt, ImmFlag: true}))
		a.recordReloc(ld, symTok.Value, belf.RelocOLo12, 0)
		return nil
	}

	xn, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	f := isa.Fields{S: sFlag, Xd: xt, Xn: xn, AddrMode: 0}

	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Comma)) {
		if _, err := a.s.Consume(); err != nil {
			return err
		}
		skipSpace(a)
		if a.s.IsNext(token.NewKindSet(token.Register)) {
			xm, err := a.parseRegisterOperand()
			if err != nil {
				return err
			}
			f.Xm = xm
		} else {
			v, err := a.parseExpression(0, 1<<12-1)
			if err != nil {
				return err
			}
			f.ImmFlag = true
			f.Imm = int32(v)
		}
	}
	skipSpace(a)
	if _, err := a.s.ConsumeKind(token.NewKindSet(token.CloseBracket)); err != nil {
		return err
	}

	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Comma)) {
		if _, err := a.s.Consume(); err != nil {
			return err
		}
		skipSpace(a)
		v, err := a.parseExpression(0, 1<<12-1)
		if err != nil {
			return err
		}
		f.ImmFlag = true
		f.Imm = int32(v)
		f.AddrMode = 2 // post-increment, written as "], #imm"
	}

	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, f))
	return nil
}

func (a *Assembler) emitFormatM1(op isa.OpCode, sFlag bool) error {
	xd, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := a.expectComma(); err != nil {
		return err
	}
	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Symbol)) {
		symTok, _ := a.s.Consume()
		if err := consumeLineEnd(a); err != nil {
			return err
		}
		offset := a.appendWord(isa.Encode(op, isa.Fields{S: sFlag, Xd: xd}))
		a.recordReloc(offset, symTok.Value, belf.RelocAdrpHi20, 0)
		return nil
	}
	v, err := a.parseExpression(0, 1<<20-1)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{S: sFlag, Xd: xd, Imm: int32(v)}))
	return nil
}

// emitBranchRelative handles "b"/"bl": either a plain expression (an
// already-known word-offset immediate) or a symbol, which records an
// R_EMU32_B_OFFSET22 relocation for fillLocal/the linker to resolve.
func (a *Assembler) emitBranchRelative(op isa.OpCode, cond isa.Condition) error {
	skipSpace(a)
	if a.s.IsNext(token.NewKindSet(token.Symbol)) {
		symTok, _ := a.s.Consume()
		if err := consumeLineEnd(a); err != nil {
			return err
		}
		offset := a.appendWord(isa.Encode(op, isa.Fields{Cond: cond}))
		a.recordReloc(offset, symTok.Value, belf.RelocBOffset22, 0)
		return nil
	}
	v, err := a.parseExpression(0, 1<<22-1)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{Cond: cond, Imm: int32(v)}))
	return nil
}

func (a *Assembler) emitFormatB2(op isa.OpCode, cond isa.Condition) error {
	xd, err := a.parseRegisterOperand()
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{Cond: cond, Xd: xd}))
	return nil
}

func (a *Assembler) emitBranchRegister(op isa.OpCode, xd int, line int) error {
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{Cond: isa.CondAL, Xd: xd}))
	return nil
}

func (a *Assembler) emitFormatSWI(op isa.OpCode) error {
	v, err := a.parseExpression(0, 1<<26-1)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(a); err != nil {
		return err
	}
	a.appendWord(isa.Encode(op, isa.Fields{Imm: int32(v)}))
	return nil
}

// recordReloc appends a relocation to .rel.text: offset is the byte offset
// of the word being patched, symbol is the raw (unmangled) identifier as
// written, and tokenIndex is the current token cursor position fillLocal
// uses to reconstruct the scope chain active at this reference.
func (a *Assembler) recordReloc(offset uint32, symbolName string, typ belf.RelocType, shift uint32) {
	symIdx := a.symbolIndex(symbolName)
	a.obj.RelText = append(a.obj.RelText, belf.Relocation{
		Offset:     offset,
		Symbol:     symIdx,
		Type:       typ,
		Shift:      shift,
		TokenIndex: a.s.Toki(),
	})
}
