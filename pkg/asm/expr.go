package asm

import (
	"strconv"

	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// parseExpression evaluates a sequential, left-to-right, no-precedence
// expression: an operand, then zero or more (operator, operand) pairs,
// terminated by a non-operator token or end of line. Values outside
// [min, max] are clamped with a warning rather than rejected outright.
func (a *Assembler) parseExpression(min, max uint64) (uint32, error) {
	a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	line := 0
	if t := a.s.GetToken(); t != nil {
		line = t.Line
	}
	value, err := a.parseOperand()
	if err != nil {
		return 0, err
	}

	a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	for a.s.IsNext(token.ArithmeticOperators) {
		opTok, err := a.s.Consume()
		if err != nil {
			return 0, err
		}
		a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
		rhs, err := a.parseOperand()
		if err != nil {
			return 0, err
		}
		switch opTok.Kind {
		case token.OperatorAdd:
			value += rhs
		case token.OperatorSub:
			value -= rhs
		case token.OperatorMul:
			value *= rhs
		case token.OperatorDiv:
			value /= rhs
		}
		a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	}

	if uint64(value) < min {
		a.warn(line, "expression value %v outside of range [%v, %v]", value, min, max)
		value = uint32(min)
	} else if uint64(value) > max {
		a.warn(line, "expression value %v outside of range [%v, %v]", value, min, max)
		value = uint32(max)
	}
	return value, nil
}

func (a *Assembler) parseOperand() (uint32, error) {
	t, err := a.s.Consume()
	if err != nil {
		return 0, err
	}
	switch t.Kind {
	case token.LiteralNumberDecimal:
		n, err := strconv.ParseUint(t.Value, 10, 32)
		return uint32(n), err
	case token.LiteralNumberHexadecimal:
		n, err := strconv.ParseUint(t.Value[1:], 16, 32)
		return uint32(n), err
	case token.LiteralNumberBinary:
		n, err := strconv.ParseUint(t.Value[1:], 2, 32)
		return uint32(n), err
	case token.LiteralNumberOctal:
		n, err := strconv.ParseUint(t.Value[1:], 8, 32)
		return uint32(n), err
	default:
		return 0, utils.MakeError(ErrUnexpectedTokenKind, "line %v: expected an expression operand, got %v %q", t.Line, t.Kind, t.Value)
	}
}

// parseArguments parses a comma-separated list of expressions up to the end
// of the line, used by the .byte/.word/... family.
func (a *Assembler) parseArguments() ([]uint32, error) {
	var args []uint32
	for {
		a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
		if !a.s.HasNext() || a.s.IsNext(token.NewKindSet(token.WhitespaceNewline)) {
			break
		}
		v, err := a.parseExpression(0, 0xFFFFFFFF)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		a.s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
		if a.s.IsNext(token.NewKindSet(token.Comma)) {
			if _, err := a.s.Consume(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return args, nil
}
