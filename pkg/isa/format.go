package isa

import (
	"errors"
	"fmt"

	"github.com/emu32dev/emu32/pkg/utils"
)

// Fields holds the decoded (or to-be-encoded) operand fields of an
// instruction word. Only the subset relevant to an opcode's Format is
// meaningful; unused fields are zero. This mirrors the teacher's
// RawInstruction, which carries a flat []uint64 of operand values alongside
// an InstructionDescriptor that says how to interpret them — here the
// interpretation is keyed off Format instead of a per-opcode operand list,
// since every EMU32 format has a fixed field layout.
type Fields struct {
	S         bool      // sets condition flags (ALU/compare/load-store forms)
	Xd        int       // destination / target register
	Xn        int       // first source register / base register
	Xm        int       // second source register (register-operand forms)
	XdHi      int       // high-half destination for umull/smull
	ImmFlag   bool      // operand 2 (or offset) is an immediate, not a register
	Imm       int32     // sign-extended immediate (width depends on Format)
	ShiftKind uint8     // 0=lsl 1=lsr 2=asr 3=ror, Format O register-shift form
	ShiftAmt  uint8     // 0-31
	AddrMode  uint8     // 0=offset 1=pre-increment 2=post-increment, Format M
	Cond      Condition // branch condition, Format B1/B2
}

var ErrMalformedInstruction = errors.New("malformed instruction word")

func signExtend(value uint32, bits int) int32 {
	shift := 32 - bits
	return int32(value<<shift) >> shift
}

func maskBits(bits int) uint32 {
	return (uint32(1) << bits) - 1
}

// Encode packs an opcode and its fields into a little-endian 32-bit
// instruction word (the word itself is host-endian; BELF/memory I/O handles
// byte order on top of this).
func Encode(op OpCode, f Fields) uint32 {
	var word uint32
	view := utils.CreateBitView(&word)
	view.Write(uint32(op), 0, OpCodeBits)

	switch op.FormatOf() {
	case FormatNone:
		// opcode only
	case FormatO:
		view.Write(b2u(f.S), 6, 1)
		view.Write(uint32(f.Xd), 7, 5)
		view.Write(uint32(f.Xn), 12, 5)
		view.Write(b2u(f.ImmFlag), 17, 1)
		if f.ImmFlag {
			view.Write(uint32(f.Imm)&maskBits(14), 18, 14)
		} else {
			view.Write(uint32(f.Xm), 18, 5)
			view.Write(uint32(f.ShiftKind), 23, 2)
			view.Write(uint32(f.ShiftAmt), 25, 5)
		}
	case FormatO1:
		view.Write(uint32(f.Xd), 7, 5)
		view.Write(uint32(f.Xn), 12, 5)
		view.Write(b2u(f.ImmFlag), 17, 1)
		if f.ImmFlag {
			view.Write(uint32(f.Imm)&maskBits(14), 18, 14)
		} else {
			view.Write(uint32(f.Xm), 18, 5)
		}
	case FormatO2:
		view.Write(uint32(f.Xd), 6, 5)
		view.Write(uint32(f.XdHi), 11, 5)
		view.Write(uint32(f.Xn), 16, 5)
		view.Write(uint32(f.Xm), 21, 5)
	case FormatO3:
		view.Write(b2u(f.ImmFlag), 6, 1)
		view.Write(uint32(f.Xd), 7, 5)
		if f.ImmFlag {
			view.Write(uint32(f.Imm)&maskBits(19), 12, 19)
		} else {
			view.Write(uint32(f.Xn), 12, 5)
			view.Write(uint32(f.Imm)&maskBits(14), 17, 14)
		}
	case FormatM:
		view.Write(b2u(f.S), 6, 1)
		view.Write(uint32(f.Xd), 7, 5)
		view.Write(uint32(f.Xn), 12, 5)
		view.Write(b2u(f.ImmFlag), 17, 1)
		if f.ImmFlag {
			view.Write(uint32(f.Imm)&maskBits(12), 18, 12)
		} else {
			view.Write(uint32(f.Xm), 18, 5)
		}
		view.Write(uint32(f.AddrMode), 30, 2)
	case FormatM1:
		view.Write(b2u(f.S), 6, 1)
		view.Write(uint32(f.Xd), 7, 5)
		view.Write(uint32(f.Imm)&maskBits(20), 12, 20)
	case FormatB1:
		view.Write(uint32(f.Cond), 6, 4)
		view.Write(uint32(f.Imm)&maskBits(22), 10, 22)
	case FormatB2:
		view.Write(uint32(f.Cond), 6, 4)
		view.Write(uint32(f.Xd), 10, 5)
	case FormatSWI:
		view.Write(uint32(f.Imm)&maskBits(26), 6, 26)
	}

	return word
}

// Decode extracts the opcode and fields from an instruction word. An
// unmapped opcode slot decodes with ErrUnmappedOpCode and Fields zeroed; the
// caller (emulator dispatch loop) treats that as hlt.
func Decode(word uint32) (OpCode, Fields, error) {
	op, err := DecodeOpCode(word)
	if err != nil {
		return op, Fields{}, err
	}

	view := utils.CreateBitView(&word)
	var f Fields

	switch op.FormatOf() {
	case FormatNone:
	case FormatO:
		f.S = view.Read(6, 1) != 0
		f.Xd = int(view.Read(7, 5))
		f.Xn = int(view.Read(12, 5))
		f.ImmFlag = view.Read(17, 1) != 0
		if f.ImmFlag {
			f.Imm = signExtend(view.Read(18, 14), 14)
		} else {
			f.Xm = int(view.Read(18, 5))
			f.ShiftKind = uint8(view.Read(23, 2))
			f.ShiftAmt = uint8(view.Read(25, 5))
		}
	case FormatO1:
		f.Xd = int(view.Read(7, 5))
		f.Xn = int(view.Read(12, 5))
		f.ImmFlag = view.Read(17, 1) != 0
		if f.ImmFlag {
			f.Imm = signExtend(view.Read(18, 14), 14)
		} else {
			f.Xm = int(view.Read(18, 5))
		}
	case FormatO2:
		f.Xd = int(view.Read(6, 5))
		f.XdHi = int(view.Read(11, 5))
		f.Xn = int(view.Read(16, 5))
		f.Xm = int(view.Read(21, 5))
	case FormatO3:
		f.ImmFlag = view.Read(6, 1) != 0
		f.Xd = int(view.Read(7, 5))
		if f.ImmFlag {
			f.Imm = signExtend(view.Read(12, 19), 19)
		} else {
			f.Xn = int(view.Read(12, 5))
			f.Imm = signExtend(view.Read(17, 14), 14)
		}
	case FormatM:
		f.S = view.Read(6, 1) != 0
		f.Xd = int(view.Read(7, 5))
		f.Xn = int(view.Read(12, 5))
		f.ImmFlag = view.Read(17, 1) != 0
		if f.ImmFlag {
			f.Imm = signExtend(view.Read(18, 12), 12)
		} else {
			f.Xm = int(view.Read(18, 5))
		}
		f.AddrMode = uint8(view.Read(30, 2))
	case FormatM1:
		f.S = view.Read(6, 1) != 0
		f.Xd = int(view.Read(7, 5))
		f.Imm = signExtend(view.Read(12, 20), 20)
	case FormatB1:
		f.Cond = Condition(view.Read(6, 4))
		f.Imm = signExtend(view.Read(10, 22), 22)
	case FormatB2:
		f.Cond = Condition(view.Read(6, 4))
		f.Xd = int(view.Read(10, 5))
	case FormatSWI:
		f.Imm = signExtend(view.Read(6, 26), 26)
	}

	return op, f, nil
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// String renders a decoded instruction in assembly syntax, used for error
// messages and the "dump" CLI command; this is the only disassembly surface
// the spec keeps (full interactive disassembly is an external collaborator).
func String(op OpCode, f Fields) string {
	switch op.FormatOf() {
	case FormatNone:
		return op.Mnemonic()
	case FormatO:
		if f.ImmFlag {
			return fmt.Sprintf("%s %s, %s, #%d", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), f.Imm)
		}
		return fmt.Sprintf("%s %s, %s, %s", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), RegisterName(f.Xm))
	case FormatO1:
		if f.ImmFlag {
			return fmt.Sprintf("%s %s, %s, #%d", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), f.Imm)
		}
		return fmt.Sprintf("%s %s, %s, %s", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), RegisterName(f.Xm))
	case FormatO2:
		return fmt.Sprintf("%s %s, %s, %s, %s", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.XdHi), RegisterName(f.Xn), RegisterName(f.Xm))
	case FormatO3:
		if f.ImmFlag {
			return fmt.Sprintf("%s %s, #%d", op.Mnemonic(), RegisterName(f.Xd), f.Imm)
		}
		return fmt.Sprintf("%s %s, %s, #%d", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), f.Imm)
	case FormatM:
		if f.ImmFlag {
			return fmt.Sprintf("%s %s, [%s, #%d]", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), f.Imm)
		}
		return fmt.Sprintf("%s %s, [%s, %s]", op.Mnemonic(), RegisterName(f.Xd), RegisterName(f.Xn), RegisterName(f.Xm))
	case FormatM1:
		return fmt.Sprintf("%s %s, #%d", op.Mnemonic(), RegisterName(f.Xd), f.Imm)
	case FormatB1:
		return fmt.Sprintf("%s.%s #%d", op.Mnemonic(), f.Cond, f.Imm)
	case FormatB2:
		if f.Xd == LR && (op == OpBX || op == OpBLX) {
			return "ret"
		}
		return fmt.Sprintf("%s.%s %s", op.Mnemonic(), f.Cond, RegisterName(f.Xd))
	case FormatSWI:
		return fmt.Sprintf("%s #%d", op.Mnemonic(), f.Imm)
	default:
		return op.Mnemonic()
	}
}
