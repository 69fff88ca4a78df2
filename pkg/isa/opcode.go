package isa

import (
	"errors"
	"strings"

	"github.com/emu32dev/emu32/pkg/utils"
)

// OpCode identifies one of the instructions encoded in bits[26..31] of a
// 32-bit instruction word. The dispatch table has 64 slots (6 bits); slots
// beyond TotalOpCodes are unmapped and decode to OpHLT, per the spec.
type OpCode uint8

// OpCodeBits is the width of the opcode field in every instruction format.
const OpCodeBits = 6

// TotalOpCodeSlots is the size of the fixed dispatch table (2^OpCodeBits).
const TotalOpCodeSlots = 1 << OpCodeBits

const (
	OpNOP OpCode = iota

	// Integer ALU
	OpADD
	OpSUB
	OpRSB
	OpADC
	OpSBC
	OpRSC
	OpMUL
	OpUMULL
	OpSMULL

	// Logical
	OpAND
	OpORR
	OpEOR
	OpBIC

	// Shifts
	OpLSL
	OpLSR
	OpASR
	OpROR

	// Compares
	OpCMP
	OpCMN
	OpTST
	OpTEQ

	// Moves
	OpMOV
	OpMVN

	// Memory
	OpLDR
	OpLDRB
	OpLDRH
	OpSTR
	OpSTRB
	OpSTRH
	OpSWP
	OpSWPB
	OpADRP

	// Branches
	OpB
	OpBL
	OpBX
	OpBLX

	// Software interrupt / halt
	OpSWI
	OpHLT

	// Floating point stubs
	OpVABS
	OpVNEG
	OpVADD
	OpVSUB
	OpVMUL
	OpVDIV
	OpVSQRT
	OpVCMP
	OpVMOV

	totalOpCodes
)

// TotalOpCodes is the number of opcodes actually implemented; the remaining
// dispatch slots up to TotalOpCodeSlots are unmapped.
const TotalOpCodes = int(totalOpCodes)

// Format identifies the bit layout an opcode is encoded with.
type Format int

const (
	FormatNone Format = iota // nop, hlt: opcode only
	FormatO                  // 3-operand ALU, compares, logical, fp stubs
	FormatO1                 // shifts
	FormatO2                 // long multiply (umull/smull)
	FormatO3                 // mov/mvn
	FormatM                  // load/store
	FormatM1                 // adrp
	FormatB1                 // relative branch (b, bl)
	FormatB2                 // register branch (bx, blx)
	FormatSWI                // software interrupt
)

type opcodeDescriptor struct {
	mnemonic string
	format   Format
}

var opcodeTable = map[OpCode]opcodeDescriptor{
	OpNOP: {"nop", FormatNone},

	OpADD: {"add", FormatO},
	OpSUB: {"sub", FormatO},
	OpRSB: {"rsb", FormatO},
	OpADC: {"adc", FormatO},
	OpSBC: {"sbc", FormatO},
	OpRSC: {"rsc", FormatO},
	OpMUL: {"mul", FormatO},

	OpUMULL: {"umull", FormatO2},
	OpSMULL: {"smull", FormatO2},

	OpAND: {"and", FormatO},
	OpORR: {"orr", FormatO},
	OpEOR: {"eor", FormatO},
	OpBIC: {"bic", FormatO},

	OpLSL: {"lsl", FormatO1},
	OpLSR: {"lsr", FormatO1},
	OpASR: {"asr", FormatO1},
	OpROR: {"ror", FormatO1},

	OpCMP: {"cmp", FormatO},
	OpCMN: {"cmn", FormatO},
	OpTST: {"tst", FormatO},
	OpTEQ: {"teq", FormatO},

	OpMOV: {"mov", FormatO3},
	OpMVN: {"mvn", FormatO3},

	OpLDR:  {"ldr", FormatM},
	OpLDRB: {"ldrb", FormatM},
	OpLDRH: {"ldrh", FormatM},
	OpSTR:  {"str", FormatM},
	OpSTRB: {"strb", FormatM},
	OpSTRH: {"strh", FormatM},
	OpSWP:  {"swp", FormatM},
	OpSWPB: {"swpb", FormatM},
	OpADRP: {"adrp", FormatM1},

	OpB:   {"b", FormatB1},
	OpBL:  {"bl", FormatB1},
	OpBX:  {"bx", FormatB2},
	OpBLX: {"blx", FormatB2},

	OpSWI: {"swi", FormatSWI},
	OpHLT: {"hlt", FormatNone},

	OpVABS:  {"vabs", FormatO},
	OpVNEG:  {"vneg", FormatO},
	OpVADD:  {"vadd", FormatO},
	OpVSUB:  {"vsub", FormatO},
	OpVMUL:  {"vmul", FormatO},
	OpVDIV:  {"vdiv", FormatO},
	OpVSQRT: {"vsqrt", FormatO},
	OpVCMP:  {"vcmp", FormatO},
	OpVMOV:  {"vmov", FormatO3},
}

var mnemonicToOpCode map[string]OpCode

func init() {
	for i := 0; i < TotalOpCodes; i++ {
		if _, ok := opcodeTable[OpCode(i)]; !ok {
			panic("isa: missing opcode table entry, every OpCode constant below totalOpCodes must be registered in opcodeTable")
		}
	}

	mnemonicToOpCode = utils.MapMap(opcodeTable, func(op OpCode, d opcodeDescriptor) (string, OpCode) {
		return d.mnemonic, op
	})
}

// ErrUnknownOpCode is returned by ParseMnemonic for an unrecognized mnemonic.
var ErrUnknownOpCode = errors.New("unknown instruction mnemonic")

// ErrUnmappedOpCode marks a decoded opcode value that falls in an unmapped
// dispatch slot; per the spec these decode to the halt handler rather than
// erroring.
var ErrUnmappedOpCode = errors.New("unmapped opcode")

// Mnemonic returns the assembly mnemonic for an opcode.
func (op OpCode) Mnemonic() string {
	if d, ok := opcodeTable[op]; ok {
		return d.mnemonic
	}
	return "?"
}

// String implements fmt.Stringer.
func (op OpCode) String() string {
	return op.Mnemonic()
}

// FormatOf returns the instruction format an opcode is encoded with.
func (op OpCode) FormatOf() Format {
	if d, ok := opcodeTable[op]; ok {
		return d.format
	}
	return FormatNone
}

// ParseMnemonic resolves an assembly mnemonic (case-insensitive, without any
// condition suffix) to its opcode.
func ParseMnemonic(mnemonic string) (OpCode, error) {
	if op, ok := mnemonicToOpCode[strings.ToLower(mnemonic)]; ok {
		return op, nil
	}
	return 0, utils.MakeError(ErrUnknownOpCode, "'%v'", mnemonic)
}

// DecodeOpCode extracts and validates the 6-bit opcode field of an
// instruction word. A value in an unmapped dispatch slot (>= TotalOpCodes)
// is reported via ErrUnmappedOpCode so the caller (the emulator's dispatch
// loop) can fall back to the halt handler instead of failing decode.
func DecodeOpCode(word uint32) (OpCode, error) {
	op := OpCode(word & ((1 << OpCodeBits) - 1))
	if int(op) >= TotalOpCodes {
		return OpHLT, utils.MakeError(ErrUnmappedOpCode, "0x%02x", uint8(op))
	}
	return op, nil
}
