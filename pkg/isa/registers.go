// Package isa describes the EMU32 instruction set: register names, condition
// codes, opcodes and the fixed-width instruction formats shared by the
// assembler and the emulator.
package isa

import (
	"errors"
	"strconv"
	"strings"

	"github.com/emu32dev/emu32/pkg/utils"
)

// NumRegisters is the size of the general register file, x0..x29 plus sp and xzr.
const NumRegisters = 32

// SP, XZR and LR are the fixed indices of the stack pointer, the zero
// register and the link register. x29 doubles as the link register: a
// register-branch instruction (bx/blx) decoding xd==LR disassembles as
// "ret".
const (
	SP  = 30
	XZR = 31
	LR  = 29
)

// ErrUnknownRegister is returned by ParseRegister for an unrecognized mnemonic.
var ErrUnknownRegister = errors.New("unknown register")

var registerByName map[string]int
var nameByRegister [NumRegisters]string

func init() {
	registerByName = make(map[string]int, NumRegisters+2)
	for i := 0; i <= 29; i++ {
		name := "x" + strconv.Itoa(i)
		nameByRegister[i] = name
		registerByName[name] = i
	}
	nameByRegister[SP] = "sp"
	registerByName["sp"] = SP
	registerByName["x30"] = SP
	nameByRegister[XZR] = "xzr"
	registerByName["xzr"] = XZR
	registerByName["x31"] = XZR
	registerByName["lr"] = LR
}

// ParseRegister resolves a register mnemonic (x0-x29, sp, xzr, lr, x30, x31)
// to its register-file index.
func ParseRegister(name string) (int, error) {
	if idx, ok := registerByName[strings.ToLower(name)]; ok {
		return idx, nil
	}
	return 0, utils.MakeError(ErrUnknownRegister, "'%v'", name)
}

// RegisterName returns the canonical mnemonic for a register index.
func RegisterName(index int) string {
	if index < 0 || index >= NumRegisters {
		return "?"
	}
	return nameByRegister[index]
}

// IsRegisterToken reports whether a token text names a register, used by the
// tokenizer's keyword fast-path.
func IsRegisterToken(text string) bool {
	_, ok := registerByName[strings.ToLower(text)]
	return ok
}
