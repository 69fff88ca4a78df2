// Package emulator implements the EMU32 CPU core: the register file,
// PSTATE flags, the 64-slot opcode dispatch table, condition evaluation and
// the software-interrupt vector described in spec.md §4.8.
package emulator

import (
	"errors"
	"fmt"
	"io"

	"github.com/emu32dev/emu32/pkg/isa"
	"github.com/emu32dev/emu32/pkg/utils"
	"github.com/emu32dev/emu32/pkg/vm/bus"
)

// Runtime exception kinds, unwinding the run loop without leaving pc
// advanced past the faulting instruction.
var (
	ErrBadReg        = errors.New("emulator: bad register")
	ErrBadInstr      = errors.New("emulator: bad instruction")
	ErrHalt          = errors.New("emulator: halt")
	ErrFailedAssert  = errors.New("emulator: assertion failed")
	ErrBadPageDir    = errors.New("emulator: bad page directory")
	ErrPageFault     = errors.New("emulator: page fault")
)

// register holds a value and a write mask; AND-ing writes against the mask
// is how xzr (mask zero) silently drops writes and always reads zero.
type register struct {
	value uint32
	mask  uint32
}

func (r *register) read() uint32 { return r.value & r.mask }
func (r *register) write(v uint32) {
	r.value = v & r.mask
}

// Emulator is the CPU core: register file, PSTATE, pc, and the bus it
// drives for all memory traffic.
type Emulator struct {
	regs   [isa.NumRegisters]register
	pc     uint32
	pstate uint32
	bus    *bus.Bus
	out    io.Writer

	dispatch [isa.TotalOpCodeSlots]func(*Emulator, isa.Fields) error
}

// New creates an emulator with all registers fully writable except xzr,
// driving bus b. Diagnostic and swi print output goes to out.
func New(b *bus.Bus, out io.Writer) *Emulator {
	e := &Emulator{bus: b, out: out}
	for i := range e.regs {
		e.regs[i].mask = 0xFFFFFFFF
	}
	e.regs[isa.XZR].mask = 0
	e.installDispatch()
	return e
}

// X returns the current value of register i.
func (e *Emulator) X(i int) uint32 { return e.regs[i].read() }

// SetX writes v to register i (a no-op for xzr).
func (e *Emulator) SetX(i int, v uint32) { e.regs[i].write(v) }

// PC returns the program counter.
func (e *Emulator) PC() uint32 { return e.pc }

// SetPC sets the program counter, used by the loader to set the entry point.
func (e *Emulator) SetPC(pc uint32) { e.pc = pc }

// PState returns the PSTATE flags word.
func (e *Emulator) PState() uint32 { return e.pstate }

// Bus returns the driven system bus, for the loader to populate memory.
func (e *Emulator) Bus() *bus.Bus { return e.bus }

func (e *Emulator) setFlags(mask uint32) {
	e.pstate = (e.pstate &^ (isa.FlagN | isa.FlagZ | isa.FlagC | isa.FlagV)) | mask
}

func (e *Emulator) flagsFromResult(result uint32) uint32 {
	var f uint32
	if result == 0 {
		f |= isa.FlagZ
	}
	if result&0x80000000 != 0 {
		f |= isa.FlagN
	}
	return f
}

// Step fetches and executes one instruction. pc is left unadvanced if the
// instruction faults, so a caller reporting the exception sees the
// faulting address; a hlt is not a fault and advances pc past itself.
func (e *Emulator) Step() error {
	word, err := e.bus.ReadWordFast(e.pc)
	if err != nil {
		return utils.MakeError(ErrPageFault, "fetch at 0x%x: %v", e.pc, err)
	}

	op, fields, err := isa.Decode(word)
	if err != nil {
		op = isa.OpHLT
	}

	handler := e.dispatch[op]
	if handler == nil {
		handler = opHLT
	}

	if err := handler(e, fields); err != nil {
		if errors.Is(err, ErrHalt) {
			e.pc += 4
		}
		return err
	}
	e.pc += 4
	return nil
}

// Run executes up to n instructions (or until a fault/halt if n == 0),
// returning the first exception encountered, or nil on a clean halt or
// reaching the instruction limit.
func (e *Emulator) Run(n int) error {
	for i := 0; n == 0 || i < n; i++ {
		if err := e.Step(); err != nil {
			if errors.Is(err, ErrHalt) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (e *Emulator) installDispatch() {
	d := &e.dispatch
	d[isa.OpNOP] = opNOP
	d[isa.OpADD] = opALU(func(a, b uint32) uint32 { return a + b })
	d[isa.OpSUB] = opALU(func(a, b uint32) uint32 { return a - b })
	d[isa.OpRSB] = opALU(func(a, b uint32) uint32 { return b - a })
	d[isa.OpADC] = opADC
	d[isa.OpSBC] = opSBC
	d[isa.OpRSC] = opRSC
	d[isa.OpMUL] = opALU(func(a, b uint32) uint32 { return a * b })
	d[isa.OpUMULL] = opUMULL
	d[isa.OpSMULL] = opSMULL
	d[isa.OpAND] = opALU(func(a, b uint32) uint32 { return a & b })
	d[isa.OpORR] = opALU(func(a, b uint32) uint32 { return a | b })
	d[isa.OpEOR] = opALU(func(a, b uint32) uint32 { return a ^ b })
	d[isa.OpBIC] = opALU(func(a, b uint32) uint32 { return a &^ b })
	d[isa.OpLSL] = opShift(func(v uint32, n uint32) uint32 { return v << (n & 31) })
	d[isa.OpLSR] = opShift(func(v uint32, n uint32) uint32 { return v >> (n & 31) })
	d[isa.OpASR] = opShift(func(v uint32, n uint32) uint32 { return uint32(int32(v) >> (n & 31)) })
	d[isa.OpROR] = opShift(rotateRight)
	d[isa.OpCMP] = opCompare(func(a, b uint32) uint32 { return a - b }, false)
	d[isa.OpCMN] = opCompare(func(a, b uint32) uint32 { return a + b }, false)
	d[isa.OpTST] = opCompare(func(a, b uint32) uint32 { return a & b }, true)
	d[isa.OpTEQ] = opCompare(func(a, b uint32) uint32 { return a ^ b }, true)
	d[isa.OpMOV] = opMOV
	d[isa.OpMVN] = opMVN
	d[isa.OpLDR] = opLoad(4)
	d[isa.OpLDRB] = opLoad(1)
	d[isa.OpLDRH] = opLoad(2)
	d[isa.OpSTR] = opStore(4)
	d[isa.OpSTRB] = opStore(1)
	d[isa.OpSTRH] = opStore(2)
	d[isa.OpSWP] = opSwap(4)
	d[isa.OpSWPB] = opSwap(1)
	d[isa.OpADRP] = opADRP
	d[isa.OpB] = opB
	d[isa.OpBL] = opBL
	d[isa.OpBX] = opBX
	d[isa.OpBLX] = opBLX
	d[isa.OpSWI] = opSWI
	d[isa.OpHLT] = opHLT
	// floating point stubs: decode cleanly but perform no computation, per
	// spec.md §1 ("hardware peripherals beyond disk are stubbed").
	for _, op := range []isa.OpCode{isa.OpVABS, isa.OpVNEG, isa.OpVADD, isa.OpVSUB, isa.OpVMUL, isa.OpVDIV, isa.OpVSQRT, isa.OpVCMP, isa.OpVMOV} {
		d[op] = opNOP
	}
}

func opNOP(e *Emulator, f isa.Fields) error { return nil }

func opHLT(e *Emulator, f isa.Fields) error { return ErrHalt }

func (e *Emulator) operand2(f isa.Fields) uint32 {
	if f.ImmFlag {
		return uint32(f.Imm)
	}
	v := e.X(f.Xm)
	switch f.ShiftKind {
	case 0:
		return v << (uint32(f.ShiftAmt) & 31)
	case 1:
		return v >> (uint32(f.ShiftAmt) & 31)
	case 2:
		return uint32(int32(v) >> (uint32(f.ShiftAmt) & 31))
	case 3:
		return rotateRight(v, uint32(f.ShiftAmt))
	default:
		return v
	}
}

func opALU(fn func(a, b uint32) uint32) func(*Emulator, isa.Fields) error {
	return func(e *Emulator, f isa.Fields) error {
		result := fn(e.X(f.Xn), e.operand2(f))
		e.SetX(f.Xd, result)
		if f.S {
			e.setFlags(e.flagsFromResult(result))
		}
		return nil
	}
}

func opADC(e *Emulator, f isa.Fields) error {
	carry := uint32(0)
	if e.pstate&isa.FlagC != 0 {
		carry = 1
	}
	result := e.X(f.Xn) + e.operand2(f) + carry
	e.SetX(f.Xd, result)
	if f.S {
		e.setFlags(e.flagsFromResult(result))
	}
	return nil
}

func opSBC(e *Emulator, f isa.Fields) error {
	borrow := uint32(1)
	if e.pstate&isa.FlagC != 0 {
		borrow = 0
	}
	result := e.X(f.Xn) - e.operand2(f) - borrow
	e.SetX(f.Xd, result)
	if f.S {
		e.setFlags(e.flagsFromResult(result))
	}
	return nil
}

func opRSC(e *Emulator, f isa.Fields) error {
	borrow := uint32(1)
	if e.pstate&isa.FlagC != 0 {
		borrow = 0
	}
	result := e.operand2(f) - e.X(f.Xn) - borrow
	e.SetX(f.Xd, result)
	if f.S {
		e.setFlags(e.flagsFromResult(result))
	}
	return nil
}

func opUMULL(e *Emulator, f isa.Fields) error {
	result := uint64(e.X(f.Xn)) * uint64(e.X(f.Xm))
	e.SetX(f.Xd, uint32(result))
	e.SetX(f.XdHi, uint32(result>>32))
	return nil
}

func opSMULL(e *Emulator, f isa.Fields) error {
	result := int64(int32(e.X(f.Xn))) * int64(int32(e.X(f.Xm)))
	e.SetX(f.Xd, uint32(result))
	e.SetX(f.XdHi, uint32(result>>32))
	return nil
}

func rotateRight(v, n uint32) uint32 {
	n &= 31
	if n == 0 {
		return v
	}
	return (v >> n) | (v << (32 - n))
}

func opShift(fn func(v, n uint32) uint32) func(*Emulator, isa.Fields) error {
	return func(e *Emulator, f isa.Fields) error {
		var n uint32
		if f.ImmFlag {
			n = uint32(f.Imm)
		} else {
			n = e.X(f.Xm)
		}
		result := fn(e.X(f.Xn), n)
		e.SetX(f.Xd, result)
		if f.S {
			e.setFlags(e.flagsFromResult(result))
		}
		return nil
	}
}

func opCompare(fn func(a, b uint32) uint32, logical bool) func(*Emulator, isa.Fields) error {
	return func(e *Emulator, f isa.Fields) error {
		lhs, rhs := e.X(f.Xn), e.operand2(f)
		result := fn(lhs, rhs)
		if logical {
			e.setFlags(e.flagsFromResult(result))
		} else {
			e.setFlags(isa.ComputeCompareFlags(lhs, rhs))
		}
		return nil
	}
}

func opMOV(e *Emulator, f isa.Fields) error {
	var v uint32
	if f.ImmFlag {
		v = uint32(f.Imm)
	} else {
		v = e.X(f.Xn)
	}
	e.SetX(f.Xd, v)
	if f.S {
		e.setFlags(e.flagsFromResult(v))
	}
	return nil
}

func opMVN(e *Emulator, f isa.Fields) error {
	var v uint32
	if f.ImmFlag {
		v = ^uint32(f.Imm)
	} else {
		v = ^e.X(f.Xn)
	}
	e.SetX(f.Xd, v)
	if f.S {
		e.setFlags(e.flagsFromResult(v))
	}
	return nil
}

func (e *Emulator) effectiveAddress(f isa.Fields) uint32 {
	base := e.X(f.Xn)
	var offset uint32
	if f.ImmFlag {
		offset = uint32(f.Imm)
	} else {
		offset = e.X(f.Xm)
	}
	switch f.AddrMode {
	case 0: // offset
		return base + offset
	case 1: // pre-increment
		addr := base + offset
		e.SetX(f.Xn, addr)
		return addr
	case 2: // post-increment
		e.SetX(f.Xn, base+offset)
		return base
	default:
		return base + offset
	}
}

func opLoad(size int) func(*Emulator, isa.Fields) error {
	return func(e *Emulator, f isa.Fields) error {
		addr := e.effectiveAddress(f)
		var v uint32
		var err error
		switch size {
		case 1:
			var b byte
			b, err = e.bus.ReadByte(addr)
			v = uint32(b)
		case 2:
			var h uint16
			h, err = e.bus.ReadHalf(addr)
			v = uint32(h)
		default:
			v, err = e.bus.ReadWord(addr)
		}
		if err != nil {
			return utils.MakeError(ErrPageFault, "load at 0x%x: %v", addr, err)
		}
		e.SetX(f.Xd, v)
		return nil
	}
}

func opStore(size int) func(*Emulator, isa.Fields) error {
	return func(e *Emulator, f isa.Fields) error {
		addr := e.effectiveAddress(f)
		v := e.X(f.Xd)
		var err error
		switch size {
		case 1:
			err = e.bus.WriteByte(addr, byte(v))
		case 2:
			err = e.bus.WriteHalf(addr, uint16(v))
		default:
			err = e.bus.WriteWord(addr, v)
		}
		if err != nil {
			return utils.MakeError(ErrPageFault, "store at 0x%x: %v", addr, err)
		}
		return nil
	}
}

func opSwap(size int) func(*Emulator, isa.Fields) error {
	return func(e *Emulator, f isa.Fields) error {
		addr := e.X(f.Xn)
		var old uint32
		var err error
		switch size {
		case 1:
			var b byte
			b, err = e.bus.ReadByte(addr)
			old = uint32(b)
		default:
			old, err = e.bus.ReadWord(addr)
		}
		if err != nil {
			return utils.MakeError(ErrPageFault, "swap read at 0x%x: %v", addr, err)
		}
		newVal := e.X(f.Xm)
		switch size {
		case 1:
			err = e.bus.WriteByte(addr, byte(newVal))
		default:
			err = e.bus.WriteWord(addr, newVal)
		}
		if err != nil {
			return utils.MakeError(ErrPageFault, "swap write at 0x%x: %v", addr, err)
		}
		e.SetX(f.Xd, old)
		return nil
	}
}

func opADRP(e *Emulator, f isa.Fields) error {
	e.SetX(f.Xd, uint32(f.Imm)<<12)
	return nil
}

func opB(e *Emulator, f isa.Fields) error {
	if !isa.TestCondition(e.pstate, f.Cond) {
		return nil
	}
	e.pc = uint32(int32(e.pc) + f.Imm*4 - 4) // -4 compensates Step's post-dispatch pc += 4
	return nil
}

func opBL(e *Emulator, f isa.Fields) error {
	e.SetX(isa.LR, e.pc+4)
	return opB(e, f)
}

func opBX(e *Emulator, f isa.Fields) error {
	if !isa.TestCondition(e.pstate, f.Cond) {
		return nil
	}
	e.pc = e.X(f.Xd) - 4
	return nil
}

func opBLX(e *Emulator, f isa.Fields) error {
	if !isa.TestCondition(e.pstate, f.Cond) {
		return nil
	}
	link := e.pc + 4
	target := e.X(f.Xd)
	e.SetX(isa.LR, link)
	e.pc = target - 4
	return nil
}

// Syscall numbers for the swi emulator-test subset, per spec.md §4.8.
const (
	syscallPrint    = 1000
	syscallPrintReg = 1001
	syscallPrintMem = 1002
	syscallPrintPS  = 1003
	syscallAssertReg = 1010
	syscallAssertMem = 1011
	syscallAssertPS  = 1012
)

// ErrBadSyscall marks an unrecognized swi syscall number.
var ErrBadSyscall = errors.New("emulator: bad syscall number")

func opSWI(e *Emulator, f isa.Fields) error {
	nr := e.X(8)
	switch nr {
	case syscallPrint:
		fmt.Fprintln(e.out)
		return nil
	case syscallPrintReg:
		reg := int(e.X(0))
		fmt.Fprintf(e.out, "x%d = 0x%x\n", reg, e.X(reg))
		return nil
	case syscallPrintMem:
		addr, size, endian := e.X(0), e.X(1), e.X(2)
		v, err := e.readSized(addr, int(size), endian != 0)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "[0x%x:%d] = 0x%x\n", addr, size, v)
		return nil
	case syscallPrintPS:
		fmt.Fprintf(e.out, "pstate = 0x%x\n", e.pstate)
		return nil
	case syscallAssertReg:
		reg, lo, hi := int(e.X(0)), e.X(1), e.X(2)
		v := e.X(reg)
		if v < lo || v > hi {
			return utils.MakeError(ErrFailedAssert, "x%d = 0x%x not in [0x%x, 0x%x]", reg, v, lo, hi)
		}
		return nil
	case syscallAssertMem:
		addr, size, endian, lo, hi := e.X(0), e.X(1), e.X(2), e.X(3), e.X(4)
		v, err := e.readSized(addr, int(size), endian != 0)
		if err != nil {
			return err
		}
		if v < lo || v > hi {
			return utils.MakeError(ErrFailedAssert, "[0x%x:%d] = 0x%x not in [0x%x, 0x%x]", addr, size, v, lo, hi)
		}
		return nil
	case syscallAssertPS:
		flag, expected := e.X(0), e.X(1)
		got := uint32(0)
		if e.pstate&flag != 0 {
			got = 1
		}
		if got != expected {
			return utils.MakeError(ErrFailedAssert, "pstate flag 0x%x = %v, expected %v", flag, got, expected)
		}
		return nil
	default:
		return utils.MakeError(ErrBadSyscall, "%v", nr)
	}
}

// readSized reads a 1/2/4-byte value at addr, optionally byte-swapping for
// big-endian display (the bus itself is always little-endian on the wire).
func (e *Emulator) readSized(addr uint32, size int, bigEndian bool) (uint32, error) {
	var v uint32
	var err error
	switch size {
	case 1:
		var b byte
		b, err = e.bus.ReadByte(addr)
		v = uint32(b)
	case 2:
		var h uint16
		h, err = e.bus.ReadHalf(addr)
		if bigEndian {
			h = h>>8 | h<<8
		}
		v = uint32(h)
	default:
		v, err = e.bus.ReadWord(addr)
		if bigEndian {
			v = (v>>24)&0xFF | (v>>8)&0xFF00 | (v<<8)&0xFF0000 | (v<<24)&0xFF000000
		}
	}
	return v, err
}
