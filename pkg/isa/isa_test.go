package isa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMnemonicRoundTrip(t *testing.T) {
	for op := OpCode(0); int(op) < TotalOpCodes; op++ {
		mnemonic := op.Mnemonic()
		require.NotEqual(t, "?", mnemonic, "opcode %d missing from opcodeTable", op)

		got, err := ParseMnemonic(mnemonic)
		require.NoError(t, err)
		assert.Equal(t, op, got)

		// case-insensitive
		upper, err := ParseMnemonic(stringsToUpper(mnemonic))
		require.NoError(t, err)
		assert.Equal(t, op, upper)
	}
}

func stringsToUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestParseMnemonicUnknown(t *testing.T) {
	_, err := ParseMnemonic("frobnicate")
	require.ErrorIs(t, err, ErrUnknownOpCode)
}

func TestDecodeOpCodeUnmappedFallsBackToHalt(t *testing.T) {
	op, err := DecodeOpCode(uint32(TotalOpCodes))
	require.ErrorIs(t, err, ErrUnmappedOpCode)
	assert.Equal(t, OpHLT, op)
}

func TestDecodeOpCodeKnown(t *testing.T) {
	op, err := DecodeOpCode(uint32(OpADD))
	require.NoError(t, err)
	assert.Equal(t, OpADD, op)
}

func TestEncodeDecodeFormatORegisterForm(t *testing.T) {
	in := Fields{S: true, Xd: 1, Xn: 2, Xm: 3, ShiftKind: 2, ShiftAmt: 7}
	word := Encode(OpADD, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpADD, op)
	assert.True(t, out.S)
	assert.Equal(t, 1, out.Xd)
	assert.Equal(t, 2, out.Xn)
	assert.Equal(t, 3, out.Xm)
	assert.False(t, out.ImmFlag)
	assert.EqualValues(t, 2, out.ShiftKind)
	assert.EqualValues(t, 7, out.ShiftAmt)
}

func TestEncodeDecodeFormatOImmediateForm(t *testing.T) {
	in := Fields{Xd: 4, Xn: 5, ImmFlag: true, Imm: -100}
	word := Encode(OpSUB, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpSUB, op)
	assert.Equal(t, 4, out.Xd)
	assert.Equal(t, 5, out.Xn)
	assert.True(t, out.ImmFlag)
	assert.EqualValues(t, -100, out.Imm)
}

func TestEncodeDecodeFormatO1Shift(t *testing.T) {
	in := Fields{Xd: 10, Xn: 11, ImmFlag: true, Imm: 31}
	word := Encode(OpLSL, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpLSL, op)
	assert.Equal(t, 10, out.Xd)
	assert.Equal(t, 11, out.Xn)
	assert.EqualValues(t, 31, out.Imm)
}

func TestEncodeDecodeFormatO2LongMultiply(t *testing.T) {
	in := Fields{Xd: 1, XdHi: 2, Xn: 3, Xm: 4}
	word := Encode(OpUMULL, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpUMULL, op)
	assert.Equal(t, 1, out.Xd)
	assert.Equal(t, 2, out.XdHi)
	assert.Equal(t, 3, out.Xn)
	assert.Equal(t, 4, out.Xm)
}

func TestEncodeDecodeFormatO3MovImmediate(t *testing.T) {
	in := Fields{Xd: 9, ImmFlag: true, Imm: -262144} // low end of a 19-bit signed range
	word := Encode(OpMOV, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpMOV, op)
	assert.Equal(t, 9, out.Xd)
	assert.EqualValues(t, -262144, out.Imm)
}

func TestEncodeDecodeFormatO3MovRegisterShifted(t *testing.T) {
	in := Fields{Xd: 9, Xn: 8, ImmFlag: false, Imm: 5}
	word := Encode(OpMOV, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpMOV, op)
	assert.Equal(t, 9, out.Xd)
	assert.Equal(t, 8, out.Xn)
	assert.EqualValues(t, 5, out.Imm)
}

func TestEncodeDecodeFormatMLoadStore(t *testing.T) {
	in := Fields{S: true, Xd: 3, Xn: 4, ImmFlag: true, Imm: -2048, AddrMode: 1}
	word := Encode(OpLDR, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpLDR, op)
	assert.True(t, out.S)
	assert.Equal(t, 3, out.Xd)
	assert.Equal(t, 4, out.Xn)
	assert.EqualValues(t, -2048, out.Imm)
	assert.EqualValues(t, 1, out.AddrMode)
}

func TestEncodeDecodeFormatMRegisterOffset(t *testing.T) {
	in := Fields{Xd: 3, Xn: 4, Xm: 5, AddrMode: 2}
	word := Encode(OpSTR, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpSTR, op)
	assert.Equal(t, 5, out.Xm)
	assert.EqualValues(t, 2, out.AddrMode)
}

func TestEncodeDecodeFormatM1Adrp(t *testing.T) {
	in := Fields{S: false, Xd: 6, Imm: -524288} // low end of a 20-bit signed range
	word := Encode(OpADRP, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpADRP, op)
	assert.Equal(t, 6, out.Xd)
	assert.EqualValues(t, -524288, out.Imm)
}

func TestEncodeDecodeFormatB1Branch(t *testing.T) {
	in := Fields{Cond: CondAL, Imm: -2097152} // low end of a 22-bit signed range
	word := Encode(OpB, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpB, op)
	assert.Equal(t, CondAL, out.Cond)
	assert.EqualValues(t, -2097152, out.Imm)
}

func TestEncodeDecodeFormatB2RegisterBranch(t *testing.T) {
	in := Fields{Cond: CondEQ, Xd: 12}
	word := Encode(OpBX, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpBX, op)
	assert.Equal(t, CondEQ, out.Cond)
	assert.Equal(t, 12, out.Xd)
}

func TestEncodeDecodeFormatSWI(t *testing.T) {
	in := Fields{Imm: 42}
	word := Encode(OpSWI, in)

	op, out, err := Decode(word)
	require.NoError(t, err)
	assert.Equal(t, OpSWI, op)
	assert.EqualValues(t, 42, out.Imm)
}

func TestStringRendersRetForLinkRegisterBranch(t *testing.T) {
	s := String(OpBX, Fields{Xd: LR})
	assert.Equal(t, "ret", s)

	s = String(OpBLX, Fields{Xd: LR})
	assert.Equal(t, "ret", s)
}

func TestStringRendersRegisterBranchWithCondition(t *testing.T) {
	s := String(OpBX, Fields{Xd: 3, Cond: CondEQ})
	assert.Equal(t, "bx.EQ x3", s)
}

func TestParseRegisterAliases(t *testing.T) {
	cases := map[string]int{
		"x0": 0, "X0": 0, "x29": 29,
		"sp": SP, "x30": SP,
		"xzr": XZR, "x31": XZR,
		"lr": LR,
	}
	for name, want := range cases {
		got, err := ParseRegister(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, "register %q", name)
	}
}

func TestParseRegisterUnknown(t *testing.T) {
	_, err := ParseRegister("x99")
	require.ErrorIs(t, err, ErrUnknownRegister)
}

func TestRegisterNameOutOfRange(t *testing.T) {
	assert.Equal(t, "?", RegisterName(-1))
	assert.Equal(t, "?", RegisterName(NumRegisters))
}

func TestIsRegisterToken(t *testing.T) {
	assert.True(t, IsRegisterToken("sp"))
	assert.True(t, IsRegisterToken("X5"))
	assert.False(t, IsRegisterToken("loop"))
}

func TestParseConditionAliases(t *testing.T) {
	cases := map[string]Condition{
		"eq": CondEQ, "hs": CondCS, "cs": CondCS,
		"lo": CondCC, "cc": CondCC, "al": CondAL, "nv": CondNV,
	}
	for suffix, want := range cases {
		got, err := ParseCondition(suffix)
		require.NoError(t, err)
		assert.Equal(t, want, got, "condition %q", suffix)
	}
}

func TestParseConditionUnknown(t *testing.T) {
	_, err := ParseCondition("zz")
	require.ErrorIs(t, err, ErrUnknownCondition)
}

func TestTestConditionTruthTable(t *testing.T) {
	cases := []struct {
		name   string
		pstate uint32
		cond   Condition
		want   bool
	}{
		{"eq/z set", FlagZ, CondEQ, true},
		{"eq/z clear", 0, CondEQ, false},
		{"ne/z clear", 0, CondNE, true},
		{"cs/c set", FlagC, CondCS, true},
		{"cc/c clear", 0, CondCC, true},
		{"mi/n set", FlagN, CondMI, true},
		{"pl/n clear", 0, CondPL, true},
		{"vs/v set", FlagV, CondVS, true},
		{"vc/v clear", 0, CondVC, true},
		{"hi/c set z clear", FlagC, CondHI, true},
		{"hi/c set z set", FlagC | FlagZ, CondHI, false},
		{"ls/c clear", 0, CondLS, true},
		{"ge/n==v both clear", 0, CondGE, true},
		{"ge/n==v both set", FlagN | FlagV, CondGE, true},
		{"lt/n!=v", FlagN, CondLT, true},
		{"gt/z clear n==v", 0, CondGT, true},
		{"gt/z set", FlagZ, CondGT, false},
		{"le/z set", FlagZ, CondLE, true},
		{"le/n!=v", FlagN, CondLE, true},
		{"al always true", 0, CondAL, true},
		{"nv always false", FlagN | FlagZ | FlagC | FlagV, CondNV, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, TestCondition(c.pstate, c.cond))
		})
	}
}

func TestComputeCompareFlagsEqual(t *testing.T) {
	flags := ComputeCompareFlags(5, 5)
	assert.NotZero(t, flags&FlagZ)
	assert.Zero(t, flags&FlagN)
	assert.NotZero(t, flags&FlagC, "lhs >= rhs sets carry")
}

func TestComputeCompareFlagsBorrow(t *testing.T) {
	flags := ComputeCompareFlags(1, 2)
	assert.Zero(t, flags&FlagZ)
	assert.Zero(t, flags&FlagC, "lhs < rhs clears carry")
}

func TestComputeCompareFlagsOverflow(t *testing.T) {
	// MinInt32 - 1 overflows a signed subtraction.
	flags := ComputeCompareFlags(0x80000000, 1)
	assert.NotZero(t, flags&FlagV)
}
