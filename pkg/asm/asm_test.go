package asm

import (
	"testing"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assembleSource(t *testing.T, source string) (*Assembler, *belf.ObjectFile) {
	t.Helper()

	tokens, err := token.Lex(source, 0, false)
	require.NoError(t, err)

	a := New(token.New(tokens))
	obj, err := a.Assemble()
	require.NoError(t, err)
	return a, obj
}

func TestAssembleSimpleFunction(t *testing.T) {
	source := "text\n" +
		"add x0, x1, x2\n" +
		"ret\n"

	_, obj := assembleSource(t, source)
	require.Len(t, obj.Text, 2)
	require.Empty(t, obj.RelText)
}

func TestLocalBranchResolvesWithinFunction(t *testing.T) {
	source := "text\n" +
		"loop:\n" +
		"add x0, x0, x1\n" +
		"b loop\n"

	_, obj := assembleSource(t, source)
	require.Len(t, obj.Text, 2)
	assert.Empty(t, obj.RelText, "a backward in-text branch should resolve locally and be dropped")

	// b loop targets word index 0 from word index 1: offset -1.
	word := obj.Text[1]
	imm := int32(word) >> 10
	assert.EqualValues(t, -1, imm)
}

func TestForwardBranchToGlobalSymbolStaysForLinker(t *testing.T) {
	source := "global target\n" +
		"text\n" +
		"b target\n" +
		"nop\n"

	_, obj := assembleSource(t, source)
	require.Len(t, obj.RelText, 1)
	assert.Equal(t, belf.RelocBOffset22, obj.RelText[0].Type)
}

func TestScopeMangling(t *testing.T) {
	source := "text\n" +
		"scope\n" +
		"inner:\n" +
		"b inner\n" +
		"scend\n"

	_, obj := assembleSource(t, source)
	assert.Empty(t, obj.RelText, "a scoped local branch should resolve against the mangled label")

	found := false
	for idx, sym := range obj.Symbols {
		if obj.Strings[idx] == "inner::SCOPE:0" {
			found = true
			assert.Equal(t, belf.BindingLocal, sym.Binding)
		}
	}
	assert.True(t, found, "expected a scope-mangled symbol entry for 'inner'")
}

func TestGlobalDirectiveOutsideSectionRequired(t *testing.T) {
	source := "text\n" +
		"global foo\n"

	tokens, err := token.Lex(source, 0, false)
	require.NoError(t, err)
	a := New(token.New(tokens))
	_, err = a.Assemble()
	require.ErrorIs(t, err, ErrMisplacedGlobal)
}

func TestLabelOutsideSectionIsError(t *testing.T) {
	source := "foo:\n" +
		"text\n"

	tokens, err := token.Lex(source, 0, false)
	require.NoError(t, err)
	a := New(token.New(tokens))
	_, err = a.Assemble()
	require.ErrorIs(t, err, ErrLabelOutsideSection)
}

func TestOrgRejectsBackwardMove(t *testing.T) {
	source := "text\n" +
		"org 16\n" +
		"org 4\n"

	tokens, err := token.Lex(source, 0, false)
	require.NoError(t, err)
	a := New(token.New(tokens))
	_, err = a.Assemble()
	require.ErrorIs(t, err, ErrBackwardsCursor)
}

func TestOrgRejectsMisalignedTextTarget(t *testing.T) {
	source := "text\n" +
		"org 2\n"

	tokens, err := token.Lex(source, 0, false)
	require.NoError(t, err)
	a := New(token.New(tokens))
	_, err = a.Assemble()
	require.ErrorIs(t, err, ErrMisaligned)
}

func TestDataDirectives(t *testing.T) {
	source := "data\n" +
		"byte 1, 2, 3\n" +
		"word $11223344\n" +
		"ascii \"hi\"\n" +
		"asciz \"x\"\n" +
		"char 'A', 'B'\n"

	_, obj := assembleSource(t, source)
	want := []byte{1, 2, 3, 0x44, 0x33, 0x22, 0x11, 'h', 'i', 'x', 0, 'A', 'B'}
	assert.Equal(t, want, obj.Data)
}

// TestAssembleDotPrefixedSpecSyntax mirrors spec.md §8 scenario 1's
// canonical worked example, written with the documented `.`-prefixed
// directive spelling rather than the bare-keyword shortcut used elsewhere
// in this file.
func TestAssembleDotPrefixedSpecSyntax(t *testing.T) {
	source := ".text\n" +
		"_start: mov x0, 10\n" +
		"hlt\n"

	_, obj := assembleSource(t, source)
	require.Len(t, obj.Text, 2)

	sym, _, ok := obj.Symbol("_start")
	require.True(t, ok)
	assert.EqualValues(t, 0, sym.Value)
}

// TestAssembleDotPrefixedScopeDirectives mirrors the `.scope`/`.scend`
// spelling the preprocessor's own `#invoke` expansion now splices into the
// stream, confirming the assembler consumes the folded single-token form.
func TestAssembleDotPrefixedScopeDirectives(t *testing.T) {
	source := ".text\n" +
		".scope\n" +
		"inner:\n" +
		"b inner\n" +
		".scend\n"

	_, obj := assembleSource(t, source)
	assert.Empty(t, obj.RelText, "a scoped local branch should resolve against the mangled label")
}

func TestGlobalSymbolSurvivesLaterRelocationReference(t *testing.T) {
	// A global defined before a later reference to it must keep
	// its recorded value; recording the relocation's placeholder symbol
	// must not clobber an already-defined entry.
	source := "global start\n" +
		"text\n" +
		"start:\n" +
		"add x0, x0, x1\n" +
		"b start\n"

	_, obj := assembleSource(t, source)
	sym, _, ok := obj.Symbol("start")
	require.True(t, ok)
	assert.EqualValues(t, 0, sym.Value)
	assert.Empty(t, obj.RelText)
}
