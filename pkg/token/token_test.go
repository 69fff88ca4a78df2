package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexRoundTrip(t *testing.T) {
	src := ".text\n_start:\tmov x0, 10\n\thlt\n"

	tokens, err := Lex(src, 0, true)
	require.NoError(t, err)

	var rebuilt strings.Builder
	for _, tok := range tokens {
		rebuilt.WriteString(tok.Value)
	}
	assert.Equal(t, src, rebuilt.String())

	// ".text" must fold into a single AsmText token (matching the spec's
	// documented external syntax), not a Period followed by a bare keyword.
	require.NotEmpty(t, tokens)
	assert.Equal(t, AsmText, tokens[0].Kind)
	assert.Equal(t, ".text", tokens[0].Value)
}

// TestLexAssemblerDirectivesRequireSpecPrefix exercises every `.`-prefixed
// assembler directive spelling from spec.md's worked examples end to end,
// confirming each one lexes to a single AsmXXX token rather than a separate
// Period.
func TestLexAssemblerDirectivesRequireSpecPrefix(t *testing.T) {
	for _, src := range []string{".text", ".data", ".bss", ".global", ".extern", ".org", ".scope", ".scend", ".byte", ".ascii"} {
		tokens, err := Lex(src, 0, true)
		require.NoError(t, err, src)
		require.Len(t, tokens, 1, src)
		assert.True(t, AssemblerDirectives.Has(tokens[0].Kind), "%s: got %v", src, tokens[0].Kind)
		assert.Equal(t, src, tokens[0].Value)
	}
}

func TestLexKeywordFastPath(t *testing.T) {
	tokens, err := Lex("mov x0, sp", 0, true)
	require.NoError(t, err)

	require.NotEmpty(t, tokens)
	assert.Equal(t, Instruction, tokens[0].Kind)
	assert.Equal(t, "mov", tokens[0].Value)

	found := false
	for _, tok := range tokens {
		if tok.Value == "sp" {
			found = true
			assert.Equal(t, Register, tok.Kind)
		}
	}
	assert.True(t, found)
}

func TestLexDirectivesAndLiterals(t *testing.T) {
	tokens, err := Lex("#define FOO 1", 0, true)
	require.NoError(t, err)

	require.NotEmpty(t, tokens)
	kinds := make([]Kind, 0, len(tokens))
	for _, tok := range tokens {
		if tok.Kind != WhitespaceSpace {
			kinds = append(kinds, tok.Kind)
		}
	}
	assert.Contains(t, kinds, PPDefine)
	assert.Contains(t, kinds, Symbol)
	assert.Contains(t, kinds, LiteralNumberDecimal)

	// "#define" must fold into a single PPDefine token, not a standalone
	// Hash that the rest of the table has no entry for.
	require.NotEmpty(t, tokens)
	assert.Equal(t, PPDefine, tokens[0].Kind)
	assert.Equal(t, "#define", tokens[0].Value)
}

// TestLexPreprocessorDirectivesRequireSpecPrefix exercises every
// `#`-prefixed preprocessor directive spelling from spec.md's worked
// examples end to end, confirming each one lexes to a single PPXXX token.
func TestLexPreprocessorDirectivesRequireSpecPrefix(t *testing.T) {
	for _, src := range []string{"#include", "#define", "#undef", "#macro", "#macend", "#invoke", "#ifdef", "#ifequ", "#else", "#endif"} {
		tokens, err := Lex(src, 0, true)
		require.NoError(t, err, src)
		require.Len(t, tokens, 1, src)
		assert.Equal(t, src, tokens[0].Value)
	}
}

// TestLexHashOutsideDirectiveIsPunctuation exercises the standalone `#`
// lexical punctuation token from spec §6, for a `#` that does not introduce
// a recognized preprocessor directive.
func TestLexHashOutsideDirectiveIsPunctuation(t *testing.T) {
	tokens, err := Lex("#123", 0, true)
	require.NoError(t, err)
	require.NotEmpty(t, tokens)
	assert.Equal(t, Hash, tokens[0].Kind)
}

func TestLexCommentFiltering(t *testing.T) {
	src := "mov x0, 1 ; a comment\n"

	kept, err := Lex(src, 0, true)
	require.NoError(t, err)
	hasComment := false
	for _, tok := range kept {
		if tok.Kind == CommentSingleLine {
			hasComment = true
		}
	}
	assert.True(t, hasComment)

	filtered, err := Lex(src, 0, false)
	require.NoError(t, err)
	for _, tok := range filtered {
		assert.NotEqual(t, CommentSingleLine, tok.Kind)
	}
}

func TestStreamSkipStability(t *testing.T) {
	tokens, err := Lex("mov x0, 1\nhlt\n", 0, false)
	require.NoError(t, err)

	s := New(tokens)

	firstIdx := s.Toki()
	s.RemoveTokens(0, 1)

	// The index recorded before removal still identifies the same slot,
	// even though GetToken/Consume now skip past it.
	assert.True(t, tokens[firstIdx].Skip)

	tok, err := s.Consume()
	require.NoError(t, err)
	assert.NotEqual(t, Instruction, tok.Kind, "the removed instruction token must not be yielded")
}

func TestStreamConsumeAndIsNext(t *testing.T) {
	tokens, err := Lex("hlt", 0, false)
	require.NoError(t, err)

	s := New(tokens)
	require.True(t, s.IsNext(NewKindSet(Instruction)))

	tok, err := s.ConsumeKind(NewKindSet(Instruction))
	require.NoError(t, err)
	assert.Equal(t, "hlt", tok.Value)

	assert.False(t, s.HasNext())
	_, err = s.Consume()
	assert.ErrorIs(t, err, ErrUnexpectedEOF)
}

func TestStreamInsertTokens(t *testing.T) {
	tokens, err := Lex("hlt", 0, false)
	require.NoError(t, err)

	s := New(tokens)
	s.InsertTokens([]Token{{Kind: Instruction, Value: "nop"}}, 0)

	tok, err := s.Consume()
	require.NoError(t, err)
	assert.Equal(t, "nop", tok.Value)
}
