package token

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/emu32dev/emu32/pkg/utils"
)

// ErrNoMatch means the cursor's remaining source did not match any entry in
// spec, an internal inconsistency the spec table is meant to rule out.
var ErrNoMatch = errors.New("token: could not match any token to remaining source")

type specEntry struct {
	pattern *regexp.Regexp
	kind    Kind
}

// spec is the ordered (anchored regex, kind) table tried at the current
// cursor when the keyword fast-path below does not match.
var spec = []specEntry{
	{regexp.MustCompile(`^\\\n`), LineContinuation},
	{regexp.MustCompile(`^ `), WhitespaceSpace},
	{regexp.MustCompile(`^\t`), WhitespaceTab},
	{regexp.MustCompile(`^\n`), WhitespaceNewline},
	{regexp.MustCompile(`^;\*[\s\S]*?\*;`), CommentMultiLine},
	{regexp.MustCompile(`^;.*`), CommentSingleLine},

	{regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*:`), Label},
	{regexp.MustCompile(`^\{`), OpenBrace},
	{regexp.MustCompile(`^\}`), CloseBrace},
	{regexp.MustCompile(`^\[`), OpenBracket},
	{regexp.MustCompile(`^\]`), CloseBracket},
	{regexp.MustCompile(`^\(`), OpenParenthesis},
	{regexp.MustCompile(`^\)`), CloseParenthesis},

	{regexp.MustCompile(`^[0-9]*\.[0-9]+`), LiteralFloat32},
	{regexp.MustCompile(`^%[0-1]+`), LiteralNumberBinary},
	{regexp.MustCompile(`^@[0-7]+`), LiteralNumberOctal},
	{regexp.MustCompile(`^\$[0-9a-fA-F]+`), LiteralNumberHexadecimal},
	{regexp.MustCompile(`^[0-9]+`), LiteralNumberDecimal},

	{regexp.MustCompile(`^'.'`), LiteralChar},
	{regexp.MustCompile(`^"([^"\\]|\\.)*"`), LiteralString},
	{regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*`), Symbol},

	{regexp.MustCompile(`^,`), Comma},
	{regexp.MustCompile(`^:`), Colon},
	{regexp.MustCompile(`^\.`), Period},
	{regexp.MustCompile(`^;`), Semicolon},
	{regexp.MustCompile(`^#`), Hash},

	{regexp.MustCompile(`^\+`), OperatorAdd},
	{regexp.MustCompile(`^-`), OperatorSub},
	{regexp.MustCompile(`^\*`), OperatorMul},
	{regexp.MustCompile(`^/`), OperatorDiv},
	{regexp.MustCompile(`^%`), OperatorMod},
	{regexp.MustCompile(`^<<`), OperatorShl},
	{regexp.MustCompile(`^>>`), OperatorShr},
	{regexp.MustCompile(`^\^`), OperatorXor},
	{regexp.MustCompile(`^&`), OperatorAnd},
	{regexp.MustCompile(`^\|`), OperatorOr},
	{regexp.MustCompile(`^~`), OperatorComplement},

	// whitespace runs other than space/tab/newline (e.g. \r)
	{regexp.MustCompile(`^[^\S\n\t]+`), WhitespaceSpace},
}

// keywords is the exact-match fast-path table for alphanumeric-leading
// tokens: registers, mnemonics, directives and condition suffixes. It is
// tried before falling back to the regex table, the same shortcut the
// reference tokenizer takes to avoid running ~50 regexes against every
// identifier-shaped token.
var keywords = map[string]Kind{
	"global": AsmGlobal, "extern": AsmExtern,
	"org": AsmOrg, "scope": AsmScope, "scend": AsmScend,
	"advance": AsmAdvance, "align": AsmAlign,
	"section": AsmSection, "bss": AsmBSS, "data": AsmData, "text": AsmText,
	"stop": AsmStop,
	"byte": AsmByte, "dbyte": AsmDByte, "word": AsmWord, "dword": AsmDWord,
	"sbyte": AsmSByte, "sdbyte": AsmSDByte, "sword": AsmSWord, "sdword": AsmSDWord,
	"char": AsmChar, "ascii": AsmAscii, "asciz": AsmAsciz,

	"include": PPInclude,
	"macro":   PPMacro, "macret": PPMacret, "macend": PPMacend, "invoke": PPInvoke,
	"define": PPDefine, "undef": PPUndef,
	"ifdef": PPIfdef, "ifndef": PPIfndef,
	"ifequ": PPIfequ, "ifnequ": PPIfnequ, "ifless": PPIfless, "ifmore": PPIfmore,
	"else": PPElse, "elsedef": PPElsedef, "elsendef": PPElsendef,
	"elseequ": PPElseequ, "elsenequ": PPElsenequ, "elseless": PPElseless, "elsemore": PPElsemore,
	"endif": PPEndif,
}

func init() {
	for i := 0; i <= 29; i++ {
		keywords["x"+strconv.Itoa(i)] = Register
	}
	keywords["sp"] = Register
	keywords["xzr"] = Register
	keywords["x30"] = Register
	keywords["x31"] = Register
	keywords["lr"] = Register

	for _, mnemonic := range []string{
		"hlt", "nop",
		"add", "adds", "sub", "subs", "rsb", "rsbs",
		"adc", "adcs", "sbc", "sbcs", "rsc", "rscs",
		"mul", "muls", "umull", "umulls", "smull", "smulls",
		"and", "ands", "orr", "orrs", "eor", "eors", "bic", "bics",
		"lsl", "lsls", "lsr", "lsrs", "asr", "asrs", "ror", "rors",
		"cmp", "cmn", "tst", "teq",
		"mov", "movs", "mvn", "mvns",
		"ldr", "ldrs", "str", "strs", "swp", "swps",
		"ldrb", "ldrsb", "strb", "strsb", "swpb", "swpsb",
		"ldrh", "ldrsh", "strh", "strsh", "swph", "swpsh",
		"b", "bl", "bx", "blx", "swi", "adrp",
		"ret",
		"vabs", "vneg", "vadd", "vsub", "vmul", "vdiv", "vsqrt", "vcmp", "vmov",
	} {
		keywords[mnemonic] = Instruction
	}

	for _, cond := range []string{
		"eq", "ne", "cs", "hs", "cc", "lo", "mi", "pl", "vs", "vc",
		"hi", "ls", "ge", "lt", "gt", "le", "al", "nv",
	} {
		keywords[cond] = Condition
	}
}

func isIdentByte(b byte, pos int) bool {
	if b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b == '_' {
		return true
	}
	if pos > 0 && b >= '0' && b <= '9' {
		return true
	}
	return false
}

func identRunLen(s string) int {
	n := 0
	for n < len(s) && isIdentByte(s[n], n) {
		n++
	}
	return n
}

// directivePrefixFold implements the reference tokenizer's is_alphanumeric
// index-0 special case: a leading '.' or '#' folds into the identifier run
// that follows it, so ".text"/"#include" lex as a single AsmXXX/PPXXX
// keyword token (Value including the prefix byte) rather than a standalone
// Period/Hash followed by a bare keyword. Only directive keywords fold this
// way — ".eq" (a branch condition suffix) must still lex as a separate
// Period + Condition pair, so a prefix whose following run resolves to
// anything other than an assembler/preprocessor directive is left alone for
// the regular regex table to handle.
func directivePrefixFold(source string) (Token, bool) {
	if len(source) == 0 {
		return Token{}, false
	}
	prefix := source[0]
	if prefix != '.' && prefix != '#' {
		return Token{}, false
	}

	rest := source[1:]
	n := identRunLen(rest)
	if n == 0 {
		return Token{}, false
	}

	kind, ok := keywords[strings.ToLower(rest[:n])]
	if !ok {
		return Token{}, false
	}
	if prefix == '.' && !AssemblerDirectives.Has(kind) {
		return Token{}, false
	}
	if prefix == '#' && !PreprocessorDirectives.Has(kind) {
		return Token{}, false
	}

	return Token{Kind: kind, Value: source[:1+n]}, true
}

// Lex tokenizes source into a raw token slice, tagging every token with
// tokenizeID. An empty source produces zero tokens.
func Lex(source string, tokenizeID int, keepComments bool) ([]Token, error) {
	var tokens []Token
	line := 1

	for len(source) > 0 {
		if fold, ok := directivePrefixFold(source); ok {
			fold.Line = line
			fold.TokenizeID = tokenizeID
			tokens = append(tokens, fold)
			source = source[len(fold.Value):]
			continue
		}

		// keyword fast-path: longest run of identifier bytes
		n := identRunLen(source)
		if n > 0 {
			if kind, ok := keywords[strings.ToLower(source[:n])]; ok {
				tokens = append(tokens, Token{Kind: kind, Value: source[:n], Line: line, TokenizeID: tokenizeID})
				source = source[n:]
				continue
			}
		}

		matched := false
		for _, entry := range spec {
			loc := entry.pattern.FindStringIndex(source)
			if loc == nil || loc[0] != 0 {
				continue
			}
			value := source[:loc[1]]
			if keepComments || (entry.kind != CommentSingleLine && entry.kind != CommentMultiLine) {
				tokens = append(tokens, Token{Kind: entry.kind, Value: value, Line: line, TokenizeID: tokenizeID})
			}
			line += strings.Count(value, "\n")
			source = source[loc[1]:]
			matched = true
			break
		}

		if !matched {
			return tokens, utils.MakeError(ErrNoMatch, "at line %v: %.20q", line, source)
		}
	}

	return tokens, nil
}
