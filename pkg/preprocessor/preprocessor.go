// Package preprocessor expands #include, #macro/#invoke/#macret, #define
// (with parameters) and #if*/#else*/#endif conditionals over a token
// stream, in place, before the assembler's first pass sees it.
package preprocessor

import (
	"errors"

	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

var (
	ErrDirectiveNotAlone     = errors.New("preprocessor: directive must be the only content on its line")
	ErrDuplicateParam        = errors.New("preprocessor: duplicate parameter name")
	ErrUnclosedMacro         = errors.New("preprocessor: unclosed #macro body")
	ErrMacroRedefined        = errors.New("preprocessor: macro redefined at the same arity")
	ErrUndefinedMacro        = errors.New("preprocessor: invoke of undefined macro")
	ErrUndefinedSymbol       = errors.New("preprocessor: use of undefined symbol at that arity")
	ErrIncludeNotFound       = errors.New("preprocessor: include file not found")
	ErrAmbiguousInclude      = errors.New("preprocessor: ambiguous system include")
	ErrInclude               = errors.New("preprocessor: error processing included file")
	ErrUnbalancedConditional = errors.New("preprocessor: unbalanced conditional block")
	ErrBadConditional        = errors.New("preprocessor: malformed conditional directive")
	ErrStrayMacret           = errors.New("preprocessor: #macret outside a macro invocation")
	ErrStrayMacend           = errors.New("preprocessor: #macend without matching #macro")
	ErrStrayConditional      = errors.New("preprocessor: #else/#endif without matching #if")
)

// Macro is a #macro...#macend body, keyed by name and arity so that
// overloading on parameter count is possible.
type Macro struct {
	Name   string
	Params []string
	Body   []token.Token
}

// Define is a #define binding, also keyed by name and arity. A 0-arity
// Define is both a plain symbol substitution and the representation a
// #macro parameter takes for the duration of its invocation.
type Define struct {
	Name   string
	Params []string
	Body   []token.Token
}

// invokeFrame tracks the single live #invoke this preprocessor instance is
// currently expanding the body of, so #macret can find the output binding
// it is meant to feed.
type invokeFrame struct {
	outputSymbol string
	hasOutput    bool
}

// Preprocessor holds the macro/define tables and system include search path
// for one pass over a token stream. #include splices in the result of a
// fresh Preprocessor run over the included file, so nested includes never
// see each other's macro/define tables.
type Preprocessor struct {
	includeDirs []string
	baseDir     string
	tokenizeSeq int

	macros  map[string]map[int]*Macro
	defines map[string]map[int]*Define
}

// New creates a Preprocessor that searches systemIncludeDirs, in order, for
// any include path not found relative to the including file.
func New(systemIncludeDirs []string) *Preprocessor {
	return &Preprocessor{
		includeDirs: systemIncludeDirs,
		macros:      map[string]map[int]*Macro{},
		defines:     map[string]map[int]*Define{},
	}
}

// DefineFromFlag registers a `-D KEY[=VALUE]` command-line definition as a
// 0-arity define, lexing VALUE the same way source text would be.
func (p *Preprocessor) DefineFromFlag(spec string) error {
	name, value, hasValue := cut(spec, "=")
	var body []token.Token
	if hasValue && value != "" {
		toks, err := token.Lex(value, -1, false)
		if err != nil {
			return err
		}
		body = toks
	}
	if p.defines[name] == nil {
		p.defines[name] = map[int]*Define{}
	}
	p.defines[name][0] = &Define{Name: name, Body: body}
	return nil
}

func cut(s, sep string) (before, after string, found bool) {
	for i := 0; i+len(sep) <= len(s); i++ {
		if s[i:i+len(sep)] == sep {
			return s[:i], s[i+len(sep):], true
		}
	}
	return s, "", false
}

// Process runs the single linear pass over s, splicing and skip-flagging in
// place. baseDir resolves quoted #include paths relative to the file s was
// lexed from.
func (p *Preprocessor) Process(s *token.Stream, baseDir string) error {
	p.baseDir = baseDir
	for s.HasNext() {
		if err := p.dispatchOne(s); err != nil {
			return err
		}
	}
	return nil
}

// dispatchOne handles exactly the directive or symbol at the stream's
// current cursor, or advances over a plain token.
func (p *Preprocessor) dispatchOne(s *token.Stream) error {
	t := s.GetToken()
	if t == nil {
		return nil
	}
	switch {
	case t.Kind == token.PPInclude:
		return p.handleInclude(s)
	case t.Kind == token.PPDefine:
		return p.handleDefine(s)
	case t.Kind == token.PPUndef:
		return p.handleUndef(s)
	case t.Kind == token.PPMacro:
		return p.handleMacro(s)
	case t.Kind == token.PPInvoke:
		return p.handleInvoke(s)
	case t.Kind == token.PPMacret:
		return utils.MakeError(ErrStrayMacret, "line %v", t.Line)
	case t.Kind == token.PPMacend:
		return utils.MakeError(ErrStrayMacend, "line %v", t.Line)
	case token.ConditionalDirectives.Has(t.Kind):
		return p.handleConditional(s)
	case token.ElseDirectives.Has(t.Kind) || t.Kind == token.PPEndif:
		return utils.MakeError(ErrStrayConditional, "line %v: %v", t.Line, t.Kind)
	case t.Kind == token.Symbol:
		return p.handleSymbolUse(s)
	default:
		_, err := s.Consume()
		return err
	}
}

// consumeLineEnd requires the rest of the current line to be blank: trailing
// spaces, then a newline (or EOF for the last line of the file).
func consumeLineEnd(s *token.Stream) error {
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	if !s.HasNext() {
		return nil
	}
	t := s.GetToken()
	if t.Kind == token.WhitespaceNewline {
		_, err := s.Consume()
		return err
	}
	return utils.MakeError(ErrDirectiveNotAlone, "line %v: got %v", t.Line, t.Kind)
}

func compact(ts []token.Token) []token.Token {
	out := make([]token.Token, 0, len(ts))
	for _, t := range ts {
		if !t.Skip {
			out = append(out, t)
		}
	}
	return out
}
