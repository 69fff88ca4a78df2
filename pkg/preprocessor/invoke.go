package preprocessor

import (
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// handleInvoke expands "#invoke NAME(actuals...) [output_symbol]" into a
// synthetic .scope / expanded-body / .scend block: push a scope, bind each
// formal parameter as a shadowed 0-arity #define of its actual, fully
// preprocess a private copy of the macro body (so nested #define/#invoke
// inside it resolve against the live parameter bindings), then splice the
// already-resolved body between the scope markers and restore whatever the
// parameters shadowed.
func (p *Preprocessor) handleInvoke(s *token.Stream) error {
	start := s.Toki()
	if _, err := s.Consume(); err != nil {
		return err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	nameTok, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
	if err != nil {
		return err
	}
	if _, err := s.ConsumeKind(token.NewKindSet(token.OpenParenthesis)); err != nil {
		return err
	}
	actuals := consumeActuals(s)
	if _, err := s.ConsumeKind(token.NewKindSet(token.CloseParenthesis)); err != nil {
		return err
	}

	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	var outputSymbol string
	hasOutput := false
	if s.IsNext(token.NewKindSet(token.Symbol)) {
		t, _ := s.Consume()
		outputSymbol = t.Value
		hasOutput = true
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}
	end := s.Toki()

	arity := len(actuals)
	byArity, ok := p.macros[nameTok.Value]
	if !ok {
		return utils.MakeError(ErrUndefinedMacro, "%q", nameTok.Value)
	}
	macro, ok := byArity[arity]
	if !ok {
		return utils.MakeError(ErrUndefinedMacro, "%q/%d", nameTok.Value, arity)
	}

	s.RemoveTokens(start, end)

	shadow := p.shadowParams(macro.Params, actuals)
	f := &invokeFrame{outputSymbol: outputSymbol, hasOutput: hasOutput}

	bodyStream := token.New(append([]token.Token(nil), macro.Body...))
	viaMacret, err := p.runBody(bodyStream, f)
	if err != nil {
		return err
	}
	if !viaMacret {
		p.restoreParams(shadow)
	}

	line := nameTok.Line
	synthetic := make([]token.Token, 0, len(bodyStream.Tokens())+4)
	synthetic = append(synthetic,
		token.Token{Kind: token.AsmScope, Value: ".scope", Line: line},
		token.Token{Kind: token.WhitespaceNewline, Value: "\n", Line: line},
	)
	synthetic = append(synthetic, compact(bodyStream.Tokens())...)
	synthetic = append(synthetic,
		token.Token{Kind: token.AsmScend, Value: ".scend", Line: line},
		token.Token{Kind: token.WhitespaceNewline, Value: "\n", Line: line},
	)

	st := s.GetState()
	s.InsertTokens(synthetic, end)
	st.Toki = end
	s.SetState(st)
	return nil
}

// shadowParams binds each macro parameter as a 0-arity #define of its
// actual-argument tokens, saving whatever binding (possibly none) it
// replaces so restoreParams can undo it.
func (p *Preprocessor) shadowParams(params []string, actuals [][]token.Token) map[string]map[int]*Define {
	shadow := make(map[string]map[int]*Define, len(params))
	for i, name := range params {
		shadow[name] = p.defines[name]
		var body []token.Token
		if i < len(actuals) {
			body = actuals[i]
		}
		p.defines[name] = map[int]*Define{0: {Name: name, Body: body}}
	}
	return shadow
}

func (p *Preprocessor) restoreParams(shadow map[string]map[int]*Define) {
	for name, prev := range shadow {
		if prev == nil {
			delete(p.defines, name)
		} else {
			p.defines[name] = prev
		}
	}
}

// runBody drives the normal dispatch loop over a macro body copy, except
// that a #macret token stops it early. Returns true iff #macret fired.
func (p *Preprocessor) runBody(s *token.Stream, f *invokeFrame) (bool, error) {
	for s.HasNext() {
		t := s.GetToken()
		if t.Kind == token.PPMacret {
			if err := p.handleMacret(s, f); err != nil {
				return false, err
			}
			return true, nil
		}
		if err := p.dispatchOne(s); err != nil {
			return false, err
		}
	}
	return false, nil
}

// handleMacret implements "#macret expr": it fast-forwards the body cursor
// to the end of the macro body by balancing any .scope/.scend pairs
// literally written inside the remaining body, binds the invocation's
// output symbol (if any) to the expanded expr, and returns. This pops the
// invocation's parameter bindings only through the caller skipping the
// normal restoreParams call — preserving the documented leak: if #macret
// fires before the invoke's own synthetic .scend would have run, the
// parameter shadows are never restored.
func (p *Preprocessor) handleMacret(s *token.Stream, f *invokeFrame) error {
	start := s.Toki()
	if _, err := s.Consume(); err != nil {
		return err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))

	var exprToks []token.Token
	for s.HasNext() {
		t := s.GetToken()
		if t.Kind == token.WhitespaceNewline {
			break
		}
		tok, _ := s.Consume()
		exprToks = append(exprToks, tok)
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}

	depth := 0
	for s.HasNext() {
		t := s.GetToken()
		switch t.Kind {
		case token.AsmScope:
			depth++
			_, _ = s.Consume()
		case token.AsmScend:
			if depth == 0 {
				_, _ = s.Consume()
				goto doneBalancing
			}
			depth--
			_, _ = s.Consume()
		default:
			_, _ = s.Consume()
		}
	}
doneBalancing:

	end := s.Toki()
	s.RemoveTokens(start, end)

	if f.hasOutput {
		resolved, err := p.expandExprTokens(exprToks)
		if err != nil {
			return err
		}
		p.defines[f.outputSymbol] = map[int]*Define{0: {Name: f.outputSymbol, Body: resolved}}
	}
	return nil
}

// expandExprTokens resolves any live #define references inside a raw token
// run, the way #macret's bound expression is meant to be evaluated against
// the still-live parameter bindings.
func (p *Preprocessor) expandExprTokens(toks []token.Token) ([]token.Token, error) {
	s := token.New(append([]token.Token(nil), toks...))
	for s.HasNext() {
		if err := p.dispatchOne(s); err != nil {
			return nil, err
		}
	}
	return compact(s.Tokens()), nil
}
