package preprocessor

import (
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// consumeActuals parses a comma-separated, paren-balanced argument list up
// to (but not including) the closing parenthesis; the caller consumes that.
func consumeActuals(s *token.Stream) [][]token.Token {
	var actuals [][]token.Token
	var cur []token.Token
	seenAny := false
	depth := 0
	for {
		t := s.GetToken()
		if t == nil {
			break
		}
		if depth == 0 && t.Kind == token.CloseParenthesis {
			break
		}
		if t.Kind == token.OpenParenthesis {
			depth++
		}
		if t.Kind == token.CloseParenthesis {
			depth--
		}
		if depth == 0 && t.Kind == token.Comma {
			actuals = append(actuals, cur)
			cur = nil
			seenAny = true
			_, _ = s.Consume()
			continue
		}
		tok, _ := s.Consume()
		cur = append(cur, tok)
		seenAny = true
	}
	if seenAny {
		actuals = append(actuals, cur)
	}
	return actuals
}

// substituteParams splices each actual in place of the matching formal
// parameter symbol within body, leaving every other token untouched.
func substituteParams(params []string, actuals [][]token.Token, body []token.Token) []token.Token {
	if len(params) == 0 {
		return append([]token.Token(nil), body...)
	}
	idx := make(map[string]int, len(params))
	for i, name := range params {
		idx[name] = i
	}
	out := make([]token.Token, 0, len(body))
	for _, t := range body {
		if t.Kind == token.Symbol {
			if i, ok := idx[t.Value]; ok && i < len(actuals) {
				out = append(out, actuals[i]...)
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// handleSymbolUse expands a bare SYMBOL reference to a #define binding,
// with an optional parenthesized actual-argument list selecting the
// binding's arity. A symbol with no matching #define is left verbatim: it
// is ordinary assembler input (a mnemonic operand, a label reference), not
// a preprocessor symbol.
func (p *Preprocessor) handleSymbolUse(s *token.Stream) error {
	start := s.Toki()
	nameTok, err := s.Consume()
	if err != nil {
		return err
	}

	byArity, ok := p.defines[nameTok.Value]
	if !ok {
		return nil
	}

	var actuals [][]token.Token
	if s.IsNext(token.NewKindSet(token.OpenParenthesis)) && hasParamArity(byArity) {
		_, _ = s.Consume()
		actuals = consumeActuals(s)
		if _, err := s.ConsumeKind(token.NewKindSet(token.CloseParenthesis)); err != nil {
			return err
		}
	}

	arity := len(actuals)
	def, ok := byArity[arity]
	if !ok {
		return utils.MakeError(ErrUndefinedSymbol, "%q/%d", nameTok.Value, arity)
	}

	end := s.Toki()
	expansion := substituteParams(def.Params, actuals, def.Body)

	s.RemoveTokens(start, end)
	st := s.GetState()
	s.InsertTokens(expansion, end)
	st.Toki = end
	s.SetState(st)
	return nil
}

func hasParamArity(byArity map[int]*Define) bool {
	for arity := range byArity {
		if arity > 0 {
			return true
		}
	}
	return false
}
