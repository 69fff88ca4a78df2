package preprocessor

import (
	"strings"

	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// handleConditional resolves a whole #if*/#else*/#endif chain in one call:
// it walks every branch in source order, evaluating each guard in turn
// (skipping guard evaluation once an earlier branch has already been
// chosen), records the first branch whose guard is true, then removes
// every directive token and every branch body except the chosen one
// (removing all of it, including the trailing #endif, when none matched).
func (p *Preprocessor) handleConditional(s *token.Stream) error {
	start := s.Toki()
	preState := s.GetState()

	kind := s.GetToken().Kind
	cond, err := p.parseConditionalHeader(s, kind)
	if err != nil {
		return err
	}

	type segment struct {
		bodyStart, bodyEnd int
		taken              bool
	}
	var segments []segment
	curTaken := cond
	curStart := s.Toki()

	for {
		sepKind, err := scanBody(s)
		if err != nil {
			return err
		}
		bodyEnd := s.Toki()
		segments = append(segments, segment{bodyStart: curStart, bodyEnd: bodyEnd, taken: curTaken})

		if sepKind == token.PPEndif {
			if _, err := s.Consume(); err != nil {
				return err
			}
			if err := consumeLineEnd(s); err != nil {
				return err
			}
			break
		}

		alreadyChosen := false
		for _, seg := range segments {
			if seg.taken {
				alreadyChosen = true
			}
		}

		var segCond bool
		if sepKind == token.PPElse {
			if _, err := s.Consume(); err != nil {
				return err
			}
			if err := consumeLineEnd(s); err != nil {
				return err
			}
			segCond = !alreadyChosen
		} else {
			c, err := p.parseConditionalHeader(s, sepKind)
			if err != nil {
				return err
			}
			segCond = c && !alreadyChosen
		}
		curTaken = segCond
		curStart = s.Toki()
	}

	end := s.Toki()

	var keepStart, keepEnd int
	for _, seg := range segments {
		if seg.taken {
			keepStart, keepEnd = seg.bodyStart, seg.bodyEnd
			break
		}
	}

	s.RemoveTokens(start, end)
	if keepEnd > keepStart {
		toks := s.Tokens()
		for i := keepStart; i < keepEnd; i++ {
			toks[i].Skip = false
		}
	}

	preState.Toki = start
	s.SetState(preState)
	return nil
}

// scanBody consumes tokens up to (not including) the next depth-0
// else-family directive or #endif, transparently balancing any nested
// #if*/#endif pairs along the way.
func scanBody(s *token.Stream) (token.Kind, error) {
	depth := 0
	for {
		if !s.HasNext() {
			return 0, utils.MakeError(ErrUnbalancedConditional, "missing #endif")
		}
		t := s.GetToken()
		switch {
		case token.ConditionalDirectives.Has(t.Kind):
			depth++
		case t.Kind == token.PPEndif:
			if depth == 0 {
				return token.PPEndif, nil
			}
			depth--
		case depth == 0 && token.ElseDirectives.Has(t.Kind):
			return t.Kind, nil
		}
		if _, err := s.Consume(); err != nil {
			return 0, err
		}
	}
}

// parseConditionalHeader consumes a single #if*/#else* directive's own
// token (already peeked as kind) plus its operands and line end, returning
// whether its guard holds.
func (p *Preprocessor) parseConditionalHeader(s *token.Stream, kind token.Kind) (bool, error) {
	if _, err := s.Consume(); err != nil {
		return false, err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))

	switch kind {
	case token.PPIfdef, token.PPElsedef, token.PPIfndef, token.PPElsendef:
		sym, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
		if err != nil {
			return false, err
		}
		if err := consumeLineEnd(s); err != nil {
			return false, err
		}
		_, defined := p.defines[sym.Value]
		if kind == token.PPIfndef || kind == token.PPElsendef {
			return !defined, nil
		}
		return defined, nil

	case token.PPIfequ, token.PPElseequ, token.PPIfnequ, token.PPElsenequ,
		token.PPIfless, token.PPElseless, token.PPIfmore, token.PPElsemore:
		sym, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
		if err != nil {
			return false, err
		}
		s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
		var valToks []token.Token
		for s.HasNext() {
			t := s.GetToken()
			if t.Kind == token.WhitespaceNewline {
				break
			}
			tok, _ := s.Consume()
			valToks = append(valToks, tok)
		}
		if err := consumeLineEnd(s); err != nil {
			return false, err
		}

		lhs := stringifyDefine(p.defines[sym.Value])
		rhs := stringifyTokens(valToks)

		switch kind {
		case token.PPIfequ, token.PPElseequ:
			return lhs == rhs, nil
		case token.PPIfnequ, token.PPElsenequ:
			return lhs != rhs, nil
		case token.PPIfless, token.PPElseless:
			return lhs < rhs, nil
		default: // PPIfmore, PPElsemore
			return lhs > rhs, nil
		}

	default:
		return false, utils.MakeError(ErrBadConditional, "%v", kind)
	}
}

func stringifyDefine(byArity map[int]*Define) string {
	d, ok := byArity[0]
	if !ok {
		return ""
	}
	return stringifyTokens(d.Body)
}

func stringifyTokens(ts []token.Token) string {
	var b strings.Builder
	for _, t := range ts {
		b.WriteString(t.Value)
	}
	return b.String()
}
