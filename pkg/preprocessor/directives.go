package preprocessor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/emu32dev/emu32/pkg/token"
	"github.com/emu32dev/emu32/pkg/utils"
)

// parseParamList consumes "(p1, p2, ...)" and checks for duplicate names.
func parseParamList(s *token.Stream) ([]string, error) {
	if _, err := s.ConsumeKind(token.NewKindSet(token.OpenParenthesis)); err != nil {
		return nil, err
	}
	var params []string
	for {
		s.SkipNext(token.Whitespaces)
		if s.IsNext(token.NewKindSet(token.CloseParenthesis)) {
			_, _ = s.Consume()
			return params, nil
		}
		pt, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
		if err != nil {
			return nil, err
		}
		for _, existing := range params {
			if existing == pt.Value {
				return nil, utils.MakeError(ErrDuplicateParam, "line %v: %q", pt.Line, pt.Value)
			}
		}
		params = append(params, pt.Value)
		s.SkipNext(token.Whitespaces)
		if s.IsNext(token.NewKindSet(token.Comma)) {
			_, _ = s.Consume()
		}
	}
}

// #define NAME[(p1,...,pn)] tokens...\n
func (p *Preprocessor) handleDefine(s *token.Stream) error {
	start := s.Toki()
	if _, err := s.Consume(); err != nil {
		return err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	nameTok, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
	if err != nil {
		return err
	}

	var params []string
	if s.IsNext(token.NewKindSet(token.OpenParenthesis)) {
		params, err = parseParamList(s)
		if err != nil {
			return err
		}
	}

	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	var body []token.Token
	for s.HasNext() {
		t := s.GetToken()
		if t.Kind == token.WhitespaceNewline {
			break
		}
		if t.Kind == token.LineContinuation {
			_, _ = s.Consume()
			continue
		}
		tok, _ := s.Consume()
		body = append(body, tok)
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}

	end := s.Toki()
	s.RemoveTokens(start, end)

	arity := len(params)
	if p.defines[nameTok.Value] == nil {
		p.defines[nameTok.Value] = map[int]*Define{}
	}
	p.defines[nameTok.Value][arity] = &Define{Name: nameTok.Value, Params: params, Body: body}
	return nil
}

// #undef NAME\n -- drops every arity of NAME.
func (p *Preprocessor) handleUndef(s *token.Stream) error {
	start := s.Toki()
	if _, err := s.Consume(); err != nil {
		return err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	nameTok, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
	if err != nil {
		return err
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}
	end := s.Toki()
	s.RemoveTokens(start, end)
	delete(p.defines, nameTok.Value)
	return nil
}

// #macro NAME(p1,...,pn)\n ... #macend\n
func (p *Preprocessor) handleMacro(s *token.Stream) error {
	start := s.Toki()
	if _, err := s.Consume(); err != nil {
		return err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	nameTok, err := s.ConsumeKind(token.NewKindSet(token.Symbol))
	if err != nil {
		return err
	}
	params, err := parseParamList(s)
	if err != nil {
		return err
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}

	var body []token.Token
	depth := 0
	for {
		if !s.HasNext() {
			return utils.MakeError(ErrUnclosedMacro, "%q", nameTok.Value)
		}
		t := s.GetToken()
		if t.Kind == token.PPMacro {
			depth++
		} else if t.Kind == token.PPMacend {
			if depth == 0 {
				_, _ = s.Consume()
				break
			}
			depth--
		}
		tok, _ := s.Consume()
		body = append(body, tok)
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}

	end := s.Toki()
	s.RemoveTokens(start, end)

	arity := len(params)
	if p.macros[nameTok.Value] == nil {
		p.macros[nameTok.Value] = map[int]*Macro{}
	}
	if _, exists := p.macros[nameTok.Value][arity]; exists {
		return utils.MakeError(ErrMacroRedefined, "%q/%d", nameTok.Value, arity)
	}
	p.macros[nameTok.Value][arity] = &Macro{Name: nameTok.Value, Params: params, Body: body}
	return nil
}

// #include "path"\n
//
// The tokenizer's grammar has no bare `<`/`>` punctuation, so the
// angle-bracket system-include form folds into the same quoted syntax: a
// quoted path resolves relative to the including file's directory first,
// then falls back to searching the system include directories in order
// (ambiguous or missing hits are both errors, as the spec requires for the
// angle-bracket form).
func (p *Preprocessor) handleInclude(s *token.Stream) error {
	start := s.Toki()
	if _, err := s.Consume(); err != nil {
		return err
	}
	s.SkipNext(token.NewKindSet(token.WhitespaceSpace))
	pathTok, err := s.ConsumeKind(token.NewKindSet(token.LiteralString))
	if err != nil {
		return err
	}
	if err := consumeLineEnd(s); err != nil {
		return err
	}
	end := s.Toki()

	raw := pathTok.Value
	if len(raw) >= 2 {
		raw = raw[1 : len(raw)-1]
	}
	resolved, err := p.resolveInclude(raw)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return utils.MakeError(ErrIncludeNotFound, "%v", err)
	}

	p.tokenizeSeq++
	toks, err := token.Lex(string(data), p.tokenizeSeq, false)
	if err != nil {
		return err
	}

	sub := token.New(toks)
	subPre := New(p.includeDirs)
	if err := subPre.Process(sub, filepath.Dir(resolved)); err != nil {
		return utils.MakeError(ErrInclude, "%s: %v", resolved, err)
	}

	s.RemoveTokens(start, end)
	st := s.GetState()
	s.InsertTokens(sub.Tokens(), end)
	st.Toki = end
	s.SetState(st)
	return nil
}

func (p *Preprocessor) resolveInclude(raw string) (string, error) {
	local := filepath.Join(p.baseDir, raw)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	var hits []string
	for _, dir := range p.includeDirs {
		cand := filepath.Join(dir, raw)
		if _, err := os.Stat(cand); err == nil {
			hits = append(hits, cand)
		}
	}
	switch len(hits) {
	case 0:
		return "", utils.MakeError(ErrIncludeNotFound, "%q", raw)
	case 1:
		return hits[0], nil
	default:
		return "", utils.MakeError(ErrAmbiguousInclude, "%q: %v", raw, strings.Join(hits, ", "))
	}
}
