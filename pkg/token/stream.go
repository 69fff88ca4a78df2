package token

import (
	"errors"

	"github.com/emu32dev/emu32/pkg/utils"
)

// State is the tokenizer's indentation bookkeeping, saved/restored around
// preprocessor macro expansion and scope handling.
type State struct {
	Toki         int
	PrevIndent   int
	CurIndent    int
	TargetIndent int
}

// Stream owns a mutable token slice and a cursor. Logical removal ("skip")
// keeps indices stable across remove_tokens, so a consumer holding an index
// from before a removal is unaffected.
type Stream struct {
	tokens []Token
	state  State
}

var (
	ErrUnexpectedEOF   = errors.New("token: unexpected end of file")
	ErrUnexpectedToken = errors.New("token: unexpected token")
)

// New wraps tokens in a fresh Stream with a zeroed cursor.
func New(tokens []Token) *Stream {
	return &Stream{tokens: tokens}
}

// Tokens returns the full underlying slice, including skipped tokens.
func (s *Stream) Tokens() []Token { return s.tokens }

// Toki returns the raw cursor index (stable across skip-based removal).
func (s *Stream) Toki() int { return s.state.Toki }

// GetState returns a copy of the current indentation state.
func (s *Stream) GetState() State { return s.state }

// SetState restores a previously saved indentation state.
func (s *Stream) SetState(st State) { s.state = st }

func (s *Stream) advancePastSkipped() {
	for s.state.Toki < len(s.tokens) && s.tokens[s.state.Toki].Skip {
		s.state.Toki++
	}
}

// HasNext reports whether a non-skipped token remains at or after the cursor.
func (s *Stream) HasNext() bool {
	s.advancePastSkipped()
	return s.state.Toki < len(s.tokens)
}

// GetToken returns a pointer to the current non-skipped token, or nil at EOF.
func (s *Stream) GetToken() *Token {
	s.advancePastSkipped()
	if s.state.Toki >= len(s.tokens) {
		return nil
	}
	return &s.tokens[s.state.Toki]
}

func (s *Stream) updateIndentState(t Token) {
	switch t.Kind {
	case WhitespaceNewline:
		s.state.PrevIndent = s.state.CurIndent
		s.state.CurIndent = 0
	case WhitespaceTab:
		s.state.CurIndent++
	}

	switch t.Kind {
	case Label:
		s.state.TargetIndent = s.state.CurIndent
	case AsmScope, PPMacro:
		s.state.TargetIndent++
	case AsmScend, PPMacend:
		if s.state.TargetIndent > 0 {
			s.state.TargetIndent--
		}
	}
}

// Consume returns the current token and advances the cursor past it,
// erroring at EOF.
func (s *Stream) Consume() (Token, error) {
	s.advancePastSkipped()
	if s.state.Toki >= len(s.tokens) {
		return Token{}, ErrUnexpectedEOF
	}
	t := s.tokens[s.state.Toki]
	s.state.Toki++
	s.updateIndentState(t)
	return t, nil
}

// ConsumeKind consumes the current token and checks its kind is in expected.
func (s *Stream) ConsumeKind(expected KindSet) (Token, error) {
	t, err := s.Consume()
	if err != nil {
		return t, err
	}
	if !t.Is(expected) {
		return t, utils.MakeError(ErrUnexpectedToken, "line %v: got %v %q", t.Line, t.Kind, t.Value)
	}
	return t, nil
}

// IsNext reports whether the current token's kind is a member of kinds.
// Returns false at EOF.
func (s *Stream) IsNext(kinds KindSet) bool {
	t := s.GetToken()
	return t != nil && t.Is(kinds)
}

// ExpectNext asserts that a token exists (and, if kinds is non-empty, that
// it matches).
func (s *Stream) ExpectNext(kinds KindSet) error {
	t := s.GetToken()
	if t == nil {
		return ErrUnexpectedEOF
	}
	if len(kinds) > 0 && !t.Is(kinds) {
		return utils.MakeError(ErrUnexpectedToken, "line %v: got %v %q", t.Line, t.Kind, t.Value)
	}
	return nil
}

// SkipNext advances the cursor over a run of tokens matching kinds.
func (s *Stream) SkipNext(kinds KindSet) {
	for s.IsNext(kinds) {
		_, _ = s.Consume()
	}
}

// InsertTokens splices tokens into the stream at loc, shifting the cursor
// forward if it sits at or after the insertion point.
func (s *Stream) InsertTokens(tokens []Token, loc int) {
	s.tokens = append(s.tokens[:loc:loc], append(append([]Token{}, tokens...), s.tokens[loc:]...)...)
	if s.state.Toki >= loc {
		s.state.Toki += len(tokens)
	}
}

// RemoveTokens logically removes tokens[start:end) by setting their skip
// flag; indices are otherwise unaffected.
func (s *Stream) RemoveTokens(start, end int) {
	for i := start; i < end && i < len(s.tokens); i++ {
		s.tokens[i].Skip = true
	}
}

// FilterAll bulk-skips every token whose kind is in kinds.
func (s *Stream) FilterAll(kinds KindSet) {
	for i := range s.tokens {
		if kinds.Has(s.tokens[i].Kind) {
			s.tokens[i].Skip = true
		}
	}
}

// FixIndent inserts synthetic tab tokens before the cursor while
// cur_indent < target_indent. The preprocessor does not call it: invoked
// macro bodies are spliced without re-indentation.
func (s *Stream) FixIndent() {
	for s.state.CurIndent < s.state.TargetIndent {
		s.InsertTokens([]Token{{Kind: WhitespaceTab, Value: "\t", Line: s.currentLine()}}, s.state.Toki)
		s.state.CurIndent++
	}
}

func (s *Stream) currentLine() int {
	if t := s.GetToken(); t != nil {
		return t.Line
	}
	if len(s.tokens) > 0 {
		return s.tokens[len(s.tokens)-1].Line
	}
	return 0
}
