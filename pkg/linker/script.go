package linker

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/utils"
)

// scriptKind identifies a linker-script token, lexed by its own small regex
// table independent of the assembler's token package — the script language
// is tiny and unrelated to assembly source syntax.
type scriptKind int

const (
	sWhitespace scriptKind = iota
	sEntry
	sSections
	sText
	sData
	sBSS
	sNumBin
	sNumHex
	sNumDec
	sOpenParen
	sCloseParen
	sSemicolon
	sComma
	sEqual
	sAt
	sSymbol
)

type scriptToken struct {
	kind scriptKind
	val  string
}

var scriptSpec = []struct {
	re   *regexp.Regexp
	kind scriptKind
}{
	{regexp.MustCompile(`^\s+`), sWhitespace},
	{regexp.MustCompile(`^/\*[\s\S]*?\*/`), sWhitespace},
	{regexp.MustCompile(`^//[^\n]*`), sWhitespace},
	{regexp.MustCompile(`^ENTRY\b`), sEntry},
	{regexp.MustCompile(`^SECTIONS\b`), sSections},
	{regexp.MustCompile(`^\.text\b`), sText},
	{regexp.MustCompile(`^\.data\b`), sData},
	{regexp.MustCompile(`^\.bss\b`), sBSS},
	{regexp.MustCompile(`^0b[01]+`), sNumBin},
	{regexp.MustCompile(`^0x[0-9a-fA-F]+`), sNumHex},
	{regexp.MustCompile(`^[0-9]+`), sNumDec},
	{regexp.MustCompile(`^\(`), sOpenParen},
	{regexp.MustCompile(`^\)`), sCloseParen},
	{regexp.MustCompile(`^;`), sSemicolon},
	{regexp.MustCompile(`^,`), sComma},
	{regexp.MustCompile(`^=`), sEqual},
	{regexp.MustCompile(`^@`), sAt},
	{regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*`), sSymbol},
}

func lexScript(source string) ([]scriptToken, error) {
	var tokens []scriptToken
	rest := source
	for len(rest) > 0 {
		matched := false
		for _, spec := range scriptSpec {
			loc := spec.re.FindStringIndex(rest)
			if loc == nil || loc[0] != 0 {
				continue
			}
			val := rest[:loc[1]]
			if spec.kind != sWhitespace {
				tokens = append(tokens, scriptToken{kind: spec.kind, val: val})
			}
			rest = rest[loc[1]:]
			matched = true
			break
		}
		if !matched {
			return nil, utils.MakeError(ErrScriptParse, "could not tokenize %q", rest)
		}
	}
	return tokens, nil
}

// SectionPlacement is one entry of a parsed SECTIONS(...) block.
type SectionPlacement struct {
	Type       belf.SectionType
	Physical   bool
	HasAddress bool
	Address    uint32
}

// Script is a parsed linker script: the entry symbol name and the ordered
// placement of .text/.data/.bss.
type Script struct {
	Entry      string
	Placements []SectionPlacement
}

// DefaultScript is used when the caller supplies none: entry point "_start",
// all three sections packed consecutively from address 0 as virtual
// addresses (no physical-load distinction).
const DefaultScript = `
ENTRY(_start)
SECTIONS(
	@V;
	.text;
	.data;
	.bss;
)
`

// ParseScript tokenizes and parses a linker script's source text.
func ParseScript(source string) (*Script, error) {
	tokens, err := lexScript(source)
	if err != nil {
		return nil, err
	}
	p := &scriptParser{tokens: tokens}
	script := &Script{}

	for p.pos < len(p.tokens) {
		switch p.peek().kind {
		case sEntry:
			entry, err := p.parseEntry()
			if err != nil {
				return nil, err
			}
			script.Entry = entry
		case sSections:
			placements, err := p.parseSections()
			if err != nil {
				return nil, err
			}
			script.Placements = placements
		default:
			return nil, utils.MakeError(ErrScriptParse, "unexpected token %q", p.peek().val)
		}
	}
	return script, nil
}

type scriptParser struct {
	tokens []scriptToken
	pos    int
}

func (p *scriptParser) peek() scriptToken {
	if p.pos >= len(p.tokens) {
		return scriptToken{}
	}
	return p.tokens[p.pos]
}

func (p *scriptParser) consume(kinds ...scriptKind) (scriptToken, error) {
	if p.pos >= len(p.tokens) {
		return scriptToken{}, utils.MakeError(ErrScriptParse, "unexpected end of script")
	}
	t := p.tokens[p.pos]
	if len(kinds) > 0 {
		ok := false
		for _, k := range kinds {
			if t.kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return scriptToken{}, utils.MakeError(ErrScriptParse, "unexpected token %q", t.val)
		}
	}
	p.pos++
	return t, nil
}

func (p *scriptParser) parseEntry() (string, error) {
	if _, err := p.consume(sEntry); err != nil {
		return "", err
	}
	if _, err := p.consume(sOpenParen); err != nil {
		return "", err
	}
	sym, err := p.consume(sSymbol)
	if err != nil {
		return "", err
	}
	if _, err := p.consume(sCloseParen); err != nil {
		return "", err
	}
	return sym.val, nil
}

func (p *scriptParser) parseSections() ([]SectionPlacement, error) {
	if _, err := p.consume(sSections); err != nil {
		return nil, err
	}
	if _, err := p.consume(sOpenParen); err != nil {
		return nil, err
	}

	var placements []SectionPlacement
	physical := false

	for p.peek().kind != sCloseParen {
		if p.peek().kind == sAt {
			if _, err := p.consume(sAt); err != nil {
				return nil, err
			}
			tag, err := p.consume(sSymbol)
			if err != nil {
				return nil, err
			}
			switch tag.val {
			case "P":
				physical = true
			case "V":
				physical = false
			default:
				return nil, utils.MakeError(ErrScriptParse, "unknown address-space tag %q", tag.val)
			}
			if _, err := p.consume(sSemicolon); err != nil {
				return nil, err
			}
			continue
		}

		var typ belf.SectionType
		switch p.peek().kind {
		case sText:
			typ = belf.SectionText
		case sData:
			typ = belf.SectionData
		case sBSS:
			typ = belf.SectionBSS
		default:
			return nil, utils.MakeError(ErrScriptParse, "unexpected token %q in SECTIONS", p.peek().val)
		}
		if _, err := p.consume(); err != nil {
			return nil, err
		}

		placement := SectionPlacement{Type: typ, Physical: physical}
		if p.peek().kind == sEqual {
			if _, err := p.consume(sEqual); err != nil {
				return nil, err
			}
			val, err := p.parseNumber()
			if err != nil {
				return nil, err
			}
			placement.HasAddress = true
			placement.Address = val
		}
		if _, err := p.consume(sSemicolon); err != nil {
			return nil, err
		}
		placements = append(placements, placement)
	}

	if _, err := p.consume(sCloseParen); err != nil {
		return nil, err
	}
	return placements, nil
}

func (p *scriptParser) parseNumber() (uint32, error) {
	t, err := p.consume(sNumBin, sNumHex, sNumDec)
	if err != nil {
		return 0, err
	}
	switch t.kind {
	case sNumBin:
		v, err := strconv.ParseUint(strings.TrimPrefix(t.val, "0b"), 2, 32)
		return uint32(v), err
	case sNumHex:
		v, err := strconv.ParseUint(strings.TrimPrefix(t.val, "0x"), 16, 32)
		return uint32(v), err
	default:
		v, err := strconv.ParseUint(t.val, 10, 32)
		return uint32(v), err
	}
}
