package asm

import (
	"strconv"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/token"
)

// fillLocal resolves whatever .rel.text entries turn out to reference a
// symbol visible from the reference site's own scope chain, without
// involving the linker. For each relocation it walks the token stream from
// where the previous relocation left off up to the relocation's recorded
// token index, reconstructing the stack of .scope/.scend blocks active at
// that position, and tries the referenced symbol's name with each enclosing
// scope's mangled suffix, innermost first, before falling back to the bare
// name. A resolved R_EMU32_B_OFFSET22 is patched directly into the text word
// and dropped from the relocation list; every other relocation type is left
// for the linker (or, for the absolute-style types, for the loader) even
// once its symbol is known to resolve locally — only its Symbol index is
// rewritten to the resolved entry.
func (a *Assembler) fillLocal() {
	toki := 0
	scopeStack := []int{}
	nextScopeID := 0

	rels := a.obj.RelText
	kept := rels[:0]

	for _, rel := range rels {
		for toki < rel.TokenIndex && toki < len(a.s.Tokens()) {
			switch a.s.Tokens()[toki].Kind {
			case token.AsmScope:
				scopeStack = append(scopeStack, nextScopeID)
				nextScopeID++
			case token.AsmScend:
				if len(scopeStack) > 0 {
					scopeStack = scopeStack[:len(scopeStack)-1]
				}
			}
			toki++
		}

		rel = a.resolveLocalSymbol(rel, scopeStack)

		if rel.Type == belf.RelocBOffset22 && a.patchBranch(rel) {
			continue
		}
		kept = append(kept, rel)
	}
	a.obj.RelText = kept
}

// resolveLocalSymbol tries name+"::SCOPE:<id>" for each scope in scopeStack,
// innermost (last pushed) to outermost, falling back to the bare name; if a
// match is found, rel.Symbol is rewritten to point at it.
func (a *Assembler) resolveLocalSymbol(rel belf.Relocation, scopeStack []int) belf.Relocation {
	name := a.obj.Strings[rel.Symbol]

	for i := len(scopeStack) - 1; i >= 0; i-- {
		mangled := name + "::SCOPE:" + strconv.Itoa(scopeStack[i])
		if _, idx, ok := a.obj.Symbol(mangled); ok {
			rel.Symbol = idx
			return rel
		}
	}
	return rel
}

// patchBranch resolves a relative branch relocation in place, when the
// resolved symbol is a non-weak .text-local symbol, and reports whether it
// patched (and thus should be dropped from the relocation list).
func (a *Assembler) patchBranch(rel belf.Relocation) bool {
	sym, ok := a.obj.Symbols[rel.Symbol]
	if !ok || sym.Binding == belf.BindingWeak || sym.Section != objSectionText {
		return false
	}

	instrIndex := rel.Offset / 4
	targetIndex := int32(sym.Value/4) - int32(instrIndex)
	word := a.obj.Text[instrIndex]
	a.obj.Text[instrIndex] = patchBOffset22(word, targetIndex)
	return true
}

// patchBOffset22 rewrites a Format B1 word's 22-bit immediate field (bits
// 10-31) with a new sign-extended word-offset immediate, leaving the opcode
// and condition fields (bits 0-9) untouched.
func patchBOffset22(word uint32, offset int32) uint32 {
	const bit, width = 10, 22
	mask := uint32(1)<<width - 1
	return (word &^ (mask << bit)) | ((uint32(offset) & mask) << bit)
}
