package linker

import (
	"testing"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/staticlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultScriptForTest(t *testing.T) *Script {
	t.Helper()
	script, err := ParseScript(DefaultScript)
	require.NoError(t, err)
	return script
}

// Mirrors the "link two objects with cross-reference" scenario: one object
// defines a global function, the other calls it via an extern forward
// reference and must have its BL patched with a 4-aligned signed word
// offset at link time, leaving no surviving .rel.text entry for it.
func TestLinkResolvesCrossObjectBranch(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0} // "f: ret" (single word, opcode contents don't matter here)
	fSym := a.UpsertSymbol("f", 0, belf.BindingGlobal, objSectionText)
	_ = fSym

	b := belf.New(belf.FileTypeRelocatable)
	b.Text = []uint32{0, 0} // "_start: bl f ; hlt"
	b.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)
	fExtern := b.UpsertSymbol("f", 0, belf.BindingWeak, belf.NoSection)
	b.RelText = []belf.Relocation{
		{Offset: 0, Symbol: fExtern.NameIdx, Type: belf.RelocBOffset22},
	}

	result, err := Link([]*belf.ObjectFile{a, b}, defaultScriptForTest(t))
	require.NoError(t, err)

	assert.Empty(t, result.Object.RelText, "the resolved branch must not survive into the executable's rel.text")

	// f is at merged word index 0; the bl is at merged word index 1 (a's
	// single word, then b's first word): offset (0 - 1) = -1.
	word := result.Object.Text[1]
	imm := int32(word) >> 10
	assert.EqualValues(t, -1, imm)
}

// Mirrors the "static-library pick-up" scenario: building libx.ba from one
// object and linking a second object against it (via staticlib round-trip)
// must produce the same merged text/symbol result as linking the two
// objects directly.
func TestLinkAgainstStaticLibraryMatchesDirectLink(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0}
	a.UpsertSymbol("f", 0, belf.BindingGlobal, objSectionText)

	b := belf.New(belf.FileTypeRelocatable)
	b.Text = []uint32{0, 0}
	b.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)
	fExtern := b.UpsertSymbol("f", 0, belf.BindingWeak, belf.NoSection)
	b.RelText = []belf.Relocation{
		{Offset: 0, Symbol: fExtern.NameIdx, Type: belf.RelocBOffset22},
	}

	direct, err := Link([]*belf.ObjectFile{a, b}, defaultScriptForTest(t))
	require.NoError(t, err)

	archive := staticlib.New()
	archive.Add(a)
	raw := staticlib.Write(archive)
	readBack, err := staticlib.Read(raw)
	require.NoError(t, err)
	require.Len(t, readBack.Objects, 1)

	viaLib, err := Link([]*belf.ObjectFile{readBack.Objects[0], b}, defaultScriptForTest(t))
	require.NoError(t, err)

	assert.Equal(t, direct.Object.Text, viaLib.Object.Text)
	assert.Equal(t, direct.Object.RelText, viaLib.Object.RelText)
}

func TestLinkReportsUndefinedSymbol(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0}
	missing := a.UpsertSymbol("nowhere", 0, belf.BindingWeak, belf.NoSection)
	a.RelText = []belf.Relocation{
		{Offset: 0, Symbol: missing.NameIdx, Type: belf.RelocBOffset22},
	}

	_, err := Link([]*belf.ObjectFile{a}, defaultScriptForTest(t))
	require.ErrorIs(t, err, ErrUndefinedSymbol)
}

func TestLinkDefersAbsoluteRelocation(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0, 0}
	a.Data = []byte{1, 2, 3, 4}
	a.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)
	dataSym := a.UpsertSymbol("buf", 0, belf.BindingGlobal, objSectionData)
	a.RelText = []belf.Relocation{
		{Offset: 0, Symbol: dataSym.NameIdx, Type: belf.RelocAdrpHi20},
		{Offset: 4, Symbol: dataSym.NameIdx, Type: belf.RelocOLo12},
	}

	result, err := Link([]*belf.ObjectFile{a}, defaultScriptForTest(t))
	require.NoError(t, err)
	require.Len(t, result.Object.RelText, 2, "absolute-style relocations must be deferred to the loader")
	assert.Equal(t, belf.RelocAdrpHi20, result.Object.RelText[0].Type)
	assert.Equal(t, belf.RelocOLo12, result.Object.RelText[1].Type)
}

func TestLinkManglesLocalSymbolsPerInput(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0}
	a.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)
	a.UpsertSymbol("loop", 0, belf.BindingLocal, objSectionText)

	b := belf.New(belf.FileTypeRelocatable)
	b.Text = []uint32{0}
	b.UpsertSymbol("loop", 0, belf.BindingLocal, objSectionText)

	result, err := Link([]*belf.ObjectFile{a, b}, defaultScriptForTest(t))
	require.NoError(t, err)

	_, _, ok0 := result.Object.Symbol("loop:LOCAL:0")
	_, _, ok1 := result.Object.Symbol("loop:LOCAL:1")
	assert.True(t, ok0)
	assert.True(t, ok1)
}

func TestLinkAppliesExplicitSectionAddress(t *testing.T) {
	script, err := ParseScript(`
ENTRY(_start)
SECTIONS(
	@P;
	.text = 0x1000;
	.data;
)
`)
	require.NoError(t, err)

	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0}
	a.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)

	result, err := Link([]*belf.ObjectFile{a}, script)
	require.NoError(t, err)

	var textSection *belf.Section
	for i := range result.Object.Sections {
		if result.Object.Sections[i].Type == belf.SectionText {
			textSection = &result.Object.Sections[i]
		}
	}
	require.NotNil(t, textSection)
	assert.EqualValues(t, 0x1000, textSection.Address)
	assert.True(t, textSection.LoadAtPhysical)
}

func TestLinkResolvesEntrySymbol(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0, 0}
	a.UpsertSymbol("_start", 4, belf.BindingGlobal, objSectionText)

	result, err := Link([]*belf.ObjectFile{a}, defaultScriptForTest(t))
	require.NoError(t, err)
	assert.Equal(t, "_start", result.EntryName)
	assert.EqualValues(t, 4, result.EntryValue)
}

// A later weak placeholder for an already-defined global symbol (the usual
// shape of an .extern forward reference to a function defined elsewhere)
// must not clobber the earlier real definition, regardless of input order.
func TestLinkWeakReferenceDoesNotClobberEarlierDefinition(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0}
	a.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)
	a.UpsertSymbol("f", 0, belf.BindingGlobal, objSectionText)

	b := belf.New(belf.FileTypeRelocatable)
	b.Text = []uint32{0}
	b.UpsertSymbol("f", 0, belf.BindingWeak, belf.NoSection)

	result, err := Link([]*belf.ObjectFile{a, b}, defaultScriptForTest(t))
	require.NoError(t, err)

	sym, _, ok := result.Object.Symbol("f")
	require.True(t, ok)
	assert.Equal(t, belf.BindingGlobal, sym.Binding)
	assert.EqualValues(t, 0, sym.Value)
}

func TestLinkRejectsDuplicateDefinition(t *testing.T) {
	a := belf.New(belf.FileTypeRelocatable)
	a.Text = []uint32{0}
	a.UpsertSymbol("_start", 0, belf.BindingGlobal, objSectionText)
	a.UpsertSymbol("f", 0, belf.BindingGlobal, objSectionText)

	b := belf.New(belf.FileTypeRelocatable)
	b.Text = []uint32{0}
	b.UpsertSymbol("f", 0, belf.BindingGlobal, objSectionText)

	_, err := Link([]*belf.ObjectFile{a, b}, defaultScriptForTest(t))
	require.ErrorIs(t, err, ErrDuplicateSymbol)
}
