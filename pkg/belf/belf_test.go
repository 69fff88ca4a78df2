package belf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleObjectFile(t *testing.T) *ObjectFile {
	t.Helper()

	obj := New(FileTypeRelocatable)
	obj.Text = []uint32{0x00000001, 0x00000002, 0x00000003}
	obj.Data = []byte{0xde, 0xad, 0xbe, 0xef}
	obj.BSSSize = 64

	_, err := obj.AddSection(".text", SectionText)
	require.NoError(t, err)

	fSym := obj.UpsertSymbol("f", 0, BindingGlobal, -1)
	obj.UpsertSymbol("_start", 4, BindingGlobal, 0)

	obj.RelText = []Relocation{
		{Offset: 8, Symbol: fSym.NameIdx, Type: RelocBOffset22, Shift: 2},
	}

	return obj
}

func TestBELFRoundTrip(t *testing.T) {
	obj := sampleObjectFile(t)

	raw := Write(obj)
	got, err := Read(raw)
	require.NoError(t, err)

	assert.Equal(t, obj.FileType, got.FileType)
	assert.Equal(t, obj.Text, got.Text)
	assert.Equal(t, obj.Data, got.Data)
	assert.Equal(t, obj.BSSSize, got.BSSSize)
	assert.Equal(t, obj.RelText, got.RelText)

	for name, sym := range obj.Symbols {
		gotSym, ok := got.Symbols[name]
		require.True(t, ok, "missing symbol %q", obj.Strings[name])
		assert.Equal(t, sym.Value, gotSym.Value)
		assert.Equal(t, sym.Binding, gotSym.Binding)
		assert.Equal(t, sym.Section, gotSym.Section)
	}

	for name, idx := range obj.SectionTable {
		gotIdx, ok := got.SectionTable[name]
		require.True(t, ok, "missing section %q", name)
		assert.Equal(t, obj.Sections[idx].Type, got.Sections[gotIdx].Type)
	}
}

func TestBELFEmptyObjectRoundTrip(t *testing.T) {
	obj := New(FileTypeExecutable)

	raw := Write(obj)
	got, err := Read(raw)
	require.NoError(t, err)

	assert.Equal(t, FileTypeExecutable, got.FileType)
	assert.Empty(t, got.Text)
	assert.Empty(t, got.Data)
	assert.Equal(t, uint32(0), got.BSSSize)
	assert.Empty(t, got.Symbols)
}

func TestBELFBadMagicRejected(t *testing.T) {
	obj := New(FileTypeRelocatable)
	raw := Write(obj)
	raw[0] = 'X'

	_, err := Read(raw)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestBELFTruncatedRejected(t *testing.T) {
	obj := sampleObjectFile(t)
	raw := Write(obj)

	_, err := Read(raw[:len(raw)/2])
	require.Error(t, err)
}

func TestObjectFileInvariants(t *testing.T) {
	obj := sampleObjectFile(t)
	require.NoError(t, obj.CheckInvariants())

	obj.RelText = append(obj.RelText, Relocation{Offset: 12, Symbol: 9999, Type: RelocBOffset22})
	assert.ErrorIs(t, obj.CheckInvariants(), ErrUnknownSymbol)
}

func TestAddDuplicateSectionErrors(t *testing.T) {
	obj := New(FileTypeRelocatable)
	_, err := obj.AddSection(".text", SectionText)
	require.NoError(t, err)

	_, err = obj.AddSection(".text", SectionText)
	assert.ErrorIs(t, err, ErrDuplicateSection)
}
