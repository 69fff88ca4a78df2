package staticlib

import (
	"testing"

	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveRoundTrip(t *testing.T) {
	objA := belf.New(belf.FileTypeRelocatable)
	objA.Text = []uint32{0x01, 0x02}
	objA.UpsertSymbol("f", 0, belf.BindingGlobal, -1)

	objB := belf.New(belf.FileTypeRelocatable)
	objB.Data = []byte{1, 2, 3}

	arc := New()
	arc.Add(objA)
	arc.Add(objB)

	raw := Write(arc)
	got, err := Read(raw)
	require.NoError(t, err)
	require.Len(t, got.Objects, 2)

	assert.Equal(t, objA.Text, got.Objects[0].Text)
	assert.Equal(t, objB.Data, got.Objects[1].Data)
}

func TestArchiveEmptyRoundTrip(t *testing.T) {
	arc := New()
	raw := Write(arc)

	got, err := Read(raw)
	require.NoError(t, err)
	assert.Empty(t, got.Objects)
}

func TestArchiveFind(t *testing.T) {
	obj := belf.New(belf.FileTypeRelocatable)
	obj.UpsertSymbol("f", 4, belf.BindingGlobal, -1)

	arc := New()
	arc.Add(obj)

	found, ok := arc.Find("f")
	require.True(t, ok)
	assert.Same(t, obj, found)

	_, ok = arc.Find("missing")
	assert.False(t, ok)
}

func TestArchiveMalformedRejected(t *testing.T) {
	_, err := Read([]byte{0x01})
	assert.ErrorIs(t, err, ErrMalformedArchive)
}
