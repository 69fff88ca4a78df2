package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "disk.img"), 4)
	require.NoError(t, err)
	defer d.Close()

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, d.WriteBytes(PageSize-4, data)) // straddles a page boundary

	out, err := d.ReadBytes(PageSize-4, len(data))
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestSavePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	d, err := Open(path, 2)
	require.NoError(t, err)
	require.NoError(t, d.WriteBytes(10, []byte{0xAA, 0xBB}))
	require.NoError(t, d.Close())

	d2, err := Open(path, 2)
	require.NoError(t, err)
	defer d2.Close()

	out, err := d2.ReadBytes(10, 2)
	require.NoError(t, err)
	require.Equal(t, []byte{0xAA, 0xBB}, out)
}

func TestFreePageAllocation(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(filepath.Join(dir, "disk.img"), 4)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.ReturnPage(0))
	require.NoError(t, d.ReturnPage(1))

	p, err := d.GetFreePage()
	require.NoError(t, err)
	require.EqualValues(t, 0, p)
}
