package mmu

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emu32dev/emu32/pkg/vm/disk"
)

func newTestMMU(t *testing.T, ramPages, diskPages uint32) *MMU {
	t.Helper()
	d, err := disk.Open(filepath.Join(t.TempDir(), "disk.img"), diskPages)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	for p := uint32(0); p < diskPages; p++ {
		require.NoError(t, d.ReturnPage(p))
	}

	return New(0, ramPages-1, d)
}

func TestNoProcessIdentityMaps(t *testing.T) {
	m := newTestMMU(t, 2, 64)
	addr, _, err := m.MapAddress(0x1234)
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, addr)
}

func TestAccessWithinRAMNeverEvicts(t *testing.T) {
	m := newTestMMU(t, 2, 64)
	require.NoError(t, m.BeginProcess(1, 0, 2*PageSize-1))

	for vpage := uint32(0); vpage < 2; vpage++ {
		_, exc, err := m.AccessPage(vpage)
		require.NoError(t, err)
		_ = exc
	}
	require.NoError(t, m.CheckInvariants())
	require.LessOrEqual(t, m.ResidentCount(), 2)
}

func TestPagingUnderPressureEvictsAndRestores(t *testing.T) {
	m := newTestMMU(t, 2, 64)
	require.NoError(t, m.BeginProcess(1, 0, 4*PageSize-1))

	evictions := 0
	for vpage := uint32(0); vpage < 4; vpage++ {
		_, exc, err := m.AccessPage(vpage)
		require.NoError(t, err)
		if exc.Type == ExceptionDiskReturnAndFetchSuccess {
			evictions++
		}
		require.LessOrEqual(t, m.ResidentCount(), 2)
		require.NoError(t, m.CheckInvariants())
	}
	require.GreaterOrEqual(t, evictions, 2)

	// re-access the first page, paging it back in from disk; invariants
	// must still hold.
	_, _, err := m.AccessPage(0)
	require.NoError(t, err)
	require.NoError(t, m.CheckInvariants())
}

func TestEndProcessReturnsAllPages(t *testing.T) {
	m := newTestMMU(t, 2, 64)
	require.NoError(t, m.BeginProcess(1, 0, 2*PageSize-1))
	_, _, err := m.AccessPage(0)
	require.NoError(t, err)

	require.NoError(t, m.EndProcess(1))
	require.Equal(t, 0, m.ResidentCount())
}
