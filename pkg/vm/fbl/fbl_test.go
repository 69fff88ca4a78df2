package fbl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSplitsFrontOfBlock(t *testing.T) {
	f := New(0, 16, true)

	addr, err := f.Get(4)
	require.NoError(t, err)
	assert.EqualValues(t, 0, addr)
	assert.EqualValues(t, 12, f.FreeSize())
}

func TestGetExhaustsSpace(t *testing.T) {
	f := New(0, 4, true)

	_, err := f.Get(4)
	require.NoError(t, err)

	_, err = f.Get(1)
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestReturnCoalescesAdjacentBlocks(t *testing.T) {
	f := New(0, 16, true)

	a, err := f.Get(4)
	require.NoError(t, err)
	b, err := f.Get(4)
	require.NoError(t, err)
	_, err = f.Get(4)
	require.NoError(t, err)

	require.NoError(t, f.Return(a, 4))
	require.NoError(t, f.Return(b, 4))

	// the two returned blocks coalesce into one node [0, 8); the third
	// allocation [8, 12) is still held, so the free tail [12, 16) stays a
	// separate node: no two adjacent nodes left uncoalesced.
	assert.Equal(t, 2, f.NodeCount())
}

func TestReturnRejectsOutOfDomain(t *testing.T) {
	f := New(0, 16, true)
	err := f.Return(20, 4)
	require.ErrorIs(t, err, ErrInvalidReturn)
}

func TestReturnRejectsOverlap(t *testing.T) {
	f := New(0, 16, true)
	_, err := f.Get(4) // consumes [0,4)
	require.NoError(t, err)

	// [4, 16) is still free; returning something that overlaps it is invalid.
	err = f.Return(6, 4)
	require.ErrorIs(t, err, ErrInvalidReturn)
}

func TestCoalescingPropertyAfterReturningEveryAllocation(t *testing.T) {
	f := New(0, 64, true)

	var allocs []uint32
	for i := 0; i < 8; i++ {
		addr, err := f.Get(4)
		require.NoError(t, err)
		allocs = append(allocs, addr)
	}

	for _, addr := range allocs {
		require.NoError(t, f.Return(addr, 4))
	}

	// Returning every allocation (which together covered the whole domain)
	// must coalesce back down to exactly one free block.
	assert.Equal(t, 1, f.NodeCount())
	assert.EqualValues(t, 64, f.FreeSize())
}
