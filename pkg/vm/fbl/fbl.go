// Package fbl implements the free-block list: a sorted, coalescing
// free-range allocator over a contiguous address space, used for both
// disk-page and physical-page allocation.
package fbl

import (
	"container/list"
	"errors"

	"github.com/emu32dev/emu32/pkg/utils"
)

// ErrOutOfSpace means no free block large enough to satisfy a request exists.
var ErrOutOfSpace = errors.New("fbl: not enough space to allocate block")

// ErrInvalidReturn means a returned block lies outside the list's domain,
// overlaps an existing free block, or does not correspond to anything
// actually allocated.
var ErrInvalidReturn = errors.New("fbl: invalid returned block")

type block struct {
	addr uint32
	len  uint32
}

// List is a doubly-linked, address-sorted sequence of disjoint [addr, addr+len)
// free ranges over the domain [begin, begin+size). Adjacent free ranges are
// always coalesced: no stored node's end equals the next node's start.
type List struct {
	begin uint32
	size  uint32
	l     *list.List // of *block, sorted by addr ascending
}

// New creates a list over [begin, begin+size). If init, the whole domain
// starts out free; otherwise the list starts fully allocated (used when a
// caller wants to explicitly Return blocks as they become free, e.g. the
// disk's page free list, which callers seed page-by-page with ReturnPage).
func New(begin, size uint32, init bool) *List {
	l := &List{begin: begin, size: size, l: list.New()}
	if init {
		l.l.PushBack(&block{addr: begin, len: size})
	}
	return l
}

// Begin returns the start address of the managed domain.
func (f *List) Begin() uint32 { return f.begin }

// Size returns the length of the managed domain.
func (f *List) Size() uint32 { return f.size }

// CanFit reports whether some free block is at least length long.
func (f *List) CanFit(length uint32) bool {
	return f.find(length) != nil
}

// Get allocates length contiguous units, taken first-fit from the first free
// block large enough (the original's find() walks head-to-tail and returns
// on the first match, not the smallest fit), splitting that block's front.
func (f *List) Get(length uint32) (uint32, error) {
	e := f.find(length)
	if e == nil {
		return 0, utils.MakeError(ErrOutOfSpace, "requested %v", length)
	}

	b := e.Value.(*block)
	addr := b.addr
	b.addr += length
	b.len -= length
	if b.len == 0 {
		f.l.Remove(e)
	}
	return addr, nil
}

func (f *List) find(length uint32) *list.Element {
	for e := f.l.Front(); e != nil; e = e.Next() {
		if e.Value.(*block).len >= length {
			return e
		}
	}
	return nil
}

// Return gives a previously allocated [addr, addr+length) range back to the
// free list, coalescing with neighboring free ranges. It is an error for the
// range to fall outside the domain or to overlap an already-free range.
func (f *List) Return(addr, length uint32) error {
	if length == 0 {
		return nil
	}
	if addr < f.begin || addr+length > f.begin+f.size {
		return utils.MakeError(ErrInvalidReturn, "0x%x-0x%x outside domain [0x%x, 0x%x)", addr, addr+length, f.begin, f.begin+f.size)
	}

	// Find insertion point (first node whose addr >= addr), checking
	// overlap with neighbors on both sides as we go.
	var prev, next *list.Element
	for e := f.l.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		if b.addr >= addr {
			next = e
			break
		}
		prev = e
	}

	if prev != nil {
		pb := prev.Value.(*block)
		if pb.addr+pb.len > addr {
			return utils.MakeError(ErrInvalidReturn, "0x%x-0x%x overlaps free block 0x%x-0x%x", addr, addr+length, pb.addr, pb.addr+pb.len)
		}
	}
	if next != nil {
		nb := next.Value.(*block)
		if nb.addr < addr+length {
			return utils.MakeError(ErrInvalidReturn, "0x%x-0x%x overlaps free block 0x%x-0x%x", addr, addr+length, nb.addr, nb.addr+nb.len)
		}
	}

	var inserted *list.Element
	if next != nil {
		inserted = f.l.InsertBefore(&block{addr: addr, len: length}, next)
	} else {
		inserted = f.l.PushBack(&block{addr: addr, len: length})
	}

	f.coalesceNext(inserted)
	if prev != nil {
		f.coalesceNext(prev)
	}
	return nil
}

// coalesceNext merges e with its successor if they are adjacent.
func (f *List) coalesceNext(e *list.Element) {
	next := e.Next()
	if next == nil {
		return
	}
	b := e.Value.(*block)
	nb := next.Value.(*block)
	if b.addr+b.len != nb.addr {
		return
	}
	b.len += nb.len
	f.l.Remove(next)
}

// Blocks returns the current free ranges as (addr, len) pairs, in address
// order, for inspection/testing.
func (f *List) Blocks() []utils.Pair[uint32, uint32] {
	out := make([]utils.Pair[uint32, uint32], 0, f.l.Len())
	for e := f.l.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)
		out = append(out, utils.MakePair(b.addr, b.len))
	}
	return out
}

// NodeCount returns the number of free-block nodes currently stored, used by
// the coalescing property test.
func (f *List) NodeCount() int { return f.l.Len() }

// FreeSize returns the total free space across all nodes.
func (f *List) FreeSize() uint32 {
	var total uint32
	for e := f.l.Front(); e != nil; e = e.Next() {
		total += e.Value.(*block).len
	}
	return total
}
