// Package mmu implements the paged virtual memory unit: per-process page
// tables, global physical-page allocation, clock/LRU eviction and disk
// paging, as described in spec.md §4.7.
package mmu

import (
	"container/list"
	"errors"

	"github.com/emu32dev/emu32/pkg/utils"
	"github.com/emu32dev/emu32/pkg/vm/disk"
	"github.com/emu32dev/emu32/pkg/vm/fbl"
	"github.com/emu32dev/emu32/pkg/vm/memory"
)

const PageShift = 12
const PageSize = 1 << PageShift

var (
	ErrNoProcess       = errors.New("mmu: no process with that pid")
	ErrProcessExists   = errors.New("mmu: process pid already exists")
	ErrPageAlreadyUsed = errors.New("mmu: virtual page already mapped")
)

// PTE is a per-virtual-page entry: which physical page it is resident at
// (if any), whether it is currently paged out to disk, and which disk page
// holds it while out.
type PTE struct {
	VPage    uint32
	PPage    uint32
	OnDisk   bool
	DiskPage uint32
	Dirty    bool
}

type pageTable struct {
	pid     int64
	entries map[uint32]*PTE
}

// ExceptionType tags the out-parameter map_address hands back to the caller
// so the system bus can perform the requisite disk I/O after translation,
// per the design note in spec.md §9 ("a small result-like sum with an
// optional payload; implement it as a return type, not a thrown exception").
type ExceptionType int

const (
	ExceptionNone ExceptionType = iota
	ExceptionDiskFetchSuccess
	ExceptionDiskReturnAndFetchSuccess
)

// Exception carries the bus-visible consequence of a translation: which
// physical page was freshly fetched from disk, and (on eviction) which
// victim physical page must be written back to which disk page before the
// new resident page can be trusted to be consistent.
type Exception struct {
	Type           ExceptionType
	FetchedPPage   uint32
	EvictedPPage   uint32
	EvictedDPage   uint32
	FetchedBytes   []byte // the bytes read in from disk, for the bus to install
}

// MMU is the virtual-memory unit: global physical-page allocator, global
// LRU/clock list, per-pid page tables, and the disk it pages against.
type MMU struct {
	disk *disk.Disk

	ramStartPage uint32
	ramEndPage   uint32
	freelist     *fbl.List

	physByPPage map[uint32]*PTE // global: ppage -> owning PTE

	lru    *list.List // of uint32 ppage, front = least recently used
	lruPos map[uint32]*list.Element

	tables  map[int64]*pageTable
	current *pageTable
}

// New creates an MMU managing physical pages [ramStartPage, ramEndPage]
// (inclusive, matching the original's convention) and paging through d.
func New(ramStartPage, ramEndPage uint32, d *disk.Disk) *MMU {
	return &MMU{
		disk:         d,
		ramStartPage: ramStartPage,
		ramEndPage:   ramEndPage,
		freelist:     fbl.New(ramStartPage, ramEndPage-ramStartPage+1, true),
		physByPPage:  make(map[uint32]*PTE),
		lru:          list.New(),
		lruPos:       make(map[uint32]*list.Element),
		tables:       make(map[int64]*pageTable),
	}
}

// SetProcess switches the active page table to pid's.
func (m *MMU) SetProcess(pid int64) error {
	pt, ok := m.tables[pid]
	if !ok {
		return utils.MakeError(ErrNoProcess, "%v", pid)
	}
	m.current = pt
	return nil
}

// BeginProcess creates an empty page table for pid, makes it current, and
// adds virtual pages covering the byte range [loByte, hiByte].
func (m *MMU) BeginProcess(pid int64, loByte, hiByte uint32) error {
	if _, ok := m.tables[pid]; ok {
		return utils.MakeError(ErrProcessExists, "%v", pid)
	}
	pt := &pageTable{pid: pid, entries: make(map[uint32]*PTE)}
	m.tables[pid] = pt
	m.current = pt

	for vpage := loByte >> PageShift; vpage <= hiByte>>PageShift; vpage++ {
		if err := m.addPage(pt, vpage); err != nil {
			return err
		}
	}
	return nil
}

// EndProcess returns every PTE's physical or disk page to its free list and
// removes the table.
func (m *MMU) EndProcess(pid int64) error {
	pt, ok := m.tables[pid]
	if !ok {
		return utils.MakeError(ErrNoProcess, "%v", pid)
	}

	for _, pte := range pt.entries {
		if pte.OnDisk {
			if err := m.disk.ReturnPage(pte.DiskPage); err != nil {
				return err
			}
		} else {
			delete(m.physByPPage, pte.PPage)
			m.removeLRU(pte.PPage)
			if err := m.freelist.Return(pte.PPage, 1); err != nil {
				return err
			}
		}
	}

	if m.current == pt {
		m.current = nil
	}
	delete(m.tables, pid)
	return nil
}

func (m *MMU) addPage(pt *pageTable, vpage uint32) error {
	if _, ok := pt.entries[vpage]; ok {
		return utils.MakeError(ErrPageAlreadyUsed, "vpage %v", vpage)
	}
	dpage, err := m.disk.GetFreePage()
	if err != nil {
		return err
	}
	pt.entries[vpage] = &PTE{VPage: vpage, OnDisk: true, DiskPage: dpage}
	return nil
}

// touchLRU moves ppage to the tail (most-recently-used end) of the list.
func (m *MMU) touchLRU(ppage uint32) {
	if e, ok := m.lruPos[ppage]; ok {
		m.lru.MoveToBack(e)
		return
	}
	m.lruPos[ppage] = m.lru.PushBack(ppage)
}

func (m *MMU) removeLRU(ppage uint32) {
	if e, ok := m.lruPos[ppage]; ok {
		m.lru.Remove(e)
		delete(m.lruPos, ppage)
	}
}

// evictLRUVictim pops the head (least-recently-used) physical page, per the
// clock/LRU eviction policy.
func (m *MMU) evictLRUVictim() uint32 {
	head := m.lru.Front()
	ppage := head.Value.(uint32)
	m.lru.Remove(head)
	delete(m.lruPos, ppage)
	return ppage
}

// AccessPage ensures vpage is resident in the current process's table,
// paging it in (possibly evicting an LRU victim) if necessary, and returns
// its physical page number.
func (m *MMU) AccessPage(vpage uint32) (uint32, Exception, error) {
	var exc Exception
	if m.current == nil {
		return vpage, exc, nil
	}

	pte, ok := m.current.entries[vpage]
	if !ok {
		if err := m.addPage(m.current, vpage); err != nil {
			return 0, exc, err
		}
		pte = m.current.entries[vpage]
	}

	if !pte.OnDisk {
		m.touchLRU(pte.PPage)
		return pte.PPage, exc, nil
	}

	if !m.freelist.CanFit(1) {
		victimPage := m.evictLRUVictim()
		victim := m.physByPPage[victimPage]

		newDiskPage, err := m.disk.GetFreePage()
		if err != nil {
			return 0, exc, err
		}
		victim.OnDisk = true
		victim.DiskPage = newDiskPage
		victim.PPage = 0

		exc.Type = ExceptionDiskReturnAndFetchSuccess
		exc.EvictedPPage = victimPage
		exc.EvictedDPage = newDiskPage

		delete(m.physByPPage, victimPage)
		if err := m.freelist.Return(victimPage, 1); err != nil {
			return 0, exc, err
		}
	}

	ppage, err := m.freelist.Get(1)
	if err != nil {
		return 0, exc, err
	}

	bytes, err := m.disk.ReadPage(pte.DiskPage)
	if err != nil {
		return 0, exc, err
	}
	if err := m.disk.ReturnPage(pte.DiskPage); err != nil {
		return 0, exc, err
	}

	pte.PPage = ppage
	pte.OnDisk = false
	m.physByPPage[ppage] = pte
	m.touchLRU(ppage)

	if exc.Type == ExceptionNone {
		exc.Type = ExceptionDiskFetchSuccess
	}
	exc.FetchedPPage = ppage
	exc.FetchedBytes = bytes
	return ppage, exc, nil
}

// MapAddress translates a virtual byte address to a physical byte address,
// paging the containing page in if necessary. With no current process set,
// addresses pass through unchanged (identity map).
func (m *MMU) MapAddress(addr uint32) (uint32, Exception, error) {
	if m.current == nil {
		return addr, Exception{}, nil
	}

	vpage := addr >> PageShift
	ppage, exc, err := m.AccessPage(vpage)
	if err != nil {
		return 0, exc, err
	}
	return (ppage << PageShift) | (addr & (PageSize - 1)), exc, nil
}

// CheckInvariants validates the MMU's required invariants: every resident
// PTE is reachable from physByPPage, LRU membership matches residency, and
// the free list and physByPPage partition the physical page range.
func (m *MMU) CheckInvariants() error {
	for ppage, pte := range m.physByPPage {
		if pte.PPage != ppage || pte.OnDisk {
			return errors.New("mmu: physByPPage inconsistent with PTE")
		}
		if _, ok := m.lruPos[ppage]; !ok {
			return errors.New("mmu: resident page missing from LRU")
		}
	}
	if len(m.lruPos) != len(m.physByPPage) {
		return errors.New("mmu: LRU and physByPPage sizes disagree")
	}
	total := m.freelist.FreeSize() + uint32(len(m.physByPPage))
	if total != m.ramEndPage-m.ramStartPage+1 {
		return errors.New("mmu: free list and resident set do not partition the physical range")
	}
	return nil
}

// ResidentCount returns the number of physical pages currently in use,
// for test assertions about eviction pressure.
func (m *MMU) ResidentCount() int { return len(m.physByPPage) }

// Ensure memory.PageSize and mmu.PageSize agree; both are the bus page
// granularity, kept as distinct constants because the packages are
// independently importable.
var _ = memory.PageSize
