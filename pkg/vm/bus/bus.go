// Package bus implements the system bus: page-boundary-safe byte/half/word
// access routed by page range across RAM/ROM/MMIO, integrating the MMU for
// virtual address translation.
package bus

import (
	"errors"

	"github.com/emu32dev/emu32/pkg/utils"
	"github.com/emu32dev/emu32/pkg/vm/disk"
	"github.com/emu32dev/emu32/pkg/vm/memory"
	"github.com/emu32dev/emu32/pkg/vm/mmu"
)

var ErrNoRoute = errors.New("bus: no memory region covers address")

// region is anything the bus can route a physical address to.
type region interface {
	Covers(addr uint32) bool
	ReadByte(addr uint32) (byte, error)
	WriteByte(addr uint32, v byte) error
	ReadHalf(addr uint32) (uint16, error)
	WriteHalf(addr uint32, v uint16) error
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr uint32, v uint32) error
}

// Bus is the memory bus: a registered set of memory regions, an MMU for
// translation, and the disk that backs eviction write-back.
type Bus struct {
	regions []region
	mmu     *mmu.MMU
	disk    *disk.Disk

	// routing cache: last region that served a request, tried first.
	lastRegion region
}

// New creates a bus over the given regions (tried in registration order on
// a routing-cache miss), with mmu for translation and disk for the bytes an
// MMU eviction must be committed to.
func New(mmuUnit *mmu.MMU, d *disk.Disk, regions ...*memory.Memory) *Bus {
	b := &Bus{mmu: mmuUnit, disk: d}
	for _, r := range regions {
		b.regions = append(b.regions, r)
	}
	return b
}

func (b *Bus) route(addr uint32) (region, error) {
	if b.lastRegion != nil && b.lastRegion.Covers(addr) {
		return b.lastRegion, nil
	}
	for _, r := range b.regions {
		if r.Covers(addr) {
			b.lastRegion = r
			return r, nil
		}
	}
	return nil, utils.MakeError(ErrNoRoute, "0x%x", addr)
}

// translate maps a virtual address through the MMU, committing any disk I/O
// the translation exception requires (writing back an evicted page,
// installing a freshly fetched page's bytes) before returning the physical
// address.
func (b *Bus) translate(vaddr uint32) (uint32, error) {
	paddr, exc, err := b.mmu.MapAddress(vaddr)
	if err != nil {
		return 0, err
	}

	switch exc.Type {
	case mmu.ExceptionDiskReturnAndFetchSuccess:
		if err := b.commitEvictedPage(exc.EvictedPPage, exc.EvictedDPage); err != nil {
			return 0, err
		}
		fallthrough
	case mmu.ExceptionDiskFetchSuccess:
		if err := b.installFetchedPage(exc.FetchedPPage, exc.FetchedBytes); err != nil {
			return 0, err
		}
	}

	return paddr, nil
}

func (b *Bus) commitEvictedPage(ppage, dpage uint32) error {
	base := ppage << mmu.PageShift
	bytes := make([]byte, mmu.PageSize)
	for i := range bytes {
		v, err := b.readPhysicalByte(base + uint32(i))
		if err != nil {
			return err
		}
		bytes[i] = v
	}
	return b.disk.WritePage(dpage, bytes)
}

func (b *Bus) installFetchedPage(ppage uint32, data []byte) error {
	base := ppage << mmu.PageShift
	for i, v := range data {
		if err := b.writePhysicalByte(base+uint32(i), v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) readPhysicalByte(addr uint32) (byte, error) {
	r, err := b.route(addr)
	if err != nil {
		return 0, err
	}
	return r.ReadByte(addr)
}

func (b *Bus) writePhysicalByte(addr uint32, v byte) error {
	r, err := b.route(addr)
	if err != nil {
		return err
	}
	return r.WriteByte(addr, v)
}

// ReadByte reads one byte at a virtual address.
func (b *Bus) ReadByte(vaddr uint32) (byte, error) {
	paddr, err := b.translate(vaddr)
	if err != nil {
		return 0, err
	}
	return b.readPhysicalByte(paddr)
}

// WriteByte writes one byte at a virtual address.
func (b *Bus) WriteByte(vaddr uint32, v byte) error {
	paddr, err := b.translate(vaddr)
	if err != nil {
		return err
	}
	return b.writePhysicalByte(paddr, v)
}

func straddlesPage(addr uint32, n uint32) bool {
	return (addr%memory.PageSize)+n > memory.PageSize
}

// ReadHalf reads a 2-byte little-endian half-word at a virtual address. A
// half that straddles a page boundary is split into independent byte
// accesses, each separately translated by the MMU, matching the spec's
// requirement that a boundary-crossing access not assume contiguous
// physical placement across the two pages.
func (b *Bus) ReadHalf(vaddr uint32) (uint16, error) {
	if straddlesPage(vaddr, 2) {
		lo, err := b.ReadByte(vaddr)
		if err != nil {
			return 0, err
		}
		hi, err := b.ReadByte(vaddr + 1)
		if err != nil {
			return 0, err
		}
		return uint16(lo) | uint16(hi)<<8, nil
	}
	paddr, err := b.translate(vaddr)
	if err != nil {
		return 0, err
	}
	r, err := b.route(paddr)
	if err != nil {
		return 0, err
	}
	return r.ReadHalf(paddr)
}

// WriteHalf writes a 2-byte little-endian half-word at a virtual address,
// splitting across a page boundary the same way ReadHalf does.
func (b *Bus) WriteHalf(vaddr uint32, v uint16) error {
	if straddlesPage(vaddr, 2) {
		if err := b.WriteByte(vaddr, byte(v)); err != nil {
			return err
		}
		return b.WriteByte(vaddr+1, byte(v>>8))
	}
	paddr, err := b.translate(vaddr)
	if err != nil {
		return err
	}
	r, err := b.route(paddr)
	if err != nil {
		return err
	}
	return r.WriteHalf(paddr, v)
}

// ReadWord reads a 4-byte little-endian word at a virtual address, splitting
// across a page boundary into byte accesses when necessary.
func (b *Bus) ReadWord(vaddr uint32) (uint32, error) {
	if straddlesPage(vaddr, 4) {
		var bytes [4]byte
		for i := range bytes {
			v, err := b.ReadByte(vaddr + uint32(i))
			if err != nil {
				return 0, err
			}
			bytes[i] = v
		}
		return uint32(bytes[0]) | uint32(bytes[1])<<8 | uint32(bytes[2])<<16 | uint32(bytes[3])<<24, nil
	}
	paddr, err := b.translate(vaddr)
	if err != nil {
		return 0, err
	}
	r, err := b.route(paddr)
	if err != nil {
		return 0, err
	}
	return r.ReadWord(paddr)
}

// WriteWord writes a 4-byte little-endian word at a virtual address,
// splitting across a page boundary into byte accesses when necessary.
func (b *Bus) WriteWord(vaddr uint32, v uint32) error {
	if straddlesPage(vaddr, 4) {
		for i := 0; i < 4; i++ {
			if err := b.WriteByte(vaddr+uint32(i), byte(v>>(8*i))); err != nil {
				return err
			}
		}
		return nil
	}
	paddr, err := b.translate(vaddr)
	if err != nil {
		return err
	}
	r, err := b.route(paddr)
	if err != nil {
		return err
	}
	return r.WriteWord(paddr, v)
}

// ReadWordFast is the emulator's instruction-fetch entry point. It is
// simply ReadWord named for that call site, with the same MMU translation
// (translate already short-circuits when the page is resident).
func (b *Bus) ReadWordFast(vaddr uint32) (uint32, error) {
	return b.ReadWord(vaddr)
}
