// Package disk implements a page-granular block device over a host file,
// fronted by a small direct-mapped write-back cache, with page allocation
// managed by a free-block list.
package disk

import (
	"errors"
	"os"

	"github.com/emu32dev/emu32/pkg/utils"
	"github.com/emu32dev/emu32/pkg/vm/fbl"
)

// PageSize is the fixed disk page size in bytes.
const PageSize = 4096

// CacheSize is the number of direct-mapped cache slots.
const CacheSize = 64

var (
	ErrIO         = errors.New("disk: I/O error")
	ErrOutOfRange = errors.New("disk: page index out of range")
)

// cachePage mirrors one disk page: the page number it holds, whether its
// bytes differ from what is on the host file (dirty), whether it currently
// holds a real page (valid), and an LRU access counter used only for
// observability (eviction on conflict-miss is direct-mapped, not LRU-chosen).
type cachePage struct {
	page   uint32
	data   [PageSize]byte
	valid  bool
	dirty  bool
	access uint64
}

// Disk is a fixed-size page store backed by a host file.
type Disk struct {
	file   *os.File
	npages uint32
	cache  [CacheSize]cachePage
	nacc   uint64
	free   *fbl.List
}

// Open creates or opens the host file at path, sized to hold npages disk
// pages, padding it with zeros if it is smaller than required. The free
// list starts fully allocated; callers seed it with ReturnPage for pages
// that are not yet in use (mirroring the original's "all pages are used
// until explicitly returned" convention).
func Open(path string, npages uint32) (*Disk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, utils.MakeError(ErrIO, "opening %v: %v", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, utils.MakeError(ErrIO, "stat %v: %v", path, err)
	}

	want := int64(npages) * PageSize
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, utils.MakeError(ErrIO, "truncating %v: %v", path, err)
		}
	}

	return &Disk{file: f, npages: npages, free: fbl.New(0, npages, false)}, nil
}

// Close flushes dirty cache pages and closes the host file.
func (d *Disk) Close() error {
	if err := d.Save(); err != nil {
		d.file.Close()
		return err
	}
	return d.file.Close()
}

// NPages returns the disk's total page count.
func (d *Disk) NPages() uint32 { return d.npages }

// GetFreePage allocates a disk page from the free list.
func (d *Disk) GetFreePage() (uint32, error) {
	return d.free.Get(1)
}

// ReturnPage returns a disk page to the free list.
func (d *Disk) ReturnPage(page uint32) error {
	return d.free.Return(page, 1)
}

func (d *Disk) slot(page uint32) *cachePage {
	return &d.cache[page%CacheSize]
}

// getCPage returns the cache slot mirroring page, writing back and
// replacing the current occupant of that slot on a conflict miss.
func (d *Disk) getCPage(page uint32) (*cachePage, error) {
	if page >= d.npages {
		return nil, utils.MakeError(ErrOutOfRange, "page %v >= %v", page, d.npages)
	}

	cp := d.slot(page)
	d.nacc++
	cp.access = d.nacc

	if cp.valid && cp.page == page {
		return cp, nil
	}

	if cp.valid && cp.dirty {
		if err := d.writeBack(cp); err != nil {
			return nil, err
		}
	}

	cp.page = page
	cp.valid = true
	cp.dirty = false
	if err := d.readIn(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (d *Disk) writeBack(cp *cachePage) error {
	if _, err := d.file.WriteAt(cp.data[:], int64(cp.page)*PageSize); err != nil {
		return utils.MakeError(ErrIO, "writing back page %v: %v", cp.page, err)
	}
	cp.dirty = false
	return nil
}

func (d *Disk) readIn(cp *cachePage) error {
	if _, err := d.file.ReadAt(cp.data[:], int64(cp.page)*PageSize); err != nil {
		return utils.MakeError(ErrIO, "reading page %v: %v", cp.page, err)
	}
	return nil
}

// Save flushes every dirty, valid cache page to the host file.
func (d *Disk) Save() error {
	for i := range d.cache {
		cp := &d.cache[i]
		if cp.valid && cp.dirty {
			if err := d.writeBack(cp); err != nil {
				return err
			}
		}
	}
	return nil
}

func pageOffset(addr uint32) (page uint32, offset uint32) {
	return addr / PageSize, addr % PageSize
}

// ReadBytes reads n bytes starting at a flat disk-wide byte address,
// crossing page boundaries as needed.
func (d *Disk) ReadBytes(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	for i := 0; i < n; {
		page, offset := pageOffset(addr + uint32(i))
		cp, err := d.getCPage(page)
		if err != nil {
			return nil, err
		}
		chunk := PageSize - int(offset)
		if chunk > n-i {
			chunk = n - i
		}
		copy(out[i:i+chunk], cp.data[offset:int(offset)+chunk])
		i += chunk
	}
	return out, nil
}

// WriteBytes writes data at a flat disk-wide byte address, crossing page
// boundaries as needed and marking touched cache pages dirty.
func (d *Disk) WriteBytes(addr uint32, data []byte) error {
	for i := 0; i < len(data); {
		page, offset := pageOffset(addr + uint32(i))
		cp, err := d.getCPage(page)
		if err != nil {
			return err
		}
		chunk := PageSize - int(offset)
		if chunk > len(data)-i {
			chunk = len(data) - i
		}
		copy(cp.data[offset:int(offset)+chunk], data[i:i+chunk])
		cp.dirty = true
		i += chunk
	}
	return nil
}

// ReadPage reads a whole page's bytes.
func (d *Disk) ReadPage(page uint32) ([]byte, error) {
	return d.ReadBytes(page*PageSize, PageSize)
}

// WritePage writes a whole page's bytes.
func (d *Disk) WritePage(page uint32, data []byte) error {
	if len(data) != PageSize {
		return utils.MakeError(ErrIO, "page write must be exactly %v bytes, got %v", PageSize, len(data))
	}
	return d.WriteBytes(page*PageSize, data)
}
