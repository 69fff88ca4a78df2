// Package memory implements page-range-mapped byte array memory (RAM/ROM)
// with aligned and unaligned word/half access.
package memory

import (
	"encoding/binary"
	"errors"
	"os"

	"github.com/emu32dev/emu32/pkg/utils"
)

// PageSize is the MMU/bus page granularity in bytes.
const PageSize = 4096

var ErrOutOfRange = errors.New("memory: access out of range")

// Memory is a byte array mapped at [StartPage*PageSize, (StartPage+NPages)*PageSize).
type Memory struct {
	startPage uint32
	npages    uint32
	data      []byte
	readOnly  bool // enforced only where the caller chooses to check it; the layer itself allows writes
	mirror    string
}

// NewRAM creates an npages-page, all-zero RAM region starting at startPage.
func NewRAM(startPage, npages uint32) *Memory {
	return &Memory{startPage: startPage, npages: npages, data: make([]byte, npages*PageSize)}
}

// NewROMFromBytes creates a ROM region seeded from buf, zero-padded or
// truncated to npages pages.
func NewROMFromBytes(startPage, npages uint32, buf []byte) *Memory {
	data := make([]byte, npages*PageSize)
	copy(data, buf)
	return &Memory{startPage: startPage, npages: npages, data: data, readOnly: true}
}

// NewROMFromFile loads a ROM region from a host file, zero-padded/truncated
// to npages pages. If mirror is non-empty, Close writes the ROM's current
// bytes back to that path (the spec's "ROM persists to file" behavior).
func NewROMFromFile(startPage, npages uint32, path, mirror string) (*Memory, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, utils.MakeError(ErrOutOfRange, "reading ROM file %v: %v", path, err)
	}
	m := NewROMFromBytes(startPage, npages, buf)
	m.mirror = mirror
	return m, nil
}

// Close mirrors ROM contents to its configured host file, if any.
func (m *Memory) Close() error {
	if m.mirror == "" {
		return nil
	}
	return os.WriteFile(m.mirror, m.data, 0o644)
}

// StartPage, NPages and covers describe the region's placement, used by the
// bus's routing search.
func (m *Memory) StartPage() uint32 { return m.startPage }
func (m *Memory) NPages() uint32    { return m.npages }
func (m *Memory) ReadOnly() bool    { return m.readOnly }

// Covers reports whether addr falls within this region's byte range.
func (m *Memory) Covers(addr uint32) bool {
	lo := m.startPage * PageSize
	hi := lo + m.npages*PageSize
	return addr >= lo && addr < hi
}

func (m *Memory) local(addr uint32) uint32 {
	return addr - m.startPage*PageSize
}

func (m *Memory) checkRange(addr uint32, n int) error {
	end := m.local(addr) + uint32(n)
	if !m.Covers(addr) || end > uint32(len(m.data)) {
		return utils.MakeError(ErrOutOfRange, "0x%x (+%v bytes) outside [0x%x, 0x%x)", addr, n, m.startPage*PageSize, (m.startPage+m.npages)*PageSize)
	}
	return nil
}

// ReadByte reads a single byte.
func (m *Memory) ReadByte(addr uint32) (byte, error) {
	if err := m.checkRange(addr, 1); err != nil {
		return 0, err
	}
	return m.data[m.local(addr)], nil
}

// WriteByte writes a single byte.
func (m *Memory) WriteByte(addr uint32, v byte) error {
	if err := m.checkRange(addr, 1); err != nil {
		return err
	}
	m.data[m.local(addr)] = v
	return nil
}

// ReadHalf reads 2 bytes little-endian; unaligned access within the page is
// permitted (byte-pointer cast semantics).
func (m *Memory) ReadHalf(addr uint32) (uint16, error) {
	if err := m.checkRange(addr, 2); err != nil {
		return 0, err
	}
	off := m.local(addr)
	return binary.LittleEndian.Uint16(m.data[off:]), nil
}

// WriteHalf writes 2 bytes little-endian.
func (m *Memory) WriteHalf(addr uint32, v uint16) error {
	if err := m.checkRange(addr, 2); err != nil {
		return err
	}
	off := m.local(addr)
	binary.LittleEndian.PutUint16(m.data[off:], v)
	return nil
}

// ReadWord reads 4 bytes little-endian; unaligned access within the page is
// permitted.
func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	if err := m.checkRange(addr, 4); err != nil {
		return 0, err
	}
	off := m.local(addr)
	return binary.LittleEndian.Uint32(m.data[off:]), nil
}

// WriteWord writes 4 bytes little-endian.
func (m *Memory) WriteWord(addr uint32, v uint32) error {
	if err := m.checkRange(addr, 4); err != nil {
		return err
	}
	off := m.local(addr)
	binary.LittleEndian.PutUint32(m.data[off:], v)
	return nil
}

// Bytes returns the whole backing array, used by ROM persistence and tests.
func (m *Memory) Bytes() []byte { return m.data }
