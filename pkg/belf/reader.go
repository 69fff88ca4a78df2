package belf

import (
	"errors"

	"github.com/emu32dev/emu32/pkg/utils"
)

var (
	ErrBadMagic      = errors.New("belf: bad magic number")
	ErrMalformedFile = errors.New("belf: malformed object file")
)

// Read parses raw into an ObjectFile, reconstructing every table from the
// on-disk layout written by Write.
func Read(raw []byte) (*ObjectFile, error) {
	if len(raw) < headerSize+8 {
		return nil, utils.MakeError(ErrMalformedFile, "file too small (%v bytes)", len(raw))
	}

	header := NewByteReader(raw)
	magic, err := header.ReadBytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != string(belfMagic[:]) {
		return nil, utils.MakeError(ErrBadMagic, "got %q", magic)
	}
	if err := header.Seek(16); err != nil {
		return nil, err
	}
	fileType, err := header.ReadU16()
	if err != nil {
		return nil, err
	}
	targetMachine, err := header.ReadU16()
	if err != nil {
		return nil, err
	}
	flags, err := header.ReadU16()
	if err != nil {
		return nil, err
	}
	sectionCount, err := header.ReadU16()
	if err != nil {
		return nil, err
	}

	tail := NewByteReader(raw)
	if err := tail.Seek(len(raw) - 8); err != nil {
		return nil, utils.MakeError(ErrMalformedFile, "missing section-header-table pointer")
	}
	sectionHeaderOffset, err := tail.ReadU64()
	if err != nil {
		return nil, err
	}

	shr := NewByteReader(raw)
	if err := shr.Seek(int(sectionHeaderOffset)); err != nil {
		return nil, utils.MakeError(ErrMalformedFile, "section header table offset out of range")
	}

	sections := make([]Section, sectionCount)
	for i := range sections {
		nameIdx, err := shr.ReadU64()
		if err != nil {
			return nil, err
		}
		typ, err := shr.ReadU32()
		if err != nil {
			return nil, err
		}
		start, err := shr.ReadU64()
		if err != nil {
			return nil, err
		}
		size, err := shr.ReadU64()
		if err != nil {
			return nil, err
		}
		entrySize, err := shr.ReadU64()
		if err != nil {
			return nil, err
		}
		loadPhysical, err := shr.ReadU8()
		if err != nil {
			return nil, err
		}
		address, err := shr.ReadU64()
		if err != nil {
			return nil, err
		}
		sections[i] = Section{
			NameIdx:        int(nameIdx),
			Type:           SectionType(typ),
			Start:          uint32(start),
			Size:           uint32(size),
			EntrySize:      uint32(entrySize),
			LoadAtPhysical: loadPhysical != 0,
			Address:        uint32(address),
		}
	}

	obj := New(FileType(fileType))
	obj.TargetMachine = targetMachine
	obj.Flags = flags
	obj.Sections = sections

	for _, sec := range sections {
		body := NewByteReader(raw)
		if err := body.Seek(int(sec.Start)); err != nil {
			return nil, utils.MakeError(ErrMalformedFile, "section body offset out of range")
		}

		switch sec.Type {
		case SectionText:
			n := int(sec.Size / 4)
			obj.Text = make([]uint32, n)
			for i := 0; i < n; i++ {
				word, err := body.ReadU32()
				if err != nil {
					return nil, err
				}
				obj.Text[i] = word
			}
		case SectionData:
			data, err := body.ReadBytes(int(sec.Size))
			if err != nil {
				return nil, err
			}
			obj.Data = append([]byte(nil), data...)
		case SectionBSS:
			size, err := body.ReadU64()
			if err != nil {
				return nil, err
			}
			obj.BSSSize = uint32(size)
		case SectionSymtab:
			n := int(sec.Size / symtabEntrySize)
			for i := 0; i < n; i++ {
				nameIdx, err := body.ReadU64()
				if err != nil {
					return nil, err
				}
				value, err := body.ReadU64()
				if err != nil {
					return nil, err
				}
				binding, err := body.ReadU16()
				if err != nil {
					return nil, err
				}
				section, err := body.ReadU64()
				if err != nil {
					return nil, err
				}
				obj.Symbols[int(nameIdx)] = &Symbol{
					NameIdx: int(nameIdx),
					Value:   uint32(value),
					Binding: Binding(binding),
					Section: int(int64(section)),
				}
			}
		case SectionRelText:
			rels, err := readRelTable(body, int(sec.Size/reltabEntrySize))
			if err != nil {
				return nil, err
			}
			obj.RelText = rels
		case SectionRelData:
			rels, err := readRelTable(body, int(sec.Size/reltabEntrySize))
			if err != nil {
				return nil, err
			}
			obj.RelData = rels
		case SectionRelBSS:
			rels, err := readRelTable(body, int(sec.Size/reltabEntrySize))
			if err != nil {
				return nil, err
			}
			obj.RelBSS = rels
		case SectionStrtab:
			end := int(sec.Start + sec.Size)
			for body.Pos() < end {
				s, err := body.ReadCString()
				if err != nil {
					return nil, err
				}
				if _, err := obj.AddString(s); err != nil {
					return nil, err
				}
			}
		}
	}

	for i, sec := range sections {
		if sec.NameIdx >= 0 && sec.NameIdx < len(obj.Strings) {
			obj.SectionTable[obj.Strings[sec.NameIdx]] = i
		}
	}

	return obj, nil
}

func readRelTable(body *ByteReader, n int) ([]Relocation, error) {
	rels := make([]Relocation, n)
	for i := 0; i < n; i++ {
		offset, err := body.ReadU64()
		if err != nil {
			return nil, err
		}
		symbol, err := body.ReadU64()
		if err != nil {
			return nil, err
		}
		typ, err := body.ReadU32()
		if err != nil {
			return nil, err
		}
		shift, err := body.ReadU64()
		if err != nil {
			return nil, err
		}
		rels[i] = Relocation{
			Offset: uint32(offset),
			Symbol: int(symbol),
			Type:   RelocType(typ),
			Shift:  uint32(shift),
		}
	}
	return rels, nil
}
