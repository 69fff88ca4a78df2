package belf

import (
	"sort"

	"github.com/emu32dev/emu32/pkg/utils"
)

var belfMagic = [4]byte{'B', 'E', 'L', 'F'}

const headerSize = 24
const symtabEntrySize = 26
const reltabEntrySize = 28
const sectionHeaderSize = 45

// Write serializes obj into its on-disk BELF representation. Each section's
// Start/Size is recomputed as the body is laid out, mirroring the teacher's
// pattern of deriving on-disk offsets at write time rather than caching them
// in the in-memory model.
func Write(obj *ObjectFile) []byte {
	// Intern every built-in section name up front so the string table
	// written below already contains them.
	textName := obj.InternString(".text")
	dataName := obj.InternString(".data")
	bssName := obj.InternString(".bss")
	symtabName := obj.InternString(".symtab")
	relTextName := obj.InternString(".rel.text")
	relDataName := obj.InternString(".rel.data")
	relBSSName := obj.InternString(".rel.bss")
	strtabName := obj.InternString(".strtab")

	body := NewByteWriter()

	textSec := writeTextSection(obj, body, textName)
	dataSec := writeDataSection(obj, body, dataName)
	bssSec := writeBSSSection(obj, body, bssName)
	symtabSec := writeSymtab(obj, body, symtabName)
	relTextSec := writeRelTable(obj.RelText, body, relTextName, SectionRelText)
	relDataSec := writeRelTable(obj.RelData, body, relDataName, SectionRelData)
	relBSSSec := writeRelTable(obj.RelBSS, body, relBSSName, SectionRelBSS)
	strtabSec := writeStrtab(obj, body, strtabName)

	sections := []Section{textSec, dataSec, bssSec, symtabSec, relTextSec, relDataSec, relBSSSec, strtabSec}
	applyPlacement(obj, sections)

	out := NewByteWriter()
	out.WriteBytes(belfMagic[:])
	out.WriteBytes(make([]byte, 12))
	out.WriteU16(uint16(obj.FileType))
	out.WriteU16(obj.TargetMachine)
	out.WriteU16(obj.Flags)
	out.WriteU16(uint16(len(sections)))

	bodyOffset := out.Len()
	out.WriteBytes(body.Bytes())

	sectionHeaderOffset := out.Len()
	for _, sec := range sections {
		sec.Start += uint32(bodyOffset)
		out.WriteU64(uint64(sec.NameIdx))
		out.WriteU32(uint32(sec.Type))
		out.WriteU64(uint64(sec.Start))
		out.WriteU64(uint64(sec.Size))
		out.WriteU64(uint64(sec.EntrySize))
		out.WriteU8(b2u8(sec.LoadAtPhysical))
		out.WriteU64(uint64(sec.Address))
	}

	out.WriteU64(uint64(sectionHeaderOffset))

	return out.Bytes()
}

// applyPlacement overlays the Address/LoadAtPhysical the linker computed for
// .text/.data/.bss (via obj.Sections) onto the canonical section table Write
// always derives; Start/Size/EntrySize stay derived from the body layout
// above regardless of what the caller put in obj.Sections.
func applyPlacement(obj *ObjectFile, sections []Section) {
	for _, placed := range obj.Sections {
		for i := range sections {
			if sections[i].Type == placed.Type {
				sections[i].Address = placed.Address
				sections[i].LoadAtPhysical = placed.LoadAtPhysical
			}
		}
	}
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func writeTextSection(obj *ObjectFile, body *ByteWriter, nameIdx int) Section {
	start := uint32(body.Len())
	for _, word := range obj.Text {
		body.WriteU32(word)
	}
	return Section{
		NameIdx: nameIdx,
		Type:    SectionText,
		Start:   start,
		Size:    uint32(len(obj.Text) * 4),
	}
}

func writeDataSection(obj *ObjectFile, body *ByteWriter, nameIdx int) Section {
	start := uint32(body.Len())
	body.WriteBytes(obj.Data)
	return Section{
		NameIdx: nameIdx,
		Type:    SectionData,
		Start:   start,
		Size:    uint32(len(obj.Data)),
	}
}

func writeBSSSection(obj *ObjectFile, body *ByteWriter, nameIdx int) Section {
	start := uint32(body.Len())
	body.WriteU64(uint64(obj.BSSSize))
	return Section{
		NameIdx: nameIdx,
		Type:    SectionBSS,
		Start:   start,
		Size:    8,
	}
}

func writeSymtab(obj *ObjectFile, body *ByteWriter, nameIdx int) Section {
	start := uint32(body.Len())
	keys := utils.Keys(obj.Symbols)
	sort.Ints(keys)
	for _, key := range keys {
		sym := obj.Symbols[key]
		body.WriteU64(uint64(sym.NameIdx))
		body.WriteU64(uint64(sym.Value))
		body.WriteU16(uint16(sym.Binding))
		body.WriteU64(uint64(int64(sym.Section)))
	}
	return Section{
		NameIdx:   nameIdx,
		Type:      SectionSymtab,
		Start:     start,
		Size:      uint32(len(keys) * symtabEntrySize),
		EntrySize: symtabEntrySize,
	}
}

func writeRelTable(rels []Relocation, body *ByteWriter, nameIdx int, secType SectionType) Section {
	start := uint32(body.Len())
	for _, rel := range rels {
		body.WriteU64(uint64(rel.Offset))
		body.WriteU64(uint64(rel.Symbol))
		body.WriteU32(uint32(rel.Type))
		body.WriteU64(uint64(rel.Shift))
	}
	return Section{
		NameIdx:   nameIdx,
		Type:      secType,
		Start:     start,
		Size:      uint32(len(rels) * reltabEntrySize),
		EntrySize: reltabEntrySize,
	}
}

func writeStrtab(obj *ObjectFile, body *ByteWriter, nameIdx int) Section {
	start := uint32(body.Len())
	for _, s := range obj.Strings {
		body.WriteCString(s)
	}
	return Section{
		NameIdx: nameIdx,
		Type:    SectionStrtab,
		Start:   start,
		Size:    uint32(body.Len()) - start,
	}
}
