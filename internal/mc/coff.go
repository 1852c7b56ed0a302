package mc

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// COFF relocation types (AMD64).
const (
	ImageRelAmd64Addr64   = 0x0001
	ImageRelAmd64Addr32   = 0x0002
	ImageRelAmd64Addr32NB = 0x0003
	ImageRelAmd64Rel32    = 0x0004
	ImageRelAmd64Section  = 0x000A
	ImageRelAmd64SecRel   = 0x000B
)

const (
	coffFileHeaderSize    = 20
	coffSectionHeaderSize = 40
	coffSymbolSize        = 18
	coffRelocationSize    = 10
	coffMachineAMD64      = 0x8664

	symClassExternal = 2
	symClassStatic   = 3
)

// coffRelocType maps a resolved relocation to its on-disk type and the
// addend stored inline in the section data (COFF has no explicit addends).
func coffRelocType(rel Relocation) (uint16, int64) {
	switch rel.Variant {
	case VKSectionIndex:
		return ImageRelAmd64Section, 0
	case VKSecRel32:
		return ImageRelAmd64SecRel, rel.Addend
	case VKImageRel32:
		return ImageRelAmd64Addr32NB, rel.Addend
	}
	if rel.PCRel {
		if rel.Width != 4 {
			panicf("pc-relative relocation width %d", rel.Width)
		}
		// REL32 is measured from the byte after the field; our expression
		// convention measures from the field start.
		return ImageRelAmd64Rel32, rel.Addend + 4
	}
	switch rel.Width {
	case 8:
		return ImageRelAmd64Addr64, rel.Addend
	case 4:
		return ImageRelAmd64Addr32, rel.Addend
	}
	panicf("unsupported relocation width %d", rel.Width)
	return 0, 0
}

func coffAlignFlag(align int) uint32 {
	n := uint32(1)
	for a := align; a > 1; a >>= 1 {
		n++
	}
	if n > 14 {
		n = 14
	}
	return n << 20
}

// buildCOFF lays out a relocatable PE/COFF object: file header, section
// headers, raw data, relocation tables, symbol table, string table.
func (st *Streamer) buildCOFF() ([]byte, error) {
	sections := st.sections
	for i, s := range sections {
		s.index = i + 1
	}

	// Symbol table: one section symbol per section, then every named symbol.
	strtab := &bytes.Buffer{}
	strOff := func(name string) uint32 {
		off := uint32(strtab.Len()) + 4 // offsets count the size field
		strtab.WriteString(name)
		strtab.WriteByte(0)
		return off
	}

	type coffSym struct {
		name    string
		value   uint32
		secnum  int16
		class   uint8
	}
	syms := make([]coffSym, 0, len(sections)+len(st.ordered))
	sectionSymIndex := map[*Section]uint32{}
	for _, s := range sections {
		sectionSymIndex[s] = uint32(len(syms))
		syms = append(syms, coffSym{name: s.Name, secnum: int16(s.index), class: symClassStatic})
	}
	symIndex := map[*Symbol]uint32{}
	for _, sym := range st.ordered {
		if sym.Temp {
			continue
		}
		class := uint8(symClassStatic)
		if sym.Global || !sym.defined {
			class = symClassExternal
		}
		cs := coffSym{name: sym.Name, class: class}
		if sym.defined {
			cs.value = sym.Value
			cs.secnum = int16(sym.Sect.index)
		}
		symIndex[sym] = uint32(len(syms))
		syms = append(syms, cs)
	}

	relocTarget := func(rel Relocation) uint32 {
		sym := rel.Sym
		if sym.Temp || (sym.defined && !sym.Global) {
			// resolve() folded the symbol offset into the addend.
			return sectionSymIndex[sym.Sect]
		}
		idx, ok := symIndex[sym]
		if !ok {
			panicf("relocation against unregistered symbol %q", sym.Name)
		}
		return idx
	}

	// Patch inline addends now that relocation types are known.
	for _, s := range sections {
		for _, rel := range st.relocations[s] {
			_, inline := coffRelocType(rel)
			patch(s, rel.Offset, rel.Width, uint64(inline))
		}
	}

	align4 := func(v uint32) uint32 { return (v + 3) &^ 3 }

	// Layout: headers, raw data (4-aligned), relocation tables, symbol
	// table, string table.
	cur := uint32(coffFileHeaderSize + coffSectionHeaderSize*len(sections))
	dataPtr := make([]uint32, len(sections))
	for i, s := range sections {
		if s.Len() == 0 {
			continue
		}
		cur = align4(cur)
		dataPtr[i] = cur
		cur += uint32(s.Len())
	}
	relocPtr := make([]uint32, len(sections))
	for i, s := range sections {
		if len(st.relocations[s]) == 0 {
			continue
		}
		cur = align4(cur)
		relocPtr[i] = cur
		cur += uint32(len(st.relocations[s]) * coffRelocationSize)
	}
	symtabPtr := align4(cur)

	buf := &bytes.Buffer{}
	w := func(v interface{}) { binary.Write(buf, binary.LittleEndian, v) }

	// IMAGE_FILE_HEADER
	w(uint16(coffMachineAMD64))
	w(uint16(len(sections)))
	w(uint32(0)) // TimeDateStamp
	w(symtabPtr)
	w(uint32(len(syms)))
	w(uint16(0)) // SizeOfOptionalHeader
	w(uint16(0)) // Characteristics

	// Section headers; long names go to the string table as "/offset".
	for i, s := range sections {
		nameField := make([]byte, 8)
		if len(s.Name) <= 8 {
			copy(nameField, s.Name)
		} else {
			copy(nameField, "/"+strconv.FormatUint(uint64(strOff(s.Name)), 10))
		}
		buf.Write(nameField)
		w(uint32(0)) // VirtualSize
		w(uint32(0)) // VirtualAddress
		w(uint32(s.Len()))
		w(dataPtr[i])
		w(relocPtr[i])
		w(uint32(0)) // PointerToLinenumbers
		w(uint16(len(st.relocations[s])))
		w(uint16(0)) // NumberOfLinenumbers
		w(s.Characteristics | coffAlignFlag(s.Align))
	}

	padTo := func(pos uint32) {
		for uint32(buf.Len()) < pos {
			buf.WriteByte(0)
		}
	}

	for i, s := range sections {
		if s.Len() == 0 {
			continue
		}
		padTo(dataPtr[i])
		buf.Write(s.Bytes())
	}

	for i, s := range sections {
		rels := st.relocations[s]
		if len(rels) == 0 {
			continue
		}
		padTo(relocPtr[i])
		for _, rel := range rels {
			typ, _ := coffRelocType(rel)
			w(rel.Offset)
			w(relocTarget(rel))
			w(typ)
		}
	}

	padTo(symtabPtr)
	for _, cs := range syms {
		nameField := make([]byte, 8)
		if len(cs.name) <= 8 {
			copy(nameField, cs.name)
		} else {
			binary.LittleEndian.PutUint32(nameField[4:], strOff(cs.name))
		}
		buf.Write(nameField)
		w(cs.value)
		w(cs.secnum)
		w(uint16(0)) // Type
		buf.WriteByte(cs.class)
		buf.WriteByte(0) // NumberOfAuxSymbols
	}

	w(uint32(4 + strtab.Len()))
	buf.Write(strtab.Bytes())

	return buf.Bytes(), nil
}
