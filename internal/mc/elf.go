package mc

import (
	"bytes"
	"encoding/binary"
)

// ELF relocation types (x86-64).
const (
	RX8664_64   = 1
	RX8664_PC32 = 2
	RX8664_32   = 10
)

const (
	elfHeaderSize  = 64
	elfShdrSize    = 64
	elfSymSize     = 24
	elfRelaSize    = 24
	elfETRel       = 1
	elfEMX8664     = 62
	elfSHTSymtab   = 2
	elfSHTStrtab   = 3
	elfSHTRela     = 4
	elfSTTSection  = 3
	elfSTBGlobal   = 1
)

func elfRelocType(rel Relocation) uint32 {
	switch rel.Variant {
	case VKSecRel32, VKImageRel32, VKSectionIndex:
		panicf("COFF-only relocation variant on ELF target")
	}
	if rel.PCRel {
		if rel.Width != 4 {
			panicf("pc-relative relocation width %d", rel.Width)
		}
		return RX8664_PC32
	}
	switch rel.Width {
	case 8:
		return RX8664_64
	case 4:
		return RX8664_32
	}
	panicf("unsupported relocation width %d", rel.Width)
	return 0
}

// buildELF lays out an ET_REL ELF64 object: payload sections, .symtab,
// .strtab, one .rela.<name> per relocated section, .shstrtab, headers.
func (st *Streamer) buildELF() ([]byte, error) {
	payload := st.sections
	for i, s := range payload {
		s.index = i + 1 // section 0 is the null entry
	}

	// String tables.
	strtab := &bytes.Buffer{}
	strtab.WriteByte(0)
	strOff := func(name string) uint32 {
		off := uint32(strtab.Len())
		strtab.WriteString(name)
		strtab.WriteByte(0)
		return off
	}

	// Symbol table: null, one section symbol per section (local), defined
	// locals, then globals and undefined externals.
	type elfSym struct {
		nameOff uint32
		info    uint8
		shndx   uint16
		value   uint64
	}
	syms := []elfSym{{}}
	sectionSymIndex := map[*Section]uint32{}
	for _, s := range payload {
		sectionSymIndex[s] = uint32(len(syms))
		syms = append(syms, elfSym{info: elfSTTSection, shndx: uint16(s.index)})
	}
	for _, sym := range st.ordered {
		if sym.Temp || sym.Global || !sym.defined {
			continue
		}
		syms = append(syms, elfSym{
			nameOff: strOff(sym.Name),
			shndx:   uint16(sym.Sect.index),
			value:   uint64(sym.Value),
		})
	}
	firstGlobal := uint32(len(syms))
	symIndex := map[*Symbol]uint32{}
	for _, sym := range st.ordered {
		if sym.Temp || (!sym.Global && sym.defined) {
			continue
		}
		es := elfSym{nameOff: strOff(sym.Name), info: elfSTBGlobal << 4}
		if sym.defined {
			es.shndx = uint16(sym.Sect.index)
			es.value = uint64(sym.Value)
		}
		symIndex[sym] = uint32(len(syms))
		syms = append(syms, es)
	}

	relocTarget := func(rel Relocation) uint32 {
		sym := rel.Sym
		if sym.Temp || (sym.defined && !sym.Global) {
			return sectionSymIndex[sym.Sect]
		}
		idx, ok := symIndex[sym]
		if !ok {
			panicf("relocation against unregistered symbol %q", sym.Name)
		}
		return idx
	}

	// Section header string table; names are registered in header order.
	shstr := &bytes.Buffer{}
	shstr.WriteByte(0)
	shName := func(name string) uint32 {
		off := uint32(shstr.Len())
		shstr.WriteString(name)
		shstr.WriteByte(0)
		return off
	}

	type shdr struct {
		name, typ, link, info uint32
		flags, off, size      uint64
		addralign, entsize    uint64
	}
	headers := []shdr{{}} // null section

	alignTo := func(v uint64, a uint64) uint64 {
		if a == 0 {
			a = 1
		}
		return (v + a - 1) &^ (a - 1)
	}

	cur := uint64(elfHeaderSize)
	for _, s := range payload {
		cur = alignTo(cur, uint64(s.Align))
		headers = append(headers, shdr{
			name: shName(s.Name), typ: s.ElfType, flags: s.ElfFlags,
			off: cur, size: uint64(s.Len()), addralign: uint64(s.Align),
		})
		cur += uint64(s.Len())
	}
	payloadOff := make([]uint64, len(payload))
	for i := range payload {
		payloadOff[i] = headers[i+1].off
	}

	symtabIdx := uint32(len(headers))
	cur = alignTo(cur, 8)
	headers = append(headers, shdr{
		name: shName(".symtab"), typ: elfSHTSymtab,
		off: cur, size: uint64(len(syms) * elfSymSize),
		link: symtabIdx + 1, info: firstGlobal, addralign: 8, entsize: elfSymSize,
	})
	cur += uint64(len(syms) * elfSymSize)

	headers = append(headers, shdr{
		name: shName(".strtab"), typ: elfSHTStrtab,
		off: cur, size: uint64(strtab.Len()), addralign: 1,
	})
	cur += uint64(strtab.Len())

	type relaSec struct {
		target *Section
		hdrIdx int
	}
	var relas []relaSec
	for i, s := range payload {
		rels := st.relocations[s]
		if len(rels) == 0 {
			continue
		}
		cur = alignTo(cur, 8)
		headers = append(headers, shdr{
			name: shName(".rela" + s.Name), typ: elfSHTRela,
			off: cur, size: uint64(len(rels) * elfRelaSize),
			link: symtabIdx, info: uint32(i + 1), addralign: 8, entsize: elfRelaSize,
		})
		relas = append(relas, relaSec{target: s, hdrIdx: len(headers) - 1})
		cur += uint64(len(rels) * elfRelaSize)
	}

	shstrIdx := uint32(len(headers))
	headers = append(headers, shdr{
		name: shName(".shstrtab"), typ: elfSHTStrtab,
		off: cur, size: uint64(shstr.Len()), addralign: 1,
	})
	cur += uint64(shstr.Len())

	shoff := alignTo(cur, 8)

	buf := &bytes.Buffer{}
	ehdr := make([]byte, elfHeaderSize)
	copy(ehdr[0:4], []byte{0x7f, 'E', 'L', 'F'})
	ehdr[4] = 2 // ELFCLASS64
	ehdr[5] = 1 // ELFDATA2LSB
	ehdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(ehdr[16:], elfETRel)
	binary.LittleEndian.PutUint16(ehdr[18:], elfEMX8664)
	binary.LittleEndian.PutUint32(ehdr[20:], 1)
	binary.LittleEndian.PutUint64(ehdr[40:], shoff)
	binary.LittleEndian.PutUint16(ehdr[52:], elfHeaderSize)
	binary.LittleEndian.PutUint16(ehdr[58:], elfShdrSize)
	binary.LittleEndian.PutUint16(ehdr[60:], uint16(len(headers)))
	binary.LittleEndian.PutUint16(ehdr[62:], uint16(shstrIdx))
	buf.Write(ehdr)

	padTo := func(pos uint64) {
		for uint64(buf.Len()) < pos {
			buf.WriteByte(0)
		}
	}

	for i, s := range payload {
		padTo(payloadOff[i])
		buf.Write(s.Bytes())
	}

	padTo(headers[symtabIdx].off)
	for _, es := range syms {
		sb := make([]byte, elfSymSize)
		binary.LittleEndian.PutUint32(sb[0:], es.nameOff)
		sb[4] = es.info
		binary.LittleEndian.PutUint16(sb[6:], es.shndx)
		binary.LittleEndian.PutUint64(sb[8:], es.value)
		buf.Write(sb)
	}
	buf.Write(strtab.Bytes())

	for _, rs := range relas {
		padTo(headers[rs.hdrIdx].off)
		for _, rel := range st.relocations[rs.target] {
			rb := make([]byte, elfRelaSize)
			binary.LittleEndian.PutUint64(rb[0:], uint64(rel.Offset))
			binary.LittleEndian.PutUint64(rb[8:], uint64(relocTarget(rel))<<32|uint64(elfRelocType(rel)))
			binary.LittleEndian.PutUint64(rb[16:], uint64(rel.Addend))
			buf.Write(rb)
		}
	}

	padTo(headers[shstrIdx].off)
	buf.Write(shstr.Bytes())

	padTo(shoff)
	for _, h := range headers {
		sh := make([]byte, elfShdrSize)
		binary.LittleEndian.PutUint32(sh[0:], h.name)
		binary.LittleEndian.PutUint32(sh[4:], h.typ)
		binary.LittleEndian.PutUint64(sh[8:], h.flags)
		binary.LittleEndian.PutUint64(sh[24:], h.off)
		binary.LittleEndian.PutUint64(sh[32:], h.size)
		binary.LittleEndian.PutUint32(sh[40:], h.link)
		binary.LittleEndian.PutUint32(sh[44:], h.info)
		binary.LittleEndian.PutUint64(sh[48:], h.addralign)
		binary.LittleEndian.PutUint64(sh[56:], h.entsize)
		buf.Write(sh)
	}

	return buf.Bytes(), nil
}
