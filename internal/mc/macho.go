package mc

import (
	"bytes"
	"encoding/binary"
)

// Mach-O constants (mirroring mach-o/loader.h minimal set).
const (
	machMagic64          = 0xfeedfacf
	machCPUTypeX8664     = 0x01000007
	machCPUSubtypeX86All = 0x00000003
	machMHObject         = 0x1
	machLCSegment64      = 0x19
	machLCSymtab         = 0x2

	machSegmentCmdSize = 72
	machSectionSize    = 80
	machHeaderSize     = 32
	machSymtabCmdSize  = 24
	machNlistSize      = 16

	machNSect = 0x0e
	machNExt  = 0x01

	machAttrPureInstructions = 0x80000000
	machAttrSomeInstructions = 0x00000400
)

func machoPadName(name string) [16]byte {
	var out [16]byte
	copy(out[:], name)
	return out
}

// buildMachO lays out an MH_OBJECT file: one segment command covering every
// section, the section payloads, and a symbol table of defined externals.
// Relocations are not carried on this path; resolve() already rejected any
// reference it could not patch in place.
func (st *Streamer) buildMachO() ([]byte, error) {
	sections := st.sections
	for i, s := range sections {
		s.index = i + 1
	}

	strtab := &bytes.Buffer{}
	strtab.WriteByte(0)
	type nlist struct {
		strx  uint32
		typ   uint8
		sect  uint8
		value uint64
	}
	var syms []nlist
	for _, sym := range st.ordered {
		if sym.Temp || !sym.defined || !sym.Global {
			continue
		}
		strx := uint32(strtab.Len())
		strtab.WriteString("_" + sym.Name)
		strtab.WriteByte(0)
		syms = append(syms, nlist{
			strx: strx, typ: machNSect | machNExt,
			sect: uint8(sym.Sect.index), value: uint64(sym.Value),
		})
	}

	cmdsize := uint32(machSegmentCmdSize + machSectionSize*len(sections) + machSymtabCmdSize)
	dataStart := uint32(machHeaderSize) + cmdsize

	alignTo := func(v uint32, a int) uint32 {
		if a <= 1 {
			return v
		}
		return (v + uint32(a) - 1) &^ (uint32(a) - 1)
	}
	log2 := func(a int) uint32 {
		n := uint32(0)
		for a > 1 {
			a >>= 1
			n++
		}
		return n
	}

	secOffsets := make([]uint32, len(sections))
	cur := dataStart
	for i, s := range sections {
		if s.Len() == 0 {
			continue
		}
		cur = alignTo(cur, s.Align)
		secOffsets[i] = cur
		cur += uint32(s.Len())
	}
	symOff := alignTo(cur, 8)
	strOff := symOff + uint32(len(syms)*machNlistSize)

	buf := &bytes.Buffer{}
	w := func(v interface{}) { binary.Write(buf, binary.LittleEndian, v) }

	// mach_header_64
	w(uint32(machMagic64))
	w(uint32(machCPUTypeX8664))
	w(uint32(machCPUSubtypeX86All))
	w(uint32(machMHObject))
	w(uint32(2)) // ncmds: segment + symtab
	w(cmdsize)
	w(uint32(0)) // flags
	w(uint32(0)) // reserved

	// LC_SEGMENT_64: MH_OBJECT keeps all sections in one unnamed segment.
	w(uint32(machLCSegment64))
	w(uint32(machSegmentCmdSize + machSectionSize*len(sections)))
	buf.Write(make([]byte, 16)) // segname
	w(uint64(0))                // vmaddr
	w(uint64(cur - dataStart))  // vmsize
	w(uint64(dataStart))        // fileoff
	w(uint64(cur - dataStart))  // filesize
	w(int32(7))                 // maxprot
	w(int32(7))                 // initprot
	w(uint32(len(sections)))
	w(uint32(0)) // flags

	addr := uint64(0)
	for i, s := range sections {
		name := machoPadName(s.Name)
		seg := machoPadName(s.Segment)
		buf.Write(name[:])
		buf.Write(seg[:])
		w(addr)
		w(uint64(s.Len()))
		w(secOffsets[i])
		w(log2(s.Align))
		w(uint32(0)) // reloff
		w(uint32(0)) // nreloc
		flags := uint32(0)
		if s.Fill == 0x90 {
			flags = machAttrPureInstructions | machAttrSomeInstructions
		}
		w(flags)
		w(uint32(0)) // reserved1
		w(uint32(0)) // reserved2
		w(uint32(0)) // reserved3
		addr += uint64(s.Len())
	}

	// LC_SYMTAB
	w(uint32(machLCSymtab))
	w(uint32(machSymtabCmdSize))
	w(symOff)
	w(uint32(len(syms)))
	w(strOff)
	w(uint32(strtab.Len()))

	padTo := func(pos uint32) {
		for uint32(buf.Len()) < pos {
			buf.WriteByte(0)
		}
	}
	for i, s := range sections {
		if s.Len() == 0 {
			continue
		}
		padTo(secOffsets[i])
		buf.Write(s.Bytes())
	}
	padTo(symOff)
	for _, n := range syms {
		w(n.strx)
		buf.WriteByte(n.typ)
		buf.WriteByte(n.sect)
		w(uint16(0)) // n_desc
		w(n.value)
	}
	buf.Write(strtab.Bytes())

	return buf.Bytes(), nil
}
