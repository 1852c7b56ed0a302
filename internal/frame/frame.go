// Package frame records call-frame-information ops during code emission and
// encodes them as a .debug_frame section (one shared CIE plus one FDE per
// function) on the non-COFF paths.
package frame

import (
	"bytes"

	"github.com/orizon-lang/objwriter/internal/mc"
)

// OpKind is the operation carried by one CFI directive.
type OpKind uint8

const (
	OpAdjustCFAOffset OpKind = iota // CFA offset changes by Offset
	OpRelOffset                     // Reg is saved at the current CFA offset minus Offset
	OpDefCFARegister                // CFA base register becomes Reg
)

// RegIllegal marks an op that carries no register operand.
const RegIllegal int16 = -1

// Op is one recorded directive, tagged with its prologue code offset.
type Op struct {
	CodeOffset uint8
	Kind       OpKind
	Reg        int16
	Offset     int32
}

// Entry is one function's frame description: the code range bracketed by
// cfiStart/cfiEnd and the ops recorded in between.
type Entry struct {
	Start, End *mc.Symbol
	Ops        []Op
}

// DWARF call-frame constants (x86-64).
const (
	dwCFANop            = 0x00
	dwCFAAdvanceLoc     = 0x40 // high-2-bits opcode, delta in low 6
	dwCFAOffset         = 0x80 // high-2-bits opcode, register in low 6
	dwCFAAdvanceLoc1    = 0x02
	dwCFAAdvanceLoc2    = 0x03
	dwCFADefCFA         = 0x0c
	dwCFADefCFARegister = 0x0d
	dwCFADefCFAOffset   = 0x0e
	dwCFAOffsetExtended = 0x05

	regRSP = 7
	regRA  = 16

	dataAlignment = -8
)

// Encode writes a .debug_frame payload into the current section: a CIE at
// offset 0 describing the entry-state rule (CFA = rsp+8, return address at
// CFA-8), then one FDE per entry. FDE initial locations are emitted as
// 8-byte relocatable values against the entry's start label.
func Encode(st *mc.Streamer, entries []Entry) {
	cie := &bytes.Buffer{}
	cie.WriteByte(3) // version (DWARF 3 .debug_frame)
	cie.WriteByte(0) // augmentation: none
	uleb128(cie, 1)  // code alignment factor
	sleb128(cie, dataAlignment)
	uleb128(cie, regRA)
	// Entry state: CFA = rsp + 8, return address saved at CFA - 8.
	cie.WriteByte(dwCFADefCFA)
	uleb128(cie, regRSP)
	uleb128(cie, 8)
	cie.WriteByte(dwCFAOffset | regRA)
	uleb128(cie, 1)
	padNops(cie)

	st.EmitIntValue(uint64(cie.Len()+4), 4)
	st.EmitIntValue(0xffffffff, 4) // CIE id
	st.EmitBytes(cie.Bytes())

	for _, e := range entries {
		body := encodeFDEOps(e.Ops)
		// length covers CIE pointer + initial location + range + ops.
		st.EmitIntValue(uint64(4+8+8+len(body)), 4)
		st.EmitIntValue(0, 4) // CIE offset within .debug_frame
		st.EmitValue(mc.Ref(e.Start), 8, false)
		st.EmitLabelDiff(e.Start, e.End, 8)
		st.EmitBytes(body)
	}
}

// encodeFDEOps lowers recorded ops to DWARF call-frame instructions,
// interleaving advance_loc as the code offset moves forward.
func encodeFDEOps(ops []Op) []byte {
	b := &bytes.Buffer{}
	loc := uint8(0)
	cfaOffset := int64(8)
	for _, op := range ops {
		if op.CodeOffset > loc {
			advanceLoc(b, uint64(op.CodeOffset-loc))
			loc = op.CodeOffset
		}
		switch op.Kind {
		case OpAdjustCFAOffset:
			cfaOffset += int64(op.Offset)
			b.WriteByte(dwCFADefCFAOffset)
			uleb128(b, uint64(cfaOffset))
		case OpRelOffset:
			// The register is saved Offset bytes below the current CFA;
			// the factored offset counts data-alignment units.
			factored := (cfaOffset - int64(op.Offset)) / -dataAlignment
			if op.Reg < 0x40 {
				b.WriteByte(dwCFAOffset | byte(op.Reg))
			} else {
				b.WriteByte(dwCFAOffsetExtended)
				uleb128(b, uint64(op.Reg))
			}
			uleb128(b, uint64(factored))
		case OpDefCFARegister:
			b.WriteByte(dwCFADefCFARegister)
			uleb128(b, uint64(op.Reg))
		default:
			panic("objwriter: unrecognized CFI opcode")
		}
	}
	padNops(b)
	return b.Bytes()
}

func advanceLoc(b *bytes.Buffer, delta uint64) {
	switch {
	case delta < 0x40:
		b.WriteByte(dwCFAAdvanceLoc | byte(delta))
	case delta <= 0xff:
		b.WriteByte(dwCFAAdvanceLoc1)
		b.WriteByte(byte(delta))
	default:
		b.WriteByte(dwCFAAdvanceLoc2)
		b.WriteByte(byte(delta))
		b.WriteByte(byte(delta >> 8))
	}
}

// padNops pads an instruction stream to a 4-byte multiple.
func padNops(b *bytes.Buffer) {
	for b.Len()%4 != 0 {
		b.WriteByte(dwCFANop)
	}
}

// uleb128 encodes an unsigned integer in LEB128 format.
func uleb128(b *bytes.Buffer, v uint64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		b.WriteByte(c)
		if v == 0 {
			break
		}
	}
}

// sleb128 encodes a signed integer in LEB128 format.
func sleb128(b *bytes.Buffer, v int64) {
	for {
		c := byte(v & 0x7f)
		sign := (c & 0x40) != 0
		v >>= 7
		done := (v == 0 && !sign) || (v == -1 && sign)
		if !done {
			c |= 0x80
		}
		b.WriteByte(c)
		if done {
			break
		}
	}
}
