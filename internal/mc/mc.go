// Package mc is the code-emission backend: buffered sections, symbols,
// relocatable expressions and the streamer that appends to them. Object
// containers (COFF/ELF64/Mach-O) are laid out from this state at finish time.
package mc

import (
	"bytes"
	"fmt"
)

// Format selects the object container written at finish time.
type Format int

const (
	COFF Format = iota
	ELF
	MachO
)

func (f Format) String() string {
	switch f {
	case COFF:
		return "coff"
	case ELF:
		return "elf"
	case MachO:
		return "macho"
	default:
		return "unknown"
	}
}

// Arch selects the target instruction set. Only AMD64 is supported.
type Arch int

const AMD64 Arch = iota

// COFF section characteristics (subset used here).
const (
	CoffCntCode            = 0x00000020
	CoffCntInitializedData = 0x00000040
	CoffMemDiscardable     = 0x02000000
	CoffMemExecute         = 0x20000000
	CoffMemRead            = 0x40000000
	CoffMemWrite           = 0x80000000
)

// ELF section header constants (subset).
const (
	ElfSHTProgbits = 1
	ElfSHFWrite    = 0x1
	ElfSHFAlloc    = 0x2
	ElfSHFExecinst = 0x4
)

// Section is one output section. The per-format attribute fields are only
// consulted by the matching container writer.
type Section struct {
	Name            string // on-disk name (Mach-O: section name within Segment)
	Segment         string // Mach-O segment name
	Characteristics uint32 // COFF
	ElfType         uint32
	ElfFlags        uint64
	Align           int
	Fill            byte // alignment pad byte (0x90 in text, zero elsewhere)

	buf    bytes.Buffer
	fixups []fixup
	index  int // 1-based section number, assigned at layout time
}

func (s *Section) Len() int      { return s.buf.Len() }
func (s *Section) Bytes() []byte { return s.buf.Bytes() }

// Symbol is a named or temporary label. Temp symbols never reach the object
// symbol table; references to them are rewritten against their section.
type Symbol struct {
	Name    string
	Sect    *Section
	Value   uint32
	Global  bool
	Temp    bool
	defined bool
}

// Defined reports whether the symbol has been bound to a position.
func (s *Symbol) Defined() bool { return s.defined }

// fixup is a value whose bytes cannot be produced until all labels are bound.
type fixup struct {
	offset  uint32
	width   int
	expr    Expr
	pcRel   bool
	variant Variant
}

// Relocation is one resolved entry destined for the container writer.
type Relocation struct {
	Offset  uint32
	Sym     *Symbol
	Addend  int64
	Variant Variant
	Width   int
	PCRel   bool
}

func panicf(format string, args ...interface{}) {
	panic("objwriter: " + fmt.Sprintf(format, args...))
}
