package codeview

import (
	"github.com/orizon-lang/objwriter/internal/mc"
)

// checksumEntrySize is the fixed size of one FileChecksums entry: 4-byte
// string-table offset, 1-byte checksum size (0), 1-byte kind (none), 2 pad.
const checksumEntrySize = 8

// LineEntry associates one code offset with a source coordinate.
type LineEntry struct {
	FuncID int
	Offset int
	FileID int
	Line   int
	Column int
	IsStmt bool
}

// Builder accumulates source files and line entries over a module's lifetime
// and materializes the CodeView subsections that depend on them.
type Builder struct {
	fileNames map[int]string
	fileOrder []int // registration order; checksum offsets derive from it
	entries   []LineEntry
}

// NewBuilder returns an empty line-table builder.
func NewBuilder() *Builder {
	return &Builder{fileNames: map[int]string{}}
}

// AddFile registers a source file id. Ids must be >= 1 and unique.
func (b *Builder) AddFile(id int, name string) {
	if id < 1 {
		panic("objwriter: file id must be >= 1")
	}
	if _, ok := b.fileNames[id]; ok {
		panic("objwriter: duplicate file id")
	}
	b.fileNames[id] = name
	b.fileOrder = append(b.fileOrder, id)
}

// AddLine records a line entry for the given function sequence number.
func (b *Builder) AddLine(e LineEntry) {
	if _, ok := b.fileNames[e.FileID]; !ok {
		panic("objwriter: line entry references unregistered file id")
	}
	b.entries = append(b.entries, e)
}

// checksumOffset returns the byte offset of the file's entry within the
// FileChecksums subsection.
func (b *Builder) checksumOffset(fileID int) uint32 {
	for i, id := range b.fileOrder {
		if id == fileID {
			return uint32(i * checksumEntrySize)
		}
	}
	panic("objwriter: line entry references unregistered file id")
}

// beginSubsection emits the kind and the label-difference length prefix and
// returns the two bracketing labels; endSubsection closes them.
func beginSubsection(st *mc.Streamer, kind uint32) (begin, end *mc.Symbol) {
	begin, end = st.NewTempSymbol(), st.NewTempSymbol()
	st.EmitIntValue(uint64(kind), 4)
	st.EmitLabelDiff(begin, end, 4)
	st.Label(begin)
	return begin, end
}

func endSubsection(st *mc.Streamer, end *mc.Symbol) {
	st.Label(end)
	st.EmitAlignment(4)
}

// EmitLinetable writes the Lines subsection for one function: a header
// locating the code range, then per-file blocks of line/column rows. The
// entries recorded for funcID are consumed in call order.
func (b *Builder) EmitLinetable(st *mc.Streamer, funcID int, fn, fnEnd *mc.Symbol) {
	var rows []LineEntry
	for _, e := range b.entries {
		if e.FuncID == funcID {
			rows = append(rows, e)
		}
	}

	_, end := beginSubsection(st, SubsectionLines)

	st.EmitSecRel32(mc.Ref(fn))
	st.EmitSectionIndex(fn)
	st.EmitIntValue(LinesHaveColumns, 2)
	st.EmitLabelDiff(fn, fnEnd, 4) // cbCon: code length covered

	// One block per file, split at file transitions in call order.
	for i := 0; i < len(rows); {
		j := i
		for j < len(rows) && rows[j].FileID == rows[i].FileID {
			j++
		}
		n := j - i
		st.EmitIntValue(uint64(b.checksumOffset(rows[i].FileID)), 4)
		st.EmitIntValue(uint64(n), 4)
		st.EmitIntValue(uint64(12+n*8+n*4), 4)
		for _, r := range rows[i:j] {
			st.EmitIntValue(uint64(uint32(r.Offset)), 4)
			line := uint32(r.Line) & 0x00ffffff
			if r.IsStmt {
				line |= 0x80000000
			}
			st.EmitIntValue(uint64(line), 4)
		}
		for _, r := range rows[i:j] {
			st.EmitIntValue(uint64(uint16(r.Column)), 2)
			st.EmitIntValue(0, 2) // end column unknown
		}
		i = j
	}

	endSubsection(st, end)
}

// EmitFileChecksums writes the FileChecksums subsection: one fixed-size entry
// per registered file, in registration order, each pointing into the string
// table. Checksums themselves are not computed (kind "none").
func (b *Builder) EmitFileChecksums(st *mc.Streamer) {
	_, end := beginSubsection(st, SubsectionFileChecksums)
	off := uint32(1) // string table offset 0 is the empty string
	for _, id := range b.fileOrder {
		st.EmitIntValue(uint64(off), 4)
		st.EmitIntValue(0, 1) // checksum size
		st.EmitIntValue(0, 1) // checksum kind: none
		st.EmitIntValue(0, 2) // pad to 4
		off += uint32(len(b.fileNames[id])) + 1
	}
	endSubsection(st, end)
}

// EmitStringTable writes the StringTable subsection referenced by the
// checksum entries. Offset 0 is reserved for the empty string.
func (b *Builder) EmitStringTable(st *mc.Streamer) {
	_, end := beginSubsection(st, SubsectionStringTable)
	st.EmitIntValue(0, 1)
	for _, id := range b.fileOrder {
		st.EmitBytes([]byte(b.fileNames[id]))
		st.EmitIntValue(0, 1)
	}
	endSubsection(st, end)
}
