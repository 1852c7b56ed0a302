package codeview

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/orizon-lang/objwriter/internal/mc"
)

func TestMapRegisterAMD64(t *testing.T) {
	cases := []struct{ in, want uint16 }{
		{0, 328},  // rax
		{4, 335},  // rsp
		{5, 334},  // rbp
		{8, 336},  // r8
		{15, 343}, // r15
	}
	for _, c := range cases {
		if got := MapRegisterAMD64(c.in); got != c.want {
			t.Fatalf("register %d: got %d want %d", c.in, got, c.want)
		}
	}
}

func TestMapRegisterOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for register 16")
		}
	}()
	MapRegisterAMD64(16)
}

func TestAddFileValidation(t *testing.T) {
	b := NewBuilder()
	b.AddFile(1, "main.c")

	mustPanic(t, "file id 0", func() { b.AddFile(0, "bad.c") })
	mustPanic(t, "duplicate file id", func() { b.AddFile(1, "again.c") })
	mustPanic(t, "unregistered file", func() {
		b.AddLine(LineEntry{FuncID: 1, FileID: 2, Line: 1})
	})
}

func TestFileChecksumsAndStringTable(t *testing.T) {
	b := NewBuilder()
	b.AddFile(1, "main.c")
	b.AddFile(2, "util.c")

	st := mc.NewStreamer(mc.COFF)
	st.SwitchSection(st.DebugSymbols())
	b.EmitFileChecksums(st)
	b.EmitStringTable(st)
	if _, err := st.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	raw := st.DebugSymbols().Bytes()
	if kind := binary.LittleEndian.Uint32(raw); kind != SubsectionFileChecksums {
		t.Fatalf("first subsection kind: got %#x", kind)
	}
	length := binary.LittleEndian.Uint32(raw[4:])
	if length != 2*checksumEntrySize {
		t.Fatalf("checksum subsection length: got %d want %d", length, 2*checksumEntrySize)
	}
	// main.c sits at string-table offset 1, util.c right after its NUL.
	if off := binary.LittleEndian.Uint32(raw[8:]); off != 1 {
		t.Fatalf("first checksum entry offset: got %d want 1", off)
	}
	if off := binary.LittleEndian.Uint32(raw[16:]); off != 1+uint32(len("main.c"))+1 {
		t.Fatalf("second checksum entry offset: got %d", off)
	}

	strs := raw[8+length:]
	if kind := binary.LittleEndian.Uint32(strs); kind != SubsectionStringTable {
		t.Fatalf("second subsection kind: got %#x", kind)
	}
	body := strs[8 : 8+binary.LittleEndian.Uint32(strs[4:])]
	want := append([]byte{0}, append([]byte("main.c\x00"), []byte("util.c\x00")...)...)
	if !bytes.Equal(body, want) {
		t.Fatalf("string table: got %q want %q", body, want)
	}
}

func TestLinetableLayout(t *testing.T) {
	b := NewBuilder()
	b.AddFile(1, "main.c")
	b.AddLine(LineEntry{FuncID: 1, Offset: 0, FileID: 1, Line: 10, Column: 5, IsStmt: true})
	b.AddLine(LineEntry{FuncID: 1, Offset: 4, FileID: 1, Line: 11, Column: 1, IsStmt: false})
	b.AddLine(LineEntry{FuncID: 2, Offset: 0, FileID: 1, Line: 99}) // other function

	st := mc.NewStreamer(mc.COFF)
	st.SwitchSection(st.Text())
	fn := st.GetOrCreateSymbol("main")
	st.Label(fn)
	st.EmitBytes(make([]byte, 8))
	fnEnd := st.NewTempSymbol()
	st.Label(fnEnd)

	st.SwitchSection(st.DebugSymbols())
	b.EmitLinetable(st, 1, fn, fnEnd)
	if _, err := st.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	raw := st.DebugSymbols().Bytes()
	if kind := binary.LittleEndian.Uint32(raw); kind != SubsectionLines {
		t.Fatalf("subsection kind: got %#x", kind)
	}
	// header: secrel32(4) secidx(2) flags(2) cbCon(4), then one file block.
	if flags := binary.LittleEndian.Uint16(raw[14:]); flags != LinesHaveColumns {
		t.Fatalf("flags: got %#x", flags)
	}
	if cb := binary.LittleEndian.Uint32(raw[16:]); cb != 8 {
		t.Fatalf("code length: got %d want 8", cb)
	}
	if n := binary.LittleEndian.Uint32(raw[24:]); n != 2 {
		t.Fatalf("line count: got %d want 2", n)
	}
	if size := binary.LittleEndian.Uint32(raw[28:]); size != 12+2*8+2*4 {
		t.Fatalf("block size: got %d", size)
	}
	// first row: offset 0, line 10 with the statement bit set.
	if line := binary.LittleEndian.Uint32(raw[36:]); line != 10|0x80000000 {
		t.Fatalf("first row line: got %#x", line)
	}
	// second row: offset 4, line 11, no statement bit.
	if off := binary.LittleEndian.Uint32(raw[40:]); off != 4 {
		t.Fatalf("second row offset: got %d", off)
	}
	if line := binary.LittleEndian.Uint32(raw[44:]); line != 11 {
		t.Fatalf("second row line: got %#x", line)
	}
	// column pairs follow the rows.
	if col := binary.LittleEndian.Uint16(raw[48:]); col != 5 {
		t.Fatalf("first column: got %d", col)
	}
}

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic: %s", what)
		}
	}()
	fn()
}
