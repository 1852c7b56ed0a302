package mc

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

func TestELFRoundTrip(t *testing.T) {
	st := NewStreamer(ELF)
	st.SwitchSection(st.Text())
	fn := st.GetOrCreateSymbol("compute")
	st.SetGlobal(fn)
	st.Label(fn)
	st.EmitBytes([]byte{0x48, 0x8b, 0xc1, 0xc3})

	st.SwitchSection(st.Data())
	st.EmitValue(Ref(fn), 8, false)

	b, err := st.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	if f.Type != elf.ET_REL || f.Machine != elf.EM_X86_64 {
		t.Fatalf("header: type %v machine %v", f.Type, f.Machine)
	}
	text := f.Section(".text")
	if text == nil {
		t.Fatalf("missing .text")
	}
	data, err := text.Data()
	if err != nil {
		t.Fatalf("text data: %v", err)
	}
	if !bytes.Equal(data, []byte{0x48, 0x8b, 0xc1, 0xc3}) {
		t.Fatalf("text payload: got % x", data)
	}

	syms, err := f.Symbols()
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	found := false
	for _, s := range syms {
		if s.Name == "compute" && elf.ST_BIND(s.Info) == elf.STB_GLOBAL {
			found = true
		}
	}
	if !found {
		t.Fatalf("global symbol compute not found")
	}
}

func TestELFRelaEntries(t *testing.T) {
	st := NewStreamer(ELF)
	st.SwitchSection(st.Data())
	st.EmitValue(Sub(Ref(st.GetOrCreateSymbol("target")), Const(4)), 4, true)

	b, err := st.Finish()
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("elf.NewFile: %v", err)
	}
	defer f.Close()

	rela := f.Section(".rela.data")
	if rela == nil {
		t.Fatalf("missing .rela.data")
	}
	raw, err := rela.Data()
	if err != nil {
		t.Fatalf("rela data: %v", err)
	}
	if len(raw) != 24 {
		t.Fatalf("rela size: got %d want 24", len(raw))
	}
	info := binary.LittleEndian.Uint64(raw[8:])
	if typ := elf.R_X86_64(info & 0xffffffff); typ != elf.R_X86_64_PC32 {
		t.Fatalf("reloc type: got %v", typ)
	}
	if addend := int64(binary.LittleEndian.Uint64(raw[16:])); addend != -4 {
		t.Fatalf("addend: got %d want -4", addend)
	}
}
