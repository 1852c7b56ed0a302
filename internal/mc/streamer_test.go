package mc

import (
	"bytes"
	"testing"
)

func TestLabelDiffFoldsToConstant(t *testing.T) {
	st := NewStreamer(COFF)
	st.SwitchSection(st.Data())

	from, to := st.NewTempSymbol(), st.NewTempSymbol()
	st.EmitLabelDiff(from, to, 4)
	st.Label(from)
	st.EmitBytes(make([]byte, 10))
	st.Label(to)

	if _, err := st.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got := uint32(st.Data().Bytes()[0]) | uint32(st.Data().Bytes()[1])<<8 |
		uint32(st.Data().Bytes()[2])<<16 | uint32(st.Data().Bytes()[3])<<24
	if got != 10 {
		t.Fatalf("label difference: got %d want 10", got)
	}
}

func TestAlignmentUsesSectionFill(t *testing.T) {
	st := NewStreamer(COFF)
	st.SwitchSection(st.Text())
	st.EmitBytes([]byte{0xc3})
	st.EmitAlignment(4)
	if !bytes.Equal(st.Text().Bytes(), []byte{0xc3, 0x90, 0x90, 0x90}) {
		t.Fatalf("text padding: got % x", st.Text().Bytes())
	}

	st.SwitchSection(st.Data())
	st.EmitBytes([]byte{0x01})
	st.EmitAlignment(4)
	if !bytes.Equal(st.Data().Bytes(), []byte{0x01, 0x00, 0x00, 0x00}) {
		t.Fatalf("data padding: got % x", st.Data().Bytes())
	}
}

func TestEmitIntValueWidths(t *testing.T) {
	st := NewStreamer(ELF)
	st.SwitchSection(st.Data())
	st.EmitIntValue(0x1122334455667788, 8)
	st.EmitIntValue(0xAABB, 2)
	want := []byte{0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11, 0xBB, 0xAA}
	if !bytes.Equal(st.Data().Bytes(), want) {
		t.Fatalf("int encoding: got % x want % x", st.Data().Bytes(), want)
	}
}

func TestEmitIntValueBadWidthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for width 3")
		}
	}()
	st := NewStreamer(ELF)
	st.EmitIntValue(1, 3)
}

func TestSymbolDefinedTwicePanics(t *testing.T) {
	st := NewStreamer(COFF)
	sym := st.GetOrCreateSymbol("foo")
	st.Label(sym)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for double definition")
		}
	}()
	st.Label(sym)
}

func TestLabelDiffAcrossSectionsPanics(t *testing.T) {
	st := NewStreamer(COFF)
	a := st.NewTempSymbol()
	st.SwitchSection(st.Text())
	st.Label(a)
	b := st.NewTempSymbol()
	st.SwitchSection(st.Data())
	st.Label(b)
	st.EmitLabelDiff(a, b, 4)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for cross-section label difference")
		}
	}()
	st.Finish()
}

func TestMachOUnresolvedReferenceFails(t *testing.T) {
	st := NewStreamer(MachO)
	st.SwitchSection(st.Data())
	st.EmitValue(Ref(st.GetOrCreateSymbol("external")), 8, false)
	if _, err := st.Finish(); err == nil {
		t.Fatalf("expected error for unresolved mach-o reference")
	}
}

func TestMachODefinedReferencePatched(t *testing.T) {
	st := NewStreamer(MachO)
	st.SwitchSection(st.Text())
	st.EmitBytes(make([]byte, 16))
	tmp := st.NewTempSymbol()
	st.Label(tmp)
	st.SwitchSection(st.Data())
	st.EmitValue(Add(Ref(tmp), Const(4)), 8, false)
	if _, err := st.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got := st.Data().Bytes()
	if got[0] != 20 {
		t.Fatalf("patched offset: got %d want 20", got[0])
	}
}
