package frame

import (
	"bytes"
	"testing"

	"github.com/orizon-lang/objwriter/internal/mc"
)

func TestEncodeCIE(t *testing.T) {
	st := mc.NewStreamer(mc.ELF)
	st.SwitchSection(st.Data())
	Encode(st, nil)

	raw := st.Data().Bytes()
	if len(raw) < 8 {
		t.Fatalf("short section: %d bytes", len(raw))
	}
	length := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	if int(length)+4 != len(raw) {
		t.Fatalf("CIE length %d does not cover section of %d bytes", length, len(raw))
	}
	if id := uint32(raw[4]) | uint32(raw[5])<<8 | uint32(raw[6])<<16 | uint32(raw[7])<<24; id != 0xffffffff {
		t.Fatalf("CIE id: got %#x", id)
	}
	body := raw[8:]
	// version, augmentation, code align, data align, return register
	want := []byte{3, 0, 1, 0x78, 16}
	if !bytes.Equal(body[:5], want) {
		t.Fatalf("CIE prefix: got % x want % x", body[:5], want)
	}
	// entry state: def_cfa rsp+8, return address at CFA-8
	wantState := []byte{dwCFADefCFA, regRSP, 8, dwCFAOffset | regRA, 1}
	if !bytes.Equal(body[5:10], wantState) {
		t.Fatalf("CIE entry state: got % x want % x", body[5:10], wantState)
	}
	if len(raw)%4 != 0 {
		t.Fatalf("CIE not padded to 4: %d", len(raw))
	}
}

func TestEncodeFDEOps(t *testing.T) {
	ops := []Op{
		{CodeOffset: 1, Kind: OpAdjustCFAOffset, Reg: RegIllegal, Offset: 8},
		{CodeOffset: 1, Kind: OpRelOffset, Reg: 6, Offset: 16},
		{CodeOffset: 4, Kind: OpDefCFARegister, Reg: 6},
	}
	got := encodeFDEOps(ops)
	want := []byte{
		dwCFAAdvanceLoc | 1,
		dwCFADefCFAOffset, 16,
		dwCFAOffset | 6, 0, // rbp at CFA-16: factored offset (16-16)/8
		dwCFAAdvanceLoc | 3,
		dwCFADefCFARegister, 6,
	}
	for len(want)%4 != 0 {
		want = append(want, dwCFANop)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("FDE ops:\n got % x\nwant % x", got, want)
	}
}

func TestEncodeFDELocations(t *testing.T) {
	st := mc.NewStreamer(mc.ELF)
	st.SwitchSection(st.Text())
	start := st.NewTempSymbol()
	st.Label(start)
	st.EmitBytes(make([]byte, 12))
	end := st.NewTempSymbol()
	st.Label(end)

	st.SwitchSection(st.Data())
	Encode(st, []Entry{{Start: start, End: end}})
	if _, err := st.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	raw := st.Data().Bytes()
	cieLen := uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24
	fde := raw[4+cieLen:]
	// CIE pointer at +4, initial location at +8, range at +16.
	if ptr := uint32(fde[4]) | uint32(fde[5])<<8 | uint32(fde[6])<<16 | uint32(fde[7])<<24; ptr != 0 {
		t.Fatalf("CIE pointer: got %d", ptr)
	}
	rng := uint64(0)
	for i := 0; i < 8; i++ {
		rng |= uint64(fde[16+i]) << (8 * i)
	}
	if rng != 12 {
		t.Fatalf("address range: got %d want 12", rng)
	}
}

func TestAdvanceLocWidths(t *testing.T) {
	b := &bytes.Buffer{}
	advanceLoc(b, 0x3f)
	advanceLoc(b, 0x40)
	advanceLoc(b, 0x1234)
	want := []byte{
		dwCFAAdvanceLoc | 0x3f,
		dwCFAAdvanceLoc1, 0x40,
		dwCFAAdvanceLoc2, 0x34, 0x12,
	}
	if !bytes.Equal(b.Bytes(), want) {
		t.Fatalf("advance_loc: got % x want % x", b.Bytes(), want)
	}
}

func TestLEB128(t *testing.T) {
	b := &bytes.Buffer{}
	uleb128(b, 624485)
	if !bytes.Equal(b.Bytes(), []byte{0xe5, 0x8e, 0x26}) {
		t.Fatalf("uleb128: got % x", b.Bytes())
	}
	b.Reset()
	sleb128(b, -8)
	if !bytes.Equal(b.Bytes(), []byte{0x78}) {
		t.Fatalf("sleb128(-8): got % x", b.Bytes())
	}
	b.Reset()
	sleb128(b, -123456)
	if !bytes.Equal(b.Bytes(), []byte{0xc0, 0xbb, 0x78}) {
		t.Fatalf("sleb128(-123456): got % x", b.Bytes())
	}
}
