package mc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// Streamer appends bytes, labels and relocatable values to sections and
// finally lays the accumulated state out as an object file.
type Streamer struct {
	format Format

	sections []*Section
	symbols  map[string]*Symbol
	ordered  []*Symbol
	tempSeq  int
	cur      *Section

	text, data, rodata       *Section
	xdata, pdata, debugSyms  *Section
	relocations              map[*Section][]Relocation
	finished                 bool
}

// NewStreamer creates a streamer with the default sections for format.
func NewStreamer(format Format) *Streamer {
	st := &Streamer{
		format:      format,
		symbols:     map[string]*Symbol{},
		relocations: map[*Section][]Relocation{},
	}
	switch format {
	case COFF:
		st.text = st.addSection(&Section{Name: ".text", Characteristics: CoffCntCode | CoffMemExecute | CoffMemRead, Fill: 0x90, Align: 16})
		st.data = st.addSection(&Section{Name: ".data", Characteristics: CoffCntInitializedData | CoffMemRead | CoffMemWrite, Align: 8})
		st.rodata = st.addSection(&Section{Name: ".rdata", Characteristics: CoffCntInitializedData | CoffMemRead, Align: 8})
		st.xdata = st.addSection(&Section{Name: ".xdata", Characteristics: CoffCntInitializedData | CoffMemRead, Align: 4})
		st.pdata = st.addSection(&Section{Name: ".pdata", Characteristics: CoffCntInitializedData | CoffMemRead, Align: 4})
		st.debugSyms = st.addSection(&Section{Name: ".debug$S", Characteristics: CoffCntInitializedData | CoffMemDiscardable | CoffMemRead, Align: 1})
	case ELF:
		st.text = st.addSection(&Section{Name: ".text", ElfType: ElfSHTProgbits, ElfFlags: ElfSHFAlloc | ElfSHFExecinst, Fill: 0x90, Align: 16})
		st.data = st.addSection(&Section{Name: ".data", ElfType: ElfSHTProgbits, ElfFlags: ElfSHFAlloc | ElfSHFWrite, Align: 8})
		st.rodata = st.addSection(&Section{Name: ".rodata", ElfType: ElfSHTProgbits, ElfFlags: ElfSHFAlloc, Align: 8})
	case MachO:
		st.text = st.addSection(&Section{Name: "__text", Segment: "__TEXT", Fill: 0x90, Align: 16})
		st.data = st.addSection(&Section{Name: "__data", Segment: "__DATA", Align: 8})
		st.rodata = st.addSection(&Section{Name: "__const", Segment: "__TEXT", Align: 8})
	default:
		panicf("unknown object format %d", format)
	}
	st.cur = st.text
	return st
}

func (st *Streamer) addSection(s *Section) *Section {
	if s.Align == 0 {
		s.Align = 1
	}
	st.sections = append(st.sections, s)
	return s
}

// AddSection registers a custom section created by the caller.
func (st *Streamer) AddSection(s *Section) *Section { return st.addSection(s) }

// Format returns the object format chosen at construction.
func (st *Streamer) Format() Format { return st.format }

// Default sections. XData/PData/DebugSymbols exist on COFF only.
func (st *Streamer) Text() *Section     { return st.text }
func (st *Streamer) Data() *Section     { return st.data }
func (st *Streamer) ReadOnly() *Section { return st.rodata }

func (st *Streamer) XData() *Section {
	if st.xdata == nil {
		panicf(".xdata requires a COFF target")
	}
	return st.xdata
}

func (st *Streamer) PData() *Section {
	if st.pdata == nil {
		panicf(".pdata requires a COFF target")
	}
	return st.pdata
}

func (st *Streamer) DebugSymbols() *Section {
	if st.debugSyms == nil {
		panicf(".debug$S requires a COFF target")
	}
	return st.debugSyms
}

// Current returns the section selected by the last SwitchSection.
func (st *Streamer) Current() *Section { return st.cur }

// SwitchSection makes s the target of subsequent emission calls.
func (st *Streamer) SwitchSection(s *Section) {
	if s == nil {
		panicf("switch to nil section")
	}
	st.cur = s
}

// GetOrCreateSymbol interns a named symbol.
func (st *Streamer) GetOrCreateSymbol(name string) *Symbol {
	if name == "" {
		panicf("empty symbol name")
	}
	if sym, ok := st.symbols[name]; ok {
		return sym
	}
	sym := &Symbol{Name: name}
	st.symbols[name] = sym
	st.ordered = append(st.ordered, sym)
	return sym
}

// NewTempSymbol creates a fresh assembler-local label.
func (st *Streamer) NewTempSymbol() *Symbol {
	sym := &Symbol{Name: fmt.Sprintf(".Ltmp%d", st.tempSeq), Temp: true}
	st.tempSeq++
	st.ordered = append(st.ordered, sym)
	return sym
}

// SetGlobal marks sym external.
func (st *Streamer) SetGlobal(sym *Symbol) { sym.Global = true }

// Label binds sym to the current position of the current section.
func (st *Streamer) Label(sym *Symbol) {
	if sym.defined {
		panicf("symbol %q defined twice", sym.Name)
	}
	sym.Sect = st.cur
	sym.Value = uint32(st.cur.Len())
	sym.defined = true
}

// EmitBytes appends raw bytes.
func (st *Streamer) EmitBytes(b []byte) {
	st.cur.buf.Write(b)
}

// EmitIntValue appends v as a little-endian integer of the given width.
func (st *Streamer) EmitIntValue(v uint64, width int) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	switch width {
	case 1, 2, 4, 8:
		st.cur.buf.Write(tmp[:width])
	default:
		panicf("unsupported integer width %d", width)
	}
}

// EmitFill appends n zero bytes.
func (st *Streamer) EmitFill(n int) {
	for i := 0; i < n; i++ {
		st.cur.buf.WriteByte(0)
	}
}

// EmitAlignment pads the current section to an n-byte boundary with the
// section's fill byte, and raises the section alignment if needed.
func (st *Streamer) EmitAlignment(n int) {
	if n <= 0 || n&(n-1) != 0 {
		panicf("alignment %d is not a power of two", n)
	}
	for st.cur.Len()%n != 0 {
		st.cur.buf.WriteByte(st.cur.Fill)
	}
	if n > st.cur.Align {
		st.cur.Align = n
	}
}

// EmitValue appends a relocatable value. The bytes are backpatched (or turned
// into a relocation) when the object is laid out.
func (st *Streamer) EmitValue(expr Expr, width int, pcRel bool) {
	if width != 1 && width != 2 && width != 4 && width != 8 {
		panicf("unsupported value width %d", width)
	}
	st.cur.fixups = append(st.cur.fixups, fixup{
		offset: uint32(st.cur.Len()),
		width:  width,
		expr:   expr,
		pcRel:  pcRel,
	})
	st.EmitFill(width)
}

// EmitLabelDiff appends (to - from) as a fixed-width little-endian integer.
func (st *Streamer) EmitLabelDiff(from, to *Symbol, width int) {
	st.EmitValue(Sub(Ref(to), Ref(from)), width, false)
}

// EmitSecRel32 appends a 32-bit section-relative reference (COFF).
func (st *Streamer) EmitSecRel32(expr Expr) {
	st.cur.fixups = append(st.cur.fixups, fixup{
		offset:  uint32(st.cur.Len()),
		width:   4,
		expr:    expr,
		variant: VKSecRel32,
	})
	st.EmitFill(4)
}

// EmitSectionIndex appends the 16-bit section number of sym (COFF).
func (st *Streamer) EmitSectionIndex(sym *Symbol) {
	st.cur.fixups = append(st.cur.fixups, fixup{
		offset:  uint32(st.cur.Len()),
		width:   2,
		expr:    Ref(sym),
		variant: VKSectionIndex,
	})
	st.EmitFill(2)
}

// resolve walks every fixup, patching the ones that fold to constants and
// converting the rest into relocations for the container writer.
func (st *Streamer) resolve() error {
	for _, sec := range st.sections {
		for _, fx := range sec.fixups {
			v := eval(fx.expr)
			variant := fx.variant
			if variant == VKNone {
				variant = v.variant
			}
			if v.sym == nil {
				// Pure constant: a folded label difference or literal.
				patch(sec, fx.offset, fx.width, uint64(v.addend))
				continue
			}
			sym, addend := v.sym, v.addend
			if sym.defined && (sym.Temp || !sym.Global) {
				// Redirect assembler-local targets to their section.
				addend += int64(sym.Value)
				if st.format == MachO {
					// The Mach-O writer carries no relocations; defined
					// targets are patched with their section offset.
					patch(sec, fx.offset, fx.width, uint64(addend))
					continue
				}
			} else if st.format == MachO {
				return fmt.Errorf("mach-o: unresolved reference to %q (relocations not supported)", sym.Name)
			}
			rel := Relocation{
				Offset:  fx.offset,
				Sym:     sym,
				Addend:  addend,
				Variant: variant,
				Width:   fx.width,
				PCRel:   fx.pcRel,
			}
			st.relocations[sec] = append(st.relocations[sec], rel)
		}
		sec.fixups = nil
	}
	return nil
}

func patch(sec *Section, offset uint32, width int, v uint64) {
	b := sec.buf.Bytes()[offset : offset+uint32(width)]
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	copy(b, tmp[:width])
}

// Finish resolves all fixups and returns the laid-out object file bytes.
func (st *Streamer) Finish() ([]byte, error) {
	if st.finished {
		return nil, errors.New("streamer already finished")
	}
	st.finished = true
	if err := st.resolve(); err != nil {
		return nil, err
	}
	switch st.format {
	case COFF:
		return st.buildCOFF()
	case ELF:
		return st.buildELF()
	case MachO:
		return st.buildMachO()
	default:
		panicf("unknown object format %d", st.format)
		return nil, nil
	}
}

// WriteFile finishes the object and writes it to path.
func (st *Streamer) WriteFile(path string) error {
	if path == "" {
		return errors.New("empty output path")
	}
	b, err := st.Finish()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
