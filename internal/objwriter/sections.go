package objwriter

import (
	"github.com/orizon-lang/objwriter/internal/mc"
)

// CreateCustomSection registers a data section under a caller-chosen name.
// The section is writable initialized data unless readOnly is set; the
// format-specific attributes are fixed here, once, per target.
func (s *Session) CreateCustomSection(name string, readOnly bool) error {
	if _, ok := s.custom[name]; ok {
		return ErrDuplicateSection
	}
	sec := &mc.Section{Name: name, Align: 8}
	switch s.format {
	case MachO:
		sec.Segment = "__DATA"
	case COFF:
		sec.Characteristics = mc.CoffCntInitializedData | mc.CoffMemRead
		if !readOnly {
			sec.Characteristics |= mc.CoffMemWrite
		}
	case ELF:
		sec.ElfType = mc.ElfSHTProgbits
		sec.ElfFlags = mc.ElfSHFAlloc
		if !readOnly {
			sec.ElfFlags |= mc.ElfSHFWrite
		}
	}
	s.custom[name] = sec
	s.st.AddSection(sec)
	return nil
}

// SwitchSection selects the target of subsequent emission calls. "text",
// "data" and "rdata" resolve to the backend defaults; any other name must
// have been created with CreateCustomSection first.
func (s *Session) SwitchSection(name string) {
	var sec *mc.Section
	switch name {
	case "text":
		sec = s.st.Text()
	case "data":
		sec = s.st.Data()
	case "rdata":
		sec = s.st.ReadOnly()
	default:
		var ok bool
		sec, ok = s.custom[name]
		if !ok {
			panic("objwriter: switch to unknown section " + name)
		}
	}
	s.st.SwitchSection(sec)
}

// EmitAlignment pads the current section to an n-byte boundary using the
// section's fill pattern (a no-op opcode in code sections).
func (s *Session) EmitAlignment(n int) {
	s.st.EmitAlignment(n)
}

// EmitBytes appends raw bytes to the current section.
func (s *Session) EmitBytes(b []byte) {
	s.st.EmitBytes(b)
}

// EmitIntValue appends a little-endian integer of the given width.
func (s *Session) EmitIntValue(v uint64, width int) {
	s.st.EmitIntValue(v, width)
}

// DefineSymbol binds a global symbol to the current stream position.
func (s *Session) DefineSymbol(name string) {
	sym := s.st.GetOrCreateSymbol(name)
	s.st.SetGlobal(sym)
	s.st.Label(sym)
}

// EmitSymbolRef appends a relocatable reference to a named symbol. Widths 4
// and 8 are supported; a 4-byte pc-relative reference is biased by the field
// width so the value is relative to the start of the field, and a nonzero
// delta is added to the target.
func (s *Session) EmitSymbolRef(name string, width int, pcRel bool, delta int) {
	target := mc.Ref(s.st.GetOrCreateSymbol(name))
	switch width {
	case 8:
		if pcRel {
			panic("objwriter: 8-byte pc-relative references are not supported")
		}
	case 4:
		if pcRel {
			target = mc.Sub(target, mc.Const(int64(width)))
		}
	default:
		panic("objwriter: unsupported symbol reference width")
	}
	if delta != 0 {
		target = mc.Add(target, mc.Const(int64(delta)))
	}
	s.st.EmitValue(target, width, pcRel)
}
