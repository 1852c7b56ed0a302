package objwriter

import (
	"github.com/orizon-lang/objwriter/internal/codeview"
	"github.com/orizon-lang/objwriter/internal/mc"
)

// LocKind tags a variable location descriptor.
type LocKind int

const (
	LocRegister LocKind = iota
	LocRegisterFP
	LocStack
	// The remaining kinds have no CodeView encoding here; their ranges are
	// dropped (counted by DroppedRanges) rather than emitted.
	LocRegisterByRef
	LocStackByRef
	LocRegisterPair
	LocRegisterStack
	LocStackRegister
	LocStack2
	LocFPStack
	LocFixedVA

	locKindCount
)

// VarLoc describes where a variable lives over one address range.
type VarLoc struct {
	Kind    LocKind
	Reg     uint16 // LocRegister, LocRegisterFP
	BaseReg uint16 // LocStack
	Offset  int32  // LocStack: offset from BaseReg
}

// VarRange is one address range of a variable's lifetime within a function.
type VarRange struct {
	Slot        int // variable slot number; constant across one variable
	StartOffset int
	EndOffset   int
	Loc         VarLoc
}

// DebugVarInfo is one source-level local or parameter, accumulated until the
// enclosing function's debug records are serialized.
type DebugVarInfo struct {
	Slot      int
	Name      string
	TypeIndex int
	IsParam   bool
	Ranges    []VarRange
}

// ReportFileInfo registers a source file id with the line-table machinery.
// Ids must be >= 1. COFF targets only; a no-op elsewhere.
func (s *Session) ReportFileInfo(fileID int, fileName string) {
	if s.format != COFF {
		return
	}
	if s.debugClosed {
		panic("objwriter: debug info already finalized")
	}
	if fileID < 1 {
		panic("objwriter: file id must be >= 1")
	}
	s.lines.AddFile(fileID, fileName)
}

// ReportLineInfo associates a native code offset with a source coordinate,
// tagged as a statement boundary, for the current function.
func (s *Session) ReportLineInfo(nativeOffset, fileID, line, column int) {
	if s.format != COFF {
		return
	}
	if s.debugClosed {
		panic("objwriter: debug info already finalized")
	}
	if fileID < 1 {
		panic("objwriter: file id must be >= 1")
	}
	s.lines.AddLine(codeview.LineEntry{
		FuncID: s.funcID,
		Offset: nativeOffset,
		FileID: fileID,
		Line:   line,
		Column: column,
		IsStmt: true,
	})
}

// ReportVariable records one variable's location ranges for the current
// function. A call with no ranges is a strict no-op. All ranges of one
// variable must carry the same slot number.
func (s *Session) ReportVariable(name string, typeIndex int, isParam bool, ranges []VarRange) {
	if len(ranges) == 0 {
		return
	}
	slot := ranges[0].Slot
	for _, r := range ranges {
		if r.Slot != slot {
			panic("objwriter: variable ranges disagree on slot number")
		}
	}
	v := DebugVarInfo{
		Slot:      slot,
		Name:      name,
		TypeIndex: typeIndex,
		IsParam:   isParam,
		Ranges:    append([]VarRange(nil), ranges...),
	}
	s.vars = append(s.vars, v)
}

// ReportFunctionInfo serializes the accumulated debug records for the
// function ending at the current position: the Symbols subsection
// (S_GPROC32_ID, per-variable S_LOCAL and range records, S_PROC_ID_END) and
// the function's line table. COFF targets only; a no-op elsewhere.
func (s *Session) ReportFunctionInfo(functionName string, functionSize int) {
	if s.format != COFF {
		return
	}
	if s.debugClosed {
		panic("objwriter: debug info already finalized")
	}

	fnEnd := s.st.NewTempSymbol()
	s.st.Label(fnEnd)

	s.st.SwitchSection(s.st.DebugSymbols())
	if s.funcID == 1 {
		s.st.EmitIntValue(codeview.SignatureC13, 4)
	}

	fn := s.st.GetOrCreateSymbol(functionName)

	// Symbols subsection, framed by a label-difference length prefix.
	symbolsBegin, symbolsEnd := s.st.NewTempSymbol(), s.st.NewTempSymbol()
	s.st.EmitIntValue(codeview.SubsectionSymbols, 4)
	s.st.EmitLabelDiff(symbolsBegin, symbolsEnd, 4)
	s.st.Label(symbolsBegin)

	procBegin, procEnd := s.st.NewTempSymbol(), s.st.NewTempSymbol()
	s.st.EmitLabelDiff(procBegin, procEnd, 2)
	s.st.Label(procBegin)
	s.st.EmitIntValue(codeview.SGProc32ID, 2)
	// pParent/pEnd/pNext are not needed for basic debugging.
	s.st.EmitFill(12)
	s.st.EmitIntValue(uint64(uint32(functionSize)), 4)
	s.st.EmitFill(4) // debug start offset
	s.st.EmitIntValue(uint64(uint32(functionSize)), 4) // debug end offset
	s.st.EmitFill(4) // type index
	s.st.EmitSecRel32(mc.Ref(fn))
	s.st.EmitSectionIndex(fn)
	s.st.EmitIntValue(0x80, 1) // flags: optimized debugging
	s.st.EmitBytes([]byte(functionName))
	s.st.EmitIntValue(0, 1)
	s.st.Label(procEnd)

	s.emitVarInfo(fn)

	s.st.EmitIntValue(2, 2)
	s.st.EmitIntValue(codeview.SProcIDEnd, 2)
	s.st.Label(symbolsEnd)

	// Every subsection must be aligned to a 4-byte boundary.
	s.st.EmitAlignment(4)

	s.lines.EmitLinetable(s.st, s.funcID, fn, fnEnd)
	s.funcID++
	s.vars = nil
}

// emitVarInfo writes one S_LOCAL record per accumulated variable, followed by
// a range record per address range. Unsupported location kinds are skipped.
func (s *Session) emitVarInfo(fn *mc.Symbol) {
	for _, v := range s.vars {
		// S_LOCAL: type index (4), flags (2), NUL-terminated name.
		recLen := 2 + 6 + len(v.Name) + 1
		s.st.EmitIntValue(uint64(recLen), 2)
		s.st.EmitIntValue(codeview.SLocal, 2)
		s.st.EmitIntValue(uint64(uint32(v.TypeIndex)), 4)
		flags := uint64(0)
		if v.IsParam {
			flags |= codeview.LocalIsParameter
		}
		s.st.EmitIntValue(flags, 2)
		s.st.EmitBytes([]byte(v.Name))
		s.st.EmitIntValue(0, 1)

		for _, r := range v.Ranges {
			switch r.Loc.Kind {
			case LocRegister, LocRegisterFP:
				// S_DEFRANGE_REGISTER: register (2), flags (2), range (8).
				s.st.EmitIntValue(14, 2)
				s.st.EmitIntValue(codeview.SDefRangeRegister, 2)
				s.st.EmitIntValue(uint64(codeview.MapRegisterAMD64(r.Loc.Reg)), 2)
				s.st.EmitIntValue(0, 2)
				s.emitAddrRange(fn, r)
			case LocStack:
				// S_DEFRANGE_REGISTER_REL: base register (2), flags (2),
				// base pointer offset (4), range (8).
				s.st.EmitIntValue(18, 2)
				s.st.EmitIntValue(codeview.SDefRangeRegisterRel, 2)
				s.st.EmitIntValue(uint64(codeview.MapRegisterAMD64(r.Loc.BaseReg)), 2)
				s.st.EmitIntValue(0, 2)
				s.st.EmitIntValue(uint64(uint32(r.Loc.Offset)), 4)
				s.emitAddrRange(fn, r)
			case LocRegisterByRef, LocStackByRef, LocRegisterPair,
				LocRegisterStack, LocStackRegister, LocStack2,
				LocFPStack, LocFixedVA:
				// No CodeView encoding for these yet; the range is dropped.
				s.dropped++
			default:
				panic("objwriter: unknown variable location kind")
			}
		}
	}
}

// emitAddrRange writes the CV_LVAR_ADDR_RANGE trailer shared by all range
// records: section-relative start, section index, 2-byte length.
func (s *Session) emitAddrRange(fn *mc.Symbol, r VarRange) {
	s.st.EmitSecRel32(mc.Add(mc.Ref(fn), mc.Const(int64(r.StartOffset))))
	s.st.EmitSectionIndex(fn)
	s.st.EmitIntValue(uint64(uint16(r.EndOffset-r.StartOffset)), 2)
}

// ReportModuleInfo finalizes module-level debug info: the file-checksum and
// string-table subsections. Must be called exactly once, after every
// function has been reported. COFF targets only; a no-op elsewhere.
func (s *Session) ReportModuleInfo() {
	if s.format != COFF {
		return
	}
	if s.debugClosed {
		panic("objwriter: debug info already finalized")
	}
	s.debugClosed = true

	s.st.SwitchSection(s.st.DebugSymbols())
	s.lines.EmitFileChecksums(s.st)
	s.lines.EmitStringTable(s.st)
}
