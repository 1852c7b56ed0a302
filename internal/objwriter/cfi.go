package objwriter

import (
	"github.com/orizon-lang/objwriter/internal/frame"
)

// CFIStart opens a call-frame description at the current position in the
// current section. Frames must be closed before the next one opens.
func (s *Session) CFIStart() {
	if s.frameOpened {
		panic("objwriter: frame should be closed before CFIStart")
	}
	s.frameOpened = true
	if s.format == COFF {
		// Windows EH state is carried by EmitUnwindInfo; only the pairing
		// discipline is enforced here.
		return
	}
	s.cfiStart = s.st.NewTempSymbol()
	s.st.Label(s.cfiStart)
	s.cfiOps = nil
}

// CFICode records one call-frame directive for the open frame.
func (s *Session) CFICode(op frame.Op) {
	if !s.frameOpened {
		panic("objwriter: frame should be opened before CFICode")
	}
	switch op.Kind {
	case frame.OpAdjustCFAOffset:
		if op.Reg != frame.RegIllegal {
			panic("objwriter: unexpected register for OpAdjustCFAOffset")
		}
	case frame.OpRelOffset:
	case frame.OpDefCFARegister:
		if op.Offset != 0 {
			panic("objwriter: unexpected offset for OpDefCFARegister")
		}
	default:
		panic("objwriter: unrecognized CFI opcode")
	}
	if s.format == COFF {
		return
	}
	s.cfiOps = append(s.cfiOps, op)
}

// CFIEnd closes the open call-frame description. On non-COFF targets the
// recorded ops become an FDE in .debug_frame when the session closes.
func (s *Session) CFIEnd() {
	if !s.frameOpened {
		panic("objwriter: frame should be opened before CFIEnd")
	}
	s.frameOpened = false
	if s.format == COFF {
		return
	}
	end := s.st.NewTempSymbol()
	s.st.Label(end)
	s.cfiEntries = append(s.cfiEntries, frame.Entry{Start: s.cfiStart, End: end, Ops: s.cfiOps})
	s.cfiStart = nil
	s.cfiOps = nil
}
