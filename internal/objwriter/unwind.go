package objwriter

import (
	"github.com/orizon-lang/objwriter/internal/mc"
	"github.com/orizon-lang/objwriter/internal/unwind"
)

// EmitUnwindInfo writes one function's Win64 exception-handling records: the
// UNWIND_INFO blob into .xdata (followed by the personality reference and
// language-specific data area when present) and the function-range triple
// into .pdata. COFF targets only.
func (s *Session) EmitUnwindInfo(functionName string, startOffset, endOffset int, info *unwind.Info, personality string, lsda []byte) {
	if s.format != COFF {
		panic("objwriter: unwind info requires a COFF target")
	}
	if info.Flags&unwind.FlagChainInfo != 0 {
		panic("objwriter: chained unwind info is not supported")
	}

	s.st.SwitchSection(s.st.XData())
	s.st.EmitAlignment(4)

	frameSym := s.st.NewTempSymbol()
	s.st.Label(frameSym)
	s.st.EmitBytes(info.Encode())
	s.st.EmitAlignment(4)

	if info.Flags&(unwind.FlagEHandler|unwind.FlagUHandler) != 0 {
		if personality == "" {
			panic("objwriter: unwind info with a handler requires a personality function")
		}
		fn := s.st.GetOrCreateSymbol(personality)
		s.st.EmitValue(mc.RefVariant(fn, mc.VKImageRel32), 4, false)
	}

	if len(lsda) != 0 {
		s.st.EmitBytes(lsda)
	}

	// .pdata: (function+start, function+end, unwind record), image-relative.
	s.st.SwitchSection(s.st.PData())
	s.st.EmitAlignment(4)

	base := mc.RefVariant(s.st.GetOrCreateSymbol(functionName), mc.VKImageRel32)
	s.st.EmitValue(mc.Add(base, mc.Const(int64(startOffset))), 4, false)
	s.st.EmitValue(mc.Add(base, mc.Const(int64(endOffset))), 4, false)
	s.st.EmitValue(mc.RefVariant(frameSym, mc.VKImageRel32), 4, false)
}
