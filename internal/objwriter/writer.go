// Package objwriter exposes the emission session a JIT/AOT code generator
// drives to produce a native object file: section and symbol primitives,
// Win64 unwind records, CFI directives and CodeView debug information.
//
// A session is single-writer: calls arrive in strict per-function and
// per-module order, and every precondition violation is a generator bug
// reported by panicking. Only environment failures (file creation, unknown
// target) surface as errors.
package objwriter

import (
	"errors"
	"fmt"
	"os"

	"github.com/orizon-lang/objwriter/internal/codeview"
	"github.com/orizon-lang/objwriter/internal/frame"
	"github.com/orizon-lang/objwriter/internal/mc"
)

// Format selects the object container. See the mc package for semantics.
type Format = mc.Format

const (
	COFF  = mc.COFF
	ELF   = mc.ELF
	MachO = mc.MachO
)

// ErrDuplicateSection is returned when a custom section name is registered
// twice within one session.
var ErrDuplicateSection = errors.New("duplicate section name")

// Session is one module-emission session producing one object file. All
// mutable emission state (frame-open flag, function-sequence counter,
// pending variable list) is scoped here; independent sessions never share
// state.
type Session struct {
	path   string
	file   *os.File
	format Format
	st     *mc.Streamer

	custom map[string]*mc.Section

	frameOpened bool
	cfiStart    *mc.Symbol
	cfiOps      []frame.Op
	cfiEntries  []frame.Entry

	funcID      int
	vars        []DebugVarInfo
	lines       *codeview.Builder
	dropped     int
	debugClosed bool
	closed      bool
}

// New opens an emission session writing to path. The output file is created
// eagerly so environment failures surface before any emission call.
func New(path string, format Format) (*Session, error) {
	switch format {
	case COFF, ELF, MachO:
	default:
		return nil, fmt.Errorf("unknown object format %d", format)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create output file %s: %w", path, err)
	}
	return &Session{
		path:   path,
		file:   f,
		format: format,
		st:     mc.NewStreamer(format),
		custom: map[string]*mc.Section{},
		funcID: 1,
		lines:  codeview.NewBuilder(),
	}, nil
}

// Close finalizes the session: pending CFI entries become .debug_frame on
// the non-COFF paths, all fixups are resolved and the object is written.
func (s *Session) Close() error {
	if s.closed {
		panic("objwriter: session closed twice")
	}
	if s.frameOpened {
		panic("objwriter: session closed with an open call frame")
	}
	s.closed = true

	if s.format != COFF && len(s.cfiEntries) > 0 {
		s.st.SwitchSection(s.debugFrameSection())
		frame.Encode(s.st, s.cfiEntries)
	}

	b, err := s.st.Finish()
	if err != nil {
		s.file.Close()
		return err
	}
	if _, err := s.file.Write(b); err != nil {
		s.file.Close()
		return fmt.Errorf("unable to write %s: %w", s.path, err)
	}
	return s.file.Close()
}

// DroppedRanges reports how many variable address ranges were skipped
// because their location kind has no CodeView encoding here.
func (s *Session) DroppedRanges() int { return s.dropped }

func (s *Session) debugFrameSection() *mc.Section {
	name := ".debug_frame"
	if s.format == MachO {
		name = "__debug_frame"
	}
	if sec, ok := s.custom[name]; ok {
		return sec
	}
	sec := &mc.Section{Name: name, Align: 8}
	if s.format == MachO {
		sec.Segment = "__DWARF"
	} else {
		sec.ElfType = mc.ElfSHTProgbits
	}
	s.custom[name] = sec
	return s.st.AddSection(sec)
}
