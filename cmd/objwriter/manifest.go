package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/orizon-lang/objwriter/internal/objwriter"
	"github.com/orizon-lang/objwriter/internal/unwind"
)

// Manifest is the JSON description of one object file. Byte fields are
// base64-encoded in the JSON form.
type Manifest struct {
	Format   string         `json:"format,omitempty"`
	Sections []SectionDecl  `json:"sections,omitempty"`
	Files    []FileDecl     `json:"files,omitempty"`
	Data     []DataDecl     `json:"data,omitempty"`
	Funcs    []FunctionDecl `json:"functions"`
}

type SectionDecl struct {
	Name     string `json:"name"`
	ReadOnly bool   `json:"readonly,omitempty"`
}

type FileDecl struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type DataDecl struct {
	Section string `json:"section"`
	Symbol  string `json:"symbol"`
	Align   int    `json:"align,omitempty"`
	Bytes   []byte `json:"bytes"`
}

type FunctionDecl struct {
	Name   string      `json:"name"`
	Align  int         `json:"align,omitempty"`
	Code   []byte      `json:"code"`
	Lines  []LineDecl  `json:"lines,omitempty"`
	Vars   []VarDecl   `json:"vars,omitempty"`
	Unwind *UnwindDecl `json:"unwind,omitempty"`
}

type LineDecl struct {
	Offset int `json:"offset"`
	File   int `json:"file"`
	Line   int `json:"line"`
	Column int `json:"column,omitempty"`
}

type VarDecl struct {
	Name   string      `json:"name"`
	Type   int         `json:"type"`
	Param  bool        `json:"param,omitempty"`
	Ranges []RangeDecl `json:"ranges"`
}

type RangeDecl struct {
	Slot    int    `json:"slot"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Loc     string `json:"loc"` // "reg" | "regfp" | "stack"
	Reg     uint16 `json:"reg,omitempty"`
	BaseReg uint16 `json:"basereg,omitempty"`
	Offset  int32  `json:"offset,omitempty"`
}

type UnwindDecl struct {
	PrologSize  uint8      `json:"prolog"`
	FrameReg    uint8      `json:"framereg,omitempty"`
	FrameOffset uint8      `json:"frameoffset,omitempty"`
	EHandler    bool       `json:"ehandler,omitempty"`
	Personality string     `json:"personality,omitempty"`
	LSDA        []byte     `json:"lsda,omitempty"`
	Codes       []CodeDecl `json:"codes,omitempty"`
}

type CodeDecl struct {
	Offset uint8 `json:"offset"`
	Op     uint8 `json:"op"`
	Info   uint8 `json:"info"`
}

func parseFormat(name string) (objwriter.Format, error) {
	switch name {
	case "coff", "":
		return objwriter.COFF, nil
	case "elf":
		return objwriter.ELF, nil
	case "macho":
		return objwriter.MachO, nil
	default:
		return 0, fmt.Errorf("unknown object format %q", name)
	}
}

func parseLoc(r RangeDecl) (objwriter.VarLoc, error) {
	switch r.Loc {
	case "reg":
		return objwriter.VarLoc{Kind: objwriter.LocRegister, Reg: r.Reg}, nil
	case "regfp":
		return objwriter.VarLoc{Kind: objwriter.LocRegisterFP, Reg: r.Reg}, nil
	case "stack":
		return objwriter.VarLoc{Kind: objwriter.LocStack, BaseReg: r.BaseReg, Offset: r.Offset}, nil
	default:
		return objwriter.VarLoc{}, fmt.Errorf("unknown location kind %q", r.Loc)
	}
}

// emitFromManifest reads and validates the manifest, then drives one
// emission session in generator order: code first, then debug records, then
// module finalization.
func emitFromManifest(manifestPath, outPath, formatName string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}
	if formatName == "" {
		formatName = m.Format
	}
	format, err := parseFormat(formatName)
	if err != nil {
		return err
	}

	s, err := objwriter.New(outPath, format)
	if err != nil {
		return err
	}

	for _, sec := range m.Sections {
		if err := s.CreateCustomSection(sec.Name, sec.ReadOnly); err != nil {
			return fmt.Errorf("section %q: %w", sec.Name, err)
		}
	}
	if format == objwriter.COFF {
		for _, f := range m.Files {
			s.ReportFileInfo(f.ID, f.Name)
		}
	}

	for _, fn := range m.Funcs {
		s.SwitchSection("text")
		if fn.Align > 0 {
			s.EmitAlignment(fn.Align)
		}
		s.DefineSymbol(fn.Name)
		s.EmitBytes(fn.Code)

		if format == objwriter.COFF {
			for _, l := range fn.Lines {
				s.ReportLineInfo(l.Offset, l.File, l.Line, l.Column)
			}
			for _, v := range fn.Vars {
				ranges := make([]objwriter.VarRange, 0, len(v.Ranges))
				for _, r := range v.Ranges {
					loc, err := parseLoc(r)
					if err != nil {
						return fmt.Errorf("variable %q: %w", v.Name, err)
					}
					ranges = append(ranges, objwriter.VarRange{
						Slot:        r.Slot,
						StartOffset: r.Start,
						EndOffset:   r.End,
						Loc:         loc,
					})
				}
				s.ReportVariable(v.Name, v.Type, v.Param, ranges)
			}
			s.ReportFunctionInfo(fn.Name, len(fn.Code))
			if u := fn.Unwind; u != nil {
				info := &unwind.Info{
					PrologSize:    u.PrologSize,
					FrameRegister: u.FrameReg,
					FrameOffset:   u.FrameOffset,
				}
				if u.EHandler {
					info.Flags |= unwind.FlagEHandler
				}
				for _, c := range u.Codes {
					info.Codes = append(info.Codes, unwind.Code{PrologOffset: c.Offset, Op: c.Op, OpInfo: c.Info})
				}
				s.EmitUnwindInfo(fn.Name, 0, len(fn.Code), info, u.Personality, u.LSDA)
			}
		}
	}

	for _, d := range m.Data {
		s.SwitchSection(d.Section)
		if d.Align > 0 {
			s.EmitAlignment(d.Align)
		}
		s.DefineSymbol(d.Symbol)
		s.EmitBytes(d.Bytes)
	}

	if format == objwriter.COFF && len(m.Funcs) > 0 {
		s.ReportModuleInfo()
	}

	return s.Close()
}
