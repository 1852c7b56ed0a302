package main

import (
	"debug/pe"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/orizon-lang/objwriter/internal/objwriter"
)

func writeManifest(t *testing.T, m Manifest) string {
	t.Helper()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	path := filepath.Join(t.TempDir(), "m.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestParseFormat(t *testing.T) {
	for name, want := range map[string]objwriter.Format{
		"":      objwriter.COFF,
		"coff":  objwriter.COFF,
		"elf":   objwriter.ELF,
		"macho": objwriter.MachO,
	} {
		got, err := parseFormat(name)
		if err != nil || got != want {
			t.Fatalf("parseFormat(%q): got %v, %v", name, got, err)
		}
	}
	if _, err := parseFormat("wasm"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestEmitFromManifest(t *testing.T) {
	manifest := Manifest{
		Format:   "coff",
		Sections: []SectionDecl{{Name: ".strings", ReadOnly: true}},
		Files:    []FileDecl{{ID: 1, Name: "hello.c"}},
		Funcs: []FunctionDecl{{
			Name:  "hello",
			Align: 16,
			Code:  []byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3},
			Lines: []LineDecl{{Offset: 0, File: 1, Line: 3, Column: 1}},
			Vars: []VarDecl{{
				Name: "n", Type: 0x74, Param: true,
				Ranges: []RangeDecl{{Slot: 0, Start: 0, End: 6, Loc: "reg", Reg: 1}},
			}},
			Unwind: &UnwindDecl{
				PrologSize: 1,
				Codes:      []CodeDecl{{Offset: 1, Op: 0, Info: 5}},
			},
		}},
		Data: []DataDecl{{
			Section: ".strings", Symbol: "greeting", Align: 8,
			Bytes: []byte("hi\x00"),
		}},
	}
	mpath := writeManifest(t, manifest)
	opath := filepath.Join(t.TempDir(), "hello.obj")

	if err := emitFromManifest(mpath, opath, ""); err != nil {
		t.Fatalf("emit: %v", err)
	}

	f, err := pe.Open(opath)
	if err != nil {
		t.Fatalf("pe.Open: %v", err)
	}
	defer f.Close()

	for _, name := range []string{".text", ".strings", ".pdata", ".xdata", ".debug$S"} {
		if f.Section(name) == nil {
			t.Fatalf("missing section %s", name)
		}
	}
	if f.Section(".pdata").NumberOfRelocations != 3 {
		t.Fatalf(".pdata relocations: got %d", f.Section(".pdata").NumberOfRelocations)
	}

	found := map[string]bool{}
	for i := range f.COFFSymbols {
		name, err := f.COFFSymbols[i].FullName(f.StringTable)
		if err != nil {
			t.Fatalf("symbol name: %v", err)
		}
		found[name] = true
	}
	if !found["hello"] || !found["greeting"] {
		t.Fatalf("defined symbols missing: %v", found)
	}
}

func TestEmitFromManifestErrors(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.obj")

	if err := emitFromManifest(filepath.Join(t.TempDir(), "nope.json"), out, ""); err == nil {
		t.Fatalf("expected error for missing manifest")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte("{"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := emitFromManifest(bad, out, ""); err == nil {
		t.Fatalf("expected error for malformed manifest")
	}

	mpath := writeManifest(t, Manifest{
		Funcs: []FunctionDecl{{
			Name: "f", Code: []byte{0xc3},
			Vars: []VarDecl{{
				Name:   "v",
				Ranges: []RangeDecl{{Slot: 0, Start: 0, End: 1, Loc: "teleport"}},
			}},
		}},
	})
	if err := emitFromManifest(mpath, out, ""); err == nil {
		t.Fatalf("expected error for unknown location kind")
	}

	dup := writeManifest(t, Manifest{
		Sections: []SectionDecl{{Name: ".s"}, {Name: ".s"}},
	})
	if err := emitFromManifest(dup, out, ""); err == nil {
		t.Fatalf("expected error for duplicate section")
	}
}
