// Package codeview holds the CodeView C13 constants, the AMD64 register
// mapping and the builders for the line-table, file-checksum and string-table
// subsections of .debug$S.
package codeview

// SignatureC13 is the 4-byte magic leading a C13-format .debug$S section.
const SignatureC13 = 4

// Symbol record kinds.
const (
	SLocal              = 0x113e
	SDefRangeRegister   = 0x1141
	SDefRangeRegisterRel = 0x1145
	SGProc32ID          = 0x1147
	SProcIDEnd          = 0x114f
)

// Subsection kinds.
const (
	SubsectionSymbols       = 0xF1
	SubsectionLines         = 0xF2
	SubsectionStringTable   = 0xF3
	SubsectionFileChecksums = 0xF4
)

// LinesHaveColumns flags a Lines subsection carrying column information.
const LinesHaveColumns = 0x0001

// LocalIsParameter flags an S_LOCAL record describing a formal parameter.
const LocalIsParameter = 0x0001

// cvRegAMD64 maps generator register numbers (rax, rcx, rdx, rbx, rsp, rbp,
// rsi, rdi, r8..r15) to CodeView AMD64 register codes.
var cvRegAMD64 = [...]uint16{
	328, // rax
	329, // rcx
	330, // rdx
	331, // rbx
	335, // rsp
	334, // rbp
	332, // rsi
	333, // rdi
	336, 337, 338, 339, 340, 341, 342, 343, // r8..r15
}

// MapRegisterAMD64 translates a generator register number to its CodeView
// code. An out-of-range number is a generator bug.
func MapRegisterAMD64(reg uint16) uint16 {
	if int(reg) >= len(cvRegAMD64) {
		panic("objwriter: register number out of range for CodeView mapping")
	}
	return cvRegAMD64[reg]
}
