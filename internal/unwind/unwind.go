// Package unwind models Win64 UNWIND_INFO records. The code generator hands
// the emitter a structured Info; Encode reproduces the exact on-disk layout
// consumed by the OS unwinder.
package unwind

// Flag bits stored in the high five bits of the first UNWIND_INFO byte.
const (
	FlagEHandler  = 0x1 // has an exception handler
	FlagUHandler  = 0x2 // has a termination handler
	FlagChainInfo = 0x4 // chained unwind info (not supported by the emitter)
)

// Unwind operation codes (UNWIND_CODE.UnwindOp).
const (
	OpPushNonVol    = 0
	OpAllocLarge    = 1
	OpAllocSmall    = 2
	OpSetFPReg      = 3
	OpSaveNonVol    = 4
	OpSaveNonVolFar = 5
	OpSaveXMM128    = 8
	OpSaveXMM128Far = 9
	OpPushMachFrame = 10
)

// Code is one prologue unwind code slot. Raw slots (large-allocation and
// far-save operands) carry their 16-bit payload in Raw with IsRaw set.
type Code struct {
	PrologOffset uint8
	Op           uint8 // 4 bits
	OpInfo       uint8 // 4 bits
	Raw          uint16
	IsRaw        bool
}

// Info is a decoded UNWIND_INFO header plus its code array.
type Info struct {
	Version       uint8 // 3 bits, typically 1
	Flags         uint8 // 5 bits, Flag* values
	PrologSize    uint8
	FrameRegister uint8 // 4 bits, 0 = none
	FrameOffset   uint8 // 4 bits, scaled by 16
	Codes         []Code
}

// Encode produces the on-disk UNWIND_INFO layout: header byte
// (version | flags<<3), prologue size, code count, frame byte
// (register | offset<<4), then the code slots padded to an even count.
func (u *Info) Encode() []byte {
	out := make([]byte, 0, 4+len(u.Codes)*2+2)
	version := u.Version
	if version == 0 {
		version = 1
	}
	out = append(out, version&0x7|u.Flags<<3)
	out = append(out, u.PrologSize)
	out = append(out, uint8(len(u.Codes)))
	out = append(out, u.FrameRegister&0xf|u.FrameOffset<<4)
	for _, c := range u.Codes {
		if c.IsRaw {
			out = append(out, byte(c.Raw), byte(c.Raw>>8))
			continue
		}
		out = append(out, c.PrologOffset, c.Op&0xf|c.OpInfo<<4)
	}
	if len(u.Codes)%2 != 0 {
		out = append(out, 0, 0) // code array is padded to an even count
	}
	return out
}

// ParseFlags recovers the flag bits from the first byte of an encoded
// UNWIND_INFO blob.
func ParseFlags(blob []byte) uint8 {
	if len(blob) == 0 {
		return 0
	}
	return blob[0] >> 3
}
