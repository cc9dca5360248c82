package asm

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// General purpose registers in hardware encoding order.
var (
	RAX = Reg{GP, 0}
	RCX = Reg{GP, 1}
	RDX = Reg{GP, 2}
	RBX = Reg{GP, 3}
	RSP = Reg{GP, 4}
	RBP = Reg{GP, 5}
	RSI = Reg{GP, 6}
	RDI = Reg{GP, 7}
	R8  = Reg{GP, 8}
	R9  = Reg{GP, 9}
	R10 = Reg{GP, 10}
	R11 = Reg{GP, 11}
	R12 = Reg{GP, 12}
	R13 = Reg{GP, 13}
	R14 = Reg{GP, 14}
	R15 = Reg{GP, 15}
)

func X(n int) Reg { return Reg{SIMD, uint8(n)} }

var lowByte = [16]x86asm.Reg{
	x86asm.AL, x86asm.CL, x86asm.DL, x86asm.BL,
	x86asm.SPB, x86asm.BPB, x86asm.SIB, x86asm.DIB,
	x86asm.R8B, x86asm.R9B, x86asm.R10B, x86asm.R11B,
	x86asm.R12B, x86asm.R13B, x86asm.R14B, x86asm.R15B,
}

var names = map[x86asm.Reg]string{}

func init() {
	q := []string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi"}
	d := []string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	w := []string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di"}
	b := []string{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil"}

	for i := 0; i < 16; i++ {
		r := Reg{GP, uint8(i)}

		if i < 8 {
			names[r.Sized(Qword)] = q[i]
			names[r.Sized(Dword)] = d[i]
			names[r.Sized(Word)] = w[i]
			names[r.Sized(Byte)] = b[i]
		} else {
			n := "r" + itoa(i)

			names[r.Sized(Qword)] = n
			names[r.Sized(Dword)] = n + "d"
			names[r.Sized(Word)] = n + "w"
			names[r.Sized(Byte)] = n + "b"
		}

		names[X(i).Sized(Qword)] = "xmm" + itoa(i)
	}
}

// Sized returns the hardware register viewing r at width w.
// SIMD registers have a single view.
func (r Reg) Sized(w Width) x86asm.Reg {
	switch {
	case r.Class == SIMD:
		return x86asm.X0 + x86asm.Reg(r.ID)
	case r.Class != GP:
		return 0
	}

	switch w {
	case Byte:
		return lowByte[r.ID]
	case Word:
		return x86asm.AX + x86asm.Reg(r.ID)
	case Dword:
		return x86asm.EAX + x86asm.Reg(r.ID)
	default:
		return x86asm.RAX + x86asm.Reg(r.ID)
	}
}

// FromX86 maps a hardware register view back to the location and width.
func FromX86(x x86asm.Reg) (r Reg, w Width, ok bool) {
	switch {
	case x >= x86asm.RAX && x <= x86asm.R15:
		return Reg{GP, uint8(x - x86asm.RAX)}, Qword, true
	case x >= x86asm.EAX && x <= x86asm.R15L:
		return Reg{GP, uint8(x - x86asm.EAX)}, Dword, true
	case x >= x86asm.AX && x <= x86asm.R15W:
		return Reg{GP, uint8(x - x86asm.AX)}, Word, true
	case x >= x86asm.X0 && x <= x86asm.X15:
		return Reg{SIMD, uint8(x - x86asm.X0)}, 16, true
	}

	for i, b := range lowByte {
		if b == x {
			return Reg{GP, uint8(i)}, Byte, true
		}
	}

	return Reg{}, 0, false
}

// ParseReg accepts any register view name and returns its location.
func ParseReg(s string) (Reg, bool) {
	s = strings.ToLower(s)

	for x, n := range names {
		if n == s {
			r, _, ok := FromX86(x)
			return r, ok
		}
	}

	return Reg{}, false
}

func regName(x x86asm.Reg) string {
	if n, ok := names[x]; ok {
		return n
	}

	return strings.ToLower(x.String())
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}

	return "1" + string(rune('0'+i-10))
}
