package asm

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"
)

type (
	Class uint8
	Kind  uint8
	Width uint8

	// Operand is a physical location or constant assigned by the register allocator.
	Operand interface {
		Kind() Kind
		String() string
	}

	Reg struct {
		Class Class
		ID    uint8
	}

	// Mem is Base + Index*Scale + Disp.
	// Scale is 0 when there is no index.
	Mem struct {
		Base  Reg
		Index Reg
		Scale uint8
		Disp  int32
	}

	Imm struct {
		Width Width
		Value int64
	}

	// Label names a branch or call target.
	// It is an instruction argument, never a value location.
	Label string
)

const (
	_ Class = iota
	GP
	SIMD
)

const (
	_ Kind = iota
	KindReg
	KindMem
	KindImm
	KindLabel
)

const (
	Byte  Width = 1
	Word  Width = 2
	Dword Width = 4
	Qword Width = 8
)

func (Reg) Kind() Kind   { return KindReg }
func (Mem) Kind() Kind   { return KindMem }
func (Imm) Kind() Kind   { return KindImm }
func (Label) Kind() Kind { return KindLabel }

func (r Reg) Valid() bool { return r.Class != 0 }

func (m Mem) HasIndex() bool { return m.Scale != 0 }

// Regs returns registers the address is computed from.
func (m Mem) Regs() (l []Reg) {
	if m.Base.Valid() {
		l = append(l, m.Base)
	}

	if m.HasIndex() {
		l = append(l, m.Index)
	}

	return l
}

func (m Mem) Offset(d int32) Mem {
	m.Disp += d
	return m
}

// Rebase replaces register r in the address with to.
func (m Mem) Rebase(r, to Reg) Mem {
	if m.Base == r {
		m.Base = to
	}

	if m.HasIndex() && m.Index == r {
		m.Index = to
	}

	return m
}

func I(v int64) Imm { return Imm{Width: Qword, Value: v} }

// Same reports whether a and b denote the same location.
// Immediates never do.
func Same(a, b Operand) bool {
	switch a := a.(type) {
	case Reg:
		b, ok := b.(Reg)
		return ok && a == b
	case Mem:
		b, ok := b.(Mem)
		return ok && a == b
	default:
		return false
	}
}

// Uses reports whether reading o reads register r,
// either as the value itself or as part of its address.
func Uses(o Operand, r Reg) bool {
	switch o := o.(type) {
	case Reg:
		return o == r
	case Mem:
		return o.Base == r || o.HasIndex() && o.Index == r
	default:
		return false
	}
}

// Clobbers reports whether writing dst destroys something reading src needs.
func Clobbers(dst, src Operand) bool {
	r, ok := dst.(Reg)
	if !ok {
		return Same(dst, src)
	}

	return Uses(src, r)
}

// Rebase replaces register r with to wherever o reads it.
func Rebase(o Operand, r, to Reg) Operand {
	switch x := o.(type) {
	case Reg:
		if x == r {
			return to
		}
	case Mem:
		return x.Rebase(r, to)
	}

	return o
}

func Describe(o Operand) string {
	if o == nil {
		return "<none>"
	}

	return fmt.Sprintf("%v(%v)", o.Kind(), o)
}

func (c Class) String() string {
	switch c {
	case GP:
		return "gp"
	case SIMD:
		return "simd"
	default:
		return "noclass"
	}
}

func (k Kind) String() string {
	switch k {
	case KindReg:
		return "reg"
	case KindMem:
		return "mem"
	case KindImm:
		return "imm"
	case KindLabel:
		return "label"
	default:
		return "none"
	}
}

func (r Reg) String() string {
	if !r.Valid() {
		return "noreg"
	}

	return regName(r.Sized(Qword))
}

func (m Mem) String() string {
	b := []byte{'['}
	b = appendAddr(b, m.Base.Sized(Qword), m.Index.Sized(Qword), m.Scale, int64(m.Disp))
	b = append(b, ']')

	return string(b)
}

func (x Imm) String() string {
	return fmt.Sprintf("%d", x.Value)
}

func (l Label) String() string {
	return "@" + string(l)
}

func (r Reg) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder
	return e.AppendFormat(b, "%v", r)
}

func (m Mem) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder
	return e.AppendFormat(b, "%v", m)
}

func (x Imm) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder
	return e.AppendFormat(b, "%d", x.Value)
}
