package asm

import (
	"golang.org/x/arch/x86/x86asm"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Instr is one target machine instruction record.
	// A record with a non-empty Label and zero Op defines a label.
	Instr struct {
		x86asm.Inst

		Label  Label // defined label, or jump/call target
		Target bool  // Label is an argument, not a definition
	}

	// Code is an append-only instruction stream of one function.
	Code struct {
		Name   string
		Instrs []Instr
	}

	// Arg is an operand viewed at a width.
	Arg struct {
		Operand
		W Width
	}
)

var ErrTwoMemOperands = errors.New("instruction references two memory operands")

func A(o Operand, w Width) Arg { return Arg{Operand: o, W: w} }

// Build converts sized operands into a record.
func Build(op x86asm.Op, args ...Arg) (in Instr, err error) {
	if len(args) > len(in.Args) {
		return in, errors.New("%v: too many arguments: %d", op, len(args))
	}

	in.Op = op
	in.Mode = 64
	in.AddrSize = 64

	i := 0

	for _, a := range args {
		if in.DataSize == 0 && a.W != 0 {
			in.DataSize = 8 * int(a.W)
		}

		switch x := a.Operand.(type) {
		case Reg:
			if !x.Valid() {
				return in, errors.New("%v: invalid register", op)
			}

			in.Args[i] = x.Sized(a.W)
		case Mem:
			if in.MemBytes != 0 {
				return in, ErrTwoMemOperands
			}

			in.MemBytes = int(a.W)
			in.Args[i] = x86Mem(x)
		case Imm:
			in.Args[i] = x86asm.Imm(x.Value)
		case Label:
			in.Label = x
			in.Target = true
			in.Args[i] = x86asm.Rel(0)
		default:
			return in, errors.New("%v: unsupported argument %T", op, a.Operand)
		}

		i++
	}

	return in, nil
}

func (c *Code) Emit(op x86asm.Op, args ...Arg) error {
	in, err := Build(op, args...)
	if err != nil {
		return err
	}

	c.Instrs = append(c.Instrs, in)

	return nil
}

func (c *Code) Define(l Label) {
	c.Instrs = append(c.Instrs, Instr{Label: l})
}

func (c *Code) Len() int { return len(c.Instrs) }

func (c *Code) Append(x *Code) {
	c.Instrs = append(c.Instrs, x.Instrs...)
}

func (in Instr) IsLabel() bool {
	return in.Op == 0 && in.Label != ""
}

// Mems counts memory arguments of the record.
func (in Instr) Mems() (n int) {
	for _, a := range in.Args {
		if _, ok := a.(x86asm.Mem); ok {
			n++
		}
	}

	return n
}

func (in Instr) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder
	return e.AppendFormat(b, "%s", in.AppendText(nil, TextOptions{}))
}

func x86Mem(m Mem) x86asm.Mem {
	x := x86asm.Mem{
		Disp: int64(m.Disp),
	}

	if m.Base.Valid() {
		x.Base = m.Base.Sized(Qword)
	}

	if m.HasIndex() {
		x.Index = m.Index.Sized(Qword)
		x.Scale = m.Scale
	}

	return x
}

// FromX86Mem converts a record memory argument back to a location.
func FromX86Mem(x x86asm.Mem) Mem {
	var m Mem

	if x.Base != 0 {
		m.Base, _, _ = FromX86(x.Base)
	}

	if x.Index != 0 {
		m.Index, _, _ = FromX86(x.Index)
		m.Scale = x.Scale
	}

	m.Disp = int32(x.Disp)

	return m
}
