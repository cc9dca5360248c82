package asm

import (
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"golang.org/x/arch/x86/x86asm"
	"tlog.app/go/errors"
)

type (
	Syntax uint8

	TextOptions struct {
		Syntax Syntax

		// Mnemonic decorates instruction names, for example with terminal colors.
		Mnemonic func(string) string
	}
)

const (
	Intel Syntax = iota
	GNU
)

var mnemonics = map[x86asm.Op]string{
	x86asm.MOVSD_XMM: "movsd",
	x86asm.CMPSD_XMM: "cmpsd",
}

func ParseSyntax(s string) (Syntax, error) {
	switch strings.ToLower(s) {
	case "", "intel":
		return Intel, nil
	case "gnu", "att":
		return GNU, nil
	default:
		return 0, errors.New("unsupported syntax: %q", s)
	}
}

func (c *Code) AppendText(b []byte, opts TextOptions) []byte {
	if c.Name != "" {
		b = hfmt.Appendf(b, "%s:\n", c.Name)
	}

	for _, in := range c.Instrs {
		if in.IsLabel() {
			b = hfmt.Appendf(b, "%s:\n", string(in.Label))
			continue
		}

		b = append(b, '\t')
		b = in.AppendText(b, opts)
		b = append(b, '\n')
	}

	return b
}

func (c *Code) String() string {
	return string(c.AppendText(nil, TextOptions{}))
}

func (in Instr) String() string {
	return string(in.AppendText(nil, TextOptions{}))
}

func (in Instr) AppendText(b []byte, opts TextOptions) []byte {
	if in.IsLabel() {
		return hfmt.Appendf(b, "%s:", string(in.Label))
	}

	if opts.Syntax == GNU {
		return append(b, in.gnu()...)
	}

	name := Mnemonic(in.Op)
	if opts.Mnemonic != nil {
		name = opts.Mnemonic(name)
	}

	b = append(b, name...)

	for i, a := range in.Args {
		if a == nil {
			break
		}

		if i == 0 {
			b = append(b, '\t')
		} else {
			b = append(b, ", "...)
		}

		b = in.appendArg(b, a)
	}

	return b
}

func Mnemonic(op x86asm.Op) string {
	if n, ok := mnemonics[op]; ok {
		return n
	}

	return strings.ToLower(op.String())
}

func (in Instr) appendArg(b []byte, a x86asm.Arg) []byte {
	switch a := a.(type) {
	case x86asm.Reg:
		return append(b, regName(a)...)
	case x86asm.Imm:
		return hfmt.Appendf(b, "%d", int64(a))
	case x86asm.Rel:
		return append(b, in.Label...)
	case x86asm.Mem:
		if in.Op != x86asm.LEA {
			b = appendPtr(b, in.MemBytes)
		}

		b = append(b, '[')
		b = appendAddr(b, a.Base, a.Index, a.Scale, a.Disp)

		return append(b, ']')
	default:
		return append(b, a.String()...)
	}
}

func appendPtr(b []byte, size int) []byte {
	switch size {
	case 1:
		return append(b, "byte ptr "...)
	case 2:
		return append(b, "word ptr "...)
	case 4:
		return append(b, "dword ptr "...)
	case 8:
		return append(b, "qword ptr "...)
	case 16:
		return append(b, "xmmword ptr "...)
	default:
		return b
	}
}

func appendAddr(b []byte, base, index x86asm.Reg, scale uint8, disp int64) []byte {
	sep := false

	if base != 0 {
		b = append(b, regName(base)...)
		sep = true
	}

	if scale != 0 && index != 0 {
		if sep {
			b = append(b, '+')
		}

		b = append(b, regName(index)...)

		if scale != 1 {
			b = hfmt.Appendf(b, "*%d", scale)
		}

		sep = true
	}

	switch {
	case !sep:
		b = hfmt.Appendf(b, "%#x", disp)
	case disp > 0:
		b = hfmt.Appendf(b, "+%d", disp)
	case disp < 0:
		b = hfmt.Appendf(b, "%d", disp)
	}

	return b
}

func (in Instr) gnu() string {
	label := string(in.Label)

	sym := func(addr uint64) (string, uint64) {
		if addr == 1 && label != "" {
			return label, 1
		}

		return "", 0
	}

	return x86asm.GNUSyntax(in.Inst, 1, sym)
}
