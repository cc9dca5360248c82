package back

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

var intOps = map[ir.Opcode]x86asm.Op{
	ir.Add: x86asm.ADD,
	ir.Sub: x86asm.SUB,
	ir.Mul: x86asm.IMUL,
	ir.And: x86asm.AND,
	ir.Or:  x86asm.OR,
	ir.Xor: x86asm.XOR,
	ir.Neg: x86asm.NEG,
	ir.Not: x86asm.NOT,
}

func (u *unit) lowerMov() error {
	op := u.op
	d, a := op.Dst, op.Src[0]

	switch u.dispatch(u.dst(d), u.val(a)) {
	case RR, RM, RI, MR, MM, MI:
		u.mov(u.w, u.cls, d, a)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) lowerBinary() error {
	op := u.op
	d, a, b := op.Dst, op.Src[0], op.Src[1]
	w := u.w

	if op.Code == ir.Mul && w == asm.Byte {
		return u.lowerMul8()
	}

	s := u.dispatch(u.dst(d), u.val(a), u.val(b))

	switch s {
	case RII, MII:
		if u.cfg.Fold {
			v, _ := fold(op.Code, a.(asm.Imm).Value, b.(asm.Imm).Value, w, tp.IsSigned(op.Type))
			u.mov(w, asm.GP, d, asm.I(v))

			return nil
		}
	}

	switch s {
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM, RII:
		u.binaryToReg(d.(asm.Reg), a, b)
	case MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM, MII:
		u.binaryToMem(d.(asm.Mem), a, b)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) binaryToReg(d asm.Reg, a, b asm.Operand) {
	code := u.op.Code
	w := u.w
	x := intOps[code]

	if code == ir.Mul {
		u.mulToReg(d, a, b)
		return
	}

	switch {
	case asm.Same(d, a):
		u.ins(x, w, d, u.operand(w, b))
	case code.Commutative() && asm.Same(d, b):
		u.ins(x, w, d, u.operand(w, a))
	case asm.Uses(b, d) && code.Commutative() && !asm.Uses(a, d):
		u.mov(w, asm.GP, d, b)
		u.ins(x, w, d, u.operand(w, a))
	case asm.Uses(b, d):
		// writing d first would destroy b
		t := u.gp()
		u.mov(w, asm.GP, t, a)
		u.ins(x, w, t, u.operand(w, b))
		u.mov(w, asm.GP, d, t)
		u.free(t)
	default:
		u.mov(w, asm.GP, d, a)
		u.ins(x, w, d, u.operand(w, b))
	}
}

func (u *unit) binaryToMem(d asm.Mem, a, b asm.Operand) {
	code := u.op.Code
	w := u.w
	x := intOps[code]

	if code != ir.Mul {
		switch {
		case asm.Same(d, a) && b.Kind() != asm.KindMem:
			u.ins(x, w, d, u.operand(w, b))
			return
		case code.Commutative() && asm.Same(d, b) && a.Kind() != asm.KindMem:
			u.ins(x, w, d, u.operand(w, a))
			return
		}
	}

	t := u.gp()

	if code == ir.Mul {
		u.mulToReg(t, a, b)
	} else {
		u.mov(w, asm.GP, t, a)
		u.ins(x, w, t, u.operand(w, b))
	}

	u.mov(w, asm.GP, d, t)
	u.free(t)
}

// mulToReg uses the two and three operand IMUL forms.
// Neither has a memory destination.
func (u *unit) mulToReg(d asm.Reg, a, b asm.Operand) {
	w := u.w

	if a.Kind() == asm.KindImm && b.Kind() != asm.KindImm {
		a, b = b, a
	}

	if x, ok := b.(asm.Imm); ok && fitsImm32(x.Value) {
		if a.Kind() == asm.KindImm {
			u.mov(w, asm.GP, d, a)
			a = d
		}

		u.ins(x86asm.IMUL, w, d, a, x)

		return
	}

	switch {
	case asm.Same(d, a):
		u.ins(x86asm.IMUL, w, d, u.operand(w, b))
	case asm.Same(d, b):
		u.ins(x86asm.IMUL, w, d, u.operand(w, a))
	case asm.Uses(b, d) && !asm.Uses(a, d):
		u.mov(w, asm.GP, d, b)
		u.ins(x86asm.IMUL, w, d, u.operand(w, a))
	case asm.Uses(b, d):
		t := u.gp()
		u.mov(w, asm.GP, t, a)
		u.ins(x86asm.IMUL, w, t, u.operand(w, b))
		u.mov(w, asm.GP, d, t)
		u.free(t)
	default:
		u.mov(w, asm.GP, d, a)
		u.ins(x86asm.IMUL, w, d, u.operand(w, b))
	}
}

// lowerMul8 widens byte multiplication to 32 bits,
// there is no two operand byte IMUL.
// The low byte of the product does not depend on the extension.
func (u *unit) lowerMul8() error {
	op := u.op
	d, a, b := op.Dst, op.Src[0], op.Src[1]

	s := u.dispatch(u.dst(d), u.val(a), u.val(b))

	if (s == RII || s == MII) && u.cfg.Fold {
		v, _ := fold(op.Code, a.(asm.Imm).Value, b.(asm.Imm).Value, asm.Byte, false)
		u.mov(asm.Byte, asm.GP, d, asm.I(v))

		return nil
	}

	switch s {
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM, RII,
		MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM, MII:
	default:
		return u.unsupported()
	}

	if a.Kind() == asm.KindImm {
		a, b = b, a
	}

	t := u.gp()
	u.extend(t, asm.Dword, a, asm.Byte, false)

	if x, ok := b.(asm.Imm); ok {
		u.ins(x86asm.IMUL, asm.Dword, t, t, asm.I(int64(uint8(x.Value))))
	} else {
		t2 := u.gp()
		u.extend(t2, asm.Dword, b, asm.Byte, false)
		u.ins(x86asm.IMUL, asm.Dword, t, t2)
		u.free(t2)
	}

	u.mov(asm.Byte, asm.GP, d, t)
	u.free(t)

	return nil
}

func (u *unit) lowerUnary() error {
	op := u.op
	d, a := op.Dst, op.Src[0]
	w := u.w
	x := intOps[op.Code]

	s := u.dispatch(u.dst(d), u.val(a))

	if (s == RI || s == MI) && u.cfg.Fold {
		v, _ := fold(op.Code, a.(asm.Imm).Value, 0, w, tp.IsSigned(op.Type))
		u.mov(w, asm.GP, d, asm.I(v))

		return nil
	}

	switch s {
	case RR, RM, RI:
		u.mov(w, asm.GP, d, a)
		u.ins(x, w, d)
	case MM, MR, MI:
		if asm.Same(d, a) {
			u.ins(x, w, d)
			break
		}

		t := u.gp()
		u.mov(w, asm.GP, t, a)
		u.ins(x, w, t)
		u.mov(w, asm.GP, d, t)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}
