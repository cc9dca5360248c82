package back

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

func (u *unit) shiftOp() x86asm.Op {
	switch {
	case u.op.Code == ir.Shl:
		return x86asm.SHL
	case tp.IsSigned(u.op.Type):
		return x86asm.SAR
	default:
		return x86asm.SHR
	}
}

// lowerShift takes the count as an immediate masked to the width
// or in CL. RCX is preserved unless it is the destination.
func (u *unit) lowerShift() error {
	op := u.op
	d, a, b := op.Dst, op.Src[0], op.Src[1]
	w := u.w
	x := u.shiftOp()

	s := u.dispatch(u.dst(d), u.val(a), u.val(b))

	if (s == RII || s == MII) && u.cfg.Fold {
		v, _ := fold(op.Code, a.(asm.Imm).Value, b.(asm.Imm).Value, w, tp.IsSigned(op.Type))
		u.mov(w, asm.GP, d, asm.I(v))

		return nil
	}

	switch s {
	case RRI, RMI, RII, MRI, MMI, MII:
		n := asm.I(b.(asm.Imm).Value & int64(w*8-1))

		u.shiftInPlace(x, d, a, func(t asm.Operand) {
			u.emit(x, asm.A(t, w), asm.A(n, asm.Byte))
		})
	case RRR, RRM, RMR, RMM, RIR, RIM:
		u.shiftByCL(x, d.(asm.Reg), a, b)
	case MRR, MRM, MMR, MMM, MIR, MIM:
		u.shiftMemByCL(x, d.(asm.Mem), a, b)
	default:
		return u.unsupported()
	}

	return nil
}

// shiftInPlace moves a into d and applies shift on it.
// Memory destinations not holding a are computed in a scratch register.
func (u *unit) shiftInPlace(x x86asm.Op, d, a asm.Operand, shift func(t asm.Operand)) {
	w := u.w

	if _, ok := d.(asm.Reg); ok || asm.Same(d, a) {
		u.mov(w, asm.GP, d, a)
		shift(d)

		return
	}

	t := u.gp()
	u.mov(w, asm.GP, t, a)
	shift(t)
	u.mov(w, asm.GP, d, t)
	u.free(t)
}

func (u *unit) shiftCL(x x86asm.Op, t asm.Operand) {
	u.emit(x, asm.A(t, u.w), asm.A(asm.RCX, asm.Byte))
}

func (u *unit) shiftByCL(x x86asm.Op, d asm.Reg, a, b asm.Operand) {
	w := u.w

	switch {
	case asm.Same(b, asm.RCX) && d != asm.RCX:
		u.mov(w, asm.GP, d, a)
		u.shiftCL(x, d)
	case d == asm.RCX:
		// the old RCX is dead after the op: read a, then load the count
		t := u.gp()
		u.mov(w, asm.GP, t, a)
		u.mov(w, asm.GP, asm.RCX, b)
		u.shiftCL(x, t)
		u.mov(w, asm.GP, asm.RCX, t)
		u.free(t)
	default:
		save := u.gp()
		u.ins(x86asm.MOV, asm.Qword, save, asm.RCX)

		a = asm.Rebase(a, asm.RCX, save)
		b = asm.Rebase(b, asm.RCX, save)

		u.mov(w, asm.GP, asm.RCX, b)
		u.mov(w, asm.GP, d, a)
		u.shiftCL(x, d)

		u.ins(x86asm.MOV, asm.Qword, asm.RCX, save)
		u.free(save)
	}
}

func (u *unit) shiftMemByCL(x x86asm.Op, d asm.Mem, a, b asm.Operand) {
	w := u.w

	if asm.Same(b, asm.RCX) {
		u.shiftInPlace(x, d, a, func(t asm.Operand) { u.shiftCL(x, t) })
		return
	}

	save := u.gp()
	u.ins(x86asm.MOV, asm.Qword, save, asm.RCX)

	a = asm.Rebase(a, asm.RCX, save)
	b = asm.Rebase(b, asm.RCX, save)
	d = d.Rebase(asm.RCX, save)

	u.mov(w, asm.GP, asm.RCX, b)
	u.shiftInPlace(x, d, a, func(t asm.Operand) { u.shiftCL(x, t) })

	u.ins(x86asm.MOV, asm.Qword, asm.RCX, save)
	u.free(save)
}
