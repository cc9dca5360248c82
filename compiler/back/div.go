package back

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

// fold computes an integer operation on immediates at width w.
// The result is sign-extended from w.
// ok is false on division by zero.
func fold(code ir.Opcode, a, b int64, w asm.Width, signed bool) (r int64, ok bool) {
	bits := uint64(w) * 8

	switch code {
	case ir.Add:
		r = a + b
	case ir.Sub:
		r = a - b
	case ir.Mul:
		r = a * b
	case ir.And:
		r = a & b
	case ir.Or:
		r = a | b
	case ir.Xor:
		r = a ^ b
	case ir.Neg:
		r = -a
	case ir.Not:
		r = ^a
	case ir.Shl:
		r = a << (uint64(b) & (bits - 1))
	case ir.Shr:
		n := uint64(b) & (bits - 1)

		if signed {
			r = trunc(a, w) >> n
		} else {
			r = int64(zext(a, w) >> n)
		}
	case ir.Div, ir.Rem:
		q, rem, kind := divide(a, b, w, signed)
		if kind != 0 {
			return 0, false
		}

		r = q
		if code == ir.Rem {
			r = rem
		}
	default:
		return 0, false
	}

	return trunc(r, w), true
}

// divide computes what the emitted division leaves in rax and rdx.
// Division by zero and a signed quotient that does not fit trap at run time,
// those are returned as error kinds. Byte division runs at 32 bits and wraps.
func divide(a, b int64, w asm.Width, signed bool) (q, r int64, kind ErrorKind) {
	if !signed {
		x, y := zext(a, w), zext(b, w)
		if y == 0 {
			return 0, 0, DivisionByZero
		}

		return trunc(int64(x/y), w), trunc(int64(x%y), w), 0
	}

	x, y := trunc(a, w), trunc(b, w)

	switch y {
	case 0:
		return 0, 0, DivisionByZero
	case -1:
		// only min is its own negation
		if w != asm.Byte && x != 0 && trunc(-x, w) == x {
			return 0, 0, DivisionOverflow
		}

		return trunc(-x, w), 0, 0
	}

	return trunc(x/y, w), trunc(x%y, w), 0
}

// lowerDiv uses the fixed RAX:RDX pair.
// Both registers are clobbered, the register allocator keeps nothing live in them.
func (u *unit) lowerDiv() error {
	op := u.op
	a, b := op.Src[0], op.Src[1]
	w := u.w
	signed := tp.IsSigned(op.Type)

	var qd, rd asm.Operand

	switch op.Code {
	case ir.Div:
		qd = op.Dst
	case ir.Rem:
		rd = op.Dst
	case ir.DivRem:
		qd, rd = op.Dst, op.Dst2

		if u.dispatch(u.dst(rd)) == 0 {
			return u.unsupported()
		}
	}

	s := u.dispatch(u.dst(op.Dst), u.val(a), u.val(b))

	switch s {
	case RII, MII:
		q, r, kind := divide(a.(asm.Imm).Value, b.(asm.Imm).Value, w, signed)
		if kind != 0 {
			u.fail(kind, "%v / %v", a, b)
			return u.err
		}

		if qd != nil {
			u.mov(w, asm.GP, qd, asm.I(q))
		}

		if rd != nil {
			u.mov(w, asm.GP, rd, asm.I(r))
		}

		return nil
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM,
		MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM:
	default:
		return u.unsupported()
	}

	for _, d := range []asm.Operand{qd, rd} {
		if m, ok := d.(asm.Mem); ok && (asm.Uses(m, asm.RAX) || asm.Uses(m, asm.RDX)) {
			return u.unsupportedf("destination %v is addressed through rax or rdx", m)
		}
	}

	dw := w
	if w == asm.Byte {
		dw = asm.Dword
	}

	divisor := b

	// the divisor must survive loading RAX and extending into RDX
	if w == asm.Byte || b.Kind() == asm.KindImm || asm.Uses(b, asm.RAX) || asm.Uses(b, asm.RDX) {
		t := u.gp()
		defer u.free(t)

		if w == asm.Byte {
			u.extend(t, dw, b, w, signed)
		} else {
			u.mov(w, asm.GP, t, b)
		}

		divisor = t
	}

	if w == asm.Byte {
		u.extend(asm.RAX, dw, a, w, signed)
	} else {
		u.mov(w, asm.GP, asm.RAX, a)
	}

	x := x86asm.DIV

	if signed {
		x = x86asm.IDIV

		switch dw {
		case asm.Word:
			u.emit(x86asm.CWD)
		case asm.Dword:
			u.emit(x86asm.CDQ)
		default:
			u.emit(x86asm.CQO)
		}
	} else {
		u.ins(x86asm.XOR, asm.Dword, asm.RDX, asm.RDX)
	}

	u.ins(x, dw, divisor)

	u.divResults(qd, rd, w)

	return nil
}

func (u *unit) divResults(qd, rd asm.Operand, w asm.Width) {
	switch {
	case qd == nil:
		u.mov(w, asm.GP, rd, asm.RDX)
	case rd == nil:
		u.mov(w, asm.GP, qd, asm.RAX)
	case asm.Same(qd, asm.RDX) && asm.Same(rd, asm.RAX):
		u.ins(x86asm.XCHG, asm.Qword, asm.RAX, asm.RDX)
	case asm.Same(qd, asm.RDX):
		u.mov(w, asm.GP, rd, asm.RDX)
		u.mov(w, asm.GP, qd, asm.RAX)
	default:
		u.mov(w, asm.GP, qd, asm.RAX)
		u.mov(w, asm.GP, rd, asm.RDX)
	}
}
