package back

import (
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
)

// floatOps are scalar SSE forms: single, double precision.
var floatOps = map[ir.Opcode][2]x86asm.Op{
	ir.Add:  {x86asm.ADDSS, x86asm.ADDSD},
	ir.Sub:  {x86asm.SUBSS, x86asm.SUBSD},
	ir.Mul:  {x86asm.MULSS, x86asm.MULSD},
	ir.Div:  {x86asm.DIVSS, x86asm.DIVSD},
	ir.Sqrt: {x86asm.SQRTSS, x86asm.SQRTSD},
	ir.Cmp:  {x86asm.UCOMISS, x86asm.UCOMISD},
}

func (u *unit) floatOp() (x86asm.Op, bool) {
	ops, ok := floatOps[u.op.Code]
	if !ok {
		return 0, false
	}

	if u.w == asm.Dword {
		return ops[0], true
	}

	return ops[1], true
}

func floatValue(bits int64, w asm.Width) float64 {
	if w == asm.Dword {
		return float64(math.Float32frombits(uint32(bits)))
	}

	return math.Float64frombits(uint64(bits))
}

func floatBits(v float64, w asm.Width) int64 {
	if w == asm.Dword {
		return int64(math.Float32bits(float32(v)))
	}

	return int64(math.Float64bits(v))
}

func foldFloat(code ir.Opcode, a, b int64, w asm.Width) (int64, bool) {
	x, y := floatValue(a, w), floatValue(b, w)

	var r float64

	switch code {
	case ir.Add:
		r = x + y
	case ir.Sub:
		r = x - y
	case ir.Mul:
		r = x * y
	case ir.Div:
		r = x / y
	case ir.Sqrt:
		r = math.Sqrt(x)
	case ir.Neg:
		r = -x
	default:
		return 0, false
	}

	if w == asm.Dword {
		r = float64(float32(r))
	}

	return floatBits(r, w), true
}

// floatSrc returns o usable as an SSE source operand.
func (u *unit) floatSrc(o asm.Operand) asm.Operand {
	if o.Kind() != asm.KindImm {
		return o
	}

	t := u.simd()
	u.movToReg(u.w, t, o)

	return t
}

func (u *unit) lowerFloatBinary() error {
	op := u.op
	d, a, b := op.Dst, op.Src[0], op.Src[1]
	w := u.w

	x, ok := u.floatOp()
	if !ok || op.Code == ir.Sqrt || op.Code == ir.Cmp {
		return u.unsupportedf("%v on floats", op.Code)
	}

	s := u.dispatch(u.dst(d), u.val(a), u.val(b))

	if (s == RII || s == MII) && u.cfg.Fold {
		v, _ := foldFloat(op.Code, a.(asm.Imm).Value, b.(asm.Imm).Value, w)
		u.mov(w, asm.SIMD, d, asm.I(v))

		return nil
	}

	switch s {
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM, RII:
		u.floatToReg(x, d.(asm.Reg), a, b)
	case MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM, MII:
		t := u.simd()
		u.floatToReg(x, t, a, b)
		u.mov(w, asm.SIMD, d, t)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

// floatToReg computes into an XMM register. SSE arithmetic is destructive
// and XMM registers are never part of an address.
func (u *unit) floatToReg(x x86asm.Op, d asm.Reg, a, b asm.Operand) {
	w := u.w
	code := u.op.Code

	switch {
	case asm.Same(d, a):
		u.ins(x, w, d, u.floatSrc(b))
	case code.Commutative() && asm.Same(d, b):
		u.ins(x, w, d, u.floatSrc(a))
	case asm.Same(d, b):
		t := u.simd()
		u.mov(w, asm.SIMD, t, a)
		u.ins(x, w, t, b)
		u.mov(w, asm.SIMD, d, t)
		u.free(t)
	default:
		u.mov(w, asm.SIMD, d, a)
		u.ins(x, w, d, u.floatSrc(b))
	}
}

// lowerFloatNeg flips the sign bit.
func (u *unit) lowerFloatNeg() error {
	op := u.op
	d, a := op.Dst, op.Src[0]
	w := u.w
	bit := int64(w)*8 - 1

	s := u.dispatch(u.dst(d), u.val(a))

	if (s == RI || s == MI) && u.cfg.Fold {
		v, _ := foldFloat(op.Code, a.(asm.Imm).Value, 0, w)
		u.mov(w, asm.SIMD, d, asm.I(v))

		return nil
	}

	switch s {
	case RR, RM, RI:
		m := u.simd()
		u.movToReg(w, m, asm.I(-1<<bit))
		u.mov(w, asm.SIMD, d, a)
		u.emit(x86asm.XORPS, asm.A(d, 16), asm.A(m, 16))
		u.free(m)
	case MM, MR, MI:
		if asm.Same(d, a) {
			u.emit(x86asm.BTC, asm.A(d, w), asm.A(asm.I(bit), asm.Byte))
			break
		}

		t := u.gp()
		u.movToReg(w, t, a)
		u.emit(x86asm.BTC, asm.A(t, w), asm.A(asm.I(bit), asm.Byte))
		u.mov(w, asm.GP, d, t)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) lowerSqrt() error {
	op := u.op
	d, a := op.Dst, op.Src[0]
	w := u.w

	x, ok := u.floatOp()
	if !ok || u.cls != asm.SIMD {
		return u.unsupportedf("sqrt of %v", op.Type)
	}

	s := u.dispatch(u.dst(d), u.val(a))

	if (s == RI || s == MI) && u.cfg.Fold {
		v, _ := foldFloat(op.Code, a.(asm.Imm).Value, 0, w)
		u.mov(w, asm.SIMD, d, asm.I(v))

		return nil
	}

	switch s {
	case RR, RM, RI:
		u.ins(x, w, d, u.floatSrc(a))
	case MR, MM, MI:
		t := u.simd()
		u.ins(x, w, t, u.floatSrc(a))
		u.mov(w, asm.SIMD, d, t)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

// lowerFloatCmp sets flags as an unsigned compare would.
func (u *unit) lowerFloatCmp() error {
	op := u.op
	a, b := op.Src[0], op.Src[1]
	w := u.w

	x, _ := u.floatOp()

	switch u.dispatch(u.val(a), u.val(b)) {
	case RR, RM, RI:
		u.ins(x, w, a, u.floatSrc(b))
	case MR, MM, MI, IR, IM, II:
		t := u.simd()
		u.mov(w, asm.SIMD, t, a)
		u.ins(x, w, t, u.floatSrc(b))
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}
