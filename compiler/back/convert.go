package back

import (
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/tp"
)

// lowerConv selects the conversion by source and destination width,
// signedness and register class.
func (u *unit) lowerConv() error {
	op := u.op
	d, a := op.Dst, op.Src[0]

	if op.From == nil || tp.IsAggregate(op.From) || tp.IsAggregate(op.Type) {
		return u.unsupportedf("conversion from %v to %v", op.From, op.Type)
	}

	fc, tc := classOf(op.From), classOf(op.Type)
	fw, tw := widthOf(op.From), widthOf(op.Type)

	switch u.dispatch(out(d, tc), as(a, fc)) {
	case RR, RM, RI, MR, MM, MI:
	default:
		return u.unsupported()
	}

	switch {
	case fc == asm.GP && tc == asm.GP:
		u.convInt(d, a, fw, tw, tp.IsSigned(op.From))
	case fc == asm.GP:
		u.convIntToFloat(d, a, fw, tw, tp.IsSigned(op.From))
	case tc == asm.GP:
		u.convFloatToInt(d, a, fw, tw, tp.IsSigned(op.Type))
	default:
		u.convFloat(d, a, fw, tw)
	}

	return nil
}

func (u *unit) convInt(d, a asm.Operand, fw, tw asm.Width, signed bool) {
	if x, ok := a.(asm.Imm); ok {
		v := trunc(x.Value, fw)
		if !signed {
			v = int64(zext(x.Value, fw))
		}

		u.mov(tw, asm.GP, d, asm.I(v))

		return
	}

	if tw <= fw {
		// the low bytes are the value, same location is a no-op
		u.mov(tw, asm.GP, d, a)
		return
	}

	if r, ok := d.(asm.Reg); ok {
		u.extend(r, tw, a, fw, signed)
		return
	}

	t := u.gp()
	u.extend(t, tw, a, fw, signed)
	u.mov(tw, asm.GP, d, t)
	u.free(t)
}

func (u *unit) convIntToFloat(d, a asm.Operand, fw, tw asm.Width, signed bool) {
	if x, ok := a.(asm.Imm); ok {
		var f float64

		if signed {
			f = float64(trunc(x.Value, fw))
		} else {
			f = float64(zext(x.Value, fw))
		}

		u.mov(tw, asm.SIMD, d, asm.I(floatBits(f, tw)))

		return
	}

	cvt, add := x86asm.CVTSI2SD, x86asm.ADDSD
	if tw == asm.Dword {
		cvt, add = x86asm.CVTSI2SS, x86asm.ADDSS
	}

	x, ok := d.(asm.Reg)
	if !ok {
		x = u.simd()
		defer u.free(x)
	}

	switch {
	case signed && fw >= asm.Dword:
		u.emit(cvt, asm.A(x, tw), asm.A(a, fw))
	case fw <= asm.Word:
		g := u.gp()
		u.extend(g, asm.Dword, a, fw, signed)
		u.emit(cvt, asm.A(x, tw), asm.A(g, asm.Dword))
		u.free(g)
	case fw == asm.Dword:
		g := u.gp()
		u.ins(x86asm.MOV, asm.Dword, g, a)
		u.emit(cvt, asm.A(x, tw), asm.A(g, asm.Qword))
		u.free(g)
	default:
		// unsigned 64 bit values with the top bit set are halved,
		// keeping the low bit for rounding, and doubled back
		big, done := u.label(), u.label()

		g, h := u.gp(), u.gp()

		u.ins(x86asm.MOV, asm.Qword, g, a)
		u.ins(x86asm.TEST, asm.Qword, g, g)
		u.emit(x86asm.JS, asm.A(big, 0))
		u.emit(cvt, asm.A(x, tw), asm.A(g, asm.Qword))
		u.emit(x86asm.JMP, asm.A(done, 0))

		u.define(big)
		u.ins(x86asm.MOV, asm.Qword, h, g)
		u.ins(x86asm.SHR, asm.Qword, h, asm.I(1))
		u.ins(x86asm.AND, asm.Qword, g, asm.I(1))
		u.ins(x86asm.OR, asm.Qword, h, g)
		u.emit(cvt, asm.A(x, tw), asm.A(h, asm.Qword))
		u.ins(add, tw, x, x)

		u.define(done)

		u.free(g)
		u.free(h)
	}

	u.mov(tw, asm.SIMD, d, x)
}

func (u *unit) convFloatToInt(d, a asm.Operand, fw, tw asm.Width, signed bool) {
	if x, ok := a.(asm.Imm); ok {
		f := floatValue(x.Value, fw)

		var v int64

		switch {
		case signed:
			v = int64(f)
		case f >= math.MaxInt64:
			v = int64(uint64(f))
		default:
			v = int64(f)
		}

		u.mov(tw, asm.GP, d, asm.I(v))

		return
	}

	cvt, cmp, sub := x86asm.CVTTSD2SI, x86asm.UCOMISD, x86asm.SUBSD
	if fw == asm.Dword {
		cvt, cmp, sub = x86asm.CVTTSS2SI, x86asm.UCOMISS, x86asm.SUBSS
	}

	g, ok := d.(asm.Reg)
	if !ok {
		g = u.gp()
		defer u.free(g)
	}

	switch {
	case signed && tw == asm.Qword, !signed && tw == asm.Dword:
		u.emit(cvt, asm.A(g, asm.Qword), asm.A(a, fw))
	case tw <= asm.Dword:
		u.emit(cvt, asm.A(g, asm.Dword), asm.A(a, fw))
	default:
		// values not below 2^63 are shifted down by 2^63 and the top bit is set back
		big, done := u.label(), u.label()

		c := u.simd()
		u.movToReg(fw, c, asm.I(floatBits(1<<63, fw)))

		// the first operand of ucomis is a register
		u.ins(cmp, fw, c, a)
		u.emit(x86asm.JBE, asm.A(big, 0))
		u.emit(cvt, asm.A(g, asm.Qword), asm.A(a, fw))
		u.emit(x86asm.JMP, asm.A(done, 0))

		u.define(big)

		t := u.simd()
		u.mov(fw, asm.SIMD, t, a)
		u.ins(sub, fw, t, c)
		u.emit(cvt, asm.A(g, asm.Qword), asm.A(t, fw))
		u.emit(x86asm.BTC, asm.A(g, asm.Qword), asm.A(asm.I(63), asm.Byte))

		u.define(done)

		u.free(c)
		u.free(t)
	}

	u.mov(tw, asm.GP, d, g)
}

func (u *unit) convFloat(d, a asm.Operand, fw, tw asm.Width) {
	if fw == tw {
		u.mov(tw, asm.SIMD, d, a)
		return
	}

	if x, ok := a.(asm.Imm); ok {
		u.mov(tw, asm.SIMD, d, asm.I(floatBits(floatValue(x.Value, fw), tw)))
		return
	}

	cvt := x86asm.CVTSS2SD
	if tw == asm.Dword {
		cvt = x86asm.CVTSD2SS
	}

	x, ok := d.(asm.Reg)
	if !ok {
		x = u.simd()
		defer u.free(x)
	}

	u.emit(cvt, asm.A(x, tw), asm.A(a, fw))
	u.mov(tw, asm.SIMD, d, x)
}

// lowerBitcast reinterprets bits between equal width types.
func (u *unit) lowerBitcast() error {
	op := u.op
	d, a := op.Dst, op.Src[0]

	if op.From == nil || widthOf(op.From) != u.w || u.w == 0 {
		return u.unsupportedf("bitcast from %v to %v", op.From, op.Type)
	}

	fc, tc := classOf(op.From), classOf(op.Type)

	switch u.dispatch(out(d, tc), as(a, fc)) {
	case RR, RM, RI, MR, MM, MI:
		u.mov(u.w, asm.GP, d, a)
	default:
		return u.unsupported()
	}

	return nil
}
