package back

import (
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/set"
	"github.com/slowlang/x64/compiler/tp"
)

type (
	// fn is the state of one function being lowered.
	fn struct {
		cfg  *Config
		code *asm.Code

		labels int
	}

	// unit is one invocation of a lowering unit.
	// Borrowed scratch registers die with it.
	unit struct {
		*fn

		op *ir.Op

		cls asm.Class
		w   asm.Width

		gpUsed   set.Bits[int]
		simdUsed set.Bits[int]

		err error
	}

	slot struct {
		o   asm.Operand
		cls asm.Class
		dst bool
	}
)

func (f *fn) unit(op *ir.Op) *unit {
	u := &unit{fn: f, op: op}

	if op.Type != nil {
		u.cls = classOf(op.Type)
		u.w = widthOf(op.Type)
	}

	return u
}

func classOf(t tp.Type) asm.Class {
	if tp.IsFloat(t) {
		return asm.SIMD
	}

	return asm.GP
}

func widthOf(t tp.Type) asm.Width {
	if tp.IsAggregate(t) {
		return 0
	}

	return asm.Width(t.Size())
}

func (u *unit) dst(o asm.Operand) slot { return slot{o: o, cls: u.cls, dst: true} }
func (u *unit) val(o asm.Operand) slot { return slot{o: o, cls: u.cls} }

func ptr(o asm.Operand) slot                { return slot{o: o, cls: asm.GP} }
func as(o asm.Operand, cls asm.Class) slot  { return slot{o: o, cls: cls} }
func out(o asm.Operand, cls asm.Class) slot { return slot{o: o, cls: cls, dst: true} }

// dispatch classifies slots into a Shape.
// Zero Shape means the tuple can't be handled by any unit:
// an immediate destination, a missing operand or a register of the wrong class.
func (u *unit) dispatch(slots ...slot) Shape {
	kinds := make([]asm.Kind, len(slots))

	for i, s := range slots {
		if s.o == nil {
			return 0
		}

		k := s.o.Kind()

		switch {
		case k == asm.KindLabel:
			return 0
		case k == asm.KindImm && s.dst:
			return 0
		case k == asm.KindReg && s.o.(asm.Reg).Class != s.cls:
			return 0
		}

		kinds[i] = k
	}

	return makeShape(kinds...)
}

func (u *unit) emit(op x86asm.Op, args ...asm.Arg) {
	if u.err != nil {
		return
	}

	err := u.code.Emit(op, args...)
	if err != nil {
		u.err = errors.Wrap(err, "%v", asm.Mnemonic(op))
	}
}

// ins emits an instruction with all operands at the same width.
func (u *unit) ins(op x86asm.Op, w asm.Width, ops ...asm.Operand) {
	args := make([]asm.Arg, len(ops))

	for i, o := range ops {
		if x, ok := o.(asm.Imm); ok {
			o = asm.Imm{Width: w, Value: trunc(x.Value, w)}
		}

		args[i] = asm.A(o, w)
	}

	u.emit(op, args...)
}

func (u *unit) define(l asm.Label) {
	if u.err != nil {
		return
	}

	u.code.Define(l)
}

func (u *unit) label() asm.Label {
	u.labels++

	return asm.Label(fmt.Sprintf(".L%s_%d", u.code.Name, u.labels))
}

func (u *unit) gp() asm.Reg   { return u.borrow(&u.gpUsed, u.cfg.Scratch.GP, asm.GP) }
func (u *unit) simd() asm.Reg { return u.borrow(&u.simdUsed, u.cfg.Scratch.SIMD, asm.SIMD) }

func (u *unit) scratch(cls asm.Class) asm.Reg {
	if cls == asm.SIMD {
		return u.simd()
	}

	return u.gp()
}

func (u *unit) borrow(used *set.Bits[int], pool []asm.Reg, cls asm.Class) asm.Reg {
	for i, r := range pool {
		if used.IsSet(i) {
			continue
		}

		used.Set(i)

		return r
	}

	u.fail(ScratchExhausted, "%d %v registers configured", len(pool), cls)

	return asm.Reg{}
}

func (u *unit) free(r asm.Reg) {
	pool, used := u.cfg.Scratch.GP, &u.gpUsed
	if r.Class == asm.SIMD {
		pool, used = u.cfg.Scratch.SIMD, &u.simdUsed
	}

	for i, x := range pool {
		if x == r {
			used.Clear(i)
		}
	}
}

func (u *unit) isScratch(r asm.Reg) bool {
	for _, x := range u.cfg.Scratch.GP {
		if x == r {
			return true
		}
	}

	for _, x := range u.cfg.Scratch.SIMD {
		if x == r {
			return true
		}
	}

	return false
}

// mov copies a value of width w between any two locations.
// cls is the class used to stage memory to memory transfers.
func (u *unit) mov(w asm.Width, cls asm.Class, dst, src asm.Operand) {
	if asm.Same(dst, src) {
		return
	}

	switch d := dst.(type) {
	case asm.Reg:
		u.movToReg(w, d, src)
	case asm.Mem:
		switch s := src.(type) {
		case asm.Reg:
			u.store(w, d, s)
		case asm.Mem:
			if cls == asm.SIMD && w != asm.Dword && w != asm.Qword {
				cls = asm.GP
			}

			t := u.scratch(cls)
			u.movToReg(w, t, s)
			u.store(w, d, t)
			u.free(t)
		case asm.Imm:
			if w == asm.Qword && !fitsImm32(s.Value) {
				t := u.gp()
				u.ins(x86asm.MOV, w, t, s)
				u.ins(x86asm.MOV, w, d, t)
				u.free(t)

				return
			}

			u.ins(x86asm.MOV, w, d, s)
		default:
			u.fail(UnsupportedOperandCombination, "move from %v", asm.Describe(src))
		}
	default:
		u.fail(UnsupportedOperandCombination, "move to %v", asm.Describe(dst))
	}
}

func (u *unit) movToReg(w asm.Width, d asm.Reg, src asm.Operand) {
	switch s := src.(type) {
	case asm.Reg:
		switch {
		case d == s:
		case d.Class == asm.GP && s.Class == asm.GP:
			w = max(w, asm.Dword)
			u.ins(x86asm.MOV, w, d, s)
		case d.Class == asm.SIMD && s.Class == asm.SIMD:
			u.emit(x86asm.MOVAPS, asm.A(d, 16), asm.A(s, 16))
		case w == asm.Qword:
			u.ins(x86asm.MOVQ, w, d, s)
		default:
			u.ins(x86asm.MOVD, asm.Dword, d, s)
		}
	case asm.Mem:
		switch {
		case d.Class == asm.GP:
			u.ins(x86asm.MOV, w, d, s)
		case w == asm.Dword:
			u.ins(x86asm.MOVSS, w, d, s)
		case w == asm.Qword:
			u.ins(x86asm.MOVSD_XMM, w, d, s)
		default:
			u.fail(UnsupportedOperandCombination, "%d byte load into %v", w, d)
		}
	case asm.Imm:
		if d.Class == asm.GP {
			u.ins(x86asm.MOV, w, d, s)
			return
		}

		t := u.gp()
		u.ins(x86asm.MOV, max(w, asm.Dword), t, s)
		u.movToReg(w, d, t)
		u.free(t)
	default:
		u.fail(UnsupportedOperandCombination, "move from %v", asm.Describe(src))
	}
}

func (u *unit) store(w asm.Width, d asm.Mem, s asm.Reg) {
	switch {
	case s.Class == asm.GP:
		u.ins(x86asm.MOV, w, d, s)
	case w == asm.Dword:
		u.ins(x86asm.MOVSS, w, d, s)
	case w == asm.Qword:
		u.ins(x86asm.MOVSD_XMM, w, d, s)
	default:
		u.fail(UnsupportedOperandCombination, "%d byte store from %v", w, s)
	}
}

// operand returns src usable as an instruction source of width w.
// Wide immediates are materialized in a scratch register.
func (u *unit) operand(w asm.Width, src asm.Operand) asm.Operand {
	x, ok := src.(asm.Imm)
	if !ok || w != asm.Qword || fitsImm32(x.Value) {
		return src
	}

	t := u.gp()
	u.ins(x86asm.MOV, w, t, x)

	return t
}

// extend loads src of width sw into register d widened to dw.
func (u *unit) extend(d asm.Reg, dw asm.Width, src asm.Operand, sw asm.Width, signed bool) {
	if x, ok := src.(asm.Imm); ok {
		v := trunc(x.Value, sw)
		if !signed {
			v = int64(zext(x.Value, sw))
		}

		u.ins(x86asm.MOV, dw, d, asm.I(trunc(v, dw)))

		return
	}

	switch {
	case dw <= sw:
		u.mov(dw, asm.GP, d, src)
	case signed && sw == asm.Dword:
		u.emit(x86asm.MOVSXD, asm.A(d, dw), asm.A(src, sw))
	case signed:
		u.emit(x86asm.MOVSX, asm.A(d, dw), asm.A(src, sw))
	case sw == asm.Dword:
		u.ins(x86asm.MOV, asm.Dword, d, src)
	default:
		u.emit(x86asm.MOVZX, asm.A(d, max(dw, asm.Dword)), asm.A(src, sw))
	}
}

func (u *unit) lea(d asm.Reg, m asm.Mem) {
	if !m.Base.Valid() && !m.HasIndex() {
		u.ins(x86asm.MOV, asm.Qword, d, asm.I(int64(m.Disp)))
		return
	}

	u.ins(x86asm.LEA, asm.Qword, d, m)
}

func fitsImm32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

// trunc sign-extends the low w bytes of v.
func trunc(v int64, w asm.Width) int64 {
	switch w {
	case asm.Byte:
		return int64(int8(v))
	case asm.Word:
		return int64(int16(v))
	case asm.Dword:
		return int64(int32(v))
	default:
		return v
	}
}

// zext zero-extends the low w bytes of v.
func zext(v int64, w asm.Width) uint64 {
	switch w {
	case asm.Byte:
		return uint64(uint8(v))
	case asm.Word:
		return uint64(uint16(v))
	case asm.Dword:
		return uint64(uint32(v))
	default:
		return uint64(v)
	}
}
