package back

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
)

// indexed returns base + idx*Elem + Off as a memory operand.
// Scratch registers still used by the address are returned for the caller to free.
func (u *unit) indexed(base, idx asm.Operand) (m asm.Mem, t asm.Reg) {
	op := u.op
	elem := int64(op.Elem)
	off := int64(op.Off)

	if elem <= 0 {
		u.fail(UnsupportedOperandCombination, "element size %d", op.Elem)
		return m, t
	}

	if x, ok := idx.(asm.Imm); ok {
		return u.address(base, off+x.Value*elem)
	}

	var r asm.Reg

	switch x := idx.(type) {
	case asm.Reg:
		r = x
	case asm.Mem:
		t = u.gp()
		u.ins(x86asm.MOV, asm.Qword, t, x)
		r = t
	}

	if r == asm.RSP {
		u.fail(UnsupportedOperandCombination, "%v can't be an index", r)
		return m, t
	}

	scale := uint8(elem)

	switch elem {
	case 1, 2, 4, 8:
	default:
		// no scaled addressing form, multiply the index beforehand
		if !fitsImm32(elem) {
			u.fail(OperandRange, "element size %d", elem)
			return m, t
		}

		if !t.Valid() {
			t = u.gp()
		}

		u.ins(x86asm.IMUL, asm.Qword, t, r, asm.I(elem))
		r, scale = t, 1
	}

	switch b := base.(type) {
	case asm.Reg:
		m = asm.Mem{Base: b, Index: r, Scale: scale, Disp: u.disp(off)}
	case asm.Imm:
		m = asm.Mem{Index: r, Scale: scale, Disp: u.disp(b.Value + off)}
	case asm.Mem:
		bt := u.gp()
		u.ins(x86asm.MOV, asm.Qword, bt, b)

		m = asm.Mem{Base: bt, Index: r, Scale: scale, Disp: u.disp(off)}

		if !t.Valid() {
			return m, bt
		}

		// collapse into one register to keep one scratch for the value
		u.ins(x86asm.LEA, asm.Qword, t, m)
		u.free(bt)

		m = asm.Mem{Base: t}
	}

	return m, t
}

func (u *unit) lowerLoadIndex() error {
	op := u.op
	d, base, idx := op.Dst, op.Src[0], op.Src[1]
	w := u.w

	if w == 0 {
		return u.unsupportedf("load of %v", op.Type)
	}

	switch u.dispatch(u.dst(d), ptr(base), ptr(idx)) {
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM, RII,
		MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM, MII:
		m, t := u.indexed(base, idx)
		u.mov(w, u.cls, d, m)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) lowerStoreIndex() error {
	op := u.op
	base, idx, v := op.Src[0], op.Src[1], op.Src[2]
	w := u.w

	if w == 0 {
		return u.unsupportedf("store of %v", op.Type)
	}

	switch u.dispatch(ptr(base), ptr(idx), u.val(v)) {
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM, RII,
		MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM, MII,
		IRR, IRM, IRI, IMR, IMM, IMI, IIR, IIM, III:
		m, t := u.indexed(base, idx)
		u.mov(w, u.cls, m, v)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) lowerIndexAddr() error {
	op := u.op
	d, base, idx := op.Dst, op.Src[0], op.Src[1]

	switch u.dispatch(out(d, asm.GP), ptr(base), ptr(idx)) {
	case RRR, RRM, RRI, RMR, RMM, RMI, RIR, RIM, RII:
		m, t := u.indexed(base, idx)
		u.lea(d.(asm.Reg), m)
		u.free(t)
	case MRR, MRM, MRI, MMR, MMM, MMI, MIR, MIM, MII:
		m, t := u.indexed(base, idx)

		if !t.Valid() {
			t = u.gp()
		}

		u.lea(t, m)
		u.mov(asm.Qword, asm.GP, d, t)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}
