package back

import (
	"fortio.org/safecast"
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
)

// disp narrows an address displacement.
func (u *unit) disp(v int64) int32 {
	d, err := safecast.Conv[int32](v)
	if err != nil {
		u.fail(OperandRange, "displacement %#x", v)
	}

	return d
}

// address returns the location p points to displaced by off.
// A pointer held in memory is loaded into scratch t, the caller frees it.
// An immediate pointer is an absolute address.
func (u *unit) address(p asm.Operand, off int64) (m asm.Mem, t asm.Reg) {
	switch p := p.(type) {
	case asm.Reg:
		m = asm.Mem{Base: p, Disp: u.disp(off)}
	case asm.Mem:
		t = u.gp()
		u.ins(x86asm.MOV, asm.Qword, t, p)

		m = asm.Mem{Base: t, Disp: u.disp(off)}
	case asm.Imm:
		m = asm.Mem{Disp: u.disp(p.Value + off)}
	default:
		u.fail(UnsupportedOperandCombination, "pointer %v", asm.Describe(p))
	}

	return m, t
}

func (u *unit) lowerLoad() error {
	op := u.op
	d, p := op.Dst, op.Src[0]
	w := u.w

	if w == 0 {
		return u.unsupportedf("load of %v", op.Type)
	}

	switch u.dispatch(u.dst(d), ptr(p)) {
	case RR, RM, RI:
		m, t := u.address(p, int64(op.Off))
		u.movToReg(w, d.(asm.Reg), m)
		u.free(t)
	case MR, MM, MI:
		m, t := u.address(p, int64(op.Off))

		if t.Valid() && u.cls == asm.GP {
			// the pointer is dead once loaded through
			u.ins(x86asm.MOV, w, t, m)
			u.store(w, d.(asm.Mem), t)
		} else {
			u.mov(w, u.cls, d, m)
		}

		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) lowerStore() error {
	op := u.op
	p, v := op.Src[0], op.Src[1]
	w := u.w

	if w == 0 {
		return u.unsupportedf("store of %v", op.Type)
	}

	switch u.dispatch(ptr(p), u.val(v)) {
	case RR, RM, RI, MR, MM, MI, IR, IM, II:
		m, t := u.address(p, int64(op.Off))
		u.mov(w, u.cls, m, v)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

func (u *unit) lowerAddrOf() error {
	op := u.op
	d, a := op.Dst, op.Src[0]

	switch u.dispatch(out(d, asm.GP), ptr(a)) {
	case RM:
		m := a.(asm.Mem)
		m.Disp = u.disp(int64(m.Disp) + int64(op.Off))

		u.lea(d.(asm.Reg), m)
	case MM:
		m := a.(asm.Mem)
		m.Disp = u.disp(int64(m.Disp) + int64(op.Off))

		t := u.gp()
		u.lea(t, m)
		u.mov(asm.Qword, asm.GP, d, t)
		u.free(t)
	default:
		return u.unsupported()
	}

	return nil
}

// lowerCopy moves Len bytes between memory blocks.
func (u *unit) lowerCopy() error {
	op := u.op
	d, s := op.Dst, op.Src[0]

	if op.Len < 0 {
		return u.unsupportedf("length %d", op.Len)
	}

	switch u.dispatch(out(d, asm.GP), as(s, asm.GP)) {
	case MM:
	default:
		return u.unsupported()
	}

	if asm.Same(d, s) || op.Len == 0 {
		return nil
	}

	u.copyMem(d.(asm.Mem), s.(asm.Mem), op.Len)

	return nil
}

// copyMem unrolls the copy into 8, 4 and then 1 byte chunks.
func (u *unit) copyMem(d, s asm.Mem, n int) {
	t := u.gp()
	defer u.free(t)

	for off := 0; off < n; {
		c := asm.Byte

		switch {
		case n-off >= 8:
			c = asm.Qword
		case n-off >= 4:
			c = asm.Dword
		}

		dm, sm := d, s
		dm.Disp = u.disp(int64(d.Disp) + int64(off))
		sm.Disp = u.disp(int64(s.Disp) + int64(off))

		u.ins(x86asm.MOV, c, t, sm)
		u.ins(x86asm.MOV, c, dm, t)

		off += int(c)
	}
}
