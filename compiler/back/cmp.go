package back

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

type condCode struct {
	set, jump x86asm.Op
}

var (
	signedConds = map[ir.Cond]condCode{
		"==": {x86asm.SETE, x86asm.JE},
		"!=": {x86asm.SETNE, x86asm.JNE},
		"<":  {x86asm.SETL, x86asm.JL},
		"<=": {x86asm.SETLE, x86asm.JLE},
		">":  {x86asm.SETG, x86asm.JG},
		">=": {x86asm.SETGE, x86asm.JGE},
	}

	unsignedConds = map[ir.Cond]condCode{
		"==": {x86asm.SETE, x86asm.JE},
		"!=": {x86asm.SETNE, x86asm.JNE},
		"<":  {x86asm.SETB, x86asm.JB},
		"<=": {x86asm.SETBE, x86asm.JBE},
		">":  {x86asm.SETA, x86asm.JA},
		">=": {x86asm.SETAE, x86asm.JAE},
	}

	// UCOMIS sets flags like an unsigned compare,
	// unordered sets ZF, PF and CF.
	floatConds = unsignedConds

	parity   = condCode{x86asm.SETP, x86asm.JP}
	noParity = condCode{x86asm.SETNP, x86asm.JNP}
)

func (u *unit) cond() (condCode, bool) {
	var tab map[ir.Cond]condCode

	switch t := u.op.Type; {
	case tp.IsFloat(t):
		tab = floatConds
	case tp.IsSigned(t):
		tab = signedConds
	default:
		tab = unsignedConds
	}

	cc, ok := tab[u.op.Cond]

	return cc, ok
}

// unordered tells how a float condition combines with the parity flag:
// "!=" holds when unordered, "==", "<" and "<=" must not.
func (u *unit) unordered() (holds, mustNot bool) {
	if !tp.IsFloat(u.op.Type) {
		return false, false
	}

	switch u.op.Cond {
	case "!=":
		return true, false
	case "==", "<", "<=":
		return false, true
	default:
		return false, false
	}
}

// lowerCmp emits "cmp a, b". It sets flags only.
func (u *unit) lowerCmp() error {
	op := u.op
	a, b := op.Src[0], op.Src[1]
	w := u.w

	switch u.dispatch(u.val(a), u.val(b)) {
	case RR, RM, MR:
		u.ins(x86asm.CMP, w, a, b)
	case RI, MI:
		u.ins(x86asm.CMP, w, a, u.operand(w, b))
	case MM:
		t := u.gp()
		u.mov(w, asm.GP, t, b)
		u.ins(x86asm.CMP, w, a, t)
		u.free(t)
	case IR, IM:
		t := u.gp()
		u.mov(w, asm.GP, t, a)
		u.ins(x86asm.CMP, w, t, b)
		u.free(t)
	case II:
		// no encoding compares two immediates
		t, t2 := u.gp(), u.gp()
		u.mov(w, asm.GP, t, a)
		u.mov(w, asm.GP, t2, b)
		u.ins(x86asm.CMP, w, t, t2)
		u.free(t)
		u.free(t2)
	default:
		return u.unsupported()
	}

	return nil
}

// lowerSetCC writes 0 or 1 as a byte.
// Register destinations are zero extended to 32 bits, and so to 64.
func (u *unit) lowerSetCC() error {
	op := u.op
	d := op.Dst

	cc, ok := u.cond()
	if !ok {
		return u.unsupportedf("condition %q", op.Cond)
	}

	holds, mustNot := u.unordered()

	switch u.dispatch(out(d, asm.GP)) {
	case R, M:
	default:
		return u.unsupported()
	}

	u.emit(cc.set, asm.A(d, asm.Byte))

	if holds || mustNot {
		t := u.gp()

		if holds {
			u.emit(parity.set, asm.A(t, asm.Byte))
			u.ins(x86asm.OR, asm.Byte, d, t)
		} else {
			u.emit(noParity.set, asm.A(t, asm.Byte))
			u.ins(x86asm.AND, asm.Byte, d, t)
		}

		u.free(t)
	}

	if r, ok := d.(asm.Reg); ok {
		u.emit(x86asm.MOVZX, asm.A(r, asm.Dword), asm.A(r, asm.Byte))
	}

	return nil
}

func (u *unit) lowerBranch() error {
	op := u.op

	cc, ok := u.cond()
	if !ok {
		return u.unsupportedf("condition %q", op.Cond)
	}

	if op.Target == "" {
		return u.unsupportedf("no target")
	}

	holds, mustNot := u.unordered()

	switch {
	case holds:
		u.emit(cc.jump, asm.A(op.Target, 0))
		u.emit(parity.jump, asm.A(op.Target, 0))
	case mustNot:
		skip := u.label()

		u.emit(parity.jump, asm.A(skip, 0))
		u.emit(cc.jump, asm.A(op.Target, 0))
		u.define(skip)
	default:
		u.emit(cc.jump, asm.A(op.Target, 0))
	}

	return nil
}

func (u *unit) lowerJump() error {
	if u.op.Target == "" {
		return u.unsupportedf("no target")
	}

	u.emit(x86asm.JMP, asm.A(u.op.Target, 0))

	return nil
}

func (u *unit) lowerLabel() error {
	if u.op.Target == "" {
		return u.unsupportedf("no label")
	}

	u.define(u.op.Target)

	return nil
}
