package back

import (
	"golang.org/x/arch/x86/x86asm"
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/abi"
	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

// Incoming stack arguments start above the saved frame pointer and return address.
const paramsBase = 16

func valueTypes(vs []ir.Value) []tp.Type {
	ts := make([]tp.Type, len(vs))

	for i, v := range vs {
		ts[i] = v.Type
	}

	return ts
}

// partAt finds the part holding byte off of the results layout.
func partAt(ps []abi.Part, off int) (abi.Part, bool) {
	for _, p := range ps {
		if off >= p.Slot.Offset && off < p.Slot.Offset+p.Slot.Size {
			return p, true
		}
	}

	return abi.Part{}, false
}

// tupleFields checks multiple values are all scalars.
func (u *unit) tupleFields(res abi.Results, vs []ir.Value) error {
	if !res.Tuple {
		return nil
	}

	for i, v := range vs {
		if tp.IsAggregate(v.Type) {
			return u.unsupportedf("value %d: aggregate %v in a tuple", i, v.Type)
		}
	}

	return nil
}

func aggregateMem(v ir.Value) (asm.Mem, bool) {
	m, ok := v.Loc.(asm.Mem)
	return m, ok
}

func (u *unit) lowerCall() error {
	op := u.op

	res, err := abi.AssignResults(valueTypes(op.Results))
	if err != nil {
		return errors.Wrap(err, "call %v", op.Target)
	}

	if err := u.tupleFields(res, op.Results); err != nil {
		return err
	}

	args, err := abi.AssignArgs(valueTypes(op.Args), res.Memory)
	if err != nil {
		return errors.Wrap(err, "call %v", op.Target)
	}

	var buf asm.Mem

	if res.Memory {
		var ok bool

		if res.Tuple {
			buf, ok = op.SRet.(asm.Mem)
		} else {
			buf, ok = aggregateMem(op.Results[0])
		}

		if !ok {
			return u.unsupportedf("result buffer is not in memory")
		}
	}

	moves, err := u.argMoves(args, buf)
	if err != nil {
		return err
	}

	moves, callee, err := u.callee(moves)
	if err != nil {
		return err
	}

	u.stackArgs(args)
	u.parallel(moves)

	if op.Variadic {
		var t asm.Reg

		// al is the vector register count
		if r, ok := callee.Operand.(asm.Reg); ok && r == asm.RAX {
			t = u.gp()
			u.ins(x86asm.MOV, asm.Qword, t, asm.RAX)
			callee = asm.A(t, asm.Qword)
		}

		u.ins(x86asm.MOV, asm.Dword, asm.RAX, asm.I(int64(args.FloatRegs)))
		u.emit(x86asm.CALL, callee)

		if t.Valid() {
			u.free(t)
		}
	} else {
		u.emit(x86asm.CALL, callee)
	}

	return u.callResults(res, buf)
}

// callee returns the call target argument.
// An indirect target a move would overwrite is moved to rax
// along with the arguments.
func (u *unit) callee(moves []*move) (_ []*move, a asm.Arg, err error) {
	op := u.op

	if op.Target != "" {
		return moves, asm.A(op.Target, 0), nil
	}

	c := op.Src[0]

	switch u.dispatch(ptr(c)) {
	case R, M:
	default:
		return moves, a, u.unsupportedf("callee %v", asm.Describe(c))
	}

	clobbered := op.Variadic && asm.Uses(c, asm.RAX)

	for _, m := range moves {
		if r, ok := m.dst.(asm.Reg); ok && asm.Uses(c, r) {
			clobbered = true
		}
	}

	if !clobbered {
		return moves, asm.A(c, asm.Qword), nil
	}

	moves = append(moves, &move{kind: moveValue, dst: asm.RAX, src: c, w: asm.Qword})

	return moves, asm.A(asm.RAX, asm.Qword), nil
}

// stackArgs stores arguments passed in memory at the bottom of the frame.
func (u *unit) stackArgs(args abi.Args) {
	for i, a := range args.Args {
		v := u.op.Args[i]

		for _, p := range a.Parts {
			if p.InReg() {
				continue
			}

			dst := asm.Mem{Base: asm.RSP, Disp: p.Stack}

			switch {
			case a.ByPointer:
				t := u.gp()
				u.lea(t, v.Loc.(asm.Mem))
				u.store(asm.Qword, dst, t)
				u.free(t)
			case tp.IsAggregate(a.Type):
				m := v.Loc.(asm.Mem)
				u.copyMem(dst, m.Offset(int32(p.Slot.Offset)), p.Slot.Size)
			default:
				u.mov(widthOf(v.Type), classOf(v.Type), dst, v.Loc)
			}
		}
	}
}

func (u *unit) argMoves(args abi.Args, buf asm.Mem) (moves []*move, err error) {
	if args.SRet {
		moves = append(moves, &move{kind: moveAddr, dst: asm.RDI, src: buf, w: asm.Qword})
	}

	for i, a := range args.Args {
		v := u.op.Args[i]

		if v.Loc == nil {
			return nil, u.unsupportedf("arg %d has no location", i)
		}

		m, inMem := aggregateMem(v)

		if (a.ByPointer || tp.IsAggregate(a.Type)) && !inMem {
			return nil, u.unsupportedf("aggregate arg %d is not in memory: %v", i, asm.Describe(v.Loc))
		}

		if !a.ByPointer && !tp.IsAggregate(a.Type) && u.dispatch(as(v.Loc, classOf(a.Type))) == 0 {
			return nil, u.unsupportedf("arg %d: %v", i, asm.Describe(v.Loc))
		}

		for _, p := range a.Parts {
			if !p.InReg() {
				continue
			}

			switch {
			case a.ByPointer:
				moves = append(moves, &move{kind: moveAddr, dst: p.Reg, src: m, w: asm.Qword})
			case tp.IsAggregate(a.Type):
				moves = append(moves, &move{kind: moveLoad, dst: p.Reg, src: m.Offset(int32(p.Slot.Offset)), w: asm.Width(p.Slot.Size)})
			default:
				moves = append(moves, &move{kind: moveValue, dst: p.Reg, src: v.Loc, w: widthOf(v.Type)})
			}
		}
	}

	return moves, nil
}

// callResults moves returned values to their locations.
func (u *unit) callResults(res abi.Results, buf asm.Mem) error {
	op := u.op

	switch {
	case len(op.Results) == 0:
		return nil
	case res.Memory && !res.Tuple:
		// the callee wrote it in place
		return nil
	case res.Memory:
		var moves []*move

		for i, off := range res.Offsets() {
			v := op.Results[i]
			if v.Loc == nil {
				continue
			}

			moves = append(moves, &move{kind: moveValue, dst: v.Loc, src: buf.Offset(int32(off)), w: widthOf(v.Type)})
		}

		u.parallel(moves)

		return nil
	case !res.Tuple && tp.IsAggregate(res.Type):
		m, ok := aggregateMem(op.Results[0])
		if !ok {
			return u.unsupportedf("aggregate result is not in memory")
		}

		for _, p := range res.Parts {
			u.storeBytes(m.Offset(int32(p.Slot.Offset)), p.Reg, p.Slot.Size)
		}

		return nil
	}

	var moves []*move

	for i, off := range res.Offsets() {
		v := op.Results[i]

		if v.Loc == nil {
			continue
		}

		if u.dispatch(out(v.Loc, classOf(v.Type))) == 0 {
			return u.unsupportedf("result %d: %v", i, asm.Describe(v.Loc))
		}

		p, ok := partAt(res.Parts, off)
		if !ok {
			return u.unsupportedf("result %d at %d: no register", i, off)
		}

		moves = append(moves, &move{
			kind:  moveExtract,
			dst:   v.Loc,
			src:   p.Reg,
			w:     widthOf(v.Type),
			shift: 8 * (off - p.Slot.Offset),
		})
	}

	u.parallel(moves)

	return nil
}

// lowerParams moves incoming arguments into their assigned locations.
func (u *unit) lowerParams() error {
	op := u.op

	args, err := abi.AssignArgs(valueTypes(op.Args), op.SRet != nil)
	if err != nil {
		return errors.Wrap(err, "params")
	}

	var moves []*move

	if args.SRet {
		if u.dispatch(out(op.SRet, asm.GP)) == 0 {
			return u.unsupportedf("hidden result pointer: %v", asm.Describe(op.SRet))
		}

		moves = append(moves, &move{kind: moveValue, dst: op.SRet, src: asm.RDI, w: asm.Qword})
	}

	// aggregates only read argument registers and the caller frame,
	// store them before any register is overwritten
	for i, a := range args.Args {
		v := op.Args[i]

		if v.Loc == nil {
			continue
		}

		if !a.ByPointer && !tp.IsAggregate(a.Type) {
			if u.dispatch(out(v.Loc, classOf(a.Type))) == 0 {
				return u.unsupportedf("param %d: %v", i, asm.Describe(v.Loc))
			}

			p := a.Parts[0]

			var src asm.Operand = p.Reg
			if !p.InReg() {
				src = asm.Mem{Base: asm.RBP, Disp: paramsBase + p.Stack}
			}

			moves = append(moves, &move{kind: moveValue, dst: v.Loc, src: src, w: widthOf(v.Type)})

			continue
		}

		m, ok := aggregateMem(v)
		if !ok {
			return u.unsupportedf("aggregate param %d is not in memory: %v", i, asm.Describe(v.Loc))
		}

		u.paramAggregate(a, m)
	}

	u.parallel(moves)

	return nil
}

func (u *unit) paramAggregate(a abi.Arg, m asm.Mem) {
	for _, p := range a.Parts {
		switch {
		case a.ByPointer && p.InReg():
			u.copyMem(m, asm.Mem{Base: p.Reg}, a.Type.Size())
		case a.ByPointer:
			t := u.gp()
			u.ins(x86asm.MOV, asm.Qword, t, asm.Mem{Base: asm.RBP, Disp: paramsBase + p.Stack})
			u.copyMem(m, asm.Mem{Base: t}, a.Type.Size())
			u.free(t)
		case p.InReg():
			u.storeBytes(m.Offset(int32(p.Slot.Offset)), p.Reg, p.Slot.Size)
		default:
			u.copyMem(m.Offset(int32(p.Slot.Offset)), asm.Mem{Base: asm.RBP, Disp: paramsBase + p.Stack}, p.Slot.Size)
		}
	}
}

// lowerRet places returned values and leaves the function.
func (u *unit) lowerRet() error {
	op := u.op

	res, err := abi.AssignResults(valueTypes(op.Args))
	if err != nil {
		return errors.Wrap(err, "ret")
	}

	if err := u.tupleFields(res, op.Args); err != nil {
		return err
	}

	for i, v := range op.Args {
		if v.Loc == nil {
			return u.unsupportedf("value %d has no location", i)
		}
	}

	switch {
	case len(op.Args) == 0:
	case res.Memory:
		u.retMemory(res)
	case !res.Tuple && tp.IsAggregate(res.Type):
		m, ok := aggregateMem(op.Args[0])
		if !ok {
			return u.unsupportedf("aggregate result is not in memory")
		}

		var moves []*move

		for _, p := range res.Parts {
			moves = append(moves, &move{kind: moveLoad, dst: p.Reg, src: m.Offset(int32(p.Slot.Offset)), w: asm.Width(p.Slot.Size)})
		}

		u.parallel(moves)
	default:
		moves, err := u.retMoves(res)
		if err != nil {
			return err
		}

		u.parallel(moves)
	}

	u.emit(x86asm.LEAVE)
	u.emit(x86asm.RET)

	return nil
}

func (u *unit) retMoves(res abi.Results) ([]*move, error) {
	op := u.op
	offs := res.Offsets()

	moves := make([]*move, 0, len(res.Parts))

	for _, p := range res.Parts {
		mv := &move{kind: moveMerge, dst: p.Reg, w: asm.Qword}

		for i, off := range offs {
			v := op.Args[i]

			if off < p.Slot.Offset || off >= p.Slot.Offset+p.Slot.Size {
				continue
			}

			if u.dispatch(as(v.Loc, classOf(v.Type))) == 0 {
				return nil, u.unsupportedf("value %d: %v", i, asm.Describe(v.Loc))
			}

			mv.fields = append(mv.fields, field{src: v.Loc, w: widthOf(v.Type), shift: 8 * (off - p.Slot.Offset)})
		}

		if len(mv.fields) == 1 && mv.fields[0].shift == 0 {
			mv = &move{kind: moveValue, dst: p.Reg, src: mv.fields[0].src, w: mv.fields[0].w}
		}

		moves = append(moves, mv)
	}

	return moves, nil
}

// retMemory writes results through the hidden pointer
// and returns the pointer in RAX.
func (u *unit) retMemory(res abi.Results) {
	op := u.op

	if u.dispatch(as(op.SRet, asm.GP)) == 0 {
		u.fail(UnsupportedOperandCombination, "hidden result pointer: %v", asm.Describe(op.SRet))
		return
	}

	p, ok := op.SRet.(asm.Reg)
	if !ok {
		p = u.gp()
		defer u.free(p)

		u.ins(x86asm.MOV, asm.Qword, p, op.SRet)
	}

	if res.Tuple {
		for i, off := range res.Offsets() {
			v := op.Args[i]
			u.mov(widthOf(v.Type), classOf(v.Type), asm.Mem{Base: p, Disp: int32(off)}, v.Loc)
		}
	} else {
		m, ok := aggregateMem(op.Args[0])
		if !ok {
			u.fail(UnsupportedOperandCombination, "aggregate result is not in memory")
			return
		}

		u.copyMem(asm.Mem{Base: p}, m, res.Type.Size())
	}

	u.ins(x86asm.MOV, asm.Qword, asm.RAX, p)
}
