package back

import (
	"context"

	"golang.org/x/arch/x86/x86asm"
	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

type (
	Compiler struct {
		Config
	}
)

func New(cfg Config) (*Compiler, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "config")
	}

	return &Compiler{Config: cfg}, nil
}

// LowerPackage lowers functions in parallel.
// Results are in the order of pkg.Funcs.
func (c *Compiler) LowerPackage(ctx context.Context, pkg *ir.Package) (_ []*asm.Code, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: lower package", "path", pkg.Path, "funcs", len(pkg.Funcs))
	defer tr.Finish("err", &err)

	res := make([]*asm.Code, len(pkg.Funcs))

	g, ctx := errgroup.WithContext(ctx)

	if c.Jobs > 0 {
		g.SetLimit(c.Jobs)
	}

	for i, f := range pkg.Funcs {
		g.Go(func() (err error) {
			res[i], err = c.LowerFunc(ctx, f)
			if err != nil {
				return errors.Wrap(err, "func %v", f.Name)
			}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (c *Compiler) LowerFunc(ctx context.Context, f *ir.Func) (code *asm.Code, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "lower func", "name", f.Name, "frame", f.Frame, "ops", len(f.Code))
	defer tr.Finish("err", &err)

	if tr.If("dump_ops") {
		for i, op := range f.Code {
			tr.Printw("op", "i", i, "op", op)
		}
	}

	fn := &fn{
		cfg:  &c.Config,
		code: &asm.Code{Name: f.Name},
	}

	fn.prologue(f.Frame)

	for i := range f.Code {
		if err = ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "op %d", i)
		}

		op := &f.Code[i]
		start := fn.code.Len()

		err = fn.lower(op)
		if err != nil {
			return nil, errors.Wrap(err, "op %d: %v", i, op.Code)
		}

		tr.V("lower_op").Printw("lowered", "i", i, "op", op, "instrs", fn.code.Instrs[start:])
	}

	if tr.If("dump_code") {
		for i, in := range fn.code.Instrs {
			tr.Printw("instr", "i", i, "instr", in)
		}
	}

	return fn.code, nil
}

func (f *fn) prologue(frame int32) {
	u := f.unit(&ir.Op{})

	u.ins(x86asm.PUSH, asm.Qword, asm.RBP)
	u.ins(x86asm.MOV, asm.Qword, asm.RBP, asm.RSP)

	if frame > 0 {
		u.ins(x86asm.SUB, asm.Qword, asm.RSP, asm.I(int64(frame)))
	}
}

// lower routes the op to its lowering unit.
func (f *fn) lower(op *ir.Op) error {
	u := f.unit(op)

	err := u.lower()
	if err == nil {
		err = u.err
	}

	return err
}

func (u *unit) lower() error {
	op := u.op
	float := op.Type != nil && tp.IsFloat(op.Type)

	switch op.Code {
	case ir.Jump, ir.Label, ir.Copy, ir.Call, ir.Params, ir.Ret, ir.AddrOf, ir.IndexAddr:
	default:
		if u.w == 0 {
			return u.unsupportedf("operand type %v", op.Type)
		}
	}

	switch op.Code {
	case ir.Mov:
		return u.lowerMov()
	case ir.Add, ir.Sub, ir.Mul, ir.And, ir.Or, ir.Xor:
		if float {
			return u.lowerFloatBinary()
		}

		return u.lowerBinary()
	case ir.Div:
		if float {
			return u.lowerFloatBinary()
		}

		return u.lowerDiv()
	case ir.Rem, ir.DivRem:
		if float {
			return u.unsupportedf("%v on floats", op.Code)
		}

		return u.lowerDiv()
	case ir.Neg:
		if float {
			return u.lowerFloatNeg()
		}

		return u.lowerUnary()
	case ir.Not:
		if float {
			return u.unsupportedf("not on floats")
		}

		return u.lowerUnary()
	case ir.Shl, ir.Shr:
		if float {
			return u.unsupportedf("%v on floats", op.Code)
		}

		return u.lowerShift()
	case ir.Cmp:
		if float {
			return u.lowerFloatCmp()
		}

		return u.lowerCmp()
	case ir.SetCC:
		return u.lowerSetCC()
	case ir.Branch:
		return u.lowerBranch()
	case ir.Jump:
		return u.lowerJump()
	case ir.Label:
		return u.lowerLabel()
	case ir.Conv:
		return u.lowerConv()
	case ir.Bitcast:
		return u.lowerBitcast()
	case ir.Load:
		return u.lowerLoad()
	case ir.Store:
		return u.lowerStore()
	case ir.LoadIndex:
		return u.lowerLoadIndex()
	case ir.StoreIndex:
		return u.lowerStoreIndex()
	case ir.IndexAddr:
		return u.lowerIndexAddr()
	case ir.AddrOf:
		return u.lowerAddrOf()
	case ir.Copy:
		return u.lowerCopy()
	case ir.Sqrt:
		return u.lowerSqrt()
	case ir.Call:
		return u.lowerCall()
	case ir.Params:
		return u.lowerParams()
	case ir.Ret:
		return u.lowerRet()
	default:
		return u.unsupportedf("unknown opcode %d", op.Code)
	}
}
