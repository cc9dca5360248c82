package format

import (
	"context"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
)

// Format appends the listing of a package, function or op to b.
// The listing is read back by parse.Parse.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	switch x := x.(type) {
	case *ir.Package:
		return formatPackage(b, x), nil
	case *ir.Func:
		return formatFunc(b, x, 0), nil
	case *ir.Op:
		return formatOp(b, x), nil
	case ir.Op:
		return formatOp(b, &x), nil
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatPackage(b []byte, x *ir.Package) []byte {
	if x.Path != "" {
		b = app(b, 0, "package %s\n\n", x.Path)
	}

	for i, f := range x.Funcs {
		if i != 0 {
			b = append(b, '\n')
		}

		b = formatFunc(b, f, 0)
	}

	return b
}

func formatFunc(b []byte, x *ir.Func, d int) []byte {
	b = app(b, d, "func %s", x.Name)

	if x.Frame != 0 {
		b = app(b, 0, " frame=%d", x.Frame)
	}

	b = append(b, '\n')

	for i := range x.Code {
		b = app(b, d+1, "")
		b = formatOp(b, &x.Code[i])
		b = append(b, '\n')
	}

	return b
}

func formatOp(b []byte, x *ir.Op) []byte {
	b = append(b, x.Code.String()...)

	if x.Type != nil {
		b = app(b, 0, ".%v", x.Type)
	}

	var l []asm.Operand

	if n := x.Code.Dsts(); n > 0 {
		l = append(l, x.Dst)

		if n > 1 {
			l = append(l, x.Dst2)
		}
	}

	l = append(l, x.Srcs()...)

	if x.Target != "" {
		l = append(l, x.Target)
	}

	for i, o := range l {
		if i == 0 {
			b = append(b, ' ')
		} else {
			b = append(b, ", "...)
		}

		b = operand(b, o)
	}

	switch {
	case len(x.Args) != 0, x.Code == ir.Call:
		b = append(b, ' ')
		b = values(b, x.Args)
	}

	if len(x.Results) != 0 {
		b = append(b, " -> "...)
		b = values(b, x.Results)
	}

	if x.From != nil {
		b = app(b, 0, " from=%v", x.From)
	}

	if x.Cond != "" {
		b = app(b, 0, " cond=%s", x.Cond)
	}

	if x.Elem != 0 {
		b = app(b, 0, " elem=%d", x.Elem)
	}

	if x.Off != 0 {
		b = app(b, 0, " off=%d", x.Off)
	}

	if x.Len != 0 {
		b = app(b, 0, " len=%d", x.Len)
	}

	if x.Variadic {
		b = append(b, " variadic"...)
	}

	if x.SRet != nil {
		b = append(b, " sret="...)
		b = operand(b, x.SRet)
	}

	return b
}

func values(b []byte, vs []ir.Value) []byte {
	b = append(b, '(')

	for i, v := range vs {
		if i != 0 {
			b = append(b, ", "...)
		}

		if v.Loc == nil {
			b = append(b, '_')
		} else {
			b = operand(b, v.Loc)
		}

		b = app(b, 0, ":%v", v.Type)
	}

	return append(b, ')')
}

func operand(b []byte, o asm.Operand) []byte {
	if o == nil {
		return append(b, "_"...)
	}

	return append(b, o.String()...)
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
