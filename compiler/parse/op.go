package parse

import (
	"fortio.org/safecast"
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

// op parses one request line.
//
//	mnemonic[.type] [operand, ...] [(values)] [-> (values)] [attr=value ...]
//
// Destinations come first, then sources. A label operand is the target.
func op(b []byte, st int) (x ir.Op, i int, err error) {
	name, i, err := word(b, st)
	if err != nil {
		return x, i, errors.Wrap(err, "mnemonic")
	}

	code, ok := ir.ParseOpcode(name)
	if !ok {
		return x, st, errors.New("unknown opcode: %v", name)
	}

	x.Code = code

	if j, ok := consume(b, i, "."); ok {
		x.Type, i, err = typ(b, j)
		if err != nil {
			return x, i, errors.Wrap(err, "op type")
		}
	}

	i, err = operands(b, i, &x)
	if err != nil {
		return x, i, err
	}

	i = SpaceTab.Skip(b, i)

	if i < len(b) && b[i] == '(' {
		var vs []ir.Value

		vs, i, err = values(b, i)
		if err != nil {
			return x, i, errors.Wrap(err, "values")
		}

		x.Args = vs
	}

	i = SpaceTab.Skip(b, i)

	if j, ok := consume(b, i, "->"); ok {
		x.Results, i, err = values(b, SpaceTab.Skip(b, j))
		if err != nil {
			return x, i, errors.Wrap(err, "results")
		}
	}

	for {
		i = SpaceTab.Skip(b, i)
		if i == len(b) {
			break
		}

		i, err = attr(b, i, &x)
		if err != nil {
			return x, i, err
		}
	}

	return x, i, nil
}

// operands reads the comma separated operand list.
func operands(b []byte, st int, x *ir.Op) (i int, err error) {
	i = SpaceTab.Skip(b, st)

	if i == st && i < len(b) {
		return i, errors.New("space expected")
	}

	var l []asm.Operand

	for i < len(b) && !operandsEnd(b, i) {
		var o asm.Operand

		o, i, err = operand(b, i)
		if err != nil {
			return i, errors.Wrap(err, "operand %d", len(l))
		}

		if lab, ok := o.(asm.Label); ok {
			if x.Target != "" {
				return i, errors.New("second target: %v", lab)
			}

			x.Target = lab
		} else {
			l = append(l, o)
		}

		i = SpaceTab.Skip(b, i)

		j, ok := consume(b, i, ",")
		if !ok {
			break
		}

		i = SpaceTab.Skip(b, j)
	}

	n := x.Code.Dsts()

	if len(l) < n {
		return i, errors.New("%v needs %d destinations", x.Code, n)
	}

	if len(l) > n+len(x.Src) {
		return i, errors.New("too many operands")
	}

	for k, o := range l {
		switch {
		case k == 0 && n > 0:
			x.Dst = o
		case k == 1 && n > 1:
			x.Dst2 = o
		default:
			x.Src[k-n] = o
		}
	}

	return i, nil
}

// operandsEnd reports whether values, results or attributes start at i.
func operandsEnd(b []byte, i int) bool {
	switch c := b[i]; {
	case c == '(':
		return true
	case c == '-':
		return i+1 < len(b) && b[i+1] == '>'
	case isLetter(c):
		w, j, _ := word(b, i)
		return w == "variadic" || j < len(b) && b[j] == '='
	default:
		return false
	}
}

// values parses (loc:type, ...). A missing location is written as _.
func values(b []byte, st int) (vs []ir.Value, i int, err error) {
	i, err = expect(b, st, "(")
	if err != nil {
		return nil, i, err
	}

	vs = []ir.Value{}

	i = SpaceTab.Skip(b, i)

	if j, ok := consume(b, i, ")"); ok {
		return vs, j, nil
	}

	for {
		var v ir.Value

		if j, ok := consume(b, i, "_"); ok && (j == len(b) || b[j] == ':') {
			i = j
		} else {
			v.Loc, i, err = operand(b, i)
			if err != nil {
				return nil, i, errors.Wrap(err, "value %d", len(vs))
			}
		}

		i, err = expect(b, i, ":")
		if err != nil {
			return nil, i, err
		}

		v.Type, i, err = typ(b, i)
		if err != nil {
			return nil, i, errors.Wrap(err, "value %d", len(vs))
		}

		vs = append(vs, v)

		i = SpaceTab.Skip(b, i)

		if j, ok := consume(b, i, ")"); ok {
			return vs, j, nil
		}

		i, err = expect(b, i, ",")
		if err != nil {
			return nil, i, err
		}

		i = SpaceTab.Skip(b, i)
	}
}

func attr(b []byte, st int, x *ir.Op) (i int, err error) {
	name, i, err := word(b, st)
	if err != nil {
		return st, errors.New("attribute expected")
	}

	if name == "variadic" {
		x.Variadic = true
		return i, nil
	}

	i, err = expect(b, i, "=")
	if err != nil {
		return i, err
	}

	vst := i

	switch name {
	case "cond":
		j := i
		for j < len(b) && (b[j] == '=' || b[j] == '!' || b[j] == '<' || b[j] == '>') {
			j++
		}

		x.Cond = ir.Cond(b[i:j])
		if !x.Cond.Valid() {
			return vst, errors.New("bad condition: %q", b[i:j])
		}

		return j, nil
	case "from":
		var t tp.Type

		t, i, err = typ(b, i)
		x.From = t
	case "sret":
		x.SRet, i, err = operand(b, i)
	case "elem", "off", "len":
		var v int64

		v, i, err = integer(b, i)
		if err != nil {
			break
		}

		switch name {
		case "elem":
			x.Elem = int(v)
		case "off":
			x.Off, err = safecast.Conv[int32](v)
		case "len":
			x.Len = int(v)
		}
	default:
		return st, errors.New("unknown attribute: %v", name)
	}

	if err != nil {
		return vst, errors.Wrap(err, "%v", name)
	}

	return i, nil
}
