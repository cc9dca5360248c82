package parse

import (
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/tp"
)

var scalars = map[string]tp.Type{
	"i8":  tp.I8,
	"i16": tp.I16,
	"i32": tp.I32,
	"i64": tp.I64,
	"u8":  tp.U8,
	"u16": tp.U16,
	"u32": tp.U32,
	"u64": tp.U64,
	"f32": tp.F32,
	"f64": tp.F64,
	"ptr": tp.Uintptr,
}

// typ parses a type.
//
//	i32 | f64 | ptr | [4]u8 | {f64@0,i16@8}#10 | {i32,f32}
//
// Struct fields without an offset are placed at the next aligned offset.
func typ(b []byte, st int) (t tp.Type, i int, err error) {
	if st == len(b) {
		return nil, st, errors.New("type expected")
	}

	switch b[st] {
	case '[':
		return arrayType(b, st)
	case '{':
		return structType(b, st)
	}

	w, i, err := word(b, st)
	if err != nil {
		return nil, st, errors.New("type expected")
	}

	t, ok := scalars[w]
	if !ok {
		return nil, st, errors.New("unknown type: %v", w)
	}

	return t, i, nil
}

func arrayType(b []byte, st int) (t tp.Type, i int, err error) {
	n, i, err := integer(b, st+1)
	if err != nil {
		return nil, i, errors.Wrap(err, "array len")
	}

	if n < 0 {
		return nil, st + 1, errors.New("negative array len")
	}

	i, err = expect(b, i, "]")
	if err != nil {
		return nil, i, err
	}

	x, i, err := typ(b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "array elem")
	}

	return tp.Array{X: x, Len: int(n)}, i, nil
}

func structType(b []byte, st int) (t tp.Type, i int, err error) {
	s := &tp.Struct{}
	off := 0

	i = st + 1

	if j, ok := consume(b, i, "}"); ok {
		return s, j, nil
	}

	for {
		var x tp.Type

		x, i, err = typ(b, SpaceTab.Skip(b, i))
		if err != nil {
			return nil, i, errors.Wrap(err, "field %d", len(s.Fields))
		}

		a := x.Align()
		off = (off + a - 1) / a * a

		if j, ok := consume(b, i, "@"); ok {
			var v int64

			v, i, err = integer(b, j)
			if err != nil {
				return nil, i, errors.Wrap(err, "field %d offset", len(s.Fields))
			}

			off = int(v)
		}

		s.Fields = append(s.Fields, tp.StructField{Offset: off, Type: x})
		off += x.Size()

		i = SpaceTab.Skip(b, i)

		if j, ok := consume(b, i, "}"); ok {
			i = j
			break
		}

		i, err = expect(b, i, ",")
		if err != nil {
			return nil, i, err
		}
	}

	if j, ok := consume(b, i, "#"); ok {
		var size int64

		size, i, err = integer(b, j)
		if err != nil {
			return nil, i, errors.Wrap(err, "struct size")
		}

		s.Sized(int(size))
	}

	return s, i, nil
}

// Type parses s as a whole type.
func Type(s string) (tp.Type, error) {
	b := []byte(s)

	t, i, err := typ(b, 0)
	if err != nil {
		return nil, errors.Wrap(err, "at %d", i)
	}

	if i != len(b) {
		return nil, errors.New("unexpected text at %d", i)
	}

	return t, nil
}
