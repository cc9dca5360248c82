package tp

import "fmt"

type (
	Type interface {
		Size() int
		Align() int
	}

	Int struct {
		Bits   int16
		Signed bool
	}

	Float struct {
		Bits int16
	}

	Ptr struct {
		X Type
	}

	Array struct {
		X   Type
		Len int
	}

	// Struct fields carry explicit offsets.
	// Overlapping fields describe a union.
	Struct struct {
		Fields []StructField

		size int
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}
)

var (
	I8  = Int{Bits: 8, Signed: true}
	I16 = Int{Bits: 16, Signed: true}
	I32 = Int{Bits: 32, Signed: true}
	I64 = Int{Bits: 64, Signed: true}

	U8  = Int{Bits: 8}
	U16 = Int{Bits: 16}
	U32 = Int{Bits: 32}
	U64 = Int{Bits: 64}

	F32 = Float{Bits: 32}
	F64 = Float{Bits: 64}

	Uintptr = Ptr{}
)

func (x Int) Size() int  { return int(x.Bits) / 8 }
func (x Int) Align() int { return x.Size() }

func (x Float) Size() int  { return int(x.Bits) / 8 }
func (x Float) Align() int { return x.Size() }

func (x Ptr) Size() int  { return 8 }
func (x Ptr) Align() int { return 8 }

func (x Array) Size() int {
	return x.X.Size() * x.Len
}

func (x Array) Align() int {
	return x.X.Align()
}

func (x *Struct) Size() (s int) {
	if x.size != 0 {
		return x.size
	}

	for _, f := range x.Fields {
		s = max(s, f.Offset+f.Type.Size())
	}

	a := x.Align()

	return (s + a - 1) / a * a
}

func (x *Struct) Align() (a int) {
	a = 1

	for _, f := range x.Fields {
		a = max(a, f.Type.Align())
	}

	return a
}

// Sized fixes the struct size, for layouts with trailing padding
// that alignment alone does not explain.
func (x *Struct) Sized(size int) *Struct {
	x.size = size
	return x
}

// Tuple lays out types one after another at natural alignment.
func Tuple(ts ...Type) *Struct {
	s := &Struct{}
	off := 0

	for i, t := range ts {
		a := t.Align()
		off = (off + a - 1) / a * a

		s.Fields = append(s.Fields, StructField{
			Name:   fmt.Sprintf("_%d", i),
			Offset: off,
			Type:   t,
		})

		off += t.Size()
	}

	return s
}

func IsFloat(t Type) bool {
	_, ok := t.(Float)
	return ok
}

func IsSigned(t Type) bool {
	x, ok := t.(Int)
	return ok && x.Signed
}

func IsAggregate(t Type) bool {
	switch t.(type) {
	case *Struct, Array:
		return true
	default:
		return false
	}
}

// Scalars calls fn for every scalar leaf of t with its byte offset.
func Scalars(t Type, fn func(off int, t Type)) {
	scalars(t, 0, fn)
}

func scalars(t Type, base int, fn func(int, Type)) {
	switch t := t.(type) {
	case *Struct:
		for _, f := range t.Fields {
			scalars(f.Type, base+f.Offset, fn)
		}
	case Array:
		for i := 0; i < t.Len; i++ {
			scalars(t.X, base+i*t.X.Size(), fn)
		}
	default:
		fn(base, t)
	}
}

func (x Int) String() string {
	if x.Signed {
		return fmt.Sprintf("i%d", x.Bits)
	}

	return fmt.Sprintf("u%d", x.Bits)
}

func (x Float) String() string { return fmt.Sprintf("f%d", x.Bits) }
func (x Ptr) String() string   { return "ptr" }

func (x Array) String() string {
	return fmt.Sprintf("[%d]%v", x.Len, x.X)
}

func (x *Struct) String() string {
	b := []byte{'{'}

	for i, f := range x.Fields {
		if i != 0 {
			b = append(b, ',')
		}

		b = fmt.Appendf(b, "%v@%d", f.Type, f.Offset)
	}

	b = append(b, '}')

	if x.size != 0 {
		b = fmt.Appendf(b, "#%d", x.size)
	}

	return string(b)
}
