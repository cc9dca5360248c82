package tp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayout(t *testing.T) {
	for _, tc := range []struct {
		Type  Type
		Size  int
		Align int
		Str   string
	}{
		{I8, 1, 1, "i8"},
		{U16, 2, 2, "u16"},
		{I64, 8, 8, "i64"},
		{F32, 4, 4, "f32"},
		{Uintptr, 8, 8, "ptr"},
		{Array{X: U8, Len: 7}, 7, 1, "[7]u8"},
		{Array{X: F64, Len: 0}, 0, 8, "[0]f64"},
		{&Struct{Fields: []StructField{{Offset: 0, Type: F64}, {Offset: 8, Type: I16}}}, 16, 8, "{f64@0,i16@8}"},
		{(&Struct{Fields: []StructField{{Offset: 0, Type: F64}, {Offset: 8, Type: I16}}}).Sized(10), 10, 8, "{f64@0,i16@8}#10"},
		{&Struct{}, 0, 1, "{}"},
	} {
		assert.Equal(t, tc.Size, tc.Type.Size(), "%v", tc.Type)
		assert.Equal(t, tc.Align, tc.Type.Align(), "%v", tc.Type)
		assert.Equal(t, tc.Str, tc.Type.(interface{ String() string }).String())
	}
}

func TestTuple(t *testing.T) {
	s := Tuple(I8, F64, I32)

	assert.Equal(t, []StructField{
		{Name: "_0", Offset: 0, Type: I8},
		{Name: "_1", Offset: 8, Type: F64},
		{Name: "_2", Offset: 16, Type: I32},
	}, s.Fields)

	assert.Equal(t, 24, s.Size())
	assert.Equal(t, 8, s.Align())
}

func TestScalars(t *testing.T) {
	inner := &Struct{Fields: []StructField{{Offset: 0, Type: F32}, {Offset: 4, Type: U8}}}
	x := &Struct{Fields: []StructField{
		{Offset: 0, Type: I16},
		{Offset: 4, Type: Array{X: inner, Len: 2}},
	}}

	type leaf struct {
		Off  int
		Type Type
	}

	var got []leaf

	Scalars(x, func(off int, t Type) {
		got = append(got, leaf{off, t})
	})

	assert.Equal(t, []leaf{
		{0, I16},
		{4, F32},
		{8, U8},
		{12, F32},
		{16, U8},
	}, got)
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsFloat(F64))
	assert.False(t, IsFloat(I64))

	assert.True(t, IsSigned(I32))
	assert.False(t, IsSigned(U32))
	assert.False(t, IsSigned(F32))

	assert.True(t, IsAggregate(&Struct{}))
	assert.True(t, IsAggregate(Array{X: I8, Len: 1}))
	assert.False(t, IsAggregate(Uintptr))
}
