package parse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

const listing = `package demo

// adds two numbers
func add frame=16
	params (rdi:i64, rsi:i64)
	add.i64 rax, rdi, rsi // rax = rdi + rsi
	ret (rax:i64)

func g frame=0x40
	divrem.i32 rax, rdx, [rbp-8], 7
	loadidx.f64 xmm1, [rbx+16], rdi elem=12 off=-4
	cmp.u8 sil, 0xff
	br.u8 @yes cond=<=
	call @h (rdi:i64, [rbp-24]:{f64,i32}) -> (rax:i32, _:f32) variadic sret=[rbp-64]
	call [rdi+rsi*8] ()
	conv.f64 xmm0, esi from=u32
	copy [rbp-32], [rsi] len=24
	label @yes
	ret
`

func TestParse(t *testing.T) {
	pkg, err := Parse(context.Background(), "test.lst", []byte(listing))
	require.NoError(t, err)

	assert.Equal(t, "demo", pkg.Path)
	require.Len(t, pkg.Funcs, 2)

	add := pkg.Funcs[0]
	assert.Equal(t, "add", add.Name)
	assert.Equal(t, int32(16), add.Frame)

	assert.Equal(t, []ir.Op{
		{Code: ir.Params, Args: []ir.Value{{Loc: asm.RDI, Type: tp.I64}, {Loc: asm.RSI, Type: tp.I64}}},
		{Code: ir.Add, Type: tp.I64, Dst: asm.RAX, Src: [3]asm.Operand{asm.RDI, asm.RSI}},
		{Code: ir.Ret, Args: []ir.Value{{Loc: asm.RAX, Type: tp.I64}}},
	}, add.Code)

	g := pkg.Funcs[1]
	assert.Equal(t, int32(0x40), g.Frame)
	require.Len(t, g.Code, 10)

	assert.Equal(t, ir.Op{
		Code: ir.DivRem,
		Type: tp.I32,
		Dst:  asm.RAX,
		Dst2: asm.RDX,
		Src:  [3]asm.Operand{asm.Mem{Base: asm.RBP, Disp: -8}, asm.I(7)},
	}, g.Code[0])

	assert.Equal(t, ir.Op{
		Code: ir.LoadIndex,
		Type: tp.F64,
		Dst:  asm.X(1),
		Src:  [3]asm.Operand{asm.Mem{Base: asm.RBX, Disp: 16}, asm.RDI},
		Elem: 12,
		Off:  -4,
	}, g.Code[1])

	assert.Equal(t, asm.I(0xff), g.Code[2].Src[1])
	assert.Equal(t, asm.RSI, g.Code[2].Src[0])

	assert.Equal(t, ir.Cond("<="), g.Code[3].Cond)
	assert.Equal(t, asm.Label("yes"), g.Code[3].Target)

	call := g.Code[4]
	assert.Equal(t, asm.Label("h"), call.Target)
	assert.True(t, call.Variadic)
	assert.Equal(t, asm.Mem{Base: asm.RBP, Disp: -64}, call.SRet)
	require.Len(t, call.Args, 2)
	assert.Equal(t, "{f64@0,i32@8}", call.Args[1].Type.(*tp.Struct).String())
	assert.Equal(t, 16, call.Args[1].Type.Size())
	require.Len(t, call.Results, 2)
	assert.Nil(t, call.Results[1].Loc)
	assert.Equal(t, tp.F32, call.Results[1].Type)

	assert.Equal(t, asm.Mem{Base: asm.RDI, Index: asm.RSI, Scale: 8}, g.Code[5].Src[0])
	assert.Empty(t, g.Code[5].Args)
	assert.Empty(t, g.Code[5].Target)

	assert.Equal(t, tp.U32, g.Code[6].From)
	assert.Equal(t, 24, g.Code[7].Len)
	assert.Equal(t, ir.Label, g.Code[8].Code)
	assert.Equal(t, ir.Op{Code: ir.Ret}, g.Code[9])
}

func TestParseMem(t *testing.T) {
	for _, tc := range []struct {
		Text string
		Mem  asm.Mem
	}{
		{"[rbp-8]", asm.Mem{Base: asm.RBP, Disp: -8}},
		{"[rdi+rsi*4+16]", asm.Mem{Base: asm.RDI, Index: asm.RSI, Scale: 4, Disp: 16}},
		{"[ rsi*8 + 0x10 ]", asm.Mem{Index: asm.RSI, Scale: 8, Disp: 16}},
		{"[rbx+rsi]", asm.Mem{Base: asm.RBX, Index: asm.RSI, Scale: 1}},
		{"[16+r12-4]", asm.Mem{Base: asm.R12, Disp: 12}},
		{"[0x10000]", asm.Mem{Disp: 0x10000}},
	} {
		o, i, err := operand([]byte(tc.Text), 0)
		if assert.NoError(t, err, tc.Text) {
			assert.Equal(t, tc.Mem, o, tc.Text)
			assert.Equal(t, len(tc.Text), i, tc.Text)
		}
	}

	for _, text := range []string{
		"[rax",
		"[rax*3]",
		"[rax+rbx+rcx]",
		"[rbx-rax]",
		"[0x100000000]",
		"[rip+8]",
		"[rax;]",
	} {
		_, _, err := operand([]byte(text), 0)
		assert.Error(t, err, text)
	}
}

func TestParseType(t *testing.T) {
	for _, tc := range []struct {
		Text string
		Str  string
		Size int
	}{
		{"i32", "i32", 4},
		{"ptr", "ptr", 8},
		{"[3]i64", "[3]i64", 24},
		{"{i32,f32,u8}", "{i32@0,f32@4,u8@8}", 12},
		{"{f64@0,i16@8}#10", "{f64@0,i16@8}#10", 10},
		{"{i8, f64}", "{i8@0,f64@8}", 16},
		{"{[2]f32,{u8,u8}}", "{[2]f32@0,{u8@0,u8@1}@8}", 12},
		{"{}", "{}", 0},
	} {
		x, i, err := typ([]byte(tc.Text), 0)
		if assert.NoError(t, err, tc.Text) {
			assert.Equal(t, tc.Str, x.(interface{ String() string }).String(), tc.Text)
			assert.Equal(t, tc.Size, x.Size(), tc.Text)
			assert.Equal(t, len(tc.Text), i, tc.Text)
		}
	}

	for _, text := range []string{"", "int", "[x]i8", "[-1]i8", "{i8", "{i8;i16}", "{i8@}"} {
		_, _, err := typ([]byte(text), 0)
		assert.Error(t, err, text)
	}
}

func TestParseNumbers(t *testing.T) {
	for _, tc := range []struct {
		Text string
		Val  int64
	}{
		{"0", 0},
		{"-5", -5},
		{"+7", 7},
		{"0x7f", 0x7f},
		{"-0x80", -0x80},
		{"0b101", 5},
		{"0o17", 15},
		{"1_000", 1000},
		{"0xffff_ffff_ffff_fff0", -16},
	} {
		v, i, err := integer([]byte(tc.Text), 0)
		if assert.NoError(t, err, tc.Text) {
			assert.Equal(t, tc.Val, v, tc.Text)
			assert.Equal(t, len(tc.Text), i, tc.Text)
		}
	}

	for _, text := range []string{"", "-", "x1", "0xz", "99999999999999999999"} {
		_, _, err := integer([]byte(text), 0)
		assert.Error(t, err, text)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		Text string
		Line int
		Col  int
	}{
		{"add.i64 rax, rdi, rsi", 1, 1},
		{"func f\n\tfrob.i64 rax", 2, 2},
		{"func f\n\tadd.i64 rax, rdi, rsi, rdx, rcx", 2, 33},
		{"func f\n\tbr.i32 @a, @b", 2, 15},
		{"func f\n\tmov.i64 rax, rsi cond=<>", 2, 24},
		{"func f\n\tcall @g (rdi:i64", 2, 18},
		{"func f extra", 1, 8},
		{"func f frame=-1", 1, 14},
		{"func f\n\tload.i64 rax, rsi off=0x100000000", 2, 24},
		{"func f\n\tmov.i64 rax, rsi bogus=1", 2, 19},
		{"func f\n\tdiv.i64", 2, 9},
	} {
		_, err := Parse(context.Background(), "x", []byte(tc.Text))

		var pe PosError
		if assert.ErrorAs(t, err, &pe, tc.Text) {
			assert.Equal(t, "x", pe.Name, tc.Text)
			assert.Equal(t, tc.Line, pe.Line, "%q: %v", tc.Text, err)
			assert.Equal(t, tc.Col, pe.Col, "%q: %v", tc.Text, err)
		}
	}
}

func TestType(t *testing.T) {
	x, err := Type("{f64,i16}#10")
	require.NoError(t, err)
	assert.Equal(t, 10, x.Size())

	_, err = Type("i32 ")
	assert.Error(t, err)
}
