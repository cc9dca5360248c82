package asm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

func TestOperandString(t *testing.T) {
	assert.Equal(t, "rax", RAX.String())
	assert.Equal(t, "r11", R11.String())
	assert.Equal(t, "xmm14", X(14).String())

	assert.Equal(t, "[rbp-8]", Mem{Base: RBP, Disp: -8}.String())
	assert.Equal(t, "[rdi+rsi*4+16]", Mem{Base: RDI, Index: RSI, Scale: 4, Disp: 16}.String())
	assert.Equal(t, "[rax+rcx]", Mem{Base: RAX, Index: RCX, Scale: 1}.String())
	assert.Equal(t, "[0x1000]", Mem{Disp: 0x1000}.String())

	assert.Equal(t, "-5", I(-5).String())
	assert.Equal(t, "@memcpy", Label("memcpy").String())

	assert.Equal(t, "mem([rbp-8])", Describe(Mem{Base: RBP, Disp: -8}))
	assert.Equal(t, "<none>", Describe(nil))
}

func TestParseReg(t *testing.T) {
	for _, tc := range []struct {
		Name string
		Reg  Reg
	}{
		{"rax", RAX},
		{"eax", RAX},
		{"al", RAX},
		{"r9d", R9},
		{"R15", R15},
		{"sil", RSI},
		{"xmm7", X(7)},
	} {
		r, ok := ParseReg(tc.Name)
		if assert.True(t, ok, tc.Name) {
			assert.Equal(t, tc.Reg, r, tc.Name)
		}
	}

	_, ok := ParseReg("rip")
	assert.False(t, ok)
}

func TestSizedViews(t *testing.T) {
	assert.Equal(t, x86asm.SIB, RSI.Sized(Byte))
	assert.Equal(t, x86asm.R10W, R10.Sized(Word))
	assert.Equal(t, x86asm.ECX, RCX.Sized(Dword))
	assert.Equal(t, x86asm.R12, R12.Sized(Qword))

	for i := 0; i < 16; i++ {
		for _, w := range []Width{Byte, Word, Dword, Qword} {
			r, rw, ok := FromX86(Reg{GP, uint8(i)}.Sized(w))
			require.True(t, ok)
			assert.Equal(t, Reg{GP, uint8(i)}, r)
			assert.Equal(t, w, rw)
		}
	}
}

func TestAliasing(t *testing.T) {
	m := Mem{Base: RAX, Index: RCX, Scale: 8}

	assert.True(t, Uses(m, RAX))
	assert.True(t, Uses(m, RCX))
	assert.False(t, Uses(m, RDX))
	assert.True(t, Clobbers(RCX, m))
	assert.False(t, Clobbers(Mem{Base: RBP}, m))
	assert.True(t, Clobbers(m, m))
	assert.False(t, Same(I(1), I(1)))

	assert.Equal(t, Mem{Base: R10, Index: RCX, Scale: 8}, Rebase(m, RAX, R10))
}

func TestEmit(t *testing.T) {
	var c Code

	require.NoError(t, c.Emit(x86asm.MOV, A(RAX, Dword), A(Mem{Base: RBP, Disp: -4}, Dword)))
	require.NoError(t, c.Emit(x86asm.ADD, A(Mem{Base: RBP, Disp: -8}, Qword), A(I(3), Qword)))
	require.NoError(t, c.Emit(x86asm.LEA, A(R10, Qword), A(Mem{Base: RDI, Index: RSI, Scale: 2, Disp: 4}, Qword)))
	c.Define(".L1")
	require.NoError(t, c.Emit(x86asm.JNE, A(Label(".L1"), 0)))
	require.NoError(t, c.Emit(x86asm.MOVSD_XMM, A(X(0), Qword), A(Mem{Base: RSP}, Qword)))

	err := c.Emit(x86asm.MOV, A(Mem{Base: RBP}, Qword), A(Mem{Base: RSP}, Qword))
	require.ErrorIs(t, err, ErrTwoMemOperands)

	assert.Equal(t, `	mov	eax, dword ptr [rbp-4]
	add	qword ptr [rbp-8], 3
	lea	r10, [rdi+rsi*2+4]
.L1:
	jne	.L1
	movsd	xmm0, qword ptr [rsp]
`, c.String())

	for _, in := range c.Instrs {
		assert.LessOrEqual(t, in.Mems(), 1)
	}
}

func TestGNUSyntax(t *testing.T) {
	in, err := Build(x86asm.MOV, A(RAX, Qword), A(RBX, Qword))
	require.NoError(t, err)

	s := string(in.AppendText(nil, TextOptions{Syntax: GNU}))
	assert.Contains(t, s, "%rbx,%rax")

	in, err = Build(x86asm.CALL, A(Label("memcpy"), 0))
	require.NoError(t, err)

	s = string(in.AppendText(nil, TextOptions{Syntax: GNU}))
	assert.Contains(t, s, "memcpy")
}

func TestMnemonicHook(t *testing.T) {
	in, err := Build(x86asm.XOR, A(RDX, Dword), A(RDX, Dword))
	require.NoError(t, err)

	s := string(in.AppendText(nil, TextOptions{Mnemonic: func(s string) string { return "<" + s + ">" }}))
	assert.Equal(t, "<xor>\tedx, edx", s)
}

func TestRecords(t *testing.T) {
	c := &Code{Name: "f"}

	require.NoError(t, c.Emit(x86asm.MOV, A(Mem{Base: RBP, Index: RAX, Scale: 8, Disp: -16}, Qword), A(I(0), Qword)))
	c.Define("end")
	require.NoError(t, c.Emit(x86asm.JMP, A(Label("end"), 0)))

	data, err := MarshalCode(c)
	require.NoError(t, err)

	objs, err := UnmarshalObjects(data)
	require.NoError(t, err)
	require.Len(t, objs, 1)

	o := objs[0]
	assert.Equal(t, "f", o.Name)
	require.Len(t, o.Instrs, 3)

	mov := o.Instrs[0]
	assert.Equal(t, "mov", mov.Op)
	assert.Equal(t, 8, mov.MemBytes)
	require.Len(t, mov.Args, 2)
	assert.Equal(t, RecordArg{Base: "rbp", Index: "rax", Scale: 8, Disp: -16}, mov.Args[0])
	require.NotNil(t, mov.Args[1].Imm)
	assert.Equal(t, int64(0), *mov.Args[1].Imm)

	assert.Equal(t, "end", o.Instrs[1].Label)
	assert.Equal(t, "end", o.Instrs[2].Args[0].Target)
}
