package compiler

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/back"
)

const listing = `func add frame=16
	params (rdi:i64, rsi:i64)
	add.i64 rax, rdi, rsi
	ret (rax:i64)

func swap
	params (rdi:i64, rsi:i64)
	ret (rsi:i64, rdi:i64)
`

func TestLower(t *testing.T) {
	code, err := Lower(context.Background(), back.DefaultConfig(), "x", []byte(listing))
	require.NoError(t, err)
	require.Len(t, code, 2)

	assert.Equal(t, "add", code[0].Name)
	assert.Equal(t, "swap", code[1].Name)

	text := string(AppendText(nil, code, asm.TextOptions{}))

	assert.Contains(t, text, "add:\n\tpush\trbp\n")
	assert.Contains(t, text, "\n\nswap:\n")
	assert.Contains(t, text, "\tleave\n\tret\n")

	data, err := asm.MarshalCode(code...)
	require.NoError(t, err)

	objs, err := asm.UnmarshalObjects(data)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "swap", objs[1].Name)
	assert.Equal(t, "push", objs[0].Instrs[0].Op)
	assert.Len(t, objs[1].Instrs, code[1].Len())
}

func TestLowerFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "a.lst")

	err := os.WriteFile(name, []byte(listing), 0o644)
	require.NoError(t, err)

	code, err := LowerFile(context.Background(), back.DefaultConfig(), name)
	require.NoError(t, err)
	assert.Len(t, code, 2)

	_, err = LowerFile(context.Background(), back.DefaultConfig(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestLowerErrors(t *testing.T) {
	_, err := Lower(context.Background(), back.DefaultConfig(), "x", []byte("func f\n\tadd.i64 5, rsi, rdi\n"))
	assert.ErrorContains(t, err, "func f")

	var e *back.Error
	assert.ErrorAs(t, err, &e)

	_, err = Lower(context.Background(), back.DefaultConfig(), "x", []byte("add.i64 rax, rsi, rdi\n"))
	assert.ErrorContains(t, err, "x:1:1")

	cfg := back.DefaultConfig()
	cfg.Scratch.GP = []asm.Reg{asm.RAX}

	_, err = Lower(context.Background(), cfg, "x", []byte(listing))
	assert.ErrorContains(t, err, "rax")
}
