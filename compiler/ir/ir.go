package ir

import (
	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/tp"
	"tlog.app/go/tlog/tlwire"
)

type (
	Opcode uint8

	// Cond is a comparison relation: "==", "!=", "<", "<=", ">", ">=".
	Cond string

	// Value is a located value of a call argument, result or parameter.
	Value struct {
		Loc  asm.Operand
		Type tp.Type
	}

	// Op is one lowering request.
	// All operands are already assigned physical locations.
	Op struct {
		Code Opcode

		// Type is the result type.
		// For Cmp, SetCC and Branch it is the type of compared values.
		// For Store and StoreIndex it is the type of the stored value.
		Type tp.Type

		Dst asm.Operand
		Src [3]asm.Operand

		Dst2 asm.Operand // DivRem remainder

		From tp.Type // Conv and Bitcast source type

		Cond   Cond
		Target asm.Label // Branch, Jump, Label, Call

		Elem int   // indexed element size
		Off  int32 // Load, Store and indexed displacement
		Len  int   // Copy length

		Args     []Value // Call arguments, Params, Ret values
		Results  []Value // Call results
		Variadic bool    // Call to a variadic function

		// SRet is where Params saves the hidden result pointer
		// and where Ret and Call take it from.
		SRet asm.Operand
	}

	Func struct {
		Name  string
		Frame int32

		Code []Op
	}

	Package struct {
		Path string

		Funcs []*Func
	}
)

const (
	_ Opcode = iota

	Mov
	Add
	Sub
	Mul
	Div
	Rem
	DivRem
	Neg
	Not
	And
	Or
	Xor
	Shl
	Shr
	Cmp
	SetCC
	Branch
	Jump
	Label
	Conv
	Bitcast
	Load
	Store
	LoadIndex
	StoreIndex
	IndexAddr
	AddrOf
	Copy
	Sqrt
	Call
	Params
	Ret

	numOpcodes
)

var names = [...]string{
	Mov:        "mov",
	Add:        "add",
	Sub:        "sub",
	Mul:        "mul",
	Div:        "div",
	Rem:        "rem",
	DivRem:     "divrem",
	Neg:        "neg",
	Not:        "not",
	And:        "and",
	Or:         "or",
	Xor:        "xor",
	Shl:        "shl",
	Shr:        "shr",
	Cmp:        "cmp",
	SetCC:      "setcc",
	Branch:     "br",
	Jump:       "jmp",
	Label:      "label",
	Conv:       "conv",
	Bitcast:    "bitcast",
	Load:       "load",
	Store:      "store",
	LoadIndex:  "loadidx",
	StoreIndex: "storeidx",
	IndexAddr:  "idxaddr",
	AddrOf:     "addrof",
	Copy:       "copy",
	Sqrt:       "sqrt",
	Call:       "call",
	Params:     "params",
	Ret:        "ret",
}

var Conds = []Cond{"==", "!=", "<", "<=", ">", ">="}

func (c Opcode) String() string {
	if c > 0 && c < numOpcodes {
		return names[c]
	}

	return "op?"
}

func ParseOpcode(s string) (Opcode, bool) {
	for c := Mov; c < numOpcodes; c++ {
		if names[c] == s {
			return c, true
		}
	}

	return 0, false
}

// Commutative reports whether operands can be swapped.
func (c Opcode) Commutative() bool {
	switch c {
	case Add, Mul, And, Or, Xor:
		return true
	default:
		return false
	}
}

// Dsts is the number of destination operands the opcode writes.
// They come first in an operand list, sources follow.
func (c Opcode) Dsts() int {
	switch c {
	case DivRem:
		return 2
	case Cmp, Branch, Jump, Label, Store, StoreIndex, Call, Params, Ret:
		return 0
	default:
		return 1
	}
}

func (c Cond) Valid() bool {
	for _, x := range Conds {
		if x == c {
			return true
		}
	}

	return false
}

// Srcs returns the set source operands.
func (op Op) Srcs() []asm.Operand {
	n := len(op.Src)

	for n > 0 && op.Src[n-1] == nil {
		n--
	}

	return op.Src[:n]
}

func (op Op) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	n := 2
	if op.Dst != nil {
		n++
	}

	srcs := op.Srcs()
	if len(srcs) != 0 {
		n++
	}

	b = e.AppendMap(b, n)

	b = e.AppendKeyString(b, "code", op.Code.String())

	b = e.AppendString(b, "type")
	if op.Type != nil {
		b = e.AppendFormat(b, "%v", op.Type)
	} else {
		b = e.AppendNil(b)
	}

	if op.Dst != nil {
		b = e.AppendKeyString(b, "dst", op.Dst.String())
	}

	if len(srcs) != 0 {
		b = e.AppendString(b, "src")
		b = e.AppendArray(b, len(srcs))

		for _, s := range srcs {
			b = e.AppendString(b, s.String())
		}
	}

	return b
}
