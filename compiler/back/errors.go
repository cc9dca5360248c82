package back

import (
	"fmt"
	"strings"

	"tlog.app/go/loc"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
	"github.com/slowlang/x64/compiler/tp"
)

type (
	ErrorKind uint8

	// Error is a fatal lowering failure.
	// It means the request stream broke the register allocator contract
	// or asked for something that has no encoding.
	Error struct {
		Kind ErrorKind

		Op   ir.Opcode
		Type tp.Type

		Dst string
		Src []string

		Detail string

		// PC is where in the lowering code it was detected.
		PC loc.PC
	}
)

const (
	_ ErrorKind = iota
	UnsupportedOperandCombination
	DivisionByZero
	DivisionOverflow
	ScratchExhausted
	OperandRange
)

func (k ErrorKind) String() string {
	switch k {
	case UnsupportedOperandCombination:
		return "unsupported operand combination"
	case DivisionByZero:
		return "division by zero"
	case DivisionOverflow:
		return "division overflow"
	case ScratchExhausted:
		return "scratch registers exhausted"
	case OperandRange:
		return "operand out of range"
	default:
		return "lowering error"
	}
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Kind.String())

	fmt.Fprintf(&b, ": %v", e.Op)

	if e.Type != nil {
		fmt.Fprintf(&b, ".%v", e.Type)
	}

	if e.Dst != "" {
		fmt.Fprintf(&b, " dst=%s", e.Dst)
	}

	if len(e.Src) != 0 {
		fmt.Fprintf(&b, " src=%s", strings.Join(e.Src, ","))
	}

	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}

	if e.PC != 0 {
		fmt.Fprintf(&b, " (at %v)", e.PC)
	}

	return b.String()
}

func (u *unit) newError(kind ErrorKind, pc loc.PC, detail string, args ...any) *Error {
	e := &Error{
		Kind:   kind,
		Op:     u.op.Code,
		Type:   u.op.Type,
		Detail: detail,
		PC:     pc,
	}

	if len(args) != 0 {
		e.Detail = fmt.Sprintf(detail, args...)
	}

	if u.op.Dst != nil {
		e.Dst = asm.Describe(u.op.Dst)
	}

	for _, s := range u.op.Srcs() {
		e.Src = append(e.Src, asm.Describe(s))
	}

	return e
}

// unsupported is the default branch of every lowering unit.
func (u *unit) unsupported() error {
	if u.err != nil {
		return u.err
	}

	return u.newError(UnsupportedOperandCombination, loc.Caller(1), "")
}

func (u *unit) unsupportedf(detail string, args ...any) error {
	if u.err != nil {
		return u.err
	}

	return u.newError(UnsupportedOperandCombination, loc.Caller(1), detail, args...)
}

func (u *unit) fail(kind ErrorKind, detail string, args ...any) {
	if u.err != nil {
		return
	}

	u.err = u.newError(kind, loc.Caller(1), detail, args...)
}
