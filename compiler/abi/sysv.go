package abi

import (
	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/tp"
	"tlog.app/go/errors"
)

type (
	// Part is where one slot of an argument lives.
	// Reg is invalid for a stack slot.
	Part struct {
		Slot  Slot
		Reg   asm.Reg
		Stack int32
	}

	// Arg is an assigned argument.
	// ByPointer arguments are passed as an address of the aggregate image
	// in a single integer part.
	Arg struct {
		Type      tp.Type
		ByPointer bool
		Parts     []Part
	}

	Args struct {
		Args []Arg

		SRet      bool
		Stack     int32 // stack bytes used by arguments
		FloatRegs int   // vector registers used, for variadic calls
	}

	Results struct {
		// Type is the single result type or a tuple of all of them.
		Type  tp.Type
		Tuple bool

		// Memory results are written through the hidden pointer.
		Memory bool

		Parts []Part
	}
)

var (
	IntArgs      = []asm.Reg{asm.RDI, asm.RSI, asm.RDX, asm.RCX, asm.R8, asm.R9}
	FloatArgs    = []asm.Reg{asm.X(0), asm.X(1), asm.X(2), asm.X(3), asm.X(4), asm.X(5), asm.X(6), asm.X(7)}
	IntResults   = []asm.Reg{asm.RAX, asm.RDX}
	FloatResults = []asm.Reg{asm.X(0), asm.X(1)}
)

// Scalar returns the slot of a scalar value.
func Scalar(t tp.Type) Slot {
	c := Integer
	if tp.IsFloat(t) {
		c = Float
	}

	return Slot{Class: c, Type: t, Size: t.Size()}
}

// AssignArgs places arguments into registers and 8-byte stack slots.
// With sret the hidden result pointer takes the first integer register.
func AssignArgs(ts []tp.Type, sret bool) (a Args, err error) {
	ints, floats := 0, 0

	if sret {
		a.SRet = true
		ints++
	}

	stack := func(s Slot) Part {
		p := Part{Slot: s, Stack: a.Stack}
		a.Stack += 8

		return p
	}

	for i, t := range ts {
		arg := Arg{Type: t}

		var slots []Slot

		switch {
		case !tp.IsAggregate(t):
			slots = []Slot{Scalar(t)}
		case Coerced(t.Size()):
			slots, err = Classify(t)
			if err != nil {
				return a, errors.Wrap(err, "arg %d", i)
			}
		default:
			arg.ByPointer = true
			slots = []Slot{Scalar(tp.Uintptr)}
		}

		ni, nf := 0, 0

		for _, s := range slots {
			if s.Class == Float {
				nf++
			} else {
				ni++
			}
		}

		inRegs := ints+ni <= len(IntArgs) && floats+nf <= len(FloatArgs)

		for _, s := range slots {
			switch {
			case !inRegs:
				arg.Parts = append(arg.Parts, stack(s))
			case s.Class == Float:
				arg.Parts = append(arg.Parts, Part{Slot: s, Reg: FloatArgs[floats]})
				floats++
			default:
				arg.Parts = append(arg.Parts, Part{Slot: s, Reg: IntArgs[ints]})
				ints++
			}
		}

		a.Args = append(a.Args, arg)
	}

	a.FloatRegs = floats

	return a, nil
}

// AssignResults places results into return registers
// or marks them as returned through memory.
// Multiple results are laid out as a tuple.
func AssignResults(ts []tp.Type) (r Results, err error) {
	switch len(ts) {
	case 0:
		return r, nil
	case 1:
		r.Type = ts[0]
	default:
		r.Type = tp.Tuple(ts...)
		r.Tuple = true
	}

	var slots []Slot

	switch {
	case !tp.IsAggregate(r.Type):
		slots = []Slot{Scalar(r.Type)}
	case Coerced(r.Type.Size()):
		slots, err = Classify(r.Type)
		if err != nil {
			return r, errors.Wrap(err, "results")
		}
	default:
		r.Memory = true
		r.Parts = []Part{{Slot: Scalar(tp.Uintptr), Reg: asm.RAX}}

		return r, nil
	}

	ints, floats := 0, 0

	for _, s := range slots {
		if s.Class == Float {
			r.Parts = append(r.Parts, Part{Slot: s, Reg: FloatResults[floats]})
			floats++
		} else {
			r.Parts = append(r.Parts, Part{Slot: s, Reg: IntResults[ints]})
			ints++
		}
	}

	return r, nil
}

// Offsets returns field offsets of the results layout.
func (r Results) Offsets() []int {
	if !r.Tuple {
		return []int{0}
	}

	s := r.Type.(*tp.Struct)
	offs := make([]int, len(s.Fields))

	for i, f := range s.Fields {
		offs[i] = f.Offset
	}

	return offs
}

func (p Part) InReg() bool { return p.Reg.Valid() }
