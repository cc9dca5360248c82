package back

import (
	"github.com/slowlang/x64/compiler/asm"
	"tlog.app/go/tlog/tlwire"
)

// Shape is the operand kind tuple of an operation:
// arity in the top bits and two bits of asm.Kind per slot, destination first.
type Shape uint8

const (
	// single slot
	R Shape = 1<<6 | 1
	M Shape = 1<<6 | 2
	I Shape = 1<<6 | 3

	// two slots
	RR Shape = 2<<6 | 1<<2 | 1
	RM Shape = 2<<6 | 2<<2 | 1
	RI Shape = 2<<6 | 3<<2 | 1
	MR Shape = 2<<6 | 1<<2 | 2
	MM Shape = 2<<6 | 2<<2 | 2
	MI Shape = 2<<6 | 3<<2 | 2
	IR Shape = 2<<6 | 1<<2 | 3
	IM Shape = 2<<6 | 2<<2 | 3
	II Shape = 2<<6 | 3<<2 | 3

	// three slots
	RRR Shape = 3<<6 | 1<<4 | 1<<2 | 1
	RRM Shape = 3<<6 | 2<<4 | 1<<2 | 1
	RRI Shape = 3<<6 | 3<<4 | 1<<2 | 1
	RMR Shape = 3<<6 | 1<<4 | 2<<2 | 1
	RMM Shape = 3<<6 | 2<<4 | 2<<2 | 1
	RMI Shape = 3<<6 | 3<<4 | 2<<2 | 1
	RIR Shape = 3<<6 | 1<<4 | 3<<2 | 1
	RIM Shape = 3<<6 | 2<<4 | 3<<2 | 1
	RII Shape = 3<<6 | 3<<4 | 3<<2 | 1
	MRR Shape = 3<<6 | 1<<4 | 1<<2 | 2
	MRM Shape = 3<<6 | 2<<4 | 1<<2 | 2
	MRI Shape = 3<<6 | 3<<4 | 1<<2 | 2
	MMR Shape = 3<<6 | 1<<4 | 2<<2 | 2
	MMM Shape = 3<<6 | 2<<4 | 2<<2 | 2
	MMI Shape = 3<<6 | 3<<4 | 2<<2 | 2
	MIR Shape = 3<<6 | 1<<4 | 3<<2 | 2
	MIM Shape = 3<<6 | 2<<4 | 3<<2 | 2
	MII Shape = 3<<6 | 3<<4 | 3<<2 | 2
	IRR Shape = 3<<6 | 1<<4 | 1<<2 | 3
	IRM Shape = 3<<6 | 2<<4 | 1<<2 | 3
	IRI Shape = 3<<6 | 3<<4 | 1<<2 | 3
	IMR Shape = 3<<6 | 1<<4 | 2<<2 | 3
	IMM Shape = 3<<6 | 2<<4 | 2<<2 | 3
	IMI Shape = 3<<6 | 3<<4 | 2<<2 | 3
	IIR Shape = 3<<6 | 1<<4 | 3<<2 | 3
	IIM Shape = 3<<6 | 2<<4 | 3<<2 | 3
	III Shape = 3<<6 | 3<<4 | 3<<2 | 3
)

func makeShape(kinds ...asm.Kind) Shape {
	s := Shape(len(kinds)) << 6

	for i, k := range kinds {
		s |= Shape(k) << (2 * i)
	}

	return s
}

func (s Shape) Arity() int { return int(s >> 6) }

func (s Shape) Kind(i int) asm.Kind {
	return asm.Kind(s >> (2 * i) & 3)
}

func (s Shape) String() string {
	if s.Arity() == 0 {
		return "none"
	}

	b := make([]byte, s.Arity())

	for i := range b {
		b[i] = "?RMI"[s.Kind(i)]
	}

	return string(b)
}

func (s Shape) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder
	return e.AppendString(b, s.String())
}
