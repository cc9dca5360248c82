package abi

import (
	"encoding/binary"
	"fmt"

	"github.com/slowlang/x64/compiler/set"
	"github.com/slowlang/x64/compiler/tp"
	"tlog.app/go/tlog/tlwire"
)

type (
	Class uint8

	// Slot is one register-sized piece of a coerced aggregate.
	Slot struct {
		Class  Class
		Type   tp.Type
		Offset int
		Size   int
	}

	// Layout tells which bytes of an aggregate belong to float fields
	// and which to anything else. Bytes in neither are padding.
	Layout struct {
		Size  int
		Float set.Bits[int]
		Other set.Bits[int]
	}

	SizeError struct {
		Size int
	}
)

const (
	_ Class = iota
	Integer
	Float
)

// MaxCoerced is the largest aggregate passed in registers.
const MaxCoerced = 16

var buckets = []int{1, 2, 3, 4, 5, 6, 8, 9, 10, 12, 16}

// Buckets returns the aggregate sizes passed and returned in registers.
func Buckets() []int {
	return append([]int{}, buckets...)
}

// Coerced reports whether an aggregate of the size goes in registers.
// Other aggregates are passed by pointer to memory.
func Coerced(size int) bool {
	if size > MaxCoerced {
		return false
	}

	for _, b := range buckets {
		if b == size {
			return true
		}
	}

	return false
}

func LayoutOf(t tp.Type) (l Layout) {
	l.Size = t.Size()

	tp.Scalars(t, func(off int, x tp.Type) {
		if tp.IsFloat(x) {
			l.Float.SetRange(off, off+x.Size())
		} else {
			l.Other.SetRange(off, off+x.Size())
		}
	})

	return l
}

func Classify(t tp.Type) ([]Slot, error) {
	return ClassifyLayout(LayoutOf(t))
}

func ClassifyLayout(l Layout) (slots []Slot, err error) {
	if !Coerced(l.Size) {
		return nil, SizeError{Size: l.Size}
	}

	for off := 0; off < l.Size; off += 8 {
		end := min(off+8, l.Size)

		s := Slot{
			Offset: off,
			Size:   end - off,
		}

		if !l.Other.AnyIn(off, end) && l.Float.AnyIn(off, end) {
			s.Class = Float
			s.Type = floatType(s.Size)
		} else {
			s.Class = Integer
			s.Type = intType(s.Size)
		}

		slots = append(slots, s)
	}

	return slots, nil
}

func floatType(size int) tp.Type {
	if size <= 4 {
		return tp.F32
	}

	return tp.F64
}

func intType(size int) tp.Type {
	switch {
	case size <= 1:
		return tp.I8
	case size <= 2:
		return tp.I16
	case size <= 4:
		return tp.I32
	default:
		return tp.I64
	}
}

// Pack splits the aggregate byte image into slot words.
// Bytes above the slot size are zero.
func Pack(image []byte, slots []Slot) []uint64 {
	words := make([]uint64, len(slots))

	for i, s := range slots {
		var buf [8]byte
		copy(buf[:], image[s.Offset:s.Offset+s.Size])

		words[i] = binary.LittleEndian.Uint64(buf[:])
	}

	return words
}

// Unpack is the inverse of Pack.
func Unpack(words []uint64, slots []Slot, size int) []byte {
	image := make([]byte, size)

	for i, s := range slots {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], words[i])

		copy(image[s.Offset:s.Offset+s.Size], buf[:s.Size])
	}

	return image
}

func (e SizeError) Error() string {
	return fmt.Sprintf("unclassifiable aggregate size: %d", e.Size)
}

func (c Class) String() string {
	switch c {
	case Integer:
		return "int"
	case Float:
		return "float"
	default:
		return "noclass"
	}
}

func (s Slot) String() string {
	return fmt.Sprintf("%v@%d:%d", s.Type, s.Offset, s.Size)
}

func (s Slot) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder
	return e.AppendFormat(b, "%v", s)
}

var _ error = SizeError{}
