package parse

import (
	"fortio.org/safecast"
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/asm"
)

// operand parses a register, memory reference, immediate or label.
func operand(b []byte, st int) (o asm.Operand, i int, err error) {
	if st == len(b) {
		return nil, st, errors.New("operand expected")
	}

	switch c := b[st]; {
	case c == '[':
		return mem(b, st)
	case c == '@':
		s, i, err := symbol(b, st+1)
		if err != nil {
			return nil, i, errors.Wrap(err, "label")
		}

		return asm.Label(s), i, nil
	case c == '-' || c == '+' || isDigit(c):
		v, i, err := integer(b, st)
		if err != nil {
			return nil, i, err
		}

		return asm.I(v), i, nil
	}

	return reg(b, st)
}

func reg(b []byte, st int) (r asm.Reg, i int, err error) {
	w, i, err := word(b, st)
	if err != nil {
		return r, st, errors.New("operand expected")
	}

	r, ok := asm.ParseReg(w)
	if !ok {
		return r, st, errors.New("unknown register: %v", w)
	}

	return r, i, nil
}

// mem parses [base+index*scale+disp] with terms in any order.
// A register without a scale is the base unless the base is already set.
func mem(b []byte, st int) (m asm.Mem, i int, err error) {
	var disp int64

	neg := false
	i = st + 1

	for {
		i = SpaceTab.Skip(b, i)

		if i == len(b) {
			return m, i, errors.New("unterminated memory operand")
		}

		switch c := b[i]; {
		case isDigit(c):
			var v int64

			v, i, err = integer(b, i)
			if err != nil {
				return m, i, err
			}

			if neg {
				v = -v
			}

			disp += v
		default:
			tst := i

			var r asm.Reg

			r, i, err = reg(b, i)
			if err != nil {
				return m, i, err
			}

			if neg {
				return m, tst, errors.New("subtracted register")
			}

			scale := int64(0)

			if j, ok := consume(b, i, "*"); ok {
				scale, i, err = integer(b, j)
				if err != nil {
					return m, i, errors.Wrap(err, "scale")
				}

				switch scale {
				case 1, 2, 4, 8:
				default:
					return m, j, errors.New("bad scale: %d", scale)
				}
			}

			switch {
			case scale == 0 && !m.Base.Valid():
				m.Base = r
			case m.HasIndex():
				return m, tst, errors.New("too many registers")
			default:
				m.Index = r
				m.Scale = uint8(max(scale, 1))
			}
		}

		i = SpaceTab.Skip(b, i)

		if i == len(b) {
			return m, i, errors.New("unterminated memory operand")
		}

		switch b[i] {
		case ']':
			m.Disp, err = safecast.Conv[int32](disp)
			if err != nil {
				return m, st, errors.Wrap(err, "displacement")
			}

			return m, i + 1, nil
		case '+':
			neg = false
		case '-':
			neg = true
		default:
			return m, i, errors.New("'+', '-' or ']' expected")
		}

		i++
	}
}
