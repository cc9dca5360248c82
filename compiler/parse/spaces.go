package parse

type (
	Spaces uint64
)

var (
	SpaceTab = NewSpaces(' ', '\t')
	SpaceAll = NewSpaces(' ', '\t', '\r', '\n')
)

func NewSpaces(skip ...byte) (ss Spaces) {
	for _, q := range skip {
		if q >= 64 {
			panic("too high char code")
		}

		ss |= 1 << q
	}

	return
}

func (s Spaces) Skip(b []byte, st int) (i int) {
	i = st

	for i < len(b) && b[i] < 64 && s&(1<<b[i]) != 0 {
		i++
	}

	return
}

// Trim cuts spaces from the end of b.
func (s Spaces) Trim(b []byte) []byte {
	for len(b) != 0 && b[len(b)-1] < 64 && s&(1<<b[len(b)-1]) != 0 {
		b = b[:len(b)-1]
	}

	return b
}
