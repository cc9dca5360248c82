package parse

import (
	"strconv"

	"tlog.app/go/errors"
)

// integer parses a signed number with optional 0x, 0o or 0b prefix.
// Unsigned values above the int64 range keep their bits.
func integer(b []byte, st int) (v int64, i int, err error) {
	i = st

	if i < len(b) && (b[i] == '-' || b[i] == '+') {
		i++
	}

	dst := i

	for i < len(b) && (isDigit(b[i]) || isLetter(b[i])) {
		i++
	}

	if i == dst || !isDigit(b[dst]) {
		return 0, st, errors.New("number expected")
	}

	s := string(b[st:i])

	v, err = strconv.ParseInt(s, 0, 64)
	if err == nil {
		return v, i, nil
	}

	u, uerr := strconv.ParseUint(s, 0, 64)
	if uerr == nil {
		return int64(u), i, nil
	}

	return 0, st, errors.Wrap(err, "number")
}
