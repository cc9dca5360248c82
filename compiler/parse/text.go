package parse

import (
	"bytes"

	"tlog.app/go/errors"
)

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// word scans letters, digits and underscores not starting with a digit.
func word(b []byte, st int) (w string, i int, err error) {
	if st == len(b) || !isLetter(b[st]) {
		return "", st, errors.New("word expected")
	}

	i = st + 1

	for i < len(b) && (isLetter(b[i]) || isDigit(b[i])) {
		i++
	}

	return string(b[st:i]), i, nil
}

// symbol scans a function or label name.
// Dots and dollars are allowed after the first character.
func symbol(b []byte, st int) (s string, i int, err error) {
	if st == len(b) || !isLetter(b[st]) && b[st] != '.' {
		return "", st, errors.New("symbol expected")
	}

	i = st + 1

	for i < len(b) && (isLetter(b[i]) || isDigit(b[i]) || b[i] == '.' || b[i] == '$') {
		i++
	}

	return string(b[st:i]), i, nil
}

func consume(b []byte, st int, s string) (i int, ok bool) {
	if bytes.HasPrefix(b[st:], []byte(s)) {
		return st + len(s), true
	}

	return st, false
}

func expect(b []byte, st int, s string) (i int, err error) {
	i, ok := consume(b, st, s)
	if !ok {
		return st, errors.New("%q expected", s)
	}

	return i, nil
}
