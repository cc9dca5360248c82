package parse

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"fortio.org/safecast"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/x64/compiler/ir"
)

type (
	// PosError is an error at a position of the listing.
	PosError struct {
		Name string
		Line int
		Col  int

		Err error
	}
)

// ParseFile reads a listing of lowering requests.
func ParseFile(ctx context.Context, name string) (*ir.Package, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Parse(ctx, name, data)
}

// Parse reads a listing.
//
//	package path
//
//	func name frame=16
//		params (rdi:i64, rsi:i64)
//		add.i64 rax, rdi, rsi
//		ret (rax:i64)
//
// Comments start with // and run to the end of line.
func Parse(ctx context.Context, name string, text []byte) (pkg *ir.Package, err error) {
	tr := tlog.SpanFromContext(ctx)

	pkg = &ir.Package{Path: name}

	var f *ir.Func

	for st, line := 0, 1; st < len(text); line++ {
		end := bytes.IndexByte(text[st:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += st
		}

		b := text[st:end]
		st = end + 1

		if c := bytes.Index(b, []byte("//")); c >= 0 {
			b = b[:c]
		}

		b = SpaceAll.Trim(b)

		i := SpaceTab.Skip(b, 0)
		if i == len(b) {
			continue
		}

		f, i, err = parseLine(b, i, pkg, f)
		if err != nil {
			return nil, PosError{Name: name, Line: line, Col: i + 1, Err: err}
		}
	}

	if tr.If("dump_listing") {
		for _, f := range pkg.Funcs {
			tr.Printw("parsed func", "name", f.Name, "frame", f.Frame, "ops", len(f.Code))
		}
	}

	return pkg, nil
}

func parseLine(b []byte, st int, pkg *ir.Package, f *ir.Func) (_ *ir.Func, i int, err error) {
	w, j, _ := word(b, st)

	switch w {
	case "package":
		i = SpaceTab.Skip(b, j)

		if i == j || i == len(b) {
			return f, i, errors.New("package path expected")
		}

		pkg.Path = string(b[i:])

		return f, len(b), nil
	case "func":
		f, i, err = header(b, j)
		if err != nil {
			return nil, i, err
		}

		pkg.Funcs = append(pkg.Funcs, f)

		return f, i, nil
	}

	if f == nil {
		return nil, st, errors.New("op outside of func")
	}

	x, i, err := op(b, st)
	if err != nil {
		return f, i, err
	}

	f.Code = append(f.Code, x)

	return f, i, nil
}

// header parses the rest of: func name [frame=N]
func header(b []byte, st int) (f *ir.Func, i int, err error) {
	i = SpaceTab.Skip(b, st)
	if i == st {
		return nil, i, errors.New("func name expected")
	}

	f = &ir.Func{}

	f.Name, i, err = symbol(b, i)
	if err != nil {
		return nil, i, err
	}

	i = SpaceTab.Skip(b, i)

	if j, ok := consume(b, i, "frame="); ok {
		var v int64

		v, i, err = integer(b, j)
		if err != nil {
			return nil, i, errors.Wrap(err, "frame")
		}

		f.Frame, err = safecast.Conv[int32](v)
		if err != nil || f.Frame < 0 {
			return nil, j, errors.New("bad frame size: %d", v)
		}
	}

	if i = SpaceTab.Skip(b, i); i != len(b) {
		return nil, i, errors.New("unexpected text after func header")
	}

	return f, i, nil
}

func (e PosError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %v", e.Name, e.Line, e.Col, e.Err)
}

func (e PosError) Unwrap() error { return e.Err }
