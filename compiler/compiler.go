package compiler

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/back"
	"github.com/slowlang/x64/compiler/parse"
)

func LowerFile(ctx context.Context, cfg back.Config, name string) (code []*asm.Code, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Lower(ctx, cfg, name, text)
}

// Lower parses a listing and lowers all its functions.
func Lower(ctx context.Context, cfg back.Config, name string, text []byte) (code []*asm.Code, err error) {
	pkg, err := parse.Parse(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse listing")
	}

	c, err := back.New(cfg)
	if err != nil {
		return nil, err
	}

	code, err = c.LowerPackage(ctx, pkg)
	if err != nil {
		return nil, errors.Wrap(err, "lower")
	}

	return code, nil
}

// AppendText renders functions one after another separated by empty lines.
func AppendText(b []byte, code []*asm.Code, opts asm.TextOptions) []byte {
	for i, c := range code {
		if i != 0 {
			b = append(b, '\n')
		}

		b = c.AppendText(b, opts)
	}

	return b
}
