package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/x64/compiler"
	"github.com/slowlang/x64/compiler/abi"
	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/back"
	"github.com/slowlang/x64/compiler/format"
	"github.com/slowlang/x64/compiler/parse"
	"github.com/slowlang/x64/compiler/tp"
)

func main() {
	parseCmd := &cli.Command{
		Name:        "parse",
		Description: "parse listings and print them back normalized",
		Action:      parseAct,
		Args:        cli.Args{},
	}

	lowerCmd := &cli.Command{
		Name:        "lower",
		Description: "lower listings to x86-64 instructions",
		Action:      lowerAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("config", "", "lowering config file (toml)"),
			cli.NewFlag("jobs,j", 0, "functions lowered in parallel, 0 for config value"),
			cli.NewFlag("syntax", "intel", "assembly syntax: intel or gnu"),
			cli.NewFlag("format,f", "text", "output format: text or msgpack"),
		},
	}

	classifyCmd := &cli.Command{
		Name:        "classify",
		Description: "show how values of types are passed and returned",
		Action:      classifyAct,
		Args:        cli.Args{},
	}

	app := &cli.Command{
		Name:        "slow",
		Description: "slow is a tool for lowering register allocated code to x86-64",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "-", "output file"),
			cli.NewFlag("color", "auto", "colorize output: auto, always or never"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			parseCmd,
			lowerCmd,
			classifyCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func parseAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	var b []byte

	for _, a := range c.Args {
		pkg, err := parse.ParseFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "parse %v", a)
		}

		b, err = format.Format(ctx, b, pkg)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}
	}

	return output(c, b)
}

func lowerAct(c *cli.Command) (err error) {
	ctx := tlog.ContextWithSpan(context.Background(), tlog.Root())

	cfg := back.DefaultConfig()

	if p := c.String("config"); p != "" {
		cfg, err = back.LoadConfig(p)
		if err != nil {
			return err
		}
	}

	if j := c.Int("jobs"); j != 0 {
		cfg.Jobs = j
	}

	syntax, err := asm.ParseSyntax(c.String("syntax"))
	if err != nil {
		return err
	}

	var all []*asm.Code

	for _, a := range c.Args {
		code, err := compiler.LowerFile(ctx, cfg, a)
		if err != nil {
			return errors.Wrap(err, "lower %v", a)
		}

		all = append(all, code...)
	}

	switch f := c.String("format"); f {
	case "text":
		opts := asm.TextOptions{Syntax: syntax}

		if colorize(c) {
			op := paint(c, color.FgCyan, color.Bold)

			opts.Mnemonic = func(s string) string { return op.Sprint(s) }
		}

		return output(c, compiler.AppendText(nil, all, opts))
	case "msgpack":
		data, err := asm.MarshalCode(all...)
		if err != nil {
			return err
		}

		return output(c, data)
	default:
		return errors.New("unsupported format: %q", f)
	}
}

func classifyAct(c *cli.Command) (err error) {
	var b []byte

	name := paint(c, color.FgYellow)

	for _, a := range c.Args {
		t, err := parse.Type(a)
		if err != nil {
			return errors.Wrap(err, "type %q", a)
		}

		b = fmt.Appendf(b, "%s size=%d align=%d\n", name.Sprint(t), t.Size(), t.Align())

		args, err := abi.AssignArgs([]tp.Type{t}, false)
		if err != nil {
			return errors.Wrap(err, "type %v", t)
		}

		arg := args.Args[0]

		switch {
		case arg.ByPointer:
			b = fmt.Appendf(b, "\targ:  by pointer in %v\n", place(arg.Parts[0]))
		default:
			b = fmt.Appendf(b, "\targ:  %s\n", parts(arg.Parts))
		}

		res, err := abi.AssignResults([]tp.Type{t})
		if err != nil {
			return errors.Wrap(err, "type %v", t)
		}

		switch {
		case res.Memory:
			b = fmt.Appendf(b, "\tret:  in memory, pointer in %v and %v\n", abi.IntArgs[0], abi.IntResults[0])
		default:
			b = fmt.Appendf(b, "\tret:  %s\n", parts(res.Parts))
		}
	}

	return output(c, b)
}

func parts(ps []abi.Part) string {
	l := make([]string, len(ps))

	for i, p := range ps {
		l[i] = fmt.Sprintf("%v %v %v", p.Slot.Class, p.Slot, place(p))
	}

	return strings.Join(l, ", ")
}

func place(p abi.Part) string {
	if p.InReg() {
		return p.Reg.String()
	}

	return fmt.Sprintf("[rsp+%d]", p.Stack)
}

func paint(c *cli.Command, attrs ...color.Attribute) *color.Color {
	p := color.New(attrs...)

	if colorize(c) {
		p.EnableColor()
	} else {
		p.DisableColor()
	}

	return p
}

func colorize(c *cli.Command) bool {
	switch c.String("color") {
	case "always", "on":
		return true
	case "never", "off":
		return false
	}

	if p := c.String("output"); p != "" && p != "-" {
		return false
	}

	return term.IsTerminal(int(os.Stdout.Fd()))
}

func output(c *cli.Command, b []byte) (err error) {
	var w io.Writer = os.Stdout

	if p := c.String("output"); p != "" && p != "-" {
		var f *os.File

		f, err = os.Create(p)
		if err != nil {
			return errors.Wrap(err, "create output")
		}

		defer func() {
			e := f.Close()
			if err == nil && e != nil {
				err = errors.Wrap(e, "close output")
			}
		}()

		w = f
	}

	_, err = w.Write(b)
	if err != nil {
		return errors.Wrap(err, "write")
	}

	return nil
}
