package back

import (
	"github.com/BurntSushi/toml"
	"tlog.app/go/errors"

	"github.com/slowlang/x64/compiler/abi"
	"github.com/slowlang/x64/compiler/asm"
)

type (
	// Scratch are registers reserved for lowering.
	// The register allocator never assigns them.
	Scratch struct {
		GP   []asm.Reg
		SIMD []asm.Reg
	}

	Config struct {
		Scratch Scratch

		// Jobs limits functions lowered in parallel.
		Jobs int

		// Fold computes operations on immediates at lowering time.
		// It is on by default. Turning it off makes the units emit
		// the instruction sequence instead, for checking folded results.
		// Division of immediates is folded regardless.
		Fold bool
	}

	fileConfig struct {
		Jobs *int  `toml:"jobs"`
		Fold *bool `toml:"fold"`

		Scratch struct {
			GP   []string `toml:"gp"`
			SIMD []string `toml:"simd"`
		} `toml:"scratch"`
	}
)

func DefaultScratch() Scratch {
	return Scratch{
		GP:   []asm.Reg{asm.R10, asm.R11},
		SIMD: []asm.Reg{asm.X(14), asm.X(15)},
	}
}

func DefaultConfig() Config {
	return Config{
		Scratch: DefaultScratch(),
		Jobs:    4,
		Fold:    true,
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (c Config, err error) {
	c = DefaultConfig()

	var fc fileConfig

	_, err = toml.DecodeFile(path, &fc)
	if err != nil {
		return c, errors.Wrap(err, "decode %v", path)
	}

	if fc.Jobs != nil {
		c.Jobs = *fc.Jobs
	}

	if fc.Fold != nil {
		c.Fold = *fc.Fold
	}

	if fc.Scratch.GP != nil {
		c.Scratch.GP, err = parseRegs(fc.Scratch.GP, asm.GP)
		if err != nil {
			return c, errors.Wrap(err, "scratch.gp")
		}
	}

	if fc.Scratch.SIMD != nil {
		c.Scratch.SIMD, err = parseRegs(fc.Scratch.SIMD, asm.SIMD)
		if err != nil {
			return c, errors.Wrap(err, "scratch.simd")
		}
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	if c.Jobs < 0 {
		return errors.New("negative jobs: %d", c.Jobs)
	}

	seen := map[asm.Reg]bool{}

	for _, r := range append(append([]asm.Reg{}, c.Scratch.GP...), c.Scratch.SIMD...) {
		if seen[r] {
			return errors.New("duplicate scratch register: %v", r)
		}

		seen[r] = true
	}

	fixed := append([]asm.Reg{asm.RAX, asm.RDX, asm.RSP, asm.RBP}, abi.IntArgs...)
	fixed = append(fixed, abi.FloatArgs...)

	for _, r := range fixed {
		if seen[r] {
			return errors.New("%v can't be a scratch register", r)
		}
	}

	return nil
}

func parseRegs(names []string, cls asm.Class) ([]asm.Reg, error) {
	l := make([]asm.Reg, 0, len(names))

	for _, n := range names {
		r, ok := asm.ParseReg(n)
		if !ok {
			return nil, errors.New("unknown register: %q", n)
		}

		if r.Class != cls {
			return nil, errors.New("%v: expected %v register", n, cls)
		}

		l = append(l, r)
	}

	return l, nil
}
