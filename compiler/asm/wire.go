package asm

import (
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/arch/x86/x86asm"
	"tlog.app/go/errors"
)

type (
	// Record is the flat export form of an instruction for an external encoder.
	Record struct {
		Label    string      `msgpack:"label,omitempty"`
		Op       string      `msgpack:"op,omitempty"`
		Args     []RecordArg `msgpack:"args,omitempty"`
		MemBytes int         `msgpack:"mem,omitempty"`
		DataSize int         `msgpack:"data,omitempty"`
	}

	RecordArg struct {
		Reg    string `msgpack:"reg,omitempty"`
		Base   string `msgpack:"base,omitempty"`
		Index  string `msgpack:"index,omitempty"`
		Scale  uint8  `msgpack:"scale,omitempty"`
		Disp   int64  `msgpack:"disp,omitempty"`
		Imm    *int64 `msgpack:"imm,omitempty"`
		Target string `msgpack:"target,omitempty"`
	}

	Object struct {
		Name   string   `msgpack:"name"`
		Instrs []Record `msgpack:"instrs"`
	}
)

func (in Instr) Record() Record {
	if in.IsLabel() {
		return Record{Label: string(in.Label)}
	}

	r := Record{
		Op:       Mnemonic(in.Op),
		MemBytes: in.MemBytes,
		DataSize: in.DataSize,
	}

	for _, a := range in.Args {
		if a == nil {
			break
		}

		var ra RecordArg

		switch a := a.(type) {
		case x86asm.Reg:
			ra.Reg = regName(a)
		case x86asm.Mem:
			if a.Base != 0 {
				ra.Base = regName(a.Base)
			}

			if a.Index != 0 {
				ra.Index = regName(a.Index)
				ra.Scale = a.Scale
			}

			ra.Disp = a.Disp
		case x86asm.Imm:
			v := int64(a)
			ra.Imm = &v
		case x86asm.Rel:
			ra.Target = string(in.Label)
		}

		r.Args = append(r.Args, ra)
	}

	return r
}

// MarshalCode encodes functions as a msgpack array of objects.
func MarshalCode(fs ...*Code) ([]byte, error) {
	objs := make([]Object, len(fs))

	for i, c := range fs {
		objs[i].Name = c.Name
		objs[i].Instrs = make([]Record, len(c.Instrs))

		for j, in := range c.Instrs {
			objs[i].Instrs[j] = in.Record()
		}
	}

	data, err := msgpack.Marshal(objs)
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}

	return data, nil
}

func UnmarshalObjects(data []byte) (objs []Object, err error) {
	err = msgpack.Unmarshal(data, &objs)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal")
	}

	return objs, nil
}
