package back

import (
	"math"
	"math/bits"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"

	"github.com/slowlang/x64/compiler/asm"
	"github.com/slowlang/x64/compiler/ir"
)

const stackTop = 0x7fff_0000

// machine interprets lowered code.
// Scratch registers are filled with junk at every op boundary,
// so reading one before writing it within an op corrupts the result.
type machine struct {
	t testing.TB

	gp  [16]uint64
	xmm [16][2]uint64
	mem map[uint64]byte

	cf, zf, sf, of, pf bool

	calls map[asm.Label]func(m *machine)
	funcs map[uint64]asm.Label

	marks   map[int]bool
	scratch []asm.Reg
	rnd     *rand.Rand

	steps int
}

func newMachine(t testing.TB) *machine {
	m := &machine{
		t:     t,
		mem:   map[uint64]byte{},
		calls: map[asm.Label]func(*machine){},
		funcs: map[uint64]asm.Label{},
		rnd:   rand.New(rand.NewPCG(1, 2)),
	}

	for i := range m.gp {
		m.gp[i] = m.junk()
	}

	for i := range m.xmm {
		m.xmm[i] = [2]uint64{m.junk(), m.junk()}
	}

	m.gp[asm.RSP.ID] = stackTop

	return m
}

func (m *machine) junk() uint64 {
	return m.rnd.Uint64() | 1<<63 | 1<<31 | 1<<15 | 1<<7
}

// lowerMarked lowers f op by op remembering where each op starts.
func lowerMarked(cfg Config, f *ir.Func) (*asm.Code, map[int]bool, error) {
	fn := &fn{cfg: &cfg, code: &asm.Code{Name: f.Name}}
	fn.prologue(f.Frame)

	marks := map[int]bool{}

	for i := range f.Code {
		marks[fn.code.Len()] = true

		err := fn.lower(&f.Code[i])
		if err != nil {
			return nil, nil, err
		}
	}

	return fn.code, marks, nil
}

// exec lowers f with cfg and runs it.
func (m *machine) exec(cfg Config, f *ir.Func) *asm.Code {
	m.t.Helper()

	code, marks, err := lowerMarked(cfg, f)
	require.NoError(m.t, err)

	checkCode(m.t, code)

	m.marks = marks
	m.scratch = append(append([]asm.Reg{}, cfg.Scratch.GP...), cfg.Scratch.SIMD...)

	m.run(code)

	return code
}

func checkCode(t testing.TB, code *asm.Code) {
	t.Helper()

	for i, in := range code.Instrs {
		require.LessOrEqual(t, in.Mems(), 1, "instr %d: %v", i, in)
	}
}

func (m *machine) run(code *asm.Code) {
	m.t.Helper()

	labels := map[asm.Label]int{}

	for i, in := range code.Instrs {
		if in.IsLabel() {
			labels[in.Label] = i
		}
	}

	jump := func(l asm.Label) int {
		pc, ok := labels[l]
		require.True(m.t, ok, "label %v", l)

		return pc
	}

	for pc := 0; pc < len(code.Instrs); {
		if m.marks[pc] {
			for _, r := range m.scratch {
				m.setReg(r, m.junk())

				if r.Class == asm.SIMD {
					m.xmm[r.ID][1] = m.junk()
				}
			}
		}

		in := code.Instrs[pc]
		pc++

		if in.IsLabel() {
			continue
		}

		m.steps++
		require.Less(m.t, m.steps, 100000, "too many steps")

		switch in.Op {
		case x86asm.RET:
			return
		case x86asm.JMP:
			pc = jump(in.Label)
		case x86asm.JE, x86asm.JNE, x86asm.JL, x86asm.JLE, x86asm.JG, x86asm.JGE,
			x86asm.JB, x86asm.JBE, x86asm.JA, x86asm.JAE, x86asm.JS, x86asm.JP, x86asm.JNP:
			if m.cond(in.Op) {
				pc = jump(in.Label)
			}
		case x86asm.CALL:
			l := in.Label
			if !in.Target {
				l = m.funcs[m.get(in, in.Args[0])]
			}

			fn := m.calls[l]
			require.NotNil(m.t, fn, "call %v", l)

			fn(m)
			m.clobber()
		default:
			m.step(in)
		}
	}
}

// clobber spoils registers a callee may change except the result ones.
func (m *machine) clobber() {
	for _, r := range []asm.Reg{asm.RCX, asm.RSI, asm.RDI, asm.R8, asm.R9, asm.R10, asm.R11} {
		m.gp[r.ID] = m.junk()
	}

	for i := 2; i < 16; i++ {
		m.xmm[i] = [2]uint64{m.junk(), m.junk()}
	}
}

func (m *machine) reg(r asm.Reg) uint64 {
	if r.Class == asm.SIMD {
		return m.xmm[r.ID][0]
	}

	return m.gp[r.ID]
}

func (m *machine) setReg(r asm.Reg, v uint64) {
	if r.Class == asm.SIMD {
		m.xmm[r.ID] = [2]uint64{v, 0}
		return
	}

	m.gp[r.ID] = v
}

func (m *machine) load(addr uint64, n int) (v uint64) {
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.mem[addr+uint64(i)])
	}

	return v
}

func (m *machine) store(addr uint64, n int, v uint64) {
	for i := 0; i < n; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
}

func (m *machine) bytes(addr uint64, n int) []byte {
	b := make([]byte, n)

	for i := range b {
		b[i] = m.mem[addr+uint64(i)]
	}

	return b
}

func (m *machine) setBytes(addr uint64, b []byte) {
	for i, x := range b {
		m.mem[addr+uint64(i)] = x
	}
}

// at returns the address of a memory operand with current register values.
func (m *machine) at(x asm.Mem) uint64 {
	a := uint64(int64(x.Disp))

	if x.Base.Valid() {
		a += m.gp[x.Base.ID]
	}

	if x.HasIndex() {
		a += m.gp[x.Index.ID] * uint64(x.Scale)
	}

	return a
}

// value reads an operand as the op would see it at width w.
func (m *machine) value(o asm.Operand, w int) uint64 {
	switch o := o.(type) {
	case asm.Reg:
		return mask(m.reg(o), w)
	case asm.Mem:
		return m.load(m.at(o), w)
	case asm.Imm:
		return mask(uint64(o.Value), w)
	}

	m.t.Fatalf("value of %v", o)

	return 0
}

// place puts v into o before the run.
func (m *machine) place(o asm.Operand, w int, v uint64) {
	switch o := o.(type) {
	case asm.Reg:
		m.setReg(o, v)
	case asm.Mem:
		m.store(m.at(o), w, v)
	case asm.Imm:
	default:
		m.t.Fatalf("place to %v", o)
	}
}

func (m *machine) x86reg(x x86asm.Reg) (asm.Reg, int) {
	r, w, ok := asm.FromX86(x)
	require.True(m.t, ok, "register %v", x)

	return r, int(w)
}

func (m *machine) addr(x x86asm.Mem) uint64 {
	a := uint64(x.Disp)

	if x.Base != 0 {
		r, _ := m.x86reg(x.Base)
		a += m.gp[r.ID]
	}

	if x.Index != 0 {
		r, _ := m.x86reg(x.Index)
		a += m.gp[r.ID] * uint64(x.Scale)
	}

	return a
}

func (m *machine) width(in asm.Instr, a x86asm.Arg) int {
	switch a := a.(type) {
	case x86asm.Reg:
		_, w := m.x86reg(a)
		return w
	case x86asm.Mem:
		return in.MemBytes
	default:
		return in.DataSize / 8
	}
}

func (m *machine) get(in asm.Instr, a x86asm.Arg) uint64 {
	w := m.width(in, a)

	switch a := a.(type) {
	case x86asm.Reg:
		r, _ := m.x86reg(a)
		return mask(m.reg(r), w)
	case x86asm.Mem:
		return m.load(m.addr(a), w)
	case x86asm.Imm:
		return mask(uint64(int64(a)), w)
	}

	m.t.Fatalf("get %v", a)

	return 0
}

func (m *machine) set(in asm.Instr, a x86asm.Arg, v uint64) {
	w := m.width(in, a)

	switch a := a.(type) {
	case x86asm.Reg:
		r, _ := m.x86reg(a)
		m.setGP(r, w, v)
	case x86asm.Mem:
		m.store(m.addr(a), w, v)
	default:
		m.t.Fatalf("set %v", a)
	}
}

func (m *machine) setGP(r asm.Reg, w int, v uint64) {
	require.Equal(m.t, asm.GP, r.Class)

	switch w {
	case 1, 2:
		m.gp[r.ID] = m.gp[r.ID]&^mask(^uint64(0), w) | mask(v, w)
	default:
		m.gp[r.ID] = mask(v, w)
	}
}

func mask(v uint64, w int) uint64 {
	if w >= 8 {
		return v
	}

	return v & (1<<(8*w) - 1)
}

func sext(v uint64, w int) uint64 {
	s := 64 - 8*w
	return uint64(int64(v<<s) >> s)
}

func sign(v uint64, w int) bool { return v>>(8*w-1)&1 == 1 }

func (m *machine) logicFlags(r uint64, w int) {
	r = mask(r, w)

	m.cf, m.of = false, false
	m.zf = r == 0
	m.sf = sign(r, w)
	m.pf = bits.OnesCount8(uint8(r))%2 == 0
}

func (m *machine) subFlags(a, b uint64, w int) {
	a, b = mask(a, w), mask(b, w)
	r := mask(a-b, w)

	m.logicFlags(r, w)
	m.cf = a < b
	m.of = sign(a, w) != sign(b, w) && sign(r, w) != sign(a, w)
}

func (m *machine) addFlags(a, b uint64, w int) {
	a, b = mask(a, w), mask(b, w)
	r := mask(a+b, w)

	m.logicFlags(r, w)
	m.cf = r < a
	m.of = sign(a, w) == sign(b, w) && sign(r, w) != sign(a, w)
}

func (m *machine) cond(op x86asm.Op) bool {
	switch op {
	case x86asm.JE, x86asm.SETE:
		return m.zf
	case x86asm.JNE, x86asm.SETNE:
		return !m.zf
	case x86asm.JL, x86asm.SETL:
		return m.sf != m.of
	case x86asm.JLE, x86asm.SETLE:
		return m.zf || m.sf != m.of
	case x86asm.JG, x86asm.SETG:
		return !m.zf && m.sf == m.of
	case x86asm.JGE, x86asm.SETGE:
		return m.sf == m.of
	case x86asm.JB, x86asm.SETB:
		return m.cf
	case x86asm.JBE, x86asm.SETBE:
		return m.cf || m.zf
	case x86asm.JA, x86asm.SETA:
		return !m.cf && !m.zf
	case x86asm.JAE, x86asm.SETAE:
		return !m.cf
	case x86asm.JS:
		return m.sf
	case x86asm.JP, x86asm.SETP:
		return m.pf
	case x86asm.JNP, x86asm.SETNP:
		return !m.pf
	}

	m.t.Fatalf("condition %v", op)

	return false
}

func (m *machine) push(v uint64) {
	m.gp[asm.RSP.ID] -= 8
	m.store(m.gp[asm.RSP.ID], 8, v)
}

func (m *machine) pop() uint64 {
	v := m.load(m.gp[asm.RSP.ID], 8)
	m.gp[asm.RSP.ID] += 8

	return v
}

func fval(v uint64, w int) float64 {
	if w == 4 {
		return float64(math.Float32frombits(uint32(v)))
	}

	return math.Float64frombits(v)
}

func fbits(f float64, w int) uint64 {
	if w == 4 {
		return uint64(math.Float32bits(float32(f)))
	}

	return math.Float64bits(f)
}

func (m *machine) xreg(a x86asm.Arg) (asm.Reg, bool) {
	x, ok := a.(x86asm.Reg)
	if !ok {
		return asm.Reg{}, false
	}

	r, _ := m.x86reg(x)

	return r, r.Class == asm.SIMD
}

// fget reads w low bytes of an XMM register or memory.
func (m *machine) fget(a x86asm.Arg, w int) uint64 {
	if r, ok := m.xreg(a); ok {
		return mask(m.xmm[r.ID][0], w)
	}

	x, ok := a.(x86asm.Mem)
	require.True(m.t, ok, "sse operand %v", a)

	return m.load(m.addr(x), w)
}

// fset replaces w low bytes of an XMM register.
func (m *machine) fset(r asm.Reg, w int, v uint64) {
	m.xmm[r.ID][0] = m.xmm[r.ID][0]&^mask(^uint64(0), w) | mask(v, w)
}

func (m *machine) sse(in asm.Instr, w int, fn func(a, b float64) float64) {
	d, ok := m.xreg(in.Args[0])
	require.True(m.t, ok, "sse destination %v", in.Args[0])

	a := fval(mask(m.xmm[d.ID][0], w), w)
	b := fval(m.fget(in.Args[1], w), w)

	m.fset(d, w, fbits(fn(a, b), w))
}

func truncFloat(f float64, w int) uint64 {
	lim := math.Ldexp(1, 8*w-1)

	if math.IsNaN(f) || f >= lim || f < -lim {
		return 1 << (8*w - 1)
	}

	return uint64(int64(f))
}

func (m *machine) step(in asm.Instr) {
	a := in.Args

	switch in.Op {
	case x86asm.MOV, x86asm.MOVZX:
		m.set(in, a[0], m.get(in, a[1]))
	case x86asm.MOVSX, x86asm.MOVSXD:
		m.set(in, a[0], sext(m.get(in, a[1]), m.width(in, a[1])))
	case x86asm.LEA:
		m.set(in, a[0], m.addr(a[1].(x86asm.Mem)))
	case x86asm.ADD, x86asm.SUB, x86asm.CMP, x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.TEST:
		w := m.width(in, a[0])
		x, y := m.get(in, a[0]), m.get(in, a[1])

		var r uint64

		switch in.Op {
		case x86asm.ADD:
			r = x + y
			m.addFlags(x, y, w)
		case x86asm.SUB, x86asm.CMP:
			r = x - y
			m.subFlags(x, y, w)
		case x86asm.AND, x86asm.TEST:
			r = x & y
			m.logicFlags(r, w)
		case x86asm.OR:
			r = x | y
			m.logicFlags(r, w)
		case x86asm.XOR:
			r = x ^ y
			m.logicFlags(r, w)
		}

		if in.Op != x86asm.CMP && in.Op != x86asm.TEST {
			m.set(in, a[0], r)
		}
	case x86asm.IMUL:
		if a[2] != nil {
			m.set(in, a[0], m.get(in, a[1])*m.get(in, a[2]))
		} else {
			m.set(in, a[0], m.get(in, a[0])*m.get(in, a[1]))
		}
	case x86asm.NEG:
		m.set(in, a[0], -m.get(in, a[0]))
	case x86asm.NOT:
		m.set(in, a[0], ^m.get(in, a[0]))
	case x86asm.SHL, x86asm.SHR, x86asm.SAR:
		w := m.width(in, a[0])
		x := m.get(in, a[0])

		n := m.get(in, a[1]) & 31
		if w == 8 {
			n = m.get(in, a[1]) & 63
		}

		switch in.Op {
		case x86asm.SHL:
			x <<= n
		case x86asm.SHR:
			x >>= n
		default:
			x = uint64(int64(sext(x, w)) >> n)
		}

		m.set(in, a[0], x)
	case x86asm.SETE, x86asm.SETNE, x86asm.SETL, x86asm.SETLE, x86asm.SETG, x86asm.SETGE,
		x86asm.SETB, x86asm.SETBE, x86asm.SETA, x86asm.SETAE, x86asm.SETP, x86asm.SETNP:
		var v uint64
		if m.cond(in.Op) {
			v = 1
		}

		m.set(in, a[0], v)
	case x86asm.CWD:
		m.setGP(asm.RDX, 2, sext(m.gp[0], 2)>>16)
	case x86asm.CDQ:
		m.setGP(asm.RDX, 4, sext(m.gp[0], 4)>>32)
	case x86asm.CQO:
		m.gp[asm.RDX.ID] = uint64(int64(m.gp[0]) >> 63)
	case x86asm.DIV, x86asm.IDIV:
		m.div(in)
	case x86asm.XCHG:
		x, y := m.get(in, a[0]), m.get(in, a[1])
		m.set(in, a[0], y)
		m.set(in, a[1], x)
	case x86asm.BTC:
		w := m.width(in, a[0])
		n := uint64(int64(a[1].(x86asm.Imm))) % uint64(8*w)
		m.set(in, a[0], m.get(in, a[0])^1<<n)
	case x86asm.PUSH:
		m.push(m.get(in, a[0]))
	case x86asm.POP:
		m.set(in, a[0], m.pop())
	case x86asm.LEAVE:
		m.gp[asm.RSP.ID] = m.gp[asm.RBP.ID]
		m.gp[asm.RBP.ID] = m.pop()
	default:
		m.stepSSE(in)
	}
}

func (m *machine) div(in asm.Instr) {
	w := m.width(in, in.Args[0])
	d := m.get(in, in.Args[0])
	require.NotZero(m.t, d, "division by zero")

	lo, hi := mask(m.gp[asm.RAX.ID], w), mask(m.gp[asm.RDX.ID], w)

	var q, r uint64

	switch {
	case in.Op == x86asm.DIV && w == 8:
		q, r = bits.Div64(hi, lo, d)
	case in.Op == x86asm.DIV:
		n := hi<<(8*w) | lo
		q, r = n/d, n%d
	case w == 8:
		require.Equal(m.t, uint64(int64(lo)>>63), hi, "rdx is not rax sign")

		n, dv := int64(lo), int64(d)
		q, r = uint64(n/dv), uint64(n%dv)
	default:
		n, dv := int64(sext(hi<<(8*w)|lo, 2*w)), int64(sext(d, w))
		q, r = uint64(n/dv), uint64(n%dv)
	}

	m.setGP(asm.RAX, w, q)
	m.setGP(asm.RDX, w, r)
}

func (m *machine) stepSSE(in asm.Instr) {
	a := in.Args

	switch in.Op {
	case x86asm.MOVD, x86asm.MOVQ:
		n := 4
		if in.Op == x86asm.MOVQ {
			n = 8
		}

		if d, ok := m.xreg(a[0]); ok {
			var v uint64

			if s, ok := m.xreg(a[1]); ok {
				v = m.xmm[s.ID][0]
			} else {
				v = m.get(in, a[1])
			}

			m.xmm[d.ID] = [2]uint64{mask(v, n), 0}

			return
		}

		s, _ := m.xreg(a[1])
		m.set(in, a[0], mask(m.xmm[s.ID][0], n))
	case x86asm.MOVSS, x86asm.MOVSD_XMM:
		n := 4
		if in.Op == x86asm.MOVSD_XMM {
			n = 8
		}

		d, dx := m.xreg(a[0])
		s, sx := m.xreg(a[1])

		switch {
		case dx && sx:
			m.fset(d, n, m.xmm[s.ID][0])
		case dx:
			m.xmm[d.ID] = [2]uint64{m.fget(a[1], n), 0}
		default:
			m.store(m.addr(a[0].(x86asm.Mem)), n, m.xmm[s.ID][0])
		}
	case x86asm.MOVAPS:
		d, _ := m.xreg(a[0])
		s, _ := m.xreg(a[1])
		m.xmm[d.ID] = m.xmm[s.ID]
	case x86asm.XORPS:
		d, _ := m.xreg(a[0])
		s, _ := m.xreg(a[1])
		m.xmm[d.ID][0] ^= m.xmm[s.ID][0]
		m.xmm[d.ID][1] ^= m.xmm[s.ID][1]
	case x86asm.ADDSS, x86asm.ADDSD:
		m.sse(in, sseWidth(in.Op, x86asm.ADDSS), func(a, b float64) float64 { return a + b })
	case x86asm.SUBSS, x86asm.SUBSD:
		m.sse(in, sseWidth(in.Op, x86asm.SUBSS), func(a, b float64) float64 { return a - b })
	case x86asm.MULSS, x86asm.MULSD:
		m.sse(in, sseWidth(in.Op, x86asm.MULSS), func(a, b float64) float64 { return a * b })
	case x86asm.DIVSS, x86asm.DIVSD:
		m.sse(in, sseWidth(in.Op, x86asm.DIVSS), func(a, b float64) float64 { return a / b })
	case x86asm.SQRTSS, x86asm.SQRTSD:
		m.sse(in, sseWidth(in.Op, x86asm.SQRTSS), func(_, b float64) float64 { return math.Sqrt(b) })
	case x86asm.UCOMISS, x86asm.UCOMISD:
		w := sseWidth(in.Op, x86asm.UCOMISS)
		x := fval(m.fget(a[0], w), w)
		y := fval(m.fget(a[1], w), w)

		m.of, m.sf = false, false

		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			m.zf, m.pf, m.cf = true, true, true
		case x < y:
			m.zf, m.pf, m.cf = false, false, true
		case x == y:
			m.zf, m.pf, m.cf = true, false, false
		default:
			m.zf, m.pf, m.cf = false, false, false
		}
	case x86asm.CVTSI2SS, x86asm.CVTSI2SD:
		w := sseWidth(in.Op, x86asm.CVTSI2SS)
		d, _ := m.xreg(a[0])
		v := int64(sext(m.get(in, a[1]), m.width(in, a[1])))

		m.fset(d, w, fbits(float64(v), w))
	case x86asm.CVTTSS2SI, x86asm.CVTTSD2SI:
		w := sseWidth(in.Op, x86asm.CVTTSS2SI)
		f := fval(m.fget(a[1], w), w)

		m.set(in, a[0], truncFloat(f, m.width(in, a[0])))
	case x86asm.CVTSS2SD:
		d, _ := m.xreg(a[0])
		m.fset(d, 8, fbits(fval(m.fget(a[1], 4), 4), 8))
	case x86asm.CVTSD2SS:
		d, _ := m.xreg(a[0])
		m.fset(d, 4, fbits(fval(m.fget(a[1], 8), 8), 4))
	default:
		m.t.Fatalf("unsupported instruction: %v", in)
	}
}

func sseWidth(op, single x86asm.Op) int {
	if op == single {
		return 4
	}

	return 8
}
