package back

import (
	"golang.org/x/arch/x86/x86asm"
	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/slowlang/x64/compiler/asm"
)

type (
	moveKind uint8

	// field is one value merged into a register at bit shift.
	field struct {
		src   asm.Operand
		w     asm.Width
		shift int
	}

	// move is one transfer of a parallel move set.
	// All sources are read as they were before the set started.
	move struct {
		kind moveKind

		dst asm.Operand
		src asm.Operand

		w     asm.Width // value width, byte count for moveLoad
		shift int       // moveExtract

		fields []field // moveMerge

		idx     int
		readers int
	}

	moveQueue struct {
		heap.Heap[*move]
	}
)

const (
	moveValue moveKind = iota
	moveAddr
	moveLoad
	moveMerge
	moveExtract
)

func movesLess(d []*move, i, j int) bool {
	if d[i].readers != d[j].readers {
		return d[i].readers < d[j].readers
	}

	return d[i].idx < d[j].idx
}

func (m *move) srcs() []asm.Operand {
	if m.kind != moveMerge {
		return []asm.Operand{m.src}
	}

	l := make([]asm.Operand, len(m.fields))

	for i, f := range m.fields {
		l[i] = f.src
	}

	return l
}

// uses reports whether executing m reads register r.
func (m *move) uses(r asm.Reg) bool {
	if d, ok := m.dst.(asm.Mem); ok && asm.Uses(d, r) {
		return true
	}

	for _, s := range m.srcs() {
		if asm.Uses(s, r) {
			return true
		}
	}

	return false
}

// readsMem reports whether m reads memory overlapping w bytes at d.
// Addresses through different registers are assumed disjoint.
func (m *move) readsMem(d asm.Mem, w asm.Width) bool {
	if m.kind == moveAddr {
		return false
	}

	for i, s := range m.srcs() {
		x, ok := s.(asm.Mem)
		if !ok || x.Base != d.Base || x.Index != d.Index || x.Scale != d.Scale {
			continue
		}

		sw := m.w
		if m.kind == moveMerge {
			sw = m.fields[i].w
		}

		if x.Disp < d.Disp+int32(w) && d.Disp < x.Disp+int32(sw) {
			return true
		}
	}

	return false
}

// blocks reports whether writing m.dst destroys something p reads.
func (m *move) blocks(p *move) bool {
	if m == p {
		return false
	}

	switch d := m.dst.(type) {
	case asm.Reg:
		return p.uses(d)
	case asm.Mem:
		return p.readsMem(d, m.w)
	default:
		return false
	}
}

func (m *move) rebase(r, to asm.Reg) {
	if d, ok := m.dst.(asm.Mem); ok {
		m.dst = d.Rebase(r, to)
	}

	m.src = asm.Rebase(m.src, r, to)

	for i := range m.fields {
		m.fields[i].src = asm.Rebase(m.fields[i].src, r, to)
	}
}

// swap exchanges registers a and b wherever m reads them.
func (m *move) swap(a, b asm.Reg) {
	sw := func(o asm.Operand) asm.Operand {
		switch x := o.(type) {
		case asm.Reg:
			switch x {
			case a:
				return b
			case b:
				return a
			}
		case asm.Mem:
			if x.Base.Valid() {
				x.Base = swapReg(x.Base, a, b)
			}

			if x.HasIndex() {
				x.Index = swapReg(x.Index, a, b)
			}

			return x
		}

		return o
	}

	if _, ok := m.dst.(asm.Mem); ok {
		m.dst = sw(m.dst)
	}

	m.src = sw(m.src)

	for i := range m.fields {
		m.fields[i].src = sw(m.fields[i].src)
	}
}

func swapReg(r, a, b asm.Reg) asm.Reg {
	switch r {
	case a:
		return b
	case b:
		return a
	default:
		return r
	}
}

func (m *move) noop() bool {
	return m.kind == moveValue && asm.Same(m.dst, m.src)
}

// parallel performs all moves as if at once.
// A move runs when nothing pending reads its destination.
// Cycles are broken with xchg for general purpose registers
// or by saving the blocking destination into a scratch register.
func (u *unit) parallel(ms []*move) {
	q := moveQueue{Heap: heap.Heap[*move]{Less: movesLess}}

	for i, m := range ms {
		if m.noop() {
			continue
		}

		m.idx = i
		q.Data = append(q.Data, m)
	}

	var saved []asm.Reg

	q.reorder()

	for q.Len() != 0 && u.err == nil {
		m := q.Pop()

		if m.readers != 0 {
			tlog.V("move_cycle").Printw("break cycle", "dst", m.dst, "src", m.src, "readers", m.readers)

			t, done := u.breakCycle(q.Data, m)
			if t.Valid() {
				saved = append(saved, t)
			}

			if !done {
				u.emitMove(m)
			}
		} else {
			u.emitMove(m)
		}

		q.reorder()

		saved = u.releaseSaved(q.Data, saved)
	}

	for _, t := range saved {
		u.free(t)
	}
}

// reorder recounts readers of each pending move and rebuilds the heap.
func (q *moveQueue) reorder() {
	pending := append([]*move(nil), q.Data...)
	q.Data = q.Data[:0]

	for _, m := range pending {
		m.readers = 0

		for _, p := range pending {
			if m.blocks(p) {
				m.readers++
			}
		}

		q.Push(m)
	}
}

func (u *unit) releaseSaved(pending []*move, saved []asm.Reg) []asm.Reg {
	i := 0

outer:
	for _, t := range saved {
		for _, p := range pending {
			if p.uses(t) {
				saved[i] = t
				i++

				continue outer
			}
		}

		u.free(t)
	}

	return saved[:i]
}

// breakCycle unblocks m. It returns the scratch register now holding
// the old value of m.dst and whether m itself was done.
func (u *unit) breakCycle(pending []*move, m *move) (t asm.Reg, done bool) {
	d, ok := m.dst.(asm.Reg)
	if !ok {
		u.fail(UnsupportedOperandCombination, "memory move cycle at %v", m.dst)
		return t, true
	}

	// xchg leaves the old d in s, so s must be overwritten later
	if s, ok := m.src.(asm.Reg); ok && m.kind == moveValue && d.Class == asm.GP && s.Class == asm.GP && writes(pending, m, s) {
		u.ins(x86asm.XCHG, asm.Qword, d, s)

		for _, p := range pending {
			p.swap(d, s)
		}

		return t, true
	}

	t = u.scratch(d.Class)
	u.movToReg(asm.Qword, t, d)

	for _, p := range pending {
		p.rebase(d, t)
	}

	m.rebase(d, t)

	return t, false
}

// writes reports whether a pending move other than m has destination r.
func writes(pending []*move, m *move, r asm.Reg) bool {
	for _, p := range pending {
		if p != m && asm.Same(p.dst, r) {
			return true
		}
	}

	return false
}

func (u *unit) emitMove(m *move) {
	switch m.kind {
	case moveValue:
		u.mov(m.w, moveClass(m.dst, m.src), m.dst, m.src)
	case moveAddr:
		src := m.src.(asm.Mem)

		if d, ok := m.dst.(asm.Reg); ok {
			u.lea(d, src)
			break
		}

		t := u.gp()
		u.lea(t, src)
		u.mov(asm.Qword, asm.GP, m.dst, t)
		u.free(t)
	case moveLoad:
		u.loadBytes(m.dst.(asm.Reg), m.src.(asm.Mem), int(m.w))
	case moveMerge:
		u.merge(m.dst.(asm.Reg), m.fields)
	case moveExtract:
		u.extract(m.dst, m.src.(asm.Reg), m.w, m.shift)
	}
}

func moveClass(ops ...asm.Operand) asm.Class {
	for _, o := range ops {
		if r, ok := o.(asm.Reg); ok {
			return r.Class
		}
	}

	return asm.GP
}

// pieces splits n bytes into loadable widths, widest first.
func pieces(n int) (l []asm.Width) {
	for _, w := range []asm.Width{asm.Qword, asm.Dword, asm.Word, asm.Byte} {
		for n >= int(w) {
			l = append(l, w)
			n -= int(w)
		}
	}

	return l
}

// loadBytes loads exactly n bytes at m into d zero extended.
// Nothing past the n bytes is read.
func (u *unit) loadBytes(d asm.Reg, m asm.Mem, n int) {
	if d.Class == asm.SIMD {
		if n == 4 || n == 8 {
			u.movToReg(asm.Width(n), d, m)
			return
		}

		t := u.gp()
		u.loadBytes(t, m, n)
		u.movToReg(asm.Qword, d, t)
		u.free(t)

		return
	}

	ps := pieces(n)

	if len(ps) == 1 {
		u.extend(d, asm.Qword, m, ps[0], false)
		return
	}

	// d may be part of the address, it is written last
	acc := d
	if asm.Clobbers(d, m) {
		acc = u.gp()
		defer u.free(acc)
	}

	t := u.gp()
	off := int32(0)

	for i, w := range ps {
		pm := m.Offset(off)

		if i == 0 {
			u.extend(acc, asm.Qword, pm, w, false)
		} else {
			u.extend(t, asm.Qword, pm, w, false)
			u.ins(x86asm.SHL, asm.Qword, t, asm.I(int64(off)*8))
			u.ins(x86asm.OR, asm.Qword, acc, t)
		}

		off += int32(w)
	}

	u.free(t)
	u.mov(asm.Qword, asm.GP, d, acc)
}

// storeBytes stores exactly n low bytes of s at m.
func (u *unit) storeBytes(m asm.Mem, s asm.Reg, n int) {
	ps := pieces(n)

	if len(ps) == 1 {
		u.store(ps[0], m, s)
		return
	}

	t := u.gp()
	u.movToReg(asm.Qword, t, s)

	off := int32(0)

	for i, w := range ps {
		if i != 0 {
			u.ins(x86asm.SHR, asm.Qword, t, asm.I(int64(ps[i-1])*8))
		}

		u.store(w, m.Offset(off), t)
		off += int32(w)
	}

	u.free(t)
}

// merge builds a register from scalar fields of a tuple.
func (u *unit) merge(d asm.Reg, fs []field) {
	if len(fs) == 1 && fs[0].shift == 0 {
		u.mov(fs[0].w, moveClass(d, fs[0].src), d, fs[0].src)
		return
	}

	acc := d

	if d.Class != asm.GP || u.mergeUses(fs[1:], d) {
		acc = u.gp()
		defer u.free(acc)
	}

	t := u.gp()

	for i, f := range fs {
		r := t
		if i == 0 {
			r = acc
		}

		u.zeroExtend(r, f.src, f.w)

		if f.shift != 0 {
			u.ins(x86asm.SHL, asm.Qword, r, asm.I(int64(f.shift)))
		}

		if i != 0 {
			u.ins(x86asm.OR, asm.Qword, acc, r)
		}
	}

	u.free(t)
	u.movToReg(asm.Qword, d, acc)
}

func (u *unit) mergeUses(fs []field, r asm.Reg) bool {
	for _, f := range fs {
		if asm.Clobbers(r, f.src) {
			return true
		}
	}

	return false
}

// zeroExtend loads a w byte value of any class into a general purpose register.
func (u *unit) zeroExtend(d asm.Reg, src asm.Operand, w asm.Width) {
	if r, ok := src.(asm.Reg); ok && r.Class == asm.SIMD {
		// movd clears the upper half
		u.movToReg(w, d, r)
		return
	}

	u.extend(d, asm.Qword, src, w, false)
}

// extract moves w bytes at bit shift of s into d.
func (u *unit) extract(d asm.Operand, s asm.Reg, w asm.Width, shift int) {
	if shift == 0 {
		u.mov(w, moveClass(d, s), d, s)
		return
	}

	t := u.gp()
	u.movToReg(asm.Qword, t, s)
	u.ins(x86asm.SHR, asm.Qword, t, asm.I(int64(shift)))
	u.mov(w, asm.GP, d, t)
	u.free(t)
}
