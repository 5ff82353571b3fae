// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package imp

import (
	"fmt"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/lower"
	"github.com/airlower/airlower/internal/name"
	"github.com/airlower/airlower/internal/sizemath"
)

// Translate walks a dest-passing DestBlock and emits the Imp function
// realizing it (spec.md 4.5): top-level destinations are allocated
// first, then decls are walked in order, and managed allocations are
// freed at the end of the enclosing block in reverse allocation order
// (spec.md 5). The function's scalar results are the Unmanaged
// destination pointers; Recon describes how to reassemble the logical
// result atom from them.
func Translate(names *name.Scope, db *lower.DestBlock, backend Backend, dev Device) (*FunctionWithRecon, error) {
	t := &translator{
		names:   names,
		backend: backend,
		dev:     dev,
		env:     make(map[name.Name]tval),
	}
	t.pushFrame()
	for _, p := range db.Ptrs {
		t.pending = append(t.pending, p)
	}
	if err := t.drainPending(); err != nil {
		return nil, err
	}
	for _, d := range db.Body.Decls {
		if err := t.decl(d.Ann); err != nil {
			return nil, err
		}
		if err := t.drainPending(); err != nil {
			return nil, err
		}
	}
	for _, p := range t.pending {
		if !t.emitted[p.Name] {
			return nil, fmt.Errorf("imp: allocation size for %v never became available", p.Name)
		}
	}

	var results []Operand
	var resultTys []IType
	var reconNames []name.Name
	for _, p := range db.Ptrs {
		if p.Mode != dest.Unmanaged {
			continue
		}
		r, err := t.lookup(p.Name)
		if err != nil {
			return nil, err
		}
		op, err := t.scalar(r)
		if err != nil {
			return nil, err
		}
		results = append(results, op)
		resultTys = append(resultTys, op.Ty())
		reconNames = append(reconNames, p.Name)
	}

	body := t.popFrame()
	body.Results = results

	fn := &Function{
		Name: "entry",
		Ty:   FunType{CC: CInternalFun, Results: resultTys},
		Body: body,
	}
	recon := &AtomRecon{Binders: reconNames, Template: reconTemplate(db.Dest, reconNames)}
	return &FunctionWithRecon{Fun: fn, Recon: recon}, nil
}

// tval is a translated value: a scalar Operand, a tuple of tvals (a
// product/sum flattened into components), or unit.
type tval interface{}

type tuple []tval

type unit struct{}

type frame struct {
	decls []*Decl
	frees []Operand
}

type translator struct {
	names   *name.Scope
	backend Backend
	dev     Device
	env     map[name.Name]tval
	frames  []*frame
	pending []dest.PtrAlloc
	emitted map[name.Name]bool
}

func (t *translator) pushFrame() { t.frames = append(t.frames, &frame{}) }

// popFrame seals the top frame into a Block, emitting Free for its
// managed heap allocations in reverse order of allocation.
func (t *translator) popFrame() *Block {
	f := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]
	for i := len(f.frees) - 1; i >= 0; i-- {
		f.decls = append(f.decls, &Decl{Instr: &Free{Ptr: f.frees[i]}})
	}
	return &Block{Decls: f.decls}
}

func (t *translator) top() *frame { return t.frames[len(t.frames)-1] }

func (t *translator) emit(binders []IBinder, in Instr) {
	f := t.top()
	f.decls = append(f.decls, &Decl{Binders: binders, Instr: in})
}

// bindReg emits in with one fresh-typed binder for n and records the
// register in the environment.
func (t *translator) bindReg(n name.Name, ty IType, in Instr) Reg {
	r := Reg{Name: n, T: ty}
	t.emit([]IBinder{{Name: n, T: ty}}, in)
	t.env[n] = r
	return r
}

func (t *translator) lookup(n name.Name) (tval, error) {
	v, ok := t.env[n]
	if !ok {
		return nil, fmt.Errorf("imp: unbound name %v", n)
	}
	return v, nil
}

// drainPending emits Alloc for every queued pointer whose size operand
// is resolvable, repeating until no progress: sizes computed by interior
// decls become available as the body walk proceeds.
func (t *translator) drainPending() error {
	if t.emitted == nil {
		t.emitted = make(map[name.Name]bool)
	}
	for progress := true; progress; {
		progress = false
		for _, p := range t.pending {
			if t.emitted[p.Name] {
				continue
			}
			sizeOp, ok := t.countOperand(p.Count)
			if !ok {
				continue
			}
			t.allocPtr(p, sizeOp)
			t.emitted[p.Name] = true
			progress = true
		}
	}
	return nil
}

func (t *translator) countOperand(a air.Atom) (Operand, bool) {
	switch v := a.(type) {
	case *air.Con:
		return Lit{I: v.I, T: Scalar{Base: air.IdxRepTy}}, true
	case *air.Var:
		if tv, ok := t.env[v.Name]; ok {
			if op, ok := tv.(Operand); ok {
				return op, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func (t *translator) allocPtr(p dest.PtrAlloc, size Operand) {
	// A literal element count times the element width gives the
	// syntactic byte size chooseAddrSpace keys on; a product that
	// overflows the index range is treated as non-literal, which
	// forces the heap path.
	sizeBytes := int64(-1)
	if l, ok := size.(Lit); ok && l.I >= 0 {
		if b, err := sizemath.Mul(uint64(l.I), uint64(p.Base.Size())); err == nil {
			sizeBytes = int64(b)
		}
	}
	addr := chooseAddrSpace(t.backend, t.dev, p.Mode, sizeBytes)
	ty := PtrType{Addr: addr, Elem: Scalar{Base: p.Base}}
	r := t.bindReg(p.Name, ty, &Alloc{Addr: addr, Elem: Scalar{Base: p.Base}, Size: size})
	if addr != Stack && p.Mode == dest.Managed {
		f := t.top()
		f.frees = append(f.frees, r)
	}
}

// decl translates one high-IR decl into zero or more Imp decls.
func (t *translator) decl(d *air.Decl) error {
	switch e := d.Expr.(type) {
	case *air.AtomExpr:
		v, err := t.atom(e.Val)
		if err != nil {
			return err
		}
		t.env[d.Binder.Name] = v
		return nil
	case *air.Op:
		return t.op(d.Binder.Name, e)
	case *air.HofExpr:
		return t.hof(d.Binder.Name, e.H)
	case *air.CaseExpr:
		return t.caseExpr(d.Binder.Name, e)
	default:
		return fmt.Errorf("imp: %T not implemented in Imp", d.Expr)
	}
}

// atom translates a value atom into its flattened Imp form.
func (t *translator) atom(a air.Atom) (tval, error) {
	switch v := a.(type) {
	case *air.Var:
		return t.lookup(v.Name)
	case *air.ImpVar:
		return t.lookup(v.Name)
	case *air.Con:
		if _, isUnit := v.Ty.(*air.UnitType); isUnit || v.Ty == nil {
			return unit{}, nil
		}
		ty, err := itype(v.Ty)
		if err != nil {
			return nil, err
		}
		return Lit{I: v.I, F: v.F, T: ty}, nil
	case *air.Proj:
		base, err := t.atom(v.Base)
		if err != nil {
			return nil, err
		}
		for _, i := range v.Path {
			tp, ok := base.(tuple)
			if !ok || i >= len(tp) {
				return nil, fmt.Errorf("imp: projection %d into non-tuple value", i)
			}
			base = tp[i]
		}
		return base, nil
	case *air.DepPair:
		l, err := t.atom(v.Left)
		if err != nil {
			return nil, err
		}
		r, err := t.atom(v.Right)
		if err != nil {
			return nil, err
		}
		return tuple{l, r}, nil
	case *air.DataConApp:
		out := make(tuple, len(v.Args))
		for i, arg := range v.Args {
			tv, err := t.atom(arg)
			if err != nil {
				return nil, err
			}
			out[i] = tv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("imp: atom %T not implemented in Imp", a)
	}
}

func (t *translator) scalar(v tval) (Operand, error) {
	op, ok := v.(Operand)
	if !ok {
		return nil, fmt.Errorf("imp: expected a scalar operand, got %T", v)
	}
	return op, nil
}

func (t *translator) scalarArgs(args []air.Atom) ([]Operand, error) {
	out := make([]Operand, len(args))
	for i, a := range args {
		v, err := t.atom(a)
		if err != nil {
			return nil, err
		}
		op, err := t.scalar(v)
		if err != nil {
			return nil, err
		}
		out[i] = op
	}
	return out, nil
}

// op is the per-primitive lowering table.
func (t *translator) op(bind name.Name, o *air.Op) error {
	switch o.Kind {
	case air.OpBinOp, air.OpUnOp, air.OpOrdinal, air.OpUnsafeFromOrdinal, air.OpVectorSubref:
		args, err := t.scalarArgs(o.Args)
		if err != nil {
			return err
		}
		ty, err := itype(o.ResultTy)
		if err != nil {
			return err
		}
		t.bindReg(bind, ty, &PrimOp{Prim: o.Prim, Args: args, Result: ty})
		return nil

	case air.OpPtrOffset:
		args, err := t.scalarArgs(o.Args)
		if err != nil {
			return err
		}
		// The offset pointer inherits the base pointer's address space.
		ty := args[0].Ty()
		t.bindReg(bind, ty, &PrimOp{Prim: "ptradd", Args: args, Result: ty})
		return nil

	case air.OpPtrLoad:
		args, err := t.scalarArgs(o.Args)
		if err != nil {
			return err
		}
		ty, err := itype(o.ResultTy)
		if err != nil {
			return err
		}
		t.bindReg(bind, ty, &Load{Ptr: args[0]})
		return nil

	case air.OpPlace:
		args, err := t.scalarArgs(o.Args)
		if err != nil {
			return err
		}
		t.emit(nil, &Store{Ptr: args[0], Val: args[1]})
		t.env[bind] = unit{}
		return nil

	case air.OpCastOp, air.OpBitcastOp:
		args, err := t.scalarArgs(o.Args)
		if err != nil {
			return err
		}
		ty, err := itype(o.ResultTy)
		if err != nil {
			return err
		}
		if o.Kind == air.OpBitcastOp {
			t.bindReg(bind, ty, &BitcastOp{Arg: args[0], To: ty})
		} else {
			t.bindReg(bind, ty, &CastOp{Arg: args[0], To: ty})
		}
		return nil

	case air.OpVectorBroadcast:
		args, err := t.scalarArgs(o.Args)
		if err != nil {
			return err
		}
		ty, err := itype(o.ResultTy)
		if err != nil {
			return err
		}
		t.bindReg(bind, ty, &VectorBroadcast{Arg: args[0], Result: ty})
		return nil

	case air.OpVectorIota:
		ty, err := itype(o.ResultTy)
		if err != nil {
			return err
		}
		t.bindReg(bind, ty, &VectorIota{Result: ty})
		return nil

	case air.OpThrowError:
		t.emit(nil, &ThrowError{Msg: o.Prim})
		t.env[bind] = unit{}
		return nil

	case air.OpFreeze:
		switch o.Prim {
		case "prod", "sum":
			out := make(tuple, len(o.Args))
			for i, a := range o.Args {
				v, err := t.atom(a)
				if err != nil {
					return err
				}
				out[i] = v
			}
			t.env[bind] = out
			return nil
		default:
			// Freezing a whole table yields no scalar value: the
			// buffers themselves are the value, and they are returned
			// through the function's results.
			t.env[bind] = unit{}
			return nil
		}

	default:
		return fmt.Errorf("imp: op %v not implemented in Imp", o.Kind)
	}
}

func (t *translator) hof(bind name.Name, h air.Hof) error {
	switch v := h.(type) {
	case *air.SeqHof:
		size, err := t.ixSize(v.IxTy)
		if err != nil {
			return err
		}
		idx := IBinder{Name: v.IBind.Name, T: Scalar{Base: air.IdxRepTy}}
		t.env[v.IBind.Name] = Reg{Name: idx.Name, T: idx.T}
		t.env[v.CBind.Name] = unit{}
		t.pushFrame()
		for _, d := range v.Body.Decls {
			if err := t.decl(d.Ann); err != nil {
				t.popFrame()
				return err
			}
			if err := t.drainPending(); err != nil {
				t.popFrame()
				return err
			}
		}
		body := t.popFrame()
		t.emit(nil, &For{Dir: v.Dir, Size: size, Idx: idx, Body: body})
		t.env[bind] = unit{}
		return nil

	case *air.WhileHof:
		t.pushFrame()
		for _, d := range v.Body.Decls {
			if err := t.decl(d.Ann); err != nil {
				t.popFrame()
				return err
			}
		}
		cond, err := t.atom(v.Body.Result)
		if err != nil {
			t.popFrame()
			return err
		}
		condOp, err := t.scalar(cond)
		if err != nil {
			t.popFrame()
			return err
		}
		body := t.popFrame()
		body.Results = []Operand{condOp}
		t.emit(nil, &While{Body: body})
		t.env[bind] = unit{}
		return nil

	default:
		return fmt.Errorf("imp: hof %T not implemented in Imp", h)
	}
}

func (t *translator) ixSize(ix air.IxType) (Operand, error) {
	switch v := ix.(type) {
	case *air.FinType:
		tv, err := t.atom(v.N)
		if err != nil {
			return nil, err
		}
		return t.scalar(tv)
	case *air.DictIxType:
		tv, err := t.atom(v.Size)
		if err != nil {
			return nil, err
		}
		return t.scalar(tv)
	default:
		return nil, fmt.Errorf("imp: index type %v not implemented in Imp", ix)
	}
}

// caseExpr lowers an n-way case to a chain of ICond (spec.md 4.5,
// emitSwitch; the Imp IR targets LLVM `switch` only at codegen time).
// The scrutinee value is the (tag, payload...) tuple loaded from a sum
// destination; only scalar-typed results are supported here - compound
// case results should have been routed through destinations upstream.
func (t *translator) caseExpr(bind name.Name, c *air.CaseExpr) error {
	scrut, err := t.atom(c.Scrutinee)
	if err != nil {
		return err
	}
	parts, ok := scrut.(tuple)
	if !ok || len(parts) < 1+len(c.Alts) {
		return fmt.Errorf("imp: case scrutinee is not a (tag, payloads...) value")
	}
	tag, err := t.scalar(parts[0])
	if err != nil {
		return err
	}
	resTC, ok := c.ResultTy.(*air.TC)
	if !ok {
		return fmt.Errorf("imp: non-scalar case result %v not implemented in Imp", c.ResultTy)
	}
	elem := Scalar{Base: resTC.Base}

	scratchName := t.names.Fresh(name.ColorImp, "caseslot")
	scratch := t.bindReg(scratchName, PtrType{Addr: Stack, Elem: elem},
		&Alloc{Addr: Stack, Elem: elem, Size: Lit{I: 1, T: Scalar{Base: air.IdxRepTy}}})

	blocks := make([]*Block, len(c.Alts))
	for i, alt := range c.Alts {
		t.env[alt.Binder.Name] = parts[1+i]
		t.pushFrame()
		var altErr error
		for _, d := range alt.Body.Decls {
			if altErr = t.decl(d.Ann); altErr != nil {
				break
			}
		}
		if altErr != nil {
			t.popFrame()
			return altErr
		}
		res, err := t.atom(alt.Body.Result)
		if err != nil {
			t.popFrame()
			return err
		}
		resOp, err := t.scalar(res)
		if err != nil {
			t.popFrame()
			return err
		}
		f := t.top()
		f.decls = append(f.decls, &Decl{Instr: &Store{Ptr: scratch, Val: resOp}})
		blocks[i] = t.popFrame()
	}

	t.emitSwitch(tag, blocks)
	t.bindReg(bind, elem, &Load{Ptr: scratch})
	return nil
}

// emitSwitch appends a linear ICond chain selecting one of blocks by
// tag equality.
func (t *translator) emitSwitch(tag Operand, blocks []*Block) {
	if len(blocks) == 1 {
		f := t.top()
		f.decls = append(f.decls, blocks[0].Decls...)
		return
	}
	chain := t.switchChain(tag, 0, blocks)
	f := t.top()
	f.decls = append(f.decls, chain.Decls...)
}

func (t *translator) switchChain(tag Operand, i int, blocks []*Block) *Block {
	if i == len(blocks)-1 {
		return blocks[i]
	}
	cmpName := t.names.Fresh(name.ColorImp, "tagcmp")
	cmpTy := Scalar{Base: air.Word8}
	cmp := Reg{Name: cmpName, T: cmpTy}
	return &Block{Decls: []*Decl{
		{Binders: []IBinder{{Name: cmpName, T: cmpTy}},
			Instr: &PrimOp{Prim: "IEq", Args: []Operand{tag, Lit{I: int64(i), T: tag.Ty()}}, Result: cmpTy}},
		{Instr: &Cond{Cond: cmp, Then: blocks[i], Else: t.switchChain(tag, i+1, blocks)}},
	}}
}

// itype maps a high-IR type onto its Imp register type.
func itype(ty air.Type) (IType, error) {
	switch v := ty.(type) {
	case *air.TC:
		return Scalar{Base: v.Base}, nil
	case *air.VectorType:
		return Vector{N: v.Width, Base: v.Base}, nil
	case *air.NatType:
		return Scalar{Base: air.IdxRepTy}, nil
	case *air.FinType:
		return Scalar{Base: air.IdxRepTy}, nil
	case *air.RefType:
		elem, err := itype(v.Elem)
		if err != nil {
			return nil, err
		}
		return PtrType{Addr: MainHeap, Elem: elem}, nil
	case *air.NewtypeType:
		return itype(v.Rep)
	default:
		return nil, fmt.Errorf("imp: type %v has no Imp register representation", ty)
	}
}

// reconTemplate builds the atom template describing how the function's
// returned pointers reassemble into the logical result. Structured
// shapes (products, sums, newtypes) are rebuilt; anything behind an
// index or value closure (tables, dep pairs, boxed dests) degrades to
// the flat buffer list, which downstream consumers interpret against
// the declared result type.
func reconTemplate(d dest.Dest, ptrs []name.Name) air.Atom {
	if a, ok := reconStructured(d); ok {
		return a
	}
	args := make([]air.Atom, len(ptrs))
	for i, p := range ptrs {
		args[i] = &air.ImpVar{Name: p}
	}
	return &air.DataConApp{Con: "buffers", Args: args}
}

func reconStructured(d dest.Dest) (air.Atom, bool) {
	switch v := d.(type) {
	case nil:
		return &air.Con{Ty: &air.UnitType{}}, true
	case *dest.BaseTypeRef:
		if ptr, ok := v.Ptr.(*air.Var); ok {
			return &air.ImpVar{Name: ptr.Name, Ty: ptr.Ty}, true
		}
		return nil, false
	case *dest.ProdDest:
		args := make([]air.Atom, len(v.Elems))
		for i, e := range v.Elems {
			a, ok := reconStructured(e)
			if !ok {
				return nil, false
			}
			args[i] = a
		}
		return &air.DataConApp{Con: "prod", Args: args, Ty: v.Type()}, true
	case *dest.SumDest:
		tagAtom, ok := reconStructured(v.Tag)
		if !ok {
			return nil, false
		}
		args := []air.Atom{tagAtom}
		for _, c := range v.Cases {
			a, ok := reconStructured(c)
			if !ok {
				return nil, false
			}
			args = append(args, a)
		}
		return &air.DataConApp{Con: "sum", Args: args, Ty: v.Type()}, true
	case *dest.NewtypeDest:
		return reconStructured(v.Inner)
	default:
		return nil, false
	}
}
