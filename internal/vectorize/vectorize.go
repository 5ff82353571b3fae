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

// Package vectorize rewrites inner sequential loops over `Fin n`, with
// n divisible by the target vector width W, into loops of n/W
// iterations whose bodies perform width-W vector operations, tracking
// value stability (uniform / contiguous / varying) across lanes
// (spec.md 4.4). The rewrite is optional and idempotent: any loop it
// cannot handle - an effect beyond Init, an op outside the whitelist,
// a non-divisible trip count - is kept verbatim. The one hard error is
// a detected write conflict (a uniform store target fed a varying
// value), which indicates a bug in an earlier pass.
package vectorize

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
	"github.com/airlower/airlower/internal/name"
	"github.com/airlower/airlower/ints"
)

// indexPrims are the integer primitives whose result stays contiguous
// when exactly one operand is contiguous ("base + k, or a product
// thereof").
var indexPrims = []string{"IAdd", "IMul"}

// errRefuse is the internal sentinel for "keep this loop as-is". It
// never escapes Rewrite (spec.md 4.4.3: refusal is not an error).
var errRefuse = errors.New("vectorize: refused")

func refusef(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errRefuse}, args...)...)
}

// WriteConflictError reports a store whose target is uniform across
// lanes while its value varies: every lane would write the same
// address (spec.md 4.4.2, "(Uniform, *) is a write conflict and is a
// hard error").
type WriteConflictError struct {
	Op *air.Op
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("vectorize: write conflict: uniform ref stored a non-uniform value in %v", e.Op.Kind)
}

// Rewrite vectorizes every qualifying Seq decl in b at the given lane
// width, leaving non-qualifying loops untouched. Loops that do not
// qualify at this level are retried one level down (their bodies may
// still contain an inner Seq that qualifies).
func Rewrite(names *name.Scope, b *air.Block, width int) (*air.Block, error) {
	if width <= 1 {
		return b, nil
	}
	decls := make(name.Nest[*air.Decl], 0, len(b.Decls))
	for _, db := range b.Decls {
		decl := db.Ann
		h, ok := seqOf(decl.Expr)
		if !ok {
			decls = append(decls, db)
			continue
		}
		repl, err := vectorizeSeq(names, h, width)
		if errors.Is(err, errRefuse) {
			// Try the loop body instead: the qualifying loop may be an
			// inner one.
			inner, ierr := Rewrite(names, h.Body, width)
			if ierr != nil {
				return nil, ierr
			}
			kept := *h
			kept.Body = inner
			nd := &air.Decl{Binder: decl.Binder, BindingAnn: decl.BindingAnn, Expr: &air.HofExpr{H: &kept}}
			decls = append(decls, name.NewBinder(decl.Binder.Name, nd))
			continue
		}
		if err != nil {
			return nil, err
		}
		nd := &air.Decl{Binder: decl.Binder, BindingAnn: decl.BindingAnn, Expr: &air.HofExpr{H: repl}}
		decls = append(decls, name.NewBinder(decl.Binder.Name, nd))
	}
	return &air.Block{Ann: b.Ann, Decls: decls, Result: b.Result}, nil
}

func seqOf(e air.Expr) (*air.SeqHof, bool) {
	h, ok := e.(*air.HofExpr)
	if !ok {
		return nil, false
	}
	s, ok := h.H.(*air.SeqHof)
	return s, ok
}

// vval is one binding's vectorized form: the atom that now stands for
// it plus its lane stability.
type vval struct {
	atom air.Atom
	stab Stability
}

// vectorizeSeq checks the qualification rules (spec.md 4.4: Fin n with
// n literal and divisible by width, no effect beyond Init) and rebuilds
// the loop at width-W granularity.
func vectorizeSeq(names *name.Scope, h *air.SeqHof, width int) (*air.SeqHof, error) {
	fin, ok := h.IxTy.(*air.FinType)
	if !ok {
		return nil, refusef("index type %v is not Fin", h.IxTy)
	}
	n, ok := fin.N.(*air.Con)
	if !ok || !n.IsInt() {
		return nil, refusef("trip count %v is not a literal", fin.N)
	}
	if n.I == 0 || n.I%int64(width) != 0 {
		return nil, refusef("trip count %d not divisible by width %d", n.I, width)
	}
	if err := effectsAllowInit(h.Body); err != nil {
		return nil, err
	}

	vz := &vectorizer{names: names, width: width, env: make(map[name.Name]vval)}
	s := airbuild.New(names)

	// Divisibility was checked above, so the chunk count is exactly
	// n/width.
	trip := int64(ints.ChunkCount(uint64(n.I), uint64(width)))
	outerBind := name.NewBinder(names.Fresh(name.ColorAtom, "vi"), air.IxType(&air.FinType{N: air.IntCon(air.IdxRepTy, trip)}))

	var rewriteErr error
	body := s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		base := s.EmitOp(air.OpBinOp, "IMul",
			[]air.Atom{&air.Var{Name: outerBind.Name, Ty: &air.TC{Base: air.IdxRepTy}}, air.IntCon(air.IdxRepTy, int64(width))},
			&air.TC{Base: air.IdxRepTy})
		// The original loop index is Contiguous: lane k holds base+k.
		vz.env[h.IBind.Name] = vval{atom: base, stab: Contiguous}
		vz.env[h.CBind.Name] = vval{atom: &air.Con{Ty: &air.UnitType{}}, stab: Uniform}
		for _, db := range h.Body.Decls {
			decl := db.Ann
			out, err := vz.rewriteDecl(s, decl)
			if err != nil {
				rewriteErr = err
				return &air.Con{Ty: &air.UnitType{}}
			}
			vz.env[decl.Binder.Name] = out
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
	if rewriteErr != nil {
		return nil, rewriteErr
	}

	return &air.SeqHof{
		Dir:   h.Dir,
		IxTy:  outerBind.Ann,
		Carry: h.Carry,
		IBind: outerBind,
		CBind: h.CBind,
		Body:  body,
	}, nil
}

// effectsAllowInit enforces spec.md 4.4.3: any effect beyond InitEffect
// refuses vectorization.
func effectsAllowInit(b *air.Block) error {
	if b.Ann == nil || b.Ann.Effects == nil {
		return nil
	}
	for _, e := range b.Ann.Effects.Effects {
		if e != "Init" {
			return refusef("body has effect %q", e)
		}
	}
	return nil
}

type vectorizer struct {
	names *name.Scope
	width int
	env   map[name.Name]vval
}

// resolve maps an operand atom to its vectorized form. Names not bound
// inside the loop body are loop-invariant, hence Uniform.
func (vz *vectorizer) resolve(a air.Atom) vval {
	switch v := a.(type) {
	case *air.Var:
		if out, ok := vz.env[v.Name]; ok {
			return out
		}
		return vval{atom: a, stab: Uniform}
	case *air.Con:
		return vval{atom: a, stab: Uniform}
	default:
		return vval{atom: a, stab: Uniform}
	}
}

func (vz *vectorizer) rewriteDecl(s *airbuild.Scope, decl *air.Decl) (vval, error) {
	switch e := decl.Expr.(type) {
	case *air.AtomExpr:
		return vz.resolve(e.Val), nil
	case *air.Op:
		return vz.rewriteOp(s, e)
	default:
		return vval{}, refusef("expression %T not vectorizable", decl.Expr)
	}
}

// rewriteOp is the per-op table of spec.md 4.4.2.
func (vz *vectorizer) rewriteOp(s *airbuild.Scope, op *air.Op) (vval, error) {
	args := make([]vval, len(op.Args))
	for i, a := range op.Args {
		args[i] = vz.resolve(a)
	}
	switch op.Kind {
	case air.OpIndexRef:
		ref, idx := args[0], args[1]
		switch {
		case laneOf(ref.stab) == Uniform && laneOf(idx.stab) == Uniform:
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{ref.atom, idx.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		case laneOf(ref.stab) == Uniform && laneOf(idx.stab) == Contiguous:
			base, err := refBase(op.ResultTy)
			if err != nil {
				return vval{}, err
			}
			vty := &air.RefType{Elem: &air.VectorType{Width: vz.width, Base: base}}
			out := s.EmitOp(air.OpVectorSubref, "vsubref", []air.Atom{ref.atom, idx.atom}, vty)
			return vval{atom: out, stab: Contiguous}, nil
		default:
			return vval{}, refusef("IndexRef with ref %v, idx %v", ref.stab, idx.stab)
		}

	case air.OpPlace:
		ref, val := args[0], args[1]
		switch laneOf(ref.stab) {
		case Uniform:
			if laneOf(val.stab) != Uniform {
				return vval{}, &WriteConflictError{Op: op}
			}
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{ref.atom, val.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		case Contiguous:
			base, err := refBase(args[0].atom.Type())
			if err != nil {
				base, err = valBase(op.Args[1])
				if err != nil {
					return vval{}, err
				}
			}
			vref := vz.vectorRef(s, ref.atom, base)
			vvalAtom, err := vz.ensureVarying(s, val, base)
			if err != nil {
				return vval{}, err
			}
			out := s.EmitOp(air.OpPlace, "vstore", []air.Atom{vref, vvalAtom}, &air.UnitType{})
			return vval{atom: out, stab: Uniform}, nil
		default:
			return vval{}, refusef("scatter store is not supported")
		}

	case air.OpBinOp:
		a, b := args[0], args[1]
		la, lb := laneOf(a.stab), laneOf(b.stab)
		if la == Uniform && lb == Uniform {
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{a.atom, b.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		}
		// Index arithmetic with a uniform operand stays scalar and
		// contiguous ("base + k, or a product thereof").
		if slices.Contains(indexPrims, op.Prim) && Join(la, lb) == Contiguous {
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{a.atom, b.atom}, op.ResultTy)
			return vval{atom: out, stab: Contiguous}, nil
		}
		base, err := valBase(op.Args[0])
		if err != nil {
			return vval{}, err
		}
		va, err := vz.ensureVarying(s, a, base)
		if err != nil {
			return vval{}, err
		}
		vb, err := vz.ensureVarying(s, b, base)
		if err != nil {
			return vval{}, err
		}
		vty := &air.VectorType{Width: vz.width, Base: base}
		out := s.EmitOp(air.OpBinOp, op.Prim, []air.Atom{va, vb}, vty)
		return vval{atom: out, stab: Varying}, nil

	case air.OpUnOp:
		a := args[0]
		if laneOf(a.stab) == Uniform {
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{a.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		}
		base, err := valBase(op.Args[0])
		if err != nil {
			return vval{}, err
		}
		va, err := vz.ensureVarying(s, a, base)
		if err != nil {
			return vval{}, err
		}
		vty := &air.VectorType{Width: vz.width, Base: base}
		out := s.EmitOp(air.OpUnOp, op.Prim, []air.Atom{va}, vty)
		return vval{atom: out, stab: Varying}, nil

	case air.OpCastOp:
		a := args[0]
		if laneOf(a.stab) == Uniform {
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{a.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		}
		base, err := valBase2(op.ResultTy)
		if err != nil {
			return vval{}, err
		}
		va, err := vz.ensureVarying(s, a, base)
		if err != nil {
			return vval{}, err
		}
		vty := &air.VectorType{Width: vz.width, Base: base}
		out := s.EmitOp(air.OpCastOp, op.Prim, []air.Atom{va}, vty)
		return vval{atom: out, stab: a.stab}, nil

	case air.OpPtrOffset:
		ptr, off := args[0], args[1]
		lp, lo := laneOf(ptr.stab), laneOf(off.stab)
		switch {
		case lp == Uniform && lo == Uniform:
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{ptr.atom, off.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		case lp == Uniform && lo == Contiguous:
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{ptr.atom, off.atom}, op.ResultTy)
			return vval{atom: out, stab: Contiguous}, nil
		default:
			return vval{}, refusef("PtrOffset with ptr %v, off %v", ptr.stab, off.stab)
		}

	case air.OpPtrLoad:
		ptr := args[0]
		switch laneOf(ptr.stab) {
		case Uniform:
			out := s.EmitOp(op.Kind, op.Prim, []air.Atom{ptr.atom}, op.ResultTy)
			return vval{atom: out, stab: Uniform}, nil
		case Contiguous:
			base, err := valBase2(op.ResultTy)
			if err != nil {
				return vval{}, err
			}
			vref := vz.vectorRef(s, ptr.atom, base)
			vty := &air.VectorType{Width: vz.width, Base: base}
			out := s.EmitOp(air.OpPtrLoad, "vload", []air.Atom{vref}, vty)
			return vval{atom: out, stab: Varying}, nil
		default:
			return vval{}, refusef("gather load is not supported")
		}

	default:
		return vval{}, refusef("op %v not in the vectorization whitelist", op.Kind)
	}
}

// vectorRef casts a contiguous scalar pointer to a single vector-width
// pointer (spec.md 4.4.2, "pointer cast to vector pointer first").
func (vz *vectorizer) vectorRef(s *airbuild.Scope, ptr air.Atom, base air.BaseType) air.Atom {
	vty := &air.RefType{Elem: &air.VectorType{Width: vz.width, Base: base}}
	return s.EmitOp(air.OpCastOp, "vptrcast", []air.Atom{ptr}, vty)
}

// ensureVarying converts a value to varying: uniform values broadcast;
// contiguous values broadcast their base and add an iota (spec.md
// 4.4.2's ensureVarying).
func (vz *vectorizer) ensureVarying(s *airbuild.Scope, v vval, base air.BaseType) (air.Atom, error) {
	vty := &air.VectorType{Width: vz.width, Base: base}
	switch laneOf(v.stab) {
	case Varying:
		return v.atom, nil
	case Uniform:
		return s.EmitOp(air.OpVectorBroadcast, "broadcast", []air.Atom{v.atom}, vty), nil
	case Contiguous:
		bcast := s.EmitOp(air.OpVectorBroadcast, "broadcast", []air.Atom{v.atom}, vty)
		lanes := s.EmitOp(air.OpVectorIota, "iota", nil, vty)
		return s.EmitOp(air.OpBinOp, "IAdd", []air.Atom{bcast, lanes}, vty), nil
	}
	return nil, refusef("unclassifiable stability")
}

// refBase extracts the scalar base type behind a Ref type.
func refBase(t air.Type) (air.BaseType, error) {
	r, ok := t.(*air.RefType)
	if !ok {
		return 0, refusef("expected a ref type, got %v", t)
	}
	return valBase2(r.Elem)
}

// valBase extracts the scalar base type of a value atom.
func valBase(a air.Atom) (air.BaseType, error) {
	return valBase2(a.Type())
}

func valBase2(t air.Type) (air.BaseType, error) {
	switch v := t.(type) {
	case *air.TC:
		return v.Base, nil
	case *air.VectorType:
		return v.Base, nil
	default:
		return 0, refusef("type %v has no scalar base", t)
	}
}
