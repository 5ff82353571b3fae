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

// Package lower implements Loop Lowering (spec.md 4.3): it replaces
// every `for` with a `Seq` that writes into an explicit destination,
// threading destinations through nested blocks to elide intermediate
// copies, and produces the DestBlock Imp Translation consumes.
package lower

import (
	"fmt"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/name"
)

// DestBlock is `Abs (destBinder:RefTy ansTy) SimpBlock` (spec.md
// 4.3.1): a block whose first (implicit) binder is the result
// destination, whose Body produces Unit after writing the answer
// through Dest.
type DestBlock struct {
	DestBinder name.Binder[air.Type] // RefType(ansTy)
	Body       *air.Block
	Dest       dest.Dest
	Ptrs       []dest.PtrAlloc
}

// Lowerer carries the mutable state one lowerFullySequential call
// needs: the shared fresh-name allocator and the list of Managed
// pointer allocations accumulated so far, pending deferred Free
// (spec.md 3.7) once this compilation unit's Imp Translation seals the
// enclosing scope.
type Lowerer struct {
	Names   *name.Scope
	Pending []dest.PtrAlloc
	// RefDests maps reference-typed binder names (RWS handler refs and
	// their IndexRef sub-references) to the concrete destination they
	// stand for; see rws.go.
	RefDests map[name.Name]dest.Dest
}

// Lower runs spec.md's lowerFullySequential : SimpIR-Block -> DestBlock.
func Lower(names *name.Scope, b *air.Block) (*DestBlock, error) {
	lw := &Lowerer{Names: names}
	ty := air.BlockResultType(b)
	s := airbuild.New(names)

	var d dest.Dest
	var ptrs []dest.PtrAlloc
	var buildErr error

	// Singleton optimization (spec.md 4.3.3): a Unit result skips
	// allocation entirely; the body still runs for effects.
	if _, isUnit := ty.(*air.UnitType); !isUnit {
		var err error
		d, ptrs, err = dest.Make(names, s, dest.Unmanaged, ty)
		if err != nil {
			return nil, fmt.Errorf("lower: %w", err)
		}
	}

	body := s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		func() {
			defer func() {
				if r := recover(); r != nil {
					if err, ok := r.(error); ok {
						buildErr = err
						return
					}
					panic(r)
				}
			}()
			// Allocation sizes become real decls at the top of the body
			// so Imp Translation sees plain names, never symbolic
			// polynomials.
			for i := range ptrs {
				ptrs[i].Count = dest.EvalCount(s, ptrs[i].Count)
			}
			lw.registerBoxed(s, d)
			lw.lowerInto(s, b, d)
		}()
		return &air.Con{Ty: &air.UnitType{}}
	})
	if buildErr != nil {
		return nil, buildErr
	}

	destName := names.Fresh(name.ColorPtr, "ans")
	return &DestBlock{
		DestBinder: name.NewBinder[air.Type](destName, &air.RefType{Elem: ty}),
		Body:       body,
		Dest:       d,
		Ptrs:       append(ptrs, lw.Pending...),
	}, nil
}

// lowerInto is the state machine of dest traversal (spec.md 4.3.7):
// walk b's decls, routing the block's destination to whichever
// binder(s) the dest-routing map identifies (spec.md 4.3.4), and emit
// a final CopyAtom for anything the routing missed.
func (lw *Lowerer) lowerInto(s *airbuild.Scope, b *air.Block, d dest.Dest) {
	routed := decomposeDest(b.Result, d)
	consumed := false
	for _, db := range b.Decls {
		decl := db.Ann
		if pd, ok := routed[decl.Binder.Name]; ok {
			lw.lowerDeclWithDest(s, decl, pd)
			consumed = true
		} else {
			lw.lowerDeclNoDest(s, decl)
		}
	}
	// A routing that no decl in this nest consumed means the result is
	// a free variable (bound in an outer scope, e.g. the loop index);
	// those get the final Place (spec.md 4.3.4).
	if d != nil && !consumed {
		dest.CopyAtom(s, d, lw.substResult(b.Result))
	}
}

// substResult is a hook point for a final substitution pass (e.g. if
// Loop Lowering inlined a trivial decl); in this implementation decls
// are preserved verbatim (see airbuild.EmitNamed's doc comment), so no
// substitution is needed and the result atom passes through unchanged.
func (lw *Lowerer) substResult(a air.Atom) air.Atom { return a }

// lowerDeclWithDest lowers one decl's expression with a caller-provided
// destination (spec.md 4.3.2's "expression with dest provided" case):
// for/TabCon/RWS write directly into d; anything else is evaluated
// normally and then Placed. The original binder name is preserved and
// rebound to a read-back of d so later decls that reference it by name
// still resolve (this module does not attempt dead-store elimination
// of that read-back).
func (lw *Lowerer) lowerDeclWithDest(s *airbuild.Scope, decl *air.Decl, pd ProjDest) {
	// RWS hofs get the unprojected routing so unpackRWSDest can apply
	// the spec's policy table (4.3.5); everything else writes through
	// the projected slot directly.
	if h, ok := decl.Expr.(*air.HofExpr); ok {
		switch v := h.H.(type) {
		case *air.RunWriterHof:
			pair := lw.lowerRunWriter(s, v, pd)
			s.EmitNamed(decl.Binder, &air.AtomExpr{Val: pair})
			return
		case *air.RunStateHof:
			pair := lw.lowerRunState(s, v, pd)
			s.EmitNamed(decl.Binder, &air.AtomExpr{Val: pair})
			return
		}
	}
	d := dest.Project(pd.Dest, pd.Path)
	lw.lowerExprWithDest(s, decl.Expr, d)
	val := dest.LoadDest(s, d)
	s.EmitNamed(decl.Binder, &air.AtomExpr{Val: val})
}

func (lw *Lowerer) lowerDeclNoDest(s *airbuild.Scope, decl *air.Decl) {
	val := lw.lowerExprNoDest(s, decl.Expr)
	s.EmitNamed(decl.Binder, &air.AtomExpr{Val: val})
}

// lowerExprWithDest is spec.md 4.3.2's "expression with dest provided"
// branch.
func (lw *Lowerer) lowerExprWithDest(s *airbuild.Scope, e air.Expr, d dest.Dest) {
	switch v := e.(type) {
	case *air.TabCon:
		lw.lowerTabCon(s, v, d)
		return
	case *air.HofExpr:
		switch h := v.H.(type) {
		case *air.ForHof:
			lw.lowerFor(s, h, d)
			return
		case *air.RunWriterHof:
			lw.lowerRunWriter(s, h, ProjDest{Dest: d})
			return
		case *air.RunStateHof:
			lw.lowerRunState(s, h, ProjDest{Dest: d})
			return
		}
	}
	// Default: evaluate normally, then a single Place (spec.md 4.3.2).
	val := lw.lowerExprNoDest(s, e)
	dest.CopyAtom(s, d, val)
}

// lowerExprNoDest is spec.md 4.3.2's "expression without dest" branch:
// allocate a fresh AllocDest for the result type, lower with it
// provided, then read it back. For expression forms with no dest-sized
// result at all (ordinary Op/App/Case/Atom), evaluate directly with no
// allocation.
func (lw *Lowerer) lowerExprNoDest(s *airbuild.Scope, e air.Expr) air.Atom {
	switch v := e.(type) {
	case *air.AtomExpr:
		return v.Val
	case *air.TabCon:
		return lw.lowerIntoFresh(s, e)
	case *air.HofExpr:
		switch h := v.H.(type) {
		case *air.ForHof:
			return lw.lowerIntoFresh(s, e)
		case *air.RunWriterHof:
			return lw.lowerRunWriter(s, h, ProjDest{})
		case *air.RunStateHof:
			return lw.lowerRunState(s, h, ProjDest{})
		case *air.RunReaderHof:
			// The handle degenerates to the environment value itself;
			// body decls inline into the current scope (spec.md 4.5's
			// effect degeneration, applied at lowering time).
			s.EmitNamed(h.HBind, &air.AtomExpr{Val: h.Init})
			lw.lowerInto(s, h.Body, nil)
			return h.Body.Result
		case *air.RunIOHof:
			lw.lowerInto(s, h.Body, nil)
			return h.Body.Result
		case *air.RunInitHof:
			lw.lowerInto(s, h.Body, nil)
			return h.Body.Result
		case *air.WhileHof:
			body := s.BuildBlock(func(s2 *airbuild.Scope) air.Atom {
				lw.lowerInto(s2, h.Body, nil)
				return h.Body.Result
			})
			s.EmitDecl(&air.UnitType{}, &air.HofExpr{H: &air.WhileHof{Body: body}})
			return &air.Con{Ty: &air.UnitType{}}
		case *air.RememberDestHof:
			// Snapshot a reference's current contents (SimpToImp only).
			if rv, ok := h.Dest.(*air.Var); ok {
				if d, ok := lw.RefDests[rv.Name]; ok {
					return dest.LoadDest(s, d)
				}
			}
			return s.EmitVar(h.Ty, v)
		default:
			// SeqHof reaching this path means the input was already
			// lowered once; pass it through verbatim (idempotence).
			return s.EmitVar(e.ResultType(), e)
		}
	case *air.App:
		return s.EmitVar(e.ResultType(), e)
	case *air.TabApp:
		return s.EmitVar(e.ResultType(), e)
	case *air.CaseExpr:
		return lw.lowerCase(s, v)
	case *air.Op:
		if res, ok := lw.refOp(s, v); ok {
			return res
		}
		return s.EmitVar(v.ResultTy, v)
	case *air.Handle:
		return s.EmitVar(e.ResultType(), e)
	default:
		return s.EmitVar(e.ResultType(), e)
	}
}

// lowerIntoFresh is spec.md 4.3.2's "expression without dest" rule for
// dest-shaped producers: allocate a fresh destination for the result
// type, lower into it, then read it back.
func (lw *Lowerer) lowerIntoFresh(s *airbuild.Scope, e air.Expr) air.Atom {
	ty := e.ResultType()
	if _, isUnit := ty.(*air.UnitType); isUnit {
		lw.lowerExprWithDest(s, e, nil)
		return &air.Con{Ty: &air.UnitType{}}
	}
	d, ptrs, err := dest.Make(lw.Names, s, dest.Managed, ty)
	if err != nil {
		panic(fmt.Errorf("lower: %w", err))
	}
	for i := range ptrs {
		ptrs[i].Count = dest.EvalCount(s, ptrs[i].Count)
	}
	lw.Pending = append(lw.Pending, ptrs...)
	lw.registerBoxed(s, d)
	lw.lowerExprWithDest(s, e, d)
	return dest.LoadDest(s, d)
}

// registerBoxed walks the statically-visible part of a dest tree and
// promotes any BoxedDest's deferred pointer allocations into Pending,
// evaluating their size blocks in the current scope. Boxed dests nested
// behind a TabRef's index closure are registered when the closure is
// first instantiated (see tabElemDest).
func (lw *Lowerer) registerBoxed(s *airbuild.Scope, d dest.Dest) {
	switch v := d.(type) {
	case *dest.BoxedDest:
		ptrs := v.Ptrs
		for i := range ptrs {
			ptrs[i].Count = dest.EvalCount(s, ptrs[i].Count)
		}
		lw.Pending = append(lw.Pending, ptrs...)
		lw.registerBoxed(s, v.Inner)
	case *dest.ProdDest:
		for _, e := range v.Elems {
			lw.registerBoxed(s, e)
		}
	case *dest.SumDest:
		for _, c := range v.Cases {
			lw.registerBoxed(s, c)
		}
	case *dest.NewtypeDest:
		lw.registerBoxed(s, v.Inner)
	case *dest.DepPairDest:
		lw.registerBoxed(s, v.Left)
	}
}

// lowerCase lowers every alternative's body independently (no
// destination is threaded through a Case scrutinee in this
// implementation - see DESIGN.md's decomposeDest Open Question
// decision: chasing a dest through Case arms was left unimplemented as
// "best effort").
func (lw *Lowerer) lowerCase(s *airbuild.Scope, c *air.CaseExpr) air.Atom {
	alts := make([]air.Alt, len(c.Alts))
	for i, alt := range c.Alts {
		lowered := s.BuildBlock(func(s *airbuild.Scope) air.Atom {
			lw.lowerInto(s, alt.Body, nil)
			return alt.Body.Result
		})
		alts[i] = air.Alt{Binder: alt.Binder, Body: lowered}
	}
	return s.EmitVar(c.ResultTy, &air.CaseExpr{Scrutinee: c.Scrutinee, Alts: alts, ResultTy: c.ResultTy, Effects: c.Effects})
}
