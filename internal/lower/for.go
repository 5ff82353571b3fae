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

package lower

import (
	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/name"
)

// lowerFor implements spec.md 4.3.3: rewrite `for (i:ixTy). body` into
// a Seq that writes into d (or runs purely for effects when d is nil,
// the singleton-result case).
//
// The spec's step 1 builds a binary lambda
// `λ(i, destProd). let localDest = destProd.0 in indexRef localDest i
// -> body-with-dest-threaded; unit` and step 2 wraps the dest in a
// ProdVal so the same binder shape serves both index and carry. This
// implementation keeps SeqHof.Carry as a cosmetic placeholder atom
// (air.Type has no room for a dest.Dest value without an import cycle
// between internal/air and internal/dest - dest already depends on
// air) and instead threads the concrete per-element dest.Dest directly
// as a Go closure captured at lowering time, which is equivalent for
// every purpose this module needs (printing aside): the loop body is
// still built exactly once, still indexes the same underlying
// pointers, and Imp Translation still sees one Seq per loop.
func (lw *Lowerer) lowerFor(s *airbuild.Scope, h *air.ForHof, d dest.Dest) {
	ixTy := h.Binder.Ann
	carryName := lw.Names.Fresh(name.ColorPtr, "destcarry")
	cbind := name.NewBinder(carryName, air.Type(&air.UnitType{}))

	bodyBlock := s.BuildBlock(func(s2 *airbuild.Scope) air.Atom {
		elemDest := lw.tabElemDest(s2, d, &air.Var{Name: h.Binder.Name, Ty: ixTy})
		lw.lowerInto(s2, h.Body, elemDest)
		return &air.Con{Ty: &air.UnitType{}}
	})

	seq := &air.SeqHof{
		Dir:   air.Fwd,
		IxTy:  ixTy,
		Carry: &air.Con{Ty: &air.UnitType{}},
		IBind: h.Binder,
		CBind: cbind,
		Body:  bodyBlock,
	}
	s.EmitDecl(&air.UnitType{}, &air.HofExpr{H: seq})
}

// tabElemDest indexes d (unwrapping a BoxedDest if the table fell back
// to spec.md 4.2's dependent case) at i, or returns nil when d is nil
// (the no-destination / pure-effect loop). Per-element dests that
// surface a BoxedDest of their own get their deferred pointers
// registered here, in the loop-body scope where their sizes are in
// scope.
func (lw *Lowerer) tabElemDest(s *airbuild.Scope, d dest.Dest, i air.Atom) dest.Dest {
	if d == nil {
		return nil
	}
	switch v := d.(type) {
	case *dest.TabRef:
		elem := v.Index(s, i)
		lw.registerBoxed(s, elem)
		return elem
	case *dest.BoxedDest:
		return lw.tabElemDest(s, v.Inner, i)
	default:
		panic("lower: lowerFor: destination is not a table ref")
	}
}
