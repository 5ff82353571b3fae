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
	"fmt"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/name"
)

// unpackRWSDest implements the policy table of spec.md 4.3.5: split an
// (answer, accumulator/state) pair destination so the user-visible
// reference gets lowered into its own slot with no intermediate pair
// allocation.
//
//   - FullDest of a pair type      => both halves split off d.
//   - ProjDest [0] d               => answerDest only.
//   - ProjDest [1] d               => refDest only.
//   - any other ProjDest           => not decomposable; caller falls
//     back to the non-decomposed path.
//
// Missing halves are freshly allocated (Managed) by the caller, not
// here: this function only reports what the routing gave us.
func unpackRWSDest(pd ProjDest) (ans, ref dest.Dest, ok bool) {
	if pd.Dest == nil {
		return nil, nil, true
	}
	switch {
	case len(pd.Path) == 0:
		if !pairShaped(pd.Dest) {
			return nil, nil, false
		}
		return dest.Project(pd.Dest, []int{0}), dest.Project(pd.Dest, []int{1}), true
	case len(pd.Path) == 1 && pd.Path[0] == 0:
		return pd.Dest, nil, true
	case len(pd.Path) == 1 && pd.Path[0] == 1:
		return nil, pd.Dest, true
	default:
		return nil, nil, false
	}
}

// pairShaped reports whether d decomposes as a two-element product
// (possibly behind a Newtype wrapper).
func pairShaped(d dest.Dest) bool {
	switch v := d.(type) {
	case *dest.ProdDest:
		return len(v.Elems) == 2
	case *dest.NewtypeDest:
		return pairShaped(v.Inner)
	default:
		return false
	}
}

// ensureDest returns d if non-nil, otherwise a fresh Managed allocation
// for ty, recorded in lw.Pending for the deferred Free.
func (lw *Lowerer) ensureDest(s *airbuild.Scope, d dest.Dest, ty air.Type) dest.Dest {
	if d != nil {
		return d
	}
	if _, isUnit := ty.(*air.UnitType); isUnit {
		return nil
	}
	nd, ptrs, err := dest.Make(lw.Names, s, dest.Managed, ty)
	if err != nil {
		panic(fmt.Errorf("lower: %w", err))
	}
	for i := range ptrs {
		ptrs[i].Count = dest.EvalCount(s, ptrs[i].Count)
	}
	lw.Pending = append(lw.Pending, ptrs...)
	lw.registerBoxed(s, nd)
	return nd
}

// lowerRunWriter lowers `runWriter mempty (\h ref. body)` with a routed
// (possibly projected) pair destination. The accumulator destination is
// seeded with the monoid identity, the handler binder degenerates to
// unit, and the reference binder is routed through lw.RefDests so that
// mget/mextend ops inside the body resolve to dest reads/writes
// (spec.md 4.5's "reads are destToAtom; writes are copyAtom", applied
// here at lowering time so Imp never sees an abstract reference).
// Returns the result-pair atom.
func (lw *Lowerer) lowerRunWriter(s *airbuild.Scope, h *air.RunWriterHof, pd ProjDest) air.Atom {
	ans, ref, ok := unpackRWSDest(pd)
	if !ok {
		// Non-decomposable routing: lower into fresh dests, then copy
		// the assembled pair through the routed slot.
		pair := lw.lowerRunWriter(s, h, ProjDest{})
		dest.CopyAtom(s, dest.Project(pd.Dest, pd.Path), pair)
		return pair
	}
	ans = lw.ensureDest(s, ans, air.BlockResultType(h.Body))
	ref = lw.ensureDest(s, ref, h.RBind.Ann)

	dest.CopyAtom(s, ref, h.Monoid)
	s.EmitNamed(h.HBind, &air.AtomExpr{Val: &air.Con{Ty: &air.UnitType{}}})
	lw.bindRef(h.RBind.Name, ref)
	lw.lowerInto(s, h.Body, ans)

	ansVal := dest.LoadDest(s, ans)
	accVal := dest.LoadDest(s, ref)
	return pairAtom(s, ansVal, accVal, air.BlockResultType(h.Body), h.RBind.Ann)
}

// lowerRunState is lowerRunWriter with the initial state copied in
// instead of a monoid identity; the final state is the second pair
// component.
func (lw *Lowerer) lowerRunState(s *airbuild.Scope, h *air.RunStateHof, pd ProjDest) air.Atom {
	ans, ref, ok := unpackRWSDest(pd)
	if !ok {
		pair := lw.lowerRunState(s, h, ProjDest{})
		dest.CopyAtom(s, dest.Project(pd.Dest, pd.Path), pair)
		return pair
	}
	ans = lw.ensureDest(s, ans, air.BlockResultType(h.Body))
	ref = lw.ensureDest(s, ref, h.HBind.Ann)

	dest.CopyAtom(s, ref, h.Init)
	lw.bindRef(h.HBind.Name, ref)
	lw.lowerInto(s, h.Body, ans)

	ansVal := dest.LoadDest(s, ans)
	stateVal := dest.LoadDest(s, ref)
	return pairAtom(s, ansVal, stateVal, air.BlockResultType(h.Body), h.HBind.Ann)
}

// pairAtom assembles the (answer, accumulator) result pair.
func pairAtom(s *airbuild.Scope, a, b air.Atom, aTy, bTy air.Type) air.Atom {
	return s.EmitOp(air.OpFreeze, "prod", []air.Atom{a, b}, &air.ProdType{Elems: []air.Type{aTy, bTy}})
}

// bindRef records that the given (reference-typed) binder name now
// stands for a concrete destination; refOp consults this map to expand
// mget/mextend/mput and per-index reference ops.
func (lw *Lowerer) bindRef(n name.Name, d dest.Dest) {
	if lw.RefDests == nil {
		lw.RefDests = make(map[name.Name]dest.Dest)
	}
	lw.RefDests[n] = d
}

// refOp expands an Op whose first argument is a bound reference into
// direct destination reads/writes. Returns (result, true) when the op
// was a reference op on a known destination.
func (lw *Lowerer) refOp(s *airbuild.Scope, op *air.Op) (air.Atom, bool) {
	if len(op.Args) == 0 {
		return nil, false
	}
	rv, ok := op.Args[0].(*air.Var)
	if !ok {
		return nil, false
	}
	d, ok := lw.RefDests[rv.Name]
	if !ok {
		return nil, false
	}
	switch op.Kind {
	case air.OpPlace:
		// mput/mextend: write through the reference.
		dest.CopyAtom(s, d, op.Args[1])
		return &air.Con{Ty: &air.UnitType{}}, true
	case air.OpPtrLoad:
		// mget: read the reference's current contents.
		return dest.LoadDest(s, d), true
	case air.OpIndexRef:
		tab, ok := d.(*dest.TabRef)
		if !ok {
			panic("lower: IndexRef on a non-table reference")
		}
		sub := tab.Index(s, op.Args[1])
		fresh := lw.Names.Fresh(name.ColorAtom, "subref")
		lw.bindRef(fresh, sub)
		return &air.Var{Name: fresh, Ty: op.ResultTy}, true
	case air.OpFreeze:
		return dest.LoadDest(s, d), true
	default:
		return nil, false
	}
}
