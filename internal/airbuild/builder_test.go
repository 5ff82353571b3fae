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

package airbuild

import (
	"testing"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
)

func idxTy() air.Type { return &air.TC{Base: air.IdxRepTy} }

// Structurally identical pure ops within one frame collapse to one
// decl; the second emission returns the first decl's name.
func TestEmitOpCSE(t *testing.T) {
	s := New(name.NewScope())
	blk := s.BuildBlock(func(s *Scope) air.Atom {
		x := s.FreshBinder(name.ColorAtom, "x", idxTy())
		xv := &air.Var{Name: x.Name, Ty: idxTy()}
		a := s.EmitOp(air.OpBinOp, "IMul", []air.Atom{xv, air.IntCon(air.IdxRepTy, 7)}, idxTy())
		b := s.EmitOp(air.OpBinOp, "IMul", []air.Atom{xv, air.IntCon(air.IdxRepTy, 7)}, idxTy())
		av, bv := a.(*air.Var), b.(*air.Var)
		if !av.Name.Equal(bv.Name) {
			t.Fatalf("identical pure ops got distinct names: %v vs %v", av.Name, bv.Name)
		}
		return a
	})
	if len(blk.Decls) != 1 {
		t.Fatalf("expected 1 decl after CSE, got %d", len(blk.Decls))
	}
}

// Stores, allocations, and loads never dedup.
func TestEmitDeclImpureNotCached(t *testing.T) {
	s := New(name.NewScope())
	ptr := &air.Var{Name: name.Name{Color: name.ColorPtr, ID: 99}, Ty: &air.RefType{Elem: idxTy()}}
	blk := s.BuildBlock(func(s *Scope) air.Atom {
		val := air.IntCon(air.IdxRepTy, 1)
		s.EmitDecl(&air.UnitType{}, &air.Op{Kind: air.OpPlace, Prim: "store", Args: []air.Atom{ptr, val}, ResultTy: &air.UnitType{}})
		s.EmitDecl(&air.UnitType{}, &air.Op{Kind: air.OpPlace, Prim: "store", Args: []air.Atom{ptr, val}, ResultTy: &air.UnitType{}})
		a := s.EmitOp(air.OpPtrLoad, "load", []air.Atom{ptr}, idxTy())
		b := s.EmitOp(air.OpPtrLoad, "load", []air.Atom{ptr}, idxTy())
		av, bv := a.(*air.Var), b.(*air.Var)
		if av.Name.Equal(bv.Name) {
			t.Fatalf("loads must not dedup across potential stores")
		}
		return a
	})
	if len(blk.Decls) != 4 {
		t.Fatalf("expected 4 decls, got %d", len(blk.Decls))
	}
}

// Decl order within one block is preserved exactly (spec.md 5).
func TestEmissionOrderPreserved(t *testing.T) {
	s := New(name.NewScope())
	blk := s.BuildBlock(func(s *Scope) air.Atom {
		var last air.Atom = air.IntCon(air.IdxRepTy, 0)
		for i := int64(1); i <= 5; i++ {
			last = s.EmitOp(air.OpBinOp, "IAdd", []air.Atom{last, air.IntCon(air.IdxRepTy, i)}, idxTy())
		}
		return last
	})
	if len(blk.Decls) != 5 {
		t.Fatalf("expected 5 decls, got %d", len(blk.Decls))
	}
	for i := 1; i < len(blk.Decls); i++ {
		if blk.Decls[i].Name.ID <= blk.Decls[i-1].Name.ID {
			t.Fatalf("decl %d out of order: %v after %v", i, blk.Decls[i].Name, blk.Decls[i-1].Name)
		}
	}
}

// An inner BuildBlock's emissions stay inside the inner block: frames
// do not leak (the explicit-stack rendering of buildBlock's scoping).
func TestNestedFramesIsolated(t *testing.T) {
	s := New(name.NewScope())
	var inner *air.Block
	outer := s.BuildBlock(func(s *Scope) air.Atom {
		out := s.EmitOp(air.OpBinOp, "IAdd", []air.Atom{air.IntCon(air.IdxRepTy, 1), air.IntCon(air.IdxRepTy, 2)}, idxTy())
		inner = s.BuildBlock(func(s *Scope) air.Atom {
			return s.EmitOp(air.OpBinOp, "IMul", []air.Atom{air.IntCon(air.IdxRepTy, 3), air.IntCon(air.IdxRepTy, 4)}, idxTy())
		})
		return out
	})
	if len(outer.Decls) != 1 {
		t.Fatalf("outer block has %d decls, want 1", len(outer.Decls))
	}
	if len(inner.Decls) != 1 {
		t.Fatalf("inner block has %d decls, want 1", len(inner.Decls))
	}
}

// P6 (hoisting soundness, contrapositive): the CSE cache is per-frame,
// so a pure decl emitted under an inner binder is never reused - i.e.
// implicitly hoisted - into the outer scope.
func TestNoCrossFrameCSE(t *testing.T) {
	s := New(name.NewScope())
	args := []air.Atom{air.IntCon(air.IdxRepTy, 6), air.IntCon(air.IdxRepTy, 7)}
	s.BuildBlock(func(s *Scope) air.Atom {
		inner := s.BuildBlock(func(s *Scope) air.Atom {
			return s.EmitOp(air.OpBinOp, "IMul", args, idxTy())
		})
		outer := s.EmitOp(air.OpBinOp, "IMul", args, idxTy())
		iv := inner.Result.(*air.Var)
		ov := outer.(*air.Var)
		if iv.Name.Equal(ov.Name) {
			t.Fatalf("pure op leaked across frames: %v", iv.Name)
		}
		return outer
	})
}

// EmitNamed preserves the caller's binder identity verbatim.
func TestEmitNamedPreservesBinder(t *testing.T) {
	ns := name.NewScope()
	s := New(ns)
	want := ns.Fresh(name.ColorAtom, "keep")
	blk := s.BuildBlock(func(s *Scope) air.Atom {
		b := name.NewBinder(want, idxTy())
		s.EmitNamed(b, &air.AtomExpr{Val: air.IntCon(air.IdxRepTy, 3)})
		return &air.Var{Name: want, Ty: idxTy()}
	})
	if len(blk.Decls) != 1 || !blk.Decls[0].Name.Equal(want) {
		t.Fatalf("EmitNamed lost the binder identity")
	}
}
