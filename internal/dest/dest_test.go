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

package dest

import (
	"testing"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
	"github.com/airlower/airlower/internal/name"
)

func f64() air.Type { return &air.TC{Base: air.F64} }

func fin(n int64) air.IxType {
	return &air.FinType{N: air.IntCon(air.IdxRepTy, n)}
}

func tabOf(names *name.Scope, n int64, elem air.Type) air.Type {
	b := name.NewBinder(names.Fresh(name.ColorAtom, "i"), fin(n))
	return &air.TabType{Binder: b, Body: elem}
}

func mustCount(t *testing.T, a air.Atom) int64 {
	t.Helper()
	c, ok := a.(*air.Con)
	if !ok {
		t.Fatalf("count is not a literal: %T", a)
	}
	return c.I
}

func TestMakeScalar(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	var d Dest
	var ptrs []PtrAlloc
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		var err error
		d, ptrs, err = Make(names, s, Unmanaged, f64())
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
	if len(ptrs) != 1 {
		t.Fatalf("scalar dest needs 1 pointer, got %d", len(ptrs))
	}
	if mustCount(t, ptrs[0].Count) != 1 {
		t.Fatalf("scalar count = %v, want 1", ptrs[0].Count)
	}
	leaf, ok := d.(*BaseTypeRef)
	if !ok {
		t.Fatalf("scalar dest is %T, want BaseTypeRef", d)
	}
	if mustCount(t, leaf.Offset) != 0 {
		t.Fatalf("scalar offset = %v, want 0", leaf.Offset)
	}
}

// A table of Fin 4 doubles allocates one flat buffer of 4 elements;
// indexing at a literal i yields a leaf at offset i (S1's allocation
// shape).
func TestMakeTable(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		d, ptrs, err := Make(names, s, Unmanaged, tabOf(names, 4, f64()))
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		if len(ptrs) != 1 || mustCount(t, ptrs[0].Count) != 4 {
			t.Fatalf("table alloc = %v, want one count-4 pointer", ptrs)
		}
		tab := d.(*TabRef)
		elem := tab.Index(s, air.IntCon(air.IdxRepTy, 2))
		leaf := elem.(*BaseTypeRef)
		if mustCount(t, leaf.Offset) != 2 {
			t.Fatalf("offset of element 2 = %v, want 2", leaf.Offset)
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
}

// S2's allocation shape: a nested Fin 10 x Fin 20 table is one
// 200-element buffer, and [3][5] lands at row-major offset 65. No
// 20-element scratch buffer exists.
func TestMakeNestedTable(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	inner := tabOf(names, 20, f64())
	outer := tabOf(names, 10, inner)
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		d, ptrs, err := Make(names, s, Unmanaged, outer)
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		if len(ptrs) != 1 {
			t.Fatalf("nested table allocated %d pointers, want 1", len(ptrs))
		}
		if mustCount(t, ptrs[0].Count) != 200 {
			t.Fatalf("count = %v, want 200", ptrs[0].Count)
		}
		row := d.(*TabRef).Index(s, air.IntCon(air.IdxRepTy, 3))
		leaf := row.(*TabRef).Index(s, air.IntCon(air.IdxRepTy, 5)).(*BaseTypeRef)
		if mustCount(t, leaf.Offset) != 65 {
			t.Fatalf("offset of [3][5] = %v, want 65", leaf.Offset)
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
}

// All sum payload destinations are pre-allocated alongside the tag
// (spec.md 4.2: Imp does not branch allocations).
func TestMakeSumAllocatesEveryPayload(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	sum := &air.SumType{Cases: []air.Type{f64(), &air.TC{Base: air.I32}}}
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		d, ptrs, err := Make(names, s, Unmanaged, &air.NewtypeType{Name: "Either", Rep: sum})
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		// tag + one pointer per payload case.
		if len(ptrs) != 3 {
			t.Fatalf("sum allocated %d pointers, want 3", len(ptrs))
		}
		if ptrs[0].Base != air.TagRepTy {
			t.Fatalf("first allocation is %v, want the tag (%v)", ptrs[0].Base, air.TagRepTy)
		}
		nd := d.(*NewtypeDest)
		sd := nd.Inner.(*SumDest)
		if len(sd.Cases) != 2 {
			t.Fatalf("sum dest has %d cases, want 2", len(sd.Cases))
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
}

// D3: a dep-pair dest exposes the left leaf immediately; the right is
// materialized only from the left value.
func TestMakeDepPair(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	lb := name.NewBinder(names.Fresh(name.ColorAtom, "n"), air.Type(&air.TC{Base: air.IdxRepTy}))
	dp := &air.DepPairType{LBinder: lb, RTy: f64()}
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		d, _, err := Make(names, s, Unmanaged, dp)
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		pd := d.(*DepPairDest)
		if _, ok := pd.Left.(*BaseTypeRef); !ok {
			t.Fatalf("left dest is %T, want BaseTypeRef", pd.Left)
		}
		right := pd.Right(s, air.IntCon(air.IdxRepTy, 3))
		if _, ok := right.(*BaseTypeRef); !ok {
			t.Fatalf("right dest is %T, want BaseTypeRef", right)
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
}

func countKind(decls name.Nest[*air.Decl], kind air.OpKind) int {
	n := 0
	for _, d := range decls {
		if op, ok := d.Ann.Expr.(*air.Op); ok && op.Kind == kind {
			n++
		}
	}
	return n
}

// P3 (static shape): copying a product atom emits exactly one store per
// leaf, and loading it back reads every leaf exactly once.
func TestCopyThenLoadCoversEveryLeaf(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	prod := &air.ProdType{Elems: []air.Type{f64(), f64()}}
	var d Dest
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		var err error
		d, _, err = Make(names, s, Unmanaged, prod)
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		return &air.Con{Ty: &air.UnitType{}}
	})

	val := &air.DataConApp{Con: "prod", Args: []air.Atom{
		&air.Con{Ty: f64(), F: 1.5}, &air.Con{Ty: f64(), F: 2.5},
	}, Ty: prod}

	decls, _ := s.BuildScoped(func(s *airbuild.Scope) air.Atom {
		CopyAtom(s, d, val)
		return &air.Con{Ty: &air.UnitType{}}
	})
	if got := countKind(decls, air.OpPlace); got != 2 {
		t.Fatalf("CopyAtom emitted %d stores, want 2", got)
	}

	decls, _ = s.BuildScoped(func(s *airbuild.Scope) air.Atom {
		return LoadDest(s, d)
	})
	if got := countKind(decls, air.OpPtrLoad); got != 2 {
		t.Fatalf("LoadDest emitted %d loads, want 2", got)
	}
}

// Project follows the dest shape the same way Proj follows values.
func TestProjectProduct(t *testing.T) {
	names := name.NewScope()
	s := airbuild.New(names)
	prod := &air.ProdType{Elems: []air.Type{f64(), &air.TC{Base: air.I32}}}
	s.BuildBlock(func(s *airbuild.Scope) air.Atom {
		d, _, err := Make(names, s, Unmanaged, prod)
		if err != nil {
			t.Fatalf("Make: %v", err)
		}
		second := Project(d, []int{1})
		leaf, ok := second.(*BaseTypeRef)
		if !ok || leaf.Base != air.I32 {
			t.Fatalf("Project([1]) = %T/%v, want the I32 leaf", second, second)
		}
		return &air.Con{Ty: &air.UnitType{}}
	})
}
