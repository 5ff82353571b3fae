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
	"testing"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
)

// A table literal lowers to one allocation plus one Place per element,
// at ascending literal offsets (spec.md 4.3.6).
func TestTabConPlacesEveryElement(t *testing.T) {
	names := name.NewScope()
	ib := name.NewBinder(names.Fresh(name.ColorAtom, "i"), fin(3))
	tabTy := &air.TabType{Binder: ib, Body: w32()}

	tn := names.Fresh(name.ColorAtom, "lit")
	decl := &air.Decl{Binder: name.NewBinder(tn, air.Type(tabTy)),
		Expr: &air.TabCon{Ty: tabTy, Elems: []air.Atom{
			air.IntCon(air.IdxRepTy, 10),
			air.IntCon(air.IdxRepTy, 20),
			air.IntCon(air.IdxRepTy, 30),
		}}}
	b := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(tn, decl)}, &air.Var{Name: tn, Ty: tabTy}, nil)

	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(db.Ptrs) != 1 {
		t.Fatalf("table literal allocated %d buffers, want 1", len(db.Ptrs))
	}
	if c, ok := db.Ptrs[0].Count.(*air.Con); !ok || c.I != 3 {
		t.Fatalf("buffer count = %v, want 3", db.Ptrs[0].Count)
	}

	places := 0
	var offsets []int64
	for _, d := range db.Body.Decls {
		op, ok := d.Ann.Expr.(*air.Op)
		if !ok {
			continue
		}
		switch op.Kind {
		case air.OpPlace:
			places++
		case air.OpPtrOffset:
			if c, ok := op.Args[1].(*air.Con); ok {
				offsets = append(offsets, c.I)
			}
		}
	}
	if places != 3 {
		t.Fatalf("emitted %d Places, want 3", places)
	}
	for i, off := range offsets {
		if off != int64(i) {
			t.Fatalf("offsets = %v, want ascending 0,1,2", offsets)
		}
	}
}
