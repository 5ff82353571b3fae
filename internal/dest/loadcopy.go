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
	"fmt"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
)

// IndexRef applies one index to a table destination, instantiating its
// table-lambda body at i (spec.md 4.2/SPEC_FULL 4.2, indexDest).
func IndexRef(s *airbuild.Scope, d *TabRef, i air.Atom) Dest {
	return d.Index(s, i)
}

// LoadDest is the read-mode conversion of a fully-written destination
// back into a value atom (SPEC_FULL 4.2): recursive over the Dest ADT,
// bottoming out at a PtrLoad Op for every BaseTypeRef leaf.
func LoadDest(s *airbuild.Scope, d Dest) air.Atom {
	switch v := d.(type) {
	case nil:
		return &air.Con{Ty: &air.UnitType{}}
	case *BaseTypeRef:
		ptr := s.EmitOp(air.OpPtrOffset, "offset", []air.Atom{v.Ptr, v.Offset}, &air.RefType{Elem: &air.TC{Base: v.Base}})
		return s.EmitOp(air.OpPtrLoad, "load", []air.Atom{ptr}, &air.TC{Base: v.Base})
	case *ProdDest:
		elems := make([]air.Atom, len(v.Elems))
		for i, e := range v.Elems {
			elems[i] = LoadDest(s, e)
		}
		return s.EmitOp(air.OpFreeze, "prod", elems, &air.ProdType{Elems: v.Tys})
	case *SumDest:
		tag := LoadDest(s, v.Tag)
		args := append([]air.Atom{tag}, loadAll(s, v.Cases)...)
		return s.EmitOp(air.OpFreeze, "sum", args, &air.SumType{Cases: v.Tys})
	case *NewtypeDest:
		return LoadDest(s, v.Inner)
	case *DepPairDest:
		left := LoadDest(s, v.Left)
		right := LoadDest(s, v.Right(s, left))
		return &air.DepPair{Left: left, Right: right, Ty: v.Ty}
	case *BoxedDest:
		return LoadDest(s, v.Inner)
	case *TabRef:
		return s.EmitOp(air.OpFreeze, "tab", nil, v.Type())
	default:
		panic(fmt.Errorf("dest: LoadDest: unhandled %T", d))
	}
}

func loadAll(s *airbuild.Scope, ds []Dest) []air.Atom {
	out := make([]air.Atom, len(ds))
	for i, d := range ds {
		out[i] = LoadDest(s, d)
	}
	return out
}

// CopyAtom recursively destructures v against the shape of d and emits
// one Place/Store per BaseTypeRef leaf (SPEC_FULL 4.2). Used by Loop
// Lowering (internal/lower) for any non-for expression lowered with a
// provided destination (spec.md 4.3.2), and for TabCon elements and
// RWS initial values.
func CopyAtom(s *airbuild.Scope, d Dest, v air.Atom) {
	switch dd := d.(type) {
	case nil:
		return
	case *BaseTypeRef:
		ptr := s.EmitOp(air.OpPtrOffset, "offset", []air.Atom{dd.Ptr, dd.Offset}, &air.RefType{Elem: &air.TC{Base: dd.Base}})
		s.EmitDecl(&air.UnitType{}, &air.Op{Kind: air.OpPlace, Prim: "store", Args: []air.Atom{ptr, v}, ResultTy: &air.UnitType{}})
	case *ProdDest:
		for i, e := range dd.Elems {
			CopyAtom(s, e, &air.Proj{Base: v, Path: []int{i}})
		}
	case *SumDest:
		// The scrutinee's tag selects which payload slot v actually
		// occupies; every other payload slot is left as-is (all sum
		// payloads are pre-allocated per spec.md 4.2, so leaving the
		// non-selected cases unwritten is not a D2 violation - they
		// are simply never read back along this control path).
		CopyAtom(s, dd.Tag, &air.Proj{Base: v, Path: []int{0}, Field: "tag"})
		for i, c := range dd.Cases {
			CopyAtom(s, c, &air.Proj{Base: v, Path: []int{1, i}})
		}
	case *NewtypeDest:
		CopyAtom(s, dd.Inner, v)
	case *DepPairDest:
		left := &air.Proj{Base: v, Path: []int{0}}
		CopyAtom(s, dd.Left, left)
		right := &air.Proj{Base: v, Path: []int{1}}
		CopyAtom(s, dd.Right(s, left), right)
	case *BoxedDest:
		CopyAtom(s, dd.Inner, v)
	case *TabRef:
		// Copying a whole table atom into a table destination is only
		// reachable via RememberDest/a non-for producer of table type;
		// Loop Lowering's TabCon/for paths never reach this arm
		// because they always write element-by-element through Index.
		panic("dest: CopyAtom: whole-table copy must go through Lower's TabCon/for element loop")
	default:
		panic(fmt.Errorf("dest: CopyAtom: unhandled %T", d))
	}
}
