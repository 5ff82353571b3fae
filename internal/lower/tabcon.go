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
)

// lowerTabCon implements spec.md 4.3.6: for each literal index i,
// compute unsafeFromOrdinal ty i, obtain the per-element dest via
// IndexRef, and Place the (already-evaluated) element atom.
func (lw *Lowerer) lowerTabCon(s *airbuild.Scope, t *air.TabCon, d dest.Dest) {
	tabTy, ok := t.Ty.(*air.TabType)
	if !ok {
		panic("lower: lowerTabCon: TabCon type is not a TabType")
	}
	ixTy := tabTy.Binder.Ann
	for i, elem := range t.Elems {
		idx := unsafeFromOrdinal(s, ixTy, int64(i))
		elemDest := lw.tabElemDest(s, d, idx)
		dest.CopyAtom(s, elemDest, elem)
	}
}

// unsafeFromOrdinal converts a compile-time-literal ordinal into the
// index type's domain value: for Fin n the ordinal already is the
// value; for a dynamic Ix dictionary, its unsafe-from-ordinal method is
// invoked (spec.md 4.1's Ix-dict contract).
func unsafeFromOrdinal(s *airbuild.Scope, ixTy air.IxType, i int64) air.Atom {
	if d, ok := ixTy.(*air.DictIxType); ok {
		lit := air.IntCon(air.IdxRepTy, i)
		return s.EmitOp(air.OpUnsafeFromOrdinal, "unsafeFromOrdinal", []air.Atom{d.Dict, lit}, d)
	}
	return air.IntCon(air.IdxRepTy, i)
}
