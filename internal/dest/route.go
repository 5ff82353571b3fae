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

import "fmt"

// Project walks a projection path (0-based field indices, spec.md 3.4's
// `Proj`) down into d, returning the destination of that field. Used by
// internal/lower's dest-routing (spec.md 4.3.4, ProjDest) to turn a
// block-level destination into the destination of one decl's binder
// when the block's result is a projection of that binder.
func Project(d Dest, path []int) Dest {
	cur := d
	for _, i := range path {
		switch v := cur.(type) {
		case *ProdDest:
			cur = v.Elems[i]
		case *NewtypeDest:
			cur = Project(v.Inner, []int{i})
		case *SumDest:
			if i == 0 {
				cur = v.Tag
			} else {
				cur = v.Cases[i-1]
			}
		case *BoxedDest:
			cur = Project(v.Inner, []int{i})
		case *DepPairDest:
			if i == 0 {
				cur = v.Left
			} else {
				panic("dest: Project: cannot statically project a DepPairDest's dependent right component")
			}
		default:
			panic(fmt.Errorf("dest: Project: cannot project index %d into %T", i, cur))
		}
	}
	return cur
}
