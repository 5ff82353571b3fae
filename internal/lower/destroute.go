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
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/name"
)

// ProjDest is either a FullDest (empty Path) or a projection of a
// destination applied to a variable (spec.md 4.3.4): writing the
// routed variable means writing the matching slot of Dest.
type ProjDest struct {
	Dest dest.Dest
	Path []int
}

// decomposeDest is spec.md 4.3.4's "DestAssignment map": when a block
// ends with a variable or a projection-of-variable, route d to that
// variable so its defining decl is lowered directly with the
// (projected) destination instead of a fresh allocation plus a final
// Place. This is deliberately the conservative policy named in
// DESIGN.md's Open Question decision - it does not chase `Con
// (ProdCon ...)` bindings through further decls, only the single
// routed name.
func decomposeDest(result air.Atom, d dest.Dest) map[name.Name]ProjDest {
	if d == nil {
		return nil
	}
	switch v := result.(type) {
	case *air.Var:
		return map[name.Name]ProjDest{v.Name: {Dest: d}}
	case *air.Proj:
		if base, ok := v.Base.(*air.Var); ok {
			return map[name.Name]ProjDest{base.Name: {Dest: d, Path: v.Path}}
		}
	}
	return nil
}
