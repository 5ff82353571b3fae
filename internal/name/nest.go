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

package name

import "fmt"

// Nest is a telescope of sequentially-extending binders: Binder k's
// annotation may reference any Name bound by binders 0..k-1. This is
// the dependent case from spec.md 3.1 (a decl list, a dependent
// product's field list, ...).
type Nest[T any] []Binder[T]

// Names returns the bound names in order.
func (n Nest[T]) Names() []Name {
	out := make([]Name, len(n))
	for i, b := range n {
		out[i] = b.Name
	}
	return out
}

// FreeNamer is implemented by annotation types that can report which
// Names they reference freely; it is the hook NonDepNest uses to
// reject annotations that (illegally) reference a sibling binder.
type FreeNamer interface {
	FreeNames() []Name
}

// NonDepNest is a telescope whose binders extend the scope in
// parallel: no binder's annotation may reference another binder in
// the same nest (spec.md 3.1, "non-dependent nest"). Used for e.g. a
// BoxedRef's pointer-binder list, where every pointer's size-block is
// computed before any of the pointers exist.
type NonDepNest[T FreeNamer] []Binder[T]

// NewNonDepNest validates (in debug builds only) that no binder's
// annotation references another binder in the same list, then
// constructs the nest. In release builds the check is skipped and the
// nest is built directly, without any check.
func NewNonDepNest[T FreeNamer](binders []Binder[T]) (NonDepNest[T], error) {
	if Debug {
		bound := make(map[Name]bool, len(binders))
		for _, b := range binders {
			bound[b.Name] = true
		}
		for _, b := range binders {
			for _, fv := range b.Ann.FreeNames() {
				if bound[fv] {
					return nil, fmt.Errorf("name: non-dependent nest binder %v references sibling %v", b.Name, fv)
				}
			}
		}
	}
	return NonDepNest[T](binders), nil
}

func (n NonDepNest[T]) Names() []Name {
	out := make([]Name, len(n))
	for i, b := range n {
		out[i] = b.Name
	}
	return out
}
