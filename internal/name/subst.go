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

// Subst is an explicit substitution context: a persistent map from
// bound Name to replacement value, passed by value through
// traversals rather than threaded through an ambient reader monad.
type Subst[V any] map[Name]V

// Extend returns a new Subst with n bound to v, leaving the receiver
// untouched so that a caller may branch (e.g. over Case alternatives)
// without one branch's bindings leaking into another.
func (s Subst[V]) Extend(n Name, v V) Subst[V] {
	out := make(Subst[V], len(s)+1)
	for k, vv := range s {
		out[k] = vv
	}
	out[n] = v
	return out
}

// Lookup returns the value bound to n, if any.
func (s Subst[V]) Lookup(n Name) (V, bool) {
	v, ok := s[n]
	return v, ok
}
