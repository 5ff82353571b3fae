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

package air

import "github.com/airlower/airlower/internal/name"

// Annotation is a Block's result type and effect row. A Block with no
// decls may omit it (spec.md 3.5, "Annotation is either None ... or
// (result-type, effect-row)").
type Annotation struct {
	ResultTy Type
	Effects  *EffRow
}

// Decl is one `Let binder (bindingAnnotation, type, expr)` in a
// Block's decl nest (spec.md 3.5).
type Decl struct {
	Binder name.Binder[Type]
	// BindingAnn records the surface-level binding annotation (e.g.
	// "NoInlineHint"); empty for ordinary lets and when absent.
	BindingAnn string
	Expr       Expr
}

func (d *Decl) FreeNames() []name.Name { return d.Expr.FreeNames() }

// Block is `Block annotation decls resultAtom` (spec.md 3.5): a nest
// of Decls culminating in a Result atom. Decls is a name.Nest
// (sequential extension) over *Decl.
type Block struct {
	Ann    *Annotation
	Decls  name.Nest[*Decl]
	Result Atom
}

// NewBlock builds a Block, inferring Ann from result/effects when decls
// are non-empty (the None case only applies when Decls is empty).
func NewBlock(decls name.Nest[*Decl], result Atom, effects *EffRow) *Block {
	var ann *Annotation
	if len(decls) > 0 || result.Type() != nil {
		ann = &Annotation{ResultTy: result.Type(), Effects: effects}
	}
	return &Block{Ann: ann, Decls: decls, Result: result}
}

// FreeNames returns the names this block's result/decls reference that
// are not bound within the block itself - used by NonDepNest's
// construction-time invariant check on things like BoxedRef.SizeBlock.
func (b *Block) FreeNames() []name.Name {
	bound := make(map[name.Name]bool, len(b.Decls))
	var free []name.Name
	seen := make(map[name.Name]bool)
	record := func(n name.Name) {
		if !bound[n] && !seen[n] {
			seen[n] = true
			free = append(free, n)
		}
	}
	for _, d := range b.Decls {
		for _, fv := range d.Ann.FreeNames() {
			record(fv)
		}
		bound[d.Name] = true
	}
	for _, fv := range freeNamesOfAtom(b.Result) {
		record(fv)
	}
	return free
}
