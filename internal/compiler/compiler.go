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

// Package compiler wires the passes into a pipeline: Loop Lowering ->
// optional Vectorization -> Imp Translation, over a per-compilation-
// unit environment.
package compiler

import (
	"fmt"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/imp"
	"github.com/airlower/airlower/internal/lower"
	"github.com/airlower/airlower/internal/name"
	"github.com/airlower/airlower/internal/vectorize"
)

// Unit is the one mutable environment of a compilation unit (spec.md
// 5's Env/Cache): append-only tables of global bindings plus the shared
// fresh-name allocator. It is deliberately not synchronized - the whole
// pipeline is single-threaded at the caller boundary, and a caller
// wanting parallel compilation runs one Unit per goroutine.
type Unit struct {
	Names *name.Scope

	// DataDefs/ClassDefs record globally-visible definitions elaborated
	// upstream; this core only reads them.
	DataDefs  map[string]air.Type
	ClassDefs map[string][]string

	// Funs accumulates every Imp function emitted for this unit,
	// including export wrappers. Append-only.
	Funs []*imp.Function

	// impCache memoizes Compile results per block identity.
	// Monotonic: lookup then insert, never invalidate.
	impCache map[*air.Block]*imp.FunctionWithRecon
}

// NewUnit returns an empty compilation unit.
func NewUnit() *Unit {
	return &Unit{
		Names:     name.NewScope(),
		DataDefs:  make(map[string]air.Type),
		ClassDefs: make(map[string][]string),
		impCache:  make(map[*air.Block]*imp.FunctionWithRecon),
	}
}

// Compile runs the full pipeline on one simplified block: lower to a
// DestBlock, vectorize inner Seq loops when the target requests a
// width, then translate to Imp. The result is cached per block
// identity.
func (u *Unit) Compile(b *air.Block, target Target) (*imp.FunctionWithRecon, error) {
	if fn, ok := u.impCache[b]; ok {
		return fn, nil
	}
	logf(1, "compile: lowering block (%d decls)", len(b.Decls))
	db, err := lower.Lower(u.Names, b)
	if err != nil {
		return nil, &InternalError{Tag: "lower", Err: err}
	}

	if w := target.VectorWidth(); w > 1 {
		logf(1, "compile: vectorizing at width %d", w)
		body, err := vectorize.Rewrite(u.Names, db.Body, w)
		if err != nil {
			return nil, &InternalError{Tag: "vectorize", Err: err}
		}
		db.Body = body
	}

	logf(1, "compile: translating to imp (%d ptrs)", len(db.Ptrs))
	fn, err := imp.Translate(u.Names, db, target.ImpBackend(), target.ImpDevice())
	if err != nil {
		return nil, &InternalError{Tag: "imp", Err: err}
	}
	u.Funs = append(u.Funs, fn.Fun)
	u.impCache[b] = fn
	return fn, nil
}

// Lower exposes just the lowering stage (spec.md 6.2 lists the
// DestBlock itself as a product).
func (u *Unit) Lower(b *air.Block) (*lower.DestBlock, error) {
	db, err := lower.Lower(u.Names, b)
	if err != nil {
		return nil, &InternalError{Tag: "lower", Err: err}
	}
	return db, nil
}

// Export compiles b and wraps the result under the given export
// convention, recording the wrapper in the unit's function table.
func (u *Unit) Export(b *air.Block, target Target, cc imp.ExportCC) (*imp.Function, error) {
	fn, err := u.Compile(b, target)
	if err != nil {
		return nil, err
	}
	wrapper, err := imp.Export(u.Names, fn.Fun, cc)
	if err != nil {
		return nil, &InternalError{Tag: "export", Err: err}
	}
	u.Funs = append(u.Funs, wrapper)
	return wrapper, nil
}

// InternalError is a compiler-internal invariant violation (spec.md 7,
// error kind 2): a bug in this or an earlier pass, not user-recoverable.
type InternalError struct {
	Tag string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error [%s]: %v", e.Tag, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
