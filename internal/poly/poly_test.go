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

package poly

import (
	"testing"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
)

// countEmitter counts emitted ops; constant-only polynomials must fold
// without touching it.
type countEmitter struct {
	emitted  int
	lastKind air.OpKind
}

func (c *countEmitter) EmitOp(kind air.OpKind, prim string, args []air.Atom, ty air.Type) air.Atom {
	c.emitted++
	c.lastKind = kind
	return &air.Var{Name: name.Name{Color: name.ColorAtom, ID: 10000 + c.emitted}, Ty: ty}
}

func finBinders(t *testing.T, sizes ...int64) IndexStructure {
	t.Helper()
	s := name.NewScope()
	idxs := make(IndexStructure, len(sizes))
	for i, n := range sizes {
		idxs[i] = name.NewBinder(s.Fresh(name.ColorAtom, "i"), air.IxType(&air.FinType{N: air.IntCon(air.IdxRepTy, n)}))
	}
	return idxs
}

func lits(vals ...int64) []air.Atom {
	out := make([]air.Atom, len(vals))
	for i, v := range vals {
		out[i] = air.IntCon(air.IdxRepTy, v)
	}
	return out
}

func constOffset(t *testing.T, idxs IndexStructure, ords []air.Atom) int64 {
	t.Helper()
	e := &countEmitter{}
	got := ComputeOffset(e, idxs, ords)
	c, ok := got.(*air.Con)
	if !ok {
		t.Fatalf("expected a folded constant offset, got %T (emitted %d ops)", got, e.emitted)
	}
	return c.I
}

// S6: index structure [Fin 3, Fin 5, Fin 7], indices [2, 1, 4] -> 81.
func TestOffsetLiteralExample(t *testing.T) {
	idxs := finBinders(t, 3, 5, 7)
	if got := constOffset(t, idxs, lits(2, 1, 4)); got != 81 {
		t.Fatalf("offset = %d, want 81", got)
	}
}

// P4: computeOffset equals the row-major formula for every index of a
// small non-dependent structure.
func TestOffsetRowMajorRoundTrip(t *testing.T) {
	dims := []int64{2, 3, 4}
	idxs := finBinders(t, dims...)
	for i0 := int64(0); i0 < dims[0]; i0++ {
		for i1 := int64(0); i1 < dims[1]; i1++ {
			for i2 := int64(0); i2 < dims[2]; i2++ {
				want := i0*dims[1]*dims[2] + i1*dims[2] + i2
				got := constOffset(t, idxs, lits(i0, i1, i2))
				if got != want {
					t.Fatalf("offset(%d,%d,%d) = %d, want %d", i0, i1, i2, got, want)
				}
			}
		}
	}
}

func TestOffsetEdgeCases(t *testing.T) {
	e := &countEmitter{}
	// Empty structure: offset 0.
	got := ComputeOffset(e, nil, nil)
	if c, ok := got.(*air.Con); !ok || c.I != 0 {
		t.Fatalf("empty structure offset = %v, want 0", got)
	}
	// Single dimension: just that ordinal.
	idxs := finBinders(t, 9)
	got = ComputeOffset(e, idxs, lits(7))
	if c, ok := got.(*air.Con); !ok || c.I != 7 {
		t.Fatalf("single-dim offset = %v, want 7", got)
	}
	if e.emitted != 0 {
		t.Fatalf("edge cases must not emit decls, emitted %d", e.emitted)
	}
}

// Zero-element dimensions are permitted: sizes fold to zero, offsets
// stay well-defined.
func TestZeroElementDimension(t *testing.T) {
	idxs := finBinders(t, 4, 0)
	count := ElemCount(idxs)
	if v, ok := count.ConstValue(); !ok || v != 0 {
		t.Fatalf("elem count = %v, want 0", count)
	}
}

func TestElemCountProduct(t *testing.T) {
	idxs := finBinders(t, 10, 20)
	count := ElemCount(idxs)
	if v, ok := count.ConstValue(); !ok || v != 200 {
		t.Fatalf("elem count = %v, want 200", count)
	}
}

// The split rule: a binder whose Fin size references an earlier binder
// starts the dependent suffix.
func TestSplitDependentSuffix(t *testing.T) {
	s := name.NewScope()
	n0 := s.Fresh(name.ColorAtom, "n")
	b0 := name.NewBinder(n0, air.IxType(&air.FinType{N: air.IntCon(air.IdxRepTy, 5)}))
	b1 := name.NewBinder(s.Fresh(name.ColorAtom, "m"),
		air.IxType(&air.FinType{N: &air.Var{Name: n0, Ty: &air.TC{Base: air.IdxRepTy}}}))
	prefix, suffix := Split(IndexStructure{b0, b1})
	if len(prefix) != 1 || len(suffix) != 1 {
		t.Fatalf("split = (%d, %d), want (1, 1)", len(prefix), len(suffix))
	}
}

// A constant fold that exceeds the IdxRepTy range must not wrap: the
// poly stops reporting a constant value, and Eval emits a ThrowError
// instead of a size.
func TestOverflowingFoldThrows(t *testing.T) {
	big := Const(1 << 20)
	p := big.Mul(big) // 2^40: far past uint32
	if _, ok := p.ConstValue(); ok {
		t.Fatalf("overflowed poly still reports a constant value")
	}

	e := &countEmitter{}
	got := Eval(e, p)
	if e.lastKind != air.OpThrowError {
		t.Fatalf("Eval emitted %v, want a ThrowError", e.lastKind)
	}
	if c, ok := got.(*air.Con); !ok || c.I != 0 {
		t.Fatalf("Eval placeholder = %v, want 0", got)
	}
}

// Element counts overflow the same way: a 2^20 x 2^20 index structure
// has no representable flat size.
func TestElemCountOverflow(t *testing.T) {
	idxs := finBinders(t, 1<<20, 1<<20)
	count := ElemCount(idxs)
	if _, ok := count.ConstValue(); ok {
		t.Fatalf("overflowed element count folded to a constant")
	}
}

func TestEvalFoldsConstants(t *testing.T) {
	e := &countEmitter{}
	p := Const(3).Mul(Const(4)).Add(Const(2))
	got := Eval(e, p)
	c, ok := got.(*air.Con)
	if !ok || c.I != 14 {
		t.Fatalf("eval = %v, want 14", got)
	}
	if e.emitted != 0 {
		t.Fatalf("constant poly emitted %d ops", e.emitted)
	}
}
