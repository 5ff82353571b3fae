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
	"github.com/airlower/airlower/internal/name"
	"github.com/airlower/airlower/internal/poly"
)

// template is the one recursive traversal this package needs (spec.md
// 4.2's makeDest algorithm): given the concrete ordinal atoms of every
// table dimension entered so far (ords, growing one element per
// enclosing TabRef.Index call), produce the Dest for this point in the
// type. Building the whole recursive shape as a closure - rather than
// a Dest value with a symbolic placeholder substituted in later -
// means every BaseTypeRef's Offset is computed fresh, in the builder
// scope actually live at index time (the Seq loop body), exactly where
// spec.md 4.3.3 needs it.
type template func(s *airbuild.Scope, ords []air.Atom) Dest

// Make builds a Dest for t under AllocMode mode, together with the
// flat list of top-level pointer allocations that realize it (spec.md
// 4.2's contract). Pointers nested behind a dependent table boundary
// are not included here; they surface instead as a *BoxedDest node
// inside the returned Dest, to be allocated lazily once their
// dependent value is known (spec.md 3.6, BoxedRef).
func Make(names *name.Scope, s *airbuild.Scope, mode AllocMode, t air.Type) (Dest, []PtrAlloc, error) {
	var ptrs []PtrAlloc
	tmpl, err := build(names, mode, nil, nil, t, &ptrs)
	if err != nil {
		return nil, nil, err
	}
	return tmpl(s, nil), ptrs, nil
}

func build(names *name.Scope, mode AllocMode, idxs poly.IndexStructure, depVars map[name.Name]bool, t air.Type, ptrs *[]PtrAlloc) (template, error) {
	switch ty := t.(type) {
	case *air.UnitType:
		return func(*airbuild.Scope, []air.Atom) Dest { return nil }, nil

	case *air.TabType:
		dependent := false
		for _, fv := range air.IxFreeNames(ty.Binder.Ann) {
			if depVars[fv] {
				dependent = true
				break
			}
		}
		if !dependent {
			innerIdxs := append(append(poly.IndexStructure{}, idxs...), ty.Binder)
			bodyTmpl, err := build(names, mode, innerIdxs, depVars, ty.Body, ptrs)
			if err != nil {
				return nil, err
			}
			binder := ty.Binder
			body := ty.Body
			return func(s *airbuild.Scope, ords []air.Atom) Dest {
				return &TabRef{
					Binder: binder,
					Elem:   body,
					Index: func(s2 *airbuild.Scope, i air.Atom) Dest {
						next := append(append([]air.Atom{}, ords...), i)
						return bodyTmpl(s2, next)
					},
				}
			}, nil
		}
		// Dependent index type: fall back to a BoxedRef whose pointers
		// are allocated once this TabType's own size is known, locally
		// to this boundary (spec.md 4.2's TabTy dependent-fallback
		// case).
		localDepVars := depVars
		binder := ty.Binder
		body := ty.Body
		return func(s *airbuild.Scope, ords []air.Atom) Dest {
			var localPtrs []PtrAlloc
			innerTmpl, err := build(names, mode, poly.IndexStructure{binder}, localDepVars, body, &localPtrs)
			if err != nil {
				// Construction-time errors inside a boxed region are
				// compiler-internal (a malformed type slipped past the
				// simplifier); surface them the same way the rest of
				// this pass does, as a panic caught at the Compile
				// driver boundary (internal/compiler.InternalError).
				panic(fmt.Errorf("dest: boxed table: %w", err))
			}
			elem := innerTmpl(s, nil)
			tab := &TabRef{Binder: binder, Elem: body, Index: func(s2 *airbuild.Scope, i air.Atom) Dest {
				return elem.(*TabRef).Index(s2, i)
			}}
			return &BoxedDest{Ptrs: localPtrs, Inner: tab, Ty: &air.TabType{Binder: binder, Body: body}}
		}, nil

	case *air.RecordTy:
		return build(names, mode, idxs, depVars, ty.Desugar(), ptrs)
	case *air.VariantTy:
		return build(names, mode, idxs, depVars, ty.Desugar(), ptrs)
	case *air.NewtypeType:
		inner, err := build(names, mode, idxs, depVars, ty.Rep, ptrs)
		if err != nil {
			return nil, err
		}
		tyName := ty.Name
		rep := ty.Rep
		return func(s *airbuild.Scope, ords []air.Atom) Dest {
			return &NewtypeDest{TypeName: tyName, Ty: &air.NewtypeType{Name: tyName, Rep: rep}, Inner: inner(s, ords)}
		}, nil

	case *air.DepPairType:
		leftTmpl, err := build(names, mode, idxs, depVars, ty.LBinder.Ann, ptrs)
		if err != nil {
			return nil, err
		}
		rightDepVars := extend(depVars, ty.LBinder.Name)
		rightTmpl, err := build(names, mode, idxs, rightDepVars, ty.RTy, ptrs)
		if err != nil {
			return nil, err
		}
		depTy := ty
		return func(s *airbuild.Scope, ords []air.Atom) Dest {
			left := leftTmpl(s, ords)
			return &DepPairDest{
				Left: left,
				Right: func(s2 *airbuild.Scope, leftVal air.Atom) Dest {
					// leftVal substitutes for ty.LBinder.Name in RTy's
					// shape via program order: rightTmpl's closures
					// reference leftVal indirectly because callers
					// (internal/lower) bind ty.LBinder.Name to leftVal
					// in the surrounding block before materializing
					// Right, per invariant D3.
					return rightTmpl(s2, ords)
				},
				Ty: depTy,
			}
		}, nil

	case *air.TC, *air.SumType, *air.ProdType:
		var tcSub interface{} = ty
		if tc, ok := ty.(*air.TC); ok {
			tcSub = anyTC(tc)
		}
		switch sub := tcSub.(type) {
		case *air.SumType:
			tagName := names.Fresh(name.ColorPtr, "tag")
			tagCount := poly.ElemCount(idxs)
			*ptrs = append(*ptrs, PtrAlloc{Name: tagName, Base: air.TagRepTy, Count: finalizeCount(tagCount), Mode: mode})
			caseTmpls := make([]template, len(sub.Cases))
			for i, c := range sub.Cases {
				ct, err := build(names, mode, idxs, depVars, c, ptrs)
				if err != nil {
					return nil, err
				}
				caseTmpls[i] = ct
			}
			idxsCopy := idxs
			cases := sub.Cases
			return func(s *airbuild.Scope, ords []air.Atom) Dest {
				tagOffset := poly.ComputeOffset(s, idxsCopy, ordinals(s, idxsCopy, ords))
				tag := &BaseTypeRef{Ptr: &air.Var{Name: tagName, Ty: &air.RefType{Elem: &air.TC{Base: air.TagRepTy}}}, Offset: tagOffset, Base: air.TagRepTy}
				out := make([]Dest, len(caseTmpls))
				for i, ct := range caseTmpls {
					out[i] = ct(s, ords)
				}
				return &SumDest{Tag: tag, Cases: out, Tys: cases}
			}, nil

		case *air.ProdType:
			elemTmpls := make([]template, len(sub.Elems))
			for i, e := range sub.Elems {
				et, err := build(names, mode, idxs, depVars, e, ptrs)
				if err != nil {
					return nil, err
				}
				elemTmpls[i] = et
			}
			elems := sub.Elems
			return func(s *airbuild.Scope, ords []air.Atom) Dest {
				out := make([]Dest, len(elemTmpls))
				for i, et := range elemTmpls {
					out[i] = et(s, ords)
				}
				return &ProdDest{Elems: out, Tys: elems}
			}, nil

		case air.BaseType:
			base := sub
			ptrName := names.Fresh(name.ColorPtr, "ptr")
			count := poly.ElemCount(idxs)
			*ptrs = append(*ptrs, PtrAlloc{Name: ptrName, Base: base, Count: finalizeCount(count), Mode: mode})
			idxsCopy := idxs
			return func(s *airbuild.Scope, ords []air.Atom) Dest {
				offset := poly.ComputeOffset(s, idxsCopy, ordinals(s, idxsCopy, ords))
				return &BaseTypeRef{Ptr: &air.Var{Name: ptrName, Ty: &air.RefType{Elem: &air.TC{Base: base}}}, Offset: offset, Base: base}
			}, nil
		}
	}
	return nil, fmt.Errorf("dest: makeDest: unsupported type %v", t)
}

func extend(m map[name.Name]bool, n name.Name) map[name.Name]bool {
	out := make(map[name.Name]bool, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[n] = true
	return out
}

// anyTC unwraps the base-type-vs-compound-type-constructor ambiguity
// baked into air.TC: a *air.TC only ever wraps a plain air.BaseType in
// this model (SumType/ProdType are their own Type implementations, not
// routed through TC). build's switch above unwraps a *air.TC with this
// helper and passes a *air.SumType or *air.ProdType through as is, so
// one arm handles all three per spec.md 4.2's case list, which groups
// `TC (SumType cases)` / `TC (ProdType tys)` / `TC (BaseType b)`
// together.
func anyTC(t *air.TC) interface{} { return t.Base }

// finalizeCount lowers a Poly element-count to an air.Atom: a literal
// Con if constant, otherwise left symbolic (callers that need a
// concrete decl, e.g. internal/lower before handing the count on to
// Imp's Alloc, evaluate it later via EvalCount (poly.Eval) in their own
// builder scope - Make only needs to know this
// is a *count*, not to bake it into a decl prematurely per O1).
func finalizeCount(p poly.Poly) air.Atom {
	if v, ok := p.ConstValue(); ok {
		return air.IntCon(air.IdxRepTy, v)
	}
	return &polyAtom{p: p}
}

// polyAtom is an internal air.Atom wrapping an unevaluated Poly, used
// only as a size/count placeholder between Make and Loop Lowering
// (internal/lower), which calls EvalCount to turn it into a real decl
// in its own scope before the count reaches the Imp translator.
type polyAtom struct {
	air.TCAtom
	p poly.Poly
}

func (*polyAtom) Type() air.Type { return &air.TC{Base: air.IdxRepTy} }

// EvalCount resolves a count atom returned by Make/PtrAlloc.Count into
// a concrete IdxRepTy atom, emitting decls into s if needed.
func EvalCount(s *airbuild.Scope, a air.Atom) air.Atom {
	if pa, ok := a.(*polyAtom); ok {
		return poly.Eval(s, pa.p)
	}
	return a
}

func ordinals(s *airbuild.Scope, idxs poly.IndexStructure, ords []air.Atom) []air.Atom {
	out := make([]air.Atom, len(ords))
	for i, o := range ords {
		out[i] = ordinalAtom(s, idxs[i].Ann, o)
	}
	return out
}

// ordinalAtom converts a concrete index value into the plain ordinal
// the polynomial algebra sums strides over: Fin's ordinal is the index
// value itself; a dynamic Ix dictionary's ordinal goes through its
// `ordinal` method (spec.md 4.1's Ix-dict contract).
func ordinalAtom(s *airbuild.Scope, ixTy air.IxType, idx air.Atom) air.Atom {
	if d, ok := ixTy.(*air.DictIxType); ok {
		return s.EmitOp(air.OpOrdinal, "ordinal", []air.Atom{d.Dict, idx}, &air.TC{Base: air.IdxRepTy})
	}
	return idx
}
