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

// Package dest implements Destination Synthesis (spec.md 4.2): makeDest
// builds a structured write-handle tree (a Dest) for a high-IR type,
// together with the pointer allocations that realize it; loadDest,
// copyAtom and indexDest convert between that tree and ordinary
// values.
//
// A table destination's per-element Dest depends on the table's index
// (its offset arithmetic is parameterized by the loop-bound index
// atom). Rather than building the per-element Dest once with a
// symbolic placeholder atom and substituting into already-emitted
// decls afterward - which would require a general substitution pass
// over emitted Imp-ish decls, an "unsafe-coerce at IR
// boundary"-style trap - TabRef and DepPairRef
// instead carry a closure that re-derives the per-element/per-value
// Dest on demand, emitting fresh offset-computation decls into
// whichever builder scope is live at the call site (the Seq loop
// body, for a TabRef). This mirrors how the teacher's own
// `vm/exprcompile.go` builds SSA values on demand during a single
// traversal rather than building then rewriting a template.
package dest

import (
	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/airbuild"
	"github.com/airlower/airlower/internal/name"
)

// AllocMode selects how a destination's backing pointers are realized
// (spec.md 3.7 / 4.5's chooseAddrSpace).
type AllocMode uint8

const (
	// Managed pointers are registered with the surrounding scoped-imp
	// context for a deferred Free in reverse allocation order.
	Managed AllocMode = iota
	// Unmanaged pointers are handed out to the caller, who owns their
	// lifetime (e.g. a function's declared result buffer).
	Unmanaged
)

// Dest is a typed write-handle tree (spec.md 3.6). Every leaf is a
// BaseTypeRef backed by exactly one pointer allocation (invariant D1).
type Dest interface {
	isDest()
	Type() air.Type
}

// BaseTypeRef is a pointer-plus-offset into a flat buffer.
type BaseTypeRef struct {
	Ptr    air.Atom // the allocated pointer (air.RefType-typed Var)
	Offset air.Atom // IdxRepTy atom, element-indexed (not byte-indexed)
	Base   air.BaseType
}

func (*BaseTypeRef) isDest()         {}
func (b *BaseTypeRef) Type() air.Type { return &air.TC{Base: b.Base} }

// TabRef is an indexed collection of destinations: Index materializes
// the Dest for one concrete index atom, emitting any offset-arithmetic
// decls it needs into s.
type TabRef struct {
	Binder name.Binder[air.IxType]
	Elem   air.Type
	Index  func(s *airbuild.Scope, i air.Atom) Dest
}

func (*TabRef) isDest() {}
func (t *TabRef) Type() air.Type {
	return &air.TabType{Binder: t.Binder, Body: t.Elem}
}

// ProdDest is ConRef(ProdCon [d...]): a product of destinations.
type ProdDest struct {
	Elems []Dest
	Tys   []air.Type
}

func (*ProdDest) isDest() {}
func (p *ProdDest) Type() air.Type { return &air.ProdType{Elems: p.Tys} }

// SumDest is ConRef(SumAsProd cases, tagRef, payloadRefs): a tag plus
// every case's payload destination, all pre-allocated (spec.md 4.2,
// "why all sum payloads are pre-allocated").
type SumDest struct {
	Tag   *BaseTypeRef
	Cases []Dest
	Tys   []air.Type
}

func (*SumDest) isDest() {}
func (s *SumDest) Type() air.Type { return &air.SumType{Cases: s.Tys} }

// NewtypeDest is ConRef(Newtype type innerRef): a wrapper recording the
// surface type name that desugared into Inner.
type NewtypeDest struct {
	TypeName string
	Ty       air.Type
	Inner    Dest
}

func (*NewtypeDest) isDest()     {}
func (n *NewtypeDest) Type() air.Type { return n.Ty }

// DepPairDest is `DepPairRef leftRef (abstracted rightRef) type`: Right
// materializes the right component's Dest once the left value (read
// back via loadDest(Left)) is known (invariant D3: left written first).
type DepPairDest struct {
	Left  Dest
	Right func(s *airbuild.Scope, leftVal air.Atom) Dest
	Ty    *air.DepPairType
}

func (*DepPairDest) isDest()     {}
func (d *DepPairDest) Type() air.Type { return d.Ty }

// PtrAlloc is one pointer binder a makeDest call needs allocated:
// Count is the element count (not byte count). The Imp `Alloc` that
// internal/imp emits carries this element count as its Size;
// internal/imp multiplies by Base.Size() only to get the byte size
// that chooseAddrSpace keys on.
type PtrAlloc struct {
	Name  name.Name
	Base  air.BaseType
	Count air.Atom
	Mode  AllocMode
}

// BoxedDest wraps a Dest whose pointers are not yet allocated at the
// point makeDest returns them: Ptrs names every pointer this Dest
// needs plus the block of decls computing its size (spec.md 3.6,
// BoxedRef). Destination Synthesis returns a
// BoxedDest instead of inlining its pointers into the caller's PtrAlloc
// list whenever a table's index type depends on a value only known at
// runtime (spec.md 4.2, the TabTy dependent fallback).
type BoxedDest struct {
	Ptrs  []PtrAlloc
	Inner Dest
	Ty    air.Type
}

func (*BoxedDest) isDest()     {}
func (b *BoxedDest) Type() air.Type { return b.Ty }
