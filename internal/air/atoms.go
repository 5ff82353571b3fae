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

import (
	"fmt"

	"github.com/airlower/airlower/internal/name"
)

// Atom is a value-level term in weak-head normal form (spec.md 3.3).
// Each constructor below is a distinct Go type implementing Atom; a
// type switch over the interface is this module's stand-in for the
// "visitor pattern" replacement of a cover-generic traversal - Go's
// type switches are already exhaustiveness-checkable
// by `go vet`'s sumtype-style linting conventions, so a second,
// hand-written double-dispatch Visitor interface would only add
// boilerplate without adding safety.
type Atom interface {
	isAtom()
	// Type returns the best-effort type of this atom; dictionary,
	// effect-row and type-level atoms return nil.
	Type() Type
}

// Var is a reference to a bound name.
type Var struct {
	Name name.Name
	Ty   Type
}

func (*Var) isAtom()      {}
func (v *Var) Type() Type { return v.Ty }
func (v *Var) String() string { return v.Name.String() }

// Con is a literal constant. Ty selects which field is meaningful.
type Con struct {
	Ty  Type
	I   int64
	F   float64
	B   bool
	S   string
}

func (*Con) isAtom()      {}
func (c *Con) Type() Type { return c.Ty }
func (c *Con) IsInt() bool {
	t, ok := c.Ty.(*TC)
	return ok && t.Base != F32 && t.Base != F64
}
func (c *Con) String() string {
	switch {
	case c.Ty == nil:
		return fmt.Sprintf("%v", c.I)
	default:
		if t, ok := c.Ty.(*TC); ok && (t.Base == F32 || t.Base == F64) {
			return fmt.Sprintf("%g", c.F)
		}
		return fmt.Sprintf("%d", c.I)
	}
}

// IntCon is a convenience constructor for an integer literal of the
// given base type.
func IntCon(base BaseType, v int64) *Con {
	return &Con{Ty: &TC{Base: base}, I: v}
}

// TCAtom lifts a Type into atom position (a type-constructor atom).
type TCAtom struct{ T Type }

func (*TCAtom) isAtom()      {}
func (t *TCAtom) Type() Type { return nil }

// Lam is a scalar lambda.
type Lam struct {
	Binder name.Binder[Type]
	Body   *Block
}

func (*Lam) isAtom()      {}
func (l *Lam) Type() Type { return &Pi{Binder: l.Binder, Result: blockResultType(l.Body)} }

// TabLam is a table lambda: λ(i:ixTy). body - the value-level
// counterpart of a TabType, and the shape a lowered `for` or `Seq`
// body takes.
type TabLam struct {
	Binder name.Binder[IxType]
	Body   *Block
}

func (*TabLam) isAtom() {}
func (t *TabLam) Type() Type {
	return &TabType{Binder: t.Binder, Body: blockResultType(t.Body)}
}

// Pi is a non-dependent-or-dependent function type lifted to atom
// position (used when types themselves are passed around as values,
// e.g. inside a Pi/TabPi result computation).
type Pi struct {
	Binder name.Binder[Type]
	Result Type
}

func (*Pi) isAtom()      {}
func (*Pi) Type() Type   { return nil }
func (p *Pi) isType()    {}
func (p *Pi) String() string {
	return fmt.Sprintf("(%v:%v) -> %v", p.Binder.Name, p.Binder.Ann, p.Result)
}

// TabPi is the table-lambda analogue of Pi.
type TabPi struct {
	Binder name.Binder[IxType]
	Result Type
}

func (*TabPi) isAtom()   {}
func (*TabPi) Type() Type { return nil }
func (*TabPi) isType()   {}
func (t *TabPi) String() string {
	return fmt.Sprintf("(%v:%v) =*> %v", t.Binder.Name, t.Binder.Ann, t.Result)
}

// DepPair is a dependent-pair value: Right's type may depend on Left's
// runtime value (spec.md 3.3).
type DepPair struct {
	Left  Atom
	Right Atom
	Ty    *DepPairType
}

func (*DepPair) isAtom()      {}
func (d *DepPair) Type() Type { return d.Ty }

// DataConApp applies a data constructor to arguments, producing a
// data-type application atom.
type DataConApp struct {
	Con  string
	Args []Atom
	Ty   Type
}

func (*DataConApp) isAtom()      {}
func (d *DataConApp) Type() Type { return d.Ty }

// DictCon is a dictionary constructor atom (class instance
// elaboration is out of scope; this constructor exists only so that
// dictionaries already elaborated upstream pass through this IR
// inertly).
type DictCon struct {
	Class string
	Args  []Atom
}

func (*DictCon) isAtom()      {}
func (*DictCon) Type() Type   { return nil }

// DictTy is the type-level counterpart of DictCon.
type DictTy struct {
	Class string
	Args  []Type
}

func (*DictTy) isAtom()   {}
func (*DictTy) Type() Type { return nil }
func (*DictTy) isType()   {}
func (d *DictTy) String() string { return fmt.Sprintf("%s%v", d.Class, d.Args) }

// LabeledRowTy is a labeled-row type atom (record/variant field set
// prior to desugaring into ProdType/SumType by NewtypeType).
type LabeledRowTy struct{ Fields map[string]Type }

func (*LabeledRowTy) isAtom()   {}
func (*LabeledRowTy) Type() Type { return nil }
func (*LabeledRowTy) isType()   {}
func (*LabeledRowTy) String() string { return "LabeledRow" }

// RecordTy is a static record type atom; Desugar converts it to
// a Newtype-wrapped ProdType for Destination Synthesis.
type RecordTy struct {
	Order  []string
	Fields map[string]Type
}

func (*RecordTy) isAtom()   {}
func (*RecordTy) Type() Type { return nil }
func (*RecordTy) isType()   {}
func (r *RecordTy) String() string { return fmt.Sprintf("{%v}", r.Order) }

// Desugar converts a static record type into the Newtype(Prod)
// shape Destination Synthesis actually handles (spec.md 4.2, "desugar
// to product/sum of representation types, recurse, wrap result in
// Newtype").
func (r *RecordTy) Desugar() Type {
	elems := make([]Type, len(r.Order))
	for i, f := range r.Order {
		elems[i] = r.Fields[f]
	}
	return &NewtypeType{Name: "Record", Rep: &ProdType{Elems: elems}}
}

// VariantTy is a no-extension variant type atom; Desugar converts it
// to a Newtype(Sum) shape.
type VariantTy struct {
	Order []string
	Cases map[string]Type
}

func (*VariantTy) isAtom()   {}
func (*VariantTy) Type() Type { return nil }
func (*VariantTy) isType()   {}
func (v *VariantTy) String() string { return fmt.Sprintf("<%v>", v.Order) }

func (v *VariantTy) Desugar() Type {
	cases := make([]Type, len(v.Order))
	for i, c := range v.Order {
		cases[i] = v.Cases[c]
	}
	return &NewtypeType{Name: "Variant", Rep: &SumType{Cases: cases}}
}

// EffRow is an effect-row atom (Reader/Writer/State/IO/Init/Except
// tags). Effect checking itself is out of this module's scope; EffRow
// only needs to round-trip through lowering so RWS Hofs can report
// which effect they discharge.
type EffRow struct{ Effects []string }

func (*EffRow) isAtom()   {}
func (*EffRow) Type() Type { return nil }
func (*EffRow) isType()   {}
func (e *EffRow) String() string { return fmt.Sprintf("%v", e.Effects) }

// Proj projects Path (a list of 0-based field indices) out of Base,
// optionally recording the source field name for pretty-printing.
type Proj struct {
	Base  Atom
	Path  []int
	Field string
}

func (*Proj) isAtom() {}
func (p *Proj) Type() Type {
	t := p.Base.Type()
	for _, i := range p.Path {
		switch tt := t.(type) {
		case *ProdType:
			t = tt.Elems[i]
		case *NewtypeType:
			t = tt.Rep
		default:
			return nil
		}
	}
	return t
}

// Alt is one arm of a Case: an optional payload binder plus a result
// block. Shared between CaseExpr and ACase.
type Alt struct {
	Binder name.Binder[Type]
	Body   *Block
}

// ACase is a Case expression pushed into atom position during
// simplification (spec.md 3.3, "A-case").
type ACase struct {
	Scrutinee Atom
	Alts      []Alt
	ResultTy  Type
}

func (*ACase) isAtom()      {}
func (a *ACase) Type() Type { return a.ResultTy }

// DepPairRef is a reference to an (already-materialized) dependent
// pair value, used when a DepPair needs to be passed by reference
// rather than decomposed.
type DepPairRef struct{ Pair Atom }

func (*DepPairRef) isAtom()      {}
func (d *DepPairRef) Type() Type { return d.Pair.Type() }

// BoxedRef is a SimpToImp-only atom: a reference whose backing
// pointers are parameterized over a nest of runtime-allocated pointer
// binders (the atom-level counterpart of dest.BoxedRef).
type BoxedRef struct {
	Ptrs  name.NonDepNest[SizeBlock]
	Inner Atom
}

func (*BoxedRef) isAtom()      {}
func (b *BoxedRef) Type() Type { return b.Inner.Type() }

// SizeBlock is the annotation on a BoxedRef's pointer binders: the
// block of decls that computes that pointer's allocation size. It
// implements name.FreeNamer so NonDepNest can validate non-dependence.
type SizeBlock struct {
	Block *Block
	refs  []name.Name
}

func (s SizeBlock) FreeNames() []name.Name { return s.refs }

// ImpVar is a SimpToImp-only atom: a raw scalar or pointer name
// embedded directly in atom position, bypassing the Var/Type
// machinery above because it refers to an Imp-phase binder rather
// than a high-IR one.
type ImpVar struct {
	Name name.Name
	Ty   Type
}

func (*ImpVar) isAtom()      {}
func (i *ImpVar) Type() Type { return i.Ty }

// BlockResultType returns b's declared result type, or UnitType if b
// carries no annotation (an empty-decl block with a Unit-typed
// result).
func BlockResultType(b *Block) Type { return blockResultType(b) }

func blockResultType(b *Block) Type {
	if b == nil || b.Ann == nil {
		return &UnitType{}
	}
	return b.Ann.ResultTy
}
