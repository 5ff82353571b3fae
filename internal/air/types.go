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

// Package air is the shared IR data model: atoms, expressions, blocks,
// decls and types for both phase-tagged IR variants (CoreIR/SimpIR and
// SimpToImpIR, spec.md 3.2). Rather than a phantom-indexed GADT, the
// phase is a runtime tag (Phase) plus two extra Atom constructors
// (BoxedRef, ImpVar) that are only legal once Phase == SimpToImp; see
// the Phase doc comment.
package air

import (
	"fmt"

	"github.com/airlower/airlower/internal/name"
)

// Phase distinguishes the two IR variants that share this syntax.
type Phase int

const (
	// CoreSimp is CoreIR/SimpIR: post-inference, post-simplification,
	// still has 'for', table lambdas, effect rows, dictionaries.
	CoreSimp Phase = iota
	// SimpToImp is the post-lowering IR: 'for' has been replaced by
	// Seq, and AllocDest/Place/Freeze/RememberDest/BoxedRef/ImpVar
	// become legal.
	SimpToImp
)

func (p Phase) String() string {
	if p == SimpToImp {
		return "SimpToImp"
	}
	return "CoreSimp"
}

// BaseType is a scalar type Imp can address directly.
type BaseType uint8

const (
	I8 BaseType = iota
	I16
	I32
	I64
	F32
	F64
	Word8
	Word32
	Word64
)

func (b BaseType) String() string {
	switch b {
	case I8:
		return "I8"
	case I16:
		return "I16"
	case I32:
		return "I32"
	case I64:
		return "I64"
	case F32:
		return "F32"
	case F64:
		return "F64"
	case Word8:
		return "Word8"
	case Word32:
		return "Word32"
	case Word64:
		return "Word64"
	default:
		return "BaseType(?)"
	}
}

// Size reports the in-memory size, in bytes, of a value of this base
// type - used pervasively by Destination Synthesis to compute strides.
func (b BaseType) Size() int {
	switch b {
	case I8, Word8:
		return 1
	case I16:
		return 2
	case I32, F32, Word32:
		return 4
	case I64, F64, Word64:
		return 8
	default:
		return 0
	}
}

// IdxRepTy is the representation type of a flattened multi-index
// offset (spec.md 4.1, "computeOffset ... IdxRepTy (unsigned 32-bit)").
const IdxRepTy = Word32

// TagRepTy is the representation type of a sum-type discriminant tag.
// Fixed at one byte: every sum this compiler's input surface produces
// fits comfortably in 256 cases.
const TagRepTy = Word8

// Type is the shared type grammar for both IR phases.
type Type interface {
	isType()
	String() string
}

// TC wraps a base scalar type for use as a full Type (TC (BaseType b)
// in spec.md 4.2).
type TC struct{ Base BaseType }

func (*TC) isType() {}
func (t *TC) String() string {
	return t.Base.String()
}

// SumType is TC (SumType cases): a tagged union of payload types.
type SumType struct{ Cases []Type }

func (*SumType) isType() {}
func (s *SumType) String() string {
	return fmt.Sprintf("Sum%v", s.Cases)
}

// ProdType is TC (ProdType tys): an unlabeled product.
type ProdType struct{ Elems []Type }

func (*ProdType) isType() {}
func (p *ProdType) String() string {
	return fmt.Sprintf("Prod%v", p.Elems)
}

// TabType is `TabTy (b:ixTy) body`: a table (function from an index
// type to a body type). The index-type annotation lives on the
// binder; Body may reference the binder's name when the table is
// dependent.
type TabType struct {
	Binder name.Binder[IxType]
	Body   Type
}

func (*TabType) isType() {}
func (t *TabType) String() string {
	return fmt.Sprintf("(%v:%v) => %v", t.Binder.Name, t.Binder.Ann, t.Body)
}

// DepPairType is `DepPairTy (lBinder:lTy) rTy`: rTy may reference
// lBinder's name.
type DepPairType struct {
	LBinder name.Binder[Type]
	RTy     Type
}

func (*DepPairType) isType() {}
func (d *DepPairType) String() string {
	return fmt.Sprintf("(%v:%v ** %v)", d.LBinder.Name, d.LBinder.Ann, d.RTy)
}

// NatType is the type of runtime-sized natural numbers.
type NatType struct{}

func (*NatType) isType()      {}
func (*NatType) String() string { return "Nat" }

// FinType is `Fin n`: the canonical statically-sized index type. N is
// a Nat-valued atom (often, but not necessarily, a literal).
type FinType struct{ N Atom }

func (*FinType) isType() {}
func (f *FinType) String() string {
	return fmt.Sprintf("Fin(%v)", f.N)
}

// NewtypeType wraps a representation type with a surface name; it is
// how TypeCon/StaticRecordTy/VariantTy applications desugar on their
// way into Destination Synthesis (spec.md 4.2).
type NewtypeType struct {
	Name string
	Rep  Type
}

func (*NewtypeType) isType() {}
func (n *NewtypeType) String() string {
	return n.Name
}

// UnitType is the zero-information type; Destination Synthesis skips
// allocation for it entirely (spec.md 4.3.3, "singleton" result).
type UnitType struct{}

func (*UnitType) isType()      {}
func (*UnitType) String() string { return "Unit" }

// RefType is a reference/destination-pointer to Elem. It is what
// backs both spec.md's `RefTy` (the DestBlock's answer binder type)
// and the "RawRefTy" wrapping named in property P2 - this compiler
// does not distinguish a surface Ref type from its physical
// realization, so one constructor serves both roles.
type RefType struct{ Elem Type }

func (*RefType) isType() {}
func (r *RefType) String() string {
	return fmt.Sprintf("Ref(%v)", r.Elem)
}

// VectorType is a SimpToImp-only type: Width lanes of a scalar Base,
// introduced by the vectorization rewrite (spec.md 4.4) and consumed by
// Imp Translation as `Vector [n] baseType` (spec.md 6.3).
type VectorType struct {
	Width int
	Base  BaseType
}

func (*VectorType) isType() {}
func (v *VectorType) String() string {
	return fmt.Sprintf("Vec(%d, %v)", v.Width, v.Base)
}

// IxType is the type of an index: either Fin n or a user-supplied Ix
// dictionary witness exposing size/ordinal/unsafe-from-ordinal
// (spec.md 4.1).
type IxType interface {
	Type
	isIxType()
	// StaticSize returns the compile-time-known size and true, or
	// (nil, false) if the size is only known at runtime (a dynamic
	// Ix dictionary).
	StaticSize() (Atom, bool)
}

func (*FinType) isIxType() {}
func (f *FinType) StaticSize() (Atom, bool) {
	return f.N, true
}

// DictIxType is a runtime Ix-dictionary-backed index type: Size is an
// atom computed by invoking the dictionary's `size` method, and may
// reference outer dynamic values.
type DictIxType struct {
	Dict Atom
	Size Atom
}

func (*DictIxType) isType()   {}
func (*DictIxType) isIxType() {}
func (d *DictIxType) String() string {
	return fmt.Sprintf("Ix(%v)", d.Dict)
}
func (d *DictIxType) StaticSize() (Atom, bool) {
	if c, ok := d.Size.(*Con); ok && c.IsInt() {
		return d.Size, true
	}
	return nil, false
}

// IxFreeNames returns the names an IxType's size-determining atoms
// reference freely - used by internal/poly's indexStructureSplit to
// decide whether a binder's annotation depends on an earlier one.
func IxFreeNames(t IxType) []name.Name {
	switch ix := t.(type) {
	case *FinType:
		return AtomFreeNames(ix.N)
	case *DictIxType:
		return append(AtomFreeNames(ix.Dict), AtomFreeNames(ix.Size)...)
	default:
		return nil
	}
}
