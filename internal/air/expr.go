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

// Expr is the expression grammar shared by both IR phases (spec.md
// 3.4): App, TabApp, Case, Atom, Op, Hof, Handle. Like Type and Atom,
// it is a small closed interface dispatched by type switch rather than
// a hand-rolled double-dispatch Visitor (see atoms.go's doc comment).
type Expr interface {
	isExpr()
	FreeNames() []name.Name
	ResultType() Type
}

// App is ordinary function application.
type App struct {
	Fn  Atom
	Arg Atom
}

func (*App) isExpr()               {}
func (a *App) ResultType() Type    { return resultOfPi(a.Fn.Type()) }
func (a *App) FreeNames() []name.Name {
	return append(freeNamesOfAtom(a.Fn), freeNamesOfAtom(a.Arg)...)
}

// TabApp applies a table lambda/TabPi-typed atom to an index atom.
type TabApp struct {
	Fn  Atom
	Arg Atom
}

func (*TabApp) isExpr()            {}
func (t *TabApp) ResultType() Type { return resultOfTabPi(t.Fn.Type()) }
func (t *TabApp) FreeNames() []name.Name {
	return append(freeNamesOfAtom(t.Fn), freeNamesOfAtom(t.Arg)...)
}

// CaseExpr is `Case (scrut, alts, resultType, effects)`.
type CaseExpr struct {
	Scrutinee Atom
	Alts      []Alt
	ResultTy  Type
	Effects   *EffRow
}

func (*CaseExpr) isExpr()            {}
func (c *CaseExpr) ResultType() Type { return c.ResultTy }
func (c *CaseExpr) FreeNames() []name.Name {
	out := freeNamesOfAtom(c.Scrutinee)
	for _, alt := range c.Alts {
		for _, fv := range alt.Body.FreeNames() {
			if !fv.Equal(alt.Binder.Name) {
				out = append(out, fv)
			}
		}
	}
	return out
}

// AtomExpr lifts a bare Atom into expression position (the `Atom`
// variant of spec.md 3.4).
type AtomExpr struct{ Val Atom }

func (*AtomExpr) isExpr()            {}
func (e *AtomExpr) ResultType() Type { return e.Val.Type() }
func (e *AtomExpr) FreeNames() []name.Name { return freeNamesOfAtom(e.Val) }

// OpKind enumerates the primitive operations this module needs, spread
// across spec.md 4.4.2 (the vectorizable op set) and 4.5 (the Imp
// translation's scalar/pointer primitives). Grouping them as one `Op`
// variant with a Kind discriminant - rather than one Expr constructor
// per primitive - mirrors the teacher's `vm/ssa.go` `ssaop` enum (a
// single `value.op ssaop` field dispatched by a big `switch`, not one
// Go type per op).
type OpKind uint8

const (
	OpBinOp OpKind = iota
	OpUnOp
	OpCastOp
	OpBitcastOp
	OpIndexRef
	OpPlace
	OpFreeze
	OpAllocDest
	OpPtrOffset
	OpPtrLoad
	OpOrdinal
	OpUnsafeFromOrdinal
	OpSize
	OpThrowError
	OpVectorBroadcast
	OpVectorIota
	OpVectorSubref
)

func (k OpKind) String() string {
	names := [...]string{
		"BinOp", "UnOp", "CastOp", "BitcastOp", "IndexRef", "Place",
		"Freeze", "AllocDest", "PtrOffset", "PtrLoad", "Ordinal",
		"UnsafeFromOrdinal", "Size", "ThrowError", "VectorBroadcast",
		"VectorIota", "VectorSubref",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Op(?)"
}

// Op is a primitive operation: Prim names the specific primitive (e.g.
// "FAdd", "ILt" for OpBinOp; "Neg" for OpUnOp), Args are its operand
// atoms, and ResultTy is supplied by the caller (most primitives'
// result types are not syntactically derivable from Args alone, e.g.
// OpAllocDest's result type is the type being allocated for).
type Op struct {
	Kind     OpKind
	Prim     string
	Args     []Atom
	ResultTy Type
}

func (*Op) isExpr()            {}
func (o *Op) ResultType() Type { return o.ResultTy }
func (o *Op) FreeNames() []name.Name {
	var out []name.Name
	for _, a := range o.Args {
		out = append(out, freeNamesOfAtom(a)...)
	}
	return out
}

// TabCon is `TabCon ty [e0, ..., e_{n-1}]`: a table literal (spec.md
// 4.3.6). Elems is eagerly evaluated atoms, one per literal index.
type TabCon struct {
	Ty    Type
	Elems []Atom
}

func (*TabCon) isExpr()            {}
func (t *TabCon) ResultType() Type { return t.Ty }
func (t *TabCon) FreeNames() []name.Name {
	var out []name.Name
	for _, e := range t.Elems {
		out = append(out, freeNamesOfAtom(e)...)
	}
	return out
}

// Direction is a Seq/for's iteration direction (spec.md 5,
// "Fwd/Rev directions are honored by the emitted IFor").
type Direction uint8

const (
	Fwd Direction = iota
	Rev
)

func (d Direction) String() string {
	if d == Rev {
		return "Rev"
	}
	return "Fwd"
}

// Hof is a higher-order-function expression: For, Seq, While,
// RunReader/Writer/State, RunIO, RunInit, RememberDest (spec.md 3.4).
type Hof interface {
	isHof()
	FreeNames() []name.Name
	ResultType() Type
}

// HofExpr wraps a Hof into Expr position.
type HofExpr struct{ H Hof }

func (*HofExpr) isExpr()               {}
func (h *HofExpr) ResultType() Type    { return h.H.ResultType() }
func (h *HofExpr) FreeNames() []name.Name { return h.H.FreeNames() }

// ForHof is the source-level `for (i:ixTy). body` before Loop Lowering
// rewrites it to SeqHof.
type ForHof struct {
	Binder name.Binder[IxType]
	Body   *Block
}

func (*ForHof) isHof() {}
func (f *ForHof) ResultType() Type {
	return &TabType{Binder: f.Binder, Body: blockResultType(f.Body)}
}
func (f *ForHof) FreeNames() []name.Name {
	return freeNamesExceptBinder(f.Body, f.Binder.Name)
}

// SeqHof is the lowered-loop form (spec.md 4.3.3): a sequential loop
// over IxTy, carrying Carry, running Body - a two-argument lambda
// `λ(i, carry). ...` represented here as a *Block plus the two binders
// IBind (the index) and CBind (the carry), which are in scope in Body
// without any decl of their own. internal/lower sets Carry to a unit
// placeholder and threads the destination into Body directly.
type SeqHof struct {
	Dir    Direction
	IxTy   IxType
	Carry  Atom
	IBind  name.Binder[IxType]
	CBind  name.Binder[Type]
	Body   *Block
}

func (*SeqHof) isHof() {}
func (s *SeqHof) ResultType() Type { return s.CBind.Ann }
func (s *SeqHof) FreeNames() []name.Name {
	out := freeNamesOfAtom(s.Carry)
	for _, fv := range s.Body.FreeNames() {
		if !fv.Equal(s.IBind.Name) && !fv.Equal(s.CBind.Name) {
			out = append(out, fv)
		}
	}
	return out
}

// WhileHof runs Body repeatedly for its effects; Body's result atom is
// the loop condition, and the loop stops once it yields false.
type WhileHof struct {
	Body *Block
}

func (*WhileHof) isHof()                {}
func (*WhileHof) ResultType() Type      { return &UnitType{} }
func (w *WhileHof) FreeNames() []name.Name { return w.Body.FreeNames() }

// RunReaderHof discharges a Reader effect: Init is the environment
// value, Lambda is a one-argument `λ(h). body` over the reader handle.
type RunReaderHof struct {
	Init     Atom
	HBind    name.Binder[Type]
	Body     *Block
}

func (*RunReaderHof) isHof() {}
func (r *RunReaderHof) ResultType() Type { return blockResultType(r.Body) }
func (r *RunReaderHof) FreeNames() []name.Name {
	out := freeNamesOfAtom(r.Init)
	return append(out, freeNamesExceptBinder(r.Body, r.HBind.Name)...)
}

// RunWriterHof discharges a Writer effect: Monoid is the mempty atom,
// RefDest is an optional caller-provided destination for the
// accumulator (spec.md 4.3.5's unpackRWSDest).
type RunWriterHof struct {
	Monoid  Atom
	RefDest Atom // nil if none provided
	HBind   name.Binder[Type]
	RBind   name.Binder[Type]
	Body    *Block
}

func (*RunWriterHof) isHof() {}
func (w *RunWriterHof) ResultType() Type {
	return &ProdType{Elems: []Type{blockResultType(w.Body), w.RBind.Ann}}
}
func (w *RunWriterHof) FreeNames() []name.Name {
	out := freeNamesOfAtom(w.Monoid)
	if w.RefDest != nil {
		out = append(out, freeNamesOfAtom(w.RefDest)...)
	}
	for _, fv := range w.Body.FreeNames() {
		if !fv.Equal(w.HBind.Name) && !fv.Equal(w.RBind.Name) {
			out = append(out, fv)
		}
	}
	return out
}

// RunStateHof discharges a State effect: Init is the initial state,
// RefDest is an optional caller-provided destination for the final
// state (spec.md 4.3.5).
type RunStateHof struct {
	Init    Atom
	RefDest Atom // nil if none provided
	HBind   name.Binder[Type]
	Body    *Block
}

func (*RunStateHof) isHof() {}
func (s *RunStateHof) ResultType() Type {
	return &ProdType{Elems: []Type{blockResultType(s.Body), s.HBind.Ann}}
}
func (s *RunStateHof) FreeNames() []name.Name {
	out := freeNamesOfAtom(s.Init)
	if s.RefDest != nil {
		out = append(out, freeNamesOfAtom(s.RefDest)...)
	}
	return append(out, freeNamesExceptBinder(s.Body, s.HBind.Name)...)
}

// RunIOHof / RunInitHof discharge the IO / Init effects; in Imp
// Translation both degenerate to running Body with the handler bound
// to UnitVal (spec.md 4.5, "Effect handling").
type RunIOHof struct{ Body *Block }

func (*RunIOHof) isHof()                {}
func (r *RunIOHof) ResultType() Type    { return blockResultType(r.Body) }
func (r *RunIOHof) FreeNames() []name.Name { return r.Body.FreeNames() }

type RunInitHof struct{ Body *Block }

func (*RunInitHof) isHof()                {}
func (r *RunInitHof) ResultType() Type    { return blockResultType(r.Body) }
func (r *RunInitHof) FreeNames() []name.Name { return r.Body.FreeNames() }

// RememberDestHof is SimpToImp-only: it snapshots a destination's
// current contents into a fresh atom without discharging an effect,
// used when a dest must be read back mid-block (spec.md 3.2, 4.5).
type RememberDestHof struct {
	Dest Atom
	Ty   Type
}

func (*RememberDestHof) isHof()             {}
func (r *RememberDestHof) ResultType() Type { return r.Ty }
func (r *RememberDestHof) FreeNames() []name.Name { return freeNamesOfAtom(r.Dest) }

// Handle is a generic effect-handler expression (the catch-all for any
// handler shape not already covered by the RunReader/Writer/State/IO/
// Init Hofs above - kept distinct from Hof per spec.md 3.4's listing
// `App, TabApp, Case, Atom, Op, Hof, Handle`).
type Handle struct {
	Handler  Atom
	Body     *Block
	ResultTy Type
}

func (*Handle) isExpr()            {}
func (h *Handle) ResultType() Type { return h.ResultTy }
func (h *Handle) FreeNames() []name.Name {
	return append(freeNamesOfAtom(h.Handler), h.Body.FreeNames()...)
}

func resultOfPi(t Type) Type {
	if p, ok := t.(*Pi); ok {
		return p.Result
	}
	return nil
}

func resultOfTabPi(t Type) Type {
	if p, ok := t.(*TabPi); ok {
		return p.Result
	}
	return nil
}

// AtomFreeNames exposes freeNamesOfAtom to other packages (poly, dest,
// lower) that need to ask "does this atom reference a given binder"
// without duplicating the atom-traversal switch.
func AtomFreeNames(a Atom) []name.Name { return freeNamesOfAtom(a) }

func freeNamesExceptBinder(b *Block, bound name.Name) []name.Name {
	var out []name.Name
	for _, fv := range b.FreeNames() {
		if !fv.Equal(bound) {
			out = append(out, fv)
		}
	}
	return out
}

// freeNamesOfAtom is the one hand-written "cover generic" traversal
// this package needs: a type switch collecting Var references,
// recursing through lambda/case bodies and excluding their own
// binders. It replaces a type-class-dispatched generic fold with the
// "visitor pattern ... one interface with a method per constructor"
// recipe, simplified to a plain switch since Go's
// exhaustiveness is checked by `go vet` on sealed interfaces already.
func freeNamesOfAtom(a Atom) []name.Name {
	switch v := a.(type) {
	case nil:
		return nil
	case *Var:
		return []name.Name{v.Name}
	case *Con, *TCAtom:
		return nil
	case *Lam:
		return freeNamesExceptBinder(v.Body, v.Binder.Name)
	case *TabLam:
		return freeNamesExceptBinder(v.Body, v.Binder.Name)
	case *Pi, *TabPi:
		// Pi/TabPi only appear as Lam/TabLam's inferred function type,
		// never as standalone atoms referenced by name; their result
		// type carries no separate free-variable obligation here.
		return nil
	case *DepPair:
		return append(freeNamesOfAtom(v.Left), freeNamesOfAtom(v.Right)...)
	case *DataConApp:
		var out []name.Name
		for _, arg := range v.Args {
			out = append(out, freeNamesOfAtom(arg)...)
		}
		return out
	case *DictCon:
		var out []name.Name
		for _, arg := range v.Args {
			out = append(out, freeNamesOfAtom(arg)...)
		}
		return out
	case *DictTy, *LabeledRowTy, *RecordTy, *VariantTy, *EffRow:
		return nil
	case *Proj:
		return freeNamesOfAtom(v.Base)
	case *ACase:
		out := freeNamesOfAtom(v.Scrutinee)
		for _, alt := range v.Alts {
			out = append(out, freeNamesExceptBinder(alt.Body, alt.Binder.Name)...)
		}
		return out
	case *DepPairRef:
		return freeNamesOfAtom(v.Pair)
	case *BoxedRef:
		out := freeNamesOfAtom(v.Inner)
		for _, b := range v.Ptrs {
			out = append(out, b.Ann.refs...)
		}
		return out
	case *ImpVar:
		return []name.Name{v.Name}
	default:
		return nil
	}
}

