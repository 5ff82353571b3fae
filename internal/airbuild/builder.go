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

// Package airbuild is the Builder component (spec.md 4.6): scoped
// emission of decls, lambda/block construction, and fresh-name
// management. It replaces the source language's continuation-style
// scoped-builder monad with an explicit stack of emission frames: buildBlock
// becomes push-scope + compute + pop-scope-into-Abs, grounded on the
// teacher's vm/ssa.go `prog` type (p.values/p.exprs, ssa0/ssa1imm/...
// constructor helpers, Begin()/Return bracketing a build scope).
package airbuild

import (
	"encoding/binary"

	"github.com/dchest/siphash"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
)

// frame is one emission scope: a slice of decls being accumulated plus
// the CSE cache for this scope only (matching the teacher's
// `prog.exprs` being per-program rather than per-function; here it is
// per-block because spec.md's Builder contract is block-scoped).
type frame struct {
	decls name.Nest[*air.Decl]
	cse   map[uint64]name.Name
}

// Scope is a builder: an ambient name.Scope for minting fresh binders
// plus a stack of emission frames. The zero value is not usable; use
// New.
type Scope struct {
	names  *name.Scope
	frames []*frame
}

// New constructs a Builder scope sharing the given fresh-name
// allocator (callers typically share one name.Scope across an entire
// compilation unit, per spec.md 5's "Name scope ... extended only by
// scoped builders").
func New(names *name.Scope) *Scope {
	return &Scope{names: names}
}

// push opens a new emission frame.
func (s *Scope) push() *frame {
	f := &frame{cse: make(map[uint64]name.Name)}
	s.frames = append(s.frames, f)
	return f
}

// pop closes and returns the top emission frame.
func (s *Scope) pop() *frame {
	n := len(s.frames)
	f := s.frames[n-1]
	s.frames = s.frames[:n-1]
	return f
}

func (s *Scope) top() *frame {
	return s.frames[len(s.frames)-1]
}

// BuildBlock runs f in a fresh emission scope and seals whatever it
// emits into an Abs-shaped *air.Block: `buildBlock f` (spec.md 4.6).
// The sealed block carries no effect row (use BuildBlockEff to attach
// one); this package only seals decls+result.
func (s *Scope) BuildBlock(f func(s *Scope) air.Atom) *air.Block {
	s.push()
	result := f(s)
	fr := s.pop()
	return air.NewBlock(fr.decls, result, nil)
}

// BuildBlockEff is BuildBlock with an explicit effect row to attach
// to the sealed block's annotation (used once an Hof's discharged
// effect is known, e.g. RunReader's body keeps the Reader effect until
// RunReaderHof itself strips it).
func (s *Scope) BuildBlockEff(eff *air.EffRow, f func(s *Scope) air.Atom) *air.Block {
	s.push()
	result := f(s)
	fr := s.pop()
	return air.NewBlock(fr.decls, result, eff)
}

// BuildScoped is buildBlock without sealing into an annotated *Block -
// it returns the raw decl nest and result atom so a caller can fold
// them into a larger structure (e.g. Lower's dest-routed decl
// traversal) without paying for a redundant effect-row recomputation.
func (s *Scope) BuildScoped(f func(s *Scope) air.Atom) (name.Nest[*air.Decl], air.Atom) {
	s.push()
	result := f(s)
	fr := s.pop()
	return fr.decls, result
}

// FreshBinder allocates a binder of the given type/hint without
// emitting a decl for it (spec.md 4.6, withFreshBinder) - used for
// lambda/table-lambda parameters, Seq loop indices, and RWS handler
// binders, none of which are "let"-emitted.
func (s *Scope) FreshBinder(c name.Color, hint string, ty air.Type) name.Binder[air.Type] {
	return name.NewBinder(s.names.Fresh(c, hint), ty)
}

// FreshIxBinder is FreshBinder specialized to an IxType annotation
// (table-lambda / Seq loop-index binders).
func (s *Scope) FreshIxBinder(hint string, ixTy air.IxType) name.Binder[air.IxType] {
	return name.NewBinder(s.names.Fresh(name.ColorAtom, hint), ixTy)
}

// EmitDecl appends `Let binder (nil, ty, expr)` to the current frame
// and returns the fresh binder's name (spec.md 4.6, emitDecl). Pure
// expressions are first checked against the frame's CSE cache (keyed
// by cseKey); impure expressions (anything isPure does not accept,
// including every App) always get a fresh decl.
func (s *Scope) EmitDecl(ty air.Type, expr air.Expr) name.Name {
	f := s.top()
	if isPure(expr) {
		key := cseKey(expr)
		if n, ok := f.cse[key]; ok {
			return n
		}
		n := s.names.Fresh(name.ColorAtom, "")
		f.decls = append(f.decls, name.NewBinder(n, &air.Decl{
			Binder: name.NewBinder(n, ty),
			Expr:   expr,
		}))
		f.cse[key] = n
		return n
	}
	n := s.names.Fresh(name.ColorAtom, "")
	f.decls = append(f.decls, name.NewBinder(n, &air.Decl{
		Binder: name.NewBinder(n, ty),
		Expr:   expr,
	}))
	return n
}

// EmitNamed appends a decl under an already-minted binder rather than a
// fresh one - used by internal/lower's decl traversal, which must
// preserve the source block's binder identities exactly (later decls
// and the final result atom reference them by name; renaming would
// break those references, see spec.md P1/I2). Never consults or
// populates the CSE cache: identity here is fixed by the source
// program, not up for dedup.
func (s *Scope) EmitNamed(binder name.Binder[air.Type], expr air.Expr) {
	f := s.top()
	f.decls = append(f.decls, name.NewBinder(binder.Name, &air.Decl{Binder: binder, Expr: expr}))
}

// EmitVar is EmitDecl followed by wrapping the fresh name as a *air.Var
// atom, which is the shape almost every caller actually wants.
func (s *Scope) EmitVar(ty air.Type, expr air.Expr) *air.Var {
	return &air.Var{Name: s.EmitDecl(ty, expr), Ty: ty}
}

// EmitOp implements poly.Emitter: emit one primitive Op decl and
// return its result atom. Threaded into internal/poly so the
// polynomial-evaluation fold can share this Scope's CSE cache (two
// offset computations for the same dimensions collapse to one decl,
// per the one-CSE-pass-this-module-performs note in SPEC_FULL.md 4.6).
func (s *Scope) EmitOp(kind air.OpKind, prim string, args []air.Atom, ty air.Type) air.Atom {
	return s.EmitVar(ty, &air.Op{Kind: kind, Prim: prim, Args: args, ResultTy: ty})
}

// isPure reports whether an Expr is safe to dedup via CSE: bare atoms
// and primitive Ops that are not themselves effectful (Place,
// AllocDest, ThrowError all have a side effect or allocate fresh
// identity, so they are excluded).
func isPure(e air.Expr) bool {
	switch v := e.(type) {
	case *air.AtomExpr:
		return true
	case *air.Op:
		switch v.Kind {
		case air.OpPlace, air.OpAllocDest, air.OpThrowError:
			return false
		case air.OpPtrLoad:
			// A load is only equal to an earlier load of the same
			// address if no store intervened; the frame-level cache has
			// no store tracking, so loads never dedup.
			return false
		default:
			return true
		}
	default:
		return false
	}
}

// cseKey content-hashes an Expr with siphash (mirroring the teacher's
// `prog.exprs map[hashcode]*value`, itself a hash of op+args+imm) so
// structurally-identical offset/size computations collapse to one
// decl within a frame.
func cseKey(e air.Expr) uint64 {
	var buf []byte
	switch v := e.(type) {
	case *air.AtomExpr:
		buf = append(buf, 'A')
		buf = appendAtomKey(buf, v.Val)
	case *air.Op:
		buf = append(buf, 'O', byte(v.Kind))
		buf = append(buf, v.Prim...)
		for _, a := range v.Args {
			buf = appendAtomKey(buf, a)
		}
	}
	h := siphash.Hash(0xa1a1, 0xb2b2, buf)
	return h
}

func appendAtomKey(buf []byte, a air.Atom) []byte {
	switch v := a.(type) {
	case *air.Var:
		buf = append(buf, 'v')
		buf = appendIntKey(buf, uint64(v.Name.ID))
		buf = append(buf, byte(v.Name.Color))
	case *air.Con:
		buf = append(buf, 'c')
		buf = appendIntKey(buf, uint64(v.I))
	default:
		buf = append(buf, '?')
	}
	return buf
}

func appendIntKey(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
