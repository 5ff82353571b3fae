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

package lower

import (
	"testing"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/name"
)

func f64() air.Type { return &air.TC{Base: air.F64} }
func w32() air.Type { return &air.TC{Base: air.IdxRepTy} }

func fin(n int64) air.IxType {
	return &air.FinType{N: air.IntCon(air.IdxRepTy, n)}
}

// declExprs flattens a block's decl expressions for shape assertions.
func declExprs(b *air.Block) []air.Expr {
	out := make([]air.Expr, 0, len(b.Decls))
	for _, d := range b.Decls {
		out = append(out, d.Ann.Expr)
	}
	return out
}

func findSeqs(b *air.Block) []*air.SeqHof {
	var out []*air.SeqHof
	for _, e := range declExprs(b) {
		if h, ok := e.(*air.HofExpr); ok {
			if s, ok := h.H.(*air.SeqHof); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func countOps(b *air.Block, kind air.OpKind) int {
	n := 0
	for _, e := range declExprs(b) {
		if op, ok := e.(*air.Op); ok && op.Kind == kind {
			n++
		}
	}
	return n
}

// forBlock builds `let tab = for i:(Fin n). <body>` with tab as the
// block result.
func forBlock(names *name.Scope, n int64, elem air.Type, body func(i name.Binder[air.IxType]) *air.Block) *air.Block {
	ib := name.NewBinder(names.Fresh(name.ColorAtom, "i"), fin(n))
	tabTy := &air.TabType{Binder: ib, Body: elem}
	fname := names.Fresh(name.ColorAtom, "tab")
	decl := &air.Decl{
		Binder: name.NewBinder(fname, air.Type(tabTy)),
		Expr:   &air.HofExpr{H: &air.ForHof{Binder: ib, Body: body(ib)}},
	}
	return air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(fname, decl)}, &air.Var{Name: fname, Ty: tabTy}, nil)
}

// S1: `for i:(Fin 4). let x = table[i] in x + x` lowers to a single
// 4-element allocation and one Seq; the loop body places straight into
// the routed destination with no intermediate buffer.
func TestSimpleTensorDouble(t *testing.T) {
	names := name.NewScope()
	tb := name.NewBinder(names.Fresh(name.ColorAtom, "t"), fin(4))
	tabTy := &air.TabType{Binder: tb, Body: f64()}
	table := &air.Var{Name: names.Fresh(name.ColorAtom, "input"), Ty: tabTy}

	b := forBlock(names, 4, f64(), func(i name.Binder[air.IxType]) *air.Block {
		xn := names.Fresh(name.ColorAtom, "x")
		yn := names.Fresh(name.ColorAtom, "y")
		xd := &air.Decl{Binder: name.NewBinder(xn, f64()),
			Expr: &air.TabApp{Fn: table, Arg: &air.Var{Name: i.Name, Ty: w32()}}}
		yd := &air.Decl{Binder: name.NewBinder(yn, f64()),
			Expr: &air.Op{Kind: air.OpBinOp, Prim: "FAdd",
				Args:     []air.Atom{&air.Var{Name: xn, Ty: f64()}, &air.Var{Name: xn, Ty: f64()}},
				ResultTy: f64()}}
		decls := name.Nest[*air.Decl]{name.NewBinder(xn, xd), name.NewBinder(yn, yd)}
		return air.NewBlock(decls, &air.Var{Name: yn, Ty: f64()}, nil)
	})

	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}

	// One Unmanaged allocation of 4 elements, nothing else.
	if len(db.Ptrs) != 1 {
		t.Fatalf("allocated %d buffers, want 1", len(db.Ptrs))
	}
	if db.Ptrs[0].Mode != dest.Unmanaged {
		t.Fatalf("answer buffer must be Unmanaged")
	}
	if c, ok := db.Ptrs[0].Count.(*air.Con); !ok || c.I != 4 {
		t.Fatalf("answer buffer count = %v, want 4", db.Ptrs[0].Count)
	}

	seqs := findSeqs(db.Body)
	if len(seqs) != 1 {
		t.Fatalf("found %d Seq loops, want 1", len(seqs))
	}
	if seqs[0].Dir != air.Fwd {
		t.Fatalf("Seq direction = %v, want Fwd", seqs[0].Dir)
	}
	// Loop body: the FAdd and exactly one Place.
	body := seqs[0].Body
	if got := countOps(body, air.OpPlace); got != 1 {
		t.Fatalf("loop body has %d Places, want 1", got)
	}
	if got := countOps(body, air.OpBinOp); got == 0 {
		t.Fatalf("loop body lost the FAdd")
	}
}

// P2: the DestBlock's binder has type Ref(resultType).
func TestTypePreservation(t *testing.T) {
	names := name.NewScope()
	b := forBlock(names, 8, w32(), func(i name.Binder[air.IxType]) *air.Block {
		return air.NewBlock(nil, &air.Var{Name: i.Name, Ty: w32()}, nil)
	})
	want := air.BlockResultType(b)

	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	ref, ok := db.DestBinder.Ann.(*air.RefType)
	if !ok {
		t.Fatalf("dest binder type = %v, want a Ref", db.DestBinder.Ann)
	}
	if ref.Elem != want {
		t.Fatalf("dest binder wraps %v, want %v", ref.Elem, want)
	}
}

// S2: nested for threads one destination; a single 200-element buffer,
// outer and inner Seq, and no 20-element scratch allocation.
func TestNestedForDestThreaded(t *testing.T) {
	names := name.NewScope()
	// Build by hand: for i:(Fin 10). for j:(Fin 20). i + j
	ib := name.NewBinder(names.Fresh(name.ColorAtom, "i"), fin(10))
	jb := name.NewBinder(names.Fresh(name.ColorAtom, "j"), fin(20))
	innerTy := &air.TabType{Binder: jb, Body: w32()}
	outerTy := &air.TabType{Binder: ib, Body: air.Type(innerTy)}

	sumName := names.Fresh(name.ColorAtom, "s")
	sumDecl := &air.Decl{Binder: name.NewBinder(sumName, w32()),
		Expr: &air.Op{Kind: air.OpBinOp, Prim: "IAdd",
			Args:     []air.Atom{&air.Var{Name: ib.Name, Ty: w32()}, &air.Var{Name: jb.Name, Ty: w32()}},
			ResultTy: w32()}}
	innerBody := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(sumName, sumDecl)}, &air.Var{Name: sumName, Ty: w32()}, nil)

	innerName := names.Fresh(name.ColorAtom, "row")
	innerDecl := &air.Decl{Binder: name.NewBinder(innerName, air.Type(innerTy)),
		Expr: &air.HofExpr{H: &air.ForHof{Binder: jb, Body: innerBody}}}
	outerBody := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(innerName, innerDecl)}, &air.Var{Name: innerName, Ty: innerTy}, nil)

	outerName := names.Fresh(name.ColorAtom, "grid")
	outerDecl := &air.Decl{Binder: name.NewBinder(outerName, air.Type(outerTy)),
		Expr: &air.HofExpr{H: &air.ForHof{Binder: ib, Body: outerBody}}}
	b := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(outerName, outerDecl)}, &air.Var{Name: outerName, Ty: outerTy}, nil)

	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(db.Ptrs) != 1 {
		t.Fatalf("allocated %d buffers, want exactly 1 (no scratch)", len(db.Ptrs))
	}
	if c, ok := db.Ptrs[0].Count.(*air.Con); !ok || c.I != 200 {
		t.Fatalf("buffer count = %v, want 200", db.Ptrs[0].Count)
	}
	outerSeqs := findSeqs(db.Body)
	if len(outerSeqs) != 1 {
		t.Fatalf("found %d outer Seqs, want 1", len(outerSeqs))
	}
	innerSeqs := findSeqs(outerSeqs[0].Body)
	if len(innerSeqs) != 1 {
		t.Fatalf("found %d inner Seqs, want 1", len(innerSeqs))
	}
}

// Unit results skip allocation entirely (spec.md 4.3.3's singleton
// case).
func TestUnitResultSkipsAllocation(t *testing.T) {
	names := name.NewScope()
	b := air.NewBlock(nil, &air.Con{Ty: &air.UnitType{}}, nil)
	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(db.Ptrs) != 0 {
		t.Fatalf("unit result allocated %d buffers, want 0", len(db.Ptrs))
	}
	if db.Dest != nil {
		t.Fatalf("unit result built a dest")
	}
}

// S5: runWriter with the caller's dest routed to the answer component
// only - the writer accumulator gets a fresh Managed buffer.
func TestRunWriterSplitAnswerOnly(t *testing.T) {
	names := name.NewScope()
	hb := name.NewBinder(names.Fresh(name.ColorAtom, "h"), air.Type(&air.UnitType{}))
	rb := name.NewBinder(names.Fresh(name.ColorAtom, "ref"), w32())

	// body: mextend(ref, 5); result 7
	un := names.Fresh(name.ColorAtom, "u")
	ud := &air.Decl{Binder: name.NewBinder(un, air.Type(&air.UnitType{})),
		Expr: &air.Op{Kind: air.OpPlace, Prim: "mextend",
			Args:     []air.Atom{&air.Var{Name: rb.Name, Ty: w32()}, air.IntCon(air.IdxRepTy, 5)},
			ResultTy: &air.UnitType{}}}
	wbody := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(un, ud)}, air.IntCon(air.IdxRepTy, 7), nil)

	pairName := names.Fresh(name.ColorAtom, "p")
	pairTy := &air.ProdType{Elems: []air.Type{w32(), w32()}}
	wd := &air.Decl{Binder: name.NewBinder(pairName, air.Type(pairTy)),
		Expr: &air.HofExpr{H: &air.RunWriterHof{
			Monoid: air.IntCon(air.IdxRepTy, 0),
			HBind:  hb,
			RBind:  rb,
			Body:   wbody,
		}}}
	// Result is p.0: the routing hands the writer only the answer slot.
	b := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(pairName, wd)},
		&air.Proj{Base: &air.Var{Name: pairName, Ty: pairTy}, Path: []int{0}}, nil)

	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}

	var managed, unmanaged int
	for _, p := range db.Ptrs {
		switch p.Mode {
		case dest.Managed:
			managed++
		case dest.Unmanaged:
			unmanaged++
		}
	}
	if unmanaged != 1 {
		t.Fatalf("answer buffers = %d, want 1", unmanaged)
	}
	if managed != 1 {
		t.Fatalf("writer accumulator buffers = %d, want 1 freshly allocated", managed)
	}
}

// Lowering is idempotent: a block whose loops are already Seq passes
// through with the same loop structure.
func TestLowerIdempotentOnSeq(t *testing.T) {
	names := name.NewScope()
	b := forBlock(names, 4, w32(), func(i name.Binder[air.IxType]) *air.Block {
		return air.NewBlock(nil, &air.Var{Name: i.Name, Ty: w32()}, nil)
	})
	db, err := Lower(names, b)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	first := len(findSeqs(db.Body))

	db2, err := Lower(names, db.Body)
	if err != nil {
		t.Fatalf("second Lower: %v", err)
	}
	if got := len(findSeqs(db2.Body)); got != first {
		t.Fatalf("re-lowering changed Seq count: %d -> %d", first, got)
	}
}
