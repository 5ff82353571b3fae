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

package compiler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/imp"
	"github.com/airlower/airlower/internal/name"
)

func w32() air.Type { return &air.TC{Base: air.IdxRepTy} }

func fin(n int64) air.IxType {
	return &air.FinType{N: air.IntCon(air.IdxRepTy, n)}
}

// doubleLoop builds `for i:(Fin n). i + i`.
func doubleLoop(names *name.Scope, n int64) *air.Block {
	ib := name.NewBinder(names.Fresh(name.ColorAtom, "i"), fin(n))
	tabTy := &air.TabType{Binder: ib, Body: w32()}

	sumName := names.Fresh(name.ColorAtom, "s")
	iv := &air.Var{Name: ib.Name, Ty: w32()}
	sumDecl := &air.Decl{Binder: name.NewBinder(sumName, w32()),
		Expr: &air.Op{Kind: air.OpBinOp, Prim: "IAdd", Args: []air.Atom{iv, iv}, ResultTy: w32()}}
	body := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(sumName, sumDecl)},
		&air.Var{Name: sumName, Ty: w32()}, nil)

	fname := names.Fresh(name.ColorAtom, "tab")
	decl := &air.Decl{Binder: name.NewBinder(fname, air.Type(tabTy)),
		Expr: &air.HofExpr{H: &air.ForHof{Binder: ib, Body: body}}}
	return air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(fname, decl)},
		&air.Var{Name: fname, Ty: tabTy}, nil)
}

func printed(t *testing.T, fn *imp.FunctionWithRecon) string {
	t.Helper()
	p := &imp.Printer{}
	return p.Function(fn.Fun)
}

// S1-shaped end-to-end: one alloc, one loop, one store per element.
func TestCompileTensorDouble(t *testing.T) {
	u := NewUnit()
	fn, err := u.Compile(doubleLoop(u.Names, 4), DefaultTarget())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := printed(t, fn)
	if strings.Count(out, "alloc") != 1 {
		t.Fatalf("want exactly one alloc:\n%s", out)
	}
	if strings.Count(out, "for Fwd") != 1 {
		t.Fatalf("want exactly one loop:\n%s", out)
	}
	if !strings.Contains(out, "store") {
		t.Fatalf("loop body lost its store:\n%s", out)
	}
}

// S2-shaped end-to-end: nested for compiles to nested IFor over one
// allocation.
func TestCompileNestedFor(t *testing.T) {
	u := NewUnit()
	names := u.Names

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

	rowName := names.Fresh(name.ColorAtom, "row")
	rowDecl := &air.Decl{Binder: name.NewBinder(rowName, air.Type(innerTy)),
		Expr: &air.HofExpr{H: &air.ForHof{Binder: jb, Body: innerBody}}}
	outerBody := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(rowName, rowDecl)}, &air.Var{Name: rowName, Ty: innerTy}, nil)

	gridName := names.Fresh(name.ColorAtom, "grid")
	gridDecl := &air.Decl{Binder: name.NewBinder(gridName, air.Type(outerTy)),
		Expr: &air.HofExpr{H: &air.ForHof{Binder: ib, Body: outerBody}}}
	b := air.NewBlock(name.Nest[*air.Decl]{name.NewBinder(gridName, gridDecl)}, &air.Var{Name: gridName, Ty: outerTy}, nil)

	fn, err := u.Compile(b, DefaultTarget())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := printed(t, fn)
	if strings.Count(out, "alloc") != 1 {
		t.Fatalf("nested for must allocate once:\n%s", out)
	}
	if strings.Count(out, "for Fwd") != 2 {
		t.Fatalf("want two nested loops:\n%s", out)
	}
}

// S4-shaped end-to-end: requesting width 4 on a Fin 16 loop yields
// vector instructions in the emitted function.
func TestCompileVectorized(t *testing.T) {
	u := NewUnit()
	target := Target{Backend: "llvm", Device: "cpu", Vectorize: true, Width: 4}
	fn, err := u.Compile(doubleLoop(u.Names, 16), target)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	out := printed(t, fn)
	if !strings.Contains(out, "vbroadcast") || !strings.Contains(out, "viota") {
		t.Fatalf("vectorized compile lacks vector instructions:\n%s", out)
	}
}

// The per-block cache is monotonic: compiling the same block twice
// returns the identical result.
func TestCompileCached(t *testing.T) {
	u := NewUnit()
	b := doubleLoop(u.Names, 4)
	first, err := u.Compile(b, DefaultTarget())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	second, err := u.Compile(b, DefaultTarget())
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if first != second {
		t.Fatalf("cache miss on identical block")
	}
}

func TestLoadTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "target.yaml")
	if err := os.WriteFile(path, []byte("backend: llvm\ndevice: cpu\nvectorize: true\nwidth: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}
	target, err := LoadTarget(path)
	if err != nil {
		t.Fatalf("LoadTarget: %v", err)
	}
	if target.ImpBackend() != imp.LLVM || target.ImpDevice() != imp.CPU {
		t.Fatalf("target decoded wrong: %+v", target)
	}
	if target.VectorWidth() != 8 {
		t.Fatalf("vector width = %d, want 8", target.VectorWidth())
	}

	if err := os.WriteFile(path, []byte("backend: wasm\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTarget(path); err == nil {
		t.Fatalf("unknown backend must be rejected")
	}
}

func TestInternalErrorFormatting(t *testing.T) {
	err := &InternalError{Tag: "lower", Err: os.ErrInvalid}
	if !strings.Contains(err.Error(), "internal error [lower]") {
		t.Fatalf("unexpected format: %v", err)
	}
}
