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

package main

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
)

// fixture is the YAML shape the CLI accepts: one `for` loop over Fin
// size whose body is a small arithmetic expression over the loop index.
//
//	for:
//	  index: i
//	  size: 16
//	  body:
//	    add: [{index: i}, {const: 3}]
type fixture struct {
	For *fixtureFor `json:"for"`
}

type fixtureFor struct {
	Index string      `json:"index"`
	Size  int64       `json:"size"`
	Body  fixtureExpr `json:"body"`
}

// fixtureExpr is one arithmetic node; exactly one field may be set.
type fixtureExpr struct {
	Add   []fixtureExpr `json:"add,omitempty"`
	Mul   []fixtureExpr `json:"mul,omitempty"`
	Index string        `json:"index,omitempty"`
	Const *int64        `json:"const,omitempty"`
}

// loadFixture reads a fixture file and assembles the corresponding
// high-IR block: a single `for` decl whose bound variable is the
// block's result.
func loadFixture(names *name.Scope, path string) (*air.Block, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fixture
	if err := yaml.Unmarshal(buf, &f); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	if f.For == nil {
		return nil, fmt.Errorf("fixture %s: missing 'for'", path)
	}
	if f.For.Size <= 0 {
		return nil, fmt.Errorf("fixture %s: for.size must be positive", path)
	}

	idxTy := &air.TC{Base: air.IdxRepTy}
	ixTy := air.IxType(&air.FinType{N: air.IntCon(air.IdxRepTy, f.For.Size)})
	ib := name.NewBinder(names.Fresh(name.ColorAtom, f.For.Index), ixTy)

	bodyDecls, result, err := buildExpr(names, &f.For.Body, f.For.Index, ib.Name)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	body := air.NewBlock(bodyDecls, result, nil)

	forName := names.Fresh(name.ColorAtom, "tab")
	tabTy := &air.TabType{Binder: ib, Body: idxTy}
	decl := &air.Decl{
		Binder: name.NewBinder(forName, air.Type(tabTy)),
		Expr:   &air.HofExpr{H: &air.ForHof{Binder: ib, Body: body}},
	}
	decls := name.Nest[*air.Decl]{name.NewBinder(forName, decl)}
	return air.NewBlock(decls, &air.Var{Name: forName, Ty: tabTy}, nil), nil
}

// buildExpr flattens one fixture expression into decls plus a result
// atom, folding n-ary add/mul left to right.
func buildExpr(names *name.Scope, e *fixtureExpr, idxName string, idx name.Name) (name.Nest[*air.Decl], air.Atom, error) {
	idxTy := &air.TC{Base: air.IdxRepTy}
	switch {
	case e.Index != "":
		if e.Index != idxName {
			return nil, nil, fmt.Errorf("unknown index %q", e.Index)
		}
		return nil, &air.Var{Name: idx, Ty: idxTy}, nil
	case e.Const != nil:
		return nil, air.IntCon(air.IdxRepTy, *e.Const), nil
	case len(e.Add) > 0:
		return buildFold(names, e.Add, "IAdd", idxName, idx)
	case len(e.Mul) > 0:
		return buildFold(names, e.Mul, "IMul", idxName, idx)
	default:
		return nil, nil, fmt.Errorf("empty expression node")
	}
}

func buildFold(names *name.Scope, elems []fixtureExpr, prim, idxName string, idx name.Name) (name.Nest[*air.Decl], air.Atom, error) {
	idxTy := &air.TC{Base: air.IdxRepTy}
	var decls name.Nest[*air.Decl]
	var acc air.Atom
	for i := range elems {
		sub, val, err := buildExpr(names, &elems[i], idxName, idx)
		if err != nil {
			return nil, nil, err
		}
		decls = append(decls, sub...)
		if acc == nil {
			acc = val
			continue
		}
		n := names.Fresh(name.ColorAtom, "")
		decl := &air.Decl{
			Binder: name.NewBinder(n, air.Type(idxTy)),
			Expr:   &air.Op{Kind: air.OpBinOp, Prim: prim, Args: []air.Atom{acc, val}, ResultTy: idxTy},
		}
		decls = append(decls, name.NewBinder(n, decl))
		acc = &air.Var{Name: n, Ty: idxTy}
	}
	return decls, acc, nil
}
