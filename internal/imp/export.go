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

package imp

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/airlower/airlower/internal/air"
	"github.com/airlower/airlower/internal/name"
)

// ExportCC selects the argument-passing shape of an exported entry
// point (spec.md 6.4).
type ExportCC uint8

const (
	// FlatExportCC passes argument and destination registers as one
	// flat list; the unpack step splits them by arity known at export
	// time.
	FlatExportCC ExportCC = iota
	// XLAExportCC receives two pointer arrays (inputs, outputs) of
	// bytes; unpack dereferences and casts per declared formal type.
	// Single-output functions receive `outputs` pointing directly to
	// the buffer rather than to a pointer array.
	XLAExportCC
)

func (c ExportCC) String() string {
	if c == XLAExportCC {
		return "xla"
	}
	return "flat"
}

// Export wraps fn in an entry function under the given export calling
// convention: the wrapper unpacks the external register/pointer-array
// shape into fn's formals, calls fn, and stores fn's scalar results
// into the caller-provided destination registers. The exported symbol
// name is suffixed with a fresh identifier so repeated exports of the
// same unit never collide in a loaded-object table.
func Export(names *name.Scope, fn *Function, cc ExportCC) (*Function, error) {
	symbol := fmt.Sprintf("%s_%s", fn.Name, strings.ReplaceAll(uuid.NewString()[:13], "-", ""))
	switch cc {
	case FlatExportCC:
		return exportFlat(names, fn, symbol)
	case XLAExportCC:
		return exportXLA(names, fn, symbol)
	default:
		return nil, fmt.Errorf("imp: unknown export convention %d", cc)
	}
}

// exportFlat declares one entry argument per formal and one pointer
// per result; the body calls fn and stores each result through the
// matching destination register.
func exportFlat(names *name.Scope, fn *Function, symbol string) (*Function, error) {
	args := make([]IBinder, 0, len(fn.Ty.Args)+len(fn.Ty.Results))
	callArgs := make([]Operand, 0, len(fn.Ty.Args))
	for _, ty := range fn.Ty.Args {
		b := IBinder{Name: names.Fresh(name.ColorImp, "arg"), T: ty}
		args = append(args, b)
		callArgs = append(callArgs, Reg{Name: b.Name, T: ty})
	}
	destRegs := make([]Reg, 0, len(fn.Ty.Results))
	for _, ty := range fn.Ty.Results {
		b := IBinder{Name: names.Fresh(name.ColorImp, "out"), T: PtrType{Addr: MainHeap, Elem: ty}}
		args = append(args, b)
		destRegs = append(destRegs, Reg{Name: b.Name, T: b.T})
	}

	resBinders := make([]IBinder, len(fn.Ty.Results))
	var decls []*Decl
	for i, ty := range fn.Ty.Results {
		resBinders[i] = IBinder{Name: names.Fresh(name.ColorImp, "res"), T: ty}
	}
	decls = append(decls, &Decl{
		Binders: resBinders,
		Instr:   &Call{CC: fn.Ty.CC, Fn: fn.Name, Args: callArgs, Results: fn.Ty.Results},
	})
	for i, rb := range resBinders {
		decls = append(decls, &Decl{Instr: &Store{Ptr: destRegs[i], Val: Reg{Name: rb.Name, T: rb.T}}})
	}

	argTys := make([]IType, len(args))
	for i, a := range args {
		argTys[i] = a.T
	}
	return &Function{
		Name: symbol,
		Ty:   FunType{CC: CEntryFun, Args: argTys},
		Args: args,
		Body: &Block{Decls: decls},
	}, nil
}

// exportXLA declares the two pointer-array formals and unpacks them:
// each input is loaded from inputs[i] and bitcast to the declared
// formal type; each output pointer is loaded from outputs[i], except
// that a single-output function treats `outputs` as the buffer itself.
func exportXLA(names *name.Scope, fn *Function, symbol string) (*Function, error) {
	bytePtr := PtrType{Addr: MainHeap, Elem: Scalar{Base: air.Word8}}
	arrPtr := PtrType{Addr: MainHeap, Elem: bytePtr}

	inputs := IBinder{Name: names.Fresh(name.ColorImp, "inputs"), T: arrPtr}
	outputs := IBinder{Name: names.Fresh(name.ColorImp, "outputs"), T: arrPtr}

	var decls []*Decl
	callArgs := make([]Operand, len(fn.Ty.Args))
	for i, ty := range fn.Ty.Args {
		slotName := names.Fresh(name.ColorImp, "inslot")
		decls = append(decls, &Decl{
			Binders: []IBinder{{Name: slotName, T: bytePtr}},
			Instr: &PrimOp{Prim: "ptradd",
				Args:   []Operand{Reg{Name: inputs.Name, T: arrPtr}, Lit{I: int64(i), T: Scalar{Base: air.IdxRepTy}}},
				Result: arrPtr},
		})
		rawName := names.Fresh(name.ColorImp, "inraw")
		decls = append(decls, &Decl{
			Binders: []IBinder{{Name: rawName, T: bytePtr}},
			Instr:   &Load{Ptr: Reg{Name: slotName, T: arrPtr}},
		})
		argName := names.Fresh(name.ColorImp, "in")
		decls = append(decls, &Decl{
			Binders: []IBinder{{Name: argName, T: ty}},
			Instr:   &BitcastOp{Arg: Reg{Name: rawName, T: bytePtr}, To: ty},
		})
		callArgs[i] = Reg{Name: argName, T: ty}
	}

	destRegs := make([]Reg, len(fn.Ty.Results))
	if len(fn.Ty.Results) == 1 {
		// Single output: `outputs` points directly at the buffer.
		castName := names.Fresh(name.ColorImp, "outbuf")
		to := PtrType{Addr: MainHeap, Elem: fn.Ty.Results[0]}
		decls = append(decls, &Decl{
			Binders: []IBinder{{Name: castName, T: to}},
			Instr:   &BitcastOp{Arg: Reg{Name: outputs.Name, T: arrPtr}, To: to},
		})
		destRegs[0] = Reg{Name: castName, T: to}
	} else {
		for i, ty := range fn.Ty.Results {
			slotName := names.Fresh(name.ColorImp, "outslot")
			decls = append(decls, &Decl{
				Binders: []IBinder{{Name: slotName, T: arrPtr}},
				Instr: &PrimOp{Prim: "ptradd",
					Args:   []Operand{Reg{Name: outputs.Name, T: arrPtr}, Lit{I: int64(i), T: Scalar{Base: air.IdxRepTy}}},
					Result: arrPtr},
			})
			rawName := names.Fresh(name.ColorImp, "outraw")
			decls = append(decls, &Decl{
				Binders: []IBinder{{Name: rawName, T: bytePtr}},
				Instr:   &Load{Ptr: Reg{Name: slotName, T: arrPtr}},
			})
			castName := names.Fresh(name.ColorImp, "out")
			to := PtrType{Addr: MainHeap, Elem: ty}
			decls = append(decls, &Decl{
				Binders: []IBinder{{Name: castName, T: to}},
				Instr:   &BitcastOp{Arg: Reg{Name: rawName, T: bytePtr}, To: to},
			})
			destRegs[i] = Reg{Name: castName, T: to}
		}
	}

	resBinders := make([]IBinder, len(fn.Ty.Results))
	for i, ty := range fn.Ty.Results {
		resBinders[i] = IBinder{Name: names.Fresh(name.ColorImp, "res"), T: ty}
	}
	decls = append(decls, &Decl{
		Binders: resBinders,
		Instr:   &Call{CC: fn.Ty.CC, Fn: fn.Name, Args: callArgs, Results: fn.Ty.Results},
	})
	for i, rb := range resBinders {
		decls = append(decls, &Decl{Instr: &Store{Ptr: destRegs[i], Val: Reg{Name: rb.Name, T: rb.T}}})
	}

	return &Function{
		Name: symbol,
		Ty:   FunType{CC: CEntryFun, Args: []IType{arrPtr, arrPtr}},
		Args: []IBinder{inputs, outputs},
		Body: &Block{Decls: decls},
	}, nil
}
