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
)

// PrintFlags selects optional detail in the textual rendering. The
// printer is a debugging/golden-test aid only; codegen never consumes
// its output.
type PrintFlags uint

const (
	// PrintTypes annotates every binder with its IType.
	PrintTypes PrintFlags = 1 << iota
	// PrintAddrSpaces includes address spaces on Alloc lines.
	PrintAddrSpaces
)

// Printer renders Imp functions to a readable text form, one decl per
// line, nested blocks indented.
type Printer struct {
	Flags PrintFlags
}

// Function renders fn.
func (p *Printer) Function(fn *Function) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s %v {\n", fn.Name, fn.Ty)
	p.block(&b, fn.Body, 1)
	b.WriteString("}\n")
	return b.String()
}

func (p *Printer) block(b *strings.Builder, blk *Block, depth int) {
	for _, d := range blk.Decls {
		p.decl(b, d, depth)
	}
	if len(blk.Results) > 0 {
		indent(b, depth)
		res := make([]string, len(blk.Results))
		for i, r := range blk.Results {
			res[i] = r.String()
		}
		fmt.Fprintf(b, "ret %s\n", strings.Join(res, ", "))
	}
}

func (p *Printer) decl(b *strings.Builder, d *Decl, depth int) {
	indent(b, depth)
	if len(d.Binders) > 0 {
		parts := make([]string, len(d.Binders))
		for i, bd := range d.Binders {
			if p.Flags&PrintTypes != 0 {
				parts[i] = bd.String()
			} else {
				parts[i] = bd.Name.String()
			}
		}
		fmt.Fprintf(b, "%s = ", strings.Join(parts, ", "))
	}
	switch in := d.Instr.(type) {
	case *Alloc:
		if p.Flags&PrintAddrSpaces != 0 {
			fmt.Fprintf(b, "alloc[%v] %v x %v\n", in.Addr, in.Size, in.Elem)
		} else {
			fmt.Fprintf(b, "alloc %v x %v\n", in.Size, in.Elem)
		}
	case *Store:
		fmt.Fprintf(b, "store %v <- %v\n", in.Ptr, in.Val)
	case *Load:
		fmt.Fprintf(b, "load %v\n", in.Ptr)
	case *Free:
		fmt.Fprintf(b, "free %v\n", in.Ptr)
	case *PrimOp:
		fmt.Fprintf(b, "%s(%s)\n", in.Prim, operands(in.Args))
	case *CastOp:
		fmt.Fprintf(b, "cast %v to %v\n", in.Arg, in.To)
	case *BitcastOp:
		fmt.Fprintf(b, "bitcast %v to %v\n", in.Arg, in.To)
	case *For:
		fmt.Fprintf(b, "for %v %v in %v {\n", in.Dir, in.Idx.Name, in.Size)
		p.block(b, in.Body, depth+1)
		indent(b, depth)
		b.WriteString("}\n")
	case *While:
		b.WriteString("while {\n")
		p.block(b, in.Body, depth+1)
		indent(b, depth)
		b.WriteString("}\n")
	case *Cond:
		fmt.Fprintf(b, "if %v {\n", in.Cond)
		p.block(b, in.Then, depth+1)
		indent(b, depth)
		b.WriteString("} else {\n")
		p.block(b, in.Else, depth+1)
		indent(b, depth)
		b.WriteString("}\n")
	case *Call:
		fmt.Fprintf(b, "call %s(%s)\n", in.Fn, operands(in.Args))
	case *ThrowError:
		fmt.Fprintf(b, "throw %q\n", in.Msg)
	case *VectorBroadcast:
		fmt.Fprintf(b, "vbroadcast %v as %v\n", in.Arg, in.Result)
	case *VectorIota:
		fmt.Fprintf(b, "viota %v\n", in.Result)
	case *MemCopy:
		fmt.Fprintf(b, "memcopy %v <- %v x %v\n", in.Dst, in.Src, in.Count)
	default:
		fmt.Fprintf(b, "?%T\n", d.Instr)
	}
}

func operands(ops []Operand) string {
	parts := make([]string, len(ops))
	for i, o := range ops {
		parts[i] = o.String()
	}
	return strings.Join(parts, ", ")
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}
