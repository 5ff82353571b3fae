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

// airlower is a small debug CLI: it reads a loop fixture from YAML,
// runs the lowering/vectorization/imp pipeline over it, and prints the
// resulting Imp function. It is a development convenience, not a
// production surface.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/airlower/airlower/internal/compiler"
	"github.com/airlower/airlower/internal/imp"
)

var (
	dashv     int
	dasht     string
	dashtypes bool
	dashx     string
)

func init() {
	flag.IntVar(&dashv, "v", 0, "verbosity")
	flag.StringVar(&dasht, "t", "", "target config (YAML); default scalar cpu llvm")
	flag.BoolVar(&dashtypes, "types", false, "print binder types")
	flag.StringVar(&dashx, "x", "", "also emit an export wrapper (flat or xla)")
}

func exitf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func usage() {
	exitf("usage: airlower [-v n] [-t target.yaml] [-types] [-x flat|xla] fixture.yaml")
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
	}
	compiler.Verbosity = dashv

	target := compiler.DefaultTarget()
	if dasht != "" {
		var err error
		target, err = compiler.LoadTarget(dasht)
		if err != nil {
			exitf("airlower: %s", err)
		}
	}

	unit := compiler.NewUnit()
	block, err := loadFixture(unit.Names, flag.Arg(0))
	if err != nil {
		exitf("airlower: %s", err)
	}

	fn, err := unit.Compile(block, target)
	if err != nil {
		exitf("airlower: %s", err)
	}

	var flags imp.PrintFlags
	if dashtypes {
		flags |= imp.PrintTypes | imp.PrintAddrSpaces
	}
	p := &imp.Printer{Flags: flags}
	fmt.Print(p.Function(fn.Fun))

	switch dashx {
	case "":
	case "flat", "xla":
		cc := imp.FlatExportCC
		if dashx == "xla" {
			cc = imp.XLAExportCC
		}
		wrapper, err := imp.Export(unit.Names, fn.Fun, cc)
		if err != nil {
			exitf("airlower: %s", err)
		}
		fmt.Print(p.Function(wrapper))
	default:
		usage()
	}
}
