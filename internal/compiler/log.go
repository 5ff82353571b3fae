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
	"fmt"
	"os"
)

// Verbosity gates pipeline progress logging: 0 is silent, 1 and above
// log pass boundaries; no higher level adds further output.
var Verbosity int

func logf(level int, format string, args ...any) {
	if Verbosity >= level {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}
