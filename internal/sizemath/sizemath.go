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

// Package sizemath is a thin overflow-checked-arithmetic layer over
// the ints package's alignment helpers, pinned to the 32-bit IdxRepTy
// width that this module's buffer sizes and offsets are computed in
// (spec.md 4.1). The polynomial index algebra folds constants through
// Mul/Add, and chooseAddrSpace's stack threshold goes through
// FitsStack.
package sizemath

import (
	"fmt"

	"github.com/airlower/airlower/ints"
)

// ErrOverflow is returned by Mul/Add when a constant-folded size or
// offset would not fit in IdxRepTy (uint32). The polynomial algebra
// turns this into a ThrowError decl rather than silently wrapping
// (spec.md 7, error kind 1).
type ErrOverflow struct {
	Op   string
	A, B uint64
}

func (e *ErrOverflow) Error() string {
	return fmt.Sprintf("sizemath: %s(%d, %d) overflows IdxRepTy", e.Op, e.A, e.B)
}

const maxIdxRep = uint64(^uint32(0))

// Mul multiplies two constant-folded sizes, reporting overflow against
// the 32-bit IdxRepTy range rather than wrapping.
func Mul(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b || prod > maxIdxRep {
		return 0, &ErrOverflow{Op: "Mul", A: a, B: b}
	}
	return prod, nil
}

// Add sums two constant-folded sizes/offsets with the same overflow
// discipline as Mul.
func Add(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a || sum > maxIdxRep {
		return 0, &ErrOverflow{Op: "Add", A: a, B: b}
	}
	return sum, nil
}

// FitsStack reports whether a syntactic (compile-time-literal) byte
// size qualifies for stack allocation under chooseAddrSpace's
// threshold (spec.md 4.5, "size <= 256 (syntactic integer literal)").
// Stack slots are reserved in 8-byte units, so the threshold applies
// to the aligned size; since every size in 1..256 aligns to at most
// 256, the outcome is identical to the raw syntactic rule.
func FitsStack(size uint64) bool {
	if size > maxIdxRep {
		return false
	}
	return ints.AlignUp(size, 8) <= 256
}
