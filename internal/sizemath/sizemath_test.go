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

package sizemath

import "testing"

func TestMulOverflow(t *testing.T) {
	if _, err := Mul(1<<20, 1<<20); err == nil {
		t.Fatalf("2^40 must overflow the index range")
	}
	if v, err := Mul(1<<16, 1<<15); err != nil || v != 1<<31 {
		t.Fatalf("Mul(2^16, 2^15) = %d, %v; want 2^31", v, err)
	}
	if v, err := Mul(0, 1<<63); err != nil || v != 0 {
		t.Fatalf("Mul by zero = %d, %v; want 0", v, err)
	}
}

func TestAddOverflow(t *testing.T) {
	const max = uint64(^uint32(0))
	if v, err := Add(max-1, 1); err != nil || v != max {
		t.Fatalf("Add(max-1, 1) = %d, %v; want max", v, err)
	}
	if _, err := Add(max, 1); err == nil {
		t.Fatalf("max+1 must overflow the index range")
	}
}

// The stack threshold is exact at the boundary: aligning to the 8-byte
// reservation unit never pushes a qualifying size over.
func TestFitsStackBoundary(t *testing.T) {
	cases := []struct {
		size uint64
		want bool
	}{
		{0, true},
		{1, true},
		{255, true},
		{256, true},
		{257, false},
		{1 << 40, false},
	}
	for _, c := range cases {
		if got := FitsStack(c.size); got != c.want {
			t.Errorf("FitsStack(%d) = %v, want %v", c.size, got, c.want)
		}
	}
}
