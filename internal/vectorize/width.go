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

package vectorize

import "golang.org/x/sys/cpu"

// PreferredWidth returns the default lane count for a named backend:
// 32-bit lanes per SIMD register on the host CPU for the native
// backend, a fixed warp-friendly width for CUDA. The probe mirrors the
// host capability checks the execution engine does before picking an
// instruction set.
func PreferredWidth(backend string) int {
	switch backend {
	case "llvm-cuda":
		return 32
	default:
		if cpu.X86.HasAVX512F {
			return 16
		}
		if cpu.X86.HasAVX2 {
			return 8
		}
		return 4
	}
}
