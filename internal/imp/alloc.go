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
	"github.com/airlower/airlower/internal/dest"
	"github.com/airlower/airlower/internal/sizemath"
)

// chooseAddrSpace implements spec.md 4.5's allocation strategy:
//
//   - Unmanaged         => heap of the backend's main device.
//   - Managed, the code runs on the main device, and the byte size is
//     a syntactic integer literal <= 256 => stack.
//   - otherwise         => heap of the main device; the caller
//     registers the pointer for a deferred Free.
//
// The size check is syntactic: only sizes that are integer literals at
// this point qualify (sizeBytes < 0 means "not a literal"), so callers
// must not rely on stack allocation for dynamically computed small
// sizes - a change in how earlier passes normalize literals silently
// moves such allocations to the heap. The brittleness is documented,
// not fixed (spec.md 9, Open Questions).
func chooseAddrSpace(backend Backend, curDev Device, mode dest.AllocMode, sizeBytes int64) AddressSpace {
	if mode == dest.Unmanaged {
		return MainHeap
	}
	if curDev == backend.MainDevice() && sizeBytes >= 0 && sizemath.FitsStack(uint64(sizeBytes)) {
		return Stack
	}
	return MainHeap
}
