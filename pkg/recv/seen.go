/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package recv

import (
	"net/netip"

	"github.com/bits-and-blooms/bitset"
)

// OrdinalIndex maps an allowed address to its position in canonical
// order; the seen set is one bit per allowed address.
type OrdinalIndex interface {
	Ordinal(addr uint32) (uint64, bool)
	CountAllowed() uint64
}

// SeenSet records which targets have already produced a response. Only
// the receiver goroutine touches it, so there is no locking. IPv6
// targets, which have no dense ordinal space, live in a hash set.
type SeenSet struct {
	idx  OrdinalIndex
	bits *bitset.BitSet
	v6   map[netip.Addr]struct{}
}

func NewSeenSet(idx OrdinalIndex) *SeenSet {
	return &SeenSet{
		idx:  idx,
		bits: bitset.New(uint(idx.CountAllowed())),
		v6:   make(map[netip.Addr]struct{}),
	}
}

// CheckAndSet returns whether addr was already recorded, marking it
// either way. Addresses outside the allowed space report repeat=false
// without touching the bitmap.
func (s *SeenSet) CheckAndSet(addr uint32) bool {
	ord, ok := s.idx.Ordinal(addr)
	if !ok {
		return false
	}

	if s.bits.Test(uint(ord)) {
		return true
	}

	s.bits.Set(uint(ord))

	return false
}

// CheckAndSet6 is the IPv6 variant.
func (s *SeenSet) CheckAndSet6(addr netip.Addr) bool {
	if _, ok := s.v6[addr]; ok {
		return true
	}

	s.v6[addr] = struct{}{}

	return false
}
