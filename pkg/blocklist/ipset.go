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

package blocklist

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

const pageBits = 16 // 64K addresses per page

// IPSet is a sparse presence bitmap over the IPv4 space, paged so a list
// of scattered addresses does not allocate 512 MB. Pages are plain
// bitsets keyed by the upper 16 address bits.
type IPSet struct {
	pages map[uint32]*bitset.BitSet
	count uint64
}

func NewIPSet() *IPSet {
	return &IPSet{pages: make(map[uint32]*bitset.BitSet)}
}

// LoadIPSet reads one address per line ('#' comments allowed).
func LoadIPSet(path string) (*IPSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ip list: %w", err)
	}
	defer f.Close()

	s := NewIPSet()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" {
			continue
		}

		addr, err := netip.ParseAddr(line)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: %q", ErrNotIPv4, line)
		}

		s.Add(addrToUint(addr))
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}

	return s, nil
}

// Add inserts a host-order address.
func (s *IPSet) Add(addr uint32) {
	page := addr >> pageBits

	bs, ok := s.pages[page]
	if !ok {
		bs = bitset.New(1 << pageBits)
		s.pages[page] = bs
	}

	bit := uint(addr & (1<<pageBits - 1))
	if !bs.Test(bit) {
		bs.Set(bit)
		s.count++
	}
}

// Contains reports membership of a host-order address.
func (s *IPSet) Contains(addr uint32) bool {
	bs, ok := s.pages[addr>>pageBits]
	if !ok {
		return false
	}

	return bs.Test(uint(addr & (1<<pageBits - 1)))
}

// Len returns the number of distinct addresses in the set.
func (s *IPSet) Len() uint64 { return s.count }
