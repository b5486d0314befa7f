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

// Package blocklist answers which destination addresses a scan may probe.
// The allowed space is kept as sorted disjoint ranges with cumulative
// counts, so membership and rank (the k-th allowed address) are both
// binary searches. The iterator maps address ordinals through Rank; it
// never materializes an address list.
package blocklist

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"strings"
)

var (
	ErrNoAddressesAllowed = errors.New("no addresses are allowed by the block/allow lists")
	ErrOrdinalOutOfRange  = errors.New("address ordinal out of range")
	ErrNotIPv4            = errors.New("not an IPv4 address or prefix")
)

// Oracle is the query surface the engine consumes.
type Oracle interface {
	// Allowed reports whether the host-order address may be probed.
	Allowed(addr uint32) bool
	// CountAllowed returns the number of allowed addresses.
	CountAllowed() uint64
	// Rank returns the k-th allowed address in ascending order.
	Rank(ordinal uint64) (uint32, error)
}

type ipRange struct {
	start uint32
	end   uint32 // inclusive
}

// Set is an Oracle over merged address ranges.
type Set struct {
	ranges []ipRange
	// cum[i] is the number of allowed addresses in ranges[0..i].
	cum []uint64
}

// New builds a Set from allowlist and blocklist entries in CIDR notation.
// An empty allowlist means the full IPv4 space; blocklist entries are
// subtracted afterwards.
func New(allow, block []string) (*Set, error) {
	allowRanges, err := parseRanges(allow)
	if err != nil {
		return nil, err
	}

	if len(allowRanges) == 0 {
		allowRanges = []ipRange{{start: 0, end: ^uint32(0)}}
	}

	blockRanges, err := parseRanges(block)
	if err != nil {
		return nil, err
	}

	ranges := subtract(merge(allowRanges), merge(blockRanges))
	if len(ranges) == 0 {
		return nil, ErrNoAddressesAllowed
	}

	s := &Set{ranges: ranges, cum: make([]uint64, len(ranges))}

	var total uint64

	for i, r := range ranges {
		total += uint64(r.end-r.start) + 1
		s.cum[i] = total
	}

	return s, nil
}

// NewFromFiles reads allowlist/blocklist files (one CIDR or address per
// line, '#' comments). Either path may be empty.
func NewFromFiles(allowPath, blockPath string) (*Set, error) {
	allow, err := readLines(allowPath)
	if err != nil {
		return nil, err
	}

	block, err := readLines(blockPath)
	if err != nil {
		return nil, err
	}

	return New(allow, block)
}

func readLines(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blocklist: %w", err)
	}
	defer f.Close()

	var lines []string

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if line == "" {
			continue
		}

		lines = append(lines, line)
	}

	return lines, sc.Err()
}

func parseRanges(entries []string) ([]ipRange, error) {
	ranges := make([]ipRange, 0, len(entries))

	for _, e := range entries {
		r, err := parseEntry(e)
		if err != nil {
			return nil, err
		}

		ranges = append(ranges, r)
	}

	return ranges, nil
}

func parseEntry(entry string) (ipRange, error) {
	if !strings.ContainsRune(entry, '/') {
		addr, err := netip.ParseAddr(entry)
		if err != nil || !addr.Is4() {
			return ipRange{}, fmt.Errorf("%w: %q", ErrNotIPv4, entry)
		}

		v := addrToUint(addr)

		return ipRange{start: v, end: v}, nil
	}

	prefix, err := netip.ParsePrefix(entry)
	if err != nil || !prefix.Addr().Is4() {
		return ipRange{}, fmt.Errorf("%w: %q", ErrNotIPv4, entry)
	}

	base := addrToUint(prefix.Masked().Addr())
	size := uint32(1) << (32 - prefix.Bits())

	r := ipRange{start: base, end: base + size - 1}
	if prefix.Bits() == 0 {
		r = ipRange{start: 0, end: ^uint32(0)}
	}

	return r, nil
}

func addrToUint(addr netip.Addr) uint32 {
	b := addr.As4()

	return binary.BigEndian.Uint32(b[:])
}

func merge(ranges []ipRange) []ipRange {
	if len(ranges) == 0 {
		return nil
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	out := []ipRange{ranges[0]}

	for _, r := range ranges[1:] {
		last := &out[len(out)-1]

		if r.start > last.end && r.start-last.end > 1 {
			out = append(out, r)
			continue
		}

		if r.end > last.end {
			last.end = r.end
		}
	}

	return out
}

// subtract removes every blocked range from the allowed ranges. Both
// inputs are merged and sorted.
func subtract(allowed, blocked []ipRange) []ipRange {
	var out []ipRange

	for _, a := range allowed {
		cur := []ipRange{a}

		for _, b := range blocked {
			cur = subtractOne(cur, b)
		}

		out = append(out, cur...)
	}

	return out
}

func subtractOne(ranges []ipRange, b ipRange) []ipRange {
	var out []ipRange

	for _, r := range ranges {
		if b.end < r.start || b.start > r.end {
			out = append(out, r)
			continue
		}

		if b.start > r.start {
			out = append(out, ipRange{start: r.start, end: b.start - 1})
		}

		if b.end < r.end {
			out = append(out, ipRange{start: b.end + 1, end: r.end})
		}
	}

	return out
}

// Allowed implements Oracle.
func (s *Set) Allowed(addr uint32) bool {
	idx := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].end >= addr })

	return idx < len(s.ranges) && s.ranges[idx].start <= addr
}

// CountAllowed implements Oracle.
func (s *Set) CountAllowed() uint64 {
	if len(s.cum) == 0 {
		return 0
	}

	return s.cum[len(s.cum)-1]
}

// Rank implements Oracle: the ordinal-th allowed address in ascending
// canonical order.
func (s *Set) Rank(ordinal uint64) (uint32, error) {
	if ordinal >= s.CountAllowed() {
		return 0, fmt.Errorf("%w: %d of %d", ErrOrdinalOutOfRange, ordinal, s.CountAllowed())
	}

	idx := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > ordinal })

	prev := uint64(0)
	if idx > 0 {
		prev = s.cum[idx-1]
	}

	return s.ranges[idx].start + uint32(ordinal-prev), nil
}

// Ordinal is the inverse of Rank: the position of an allowed address in
// canonical order. The receiver uses it to index the seen set.
func (s *Set) Ordinal(addr uint32) (uint64, bool) {
	idx := sort.Search(len(s.ranges), func(i int) bool { return s.ranges[i].end >= addr })
	if idx >= len(s.ranges) || s.ranges[idx].start > addr {
		return 0, false
	}

	prev := uint64(0)
	if idx > 0 {
		prev = s.cum[idx-1]
	}

	return prev + uint64(addr-s.ranges[idx].start), true
}
