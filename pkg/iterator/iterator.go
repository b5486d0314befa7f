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

// Package iterator enumerates the address x port target space as a
// non-repeating pseudo-random permutation, split into shards that sender
// threads walk independently. No visited set is kept anywhere: a shard is
// only a position in the cyclic group plus counters.
package iterator

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nettrawl/nettrawl/pkg/blocklist"
	"github.com/nettrawl/nettrawl/pkg/cyclic"
)

var (
	ErrNoPorts         = errors.New("no target ports")
	ErrOversubscribed  = errors.New("senders * shards > allowed probes")
	ErrTooManySubshard = errors.New("senders * shards exceeds max targets")
)

// Params configures the iterator for one machine's slice of the scan.
type Params struct {
	Senders     int
	ShardNum    int
	TotalShards int

	Oracle blocklist.Oracle
	Ports  []uint16

	// ListOfIPs restricts targets to an explicit membership set; indices
	// outside it are skipped as iterator steps.
	ListOfIPs *blocklist.IPSet

	// Seed pins the start exponent; 0 draws one from the CSPRNG.
	Seed uint64

	// MaxTargets / MaxPackets are scan-wide caps divided across the local
	// shards.
	MaxTargets uint64
	MaxPackets uint64
}

// Iterator owns the group and the local shards.
type Iterator struct {
	group    *cyclic.Group
	numPorts uint64
	shards   []*Shard
}

// New derives the group from the target space size and cuts this machine's
// shards. The group parameters depend only on N, and the start exponent
// only on the seed, so cooperating machines configured alike agree on the
// full permutation.
func New(p Params) (*Iterator, error) {
	if len(p.Ports) == 0 {
		return nil, ErrNoPorts
	}

	numAddrs := p.Oracle.CountAllowed()
	n := numAddrs * uint64(len(p.Ports))

	numSubshards := uint64(p.Senders) * uint64(p.TotalShards)
	if numSubshards > n {
		return nil, fmt.Errorf("%w: %d > %d", ErrOversubscribed, numSubshards, n)
	}

	if p.MaxTargets > 0 && numSubshards > p.MaxTargets {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySubshard, numSubshards, p.MaxTargets)
	}

	group, err := cyclic.NewGroup(n)
	if err != nil {
		return nil, err
	}

	startExp, err := startExponent(p.Seed, group.Order())
	if err != nil {
		return nil, err
	}

	it := &Iterator{
		group:    group,
		numPorts: uint64(len(p.Ports)),
	}

	stride := numSubshards
	strideMul := group.PowMod(group.Generator, stride)

	it.shards = make([]*Shard, 0, p.Senders)

	for thread := 0; thread < p.Senders; thread++ {
		subIdx := uint64(thread) + uint64(p.Senders)*uint64(p.ShardNum)

		var steps uint64
		if subIdx < group.Order() {
			steps = (group.Order() - subIdx + stride - 1) / stride
		}

		s := &Shard{
			threadID:  thread,
			group:     group,
			current:   group.PowMod(group.Generator, startExp+subIdx),
			mul:       strideMul,
			stepsLeft: steps,
			numPorts:  it.numPorts,
			ports:     p.Ports,
			oracle:    p.Oracle,
			listOfIPs: p.ListOfIPs,
		}

		s.state.MaxTargets = divideCap(p.MaxTargets, p.Senders, thread)
		s.state.MaxPackets = divideCap(p.MaxPackets, p.Senders, thread)

		it.shards = append(it.shards, s)
	}

	return it, nil
}

// Shards returns the local shards, one per sender thread.
func (it *Iterator) Shards() []*Shard { return it.shards }

// Group exposes the derived group parameters.
func (it *Iterator) Group() *cyclic.Group { return it.group }

// N is the target space size.
func (it *Iterator) N() uint64 { return it.group.N }

// divideCap splits a scan-wide cap across threads; the remainder lands on
// the low-numbered threads so the per-thread caps sum exactly.
func divideCap(total uint64, senders, thread int) uint64 {
	if total == 0 {
		return 0
	}

	per := total / uint64(senders)
	if uint64(thread) < total%uint64(senders) {
		per++
	}

	return per
}

func startExponent(seed, order uint64) (uint64, error) {
	var v uint64

	if seed == 0 {
		var b [8]byte

		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("iterator: seeding: %w", err)
		}

		v = binary.BigEndian.Uint64(b[:])
	} else {
		v = splitmix64(seed)
	}

	return 1 + v%order, nil
}

// splitmix64 whitens a user seed into a start exponent.
func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb

	return x ^ (x >> 31)
}
