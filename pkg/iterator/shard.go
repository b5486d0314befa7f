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

package iterator

import (
	"github.com/nettrawl/nettrawl/pkg/blocklist"
	"github.com/nettrawl/nettrawl/pkg/cyclic"
	"github.com/nettrawl/nettrawl/pkg/models"
)

// ShardState carries a shard's counters. The shard is owned by exactly one
// sender thread, so plain integers suffice; cross-thread visibility goes
// through the global atomic counters instead.
type ShardState struct {
	TargetsScanned uint64
	PacketsSent    uint64
	PacketsFailed  uint64
	FirstScanned   uint32
	LastScanned    uint32
	MaxTargets     uint64
	MaxPackets     uint64
}

// Shard walks a disjoint subsequence of the permutation: starting at
// g^(e0+subIdx) it advances by multiplying with g^stride, so consecutive
// calls never revisit an index and no two shards share one.
type Shard struct {
	threadID  int
	group     *cyclic.Group
	current   uint64
	mul       uint64
	stepsLeft uint64

	numPorts  uint64
	ports     []uint16
	oracle    blocklist.Oracle
	listOfIPs *blocklist.IPSet

	state ShardState

	cb       func(threadID int)
	finished bool
}

// ThreadID identifies the owning sender thread.
func (s *Shard) ThreadID() int { return s.threadID }

// State returns a pointer to the shard counters for the owner to update.
func (s *Shard) State() *ShardState { return &s.state }

// SetDoneCallback registers the completion callback the owner invokes when
// the shard is drained.
func (s *Shard) SetDoneCallback(cb func(threadID int)) { s.cb = cb }

// CurrentTarget peeks the target at the current position, skipping holes
// and list-of-IPs misses. Status is ShardDone once the period is consumed.
func (s *Shard) CurrentTarget() models.Target {
	if !s.normalize() {
		return models.Target{Status: models.ShardDone}
	}

	return s.decode()
}

// NextTarget advances one iterator step and returns the next target.
func (s *Shard) NextTarget() models.Target {
	s.advance()

	return s.CurrentTarget()
}

// MarkSent records a packet submission attempt.
func (s *Shard) MarkSent(ok bool) {
	s.state.PacketsSent++

	if !ok {
		s.state.PacketsFailed++
	}
}

// MarkScanned records that every probe stream for the current target was
// submitted.
func (s *Shard) MarkScanned(addr uint32) {
	if s.state.TargetsScanned == 0 {
		s.state.FirstScanned = addr
	}

	s.state.LastScanned = addr
	s.state.TargetsScanned++
}

// Complete invokes the completion callback exactly once.
func (s *Shard) Complete() {
	if s.finished {
		return
	}

	s.finished = true

	if s.cb != nil {
		s.cb(s.threadID)
	}
}

func (s *Shard) advance() {
	if s.stepsLeft == 0 {
		return
	}

	s.stepsLeft--

	if s.stepsLeft > 0 {
		s.current = s.group.MulMod(s.current, s.mul)
	}
}

// normalize moves the position forward past group elements that are not
// scan targets: values above N (holes in the group's covering of the
// space) and addresses outside the list-of-IPs set. Skips consume iterator
// steps but are never visible to the caller.
func (s *Shard) normalize() bool {
	for s.stepsLeft > 0 {
		if s.current >= 1 && s.current <= s.group.N {
			if s.listOfIPs == nil {
				return true
			}

			addr, err := s.oracle.Rank((s.current - 1) / s.numPorts)
			if err == nil && s.listOfIPs.Contains(addr) {
				return true
			}
		}

		s.advance()
	}

	return false
}

func (s *Shard) decode() models.Target {
	addr, err := s.oracle.Rank((s.current - 1) / s.numPorts)
	if err != nil {
		// normalize guarantees current <= N, so ordinals are in range.
		return models.Target{Status: models.ShardDone}
	}

	return models.Target{
		Addr:   addr,
		Port:   s.ports[(s.current-1)%s.numPorts],
		Status: models.ShardReady,
	}
}
