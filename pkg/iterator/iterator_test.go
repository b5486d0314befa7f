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
	"fmt"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettrawl/nettrawl/pkg/blocklist"
	"github.com/nettrawl/nettrawl/pkg/models"
)

// oracleWithAddrs builds an oracle allowing exactly n addresses, the
// prefix of 10.0.0.0/8 with everything past the n-th address blocked.
func oracleWithAddrs(t *testing.T, n int) *blocklist.Set {
	t.Helper()

	require.LessOrEqual(t, n, 1<<24)

	base := uint32(10) << 24

	set, err := blocklist.New([]string{"10.0.0.0/8"}, blockRanges(base+uint32(n), base+(1<<24)-1))
	require.NoError(t, err)
	require.Equal(t, uint64(n), set.CountAllowed())

	return set
}

// blockRanges covers [lo, hi] with aligned CIDR blocks.
func blockRanges(lo, hi uint32) []string {
	var out []string

	for lo <= hi {
		size := uint32(1)
		bits := 32

		for size < 1<<31 {
			next := size << 1
			if lo&(next-1) != 0 || uint64(lo)+uint64(next)-1 > uint64(hi) {
				break
			}

			size = next
			bits--
		}

		out = append(out, fmt.Sprintf("%d.%d.%d.%d/%d", lo>>24, lo>>16&0xff, lo>>8&0xff, lo&0xff, bits))

		if lo+size < lo {
			break
		}

		lo += size
	}

	return out
}

func ports(n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(80 + i)
	}

	return out
}

// drain walks a shard to completion, returning every (addr, port) pair.
func drain(t *testing.T, s *Shard) []models.Target {
	t.Helper()

	var out []models.Target

	for target := s.CurrentTarget(); target.Status != models.ShardDone; target = s.NextTarget() {
		out = append(out, target)
		require.Less(t, len(out), 1<<26, "shard does not terminate")
	}

	return out
}

func TestIterator_Coverage(t *testing.T) {
	tests := []struct {
		addrs int
		ports int
	}{
		{1, 1},   // N=1
		{1, 2},   // N=2
		{7, 1},   // N=7
		{255, 1}, // N=255
		{256, 2},
		{4096, 16}, // N=65536
	}

	shardConfigs := []struct {
		senders int
		total   int
	}{
		{1, 1},
		{1, 2},
		{2, 1},
		{3, 2},
	}

	for _, tt := range tests {
		for _, sc := range shardConfigs {
			n := uint64(tt.addrs * tt.ports)
			if uint64(sc.senders*sc.total) > n {
				continue
			}

			name := fmt.Sprintf("n=%d_s=%d_t=%d", n, sc.senders, sc.total)
			t.Run(name, func(t *testing.T) {
				oracle := oracleWithAddrs(t, tt.addrs)
				seen := make(map[[2]uint32]int, n)

				// Walk every machine shard's local shards; the union over
				// all of them must be the whole space, each pair once.
				for shardNum := 0; shardNum < sc.total; shardNum++ {
					it, err := New(Params{
						Senders:     sc.senders,
						ShardNum:    shardNum,
						TotalShards: sc.total,
						Oracle:      oracle,
						Ports:       ports(tt.ports),
						Seed:        12345,
					})
					require.NoError(t, err)

					for _, shard := range it.Shards() {
						for _, target := range drain(t, shard) {
							seen[[2]uint32{target.Addr, uint32(target.Port)}]++
						}
					}
				}

				assert.Len(t, seen, int(n), "every target exactly once")

				for key, count := range seen {
					assert.Equal(t, 1, count, "target %v visited %d times", key, count)
				}
			})
		}
	}
}

func TestIterator_TwoShardsDisjointUnion(t *testing.T) {
	oracle := oracleWithAddrs(t, 1000)

	collect := func(shardNum int) map[uint32]bool {
		it, err := New(Params{
			Senders:     1,
			ShardNum:    shardNum,
			TotalShards: 2,
			Oracle:      oracle,
			Ports:       ports(1),
			Seed:        99,
		})
		require.NoError(t, err)

		out := make(map[uint32]bool)
		for _, target := range drain(t, it.Shards()[0]) {
			out[target.Addr] = true
		}

		return out
	}

	first := collect(0)
	second := collect(1)

	for addr := range first {
		assert.False(t, second[addr], "shards must be disjoint")
	}

	assert.Equal(t, 1000, len(first)+len(second), "union must cover the space")
}

func TestIterator_SeedReproducible(t *testing.T) {
	oracle := oracleWithAddrs(t, 64)

	walk := func() []models.Target {
		it, err := New(Params{
			Senders: 1, ShardNum: 0, TotalShards: 1,
			Oracle: oracle, Ports: ports(1), Seed: 7,
		})
		require.NoError(t, err)

		return drain(t, it.Shards()[0])
	}

	assert.Equal(t, walk(), walk())
}

func TestIterator_Oversubscribed(t *testing.T) {
	oracle := oracleWithAddrs(t, 8)

	_, err := New(Params{
		Senders:     4,
		ShardNum:    0,
		TotalShards: 4,
		Oracle:      oracle,
		Ports:       ports(1),
	})
	require.ErrorIs(t, err, ErrOversubscribed)
}

func TestIterator_NoPorts(t *testing.T) {
	oracle := oracleWithAddrs(t, 8)

	_, err := New(Params{Senders: 1, TotalShards: 1, Oracle: oracle})
	assert.ErrorIs(t, err, ErrNoPorts)
}

func TestIterator_ListOfIPsSkip(t *testing.T) {
	oracle := oracleWithAddrs(t, 16)

	list := blocklist.NewIPSet()
	list.Add(10<<24 + 3)
	list.Add(10<<24 + 9)

	it, err := New(Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: ports(1), Seed: 5,
		ListOfIPs: list,
	})
	require.NoError(t, err)

	targets := drain(t, it.Shards()[0])
	require.Len(t, targets, 2)

	for _, target := range targets {
		assert.True(t, list.Contains(target.Addr))
	}
}

func TestShard_Counters(t *testing.T) {
	oracle := oracleWithAddrs(t, 4)

	it, err := New(Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: ports(1), Seed: 1,
	})
	require.NoError(t, err)

	shard := it.Shards()[0]

	first := shard.CurrentTarget()
	shard.MarkSent(true)
	shard.MarkSent(false)
	shard.MarkScanned(first.Addr)

	state := shard.State()
	assert.Equal(t, uint64(2), state.PacketsSent)
	assert.Equal(t, uint64(1), state.PacketsFailed)
	assert.Equal(t, uint64(1), state.TargetsScanned)
	assert.Equal(t, first.Addr, state.FirstScanned)
	assert.Equal(t, first.Addr, state.LastScanned)
}

func TestShard_CompletionCallbackOnce(t *testing.T) {
	oracle := oracleWithAddrs(t, 2)

	it, err := New(Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: ports(1), Seed: 1,
	})
	require.NoError(t, err)

	shard := it.Shards()[0]

	calls := 0
	shard.SetDoneCallback(func(int) { calls++ })

	drain(t, shard)
	shard.Complete()
	shard.Complete()

	assert.Equal(t, 1, calls)
}

func TestDivideCap(t *testing.T) {
	assert.Equal(t, uint64(0), divideCap(0, 4, 0))
	assert.Equal(t, uint64(3), divideCap(10, 4, 0))
	assert.Equal(t, uint64(3), divideCap(10, 4, 1))
	assert.Equal(t, uint64(2), divideCap(10, 4, 2))
	assert.Equal(t, uint64(2), divideCap(10, 4, 3))
}

func TestIterator_LargeSpaceCoverage(t *testing.T) {
	if testing.Short() {
		t.Skip("large-space walk skipped in short mode")
	}

	oracle := oracleWithAddrs(t, 1<<20)

	it, err := New(Params{
		Senders: 4, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: ports(16), Seed: 3,
	})
	require.NoError(t, err)

	var total uint64

	seen := bitset.New(1 << 24)
	base := uint32(10) << 24

	for _, shard := range it.Shards() {
		for target := shard.CurrentTarget(); target.Status != models.ShardDone; target = shard.NextTarget() {
			key := uint(target.Addr-base)*16 + uint(target.Port-80)
			require.False(t, seen.Test(key), "duplicate target")
			seen.Set(key)
			total++
		}
	}

	assert.Equal(t, uint64(1)<<24, total)
}
