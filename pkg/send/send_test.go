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

package send

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettrawl/nettrawl/pkg/blocklist"
	"github.com/nettrawl/nettrawl/pkg/iterator"
	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/probes"
	"github.com/nettrawl/nettrawl/pkg/validate"
)

func testConfig(t *testing.T) *models.ScanConfig {
	t.Helper()

	cfg := &models.ScanConfig{
		Rate:        500,
		ProbeModule: "tcp_synscan",
		SourceIPs:   []string{"10.0.0.5"},
		TargetPorts: []uint16{80},
		SourceMAC:   "02:00:00:00:00:01",
		GatewayMAC:  "02:00:00:00:00:02",
		BatchSize:   4,
		Dryrun:      true,
	}
	require.NoError(t, cfg.Validate())

	return cfg
}

// Single-target dry-run: one probe dumped as text, correct sequence
// number, no transport involved.
func TestRun_SingleTargetDryrun(t *testing.T) {
	cfg := testConfig(t)

	v, err := validate.NewWithKey([16]byte{9})
	require.NoError(t, err)

	module, err := probes.Lookup("tcp_synscan")
	require.NoError(t, err)
	require.NoError(t, module.GlobalInit(&probes.Config{
		Scan: cfg, Validator: v, Log: logger.NewTestLogger(),
	}))

	oracle, err := blocklist.New([]string{"1.2.3.4/32"}, nil)
	require.NoError(t, err)

	it, err := iterator.New(iterator.Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: cfg.TargetPorts, Seed: 1,
	})
	require.NoError(t, err)

	state := &models.ScanState{StartTime: time.Now()}
	state.Rate.Store(int64(cfg.Rate))

	var out bytes.Buffer

	shard := it.Shards()[0]

	done := 0
	shard.SetDoneCallback(func(int) { done++ })

	var mu sync.Mutex

	err = Run(&Options{
		Config:    cfg,
		State:     state,
		Module:    module,
		Validator: v,
		Shard:     shard,
		Log:       logger.NewTestLogger(),
		InitMu:    &mu,
		Dryrun:    NewDryrunSink(&out),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, done, "completion callback fires once")
	assert.Equal(t, uint64(1), state.PacketsSent.Load())
	assert.Equal(t, uint64(1), state.TargetsScanned.Load())
	assert.Equal(t, uint64(0), state.PacketsFailed.Load())

	target := uint32(1<<24 | 2<<16 | 3<<8 | 4)
	want := v.Gen(uint32(10)<<24|5, target, 80)

	dump := out.String()
	assert.Contains(t, dump, "daddr: 1.2.3.4")
	assert.Contains(t, dump, fmt.Sprintf("seq: %d", want[0]), "dumped seq must be V[0]")
	assert.Contains(t, dump, probes.PrintPacketSep)
}

func TestRun_PacketStreams(t *testing.T) {
	cfg := testConfig(t)
	cfg.PacketStreams = 3

	v, err := validate.NewWithKey([16]byte{9})
	require.NoError(t, err)

	module, err := probes.Lookup("tcp_synscan")
	require.NoError(t, err)
	require.NoError(t, module.GlobalInit(&probes.Config{
		Scan: cfg, Validator: v, Log: logger.NewTestLogger(),
	}))

	oracle, err := blocklist.New([]string{"192.0.2.0/30"}, nil)
	require.NoError(t, err)

	it, err := iterator.New(iterator.Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: cfg.TargetPorts, Seed: 2,
	})
	require.NoError(t, err)

	state := &models.ScanState{StartTime: time.Now()}
	state.Rate.Store(int64(cfg.Rate))

	var (
		out bytes.Buffer
		mu  sync.Mutex
	)

	err = Run(&Options{
		Config: cfg, State: state, Module: module, Validator: v,
		Shard: it.Shards()[0], Log: logger.NewTestLogger(),
		InitMu: &mu, Dryrun: NewDryrunSink(&out),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(4), state.TargetsScanned.Load())
	assert.Equal(t, uint64(12), state.PacketsSent.Load(), "4 targets x 3 streams")
	assert.Equal(t, 12, bytes.Count(out.Bytes(), []byte(probes.PrintPacketSep)))
}

func TestRun_MaxTargets(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxTargets = 2

	v, err := validate.NewWithKey([16]byte{9})
	require.NoError(t, err)

	module, err := probes.Lookup("tcp_synscan")
	require.NoError(t, err)
	require.NoError(t, module.GlobalInit(&probes.Config{
		Scan: cfg, Validator: v, Log: logger.NewTestLogger(),
	}))

	oracle, err := blocklist.New([]string{"192.0.2.0/24"}, nil)
	require.NoError(t, err)

	it, err := iterator.New(iterator.Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: cfg.TargetPorts, Seed: 2,
		MaxTargets: cfg.MaxTargets,
	})
	require.NoError(t, err)

	state := &models.ScanState{StartTime: time.Now()}
	state.Rate.Store(int64(cfg.Rate))

	var (
		out bytes.Buffer
		mu  sync.Mutex
	)

	err = Run(&Options{
		Config: cfg, State: state, Module: module, Validator: v,
		Shard: it.Shards()[0], Log: logger.NewTestLogger(),
		InitMu: &mu, Dryrun: NewDryrunSink(&out),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(2), state.TargetsScanned.Load())
}

func TestRun_StopsOnRecvComplete(t *testing.T) {
	cfg := testConfig(t)

	v, err := validate.NewWithKey([16]byte{9})
	require.NoError(t, err)

	module, err := probes.Lookup("tcp_synscan")
	require.NoError(t, err)
	require.NoError(t, module.GlobalInit(&probes.Config{
		Scan: cfg, Validator: v, Log: logger.NewTestLogger(),
	}))

	oracle, err := blocklist.New([]string{"192.0.2.0/24"}, nil)
	require.NoError(t, err)

	it, err := iterator.New(iterator.Params{
		Senders: 1, ShardNum: 0, TotalShards: 1,
		Oracle: oracle, Ports: cfg.TargetPorts, Seed: 2,
	})
	require.NoError(t, err)

	state := &models.ScanState{StartTime: time.Now()}
	state.Rate.Store(int64(cfg.Rate))
	state.RecvComplete.Store(true)

	var (
		out bytes.Buffer
		mu  sync.Mutex
	)

	err = Run(&Options{
		Config: cfg, State: state, Module: module, Validator: v,
		Shard: it.Shards()[0], Log: logger.NewTestLogger(),
		InitMu: &mu, Dryrun: NewDryrunSink(&out),
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), state.PacketsSent.Load(), "stops before the first packet")
}
