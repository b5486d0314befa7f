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

package models

import (
	"encoding/json"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ScanConfig {
	return &ScanConfig{
		Rate:        1000,
		ProbeModule: "tcp_synscan",
		SourceIPs:   []string{"10.0.0.5"},
		TargetPorts: []uint16{80},
		SourceMAC:   "02:00:00:00:00:01",
		GatewayMAC:  "02:00:00:00:00:02",
	}
}

func TestScanConfig_ValidateDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultSenders, cfg.Senders)
	assert.Equal(t, 1, cfg.TotalShards)
	assert.Equal(t, DefaultPacketStreams, cfg.PacketStreams)
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, uint8(DefaultProbeTTL), cfg.ProbeTTL)
	assert.Equal(t, uint16(DefaultSourcePortLo), cfg.SourcePortFirst)
	assert.Equal(t, uint16(DefaultSourcePortHi), cfg.SourcePortLast)
	assert.Equal(t, DefaultCooldown, cfg.Cooldown)
	assert.Equal(t, []uint32{10<<24 | 5}, cfg.SourceAddrs)
}

func TestScanConfig_ValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ScanConfig)
		wantErr error
	}{
		{"rate and bandwidth", func(c *ScanConfig) { c.Bandwidth = 1000 }, ErrRateAndBandwidth},
		{"negative rate", func(c *ScanConfig) { c.Rate = -2 }, ErrRateImpossible},
		{"no ports", func(c *ScanConfig) { c.TargetPorts = nil }, ErrNoTargetPorts},
		{"no source ip", func(c *ScanConfig) { c.SourceIPs = nil }, ErrNoSourceIP},
		{"bad source ip", func(c *ScanConfig) { c.SourceIPs = []string{"2001:db8::1"} }, ErrBadSourceAddress},
		{"bad mac", func(c *ScanConfig) { c.SourceMAC = "xx" }, ErrBadMAC},
		{"inverted source ports", func(c *ScanConfig) { c.SourcePortFirst = 5000; c.SourcePortLast = 4000 }, ErrBadSourcePorts},
		{"no probe module", func(c *ScanConfig) { c.ProbeModule = "" }, ErrNoProbeModule},
		{"bad shard number", func(c *ScanConfig) { c.ShardNum = 2; c.TotalShards = 2 }, ErrBadShardNumber},
		{"v6 file without v6 source", func(c *ScanConfig) { c.IPv6TargetFile = "targets.txt" }, ErrBadIPv6Source},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestScanConfig_SourceAddr(t *testing.T) {
	cfg := validConfig()
	cfg.SourceIPs = []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}
	require.NoError(t, cfg.Validate())

	dst := uint32(999)

	// Rotation covers the pool as the probe number advances.
	got := map[uint32]bool{}
	for i := 0; i < 3; i++ {
		got[cfg.SourceAddr(dst, i)] = true
	}

	assert.Len(t, got, 3)

	// A single source always wins.
	cfg2 := validConfig()
	require.NoError(t, cfg2.Validate())
	assert.Equal(t, uint32(10<<24|5), cfg2.SourceAddr(dst, 7))
}

// SIGUSR1 three times from 10000 pps: each step adds floor(rate/20).
func TestNudgeRate(t *testing.T) {
	state := &ScanState{}
	state.Rate.Store(10000)

	for i := 0; i < 3; i++ {
		state.NudgeRate(true)
	}

	assert.Equal(t, int64(11576), state.Rate.Load())

	state.NudgeRate(false)
	assert.Equal(t, int64(11576-578), state.Rate.Load())
}

func TestNudgeRate_FloorsAtOne(t *testing.T) {
	state := &ScanState{}
	state.Rate.Store(1)

	for i := 0; i < 10; i++ {
		state.NudgeRate(false)
	}

	assert.Equal(t, int64(1), state.Rate.Load())
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{"string duration", `"5s"`, Duration(5 * time.Second), false},
		{"numeric nanoseconds", `5000000000`, Duration(5 * time.Second), false},
		{"garbage", `"not-a-duration"`, 0, true},
		{"wrong type", `[1]`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_MarshalRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	var back Duration

	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, d, back)
}

func TestFieldset(t *testing.T) {
	fs := NewFieldset()
	fs.AddString("a", "x")
	fs.AddUint64("b", 2)
	fs.AddBool("c", true)
	fs.AddNil("d")

	assert.Equal(t, 4, fs.Len())
	assert.Equal(t, "x", fs.Get("a"))
	assert.Equal(t, uint64(2), fs.Get("b"))
	assert.Nil(t, fs.Get("d"))
	assert.Nil(t, fs.Get("nope"))

	names := make([]string, 0, 4)
	for _, f := range fs.Fields() {
		names = append(names, f.Name)
	}

	assert.Equal(t, []string{"a", "b", "c", "d"}, names)
}

func TestAddrConversions(t *testing.T) {
	ip := netip.MustParseAddr("192.0.2.33")

	addr := IPToAddr(ip)
	assert.Equal(t, uint32(192)<<24|2<<8|33, addr)
	assert.Equal(t, ip, AddrToIP(addr))
}
