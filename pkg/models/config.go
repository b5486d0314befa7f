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

// Package models defines the configuration, target, and result types shared
// by the scan engine packages.
package models

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/nettrawl/nettrawl/pkg/logger"
)

var (
	ErrNoTargetPorts     = errors.New("no target ports configured")
	ErrNoSourceIP        = errors.New("no source IP configured")
	ErrBadSourcePorts    = errors.New("source port range is invalid")
	ErrRateAndBandwidth  = errors.New("must specify rate or bandwidth, or neither, not both")
	ErrRateImpossible    = errors.New("rate impossibly slow")
	ErrBadMAC            = errors.New("invalid MAC address")
	ErrNoProbeModule     = errors.New("no probe module configured")
	ErrBadSourceAddress  = errors.New("source IP is not a valid IPv4 address")
	ErrBatchTooSmall     = errors.New("batch size must be at least 1")
	ErrNoSenders         = errors.New("sender count must be at least 1")
	ErrBadShardNumber    = errors.New("shard number must be in [0, total_shards)")
	ErrBadIPv6Source     = errors.New("ipv6 source IP is not a valid IPv6 address")
)

// Defaults filled in by Validate; DefaultRate is applied by the scanner
// when neither rate nor bandwidth is set.
const (
	DefaultRate          = 10000
	DefaultSenders       = 1
	DefaultBatchSize     = 64
	DefaultPacketStreams = 1
	DefaultProbeTTL      = 255
	DefaultSourcePortLo  = 32768
	DefaultSourcePortHi  = 61000
)

// ScanConfig carries every knob the engine consumes. It is loaded once by
// pkg/config, validated, and treated as immutable afterwards; the only
// runtime-tunable value (the send rate) is copied into an atomic by the
// orchestrator.
type ScanConfig struct {
	Rate          int    `json:"rate"`
	Bandwidth     uint64 `json:"bandwidth"`
	Senders       int    `json:"senders"`
	ShardNum      int    `json:"shard_num"`
	TotalShards   int    `json:"total_shards"`
	PacketStreams int    `json:"packet_streams"`

	MaxTargets uint64   `json:"max_targets"`
	MaxPackets uint64   `json:"max_packets"`
	MaxRuntime Duration `json:"max_runtime"`
	Cooldown   Duration `json:"cooldown"`
	Retries    int      `json:"retries"`
	BatchSize  int      `json:"batch_size"`

	// Seed fixes the permutation start so shards on different machines
	// agree; 0 means draw one at random.
	Seed uint64 `json:"seed"`

	ProbeModule string `json:"probe_module"`
	ProbeArgs   string `json:"probe_args"`
	ProbeTTL    uint8  `json:"probe_ttl"`

	SourceIPs       []string `json:"source_ips"`
	SourcePortFirst uint16   `json:"source_port_first"`
	SourcePortLast  uint16   `json:"source_port_last"`
	TargetPorts     []uint16 `json:"target_ports"`

	BlocklistFile string `json:"blocklist_file"`
	AllowlistFile string `json:"allowlist_file"`
	ListOfIPsFile string `json:"list_of_ips_file"`

	Interface  string `json:"interface"`
	GatewayMAC string `json:"gateway_mac"`
	SourceMAC  string `json:"source_mac"`

	IPv6SourceIP   string `json:"ipv6_source_ip"`
	IPv6TargetFile string `json:"ipv6_target_file"`

	Dryrun bool `json:"dryrun"`

	// ValidateSourcePortOverride disables the response source-port window
	// check for modules probing through port-rewriting middleboxes.
	ValidateSourcePortOverride bool `json:"validate_source_port_override"`

	OutputFile   string `json:"output_file"`
	OutputFormat string `json:"output_format"`
	MetricsAddr  string `json:"metrics_addr"`

	Logging *logger.Config `json:"logging,omitempty"`

	// Derived at Validate time.
	SourceAddrs []uint32          `json:"-"`
	SrcMAC      net.HardwareAddr  `json:"-"`
	GwMAC       net.HardwareAddr  `json:"-"`
	IPv6Source  netip.Addr        `json:"-"`
}

// Validate normalizes defaults, parses address material, and rejects
// incompatible settings. Oversubscription against the blocklist oracle is
// checked later by the orchestrator, once the oracle exists.
func (c *ScanConfig) Validate() error {
	if c.Senders == 0 {
		c.Senders = DefaultSenders
	}

	if c.Senders < 1 {
		return ErrNoSenders
	}

	if c.TotalShards == 0 {
		c.TotalShards = 1
	}

	if c.ShardNum < 0 || c.ShardNum >= c.TotalShards {
		return fmt.Errorf("%w: shard %d of %d", ErrBadShardNumber, c.ShardNum, c.TotalShards)
	}

	if c.PacketStreams == 0 {
		c.PacketStreams = DefaultPacketStreams
	}

	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}

	if c.BatchSize < 1 {
		return ErrBatchTooSmall
	}

	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}

	if c.ProbeTTL == 0 {
		c.ProbeTTL = DefaultProbeTTL
	}

	if c.ProbeModule == "" {
		return ErrNoProbeModule
	}

	if c.Rate > 0 && c.Bandwidth > 0 {
		return ErrRateAndBandwidth
	}

	if c.Rate < 0 {
		return ErrRateImpossible
	}

	if len(c.TargetPorts) == 0 {
		return ErrNoTargetPorts
	}

	if err := c.parseSourcePorts(); err != nil {
		return err
	}

	if err := c.parseSourceAddrs(); err != nil {
		return err
	}

	if err := c.parseMACs(); err != nil {
		return err
	}

	if c.IPv6TargetFile != "" {
		addr, err := netip.ParseAddr(c.IPv6SourceIP)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return fmt.Errorf("%w: %q", ErrBadIPv6Source, c.IPv6SourceIP)
		}

		c.IPv6Source = addr
	}

	return nil
}

func (c *ScanConfig) parseSourcePorts() error {
	if c.SourcePortFirst == 0 && c.SourcePortLast == 0 {
		c.SourcePortFirst = DefaultSourcePortLo
		c.SourcePortLast = DefaultSourcePortHi
	}

	if c.SourcePortFirst > c.SourcePortLast {
		return fmt.Errorf("%w: [%d, %d]", ErrBadSourcePorts, c.SourcePortFirst, c.SourcePortLast)
	}

	return nil
}

func (c *ScanConfig) parseSourceAddrs() error {
	if len(c.SourceIPs) == 0 {
		return ErrNoSourceIP
	}

	c.SourceAddrs = make([]uint32, 0, len(c.SourceIPs))

	for _, s := range c.SourceIPs {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("%w: %q", ErrBadSourceAddress, s)
		}

		b := addr.As4()
		c.SourceAddrs = append(c.SourceAddrs, binary.BigEndian.Uint32(b[:]))
	}

	return nil
}

func (c *ScanConfig) parseMACs() error {
	src, err := net.ParseMAC(c.SourceMAC)
	if err != nil {
		return fmt.Errorf("%w: source %q", ErrBadMAC, c.SourceMAC)
	}

	gw, err := net.ParseMAC(c.GatewayMAC)
	if err != nil {
		return fmt.Errorf("%w: gateway %q", ErrBadMAC, c.GatewayMAC)
	}

	c.SrcMAC = src
	c.GwMAC = gw

	return nil
}

// NumSourcePorts returns the size of the inclusive source-port window.
func (c *ScanConfig) NumSourcePorts() int {
	return int(c.SourcePortLast-c.SourcePortFirst) + 1
}

// SourceAddr selects the source address for probe stream probeNum to dst,
// rotating through the configured pool.
func (c *ScanConfig) SourceAddr(dst uint32, probeNum int) uint32 {
	if len(c.SourceAddrs) == 1 {
		return c.SourceAddrs[0]
	}

	idx := (uint64(dst) + uint64(probeNum)) % uint64(len(c.SourceAddrs))

	return c.SourceAddrs[idx]
}
