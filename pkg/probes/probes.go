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

// Package probes defines the contract every probe protocol implements and
// the registry the engine resolves modules from. A module builds outgoing
// packets with validation words folded into protocol fields, decides
// whether a captured packet answers a probe this process sent, and
// extracts output fields from it.
package probes

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/validate"
)

// MaxPacketSize bounds every probe packet, link-layer header included.
const MaxPacketSize = 4096

var (
	ErrUnknownModule   = errors.New("unknown probe module")
	ErrDuplicateModule = errors.New("probe module already registered")
	ErrPacketTooLong   = errors.New("probe packet exceeds maximum size")
	ErrBadProbeArgs    = errors.New("invalid probe module arguments")
)

// Config is handed to GlobalInit before any thread starts; modules treat
// it and anything derived from it as immutable afterwards.
type Config struct {
	Scan      *models.ScanConfig
	Validator *validate.Validator
	Log       logger.Logger
}

// MakeArgs carries the per-target inputs of MakePacket. IPv4 modules read
// Saddr/Daddr; IPv6 modules read the v6 pair when IsIPv6 is set.
type MakeArgs struct {
	Saddr      uint32
	Daddr      uint32
	Dport      uint16
	TTL        uint8
	Validation [validate.Words]uint32
	ProbeNum   int
	IPID       uint16

	IsIPv6 bool
	Saddr6 netip.Addr
	Daddr6 netip.Addr
}

// Received describes a captured packet handed to ValidatePacket and
// ProcessPacket. Payload starts at the IP header; the link layer has
// already been stripped by the receiver.
type Received struct {
	IP []byte
	TS time.Time
}

// ValidationResult reports a module's verdict on a captured packet.
type ValidationResult struct {
	Valid bool
	// SourceAddr is the target the response belongs to: the responder for
	// direct replies, the original destination for ICMP error envelopes.
	SourceAddr uint32
	// IPv6 responses carry the target here instead.
	IsIPv6      bool
	SourceAddr6 netip.Addr
	// IsRepeatProtocol marks packets that pass validation but should not
	// count against the seen set (never set by the shipped modules).
	IsRepeatProtocol bool
}

// Module is the capability set of a probe protocol.
type Module interface {
	Name() string
	MaxPacketLength() int
	PcapFilter() string
	// PortArgs reports whether the destination port is per-target (false
	// for protocols like ICMP echo that ignore ports).
	PortArgs() bool
	Fields() []models.FieldDef

	// GlobalInit parses probe args and builds shared immutable state.
	GlobalInit(cfg *Config) error
	// ThreadInit allocates per-sender-thread state (e.g. a payload RNG).
	ThreadInit() (interface{}, error)
	// PreparePacket writes the invariant packet prefix into buf.
	PreparePacket(buf []byte, threadArg interface{}) error
	// MakePacket patches per-target fields and returns the packet length.
	MakePacket(buf []byte, args *MakeArgs, threadArg interface{}) (int, error)
	// ValidatePacket decides whether the captured packet answers one of
	// our probes, recomputing validation material locally.
	ValidatePacket(r *Received) ValidationResult
	// ProcessPacket extracts output fields from a validated packet.
	ProcessPacket(r *Received, fs *models.Fieldset)
	// PrintPacket writes a textual dump of an outgoing packet (dry-run).
	PrintPacket(w io.Writer, buf []byte)
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Module)
)

// Register adds a module to the registry; called from module package init.
func Register(m Module) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[m.Name()]; ok {
		panic(fmt.Sprintf("%v: %s", ErrDuplicateModule, m.Name()))
	}

	registry[m.Name()] = m
}

// Lookup resolves a module by name.
func Lookup(name string) (Module, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	m, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}

	return m, nil
}

// Names lists registered modules in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// SourcePort picks the source port for a probe stream: the PRF word V[1]
// offsets into the configured window, and the probe number walks it.
func SourcePort(first uint16, numPorts int, validation [validate.Words]uint32, probeNum int) uint16 {
	off := (uint64(validation[1]) + uint64(probeNum)) % uint64(numPorts)

	return first + uint16(off)
}

// CheckSourcePort verifies that a response's destination port (our source
// port) falls inside the window a probe to that target could have used,
// for any probe stream index.
func CheckSourcePort(port, first, last uint16, numPorts, streams int, validation [validate.Words]uint32) bool {
	if port < first || port > last {
		return false
	}

	toValidate := int64(port - first)
	min := int64(validation[1]) % int64(numPorts)
	max := (int64(validation[1]) + int64(streams) - 1) % int64(numPorts)

	return mod(max-min, int64(numPorts)) >= mod(toValidate-min, int64(numPorts))
}

func mod(a, m int64) int64 {
	return ((a % m) + m) % m
}

// ClassificationFields is shared by every module's schema.
var ClassificationFields = []models.FieldDef{
	{Name: "classification", Type: models.FieldTypeString, Desc: "packet classification"},
	{Name: "success", Type: models.FieldTypeBool, Desc: "is response considered success"},
}

// ICMPFields describe ICMP error envelopes reported by UDP-style modules.
var ICMPFields = []models.FieldDef{
	{Name: "icmp_responder", Type: models.FieldTypeString, Desc: "source IP of ICMP_UNREACH messages"},
	{Name: "icmp_type", Type: models.FieldTypeInt, Desc: "icmp message type"},
	{Name: "icmp_code", Type: models.FieldTypeInt, Desc: "icmp message sub type code"},
	{Name: "icmp_unreach_str", Type: models.FieldTypeString, Desc: "string version of icmp_code (e.g. network-unreach)"},
}

// IPFields are prepended by the receiver for every record.
var IPFields = []models.FieldDef{
	{Name: "saddr", Type: models.FieldTypeString, Desc: "source IP address of response"},
	{Name: "saddr_raw", Type: models.FieldTypeInt, Desc: "network order integer form of source IP address"},
	{Name: "daddr", Type: models.FieldTypeString, Desc: "destination IP address of response"},
	{Name: "daddr_raw", Type: models.FieldTypeInt, Desc: "network order integer form of destination IP address"},
	{Name: "ipid", Type: models.FieldTypeInt, Desc: "IP identification number of response"},
	{Name: "ttl", Type: models.FieldTypeInt, Desc: "time-to-live of response packet"},
}

// SysFields are appended by the receiver for every record.
var SysFields = []models.FieldDef{
	{Name: "repeat", Type: models.FieldTypeBool, Desc: "is response a repeat response from host"},
	{Name: "cooldown", Type: models.FieldTypeBool, Desc: "was response received during the cooldown period"},
	{Name: "timestamp_str", Type: models.FieldTypeString, Desc: "timestamp of when response arrived in ISO8601 format"},
	{Name: "timestamp_ts", Type: models.FieldTypeInt, Desc: "timestamp of when response arrived in seconds since Epoch"},
	{Name: "timestamp_us", Type: models.FieldTypeInt, Desc: "microsecond part of timestamp"},
}
