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
	"encoding/binary"
	"net/netip"
)

// ShardStatus reports whether a shard can still yield targets.
type ShardStatus uint8

const (
	ShardReady ShardStatus = iota
	ShardDone
)

// Target is one (address, port) pair drawn from a shard. Addr is an IPv4
// address in host byte order; packet builders convert at serialization.
type Target struct {
	Addr   uint32
	Port   uint16
	Status ShardStatus
}

// AddrToIP converts a host-order IPv4 address to netip.Addr.
func AddrToIP(addr uint32) netip.Addr {
	var b [4]byte

	binary.BigEndian.PutUint32(b[:], addr)

	return netip.AddrFrom4(b)
}

// IPToAddr converts an IPv4 netip.Addr to a host-order uint32.
func IPToAddr(ip netip.Addr) uint32 {
	b := ip.As4()

	return binary.BigEndian.Uint32(b[:])
}
