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

package probes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
)

const (
	IPv6Len = 40

	ProtoICMPv6 = 58

	ICMPv6DestUnreach  = 1
	ICMPv6PacketTooBig = 2
	ICMPv6TimeExceeded = 3
	ICMPv6EchoReply    = 129
)

var (
	ErrShortIPv6Header = errors.New("short IPv6 header")
	ErrNotIPv6         = errors.New("not IPv6")
)

// PutIPv6 writes a 40-byte IPv6 header.
func PutIPv6(buf []byte, payloadLen uint16, nextHeader, hopLimit uint8, src, dst netip.Addr) {
	buf[0] = 0x60
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], 0)
	binary.BigEndian.PutUint16(buf[4:6], payloadLen)
	buf[6] = nextHeader
	buf[7] = hopLimit

	s := src.As16()
	d := dst.As16()
	copy(buf[8:24], s[:])
	copy(buf[24:40], d[:])
}

// IPv6View is a typed view over an IPv6 header and its payload.
type IPv6View struct {
	b []byte
}

func ParseIPv6(b []byte) (IPv6View, error) {
	if len(b) < IPv6Len {
		return IPv6View{}, ErrShortIPv6Header
	}

	if b[0]>>4 != 6 {
		return IPv6View{}, ErrNotIPv6
	}

	return IPv6View{b: b}, nil
}

func (v IPv6View) NextHeader() uint8 { return v.b[6] }
func (v IPv6View) HopLimit() uint8   { return v.b[7] }
func (v IPv6View) Payload() []byte   { return v.b[IPv6Len:] }

func (v IPv6View) Src() netip.Addr {
	var a [16]byte

	copy(a[:], v.b[8:24])

	return netip.AddrFrom16(a)
}

func (v IPv6View) Dst() netip.Addr {
	var a [16]byte

	copy(a[:], v.b[24:40])

	return netip.AddrFrom16(a)
}

// L4Checksum6 computes the upper-layer checksum over the IPv6 pseudo
// header plus the segment bytes.
func L4Checksum6(src, dst netip.Addr, nextHeader uint8, seg []byte) uint16 {
	var pseudo [40]byte

	s := src.As16()
	d := dst.As16()
	copy(pseudo[0:16], s[:])
	copy(pseudo[16:32], d[:])
	binary.BigEndian.PutUint32(pseudo[32:36], uint32(len(seg)))
	pseudo[39] = nextHeader

	var sum uint32

	for _, b := range [][]byte{pseudo[:], seg} {
		for len(b) >= 2 {
			sum += uint32(binary.BigEndian.Uint16(b[:2]))
			b = b[2:]
		}

		if len(b) == 1 {
			sum += uint32(b[0]) << 8
		}
	}

	for sum>>16 != 0 {
		sum = (sum >> 16) + (sum & 0xffff)
	}

	return ^uint16(sum)
}

// FprintIPv6 writes the dry-run line for the IPv6 header.
func FprintIPv6(w io.Writer, buf []byte) {
	v, err := ParseIPv6(buf)
	if err != nil {
		fmt.Fprintf(w, "ip6 { malformed }\n")
		return
	}

	fmt.Fprintf(w, "ip6 { saddr: %s | daddr: %s | plen: %d }\n",
		v.Src(), v.Dst(), binary.BigEndian.Uint16(buf[4:6]))
}
