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
	"net"
	"net/netip"
)

// Wire offsets and sizes shared by the IPv4 modules.
const (
	EthLen  = 14
	IPv4Len = 20
	TCPLen  = 20
	UDPLen  = 8
	ICMPLen = 8

	EtherTypeIPv4 = 0x0800
	EtherTypeIPv6 = 0x86DD

	ProtoICMP = 1
	ProtoTCP  = 6
	ProtoUDP  = 17
)

var (
	ErrShortIPv4Header     = errors.New("short IPv4 header")
	ErrNotIPv4             = errors.New("not IPv4")
	ErrBadIPv4HeaderLength = errors.New("bad IPv4 header length")
	ErrShortTCPHeader      = errors.New("short TCP header")
	ErrShortUDPHeader      = errors.New("short UDP header")
	ErrShortICMPHeader     = errors.New("short ICMP header")
	ErrShortBuffer         = errors.New("short packet buffer")
)

// PutEthernet writes the 14-byte Ethernet header.
func PutEthernet(buf []byte, src, dst net.HardwareAddr, etherType uint16) {
	copy(buf[0:6], dst)
	copy(buf[6:12], src)
	binary.BigEndian.PutUint16(buf[12:14], etherType)
}

// PutIPv4 writes a 20-byte IPv4 header with a zero checksum; callers patch
// per-target fields and then seal it with IPv4Checksum.
func PutIPv4(buf []byte, totalLen uint16, proto, ttl uint8) {
	buf[0] = 0x45 // version 4, ihl 5
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], totalLen)
	binary.BigEndian.PutUint16(buf[4:6], 0) // id patched per target
	binary.BigEndian.PutUint16(buf[6:8], 0)
	buf[8] = ttl
	buf[9] = proto
	binary.BigEndian.PutUint16(buf[10:12], 0)
}

// PatchIPv4 sets the per-target fields and recomputes the header checksum.
func PatchIPv4(buf []byte, ipID uint16, saddr, daddr uint32) {
	binary.BigEndian.PutUint16(buf[4:6], ipID)
	binary.BigEndian.PutUint32(buf[12:16], saddr)
	binary.BigEndian.PutUint32(buf[16:20], daddr)
	binary.BigEndian.PutUint16(buf[10:12], 0)
	binary.BigEndian.PutUint16(buf[10:12], Checksum(buf[:IPv4Len]))
}

// Checksum is the ones-complement sum over buf.
func Checksum(buf []byte) uint16 {
	var sum uint32

	for len(buf) >= 2 {
		sum += uint32(binary.BigEndian.Uint16(buf[:2]))
		buf = buf[2:]
	}

	if len(buf) == 1 {
		sum += uint32(buf[0]) << 8
	}

	for sum>>16 != 0 {
		sum = (sum >> 16) + (sum & 0xffff)
	}

	return ^uint16(sum)
}

// L4Checksum computes the TCP/UDP checksum over the IPv4 pseudo header
// plus the segment bytes.
func L4Checksum(saddr, daddr uint32, proto uint8, seg []byte) uint16 {
	var pseudo [12]byte

	binary.BigEndian.PutUint32(pseudo[0:4], saddr)
	binary.BigEndian.PutUint32(pseudo[4:8], daddr)
	pseudo[9] = proto
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(seg)))

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

// IPv4View is a typed view over an IPv4 header and its payload.
type IPv4View struct {
	b []byte
}

// ParseIPv4 validates lengths and returns a view. The slice must start at
// the IP header.
func ParseIPv4(b []byte) (IPv4View, error) {
	if len(b) < IPv4Len {
		return IPv4View{}, ErrShortIPv4Header
	}

	if b[0]>>4 != 4 {
		return IPv4View{}, ErrNotIPv4
	}

	ihl := int(b[0]&0x0f) * 4
	if ihl < IPv4Len || len(b) < ihl {
		return IPv4View{}, ErrBadIPv4HeaderLength
	}

	return IPv4View{b: b}, nil
}

func (v IPv4View) HeaderLen() int  { return int(v.b[0]&0x0f) * 4 }
func (v IPv4View) Protocol() uint8 { return v.b[9] }
func (v IPv4View) TTL() uint8      { return v.b[8] }
func (v IPv4View) ID() uint16      { return binary.BigEndian.Uint16(v.b[4:6]) }
func (v IPv4View) Src() uint32     { return binary.BigEndian.Uint32(v.b[12:16]) }
func (v IPv4View) Dst() uint32     { return binary.BigEndian.Uint32(v.b[16:20]) }
func (v IPv4View) Payload() []byte { return v.b[v.HeaderLen():] }
func (v IPv4View) Bytes() []byte   { return v.b }

// TCPView is a typed view over a TCP header.
type TCPView struct {
	b []byte
}

func ParseTCP(b []byte) (TCPView, error) {
	if len(b) < TCPLen {
		return TCPView{}, ErrShortTCPHeader
	}

	return TCPView{b: b}, nil
}

func (v TCPView) SrcPort() uint16 { return binary.BigEndian.Uint16(v.b[0:2]) }
func (v TCPView) DstPort() uint16 { return binary.BigEndian.Uint16(v.b[2:4]) }
func (v TCPView) Seq() uint32     { return binary.BigEndian.Uint32(v.b[4:8]) }
func (v TCPView) Ack() uint32     { return binary.BigEndian.Uint32(v.b[8:12]) }
func (v TCPView) Flags() uint8    { return v.b[13] }
func (v TCPView) Window() uint16  { return binary.BigEndian.Uint16(v.b[14:16]) }

const (
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagACK = 0x10
)

// UDPView is a typed view over a UDP header.
type UDPView struct {
	b []byte
}

func ParseUDP(b []byte) (UDPView, error) {
	if len(b) < UDPLen {
		return UDPView{}, ErrShortUDPHeader
	}

	return UDPView{b: b}, nil
}

func (v UDPView) SrcPort() uint16 { return binary.BigEndian.Uint16(v.b[0:2]) }
func (v UDPView) DstPort() uint16 { return binary.BigEndian.Uint16(v.b[2:4]) }
func (v UDPView) Length() uint16  { return binary.BigEndian.Uint16(v.b[4:6]) }
func (v UDPView) Payload() []byte {
	if int(v.Length()) <= len(v.b) && v.Length() >= UDPLen {
		return v.b[UDPLen:v.Length()]
	}

	return v.b[UDPLen:]
}

// ICMPView is a typed view over an ICMP header.
type ICMPView struct {
	b []byte
}

func ParseICMP(b []byte) (ICMPView, error) {
	if len(b) < ICMPLen {
		return ICMPView{}, ErrShortICMPHeader
	}

	return ICMPView{b: b}, nil
}

func (v ICMPView) Type() uint8  { return v.b[0] }
func (v ICMPView) Code() uint8  { return v.b[1] }
func (v ICMPView) ID() uint16   { return binary.BigEndian.Uint16(v.b[4:6]) }
func (v ICMPView) Seq() uint16  { return binary.BigEndian.Uint16(v.b[6:8]) }
func (v ICMPView) Body() []byte { return v.b[ICMPLen:] }

// ICMP type/code constants used by the shipped modules.
const (
	ICMPEchoReply      = 0
	ICMPDestUnreach    = 3
	ICMPSourceQuench   = 4
	ICMPRedirect       = 5
	ICMPEchoRequest    = 8
	ICMPTimeExceeded   = 11
	ICMPParamProblem   = 12
	ICMPPortUnreachCode = 3
)

// ICMPUnreachString maps destination-unreachable codes to the strings the
// output schema documents.
func ICMPUnreachString(code uint8) string {
	switch code {
	case 0:
		return "network-unreach"
	case 1:
		return "host-unreach"
	case 2:
		return "proto-unreach"
	case 3:
		return "port-unreach"
	case 4:
		return "fragments-required"
	case 5:
		return "source-route-failed"
	case 6:
		return "dest-network-unknown"
	case 7:
		return "dest-host-unknown"
	default:
		return fmt.Sprintf("unreach-code-%d", code)
	}
}

// IPString formats a host-order address.
func IPString(addr uint32) string {
	var b [4]byte

	binary.BigEndian.PutUint32(b[:], addr)

	return netip.AddrFrom4(b).String()
}

// FprintEth writes the dry-run line for the Ethernet header.
func FprintEth(w io.Writer, buf []byte) {
	fmt.Fprintf(w, "eth { shost: %s | dhost: %s }\n",
		net.HardwareAddr(buf[6:12]), net.HardwareAddr(buf[0:6]))
}

// FprintIPv4 writes the dry-run line for the IPv4 header.
func FprintIPv4(w io.Writer, buf []byte) {
	fmt.Fprintf(w, "ip { saddr: %s | daddr: %s | checksum: %#04x }\n",
		IPString(binary.BigEndian.Uint32(buf[12:16])),
		IPString(binary.BigEndian.Uint32(buf[16:20])),
		binary.BigEndian.Uint16(buf[10:12]))
}

// PrintPacketSep is the separator between dry-run packet dumps.
const PrintPacketSep = "------------------------------------------------------\n"
