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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/nettrawl/nettrawl/pkg/models"
)

// ipv6UDP is the file-fed v6 variant of the UDP probe. Targets come from
// the ipv6 target file rather than the cyclic group, so this module only
// reads the v6 fields of MakeArgs.
type ipv6UDP struct {
	cfg     *Config
	payload []byte
}

func init() {
	Register(&ipv6UDP{})
}

func (*ipv6UDP) Name() string       { return "ipv6_udp" }
func (*ipv6UDP) PortArgs() bool     { return true }
func (*ipv6UDP) PcapFilter() string { return "ip6 && (udp || icmp6)" }

func (m *ipv6UDP) MaxPacketLength() int {
	return EthLen + IPv6Len + UDPLen + len(m.payload)
}

func (*ipv6UDP) Fields() []models.FieldDef {
	fields := []models.FieldDef{
		{Name: "sport", Type: models.FieldTypeInt, Desc: "UDP source port"},
		{Name: "dport", Type: models.FieldTypeInt, Desc: "UDP destination port"},
		{Name: "udp_pkt_size", Type: models.FieldTypeInt, Desc: "UDP packet length"},
		{Name: "data", Type: models.FieldTypeBinary, Desc: "UDP payload"},
		{Name: "icmp_responder", Type: models.FieldTypeString, Desc: "source IP of ICMPv6 error messages"},
		{Name: "icmp_type", Type: models.FieldTypeInt, Desc: "icmpv6 message type"},
		{Name: "icmp_code", Type: models.FieldTypeInt, Desc: "icmpv6 message sub type code"},
	}

	return append(fields, ClassificationFields...)
}

func (m *ipv6UDP) GlobalInit(cfg *Config) error {
	m.cfg = cfg
	m.payload = nil

	args := cfg.Scan.ProbeArgs
	if args == "" {
		return nil
	}

	kind, rest, found := strings.Cut(args, ":")
	if !found {
		return fmt.Errorf("%w: ipv6_udp args %q want text:|hex:", ErrBadProbeArgs, args)
	}

	switch kind {
	case "text":
		m.payload = []byte(rest)
	case "hex":
		b, err := hex.DecodeString(rest)
		if err != nil {
			return fmt.Errorf("%w: ipv6_udp hex payload: %v", ErrBadProbeArgs, err)
		}

		m.payload = b
	default:
		return fmt.Errorf("%w: ipv6_udp payload kind %q", ErrBadProbeArgs, kind)
	}

	if m.MaxPacketLength() > MaxPacketSize {
		return fmt.Errorf("%w: ipv6_udp payload of %d bytes", ErrPacketTooLong, len(m.payload))
	}

	return nil
}

func (*ipv6UDP) ThreadInit() (interface{}, error) { return nil, nil }

func (m *ipv6UDP) PreparePacket(buf []byte, _ interface{}) error {
	if len(buf) < m.MaxPacketLength() {
		return ErrShortBuffer
	}

	scan := m.cfg.Scan

	PutEthernet(buf, scan.SrcMAC, scan.GwMAC, EtherTypeIPv6)
	copy(buf[EthLen+IPv6Len+UDPLen:], m.payload)

	return nil
}

func (m *ipv6UDP) MakePacket(buf []byte, args *MakeArgs, _ interface{}) (int, error) {
	scan := m.cfg.Scan

	sport := SourcePort(scan.SourcePortFirst, scan.NumSourcePorts(), args.Validation, args.ProbeNum)
	udpLen := UDPLen + len(m.payload)

	PutIPv6(buf[EthLen:], uint16(udpLen), ProtoUDP, args.TTL, args.Saddr6, args.Daddr6)

	udp := buf[EthLen+IPv6Len : EthLen+IPv6Len+udpLen]
	binary.BigEndian.PutUint16(udp[0:2], sport)
	binary.BigEndian.PutUint16(udp[2:4], args.Dport)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	binary.BigEndian.PutUint16(udp[6:8], 0)
	binary.BigEndian.PutUint16(udp[6:8], L4Checksum6(args.Saddr6, args.Daddr6, ProtoUDP, udp))

	return EthLen + IPv6Len + udpLen, nil
}

func (m *ipv6UDP) ValidatePacket(r *Received) ValidationResult {
	ip, err := ParseIPv6(r.IP)
	if err != nil {
		return ValidationResult{}
	}

	scan := m.cfg.Scan

	switch ip.NextHeader() {
	case ProtoUDP:
		udp, err := ParseUDP(ip.Payload())
		if err != nil {
			return ValidationResult{}
		}

		validation := m.cfg.Validator.GenIPv6(ip.Dst(), ip.Src(), udp.SrcPort())

		if !scan.ValidateSourcePortOverride &&
			!CheckSourcePort(udp.DstPort(), scan.SourcePortFirst, scan.SourcePortLast,
				scan.NumSourcePorts(), scan.PacketStreams, validation) {
			return ValidationResult{}
		}

		return ValidationResult{Valid: true, IsIPv6: true, SourceAddr6: ip.Src()}
	case ProtoICMPv6:
		return m.validateICMPv6(ip)
	default:
		return ValidationResult{}
	}
}

func (m *ipv6UDP) validateICMPv6(outer IPv6View) ValidationResult {
	icmp, err := ParseICMP(outer.Payload())
	if err != nil {
		return ValidationResult{}
	}

	switch icmp.Type() {
	case ICMPv6DestUnreach, ICMPv6PacketTooBig, ICMPv6TimeExceeded:
	default:
		return ValidationResult{}
	}

	// ICMPv6 errors quote the original packet after a 4-byte body prefix;
	// ParseICMP's 8-byte header already covers it.
	inner, err := ParseIPv6(icmp.Body())
	if err != nil || inner.NextHeader() != ProtoUDP {
		return ValidationResult{}
	}

	innerUDP, err := ParseUDP(inner.Payload())
	if err != nil {
		return ValidationResult{}
	}

	scan := m.cfg.Scan
	validation := m.cfg.Validator.GenIPv6(inner.Src(), inner.Dst(), innerUDP.DstPort())

	if !scan.ValidateSourcePortOverride &&
		!CheckSourcePort(innerUDP.SrcPort(), scan.SourcePortFirst, scan.SourcePortLast,
			scan.NumSourcePorts(), scan.PacketStreams, validation) {
		return ValidationResult{}
	}

	return ValidationResult{Valid: true, IsIPv6: true, SourceAddr6: inner.Dst()}
}

func (m *ipv6UDP) ProcessPacket(r *Received, fs *models.Fieldset) {
	ip, err := ParseIPv6(r.IP)
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	if ip.NextHeader() == ProtoICMPv6 {
		icmp, err := ParseICMP(ip.Payload())
		if err != nil {
			fs.AddBool("parse_err", true)
			return
		}

		fs.AddString("classification", "icmp6")
		fs.AddBool("success", false)
		fs.AddString("icmp_responder", ip.Src().String())
		fs.AddUint64("icmp_type", uint64(icmp.Type()))
		fs.AddUint64("icmp_code", uint64(icmp.Code()))

		return
	}

	udp, err := ParseUDP(ip.Payload())
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	fs.AddString("classification", "udp")
	fs.AddBool("success", true)
	fs.AddUint64("sport", uint64(udp.SrcPort()))
	fs.AddUint64("dport", uint64(udp.DstPort()))
	fs.AddUint64("udp_pkt_size", uint64(udp.Length()))
	fs.AddBinary("data", bytes.Clone(udp.Payload()))
}

func (m *ipv6UDP) PrintPacket(w io.Writer, buf []byte) {
	udp := buf[EthLen+IPv6Len:]
	fmt.Fprintf(w, "udp { source: %d | dest: %d | len: %d | checksum: %#04x }\n",
		binary.BigEndian.Uint16(udp[0:2]),
		binary.BigEndian.Uint16(udp[2:4]),
		binary.BigEndian.Uint16(udp[4:6]),
		binary.BigEndian.Uint16(udp[6:8]))
	FprintIPv6(w, buf[EthLen:])
	FprintEth(w, buf)
	io.WriteString(w, PrintPacketSep)
}

func (*ipv6UDP) Close() error { return nil }
