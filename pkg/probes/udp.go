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
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	mrand "math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/nettrawl/nettrawl/pkg/models"
)

// udpProbe sends a configurable datagram. Probe args select the payload:
// "text:GET /", "hex:deadbeef", "file:/path", or "template:..." where
// ${RAND:n} expands to n random bytes per packet.
type udpProbe struct {
	cfg     *Config
	payload []byte

	// template mode: payload segments with random gaps between them
	template     bool
	segments     [][]byte
	gapLens      []int
	payloadLen   int
}

var templateRand = regexp.MustCompile(`\$\{RAND:(\d+)\}`)

func init() {
	Register(&udpProbe{})
}

func (*udpProbe) Name() string       { return "udp" }
func (*udpProbe) PortArgs() bool     { return true }
func (*udpProbe) PcapFilter() string { return "udp || icmp" }

func (m *udpProbe) MaxPacketLength() int {
	return EthLen + IPv4Len + UDPLen + m.payloadLen
}

func (*udpProbe) Fields() []models.FieldDef {
	fields := []models.FieldDef{
		{Name: "sport", Type: models.FieldTypeInt, Desc: "UDP source port"},
		{Name: "dport", Type: models.FieldTypeInt, Desc: "UDP destination port"},
		{Name: "udp_pkt_size", Type: models.FieldTypeInt, Desc: "UDP packet length"},
		{Name: "data", Type: models.FieldTypeBinary, Desc: "UDP payload"},
	}
	fields = append(fields, ICMPFields...)

	return append(fields, ClassificationFields...)
}

func (m *udpProbe) GlobalInit(cfg *Config) error {
	m.cfg = cfg
	m.payload = nil
	m.template = false
	m.segments = nil
	m.gapLens = nil
	m.payloadLen = 0

	args := cfg.Scan.ProbeArgs
	if args == "" {
		m.payload = nil
		m.payloadLen = 0

		return nil
	}

	kind, rest, found := strings.Cut(args, ":")
	if !found {
		return fmt.Errorf("%w: udp args %q want text:|hex:|file:|template:", ErrBadProbeArgs, args)
	}

	switch kind {
	case "text":
		m.payload = []byte(rest)
	case "hex":
		b, err := hex.DecodeString(rest)
		if err != nil {
			return fmt.Errorf("%w: udp hex payload: %v", ErrBadProbeArgs, err)
		}

		m.payload = b
	case "file":
		b, err := os.ReadFile(rest)
		if err != nil {
			return fmt.Errorf("%w: udp payload file: %v", ErrBadProbeArgs, err)
		}

		m.payload = b
	case "template":
		if err := m.parseTemplate(rest); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: udp payload kind %q", ErrBadProbeArgs, kind)
	}

	if !m.template {
		m.payloadLen = len(m.payload)
	}

	if EthLen+IPv4Len+UDPLen+m.payloadLen > MaxPacketSize {
		return fmt.Errorf("%w: udp payload of %d bytes", ErrPacketTooLong, m.payloadLen)
	}

	return nil
}

func (m *udpProbe) parseTemplate(tpl string) error {
	m.template = true

	locs := templateRand.FindAllStringSubmatchIndex(tpl, -1)
	prev := 0

	for _, loc := range locs {
		m.segments = append(m.segments, []byte(tpl[prev:loc[0]]))

		n, err := strconv.Atoi(tpl[loc[2]:loc[3]])
		if err != nil || n < 0 {
			return fmt.Errorf("%w: udp template gap %q", ErrBadProbeArgs, tpl[loc[0]:loc[1]])
		}

		m.gapLens = append(m.gapLens, n)
		prev = loc[1]
	}

	m.segments = append(m.segments, []byte(tpl[prev:]))

	m.payloadLen = 0
	for _, seg := range m.segments {
		m.payloadLen += len(seg)
	}

	for _, n := range m.gapLens {
		m.payloadLen += n
	}

	return nil
}

// ThreadInit seeds a per-thread RNG for template gaps so sender threads
// never share RNG state.
func (m *udpProbe) ThreadInit() (interface{}, error) {
	if !m.template {
		return nil, nil
	}

	seed, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, err
	}

	return mrand.New(mrand.NewSource(seed.Int64())), nil
}

func (m *udpProbe) PreparePacket(buf []byte, _ interface{}) error {
	if len(buf) < m.MaxPacketLength() {
		return ErrShortBuffer
	}

	scan := m.cfg.Scan

	PutEthernet(buf, scan.SrcMAC, scan.GwMAC, EtherTypeIPv4)
	PutIPv4(buf[EthLen:], uint16(IPv4Len+UDPLen+m.payloadLen), ProtoUDP, scan.ProbeTTL)

	if !m.template {
		copy(buf[EthLen+IPv4Len+UDPLen:], m.payload)
	}

	return nil
}

func (m *udpProbe) MakePacket(buf []byte, args *MakeArgs, threadArg interface{}) (int, error) {
	scan := m.cfg.Scan

	sport := SourcePort(scan.SourcePortFirst, scan.NumSourcePorts(), args.Validation, args.ProbeNum)

	ip := buf[EthLen:]
	ip[8] = args.TTL
	PatchIPv4(ip, args.IPID, args.Saddr, args.Daddr)

	udp := buf[EthLen+IPv4Len : EthLen+IPv4Len+UDPLen+m.payloadLen]
	binary.BigEndian.PutUint16(udp[0:2], sport)
	binary.BigEndian.PutUint16(udp[2:4], args.Dport)
	binary.BigEndian.PutUint16(udp[4:6], uint16(UDPLen+m.payloadLen))

	if m.template {
		m.fillTemplate(udp[UDPLen:], threadArg)
	}

	binary.BigEndian.PutUint16(udp[6:8], 0)
	binary.BigEndian.PutUint16(udp[6:8], L4Checksum(args.Saddr, args.Daddr, ProtoUDP, udp))

	return EthLen + IPv4Len + UDPLen + m.payloadLen, nil
}

func (m *udpProbe) fillTemplate(dst []byte, threadArg interface{}) {
	rng, _ := threadArg.(*mrand.Rand)
	off := 0

	for i, seg := range m.segments {
		off += copy(dst[off:], seg)

		if i < len(m.gapLens) {
			gap := dst[off : off+m.gapLens[i]]
			if rng != nil {
				rng.Read(gap)
			}

			off += len(gap)
		}
	}
}

func (m *udpProbe) ValidatePacket(r *Received) ValidationResult {
	ip, err := ParseIPv4(r.IP)
	if err != nil {
		return ValidationResult{}
	}

	scan := m.cfg.Scan

	switch ip.Protocol() {
	case ProtoUDP:
		udp, err := ParseUDP(ip.Payload())
		if err != nil {
			return ValidationResult{}
		}

		validation := m.cfg.Validator.Gen(ip.Dst(), ip.Src(), udp.SrcPort())

		if !scan.ValidateSourcePortOverride &&
			!CheckSourcePort(udp.DstPort(), scan.SourcePortFirst, scan.SourcePortLast,
				scan.NumSourcePorts(), scan.PacketStreams, validation) {
			return ValidationResult{}
		}

		return ValidationResult{Valid: true, SourceAddr: ip.Src()}
	case ProtoICMP:
		return m.validateICMP(ip)
	default:
		return ValidationResult{}
	}
}

// validateICMP re-validates the probe quoted inside an ICMP error as if
// the inner packet were the original.
func (m *udpProbe) validateICMP(outer IPv4View) ValidationResult {
	icmp, err := ParseICMP(outer.Payload())
	if err != nil {
		return ValidationResult{}
	}

	switch icmp.Type() {
	case ICMPDestUnreach, ICMPSourceQuench, ICMPRedirect, ICMPTimeExceeded, ICMPParamProblem:
	default:
		return ValidationResult{}
	}

	inner, err := ParseIPv4(icmp.Body())
	if err != nil || inner.Protocol() != ProtoUDP {
		return ValidationResult{}
	}

	innerUDP, err := ParseUDP(inner.Payload())
	if err != nil {
		return ValidationResult{}
	}

	scan := m.cfg.Scan
	validation := m.cfg.Validator.Gen(inner.Src(), inner.Dst(), innerUDP.DstPort())

	if !scan.ValidateSourcePortOverride &&
		!CheckSourcePort(innerUDP.SrcPort(), scan.SourcePortFirst, scan.SourcePortLast,
			scan.NumSourcePorts(), scan.PacketStreams, validation) {
		return ValidationResult{}
	}

	return ValidationResult{Valid: true, SourceAddr: inner.Dst()}
}

func (m *udpProbe) ProcessPacket(r *Received, fs *models.Fieldset) {
	ip, err := ParseIPv4(r.IP)
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	if ip.Protocol() == ProtoICMP {
		m.processICMP(ip, fs)
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

func (*udpProbe) processICMP(outer IPv4View, fs *models.Fieldset) {
	icmp, err := ParseICMP(outer.Payload())
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	if icmp.Type() == ICMPTimeExceeded {
		fs.AddString("classification", "icmp-timxceed")
	} else {
		fs.AddString("classification", "icmp-unreach")
	}

	fs.AddBool("success", false)
	fs.AddString("icmp_responder", IPString(outer.Src()))
	fs.AddUint64("icmp_type", uint64(icmp.Type()))
	fs.AddUint64("icmp_code", uint64(icmp.Code()))

	if icmp.Type() == ICMPDestUnreach {
		fs.AddString("icmp_unreach_str", ICMPUnreachString(icmp.Code()))
	}
}

func (m *udpProbe) PrintPacket(w io.Writer, buf []byte) {
	udp := buf[EthLen+IPv4Len:]
	fmt.Fprintf(w, "udp { source: %d | dest: %d | len: %d | checksum: %#04x }\n",
		binary.BigEndian.Uint16(udp[0:2]),
		binary.BigEndian.Uint16(udp[2:4]),
		binary.BigEndian.Uint16(udp[4:6]),
		binary.BigEndian.Uint16(udp[6:8]))
	FprintIPv4(w, buf[EthLen:])
	FprintEth(w, buf)
	io.WriteString(w, PrintPacketSep)
}

func (*udpProbe) Close() error { return nil }
