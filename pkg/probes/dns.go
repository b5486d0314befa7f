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
	"fmt"
	"io"
	"strings"

	"github.com/miekg/dns"

	"github.com/nettrawl/nettrawl/pkg/models"
)

// dnsProbe sends single-question queries over UDP. The transaction ID
// carries V[2]&0xFFFF; with several configured questions the probe stream
// index round-robins across them.
//
// Probe args: "QTYPE,qname[;QTYPE,qname...]" plus the optional
// "ip-in-qname" token, which patches the target address into the first
// four qname labels as three-digit decimal octets for resolvers that log
// only the name.
type dnsProbe struct {
	cfg *Config

	questions []dnsQuestion
	ipInQname bool
	maxLen    int
}

type dnsQuestion struct {
	name  string // FQDN, lower case
	qtype uint16
	wire  []byte // full DNS message with txid 0
}

// Offset of the qname within the DNS payload (after the 12-byte header)
// and the width of the patched address labels in ip-in-qname mode.
const (
	dnsHeaderLen    = 12
	ipQnamePatchLen = 16
)

func init() {
	Register(&dnsProbe{})
}

func (*dnsProbe) Name() string       { return "dns" }
func (*dnsProbe) PortArgs() bool     { return true }
func (*dnsProbe) PcapFilter() string { return "udp || icmp" }

func (m *dnsProbe) MaxPacketLength() int { return m.maxLen }

func (*dnsProbe) Fields() []models.FieldDef {
	fields := []models.FieldDef{
		{Name: "dns_id", Type: models.FieldTypeInt, Desc: "DNS transaction ID"},
		{Name: "dns_qr", Type: models.FieldTypeBool, Desc: "DNS response flag"},
		{Name: "dns_rcode", Type: models.FieldTypeInt, Desc: "DNS response code"},
		{Name: "dns_aa", Type: models.FieldTypeBool, Desc: "DNS authoritative answer"},
		{Name: "dns_tc", Type: models.FieldTypeBool, Desc: "DNS truncated"},
		{Name: "dns_rd", Type: models.FieldTypeBool, Desc: "DNS recursion desired"},
		{Name: "dns_ra", Type: models.FieldTypeBool, Desc: "DNS recursion available"},
		{Name: "dns_qdcount", Type: models.FieldTypeInt, Desc: "DNS question count"},
		{Name: "dns_ancount", Type: models.FieldTypeInt, Desc: "DNS answer count"},
		{Name: "dns_nscount", Type: models.FieldTypeInt, Desc: "DNS authority count"},
		{Name: "dns_arcount", Type: models.FieldTypeInt, Desc: "DNS additional count"},
		{Name: "dns_questions", Type: models.FieldTypeRepeated, Desc: "DNS question records"},
		{Name: "dns_answers", Type: models.FieldTypeRepeated, Desc: "DNS answer records"},
		{Name: "dns_authorities", Type: models.FieldTypeRepeated, Desc: "DNS authority records"},
		{Name: "dns_additionals", Type: models.FieldTypeRepeated, Desc: "DNS additional records"},
		{Name: "dns_parse_err", Type: models.FieldTypeBool, Desc: "DNS response failed to parse"},
		{Name: "udp_len", Type: models.FieldTypeInt, Desc: "UDP packet length"},
		{Name: "app_success", Type: models.FieldTypeBool, Desc: "DNS response is a NOERROR answer"},
	}
	fields = append(fields, ICMPFields...)

	return append(fields, ClassificationFields...)
}

func (m *dnsProbe) GlobalInit(cfg *Config) error {
	m.cfg = cfg
	m.questions = nil
	m.ipInQname = false

	args := cfg.Scan.ProbeArgs
	if args == "" {
		args = "A,www.example.com"
	}

	for _, part := range strings.Split(args, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if part == "ip-in-qname" {
			m.ipInQname = true
			continue
		}

		qtypeStr, qname, found := strings.Cut(part, ",")
		if !found {
			return fmt.Errorf("%w: dns question %q wants QTYPE,qname", ErrBadProbeArgs, part)
		}

		qtype, ok := dns.StringToType[strings.ToUpper(strings.TrimSpace(qtypeStr))]
		if !ok {
			return fmt.Errorf("%w: dns qtype %q", ErrBadProbeArgs, qtypeStr)
		}

		q, err := m.buildQuestion(qtype, strings.TrimSpace(qname))
		if err != nil {
			return err
		}

		m.questions = append(m.questions, q)
	}

	if len(m.questions) == 0 {
		return fmt.Errorf("%w: dns module needs at least one question", ErrBadProbeArgs)
	}

	m.maxLen = 0
	for _, q := range m.questions {
		if l := EthLen + IPv4Len + UDPLen + len(q.wire); l > m.maxLen {
			m.maxLen = l
		}
	}

	return nil
}

func (m *dnsProbe) buildQuestion(qtype uint16, qname string) (dnsQuestion, error) {
	fqdn := dns.Fqdn(strings.ToLower(qname))

	if m.ipInQname && len(fqdn) < ipQnamePatchLen {
		return dnsQuestion{}, fmt.Errorf("%w: qname %q too short for ip-in-qname", ErrBadProbeArgs, qname)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, qtype)
	msg.Id = 0
	msg.RecursionDesired = true

	wire, err := msg.Pack()
	if err != nil {
		return dnsQuestion{}, fmt.Errorf("%w: dns pack: %v", ErrBadProbeArgs, err)
	}

	return dnsQuestion{name: fqdn, qtype: qtype, wire: wire}, nil
}

func (*dnsProbe) ThreadInit() (interface{}, error) { return nil, nil }

func (m *dnsProbe) PreparePacket(buf []byte, _ interface{}) error {
	if len(buf) < m.maxLen {
		return ErrShortBuffer
	}

	scan := m.cfg.Scan

	PutEthernet(buf, scan.SrcMAC, scan.GwMAC, EtherTypeIPv4)
	PutIPv4(buf[EthLen:], 0, ProtoUDP, scan.ProbeTTL)

	return nil
}

func (m *dnsProbe) MakePacket(buf []byte, args *MakeArgs, _ interface{}) (int, error) {
	scan := m.cfg.Scan
	q := m.questions[args.ProbeNum%len(m.questions)]

	sport := SourcePort(scan.SourcePortFirst, scan.NumSourcePorts(), args.Validation, args.ProbeNum)
	totalLen := IPv4Len + UDPLen + len(q.wire)

	ip := buf[EthLen:]
	binary.BigEndian.PutUint16(ip[2:4], uint16(totalLen))
	ip[8] = args.TTL
	PatchIPv4(ip, args.IPID, args.Saddr, args.Daddr)

	udp := buf[EthLen+IPv4Len : EthLen+totalLen]
	binary.BigEndian.PutUint16(udp[0:2], sport)
	binary.BigEndian.PutUint16(udp[2:4], args.Dport)
	binary.BigEndian.PutUint16(udp[4:6], uint16(UDPLen+len(q.wire)))

	payload := udp[UDPLen:]
	copy(payload, q.wire)
	binary.BigEndian.PutUint16(payload[0:2], uint16(args.Validation[2]))

	if m.ipInQname {
		patchQname(payload[dnsHeaderLen:], args.Daddr)
	}

	binary.BigEndian.PutUint16(udp[6:8], 0)
	binary.BigEndian.PutUint16(udp[6:8], L4Checksum(args.Saddr, args.Daddr, ProtoUDP, udp))

	return EthLen + totalLen, nil
}

// patchQname overwrites the first sixteen qname bytes with the target
// address as four three-digit labels, the legacy layout resolver-side
// deployments expect: [3]'1''9''2'[3]'0''0''8'...
func patchQname(qname []byte, addr uint32) {
	off := 0

	for shift := 24; shift >= 0; shift -= 8 {
		octet := (addr >> shift) & 0xff

		qname[off] = 3
		qname[off+1] = '0' + byte(octet/100)
		qname[off+2] = '0' + byte(octet/10%10)
		qname[off+3] = '0' + byte(octet%10)
		off += 4
	}
}

func (m *dnsProbe) ValidatePacket(r *Received) ValidationResult {
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

		payload := udp.Payload()
		if len(payload) < dnsHeaderLen {
			return ValidationResult{}
		}

		if binary.BigEndian.Uint16(payload[0:2]) != uint16(validation[2]) {
			return ValidationResult{}
		}

		if !m.questionEchoed(payload) {
			return ValidationResult{}
		}

		return ValidationResult{Valid: true, SourceAddr: ip.Src()}
	case ProtoICMP:
		return m.validateICMP(ip)
	default:
		return ValidationResult{}
	}
}

// questionEchoed checks the response question section against the
// configured questions. With ip-in-qname the name varies per target, so
// only qtype and qclass are compared.
func (m *dnsProbe) questionEchoed(payload []byte) bool {
	var msg dns.Msg
	if err := msg.Unpack(payload); err != nil {
		// Unparseable but txid-matching responses still count; the parse
		// error surfaces in ProcessPacket.
		return true
	}

	if len(msg.Question) == 0 {
		return false
	}

	echoed := msg.Question[0]

	for _, q := range m.questions {
		if echoed.Qtype != q.qtype || echoed.Qclass != dns.ClassINET {
			continue
		}

		if m.ipInQname || strings.EqualFold(echoed.Name, q.name) {
			return true
		}
	}

	return false
}

func (m *dnsProbe) validateICMP(outer IPv4View) ValidationResult {
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

func (m *dnsProbe) ProcessPacket(r *Received, fs *models.Fieldset) {
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

	fs.AddString("classification", "dns")
	fs.AddBool("success", true)
	fs.AddUint64("udp_len", uint64(udp.Length()))

	var msg dns.Msg
	if err := msg.Unpack(udp.Payload()); err != nil {
		fs.AddBool("dns_parse_err", true)
		fs.AddBool("app_success", false)

		return
	}

	fs.AddBool("dns_parse_err", false)
	fs.AddUint64("dns_id", uint64(msg.Id))
	fs.AddBool("dns_qr", msg.Response)
	fs.AddUint64("dns_rcode", uint64(msg.Rcode))
	fs.AddBool("dns_aa", msg.Authoritative)
	fs.AddBool("dns_tc", msg.Truncated)
	fs.AddBool("dns_rd", msg.RecursionDesired)
	fs.AddBool("dns_ra", msg.RecursionAvailable)
	fs.AddUint64("dns_qdcount", uint64(len(msg.Question)))
	fs.AddUint64("dns_ancount", uint64(len(msg.Answer)))
	fs.AddUint64("dns_nscount", uint64(len(msg.Ns)))
	fs.AddUint64("dns_arcount", uint64(len(msg.Extra)))

	questions := make([]interface{}, 0, len(msg.Question))
	for _, q := range msg.Question {
		questions = append(questions, map[string]interface{}{
			"name":  strings.TrimSuffix(q.Name, "."),
			"qtype": dns.TypeToString[q.Qtype],
		})
	}

	fs.AddRepeated("dns_questions", questions)
	fs.AddRepeated("dns_answers", rrRecords(msg.Answer))
	fs.AddRepeated("dns_authorities", rrRecords(msg.Ns))
	fs.AddRepeated("dns_additionals", rrRecords(msg.Extra))

	fs.AddBool("app_success", msg.Rcode == dns.RcodeSuccess && len(msg.Answer) > 0)
}

func rrRecords(rrs []dns.RR) []interface{} {
	out := make([]interface{}, 0, len(rrs))

	for _, rr := range rrs {
		hdr := rr.Header()
		out = append(out, map[string]interface{}{
			"name":  strings.TrimSuffix(hdr.Name, "."),
			"type":  dns.TypeToString[hdr.Rrtype],
			"class": dns.ClassToString[hdr.Class],
			"ttl":   hdr.Ttl,
			"rdata": rdataString(rr),
		})
	}

	return out
}

func rdataString(rr dns.RR) string {
	switch r := rr.(type) {
	case *dns.A:
		return r.A.String()
	case *dns.AAAA:
		return r.AAAA.String()
	case *dns.CNAME:
		return strings.TrimSuffix(r.Target, ".")
	case *dns.NS:
		return strings.TrimSuffix(r.Ns, ".")
	case *dns.PTR:
		return strings.TrimSuffix(r.Ptr, ".")
	case *dns.TXT:
		return strings.Join(r.Txt, " ")
	case *dns.MX:
		return fmt.Sprintf("%d %s", r.Preference, strings.TrimSuffix(r.Mx, "."))
	default:
		return strings.TrimSpace(strings.TrimPrefix(rr.String(), rr.Header().String()))
	}
}

func (*dnsProbe) processICMP(outer IPv4View, fs *models.Fieldset) {
	icmp, err := ParseICMP(outer.Payload())
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	fs.AddString("classification", "icmp")
	fs.AddBool("success", false)
	fs.AddBool("app_success", false)
	fs.AddString("icmp_responder", IPString(outer.Src()))
	fs.AddUint64("icmp_type", uint64(icmp.Type()))
	fs.AddUint64("icmp_code", uint64(icmp.Code()))

	if icmp.Type() == ICMPDestUnreach {
		fs.AddString("icmp_unreach_str", ICMPUnreachString(icmp.Code()))
	}
}

func (m *dnsProbe) PrintPacket(w io.Writer, buf []byte) {
	udp := buf[EthLen+IPv4Len:]
	fmt.Fprintf(w, "dns { id: %d | source: %d | dest: %d | len: %d }\n",
		binary.BigEndian.Uint16(udp[UDPLen:UDPLen+2]),
		binary.BigEndian.Uint16(udp[0:2]),
		binary.BigEndian.Uint16(udp[2:4]),
		binary.BigEndian.Uint16(udp[4:6]))
	FprintIPv4(w, buf[EthLen:])
	FprintEth(w, buf)
	io.WriteString(w, PrintPacketSep)
}

func (*dnsProbe) Close() error { return nil }
