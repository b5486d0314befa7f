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

	"github.com/nettrawl/nettrawl/pkg/models"
)

const icmpPayloadLen = 8 // V[2] and V[3] echoed back by the target

// icmpEcho probes with an echo request. The identifier carries
// V[0]&0xFFFF, the sequence V[1]&0xFFFF, and the payload the remaining
// two validation words, all of which the reply echoes.
type icmpEcho struct {
	cfg *Config
}

func init() {
	Register(&icmpEcho{})
}

func (*icmpEcho) Name() string         { return "icmp_echo" }
func (*icmpEcho) MaxPacketLength() int { return EthLen + IPv4Len + ICMPLen + icmpPayloadLen }
func (*icmpEcho) PortArgs() bool       { return false }
func (*icmpEcho) PcapFilter() string   { return "icmp and icmp[0]!=8" }

func (*icmpEcho) Fields() []models.FieldDef {
	return append([]models.FieldDef{
		{Name: "type", Type: models.FieldTypeInt, Desc: "icmp message type"},
		{Name: "code", Type: models.FieldTypeInt, Desc: "icmp message sub type code"},
		{Name: "icmp_id", Type: models.FieldTypeInt, Desc: "icmp id number"},
		{Name: "seq", Type: models.FieldTypeInt, Desc: "icmp sequence number"},
	}, ClassificationFields...)
}

func (m *icmpEcho) GlobalInit(cfg *Config) error {
	m.cfg = cfg
	return nil
}

func (*icmpEcho) ThreadInit() (interface{}, error) { return nil, nil }

func (m *icmpEcho) PreparePacket(buf []byte, _ interface{}) error {
	if len(buf) < m.MaxPacketLength() {
		return ErrShortBuffer
	}

	scan := m.cfg.Scan

	PutEthernet(buf, scan.SrcMAC, scan.GwMAC, EtherTypeIPv4)
	PutIPv4(buf[EthLen:], uint16(IPv4Len+ICMPLen+icmpPayloadLen), ProtoICMP, scan.ProbeTTL)

	icmp := buf[EthLen+IPv4Len:]
	icmp[0] = ICMPEchoRequest
	icmp[1] = 0

	return nil
}

func (m *icmpEcho) MakePacket(buf []byte, args *MakeArgs, _ interface{}) (int, error) {
	ip := buf[EthLen:]
	ip[8] = args.TTL
	PatchIPv4(ip, args.IPID, args.Saddr, args.Daddr)

	icmp := buf[EthLen+IPv4Len : EthLen+IPv4Len+ICMPLen+icmpPayloadLen]
	binary.BigEndian.PutUint16(icmp[4:6], uint16(args.Validation[0]))
	binary.BigEndian.PutUint16(icmp[6:8], uint16(args.Validation[1]))
	binary.BigEndian.PutUint32(icmp[8:12], args.Validation[2])
	binary.BigEndian.PutUint32(icmp[12:16], args.Validation[3])
	binary.BigEndian.PutUint16(icmp[2:4], 0)
	binary.BigEndian.PutUint16(icmp[2:4], Checksum(icmp))

	return EthLen + IPv4Len + ICMPLen + icmpPayloadLen, nil
}

func (m *icmpEcho) ValidatePacket(r *Received) ValidationResult {
	ip, err := ParseIPv4(r.IP)
	if err != nil || ip.Protocol() != ProtoICMP {
		return ValidationResult{}
	}

	icmp, err := ParseICMP(ip.Payload())
	if err != nil {
		return ValidationResult{}
	}

	if icmp.Type() == ICMPEchoReply {
		validation := m.cfg.Validator.Gen(ip.Dst(), ip.Src(), 0)
		if icmp.ID() != uint16(validation[0]) || icmp.Seq() != uint16(validation[1]) {
			return ValidationResult{}
		}

		body := icmp.Body()
		if len(body) < icmpPayloadLen ||
			binary.BigEndian.Uint32(body[0:4]) != validation[2] ||
			binary.BigEndian.Uint32(body[4:8]) != validation[3] {
			return ValidationResult{}
		}

		return ValidationResult{Valid: true, SourceAddr: ip.Src()}
	}

	// Error envelope: re-validate against the quoted original probe.
	inner, innerICMP, ok := m.quotedProbe(icmp)
	if !ok {
		return ValidationResult{}
	}

	validation := m.cfg.Validator.Gen(inner.Src(), inner.Dst(), 0)
	if innerICMP.ID() != uint16(validation[0]) {
		return ValidationResult{}
	}

	return ValidationResult{Valid: true, SourceAddr: inner.Dst()}
}

// quotedProbe digs the original echo request out of an ICMP error body.
func (*icmpEcho) quotedProbe(icmp ICMPView) (IPv4View, ICMPView, bool) {
	switch icmp.Type() {
	case ICMPDestUnreach, ICMPSourceQuench, ICMPRedirect, ICMPTimeExceeded, ICMPParamProblem:
	default:
		return IPv4View{}, ICMPView{}, false
	}

	inner, err := ParseIPv4(icmp.Body())
	if err != nil || inner.Protocol() != ProtoICMP {
		return IPv4View{}, ICMPView{}, false
	}

	innerICMP, err := ParseICMP(inner.Payload())
	if err != nil {
		return IPv4View{}, ICMPView{}, false
	}

	return inner, innerICMP, true
}

func (*icmpEcho) ProcessPacket(r *Received, fs *models.Fieldset) {
	ip, err := ParseIPv4(r.IP)
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	icmp, err := ParseICMP(ip.Payload())
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	fs.AddUint64("type", uint64(icmp.Type()))
	fs.AddUint64("code", uint64(icmp.Code()))
	fs.AddUint64("icmp_id", uint64(icmp.ID()))
	fs.AddUint64("seq", uint64(icmp.Seq()))

	switch icmp.Type() {
	case ICMPEchoReply:
		fs.AddString("classification", "echoreply")
		fs.AddBool("success", true)
	case ICMPDestUnreach:
		fs.AddString("classification", "unreach")
		fs.AddBool("success", false)
	case ICMPTimeExceeded:
		fs.AddString("classification", "timexceed")
		fs.AddBool("success", false)
	default:
		fs.AddString("classification", "other")
		fs.AddBool("success", false)
	}
}

func (*icmpEcho) PrintPacket(w io.Writer, buf []byte) {
	icmp := buf[EthLen+IPv4Len:]
	fmt.Fprintf(w, "icmp { type: %d | code: %d | checksum: %#04x | id: %d | seq: %d }\n",
		icmp[0], icmp[1],
		binary.BigEndian.Uint16(icmp[2:4]),
		binary.BigEndian.Uint16(icmp[4:6]),
		binary.BigEndian.Uint16(icmp[6:8]))
	FprintIPv4(w, buf[EthLen:])
	FprintEth(w, buf)
	io.WriteString(w, PrintPacketSep)
}

func (*icmpEcho) Close() error { return nil }
