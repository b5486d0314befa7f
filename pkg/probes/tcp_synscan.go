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

// tcpSynscan probes with a bare SYN. The initial sequence number carries
// V[0]; a response acknowledging V[0]+1 proves it answers our probe.
type tcpSynscan struct {
	cfg *Config
}

func init() {
	Register(&tcpSynscan{})
}

func (*tcpSynscan) Name() string         { return "tcp_synscan" }
func (*tcpSynscan) MaxPacketLength() int { return EthLen + IPv4Len + TCPLen }
func (*tcpSynscan) PortArgs() bool       { return true }

func (*tcpSynscan) PcapFilter() string {
	return "tcp && tcp[13] & 4 != 0 || tcp[13] == 18"
}

func (*tcpSynscan) Fields() []models.FieldDef {
	return append([]models.FieldDef{
		{Name: "sport", Type: models.FieldTypeInt, Desc: "TCP source port"},
		{Name: "dport", Type: models.FieldTypeInt, Desc: "TCP destination port"},
		{Name: "seqnum", Type: models.FieldTypeInt, Desc: "TCP sequence number"},
		{Name: "acknum", Type: models.FieldTypeInt, Desc: "TCP acknowledgement number"},
		{Name: "window", Type: models.FieldTypeInt, Desc: "TCP window"},
	}, ClassificationFields...)
}

func (m *tcpSynscan) GlobalInit(cfg *Config) error {
	m.cfg = cfg
	return nil
}

func (*tcpSynscan) ThreadInit() (interface{}, error) { return nil, nil }

func (m *tcpSynscan) PreparePacket(buf []byte, _ interface{}) error {
	if len(buf) < EthLen+IPv4Len+TCPLen {
		return ErrShortBuffer
	}

	scan := m.cfg.Scan

	PutEthernet(buf, scan.SrcMAC, scan.GwMAC, EtherTypeIPv4)
	PutIPv4(buf[EthLen:], IPv4Len+TCPLen, ProtoTCP, scan.ProbeTTL)

	tcp := buf[EthLen+IPv4Len:]
	binary.BigEndian.PutUint32(tcp[8:12], 0)  // ack
	tcp[12] = 5 << 4                          // data offset
	tcp[13] = TCPFlagSYN
	binary.BigEndian.PutUint16(tcp[14:16], 65535)
	binary.BigEndian.PutUint16(tcp[16:18], 0) // checksum
	binary.BigEndian.PutUint16(tcp[18:20], 0) // urgent

	return nil
}

func (m *tcpSynscan) MakePacket(buf []byte, args *MakeArgs, _ interface{}) (int, error) {
	scan := m.cfg.Scan

	sport := SourcePort(scan.SourcePortFirst, scan.NumSourcePorts(), args.Validation, args.ProbeNum)

	ip := buf[EthLen:]
	ip[8] = args.TTL
	PatchIPv4(ip, args.IPID, args.Saddr, args.Daddr)

	tcp := buf[EthLen+IPv4Len : EthLen+IPv4Len+TCPLen]
	binary.BigEndian.PutUint16(tcp[0:2], sport)
	binary.BigEndian.PutUint16(tcp[2:4], args.Dport)
	binary.BigEndian.PutUint32(tcp[4:8], args.Validation[0])
	binary.BigEndian.PutUint16(tcp[16:18], 0)
	binary.BigEndian.PutUint16(tcp[16:18], L4Checksum(args.Saddr, args.Daddr, ProtoTCP, tcp))

	return EthLen + IPv4Len + TCPLen, nil
}

func (m *tcpSynscan) ValidatePacket(r *Received) ValidationResult {
	ip, err := ParseIPv4(r.IP)
	if err != nil || ip.Protocol() != ProtoTCP {
		return ValidationResult{}
	}

	tcp, err := ParseTCP(ip.Payload())
	if err != nil {
		return ValidationResult{}
	}

	scan := m.cfg.Scan

	// The original probe went saddr=ip.Dst, daddr=ip.Src, dport=their port.
	validation := m.cfg.Validator.Gen(ip.Dst(), ip.Src(), tcp.SrcPort())

	if !scan.ValidateSourcePortOverride &&
		!CheckSourcePort(tcp.DstPort(), scan.SourcePortFirst, scan.SourcePortLast,
			scan.NumSourcePorts(), scan.PacketStreams, validation) {
		return ValidationResult{}
	}

	if tcp.Ack() != validation[0]+1 {
		return ValidationResult{}
	}

	return ValidationResult{Valid: true, SourceAddr: ip.Src()}
}

func (*tcpSynscan) ProcessPacket(r *Received, fs *models.Fieldset) {
	ip, err := ParseIPv4(r.IP)
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	tcp, err := ParseTCP(ip.Payload())
	if err != nil {
		fs.AddBool("parse_err", true)
		return
	}

	fs.AddUint64("sport", uint64(tcp.SrcPort()))
	fs.AddUint64("dport", uint64(tcp.DstPort()))
	fs.AddUint64("seqnum", uint64(tcp.Seq()))
	fs.AddUint64("acknum", uint64(tcp.Ack()))
	fs.AddUint64("window", uint64(tcp.Window()))

	if tcp.Flags()&TCPFlagRST != 0 {
		fs.AddString("classification", "rst")
		fs.AddBool("success", false)
	} else {
		fs.AddString("classification", "synack")
		fs.AddBool("success", true)
	}
}

func (*tcpSynscan) PrintPacket(w io.Writer, buf []byte) {
	tcp := buf[EthLen+IPv4Len:]
	fmt.Fprintf(w, "tcp { source: %d | dest: %d | seq: %d | checksum: %#04x }\n",
		binary.BigEndian.Uint16(tcp[0:2]),
		binary.BigEndian.Uint16(tcp[2:4]),
		binary.BigEndian.Uint32(tcp[4:8]),
		binary.BigEndian.Uint16(tcp[16:18]))
	FprintIPv4(w, buf[EthLen:])
	FprintEth(w, buf)
	io.WriteString(w, PrintPacketSep)
}

func (*tcpSynscan) Close() error { return nil }
