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

// Package recv consumes the capture path: it validates each captured
// packet against the probe module, deduplicates targets through the seen
// set, classifies, and hands finished records to the output encoder. One
// goroutine owns everything here.
package recv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/probes"
	"github.com/nettrawl/nettrawl/pkg/rawsock"
)

var (
	ErrShortEthernet   = errors.New("short ethernet")
	ErrShortVLANHeader = errors.New("short vlan header")
	ErrUnknownEther    = errors.New("unhandled ethertype")
)

// Encoder receives finished records; implementations serialize writes.
type Encoder interface {
	Write(fs *models.Fieldset) error
}

// Options wires the receiver.
type Options struct {
	Config  *models.ScanConfig
	State   *models.ScanState
	Module  probes.Module
	Capture rawsock.Capture
	Seen    *SeenSet
	Output  Encoder
	Log     logger.Logger
}

// Run loops until the monitor sets RecvComplete. Each poll timeout is a
// chance to observe the stop flag, so shutdown latency is bounded by the
// capture poll interval.
func Run(opts *Options) error {
	state := opts.State
	log := opts.Log.WithComponent("recv")
	errLimit := rate.NewLimiter(rate.Every(time.Second), 5)

	log.Debug().Msg("receiver thread started")

	for !state.RecvComplete.Load() {
		pkt, ts, err := opts.Capture.Next()
		if err != nil {
			if errors.Is(err, rawsock.ErrCaptureTimeout) {
				continue
			}

			if errLimit.Allow() {
				log.Error().Err(err).Msg("capture read failed")
			}

			continue
		}

		state.PacketsReceived.Add(1)
		handlePacket(opts, pkt, ts)
	}

	log.Debug().Msg("receiver thread finished")

	return nil
}

func handlePacket(opts *Options, pkt []byte, ts time.Time) {
	state := opts.State

	ipPkt, err := stripLinkLayer(pkt)
	if err != nil {
		return
	}

	r := probes.Received{IP: ipPkt, TS: ts}

	res := opts.Module.ValidatePacket(&r)
	if !res.Valid {
		state.ValidationFail.Add(1)
		return
	}

	var repeat bool
	if res.IsIPv6 {
		repeat = opts.Seen.CheckAndSet6(res.SourceAddr6)
	} else {
		repeat = opts.Seen.CheckAndSet(res.SourceAddr)
	}

	cooldown := state.SendComplete.Load()

	fs := models.NewFieldset()
	addIPFields(fs, &r, &res)
	opts.Module.ProcessPacket(&r, fs)
	addSystemFields(fs, repeat, cooldown, ts)

	if err := opts.Output.Write(fs); err != nil {
		opts.Log.Error().Err(err).Msg("output write failed")
		return
	}

	state.RecordsEmitted.Add(1)
}

// stripLinkLayer returns the slice starting at the IP header, skipping
// the Ethernet header and at most one 802.1Q tag.
func stripLinkLayer(pkt []byte) ([]byte, error) {
	if len(pkt) < probes.EthLen {
		return nil, ErrShortEthernet
	}

	etherType := binary.BigEndian.Uint16(pkt[12:14])
	offset := probes.EthLen

	if etherType == 0x8100 {
		if len(pkt) < probes.EthLen+4 {
			return nil, ErrShortVLANHeader
		}

		etherType = binary.BigEndian.Uint16(pkt[16:18])
		offset += 4
	}

	switch etherType {
	case probes.EtherTypeIPv4, probes.EtherTypeIPv6:
		return pkt[offset:], nil
	default:
		return nil, ErrUnknownEther
	}
}

// addIPFields prepends the address columns. For ICMP error envelopes the
// module reports the original target in the validation result, so saddr
// names the probed host rather than the error's sender.
func addIPFields(fs *models.Fieldset, r *probes.Received, res *probes.ValidationResult) {
	if res.IsIPv6 {
		fs.AddString("saddr", res.SourceAddr6.String())
		fs.AddUint64("saddr_raw", 0)

		if ip, err := probes.ParseIPv6(r.IP); err == nil {
			fs.AddString("daddr", ip.Dst().String())
			fs.AddUint64("daddr_raw", 0)
			fs.AddUint64("ipid", 0)
			fs.AddUint64("ttl", uint64(ip.HopLimit()))
		}

		return
	}

	fs.AddString("saddr", probes.IPString(res.SourceAddr))
	fs.AddUint64("saddr_raw", uint64(htonl(res.SourceAddr)))

	if ip, err := probes.ParseIPv4(r.IP); err == nil {
		fs.AddString("daddr", probes.IPString(ip.Dst()))
		fs.AddUint64("daddr_raw", uint64(htonl(ip.Dst())))
		fs.AddUint64("ipid", uint64(ip.ID()))
		fs.AddUint64("ttl", uint64(ip.TTL()))
	}
}

func addSystemFields(fs *models.Fieldset, repeat, cooldown bool, ts time.Time) {
	fs.AddBool("repeat", repeat)
	fs.AddBool("cooldown", cooldown)
	fs.AddString("timestamp_str", formatTimestamp(ts))
	fs.AddUint64("timestamp_ts", uint64(ts.Unix()))
	fs.AddUint64("timestamp_us", uint64(ts.Nanosecond()/1000))
}

// formatTimestamp renders ISO-8601 with millisecond precision and a
// numeric zone offset.
func formatTimestamp(ts time.Time) string {
	return fmt.Sprintf("%s.%03d%s",
		ts.Format("2006-01-02T15:04:05"),
		ts.Nanosecond()/1000000,
		ts.Format("-0700"))
}

// htonl renders a host-order address as its network-order integer form,
// matching the raw columns of the legacy schema.
func htonl(v uint32) uint32 {
	return v<<24 | (v&0xff00)<<8 | (v>>8)&0xff00 | v>>24
}
