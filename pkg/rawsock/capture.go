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

package rawsock

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
)

const (
	captureSnaplen = 8192
	capturePoll    = 100 * time.Millisecond
)

// PcapCapture adapts a libpcap handle to the Capture interface. The pcap
// timeout doubles as the receiver's poll deadline: an empty interval
// surfaces as ErrCaptureTimeout so stop flags get checked.
type PcapCapture struct {
	handle *pcap.Handle
}

// NewPcapCapture opens iface and installs the probe module's BPF filter.
func NewPcapCapture(iface, bpfFilter string) (*PcapCapture, error) {
	handle, err := pcap.OpenLive(iface, captureSnaplen, false, capturePoll)
	if err != nil {
		return nil, fmt.Errorf("pcap open %q: %w", iface, err)
	}

	if bpfFilter != "" {
		if err := handle.SetBPFFilter(bpfFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("bpf filter %q: %w", bpfFilter, err)
		}
	}

	return &PcapCapture{handle: handle}, nil
}

// Next implements Capture.
func (c *PcapCapture) Next() ([]byte, time.Time, error) {
	data, ci, err := c.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, pcap.NextErrorTimeoutExpired) {
			return nil, time.Time{}, ErrCaptureTimeout
		}

		return nil, time.Time{}, err
	}

	return data, ci.Timestamp, nil
}

func (c *PcapCapture) Close() {
	c.handle.Close()
}
