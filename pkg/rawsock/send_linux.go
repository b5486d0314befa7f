//go:build linux

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
	"net"

	"golang.org/x/sys/unix"
)

// PacketSender transmits prebuilt Ethernet frames on a bound AF_PACKET
// socket. One sendmmsg call flushes a whole batch, so the per-packet
// syscall cost disappears at high rates.
type PacketSender struct {
	fd     int
	iovecs []unix.Iovec
	msgs   []Mmsghdr
}

// NewPacketSender opens an AF_PACKET socket bound to iface. Requires
// CAP_NET_RAW.
func NewPacketSender(iface string, batchCapacity int) (*PacketSender, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("AF_PACKET socket: %w", err)
	}

	ifc, err := net.InterfaceByName(iface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("interface %q: %w", iface, err)
	}

	sa := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifc.Index,
	}

	if err := unix.Bind(fd, &sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %q: %w", iface, err)
	}

	return &PacketSender{
		fd:     fd,
		iovecs: make([]unix.Iovec, batchCapacity),
		msgs:   make([]Mmsghdr, batchCapacity),
	}, nil
}

// SendBatch implements BatchSender. Transient kernel pushback (EAGAIN,
// ENOBUFS, EINTR) is retried up to attempts times; other errors stop the
// flush and the remaining packets count as failed.
func (s *PacketSender) SendBatch(b *Batch, attempts int) (int, error) {
	total := b.Len()
	if total == 0 {
		return 0, nil
	}

	for i := 0; i < total; i++ {
		pkt := b.Packet(i)
		s.iovecs[i].Base = &pkt[0]
		s.iovecs[i].SetLen(len(pkt))
		s.msgs[i] = Mmsghdr{}
		s.msgs[i].Hdr.Iov = &s.iovecs[i]
		s.msgs[i].Hdr.Iovlen = 1
	}

	sent := 0

	var lastErr error

	for try := 0; try < attempts && sent < total; try++ {
		n, err := sendmmsg(s.fd, s.msgs[sent:total], 0)
		if n > 0 {
			sent += n
		}

		if err == nil {
			continue
		}

		lastErr = err

		if !isTransient(err) {
			break
		}
	}

	if sent < total {
		return sent, lastErr
	}

	return sent, nil
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.ENOBUFS) ||
		errors.Is(err, unix.EINTR)
}

func (s *PacketSender) Close() error {
	return unix.Close(s.fd)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
