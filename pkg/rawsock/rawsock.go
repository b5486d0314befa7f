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

// Package rawsock is the transport boundary of the engine: an AF_PACKET
// batch sender driven by sendmmsg and a libpcap capture handle with a
// bounded poll. Everything above it deals in packet buffers only.
package rawsock

import (
	"errors"
	"time"
)

var (
	ErrBatchFull        = errors.New("packet batch is full")
	ErrUnsupportedOS    = errors.New("raw packet transmission requires linux")
	ErrCaptureTimeout   = errors.New("capture poll timed out")
	ErrCaptureClosed    = errors.New("capture handle closed")
)

// Batch is a contiguous array of packet buffers filled by a sender thread
// and flushed in one sendmmsg call.
type Batch struct {
	bufs [][]byte
	lens []int
	n    int
}

// NewBatch allocates capacity slots of maxPacketLen bytes backed by one
// contiguous block.
func NewBatch(capacity, maxPacketLen int) *Batch {
	backing := make([]byte, capacity*maxPacketLen)

	b := &Batch{
		bufs: make([][]byte, capacity),
		lens: make([]int, capacity),
	}

	for i := 0; i < capacity; i++ {
		b.bufs[i] = backing[i*maxPacketLen : (i+1)*maxPacketLen]
	}

	return b
}

// Slot returns the next free packet buffer, or nil when full.
func (b *Batch) Slot() []byte {
	if b.n >= len(b.bufs) {
		return nil
	}

	return b.bufs[b.n]
}

// Commit finalizes the current slot with the built packet length.
func (b *Batch) Commit(pktLen int) error {
	if b.n >= len(b.bufs) {
		return ErrBatchFull
	}

	b.lens[b.n] = pktLen
	b.n++

	return nil
}

func (b *Batch) Len() int      { return b.n }
func (b *Batch) Capacity() int { return len(b.bufs) }
func (b *Batch) Full() bool    { return b.n == len(b.bufs) }
func (b *Batch) Reset()        { b.n = 0 }

// Packet returns the i-th committed packet.
func (b *Batch) Packet(i int) []byte { return b.bufs[i][:b.lens[i]] }

// Buffers exposes every slot so probe modules can write their invariant
// packet prefix once per buffer.
func (b *Batch) Buffers() [][]byte { return b.bufs }

// BatchSender flushes batches to the wire.
type BatchSender interface {
	// SendBatch submits every packet in the batch, retrying transient
	// kernel errors up to attempts times in total. It returns the number
	// of packets accepted; the caller attributes the shortfall as
	// failures. The batch is not reset.
	SendBatch(b *Batch, attempts int) (int, error)
	Close() error
}

// Capture reads captured packets one at a time.
type Capture interface {
	// Next returns the next packet and its timestamp. ErrCaptureTimeout
	// reports an empty poll interval so the caller can check stop flags.
	Next() (pkt []byte, ts time.Time, err error)
	Close()
}
