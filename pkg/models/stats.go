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

package models

import (
	"sync/atomic"
	"time"
)

// ScanState is the shared mutable state of a running scan: global counters,
// the runtime-tunable rate, and the cooperative stop flags. ScanID and
// StartTime are set once before the scan starts; every other field is an
// atomic, so no locks are required to read or update them.
type ScanState struct {
	ScanID    string
	StartTime time.Time

	// Rate is the global target pps, mutated by SIGUSR1/SIGUSR2.
	Rate atomic.Int64

	PacketsSent    atomic.Uint64
	PacketsFailed  atomic.Uint64
	TargetsScanned atomic.Uint64

	PacketsReceived atomic.Uint64
	RecordsEmitted  atomic.Uint64
	ValidationFail  atomic.Uint64

	// SendersDone counts shard completion callbacks; when it reaches the
	// shard count the monitor starts the cooldown timer.
	SendersDone atomic.Int32

	// SendComplete is set once every sender has finished.
	SendComplete atomic.Bool
	// SendCompleteAt is the unix-nano time the last sender finished.
	SendCompleteAt atomic.Int64

	// RecvComplete tells the receiver to stop after the cooldown window.
	RecvComplete atomic.Bool

	// SendersStop asks senders to wind down (max runtime, SIGINT).
	SendersStop atomic.Bool
}

// NudgeRate applies a ±5% adjustment to the global rate, keeping at least
// 1 pps so the scan cannot stall entirely.
func (s *ScanState) NudgeRate(up bool) (old, updated int64) {
	for {
		old = s.Rate.Load()

		delta := old / 20
		if delta == 0 {
			delta = 1
		}

		if up {
			updated = old + delta
		} else {
			updated = old - delta
		}

		if updated < 1 {
			updated = 1
		}

		if s.Rate.CompareAndSwap(old, updated) {
			return old, updated
		}
	}
}
