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

package send

import (
	"sync/atomic"
	"time"

	"github.com/nettrawl/nettrawl/pkg/models"
)

// Per-thread rates below this use nanosleep pacing; above it, a busy-wait
// delay tuned by a feedback loop, since sleeping per packet cannot reach
// high rates.
const slowRatePPS = 1000.0

const nsecPerSec = int64(time.Second)

// rateController paces one sender thread at R/(S*streams) target
// iterations per second. The global rate lives in an atomic and is
// re-read on every measurement cycle, so SIGUSR1/SIGUSR2 nudges converge
// without any controller coordination.
type rateController struct {
	state   *models.ScanState
	senders int
	streams int

	slowMode bool

	count     uint64
	lastCount uint64
	lastTime  time.Time

	delay    uint32
	interval uint64
	sleepNs  int64
}

func newRateController(state *models.ScanState, senders, streams int) *rateController {
	return &rateController{
		state:   state,
		senders: senders,
		streams: streams,
	}
}

func (rc *rateController) targetRate() float64 {
	return float64(rc.state.Rate.Load()) / float64(rc.senders*rc.streams)
}

// start estimates the initial delay before the first packet goes out.
func (rc *rateController) start() {
	if rc.state.Rate.Load() <= 0 {
		rc.delay = 0
		return
	}

	rc.delay = 10000
	rate := rc.targetRate()

	if rate < slowRatePPS {
		rc.slowMode = true
		rc.sleepNs = int64(float64(nsecPerSec) / rate)
		rc.lastTime = time.Now().Add(-time.Duration(float64(nsecPerSec) / rate))

		return
	}

	// Calibrate the busy-wait cost so the first measurement window is in
	// the right ballpark.
	before := time.Now()
	spin(rc.delay)
	elapsed := time.Since(before).Seconds()

	if elapsed > 0 {
		rc.delay = uint32(float64(rc.delay) * (1 / elapsed) / rate)
	}

	rc.interval = uint64(rate / 20)
	if rc.interval == 0 {
		rc.interval = 1
	}

	if rc.delay == 0 {
		// At extreme bandwidths the estimate can round to zero, which
		// would disable the multiplier logic below.
		rc.delay = 1
	}

	rc.lastTime = time.Now()
}

// pace is called once per target iteration, before building its packets.
func (rc *rateController) pace() {
	defer func() { rc.count++ }()

	if rc.count == 0 || rc.delay == 0 {
		return
	}

	if rc.slowMode {
		rc.paceSleep()
		return
	}

	rc.paceSpin()
}

// paceSleep maintains a per-iteration sleep via an EMA of the observed
// inter-packet rate against the target.
func (rc *rateController) paceSleep() {
	rate := rc.targetRate()

	t := time.Now()
	lastRate := 1.0 / t.Sub(rc.lastTime).Seconds()

	rc.sleepNs = int64(float64(rc.sleepNs) * ((lastRate / rate) + 1) / 2)
	time.Sleep(time.Duration(rc.sleepNs))
	rc.lastTime = t
}

// paceSpin busy-waits delay iterations per packet and re-tunes delay from
// the observed rate every interval packets.
func (rc *rateController) paceSpin() {
	spin(rc.delay)

	if rc.interval != 0 && rc.count%rc.interval != 0 {
		return
	}

	rate := rc.targetRate()

	t := time.Now()
	elapsed := t.Sub(rc.lastTime).Seconds()

	if elapsed <= 0 || rc.count <= rc.lastCount {
		return
	}

	multiplier := float64(rc.count-rc.lastCount) / elapsed / rate

	oldDelay := rc.delay
	rc.delay = uint32(float64(rc.delay) * multiplier)

	if rc.delay == oldDelay {
		// Delay converged to a fixed point away from the target; nudge it
		// so the loop keeps moving.
		if multiplier > 1.0 {
			rc.delay *= 2
		} else if multiplier < 1.0 {
			rc.delay /= 2
		}
	}

	if rc.delay == 0 {
		// A sustained under-run (VM contention, saturated NIC) can drive
		// delay to zero, which would disable rate limiting for the rest
		// of the scan since 0 times any multiplier stays 0.
		rc.delay = 1
	}

	rc.lastCount = rc.count
	rc.lastTime = t
}

var spinSink atomic.Uint32

// spin burns roughly n loop iterations. The store keeps the loop from
// being optimized away.
func spin(n uint32) {
	var acc uint32

	for i := uint32(0); i < n; i++ {
		acc += i
	}

	spinSink.Store(acc)
}
