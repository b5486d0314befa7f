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

// Package monitor reports scan progress at a fixed cadence and decides
// when the scan is over: once every sender has finished, it arms the
// cooldown timer and finally releases the receiver.
package monitor

import (
	"time"

	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
)

const tick = time.Second

// Options wires the monitor.
type Options struct {
	Config *models.ScanConfig
	State  *models.ScanState

	// ExpectedTargets is this machine's share of the target space, used
	// for progress percentage and ETA.
	ExpectedTargets uint64

	Log logger.Logger
}

// Run loops at ~1 Hz until it sets RecvComplete. It is the only writer of
// that flag.
func Run(opts *Options) {
	cfg := opts.Config
	state := opts.State
	log := opts.Log.WithComponent("monitor")

	var (
		lastSent uint64
		lastRecv uint64
		lastTime = time.Now()
	)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		elapsed := now.Sub(lastTime).Seconds()

		sent := state.PacketsSent.Load()
		recv := state.RecordsEmitted.Load()
		failed := state.PacketsFailed.Load()

		sendRate := float64(sent-lastSent) / elapsed
		recvRate := float64(recv-lastRecv) / elapsed

		lastSent = sent
		lastRecv = recv
		lastTime = now

		var hitRate float64
		if sent > 0 {
			hitRate = float64(recv) / float64(sent) * 100
		}

		event := log.Info().
			Uint64("sent", sent).
			Uint64("recv", recv).
			Uint64("failed", failed).
			Float64("send_pps", sendRate).
			Float64("recv_pps", recvRate).
			Float64("hit_pct", hitRate)

		if opts.ExpectedTargets > 0 {
			scanned := state.TargetsScanned.Load()
			pct := float64(scanned) / float64(opts.ExpectedTargets) * 100
			event = event.Float64("done_pct", pct)

			if sendRate > 0 && scanned < opts.ExpectedTargets {
				remaining := float64(opts.ExpectedTargets-scanned) * float64(cfg.PacketStreams)
				event = event.Dur("eta", time.Duration(remaining/sendRate*float64(time.Second)))
			}
		}

		event.Msg("scan progress")

		if cfg.MaxRuntime > 0 && now.Sub(state.StartTime) >= cfg.MaxRuntime.Duration() &&
			!state.SendersStop.Load() {
			log.Info().Msg("max runtime reached, stopping senders")
			state.SendersStop.Store(true)
		}

		if !state.SendComplete.Load() {
			continue
		}

		// Cooldown runs from the moment the last sender finished; late
		// responses inside the window still get recorded.
		doneAt := time.Unix(0, state.SendCompleteAt.Load())
		if now.Sub(doneAt) >= cfg.Cooldown.Duration() {
			log.Info().Dur("cooldown", cfg.Cooldown.Duration()).Msg("cooldown complete, stopping receiver")
			state.RecvComplete.Store(true)

			return
		}
	}
}
