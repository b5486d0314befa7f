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

// Package send drives the transmit half of a scan: each sender thread
// walks its shard, computes validation words, has the probe module build
// packets into a batch, and flushes batches at a rate-controlled pace.
package send

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nettrawl/nettrawl/pkg/iterator"
	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/probes"
	"github.com/nettrawl/nettrawl/pkg/rawsock"
	"github.com/nettrawl/nettrawl/pkg/validate"
)

var ErrPacketTooLong = errors.New("probe module built packet above maximum size")

// Options wires one sender thread.
type Options struct {
	Config    *models.ScanConfig
	State     *models.ScanState
	Module    probes.Module
	Validator *validate.Validator
	Shard     *iterator.Shard
	Sender    rawsock.BatchSender
	Log       logger.Logger

	// InitMu serializes per-thread transport setup; some back-ends
	// require it. Held only during startup.
	InitMu *sync.Mutex

	// Dryrun receives textual packet dumps instead of transmission.
	Dryrun *DryrunSink

	// IPv6Targets switches the thread to the sequential v6 file path.
	IPv6Targets *IPv6TargetFile
}

// DryrunSink serializes packet dumps from concurrent sender threads.
type DryrunSink struct {
	mu sync.Mutex
	w  interface{ Write([]byte) (int, error) }
}

func NewDryrunSink(w interface{ Write([]byte) (int, error) }) *DryrunSink {
	return &DryrunSink{w: w}
}

func (d *DryrunSink) dump(m probes.Module, batch *rawsock.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < batch.Len(); i++ {
		m.PrintPacket(d.w, batch.Packet(i))
	}
}

// Run executes one sender thread until its shard is drained or a stop
// condition fires. It always invokes the shard completion callback.
func Run(opts *Options) error {
	cfg := opts.Config
	state := opts.State
	shard := opts.Shard
	log := opts.Log.WithComponent("send")

	defer shard.Complete()

	opts.InitMu.Lock()

	threadArg, err := opts.Module.ThreadInit()
	if err != nil {
		opts.InitMu.Unlock()
		return fmt.Errorf("thread init for probe module: %w", err)
	}

	batch := rawsock.NewBatch(cfg.BatchSize, opts.Module.MaxPacketLength())

	opts.InitMu.Unlock()

	for _, buf := range batch.Buffers() {
		if err := opts.Module.PreparePacket(buf, threadArg); err != nil {
			return fmt.Errorf("prepare packet: %w", err)
		}
	}

	rc := newRateController(state, cfg.Senders, cfg.PacketStreams)
	rc.start()

	attempts := cfg.Retries + 1
	errLimit := rate.NewLimiter(rate.Every(time.Second), 5)

	if opts.IPv6Targets != nil {
		return runIPv6(opts, log, batch, rc, threadArg, attempts, errLimit)
	}

	sstate := shard.State()
	current := shard.CurrentTarget()

	log.Debug().Int("thread", shard.ThreadID()).Msg("send thread started")

	for {
		rc.pace()

		if state.RecvComplete.Load() || state.SendersStop.Load() {
			break
		}

		if cfg.MaxRuntime > 0 && time.Since(state.StartTime) >= cfg.MaxRuntime.Duration() {
			break
		}

		if sstate.MaxTargets > 0 && sstate.TargetsScanned >= sstate.MaxTargets {
			log.Debug().Int("thread", shard.ThreadID()).Uint64("max_targets", sstate.MaxTargets).
				Msg("send thread finished, max targets reached")
			break
		}

		if sstate.MaxPackets > 0 && sstate.PacketsSent >= sstate.MaxPackets {
			log.Debug().Int("thread", shard.ThreadID()).Uint64("max_packets", sstate.MaxPackets).
				Msg("send thread finished, max packets reached")
			break
		}

		if current.Status == models.ShardDone {
			log.Debug().Int("thread", shard.ThreadID()).Msg("send thread finished, shard depleted")
			break
		}

		for i := 0; i < cfg.PacketStreams; i++ {
			saddr := cfg.SourceAddr(current.Addr, i)
			validation := opts.Validator.Gen(saddr, current.Addr, current.Port)

			args := probes.MakeArgs{
				Saddr:      saddr,
				Daddr:      current.Addr,
				Dport:      current.Port,
				TTL:        cfg.ProbeTTL,
				Validation: validation,
				ProbeNum:   i,
				IPID:       uint16(validation[3]),
			}

			if err := buildInto(opts, batch, &args, threadArg); err != nil {
				return err
			}

			shard.MarkSent(true)
			state.PacketsSent.Add(1)

			if batch.Full() {
				flush(opts, log, batch, attempts, errLimit)
			}
		}

		shard.MarkScanned(current.Addr)
		state.TargetsScanned.Add(1)

		current = shard.NextTarget()
	}

	flush(opts, log, batch, attempts, errLimit)
	log.Debug().Int("thread", shard.ThreadID()).Msg("send thread cleanly finished")

	return nil
}

func buildInto(opts *Options, batch *rawsock.Batch, args *probes.MakeArgs, threadArg interface{}) error {
	slot := batch.Slot()

	pktLen, err := opts.Module.MakePacket(slot, args, threadArg)
	if err != nil {
		return fmt.Errorf("make packet: %w", err)
	}

	if pktLen > probes.MaxPacketSize {
		return fmt.Errorf("%w: %d > %d", ErrPacketTooLong, pktLen, probes.MaxPacketSize)
	}

	return batch.Commit(pktLen)
}

// flush submits the batch (or dumps it in dry-run) and attributes any
// shortfall as failed packets. The batch is reset either way.
func flush(opts *Options, log zerolog.Logger, batch *rawsock.Batch, attempts int, errLimit *rate.Limiter) {
	if batch.Len() == 0 {
		return
	}

	if opts.Dryrun != nil {
		opts.Dryrun.dump(opts.Module, batch)
		batch.Reset()

		return
	}

	n, err := opts.Sender.SendBatch(batch, attempts)

	if failed := batch.Len() - n; failed > 0 {
		opts.Shard.State().PacketsFailed += uint64(failed)
		opts.State.PacketsFailed.Add(uint64(failed))
	}

	if err != nil && errLimit.Allow() {
		log.Error().Err(err).Int("dropped", batch.Len()-n).Msg("send batch failed")
	}

	batch.Reset()
}
