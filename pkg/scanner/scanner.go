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

// Package scanner owns a scan's lifetime: it wires the iterator, probe
// module, transport, receiver and monitor together, runs them as
// goroutines, and tears everything down cooperatively.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nettrawl/nettrawl/pkg/blocklist"
	"github.com/nettrawl/nettrawl/pkg/iterator"
	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/monitor"
	"github.com/nettrawl/nettrawl/pkg/output"
	"github.com/nettrawl/nettrawl/pkg/probes"
	"github.com/nettrawl/nettrawl/pkg/rawsock"
	"github.com/nettrawl/nettrawl/pkg/recv"
	"github.com/nettrawl/nettrawl/pkg/send"
	"github.com/nettrawl/nettrawl/pkg/validate"
)

// Ethernet framing overhead used by the bandwidth conversion: 7 byte
// preamble, 1 byte start frame, 4 byte CRC, 12 byte inter-frame gap.
const (
	etherFramingBytes  = 24
	etherMinFrameBytes = 84
)

var errSenderFailed = errors.New("sender thread failed")

// Scanner is a fully wired scan, ready to Run once.
type Scanner struct {
	cfg       *models.ScanConfig
	log       logger.Logger
	state     *models.ScanState
	module    probes.Module
	validator *validate.Validator
	oracle    *blocklist.Set
	iter      *iterator.Iterator
	enc       output.Encoder

	ipv6Targets *send.IPv6TargetFile

	// sendInitMu serializes per-thread transport setup during startup.
	sendInitMu sync.Mutex
}

// New validates the whole configuration and builds every subsystem that
// does not need privileges, so misconfiguration fails before any socket
// opens.
func New(cfg *models.ScanConfig, log logger.Logger) (*Scanner, error) {
	validator, err := validate.New()
	if err != nil {
		return nil, err
	}

	module, err := probes.Lookup(cfg.ProbeModule)
	if err != nil {
		return nil, err
	}

	if err := module.GlobalInit(&probes.Config{Scan: cfg, Validator: validator, Log: log}); err != nil {
		return nil, fmt.Errorf("probe module init: %w", err)
	}

	applyRate(cfg, module, log)

	oracle, err := blocklist.NewFromFiles(cfg.AllowlistFile, cfg.BlocklistFile)
	if err != nil {
		return nil, err
	}

	var listOfIPs *blocklist.IPSet

	if cfg.ListOfIPsFile != "" {
		listOfIPs, err = blocklist.LoadIPSet(cfg.ListOfIPsFile)
		if err != nil {
			return nil, err
		}
	}

	iter, err := iterator.New(iterator.Params{
		Senders:     cfg.Senders,
		ShardNum:    cfg.ShardNum,
		TotalShards: cfg.TotalShards,
		Oracle:      oracle,
		Ports:       cfg.TargetPorts,
		ListOfIPs:   listOfIPs,
		Seed:        cfg.Seed,
		MaxTargets:  cfg.MaxTargets,
		MaxPackets:  cfg.MaxPackets,
	})
	if err != nil {
		return nil, err
	}

	var ipv6Targets *send.IPv6TargetFile

	if cfg.IPv6TargetFile != "" {
		ipv6Targets, err = send.OpenIPv6TargetFile(cfg.IPv6TargetFile)
		if err != nil {
			return nil, err
		}
	}

	enc, err := output.Open(cfg.OutputFormat, cfg.OutputFile, output.FullSchema(module))
	if err != nil {
		return nil, err
	}

	state := &models.ScanState{
		ScanID:    uuid.NewString(),
		StartTime: time.Now(),
	}
	state.Rate.Store(int64(cfg.Rate))

	if cfg.Dryrun {
		// Nothing arrives in dry-run; no reason to sit out the cooldown.
		cfg.Cooldown = 0
	}

	return &Scanner{
		cfg:         cfg,
		log:         log,
		state:       state,
		module:      module,
		validator:   validator,
		oracle:      oracle,
		iter:        iter,
		enc:         enc,
		ipv6Targets: ipv6Targets,
	}, nil
}

// applyRate resolves the bandwidth/rate knobs into a concrete pps target.
// Bandwidth is divided by the on-wire frame cost of the module's largest
// probe, floored at the Ethernet minimum frame.
func applyRate(cfg *models.ScanConfig, module probes.Module, log logger.Logger) {
	if cfg.Bandwidth > 0 {
		bits := uint64(module.MaxPacketLength()) * 8
		bits += etherFramingBytes * 8

		if bits < etherMinFrameBytes*8 {
			bits = etherMinFrameBytes * 8
		}

		rate := cfg.Bandwidth / bits
		if rate == 0 {
			log.Warn().Uint64("bandwidth", cfg.Bandwidth).
				Msg("bandwidth is slower than 1 pkt/s, setting rate to 1 pkt/s")

			rate = 1
		}

		cfg.Rate = int(rate)
		log.Debug().Uint64("bandwidth", cfg.Bandwidth).Int("rate", cfg.Rate).
			Msg("converted bandwidth to packet rate")

		return
	}

	if cfg.Rate == 0 {
		cfg.Rate = models.DefaultRate
	}
}

// Run executes the scan to completion: senders drain their shards, the
// monitor arms the cooldown once they finish, and the receiver stops when
// it expires. Cancellation and signals stop senders early but still honor
// the cooldown.
func (s *Scanner) Run(ctx context.Context) error {
	cfg := s.cfg
	log := s.log

	log.Info().
		Str("scan_id", s.state.ScanID).
		Str("probe_module", s.module.Name()).
		Uint64("targets", s.iter.N()).
		Int("rate", cfg.Rate).
		Int("senders", cfg.Senders).
		Int("shard", cfg.ShardNum).
		Int("total_shards", cfg.TotalShards).
		Bool("dryrun", cfg.Dryrun).
		Msg("starting scan")

	stopSignals := s.installSignalHandlers(ctx)
	defer stopSignals()

	var (
		transport rawsock.BatchSender
		capture   rawsock.Capture
		dryrun    *send.DryrunSink
		err       error
	)

	if cfg.Dryrun {
		log.Info().Msg("dryrun mode, not sending packets")

		dryrun = send.NewDryrunSink(os.Stdout)
	} else {
		transport, err = rawsock.NewPacketSender(cfg.Interface, cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("transport: %w", err)
		}
		defer transport.Close()

		capture, err = rawsock.NewPcapCapture(cfg.Interface, s.module.PcapFilter())
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		defer capture.Close()
	}

	shards := s.iter.Shards()

	for _, shard := range shards {
		shard.SetDoneCallback(func(threadID int) {
			done := s.state.SendersDone.Add(1)

			log.Debug().Int("thread", threadID).Int32("done", done).Msg("sender finished")

			if int(done) == len(shards) {
				s.state.SendCompleteAt.Store(time.Now().UnixNano())
				s.state.SendComplete.Store(true)
				log.Info().Msg("all senders finished, cooldown started")
			}
		})
	}

	sendErrs := make(chan error, len(shards))

	var sendWG sync.WaitGroup

	for _, shard := range shards {
		sendWG.Add(1)

		go func(shard *iterator.Shard) {
			defer sendWG.Done()

			err := send.Run(&send.Options{
				Config:      cfg,
				State:       s.state,
				Module:      s.module,
				Validator:   s.validator,
				Shard:       shard,
				Sender:      transport,
				Log:         log,
				InitMu:      &s.sendInitMu,
				Dryrun:      dryrun,
				IPv6Targets: s.ipv6Targets,
			})
			if err != nil {
				// A sender dying mid-scan is a module or transport bug;
				// wind the whole scan down rather than scan a partial
				// space silently.
				log.Error().Err(err).Msg("sender thread failed")
				s.state.SendersStop.Store(true)
				sendErrs <- err
			}
		}(shard)
	}

	var recvWG sync.WaitGroup

	if !cfg.Dryrun {
		seen := recv.NewSeenSet(s.oracle)

		recvWG.Add(1)

		go func() {
			defer recvWG.Done()

			if err := recv.Run(&recv.Options{
				Config:  cfg,
				State:   s.state,
				Module:  s.module,
				Capture: capture,
				Seen:    seen,
				Output:  s.enc,
				Log:     log,
			}); err != nil {
				log.Error().Err(err).Msg("receiver failed")
			}
		}()
	}

	if cfg.MetricsAddr != "" {
		monitor.ServeMetrics(cfg.MetricsAddr, s.state, log)
	}

	monitorDone := make(chan struct{})

	go func() {
		defer close(monitorDone)

		monitor.Run(&monitor.Options{
			Config:          cfg,
			State:           s.state,
			ExpectedTargets: s.iter.N() / uint64(cfg.TotalShards),
			Log:             log,
		})
	}()

	sendWG.Wait()
	<-monitorDone
	recvWG.Wait()

	if err := s.module.Close(); err != nil {
		log.Warn().Err(err).Msg("probe module close failed")
	}

	if err := s.enc.Close(); err != nil {
		log.Warn().Err(err).Msg("output close failed")
	}

	if s.ipv6Targets != nil {
		s.ipv6Targets.Close()
	}

	s.logSummary()

	select {
	case err := <-sendErrs:
		return fmt.Errorf("%w: %w", errSenderFailed, err)
	default:
		return nil
	}
}

// installSignalHandlers wires the runtime knobs: SIGUSR1/SIGUSR2 nudge
// the global rate ±5%, SIGINT/SIGTERM (or context cancellation) stop the
// senders and let the cooldown run out normally.
func (s *Scanner) installSignalHandlers(ctx context.Context) func() {
	usr := make(chan os.Signal, 4)
	term := make(chan os.Signal, 2)
	done := make(chan struct{})

	signal.Notify(usr, syscall.SIGUSR1, syscall.SIGUSR2)
	signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case sig := <-usr:
				old, updated := s.state.NudgeRate(sig == syscall.SIGUSR1)
				s.log.Info().Int64("old", old).Int64("new", updated).Msg("send rate adjusted")
			case <-term:
				s.log.Info().Msg("interrupt received, stopping senders")
				s.state.SendersStop.Store(true)
			case <-ctx.Done():
				s.state.SendersStop.Store(true)
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(usr)
		signal.Stop(term)
		close(done)
	}
}

func (s *Scanner) logSummary() {
	elapsed := time.Since(s.state.StartTime)

	sent := s.state.PacketsSent.Load()
	recvd := s.state.RecordsEmitted.Load()

	var hitRate float64
	if sent > 0 {
		hitRate = float64(recvd) / float64(sent) * 100
	}

	s.log.Info().
		Str("scan_id", s.state.ScanID).
		Uint64("sent", sent).
		Uint64("failed", s.state.PacketsFailed.Load()).
		Uint64("targets_scanned", s.state.TargetsScanned.Load()).
		Uint64("records", recvd).
		Float64("hit_pct", hitRate).
		Dur("duration", elapsed).
		Msg("scan complete")
}

// State exposes the live counters, mainly for tests.
func (s *Scanner) State() *models.ScanState { return s.state }
