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
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nettrawl/nettrawl/pkg/probes"
	"github.com/nettrawl/nettrawl/pkg/rawsock"
)

// IPv6TargetFile streams target addresses from a file, one per line. All
// sender threads share one reader behind a mutex; the v6 path does not go
// through the cyclic group, so targets come out in file order.
type IPv6TargetFile struct {
	mu sync.Mutex
	f  *os.File
	sc *bufio.Scanner
}

func OpenIPv6TargetFile(path string) (*IPv6TargetFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ipv6 target file: %w", err)
	}

	return &IPv6TargetFile{f: f, sc: bufio.NewScanner(f)}, nil
}

// Next returns the next target address; io.EOF ends the scan.
func (t *IPv6TargetFile) Next() (netip.Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.sc.Scan() {
		line := strings.TrimSpace(t.sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		addr, err := netip.ParseAddr(line)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return netip.Addr{}, fmt.Errorf("ipv6 target %q: not an IPv6 address", line)
		}

		return addr, nil
	}

	if err := t.sc.Err(); err != nil {
		return netip.Addr{}, err
	}

	return netip.Addr{}, io.EOF
}

func (t *IPv6TargetFile) Close() error { return t.f.Close() }

// runIPv6 is the file-fed variant of the send loop: same pacing, batching
// and stop conditions, but targets come from the shared reader instead of
// the shard walk. The shard still tracks this thread's counters.
func runIPv6(opts *Options, log zerolog.Logger, batch *rawsock.Batch, rc *rateController,
	threadArg interface{}, attempts int, errLimit *rate.Limiter) error {
	cfg := opts.Config
	state := opts.State
	shard := opts.Shard
	sstate := shard.State()

	dport := cfg.TargetPorts[0]

	log.Debug().Int("thread", shard.ThreadID()).Msg("send thread started (ipv6 target file)")

	for {
		rc.pace()

		if state.RecvComplete.Load() || state.SendersStop.Load() {
			break
		}

		if cfg.MaxRuntime > 0 && time.Since(state.StartTime) >= cfg.MaxRuntime.Duration() {
			break
		}

		if sstate.MaxTargets > 0 && sstate.TargetsScanned >= sstate.MaxTargets {
			break
		}

		if sstate.MaxPackets > 0 && sstate.PacketsSent >= sstate.MaxPackets {
			break
		}

		dst, err := opts.IPv6Targets.Next()
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("ipv6 target file read failed")
			}

			log.Debug().Int("thread", shard.ThreadID()).
				Msg("send thread finished, no more target IPv6 addresses")

			break
		}

		for i := 0; i < cfg.PacketStreams; i++ {
			validation := opts.Validator.GenIPv6(cfg.IPv6Source, dst, dport)

			args := probes.MakeArgs{
				Dport:      dport,
				TTL:        cfg.ProbeTTL,
				Validation: validation,
				ProbeNum:   i,
				IPID:       uint16(validation[3]),
				IsIPv6:     true,
				Saddr6:     cfg.IPv6Source,
				Daddr6:     dst,
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

		sstate.TargetsScanned++
		state.TargetsScanned.Add(1)
	}

	flush(opts, log, batch, attempts, errLimit)
	log.Debug().Int("thread", shard.ThreadID()).Msg("send thread cleanly finished")

	return nil
}
