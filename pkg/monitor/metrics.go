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

package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
)

// ServeMetrics exposes the scan counters on a Prometheus endpoint. The
// collectors read the shared atomics directly, so there is no sampling
// loop to fall behind.
func ServeMetrics(addr string, state *models.ScanState, log logger.Logger) {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nettrawl_packets_sent_total",
			Help: "Probe packets submitted to the transport.",
		}, func() float64 { return float64(state.PacketsSent.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nettrawl_packets_failed_total",
			Help: "Probe packets the transport could not send.",
		}, func() float64 { return float64(state.PacketsFailed.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nettrawl_targets_scanned_total",
			Help: "Targets whose probe streams were all submitted.",
		}, func() float64 { return float64(state.TargetsScanned.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nettrawl_packets_received_total",
			Help: "Packets seen on the capture path.",
		}, func() float64 { return float64(state.PacketsReceived.Load()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "nettrawl_records_emitted_total",
			Help: "Validated response records written to output.",
		}, func() float64 { return float64(state.RecordsEmitted.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "nettrawl_target_rate_pps",
			Help: "Current global target send rate.",
		}, func() float64 { return float64(state.Rate.Load()) }),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics endpoint failed")
		}
	}()
}
