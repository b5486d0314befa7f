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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
)

func TestRun_CooldownReleasesReceiver(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second monitor timing")
	}

	state := &models.ScanState{StartTime: time.Now()}

	cfg := &models.ScanConfig{Cooldown: models.Duration(2 * time.Second)}

	// Senders finished just now; the cooldown window is open.
	state.SendCompleteAt.Store(time.Now().UnixNano())
	state.SendComplete.Store(true)

	done := make(chan struct{})

	go func() {
		defer close(done)

		Run(&Options{Config: cfg, State: state, Log: logger.NewTestLogger()})
	}()

	// Still inside the window after one tick.
	time.Sleep(1200 * time.Millisecond)
	assert.False(t, state.RecvComplete.Load(), "receiver must outlive the cooldown window")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish after cooldown")
	}

	assert.True(t, state.RecvComplete.Load())
}

func TestRun_MaxRuntimeStopsSenders(t *testing.T) {
	if testing.Short() {
		t.Skip("multi-second monitor timing")
	}

	state := &models.ScanState{StartTime: time.Now().Add(-time.Hour)}

	cfg := &models.ScanConfig{
		MaxRuntime: models.Duration(time.Minute),
		Cooldown:   models.Duration(time.Second),
	}

	done := make(chan struct{})

	go func() {
		defer close(done)

		Run(&Options{Config: cfg, State: state, Log: logger.NewTestLogger()})
	}()

	// First tick notices the exceeded runtime.
	require.Eventually(t, state.SendersStop.Load, 3*time.Second, 50*time.Millisecond)

	// Completion still requires the senders to actually finish.
	state.SendCompleteAt.Store(time.Now().UnixNano())
	state.SendComplete.Store(true)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not finish")
	}

	assert.True(t, state.RecvComplete.Load())
}
