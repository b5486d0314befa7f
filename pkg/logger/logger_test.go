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

package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelFromConfig(t *testing.T) {
	log, err := New(&Config{Level: "warn"})
	require.NoError(t, err)
	require.NotNil(t, log)

	assert.False(t, log.Info().Enabled())
	assert.True(t, log.Warn().Enabled())
}

func TestNew_DebugOverridesLevel(t *testing.T) {
	log, err := New(&Config{Level: "error", Debug: true})
	require.NoError(t, err)

	assert.True(t, log.Debug().Enabled())
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&Config{Level: "shout"})
	assert.Error(t, err)
}

func TestNew_NilConfig(t *testing.T) {
	log, err := New(nil)
	require.NoError(t, err)
	assert.True(t, log.Info().Enabled())
}

func TestWithComponent(t *testing.T) {
	log, err := New(&Config{Level: "info"})
	require.NoError(t, err)

	component := log.WithComponent("send")
	assert.True(t, component.Info().Enabled())
}

func TestTestLogger_Discards(t *testing.T) {
	log := NewTestLogger()

	assert.False(t, log.Info().Enabled())
	assert.False(t, log.Error().Enabled())

	// Must not panic even though everything is disabled.
	log.Info().Str("k", "v").Msg("dropped")
	log.SetLevel(zerolog.DebugLevel)
}
