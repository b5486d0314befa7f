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

// Package config loads typed JSON configuration with an environment overlay.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/nettrawl/nettrawl/pkg/logger"
)

var (
	errInvalidConfigSource = errors.New("invalid CONFIG_SOURCE value")
)

const (
	configSourceFile = "file"
	configSourceEnv  = "env"

	defaultEnvPrefix = "NETTRAWL_"
)

// ConfigLoader populates dst from a configuration source.
type ConfigLoader interface {
	Load(ctx context.Context, path string, dst interface{}) error
}

// Validator is implemented by config types that can check themselves.
type Validator interface {
	Validate() error
}

// Config holds the configuration loading dependencies.
type Config struct {
	defaultLoader ConfigLoader
	logger        logger.Logger
}

// NewConfig initializes a Config with a file loader. A nil logger is
// replaced with a no-op logger.
func NewConfig(log logger.Logger) *Config {
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &Config{
		defaultLoader: &FileConfigLoader{},
		logger:        log,
	}
}

// ValidateConfig validates a configuration if it implements Validator.
func ValidateConfig(cfg interface{}) error {
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}

	return v.Validate()
}

// LoadAndValidate loads a configuration from the source selected by
// CONFIG_SOURCE (file by default), applies the environment overlay, and
// validates the result.
func (c *Config) LoadAndValidate(ctx context.Context, path string, cfg interface{}) error {
	source := strings.ToLower(os.Getenv("CONFIG_SOURCE"))

	var loader ConfigLoader

	switch source {
	case configSourceFile, "":
		loader = c.defaultLoader
	case configSourceEnv:
		loader = NewEnvConfigLoader(c.logger, envPrefix())
	default:
		return fmt.Errorf("%w: %s (expected '%s' or '%s')",
			errInvalidConfigSource, source, configSourceFile, configSourceEnv)
	}

	if err := loader.Load(ctx, path, cfg); err != nil {
		return err
	}

	// File-based configs still honor NETTRAWL_* overrides.
	if source != configSourceEnv {
		overlay := NewEnvConfigLoader(c.logger, envPrefix())
		if err := overlay.Load(ctx, path, cfg); err != nil {
			return err
		}
	}

	return ValidateConfig(cfg)
}

func envPrefix() string {
	if p := os.Getenv("CONFIG_ENV_PREFIX"); p != "" {
		return p
	}

	return defaultEnvPrefix
}
