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

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/nettrawl/nettrawl/pkg/config"
	"github.com/nettrawl/nettrawl/pkg/logger"
	"github.com/nettrawl/nettrawl/pkg/models"
	"github.com/nettrawl/nettrawl/pkg/probes"
	"github.com/nettrawl/nettrawl/pkg/scanner"
)

var errFailedToLoadConfig = fmt.Errorf("failed to load config")

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/nettrawl/scan.json", "Path to scan config file")
	probeModule := flag.String("probe-module", "", "Probe module override")
	rate := flag.Int("rate", 0, "Send rate override (pps)")
	dryrun := flag.Bool("dryrun", false, "Print packets instead of sending")
	listModules := flag.Bool("list-probe-modules", false, "List probe modules and exit")
	flag.Parse()

	if *listModules {
		fmt.Println(strings.Join(probes.Names(), "\n"))
		return nil
	}

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	var cfg models.ScanConfig

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	if *probeModule != "" {
		cfg.ProbeModule = *probeModule
	}

	if *rate > 0 {
		cfg.Rate = *rate
		cfg.Bandwidth = 0
	}

	if *dryrun {
		cfg.Dryrun = true
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	sc, err := scanner.New(&cfg, lg)
	if err != nil {
		return err
	}

	return sc.Run(ctx)
}
