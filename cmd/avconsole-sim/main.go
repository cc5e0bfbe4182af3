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

	"github.com/carverauto/avconsole/pkg/config"
	"github.com/carverauto/avconsole/pkg/devicesim"
	"github.com/carverauto/avconsole/pkg/lifecycle"
	"github.com/carverauto/avconsole/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	listen := flag.String("listen", ":8080", "Address to serve the simulated device on")
	stub := flag.Bool("stub", false, "Replace network-touching scanners with canned results")
	configPath := flag.String("config", "", "Optional path to a simulator config file")
	flag.Parse()

	ctx := context.Background()

	simCfg := devicesim.Config{ListenAddr: *listen, Stub: *stub}

	if *configPath != "" {
		if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &simCfg); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	simLogger, err := lifecycle.CreateComponentLogger("devicesim", logger.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	sim, err := devicesim.New(simCfg, simLogger)
	if err != nil {
		return fmt.Errorf("failed to create simulator: %w", err)
	}

	return lifecycle.Run(ctx, sim, simLogger)
}
