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

// avconsole is the control-plane console for one AV control device: it
// opens the device's live channels, streams decoded frames to structured
// logs, and can drive the device's background scans to completion. The
// -subnet flag runs the offline subnet calculator and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/carverauto/avconsole/pkg/config"
	"github.com/carverauto/avconsole/pkg/lifecycle"
	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
	"github.com/carverauto/avconsole/pkg/netcalc"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	device := flag.String("device", "", "Device base URL, e.g. http://192.168.4.1")
	configPath := flag.String("config", "", "Optional path to a console config file")
	channels := flag.String("channels", "", "Channels to open: comma-separated roles, or \"all\"")
	portscan := flag.String("portscan", "", "Run a port scan: host:port1,port2,...")
	mdns := flag.String("mdns", "", "Run an mDNS browse: service/proto, e.g. _http/tcp")
	ssdp := flag.Bool("ssdp", false, "Run an SSDP sweep")
	discover := flag.String("discover", "", "Run a discovery sweep: subnet:from-to, e.g. 192.168.1:1-254")
	subnet := flag.String("subnet", "", "Compute subnet details for ip/cidr and exit, e.g. 192.168.1.10/24")
	flag.Parse()

	if *subnet != "" {
		return printSubnet(*subnet)
	}

	ctx := context.Background()

	cfg := consoleConfig{Device: *device}

	if *configPath != "" {
		if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	if *device != "" {
		cfg.Device = *device
	}

	if *channels != "" {
		cfg.Channels = splitChannels(*channels)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logCfg := cfg.Logging
	if logCfg == nil {
		logCfg = logger.DefaultConfig()
	}

	consoleLogger, err := lifecycle.CreateComponentLogger("avconsole", logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	jobFlags := jobRequests{
		PortScan:  *portscan,
		MDNS:      *mdns,
		SSDP:      *ssdp,
		Discovery: *discover,
	}

	console, err := newConsole(cfg, jobFlags, consoleLogger)
	if err != nil {
		return err
	}

	return lifecycle.Run(ctx, console, consoleLogger)
}

func printSubnet(spec string) error {
	ip, cidr, err := netcalc.ParseSpec(spec)
	if err != nil {
		return err
	}

	res, err := netcalc.Compute(ip, cidr)
	if err != nil {
		return err
	}

	w := os.Stdout

	fmt.Fprintf(w, "Network:    %s/%d\n", models.DottedQuad(res.Network), res.CIDR)
	fmt.Fprintf(w, "Mask:       %s\n", models.DottedQuad(res.Mask))
	fmt.Fprintf(w, "Broadcast:  %s\n", models.DottedQuad(res.Broadcast))
	fmt.Fprintf(w, "Hosts:      %d\n", res.HostCount)

	if res.HasUsable {
		fmt.Fprintf(w, "Usable:     %s - %s\n", models.DottedQuad(res.FirstUsable), models.DottedQuad(res.LastUsable))
	} else {
		fmt.Fprintln(w, "Usable:     none")
	}

	return nil
}
