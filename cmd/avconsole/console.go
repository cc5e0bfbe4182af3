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
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/carverauto/avconsole/pkg/channel"
	"github.com/carverauto/avconsole/pkg/client"
	"github.com/carverauto/avconsole/pkg/jobs"
	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
)

var (
	errDeviceRequired = errors.New("device URL is required (-device or config)")
	errUnknownChannel = errors.New("unknown channel role")
	errBadJobSpec     = errors.New("bad job specification")
)

type consoleConfig struct {
	Device   string         `json:"device"`
	Channels []string       `json:"channels"`
	Logging  *logger.Config `json:"logging,omitempty"`
}

// Validate implements config.Validator.
func (c *consoleConfig) Validate() error {
	if c.Device == "" {
		return errDeviceRequired
	}

	for _, name := range c.Channels {
		if _, err := roleFromName(name); err != nil {
			return err
		}
	}

	return nil
}

// jobRequests carries the raw job flags; empty fields mean not requested.
type jobRequests struct {
	PortScan  string
	MDNS      string
	SSDP      bool
	Discovery string
}

func (r jobRequests) any() bool {
	return r.PortScan != "" || r.MDNS != "" || r.SSDP || r.Discovery != ""
}

// console is the interactive session: channels streaming to the log plus
// at most one run per job kind. It implements lifecycle.Service; Start
// blocks until the context ends, or until every requested job finished
// when no channels are open.
type console struct {
	config   consoleConfig
	requests jobRequests
	logger   logger.Logger

	client   *client.DeviceClient
	channels *channel.Manager
	poller   *jobs.Poller

	pending  atomic.Int32
	jobsDone chan struct{}
}

func newConsole(cfg consoleConfig, requests jobRequests, log logger.Logger) (*console, error) {
	dc, err := client.NewDeviceClient(cfg.Device, log)
	if err != nil {
		return nil, err
	}

	c := &console{
		config:   cfg,
		requests: requests,
		logger:   log,
		client:   dc,
		jobsDone: make(chan struct{}),
	}

	c.channels = channel.NewManager(log, channel.WithStateHandler(func(role models.ChannelRole, state models.ChannelState) {
		log.Info().Str("channel", string(role)).Str("state", state.String()).Msg("Channel state changed")
	}))

	c.poller = jobs.New(dc, jobs.Events{
		OnProgress: c.onJobProgress,
		OnDone:     c.onJobDone,
		OnError:    c.onJobError,
	}, log)

	return c, nil
}

func (c *console) Start(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("device unreachable: %w", err)
	}

	c.logger.Info().
		Str("fw", health.FW).
		Int64("uptime_s", health.UptimeS).
		Msg("Connected to device")

	for _, name := range c.config.Channels {
		role, err := roleFromName(name)
		if err != nil {
			return err
		}

		url := c.client.ChannelURL(models.ChannelPath(role))
		if err := c.channels.Open(role, url, c.frameLogger(role)); err != nil {
			return err
		}
	}

	if err := c.startJobs(ctx); err != nil {
		return err
	}

	// With no channels to watch, the session is over once the jobs are.
	if c.requests.any() && len(c.config.Channels) == 0 {
		select {
		case <-c.jobsDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	<-ctx.Done()

	return ctx.Err()
}

func (c *console) Stop(_ context.Context) error {
	c.channels.Close()
	c.poller.Wait()

	return nil
}

func (c *console) startJobs(ctx context.Context) error {
	type start struct {
		requested bool
		run       func() error
	}

	starts := []start{
		{c.requests.PortScan != "", func() error {
			host, ports, err := parsePortScan(c.requests.PortScan)
			if err != nil {
				return err
			}

			return c.poller.StartPortScan(ctx, host, ports)
		}},
		{c.requests.MDNS != "", func() error {
			service, proto := parseMDNS(c.requests.MDNS)
			return c.poller.StartMDNSScan(ctx, service, proto)
		}},
		{c.requests.SSDP, func() error {
			return c.poller.StartSSDPScan(ctx)
		}},
		{c.requests.Discovery != "", func() error {
			subnet, from, to, err := parseDiscover(c.requests.Discovery)
			if err != nil {
				return err
			}

			return c.poller.StartDiscovery(ctx, subnet, from, to)
		}},
	}

	// Count before starting so a fast job cannot see pending hit zero while
	// later starts are still being issued.
	var total int32

	for _, s := range starts {
		if s.requested {
			total++
		}
	}

	c.pending.Store(total)

	for _, s := range starts {
		if !s.requested {
			continue
		}

		if err := s.run(); err != nil {
			return err
		}
	}

	return nil
}

func (c *console) jobFinished() {
	if c.pending.Add(-1) == 0 {
		close(c.jobsDone)
	}
}

func (c *console) onJobProgress(kind models.JobKind, progress int) {
	evt := c.logger.Info().Str("job", string(kind))
	if progress >= 0 {
		evt = evt.Int("progress", progress)
	}

	evt.Msg("Job progress")
}

func (c *console) onJobDone(status models.JobStatus) {
	evt := c.logger.Info().Str("job", string(status.Kind))

	switch {
	case status.PortScan != nil:
		evt = evt.Ints("open", status.PortScan.Open)
	case status.MDNS != nil:
		evt = evt.Int("results", len(status.MDNS.Results))
	case status.SSDP != nil:
		evt = evt.Int("results", len(status.SSDP.Results))
	case status.Discovery != nil:
		evt = evt.Int("results", len(status.Discovery.Results))
	}

	evt.Msg("Job finished")

	if status.MDNS != nil {
		for _, rec := range status.MDNS.Results {
			c.logger.Info().Str("hostname", rec.Hostname).Str("ip", rec.IP).Int("port", rec.Port).Msg("mDNS service")
		}
	}

	if status.SSDP != nil {
		for _, dev := range status.SSDP.Results {
			c.logger.Info().Str("ip", dev.IP).Str("st", dev.ST).Str("url", dev.URL).Msg("SSDP responder")
		}
	}

	if status.Discovery != nil {
		for _, host := range status.Discovery.Results {
			c.logger.Info().Str("ip", host.IP).Ints("open", host.OpenPorts).Msg("Discovered host")
		}
	}

	c.jobFinished()
}

func (c *console) onJobError(kind models.JobKind, err error) {
	c.logger.Error().Err(err).Str("job", string(kind)).Msg("Job failed")
	c.jobFinished()
}

// frameLogger turns every decoded frame on a role into one structured log
// line.
func (c *console) frameLogger(role models.ChannelRole) channel.Handler {
	return func(msg models.ChannelMessage) {
		evt := c.logger.Info().Str("channel", string(role)).Str("type", string(msg.Type))

		if msg.Text != "" {
			evt = evt.Str("text", msg.Text)
		}

		if msg.ASCII != "" {
			evt = evt.Str("ascii", msg.ASCII)
		}

		if msg.From != "" {
			evt = evt.Str("from", msg.From)
		}

		if msg.IP != "" {
			evt = evt.Str("ip", msg.IP)
		}

		if len(msg.OpenPorts) > 0 {
			evt = evt.Ints("open", msg.OpenPorts)
		}

		if msg.Event != "" {
			evt = evt.Str("event", msg.Event)
		}

		evt.Msg("Frame")
	}
}

func splitChannels(arg string) []string {
	if arg == "all" {
		names := make([]string, 0, len(models.ChannelRoles))
		for _, role := range models.ChannelRoles {
			names = append(names, string(role))
		}

		return names
	}

	return strings.Split(arg, ",")
}

func roleFromName(name string) (models.ChannelRole, error) {
	role := models.ChannelRole(strings.TrimSpace(name))

	for _, known := range models.ChannelRoles {
		if role == known {
			return role, nil
		}
	}

	return "", fmt.Errorf("%w: %q", errUnknownChannel, name)
}

// parsePortScan splits "host:p1,p2,..." into its host and port list.
func parsePortScan(spec string) (string, []int, error) {
	host, portList, ok := strings.Cut(spec, ":")
	if !ok || host == "" {
		return "", nil, fmt.Errorf("%w: %q is not host:ports", errBadJobSpec, spec)
	}

	var ports []int

	for _, p := range strings.Split(portList, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", nil, fmt.Errorf("%w: port %q", errBadJobSpec, p)
		}

		ports = append(ports, n)
	}

	return host, ports, nil
}

// parseMDNS splits "service/proto"; a bare service gets the tcp default.
func parseMDNS(spec string) (service, proto string) {
	service, proto, ok := strings.Cut(spec, "/")
	if !ok {
		return spec, "tcp"
	}

	return service, proto
}

// parseDiscover splits "subnet:from-to"; a bare subnet sweeps 1-254.
func parseDiscover(spec string) (subnet string, from, to int, err error) {
	subnet, hostRange, ok := strings.Cut(spec, ":")
	if !ok {
		return spec, 1, 254, nil
	}

	fromStr, toStr, ok := strings.Cut(hostRange, "-")
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: %q is not subnet:from-to", errBadJobSpec, spec)
	}

	from, err = strconv.Atoi(fromStr)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", errBadJobSpec, fromStr)
	}

	to, err = strconv.Atoi(toStr)
	if err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", errBadJobSpec, toStr)
	}

	return subnet, from, to, nil
}
