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

// Package devicesim is an in-process implementation of the device's REST
// and WebSocket surface, frame-compatible with the firmware. It backs the
// integration tests and ships as a standalone binary for bench work. With
// Stub set the network-touching scanners are replaced by canned
// deterministic results.
package devicesim

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
)

const simFirmwareVersion = "sim-1.0.0"

// errMissingListenAddr rejects configs without a listen address.
var errMissingListenAddr = errors.New("listen_addr is required")

// Config configures the simulator.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	Stub       bool   `json:"stub"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errMissingListenAddr
	}

	return nil
}

type pjlinkState struct {
	pending  bool
	finished bool
	response string
}

// Simulator is one simulated device. It implements lifecycle.Service.
type Simulator struct {
	config Config
	logger logger.Logger

	server   *http.Server
	listener net.Listener
	bootTime time.Time

	logHub    *hub
	termHub   *hub
	serialHub *hub
	discHub   *hub
	udpHub    *hub
	tcpsHub   *hub

	serial *serialBridge
	term   *terminalBridge
	udp    *udpEndpoint
	tcps   *tcpServer
	jobs   *jobRunner

	mu       sync.Mutex
	wifi     models.WiFiConfig
	rawCfg   []byte
	captures []models.Capture
	devices  []models.DeviceRecord
	macros   []models.Macro
	learnOn  bool
	learnPt  int
	proxy    models.ProxyHealth
	pjlink   pjlinkState
	udpPort  int
}

// New creates a simulator from config. Start binds the listener.
func New(cfg Config, log logger.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("devicesim config: %w", err)
	}

	s := &Simulator{
		config:   cfg,
		logger:   log,
		bootTime: time.Now(),
		wifi:     models.WiFiConfig{Mode: "sta", STASsid: "lab", APSsid: "AV-CONSOLE", APChan: 6},
		rawCfg:   []byte(`{"devices":[]}`),
		learnPt:  5000,
	}

	s.logHub = newHub(models.ChannelPath(models.ChannelLog), log)
	// The log feed is paced so chatty periods cannot flood slow clients.
	s.logHub.limiter = rate.NewLimiter(rate.Limit(200), 50)
	s.termHub = newHub(models.ChannelPath(models.ChannelTerminal), log)
	s.serialHub = newHub(models.ChannelPath(models.ChannelSerial), log)
	s.discHub = newHub(models.ChannelPath(models.ChannelDiscovery), log)
	s.discHub.limiter = rate.NewLimiter(rate.Limit(100), 25)
	s.udpHub = newHub(models.ChannelPath(models.ChannelUDP), log)
	s.tcpsHub = newHub(models.ChannelPath(models.ChannelTCPServer), log)

	s.serial = newSerialBridge(s.serialHub, log)
	s.term = newTerminalBridge(s.termHub, log)
	s.udp = newUDPEndpoint(s.udpHub, log)
	s.udp.onData = s.recordCapture
	s.tcps = newTCPServer(s.tcpsHub, log)
	s.jobs = newJobRunner(s.discHub, cfg.Stub, log)

	return s, nil
}

// Start binds the listener and serves until Stop.
func (s *Simulator) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("devicesim listen: %w", err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Bool("stub", s.config.Stub).Msg("Device simulator listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Simulator server stopped")
		}
	}()

	s.pushLog("boot complete, fw " + simFirmwareVersion)

	return nil
}

// Stop shuts the server and every bridge down.
func (s *Simulator) Stop(ctx context.Context) error {
	s.jobs.close()
	s.term.close()
	s.udp.close()
	s.tcps.stop()

	for _, h := range []*hub{s.logHub, s.termHub, s.serialHub, s.discHub, s.udpHub, s.tcpsHub} {
		h.closeAll()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("devicesim shutdown: %w", err)
		}
	}

	return nil
}

// Addr reports the bound listen address, useful with ":0" configs.
func (s *Simulator) Addr() string {
	if s.listener == nil {
		return s.config.ListenAddr
	}

	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for a running simulator.
func (s *Simulator) BaseURL() string {
	return "http://" + s.Addr()
}

// pushLog emits one structured {t:"log"} line on the log channel.
func (s *Simulator) pushLog(msg string) {
	s.logHub.broadcast(map[string]string{"t": "log", "msg": msg})
}

// recordCapture stores a received datagram while the learner is enabled.
// A datagram identical to the previous entry from the same sender bumps
// its repeat count instead of appending a duplicate.
func (s *Simulator) recordCapture(from string, srcPort, localPort int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.learnOn {
		return
	}

	now := time.Now().UnixMilli()
	raw := strings.ToUpper(hex.EncodeToString(data))

	if n := len(s.captures); n > 0 {
		last := &s.captures[n-1]
		if last.SrcIP == from && last.Hex == raw {
			last.Repeats++
			last.LastTS = now

			return
		}
	}

	s.captures = append(s.captures, models.Capture{
		ID:          uuid.NewString(),
		TS:          now,
		SrcIP:       from,
		SrcPort:     srcPort,
		LocalPort:   localPort,
		Hex:         raw,
		ASCII:       printableASCII(string(data)),
		Repeats:     1,
		LastTS:      now,
		SuffixHint:  suffixHint(data),
		PayloadType: "udp",
	})
}

// suffixHint names the trailing line terminator of a payload, if any.
func suffixHint(data []byte) string {
	s := string(data)

	switch {
	case strings.HasSuffix(s, "\r\n"):
		return "crlf"
	case strings.HasSuffix(s, "\r"):
		return "cr"
	case strings.HasSuffix(s, "\n"):
		return "lf"
	default:
		return "none"
	}
}
