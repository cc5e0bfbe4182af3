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

package devicesim

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
)

// errAlreadyRunning enforces the one-job-per-kind invariant; the REST layer
// maps it to 409 {"error":"already_running"}.
var errAlreadyRunning = errors.New("already_running")

var defaultDiscoveryPorts = []int{23, 80, 443, 5000, 1515, 6100}

const (
	probeTimeout    = 300 * time.Millisecond
	mdnsBrowseTime  = 4500 * time.Millisecond
	ssdpListenTime  = 3 * time.Second
	stubStepDelay   = 2 * time.Millisecond
	ssdpMulticastTo = "239.255.255.250:1900"
)

// jobRunner owns the four background jobs. Each kind holds its latest
// status for polling; a kind rejects a second start while its worker is
// still running.
type jobRunner struct {
	logger  logger.Logger
	stub    bool
	discHub *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	running  map[models.JobKind]bool
	portScan models.PortScanStatus
	mdns     models.MDNSStatus
	ssdp     models.SSDPStatus
	disc     models.DiscoveryStatus
}

func newJobRunner(discHub *hub, stub bool, log logger.Logger) *jobRunner {
	ctx, cancel := context.WithCancel(context.Background())

	return &jobRunner{
		logger:  log,
		stub:    stub,
		discHub: discHub,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[models.JobKind]bool),
	}
}

func (j *jobRunner) close() {
	j.cancel()
	j.wg.Wait()
}

// claim reserves a kind, or reports the conflict.
func (j *jobRunner) claim(kind models.JobKind) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running[kind] {
		return fmt.Errorf("%w: %s", errAlreadyRunning, kind)
	}

	j.running[kind] = true

	return nil
}

func (j *jobRunner) release(kind models.JobKind) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.running[kind] = false
}

func (j *jobRunner) spawn(kind models.JobKind, work func()) {
	j.wg.Add(1)

	go func() {
		defer j.wg.Done()
		defer j.release(kind)

		work()

		j.logger.Info().Str("job", string(kind)).Msg("Job finished")
	}()
}

// ── port scan ──

func (j *jobRunner) startPortScan(host string, ports []int) error {
	if err := j.claim(models.JobPortScan); err != nil {
		return err
	}

	j.mu.Lock()
	j.portScan = models.PortScanStatus{Running: true, Progress: 0, Open: []int{}}
	j.mu.Unlock()

	j.spawn(models.JobPortScan, func() {
		var open []int

		for i, port := range ports {
			if j.ctx.Err() != nil {
				break
			}

			if j.probePort(host, port) {
				open = append(open, port)
			}

			j.mu.Lock()
			j.portScan.Progress = (i + 1) * 100 / len(ports)
			j.portScan.Open = append([]int{}, open...)
			j.mu.Unlock()
		}

		j.mu.Lock()
		j.portScan.Running = false
		j.portScan.Progress = 100
		j.mu.Unlock()
	})

	return nil
}

func (j *jobRunner) probePort(host string, port int) bool {
	if j.stub {
		time.Sleep(stubStepDelay)
		return port == 22 || port == 80
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), probeTimeout)
	if err != nil {
		return false
	}

	_ = conn.Close()

	return true
}

func (j *jobRunner) portScanStatus() models.PortScanStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := j.portScan
	st.Open = append([]int{}, j.portScan.Open...)

	return st
}

// ── mDNS ──

func (j *jobRunner) startMDNS(service, proto string) error {
	if service == "" {
		service = "_http"
	}

	if proto == "" {
		proto = "tcp"
	}

	if err := j.claim(models.JobMDNS); err != nil {
		return err
	}

	j.mu.Lock()
	j.mdns = models.MDNSStatus{Running: true, Results: []models.MDNSRecord{}}
	j.mu.Unlock()

	j.spawn(models.JobMDNS, func() {
		var results []models.MDNSRecord

		if j.stub {
			time.Sleep(stubStepDelay)

			results = []models.MDNSRecord{
				{Hostname: "tv.local", IP: "192.168.1.20", Port: 8008},
				{Hostname: "amp.local", IP: "192.168.1.21", Port: 80},
			}
		} else {
			results = j.browseMDNS(service, proto)
		}

		j.mu.Lock()
		j.mdns = models.MDNSStatus{Running: false, Results: results, Count: len(results)}
		j.mu.Unlock()
	})

	return nil
}

func (j *jobRunner) browseMDNS(service, proto string) []models.MDNSRecord {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		j.logger.Warn().Err(err).Msg("mDNS resolver unavailable")
		return nil
	}

	ctx, cancel := context.WithTimeout(j.ctx, mdnsBrowseTime)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)

	if err := resolver.Browse(ctx, service+"._"+proto, "local.", entries); err != nil {
		j.logger.Warn().Err(err).Msg("mDNS browse failed")
		return nil
	}

	var results []models.MDNSRecord

	for entry := range entries {
		rec := models.MDNSRecord{Hostname: entry.HostName, Port: entry.Port}
		if len(entry.AddrIPv4) > 0 {
			rec.IP = entry.AddrIPv4[0].String()
		}

		results = append(results, rec)
	}

	return results
}

func (j *jobRunner) mdnsStatus() models.MDNSStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := j.mdns
	st.Results = append([]models.MDNSRecord{}, j.mdns.Results...)

	return st
}

// ── SSDP ──

func (j *jobRunner) startSSDP() error {
	if err := j.claim(models.JobSSDP); err != nil {
		return err
	}

	j.mu.Lock()
	j.ssdp = models.SSDPStatus{Running: true, Results: []models.SSDPDevice{}}
	j.mu.Unlock()

	j.spawn(models.JobSSDP, func() {
		var results []models.SSDPDevice

		if j.stub {
			time.Sleep(stubStepDelay)

			results = []models.SSDPDevice{{
				IP:           "192.168.1.40",
				URL:          "http://192.168.1.40:49152/desc.xml",
				USN:          "uuid:sim-media-renderer-0001",
				ST:           "upnp:rootdevice",
				FriendlyName: "Sim Media Renderer",
			}}
		} else {
			results = j.sweepSSDP()
		}

		j.mu.Lock()
		j.ssdp = models.SSDPStatus{Running: false, Results: results}
		j.mu.Unlock()
	})

	return nil
}

// sweepSSDP multicasts one M-SEARCH and collects unicast responses until
// the listen window closes. Responders are deduplicated by USN, falling
// back to ip+st when a responder omits it.
func (j *jobRunner) sweepSSDP() []models.SSDPDevice {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		j.logger.Warn().Err(err).Msg("SSDP socket unavailable")
		return nil
	}

	defer func() { _ = conn.Close() }()

	target, err := net.ResolveUDPAddr("udp4", ssdpMulticastTo)
	if err != nil {
		return nil
	}

	search := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpMulticastTo,
		`MAN: "ssdp:discover"`,
		"MX: 2",
		"ST: ssdp:all",
		"", "",
	}, "\r\n")

	if _, err := conn.WriteToUDP([]byte(search), target); err != nil {
		j.logger.Warn().Err(err).Msg("SSDP M-SEARCH send failed")
		return nil
	}

	_ = conn.SetReadDeadline(time.Now().Add(ssdpListenTime))

	seen := make(map[string]struct{})

	var results []models.SSDPDevice

	buf := make([]byte, 4096)

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			break
		}

		dev, ok := parseSSDPResponse(buf[:n], addr.IP.String())
		if !ok {
			continue
		}

		key := dev.USN
		if key == "" {
			key = dev.IP + "|" + dev.ST
		}

		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}
		results = append(results, dev)
	}

	return results
}

func parseSSDPResponse(raw []byte, ip string) (models.SSDPDevice, bool) {
	reader := bufio.NewReader(bytes.NewReader(raw))

	resp, err := http.ReadResponse(reader, nil)
	if err != nil {
		return models.SSDPDevice{}, false
	}

	defer func() { _ = resp.Body.Close() }()

	return models.SSDPDevice{
		IP:  ip,
		URL: resp.Header.Get("Location"),
		USN: resp.Header.Get("USN"),
		ST:  resp.Header.Get("ST"),
	}, true
}

func (j *jobRunner) ssdpStatus() models.SSDPStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := j.ssdp
	st.Results = append([]models.SSDPDevice{}, j.ssdp.Results...)

	return st
}

// ── discovery sweep ──

func (j *jobRunner) startDiscovery(subnet string, from, to int, ports []int) error {
	if from < 1 {
		from = 1
	}

	if to < from || to > 254 {
		to = 254
	}

	if len(ports) == 0 {
		ports = defaultDiscoveryPorts
	}

	if subnet == "" {
		subnet = j.ownSubnet()
	}

	if err := j.claim(models.JobDiscovery); err != nil {
		return err
	}

	j.mu.Lock()
	j.disc = models.DiscoveryStatus{Running: true, Progress: 0, Results: []models.DiscoveredHost{}}
	j.mu.Unlock()

	j.spawn(models.JobDiscovery, func() {
		if j.stub {
			j.stubSweep(subnet)
			return
		}

		j.sweep(subnet, from, to, ports)
	})

	return nil
}

func (j *jobRunner) stubSweep(subnet string) {
	hosts := []models.DiscoveredHost{
		{IP: subnet + ".30", OpenPorts: []int{23, 80}},
		{IP: subnet + ".40", OpenPorts: []int{5000}},
	}

	for i, host := range hosts {
		time.Sleep(stubStepDelay)

		j.mu.Lock()
		j.disc.Results = append(j.disc.Results, host)
		j.disc.Progress = (i + 1) * 100 / len(hosts)
		j.mu.Unlock()

		j.discHub.broadcast(host)
	}

	j.mu.Lock()
	j.disc.Running = false
	j.disc.Progress = 100
	j.mu.Unlock()
}

func (j *jobRunner) sweep(subnet string, from, to int, ports []int) {
	total := to - from + 1

	for i := 0; i < total; i++ {
		if j.ctx.Err() != nil {
			break
		}

		// A stop request flips Running off while the worker is mid-sweep.
		j.mu.Lock()
		stopped := !j.disc.Running
		j.mu.Unlock()

		if stopped {
			return
		}

		ip := fmt.Sprintf("%s.%d", subnet, from+i)

		var open []int

		for _, port := range ports {
			if j.probePort(ip, port) {
				open = append(open, port)
			}
		}

		if len(open) > 0 {
			host := models.DiscoveredHost{IP: ip, OpenPorts: open}

			j.mu.Lock()
			j.disc.Results = append(j.disc.Results, host)
			j.mu.Unlock()

			j.discHub.broadcast(host)
		}

		j.mu.Lock()
		j.disc.Progress = (i + 1) * 100 / total
		j.mu.Unlock()
	}

	j.mu.Lock()
	j.disc.Running = false
	j.mu.Unlock()
}

// stopDiscovery halts a running sweep; the partial results stay pollable.
func (j *jobRunner) stopDiscovery() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running[models.JobDiscovery] {
		j.disc.Running = false
	}
}

func (j *jobRunner) discoveryStatus() models.DiscoveryStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := j.disc
	st.Results = append([]models.DiscoveredHost{}, j.disc.Results...)

	return st
}

// ownSubnet picks the /24 prefix of the first private interface address,
// the sim's stand-in for the device's own network.
func (j *jobRunner) ownSubnet() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil || ipnet.IP.IsLoopback() {
				continue
			}

			octets := ipnet.IP.To4()

			return fmt.Sprintf("%d.%d.%d", octets[0], octets[1], octets[2])
		}
	}

	return "192.168.1"
}
