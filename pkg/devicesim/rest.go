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
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	ping "github.com/go-ping/ping"
	"github.com/google/uuid"

	"github.com/carverauto/avconsole/pkg/models"
)

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func readBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeErr(w, http.StatusBadRequest, "bad json")
		return false
	}

	return true
}

func (s *Simulator) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(models.ChannelPath(models.ChannelLog), s.logHub)
	mux.Handle(models.ChannelPath(models.ChannelTerminal), s.termHub)
	mux.Handle(models.ChannelPath(models.ChannelSerial), s.serialHub)
	mux.Handle(models.ChannelPath(models.ChannelDiscovery), s.discHub)
	mux.Handle(models.ChannelPath(models.ChannelUDP), s.udpHub)
	mux.Handle(models.ChannelPath(models.ChannelTCPServer), s.tcpsHub)

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/dashboard", s.handleDashboard)
	mux.HandleFunc("/api/wifi", s.handleWiFi)
	mux.HandleFunc("/api/wifi/scan", s.handleWiFiScan)
	mux.HandleFunc("/api/wifi/forget", s.handleWiFiForget)
	mux.HandleFunc("/api/ping", s.handlePing)
	mux.HandleFunc("/api/dns", s.handleDNS)
	mux.HandleFunc("/api/internet", s.handleInternet)
	mux.HandleFunc("/api/portscan", s.handlePortScan)
	mux.HandleFunc("/api/portscan/status", s.handlePortScanStatus)
	mux.HandleFunc("/api/mdns/scan", s.handleMDNSScan)
	mux.HandleFunc("/api/mdns/status", s.handleMDNSStatus)
	mux.HandleFunc("/api/ssdp/scan", s.handleSSDPScan)
	mux.HandleFunc("/api/ssdp/status", s.handleSSDPStatus)
	mux.HandleFunc("/api/discovery/start", s.handleDiscoveryStart)
	mux.HandleFunc("/api/discovery/stop", s.handleDiscoveryStop)
	mux.HandleFunc("/api/discovery/results", s.handleDiscoveryResults)
	mux.HandleFunc("/api/scan/subnet", s.handleSubnetScan)
	mux.HandleFunc("/api/proxy/start", s.handleProxyStart)
	mux.HandleFunc("/api/proxy/stop", s.handleProxyStop)
	mux.HandleFunc("/api/tcpserver", s.handleTCPServer)
	mux.HandleFunc("/api/udp/send", s.handleUDPSend)
	mux.HandleFunc("/api/udp/listen", s.handleUDPListen)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/reboot", s.handleReboot)
	mux.HandleFunc("/api/ota/check", s.handleOTACheck)
	mux.HandleFunc("/api/pjlink", s.handlePJLink)
	mux.HandleFunc("/api/pjlink/status", s.handlePJLinkStatus)
	mux.HandleFunc("/api/learner", s.handleLearner)
	mux.HandleFunc("/api/wol", s.handleWOL)
	mux.HandleFunc("/api/captures", s.handleCaptures)
	mux.HandleFunc("/api/capture/pin", s.handleCapturePin)
	mux.HandleFunc("/api/devices", s.handleDevices)
	mux.HandleFunc("/api/devices/status", s.handleDeviceStatuses)
	mux.HandleFunc("/api/devices/add", s.handleDeviceAdd)
	mux.HandleFunc("/api/devices/delete", s.handleDeviceDelete)
	mux.HandleFunc("/api/macros", s.handleMacros)
	mux.HandleFunc("/api/macros/get", s.handleMacroGet)
	mux.HandleFunc("/api/macros/save", s.handleMacroSave)
	mux.HandleFunc("/api/macros/delete", s.handleMacroDelete)
	mux.HandleFunc("/api/macros/run", s.handleMacroRun)

	return mux
}

func (s *Simulator) handleHealth(w http.ResponseWriter, _ *http.Request) {
	termConnected, termHost, termPort := s.term.connected()
	discStatus := s.jobs.discoveryStatus()

	s.mu.Lock()
	h := models.Health{
		FW:       simFirmwareVersion,
		UptimeS:  int64(time.Since(s.bootTime).Seconds()),
		HeapFree: 180000,
		WiFi: models.WiFiHealth{
			Mode:         s.wifi.Mode,
			STAConnected: true,
			STAIp:        "192.168.1.77",
			STASsid:      s.wifi.STASsid,
			APIp:         "192.168.4.1",
			APSsid:       s.wifi.APSsid,
			RSSI:         -52,
		},
		Learn: models.LearnHealth{Enabled: s.learnOn, Port: s.learnPt},
		Term:  models.TermHealth{Connected: termConnected, Host: termHost, Port: termPort},
		Proxy: s.proxy,
		Disc:  models.DiscHealth{Running: discStatus.Running, Progress: discStatus.Progress},
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, h)
}

func (s *Simulator) handleDashboard(w http.ResponseWriter, _ *http.Request) {
	termConnected, _, _ := s.term.connected()

	s.mu.Lock()
	d := models.Dashboard{
		FW:            simFirmwareVersion,
		UptimeS:       int64(time.Since(s.bootTime).Seconds()),
		HeapFree:      180000,
		WiFiConnected: true,
		WiFiRSSI:      -52,
		WiFiIP:        "192.168.1.77",
		APIp:          "192.168.4.1",
		TermConnected: termConnected,
		ProxyRunning:  s.proxy.Running,
		LearnEnabled:  s.learnOn,
		MacrosCount:   len(s.macros),
		Devices:       s.deviceStatusesLocked(),
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, d)
}

func (s *Simulator) handleWiFi(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.mu.Lock()
		cfg := s.wifi
		s.mu.Unlock()

		// Secrets never leave the device.
		cfg.STAPass = ""
		cfg.APPass = ""

		writeJSON(w, http.StatusOK, cfg)

		return
	}

	var cfg models.WiFiConfig
	if !readBody(w, r, &cfg) {
		return
	}

	s.mu.Lock()
	s.wifi = cfg
	s.mu.Unlock()

	s.pushLog("wifi config saved, reboot to apply")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleWiFiScan(w http.ResponseWriter, _ *http.Request) {
	scan := models.WiFiScan{
		Count: 3,
		Networks: []models.WiFiNetwork{
			{SSID: "lab", RSSI: -40, Chan: 6, Open: false},
			{SSID: "av-backstage", RSSI: -61, Chan: 11, Open: false},
			{SSID: "guest", RSSI: -73, Chan: 1, Open: true},
		},
	}

	writeJSON(w, http.StatusOK, scan)
}

func (s *Simulator) handleWiFiForget(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.wifi.STASsid = ""
	s.wifi.STAPass = ""
	s.mu.Unlock()

	s.pushLog("sta credentials cleared")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handlePing(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		writeErr(w, http.StatusBadRequest, "host required")
		return
	}

	if s.config.Stub {
		writeJSON(w, http.StatusOK, models.PingResult{Host: host, OK: true, AvgTimeMs: 3.5})
		return
	}

	pinger, err := ping.NewPinger(host)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad host")
		return
	}

	pinger.Count = 3
	pinger.Timeout = 3 * time.Second
	pinger.SetPrivileged(false)

	if err := pinger.Run(); err != nil {
		writeJSON(w, http.StatusOK, models.PingResult{Host: host, OK: false})
		return
	}

	stats := pinger.Statistics()
	writeJSON(w, http.StatusOK, models.PingResult{
		Host:      host,
		OK:        stats.PacketsRecv > 0,
		AvgTimeMs: float64(stats.AvgRtt) / float64(time.Millisecond),
	})
}

func (s *Simulator) handleDNS(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host string `json:"host"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if body.Host == "" {
		writeErr(w, http.StatusBadRequest, "host required")
		return
	}

	if s.config.Stub {
		writeJSON(w, http.StatusOK, models.DNSResult{OK: true, IP: "93.184.216.34"})
		return
	}

	addrs, err := net.DefaultResolver.LookupHost(r.Context(), body.Host)
	if err != nil || len(addrs) == 0 {
		writeJSON(w, http.StatusOK, models.DNSResult{OK: false})
		return
	}

	writeJSON(w, http.StatusOK, models.DNSResult{OK: true, IP: addrs[0]})
}

func (s *Simulator) handleInternet(w http.ResponseWriter, r *http.Request) {
	if s.config.Stub {
		writeJSON(w, http.StatusOK, models.InternetStatus{DNS: true, Ping: true})
		return
	}

	_, dnsErr := net.DefaultResolver.LookupHost(r.Context(), "google.com")

	pingOK := false
	if pinger, err := ping.NewPinger("8.8.8.8"); err == nil {
		pinger.Count = 1
		pinger.Timeout = 2 * time.Second
		pinger.SetPrivileged(false)

		if pinger.Run() == nil {
			pingOK = pinger.Statistics().PacketsRecv > 0
		}
	}

	writeJSON(w, http.StatusOK, models.InternetStatus{DNS: dnsErr == nil, Ping: pingOK})
}

func (s *Simulator) handlePortScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Host  string `json:"host"`
		Ports []int  `json:"ports"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if body.Host == "" || len(body.Ports) == 0 {
		writeErr(w, http.StatusBadRequest, "host and ports required")
		return
	}

	if err := s.jobs.startPortScan(body.Host, body.Ports); err != nil {
		writeErr(w, http.StatusConflict, "already_running")
		return
	}

	s.pushLog("port scan started: " + body.Host)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handlePortScanStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.portScanStatus())
}

func (s *Simulator) handleMDNSScan(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Service string `json:"service"`
		Proto   string `json:"proto"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if err := s.jobs.startMDNS(body.Service, body.Proto); err != nil {
		writeErr(w, http.StatusConflict, "already_running")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleMDNSStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.mdnsStatus())
}

func (s *Simulator) handleSSDPScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.jobs.startSSDP(); err != nil {
		writeErr(w, http.StatusConflict, "already_running")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleSSDPStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.ssdpStatus())
}

func (s *Simulator) handleDiscoveryStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Subnet string `json:"subnet"`
		From   int    `json:"from"`
		To     int    `json:"to"`
		Ports  []int  `json:"ports"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if err := s.jobs.startDiscovery(body.Subnet, body.From, body.To, body.Ports); err != nil {
		writeErr(w, http.StatusConflict, "already_running")
		return
	}

	s.pushLog("discovery sweep started")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleDiscoveryStop(w http.ResponseWriter, _ *http.Request) {
	s.jobs.stopDiscovery()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleDiscoveryResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.discoveryStatus())
}

func (s *Simulator) handleSubnetScan(w http.ResponseWriter, _ *http.Request) {
	if err := s.jobs.startDiscovery("", 1, 254, nil); err != nil {
		writeErr(w, http.StatusConflict, "already_running")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleProxyStart(w http.ResponseWriter, r *http.Request) {
	var params models.ProxyParams
	if !readBody(w, r, &params) {
		return
	}

	if params.ListenPort < 1 || params.TargetHost == "" {
		writeErr(w, http.StatusBadRequest, "listenPort and targetHost required")
		return
	}

	s.mu.Lock()
	s.proxy = models.ProxyHealth{
		Running:        true,
		ListenPort:     params.ListenPort,
		TargetHost:     params.TargetHost,
		TargetPort:     params.TargetPort,
		CaptureToLearn: params.CaptureToLearn,
	}
	s.mu.Unlock()

	s.pushLog("capture proxy started")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleProxyStop(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.proxy = models.ProxyHealth{}
	s.mu.Unlock()

	s.pushLog("capture proxy stopped")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleTCPServer(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		running, port := s.tcps.state()
		writeJSON(w, http.StatusOK, models.TCPServerState{Running: running, Port: port})

		return
	}

	var body struct {
		Action string `json:"action"`
		Port   int    `json:"port"`
	}

	if !readBody(w, r, &body) {
		return
	}

	switch body.Action {
	case "start":
		if err := s.tcps.start(body.Port); err != nil {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
	case "stop":
		s.tcps.stop()
	default:
		writeErr(w, http.StatusBadRequest, "unknown action")
		return
	}

	running, port := s.tcps.state()
	writeJSON(w, http.StatusOK, models.TCPServerState{Running: running, Port: port})
}

func (s *Simulator) handleUDPSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
		Data string `json:"data"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if body.IP == "" || body.Port < 1 {
		writeErr(w, http.StatusBadRequest, "ip and port required")
		return
	}

	if err := s.udp.send(body.IP, body.Port, body.Data); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleUDPListen(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Port int `json:"port"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if body.Port < 1 {
		writeErr(w, http.StatusBadRequest, "port required")
		return
	}

	if err := s.udp.listen(body.Port); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.udpPort = body.Port
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.mu.Lock()
		raw := append([]byte{}, s.rawCfg...)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)

		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(raw) {
		writeErr(w, http.StatusBadRequest, "bad json")
		return
	}

	s.mu.Lock()
	s.rawCfg = raw
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleReboot(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.bootTime = time.Now()
	s.mu.Unlock()

	s.pushLog("rebooting")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleOTACheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "update": false, "version": simFirmwareVersion})
}

func (s *Simulator) handlePJLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IP   string `json:"ip"`
		Pass string `json:"pass"`
		Cmd  string `json:"cmd"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if body.IP == "" || body.Cmd == "" {
		writeErr(w, http.StatusBadRequest, "ip and cmd required")
		return
	}

	s.mu.Lock()
	s.pjlink = pjlinkState{pending: true}
	s.mu.Unlock()

	// The exchange completes asynchronously; clients poll /api/pjlink/status.
	go func() {
		time.Sleep(10 * time.Millisecond)

		s.mu.Lock()
		s.pjlink = pjlinkState{finished: true, response: "%1" + body.Cmd + "=OK"}
		s.mu.Unlock()
	}()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handlePJLinkStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	st := s.pjlink
	s.mu.Unlock()

	switch {
	case st.pending:
		writeJSON(w, http.StatusOK, models.PJLinkResult{Status: "running"})
	case st.finished:
		writeJSON(w, http.StatusOK, models.PJLinkResult{Status: "done", Response: st.response})
	default:
		writeJSON(w, http.StatusOK, models.PJLinkResult{Status: "idle"})
	}
}

func (s *Simulator) handleLearner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
		Port    int   `json:"port"`
	}

	if !readBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	if body.Enabled != nil {
		s.learnOn = *body.Enabled
	}

	if body.Port > 0 {
		s.learnPt = body.Port
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

var macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

func (s *Simulator) handleWOL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		MAC string `json:"mac"`
	}

	if !readBody(w, r, &body) {
		return
	}

	if !macRe.MatchString(body.MAC) {
		writeErr(w, http.StatusBadRequest, "bad mac")
		return
	}

	s.pushLog("wol sent to " + body.MAC)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleCaptures(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	pinnedOnly := r.URL.Query().Get("pinned") == "1"

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Capture, 0, len(s.captures))

	// Newest first, as the firmware lists them.
	for i := len(s.captures) - 1; i >= 0; i-- {
		c := s.captures[i]
		if pinnedOnly && !c.Pinned {
			continue
		}

		if filter != "" && !strings.Contains(c.SrcIP, filter) {
			continue
		}

		out = append(out, c)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"captures": out})
}

func (s *Simulator) handleCapturePin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID     string `json:"id"`
		Pinned bool   `json:"pinned"`
	}

	if !readBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.captures {
		if s.captures[i].ID == body.ID {
			s.captures[i].Pinned = body.Pinned
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

			return
		}
	}

	writeErr(w, http.StatusNotFound, "no such capture")
}

func (s *Simulator) handleDevices(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := append([]models.DeviceRecord{}, s.devices...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Simulator) deviceStatusesLocked() []models.DeviceStatus {
	out := make([]models.DeviceStatus, 0, len(s.devices))

	for _, d := range s.devices {
		out = append(out, models.DeviceStatus{
			ID:         d.ID,
			Online:     true,
			LastSeenMs: 100,
			IP:         d.IP,
			Port:       d.PortHint,
		})
	}

	return out
}

func (s *Simulator) handleDeviceStatuses(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	statuses := s.deviceStatusesLocked()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": statuses})
}

func (s *Simulator) handleDeviceAdd(w http.ResponseWriter, r *http.Request) {
	var rec models.DeviceRecord
	if !readBody(w, r, &rec) {
		return
	}

	if rec.IP == "" {
		writeErr(w, http.StatusBadRequest, "ip required")
		return
	}

	if rec.Name == "" {
		rec.Name = "Device"
	}

	rec.ID = uuid.NewString()

	s.mu.Lock()
	s.devices = append(s.devices, rec)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, rec)
}

func (s *Simulator) handleDeviceDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}

	if !readBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.devices {
		if s.devices[i].ID == body.ID {
			s.devices = append(s.devices[:i], s.devices[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

			return
		}
	}

	writeErr(w, http.StatusNotFound, "no such device")
}

func (s *Simulator) handleMacros(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	out := make([]models.MacroSummary, 0, len(s.macros))

	for _, m := range s.macros {
		out = append(out, models.MacroSummary{ID: m.ID, Name: m.Name, Icon: m.Icon, StepCount: len(m.Steps)})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Simulator) handleMacroGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.macros {
		if m.ID == id {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}

	writeErr(w, http.StatusNotFound, "no such macro")
}

func (s *Simulator) handleMacroSave(w http.ResponseWriter, r *http.Request) {
	var m models.Macro
	if !readBody(w, r, &m) {
		return
	}

	if m.Name == "" {
		writeErr(w, http.StatusBadRequest, "name required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
		s.macros = append(s.macros, m)
	} else {
		replaced := false

		for i := range s.macros {
			if s.macros[i].ID == m.ID {
				s.macros[i] = m
				replaced = true

				break
			}
		}

		if !replaced {
			s.macros = append(s.macros, m)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Simulator) handleMacroDelete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}

	if !readBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.macros {
		if s.macros[i].ID == body.ID {
			s.macros = append(s.macros[:i], s.macros[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

			return
		}
	}

	writeErr(w, http.StatusNotFound, "no such macro")
}

func (s *Simulator) handleMacroRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID string `json:"id"`
	}

	if !readBody(w, r, &body) {
		return
	}

	s.mu.Lock()
	var found *models.Macro

	for i := range s.macros {
		if s.macros[i].ID == body.ID {
			found = &s.macros[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		writeErr(w, http.StatusNotFound, "no such macro")
		return
	}

	s.pushLog("macro run: " + found.Name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "steps": len(found.Steps)})
}
