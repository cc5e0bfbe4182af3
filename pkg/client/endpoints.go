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

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/carverauto/avconsole/pkg/models"
)

// Health fetches the device health snapshot.
func (dc *DeviceClient) Health(ctx context.Context) (models.Health, error) {
	var out models.Health
	err := dc.getJSON(ctx, "/api/health", nil, &out)

	return out, err
}

// Dashboard fetches the flattened dashboard summary.
func (dc *DeviceClient) Dashboard(ctx context.Context) (models.Dashboard, error) {
	var out models.Dashboard
	err := dc.getJSON(ctx, "/api/dashboard", nil, &out)

	return out, err
}

// GetWiFi fetches the stored wireless configuration. Passwords are never
// included in the response.
func (dc *DeviceClient) GetWiFi(ctx context.Context) (models.WiFiConfig, error) {
	var out models.WiFiConfig
	err := dc.getJSON(ctx, "/api/wifi", nil, &out)

	return out, err
}

// SetWiFi stores a wireless configuration. The device applies it on the
// next reboot.
func (dc *DeviceClient) SetWiFi(ctx context.Context, cfg models.WiFiConfig) error {
	return dc.postJSON(ctx, "/api/wifi", cfg, nil)
}

// WiFiScan lists visible networks. With fresh set the device rescans
// instead of serving its cache.
func (dc *DeviceClient) WiFiScan(ctx context.Context, fresh bool) (models.WiFiScan, error) {
	var query url.Values
	if fresh {
		query = url.Values{"fresh": {"1"}}
	}

	var out models.WiFiScan
	err := dc.getJSON(ctx, "/api/wifi/scan", query, &out)

	return out, err
}

// ForgetWiFi clears the stored station credentials.
func (dc *DeviceClient) ForgetWiFi(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/wifi/forget", nil, nil)
}

// Ping asks the device to ICMP-ping a host from its own network.
func (dc *DeviceClient) Ping(ctx context.Context, host string) (models.PingResult, error) {
	if host == "" {
		return models.PingResult{}, fmt.Errorf("%w: host is required", ErrValidation)
	}

	var out models.PingResult
	err := dc.getJSON(ctx, "/api/ping", url.Values{"host": {host}}, &out)

	return out, err
}

// DNSLookup resolves a hostname through the device's resolver.
func (dc *DeviceClient) DNSLookup(ctx context.Context, host string) (models.DNSResult, error) {
	if host == "" {
		return models.DNSResult{}, fmt.Errorf("%w: host is required", ErrValidation)
	}

	var out models.DNSResult
	err := dc.postJSON(ctx, "/api/dns", map[string]string{"host": host}, &out)

	return out, err
}

// InternetCheck reports whether the device can resolve and ping out.
func (dc *DeviceClient) InternetCheck(ctx context.Context) (models.InternetStatus, error) {
	var out models.InternetStatus
	err := dc.getJSON(ctx, "/api/internet", nil, &out)

	return out, err
}

// StartPortScan starts a device-side scan of the given ports on host.
func (dc *DeviceClient) StartPortScan(ctx context.Context, host string, ports []int) error {
	if host == "" {
		return fmt.Errorf("%w: host is required", ErrValidation)
	}

	if len(ports) == 0 {
		return fmt.Errorf("%w: at least one port is required", ErrValidation)
	}

	body := map[string]interface{}{"host": host, "ports": ports}

	return dc.postJSON(ctx, "/api/portscan", body, nil)
}

// PortScanStatus polls the running port scan.
func (dc *DeviceClient) PortScanStatus(ctx context.Context) (models.PortScanStatus, error) {
	var out models.PortScanStatus
	err := dc.getJSON(ctx, "/api/portscan/status", nil, &out)

	return out, err
}

// StartMDNSScan starts a device-side mDNS browse. Empty service/proto use
// the device defaults.
func (dc *DeviceClient) StartMDNSScan(ctx context.Context, service, proto string) error {
	body := map[string]string{}
	if service != "" {
		body["service"] = service
	}

	if proto != "" {
		body["proto"] = proto
	}

	return dc.postJSON(ctx, "/api/mdns/scan", body, nil)
}

// MDNSStatus polls the running mDNS browse.
func (dc *DeviceClient) MDNSStatus(ctx context.Context) (models.MDNSStatus, error) {
	var out models.MDNSStatus
	err := dc.getJSON(ctx, "/api/mdns/status", nil, &out)

	return out, err
}

// StartSSDPScan starts a device-side SSDP M-SEARCH sweep.
func (dc *DeviceClient) StartSSDPScan(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/ssdp/scan", nil, nil)
}

// SSDPStatus polls the running SSDP sweep.
func (dc *DeviceClient) SSDPStatus(ctx context.Context) (models.SSDPStatus, error) {
	var out models.SSDPStatus
	err := dc.getJSON(ctx, "/api/ssdp/status", nil, &out)

	return out, err
}

// StartDiscovery starts the subnet discovery sweep. Hits stream on the
// discovery channel as they are found.
func (dc *DeviceClient) StartDiscovery(ctx context.Context, subnet string, from, to int) error {
	body := map[string]interface{}{"subnet": subnet, "from": from, "to": to}
	return dc.postJSON(ctx, "/api/discovery/start", body, nil)
}

// StopDiscovery cancels a running discovery sweep on the device.
func (dc *DeviceClient) StopDiscovery(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/discovery/stop", nil, nil)
}

// DiscoveryResults polls the accumulated discovery results.
func (dc *DeviceClient) DiscoveryResults(ctx context.Context) (models.DiscoveryStatus, error) {
	var out models.DiscoveryStatus
	err := dc.getJSON(ctx, "/api/discovery/results", nil, &out)

	return out, err
}

// SubnetScan sweeps the device's own /24 for common AV control ports,
// pushing hits to the discovery channel.
func (dc *DeviceClient) SubnetScan(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/scan/subnet", nil, nil)
}

// StartProxy starts the capture proxy with the given parameters.
func (dc *DeviceClient) StartProxy(ctx context.Context, params models.ProxyParams) error {
	if params.ListenPort < 1 || params.ListenPort > 65535 {
		return fmt.Errorf("%w: listen port %d out of range", ErrValidation, params.ListenPort)
	}

	if params.TargetHost == "" {
		return fmt.Errorf("%w: target host is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/proxy/start", params, nil)
}

// StopProxy stops the capture proxy.
func (dc *DeviceClient) StopProxy(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/proxy/stop", nil, nil)
}

// TCPServer fetches the embedded TCP server state.
func (dc *DeviceClient) TCPServer(ctx context.Context) (models.TCPServerState, error) {
	var out models.TCPServerState
	err := dc.getJSON(ctx, "/api/tcpserver", nil, &out)

	return out, err
}

// StartTCPServer starts the embedded TCP server on the given port.
func (dc *DeviceClient) StartTCPServer(ctx context.Context, port int) (models.TCPServerState, error) {
	if port < 1 || port > 65535 {
		return models.TCPServerState{}, fmt.Errorf("%w: port %d out of range", ErrValidation, port)
	}

	body := map[string]interface{}{"action": "start", "port": port}

	var out models.TCPServerState
	err := dc.postJSON(ctx, "/api/tcpserver", body, &out)

	return out, err
}

// StopTCPServer stops the embedded TCP server.
func (dc *DeviceClient) StopTCPServer(ctx context.Context) (models.TCPServerState, error) {
	body := map[string]interface{}{"action": "stop"}

	var out models.TCPServerState
	err := dc.postJSON(ctx, "/api/tcpserver", body, &out)

	return out, err
}

// UDPSend transmits a datagram from the device.
func (dc *DeviceClient) UDPSend(ctx context.Context, ip string, port int, data string) error {
	if ip == "" {
		return fmt.Errorf("%w: ip is required", ErrValidation)
	}

	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrValidation, port)
	}

	body := map[string]interface{}{"ip": ip, "port": port, "data": data}

	return dc.postJSON(ctx, "/api/udp/send", body, nil)
}

// UDPListen points the device's UDP listener at a port; received datagrams
// stream on the udp channel.
func (dc *DeviceClient) UDPListen(ctx context.Context, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrValidation, port)
	}

	return dc.postJSON(ctx, "/api/udp/listen", map[string]int{"port": port}, nil)
}

// GetConfig fetches the raw device configuration document. The document is
// passed through untyped; editing it is the caller's business.
func (dc *DeviceClient) GetConfig(ctx context.Context) (json.RawMessage, error) {
	var out json.RawMessage
	err := dc.getJSON(ctx, "/api/config", nil, &out)

	return out, err
}

// SetConfig replaces the raw device configuration document.
func (dc *DeviceClient) SetConfig(ctx context.Context, cfg json.RawMessage) error {
	return dc.postJSON(ctx, "/api/config", cfg, nil)
}

// Reboot restarts the device.
func (dc *DeviceClient) Reboot(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/reboot", nil, nil)
}

// OTACheck asks the device to check for a firmware update.
func (dc *DeviceClient) OTACheck(ctx context.Context) error {
	return dc.postJSON(ctx, "/api/ota/check", nil, nil)
}

// PJLink sends a PJLink command to a projector through the device. The
// result is collected asynchronously via PJLinkStatus.
func (dc *DeviceClient) PJLink(ctx context.Context, ip, pass, cmd string) error {
	if ip == "" {
		return fmt.Errorf("%w: ip is required", ErrValidation)
	}

	if cmd == "" {
		return fmt.Errorf("%w: cmd is required", ErrValidation)
	}

	body := map[string]string{"ip": ip, "pass": pass, "cmd": cmd}

	return dc.postJSON(ctx, "/api/pjlink", body, nil)
}

// PJLinkStatus polls the last PJLink exchange: status is idle, running or
// done, with the projector response once done.
func (dc *DeviceClient) PJLinkStatus(ctx context.Context) (models.PJLinkResult, error) {
	var out models.PJLinkResult
	err := dc.getJSON(ctx, "/api/pjlink/status", nil, &out)

	return out, err
}

// SetLearner enables or disables the UDP capture learner.
func (dc *DeviceClient) SetLearner(ctx context.Context, enabled bool, port int) error {
	body := map[string]interface{}{"enabled": enabled}
	if port > 0 {
		body["port"] = port
	}

	return dc.postJSON(ctx, "/api/learner", body, nil)
}

// WOL broadcasts a wake-on-LAN magic packet for the given MAC.
func (dc *DeviceClient) WOL(ctx context.Context, mac string) error {
	if mac == "" {
		return fmt.Errorf("%w: mac is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/wol", map[string]string{"mac": mac}, nil)
}

// Captures lists captured payloads, newest first. filter narrows by source
// IP substring; pinnedOnly keeps pinned entries.
func (dc *DeviceClient) Captures(ctx context.Context, filter string, pinnedOnly bool) ([]models.Capture, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("filter", filter)
	}

	if pinnedOnly {
		query.Set("pinned", "1")
	}

	var out struct {
		Captures []models.Capture `json:"captures"`
	}

	err := dc.getJSON(ctx, "/api/captures", query, &out)

	return out.Captures, err
}

// PinCapture toggles the pinned flag on a capture so eviction skips it.
func (dc *DeviceClient) PinCapture(ctx context.Context, id string, pinned bool) error {
	if id == "" {
		return fmt.Errorf("%w: capture id is required", ErrValidation)
	}

	body := map[string]interface{}{"id": id, "pinned": pinned}

	return dc.postJSON(ctx, "/api/capture/pin", body, nil)
}

// Devices lists the stored AV endpoints.
func (dc *DeviceClient) Devices(ctx context.Context) ([]models.DeviceRecord, error) {
	var out []models.DeviceRecord
	err := dc.getJSON(ctx, "/api/devices", nil, &out)

	return out, err
}

// DeviceStatuses reports liveness for every stored AV endpoint.
func (dc *DeviceClient) DeviceStatuses(ctx context.Context) ([]models.DeviceStatus, error) {
	var out struct {
		Status []models.DeviceStatus `json:"status"`
	}

	err := dc.getJSON(ctx, "/api/devices/status", nil, &out)

	return out.Status, err
}

// AddDevice stores a new AV endpoint.
func (dc *DeviceClient) AddDevice(ctx context.Context, rec models.DeviceRecord) error {
	if rec.IP == "" {
		return fmt.Errorf("%w: device ip is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/devices/add", rec, nil)
}

// DeleteDevice removes a stored AV endpoint by id.
func (dc *DeviceClient) DeleteDevice(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/devices/delete", map[string]string{"id": id}, nil)
}

// Macros lists stored macros without their steps.
func (dc *DeviceClient) Macros(ctx context.Context) ([]models.MacroSummary, error) {
	var out []models.MacroSummary
	err := dc.getJSON(ctx, "/api/macros", nil, &out)

	return out, err
}

// GetMacro fetches one macro with its steps.
func (dc *DeviceClient) GetMacro(ctx context.Context, id string) (models.Macro, error) {
	if id == "" {
		return models.Macro{}, fmt.Errorf("%w: macro id is required", ErrValidation)
	}

	var out models.Macro
	err := dc.getJSON(ctx, "/api/macros/get", url.Values{"id": {id}}, &out)

	return out, err
}

// SaveMacro creates or replaces a macro.
func (dc *DeviceClient) SaveMacro(ctx context.Context, m models.Macro) error {
	if m.Name == "" {
		return fmt.Errorf("%w: macro name is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/macros/save", m, nil)
}

// DeleteMacro removes a macro by id.
func (dc *DeviceClient) DeleteMacro(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: macro id is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/macros/delete", map[string]string{"id": id}, nil)
}

// RunMacro executes a macro on the device.
func (dc *DeviceClient) RunMacro(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: macro id is required", ErrValidation)
	}

	return dc.postJSON(ctx, "/api/macros/run", map[string]string{"id": id}, nil)
}
