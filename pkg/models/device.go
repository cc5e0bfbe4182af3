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

package models

// WiFiHealth is the wifi block of the health snapshot.
type WiFiHealth struct {
	Mode         string `json:"mode"`
	STAConnected bool   `json:"staConnected"`
	STAIp        string `json:"staIp"`
	STASsid      string `json:"staSsid"`
	APIp         string `json:"apIp"`
	APSsid       string `json:"apSsid"`
	RSSI         int    `json:"rssi"`
}

// LearnHealth reports the capture learner state.
type LearnHealth struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// TermHealth reports the terminal bridge state.
type TermHealth struct {
	Connected bool   `json:"connected"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

// ProxyHealth reports the capture proxy state.
type ProxyHealth struct {
	Running        bool   `json:"running"`
	ListenPort     int    `json:"listenPort"`
	TargetHost     string `json:"targetHost"`
	TargetPort     int    `json:"targetPort"`
	CaptureToLearn bool   `json:"captureToLearn"`
}

// DiscHealth reports the discovery sweep state.
type DiscHealth struct {
	Running  bool `json:"running"`
	Progress int  `json:"progress"`
}

// Health is the device's /api/health snapshot.
type Health struct {
	FW       string      `json:"fw"`
	UptimeS  int64       `json:"uptime_s"`
	HeapFree int64       `json:"heap_free"`
	WiFi     WiFiHealth  `json:"wifi"`
	Learn    LearnHealth `json:"learn"`
	Term     TermHealth  `json:"term"`
	Proxy    ProxyHealth `json:"proxy"`
	Disc     DiscHealth  `json:"disc"`
}

// WiFiConfig is the device's stored wireless configuration.
type WiFiConfig struct {
	Mode    string `json:"mode"`
	STASsid string `json:"staSsid"`
	STAPass string `json:"staPass,omitempty"`
	APSsid  string `json:"apSsid"`
	APPass  string `json:"apPass,omitempty"`
	APChan  int    `json:"apChan"`
}

// WiFiNetwork is one network seen by a wireless scan.
type WiFiNetwork struct {
	SSID string `json:"ssid"`
	RSSI int    `json:"rssi"`
	Chan int    `json:"chan"`
	Open bool   `json:"open"`
}

// WiFiScan is the device's /api/wifi/scan response.
type WiFiScan struct {
	Count    int           `json:"count"`
	Note     string        `json:"note,omitempty"`
	Networks []WiFiNetwork `json:"networks"`
}

// PingResult is the device's /api/ping response.
type PingResult struct {
	Host      string  `json:"host"`
	OK        bool    `json:"ok"`
	AvgTimeMs float64 `json:"avg_time_ms"`
}

// DNSResult is the device's /api/dns response.
type DNSResult struct {
	OK bool   `json:"ok"`
	IP string `json:"ip"`
}

// InternetStatus is the device's /api/internet response.
type InternetStatus struct {
	DNS  bool `json:"dns"`
	Ping bool `json:"ping"`
}

// TCPServerState is the device's /api/tcpserver response.
type TCPServerState struct {
	Running bool `json:"running"`
	Port    int  `json:"port"`
}

// ProxyParams starts the capture proxy.
type ProxyParams struct {
	ListenPort     int    `json:"listenPort"`
	TargetHost     string `json:"targetHost"`
	TargetPort     int    `json:"targetPort"`
	CaptureToLearn bool   `json:"captureToLearn"`
}

// PJLinkResult is the device's /api/pjlink/status terminal payload.
type PJLinkResult struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
}

// Capture is one payload captured by the learner or proxy.
type Capture struct {
	ID          string `json:"id"`
	TS          int64  `json:"ts"`
	SrcIP       string `json:"srcIp"`
	SrcPort     int    `json:"srcPort"`
	LocalPort   int    `json:"localPort"`
	Hex         string `json:"hex"`
	ASCII       string `json:"ascii"`
	Pinned      bool   `json:"pinned"`
	Repeats     int    `json:"repeats"`
	LastTS      int64  `json:"lastTs"`
	SuffixHint  string `json:"suffixHint"`
	PayloadType string `json:"payloadType"`
}

// DeviceRecord is one AV endpoint stored in the device config.
type DeviceRecord struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	IP          string `json:"ip"`
	PortHint    int    `json:"portHint,omitempty"`
	SuffixHint  string `json:"defaultSuffix,omitempty"`
	Notes       string `json:"notes,omitempty"`
	TemplateID  string `json:"templateId,omitempty"`
	PayloadType string `json:"defaultPayloadType,omitempty"`
	MAC         string `json:"mac,omitempty"`
}

// Dashboard is the device's /api/dashboard summary, a flattened health
// view plus the liveness of every stored endpoint.
type Dashboard struct {
	FW            string         `json:"fw"`
	UptimeS       int64          `json:"uptime_s"`
	HeapFree      int64          `json:"heap_free"`
	WiFiConnected bool           `json:"wifi_connected"`
	WiFiRSSI      int            `json:"wifi_rssi"`
	WiFiIP        string         `json:"wifi_ip"`
	APIp          string         `json:"ap_ip"`
	TermConnected bool           `json:"term_connected"`
	ProxyRunning  bool           `json:"proxy_running"`
	LearnEnabled  bool           `json:"learn_enabled"`
	RS232Telnet   bool           `json:"rs232_telnet"`
	MacrosCount   int            `json:"macros_count"`
	Devices       []DeviceStatus `json:"devices"`
}

// MacroStep is one action in a stored macro.
type MacroStep struct {
	Type    string `json:"type"`
	Target  string `json:"target,omitempty"`
	Port    int    `json:"port,omitempty"`
	Payload string `json:"payload,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Suffix  string `json:"suffix,omitempty"`
	DelayMs int    `json:"delay,omitempty"`
}

// Macro is a stored command sequence.
type Macro struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Icon  string      `json:"icon,omitempty"`
	Steps []MacroStep `json:"steps,omitempty"`
}

// MacroSummary is the list form of a macro, steps elided.
type MacroSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	StepCount int    `json:"stepCount"`
}

// DeviceStatus is the liveness record for a stored AV endpoint.
type DeviceStatus struct {
	ID         string `json:"id"`
	Online     bool   `json:"online"`
	LastSeenMs int64  `json:"lastSeenMs"`
	IP         string `json:"ip"`
	Port       int    `json:"port"`
}
