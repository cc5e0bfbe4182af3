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

// JobKind identifies one of the device's long-running background jobs.
type JobKind string

const (
	JobPortScan  JobKind = "portscan"
	JobMDNS      JobKind = "mdns"
	JobSSDP      JobKind = "ssdp"
	JobDiscovery JobKind = "discovery"
)

// JobState is the client-side lifecycle state of a job kind. The device
// models at most one active job per kind; the state is re-armed on the next
// start rather than destroyed.
type JobState int32

const (
	JobIdle JobState = iota
	JobRunning
	JobDone
)

func (s JobState) String() string {
	switch s {
	case JobIdle:
		return "idle"
	case JobRunning:
		return "running"
	case JobDone:
		return "done"
	default:
		return "unknown"
	}
}

// PortScanStatus is the device's /api/portscan/status response.
type PortScanStatus struct {
	Running  bool  `json:"running"`
	Progress int   `json:"progress"`
	Open     []int `json:"open"`
}

// MDNSRecord is one discovered mDNS service instance.
type MDNSRecord struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// MDNSStatus is the device's /api/mdns/status response.
type MDNSStatus struct {
	Running bool         `json:"running"`
	Results []MDNSRecord `json:"results"`
	Count   int          `json:"count,omitempty"`
}

// SSDPDevice is one responder to an SSDP M-SEARCH.
type SSDPDevice struct {
	IP           string `json:"ip"`
	URL          string `json:"url"`
	USN          string `json:"usn"`
	ST           string `json:"st"`
	FriendlyName string `json:"friendlyName,omitempty"`
}

// SSDPStatus is the device's /api/ssdp/status response.
type SSDPStatus struct {
	Running bool         `json:"running"`
	Results []SSDPDevice `json:"results"`
}

// DiscoveredHost is one live host found by the subnet discovery sweep. The
// same shape is pushed on the discovery feed channel.
type DiscoveredHost struct {
	IP        string `json:"ip"`
	OpenPorts []int  `json:"openPorts"`
}

// DiscoveryStatus is the device's /api/discovery/results response.
type DiscoveryStatus struct {
	Running  bool             `json:"running"`
	Progress int              `json:"progress"`
	Results  []DiscoveredHost `json:"results"`
}

// JobStatus is the normalized poll response shared by every job kind.
// Progress is -1 for kinds whose device API reports no percentage. Exactly
// one of the result fields is set, matching Kind, once the job is done.
type JobStatus struct {
	Kind     JobKind `json:"kind"`
	Running  bool    `json:"running"`
	Progress int     `json:"progress"`

	PortScan  *PortScanStatus  `json:"portscan,omitempty"`
	MDNS      *MDNSStatus      `json:"mdns,omitempty"`
	SSDP      *SSDPStatus      `json:"ssdp,omitempty"`
	Discovery *DiscoveryStatus `json:"discovery,omitempty"`
}
