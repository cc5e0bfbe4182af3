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

// Package models defines the shared wire and data types for the device
// control plane.
package models

// ChannelRole identifies one of the device's real-time endpoints.
type ChannelRole string

const (
	ChannelLog       ChannelRole = "log"       // /ws, read-only log push
	ChannelTerminal  ChannelRole = "terminal"  // /term, TCP bridge to a third-party endpoint
	ChannelSerial    ChannelRole = "serial"    // /wsrs232, serial bridge with control actions
	ChannelDiscovery ChannelRole = "discovery" // /wsdisc, read-only host records
	ChannelUDP       ChannelRole = "udp"       // /wsudp, read-only received datagrams
	ChannelTCPServer ChannelRole = "tcpserver" // /wstcpserver, client events and received data
)

// ChannelRoles lists every role the manager is expected to serve.
var ChannelRoles = []ChannelRole{
	ChannelLog,
	ChannelTerminal,
	ChannelSerial,
	ChannelDiscovery,
	ChannelUDP,
	ChannelTCPServer,
}

// ChannelPath returns the device URL path for a role.
func ChannelPath(role ChannelRole) string {
	switch role {
	case ChannelLog:
		return "/ws"
	case ChannelTerminal:
		return "/term"
	case ChannelSerial:
		return "/wsrs232"
	case ChannelDiscovery:
		return "/wsdisc"
	case ChannelUDP:
		return "/wsudp"
	case ChannelTCPServer:
		return "/wstcpserver"
	default:
		return ""
	}
}

// ChannelState is the connection state of a single channel.
type ChannelState int32

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageType discriminates inbound channel frames.
type MessageType string

const (
	MessageStatus MessageType = "status"
	MessageRX     MessageType = "rx"
	MessageTX     MessageType = "tx"
	MessageSys    MessageType = "sys"
	MessageError  MessageType = "error"
	MessageLog    MessageType = "log"
	MessageEvent  MessageType = "event"
	// MessageHost is the discovery feed's bare host record, which carries
	// no type discriminator on the wire.
	MessageHost MessageType = "host"
)

// ChannelMessage is a decoded inbound frame. Only the fields relevant to the
// Type are populated; the device never cross-validates them against a shared
// schema, so unknown fields on the wire are simply dropped.
type ChannelMessage struct {
	Role ChannelRole `json:"role"`
	Type MessageType `json:"type"`

	// status (terminal: connected/host/port; serial: baud and friends)
	Connected *bool  `json:"connected,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	Baud      int    `json:"baud,omitempty"`
	Invert    *bool  `json:"invert,omitempty"`
	AutoBaud  *bool  `json:"auto,omitempty"`
	Loopback  *bool  `json:"loop,omitempty"`
	Profile   *int   `json:"profile,omitempty"`
	Telnet    *bool  `json:"telnet,omitempty"`
	TelnetIP  string `json:"telnetIP,omitempty"`

	// rx/tx payloads, printable and hex renderings
	ASCII string `json:"ascii,omitempty"`
	Hex   string `json:"hex,omitempty"`
	From  string `json:"from,omitempty"`
	TXOK  *bool  `json:"ok,omitempty"`

	// error/log/sys free text
	Text string `json:"msg,omitempty"`

	// event (tcpserver client connect/disconnect)
	Event string `json:"event,omitempty"`
	IP    string `json:"ip,omitempty"`

	// discovery host record
	OpenPorts []int `json:"openPorts,omitempty"`
}
