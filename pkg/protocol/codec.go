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

// Package protocol encodes outbound channel commands and decodes inbound
// frames. Decoding is tolerant by contract: malformed input and unknown
// discriminators yield no message, never an error, so device firmware may
// grow new frame kinds without breaking older clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/carverauto/avconsole/pkg/models"
)

// ErrBadField is returned by Encode when a field cannot be coerced to the
// type the frame requires.
var ErrBadField = errors.New("bad frame field")

// inboundFrame is the superset of every field the device emits. Unknown
// fields on the wire are dropped by the JSON decoder; absent fields stay
// zero and are ignored downstream.
type inboundFrame struct {
	T    string `json:"t"` // log push frames use {t:"log", msg}
	Type string `json:"type"`

	Connected *bool  `json:"connected"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Baud      int    `json:"baud"`
	Invert    *bool  `json:"invert"`
	Auto      *bool  `json:"auto"`
	Loop      *bool  `json:"loop"`
	Profile   *int   `json:"profile"`
	Telnet    *bool  `json:"telnet"`
	TelnetIP  string `json:"telnetIP"`

	ASCII string `json:"ascii"`
	Hex   string `json:"hex"`
	From  string `json:"from"`
	OK    *bool  `json:"ok"`

	Msg string `json:"msg"`

	Event string `json:"event"`
	IP    string `json:"ip"`

	OpenPorts []int `json:"openPorts"`
}

// Decode parses a raw frame received on the given channel role. The second
// return is false when the frame is malformed or carries an unrecognized
// discriminator; callers treat that as a no-op.
func Decode(role models.ChannelRole, raw []byte) (models.ChannelMessage, bool) {
	// The log channel accepts bare text lines as well as {t:"log", msg}
	// frames, so it never rejects input.
	if role == models.ChannelLog {
		return decodeLog(raw), true
	}

	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return models.ChannelMessage{}, false
	}

	switch role {
	case models.ChannelTerminal:
		return decodeTyped(role, &f, models.MessageStatus, models.MessageRX, models.MessageTX, models.MessageError, models.MessageLog)
	case models.ChannelSerial:
		return decodeTyped(role, &f, models.MessageStatus, models.MessageRX, models.MessageTX, models.MessageSys, models.MessageError)
	case models.ChannelUDP:
		return decodeTyped(role, &f, models.MessageRX)
	case models.ChannelTCPServer:
		return decodeTyped(role, &f, models.MessageRX, models.MessageEvent)
	case models.ChannelDiscovery:
		if f.IP == "" {
			return models.ChannelMessage{}, false
		}

		return models.ChannelMessage{
			Role:      role,
			Type:      models.MessageHost,
			IP:        f.IP,
			OpenPorts: f.OpenPorts,
		}, true
	default:
		return models.ChannelMessage{}, false
	}
}

func decodeLog(raw []byte) models.ChannelMessage {
	msg := models.ChannelMessage{Role: models.ChannelLog, Type: models.MessageLog}

	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err == nil && f.T == "log" {
		msg.Text = f.Msg
		return msg
	}

	msg.Text = string(raw)

	return msg
}

func decodeTyped(role models.ChannelRole, f *inboundFrame, accepted ...models.MessageType) (models.ChannelMessage, bool) {
	typ := models.MessageType(f.Type)

	known := false

	for _, a := range accepted {
		if typ == a {
			known = true
			break
		}
	}

	if !known {
		return models.ChannelMessage{}, false
	}

	return models.ChannelMessage{
		Role:      role,
		Type:      typ,
		Connected: f.Connected,
		Host:      f.Host,
		Port:      f.Port,
		Baud:      f.Baud,
		Invert:    f.Invert,
		AutoBaud:  f.Auto,
		Loopback:  f.Loop,
		Profile:   f.Profile,
		Telnet:    f.Telnet,
		TelnetIP:  f.TelnetIP,
		ASCII:     f.ASCII,
		Hex:       f.Hex,
		From:      f.From,
		TXOK:      f.OK,
		Text:      f.Msg,
		Event:     f.Event,
		IP:        f.IP,
	}, true
}

// numericFields are outbound fields the device expects as numbers; string
// values for them are coerced before encoding, matching the reference
// client's parseInt handling of form input.
var numericFields = map[string]struct{}{
	"port": {},
	"baud": {},
	"id":   {},
	"n":    {},
}

// Encode produces a flat frame carrying the action discriminator plus the
// supplied fields. No validation is performed beyond numeric coercion.
func Encode(action string, fields map[string]interface{}) ([]byte, error) {
	frame := make(map[string]interface{}, len(fields)+1)
	frame["action"] = action

	for k, v := range fields {
		if s, ok := v.(string); ok {
			if _, numeric := numericFields[k]; numeric {
				n, err := strconv.Atoi(s)
				if err != nil {
					return nil, fmt.Errorf("%w: %s=%q", ErrBadField, k, s)
				}

				frame[k] = n

				continue
			}
		}

		frame[k] = v
	}

	return json.Marshal(frame)
}

// SendMode selects the framing of an outbound payload.
type SendMode string

const (
	SendASCII SendMode = "ascii"
	SendHex   SendMode = "hex"
)

// EncodeSend builds the data-send command shared by the terminal and serial
// channels. Suffix is the line terminator in escaped form ("\\r", "\\n",
// "\\r\\n" or empty).
func EncodeSend(data string, mode SendMode, suffix string) ([]byte, error) {
	return Encode("send", map[string]interface{}{"data": data, "mode": string(mode), "suffix": suffix})
}

// EncodeConnect builds the terminal channel connect command.
func EncodeConnect(host string, port int) ([]byte, error) {
	return Encode("connect", map[string]interface{}{"host": host, "port": port})
}

// EncodeDisconnect builds the terminal channel disconnect command.
func EncodeDisconnect() ([]byte, error) {
	return Encode("disconnect", nil)
}

// EncodeBaud builds the serial baud-rate command.
func EncodeBaud(baud int) ([]byte, error) {
	return Encode("baud", map[string]interface{}{"baud": baud})
}

// EncodeInvert builds the serial polarity-invert command.
func EncodeInvert(val bool) ([]byte, error) {
	return Encode("invert", map[string]interface{}{"val": val})
}

// EncodeProfile builds the serial profile-select command.
func EncodeProfile(id int) ([]byte, error) {
	return Encode("profile", map[string]interface{}{"id": id})
}

// EncodeAutoBaud builds the serial auto-baud start/stop command.
func EncodeAutoBaud(start bool) ([]byte, error) {
	return Encode("autobaud", map[string]interface{}{"start": start})
}

// EncodeLoopback builds the serial loopback-test command.
func EncodeLoopback() ([]byte, error) {
	return Encode("loopback", nil)
}

// EncodePreset builds the serial preset-trigger command.
func EncodePreset(n int) ([]byte, error) {
	return Encode("preset", map[string]interface{}{"n": n})
}
