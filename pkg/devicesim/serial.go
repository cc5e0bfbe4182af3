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
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/carverauto/avconsole/pkg/logger"
)

// serialProfile is one RS-232 device profile: a default baud rate plus
// three preset command strings.
type serialProfile struct {
	Name    string
	Baud    int
	Presets [3]string
}

var serialProfiles = []serialProfile{
	{"Generic", 9600, [3]string{"PWR ON\\r", "PWR OFF\\r", "STATUS?\\r"}},
	{"Extron", 9600, [3]string{"1*\\r", "1%\\r", "Q\\r"}},
	{"Blustream", 9600, [3]string{"PWR ON\\r", "PWR OFF\\r", "VOL 50\\r"}},
	{"Kramer", 115200, [3]string{"#POWER-MODE 1\\r", "#POWER-MODE 0\\r", "#POWER-MODE?\\r"}},
}

const loopbackProbe = "SIM_LOOPBACK_TEST"

// serialBridge models the RS-232 side of the device: baud rate, polarity,
// profile and preset handling, auto-baud detection and the loopback test.
// Every state change is broadcast as a status frame on the serial channel,
// matching the firmware's frame-per-change behavior. There is no physical
// UART here, so loopback always passes and sends are acknowledged with an
// echoed rx frame.
type serialBridge struct {
	hub    *hub
	logger logger.Logger

	mu       sync.Mutex
	baud     int
	invert   bool
	autoBaud bool
	loopback bool
	profile  int
}

func newSerialBridge(h *hub, log logger.Logger) *serialBridge {
	sb := &serialBridge{
		hub:    h,
		logger: log,
		baud:   9600,
	}

	h.onMessage = sb.handleMessage
	h.onAttach = sb.pushStatus

	return sb
}

type serialCommand struct {
	Action string `json:"action"`
	Baud   int    `json:"baud"`
	Val    bool   `json:"val"`
	ID     int    `json:"id"`
	N      int    `json:"n"`
	Start  bool   `json:"start"`
	Data   string `json:"data"`
	Mode   string `json:"mode"`
	Suffix string `json:"suffix"`
}

func (sb *serialBridge) handleMessage(raw []byte) {
	var cmd serialCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		sb.logger.Debug().Err(err).Msg("Dropped bad serial command")
		return
	}

	switch cmd.Action {
	case "baud":
		sb.setBaud(cmd.Baud)
	case "invert":
		sb.setInvert(cmd.Val)
	case "profile":
		sb.setProfile(cmd.ID)
	case "preset":
		sb.triggerPreset(cmd.N)
	case "autobaud":
		sb.autoBaudCmd(cmd.Start)
	case "loopback":
		sb.runLoopback()
	case "send":
		sb.send(cmd.Data, cmd.Mode == "hex", cmd.Suffix)
	default:
		sb.logger.Debug().Str("action", cmd.Action).Msg("Unknown serial action")
	}
}

func (sb *serialBridge) pushStatus() {
	sb.mu.Lock()
	frame := map[string]interface{}{
		"type":    "status",
		"baud":    sb.baud,
		"invert":  sb.invert,
		"auto":    sb.autoBaud,
		"loop":    sb.loopback,
		"profile": sb.profile,
		"telnet":  false,
	}
	sb.mu.Unlock()

	sb.hub.broadcast(frame)
}

func (sb *serialBridge) sys(msg string) {
	sb.hub.broadcast(map[string]interface{}{"type": "sys", "msg": msg})
}

func (sb *serialBridge) setBaud(baud int) {
	if baud <= 0 {
		return
	}

	sb.mu.Lock()
	changed := baud != sb.baud
	sb.baud = baud
	sb.mu.Unlock()

	if !changed {
		return
	}

	sb.pushStatus()
	sb.sys(fmt.Sprintf("Baud changed to %d", baud))
}

func (sb *serialBridge) setInvert(invert bool) {
	sb.mu.Lock()
	sb.invert = invert
	sb.mu.Unlock()

	sb.pushStatus()

	state := "OFF"
	if invert {
		state = "ON"
	}

	sb.sys("Invert Polarity: " + state)
}

func (sb *serialBridge) setProfile(id int) {
	if id < 0 || id >= len(serialProfiles) {
		return
	}

	sb.mu.Lock()
	sb.profile = id
	sb.baud = serialProfiles[id].Baud
	sb.mu.Unlock()

	sb.pushStatus()
	sb.sys("Profile set: " + serialProfiles[id].Name)
}

func (sb *serialBridge) triggerPreset(n int) {
	if n < 1 || n > 3 {
		return
	}

	sb.mu.Lock()
	cmd := serialProfiles[sb.profile].Presets[n-1]
	sb.mu.Unlock()

	cmd = strings.ReplaceAll(cmd, "\\r", "\r")
	cmd = strings.ReplaceAll(cmd, "\\n", "\n")

	sb.send(cmd, false, "")
}

// autoBaudCmd models detection against a silent line: the sweep completes
// immediately and settles on the current rate, mirroring what the firmware
// reports when no traffic scores a candidate.
func (sb *serialBridge) autoBaudCmd(start bool) {
	sb.mu.Lock()
	sb.autoBaud = start
	baud := sb.baud
	sb.mu.Unlock()

	if start {
		sb.pushStatus()
		sb.sys("Auto-baud started")

		sb.mu.Lock()
		sb.autoBaud = false
		sb.mu.Unlock()

		sb.sys(fmt.Sprintf("Auto-baud settled on %d", baud))
	} else {
		sb.sys("Auto-baud stopped")
	}

	sb.pushStatus()
}

// runLoopback performs the TX/RX self-test. Without a physical UART the
// probe always comes back, so the test reports pass.
func (sb *serialBridge) runLoopback() {
	sb.mu.Lock()
	sb.loopback = true
	sb.mu.Unlock()

	sb.pushStatus()
	sb.sys("Loopback test started")

	sb.emitData("tx", loopbackProbe)
	sb.emitData("rx", loopbackProbe)

	sb.mu.Lock()
	sb.loopback = false
	sb.mu.Unlock()

	sb.sys("Loopback test PASSED")
	sb.pushStatus()
}

func (sb *serialBridge) send(data string, hexMode bool, suffix string) {
	payload := data

	if hexMode {
		decoded, err := hex.DecodeString(strings.ReplaceAll(data, " ", ""))
		if err != nil {
			sb.sys("Bad hex payload")
			return
		}

		payload = string(decoded)
	}

	payload += unescapeSuffix(suffix)

	sb.emitData("tx", payload)
}

func (sb *serialBridge) emitData(kind, payload string) {
	sb.hub.broadcast(map[string]interface{}{
		"type":  kind,
		"hex":   strings.ToUpper(hex.EncodeToString([]byte(payload))),
		"ascii": printableASCII(payload),
	})
}

func unescapeSuffix(s string) string {
	s = strings.ReplaceAll(s, "\\r", "\r")
	s = strings.ReplaceAll(s, "\\n", "\n")

	return s
}

// printableASCII renders payload bytes for display, dotting out control
// characters the way the firmware does.
func printableASCII(s string) string {
	out := []byte(s)
	for i, b := range out {
		if b < 0x20 || b > 0x7e {
			out[i] = '.'
		}
	}

	return string(out)
}
