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
	"net"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/avconsole/pkg/logger"
)

const terminalDialTimeout = 5 * time.Second

// terminalBridge is the device's outbound TCP client: the terminal channel
// drives one connection to an AV endpoint, with status, rx, tx and error
// frames reflected back on the same channel.
type terminalBridge struct {
	hub    *hub
	logger logger.Logger

	mu   sync.Mutex
	conn net.Conn
	host string
	port int
}

func newTerminalBridge(h *hub, log logger.Logger) *terminalBridge {
	tb := &terminalBridge{hub: h, logger: log}

	h.onMessage = tb.handleMessage
	h.onAttach = tb.pushStatus

	return tb
}

type terminalCommand struct {
	Action string `json:"action"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Data   string `json:"data"`
	Mode   string `json:"mode"`
	Suffix string `json:"suffix"`
}

func (tb *terminalBridge) handleMessage(raw []byte) {
	var cmd terminalCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		tb.logger.Debug().Err(err).Msg("Dropped bad terminal command")
		return
	}

	switch cmd.Action {
	case "connect":
		tb.connect(cmd.Host, cmd.Port)
	case "disconnect":
		tb.disconnect()
	case "send":
		tb.send(cmd.Data, cmd.Mode == "hex", cmd.Suffix)
	default:
		tb.logger.Debug().Str("action", cmd.Action).Msg("Unknown terminal action")
	}
}

func (tb *terminalBridge) pushStatus() {
	tb.mu.Lock()
	frame := map[string]interface{}{
		"type":      "status",
		"connected": tb.conn != nil,
		"host":      tb.host,
		"port":      tb.port,
	}
	tb.mu.Unlock()

	tb.hub.broadcast(frame)
}

func (tb *terminalBridge) pushError(msg string) {
	tb.hub.broadcast(map[string]interface{}{"type": "error", "msg": msg})
}

func (tb *terminalBridge) connect(host string, port int) {
	if host == "" || port < 1 || port > 65535 {
		tb.pushError("bad connect target")
		return
	}

	tb.disconnect()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("tcp", addr, terminalDialTimeout)
	if err != nil {
		tb.logger.Debug().Err(err).Str("addr", addr).Msg("Terminal connect failed")
		tb.pushError("connect failed: " + err.Error())
		tb.pushStatus()

		return
	}

	tb.mu.Lock()
	tb.conn = conn
	tb.host = host
	tb.port = port
	tb.mu.Unlock()

	tb.pushStatus()
	tb.hub.broadcast(map[string]interface{}{"type": "log", "msg": "Connected to " + addr})

	go tb.readLoop(conn)
}

func (tb *terminalBridge) readLoop(conn net.Conn) {
	buf := make([]byte, 2048)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}

		payload := string(buf[:n])

		tb.hub.broadcast(map[string]interface{}{
			"type":  "rx",
			"hex":   strings.ToUpper(hex.EncodeToString(buf[:n])),
			"ascii": printableASCII(payload),
		})
	}

	tb.mu.Lock()
	current := tb.conn == conn
	if current {
		tb.conn = nil
	}
	tb.mu.Unlock()

	if current {
		tb.hub.broadcast(map[string]interface{}{"type": "log", "msg": "Connection closed"})
		tb.pushStatus()
	}
}

func (tb *terminalBridge) disconnect() {
	tb.mu.Lock()
	conn := tb.conn
	tb.conn = nil
	tb.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		tb.pushStatus()
	}
}

func (tb *terminalBridge) send(data string, hexMode bool, suffix string) {
	tb.mu.Lock()
	conn := tb.conn
	tb.mu.Unlock()

	if conn == nil {
		tb.pushError("not connected")
		return
	}

	payload := data

	if hexMode {
		decoded, err := hex.DecodeString(strings.ReplaceAll(data, " ", ""))
		if err != nil {
			tb.pushError("bad hex payload")
			return
		}

		payload = string(decoded)
	}

	payload += unescapeSuffix(suffix)

	if _, err := conn.Write([]byte(payload)); err != nil {
		tb.pushError("send failed: " + err.Error())
		return
	}

	tb.hub.broadcast(map[string]interface{}{
		"type":  "tx",
		"hex":   strings.ToUpper(hex.EncodeToString([]byte(payload))),
		"ascii": printableASCII(payload),
	})
}

func (tb *terminalBridge) connected() (bool, string, int) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	return tb.conn != nil, tb.host, tb.port
}

func (tb *terminalBridge) close() {
	tb.disconnect()
}
