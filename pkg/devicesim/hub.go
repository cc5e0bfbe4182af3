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
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/carverauto/avconsole/pkg/logger"
)

// hub fans frames out to every WebSocket client attached to one channel
// endpoint. Inbound text frames are handed to onMessage when set; channels
// that are push-only simply drain their read side.
type hub struct {
	path      string
	upgrader  websocket.Upgrader
	onMessage func(raw []byte)
	onAttach  func()
	limiter   *rate.Limiter
	logger    logger.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

func newHub(path string, log logger.Logger) *hub {
	return &hub{
		path: path,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: log,
		conns:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Str("endpoint", h.path).Msg("Upgrade failed")
		return
	}

	h.mu.Lock()
	h.conns[conn] = &sync.Mutex{}
	h.mu.Unlock()

	if h.onAttach != nil {
		h.onAttach()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		if h.onMessage != nil {
			h.onMessage(data)
		}
	}

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()

	_ = conn.Close()
}

// broadcast marshals v and writes it to every attached client. When the hub
// carries a pacing limiter the write waits for a token first, so bursty
// producers (the discovery sweep, the log feed) cannot flood slow clients.
func (h *hub) broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("endpoint", h.path).Msg("Broadcast encode failed")
		return
	}

	h.broadcastRaw(data)
}

func (h *hub) broadcastRaw(data []byte) {
	if h.limiter != nil {
		_ = h.limiter.Wait(context.Background())
	}

	h.mu.Lock()
	conns := make(map[*websocket.Conn]*sync.Mutex, len(h.conns))
	for c, l := range h.conns {
		conns[c] = l
	}
	h.mu.Unlock()

	for conn, wl := range conns {
		wl.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		wl.Unlock()

		if err != nil {
			h.logger.Debug().Err(err).Str("endpoint", h.path).Msg("Client write failed")
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		_ = conn.Close()
	}

	h.conns = make(map[*websocket.Conn]*sync.Mutex)
}
