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
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/carverauto/avconsole/pkg/logger"
)

// udpEndpoint is the device's raw UDP tool: one movable listener whose
// datagrams stream on the udp channel, plus fire-and-forget sends. onData,
// when set, sees every received datagram before it is broadcast; the
// capture learner hangs off it.
type udpEndpoint struct {
	hub    *hub
	logger logger.Logger
	onData func(from string, srcPort, localPort int, data []byte)

	mu   sync.Mutex
	conn *net.UDPConn
	port int
}

func newUDPEndpoint(h *hub, log logger.Logger) *udpEndpoint {
	return &udpEndpoint{hub: h, logger: log}
}

// listen points the listener at a new port, replacing any previous one.
func (u *udpEndpoint) listen(port int) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return fmt.Errorf("udp listen on %d: %w", port, err)
	}

	u.mu.Lock()
	old := u.conn
	u.conn = conn
	u.port = port
	u.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	u.logger.Info().Int("port", port).Msg("UDP listener moved")

	go u.readLoop(conn)

	return nil
}

func (u *udpEndpoint) readLoop(conn *net.UDPConn) {
	buf := make([]byte, 2048)

	local := conn.LocalAddr().(*net.UDPAddr).Port

	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if u.onData != nil {
			u.onData(addr.IP.String(), addr.Port, local, buf[:n])
		}

		u.hub.broadcast(map[string]interface{}{
			"type":  "rx",
			"from":  addr.IP.String(),
			"port":  addr.Port,
			"ascii": printableASCII(string(buf[:n])),
			"hex":   strings.ToUpper(hex.EncodeToString(buf[:n])),
		})
	}
}

func (u *udpEndpoint) send(ip string, port int, data string) error {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))

	conn, err := net.DialTimeout("udp", addr, time.Second)
	if err != nil {
		return fmt.Errorf("udp send to %s: %w", addr, err)
	}

	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte(data)); err != nil {
		return fmt.Errorf("udp send to %s: %w", addr, err)
	}

	return nil
}

func (u *udpEndpoint) close() {
	u.mu.Lock()
	conn := u.conn
	u.conn = nil
	u.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// tcpServer is the device's inbound TCP tool: an accept loop whose
// connection lifecycle and received payloads stream on the tcpserver
// channel as event and rx frames.
type tcpServer struct {
	hub    *hub
	logger logger.Logger

	mu       sync.Mutex
	listener net.Listener
	port     int
	conns    map[net.Conn]struct{}
}

func newTCPServer(h *hub, log logger.Logger) *tcpServer {
	return &tcpServer{hub: h, logger: log, conns: make(map[net.Conn]struct{})}
}

func (s *tcpServer) start(port int) error {
	s.stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("tcp server on %d: %w", port, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.port = ln.Addr().(*net.TCPAddr).Port
	s.mu.Unlock()

	s.logger.Info().Int("port", s.port).Msg("TCP server started")

	go s.acceptLoop(ln)

	return nil
}

func (s *tcpServer) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		peer := remoteIP(conn)

		s.hub.broadcast(map[string]interface{}{"type": "event", "event": "connect", "ip": peer})

		go s.readLoop(conn, peer)
	}
}

func (s *tcpServer) readLoop(conn net.Conn, peer string) {
	buf := make([]byte, 2048)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}

		s.hub.broadcast(map[string]interface{}{
			"type":  "rx",
			"from":  peer,
			"ascii": printableASCII(string(buf[:n])),
			"hex":   strings.ToUpper(hex.EncodeToString(buf[:n])),
		})
	}

	_ = conn.Close()

	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()

	s.hub.broadcast(map[string]interface{}{"type": "event", "event": "disconnect", "ip": peer})
}

func (s *tcpServer) stop() {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := make([]net.Conn, 0, len(s.conns))

	for c := range s.conns {
		conns = append(conns, c)
	}

	s.conns = make(map[net.Conn]struct{})
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *tcpServer) state() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listener != nil, s.port
}

func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}

	return host
}
