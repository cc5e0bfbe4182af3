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

// Package channel owns the named duplex channels to the device's real-time
// endpoints. Each channel is kept alive by constant-interval reconnection
// for the life of the manager: there is no backoff growth and no retry
// ceiling. Channels are independent; one role's failures never affect the
// others.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
	"github.com/carverauto/avconsole/pkg/protocol"
)

var (
	// ErrChannelExists is returned when a role is opened twice.
	ErrChannelExists = errors.New("channel already open")
	// ErrManagerClosed is returned when opening on a closed manager.
	ErrManagerClosed = errors.New("channel manager closed")
)

const defaultReconnectDelay = 2 * time.Second

// The serial bridge reconnects faster than the other feeds; the device UI
// has always treated it as the most latency-sensitive channel.
const serialReconnectDelay = 1 * time.Second

// Handler receives every decoded frame for a role, in receipt order.
type Handler func(msg models.ChannelMessage)

// StateHandler observes connection state transitions for a role.
type StateHandler func(role models.ChannelRole, state models.ChannelState)

// Manager owns the channel registry. Create one per session with NewManager
// and tear it down with Close; individual channels have no lifetime of
// their own.
type Manager struct {
	mu       sync.RWMutex
	channels map[models.ChannelRole]*channel
	dialer   Dialer
	clock    Clock
	onState  StateHandler
	logger   logger.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

type channel struct {
	role  models.ChannelRole
	url   string
	delay time.Duration

	mu    sync.Mutex
	conn  Conn
	state models.ChannelState

	// wmu serializes writers: the websocket connection supports only one
	// concurrent writer, and Send may be called from any goroutine.
	wmu sync.Mutex

	handler Handler
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the WebSocket dialer, used by tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithClock overrides the reconnect timer source, used by tests.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithStateHandler registers an observer for connection state changes.
func WithStateHandler(h StateHandler) Option {
	return func(m *Manager) { m.onState = h }
}

// NewManager creates an empty channel registry.
func NewManager(log logger.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		channels: make(map[models.ChannelRole]*channel),
		dialer:   &wsDialer{},
		clock:    realClock{},
		logger:   log,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ReconnectDelay returns the fixed reconnect interval for a role.
func ReconnectDelay(role models.ChannelRole) time.Duration {
	if role == models.ChannelSerial {
		return serialReconnectDelay
	}

	return defaultReconnectDelay
}

// Open registers a channel and starts its connect/read/reconnect loop. The
// handler receives decoded frames in receipt order; malformed frames are
// dropped without affecting the connection.
func (m *Manager) Open(role models.ChannelRole, url string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrManagerClosed
	}

	if _, ok := m.channels[role]; ok {
		return fmt.Errorf("%w: %s", ErrChannelExists, role)
	}

	ch := &channel{
		role:    role,
		url:     url,
		delay:   ReconnectDelay(role),
		state:   models.ChannelConnecting,
		handler: handler,
	}
	m.channels[role] = ch

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.run(ch)
	}()

	return nil
}

// Send encodes nothing itself: frame is an already-encoded command (see
// pkg/protocol). When the role's channel is not open the call is a silent
// no-op; transmit failures are not distinguished from success.
func (m *Manager) Send(role models.ChannelRole, frame []byte) {
	m.mu.RLock()
	ch := m.channels[role]
	m.mu.RUnlock()

	if ch == nil {
		return
	}

	ch.mu.Lock()
	conn, state := ch.conn, ch.state
	ch.mu.Unlock()

	if state != models.ChannelOpen || conn == nil {
		return
	}

	ch.wmu.Lock()
	defer ch.wmu.Unlock()

	if err := conn.WriteText(frame); err != nil {
		m.logger.Debug().Err(err).Str("channel", string(role)).Msg("Send failed")
	}
}

// SendCommand encodes an action frame and sends it. The only error it can
// return is a synchronous encoding failure; transmission remains
// fire-and-forget.
func (m *Manager) SendCommand(role models.ChannelRole, action string, fields map[string]interface{}) error {
	frame, err := protocol.Encode(action, fields)
	if err != nil {
		return err
	}

	m.Send(role, frame)

	return nil
}

// State reports the connection state of a role.
func (m *Manager) State(role models.ChannelRole) models.ChannelState {
	m.mu.RLock()
	ch := m.channels[role]
	m.mu.RUnlock()

	if ch == nil {
		return models.ChannelClosed
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.state
}

// Close tears down every channel and stops all reconnection.
func (m *Manager) Close() {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return
	}

	m.closed = true
	m.mu.Unlock()

	m.cancel()

	m.mu.RLock()
	for _, ch := range m.channels {
		ch.mu.Lock()
		if ch.conn != nil {
			_ = ch.conn.Close()
		}
		ch.mu.Unlock()
	}
	m.mu.RUnlock()

	m.wg.Wait()
}

func (m *Manager) run(ch *channel) {
	for {
		if m.ctx.Err() != nil {
			return
		}

		m.setState(ch, models.ChannelConnecting)

		conn, err := m.dialer.DialContext(m.ctx, ch.url)
		if err != nil {
			m.logger.Debug().Err(err).Str("channel", string(ch.role)).Msg("Dial failed")
			m.setState(ch, models.ChannelClosed)

			if !m.waitReconnect(ch) {
				return
			}

			continue
		}

		ch.mu.Lock()
		ch.conn = conn
		ch.mu.Unlock()

		m.setState(ch, models.ChannelOpen)
		m.logger.Info().Str("channel", string(ch.role)).Str("url", ch.url).Msg("Channel open")

		m.readLoop(ch, conn)

		_ = conn.Close()

		ch.mu.Lock()
		ch.conn = nil
		ch.mu.Unlock()

		m.setState(ch, models.ChannelClosed)

		if !m.waitReconnect(ch) {
			return
		}
	}
}

// readLoop delivers frames until the connection errors out. Decode failures
// are swallowed here: a malformed frame never tears the channel down and
// never changes its state.
func (m *Manager) readLoop(ch *channel, conn Conn) {
	for {
		data, err := conn.ReadText()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Debug().Err(err).Str("channel", string(ch.role)).Msg("Channel closed")
			}

			return
		}

		msg, ok := protocol.Decode(ch.role, data)
		if !ok {
			m.logger.Debug().Str("channel", string(ch.role)).Int("bytes", len(data)).Msg("Dropped undecodable frame")
			continue
		}

		if ch.handler != nil {
			ch.handler(msg)
		}
	}
}

func (m *Manager) waitReconnect(ch *channel) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-m.clock.After(ch.delay):
		return true
	}
}

func (m *Manager) setState(ch *channel, state models.ChannelState) {
	ch.mu.Lock()
	changed := ch.state != state
	ch.state = state
	ch.mu.Unlock()

	if changed && m.onState != nil {
		m.onState(ch.role, state)
	}
}
