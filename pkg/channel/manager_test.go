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

package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is a scriptable connection: the test feeds frames in and forces
// closes; writes are recorded. Like the real websocket connection it
// tolerates at most one writer at a time: an overlapping WriteText trips
// the overlap flag. writeDelay widens the write window so overlap checks
// have teeth.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	writeDelay time.Duration
	inWrite    atomic.Bool
	overlap    atomic.Bool

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadText() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteText(data []byte) error {
	if c.inWrite.Swap(true) {
		c.overlap.Store(true)
	}

	if c.writeDelay > 0 {
		time.Sleep(c.writeDelay)
	}

	c.inWrite.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writes = append(c.writes, data)

	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.writes)
}

// fakeDialer hands out a fresh fakeConn per dial and signals each dial on a
// channel so tests can synchronize with the reconnect loop.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{dials: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) DialContext(_ context.Context, _ string) (Conn, error) {
	conn := newFakeConn()

	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	d.dials <- conn

	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.conns)
}

// manualClock records every requested reconnect delay and lets the test
// release the waiters one tick at a time.
type manualClock struct {
	mu       sync.Mutex
	requests []time.Duration
	waiters  chan chan time.Time
}

func newManualClock() *manualClock {
	return &manualClock{waiters: make(chan chan time.Time, 16)}
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.requests = append(c.requests, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	c.waiters <- ch

	return ch
}

func (c *manualClock) tick(t *testing.T) {
	t.Helper()

	select {
	case ch := <-c.waiters:
		ch <- time.Now()
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect timer was scheduled")
	}
}

func (c *manualClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]time.Duration, len(c.requests))
	copy(out, c.requests)

	return out
}

func awaitDial(t *testing.T, d *fakeDialer) *fakeConn {
	t.Helper()

	select {
	case conn := <-d.dials:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("expected a dial")
		return nil
	}
}

func awaitState(t *testing.T, m *Manager, role models.ChannelRole, want models.ChannelState) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State(role) == want {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("channel %s never reached state %s", role, want)
}

func TestReconnectIsIndefiniteAndDelaySeparated(t *testing.T) {
	dialer := newFakeDialer()
	clock := newManualClock()

	m := NewManager(logger.NewTestLogger(), WithDialer(dialer), WithClock(clock))
	defer m.Close()

	require.NoError(t, m.Open(models.ChannelLog, "ws://device/ws", nil))

	conn := awaitDial(t, dialer)
	awaitState(t, m, models.ChannelLog, models.ChannelOpen)

	// Three consecutive closes: each must schedule a delay, then re-dial.
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Close())
		awaitState(t, m, models.ChannelLog, models.ChannelClosed)

		clock.tick(t)

		conn = awaitDial(t, dialer)
		awaitState(t, m, models.ChannelLog, models.ChannelOpen)
	}

	assert.Equal(t, 4, dialer.dialCount(), "open is invoked exactly three additional times")

	for _, d := range clock.delays() {
		assert.Equal(t, ReconnectDelay(models.ChannelLog), d)
	}

	// Reconnection never stops being scheduled: a fourth close still waits
	// on the clock.
	require.NoError(t, conn.Close())
	awaitState(t, m, models.ChannelLog, models.ChannelClosed)
	clock.tick(t)
	awaitDial(t, dialer)
}

func TestMalformedFrameDoesNotAffectChannel(t *testing.T) {
	dialer := newFakeDialer()
	clock := newManualClock()

	var (
		mu  sync.Mutex
		got []models.ChannelMessage
	)

	handler := func(msg models.ChannelMessage) {
		mu.Lock()
		defer mu.Unlock()

		got = append(got, msg)
	}

	m := NewManager(logger.NewTestLogger(), WithDialer(dialer), WithClock(clock))
	defer m.Close()

	require.NoError(t, m.Open(models.ChannelTerminal, "ws://device/term", handler))

	conn := awaitDial(t, dialer)
	awaitState(t, m, models.ChannelTerminal, models.ChannelOpen)

	conn.frames <- []byte(`{garbage`)
	conn.frames <- []byte(`{"type":"alien-kind"}`)
	conn.frames <- []byte(`{"type":"rx","ascii":"first"}`)
	conn.frames <- []byte(`{"type":"rx","ascii":"second"}`)

	deadline := time.Now().Add(2 * time.Second)

	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()

		if n >= 2 || time.Now().After(deadline) {
			break
		}

		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()

	// Only the two well-formed frames arrive, in receipt order, and the
	// channel is still open.
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ASCII)
	assert.Equal(t, "second", got[1].ASCII)
	assert.Equal(t, models.ChannelOpen, m.State(models.ChannelTerminal))
	assert.Equal(t, 1, dialer.dialCount())
}

func TestSendIsSilentNoOpWhenNotOpen(t *testing.T) {
	dialer := newFakeDialer()
	clock := newManualClock()

	m := NewManager(logger.NewTestLogger(), WithDialer(dialer), WithClock(clock))
	defer m.Close()

	// Unknown role: nothing happens.
	m.Send(models.ChannelSerial, []byte(`{"action":"loopback"}`))

	require.NoError(t, m.Open(models.ChannelSerial, "ws://device/wsrs232", nil))

	conn := awaitDial(t, dialer)
	awaitState(t, m, models.ChannelSerial, models.ChannelOpen)

	m.Send(models.ChannelSerial, []byte(`{"action":"loopback"}`))

	deadline := time.Now().Add(2 * time.Second)
	for conn.writeCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, 1, conn.writeCount())

	// After a close the channel is no longer open; sends are dropped.
	require.NoError(t, conn.Close())
	awaitState(t, m, models.ChannelSerial, models.ChannelClosed)

	m.Send(models.ChannelSerial, []byte(`{"action":"loopback"}`))
	assert.Equal(t, 1, conn.writeCount())
}

func TestConcurrentSendsAreSerialized(t *testing.T) {
	dialer := newFakeDialer()
	clock := newManualClock()

	m := NewManager(logger.NewTestLogger(), WithDialer(dialer), WithClock(clock))
	defer m.Close()

	require.NoError(t, m.Open(models.ChannelSerial, "ws://device/wsrs232", nil))

	conn := awaitDial(t, dialer)
	awaitState(t, m, models.ChannelSerial, models.ChannelOpen)

	conn.writeDelay = 50 * time.Microsecond

	const (
		senders      = 8
		sendsPerEach = 50
	)

	var wg sync.WaitGroup

	for i := 0; i < senders; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for j := 0; j < sendsPerEach; j++ {
				m.Send(models.ChannelSerial, []byte(`{"action":"loopback"}`))
			}
		}()
	}

	wg.Wait()

	assert.False(t, conn.overlap.Load(), "two goroutines wrote to the connection at once")
	assert.Equal(t, senders*sendsPerEach, conn.writeCount())
}

func TestSendCommandSurfacesEncodingErrors(t *testing.T) {
	m := NewManager(logger.NewTestLogger(), WithDialer(newFakeDialer()), WithClock(newManualClock()))
	defer m.Close()

	err := m.SendCommand(models.ChannelTerminal, "connect", map[string]interface{}{"port": "not-a-port"})
	require.Error(t, err)
}

func TestOpenTwiceRejected(t *testing.T) {
	dialer := newFakeDialer()

	m := NewManager(logger.NewTestLogger(), WithDialer(dialer), WithClock(newManualClock()))
	defer m.Close()

	require.NoError(t, m.Open(models.ChannelLog, "ws://device/ws", nil))
	awaitDial(t, dialer)

	err := m.Open(models.ChannelLog, "ws://device/ws", nil)
	assert.ErrorIs(t, err, ErrChannelExists)
}

func TestChannelsAreIndependent(t *testing.T) {
	dialer := newFakeDialer()
	clock := newManualClock()

	m := NewManager(logger.NewTestLogger(), WithDialer(dialer), WithClock(clock))
	defer m.Close()

	require.NoError(t, m.Open(models.ChannelLog, "ws://device/ws", nil))
	logConn := awaitDial(t, dialer)
	awaitState(t, m, models.ChannelLog, models.ChannelOpen)

	require.NoError(t, m.Open(models.ChannelUDP, "ws://device/wsudp", nil))
	awaitDial(t, dialer)
	awaitState(t, m, models.ChannelUDP, models.ChannelOpen)

	// The log channel dying leaves the udp feed open.
	require.NoError(t, logConn.Close())
	awaitState(t, m, models.ChannelLog, models.ChannelClosed)
	assert.Equal(t, models.ChannelOpen, m.State(models.ChannelUDP))
}
