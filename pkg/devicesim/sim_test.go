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
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/avconsole/pkg/channel"
	"github.com/carverauto/avconsole/pkg/client"
	"github.com/carverauto/avconsole/pkg/jobs"
	"github.com/carverauto/avconsole/pkg/logger"
	"github.com/carverauto/avconsole/pkg/models"
)

func newRunningSim(t *testing.T) (*Simulator, *client.DeviceClient) {
	t.Helper()

	sim, err := New(Config{ListenAddr: "127.0.0.1:0", Stub: true}, logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, sim.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		_ = sim.Stop(ctx)
	})

	dc, err := client.NewDeviceClient(sim.BaseURL(), logger.NewTestLogger())
	require.NoError(t, err)

	return sim, dc
}

func openChannel(t *testing.T, dc *client.DeviceClient, role models.ChannelRole) (*channel.Manager, chan models.ChannelMessage) {
	t.Helper()

	msgs := make(chan models.ChannelMessage, 64)

	m := channel.NewManager(logger.NewTestLogger())
	t.Cleanup(m.Close)

	err := m.Open(role, dc.ChannelURL(models.ChannelPath(role)), func(msg models.ChannelMessage) {
		msgs <- msg
	})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for m.State(role) != models.ChannelOpen && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	require.Equal(t, models.ChannelOpen, m.State(role), "channel %s never opened", role)

	return m, msgs
}

func awaitMessage(t *testing.T, msgs chan models.ChannelMessage, pred func(models.ChannelMessage) bool) models.ChannelMessage {
	t.Helper()

	deadline := time.After(3 * time.Second)

	for {
		select {
		case msg := <-msgs:
			if pred(msg) {
				return msg
			}
		case <-deadline:
			t.Fatal("expected message never arrived")
			return models.ChannelMessage{}
		}
	}
}

func TestHealthAndDashboard(t *testing.T) {
	_, dc := newRunningSim(t)

	h, err := dc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simFirmwareVersion, h.FW)
	assert.True(t, h.WiFi.STAConnected)

	d, err := dc.Dashboard(context.Background())
	require.NoError(t, err)
	assert.Equal(t, simFirmwareVersion, d.FW)
	assert.True(t, d.WiFiConnected)
}

func TestDeviceRegistryLifecycle(t *testing.T) {
	_, dc := newRunningSim(t)
	ctx := context.Background()

	require.NoError(t, dc.AddDevice(ctx, models.DeviceRecord{Name: "Projector", IP: "192.168.1.30", PortHint: 4352}))

	devices, err := dc.Devices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Projector", devices[0].Name)
	assert.NotEmpty(t, devices[0].ID)

	statuses, err := dc.DeviceStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "192.168.1.30", statuses[0].IP)

	require.NoError(t, dc.DeleteDevice(ctx, devices[0].ID))

	devices, err = dc.Devices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestMacroLifecycle(t *testing.T) {
	_, dc := newRunningSim(t)
	ctx := context.Background()

	macro := models.Macro{
		Name: "Show start",
		Steps: []models.MacroStep{
			{Type: "tcp", Target: "192.168.1.30", Port: 4352, Payload: "%1POWR 1", Suffix: "\\r"},
			{Type: "wait", DelayMs: 1000},
		},
	}

	require.NoError(t, dc.SaveMacro(ctx, macro))

	list, err := dc.Macros(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].StepCount)

	got, err := dc.GetMacro(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Show start", got.Name)

	require.NoError(t, dc.RunMacro(ctx, list[0].ID))
	require.NoError(t, dc.DeleteMacro(ctx, list[0].ID))

	err = dc.RunMacro(ctx, list[0].ID)
	assert.ErrorIs(t, err, client.ErrDeviceAPI)
}

func TestConfigRoundTrip(t *testing.T) {
	_, dc := newRunningSim(t)
	ctx := context.Background()

	require.NoError(t, dc.SetConfig(ctx, []byte(`{"devices":[],"theme":"dark"}`)))

	raw, err := dc.GetConfig(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"devices":[],"theme":"dark"}`, string(raw))
}

func TestPJLinkCompletesAsync(t *testing.T) {
	_, dc := newRunningSim(t)
	ctx := context.Background()

	require.NoError(t, dc.PJLink(ctx, "192.168.1.30", "", "POWR 1"))

	deadline := time.Now().Add(2 * time.Second)

	for {
		st, err := dc.PJLinkStatus(ctx)
		require.NoError(t, err)

		if st.Status == "done" {
			assert.Contains(t, st.Response, "OK")
			break
		}

		require.True(t, time.Now().Before(deadline), "pjlink never finished")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPortScanJobAgainstSim(t *testing.T) {
	_, dc := newRunningSim(t)

	done := make(chan models.JobStatus, 1)

	p := jobs.New(dc, jobs.Events{
		OnDone: func(st models.JobStatus) { done <- st },
		OnError: func(_ models.JobKind, err error) {
			t.Errorf("unexpected job error: %v", err)
		},
	}, logger.NewTestLogger(), jobs.WithInterval(5*time.Millisecond))

	require.NoError(t, p.StartPortScan(context.Background(), "10.0.0.9", []int{22, 80, 443}))

	select {
	case st := <-done:
		require.NotNil(t, st.PortScan)
		assert.Equal(t, []int{22, 80}, st.PortScan.Open)
		assert.Equal(t, 100, st.PortScan.Progress)
	case <-time.After(3 * time.Second):
		t.Fatal("port scan never finished")
	}

	p.Wait()
}

func TestDuplicateJobRejectedWithConflict(t *testing.T) {
	sim, dc := newRunningSim(t)

	// Hold the kind so the REST start is guaranteed to collide.
	require.NoError(t, sim.jobs.claim(models.JobSSDP))
	defer sim.jobs.release(models.JobSSDP)

	err := dc.StartSSDPScan(context.Background())
	require.ErrorIs(t, err, client.ErrDeviceAPI)
	assert.Contains(t, err.Error(), "already_running")
}

func TestDiscoveryFeedStreamsHosts(t *testing.T) {
	_, dc := newRunningSim(t)

	_, msgs := openChannel(t, dc, models.ChannelDiscovery)

	require.NoError(t, dc.StartDiscovery(context.Background(), "10.1.1", 1, 254))

	first := awaitMessage(t, msgs, func(m models.ChannelMessage) bool { return m.Type == models.MessageHost })
	assert.Equal(t, "10.1.1.30", first.IP)
	assert.Equal(t, []int{23, 80}, first.OpenPorts)

	second := awaitMessage(t, msgs, func(m models.ChannelMessage) bool { return m.Type == models.MessageHost && m.IP != first.IP })
	assert.Equal(t, "10.1.1.40", second.IP)
	assert.Equal(t, []int{5000}, second.OpenPorts)

	deadline := time.Now().Add(2 * time.Second)

	for {
		st, err := dc.DiscoveryResults(context.Background())
		require.NoError(t, err)

		if !st.Running {
			assert.Len(t, st.Results, 2)
			break
		}

		require.True(t, time.Now().Before(deadline), "discovery never finished")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSerialBridgeOverChannel(t *testing.T) {
	_, dc := newRunningSim(t)

	m, msgs := openChannel(t, dc, models.ChannelSerial)

	// The bridge pushes a status frame to every new client.
	status := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageStatus })
	assert.Equal(t, 9600, status.Baud)

	require.NoError(t, m.SendCommand(models.ChannelSerial, "baud", map[string]interface{}{"baud": 115200}))

	status = awaitMessage(t, msgs, func(msg models.ChannelMessage) bool {
		return msg.Type == models.MessageStatus && msg.Baud == 115200
	})
	require.NotNil(t, status.AutoBaud)
	assert.False(t, *status.AutoBaud)

	require.NoError(t, m.SendCommand(models.ChannelSerial, "loopback", nil))

	pass := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageSys && msg.Text != "" && msg.Text == "Loopback test PASSED" })
	assert.Equal(t, "Loopback test PASSED", pass.Text)

	tx := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageTX })
	assert.Equal(t, loopbackProbe, tx.ASCII)
}

func TestTerminalBridgeRoundTrip(t *testing.T) {
	_, dc := newRunningSim(t)

	// Stand-in AV endpoint that echoes whatever it receives.
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = echo.Close() })

	go func() {
		conn, err := echo.Accept()
		if err != nil {
			return
		}

		buf := make([]byte, 256)

		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}

			_, _ = conn.Write(buf[:n])
		}
	}()

	m, msgs := openChannel(t, dc, models.ChannelTerminal)

	port := echo.Addr().(*net.TCPAddr).Port
	require.NoError(t, m.SendCommand(models.ChannelTerminal, "connect", map[string]interface{}{
		"host": "127.0.0.1",
		"port": fmt.Sprintf("%d", port),
	}))

	status := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool {
		return msg.Type == models.MessageStatus && msg.Connected != nil && *msg.Connected
	})
	assert.Equal(t, port, status.Port)

	require.NoError(t, m.SendCommand(models.ChannelTerminal, "send", map[string]interface{}{
		"data": "PWR1", "mode": "ascii", "suffix": "",
	}))

	tx := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageTX })
	assert.Equal(t, "PWR1", tx.ASCII)

	rx := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageRX })
	assert.Equal(t, "PWR1", rx.ASCII)
}

func TestTCPServerEventsOnChannel(t *testing.T) {
	sim, dc := newRunningSim(t)

	_, msgs := openChannel(t, dc, models.ChannelTCPServer)

	require.NoError(t, sim.tcps.start(0))

	_, port := sim.tcps.state()
	require.NotZero(t, port)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)

	event := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageEvent && msg.Event == "connect" })
	assert.Equal(t, "127.0.0.1", event.IP)

	_, err = conn.Write([]byte("HELLO"))
	require.NoError(t, err)

	rx := awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageRX })
	assert.Equal(t, "HELLO", rx.ASCII)
	assert.Equal(t, "127.0.0.1", rx.From)

	require.NoError(t, conn.Close())

	awaitMessage(t, msgs, func(msg models.ChannelMessage) bool { return msg.Type == models.MessageEvent && msg.Event == "disconnect" })

	state, err := dc.TCPServer(context.Background())
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.Equal(t, port, state.Port)
}

func TestLearnerCapturesDatagrams(t *testing.T) {
	sim, dc := newRunningSim(t)
	ctx := context.Background()

	require.NoError(t, dc.SetLearner(ctx, true, 0))
	require.NoError(t, sim.udp.listen(0))

	sim.udp.mu.Lock()
	addr := sim.udp.conn.LocalAddr().String()
	sim.udp.mu.Unlock()

	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	// Identical payloads collapse into one entry with a repeat count.
	_, err = conn.Write([]byte("PWR1\r\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("PWR1\r\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)

	for {
		captures, err := dc.Captures(ctx, "", false)
		require.NoError(t, err)

		if len(captures) == 1 && captures[0].Repeats == 2 {
			assert.Equal(t, "PWR1..", captures[0].ASCII)
			assert.Equal(t, "crlf", captures[0].SuffixHint)
			assert.Equal(t, "udp", captures[0].PayloadType)

			require.NoError(t, dc.PinCapture(ctx, captures[0].ID, true))

			pinned, err := dc.Captures(ctx, "", true)
			require.NoError(t, err)
			require.Len(t, pinned, 1)
			assert.True(t, pinned[0].Pinned)

			break
		}

		require.True(t, time.Now().Before(deadline), "capture never recorded")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogFeedDeliversPushes(t *testing.T) {
	sim, dc := newRunningSim(t)

	_, msgs := openChannel(t, dc, models.ChannelLog)

	sim.pushLog("lamp hours 1200")

	msg := awaitMessage(t, msgs, func(m models.ChannelMessage) bool { return m.Text == "lamp hours 1200" })
	assert.Equal(t, models.MessageLog, msg.Type)
}
