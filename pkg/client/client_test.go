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

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/avconsole/pkg/logger"
)

func newTestClient(t *testing.T, handler http.Handler) (*DeviceClient, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	dc, err := NewDeviceClient(srv.URL, logger.NewTestLogger())
	require.NoError(t, err)

	return dc, srv
}

func TestNewDeviceClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "192.168.4.1"} {
		_, err := NewDeviceClient(raw, logger.NewTestLogger())
		assert.ErrorIs(t, err, ErrValidation, "url %q", raw)
	}
}

func TestHealthDecodesSnapshot(t *testing.T) {
	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/health", r.URL.Path)

		_, _ = w.Write([]byte(`{
			"fw":"1.4.2","uptime_s":321,"heap_free":145000,
			"wifi":{"mode":"sta","staConnected":true,"staIp":"192.168.1.77","rssi":-52},
			"term":{"connected":true,"host":"192.168.1.30","port":23},
			"disc":{"running":true,"progress":40}
		}`))
	}))

	h, err := dc.Health(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "1.4.2", h.FW)
	assert.Equal(t, int64(321), h.UptimeS)
	assert.True(t, h.WiFi.STAConnected)
	assert.Equal(t, -52, h.WiFi.RSSI)
	assert.Equal(t, 23, h.Term.Port)
	assert.Equal(t, 40, h.Disc.Progress)
}

func TestErrorContractPrefersJSONErrorField(t *testing.T) {
	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"already_running"}`))
	}))

	err := dc.StartSSDPScan(context.Background())
	require.ErrorIs(t, err, ErrDeviceAPI)
	assert.Contains(t, err.Error(), "already_running")
}

func TestErrorContractFallsBackToStatusText(t *testing.T) {
	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`boom`))
	}))

	err := dc.Reboot(context.Background())
	require.ErrorIs(t, err, ErrDeviceAPI)
	assert.Contains(t, err.Error(), "500")
}

func TestValidationShortCircuitsBeforeRequest(t *testing.T) {
	requests := 0

	dc, _ := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		requests++
	}))

	ctx := context.Background()

	assert.ErrorIs(t, dc.StartPortScan(ctx, "", []int{80}), ErrValidation)
	assert.ErrorIs(t, dc.StartPortScan(ctx, "10.0.0.1", nil), ErrValidation)
	assert.ErrorIs(t, dc.UDPSend(ctx, "10.0.0.1", 0, "PWR1"), ErrValidation)
	assert.ErrorIs(t, dc.WOL(ctx, ""), ErrValidation)
	assert.ErrorIs(t, dc.PinCapture(ctx, "", true), ErrValidation)

	_, err := dc.Ping(ctx, "")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, requests, "validation failures must not reach the device")
}

func TestPingBuildsHostQuery(t *testing.T) {
	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/ping", r.URL.Path)
		require.Equal(t, "192.168.1.30", r.URL.Query().Get("host"))

		_, _ = w.Write([]byte(`{"host":"192.168.1.30","ok":true,"avg_time_ms":3.5}`))
	}))

	res, err := dc.Ping(context.Background(), "192.168.1.30")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.InDelta(t, 3.5, res.AvgTimeMs, 0.001)
}

func TestWiFiScanFreshFlag(t *testing.T) {
	var sawFresh string

	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawFresh = r.URL.Query().Get("fresh")
		_, _ = w.Write([]byte(`{"count":1,"networks":[{"ssid":"lab","rssi":-40,"chan":6,"open":false}]}`))
	}))

	scan, err := dc.WiFiScan(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "1", sawFresh)
	require.Len(t, scan.Networks, 1)
	assert.Equal(t, "lab", scan.Networks[0].SSID)
}

func TestStartPortScanBody(t *testing.T) {
	var body map[string]interface{}

	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/portscan", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	require.NoError(t, dc.StartPortScan(context.Background(), "192.168.1.50", []int{22, 80}))

	assert.Equal(t, "192.168.1.50", body["host"])
	assert.Equal(t, []interface{}{float64(22), float64(80)}, body["ports"])
}

func TestTCPServerActions(t *testing.T) {
	var bodies []map[string]interface{}

	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tcpserver", r.URL.Path)

		if r.Method == http.MethodPost {
			var b map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
			bodies = append(bodies, b)
		}

		_, _ = w.Write([]byte(`{"running":true,"port":7000}`))
	}))

	state, err := dc.StartTCPServer(context.Background(), 7000)
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.Equal(t, 7000, state.Port)

	_, err = dc.StopTCPServer(context.Background())
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "start", bodies[0]["action"])
	assert.Equal(t, float64(7000), bodies[0]["port"])
	assert.Equal(t, "stop", bodies[1]["action"])
}

func TestCapturesUnwrapsEnvelope(t *testing.T) {
	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1", r.URL.Query().Get("pinned"))
		require.Equal(t, "192.168.1", r.URL.Query().Get("filter"))

		_, _ = w.Write([]byte(`{"captures":[{"id":"c1","srcIp":"192.168.1.9","srcPort":5000,"hex":"505752","ascii":"PWR","pinned":true}]}`))
	}))

	caps, err := dc.Captures(context.Background(), "192.168.1", true)
	require.NoError(t, err)
	require.Len(t, caps, 1)
	assert.Equal(t, "c1", caps[0].ID)
	assert.True(t, caps[0].Pinned)
}

func TestDeviceStatusesUnwrapsEnvelope(t *testing.T) {
	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":[{"id":"d1","online":true,"lastSeenMs":12,"ip":"192.168.1.30","port":23}]}`))
	}))

	statuses, err := dc.DeviceStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Online)
	assert.Equal(t, "192.168.1.30", statuses[0].IP)
}

func TestConfigPassThroughIsRaw(t *testing.T) {
	stored := []byte(`{"devices":[],"theme":"dark"}`)

	dc, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write(stored)
			return
		}

		var echo json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&echo))
		stored = echo

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	raw, err := dc.GetConfig(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"devices":[],"theme":"dark"}`, string(raw))

	require.NoError(t, dc.SetConfig(context.Background(), json.RawMessage(`{"theme":"light"}`)))
	assert.JSONEq(t, `{"theme":"light"}`, string(stored))
}

func TestChannelURLDerivation(t *testing.T) {
	dc, err := NewDeviceClient("http://192.168.4.1", logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, "ws://192.168.4.1/wsrs232", dc.ChannelURL("/wsrs232"))
}
