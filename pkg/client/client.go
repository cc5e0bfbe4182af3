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

// Package client is the typed REST client for the device's HTTP API. Every
// method takes a context and maps the device's error contract (non-2xx with
// a JSON {"error": ...} body) onto a Go error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carverauto/avconsole/pkg/logger"
)

var (
	// ErrDeviceAPI wraps every error the device itself reports.
	ErrDeviceAPI = errors.New("device API error")
	// ErrValidation covers malformed parameters caught before any request.
	ErrValidation = errors.New("invalid request parameters")
)

const defaultTimeout = 15 * time.Second

// DeviceClient talks to one device. Safe for concurrent use.
type DeviceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger
}

// Option configures a DeviceClient.
type Option func(*DeviceClient)

// WithHTTPClient overrides the underlying HTTP client, used by tests and by
// callers needing custom transports.
func WithHTTPClient(c *http.Client) Option {
	return func(dc *DeviceClient) { dc.httpClient = c }
}

// WithTimeout overrides the per-request timeout on the default client.
func WithTimeout(d time.Duration) Option {
	return func(dc *DeviceClient) { dc.httpClient.Timeout = d }
}

// NewDeviceClient creates a client for the device at baseURL, for example
// "http://192.168.4.1".
func NewDeviceClient(baseURL string, log logger.Logger, opts ...Option) (*DeviceClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: device URL %q", ErrValidation, baseURL)
	}

	dc := &DeviceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log,
	}

	for _, opt := range opts {
		opt(dc)
	}

	return dc, nil
}

// BaseURL returns the device base URL the client was created with.
func (dc *DeviceClient) BaseURL() string {
	return dc.baseURL
}

// ChannelURL derives the WebSocket URL for a channel path on this device.
func (dc *DeviceClient) ChannelURL(path string) string {
	ws := strings.Replace(dc.baseURL, "http", "ws", 1)
	return ws + path
}

type apiError struct {
	Error string `json:"error"`
}

// getJSON issues a GET and decodes the response into out (skipped when out
// is nil).
func (dc *DeviceClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	target := dc.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	return dc.do(req, out)
}

// postJSON issues a POST with a JSON body (an empty object when body is
// nil) and decodes the response into out (skipped when out is nil).
func (dc *DeviceClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload := []byte("{}")

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}

	req.Header.Set("Content-Type", "application/json")

	return dc.do(req, out)
}

func (dc *DeviceClient) do(req *http.Request, out interface{}) error {
	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}

	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", req.Method, req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%w: %s", ErrDeviceAPI, apiErr.Error)
		}

		return fmt.Errorf("%w: %s", ErrDeviceAPI, resp.Status)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", req.Method, req.URL.Path, err)
	}

	return nil
}
