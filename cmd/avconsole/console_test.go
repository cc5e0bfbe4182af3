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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/avconsole/pkg/models"
)

func TestParsePortScan(t *testing.T) {
	host, ports, err := parsePortScan("192.168.1.50:22,80, 443")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", host)
	assert.Equal(t, []int{22, 80, 443}, ports)

	_, _, err = parsePortScan("192.168.1.50")
	assert.ErrorIs(t, err, errBadJobSpec)

	_, _, err = parsePortScan("192.168.1.50:22,abc")
	assert.ErrorIs(t, err, errBadJobSpec)
}

func TestParseMDNS(t *testing.T) {
	service, proto := parseMDNS("_pjlink/tcp")
	assert.Equal(t, "_pjlink", service)
	assert.Equal(t, "tcp", proto)

	service, proto = parseMDNS("_airplay")
	assert.Equal(t, "_airplay", service)
	assert.Equal(t, "tcp", proto)
}

func TestParseDiscover(t *testing.T) {
	subnet, from, to, err := parseDiscover("192.168.1:10-20")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1", subnet)
	assert.Equal(t, 10, from)
	assert.Equal(t, 20, to)

	subnet, from, to, err = parseDiscover("10.0.0")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0", subnet)
	assert.Equal(t, 1, from)
	assert.Equal(t, 254, to)

	_, _, _, err = parseDiscover("10.0.0:5")
	assert.ErrorIs(t, err, errBadJobSpec)
}

func TestSplitChannelsAll(t *testing.T) {
	names := splitChannels("all")
	assert.Len(t, names, len(models.ChannelRoles))

	names = splitChannels("log,serial")
	assert.Equal(t, []string{"log", "serial"}, names)
}

func TestConfigValidation(t *testing.T) {
	cfg := consoleConfig{}
	assert.ErrorIs(t, cfg.Validate(), errDeviceRequired)

	cfg = consoleConfig{Device: "http://192.168.4.1", Channels: []string{"log", "bogus"}}
	assert.ErrorIs(t, cfg.Validate(), errUnknownChannel)

	cfg = consoleConfig{Device: "http://192.168.4.1", Channels: []string{"log", "serial"}}
	assert.NoError(t, cfg.Validate())
}
