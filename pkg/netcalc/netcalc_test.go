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

package netcalc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/avconsole/pkg/models"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		ip        string
		cidr      int
		mask      string
		network   string
		broadcast string
		hostCount uint64
		first     string
		last      string
		hasUsable bool
	}{
		{
			name:      "typical /24",
			ip:        "192.168.1.10",
			cidr:      24,
			mask:      "255.255.255.0",
			network:   "192.168.1.0",
			broadcast: "192.168.1.255",
			hostCount: 254,
			first:     "192.168.1.1",
			last:      "192.168.1.254",
			hasUsable: true,
		},
		{
			name:      "host route /32",
			ip:        "10.0.0.5",
			cidr:      32,
			mask:      "255.255.255.255",
			network:   "10.0.0.5",
			broadcast: "10.0.0.5",
			hostCount: 0,
			hasUsable: false,
		},
		{
			name:      "point to point /31",
			ip:        "10.0.0.4",
			cidr:      31,
			mask:      "255.255.255.254",
			network:   "10.0.0.4",
			broadcast: "10.0.0.5",
			hostCount: 0,
			hasUsable: false,
		},
		{
			name:      "whole space /0",
			ip:        "0.0.0.0",
			cidr:      0,
			mask:      "0.0.0.0",
			network:   "0.0.0.0",
			broadcast: "255.255.255.255",
			hostCount: 1<<32 - 2,
			first:     "0.0.0.1",
			last:      "255.255.255.254",
			hasUsable: true,
		},
		{
			name:      "odd prefix /19",
			ip:        "172.16.47.200",
			cidr:      19,
			mask:      "255.255.224.0",
			network:   "172.16.32.0",
			broadcast: "172.16.63.255",
			hostCount: 8190,
			first:     "172.16.32.1",
			last:      "172.16.63.254",
			hasUsable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compute(tt.ip, tt.cidr)
			require.NoError(t, err)

			assert.Equal(t, tt.cidr, res.CIDR)
			assert.Equal(t, tt.mask, models.DottedQuad(res.Mask))
			assert.Equal(t, tt.network, models.DottedQuad(res.Network))
			assert.Equal(t, tt.broadcast, models.DottedQuad(res.Broadcast))
			assert.Equal(t, tt.hostCount, res.HostCount)
			assert.Equal(t, tt.hasUsable, res.HasUsable)

			if tt.hasUsable {
				assert.Equal(t, tt.first, models.DottedQuad(res.FirstUsable))
				assert.Equal(t, tt.last, models.DottedQuad(res.LastUsable))
			}
		})
	}
}

func TestComputeValidation(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		cidr    int
		wantErr error
	}{
		{name: "cidr too large", ip: "1.2.3.4", cidr: 33, wantErr: ErrInvalidCIDR},
		{name: "cidr negative", ip: "1.2.3.4", cidr: -1, wantErr: ErrInvalidCIDR},
		{name: "three octets", ip: "1.2.3", cidr: 24, wantErr: ErrInvalidIP},
		{name: "octet out of range", ip: "1.2.3.256", cidr: 24, wantErr: ErrInvalidIP},
		{name: "non numeric octet", ip: "1.2.x.4", cidr: 24, wantErr: ErrInvalidIP},
		{name: "empty octet", ip: "1.2..4", cidr: 24, wantErr: ErrInvalidIP},
		{name: "empty string", ip: "", cidr: 24, wantErr: ErrInvalidIP},
		{name: "signed octet", ip: "+1.2.3.4", cidr: 24, wantErr: ErrInvalidIP},
		{name: "negative octet", ip: "1.2.3.-4", cidr: 24, wantErr: ErrInvalidIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.ip, tt.cidr)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseIPv4(t *testing.T) {
	addr, err := ParseIPv4("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xC0A8010A), addr)
	assert.Equal(t, "192.168.1.10", models.DottedQuad(addr))
}

func TestParseSpec(t *testing.T) {
	ip, cidr, err := ParseSpec("172.16.47.200/19")
	require.NoError(t, err)
	assert.Equal(t, "172.16.47.200", ip)
	assert.Equal(t, 19, cidr)

	_, _, err = ParseSpec("172.16.47.200")
	assert.ErrorIs(t, err, ErrInvalidCIDR)

	_, _, err = ParseSpec("1.2.3/24")
	assert.ErrorIs(t, err, ErrInvalidIP)

	_, _, err = ParseSpec("1.2.3.4/40")
	assert.ErrorIs(t, err, ErrInvalidCIDR)
}
