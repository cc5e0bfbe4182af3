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

// Package netcalc implements deterministic IPv4/CIDR arithmetic for subnet
// display and discovery-range computation.
package netcalc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/carverauto/avconsole/pkg/models"
)

var (
	// ErrInvalidIP is returned when the address is not four dot-separated
	// octets each in [0,255].
	ErrInvalidIP = errors.New("invalid IPv4 address")
	// ErrInvalidCIDR is returned when the prefix length is outside [0,32].
	ErrInvalidCIDR = errors.New("invalid CIDR prefix")
)

// ParseIPv4 parses a dotted quad into a 32-bit unsigned integer, first octet
// most significant.
func ParseIPv4(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIP, s)
	}

	var addr uint32

	for _, p := range parts {
		// ParseUint rejects empty octets and sign characters that Atoi
		// would let through ("+1"), and bitSize 8 bounds the value.
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidIP, s)
		}

		addr = addr<<8 | uint32(n)
	}

	return addr, nil
}

// ParseSpec splits an "ip/cidr" string into its address and prefix parts.
func ParseSpec(spec string) (ip string, cidr int, err error) {
	ip, prefix, ok := strings.Cut(spec, "/")
	if !ok {
		return "", 0, fmt.Errorf("%w: %q is not ip/cidr", ErrInvalidCIDR, spec)
	}

	cidr, err = strconv.Atoi(prefix)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidCIDR, prefix)
	}

	if _, err := ParseIPv4(ip); err != nil {
		return "", 0, err
	}

	if cidr < 0 || cidr > 32 {
		return "", 0, fmt.Errorf("%w: %d", ErrInvalidCIDR, cidr)
	}

	return ip, cidr, nil
}

// Compute derives mask, network, broadcast and the usable host range for an
// address and prefix length. The /0, /31 and /32 edge cases are handled
// explicitly: /0 spans the whole address space, while /31 and /32 have no
// usable hosts and report an empty (never inverted) range.
func Compute(ip string, cidr int) (models.SubnetResult, error) {
	if cidr < 0 || cidr > 32 {
		return models.SubnetResult{}, fmt.Errorf("%w: %d", ErrInvalidCIDR, cidr)
	}

	addr, err := ParseIPv4(ip)
	if err != nil {
		return models.SubnetResult{}, err
	}

	var mask uint32
	if cidr > 0 {
		mask = 0xFFFFFFFF ^ uint32((uint64(1)<<(32-cidr))-1)
	}

	network := addr & mask
	broadcast := network | ^mask

	size := uint64(1) << (32 - cidr)

	var hostCount uint64
	if size > 2 {
		hostCount = size - 2
	}

	res := models.SubnetResult{
		CIDR:      cidr,
		Mask:      mask,
		Network:   network,
		Broadcast: broadcast,
		HostCount: hostCount,
	}

	if hostCount > 0 {
		res.FirstUsable = network + 1
		res.LastUsable = broadcast - 1
		res.HasUsable = true
	}

	return res, nil
}
