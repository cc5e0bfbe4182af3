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

package models

import "fmt"

// SubnetResult is the outcome of IPv4/CIDR arithmetic. All addresses are
// 32-bit unsigned integers in network byte order (first octet most
// significant).
type SubnetResult struct {
	CIDR      int    `json:"cidr"`
	Mask      uint32 `json:"mask"`
	Network   uint32 `json:"network"`
	Broadcast uint32 `json:"broadcast"`
	HostCount uint64 `json:"hostCount"`

	// FirstUsable/LastUsable bound the usable host range. For /31 and /32
	// the range is degenerate and HasUsable is false; the bounds are then
	// meaningless and must not be rendered as an inverted range.
	FirstUsable uint32 `json:"firstUsable"`
	LastUsable  uint32 `json:"lastUsable"`
	HasUsable   bool   `json:"hasUsable"`
}

// DottedQuad renders a 32-bit address as the usual a.b.c.d form.
func DottedQuad(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", addr>>24&0xFF, addr>>16&0xFF, addr>>8&0xFF, addr&0xFF)
}
