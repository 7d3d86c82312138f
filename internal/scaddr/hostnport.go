// SPDX-License-Identifier: AGPL-3.0-or-later
// bsc-core - BACnet Secure Connect datalink core
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// The source code is available at <https://github.com/bacnet-community/bsc-core>

package scaddr

import (
	"fmt"
	"net"
	"strconv"
)

// HostNPortType distinguishes the two ways a HostNPort may name a peer.
type HostNPortType uint8

const (
	// HostNPortIP identifies the peer by a packed IPv4/IPv6 address.
	HostNPortIP HostNPortType = 1
	// HostNPortHostname identifies the peer by DNS hostname.
	HostNPortHostname HostNPortType = 2
)

// HostNPort is either a packed IP address or a DNS hostname, plus a port.
// It is used in peer-address status fields (§3.1, §3.8).
type HostNPort struct {
	Type HostNPortType
	Host string
	Port uint16
}

func (h HostNPort) String() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// ParseHostPort splits a "host:port" string (as reported by a transport's
// peer-address accessor) into a HostNPort, classifying numeric addresses as
// IP and everything else as a hostname. An unparseable input yields the
// zero value.
func ParseHostPort(addr string) HostNPort {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return HostNPort{}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return HostNPort{}
	}
	hp := HostNPort{Host: host, Port: uint16(port), Type: HostNPortHostname}
	if net.ParseIP(host) != nil {
		hp.Type = HostNPortIP
	}
	return hp
}
