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

// Package scsocket implements the Socket and Socket-Context components of
// spec §4.2: establishing a single SC association over a WebSocket
// (handshake, heartbeats, disconnect) and carrying encapsulated NPDU
// traffic once CONNECTED, enforcing the BVLC/SC framing rules of §3.2.
package scsocket

import (
	"time"

	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// Role distinguishes an initiator Context (makes outbound WebSocket
// connections, drives the CONNECT_REQUEST side of the handshake) from an
// acceptor Context (accepts inbound connections, drives CONNECT_ACCEPT).
type Role int

const (
	RoleInitiator Role = iota
	RoleAcceptor
)

func (r Role) String() string {
	if r == RoleAcceptor {
		return "acceptor"
	}
	return "initiator"
}

// Kind selects the WebSocket subprotocol a Context negotiates (spec §4.2
// step 1, §6.1): hub contexts (Hub-Connector/Hub-Function) use
// "hub.bsc.bacnet.org"; direct contexts (Node-Switch) use
// "dc.bsc.bacnet.org".
type Kind int

const (
	KindHub Kind = iota
	KindDirect
)

// Proto returns the Sec-WebSocket-Protocol string for k.
func (k Kind) Proto() string {
	if k == KindDirect {
		return sctransport.ProtoDirect
	}
	return sctransport.ProtoHub
}

// State is a Socket's position in the state machine of spec §3.3.
type State int

const (
	StateIdle State = iota
	StateAwaitingWebSocket // initiator only: WS connect in flight
	StateAwaitingAccept    // initiator: sent CONNECT_REQUEST, awaiting CONNECT_ACCEPT
	StateAwaitingRequest   // acceptor: WS accepted, awaiting CONNECT_REQUEST
	StateConnected
	StateDisconnecting   // sent DISCONNECT_REQUEST, awaiting DISCONNECT_ACK
	StateError           // WS being closed; awaiting WS-DISCONNECTED to reach Idle
	StateErrorFlushTX    // finish pending send, then StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingWebSocket:
		return "AWAITING_WEBSOCKET"
	case StateAwaitingAccept:
		return "AWAITING_ACCEPT"
	case StateAwaitingRequest:
		return "AWAITING_REQUEST"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateError:
		return "ERROR"
	case StateErrorFlushTX:
		return "ERROR_FLUSH_TX"
	default:
		return "UNKNOWN"
	}
}

// Config carries the Network-Port-derived settings a Context needs (spec
// §3.4, §6.3): protocol kind, bind address for acceptors, credentials,
// local identity, negotiated frame-size caps, and the three timeout knobs.
type Config struct {
	Kind      Kind
	BindAddr  string
	Interface string
	Creds     sctransport.TLSCredentials

	LocalVMAC  scaddr.VMAC
	LocalUUID  scaddr.UUID
	MaxBVLCLen uint16
	MaxNPDULen uint16

	ConnectTimeout    time.Duration
	HeartbeatTimeout  time.Duration
	DisconnectTimeout time.Duration
}

// DefaultTimeouts returns the fallback timer values used when a
// Network-Port object leaves a timer at its zero value.
func DefaultTimeouts() (connect, heartbeat, disconnect time.Duration) {
	const (
		defaultConnect    = 10 * time.Second
		defaultHeartbeat  = 300 * time.Second
		defaultDisconnect = 10 * time.Second
	)
	return defaultConnect, defaultHeartbeat, defaultDisconnect
}
