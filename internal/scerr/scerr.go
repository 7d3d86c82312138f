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

// Package scerr holds the internal result codes and disconnect reasons
// shared across the BACnet/SC components (spec §6.4). These are distinct
// from bvlcsc.ErrorCode, which is the wire-level BACnet error-code
// enumeration carried in a RESULT NAK; scerr values never appear on the
// wire, they are the vocabulary components use to talk to each other and
// to the datalink façade's callers.
package scerr

import (
	"fmt"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
)

// Result is the internal, Go-API-facing result of an operation, distinct
// from the wire-level bvlcsc error codes.
type Result int

const (
	ResultSuccess Result = iota
	ResultNoResources
	ResultBadParam
	ResultInvalidOperation
	ResultTimeout
	ResultClosed
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultNoResources:
		return "NO_RESOURCES"
	case ResultBadParam:
		return "BAD_PARAM"
	case ResultInvalidOperation:
		return "INVALID_OPERATION"
	case ResultTimeout:
		return "TIMEDOUT"
	case ResultClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

func (r Result) Error() string {
	return "scerr: " + r.String()
}

// DisconnectReason explains why a Socket left CONNECTED, surfaced upward on
// the next EVENT_DISCONNECTED (spec §4.2, §6.4).
type DisconnectReason int

const (
	// DisconnectReasonNone means the socket never reached CONNECTED, or the
	// disconnection carries no specific reason worth reporting.
	DisconnectReasonNone DisconnectReason = iota
	// DisconnectReasonLocal means disconnect() was called locally; this is
	// not an error and is never reported as a failure upward.
	DisconnectReasonLocal
	// DisconnectReasonTimedOut means a connect/heartbeat/disconnect timer expired.
	DisconnectReasonTimedOut
	// DisconnectReasonPeerDisconnected means the peer closed the WebSocket
	// or sent DISCONNECT_REQUEST.
	DisconnectReasonPeerDisconnected
	// DisconnectReasonDuplicatedVMAC means a RESULT NAK with
	// NODE_DUPLICATE_VMAC was received, or this socket rejected an
	// impostor peer claiming our own VMAC.
	DisconnectReasonDuplicatedVMAC
	// DisconnectReasonNoResources means the socket pool was exhausted or
	// an allocation failed.
	DisconnectReasonNoResources
	// DisconnectReasonWebSocketError means the underlying transport
	// reported an error outside the above categories.
	DisconnectReasonWebSocketError
)

func (d DisconnectReason) String() string {
	switch d {
	case DisconnectReasonNone:
		return "NONE"
	case DisconnectReasonLocal:
		return "LOCAL_DISCONNECT"
	case DisconnectReasonTimedOut:
		return "TIMEDOUT"
	case DisconnectReasonPeerDisconnected:
		return "PEER_DISCONNECTED"
	case DisconnectReasonDuplicatedVMAC:
		return "DUPLICATED_VMAC"
	case DisconnectReasonNoResources:
		return "NO_RESOURCES"
	case DisconnectReasonWebSocketError:
		return "WEBSOCKET_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error implements error so a DisconnectReason can be wrapped directly into
// an EVENT_DISCONNECTED callback payload without an intermediate type.
type Error struct {
	Reason DisconnectReason
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("scerr: %s", e.Reason)
	}
	return fmt.Sprintf("scerr: %s: %s", e.Reason, e.Detail)
}

// New builds an *Error from a reason and an optional detail string.
func New(reason DisconnectReason, detail string) *Error {
	return &Error{Reason: reason, Detail: detail}
}

// WireCode maps a disconnect reason to the BACnet error code recorded in
// telemetry status records (§3.8) and carried in RESULT NAKs.
func WireCode(reason DisconnectReason) bvlcsc.ErrorCode {
	switch reason {
	case DisconnectReasonTimedOut:
		return bvlcsc.ErrorCodeWebSocketClosedAbnormally
	case DisconnectReasonPeerDisconnected:
		return bvlcsc.ErrorCodeWebSocketClosedByPeer
	case DisconnectReasonDuplicatedVMAC:
		return bvlcsc.ErrorCodeNodeDuplicateVMAC
	case DisconnectReasonWebSocketError:
		return bvlcsc.ErrorCodeWebSocketError
	default:
		return bvlcsc.ErrorCodeOther
	}
}
