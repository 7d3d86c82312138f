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

package bvlcsc

import "github.com/bacnet-community/bsc-core/internal/scaddr"

// SetOrig returns a copy of pdu with its origin VMAC set (or replaced) to
// orig, leaving the destination, options and payload untouched. The
// Hub-Function uses this when forwarding a broadcast, stamping the sending
// peer's VMAC as the origin.
//
// Unlike the reference implementation, which rewrites the origin field in
// place by reserving BSCPre bytes ahead of the payload, this always
// re-encodes the frame; see DESIGN.md for the rationale.
func SetOrig(pdu []byte, orig scaddr.VMAC) ([]byte, error) {
	h, body, derr := decodeHeader(pdu)
	if derr != nil {
		return nil, derr
	}
	h.Origin = &orig
	buf, err := encodeHeader(nil, h)
	if err != nil {
		return nil, err
	}
	return append(buf, body...), nil
}

// RemoveDestSetOrig strips the destination VMAC from pdu and sets its
// origin to orig. The Hub-Function calls this before forwarding a unicast
// frame to its destination peer, passing the sending peer's VMAC, so the
// receiver learns who sent the frame and no longer sees its own VMAC as
// the destination.
func RemoveDestSetOrig(pdu []byte, orig scaddr.VMAC) ([]byte, error) {
	h, body, derr := decodeHeader(pdu)
	if derr != nil {
		return nil, derr
	}
	h.Dest = nil
	h.Origin = &orig
	buf, err := encodeHeader(nil, h)
	if err != nil {
		return nil, err
	}
	return append(buf, body...), nil
}

// RemoveOrigAndDest strips both the origin and destination VMAC fields
// from pdu. The Node-Switch uses this before sending a unicast frame over a
// direct connection, whose two ends are already identified by the
// connection itself.
func RemoveOrigAndDest(pdu []byte) ([]byte, error) {
	h, body, derr := decodeHeader(pdu)
	if derr != nil {
		return nil, derr
	}
	h.Dest = nil
	h.Origin = nil
	buf, err := encodeHeader(nil, h)
	if err != nil {
		return nil, err
	}
	return append(buf, body...), nil
}

// PDUHasNoDest reports whether pdu carries no explicit destination VMAC,
// meaning it is implicitly addressed to whatever the local forwarding
// context considers default (the hub, or the whole direct-connection mesh).
func PDUHasNoDest(pdu []byte) (bool, *DecodeError) {
	h, _, derr := decodeHeader(pdu)
	if derr != nil {
		return false, derr
	}
	return h.Dest == nil, nil
}

// PDUHasDestBroadcast reports whether pdu's destination VMAC is the local
// broadcast address.
func PDUHasDestBroadcast(pdu []byte) (bool, *DecodeError) {
	h, _, derr := decodeHeader(pdu)
	if derr != nil {
		return false, derr
	}
	return h.Dest != nil && h.Dest.IsBroadcast(), nil
}

// PDUGetDest returns pdu's destination VMAC, if any.
func PDUGetDest(pdu []byte) (vmac scaddr.VMAC, ok bool, derr *DecodeError) {
	h, _, derr := decodeHeader(pdu)
	if derr != nil {
		return scaddr.VMAC{}, false, derr
	}
	if h.Dest == nil {
		return scaddr.VMAC{}, false, nil
	}
	return *h.Dest, true, nil
}

// IsVMACBroadcast reports whether vmac is the reserved local-broadcast
// address. It delegates to scaddr.VMAC.IsBroadcast; kept here as a
// top-level function so callers working purely in terms of the codec
// package don't need to import scaddr just to test broadcast-ness.
func IsVMACBroadcast(vmac scaddr.VMAC) bool {
	return vmac.IsBroadcast()
}

// NeedSendBVLCResult reports whether receipt of dm obliges the receiver to
// respond with a RESULT message. RESULT itself never provokes another
// RESULT (that would loop), and the heartbeat/disconnect exchanges carry
// their own dedicated acknowledgements instead.
func NeedSendBVLCResult(dm *DecodedMessage) bool {
	switch dm.Header.Function {
	case FunctionResult,
		FunctionHeartbeatRequest, FunctionHeartbeatACK,
		FunctionDisconnectRequest, FunctionDisconnectACK:
		return false
	default:
		return true
	}
}
