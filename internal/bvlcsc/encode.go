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

import (
	"encoding/binary"

	"github.com/bacnet-community/bsc-core/internal/scaddr"
)

// EncodeResult encodes a RESULT message (AB.2.5). For an ACK, pass
// ResultACK and leave the error fields zero; for a NAK, set errClass/errCode
// and an optional UTF-8 detail string.
func EncodeResult(messageID uint16, orig, dest *scaddr.VMAC, respondingFn Function, code ResultCode, errHeaderMarker uint8, errClass ErrorClass, errCode ErrorCode, details string) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionResult, MessageID: messageID, Origin: orig, Dest: dest})
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(respondingFn), byte(code))
	if code == ResultNAK {
		buf = append(buf, errHeaderMarker)
		buf = binary.BigEndian.AppendUint16(buf, uint16(errClass))
		buf = binary.BigEndian.AppendUint16(buf, uint16(errCode))
		buf = append(buf, []byte(details)...)
	}
	return buf, nil
}

// EncodeEncapsulatedNPDU encodes an ENCAPSULATED_NPDU message (AB.2.4),
// the workhorse message carrying ordinary BACnet application traffic.
func EncodeEncapsulatedNPDU(messageID uint16, orig, dest *scaddr.VMAC, npdu []byte) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionEncapsulatedNPDU, MessageID: messageID, Origin: orig, Dest: dest})
	if err != nil {
		return nil, err
	}
	return append(buf, npdu...), nil
}

// EncodeAddressResolution encodes an ADDRESS_RESOLUTION request (AB.2.9),
// sent through the hub to the peer whose direct-connect URIs are wanted.
func EncodeAddressResolution(messageID uint16, orig, dest *scaddr.VMAC) ([]byte, error) {
	return encodeHeader(nil, Header{Function: FunctionAddressResolution, MessageID: messageID, Origin: orig, Dest: dest})
}

// EncodeAddressResolutionAck encodes the reply to an ADDRESS_RESOLUTION
// request (AB.2.10), listing the WebSocket URIs the answering node accepts
// direct connections on.
func EncodeAddressResolutionAck(messageID uint16, orig, dest *scaddr.VMAC, webSocketURIs string) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionAddressResolutionACK, MessageID: messageID, Origin: orig, Dest: dest})
	if err != nil {
		return nil, err
	}
	return append(buf, []byte(webSocketURIs)...), nil
}

// EncodeAdvertisement encodes an ADVERTISEMENT message (AB.2.8), by which a
// node announces its hub-connection state and frame size limits.
func EncodeAdvertisement(messageID uint16, orig, dest *scaddr.VMAC, hubStatus HubConnectorState, support DirectConnectionSupport, maxBVLCLen, maxNPDULen uint16) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionAdvertisement, MessageID: messageID, Origin: orig, Dest: dest})
	if err != nil {
		return nil, err
	}
	buf = append(buf, byte(hubStatus), byte(support))
	buf = binary.BigEndian.AppendUint16(buf, maxBVLCLen)
	buf = binary.BigEndian.AppendUint16(buf, maxNPDULen)
	return buf, nil
}

// EncodeAdvertisementSolicitation encodes an ADVERTISEMENT_SOLICITATION
// message (AB.2.7), requesting that peers re-announce their state.
func EncodeAdvertisementSolicitation(messageID uint16, orig, dest *scaddr.VMAC) ([]byte, error) {
	return encodeHeader(nil, Header{Function: FunctionAdvertisementSolicitation, MessageID: messageID, Origin: orig, Dest: dest})
}

// EncodeConnectRequest encodes a CONNECT_REQUEST message (AB.2.6), sent by
// the initiating side of a WebSocket connection to identify itself.
func EncodeConnectRequest(messageID uint16, localVMAC scaddr.VMAC, localUUID scaddr.UUID, maxBVLCLen, maxNPDULen uint16) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionConnectRequest, MessageID: messageID})
	if err != nil {
		return nil, err
	}
	buf = append(buf, localVMAC[:]...)
	buf = append(buf, localUUID.Bytes()...)
	buf = binary.BigEndian.AppendUint16(buf, maxBVLCLen)
	buf = binary.BigEndian.AppendUint16(buf, maxNPDULen)
	return buf, nil
}

// EncodeConnectAccept encodes a CONNECT_ACCEPT message (AB.2.6), the
// accepting side's reply to CONNECT_REQUEST.
func EncodeConnectAccept(messageID uint16, localVMAC scaddr.VMAC, localUUID scaddr.UUID, maxBVLCLen, maxNPDULen uint16) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionConnectAccept, MessageID: messageID})
	if err != nil {
		return nil, err
	}
	buf = append(buf, localVMAC[:]...)
	buf = append(buf, localUUID.Bytes()...)
	buf = binary.BigEndian.AppendUint16(buf, maxBVLCLen)
	buf = binary.BigEndian.AppendUint16(buf, maxNPDULen)
	return buf, nil
}

// EncodeDisconnectRequest encodes a DISCONNECT_REQUEST message (AB.2.11),
// requesting an orderly teardown of the underlying WebSocket connection.
func EncodeDisconnectRequest(messageID uint16) ([]byte, error) {
	return encodeHeader(nil, Header{Function: FunctionDisconnectRequest, MessageID: messageID})
}

// EncodeDisconnectAck encodes a DISCONNECT_ACK message (AB.2.11).
func EncodeDisconnectAck(messageID uint16) ([]byte, error) {
	return encodeHeader(nil, Header{Function: FunctionDisconnectACK, MessageID: messageID})
}

// EncodeHeartbeatRequest encodes a HEARTBEAT_REQUEST message (AB.2.13),
// sent on an idle connection to detect silent peer loss.
func EncodeHeartbeatRequest(messageID uint16) ([]byte, error) {
	return encodeHeader(nil, Header{Function: FunctionHeartbeatRequest, MessageID: messageID})
}

// EncodeHeartbeatAck encodes a HEARTBEAT_ACK message (AB.2.13).
func EncodeHeartbeatAck(messageID uint16) ([]byte, error) {
	return encodeHeader(nil, Header{Function: FunctionHeartbeatACK, MessageID: messageID})
}

// EncodeProprietaryMessage encodes a PROPRIETARY_MESSAGE (AB.2.12), an
// escape hatch for vendor-specific payloads outside the standard set.
func EncodeProprietaryMessage(messageID uint16, orig, dest *scaddr.VMAC, vendorID uint16, fn uint8, data []byte) ([]byte, error) {
	buf, err := encodeHeader(nil, Header{Function: FunctionProprietaryMessage, MessageID: messageID, Origin: orig, Dest: dest})
	if err != nil {
		return nil, err
	}
	buf = binary.BigEndian.AppendUint16(buf, vendorID)
	buf = append(buf, fn)
	return append(buf, data...), nil
}

// EncodeSecurePathOption builds a secure-path header option (AB.2.3.1) for
// inclusion in a Header's DestOptions or DataOptions list.
func EncodeSecurePathOption(mustUnderstand bool) HeaderOption {
	return HeaderOption{Type: OptionTypeSecurePath, MustUnderstand: mustUnderstand}
}

// EncodeProprietaryOption builds a proprietary header option (AB.2.3.2) for
// inclusion in a Header's DestOptions or DataOptions list.
func EncodeProprietaryOption(mustUnderstand bool, vendorID uint16, proprietaryType uint8, data []byte) HeaderOption {
	return HeaderOption{
		Type:            OptionTypeProprietary,
		MustUnderstand:  mustUnderstand,
		VendorID:        vendorID,
		ProprietaryType: proprietaryType,
		Data:            data,
	}
}

// EncodeMessage encodes any message whose Header carries dest/data option
// lists the single-purpose Encode* helpers above do not accept. Callers
// that need header options build the body with the matching Encode*
// function's logic inline, or call this with a pre-populated body.
func EncodeMessage(h Header, body []byte) ([]byte, error) {
	buf, err := encodeHeader(nil, h)
	if err != nil {
		return nil, err
	}
	return append(buf, body...), nil
}
