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

// DecodedMessage is the result of parsing a BVLC-SC frame. Header holds the
// fields common to every message type; exactly one of the payload pointers
// below is non-nil, selected by Header.Function. ADDRESS_RESOLUTION,
// ADVERTISEMENT_SOLICITATION, DISCONNECT_REQUEST, DISCONNECT_ACK,
// HEARTBEAT_REQUEST and HEARTBEAT_ACK carry no body, so none of the
// payload fields are set for those functions.
type DecodedMessage struct {
	Header Header

	Result                *ResultPayload
	EncapsulatedNPDU      *EncapsulatedNPDUPayload
	AddressResolutionAck  *AddressResolutionAckPayload
	Advertisement         *AdvertisementPayload
	ConnectRequest        *ConnectRequestPayload
	ConnectAccept         *ConnectAcceptPayload
	Proprietary           *ProprietaryPayload
}

// Decode parses a single BVLC-SC frame. Per AB.2, a frame shorter than the
// minimum header is malformed beyond recovery and must be dropped silently
// rather than answered with a RESULT NAK — callers should check
// errors.Is-style against DecodeErrorTooShort via the returned *DecodeError's
// Kind field and skip sending any reply in that case.
func Decode(buf []byte) (*DecodedMessage, *DecodeError) {
	if len(buf) < minHeaderLen {
		return nil, newDecodeError(DecodeErrorTooShort, ErrorCodeOther, "frame shorter than minimum header")
	}

	hdr, body, derr := decodeHeader(buf)
	if derr != nil {
		return nil, derr
	}

	dm := &DecodedMessage{Header: hdr}

	switch hdr.Function {
	case FunctionResult:
		p, derr := decodeResultPayload(body)
		if derr != nil {
			return nil, derr
		}
		dm.Result = p

	case FunctionEncapsulatedNPDU:
		dm.EncapsulatedNPDU = &EncapsulatedNPDUPayload{NPDU: append([]byte(nil), body...)}

	case FunctionAddressResolution, FunctionAdvertisementSolicitation,
		FunctionDisconnectRequest, FunctionDisconnectACK,
		FunctionHeartbeatRequest, FunctionHeartbeatACK:
		// no body

	case FunctionAddressResolutionACK:
		dm.AddressResolutionAck = &AddressResolutionAckPayload{WebSocketURIs: string(body)}

	case FunctionAdvertisement:
		p, derr := decodeAdvertisementPayload(body)
		if derr != nil {
			return nil, derr
		}
		dm.Advertisement = p

	case FunctionConnectRequest:
		f, derr := decodeConnectFields(body)
		if derr != nil {
			return nil, derr
		}
		dm.ConnectRequest = &ConnectRequestPayload{VMAC: f.VMAC, UUID: f.UUID, MaxBVLCLen: f.MaxBVLCLen, MaxNPDULen: f.MaxNPDULen}

	case FunctionConnectAccept:
		f, derr := decodeConnectFields(body)
		if derr != nil {
			return nil, derr
		}
		dm.ConnectAccept = &ConnectAcceptPayload{VMAC: f.VMAC, UUID: f.UUID, MaxBVLCLen: f.MaxBVLCLen, MaxNPDULen: f.MaxNPDULen}

	case FunctionProprietaryMessage:
		p, derr := decodeProprietaryPayload(body)
		if derr != nil {
			return nil, derr
		}
		dm.Proprietary = p

	default:
		return nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderNotUnderstood, "unknown bvlc function")
	}

	return dm, nil
}

func decodeResultPayload(body []byte) (*ResultPayload, *DecodeError) {
	if len(body) < 2 {
		return nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "truncated result payload")
	}
	p := &ResultPayload{
		RespondingFunction: Function(body[0]),
		Code:               ResultCode(body[1]),
	}
	if p.Code == ResultACK {
		return p, nil
	}

	rest := body[2:]
	if len(rest) < 5 {
		return nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "truncated NAK payload")
	}
	p.ErrorHeaderMarker = rest[0]
	p.ErrorClass = ErrorClass(binary.BigEndian.Uint16(rest[1:3]))
	p.ErrorCode = ErrorCode(binary.BigEndian.Uint16(rest[3:5]))
	p.Details = string(rest[5:])
	return p, nil
}

func decodeAdvertisementPayload(body []byte) (*AdvertisementPayload, *DecodeError) {
	if len(body) != 6 {
		return nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "malformed advertisement payload")
	}
	return &AdvertisementPayload{
		HubStatus:  HubConnectorState(body[0]),
		Support:    DirectConnectionSupport(body[1]),
		MaxBVLCLen: binary.BigEndian.Uint16(body[2:4]),
		MaxNPDULen: binary.BigEndian.Uint16(body[4:6]),
	}, nil
}

type connectFields struct {
	VMAC       scaddr.VMAC
	UUID       scaddr.UUID
	MaxBVLCLen uint16
	MaxNPDULen uint16
}

func decodeConnectFields(body []byte) (connectFields, *DecodeError) {
	const connectPayloadLen = 6 + 16 + 2 + 2
	if len(body) != connectPayloadLen {
		return connectFields{}, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "malformed connect payload")
	}
	vmac, err := scaddr.VMACFromBytes(body[0:6])
	if err != nil {
		return connectFields{}, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, err.Error())
	}
	uuid, err := scaddr.UUIDFromBytes(body[6:22])
	if err != nil {
		return connectFields{}, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, err.Error())
	}
	return connectFields{
		VMAC:       vmac,
		UUID:       uuid,
		MaxBVLCLen: binary.BigEndian.Uint16(body[22:24]),
		MaxNPDULen: binary.BigEndian.Uint16(body[24:26]),
	}, nil
}

func decodeProprietaryPayload(body []byte) (*ProprietaryPayload, *DecodeError) {
	if len(body) < 3 {
		return nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "truncated proprietary payload")
	}
	return &ProprietaryPayload{
		VendorID: binary.BigEndian.Uint16(body[0:2]),
		Function: body[2],
		Data:     append([]byte(nil), body[3:]...),
	}, nil
}
