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

// Package bvlcsc implements the BVLC-SC wire codec: bit-exact encoding and
// decoding of the 13 BACnet/SC message types and their header-option TLVs,
// per ASHRAE 135 Addendum cc, Clause AB.2. The codec holds no state — every
// exported function is a pure transform over a byte slice.
package bvlcsc

import "github.com/bacnet-community/bsc-core/internal/scaddr"

// Function identifies a BVLC-SC message type (AB.2.1).
type Function uint8

// The 13 BVLC-SC message types.
const (
	FunctionResult                      Function = 0x00
	FunctionEncapsulatedNPDU            Function = 0x01
	FunctionAddressResolution           Function = 0x02
	FunctionAddressResolutionACK        Function = 0x03
	FunctionAdvertisement               Function = 0x04
	FunctionAdvertisementSolicitation   Function = 0x05
	FunctionConnectRequest              Function = 0x06
	FunctionConnectAccept               Function = 0x07
	FunctionDisconnectRequest           Function = 0x08
	FunctionDisconnectACK               Function = 0x09
	FunctionHeartbeatRequest            Function = 0x0A
	FunctionHeartbeatACK                Function = 0x0B
	FunctionProprietaryMessage          Function = 0x0C
)

func (f Function) String() string {
	switch f {
	case FunctionResult:
		return "RESULT"
	case FunctionEncapsulatedNPDU:
		return "ENCAPSULATED_NPDU"
	case FunctionAddressResolution:
		return "ADDRESS_RESOLUTION"
	case FunctionAddressResolutionACK:
		return "ADDRESS_RESOLUTION_ACK"
	case FunctionAdvertisement:
		return "ADVERTISEMENT"
	case FunctionAdvertisementSolicitation:
		return "ADVERTISEMENT_SOLICITATION"
	case FunctionConnectRequest:
		return "CONNECT_REQUEST"
	case FunctionConnectAccept:
		return "CONNECT_ACCEPT"
	case FunctionDisconnectRequest:
		return "DISCONNECT_REQUEST"
	case FunctionDisconnectACK:
		return "DISCONNECT_ACK"
	case FunctionHeartbeatRequest:
		return "HEARTBEAT_REQUEST"
	case FunctionHeartbeatACK:
		return "HEARTBEAT_ACK"
	case FunctionProprietaryMessage:
		return "PROPRIETARY_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// ControlFlag bits occupy the frame's second octet (AB.2.2).
type ControlFlag uint8

const (
	ControlDataOptions ControlFlag = 1 << 0
	ControlDestOptions ControlFlag = 1 << 1
	ControlDestVAddr   ControlFlag = 1 << 2
	ControlOrigVAddr   ControlFlag = 1 << 3
)

// OptionType is the 5-bit type field of a header-option TLV (AB.2.3).
type OptionType uint8

const (
	OptionTypeSecurePath  OptionType = 1
	OptionTypeProprietary OptionType = 31
)

const (
	optionHasData        = 1 << 5
	optionMustUnderstand = 1 << 6
	optionMoreFollows    = 1 << 7
	optionTypeMask       = 0x1F
)

// MaxHeaderOptions bounds the number of header options this implementation
// will decode from a single dest/data options list (the standard does not
// impose a limit; an implementation must define one).
const MaxHeaderOptions = 4

// ResultCode is the ACK/NAK discriminator carried by a RESULT message.
type ResultCode uint8

const (
	ResultACK ResultCode = 0
	ResultNAK ResultCode = 1
)

// BSCPre is the number of prefix octets a caller must reserve before a
// payload handed to the transport's send path, so that header octets can be
// prepended without a copy (§6.1 "Buffer conventions"). It is
// 2 * scaddr.VMACSize, matching BSC_PRE in the original C implementation.
const BSCPre = 2 * scaddr.VMACSize
