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

import "fmt"

// ErrorClass is the BACnet error-class enumeration, restricted to the values
// this codec can produce.
type ErrorClass uint16

// Communication is the only error class the SC codec raises.
const ErrorClassCommunication ErrorClass = 9

// ErrorCode is the BACnet error-code enumeration, restricted to the values
// named in spec §6.4 / §3.2. Numeric values follow the ASHRAE 135
// error-code table ordering used throughout the retrieved BACnet source;
// they are wire-significant only insofar as encode and decode agree with
// each other, since the upstream enumeration header was not present in the
// retrieval pack (see DESIGN.md).
type ErrorCode uint16

const (
	ErrorCodeOther                             ErrorCode = 0
	ErrorCodeHeaderEncodingError               ErrorCode = 172
	ErrorCodeHeaderNotUnderstood               ErrorCode = 173
	ErrorCodeMessageTooLong                    ErrorCode = 174
	ErrorCodeNodeDuplicateVMAC                 ErrorCode = 175
	ErrorCodeOptionalFunctionalityNotSupported ErrorCode = 176
	ErrorCodeWebSocketCloseError               ErrorCode = 192
	ErrorCodeWebSocketClosedByPeer             ErrorCode = 193
	ErrorCodeWebSocketClosedAbnormally         ErrorCode = 194
	ErrorCodeWebSocketEndpointLeaves           ErrorCode = 195
	ErrorCodeWebSocketDataNotAccepted          ErrorCode = 198
	ErrorCodeWebSocketError                    ErrorCode = 202
)

// DecodeErrorClass classifies a decode failure at a coarser grain than
// ErrorClass/ErrorCode, mirroring the three-way split the original C
// decoder uses (too-short, structurally invalid, option error).
type DecodeErrorClass int

const (
	// DecodeErrorNone indicates no error occurred.
	DecodeErrorNone DecodeErrorClass = iota
	// DecodeErrorTooShort indicates the buffer was under 4 bytes; per
	// spec §3.2 this is dropped silently, never NAKed.
	DecodeErrorTooShort
	// DecodeErrorMalformed indicates the frame failed to parse structurally.
	DecodeErrorMalformed
	// DecodeErrorOption indicates a header-option TLV failed to parse or
	// was not understood.
	DecodeErrorOption
)

// DecodeError is returned by Decode when a buffer cannot be turned into a
// DecodedMessage. Class/Code follow the BACnet error taxonomy; Detail is an
// optional human-readable UTF-8 string suitable for a RESULT NAK.
type DecodeError struct {
	Kind   DecodeErrorClass
	Class  ErrorClass
	Code   ErrorCode
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("bvlcsc: decode error class=%d code=%d: %s", e.Class, e.Code, e.Detail)
	}
	return fmt.Sprintf("bvlcsc: decode error class=%d code=%d", e.Class, e.Code)
}

func newDecodeError(kind DecodeErrorClass, code ErrorCode, detail string) *DecodeError {
	return &DecodeError{Kind: kind, Class: ErrorClassCommunication, Code: code, Detail: detail}
}
