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

package netport

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
)

// ConnectionState is the BACnetSCConnectionState enumeration surfaced in
// every SC status record (spec §3.8).
type ConnectionState uint8

const (
	StateNotConnected ConnectionState = iota
	StateConnected
	StateDisconnectedWithErrors
	StateFailedToConnect

	connectionStateMax = StateFailedToConnect
)

func (s ConnectionState) String() string {
	switch s {
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnectedWithErrors:
		return "DISCONNECTED_WITH_ERRORS"
	case StateFailedToConnect:
		return "FAILED_TO_CONNECT"
	default:
		return "UNKNOWN"
	}
}

// hasError reports whether the error/error-details fields are carried on
// the wire for this state; for the other states they are omitted.
func (s ConnectionState) hasError() bool {
	return s == StateDisconnectedWithErrors || s == StateFailedToConnect
}

// HubConnectionStatus mirrors BACnetSCHubConnection:
//
//	BACnetSCHubConnection ::= SEQUENCE {
//	    connection-state [0] BACnetSCConnectionState,
//	    connect-timestamp [1] BACnetDateTime,
//	    disconnect-timestamp [2] BACnetDateTime,
//	    error [3] Error OPTIONAL,
//	    error-details [4] CharacterString OPTIONAL
//	}
type HubConnectionStatus struct {
	State               ConnectionState
	ConnectTimestamp    time.Time
	DisconnectTimestamp time.Time
	Error               bvlcsc.ErrorCode
	ErrorDetails        string
}

// Encode appends the Clause 21 constructed sequence to buf.
func (v HubConnectionStatus) Encode(buf []byte) []byte {
	buf = encodeContextEnumerated(buf, 0, uint32(v.State))
	buf = EncodeContextDateTime(buf, 1, v.ConnectTimestamp)
	buf = EncodeContextDateTime(buf, 2, v.DisconnectTimestamp)
	if v.State.hasError() {
		buf = encodeContextEnumerated(buf, 3, uint32(v.Error))
		buf = encodeContextCharacterString(buf, 4, v.ErrorDetails)
	}
	return buf
}

// EncodeContext appends the same sequence wrapped in an opening/closing tag
// pair, the form used inside property list elements.
func (v HubConnectionStatus) EncodeContext(buf []byte, tagNum uint8) []byte {
	buf = encodeOpeningTag(buf, tagNum)
	buf = v.Encode(buf)
	return encodeClosingTag(buf, tagNum)
}

// EncodedLen returns the exact byte count Encode will append.
func (v HubConnectionStatus) EncodedLen() int {
	return len(v.Encode(nil))
}

func (v HubConnectionStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%s, %s, %s", v.State, stamp(v.ConnectTimestamp), stamp(v.DisconnectTimestamp))
	if v.State.hasError() {
		fmt.Fprintf(&b, ", %d, %q", v.Error, v.ErrorDetails)
	}
	b.WriteString("}")
	return b.String()
}

// DecodeHubConnectionStatus parses the sequence from the front of buf,
// returning the consumed byte count, or -1 on malformed input.
func DecodeHubConnectionStatus(buf []byte) (HubConnectionStatus, int) {
	var v HubConnectionStatus
	pos := 0

	st, n := decodeContextEnumerated(buf[pos:], 0)
	if n <= 0 || st > uint32(connectionStateMax) {
		return v, -1
	}
	v.State = ConnectionState(st)
	pos += n

	t, n := DecodeContextDateTime(buf[pos:], 1)
	if n <= 0 {
		return v, -1
	}
	v.ConnectTimestamp = t
	pos += n

	t, n = DecodeContextDateTime(buf[pos:], 2)
	if n <= 0 {
		return v, -1
	}
	v.DisconnectTimestamp = t
	pos += n

	code, n := decodeContextEnumerated(buf[pos:], 3)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.Error = bvlcsc.ErrorCode(code)
		pos += n
	}
	details, n := decodeContextCharacterString(buf[pos:], 4)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.ErrorDetails = details
		pos += n
	}
	return v, pos
}

// DecodeContextHubConnectionStatus parses the tag-wrapped form.
func DecodeContextHubConnectionStatus(buf []byte, tagNum uint8) (HubConnectionStatus, int) {
	var v HubConnectionStatus
	if !isOpeningTag(buf, tagNum) {
		return v, -1
	}
	v, n := DecodeHubConnectionStatus(buf[1:])
	if n < 0 {
		return v, -1
	}
	pos := 1 + n
	if !isClosingTag(buf[pos:], tagNum) {
		return v, -1
	}
	return v, pos + 1
}

// HubFunctionConnectionStatus mirrors BACnetSCHubFunctionConnection:
//
//	BACnetSCHubFunctionConnection ::= SEQUENCE {
//	    connection-state [0] BACnetSCConnectionState,
//	    connect-timestamp [1] BACnetDateTime,
//	    disconnect-timestamp [2] BACnetDateTime,
//	    peer-address [3] BACnetHostNPort,
//	    peer-vmac [4] OCTET STRING (SIZE(6)),
//	    peer-uuid [5] OCTET STRING (SIZE(16)),
//	    error [6] Error OPTIONAL,
//	    error-details [7] CharacterString OPTIONAL
//	}
type HubFunctionConnectionStatus struct {
	State               ConnectionState
	ConnectTimestamp    time.Time
	DisconnectTimestamp time.Time
	PeerAddress         scaddr.HostNPort
	PeerVMAC            scaddr.VMAC
	PeerUUID            scaddr.UUID
	Error               bvlcsc.ErrorCode
	ErrorDetails        string
}

func (v HubFunctionConnectionStatus) Encode(buf []byte) []byte {
	buf = encodeContextEnumerated(buf, 0, uint32(v.State))
	buf = EncodeContextDateTime(buf, 1, v.ConnectTimestamp)
	buf = EncodeContextDateTime(buf, 2, v.DisconnectTimestamp)
	buf = encodeContextHostNPort(buf, 3, v.PeerAddress)
	buf = encodeContextOctetString(buf, 4, v.PeerVMAC[:])
	buf = encodeContextOctetString(buf, 5, v.PeerUUID.Bytes())
	if v.State.hasError() {
		buf = encodeContextEnumerated(buf, 6, uint32(v.Error))
		buf = encodeContextCharacterString(buf, 7, v.ErrorDetails)
	}
	return buf
}

func (v HubFunctionConnectionStatus) EncodeContext(buf []byte, tagNum uint8) []byte {
	buf = encodeOpeningTag(buf, tagNum)
	buf = v.Encode(buf)
	return encodeClosingTag(buf, tagNum)
}

func (v HubFunctionConnectionStatus) EncodedLen() int {
	return len(v.Encode(nil))
}

func (v HubFunctionConnectionStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%s, %s, %s, %s, %s, %s", v.State,
		stamp(v.ConnectTimestamp), stamp(v.DisconnectTimestamp),
		v.PeerAddress, v.PeerVMAC, v.PeerUUID)
	if v.State.hasError() {
		fmt.Fprintf(&b, ", %d, %q", v.Error, v.ErrorDetails)
	}
	b.WriteString("}")
	return b.String()
}

func DecodeHubFunctionConnectionStatus(buf []byte) (HubFunctionConnectionStatus, int) {
	var v HubFunctionConnectionStatus
	pos := 0

	st, n := decodeContextEnumerated(buf[pos:], 0)
	if n <= 0 || st > uint32(connectionStateMax) {
		return v, -1
	}
	v.State = ConnectionState(st)
	pos += n

	t, n := DecodeContextDateTime(buf[pos:], 1)
	if n <= 0 {
		return v, -1
	}
	v.ConnectTimestamp = t
	pos += n

	t, n = DecodeContextDateTime(buf[pos:], 2)
	if n <= 0 {
		return v, -1
	}
	v.DisconnectTimestamp = t
	pos += n

	hp, n := decodeContextHostNPort(buf[pos:], 3)
	if n <= 0 {
		return v, -1
	}
	v.PeerAddress = hp
	pos += n

	raw, n := decodeContextOctetString(buf[pos:], 4)
	if n <= 0 {
		return v, -1
	}
	vmac, err := scaddr.VMACFromBytes(raw)
	if err != nil {
		return v, -1
	}
	v.PeerVMAC = vmac
	pos += n

	raw, n = decodeContextOctetString(buf[pos:], 5)
	if n <= 0 {
		return v, -1
	}
	uid, err := scaddr.UUIDFromBytes(raw)
	if err != nil {
		return v, -1
	}
	v.PeerUUID = uid
	pos += n

	code, n := decodeContextEnumerated(buf[pos:], 6)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.Error = bvlcsc.ErrorCode(code)
		pos += n
	}
	details, n := decodeContextCharacterString(buf[pos:], 7)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.ErrorDetails = details
		pos += n
	}
	return v, pos
}

func DecodeContextHubFunctionConnectionStatus(buf []byte, tagNum uint8) (HubFunctionConnectionStatus, int) {
	var v HubFunctionConnectionStatus
	if !isOpeningTag(buf, tagNum) {
		return v, -1
	}
	v, n := DecodeHubFunctionConnectionStatus(buf[1:])
	if n < 0 {
		return v, -1
	}
	pos := 1 + n
	if !isClosingTag(buf[pos:], tagNum) {
		return v, -1
	}
	return v, pos + 1
}

// FailedConnectionRequest mirrors BACnetSCFailedConnectionRequest:
//
//	BACnetSCFailedConnectionRequest ::= SEQUENCE {
//	    timestamp [0] BACnetDateTime,
//	    peer-address [1] BACnetHostNPort,
//	    peer-vmac [2] OCTET STRING (SIZE(6)) OPTIONAL,
//	    peer-uuid [3] OCTET STRING (SIZE(16)) OPTIONAL,
//	    error [4] Error,
//	    error-details [5] CharacterString OPTIONAL
//	}
type FailedConnectionRequest struct {
	Timestamp    time.Time
	PeerAddress  scaddr.HostNPort
	PeerVMAC     scaddr.VMAC
	PeerUUID     scaddr.UUID
	Error        bvlcsc.ErrorCode
	ErrorDetails string
}

func (v FailedConnectionRequest) Encode(buf []byte) []byte {
	buf = EncodeContextDateTime(buf, 0, v.Timestamp)
	buf = encodeContextHostNPort(buf, 1, v.PeerAddress)
	if !v.PeerVMAC.IsZero() {
		buf = encodeContextOctetString(buf, 2, v.PeerVMAC[:])
	}
	if !v.PeerUUID.IsZero() {
		buf = encodeContextOctetString(buf, 3, v.PeerUUID.Bytes())
	}
	buf = encodeContextEnumerated(buf, 4, uint32(v.Error))
	if v.ErrorDetails != "" {
		buf = encodeContextCharacterString(buf, 5, v.ErrorDetails)
	}
	return buf
}

func (v FailedConnectionRequest) EncodeContext(buf []byte, tagNum uint8) []byte {
	buf = encodeOpeningTag(buf, tagNum)
	buf = v.Encode(buf)
	return encodeClosingTag(buf, tagNum)
}

func (v FailedConnectionRequest) EncodedLen() int {
	return len(v.Encode(nil))
}

func (v FailedConnectionRequest) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%s, %s, %s, %s, ", stamp(v.Timestamp), v.PeerAddress, v.PeerVMAC, v.PeerUUID)
	if v.ErrorDetails != "" {
		fmt.Fprintf(&b, "%d, %q}", v.Error, v.ErrorDetails)
	} else {
		fmt.Fprintf(&b, "%d}", v.Error)
	}
	return b.String()
}

func DecodeFailedConnectionRequest(buf []byte) (FailedConnectionRequest, int) {
	var v FailedConnectionRequest
	pos := 0

	t, n := DecodeContextDateTime(buf[pos:], 0)
	if n <= 0 {
		return v, -1
	}
	v.Timestamp = t
	pos += n

	hp, n := decodeContextHostNPort(buf[pos:], 1)
	if n <= 0 {
		return v, -1
	}
	v.PeerAddress = hp
	pos += n

	raw, n := decodeContextOctetString(buf[pos:], 2)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		vmac, err := scaddr.VMACFromBytes(raw)
		if err != nil {
			return v, -1
		}
		v.PeerVMAC = vmac
		pos += n
	}
	raw, n = decodeContextOctetString(buf[pos:], 3)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		uid, err := scaddr.UUIDFromBytes(raw)
		if err != nil {
			return v, -1
		}
		v.PeerUUID = uid
		pos += n
	}

	code, n := decodeContextEnumerated(buf[pos:], 4)
	if n <= 0 {
		return v, -1
	}
	v.Error = bvlcsc.ErrorCode(code)
	pos += n

	details, n := decodeContextCharacterString(buf[pos:], 5)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.ErrorDetails = details
		pos += n
	}
	return v, pos
}

func DecodeContextFailedConnectionRequest(buf []byte, tagNum uint8) (FailedConnectionRequest, int) {
	var v FailedConnectionRequest
	if !isOpeningTag(buf, tagNum) {
		return v, -1
	}
	v, n := DecodeFailedConnectionRequest(buf[1:])
	if n < 0 {
		return v, -1
	}
	pos := 1 + n
	if !isClosingTag(buf[pos:], tagNum) {
		return v, -1
	}
	return v, pos + 1
}

// DirectConnectionStatus mirrors BACnetSCDirectConnection:
//
//	BACnetSCDirectConnection ::= SEQUENCE {
//	    uri [0] CharacterString,
//	    connection-state [1] BACnetSCConnectionState,
//	    connect-timestamp [2] BACnetDateTime,
//	    disconnect-timestamp [3] BACnetDateTime,
//	    peer-address [4] BACnetHostNPort OPTIONAL,
//	    peer-vmac [5] OCTET STRING (SIZE(6)) OPTIONAL,
//	    peer-uuid [6] OCTET STRING (SIZE(16)) OPTIONAL,
//	    error [7] Error OPTIONAL,
//	    error-details [8] CharacterString OPTIONAL
//	}
type DirectConnectionStatus struct {
	URI                 string
	State               ConnectionState
	ConnectTimestamp    time.Time
	DisconnectTimestamp time.Time
	PeerAddress         scaddr.HostNPort
	PeerVMAC            scaddr.VMAC
	PeerUUID            scaddr.UUID
	Error               bvlcsc.ErrorCode
	ErrorDetails        string
}

func (v DirectConnectionStatus) Encode(buf []byte) []byte {
	buf = encodeContextCharacterString(buf, 0, v.URI)
	buf = encodeContextEnumerated(buf, 1, uint32(v.State))
	buf = EncodeContextDateTime(buf, 2, v.ConnectTimestamp)
	buf = EncodeContextDateTime(buf, 3, v.DisconnectTimestamp)
	if v.PeerAddress.Host != "" {
		buf = encodeContextHostNPort(buf, 4, v.PeerAddress)
	}
	if !v.PeerVMAC.IsZero() {
		buf = encodeContextOctetString(buf, 5, v.PeerVMAC[:])
	}
	if !v.PeerUUID.IsZero() {
		buf = encodeContextOctetString(buf, 6, v.PeerUUID.Bytes())
	}
	if v.State.hasError() {
		buf = encodeContextEnumerated(buf, 7, uint32(v.Error))
		buf = encodeContextCharacterString(buf, 8, v.ErrorDetails)
	}
	return buf
}

func (v DirectConnectionStatus) EncodeContext(buf []byte, tagNum uint8) []byte {
	buf = encodeOpeningTag(buf, tagNum)
	buf = v.Encode(buf)
	return encodeClosingTag(buf, tagNum)
}

func (v DirectConnectionStatus) EncodedLen() int {
	return len(v.Encode(nil))
}

func (v DirectConnectionStatus) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "{%q, %s, %s, %s, %s, %s, %s", v.URI, v.State,
		stamp(v.ConnectTimestamp), stamp(v.DisconnectTimestamp),
		v.PeerAddress, v.PeerVMAC, v.PeerUUID)
	if v.State.hasError() {
		fmt.Fprintf(&b, ", %d, %q", v.Error, v.ErrorDetails)
	}
	b.WriteString("}")
	return b.String()
}

func DecodeDirectConnectionStatus(buf []byte) (DirectConnectionStatus, int) {
	var v DirectConnectionStatus
	pos := 0

	uri, n := decodeContextCharacterString(buf[pos:], 0)
	if n <= 0 {
		return v, -1
	}
	v.URI = uri
	pos += n

	st, n := decodeContextEnumerated(buf[pos:], 1)
	if n <= 0 || st > uint32(connectionStateMax) {
		return v, -1
	}
	v.State = ConnectionState(st)
	pos += n

	t, n := DecodeContextDateTime(buf[pos:], 2)
	if n <= 0 {
		return v, -1
	}
	v.ConnectTimestamp = t
	pos += n

	t, n = DecodeContextDateTime(buf[pos:], 3)
	if n <= 0 {
		return v, -1
	}
	v.DisconnectTimestamp = t
	pos += n

	hp, n := decodeContextHostNPort(buf[pos:], 4)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.PeerAddress = hp
		pos += n
	}
	raw, n := decodeContextOctetString(buf[pos:], 5)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		vmac, err := scaddr.VMACFromBytes(raw)
		if err != nil {
			return v, -1
		}
		v.PeerVMAC = vmac
		pos += n
	}
	raw, n = decodeContextOctetString(buf[pos:], 6)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		uid, err := scaddr.UUIDFromBytes(raw)
		if err != nil {
			return v, -1
		}
		v.PeerUUID = uid
		pos += n
	}
	code, n := decodeContextEnumerated(buf[pos:], 7)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.Error = bvlcsc.ErrorCode(code)
		pos += n
	}
	details, n := decodeContextCharacterString(buf[pos:], 8)
	if n < 0 {
		return v, -1
	}
	if n > 0 {
		v.ErrorDetails = details
		pos += n
	}
	return v, pos
}

func DecodeContextDirectConnectionStatus(buf []byte, tagNum uint8) (DirectConnectionStatus, int) {
	var v DirectConnectionStatus
	if !isOpeningTag(buf, tagNum) {
		return v, -1
	}
	v, n := DecodeDirectConnectionStatus(buf[1:])
	if n < 0 {
		return v, -1
	}
	pos := 1 + n
	if !isClosingTag(buf[pos:], tagNum) {
		return v, -1
	}
	return v, pos + 1
}

// encodeContextHostNPort writes a BACnetHostNPort:
//
//	BACnetHostNPort ::= SEQUENCE {
//	    host [0] BACnetHostAddress,
//	    port [1] Unsigned16
//	}
//	BACnetHostAddress ::= CHOICE {
//	    none [0] NULL,
//	    ip-address [1] OCTET STRING,
//	    name [2] CharacterString
//	}
func encodeContextHostNPort(buf []byte, tagNum uint8, hp scaddr.HostNPort) []byte {
	buf = encodeOpeningTag(buf, tagNum)
	buf = encodeOpeningTag(buf, 0)
	switch hp.Type {
	case scaddr.HostNPortIP:
		buf = encodeContextOctetString(buf, 1, packIP(hp.Host))
	case scaddr.HostNPortHostname:
		buf = encodeContextCharacterString(buf, 2, hp.Host)
	default:
		buf = encodeTagHeader(buf, 0, true, 0) // none
	}
	buf = encodeClosingTag(buf, 0)
	buf = encodeContextUnsigned(buf, 1, uint32(hp.Port))
	return encodeClosingTag(buf, tagNum)
}

func decodeContextHostNPort(buf []byte, tagNum uint8) (scaddr.HostNPort, int) {
	var hp scaddr.HostNPort
	if !isOpeningTag(buf, tagNum) {
		return hp, 0
	}
	pos := 1
	if !isOpeningTag(buf[pos:], 0) {
		return hp, -1
	}
	pos++

	if raw, n := decodeContextOctetString(buf[pos:], 1); n > 0 {
		hp.Type = scaddr.HostNPortIP
		hp.Host = net.IP(raw).String()
		pos += n
	} else if s, n := decodeContextCharacterString(buf[pos:], 2); n > 0 {
		hp.Type = scaddr.HostNPortHostname
		hp.Host = s
		pos += n
	} else if hdr, cl := decodeTagHeader(buf[pos:], 0, true); hdr > 0 && cl == 0 {
		pos += hdr
	} else {
		return hp, -1
	}

	if !isClosingTag(buf[pos:], 0) {
		return hp, -1
	}
	pos++

	port, n := decodeContextUnsigned(buf[pos:], 1)
	if n <= 0 || port > 0xFFFF {
		return hp, -1
	}
	hp.Port = uint16(port)
	pos += n

	if !isClosingTag(buf[pos:], tagNum) {
		return hp, -1
	}
	return hp, pos + 1
}

// packIP converts a textual IP into its packed 4- or 16-octet form; an
// unparseable host falls back to its raw bytes so encoding stays total.
func packIP(host string) []byte {
	ip := net.ParseIP(host)
	if ip == nil {
		return []byte(host)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
