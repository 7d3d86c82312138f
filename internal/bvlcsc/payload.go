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

// ResultPayload is the body of a RESULT message: an ACK, or a NAK carrying
// the error that provoked it plus the function code it refers to.
type ResultPayload struct {
	RespondingFunction Function
	Code               ResultCode
	ErrorHeaderMarker  uint8
	ErrorClass         ErrorClass
	ErrorCode          ErrorCode
	Details            string
}

// EncapsulatedNPDUPayload carries a raw NPDU for transport over the
// BACnet/SC virtual link (AB.2.4).
type EncapsulatedNPDUPayload struct {
	NPDU []byte
}

// AddressResolutionAckPayload lists the WebSocket URIs a node answering an
// ADDRESS_RESOLUTION request can be reached at.
type AddressResolutionAckPayload struct {
	WebSocketURIs string
}

// DirectConnectionSupport indicates whether a node accepts direct (node
// switch) connections (AB.2.8).
type DirectConnectionSupport uint8

const (
	DirectConnectionUnsupported DirectConnectionSupport = 0
	DirectConnectionSupported   DirectConnectionSupport = 1
)

// AdvertisementPayload is the body of the ADVERTISEMENT a node sends in
// reply to an ADVERTISEMENT_SOLICITATION, telling the asker its hub status,
// direct-connect support and frame limits (AB.2.8).
type AdvertisementPayload struct {
	HubStatus       HubConnectorState
	Support         DirectConnectionSupport
	MaxBVLCLen      uint16
	MaxNPDULen      uint16
}

// HubConnectorState mirrors the hub-connection state a node advertises,
// per secure_connect.h's BACnetSCHubConnectionStatus enumeration.
type HubConnectorState uint8

const (
	HubConnectorStateNoHubConnection   HubConnectorState = 0
	HubConnectorStateConnectedPrimary  HubConnectorState = 1
	HubConnectorStateConnectedFailover HubConnectorState = 2
)

// ConnectRequestPayload is sent by a connecting peer to identify itself and
// negotiate frame size limits (AB.2.6).
type ConnectRequestPayload struct {
	VMAC       scaddr.VMAC
	UUID       scaddr.UUID
	MaxBVLCLen uint16
	MaxNPDULen uint16
}

// ConnectAcceptPayload is the accepting peer's reply to ConnectRequestPayload.
type ConnectAcceptPayload struct {
	VMAC       scaddr.VMAC
	UUID       scaddr.UUID
	MaxBVLCLen uint16
	MaxNPDULen uint16
}

// ProprietaryPayload carries vendor-specific data outside the standard
// message set (AB.2.12).
type ProprietaryPayload struct {
	VendorID uint16
	Function uint8
	Data     []byte
}
