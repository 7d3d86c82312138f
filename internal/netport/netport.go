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

// Package netport models the Network-Port object's view of the BACnet/SC
// datalink (spec §6.3): the persistent configuration the Node reads at
// startup, and the Clause 21 complex types the maintenance tick mirrors
// telemetry back into (SC_Hub_Connection_Status and friends), with their
// constructed-sequence encoders and decoders.
package netport

import (
	"errors"
	"time"

	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// Config is the SC protocol configuration a Network-Port object supplies at
// startup (spec §6.3). Certificate material arrives as byte blobs; no
// persistence happens here (spec Non-goals).
type Config struct {
	Creds sctransport.TLSCredentials

	LocalUUID          scaddr.UUID
	LocalVMAC          scaddr.VMAC
	MaxBVLCLenAccepted uint16
	MaxNPDULenAccepted uint16

	PrimaryHubURI  string
	FailoverHubURI string

	ConnectWaitTimeout    time.Duration
	HeartbeatTimeout      time.Duration
	DisconnectWaitTimeout time.Duration
	MaximumReconnectTime  time.Duration

	// AddressResolutionTimeout and AddressResolutionFreshness default to
	// ConnectWaitTimeout when zero (spec §6.3).
	AddressResolutionTimeout   time.Duration
	AddressResolutionFreshness time.Duration

	HubFunctionEnabled   bool
	HubFunctionBindAddr  string
	HubFunctionInterface string

	DirectConnectInitiateEnabled bool
	DirectConnectAcceptEnabled   bool
	DirectConnectAcceptURIs      []string
	DirectConnectBindAddr        string
	DirectConnectInterface       string
}

// ErrInvalidConfig is returned by Validate when a required field is missing
// or inconsistent.
var ErrInvalidConfig = errors.New("netport: invalid configuration")

// Normalize fills the defaulted fields in place: zero timers take the
// standard defaults, and the address-resolution timers inherit the connect
// wait (spec §6.3).
func (c *Config) Normalize() {
	const (
		defaultConnectWait    = 10 * time.Second
		defaultHeartbeat      = 300 * time.Second
		defaultDisconnectWait = 10 * time.Second
		defaultReconnect      = 30 * time.Second
		defaultMaxBVLCLen     = 4096
		defaultMaxNPDULen     = 4087
	)
	if c.ConnectWaitTimeout <= 0 {
		c.ConnectWaitTimeout = defaultConnectWait
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeat
	}
	if c.DisconnectWaitTimeout <= 0 {
		c.DisconnectWaitTimeout = defaultDisconnectWait
	}
	if c.MaximumReconnectTime <= 0 {
		c.MaximumReconnectTime = defaultReconnect
	}
	if c.AddressResolutionTimeout <= 0 {
		c.AddressResolutionTimeout = c.ConnectWaitTimeout
	}
	if c.AddressResolutionFreshness <= 0 {
		c.AddressResolutionFreshness = c.ConnectWaitTimeout
	}
	if c.MaxBVLCLenAccepted == 0 {
		c.MaxBVLCLenAccepted = defaultMaxBVLCLen
	}
	if c.MaxNPDULenAccepted == 0 {
		c.MaxNPDULenAccepted = defaultMaxNPDULen
	}
}

// Validate checks the configuration after Normalize.
func (c *Config) Validate() error {
	if c.LocalVMAC.IsZero() || c.LocalVMAC.IsBroadcast() {
		return errors.Join(ErrInvalidConfig, errors.New("local VMAC must be a real unicast address"))
	}
	if c.LocalUUID.IsZero() {
		return errors.Join(ErrInvalidConfig, errors.New("local UUID must be set"))
	}
	if c.HubFunctionEnabled && c.HubFunctionBindAddr == "" {
		return errors.Join(ErrInvalidConfig, errors.New("hub function enabled without a bind address"))
	}
	if c.DirectConnectAcceptEnabled && c.DirectConnectBindAddr == "" {
		return errors.Join(ErrInvalidConfig, errors.New("direct-connect accept enabled without a bind address"))
	}
	if c.DirectConnectAcceptEnabled && len(c.DirectConnectAcceptURIs) == 0 {
		return errors.Join(ErrInvalidConfig, errors.New("direct-connect accept enabled without accept URIs"))
	}
	return nil
}
