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

package config

import (
	"encoding/hex"
	"errors"
	"net"
	"strings"
)

var (
	// ErrInvalidLogLevel indicates that the provided log level is not valid.
	ErrInvalidLogLevel = errors.New("invalid log level provided")
	// ErrInvalidMetricsBindAddress indicates that the provided metrics server bind address is not valid.
	ErrInvalidMetricsBindAddress = errors.New("invalid metrics server bind address provided")
	// ErrInvalidMetricsPort indicates that the provided metrics server port is not valid.
	ErrInvalidMetricsPort = errors.New("invalid metrics server port provided")
	// ErrInvalidPProfBindAddress indicates that the provided pprof server bind address is not valid.
	ErrInvalidPProfBindAddress = errors.New("invalid pprof server bind address provided")
	// ErrInvalidPProfPort indicates that the provided pprof server port is not valid.
	ErrInvalidPProfPort = errors.New("invalid pprof server port provided")
	// ErrInvalidVMAC indicates that the provided local VMAC is not 12 hex digits.
	ErrInvalidVMAC = errors.New("invalid local VMAC provided")
	// ErrInvalidHubURI indicates that a hub URI does not use a WebSocket scheme.
	ErrInvalidHubURI = errors.New("invalid hub URI provided")
	// ErrMissingHubFunctionBind indicates the hub function is enabled without a bind address.
	ErrMissingHubFunctionBind = errors.New("hub function enabled without a bind address")
	// ErrMissingDirectConnectBind indicates direct-connect accept is enabled without a bind address.
	ErrMissingDirectConnectBind = errors.New("direct-connect accept enabled without a bind address")
	// ErrMissingDirectConnectURIs indicates direct-connect accept is enabled without accept URIs.
	ErrMissingDirectConnectURIs = errors.New("direct-connect accept enabled without accept URIs")
)

const (
	minPort = 1
	maxPort = 65535
)

// Validate checks that the configuration is self-consistent, returning the
// first problem found.
func (c Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return ErrInvalidLogLevel
	}
	if err := c.Metrics.Validate(); err != nil {
		return err
	}
	if err := c.PProf.Validate(); err != nil {
		return err
	}
	return c.SC.Validate()
}

// Validate checks the metrics section; a disabled section is always valid.
func (m Metrics) Validate() error {
	if !m.Enabled {
		return nil
	}
	if net.ParseIP(strings.Trim(m.Bind, "[]")) == nil {
		return ErrInvalidMetricsBindAddress
	}
	if m.Port < minPort || m.Port > maxPort {
		return ErrInvalidMetricsPort
	}
	return nil
}

// Validate checks the pprof section; a disabled section is always valid.
func (p PProf) Validate() error {
	if !p.Enabled {
		return nil
	}
	if net.ParseIP(strings.Trim(p.Bind, "[]")) == nil {
		return ErrInvalidPProfBindAddress
	}
	if p.Port < minPort || p.Port > maxPort {
		return ErrInvalidPProfPort
	}
	return nil
}

// Validate checks the SC section.
func (s SC) Validate() error {
	if s.LocalVMAC != "" {
		raw, err := hex.DecodeString(s.LocalVMAC)
		if err != nil || len(raw) != 6 {
			return ErrInvalidVMAC
		}
	}
	for _, uri := range []string{s.PrimaryHubURI, s.FailoverHubURI} {
		if uri == "" {
			continue
		}
		if !strings.HasPrefix(uri, "wss://") && !strings.HasPrefix(uri, "ws://") {
			return ErrInvalidHubURI
		}
	}
	if s.HubFunction.Enabled && s.HubFunction.Bind == "" {
		return ErrMissingHubFunctionBind
	}
	if s.DirectConnect.AcceptEnabled {
		if s.DirectConnect.Bind == "" {
			return ErrMissingDirectConnectBind
		}
		if len(s.DirectConnect.AcceptURIs) == 0 {
			return ErrMissingDirectConnectURIs
		}
	}
	return nil
}
