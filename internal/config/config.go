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

// Package config holds the process configuration, loaded by configulator
// from flags, environment variables and an optional config file. The SC
// section carries the Network-Port settings (spec §6.3) in file form; the
// rest is ambient (logging, metrics, pprof).
package config

// Config stores the application configuration.
type Config struct {
	LogLevel LogLevel `name:"log-level" description:"Logging level (debug, info, warn, error)" default:"info"`
	Metrics  Metrics  `name:"metrics"`
	PProf    PProf    `name:"pprof"`
	SC       SC       `name:"sc"`
}

// Metrics configures the Prometheus endpoint and OTLP tracing.
type Metrics struct {
	Enabled      bool   `name:"enabled" description:"Enable the Prometheus metrics server" default:"false"`
	Bind         string `name:"bind" description:"Address to bind the metrics server to" default:"127.0.0.1"`
	Port         int    `name:"port" description:"Port to bind the metrics server to" default:"9619"`
	OTLPEndpoint string `name:"otlp-endpoint" description:"OTLP gRPC endpoint for tracing; empty disables tracing"`
}

// PProf configures the profiling endpoint.
type PProf struct {
	Enabled        bool     `name:"enabled" description:"Enable the pprof server" default:"false"`
	Bind           string   `name:"bind" description:"Address to bind the pprof server to" default:"127.0.0.1"`
	Port           int      `name:"port" description:"Port to bind the pprof server to" default:"6060"`
	TrustedProxies []string `name:"trusted-proxies" description:"Trusted proxy addresses for the pprof server"`
}

// SC carries the BACnet/SC Network-Port settings: identity, hub URIs,
// certificate file references and protocol timers.
type SC struct {
	LocalVMAC string `name:"local-vmac" description:"Local 6-octet virtual MAC as 12 hex digits; empty generates a random one"`
	LocalUUID string `name:"local-uuid" description:"Local device UUID; empty generates a random one"`

	PrimaryHubURI  string `name:"primary-hub-uri" description:"WebSocket URI of the primary hub"`
	FailoverHubURI string `name:"failover-hub-uri" description:"WebSocket URI of the failover hub"`

	CACertFile string `name:"ca-cert-file" description:"PEM file with the issuer certificate"`
	CertFile   string `name:"cert-file" description:"PEM file with the operational certificate"`
	KeyFile    string `name:"key-file" description:"PEM file with the certificate key"`

	MaxBVLCLength uint16 `name:"max-bvlc-length" description:"Largest BVLC frame accepted" default:"4096"`
	MaxNPDULength uint16 `name:"max-npdu-length" description:"Largest NPDU accepted" default:"4087"`

	ConnectWaitTimeoutSeconds    int `name:"connect-wait-timeout" description:"Connect wait timeout in seconds" default:"10"`
	HeartbeatTimeoutSeconds      int `name:"heartbeat-timeout" description:"Heartbeat timeout in seconds" default:"300"`
	DisconnectWaitTimeoutSeconds int `name:"disconnect-wait-timeout" description:"Disconnect wait timeout in seconds" default:"10"`
	MaximumReconnectSeconds      int `name:"maximum-reconnect-time" description:"Maximum reconnect wait in seconds" default:"30"`

	HubFunction   HubFunction   `name:"hub-function"`
	DirectConnect DirectConnect `name:"direct-connect"`
}

// HubFunction configures the optional acceptor role.
type HubFunction struct {
	Enabled bool   `name:"enabled" description:"Run the hub function (accept hub connections from peers)" default:"false"`
	Bind    string `name:"bind" description:"Address to bind the hub function listener to"`
}

// DirectConnect configures the optional node-switch role.
type DirectConnect struct {
	InitiateEnabled bool     `name:"initiate-enabled" description:"Allow initiating direct connections" default:"false"`
	AcceptEnabled   bool     `name:"accept-enabled" description:"Accept direct connections from peers" default:"false"`
	AcceptURIs      []string `name:"accept-uris" description:"WebSocket URIs peers may use to reach this node directly"`
	Bind            string   `name:"bind" description:"Address to bind the direct-connect listener to"`
}
