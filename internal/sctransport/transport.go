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

// Package sctransport defines the WebSocket transport contract BACnet/SC
// components are written against (spec §6.1), and a concrete implementation
// of it on top of gorilla/websocket so the module runs end to end without a
// separate transport binding. The contract is intentionally narrow — the
// rest of the module never imports gorilla/websocket directly, only this
// package's Client/Server interfaces, so a different transport (mocked in
// tests, or a future QUIC/plain-TCP binding) can be swapped in behind it.
package sctransport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// Protocol subprotocol strings negotiated over Sec-WebSocket-Protocol
// (spec §6.1, §4.2). ProtoHub is used by the Hub-Connector/Hub-Function
// pair; ProtoDirect is used by the Node-Switch for peer-to-peer links.
const (
	ProtoHub    = "hub.bsc.bacnet.org"
	ProtoDirect = "dc.bsc.bacnet.org"
)

// EventType enumerates the dispatch callback events a transport delivers on
// its single dispatcher thread (spec §6.1).
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventReceived
	EventSendable
	EventServerStarted
	EventServerStopped
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventReceived:
		return "RECEIVED"
	case EventSendable:
		return "SENDABLE"
	case EventServerStarted:
		return "SERVER_STARTED"
	case EventServerStopped:
		return "SERVER_STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Handle opaquely identifies one live WebSocket connection. It is only
// ever compared or used to address Send/Disconnect/DispatchSend calls.
type Handle uint64

// Event is delivered to a DispatchFunc for every transport occurrence. Not
// every field is populated for every EventType: Payload is set only for
// EventReceived; Err/Detail are set only for EventDisconnected and for an
// EventServerStopped caused by a serve error.
type Event struct {
	Type    EventType
	Handle  Handle
	Payload []byte
	Err     error
	Detail  string
}

// DispatchFunc receives transport events. Per spec §5, the caller is
// expected to serialize all its own state access inside this callback
// (the "bws-dispatch" lock). The gorilla-backed transports deliver the
// connected, received and disconnected events of a single Handle in order
// from one goroutine; EventSendable is delivered from a separate goroutine
// and may run concurrently with them, so ordering between EventSendable
// and the other events is not guaranteed.
type DispatchFunc func(Event)

// TLSCredentials are the byte-blob certificate materials a Network-Port
// object supplies at startup (spec §6.3); this package turns them into a
// *tls.Config. No certificate persistence or chain-validation policy is
// implemented here beyond what crypto/tls itself enforces (spec Non-goals).
type TLSCredentials struct {
	CA   []byte
	Cert []byte
	Key  []byte
}

// ClientTLSConfig builds a *tls.Config suitable for an initiator connection
// from PEM-encoded credential blobs. A nil/zero TLSCredentials yields a
// config with only the system root pool, for use against test servers.
func (c TLSCredentials) ClientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(c.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.CA) {
			return nil, fmt.Errorf("sctransport: failed to parse CA certificate")
		}
		cfg.RootCAs = pool
	}
	if len(c.Cert) > 0 && len(c.Key) > 0 {
		pair, err := tls.X509KeyPair(c.Cert, c.Key)
		if err != nil {
			return nil, fmt.Errorf("sctransport: failed to parse client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	return cfg, nil
}

// ServerTLSConfig builds a *tls.Config suitable for an acceptor listener
// from PEM-encoded credential blobs, requiring and verifying a client
// certificate against the supplied CA pool (mutual TLS, per AB.6).
func (c TLSCredentials) ServerTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if len(c.Cert) > 0 && len(c.Key) > 0 {
		pair, err := tls.X509KeyPair(c.Cert, c.Key)
		if err != nil {
			return nil, fmt.Errorf("sctransport: failed to parse server certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	if len(c.CA) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(c.CA) {
			return nil, fmt.Errorf("sctransport: failed to parse CA certificate")
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// ClientConfig parameterizes Client.Connect.
type ClientConfig struct {
	Proto      string
	URL        string
	Creds      TLSCredentials
	ConnectTimeout time.Duration
}

// Client is the initiator-side transport API consumed by scsocket (spec
// §6.1 "Client (initiator) API").
type Client interface {
	// Connect starts an asynchronous WebSocket connection attempt. Results
	// are reported to dispatch as EventConnected or EventDisconnected; the
	// call itself only fails for immediately-detectable setup errors (bad
	// URL, bad TLS material).
	Connect(cfg ClientConfig, dispatch DispatchFunc) (Handle, error)
	// Disconnect closes the connection identified by h, if still open.
	Disconnect(h Handle)
	// Send requests a writable notification; the transport will deliver
	// EventSendable on its dispatcher thread once the connection can
	// accept a DispatchSend call. Sockets use this to avoid blocking the
	// dispatch lock on I/O (spec §5).
	Send(h Handle) error
	// DispatchSend writes one message. Only valid when called from within
	// a DispatchFunc invocation for the same Handle.
	DispatchSend(h Handle, payload []byte) error
}

// ServerConfig parameterizes Server.Start.
type ServerConfig struct {
	Proto     string
	BindAddr  string
	Interface string
	Creds     TLSCredentials
}

// Server is the acceptor-side transport API consumed by scsocket (spec
// §6.1 "Server (acceptor) API").
type Server interface {
	Start(cfg ServerConfig, dispatch DispatchFunc) error
	Stop() error
	Disconnect(h Handle)
	Send(h Handle) error
	DispatchSend(h Handle, payload []byte) error
	// GetPeerIPAddr returns the remote address of h in host:port form, or
	// "" if h is unknown.
	GetPeerIPAddr(h Handle) string
}
