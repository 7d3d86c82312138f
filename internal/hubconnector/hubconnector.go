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

// Package hubconnector implements the outbound hub attachment role of spec
// §4.3: a single initiator Socket-Context owning a primary and a failover
// Socket, driven through the connect-primary → connect-failover →
// reconnect-delay ladder by the shared runloop.
package hubconnector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/runloop"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scerr"
	"github.com/bacnet-community/bsc-core/internal/scsocket"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// State is the Hub-Connector's position in the ladder of spec §3.5.
type State int

const (
	StateIdle State = iota
	StateConnectingPrimary
	StateConnectingFailover
	StateConnectedPrimary
	StateConnectedFailover
	StateWaitForReconnect
	StateWaitForCtxDeinit
	StateDuplicatedVMAC
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnectingPrimary:
		return "CONNECTING_PRIMARY"
	case StateConnectingFailover:
		return "CONNECTING_FAILOVER"
	case StateConnectedPrimary:
		return "CONNECTED_PRIMARY"
	case StateConnectedFailover:
		return "CONNECTED_FAILOVER"
	case StateWaitForReconnect:
		return "WAIT_FOR_RECONNECT"
	case StateWaitForCtxDeinit:
		return "WAIT_FOR_CTX_DEINIT"
	case StateDuplicatedVMAC:
		return "DUPLICATED_VMAC"
	default:
		return "UNKNOWN"
	}
}

// Event is surfaced to the owning Node as the connector moves through its
// ladder.
type Event int

const (
	EventConnectedPrimary Event = iota
	EventConnectedFailover
	EventDisconnected
	EventDuplicatedVMAC
	EventStopped
)

// EventFunc receives connector events; it runs with the shared dispatch
// mutex held.
type EventFunc func(ev Event)

// ReceiveFunc receives frames the hub socket surfaces upward; it runs with
// the shared dispatch mutex held.
type ReceiveFunc func(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte)

// Config parameterizes Start.
type Config struct {
	Socket           scsocket.Config
	PrimaryURL       string
	FailoverURL      string
	ReconnectTimeout time.Duration
}

const (
	primarySlot  = 0
	failoverSlot = 1
	poolSize     = 2
)

// HubConnector keeps a node attached to its redundant hub pair.
type HubConnector struct {
	mu  *sync.Mutex
	cfg Config
	ctx *scsocket.Context

	state           State
	attemptInFlight bool
	reconnectTimer  runloop.Timer

	primaryStatus  netport.HubConnectionStatus
	failoverStatus netport.HubConnectionStatus

	eventFn EventFunc
	recvFn  ReceiveFunc
}

// New builds a HubConnector sharing the dispatch mutex lock, making its
// outbound connections through client, and driving its timers from loop.
func New(cfg Config, lock *sync.Mutex, client sctransport.Client, loop *runloop.Runloop, eventFn EventFunc, recvFn ReceiveFunc) *HubConnector {
	cfg.Socket.Kind = scsocket.KindHub
	h := &HubConnector{
		mu:      lock,
		cfg:     cfg,
		eventFn: eventFn,
		recvFn:  recvFn,
	}
	h.ctx = scsocket.NewInitiatorContext("hub-connector", cfg.Socket, poolSize, lock, client, scsocket.EventCallbacks{
		OnConnected:    h.onSocketConnected,
		OnDisconnected: h.onSocketDisconnected,
		OnReceived:     h.onSocketReceived,
	})
	loop.Register(h.ctx.Tick)
	loop.Register(h.Tick)
	return h
}

// Start initializes the context and begins the primary connection attempt;
// the attempt itself is driven by the next runloop tick.
func (h *HubConnector) Start() error {
	if err := h.ctx.Init(); err != nil {
		return fmt.Errorf("hubconnector: %w", err)
	}
	h.mu.Lock()
	h.state = StateConnectingPrimary
	h.attemptInFlight = false
	h.mu.Unlock()
	return nil
}

// Stop tears down both sockets and the context. Idempotent.
func (h *HubConnector) Stop() {
	h.mu.Lock()
	if h.state == StateIdle {
		h.mu.Unlock()
		return
	}
	h.state = StateWaitForCtxDeinit
	h.reconnectTimer.Disarm()
	h.mu.Unlock()

	if err := h.ctx.Deinit(); err != nil {
		slog.Warn("hubconnector: context deinit failed", "error", err)
	}

	h.mu.Lock()
	h.state = StateIdle
	fn := h.eventFn
	h.mu.Unlock()
	if fn != nil {
		fn(EventStopped)
	}
}

// State returns the connector's current ladder state.
func (h *HubConnector) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// StateLocked is State for callers already holding the dispatch mutex.
func (h *HubConnector) StateLocked() State { return h.state }

// Status returns a copy of the last primary or failover status record
// (spec §4.3 "status").
func (h *HubConnector) Status(primary bool) netport.HubConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if primary {
		return h.primaryStatus
	}
	return h.failoverStatus
}

// Send transmits a fully-encoded BVLC/SC frame to the hub. It succeeds only
// in CONNECTED_PRIMARY or CONNECTED_FAILOVER (spec §4.3).
func (h *HubConnector) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.SendLocked(frame)
}

// SendLocked is Send for callers already holding the dispatch mutex.
func (h *HubConnector) SendLocked(frame []byte) error {
	switch h.state {
	case StateConnectedPrimary:
		return h.ctx.SendFrameLocked(primarySlot, frame)
	case StateConnectedFailover:
		return h.ctx.SendFrameLocked(failoverSlot, frame)
	default:
		return fmt.Errorf("hubconnector: not connected (state %s): %w", h.state, scerr.ResultInvalidOperation)
	}
}

// ConnectedLocked reports whether the connector is attached to either hub. Caller
// holds the dispatch mutex.
func (h *HubConnector) ConnectedLocked() bool {
	return h.state == StateConnectedPrimary || h.state == StateConnectedFailover
}

// AdvertisedStateLocked maps the ladder state to the hub-connection enumeration
// carried in ADVERTISEMENT messages.
func (h *HubConnector) AdvertisedStateLocked() bvlcsc.HubConnectorState {
	switch h.state {
	case StateConnectedPrimary:
		return bvlcsc.HubConnectorStateConnectedPrimary
	case StateConnectedFailover:
		return bvlcsc.HubConnectorStateConnectedFailover
	default:
		return bvlcsc.HubConnectorStateNoHubConnection
	}
}

// SetLocalVMACLocked installs a regenerated VMAC ahead of a restart.
// Caller holds the dispatch mutex.
func (h *HubConnector) SetLocalVMACLocked(vmac scaddr.VMAC) {
	h.cfg.Socket.LocalVMAC = vmac
	h.ctx.SetLocalVMACLocked(vmac)
}

// Tick drives the connection ladder; it is registered on the shared
// runloop (spec §4.3 "State machine (timer-driven from the shared
// runloop)").
func (h *HubConnector) Tick(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateConnectingPrimary:
		if h.attemptInFlight {
			return
		}
		if h.cfg.PrimaryURL == "" {
			h.enterReconnectWaitLocked()
			return
		}
		if err := h.ctx.ConnectLocked(primarySlot, h.cfg.PrimaryURL); err != nil {
			slog.Warn("hubconnector: primary connect attempt failed", "url", h.cfg.PrimaryURL, "error", err)
			h.markFailedLocked(&h.primaryStatus, scerr.DisconnectReasonWebSocketError, err.Error())
			h.state = StateConnectingFailover
			return
		}
		h.attemptInFlight = true

	case StateConnectingFailover:
		if h.attemptInFlight {
			return
		}
		if h.cfg.FailoverURL == "" {
			h.enterReconnectWaitLocked()
			return
		}
		if err := h.ctx.ConnectLocked(failoverSlot, h.cfg.FailoverURL); err != nil {
			slog.Warn("hubconnector: failover connect attempt failed", "url", h.cfg.FailoverURL, "error", err)
			h.markFailedLocked(&h.failoverStatus, scerr.DisconnectReasonWebSocketError, err.Error())
			h.enterReconnectWaitLocked()
			return
		}
		h.attemptInFlight = true

	case StateWaitForReconnect:
		if h.reconnectTimer.Expired(now) {
			h.reconnectTimer.Disarm()
			h.state = StateConnectingPrimary
		}
	}
}

func (h *HubConnector) enterReconnectWaitLocked() {
	h.state = StateWaitForReconnect
	h.reconnectTimer.Arm(h.cfg.ReconnectTimeout)
}

func (h *HubConnector) markFailedLocked(st *netport.HubConnectionStatus, reason scerr.DisconnectReason, detail string) {
	st.State = netport.StateFailedToConnect
	st.DisconnectTimestamp = time.Now()
	st.Error = scerr.WireCode(reason)
	st.ErrorDetails = detail
}

func (h *HubConnector) onSocketConnected(sock *scsocket.Socket) {
	switch sock.Index() {
	case primarySlot:
		h.state = StateConnectedPrimary
		h.attemptInFlight = false
		h.primaryStatus = netport.HubConnectionStatus{
			State:            netport.StateConnected,
			ConnectTimestamp: time.Now(),
		}
		slog.Info("hubconnector: connected to primary hub", "url", h.cfg.PrimaryURL)
		if h.eventFn != nil {
			h.eventFn(EventConnectedPrimary)
		}
	case failoverSlot:
		h.state = StateConnectedFailover
		h.attemptInFlight = false
		h.failoverStatus = netport.HubConnectionStatus{
			State:            netport.StateConnected,
			ConnectTimestamp: time.Now(),
		}
		slog.Info("hubconnector: connected to failover hub", "url", h.cfg.FailoverURL)
		if h.eventFn != nil {
			h.eventFn(EventConnectedFailover)
		}
	}
}

func (h *HubConnector) onSocketDisconnected(sock *scsocket.Socket) {
	reason, detail := sock.DisconnectReason()

	if reason == scerr.DisconnectReasonDuplicatedVMAC {
		h.state = StateDuplicatedVMAC
		h.attemptInFlight = false
		slog.Error("hubconnector: duplicate VMAC reported by hub")
		if h.eventFn != nil {
			h.eventFn(EventDuplicatedVMAC)
		}
		return
	}

	st := &h.primaryStatus
	if sock.Index() == failoverSlot {
		st = &h.failoverStatus
	}

	switch h.state {
	case StateConnectingPrimary:
		h.markFailedLocked(st, reason, detail)
		h.attemptInFlight = false
		h.state = StateConnectingFailover

	case StateConnectingFailover:
		h.markFailedLocked(st, reason, detail)
		h.attemptInFlight = false
		h.enterReconnectWaitLocked()

	case StateConnectedPrimary, StateConnectedFailover:
		st.DisconnectTimestamp = time.Now()
		if reason == scerr.DisconnectReasonLocal {
			st.State = netport.StateNotConnected
			st.Error = 0
			st.ErrorDetails = ""
		} else {
			st.State = netport.StateDisconnectedWithErrors
			st.Error = scerr.WireCode(reason)
			st.ErrorDetails = detail
		}
		h.attemptInFlight = false
		h.state = StateConnectingPrimary
		if h.eventFn != nil {
			h.eventFn(EventDisconnected)
		}

	case StateWaitForCtxDeinit:
		// Deinit in progress; the context is resetting every socket.

	default:
		h.attemptInFlight = false
	}
}

func (h *HubConnector) onSocketReceived(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	if h.recvFn != nil {
		h.recvFn(sock, dm, raw)
	}
}
