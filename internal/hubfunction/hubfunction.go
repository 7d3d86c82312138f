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

// Package hubfunction implements the star-topology rendezvous role of spec
// §4.4: an acceptor Socket-Context that forwards every received
// encapsulated NPDU among its attached peers, rewriting the origin VMAC so
// each hop sees where the frame came from.
package hubfunction

import (
	"context"
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
	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
)

// Event is surfaced to the owning Node.
type Event int

const (
	EventStarted Event = iota
	EventStopped
	EventDuplicatedVMAC
)

// EventFunc receives hub-function events; it runs with the shared dispatch
// mutex held.
type EventFunc func(ev Event)

// DefaultPoolSize bounds the number of simultaneously attached peers when
// Config.PoolSize is zero.
const DefaultPoolSize = 16

// Config parameterizes New.
type Config struct {
	Socket   scsocket.Config
	PoolSize int
}

// HubFunction accepts N peer sockets and forwards encapsulated NPDUs among
// them.
type HubFunction struct {
	mu     *sync.Mutex
	ctx    *scsocket.Context
	server sctransport.Server

	// peerSlots indexes CONNECTED peers by VMAC for unicast forwarding. It
	// is read and updated under the dispatch mutex, except for the Clear in
	// Stop, which runs without it.
	peerSlots *xsync.Map[scaddr.VMAC, int]

	statuses []netport.HubFunctionConnectionStatus

	started bool
	eventFn EventFunc
}

// New builds a HubFunction accepting connections through server, sharing
// the dispatch mutex lock and driving socket timers from loop.
func New(cfg Config, lock *sync.Mutex, server sctransport.Server, loop *runloop.Runloop, eventFn EventFunc) *HubFunction {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	cfg.Socket.Kind = scsocket.KindHub
	h := &HubFunction{
		mu:        lock,
		server:    server,
		peerSlots: xsync.NewMap[scaddr.VMAC, int](),
		statuses:  make([]netport.HubFunctionConnectionStatus, cfg.PoolSize),
		eventFn:   eventFn,
	}
	h.ctx = scsocket.NewAcceptorContext("hub-function", cfg.Socket, cfg.PoolSize, lock, server, scsocket.EventCallbacks{
		OnConnected:    h.onPeerConnected,
		OnDisconnected: h.onPeerDisconnected,
		OnReceived:     h.onPeerReceived,
	})
	loop.Register(h.ctx.Tick)
	return h
}

// Start brings the acceptor up on its configured bind address.
func (h *HubFunction) Start() error {
	if err := h.ctx.Init(); err != nil {
		return fmt.Errorf("hubfunction: %w", err)
	}
	h.mu.Lock()
	h.started = true
	fn := h.eventFn
	h.mu.Unlock()
	if fn != nil {
		fn(EventStarted)
	}
	return nil
}

// Stop disconnects every attached peer and stops the acceptor. Idempotent.
func (h *HubFunction) Stop() {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return
	}
	h.started = false
	h.mu.Unlock()

	if err := h.ctx.Deinit(); err != nil {
		slog.Warn("hubfunction: context deinit failed", "error", err)
	}
	h.peerSlots.Clear()

	h.mu.Lock()
	fn := h.eventFn
	h.mu.Unlock()
	if fn != nil {
		fn(EventStopped)
	}
}

// SetLocalVMACLocked installs a regenerated VMAC ahead of a restart.
// Caller holds the dispatch mutex.
func (h *HubFunction) SetLocalVMACLocked(vmac scaddr.VMAC) {
	h.ctx.SetLocalVMACLocked(vmac)
}

// Statuses returns a copy of the per-peer connection status records
// mirrored into SC_Hub_Function_Connection_Status (spec §3.8).
func (h *HubFunction) Statuses() []netport.HubFunctionConnectionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]netport.HubFunctionConnectionStatus, len(h.statuses))
	copy(out, h.statuses)
	return out
}

func (h *HubFunction) onPeerConnected(sock *scsocket.Socket) {
	vmac, _ := sock.PeerVMAC()
	uuid, _ := sock.PeerUUID()
	h.peerSlots.Store(vmac, sock.Index())
	h.statuses[sock.Index()] = netport.HubFunctionConnectionStatus{
		State:            netport.StateConnected,
		ConnectTimestamp: time.Now(),
		PeerAddress:      peerAddress(h.server, sock),
		PeerVMAC:         vmac,
		PeerUUID:         uuid,
	}
	slog.Info("hubfunction: peer attached", "vmac", vmac, "uuid", uuid)
}

func (h *HubFunction) onPeerDisconnected(sock *scsocket.Socket) {
	reason, detail := sock.DisconnectReason()
	if vmac, ok := sock.PeerVMAC(); ok {
		if slot, found := h.peerSlots.Load(vmac); found && slot == sock.Index() {
			h.peerSlots.Delete(vmac)
		}
	}

	st := &h.statuses[sock.Index()]
	st.DisconnectTimestamp = time.Now()
	if reason == scerr.DisconnectReasonLocal || reason == scerr.DisconnectReasonPeerDisconnected {
		st.State = netport.StateNotConnected
	} else {
		st.State = netport.StateDisconnectedWithErrors
		st.Error = scerr.WireCode(reason)
		st.ErrorDetails = detail
	}

	if reason == scerr.DisconnectReasonDuplicatedVMAC && h.eventFn != nil {
		h.eventFn(EventDuplicatedVMAC)
	}
}

// onPeerReceived forwards encapsulated NPDUs per spec §4.4. Everything that
// is not an ENCAPSULATED_NPDU was already handled by the socket's own state
// machine before being surfaced, so it is dropped here — a hub has no upper
// layer of its own to deliver to.
func (h *HubFunction) onPeerReceived(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	if dm.Header.Function != bvlcsc.FunctionEncapsulatedNPDU {
		return
	}
	srcVMAC, ok := sock.PeerVMAC()
	if !ok {
		return
	}

	_, span := otel.Tracer("bsc-core").Start(context.Background(), "HubFunction.forward")
	defer span.End()

	if dm.Header.Dest != nil && dm.Header.Dest.IsBroadcast() {
		h.forwardBroadcast(sock, srcVMAC, raw)
		return
	}
	if dm.Header.Dest == nil {
		return
	}
	h.forwardUnicast(srcVMAC, *dm.Header.Dest, raw)
}

// forwardBroadcast rewrites the origin once and copies the frame to every
// other CONNECTED peer.
func (h *HubFunction) forwardBroadcast(from *scsocket.Socket, srcVMAC scaddr.VMAC, raw []byte) {
	frame, err := bvlcsc.SetOrig(raw, srcVMAC)
	if err != nil {
		slog.Warn("hubfunction: failed to rewrite origin for broadcast", "error", err)
		return
	}
	h.ctx.EachSocketLocked(func(peer *scsocket.Socket) {
		if peer == from || peer.State() != scsocket.StateConnected {
			return
		}
		if err := h.ctx.SendFrameLocked(peer.Index(), frame); err != nil {
			slog.Warn("hubfunction: broadcast forward failed", "peer", peer.Index(), "error", err)
		}
	})
}

// forwardUnicast looks the destination up by VMAC and forwards with the
// destination stripped and the origin set (spec §4.4); unknown destinations
// are dropped.
func (h *HubFunction) forwardUnicast(srcVMAC, dest scaddr.VMAC, raw []byte) {
	slot, ok := h.peerSlots.Load(dest)
	if !ok {
		slog.Debug("hubfunction: dropping unicast for unknown peer", "dest", dest)
		return
	}
	frame, err := bvlcsc.RemoveDestSetOrig(raw, srcVMAC)
	if err != nil {
		slog.Warn("hubfunction: failed to rewrite unicast frame", "error", err)
		return
	}
	if err := h.ctx.SendFrameLocked(slot, frame); err != nil {
		slog.Warn("hubfunction: unicast forward failed", "peer", slot, "error", err)
	}
}

func peerAddress(server sctransport.Server, sock *scsocket.Socket) scaddr.HostNPort {
	addr := server.GetPeerIPAddr(sock.TransportHandle())
	return scaddr.ParseHostPort(addr)
}
