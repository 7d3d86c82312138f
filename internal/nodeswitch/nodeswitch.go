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

// Package nodeswitch implements the direct peer-to-peer role of spec §4.5:
// an acceptor context for inbound direct connections and an initiator
// context whose outbound slots cycle through candidate URIs learned either
// from the caller or from an address-resolution exchange driven through the
// hub.
package nodeswitch

import (
	"fmt"
	"log/slog"
	"strings"
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

// SlotState is an outbound slot's position in the machine of spec §3.6.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotWaitConnection
	SlotWaitResolution
	SlotConnected
	SlotDelaying
	SlotLocalDisconnect
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "IDLE"
	case SlotWaitConnection:
		return "WAIT_CONNECTION"
	case SlotWaitResolution:
		return "WAIT_RESOLUTION"
	case SlotConnected:
		return "CONNECTED"
	case SlotDelaying:
		return "DELAYING"
	case SlotLocalDisconnect:
		return "LOCAL_DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Event is surfaced to the owning Node.
type Event int

const (
	EventStarted Event = iota
	EventStopped
	EventDirectConnected
	EventDirectDisconnected
	EventDuplicatedVMAC
)

// EventFunc receives node-switch events with the peer VMAC the event refers
// to (zero for Started/Stopped); it runs with the shared dispatch mutex held.
type EventFunc func(ev Event, dest scaddr.VMAC)

// ReceiveFunc receives frames surfaced by direct sockets; it runs with the
// shared dispatch mutex held.
type ReceiveFunc func(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte)

// Resolver is the Node-provided hook for VMAC-to-URI resolution (spec §4.5):
// a cache lookup, and the ability to launch an ADDRESS_RESOLUTION exchange
// over the hub. Both run with the dispatch mutex held.
type Resolver interface {
	CachedURIsLocked(dest scaddr.VMAC) ([]string, bool)
	SendAddressResolutionLocked(dest scaddr.VMAC) error
}

// HubSendFunc forwards a frame through the Hub-Connector when no direct
// path exists; it runs with the dispatch mutex held.
type HubSendFunc func(frame []byte) error

// DefaultSlotCount bounds simultaneous outbound direct connections when
// Config.SlotCount is zero; DefaultAcceptPool bounds inbound ones.
const (
	DefaultSlotCount  = 4
	DefaultAcceptPool = 16
)

// Config parameterizes New.
type Config struct {
	InitiateEnabled bool
	AcceptEnabled   bool

	Socket           scsocket.Config
	AcceptBindAddr   string
	AcceptInterface  string
	SlotCount        int
	AcceptPool       int
	ReconnectTimeout time.Duration
	// ResolutionTimeout bounds the wait for an ADDRESS_RESOLUTION_ACK;
	// it defaults to the socket connect timeout (spec §6.3).
	ResolutionTimeout time.Duration
}

type slot struct {
	state    SlotState
	dest     scaddr.VMAC
	haveDest bool
	urls     []string
	urlIdx   int
	timer    runloop.Timer
}

// NodeSwitch runs the two direct-connection contexts.
type NodeSwitch struct {
	mu  *sync.Mutex
	cfg Config

	initiator *scsocket.Context
	acceptor  *scsocket.Context
	server    sctransport.Server

	slots []slot

	initStatuses   []netport.DirectConnectionStatus
	acceptStatuses []netport.DirectConnectionStatus
	failedLog      *netport.FailedRequestLog

	resolver Resolver
	hubSend  HubSendFunc
	eventFn  EventFunc
	recvFn   ReceiveFunc

	started bool
}

// New builds a NodeSwitch. client/server may be nil when the corresponding
// side is disabled in cfg.
func New(cfg Config, lock *sync.Mutex, client sctransport.Client, server sctransport.Server, loop *runloop.Runloop,
	resolver Resolver, hubSend HubSendFunc, eventFn EventFunc, recvFn ReceiveFunc,
) *NodeSwitch {
	if cfg.SlotCount <= 0 {
		cfg.SlotCount = DefaultSlotCount
	}
	if cfg.AcceptPool <= 0 {
		cfg.AcceptPool = DefaultAcceptPool
	}
	if cfg.ResolutionTimeout <= 0 {
		cfg.ResolutionTimeout = cfg.Socket.ConnectTimeout
	}
	cfg.Socket.Kind = scsocket.KindDirect

	ns := &NodeSwitch{
		mu:           lock,
		cfg:          cfg,
		server:       server,
		slots:        make([]slot, cfg.SlotCount),
		initStatuses: make([]netport.DirectConnectionStatus, cfg.SlotCount),
		failedLog:    netport.NewFailedRequestLog(0),
		resolver:     resolver,
		hubSend:      hubSend,
		eventFn:      eventFn,
		recvFn:       recvFn,
	}

	if cfg.InitiateEnabled {
		ns.initiator = scsocket.NewInitiatorContext("node-switch-initiator", cfg.Socket, cfg.SlotCount, lock, client, scsocket.EventCallbacks{
			OnConnected:    ns.onInitiatorConnected,
			OnDisconnected: ns.onInitiatorDisconnected,
			OnReceived:     ns.onReceived,
		})
		loop.Register(ns.initiator.Tick)
	}
	if cfg.AcceptEnabled {
		acceptCfg := cfg.Socket
		acceptCfg.BindAddr = cfg.AcceptBindAddr
		acceptCfg.Interface = cfg.AcceptInterface
		ns.acceptStatuses = make([]netport.DirectConnectionStatus, cfg.AcceptPool)
		ns.acceptor = scsocket.NewAcceptorContext("node-switch-acceptor", acceptCfg, cfg.AcceptPool, lock, server, scsocket.EventCallbacks{
			OnConnected:    ns.onAcceptorConnected,
			OnDisconnected: ns.onAcceptorDisconnected,
			OnReceived:     ns.onReceived,
		})
		loop.Register(ns.acceptor.Tick)
	}
	loop.Register(ns.Tick)
	return ns
}

// Start brings up whichever contexts are configured.
func (ns *NodeSwitch) Start() error {
	if ns.initiator != nil {
		if err := ns.initiator.Init(); err != nil {
			return fmt.Errorf("nodeswitch: %w", err)
		}
	}
	if ns.acceptor != nil {
		if err := ns.acceptor.Init(); err != nil {
			return fmt.Errorf("nodeswitch: %w", err)
		}
	}
	ns.mu.Lock()
	ns.started = true
	fn := ns.eventFn
	ns.mu.Unlock()
	if fn != nil {
		fn(EventStarted, scaddr.VMAC{})
	}
	return nil
}

// Stop tears both contexts down. Idempotent.
func (ns *NodeSwitch) Stop() {
	ns.mu.Lock()
	if !ns.started {
		ns.mu.Unlock()
		return
	}
	ns.started = false
	for i := range ns.slots {
		ns.slots[i].reset()
	}
	ns.mu.Unlock()

	if ns.initiator != nil {
		if err := ns.initiator.Deinit(); err != nil {
			slog.Warn("nodeswitch: initiator deinit failed", "error", err)
		}
	}
	if ns.acceptor != nil {
		if err := ns.acceptor.Deinit(); err != nil {
			slog.Warn("nodeswitch: acceptor deinit failed", "error", err)
		}
	}

	ns.mu.Lock()
	fn := ns.eventFn
	ns.mu.Unlock()
	if fn != nil {
		fn(EventStopped, scaddr.VMAC{})
	}
}

// Connect opens an outbound direct-connection slot, either toward explicit
// URIs or toward a VMAC to be resolved via the hub (spec §4.5).
func (ns *NodeSwitch) Connect(dest *scaddr.VMAC, urls []string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.ConnectLocked(dest, urls)
}

// ConnectLocked is Connect for callers already holding the dispatch mutex.
func (ns *NodeSwitch) ConnectLocked(dest *scaddr.VMAC, urls []string) error {
	if ns.initiator == nil {
		return fmt.Errorf("nodeswitch: direct initiate not configured: %w", scerr.ResultInvalidOperation)
	}
	if dest == nil && len(urls) == 0 {
		return fmt.Errorf("nodeswitch: need a destination VMAC or candidate URLs: %w", scerr.ResultBadParam)
	}

	idx := ns.freeSlotLocked()
	if idx < 0 {
		return fmt.Errorf("nodeswitch: all direct-connection slots busy: %w", scerr.ResultNoResources)
	}
	sl := &ns.slots[idx]
	sl.reset()
	if dest != nil {
		sl.dest = *dest
		sl.haveDest = true
	}

	if len(urls) > 0 {
		sl.urls = append([]string(nil), urls...)
		ns.startConnectingLocked(idx)
		return nil
	}

	if cached, ok := ns.resolver.CachedURIsLocked(*dest); ok && len(cached) > 0 {
		sl.urls = append([]string(nil), cached...)
		ns.startConnectingLocked(idx)
		return nil
	}

	sl.state = SlotWaitResolution
	sl.timer.Arm(ns.cfg.ResolutionTimeout)
	if err := ns.resolver.SendAddressResolutionLocked(*dest); err != nil {
		slog.Warn("nodeswitch: address resolution send failed", "dest", *dest, "error", err)
	}
	return nil
}

// Disconnect tears down the direct connection toward dest (spec §4.5).
func (ns *NodeSwitch) Disconnect(dest scaddr.VMAC) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.DisconnectLocked(dest)
}

// DisconnectLocked is Disconnect for callers already holding the dispatch
// mutex.
func (ns *NodeSwitch) DisconnectLocked(dest scaddr.VMAC) error {
	for i := range ns.slots {
		sl := &ns.slots[i]
		if !sl.haveDest || sl.dest != dest || sl.state == SlotIdle {
			continue
		}
		switch sl.state {
		case SlotConnected:
			sl.state = SlotLocalDisconnect
			sl.timer.Disarm()
			return ns.initiator.DisconnectLocked(i)
		case SlotWaitConnection:
			sl.state = SlotLocalDisconnect
			sl.timer.Disarm()
			sock := ns.initiator.SocketUnsafe(i)
			if sock != nil && sock.State() != scsocket.StateIdle {
				// Abort the in-flight attempt; the WS-DISCONNECTED event
				// finishes the slot.
				ns.initiator.AbortLocked(i)
				return nil
			}
			sl.reset()
			ns.emitLocked(EventDirectDisconnected, dest)
			return nil
		default:
			sl.reset()
			ns.emitLocked(EventDirectDisconnected, dest)
			return nil
		}
	}
	ns.emitLocked(EventDirectDisconnected, dest)
	return nil
}

// SendLocked routes one encoded BVLC/SC frame: broadcast and unresolved unicast
// go to the hub, unicast toward a directly-connected peer uses the direct
// link with the addressing fields stripped (spec §4.5 "send").
func (ns *NodeSwitch) SendLocked(frame []byte) error {
	noDest, derr := bvlcsc.PDUHasNoDest(frame)
	if derr != nil {
		return derr
	}
	if !noDest {
		bcast, derr := bvlcsc.PDUHasDestBroadcast(frame)
		if derr != nil {
			return derr
		}
		if !bcast {
			dest, _, derr := bvlcsc.PDUGetDest(frame)
			if derr != nil {
				return derr
			}
			if idx, sock := ns.directPathLocked(dest); sock != nil {
				stripped, err := bvlcsc.RemoveOrigAndDest(frame)
				if err != nil {
					return err
				}
				if idx >= 0 {
					return ns.initiator.SendFrameLocked(idx, stripped)
				}
				return ns.acceptor.SendFrameLocked(sock.Index(), stripped)
			}
		}
	}
	return ns.hubSend(frame)
}

// Connected reports whether a direct path to the peer exists (spec §4.5
// "connected"): an initiator slot CONNECTED for the VMAC, an initiator slot
// CONNECTED on one of the given URLs, or an acceptor socket CONNECTED with
// that peer VMAC.
func (ns *NodeSwitch) Connected(dest *scaddr.VMAC, urls []string) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.ConnectedLocked(dest, urls)
}

// ConnectedLocked is Connected for callers already holding the dispatch
// mutex.
func (ns *NodeSwitch) ConnectedLocked(dest *scaddr.VMAC, urls []string) bool {
	for i := range ns.slots {
		sl := &ns.slots[i]
		if sl.state != SlotConnected {
			continue
		}
		if dest != nil && sl.haveDest && sl.dest == *dest {
			return true
		}
		if len(urls) > 0 && sl.urlIdx < len(sl.urls) {
			current := sl.urls[sl.urlIdx]
			for _, u := range urls {
				if u == current {
					return true
				}
			}
		}
	}
	if dest != nil && ns.acceptor != nil {
		if sock := ns.acceptor.FindConnectedByPeerLocked(*dest); sock != nil {
			return true
		}
	}
	return false
}

// OnResolutionAckLocked installs freshly resolved URIs into any slot
// awaiting them and starts connecting (spec §4.5 "On receipt of an
// ADDRESS_RESOLUTION_ACK").
func (ns *NodeSwitch) OnResolutionAckLocked(origin scaddr.VMAC, uris []string) {
	for i := range ns.slots {
		sl := &ns.slots[i]
		if sl.state != SlotWaitResolution || !sl.haveDest || sl.dest != origin {
			continue
		}
		if len(uris) == 0 {
			sl.timer.Disarm()
			sl.state = SlotDelaying
			sl.timer.Arm(ns.cfg.ReconnectTimeout)
			continue
		}
		sl.urls = append([]string(nil), uris...)
		sl.timer.Disarm()
		ns.startConnectingLocked(i)
	}
}

// SetLocalVMACLocked installs a regenerated VMAC ahead of a restart.
// Caller holds the dispatch mutex.
func (ns *NodeSwitch) SetLocalVMACLocked(vmac scaddr.VMAC) {
	if ns.initiator != nil {
		ns.initiator.SetLocalVMACLocked(vmac)
	}
	if ns.acceptor != nil {
		ns.acceptor.SetLocalVMACLocked(vmac)
	}
}

// Statuses returns copies of the initiator-slot and acceptor-socket direct
// connection status records (spec §3.8).
func (ns *NodeSwitch) Statuses() (initiator, acceptor []netport.DirectConnectionStatus) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	initiator = append(initiator, ns.initStatuses...)
	acceptor = append(acceptor, ns.acceptStatuses...)
	return initiator, acceptor
}

// FailedRequests returns the bounded failed-connection-request log.
func (ns *NodeSwitch) FailedRequests() []netport.FailedConnectionRequest {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.failedLog.Entries()
}

func (ns *NodeSwitch) freeSlotLocked() int {
	for i := range ns.slots {
		if ns.slots[i].state == SlotIdle {
			return i
		}
	}
	return -1
}

func (sl *slot) reset() {
	sl.timer.Disarm()
	sl.state = SlotIdle
	sl.dest = scaddr.VMAC{}
	sl.haveDest = false
	sl.urls = nil
	sl.urlIdx = 0
}

func (sl *slot) currentURL() string {
	if sl.urlIdx < len(sl.urls) {
		return sl.urls[sl.urlIdx]
	}
	return ""
}

// startConnectingLocked enters WAIT_CONNECTION and attempts the slot's
// current candidate URL.
func (ns *NodeSwitch) startConnectingLocked(idx int) {
	sl := &ns.slots[idx]
	sl.state = SlotWaitConnection
	url := sl.currentURL()
	if url == "" {
		sl.state = SlotDelaying
		sl.timer.Arm(ns.cfg.ReconnectTimeout)
		return
	}
	if err := ns.initiator.ConnectLocked(idx, url); err != nil {
		slog.Debug("nodeswitch: connect attempt failed", "slot", idx, "url", url, "error", err)
		ns.advanceURLLocked(idx)
	}
}

// advanceURLLocked moves a WAIT_CONNECTION slot to its next candidate URL,
// entering DELAYING when the current set is exhausted (spec §4.5 runloop
// rules).
func (ns *NodeSwitch) advanceURLLocked(idx int) {
	sl := &ns.slots[idx]
	sl.urlIdx++
	if sl.urlIdx >= len(sl.urls) {
		sl.state = SlotDelaying
		sl.timer.Arm(ns.cfg.ReconnectTimeout)
		return
	}
	ns.startConnectingLocked(idx)
}

// Tick drives slot timers; it is registered on the shared runloop (spec
// §4.5 "Runloop tick").
func (ns *NodeSwitch) Tick(now time.Time) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if !ns.started {
		return
	}

	for i := range ns.slots {
		sl := &ns.slots[i]
		switch sl.state {
		case SlotWaitResolution:
			if sl.timer.Expired(now) {
				sl.timer.Disarm()
				sl.state = SlotDelaying
				sl.timer.Arm(ns.cfg.ReconnectTimeout)
			}
		case SlotDelaying:
			if sl.timer.Expired(now) {
				sl.timer.Disarm()
				sl.urlIdx = 0
				if len(sl.urls) == 0 && sl.haveDest {
					// Still nothing to dial; ask the network again.
					if cached, ok := ns.resolver.CachedURIsLocked(sl.dest); ok && len(cached) > 0 {
						sl.urls = append([]string(nil), cached...)
						ns.startConnectingLocked(i)
						continue
					}
					sl.state = SlotWaitResolution
					sl.timer.Arm(ns.cfg.ResolutionTimeout)
					if err := ns.resolver.SendAddressResolutionLocked(sl.dest); err != nil {
						slog.Debug("nodeswitch: re-resolution send failed", "dest", sl.dest, "error", err)
					}
					continue
				}
				ns.startConnectingLocked(i)
			}
		}
	}
}

func (ns *NodeSwitch) onInitiatorConnected(sock *scsocket.Socket) {
	idx := sock.Index()
	sl := &ns.slots[idx]
	peer, _ := sock.PeerVMAC()
	uuid, _ := sock.PeerUUID()
	if !sl.haveDest {
		sl.dest = peer
		sl.haveDest = true
	}
	sl.state = SlotConnected
	sl.timer.Disarm()
	ns.initStatuses[idx] = netport.DirectConnectionStatus{
		URI:              sl.currentURL(),
		State:            netport.StateConnected,
		ConnectTimestamp: time.Now(),
		PeerVMAC:         peer,
		PeerUUID:         uuid,
	}
	slog.Info("nodeswitch: direct connection established", "vmac", peer, "url", sl.currentURL())
	ns.emitLocked(EventDirectConnected, peer)
}

func (ns *NodeSwitch) onInitiatorDisconnected(sock *scsocket.Socket) {
	idx := sock.Index()
	sl := &ns.slots[idx]
	reason, detail := sock.DisconnectReason()

	if reason == scerr.DisconnectReasonDuplicatedVMAC {
		ns.emitLocked(EventDuplicatedVMAC, sl.dest)
	}

	st := &ns.initStatuses[idx]
	st.DisconnectTimestamp = time.Now()

	switch sl.state {
	case SlotWaitConnection:
		st.State = netport.StateFailedToConnect
		st.Error = scerr.WireCode(reason)
		st.ErrorDetails = detail
		st.URI = sl.currentURL()
		ns.advanceURLLocked(idx)

	case SlotConnected:
		if reason == scerr.DisconnectReasonLocal {
			st.State = netport.StateNotConnected
		} else {
			st.State = netport.StateDisconnectedWithErrors
			st.Error = scerr.WireCode(reason)
			st.ErrorDetails = detail
		}
		dest := sl.dest
		sl.state = SlotDelaying
		sl.urlIdx = 0
		sl.timer.Arm(ns.cfg.ReconnectTimeout)
		ns.emitLocked(EventDirectDisconnected, dest)

	case SlotLocalDisconnect:
		st.State = netport.StateNotConnected
		dest := sl.dest
		sl.reset()
		ns.emitLocked(EventDirectDisconnected, dest)

	default:
		sl.reset()
	}
}

func (ns *NodeSwitch) onAcceptorConnected(sock *scsocket.Socket) {
	peer, _ := sock.PeerVMAC()
	uuid, _ := sock.PeerUUID()
	ns.acceptStatuses[sock.Index()] = netport.DirectConnectionStatus{
		State:            netport.StateConnected,
		ConnectTimestamp: time.Now(),
		PeerAddress:      scaddr.ParseHostPort(ns.server.GetPeerIPAddr(sock.TransportHandle())),
		PeerVMAC:         peer,
		PeerUUID:         uuid,
	}
	slog.Info("nodeswitch: direct peer accepted", "vmac", peer, "uuid", uuid)
	ns.emitLocked(EventDirectConnected, peer)
}

func (ns *NodeSwitch) onAcceptorDisconnected(sock *scsocket.Socket) {
	reason, detail := sock.DisconnectReason()
	st := &ns.acceptStatuses[sock.Index()]
	st.DisconnectTimestamp = time.Now()
	if reason == scerr.DisconnectReasonLocal || reason == scerr.DisconnectReasonPeerDisconnected {
		st.State = netport.StateNotConnected
	} else {
		st.State = netport.StateDisconnectedWithErrors
		st.Error = scerr.WireCode(reason)
		st.ErrorDetails = detail
	}

	peer, havePeer := sock.PeerVMAC()
	if !havePeer {
		// The handshake never completed: log it for the failed-requests
		// telemetry list (spec §3.8).
		uuid, _ := sock.PeerUUID()
		ns.failedLog.Add(netport.FailedConnectionRequest{
			Timestamp:    time.Now(),
			PeerAddress:  scaddr.ParseHostPort(ns.server.GetPeerIPAddr(sock.TransportHandle())),
			PeerUUID:     uuid,
			Error:        scerr.WireCode(reason),
			ErrorDetails: detail,
		})
		return
	}

	if reason == scerr.DisconnectReasonDuplicatedVMAC {
		ns.emitLocked(EventDuplicatedVMAC, peer)
	}
	ns.emitLocked(EventDirectDisconnected, peer)
}

func (ns *NodeSwitch) onReceived(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	if ns.recvFn != nil {
		ns.recvFn(sock, dm, raw)
	}
}

// directPathLocked returns the initiator slot index (or -1) and the socket
// carrying a live direct association with dest, preferring an outbound slot
// over an accepted one.
func (ns *NodeSwitch) directPathLocked(dest scaddr.VMAC) (int, *scsocket.Socket) {
	if ns.initiator != nil {
		for i := range ns.slots {
			if ns.slots[i].state == SlotConnected && ns.slots[i].haveDest && ns.slots[i].dest == dest {
				sock := ns.initiator.SocketUnsafe(i)
				if sock != nil && sock.State() == scsocket.StateConnected {
					return i, sock
				}
			}
		}
	}
	if ns.acceptor != nil {
		if sock := ns.acceptor.FindConnectedByPeerLocked(dest); sock != nil {
			return -1, sock
		}
	}
	return -1, nil
}

func (ns *NodeSwitch) emitLocked(ev Event, dest scaddr.VMAC) {
	if ns.eventFn != nil {
		ns.eventFn(ev, dest)
	}
}

// ParseURIList splits the space-separated UTF-8 URI blob carried by an
// ADDRESS_RESOLUTION_ACK (spec §4.1 edge cases), dropping empty segments
// and any URI longer than maxLen (0 means no limit).
func ParseURIList(blob string, maxLen int) []string {
	fields := strings.Fields(blob)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if maxLen > 0 && len(f) > maxLen {
			continue
		}
		out = append(out, f)
	}
	return out
}
