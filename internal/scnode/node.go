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

// Package scnode implements the BACnet/SC orchestration layer of spec §4.6:
// it owns at most one Hub-Connector, one Hub-Function and one Node-Switch,
// the address-resolution cache, advertisement responses, and the
// duplicate-VMAC restart. It is also the "Runtime" value called for in the
// design notes (§9): the shared dispatch mutex lives here, and every
// component holds a reference to it rather than a back-pointer.
package scnode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/hubconnector"
	"github.com/bacnet-community/bsc-core/internal/hubfunction"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/nodeswitch"
	"github.com/bacnet-community/bsc-core/internal/runloop"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scsocket"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// State is the Node's lifecycle state (spec §3.7).
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStarted
	StateRestarting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateRestarting:
		return "RESTARTING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Event is surfaced to the datalink façade.
type Event int

const (
	EventStarted Event = iota
	EventRestarted
	EventStopped
	EventDirectConnected
	EventDirectDisconnected
)

// EventFunc receives node lifecycle events; dest is meaningful only for the
// direct-connection events. It may run with the dispatch mutex held.
type EventFunc func(ev Event, dest scaddr.VMAC)

// ReceiveFunc delivers an upper-layer-bound BVLC/SC frame (still carrying
// its outer header, so the receiver can recover the origin VMAC). It runs
// with the dispatch mutex held and must not block.
type ReceiveFunc func(raw []byte)

// Transports bundles the connections a Node makes and accepts. Tests
// substitute fakes; production wiring passes the gorilla-backed client and
// two servers.
type Transports struct {
	Client       sctransport.Client
	HubServer    sctransport.Server
	DirectServer sctransport.Server
}

// Telemetry is the snapshot mirrored into Network-Port properties on every
// maintenance tick (spec §4.7, §6.3).
type Telemetry struct {
	HubConnectorState string
	HubPrimary        netport.HubConnectionStatus
	HubFailover       netport.HubConnectionStatus
	HubFunction       []netport.HubFunctionConnectionStatus
	DirectInitiator   []netport.DirectConnectionStatus
	DirectAcceptor    []netport.DirectConnectionStatus
	FailedRequests    []netport.FailedConnectionRequest
}

// Node owns the three SC roles and the address-resolution cache.
type Node struct {
	mu   sync.Mutex
	loop *runloop.Runloop

	cfg        netport.Config
	transports Transports

	state     State
	localVMAC scaddr.VMAC

	hub   *hubconnector.HubConnector
	hubFn *hubfunction.HubFunction
	sw    *nodeswitch.NodeSwitch

	cache          *resolutionCache
	restartPending bool
	msgID          uint16

	eventFn EventFunc
	recvFn  ReceiveFunc
}

// New builds a Node from a normalized Network-Port configuration. Call
// Start to bring it up.
func New(cfg netport.Config, transports Transports, eventFn EventFunc, recvFn ReceiveFunc) (*Node, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		loop:       runloop.New(0),
		cfg:        cfg,
		transports: transports,
		localVMAC:  cfg.LocalVMAC,
		cache:      newResolutionCache(0, cfg.AddressResolutionFreshness),
		eventFn:    eventFn,
		recvFn:     recvFn,
	}

	sockCfg := scsocket.Config{
		Creds:             cfg.Creds,
		LocalVMAC:         cfg.LocalVMAC,
		LocalUUID:         cfg.LocalUUID,
		MaxBVLCLen:        cfg.MaxBVLCLenAccepted,
		MaxNPDULen:        cfg.MaxNPDULenAccepted,
		ConnectTimeout:    cfg.ConnectWaitTimeout,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		DisconnectTimeout: cfg.DisconnectWaitTimeout,
	}

	n.hub = hubconnector.New(hubconnector.Config{
		Socket:           sockCfg,
		PrimaryURL:       cfg.PrimaryHubURI,
		FailoverURL:      cfg.FailoverHubURI,
		ReconnectTimeout: cfg.MaximumReconnectTime,
	}, &n.mu, transports.Client, n.loop, n.onHubEvent, n.onHubReceived)

	if cfg.HubFunctionEnabled {
		hubFnCfg := sockCfg
		hubFnCfg.BindAddr = cfg.HubFunctionBindAddr
		hubFnCfg.Interface = cfg.HubFunctionInterface
		n.hubFn = hubfunction.New(hubfunction.Config{Socket: hubFnCfg},
			&n.mu, transports.HubServer, n.loop, n.onHubFunctionEvent)
	}

	if cfg.DirectConnectInitiateEnabled || cfg.DirectConnectAcceptEnabled {
		n.sw = nodeswitch.New(nodeswitch.Config{
			InitiateEnabled:   cfg.DirectConnectInitiateEnabled,
			AcceptEnabled:     cfg.DirectConnectAcceptEnabled,
			Socket:            sockCfg,
			AcceptBindAddr:    cfg.DirectConnectBindAddr,
			AcceptInterface:   cfg.DirectConnectInterface,
			ReconnectTimeout:  cfg.MaximumReconnectTime,
			ResolutionTimeout: cfg.AddressResolutionTimeout,
		}, &n.mu, transports.Client, transports.DirectServer, n.loop,
			(*nodeResolver)(n), n.hub.SendLocked, n.onSwitchEvent, n.onSwitchReceived)
	}

	n.loop.Register(n.tick)
	return n, nil
}

// Start brings up the Hub-Connector, plus the Hub-Function and Node-Switch
// when configured (spec §4.6).
func (n *Node) Start() error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return fmt.Errorf("scnode: start in state %s", n.state)
	}
	n.state = StateStarting
	n.mu.Unlock()

	n.loop.Start()
	if err := n.startComponents(); err != nil {
		n.mu.Lock()
		n.state = StateIdle
		n.mu.Unlock()
		n.loop.Stop()
		return err
	}

	n.mu.Lock()
	n.state = StateStarted
	fn := n.eventFn
	n.mu.Unlock()
	if fn != nil {
		fn(EventStarted, scaddr.VMAC{})
	}
	return nil
}

func (n *Node) startComponents() error {
	if err := n.hub.Start(); err != nil {
		return err
	}
	if n.hubFn != nil {
		if err := n.hubFn.Start(); err != nil {
			n.hub.Stop()
			return err
		}
	}
	if n.sw != nil {
		if err := n.sw.Start(); err != nil {
			if n.hubFn != nil {
				n.hubFn.Stop()
			}
			n.hub.Stop()
			return err
		}
	}
	return nil
}

// stopComponents stops the three roles concurrently; each blocks until its
// sockets report idle and its server (if any) has stopped.
func (n *Node) stopComponents() {
	var g errgroup.Group
	if n.hubFn != nil {
		g.Go(func() error { n.hubFn.Stop(); return nil })
	}
	if n.sw != nil {
		g.Go(func() error { n.sw.Stop(); return nil })
	}
	g.Go(func() error { n.hub.Stop(); return nil })
	_ = g.Wait()
}

// Stop shuts every role down and stops the runloop. Idempotent.
func (n *Node) Stop() {
	n.mu.Lock()
	if n.state == StateIdle || n.state == StateStopping {
		n.mu.Unlock()
		return
	}
	n.state = StateStopping
	n.mu.Unlock()

	n.stopComponents()
	n.loop.Stop()

	n.mu.Lock()
	n.state = StateIdle
	fn := n.eventFn
	n.mu.Unlock()
	if fn != nil {
		fn(EventStopped, scaddr.VMAC{})
	}
}

// State returns the Node's lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// LocalVMAC returns the node's current virtual MAC; ok is false unless the
// node is STARTED (spec §4.7 get-my-address).
func (n *Node) LocalVMAC() (scaddr.VMAC, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.localVMAC, n.state == StateStarted
}

// Send routes one encoded BVLC/SC frame outward: through the Node-Switch
// when a direct path may exist, otherwise straight to the hub.
func (n *Node) Send(frame []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateStarted {
		return fmt.Errorf("scnode: send in state %s", n.state)
	}
	if n.sw != nil {
		return n.sw.SendLocked(frame)
	}
	return n.hub.SendLocked(frame)
}

// ConnectDirect opens (or resolves and opens) a direct connection (spec
// §4.7 connect_direct).
func (n *Node) ConnectDirect(dest *scaddr.VMAC, urls []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sw == nil {
		return fmt.Errorf("scnode: node switch not configured")
	}
	return n.sw.ConnectLocked(dest, urls)
}

// DisconnectDirect tears down the direct connection toward dest.
func (n *Node) DisconnectDirect(dest scaddr.VMAC) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sw == nil {
		return fmt.Errorf("scnode: node switch not configured")
	}
	return n.sw.DisconnectLocked(dest)
}

// DirectConnected reports whether a live direct path exists.
func (n *Node) DirectConnected(dest *scaddr.VMAC, urls []string) bool {
	if n.sw == nil {
		return false
	}
	return n.sw.Connected(dest, urls)
}

// Telemetry snapshots every status list for the Network-Port mirror.
func (n *Node) Telemetry() Telemetry {
	t := Telemetry{
		HubConnectorState: n.hub.State().String(),
		HubPrimary:        n.hub.Status(true),
		HubFailover:       n.hub.Status(false),
	}
	if n.hubFn != nil {
		t.HubFunction = n.hubFn.Statuses()
	}
	if n.sw != nil {
		t.DirectInitiator, t.DirectAcceptor = n.sw.Statuses()
		t.FailedRequests = n.sw.FailedRequests()
	}
	return t
}

// tick runs on the shared runloop; its only job at node scope is executing
// a pending duplicate-VMAC restart outside the dispatch callbacks that
// requested it (spec §4.6 restart).
func (n *Node) tick(time.Time) {
	n.mu.Lock()
	if !n.restartPending || n.state != StateRestarting {
		n.mu.Unlock()
		return
	}
	n.restartPending = false
	n.mu.Unlock()

	n.restart()
}

// restart stops all three roles, regenerates the local VMAC (random 48-bit
// with the locally administered bit, per AB.1.5.2), and starts again.
func (n *Node) restart() {
	slog.Warn("scnode: restarting after duplicate VMAC")
	n.stopComponents()

	vmac, err := scaddr.GenerateRandomVMAC()
	if err != nil {
		slog.Error("scnode: failed to regenerate VMAC", "error", err)
		vmac = n.localVMAC
	}

	n.mu.Lock()
	n.localVMAC = vmac
	n.cache.clear()
	n.hub.SetLocalVMACLocked(vmac)
	if n.hubFn != nil {
		n.hubFn.SetLocalVMACLocked(vmac)
	}
	if n.sw != nil {
		n.sw.SetLocalVMACLocked(vmac)
	}
	n.mu.Unlock()

	if err := n.startComponents(); err != nil {
		slog.Error("scnode: restart failed", "error", err)
		n.mu.Lock()
		n.state = StateIdle
		n.mu.Unlock()
		return
	}

	n.mu.Lock()
	n.state = StateStarted
	fn := n.eventFn
	n.mu.Unlock()
	slog.Info("scnode: restarted with fresh VMAC", "vmac", vmac)
	if fn != nil {
		fn(EventRestarted, scaddr.VMAC{})
	}
}

// requestRestartLocked flags the node for restart on the next runloop tick.
// Caller holds the dispatch mutex.
func (n *Node) requestRestartLocked() {
	if n.state != StateStarted {
		return
	}
	n.state = StateRestarting
	n.restartPending = true
}

func (n *Node) onHubEvent(ev hubconnector.Event) {
	switch ev {
	case hubconnector.EventDuplicatedVMAC:
		n.requestRestartLocked()
	case hubconnector.EventConnectedPrimary, hubconnector.EventConnectedFailover:
		slog.Debug("scnode: hub attachment changed", "state", n.hub.StateLocked())
	}
}

func (n *Node) onHubFunctionEvent(ev hubfunction.Event) {
	if ev == hubfunction.EventDuplicatedVMAC {
		n.requestRestartLocked()
	}
}

func (n *Node) onSwitchEvent(ev nodeswitch.Event, dest scaddr.VMAC) {
	switch ev {
	case nodeswitch.EventDuplicatedVMAC:
		n.requestRestartLocked()
	case nodeswitch.EventDirectConnected:
		if n.eventFn != nil {
			n.eventFn(EventDirectConnected, dest)
		}
	case nodeswitch.EventDirectDisconnected:
		if n.eventFn != nil {
			n.eventFn(EventDirectDisconnected, dest)
		}
	}
}

// onHubReceived is the received-PDU handler of spec §4.6, dispatching by
// BVLC function. It runs with the dispatch mutex held.
func (n *Node) onHubReceived(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	_, span := otel.Tracer("bsc-core").Start(context.Background(), "Node.receive")
	defer span.End()

	switch dm.Header.Function {
	case bvlcsc.FunctionResult:
		if dm.Result != nil && dm.Result.Code == bvlcsc.ResultNAK &&
			dm.Result.RespondingFunction == bvlcsc.FunctionAddressResolution &&
			dm.Header.Origin != nil {
			// The peer exists but refuses resolution: remember that with an
			// empty candidate record so we stop asking for a while.
			n.cache.refresh(*dm.Header.Origin, nil, time.Now())
			if n.sw != nil {
				n.sw.OnResolutionAckLocked(*dm.Header.Origin, nil)
			}
			return
		}
		n.deliverUp(raw)

	case bvlcsc.FunctionAdvertisementSolicitation:
		n.respondAdvertisement(sock, dm)

	case bvlcsc.FunctionAddressResolution:
		n.respondAddressResolution(sock, dm)

	case bvlcsc.FunctionAddressResolutionACK:
		if dm.Header.Origin == nil || dm.AddressResolutionAck == nil {
			return
		}
		uris := nodeswitch.ParseURIList(dm.AddressResolutionAck.WebSocketURIs, 0)
		n.cache.refresh(*dm.Header.Origin, uris, time.Now())
		if n.sw != nil {
			n.sw.OnResolutionAckLocked(*dm.Header.Origin, uris)
		}

	default:
		n.deliverUp(raw)
	}
}

// onSwitchReceived handles frames surfaced by direct sockets. The same
// dispatch rules apply; encapsulated traffic goes up.
func (n *Node) onSwitchReceived(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	n.onHubReceived(sock, dm, raw)
}

func (n *Node) deliverUp(raw []byte) {
	if n.recvFn != nil {
		n.recvFn(raw)
	}
}

// respondAdvertisement answers an ADVERTISEMENT_SOLICITATION with the
// node's current hub state, direct-accept capability and caps (spec §4.6).
func (n *Node) respondAdvertisement(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage) {
	support := bvlcsc.DirectConnectionUnsupported
	if n.cfg.DirectConnectAcceptEnabled {
		support = bvlcsc.DirectConnectionSupported
	}
	frame, err := bvlcsc.EncodeAdvertisement(
		sock.NextMessageIDLocked(), nil, dm.Header.Origin,
		n.hub.AdvertisedStateLocked(), support,
		n.cfg.MaxBVLCLenAccepted, n.cfg.MaxNPDULenAccepted)
	if err != nil {
		return
	}
	if err := sock.ReplyLocked(frame); err != nil {
		slog.Debug("scnode: advertisement reply failed", "error", err)
	}
}

// respondAddressResolution answers with the direct-connect accept URIs, or
// a NAK when this node does not accept direct connections (spec §4.6).
func (n *Node) respondAddressResolution(sock *scsocket.Socket, dm *bvlcsc.DecodedMessage) {
	if !n.cfg.DirectConnectAcceptEnabled {
		frame, err := bvlcsc.EncodeResult(dm.Header.MessageID, nil, dm.Header.Origin,
			bvlcsc.FunctionAddressResolution, bvlcsc.ResultNAK, 0,
			bvlcsc.ErrorClassCommunication, bvlcsc.ErrorCodeOptionalFunctionalityNotSupported, "")
		if err != nil {
			return
		}
		if err := sock.ReplyLocked(frame); err != nil {
			slog.Debug("scnode: address-resolution NAK failed", "error", err)
		}
		return
	}

	blob := strings.Join(n.cfg.DirectConnectAcceptURIs, " ")
	frame, err := bvlcsc.EncodeAddressResolutionAck(
		dm.Header.MessageID, nil, dm.Header.Origin, blob)
	if err != nil {
		return
	}
	if err := sock.ReplyLocked(frame); err != nil {
		slog.Debug("scnode: address-resolution ack failed", "error", err)
	}
}

// nodeResolver adapts the Node's cache and hub to the nodeswitch.Resolver
// interface without exporting either.
type nodeResolver Node

func (r *nodeResolver) CachedURIsLocked(dest scaddr.VMAC) ([]string, bool) {
	return (*Node)(r).cache.lookup(dest, time.Now())
}

func (r *nodeResolver) SendAddressResolutionLocked(dest scaddr.VMAC) error {
	n := (*Node)(r)
	frame, err := bvlcsc.EncodeAddressResolution(n.nextMessageIDLocked(), &n.localVMAC, &dest)
	if err != nil {
		return err
	}
	return n.hub.SendLocked(frame)
}

// nextMessageIDLocked hands out node-scope message ids for frames the Node
// originates itself. Caller holds the dispatch mutex.
func (n *Node) nextMessageIDLocked() uint16 {
	n.msgID++
	if n.msgID == 0 {
		n.msgID = 1
	}
	return n.msgID
}
