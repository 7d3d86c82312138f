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

package scsocket

import (
	"fmt"
	"sync"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scerr"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// CtxState is a Socket-Context's lifecycle state (spec §3.4).
type CtxState int

const (
	CtxIdle CtxState = iota
	CtxInitializing
	CtxInitialized
	CtxDeinitializing
)

// EventCallbacks are the role-specific hooks a Context invokes as Sockets
// change state (spec §4.2 "emit EVENT_CONNECTED" etc). All callbacks run
// synchronously while the Context's dispatch lock is held; they must not
// block or call the Context's lock-taking exported methods (which would
// self-deadlock on the same lock); the *Locked variants, which assume the
// lock is already held, are the ones a callback may call.
type EventCallbacks struct {
	OnConnected    func(sock *Socket)
	OnDisconnected func(sock *Socket)
	OnReceived     func(sock *Socket, dm *bvlcsc.DecodedMessage, raw []byte)
}

// transportOps is the subset of sctransport.Client/sctransport.Server a
// Context needs once a connection exists; both satisfy it structurally.
type transportOps interface {
	Disconnect(h sctransport.Handle)
	Send(h sctransport.Handle) error
	DispatchSend(h sctransport.Handle, payload []byte) error
}

// Context is a Socket-Context (spec §3.4, §4.2): a fixed-size pool of
// Sockets sharing one role, one transport, and one set of callbacks.
type Context struct {
	Name string

	mu *sync.Mutex

	state CtxState
	role  Role
	cfg   Config

	client sctransport.Client
	server sctransport.Server

	sockets   []*Socket
	handleIdx map[sctransport.Handle]int

	cb EventCallbacks
}

// NewInitiatorContext builds a Context whose Sockets make outbound
// connections through client. lock is the shared dispatch mutex (spec §5);
// pass the same *sync.Mutex to every Context/Node sharing one runtime so
// their state transitions serialize against each other.
func NewInitiatorContext(name string, cfg Config, poolSize int, lock *sync.Mutex, client sctransport.Client, cb EventCallbacks) *Context {
	c := &Context{
		Name: name, mu: lock, role: RoleInitiator, cfg: cfg,
		client: client, handleIdx: make(map[sctransport.Handle]int), cb: cb,
	}
	c.sockets = make([]*Socket, poolSize)
	for i := range c.sockets {
		c.sockets[i] = newSocket(i, c)
	}
	return c
}

// NewAcceptorContext builds a Context whose Sockets accept inbound
// connections through server.
func NewAcceptorContext(name string, cfg Config, poolSize int, lock *sync.Mutex, server sctransport.Server, cb EventCallbacks) *Context {
	c := &Context{
		Name: name, mu: lock, role: RoleAcceptor, cfg: cfg,
		server: server, handleIdx: make(map[sctransport.Handle]int), cb: cb,
	}
	c.sockets = make([]*Socket, poolSize)
	for i := range c.sockets {
		c.sockets[i] = newSocket(i, c)
	}
	return c
}

func (c *Context) ops() transportOps {
	if c.role == RoleAcceptor {
		return c.server
	}
	return c.client
}

// State returns the Context's lifecycle state.
func (c *Context) State() CtxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PoolSize returns the number of Socket slots in the Context's pool.
func (c *Context) PoolSize() int { return len(c.sockets) }

// Init moves the Context to INITIALIZED, starting the acceptor's server if
// this is an acceptor Context (spec §3.4). The dispatch mutex is released
// across server.Start, which may invoke the dispatch callback inline
// (SERVER_STARTED).
func (c *Context) Init() error {
	c.mu.Lock()
	c.state = CtxInitializing
	role := c.role
	cfg := c.cfg
	c.mu.Unlock()

	if role == RoleAcceptor {
		if err := c.server.Start(sctransport.ServerConfig{
			Proto:     cfg.Kind.Proto(),
			BindAddr:  cfg.BindAddr,
			Interface: cfg.Interface,
			Creds:     cfg.Creds,
		}, c.dispatch); err != nil {
			c.mu.Lock()
			c.state = CtxIdle
			c.mu.Unlock()
			return fmt.Errorf("scsocket: %s: failed to start acceptor: %w", c.Name, err)
		}
	}

	c.mu.Lock()
	c.state = CtxInitialized
	c.mu.Unlock()
	return nil
}

// Deinit closes every live Socket and, for an acceptor, stops the server.
// Per spec §3.4, a Context cannot reach IDLE while any Socket is non-IDLE;
// this implementation forces that by tearing every socket down immediately
// rather than waiting out its graceful disconnect handshake.
func (c *Context) Deinit() error {
	c.mu.Lock()
	c.state = CtxDeinitializing
	for _, sock := range c.sockets {
		if sock.state != StateIdle && sock.hasHandle {
			c.ops().Disconnect(sock.handle)
		}
		sock.recycle()
	}
	c.handleIdx = make(map[sctransport.Handle]int)
	c.mu.Unlock()

	var err error
	if c.role == RoleAcceptor {
		err = c.server.Stop()
	}

	c.mu.Lock()
	c.state = CtxIdle
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("scsocket: %s: failed to stop acceptor: %w", c.Name, err)
	}
	return nil
}

// allocFreeSocket returns the index of an IDLE socket, or -1 if the pool is
// exhausted (spec §3.4 invariant: at most N live sockets per context).
// Callers must hold c.mu.
func (c *Context) allocFreeSocket() int {
	for i, sock := range c.sockets {
		if sock.state == StateIdle {
			return i
		}
	}
	return -1
}

// Connect starts an outbound connection on socket slot idx (initiator
// contexts only), per spec §4.2 step 1.
func (c *Context) Connect(idx int, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ConnectLocked(idx, url)
}

// ConnectLocked is Connect for callers already holding the shared dispatch
// mutex (components reacting to socket events or runloop ticks).
func (c *Context) ConnectLocked(idx int, url string) error {
	if c.role != RoleInitiator {
		return fmt.Errorf("scsocket: %s: Connect called on acceptor context", c.Name)
	}
	if idx < 0 || idx >= len(c.sockets) {
		return fmt.Errorf("scsocket: %s: socket index %d out of range", c.Name, idx)
	}
	sock := c.sockets[idx]
	if sock.state != StateIdle {
		return fmt.Errorf("scsocket: %s: socket %d not idle", c.Name, idx)
	}

	sock.recycle()
	sock.connectURL = url
	sock.state = StateAwaitingWebSocket

	handle, err := c.client.Connect(sctransport.ClientConfig{
		Proto:          c.cfg.Kind.Proto(),
		URL:            url,
		Creds:          c.cfg.Creds,
		ConnectTimeout: c.cfg.ConnectTimeout,
	}, c.dispatch)
	if err != nil {
		sock.reset()
		return fmt.Errorf("scsocket: %s: connect failed: %w", c.Name, err)
	}

	sock.handle = handle
	sock.hasHandle = true
	c.handleIdx[handle] = idx
	sock.connectTimer.Arm(c.cfg.ConnectTimeout)
	return nil
}

// Disconnect begins the graceful teardown of a CONNECTED socket (spec §4.2
// "Disconnect").
func (c *Context) Disconnect(idx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.DisconnectLocked(idx)
}

// DisconnectLocked is Disconnect for callers already holding the shared
// dispatch mutex.
func (c *Context) DisconnectLocked(idx int) error {
	if idx < 0 || idx >= len(c.sockets) {
		return fmt.Errorf("scsocket: %s: socket index %d out of range", c.Name, idx)
	}
	sock := c.sockets[idx]
	if sock.state != StateConnected {
		return fmt.Errorf("scsocket: %s: socket %d not connected", c.Name, idx)
	}

	id := sock.nextMessageID()
	sock.expectDisconnectID = id
	frame, err := bvlcsc.EncodeDisconnectRequest(id)
	if err != nil {
		return err
	}

	sock.disconnectReason = scerr.DisconnectReasonLocal
	sock.state = StateDisconnecting
	sock.disconnectTimer.Arm(c.cfg.DisconnectTimeout)
	return sock.enqueue(frame)
}

// SetLocalVMACLocked swaps the context's local VMAC, used across a
// duplicate-VMAC restart while every socket is IDLE. Caller holds the
// shared dispatch mutex.
func (c *Context) SetLocalVMACLocked(vmac scaddr.VMAC) {
	c.cfg.LocalVMAC = vmac
}

// AbortLocked force-closes socket idx without the disconnect handshake,
// whatever state it is in; the eventual WS-DISCONNECTED event returns the
// slot to IDLE. Caller holds the shared dispatch mutex.
func (c *Context) AbortLocked(idx int) {
	if idx < 0 || idx >= len(c.sockets) {
		return
	}
	sock := c.sockets[idx]
	if sock.state == StateIdle {
		return
	}
	sock.enterError(scerr.DisconnectReasonLocal, "")
}

// SendFrame transmits a fully-encoded BVLC/SC frame on a CONNECTED socket.
func (c *Context) SendFrame(idx int, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.SendFrameLocked(idx, frame)
}

// SendFrameLocked is SendFrame for callers already holding the shared
// dispatch mutex.
func (c *Context) SendFrameLocked(idx int, frame []byte) error {
	if idx < 0 || idx >= len(c.sockets) {
		return fmt.Errorf("scsocket: %s: socket index %d out of range", c.Name, idx)
	}
	sock := c.sockets[idx]
	if sock.state != StateConnected {
		return fmt.Errorf("scsocket: %s: socket %d not connected", c.Name, idx)
	}
	return sock.enqueue(frame)
}

// Socket returns a socket slot for read-only inspection. Callers outside
// this package must only call the Socket's getter methods; mutation is
// exclusively this package's job and always happens under c.mu.
func (c *Context) Socket(idx int) *Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx < 0 || idx >= len(c.sockets) {
		return nil
	}
	return c.sockets[idx]
}

// Lock/Unlock expose the shared dispatch mutex so a component composing
// several Contexts (Hub-Connector, Node-Switch, Node) can make a
// multi-socket decision atomically.
func (c *Context) Lock()   { c.mu.Lock() }
func (c *Context) Unlock() { c.mu.Unlock() }

// SocketUnsafe returns the raw Socket pointer without locking; the caller
// must already hold c.mu (e.g. via Lock/Unlock, or from within a callback).
func (c *Context) SocketUnsafe(idx int) *Socket {
	if idx < 0 || idx >= len(c.sockets) {
		return nil
	}
	return c.sockets[idx]
}

// EachSocketLocked invokes fn for every socket slot. Caller holds the
// shared dispatch mutex.
func (c *Context) EachSocketLocked(fn func(*Socket)) {
	for _, sock := range c.sockets {
		fn(sock)
	}
}

// FindConnectedByPeerLocked returns the CONNECTED socket whose peer VMAC is
// vmac, or nil. Caller holds the shared dispatch mutex.
func (c *Context) FindConnectedByPeerLocked(vmac scaddr.VMAC) *Socket {
	for _, sock := range c.sockets {
		if sock.state == StateConnected && sock.havePeer && sock.peerVMAC == vmac {
			return sock
		}
	}
	return nil
}

// Tick checks every Socket's timers against now, advancing any that have
// expired (spec §5 "every long-lived wait has an explicit millisecond
// timer that the runloop checks each tick").
func (c *Context) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sock := range c.sockets {
		switch sock.state {
		case StateAwaitingWebSocket, StateAwaitingAccept, StateAwaitingRequest:
			if sock.connectTimer.Expired(now) {
				sock.enterError(scerr.DisconnectReasonTimedOut, "connect timeout")
				if sock.hasHandle {
					c.ops().Disconnect(sock.handle)
				}
			}
		case StateConnected:
			if sock.heartbeatTimer.Expired(now) {
				c.onHeartbeatExpired(sock)
			}
		case StateDisconnecting:
			if sock.disconnectTimer.Expired(now) {
				sock.enterError(scerr.DisconnectReasonTimedOut, "disconnect timeout")
				if sock.hasHandle {
					c.ops().Disconnect(sock.handle)
				}
			}
		}
	}
}
