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

// Package faketransport provides an in-memory sctransport implementation
// for tests: connections never touch the network, every frame written via
// DispatchSend is captured per handle, and the test drives the event flow
// by injecting WS-CONNECTED / RECEIVED / DISCONNECTED events itself.
package faketransport

import (
	"fmt"
	"sync"

	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// Transport implements both sctransport.Client and sctransport.Server.
type Transport struct {
	mu         sync.Mutex
	nextHandle sctransport.Handle

	dispatch map[sctransport.Handle]sctransport.DispatchFunc
	serverFn sctransport.DispatchFunc

	sent         map[sctransport.Handle][][]byte
	pending      []sctransport.Handle
	disconnected map[sctransport.Handle]bool
	dialedURLs   []string
	peerAddrs    map[sctransport.Handle]string

	serverRunning bool
}

func New() *Transport {
	return &Transport{
		dispatch:     make(map[sctransport.Handle]sctransport.DispatchFunc),
		sent:         make(map[sctransport.Handle][][]byte),
		disconnected: make(map[sctransport.Handle]bool),
		peerAddrs:    make(map[sctransport.Handle]string),
	}
}

// --- sctransport.Client ---

// Connect registers a pending outbound connection and returns its handle.
// Nothing happens until the test calls OpenClient (WS-CONNECTED) or
// FailDial (WS-DISCONNECTED).
func (t *Transport) Connect(cfg sctransport.ClientConfig, dispatch sctransport.DispatchFunc) (sctransport.Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextHandle++
	h := t.nextHandle
	t.dispatch[h] = dispatch
	t.dialedURLs = append(t.dialedURLs, cfg.URL)
	return h, nil
}

func (t *Transport) Disconnect(h sctransport.Handle) {
	t.mu.Lock()
	t.disconnected[h] = true
	t.mu.Unlock()
}

func (t *Transport) Send(h sctransport.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.dispatch[h]; !ok {
		return fmt.Errorf("faketransport: unknown handle %d", h)
	}
	t.pending = append(t.pending, h)
	return nil
}

func (t *Transport) DispatchSend(h sctransport.Handle, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.dispatch[h]; !ok {
		return fmt.Errorf("faketransport: unknown handle %d", h)
	}
	t.sent[h] = append(t.sent[h], append([]byte(nil), payload...))
	return nil
}

// --- sctransport.Server ---

func (t *Transport) Start(_ sctransport.ServerConfig, dispatch sctransport.DispatchFunc) error {
	t.mu.Lock()
	t.serverFn = dispatch
	t.serverRunning = true
	t.mu.Unlock()
	dispatch(sctransport.Event{Type: sctransport.EventServerStarted})
	return nil
}

func (t *Transport) Stop() error {
	t.mu.Lock()
	fn := t.serverFn
	t.serverRunning = false
	t.mu.Unlock()
	if fn != nil {
		fn(sctransport.Event{Type: sctransport.EventServerStopped})
	}
	return nil
}

func (t *Transport) GetPeerIPAddr(h sctransport.Handle) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerAddrs[h]
}

// --- test driver API ---

// OpenClient completes a pending outbound dial: delivers WS-CONNECTED and
// drains any queued writable notifications.
func (t *Transport) OpenClient(h sctransport.Handle) {
	t.fire(h, sctransport.Event{Type: sctransport.EventConnected, Handle: h})
	t.Pump()
}

// FailDial reports an outbound dial as refused.
func (t *Transport) FailDial(h sctransport.Handle, detail string) {
	t.fire(h, sctransport.Event{Type: sctransport.EventDisconnected, Handle: h, Detail: detail})
}

// AcceptPeer simulates an inbound WebSocket reaching the server, returning
// its handle.
func (t *Transport) AcceptPeer(remoteAddr string) sctransport.Handle {
	t.mu.Lock()
	t.nextHandle++
	h := t.nextHandle
	t.dispatch[h] = t.serverFn
	t.peerAddrs[h] = remoteAddr
	t.mu.Unlock()
	t.fire(h, sctransport.Event{Type: sctransport.EventConnected, Handle: h})
	t.Pump()
	return h
}

// Deliver injects one received frame and drains any resulting writes.
func (t *Transport) Deliver(h sctransport.Handle, frame []byte) {
	t.fire(h, sctransport.Event{Type: sctransport.EventReceived, Handle: h, Payload: frame})
	t.Pump()
}

// Close delivers WS-DISCONNECTED for h.
func (t *Transport) Close(h sctransport.Handle, detail string) {
	t.fire(h, sctransport.Event{Type: sctransport.EventDisconnected, Handle: h, Detail: detail})
}

// Pump delivers every queued SENDABLE notification until none remain, so
// queued socket TX segments drain into Sent.
func (t *Transport) Pump() {
	for {
		t.mu.Lock()
		if len(t.pending) == 0 {
			t.mu.Unlock()
			return
		}
		h := t.pending[0]
		t.pending = t.pending[1:]
		fn := t.dispatch[h]
		t.mu.Unlock()
		if fn != nil {
			fn(sctransport.Event{Type: sctransport.EventSendable, Handle: h})
		}
	}
}

// Sent returns the frames written to h, in order.
func (t *Transport) Sent(h sctransport.Handle) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.sent[h]))
	copy(out, t.sent[h])
	return out
}

// LastSent returns the most recent frame written to h, or nil.
func (t *Transport) LastSent(h sctransport.Handle) []byte {
	frames := t.Sent(h)
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}

// Disconnected reports whether the transport was asked to close h.
func (t *Transport) Disconnected(h sctransport.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnected[h]
}

// DialedURLs returns every URL passed to Connect, in order.
func (t *Transport) DialedURLs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.dialedURLs...)
}

// LastHandle returns the handle most recently created.
func (t *Transport) LastHandle() sctransport.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextHandle
}

func (t *Transport) fire(h sctransport.Handle, ev sctransport.Event) {
	t.mu.Lock()
	fn := t.dispatch[h]
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}
