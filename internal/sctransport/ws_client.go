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

package sctransport

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClient is the gorilla/websocket-backed implementation of Client. Each
// Connect spins up a dedicated read pump and a dedicated write pump
// goroutine; the connected, received and disconnected callbacks for a given
// Handle run in order on that connection's read-pump goroutine, while each
// EventSendable requested through DispatchSend is delivered from its own
// new goroutine and may run concurrently with them.
type WSClient struct {
	nextHandle atomic.Uint64

	mu    sync.Mutex
	conns map[Handle]*clientConn
}

type clientConn struct {
	conn     *websocket.Conn
	dispatch DispatchFunc
	writeCh  chan []byte
	closed   atomic.Bool
	done     chan struct{}
}

// NewWSClient constructs an empty WSClient ready to make connections.
func NewWSClient() *WSClient {
	return &WSClient{conns: make(map[Handle]*clientConn)}
}

func (c *WSClient) Connect(cfg ClientConfig, dispatch DispatchFunc) (Handle, error) {
	tlsCfg, err := cfg.Creds.ClientTLSConfig()
	if err != nil {
		return 0, err
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		const defaultConnectTimeout = 10 * time.Second
		timeout = defaultConnectTimeout
	}

	dialer := &websocket.Dialer{
		TLSClientConfig:  tlsCfg,
		HandshakeTimeout: timeout,
		Subprotocols:     []string{cfg.Proto},
	}

	h := Handle(c.nextHandle.Add(1))
	cc := &clientConn{
		dispatch: dispatch,
		writeCh:  make(chan []byte, 1),
		done:     make(chan struct{}),
	}

	go c.run(h, cc, dialer, cfg.URL)

	return h, nil
}

func (c *WSClient) run(h Handle, cc *clientConn, dialer *websocket.Dialer, url string) {
	conn, resp, err := dialer.Dial(url, nil)
	if err != nil {
		detail := err.Error()
		if resp != nil {
			detail = fmt.Sprintf("%s (http status %s)", detail, resp.Status)
		}
		cc.dispatch(Event{Type: EventDisconnected, Handle: h, Err: err, Detail: detail})
		return
	}
	cc.conn = conn

	c.mu.Lock()
	c.conns[h] = cc
	c.mu.Unlock()

	cc.dispatch(Event{Type: EventConnected, Handle: h})

	go c.writePump(h, cc)
	c.readPump(h, cc)
}

func (c *WSClient) readPump(h Handle, cc *clientConn) {
	defer c.teardown(h, cc, nil)
	for {
		msgType, data, err := cc.conn.ReadMessage()
		if err != nil {
			cc.dispatch(Event{Type: EventDisconnected, Handle: h, Err: err, Detail: err.Error()})
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		cc.dispatch(Event{Type: EventReceived, Handle: h, Payload: data})
	}
}

func (c *WSClient) writePump(h Handle, cc *clientConn) {
	for {
		select {
		case payload := <-cc.writeCh:
			if err := cc.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				slog.Debug("sctransport: client write failed", "handle", h, "error", err)
				return
			}
		case <-cc.done:
			return
		}
	}
}

func (c *WSClient) teardown(h Handle, cc *clientConn, _ error) {
	if !cc.closed.CompareAndSwap(false, true) {
		return
	}
	close(cc.done)
	_ = cc.conn.Close()
	c.mu.Lock()
	delete(c.conns, h)
	c.mu.Unlock()
}

func (c *WSClient) Disconnect(h Handle) {
	c.mu.Lock()
	cc, ok := c.conns[h]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.teardown(h, cc, nil)
}

// Send requests a writable notification. Unlike a real async-I/O transport,
// this implementation can accept writes immediately via its write pump, so
// it synthesizes the EventSendable notification on a fresh goroutine —
// never inline with the caller's stack, so a caller holding its own
// dispatch lock while calling Send never re-enters its own callback.
func (c *WSClient) Send(h Handle) error {
	c.mu.Lock()
	cc, ok := c.conns[h]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("sctransport: unknown handle %d", h)
	}
	go cc.dispatch(Event{Type: EventSendable, Handle: h})
	return nil
}

func (c *WSClient) DispatchSend(h Handle, payload []byte) error {
	c.mu.Lock()
	cc, ok := c.conns[h]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("sctransport: unknown handle %d", h)
	}
	select {
	case cc.writeCh <- payload:
		return nil
	case <-cc.done:
		return fmt.Errorf("sctransport: handle %d closed", h)
	}
}

var _ http.Handler = (*WSServer)(nil)
