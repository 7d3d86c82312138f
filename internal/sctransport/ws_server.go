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
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSServer is the gorilla/websocket-backed implementation of Server. It
// runs its own net/http.Server bound to the configured address and upgrades
// every incoming WebSocket request, selecting cfg.Proto as the subprotocol
// when the client offers it; a request that does not offer it is still
// upgraded, with no subprotocol selected.
type WSServer struct {
	nextHandle atomic.Uint64
	upgrader   websocket.Upgrader

	mu        sync.Mutex
	proto     string
	dispatch  DispatchFunc
	httpSrv   *http.Server
	conns     map[Handle]*serverConn
	stopped   chan struct{}
}

type serverConn struct {
	conn     *websocket.Conn
	writeCh  chan []byte
	closed   atomic.Bool
	done     chan struct{}
	remoteIP string
}

const wsBufferSize = 4096

// NewWSServer constructs an idle WSServer ready to Start.
func NewWSServer() *WSServer {
	return &WSServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsBufferSize,
			WriteBufferSize: wsBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[Handle]*serverConn),
	}
}

func (s *WSServer) Start(cfg ServerConfig, dispatch DispatchFunc) error {
	tlsCfg, err := cfg.Creds.ServerTLSConfig()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.proto = cfg.Proto
	s.dispatch = dispatch
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	s.upgrader.Subprotocols = []string{cfg.Proto}

	mux := http.NewServeMux()
	mux.Handle("/", s)

	const readHeaderTimeout = 5 * time.Second
	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	if tlsCfg != nil && len(tlsCfg.Certificates) > 0 {
		srv.TLSConfig = tlsCfg
	}

	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("sctransport: failed to bind %s: %w", cfg.BindAddr, err)
	}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		var serveErr error
		if srv.TLSConfig != nil {
			serveErr = srv.ServeTLS(ln, "", "")
		} else {
			serveErr = srv.Serve(ln)
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			dispatch(Event{Type: EventServerStopped, Err: serveErr, Detail: serveErr.Error()})
			return
		}
		dispatch(Event{Type: EventServerStopped})
	}()

	dispatch(Event{Type: EventServerStarted})
	return nil
}

func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h := Handle(s.nextHandle.Add(1))
	sc := &serverConn{
		conn:     conn,
		writeCh:  make(chan []byte, 1),
		done:     make(chan struct{}),
		remoteIP: r.RemoteAddr,
	}

	s.mu.Lock()
	dispatch := s.dispatch
	s.conns[h] = sc
	s.mu.Unlock()

	dispatch(Event{Type: EventConnected, Handle: h})

	go s.writePump(h, sc, dispatch)
	s.readPump(h, sc, dispatch)
}

func (s *WSServer) readPump(h Handle, sc *serverConn, dispatch DispatchFunc) {
	defer s.teardown(h, sc)
	for {
		msgType, data, err := sc.conn.ReadMessage()
		if err != nil {
			dispatch(Event{Type: EventDisconnected, Handle: h, Err: err, Detail: err.Error()})
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		dispatch(Event{Type: EventReceived, Handle: h, Payload: data})
	}
}

func (s *WSServer) writePump(_ Handle, sc *serverConn, _ DispatchFunc) {
	for {
		select {
		case payload := <-sc.writeCh:
			if err := sc.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
		case <-sc.done:
			return
		}
	}
}

func (s *WSServer) teardown(h Handle, sc *serverConn) {
	if !sc.closed.CompareAndSwap(false, true) {
		return
	}
	close(sc.done)
	_ = sc.conn.Close()
	s.mu.Lock()
	delete(s.conns, h)
	s.mu.Unlock()
}

func (s *WSServer) Stop() error {
	s.mu.Lock()
	srv := s.httpSrv
	var conns []*serverConn
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}

	if srv == nil {
		return nil
	}
	const shutdownTimeout = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (s *WSServer) Disconnect(h Handle) {
	s.mu.Lock()
	sc, ok := s.conns[h]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.teardown(h, sc)
}

// Send requests a writable notification, delivered asynchronously (see
// WSClient.Send for why this must never call dispatch inline).
func (s *WSServer) Send(h Handle) error {
	s.mu.Lock()
	_, ok := s.conns[h]
	dispatch := s.dispatch
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sctransport: unknown handle %d", h)
	}
	go dispatch(Event{Type: EventSendable, Handle: h})
	return nil
}

func (s *WSServer) DispatchSend(h Handle, payload []byte) error {
	s.mu.Lock()
	sc, ok := s.conns[h]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("sctransport: unknown handle %d", h)
	}
	select {
	case sc.writeCh <- payload:
		return nil
	case <-sc.done:
		return fmt.Errorf("sctransport: handle %d closed", h)
	}
}

func (s *WSServer) GetPeerIPAddr(h Handle) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.conns[h]
	if !ok {
		return ""
	}
	return sc.remoteIP
}
