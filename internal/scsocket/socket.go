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
	"crypto/rand"
	"encoding/binary"

	"github.com/bacnet-community/bsc-core/internal/runloop"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scerr"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// Socket holds one live (or idle) SC association: a WebSocket plus the
// per-peer handshake/heartbeat/disconnect state machine of spec §3.3.
// All fields are only ever touched while the owning Context's dispatch
// lock is held.
type Socket struct {
	idx int
	ctx *Context

	handle    sctransport.Handle
	hasHandle bool

	state             State
	disconnectReason  scerr.DisconnectReason
	disconnectDetail  string

	connectTimer    runloop.Timer
	heartbeatTimer  runloop.Timer
	disconnectTimer runloop.Timer

	peerVMAC   scaddr.VMAC
	peerUUID   scaddr.UUID
	havePeer   bool
	maxBVLCLen uint16
	maxNPDULen uint16

	expectConnectAcceptID uint16
	expectDisconnectID    uint16
	expectHeartbeatID     uint16

	localMessageID uint16

	txQueue [][]byte

	connectURL string

	// flushThenError is set when ErrorFlushTX is entered: once txQueue
	// drains, the socket moves on into StateError and the WS is closed.
	flushThenError bool
}

// Index returns the socket's slot index within its owning Context's pool.
func (s *Socket) Index() int { return s.idx }

// State returns the socket's current state.
func (s *Socket) State() State { return s.state }

// PeerVMAC returns the peer's virtual MAC once known (post-handshake).
func (s *Socket) PeerVMAC() (scaddr.VMAC, bool) { return s.peerVMAC, s.havePeer }

// PeerUUID returns the peer's device UUID once known (post-handshake).
func (s *Socket) PeerUUID() (scaddr.UUID, bool) { return s.peerUUID, s.havePeer }

// DisconnectReason returns the reason the socket last left CONNECTED.
func (s *Socket) DisconnectReason() (scerr.DisconnectReason, string) {
	return s.disconnectReason, s.disconnectDetail
}

// Caps returns the peer's negotiated max BVLC/NPDU lengths.
func (s *Socket) Caps() (maxBVLC, maxNPDU uint16) { return s.maxBVLCLen, s.maxNPDULen }

// ReplyLocked enqueues a fully-encoded frame on this socket's association.
// It exists so a component handling a surfaced frame can answer on the same
// socket it arrived on; the caller holds the shared dispatch mutex.
func (s *Socket) ReplyLocked(frame []byte) error {
	return s.ctx.SendFrameLocked(s.idx, frame)
}

// NextMessageIDLocked hands out a fresh message id from the socket's local
// sequence, for replies built by the owning component. The caller holds the
// shared dispatch mutex.
func (s *Socket) NextMessageIDLocked() uint16 {
	return s.nextMessageID()
}

// TransportHandle returns the socket's underlying transport handle, 0 when
// no connection is attached.
func (s *Socket) TransportHandle() sctransport.Handle {
	if !s.hasHandle {
		return 0
	}
	return s.handle
}

func newSocket(idx int, ctx *Context) *Socket {
	return &Socket{idx: idx, ctx: ctx, state: StateIdle}
}

// reset returns the socket to IDLE so its slot can be reused, keeping the
// last disconnect reason and peer identity readable for post-mortem
// inspection by the owner's disconnect callback; recycle clears those too.
func (s *Socket) reset() {
	s.handle = 0
	s.hasHandle = false
	s.state = StateIdle
	s.maxBVLCLen = 0
	s.maxNPDULen = 0
	s.connectTimer.Disarm()
	s.heartbeatTimer.Disarm()
	s.disconnectTimer.Disarm()
	s.txQueue = nil
	s.connectURL = ""
	s.flushThenError = false
}

func (s *Socket) recycle() {
	s.reset()
	s.disconnectReason = scerr.DisconnectReasonNone
	s.disconnectDetail = ""
	s.havePeer = false
	s.peerVMAC = scaddr.VMAC{}
	s.peerUUID = scaddr.UUID{}
}

// nextMessageID returns a fresh per-socket message id; the first call on a
// socket slot returns a random starting value (spec §4.2 step 2), every
// subsequent call increments it, also across reconnects of the same slot,
// since recycle does not reset the counter (wrapping at 16 bits is fine —
// message ids are only ever compared for equality against an "expected"
// value captured at send time).
func (s *Socket) nextMessageID() uint16 {
	if s.localMessageID == 0 {
		s.localMessageID = randomUint16()
		return s.localMessageID
	}
	s.localMessageID++
	return s.localMessageID
}

func randomUint16() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1
	}
	v := binary.BigEndian.Uint16(b[:])
	if v == 0 {
		v = 1
	}
	return v
}

// enqueue appends a complete BVLC/SC frame to the socket's transmit queue
// (one frame per segment, the same segmentation the C byte-ring encodes as
// len|payload) and asks the transport for a writable notification. The
// actual write happens later, when the transport delivers EventSendable and
// drainOne is called.
func (s *Socket) enqueue(frame []byte) error {
	s.txQueue = append(s.txQueue, frame)
	if !s.hasHandle {
		return scerr.New(scerr.DisconnectReasonNoResources, "socket has no transport handle")
	}
	if err := s.ctx.ops().Send(s.handle); err != nil {
		return err
	}
	return nil
}

// drainOne writes the oldest queued segment to the transport. Per spec
// §4.2 "Send-path", segments are drained strictly in order and a single
// transport write call carries exactly one segment (no partial drain).
func (s *Socket) drainOne() {
	if len(s.txQueue) == 0 {
		return
	}
	frame := s.txQueue[0]
	s.txQueue = s.txQueue[1:]

	if err := s.ctx.ops().DispatchSend(s.handle, frame); err != nil {
		s.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
		return
	}

	if len(s.txQueue) == 0 && s.flushThenError {
		s.closeForError()
		return
	}
	if len(s.txQueue) > 0 {
		_ = s.ctx.ops().Send(s.handle)
	}
}

// enterError transitions the socket toward IDLE via StateError: the
// transport connection is closed and the socket waits for the matching
// WS-DISCONNECTED event (or, if already flushing queued bytes, finishes
// the flush first via StateErrorFlushTX).
func (s *Socket) enterError(reason scerr.DisconnectReason, detail string) {
	s.disconnectReason = reason
	s.disconnectDetail = detail
	if len(s.txQueue) > 0 {
		s.state = StateErrorFlushTX
		s.flushThenError = true
		return
	}
	s.closeForError()
}

func (s *Socket) closeForError() {
	s.state = StateError
	if s.hasHandle {
		s.ctx.ops().Disconnect(s.handle)
	}
}
