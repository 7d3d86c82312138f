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
	"log/slog"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/scerr"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
)

// dispatch is the Context's transport callback (spec §6.1). Every event the
// transport delivers for any of this Context's connections funnels through
// here, serialized under the shared dispatch mutex (spec §5).
func (c *Context) dispatch(ev sctransport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case sctransport.EventServerStarted:
		slog.Debug("scsocket: acceptor server started", "ctx", c.Name)
	case sctransport.EventServerStopped:
		if ev.Err != nil {
			slog.Warn("scsocket: acceptor server stopped with error", "ctx", c.Name, "error", ev.Err)
		} else {
			slog.Debug("scsocket: acceptor server stopped", "ctx", c.Name)
		}
	case sctransport.EventConnected:
		c.onWSConnected(ev.Handle)
	case sctransport.EventDisconnected:
		c.onWSDisconnected(ev.Handle, ev.Detail)
	case sctransport.EventSendable:
		if sock := c.socketByHandle(ev.Handle); sock != nil {
			sock.drainOne()
		}
	case sctransport.EventReceived:
		if sock := c.socketByHandle(ev.Handle); sock != nil {
			c.onFrame(sock, ev.Payload)
		}
	}
}

// socketByHandle resolves a transport handle to its Socket. Callers hold c.mu.
func (c *Context) socketByHandle(h sctransport.Handle) *Socket {
	idx, ok := c.handleIdx[h]
	if !ok {
		return nil
	}
	return c.sockets[idx]
}

// onWSConnected handles the underlying WebSocket reaching the open state.
// For an initiator this advances the connect sequence to AWAITING_ACCEPT
// (spec §4.2 initiator step 2); for an acceptor it allocates a pool slot and
// waits for the peer's CONNECT_REQUEST (acceptor step 1).
func (c *Context) onWSConnected(h sctransport.Handle) {
	if c.role == RoleInitiator {
		sock := c.socketByHandle(h)
		if sock == nil {
			return
		}
		if sock.state != StateAwaitingWebSocket {
			// The attempt was aborted while the dial was in flight.
			c.ops().Disconnect(h)
			return
		}
		sock.state = StateAwaitingAccept

		id := sock.nextMessageID()
		sock.expectConnectAcceptID = id
		frame, err := bvlcsc.EncodeConnectRequest(id, c.cfg.LocalVMAC, c.cfg.LocalUUID, c.cfg.MaxBVLCLen, c.cfg.MaxNPDULen)
		if err != nil {
			sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
			return
		}
		sock.connectTimer.Arm(c.cfg.ConnectTimeout)
		if err := sock.enqueue(frame); err != nil {
			sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
		}
		return
	}

	idx := c.allocFreeSocket()
	if idx < 0 || c.state != CtxInitialized {
		slog.Warn("scsocket: no free socket for inbound connection", "ctx", c.Name)
		c.ops().Disconnect(h)
		return
	}
	sock := c.sockets[idx]
	sock.recycle()
	sock.handle = h
	sock.hasHandle = true
	sock.state = StateAwaitingRequest
	sock.connectTimer.Arm(c.cfg.ConnectTimeout)
	c.handleIdx[h] = idx
}

// onWSDisconnected finishes a socket's lifecycle: whatever state it was in,
// the transport connection is gone, so the socket returns to IDLE and the
// owner hears about it exactly once.
func (c *Context) onWSDisconnected(h sctransport.Handle, detail string) {
	sock := c.socketByHandle(h)
	if sock == nil {
		return
	}
	if sock.disconnectReason == scerr.DisconnectReasonNone {
		sock.disconnectReason = scerr.DisconnectReasonPeerDisconnected
		sock.disconnectDetail = detail
	}

	delete(c.handleIdx, h)
	// Reset before the callback so the owner may immediately reuse the
	// slot (retry a URL, reconnect); reason and peer identity survive the
	// reset for the callback to read.
	sock.reset()
	if c.cb.OnDisconnected != nil {
		c.cb.OnDisconnected(sock)
	}
}

// onFrame decodes one received BVLC/SC frame and routes it through the
// socket's state machine.
func (c *Context) onFrame(sock *Socket, raw []byte) {
	dm, derr := bvlcsc.Decode(raw)
	if derr != nil {
		if derr.Kind == bvlcsc.DecodeErrorTooShort {
			return
		}
		c.nakRaw(sock, raw, derr)
		return
	}

	if opt, bad := unknownMustUnderstand(dm); bad {
		slog.Debug("scsocket: dropping frame with unknown must-understand option",
			"ctx", c.Name, "socket", sock.idx, "option", opt)
		if bvlcsc.NeedSendBVLCResult(dm) {
			c.nak(sock, dm, bvlcsc.ErrorCodeHeaderNotUnderstood, "unknown must-understand header option")
		}
		return
	}

	switch sock.state {
	case StateAwaitingAccept:
		c.onFrameAwaitingAccept(sock, dm)
	case StateAwaitingRequest:
		c.onFrameAwaitingRequest(sock, dm)
	case StateConnected:
		c.onFrameConnected(sock, dm, raw)
	case StateDisconnecting:
		c.onFrameDisconnecting(sock, dm, raw)
	default:
		// IDLE / ERROR / ERROR_FLUSH_TX sockets no longer consume frames.
	}
}

// unknownMustUnderstand reports whether dm carries a dest-option or
// data-option flagged must-understand whose type this implementation does
// not recognize (spec §3.2).
func unknownMustUnderstand(dm *bvlcsc.DecodedMessage) (bvlcsc.OptionType, bool) {
	for _, opts := range [][]bvlcsc.HeaderOption{dm.Header.DestOptions, dm.Header.DataOptions} {
		for _, opt := range opts {
			if !opt.MustUnderstand {
				continue
			}
			switch opt.Type {
			case bvlcsc.OptionTypeSecurePath, bvlcsc.OptionTypeProprietary:
			default:
				return opt.Type, true
			}
		}
	}
	return 0, false
}

// onFrameAwaitingAccept implements the initiator's wait for CONNECT_ACCEPT
// (spec §4.2 initiator steps 3-4).
func (c *Context) onFrameAwaitingAccept(sock *Socket, dm *bvlcsc.DecodedMessage) {
	switch dm.Header.Function {
	case bvlcsc.FunctionConnectAccept:
		if dm.Header.MessageID != sock.expectConnectAcceptID {
			slog.Debug("scsocket: connect-accept message id mismatch",
				"ctx", c.Name, "socket", sock.idx,
				"got", dm.Header.MessageID, "want", sock.expectConnectAcceptID)
			return
		}
		sock.peerVMAC = dm.ConnectAccept.VMAC
		sock.peerUUID = dm.ConnectAccept.UUID
		sock.havePeer = true
		sock.maxBVLCLen = dm.ConnectAccept.MaxBVLCLen
		sock.maxNPDULen = dm.ConnectAccept.MaxNPDULen
		sock.connectTimer.Disarm()
		sock.state = StateConnected
		sock.heartbeatTimer.Arm(c.cfg.HeartbeatTimeout)
		if c.cb.OnConnected != nil {
			c.cb.OnConnected(sock)
		}

	case bvlcsc.FunctionResult:
		if dm.Result != nil && dm.Result.Code == bvlcsc.ResultNAK {
			reason := scerr.DisconnectReasonPeerDisconnected
			if dm.Result.ErrorCode == bvlcsc.ErrorCodeNodeDuplicateVMAC {
				reason = scerr.DisconnectReasonDuplicatedVMAC
			}
			sock.enterError(reason, dm.Result.Details)
		}

	default:
		slog.Debug("scsocket: unexpected frame while awaiting connect-accept",
			"ctx", c.Name, "socket", sock.idx, "function", dm.Header.Function)
	}
}

// onFrameAwaitingRequest implements the acceptor's CONNECT_REQUEST handling
// with duplicate-UUID takeover and duplicate-VMAC rejection (spec §4.2
// acceptor step 2).
func (c *Context) onFrameAwaitingRequest(sock *Socket, dm *bvlcsc.DecodedMessage) {
	if dm.Header.Function != bvlcsc.FunctionConnectRequest {
		slog.Debug("scsocket: unexpected frame while awaiting connect-request",
			"ctx", c.Name, "socket", sock.idx, "function", dm.Header.Function)
		return
	}
	req := dm.ConnectRequest

	var sameUUID, sameVMAC *Socket
	for _, other := range c.sockets {
		if other == sock || !other.havePeer {
			continue
		}
		if other.state != StateConnected && other.state != StateDisconnecting {
			continue
		}
		if other.peerUUID == req.UUID {
			sameUUID = other
		} else if other.peerVMAC == req.VMAC {
			sameVMAC = other
		}
	}

	switch {
	case sameUUID != nil:
		// Same device reconnecting: accept the new association and push the
		// stale one through the disconnect handshake.
		c.acceptConnection(sock, dm)
		if sameUUID.state == StateConnected {
			if err := c.DisconnectLocked(sameUUID.idx); err != nil {
				slog.Warn("scsocket: failed to disconnect stale duplicate-uuid socket",
					"ctx", c.Name, "socket", sameUUID.idx, "error", err)
			}
		}

	case sameVMAC != nil, req.VMAC == c.cfg.LocalVMAC && req.UUID != c.cfg.LocalUUID:
		c.nak(sock, dm, bvlcsc.ErrorCodeNodeDuplicateVMAC, "duplicate VMAC")
		sock.disconnectReason = scerr.DisconnectReasonDuplicatedVMAC
		sock.state = StateErrorFlushTX
		sock.flushThenError = true

	default:
		c.acceptConnection(sock, dm)
	}
}

// acceptConnection stores the peer identity, replies CONNECT_ACCEPT, and
// moves the acceptor socket to CONNECTED with the zombie-kill heartbeat
// margin armed (spec §4.2: acceptor rearms at twice the heartbeat timeout).
func (c *Context) acceptConnection(sock *Socket, dm *bvlcsc.DecodedMessage) {
	req := dm.ConnectRequest
	sock.peerVMAC = req.VMAC
	sock.peerUUID = req.UUID
	sock.havePeer = true
	sock.maxBVLCLen = req.MaxBVLCLen
	sock.maxNPDULen = req.MaxNPDULen

	frame, err := bvlcsc.EncodeConnectAccept(dm.Header.MessageID, c.cfg.LocalVMAC, c.cfg.LocalUUID, c.cfg.MaxBVLCLen, c.cfg.MaxNPDULen)
	if err != nil {
		sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
		return
	}
	sock.connectTimer.Disarm()
	sock.state = StateConnected
	sock.heartbeatTimer.Arm(2 * c.cfg.HeartbeatTimeout)
	if err := sock.enqueue(frame); err != nil {
		sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
		return
	}
	if c.cb.OnConnected != nil {
		c.cb.OnConnected(sock)
	}
}

// onFrameConnected handles traffic on an established association, enforcing
// the framing rules of spec §3.2 and the forwarding rules of §4.2.
func (c *Context) onFrameConnected(sock *Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	// Every received valid frame restarts the heartbeat timer; the acceptor
	// keeps the doubled zombie-kill margin.
	if c.role == RoleAcceptor {
		sock.heartbeatTimer.Arm(2 * c.cfg.HeartbeatTimeout)
	} else {
		sock.heartbeatTimer.Arm(c.cfg.HeartbeatTimeout)
	}

	switch dm.Header.Function {
	case bvlcsc.FunctionHeartbeatRequest:
		frame, err := bvlcsc.EncodeHeartbeatAck(dm.Header.MessageID)
		if err != nil {
			return
		}
		if err := sock.enqueue(frame); err != nil {
			sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
		}

	case bvlcsc.FunctionHeartbeatACK:
		if dm.Header.MessageID != sock.expectHeartbeatID {
			slog.Debug("scsocket: heartbeat-ack message id mismatch",
				"ctx", c.Name, "socket", sock.idx,
				"got", dm.Header.MessageID, "want", sock.expectHeartbeatID)
		}

	case bvlcsc.FunctionDisconnectRequest:
		frame, err := bvlcsc.EncodeDisconnectAck(dm.Header.MessageID)
		if err != nil {
			return
		}
		sock.disconnectReason = scerr.DisconnectReasonPeerDisconnected
		sock.state = StateErrorFlushTX
		sock.flushThenError = true
		if err := sock.enqueue(frame); err != nil {
			sock.closeForError()
		}

	case bvlcsc.FunctionDisconnectACK:
		// A disconnect-ack nobody asked for means the peer's state machine
		// has diverged from ours; close without acking.
		sock.enterError(scerr.DisconnectReasonWebSocketError, "unexpected disconnect-ack")

	case bvlcsc.FunctionResult:
		if dm.Result != nil && dm.Result.Code == bvlcsc.ResultNAK &&
			dm.Result.ErrorCode == bvlcsc.ErrorCodeNodeDuplicateVMAC {
			sock.enterError(scerr.DisconnectReasonDuplicatedVMAC, dm.Result.Details)
			return
		}
		// RESULT is surfaced only when it names an origin or destination;
		// an anonymous result has nothing for the upper layer to act on.
		if dm.Header.Origin == nil && dm.Header.Dest == nil {
			return
		}
		c.surface(sock, dm, raw)

	case bvlcsc.FunctionConnectRequest, bvlcsc.FunctionConnectAccept:
		slog.Debug("scsocket: handshake frame on connected socket dropped",
			"ctx", c.Name, "socket", sock.idx, "function", dm.Header.Function)

	case bvlcsc.FunctionEncapsulatedNPDU:
		if !c.npduFramingValid(dm) {
			c.nak(sock, dm, bvlcsc.ErrorCodeHeaderEncodingError, "encapsulated-npdu address fields violate framing rules")
			return
		}
		c.surface(sock, dm, raw)

	default:
		c.surface(sock, dm, raw)
	}
}

// npduFramingValid checks the ENCAPSULATED_NPDU origin/dest presence rules
// of spec §3.2. A hub connector (hub-kind initiator) requires an origin and
// tolerates only an absent or broadcast destination; a hub function
// (hub-kind acceptor) requires a destination and forbids an origin, since
// the hub itself assigns the origin when forwarding. Direct connections
// bind both identities by channel, so nothing is required there.
func (c *Context) npduFramingValid(dm *bvlcsc.DecodedMessage) bool {
	if c.cfg.Kind != KindHub {
		return true
	}
	if c.role == RoleInitiator {
		if dm.Header.Origin == nil {
			return false
		}
		return dm.Header.Dest == nil || dm.Header.Dest.IsBroadcast()
	}
	return dm.Header.Dest != nil && dm.Header.Origin == nil
}

// onFrameDisconnecting accepts only the disconnect handshake's terminal
// frames; everything else is surfaced as ordinary received traffic (spec
// §4.2 "Disconnect").
func (c *Context) onFrameDisconnecting(sock *Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	switch dm.Header.Function {
	case bvlcsc.FunctionDisconnectACK:
		if dm.Header.MessageID != sock.expectDisconnectID {
			slog.Debug("scsocket: disconnect-ack message id mismatch",
				"ctx", c.Name, "socket", sock.idx,
				"got", dm.Header.MessageID, "want", sock.expectDisconnectID)
			return
		}
		sock.disconnectTimer.Disarm()
		sock.state = StateError
		c.ops().Disconnect(sock.handle)

	case bvlcsc.FunctionResult:
		if dm.Result != nil && dm.Result.Code == bvlcsc.ResultNAK &&
			dm.Result.RespondingFunction == bvlcsc.FunctionDisconnectRequest {
			sock.disconnectTimer.Disarm()
			sock.state = StateError
			c.ops().Disconnect(sock.handle)
			return
		}
		c.surface(sock, dm, raw)

	default:
		c.surface(sock, dm, raw)
	}
}

// surface hands a frame up to the owning component.
func (c *Context) surface(sock *Socket, dm *bvlcsc.DecodedMessage, raw []byte) {
	if c.cb.OnReceived != nil {
		c.cb.OnReceived(sock, dm, raw)
	}
}

// nak sends a RESULT NAK answering dm.
func (c *Context) nak(sock *Socket, dm *bvlcsc.DecodedMessage, code bvlcsc.ErrorCode, detail string) {
	frame, err := bvlcsc.EncodeResult(dm.Header.MessageID, nil, nil, dm.Header.Function,
		bvlcsc.ResultNAK, 0, bvlcsc.ErrorClassCommunication, code, detail)
	if err != nil {
		return
	}
	if err := sock.enqueue(frame); err != nil {
		sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
	}
}

// nakRaw answers a frame that failed to decode. The function code and
// message id are recovered from the fixed 4-octet prefix, which is always
// present here (shorter frames are dropped before this point); frames whose
// function never provokes a RESULT are dropped instead.
func (c *Context) nakRaw(sock *Socket, raw []byte, derr *bvlcsc.DecodeError) {
	fn := bvlcsc.Function(raw[0])
	switch fn {
	case bvlcsc.FunctionResult,
		bvlcsc.FunctionHeartbeatRequest, bvlcsc.FunctionHeartbeatACK,
		bvlcsc.FunctionDisconnectRequest, bvlcsc.FunctionDisconnectACK:
		return
	}
	msgID := uint16(raw[2])<<8 | uint16(raw[3])
	frame, err := bvlcsc.EncodeResult(msgID, nil, nil, fn,
		bvlcsc.ResultNAK, 0, derr.Class, derr.Code, derr.Detail)
	if err != nil {
		return
	}
	if err := sock.enqueue(frame); err != nil {
		sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
	}
}

// onHeartbeatExpired fires when a CONNECTED socket has seen no traffic for
// its heartbeat interval. The initiator probes with a HEARTBEAT_REQUEST; the
// acceptor, whose timer runs at twice the interval, concludes the peer is a
// zombie and tears the association down (spec §4.2 "Heartbeat contract").
func (c *Context) onHeartbeatExpired(sock *Socket) {
	if c.role == RoleAcceptor {
		sock.enterError(scerr.DisconnectReasonTimedOut, "heartbeat timeout")
		return
	}

	id := sock.nextMessageID()
	sock.expectHeartbeatID = id
	frame, err := bvlcsc.EncodeHeartbeatRequest(id)
	if err != nil {
		return
	}
	sock.heartbeatTimer.Arm(c.cfg.HeartbeatTimeout)
	if err := sock.enqueue(frame); err != nil {
		sock.enterError(scerr.DisconnectReasonWebSocketError, err.Error())
	}
}
