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

package scsocket_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scerr"
	"github.com/bacnet-community/bsc-core/internal/scsocket"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
	"github.com/bacnet-community/bsc-core/internal/testutils/faketransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, vmacByte byte) scsocket.Config {
	t.Helper()
	vmac, err := scaddr.VMACFromBytes([]byte{vmacByte, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)
	return scsocket.Config{
		Kind:              scsocket.KindHub,
		LocalVMAC:         vmac,
		LocalUUID:         uuid,
		MaxBVLCLen:        4096,
		MaxNPDULen:        4087,
		ConnectTimeout:    time.Second,
		HeartbeatTimeout:  time.Second,
		DisconnectTimeout: time.Second,
	}
}

type recorder struct {
	mu           sync.Mutex
	connected    []int
	disconnected []int
	reasons      []scerr.DisconnectReason
	received     []*bvlcsc.DecodedMessage
}

func (r *recorder) callbacks() scsocket.EventCallbacks {
	return scsocket.EventCallbacks{
		OnConnected: func(s *scsocket.Socket) {
			r.connected = append(r.connected, s.Index())
		},
		OnDisconnected: func(s *scsocket.Socket) {
			r.disconnected = append(r.disconnected, s.Index())
			reason, _ := s.DisconnectReason()
			r.reasons = append(r.reasons, reason)
		},
		OnReceived: func(_ *scsocket.Socket, dm *bvlcsc.DecodedMessage, _ []byte) {
			r.received = append(r.received, dm)
		},
	}
}

// driveInitiatorToConnected walks socket 0 through the full initiator
// handshake and returns the peer identity the fake hub answered with.
func driveInitiatorToConnected(t *testing.T, ft *faketransport.Transport, ctx *scsocket.Context) (scaddr.VMAC, scaddr.UUID) {
	t.Helper()
	require.NoError(t, ctx.Connect(0, "wss://hub.example.org:4443"))
	h := ft.LastHandle()
	ft.OpenClient(h)

	frames := ft.Sent(h)
	require.Len(t, frames, 1)
	dm, derr := bvlcsc.Decode(frames[0])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionConnectRequest, dm.Header.Function)

	peerVMAC, err := scaddr.VMACFromBytes([]byte{0xBB, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	peerUUID, err := scaddr.NewUUID()
	require.NoError(t, err)
	accept, err := bvlcsc.EncodeConnectAccept(dm.Header.MessageID, peerVMAC, peerUUID, 1440, 1400)
	require.NoError(t, err)
	ft.Deliver(h, accept)
	return peerVMAC, peerUUID
}

func TestInitiatorHandshake(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())

	peerVMAC, peerUUID := driveInitiatorToConnected(t, ft, ctx)

	sock := ctx.Socket(0)
	assert.Equal(t, scsocket.StateConnected, sock.State())
	gotVMAC, ok := sock.PeerVMAC()
	require.True(t, ok)
	assert.Equal(t, peerVMAC, gotVMAC)
	gotUUID, _ := sock.PeerUUID()
	assert.Equal(t, peerUUID, gotUUID)
	maxBVLC, maxNPDU := sock.Caps()
	assert.Equal(t, uint16(1440), maxBVLC)
	assert.Equal(t, uint16(1400), maxNPDU)
	assert.Equal(t, []int{0}, rec.connected)
}

func TestInitiatorConnectAcceptIDMismatchIgnored(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	require.NoError(t, ctx.Connect(0, "wss://hub.example.org:4443"))
	h := ft.LastHandle()
	ft.OpenClient(h)

	dm, derr := bvlcsc.Decode(ft.Sent(h)[0])
	require.Nil(t, derr)

	peerVMAC, _ := scaddr.VMACFromBytes([]byte{0xBB, 1, 2, 3, 4, 5})
	peerUUID, _ := scaddr.NewUUID()
	accept, err := bvlcsc.EncodeConnectAccept(dm.Header.MessageID+1, peerVMAC, peerUUID, 1440, 1400)
	require.NoError(t, err)
	ft.Deliver(h, accept)

	assert.Equal(t, scsocket.StateAwaitingAccept, ctx.Socket(0).State())
	assert.Empty(t, rec.connected)
}

func TestInitiatorDuplicateVMACNAK(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	require.NoError(t, ctx.Connect(0, "wss://hub.example.org:4443"))
	h := ft.LastHandle()
	ft.OpenClient(h)

	nak, err := bvlcsc.EncodeResult(1, nil, nil, bvlcsc.FunctionConnectRequest, bvlcsc.ResultNAK, 0,
		bvlcsc.ErrorClassCommunication, bvlcsc.ErrorCodeNodeDuplicateVMAC, "duplicate VMAC")
	require.NoError(t, err)
	ft.Deliver(h, nak)

	assert.True(t, ft.Disconnected(h))
	ft.Close(h, "closed")
	assert.Equal(t, []int{0}, rec.disconnected)
	require.Len(t, rec.reasons, 1)
	assert.Equal(t, scerr.DisconnectReasonDuplicatedVMAC, rec.reasons[0])
	assert.Equal(t, scsocket.StateIdle, ctx.Socket(0).State())
}

func TestHeartbeatRequestAnswered(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	driveInitiatorToConnected(t, ft, ctx)
	h := ft.LastHandle()

	hb, err := bvlcsc.EncodeHeartbeatRequest(0x1234)
	require.NoError(t, err)
	ft.Deliver(h, hb)

	last := ft.LastSent(h)
	require.NotNil(t, last)
	dm, derr := bvlcsc.Decode(last)
	require.Nil(t, derr)
	assert.Equal(t, bvlcsc.FunctionHeartbeatACK, dm.Header.Function)
	assert.Equal(t, uint16(0x1234), dm.Header.MessageID)
	assert.Equal(t, scsocket.StateConnected, ctx.Socket(0).State())
}

func TestHeartbeatAckMismatchDoesNotTearDown(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	driveInitiatorToConnected(t, ft, ctx)
	h := ft.LastHandle()

	ack, err := bvlcsc.EncodeHeartbeatAck(0x9999)
	require.NoError(t, err)
	ft.Deliver(h, ack)

	assert.Equal(t, scsocket.StateConnected, ctx.Socket(0).State())
	assert.Empty(t, rec.disconnected)
}

func TestGracefulDisconnect(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	driveInitiatorToConnected(t, ft, ctx)
	h := ft.LastHandle()

	require.NoError(t, ctx.Disconnect(0))
	ft.Pump()

	last := ft.LastSent(h)
	dm, derr := bvlcsc.Decode(last)
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionDisconnectRequest, dm.Header.Function)
	assert.Equal(t, scsocket.StateDisconnecting, ctx.Socket(0).State())

	ackFrame, err := bvlcsc.EncodeDisconnectAck(dm.Header.MessageID)
	require.NoError(t, err)
	ft.Deliver(h, ackFrame)

	assert.True(t, ft.Disconnected(h))
	ft.Close(h, "")
	assert.Equal(t, scsocket.StateIdle, ctx.Socket(0).State())

	// The local-initiated disconnect is reported upward exactly once, for slot 0.
	require.Equal(t, []int{0}, rec.disconnected)
}

func TestPeerDisconnectRequestAcked(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	ctx := scsocket.NewInitiatorContext("test", testConfig(t, 0xAA), 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	driveInitiatorToConnected(t, ft, ctx)
	h := ft.LastHandle()

	req, err := bvlcsc.EncodeDisconnectRequest(0x4242)
	require.NoError(t, err)
	ft.Deliver(h, req)

	last := ft.LastSent(h)
	dm, derr := bvlcsc.Decode(last)
	require.Nil(t, derr)
	assert.Equal(t, bvlcsc.FunctionDisconnectACK, dm.Header.Function)
	assert.Equal(t, uint16(0x4242), dm.Header.MessageID)
	assert.True(t, ft.Disconnected(h))
}

func acceptorContext(t *testing.T, ft *faketransport.Transport, rec *recorder) *scsocket.Context {
	t.Helper()
	var lock sync.Mutex
	ctx := scsocket.NewAcceptorContext("test-acceptor", testConfig(t, 0xAA), 4, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	return ctx
}

func connectPeer(t *testing.T, ft *faketransport.Transport, vmacByte byte, uuid scaddr.UUID) (sctransport.Handle, scaddr.VMAC) {
	t.Helper()
	vmac, err := scaddr.VMACFromBytes([]byte{vmacByte, 9, 9, 9, 9, 9})
	require.NoError(t, err)
	h := ft.AcceptPeer("192.0.2.10:50000")
	req, err := bvlcsc.EncodeConnectRequest(100, vmac, uuid, 1440, 1400)
	require.NoError(t, err)
	ft.Deliver(h, req)
	return h, vmac
}

func TestAcceptorHandshake(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	acceptorContext(t, ft, rec)

	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)
	h, _ := connectPeer(t, ft, 0xC1, uuid)

	frames := ft.Sent(h)
	require.Len(t, frames, 1)
	dm, derr := bvlcsc.Decode(frames[0])
	require.Nil(t, derr)
	assert.Equal(t, bvlcsc.FunctionConnectAccept, dm.Header.Function)
	assert.Equal(t, uint16(100), dm.Header.MessageID)
	assert.Len(t, rec.connected, 1)
}

func TestAcceptorRejectsDuplicateVMACDifferentUUID(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	acceptorContext(t, ft, rec)

	uuid1, _ := scaddr.NewUUID()
	connectPeer(t, ft, 0xC1, uuid1)

	uuid2, _ := scaddr.NewUUID()
	h2, _ := connectPeer(t, ft, 0xC1, uuid2)

	frames := ft.Sent(h2)
	require.Len(t, frames, 1)
	dm, derr := bvlcsc.Decode(frames[0])
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ResultNAK, dm.Result.Code)
	assert.Equal(t, bvlcsc.ErrorCodeNodeDuplicateVMAC, dm.Result.ErrorCode)
}

func TestAcceptorSameUUIDTakesOverOldSocket(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	ctx := acceptorContext(t, ft, rec)

	uuid, _ := scaddr.NewUUID()
	h1, _ := connectPeer(t, ft, 0xC1, uuid)

	h2, _ := connectPeer(t, ft, 0xC1, uuid)

	// New socket got CONNECT_ACCEPT.
	dm, derr := bvlcsc.Decode(ft.Sent(h2)[0])
	require.Nil(t, derr)
	assert.Equal(t, bvlcsc.FunctionConnectAccept, dm.Header.Function)

	// Old socket was pushed through the disconnect handshake.
	old := ft.Sent(h1)
	require.GreaterOrEqual(t, len(old), 2)
	dm, derr = bvlcsc.Decode(old[len(old)-1])
	require.Nil(t, derr)
	assert.Equal(t, bvlcsc.FunctionDisconnectRequest, dm.Header.Function)
	assert.Equal(t, scsocket.StateDisconnecting, ctx.Socket(0).State())
}

func TestAcceptorRejectsImpostorOfLocalVMAC(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	acceptorContext(t, ft, rec)

	// Peer claims the acceptor's own VMAC (0xAA...).
	vmac, err := scaddr.VMACFromBytes([]byte{0xAA, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	uuid, _ := scaddr.NewUUID()
	h := ft.AcceptPeer("192.0.2.20:50001")
	req, err := bvlcsc.EncodeConnectRequest(7, vmac, uuid, 1440, 1400)
	require.NoError(t, err)
	ft.Deliver(h, req)

	dm, derr := bvlcsc.Decode(ft.Sent(h)[0])
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ErrorCodeNodeDuplicateVMAC, dm.Result.ErrorCode)
}

func TestHubFunctionFramingRuleNAK(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	acceptorContext(t, ft, rec)

	uuid, _ := scaddr.NewUUID()
	h, vmac := connectPeer(t, ft, 0xC1, uuid)

	// An NPDU at a hub-kind acceptor must carry a dest and no origin; this
	// one carries an origin instead.
	bad, err := bvlcsc.EncodeEncapsulatedNPDU(55, &vmac, nil, []byte{0x01})
	require.NoError(t, err)
	ft.Deliver(h, bad)

	last := ft.LastSent(h)
	dm, derr := bvlcsc.Decode(last)
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ResultNAK, dm.Result.Code)
	assert.Equal(t, bvlcsc.ErrorCodeHeaderEncodingError, dm.Result.ErrorCode)
	assert.Empty(t, rec.received)
}

func TestUnknownMustUnderstandOptionNAK(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	acceptorContext(t, ft, rec)

	uuid, _ := scaddr.NewUUID()
	h, _ := connectPeer(t, ft, 0xC1, uuid)

	dest, _ := scaddr.VMACFromBytes([]byte{1, 2, 3, 4, 5, 6})
	hdr := bvlcsc.Header{
		Function:  bvlcsc.FunctionEncapsulatedNPDU,
		MessageID: 77,
		Dest:      &dest,
		DestOptions: []bvlcsc.HeaderOption{
			{Type: 7, MustUnderstand: true},
		},
	}
	frame, err := bvlcsc.EncodeMessage(hdr, []byte{0x01})
	require.NoError(t, err)
	ft.Deliver(h, frame)

	last := ft.LastSent(h)
	dm, derr := bvlcsc.Decode(last)
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ErrorCodeHeaderNotUnderstood, dm.Result.ErrorCode)
	assert.Empty(t, rec.received)
}

func TestInitiatorHeartbeatProbeOnIdle(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	cfg := testConfig(t, 0xAA)
	cfg.HeartbeatTimeout = 10 * time.Millisecond
	ctx := scsocket.NewInitiatorContext("test", cfg, 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	driveInitiatorToConnected(t, ft, ctx)
	h := ft.LastHandle()
	before := len(ft.Sent(h))

	// No traffic for a full heartbeat interval: the initiator probes.
	time.Sleep(20 * time.Millisecond)
	ctx.Tick(time.Now())
	ft.Pump()

	frames := ft.Sent(h)
	require.Len(t, frames, before+1)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionHeartbeatRequest, dm.Header.Function)

	// The matching ack keeps the socket alive.
	ack, err := bvlcsc.EncodeHeartbeatAck(dm.Header.MessageID)
	require.NoError(t, err)
	ft.Deliver(h, ack)
	assert.Equal(t, scsocket.StateConnected, ctx.Socket(0).State())
}

func TestAcceptorHeartbeatExpiryTearsDown(t *testing.T) {
	ft := faketransport.New()
	rec := &recorder{}
	var lock sync.Mutex
	cfg := testConfig(t, 0xAA)
	cfg.HeartbeatTimeout = 5 * time.Millisecond
	ctx := scsocket.NewAcceptorContext("test-acceptor", cfg, 4, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())

	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)
	h, _ := connectPeer(t, ft, 0xC1, uuid)

	// The acceptor waits out twice the heartbeat interval, then declares
	// the silent peer a zombie.
	time.Sleep(20 * time.Millisecond)
	ctx.Tick(time.Now())
	assert.True(t, ft.Disconnected(h))
}

func TestConnectTimeoutFailsSocket(t *testing.T) {
	ft := faketransport.New()
	var lock sync.Mutex
	rec := &recorder{}
	cfg := testConfig(t, 0xAA)
	cfg.ConnectTimeout = time.Millisecond
	ctx := scsocket.NewInitiatorContext("test", cfg, 1, &lock, ft, rec.callbacks())
	require.NoError(t, ctx.Init())
	require.NoError(t, ctx.Connect(0, "wss://hub.example.org:4443"))

	time.Sleep(5 * time.Millisecond)
	ctx.Tick(time.Now())

	h := ft.LastHandle()
	assert.True(t, ft.Disconnected(h))
}
