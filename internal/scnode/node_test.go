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

package scnode_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scnode"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
	"github.com/bacnet-community/bsc-core/internal/testutils/faketransport"
	"github.com/bacnet-community/bsc-core/internal/testutils/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nodeHarness struct {
	ft   *faketransport.Transport
	node *scnode.Node

	mu       sync.Mutex
	events   []scnode.Event
	received [][]byte
}

func baseConfig(t *testing.T) netport.Config {
	t.Helper()
	vmac, err := scaddr.VMACFromBytes([]byte{0x02, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)
	return netport.Config{
		LocalVMAC:             vmac,
		LocalUUID:             uuid,
		PrimaryHubURI:         "wss://hub1.example.org:4443",
		FailoverHubURI:        "wss://hub2.example.org:4443",
		ConnectWaitTimeout:    time.Second,
		HeartbeatTimeout:      10 * time.Second,
		DisconnectWaitTimeout: time.Second,
		MaximumReconnectTime:  5 * time.Second,
	}
}

func newNode(t *testing.T, cfg netport.Config) *nodeHarness {
	t.Helper()
	h := &nodeHarness{ft: faketransport.New()}
	node, err := scnode.New(cfg, scnode.Transports{
		Client:       h.ft,
		HubServer:    h.ft,
		DirectServer: h.ft,
	}, func(ev scnode.Event, _ scaddr.VMAC) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	}, func(raw []byte) {
		h.mu.Lock()
		h.received = append(h.received, append([]byte(nil), raw...))
		h.mu.Unlock()
	})
	require.NoError(t, err)
	h.node = node
	require.NoError(t, node.Start())
	t.Cleanup(node.Stop)
	return h
}

// attachHub waits for the runloop-driven primary dial and completes the SC
// handshake, returning the hub-side handle.
func (h *nodeHarness) attachHub(t *testing.T) sctransport.Handle {
	t.Helper()
	retry.Retry(t, 50, 20*time.Millisecond, func(r *retry.R) {
		if len(h.ft.DialedURLs()) == 0 {
			r.Errorf("no dial attempt yet")
		}
	})

	handle := h.ft.LastHandle()
	h.ft.OpenClient(handle)
	frames := h.ft.Sent(handle)
	require.NotEmpty(t, frames)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionConnectRequest, dm.Header.Function)

	hubVMAC, err := scaddr.VMACFromBytes([]byte{0x7A, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	hubUUID, err := scaddr.NewUUID()
	require.NoError(t, err)
	accept, err := bvlcsc.EncodeConnectAccept(dm.Header.MessageID, hubVMAC, hubUUID, 4096, 4087)
	require.NoError(t, err)
	h.ft.Deliver(handle, accept)
	return handle
}

func TestNodeStartReportsStartedAndAddress(t *testing.T) {
	h := newNode(t, baseConfig(t))

	assert.Equal(t, scnode.StateStarted, h.node.State())
	vmac, ok := h.node.LocalVMAC()
	assert.True(t, ok)
	assert.False(t, vmac.IsZero())
	assert.Contains(t, h.events, scnode.EventStarted)
}

func TestAdvertisementSolicitationAnswered(t *testing.T) {
	h := newNode(t, baseConfig(t))
	handle := h.attachHub(t)
	before := len(h.ft.Sent(handle))

	origin, err := scaddr.VMACFromBytes([]byte{0x33, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	sol, err := bvlcsc.EncodeAdvertisementSolicitation(500, &origin, nil)
	require.NoError(t, err)
	h.ft.Deliver(handle, sol)

	frames := h.ft.Sent(handle)
	require.Greater(t, len(frames), before)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionAdvertisement, dm.Header.Function)
	require.NotNil(t, dm.Header.Dest)
	assert.Equal(t, origin, *dm.Header.Dest)
	require.NotNil(t, dm.Advertisement)
	assert.Equal(t, bvlcsc.HubConnectorStateConnectedPrimary, dm.Advertisement.HubStatus)
	assert.Equal(t, bvlcsc.DirectConnectionUnsupported, dm.Advertisement.Support)
}

func TestAddressResolutionNAKWhenDirectAcceptDisabled(t *testing.T) {
	h := newNode(t, baseConfig(t))
	handle := h.attachHub(t)

	origin, err := scaddr.VMACFromBytes([]byte{0x44, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	ar, err := bvlcsc.EncodeAddressResolution(600, &origin, nil)
	require.NoError(t, err)
	h.ft.Deliver(handle, ar)

	frames := h.ft.Sent(handle)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ResultNAK, dm.Result.Code)
	assert.Equal(t, bvlcsc.ErrorCodeOptionalFunctionalityNotSupported, dm.Result.ErrorCode)
	assert.Equal(t, uint16(600), dm.Header.MessageID)
}

func TestAddressResolutionAnsweredWhenAcceptEnabled(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DirectConnectAcceptEnabled = true
	cfg.DirectConnectBindAddr = "127.0.0.1:4444"
	cfg.DirectConnectAcceptURIs = []string{"wss://me.example.org:4444/"}
	h := newNode(t, cfg)
	handle := h.attachHub(t)

	origin, err := scaddr.VMACFromBytes([]byte{0x44, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	ar, err := bvlcsc.EncodeAddressResolution(601, &origin, nil)
	require.NoError(t, err)
	h.ft.Deliver(handle, ar)

	frames := h.ft.Sent(handle)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionAddressResolutionACK, dm.Header.Function)
	require.NotNil(t, dm.AddressResolutionAck)
	assert.Equal(t, "wss://me.example.org:4444/", dm.AddressResolutionAck.WebSocketURIs)
}

func TestAddressResolutionAckDrivesDirectConnect(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DirectConnectInitiateEnabled = true
	h := newNode(t, cfg)
	handle := h.attachHub(t)
	dialsBefore := len(h.ft.DialedURLs())

	peerB, err := scaddr.VMACFromBytes([]byte{0x66, 0, 0, 0, 0, 2})
	require.NoError(t, err)

	// No cached URIs: the node must ask over the hub.
	require.NoError(t, h.node.ConnectDirect(&peerB, nil))
	h.ft.Pump()
	frames := h.ft.Sent(handle)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionAddressResolution, dm.Header.Function)
	require.NotNil(t, dm.Header.Dest)
	assert.Equal(t, peerB, *dm.Header.Dest)

	// B answers with its direct URI; the switch starts dialing it.
	ack, err := bvlcsc.EncodeAddressResolutionAck(dm.Header.MessageID, &peerB, nil, "wss://b.example.org:4443/")
	require.NoError(t, err)
	h.ft.Deliver(handle, ack)

	dials := h.ft.DialedURLs()
	require.Len(t, dials, dialsBefore+1)
	assert.Equal(t, "wss://b.example.org:4443/", dials[len(dials)-1])
}

func TestEncapsulatedNPDUDeliveredUpward(t *testing.T) {
	h := newNode(t, baseConfig(t))
	handle := h.attachHub(t)

	origin, err := scaddr.VMACFromBytes([]byte{0x55, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	frame, err := bvlcsc.EncodeEncapsulatedNPDU(700, &origin, nil, []byte{0xDE, 0xAD})
	require.NoError(t, err)
	h.ft.Deliver(handle, frame)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.received, 1)
	dm, derr := bvlcsc.Decode(h.received[0])
	require.Nil(t, derr)
	assert.Equal(t, []byte{0xDE, 0xAD}, dm.EncapsulatedNPDU.NPDU)
}

func TestDuplicateVMACRestart(t *testing.T) {
	h := newNode(t, baseConfig(t))
	handle := h.attachHub(t)

	oldVMAC, ok := h.node.LocalVMAC()
	require.True(t, ok)

	nak, err := bvlcsc.EncodeResult(1, nil, nil, bvlcsc.FunctionConnectRequest, bvlcsc.ResultNAK, 0,
		bvlcsc.ErrorClassCommunication, bvlcsc.ErrorCodeNodeDuplicateVMAC, "duplicate")
	require.NoError(t, err)
	h.ft.Deliver(handle, nak)
	h.ft.Close(handle, "closed by hub")

	retry.Retry(t, 100, 20*time.Millisecond, func(r *retry.R) {
		h.mu.Lock()
		restarted := false
		for _, ev := range h.events {
			if ev == scnode.EventRestarted {
				restarted = true
			}
		}
		h.mu.Unlock()
		if !restarted {
			r.Errorf("node has not restarted yet")
		}
	})

	newVMAC, ok := h.node.LocalVMAC()
	require.True(t, ok)
	assert.NotEqual(t, oldVMAC, newVMAC)
	assert.Equal(t, scnode.StateStarted, h.node.State())
}

func TestTelemetrySnapshot(t *testing.T) {
	h := newNode(t, baseConfig(t))
	h.attachHub(t)

	tel := h.node.Telemetry()
	assert.Equal(t, "CONNECTED_PRIMARY", tel.HubConnectorState)
	assert.Equal(t, netport.StateConnected, tel.HubPrimary.State)
	assert.False(t, tel.HubPrimary.ConnectTimestamp.IsZero())
}
