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

package hubfunction_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/hubfunction"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/runloop"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scsocket"
	"github.com/bacnet-community/bsc-core/internal/sctransport"
	"github.com/bacnet-community/bsc-core/internal/testutils/faketransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHub(t *testing.T) (*hubfunction.HubFunction, *faketransport.Transport, *[]hubfunction.Event) {
	t.Helper()
	vmac, err := scaddr.VMACFromBytes([]byte{0x0A, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)

	ft := faketransport.New()
	var lock sync.Mutex
	events := &[]hubfunction.Event{}
	hf := hubfunction.New(hubfunction.Config{
		Socket: scsocket.Config{
			BindAddr:          "127.0.0.1:4443",
			LocalVMAC:         vmac,
			LocalUUID:         uuid,
			MaxBVLCLen:        4096,
			MaxNPDULen:        4087,
			ConnectTimeout:    time.Second,
			HeartbeatTimeout:  time.Second,
			DisconnectTimeout: time.Second,
		},
	}, &lock, ft, runloop.New(time.Hour), func(ev hubfunction.Event) {
		*events = append(*events, ev)
	})
	require.NoError(t, hf.Start())
	return hf, ft, events
}

func attachPeer(t *testing.T, ft *faketransport.Transport, vmacByte byte) (sctransport.Handle, scaddr.VMAC) {
	t.Helper()
	vmac, err := scaddr.VMACFromBytes([]byte{vmacByte, 0, 0, 0, 0, 0x10})
	require.NoError(t, err)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)

	h := ft.AcceptPeer("192.0.2.1:40000")
	req, err := bvlcsc.EncodeConnectRequest(1, vmac, uuid, 4096, 4087)
	require.NoError(t, err)
	ft.Deliver(h, req)

	dm, derr := bvlcsc.Decode(ft.Sent(h)[0])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionConnectAccept, dm.Header.Function)
	return h, vmac
}

func TestBroadcastForward(t *testing.T) {
	_, ft, _ := newHub(t)

	h1, vmac1 := attachPeer(t, ft, 0xB1)
	h2, _ := attachPeer(t, ft, 0xB2)
	h3, _ := attachPeer(t, ft, 0xB3)

	payload := []byte{0xAA, 0xBB}
	frame, err := bvlcsc.EncodeEncapsulatedNPDU(9, nil, &scaddr.BroadcastVMAC, payload)
	require.NoError(t, err)
	ft.Deliver(h1, frame)

	for _, h := range []sctransport.Handle{h2, h3} {
		frames := ft.Sent(h)
		require.Len(t, frames, 2, "peer should have accept + one forwarded frame")
		dm, derr := bvlcsc.Decode(frames[1])
		require.Nil(t, derr)
		require.Equal(t, bvlcsc.FunctionEncapsulatedNPDU, dm.Header.Function)
		require.NotNil(t, dm.Header.Origin)
		assert.Equal(t, vmac1, *dm.Header.Origin)
		assert.Equal(t, payload, dm.EncapsulatedNPDU.NPDU)
	}

	// The sender did not receive its own broadcast back.
	assert.Len(t, ft.Sent(h1), 1)
}

func TestUnicastForwardStripsDest(t *testing.T) {
	_, ft, _ := newHub(t)

	h1, vmac1 := attachPeer(t, ft, 0xB1)
	h2, vmac2 := attachPeer(t, ft, 0xB2)

	frame, err := bvlcsc.EncodeEncapsulatedNPDU(9, nil, &vmac2, []byte{0x42})
	require.NoError(t, err)
	ft.Deliver(h1, frame)

	frames := ft.Sent(h2)
	require.Len(t, frames, 2)
	dm, derr := bvlcsc.Decode(frames[1])
	require.Nil(t, derr)
	require.NotNil(t, dm.Header.Origin)
	assert.Equal(t, vmac1, *dm.Header.Origin)
	assert.Nil(t, dm.Header.Dest)
	assert.Len(t, ft.Sent(h1), 1, "unicast is not echoed to the sender")
}

func TestUnicastToUnknownPeerDropped(t *testing.T) {
	_, ft, _ := newHub(t)

	h1, _ := attachPeer(t, ft, 0xB1)
	h2, _ := attachPeer(t, ft, 0xB2)

	unknown, err := scaddr.VMACFromBytes([]byte{0xEE, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	frame, err := bvlcsc.EncodeEncapsulatedNPDU(9, nil, &unknown, []byte{0x42})
	require.NoError(t, err)
	ft.Deliver(h1, frame)

	assert.Len(t, ft.Sent(h1), 1)
	assert.Len(t, ft.Sent(h2), 1)
}

func TestStatusesTrackPeers(t *testing.T) {
	hf, ft, _ := newHub(t)

	_, vmac1 := attachPeer(t, ft, 0xB1)

	statuses := hf.Statuses()
	require.NotEmpty(t, statuses)
	assert.Equal(t, netport.StateConnected, statuses[0].State)
	assert.Equal(t, vmac1, statuses[0].PeerVMAC)
	assert.Equal(t, "192.0.2.1", statuses[0].PeerAddress.Host)
}
