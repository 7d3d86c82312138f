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

package hubconnector_test

import (
	"sync"
	"testing"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/hubconnector"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/runloop"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scsocket"
	"github.com/bacnet-community/bsc-core/internal/testutils/faketransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ft     *faketransport.Transport
	lock   sync.Mutex
	loop   *runloop.Runloop
	hc     *hubconnector.HubConnector
	events []hubconnector.Event
}

func newHarness(t *testing.T, primary, failover string) *harness {
	t.Helper()
	vmac, err := scaddr.VMACFromBytes([]byte{0x02, 1, 2, 3, 4, 5})
	require.NoError(t, err)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)

	h := &harness{
		ft:   faketransport.New(),
		loop: runloop.New(time.Hour), // ticked manually
	}
	h.hc = hubconnector.New(hubconnector.Config{
		Socket: scsocket.Config{
			LocalVMAC:         vmac,
			LocalUUID:         uuid,
			MaxBVLCLen:        4096,
			MaxNPDULen:        4087,
			ConnectTimeout:    time.Second,
			HeartbeatTimeout:  time.Second,
			DisconnectTimeout: time.Second,
		},
		PrimaryURL:       primary,
		FailoverURL:      failover,
		ReconnectTimeout: 5 * time.Second,
	}, &h.lock, h.ft, h.loop, func(ev hubconnector.Event) {
		h.events = append(h.events, ev)
	}, nil)
	return h
}

// tick runs one manual connection-ladder step; the runloop itself is never
// started in these tests so timing stays deterministic.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.loopTick(time.Now())
}

func (h *harness) loopTick(now time.Time) {
	// The connector registered two callbacks (context tick, ladder tick);
	// calling the exported Tick-equivalents directly keeps ordering clear.
	h.hc.Tick(now)
}

// completeHandshake answers the pending CONNECT_REQUEST on the most recent
// dial with a CONNECT_ACCEPT.
func (h *harness) completeHandshake(t *testing.T) {
	t.Helper()
	handle := h.ft.LastHandle()
	h.ft.OpenClient(handle)
	frames := h.ft.Sent(handle)
	require.NotEmpty(t, frames)
	dm, derr := bvlcsc.Decode(frames[len(frames)-1])
	require.Nil(t, derr)
	require.Equal(t, bvlcsc.FunctionConnectRequest, dm.Header.Function)

	hubVMAC, err := scaddr.VMACFromBytes([]byte{0x7B, 9, 9, 9, 9, 9})
	require.NoError(t, err)
	hubUUID, err := scaddr.NewUUID()
	require.NoError(t, err)
	accept, err := bvlcsc.EncodeConnectAccept(dm.Header.MessageID, hubVMAC, hubUUID, 4096, 4087)
	require.NoError(t, err)
	h.ft.Deliver(handle, accept)
}

func TestConnectsPrimary(t *testing.T) {
	h := newHarness(t, "wss://h1/", "wss://h2/")
	require.NoError(t, h.hc.Start())
	h.tick(t)

	assert.Equal(t, []string{"wss://h1/"}, h.ft.DialedURLs())
	h.completeHandshake(t)

	assert.Equal(t, hubconnector.StateConnectedPrimary, h.hc.State())
	assert.Contains(t, h.events, hubconnector.EventConnectedPrimary)
	assert.Equal(t, netport.StateConnected, h.hc.Status(true).State)
}

func TestFailoverLadder(t *testing.T) {
	h := newHarness(t, "wss://h1/", "wss://h2/")
	require.NoError(t, h.hc.Start())
	h.tick(t)

	// Primary dial refused.
	h.ft.FailDial(h.ft.LastHandle(), "connection refused")
	assert.Equal(t, hubconnector.StateConnectingFailover, h.hc.State())
	assert.Equal(t, netport.StateFailedToConnect, h.hc.Status(true).State)

	// Failover succeeds.
	h.tick(t)
	assert.Equal(t, []string{"wss://h1/", "wss://h2/"}, h.ft.DialedURLs())
	h.completeHandshake(t)

	assert.Equal(t, hubconnector.StateConnectedFailover, h.hc.State())
	assert.Contains(t, h.events, hubconnector.EventConnectedFailover)
	assert.Equal(t, netport.StateConnected, h.hc.Status(false).State)
}

func TestBothFailuresEnterReconnectWait(t *testing.T) {
	h := newHarness(t, "wss://h1/", "wss://h2/")
	require.NoError(t, h.hc.Start())
	h.tick(t)
	h.ft.FailDial(h.ft.LastHandle(), "refused")
	h.tick(t)
	h.ft.FailDial(h.ft.LastHandle(), "refused")

	assert.Equal(t, hubconnector.StateWaitForReconnect, h.hc.State())

	// The reconnect timer has not expired yet.
	h.tick(t)
	assert.Equal(t, hubconnector.StateWaitForReconnect, h.hc.State())

	// After the timeout the ladder retries the primary.
	h.loopTick(time.Now().Add(6 * time.Second))
	assert.Equal(t, hubconnector.StateConnectingPrimary, h.hc.State())
}

func TestEmptyPrimarySkipsToReconnectWait(t *testing.T) {
	h := newHarness(t, "", "wss://h2/")
	require.NoError(t, h.hc.Start())
	h.tick(t)
	assert.Equal(t, hubconnector.StateWaitForReconnect, h.hc.State())
	assert.Empty(t, h.ft.DialedURLs())
}

func TestConnectedDropRetriesPrimary(t *testing.T) {
	h := newHarness(t, "wss://h1/", "wss://h2/")
	require.NoError(t, h.hc.Start())
	h.tick(t)
	h.completeHandshake(t)
	require.Equal(t, hubconnector.StateConnectedPrimary, h.hc.State())

	h.ft.Close(h.ft.LastHandle(), "peer went away")
	assert.Equal(t, hubconnector.StateConnectingPrimary, h.hc.State())
	assert.Contains(t, h.events, hubconnector.EventDisconnected)
	assert.Equal(t, netport.StateDisconnectedWithErrors, h.hc.Status(true).State)
}

func TestDuplicateVMACSurfaced(t *testing.T) {
	h := newHarness(t, "wss://h1/", "wss://h2/")
	require.NoError(t, h.hc.Start())
	h.tick(t)
	handle := h.ft.LastHandle()
	h.ft.OpenClient(handle)

	nak, err := bvlcsc.EncodeResult(1, nil, nil, bvlcsc.FunctionConnectRequest, bvlcsc.ResultNAK, 0,
		bvlcsc.ErrorClassCommunication, bvlcsc.ErrorCodeNodeDuplicateVMAC, "")
	require.NoError(t, err)
	h.ft.Deliver(handle, nak)
	h.ft.Close(handle, "")

	assert.Equal(t, hubconnector.StateDuplicatedVMAC, h.hc.State())
	assert.Contains(t, h.events, hubconnector.EventDuplicatedVMAC)
}

func TestSendRequiresConnection(t *testing.T) {
	h := newHarness(t, "wss://h1/", "")
	require.NoError(t, h.hc.Start())
	err := h.hc.Send([]byte{0x01, 0x00, 0x00, 0x01})
	assert.Error(t, err)
}
