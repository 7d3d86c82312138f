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

package netport_test

import (
	"testing"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVMAC(t *testing.T) scaddr.VMAC {
	t.Helper()
	v, err := scaddr.VMACFromBytes([]byte{0x02, 0xAB, 0xCD, 0xEF, 0x01, 0x23})
	require.NoError(t, err)
	return v
}

func testUUID(t *testing.T) scaddr.UUID {
	t.Helper()
	u, err := scaddr.NewUUID()
	require.NoError(t, err)
	return u
}

// BACnet timestamps carry hundredths of a second, so round-trip values are
// built at that granularity.
func testStamp(secOffset int) time.Time {
	return time.Date(2026, time.July, 14, 9, 30, secOffset, 250_000_000, time.UTC)
}

func TestHubConnectionStatusRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   netport.HubConnectionStatus
	}{
		{
			"connected no error fields",
			netport.HubConnectionStatus{
				State:            netport.StateConnected,
				ConnectTimestamp: testStamp(1),
			},
		},
		{
			"failed with error and details",
			netport.HubConnectionStatus{
				State:               netport.StateFailedToConnect,
				ConnectTimestamp:    testStamp(1),
				DisconnectTimestamp: testStamp(2),
				Error:               bvlcsc.ErrorCodeWebSocketError,
				ErrorDetails:        "dial tcp: connection refused",
			},
		},
		{
			"never connected wildcard timestamps",
			netport.HubConnectionStatus{State: netport.StateNotConnected},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.in.Encode(nil)
			assert.Equal(t, tt.in.EncodedLen(), len(buf))

			got, n := netport.DecodeHubConnectionStatus(buf)
			require.Equal(t, len(buf), n)
			if diff := cmp.Diff(tt.in, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}

			// Two encodes of the same value are byte-equal.
			assert.Equal(t, buf, tt.in.Encode(nil))
		})
	}
}

func TestHubConnectionStatusContextRoundTrip(t *testing.T) {
	in := netport.HubConnectionStatus{
		State:            netport.StateConnected,
		ConnectTimestamp: testStamp(5),
	}
	buf := in.EncodeContext(nil, 3)
	got, n := netport.DecodeContextHubConnectionStatus(buf, 3)
	require.Equal(t, len(buf), n)
	assert.Equal(t, in, got)

	// Wrong wrapper tag is rejected.
	_, n = netport.DecodeContextHubConnectionStatus(buf, 4)
	assert.Equal(t, -1, n)
}

func TestHubFunctionConnectionStatusRoundTrip(t *testing.T) {
	in := netport.HubFunctionConnectionStatus{
		State:            netport.StateConnected,
		ConnectTimestamp: testStamp(1),
		PeerAddress:      scaddr.HostNPort{Type: scaddr.HostNPortIP, Host: "192.0.2.7", Port: 47808},
		PeerVMAC:         testVMAC(t),
		PeerUUID:         testUUID(t),
	}
	buf := in.Encode(nil)
	assert.Equal(t, in.EncodedLen(), len(buf))

	got, n := netport.DecodeHubFunctionConnectionStatus(buf)
	require.Equal(t, len(buf), n)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHubFunctionConnectionStatusHostnamePeer(t *testing.T) {
	in := netport.HubFunctionConnectionStatus{
		State:               netport.StateDisconnectedWithErrors,
		ConnectTimestamp:    testStamp(1),
		DisconnectTimestamp: testStamp(9),
		PeerAddress:         scaddr.HostNPort{Type: scaddr.HostNPortHostname, Host: "peer.example.org", Port: 4443},
		PeerVMAC:            testVMAC(t),
		PeerUUID:            testUUID(t),
		Error:               bvlcsc.ErrorCodeWebSocketClosedByPeer,
		ErrorDetails:        "going away",
	}
	buf := in.Encode(nil)
	got, n := netport.DecodeHubFunctionConnectionStatus(buf)
	require.Equal(t, len(buf), n)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedConnectionRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   netport.FailedConnectionRequest
	}{
		{
			"full record",
			netport.FailedConnectionRequest{
				Timestamp:    testStamp(3),
				PeerAddress:  scaddr.HostNPort{Type: scaddr.HostNPortIP, Host: "198.51.100.9", Port: 50000},
				PeerVMAC:     testVMAC(t),
				PeerUUID:     testUUID(t),
				Error:        bvlcsc.ErrorCodeNodeDuplicateVMAC,
				ErrorDetails: "duplicate VMAC",
			},
		},
		{
			"optional identity absent",
			netport.FailedConnectionRequest{
				Timestamp:   testStamp(3),
				PeerAddress: scaddr.HostNPort{Type: scaddr.HostNPortIP, Host: "198.51.100.9", Port: 50000},
				Error:       bvlcsc.ErrorCodeWebSocketClosedAbnormally,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.in.Encode(nil)
			assert.Equal(t, tt.in.EncodedLen(), len(buf))

			got, n := netport.DecodeFailedConnectionRequest(buf)
			require.Equal(t, len(buf), n)
			if diff := cmp.Diff(tt.in, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailedConnectionRequestContextRoundTrip(t *testing.T) {
	in := netport.FailedConnectionRequest{
		Timestamp:   testStamp(3),
		PeerAddress: scaddr.HostNPort{Type: scaddr.HostNPortHostname, Host: "peer", Port: 1},
		Error:       bvlcsc.ErrorCodeOther,
	}
	buf := in.EncodeContext(nil, 0)
	got, n := netport.DecodeContextFailedConnectionRequest(buf, 0)
	require.Equal(t, len(buf), n)
	assert.Equal(t, in, got)
}

func TestDirectConnectionStatusRoundTrip(t *testing.T) {
	in := netport.DirectConnectionStatus{
		URI:              "wss://b.example.org:4443/",
		State:            netport.StateConnected,
		ConnectTimestamp: testStamp(2),
		PeerAddress:      scaddr.HostNPort{Type: scaddr.HostNPortIP, Host: "203.0.113.5", Port: 4443},
		PeerVMAC:         testVMAC(t),
		PeerUUID:         testUUID(t),
	}
	buf := in.Encode(nil)
	assert.Equal(t, in.EncodedLen(), len(buf))

	got, n := netport.DecodeDirectConnectionStatus(buf)
	require.Equal(t, len(buf), n)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDirectConnectionStatusMinimalRoundTrip(t *testing.T) {
	in := netport.DirectConnectionStatus{
		URI:   "wss://b/",
		State: netport.StateNotConnected,
	}
	buf := in.Encode(nil)
	got, n := netport.DecodeDirectConnectionStatus(buf)
	require.Equal(t, len(buf), n)
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStringifyNonEmpty(t *testing.T) {
	hub := netport.HubConnectionStatus{State: netport.StateFailedToConnect, Error: 1, ErrorDetails: "x"}
	assert.Contains(t, hub.String(), "FAILED_TO_CONNECT")

	direct := netport.DirectConnectionStatus{URI: "wss://b/", State: netport.StateConnected}
	assert.Contains(t, direct.String(), "wss://b/")

	failed := netport.FailedConnectionRequest{Error: 5}
	assert.Contains(t, failed.String(), "5")
}

func TestDecodeRejectsTruncated(t *testing.T) {
	in := netport.HubConnectionStatus{State: netport.StateConnected, ConnectTimestamp: testStamp(1)}
	buf := in.Encode(nil)
	for i := 1; i < len(buf)-1; i++ {
		_, n := netport.DecodeHubConnectionStatus(buf[:i])
		assert.Equal(t, -1, n, "truncation at %d should fail", i)
	}
}

func TestFailedRequestLogOverwritesOldest(t *testing.T) {
	log := netport.NewFailedRequestLog(3)
	for i := 0; i < 5; i++ {
		log.Add(netport.FailedConnectionRequest{
			Timestamp: testStamp(i),
			Error:     bvlcsc.ErrorCode(i),
		})
	}
	entries := log.Entries()
	require.Len(t, entries, 3)
	// Oldest-first, records 2..4 survive.
	assert.Equal(t, bvlcsc.ErrorCode(2), entries[0].Error)
	assert.Equal(t, bvlcsc.ErrorCode(4), entries[2].Error)
}

func TestConfigNormalizeDefaults(t *testing.T) {
	var cfg netport.Config
	cfg.ConnectWaitTimeout = 7 * time.Second
	cfg.Normalize()

	assert.Equal(t, 7*time.Second, cfg.AddressResolutionTimeout)
	assert.Equal(t, 7*time.Second, cfg.AddressResolutionFreshness)
	assert.Equal(t, 300*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, uint16(4096), cfg.MaxBVLCLenAccepted)
}

func TestConfigValidate(t *testing.T) {
	cfg := netport.Config{}
	cfg.Normalize()
	assert.Error(t, cfg.Validate(), "zero VMAC must be rejected")

	vmac, err := scaddr.VMACFromBytes([]byte{2, 2, 2, 2, 2, 2})
	require.NoError(t, err)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)
	cfg.LocalVMAC = vmac
	cfg.LocalUUID = uuid
	assert.NoError(t, cfg.Validate())

	cfg.HubFunctionEnabled = true
	assert.Error(t, cfg.Validate(), "hub function without bind address must be rejected")
}
