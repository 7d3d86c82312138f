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

// Package scdatalink is the blocking datalink façade of spec §4.7: the thin
// send/receive API the upper BACnet stack calls, identical in shape to the
// other BACnet datalinks (init, cleanup, send-pdu, receive, address
// accessors, maintenance tick). Inbound NPDUs are buffered in a bounded
// FIFO read by Receive.
package scdatalink

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/netport"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/bacnet-community/bsc-core/internal/scmetrics"
	"github.com/bacnet-community/bsc-core/internal/scnode"
)

// BroadcastNetwork is the BACnet network number indicating a global
// broadcast (spec §6.2).
const BroadcastNetwork uint16 = 0xFFFF

// Address is the BACNET_ADDRESS shape the upper stack speaks: mac_len=6
// with the VMAC in MAC[0..5]; Net=BroadcastNetwork means global broadcast.
type Address struct {
	Net    uint16
	MACLen uint8
	MAC    [scaddr.VMACSize]byte
}

// BroadcastAddress returns the datalink broadcast address (spec §4.7).
func BroadcastAddress() Address {
	var a Address
	a.Net = BroadcastNetwork
	a.MACLen = scaddr.VMACSize
	copy(a.MAC[:], scaddr.BroadcastVMAC[:])
	return a
}

// Datalink owns one running Node plus the inbound FIFO.
type Datalink struct {
	node *scnode.Node
	fifo *fifo

	started atomic.Bool
	msgID   atomic.Uint32

	metrics *scmetrics.Metrics

	mu        sync.Mutex
	telemetry scnode.Telemetry
}

// Init builds and starts a Node from the Network-Port configuration,
// returning once the node reports STARTED or fails (spec §4.7). metrics may
// be nil.
func Init(cfg netport.Config, transports scnode.Transports, metrics *scmetrics.Metrics) (*Datalink, error) {
	d := &Datalink{metrics: metrics}
	d.fifo = newFIFO(0, func() {
		if metrics != nil {
			metrics.RxDroppedTotal.Inc()
		}
	})

	node, err := scnode.New(cfg, transports, d.onNodeEvent, d.onNodeReceive)
	if err != nil {
		return nil, fmt.Errorf("scdatalink: %w", err)
	}
	d.node = node

	if err := node.Start(); err != nil {
		return nil, fmt.Errorf("scdatalink: %w", err)
	}
	d.started.Store(true)
	return d, nil
}

// Cleanup stops the Node, blocks until it reports stopped, and releases the
// queued frames. The datalink is re-initializable afterwards via Init.
func (d *Datalink) Cleanup() {
	if !d.started.Swap(false) {
		return
	}
	d.node.Stop()
	d.fifo.drain()
}

// SendPDU encapsulates one NPDU and routes it outward (spec §4.7
// send_pdu). A destination with BroadcastNetwork or an empty MAC broadcasts;
// anything else must carry a 6-octet VMAC.
func (d *Datalink) SendPDU(dest Address, npdu []byte) error {
	if !d.started.Load() {
		return fmt.Errorf("scdatalink: not initialized")
	}

	var vmac scaddr.VMAC
	switch {
	case dest.Net == BroadcastNetwork || dest.MACLen == 0:
		vmac = scaddr.BroadcastVMAC
	case dest.MACLen == scaddr.VMACSize:
		copy(vmac[:], dest.MAC[:])
	default:
		return fmt.Errorf("scdatalink: bad destination mac_len %d", dest.MACLen)
	}

	frame, err := bvlcsc.EncodeEncapsulatedNPDU(d.nextMessageID(), nil, &vmac, npdu)
	if err != nil {
		return err
	}
	if err := d.node.Send(frame); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.TxFramesTotal.Inc()
	}
	return nil
}

// Receive blocks for at most timeout waiting for the next inbound NPDU,
// returning the origin VMAC in src. ok is false on timeout and after
// Cleanup (spec §4.7 receive).
func (d *Datalink) Receive(timeout time.Duration) (src Address, npdu []byte, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case raw := <-d.fifo.ch:
		dm, derr := bvlcsc.Decode(raw)
		if derr != nil || dm.EncapsulatedNPDU == nil {
			return Address{}, nil, false
		}
		if dm.Header.Origin != nil {
			src.MACLen = scaddr.VMACSize
			copy(src.MAC[:], dm.Header.Origin[:])
		}
		if d.metrics != nil {
			d.metrics.RxFramesTotal.Inc()
		}
		return src, dm.EncapsulatedNPDU.NPDU, true
	case <-timer.C:
		return Address{}, nil, false
	}
}

// GetMyAddress returns the local VMAC; ok is false unless the node is
// STARTED.
func (d *Datalink) GetMyAddress() (Address, bool) {
	vmac, started := d.node.LocalVMAC()
	if !started {
		return Address{}, false
	}
	var a Address
	a.MACLen = scaddr.VMACSize
	copy(a.MAC[:], vmac[:])
	return a, true
}

// GetBroadcastAddress returns the datalink broadcast address.
func (d *Datalink) GetBroadcastAddress() Address {
	return BroadcastAddress()
}

// ConnectDirect passes through to the Node-Switch (spec §4.7).
func (d *Datalink) ConnectDirect(dest *scaddr.VMAC, urls []string) error {
	return d.node.ConnectDirect(dest, urls)
}

// DisconnectDirect passes through to the Node-Switch.
func (d *Datalink) DisconnectDirect(dest scaddr.VMAC) error {
	return d.node.DisconnectDirect(dest)
}

// DirectConnected reports whether a direct path to the peer exists.
func (d *Datalink) DirectConnected(dest *scaddr.VMAC, urls []string) bool {
	return d.node.DirectConnected(dest, urls)
}

// MaintenanceTimer snapshots node telemetry into the Network-Port property
// mirror and refreshes the exported gauges (spec §4.7 maintenance_timer).
func (d *Datalink) MaintenanceTimer(time.Duration) {
	if !d.started.Load() {
		return
	}
	t := d.node.Telemetry()

	d.mu.Lock()
	d.telemetry = t
	d.mu.Unlock()

	if d.metrics == nil {
		return
	}
	d.metrics.HubConnectionState.WithLabelValues("primary").Set(float64(t.HubPrimary.State))
	d.metrics.HubConnectionState.WithLabelValues("failover").Set(float64(t.HubFailover.State))

	peers := 0
	for _, st := range t.HubFunction {
		if st.State == netport.StateConnected {
			peers++
		}
	}
	d.metrics.HubFunctionPeers.Set(float64(peers))

	direct := 0
	for _, st := range t.DirectInitiator {
		if st.State == netport.StateConnected {
			direct++
		}
	}
	for _, st := range t.DirectAcceptor {
		if st.State == netport.StateConnected {
			direct++
		}
	}
	d.metrics.DirectConnections.Set(float64(direct))
	d.metrics.FailedConnectionRequests.Set(float64(len(t.FailedRequests)))
}

// Telemetry returns the snapshot taken by the last maintenance tick; its
// lists are what a Network-Port object serves for the SC status properties.
func (d *Datalink) Telemetry() scnode.Telemetry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.telemetry
}

func (d *Datalink) onNodeEvent(ev scnode.Event, _ scaddr.VMAC) {
	if ev == scnode.EventRestarted && d.metrics != nil {
		d.metrics.NodeRestartsTotal.Inc()
	}
}

func (d *Datalink) onNodeReceive(raw []byte) {
	d.fifo.push(raw)
}

// nextMessageID is the datalink-scope 16-bit message-id counter (spec §4.7
// send_pdu "global counter").
func (d *Datalink) nextMessageID() uint16 {
	return uint16(d.msgID.Add(1))
}
