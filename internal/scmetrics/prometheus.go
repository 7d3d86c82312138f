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

// Package scmetrics exposes the datalink's telemetry counters and gauges
// over Prometheus, mirroring the per-peer status lists of spec §3.8 at an
// aggregate level.
package scmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// Hub connector
	HubConnectionState *prometheus.GaugeVec

	// Hub function
	HubFunctionPeers prometheus.Gauge

	// Node switch
	DirectConnections        prometheus.Gauge
	FailedConnectionRequests prometheus.Gauge

	// Datalink frame flow
	TxFramesTotal     prometheus.Counter
	RxFramesTotal     prometheus.Counter
	RxDroppedTotal    prometheus.Counter
	NodeRestartsTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	metrics := &Metrics{
		HubConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bsc_hub_connection_state",
			Help: "Hub connection state per role (0=not-connected 1=connected 2=disconnected-with-errors 3=failed-to-connect)",
		}, []string{"role"}),
		HubFunctionPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bsc_hub_function_peers",
			Help: "The current number of peers attached to the hub function",
		}),
		DirectConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bsc_direct_connections",
			Help: "The current number of live direct connections",
		}),
		FailedConnectionRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bsc_failed_connection_requests",
			Help: "The number of records in the failed-connection-request log",
		}),
		TxFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsc_tx_frames_total",
			Help: "The total number of BVLC/SC frames sent by the datalink",
		}),
		RxFramesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsc_rx_frames_total",
			Help: "The total number of BVLC/SC frames delivered to the upper stack",
		}),
		RxDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsc_rx_dropped_total",
			Help: "The total number of inbound frames dropped because the receive queue was full",
		}),
		NodeRestartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bsc_node_restarts_total",
			Help: "The total number of duplicate-VMAC node restarts",
		}),
	}
	metrics.register()
	return metrics
}

func (m *Metrics) register() {
	prometheus.MustRegister(m.HubConnectionState)
	prometheus.MustRegister(m.HubFunctionPeers)
	prometheus.MustRegister(m.DirectConnections)
	prometheus.MustRegister(m.FailedConnectionRequests)
	prometheus.MustRegister(m.TxFramesTotal)
	prometheus.MustRegister(m.RxFramesTotal)
	prometheus.MustRegister(m.RxDroppedTotal)
	prometheus.MustRegister(m.NodeRestartsTotal)
}
