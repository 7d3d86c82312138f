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

package scdatalink

import "log/slog"

// fifo is the inbound NPDU queue the upper stack reads (spec §5 "Shared
// resources"): bounded, strictly FIFO, multiple producers (dispatch
// callbacks) and one consumer (Receive). The C original packs frames into a
// power-of-two byte ring; a bounded channel of frames gives the same
// drop-on-full contract in the shape Go schedules naturally.
type fifo struct {
	ch      chan []byte
	onDrop  func()
}

// defaultFIFODepth is the number of buffered inbound packets.
const defaultFIFODepth = 16

func newFIFO(depth int, onDrop func()) *fifo {
	if depth <= 0 {
		depth = defaultFIFODepth
	}
	// Round up to the next power of two, matching the original ring sizing.
	size := 1
	for size < depth {
		size <<= 1
	}
	return &fifo{ch: make(chan []byte, size), onDrop: onDrop}
}

// push enqueues one frame, dropping it silently when the queue is full.
func (f *fifo) push(frame []byte) {
	select {
	case f.ch <- frame:
	default:
		slog.Debug("scdatalink: receive queue full, dropping frame", "len", len(frame))
		if f.onDrop != nil {
			f.onDrop()
		}
	}
}

// drain empties the queue after cleanup.
func (f *fifo) drain() {
	for {
		select {
		case <-f.ch:
		default:
			return
		}
	}
}
