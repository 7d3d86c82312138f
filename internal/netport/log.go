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

package netport

// FailedRequestLog is the bounded SC_Failed_Connection_Requests list (spec
// §3.8): records are created on observation and the oldest is overwritten
// when the list fills.
type FailedRequestLog struct {
	entries []FailedConnectionRequest
	next    int
	full    bool
}

// DefaultFailedRequestLogSize bounds the log when no explicit capacity is
// given.
const DefaultFailedRequestLogSize = 16

// NewFailedRequestLog builds a log holding at most capacity records.
func NewFailedRequestLog(capacity int) *FailedRequestLog {
	if capacity <= 0 {
		capacity = DefaultFailedRequestLogSize
	}
	return &FailedRequestLog{entries: make([]FailedConnectionRequest, 0, capacity)}
}

// Add records r, overwriting the oldest record once the log is full.
func (l *FailedRequestLog) Add(r FailedConnectionRequest) {
	if !l.full && len(l.entries) < cap(l.entries) {
		l.entries = append(l.entries, r)
		if len(l.entries) == cap(l.entries) {
			l.full = true
		}
		return
	}
	l.entries[l.next] = r
	l.next = (l.next + 1) % len(l.entries)
}

// Entries returns the records oldest-first.
func (l *FailedRequestLog) Entries() []FailedConnectionRequest {
	out := make([]FailedConnectionRequest, 0, len(l.entries))
	if l.full {
		out = append(out, l.entries[l.next:]...)
		out = append(out, l.entries[:l.next]...)
		return out
	}
	return append(out, l.entries...)
}

// Len returns the number of records currently held.
func (l *FailedRequestLog) Len() int { return len(l.entries) }
