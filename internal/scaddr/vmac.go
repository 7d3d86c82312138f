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

// Package scaddr holds the address and identity value types shared by every
// BACnet/SC component: the 6-octet virtual MAC, the 16-octet device UUID,
// and the Host-N-Port peer address used in telemetry records.
package scaddr

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// VMACSize is the length in octets of a virtual MAC address.
const VMACSize = 6

// VMAC is a 6-octet BACnet/SC virtual MAC address.
type VMAC [VMACSize]byte

// BroadcastVMAC is the all-ones virtual MAC used for SC broadcasts.
var BroadcastVMAC = VMAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ErrZeroVMAC is returned when an operation requires an initialized VMAC but
// was given the reserved all-zero value.
var ErrZeroVMAC = errors.New("scaddr: VMAC is uninitialized (all-zero)")

// IsBroadcast reports whether v is the all-ones broadcast VMAC.
func (v VMAC) IsBroadcast() bool {
	return v == BroadcastVMAC
}

// IsZero reports whether v is the reserved, uninitialized all-zero VMAC.
func (v VMAC) IsZero() bool {
	return v == VMAC{}
}

func (v VMAC) String() string {
	return hex.EncodeToString(v[:])
}

// VMACFromBytes copies a 6-byte slice into a VMAC, erroring on any other length.
func VMACFromBytes(b []byte) (VMAC, error) {
	var v VMAC
	if len(b) != VMACSize {
		return v, fmt.Errorf("scaddr: VMAC must be %d bytes, got %d", VMACSize, len(b))
	}
	copy(v[:], b)
	return v, nil
}

// localAdminBit is bit 1 of the first octet of an IEEE-802-style MAC,
// identifying the address as locally administered rather than
// vendor-assigned. ASHRAE 135 AB.1.5.2 calls for a randomly generated VMAC;
// the bit layout itself isn't specified in the retrieved source, so we
// follow the IEEE 802 local-MAC convention referenced by the clause (see
// DESIGN.md Open Questions).
const localAdminBit = 0x02

// GenerateRandomVMAC produces a fresh random VMAC with the locally
// administered bit set, for use after a duplicate-VMAC-triggered restart.
func GenerateRandomVMAC() (VMAC, error) {
	var v VMAC
	if _, err := rand.Read(v[:]); err != nil {
		return v, fmt.Errorf("scaddr: failed to generate random VMAC: %w", err)
	}
	v[0] |= localAdminBit
	// Never hand back the reserved all-zero or all-ones values.
	if v.IsZero() || v.IsBroadcast() {
		v[0] ^= 0x01
	}
	return v, nil
}
