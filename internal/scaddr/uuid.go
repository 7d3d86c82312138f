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

package scaddr

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDSize is the length in octets of a BACnet device UUID.
const UUIDSize = 16

// UUID is a 16-octet device-scoped identifier, persistent across restarts.
// It is represented with google/uuid so it prints and parses as a standard
// RFC 4122 string, even though BACnet/SC only ever treats it as 16 opaque
// octets on the wire.
type UUID uuid.UUID

// NewUUID generates a fresh random (version 4) device UUID.
func NewUUID() (UUID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return UUID{}, fmt.Errorf("scaddr: failed to generate UUID: %w", err)
	}
	return UUID(u), nil
}

// ParseUUID parses the canonical RFC 4122 string form.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("scaddr: invalid UUID %q: %w", s, err)
	}
	return UUID(u), nil
}

// UUIDFromBytes copies a 16-byte slice into a UUID, erroring on any other length.
func UUIDFromBytes(b []byte) (UUID, error) {
	if len(b) != UUIDSize {
		return UUID{}, fmt.Errorf("scaddr: UUID must be %d bytes, got %d", UUIDSize, len(b))
	}
	u, err := uuid.FromBytes(b)
	if err != nil {
		return UUID{}, fmt.Errorf("scaddr: invalid UUID bytes: %w", err)
	}
	return UUID(u), nil
}

// Bytes returns the 16 raw octets of the UUID.
func (u UUID) Bytes() []byte {
	id := uuid.UUID(u)
	out := make([]byte, UUIDSize)
	copy(out, id[:])
	return out
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

// IsZero reports whether u is the zero-value UUID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}
