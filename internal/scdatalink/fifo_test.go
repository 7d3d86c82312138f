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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFORoundsDepthToPowerOfTwo(t *testing.T) {
	f := newFIFO(5, nil)
	assert.Equal(t, 8, cap(f.ch))

	f = newFIFO(0, nil)
	assert.Equal(t, defaultFIFODepth, cap(f.ch))
}

func TestFIFODropsWhenFull(t *testing.T) {
	drops := 0
	f := newFIFO(2, func() { drops++ })

	f.push([]byte{1})
	f.push([]byte{2})
	f.push([]byte{3})

	assert.Equal(t, 1, drops)
	require.Len(t, f.ch, 2)
	assert.Equal(t, []byte{1}, <-f.ch)
	assert.Equal(t, []byte{2}, <-f.ch)
}

func TestFIFODrain(t *testing.T) {
	f := newFIFO(4, nil)
	f.push([]byte{1})
	f.push([]byte{2})
	f.drain()
	assert.Empty(t, f.ch)
}
