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

package bvlcsc

import (
	"encoding/binary"

	"github.com/bacnet-community/bsc-core/internal/scaddr"
)

// Header carries the fields common to every BVLC-SC message (AB.2.1):
// function code, message identifier, optional origin/destination VMAC, and
// the optional dest-options and data-options TLV lists.
type Header struct {
	Function     Function
	MessageID    uint16
	Origin       *scaddr.VMAC
	Dest         *scaddr.VMAC
	DestOptions  []HeaderOption
	DataOptions  []HeaderOption
}

// minHeaderLen is the shortest possible frame: function + control + message id.
const minHeaderLen = 4

func (h Header) control() ControlFlag {
	var c ControlFlag
	if len(h.DataOptions) > 0 {
		c |= ControlDataOptions
	}
	if len(h.DestOptions) > 0 {
		c |= ControlDestOptions
	}
	if h.Dest != nil {
		c |= ControlDestVAddr
	}
	if h.Origin != nil {
		c |= ControlOrigVAddr
	}
	return c
}

// encodeHeader appends the fixed header, any orig/dest VMACs, and any
// dest/data option lists to buf, returning the grown slice.
func encodeHeader(buf []byte, h Header) ([]byte, error) {
	buf = append(buf, byte(h.Function), byte(h.control()))
	buf = binary.BigEndian.AppendUint16(buf, h.MessageID)

	if h.Origin != nil {
		buf = append(buf, h.Origin[:]...)
	}
	if h.Dest != nil {
		buf = append(buf, h.Dest[:]...)
	}

	var err error
	if len(h.DestOptions) > 0 {
		buf, err = encodeOptionList(buf, h.DestOptions)
		if err != nil {
			return nil, err
		}
	}
	if len(h.DataOptions) > 0 {
		buf, err = encodeOptionList(buf, h.DataOptions)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// decodeHeader parses the fixed header, VMACs, and option lists from buf,
// returning the decoded Header and the remaining payload bytes.
func decodeHeader(buf []byte) (Header, []byte, *DecodeError) {
	if len(buf) < minHeaderLen {
		return Header{}, nil, newDecodeError(DecodeErrorTooShort, ErrorCodeOther, "frame shorter than minimum header")
	}

	h := Header{
		Function:  Function(buf[0]),
		MessageID: binary.BigEndian.Uint16(buf[2:4]),
	}
	ctrl := ControlFlag(buf[1])
	rest := buf[4:]

	if ctrl&ControlOrigVAddr != 0 {
		if len(rest) < scaddr.VMACSize {
			return Header{}, nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "truncated origin VMAC")
		}
		vmac, err := scaddr.VMACFromBytes(rest[:scaddr.VMACSize])
		if err != nil {
			return Header{}, nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, err.Error())
		}
		h.Origin = &vmac
		rest = rest[scaddr.VMACSize:]
	}
	if ctrl&ControlDestVAddr != 0 {
		if len(rest) < scaddr.VMACSize {
			return Header{}, nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, "truncated dest VMAC")
		}
		vmac, err := scaddr.VMACFromBytes(rest[:scaddr.VMACSize])
		if err != nil {
			return Header{}, nil, newDecodeError(DecodeErrorMalformed, ErrorCodeHeaderEncodingError, err.Error())
		}
		h.Dest = &vmac
		rest = rest[scaddr.VMACSize:]
	}
	if ctrl&ControlDestOptions != 0 {
		opts, n, derr := decodeOptionList(rest)
		if derr != nil {
			return Header{}, nil, derr
		}
		h.DestOptions = opts
		rest = rest[n:]
	}
	if ctrl&ControlDataOptions != 0 {
		opts, n, derr := decodeOptionList(rest)
		if derr != nil {
			return Header{}, nil, derr
		}
		h.DataOptions = opts
		rest = rest[n:]
	}

	return h, rest, nil
}
