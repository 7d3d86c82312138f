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

import "encoding/binary"

// HeaderOption is one entry of a dest-options or data-options TLV list
// (AB.2.3). Type selects the interpretation of the remaining fields:
// OptionTypeSecurePath carries no data; OptionTypeProprietary carries
// VendorID, ProprietaryType, and Data. Any other type decodes with its raw
// bytes left in Data so an unrecognized-but-understood option can still be
// forwarded unchanged.
type HeaderOption struct {
	Type            OptionType
	MustUnderstand  bool
	VendorID        uint16
	ProprietaryType uint8
	Data            []byte
}

func (o HeaderOption) hasData() bool {
	return o.Type == OptionTypeProprietary || len(o.Data) > 0
}

func (o HeaderOption) payload() []byte {
	if o.Type == OptionTypeProprietary {
		out := make([]byte, 0, 3+len(o.Data))
		out = binary.BigEndian.AppendUint16(out, o.VendorID)
		out = append(out, o.ProprietaryType)
		out = append(out, o.Data...)
		return out
	}
	return o.Data
}

// encodeOptionList appends a full dest-options or data-options TLV list to
// buf, setting the more-follows bit on every entry but the last.
func encodeOptionList(buf []byte, opts []HeaderOption) ([]byte, error) {
	for i, opt := range opts {
		marker := byte(opt.Type) & optionTypeMask
		if opt.MustUnderstand {
			marker |= optionMustUnderstand
		}
		if i != len(opts)-1 {
			marker |= optionMoreFollows
		}

		payload := opt.payload()
		if len(payload) > 0 {
			marker |= optionHasData
			buf = append(buf, marker)
			buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
			buf = append(buf, payload...)
		} else {
			buf = append(buf, marker)
		}
	}
	return buf, nil
}

// decodeOptionList decodes a TLV list starting at the front of buf and
// returns the parsed options plus the number of bytes consumed. It stops
// at the first entry without the more-follows bit; a list that runs past
// MaxHeaderOptions entries is rejected with a header-encoding error.
func decodeOptionList(buf []byte) ([]HeaderOption, int, *DecodeError) {
	var opts []HeaderOption
	pos := 0

	for {
		if len(opts) >= MaxHeaderOptions {
			return nil, 0, newDecodeError(DecodeErrorOption, ErrorCodeHeaderEncodingError, "too many header options")
		}
		if pos >= len(buf) {
			return nil, 0, newDecodeError(DecodeErrorOption, ErrorCodeHeaderEncodingError, "truncated option list")
		}

		marker := buf[pos]
		pos++

		opt := HeaderOption{
			Type:           OptionType(marker & optionTypeMask),
			MustUnderstand: marker&optionMustUnderstand != 0,
		}

		if marker&optionHasData != 0 {
			if pos+2 > len(buf) {
				return nil, 0, newDecodeError(DecodeErrorOption, ErrorCodeHeaderEncodingError, "truncated option length")
			}
			length := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
			pos += 2
			if pos+length > len(buf) {
				return nil, 0, newDecodeError(DecodeErrorOption, ErrorCodeHeaderEncodingError, "truncated option data")
			}
			data := buf[pos : pos+length]
			pos += length

			if opt.Type == OptionTypeProprietary {
				if len(data) < 3 {
					return nil, 0, newDecodeError(DecodeErrorOption, ErrorCodeHeaderEncodingError, "truncated proprietary option")
				}
				opt.VendorID = binary.BigEndian.Uint16(data[0:2])
				opt.ProprietaryType = data[2]
				opt.Data = append([]byte(nil), data[3:]...)
			} else {
				opt.Data = append([]byte(nil), data...)
			}
		}

		opts = append(opts, opt)

		if marker&optionMoreFollows == 0 {
			break
		}
	}

	return opts, pos, nil
}
