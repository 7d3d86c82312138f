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

import (
	"time"
)

// Minimal Clause 20 tag primitives, restricted to what the SC telemetry
// sequences need: context-tagged enumerated/unsigned values, octet and
// character strings, opening/closing tags, and BACnetDateTime. Encoders
// append to a slice; decoders return the consumed byte count, 0 when the
// expected tag is absent (for OPTIONAL fields), and -1 on malformed input.

const (
	tagClassContext = 0x08
	lvtOpening      = 0x06
	lvtClosing      = 0x07
	lvtExtended     = 0x05

	appTagDate = 10
	appTagTime = 11

	charsetUTF8 = 0
)

func encodeTagHeader(buf []byte, tagNum uint8, context bool, length int) []byte {
	octet := tagNum << 4
	if context {
		octet |= tagClassContext
	}
	if length < int(lvtExtended) {
		return append(buf, octet|uint8(length))
	}
	buf = append(buf, octet|lvtExtended)
	return append(buf, uint8(length))
}

func encodeOpeningTag(buf []byte, tagNum uint8) []byte {
	return append(buf, tagNum<<4|tagClassContext|lvtOpening)
}

func encodeClosingTag(buf []byte, tagNum uint8) []byte {
	return append(buf, tagNum<<4|tagClassContext|lvtClosing)
}

// decodeTagHeader parses one tag initial octet (plus extended length octet
// when present), checking class and tag number. Returns header size and
// content length, or (0, 0) when the tag at buf[0] is not the expected one.
func decodeTagHeader(buf []byte, tagNum uint8, context bool) (hdrLen, contentLen int) {
	if len(buf) == 0 {
		return 0, 0
	}
	octet := buf[0]
	if octet>>4 != tagNum {
		return 0, 0
	}
	isContext := octet&tagClassContext != 0
	if isContext != context {
		return 0, 0
	}
	lvt := octet & 0x07
	if lvt == lvtOpening || lvt == lvtClosing {
		return 0, 0
	}
	if lvt == lvtExtended {
		if len(buf) < 2 {
			return 0, 0
		}
		return 2, int(buf[1])
	}
	return 1, int(lvt)
}

func isOpeningTag(buf []byte, tagNum uint8) bool {
	return len(buf) > 0 && buf[0] == tagNum<<4|tagClassContext|lvtOpening
}

func isClosingTag(buf []byte, tagNum uint8) bool {
	return len(buf) > 0 && buf[0] == tagNum<<4|tagClassContext|lvtClosing
}

func minimalUnsignedLen(v uint32) int {
	switch {
	case v < 0x100:
		return 1
	case v < 0x10000:
		return 2
	case v < 0x1000000:
		return 3
	default:
		return 4
	}
}

func appendUnsignedBytes(buf []byte, v uint32, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

func encodeContextUnsigned(buf []byte, tagNum uint8, v uint32) []byte {
	n := minimalUnsignedLen(v)
	buf = encodeTagHeader(buf, tagNum, true, n)
	return appendUnsignedBytes(buf, v, n)
}

// encodeContextEnumerated shares the unsigned content encoding (Clause 20.2.11).
func encodeContextEnumerated(buf []byte, tagNum uint8, v uint32) []byte {
	return encodeContextUnsigned(buf, tagNum, v)
}

func decodeContextUnsigned(buf []byte, tagNum uint8) (v uint32, consumed int) {
	hdr, n := decodeTagHeader(buf, tagNum, true)
	if hdr == 0 || n == 0 || n > 4 || len(buf) < hdr+n {
		if hdr == 0 {
			return 0, 0
		}
		return 0, -1
	}
	for _, b := range buf[hdr : hdr+n] {
		v = v<<8 | uint32(b)
	}
	return v, hdr + n
}

func decodeContextEnumerated(buf []byte, tagNum uint8) (uint32, int) {
	return decodeContextUnsigned(buf, tagNum)
}

func encodeContextOctetString(buf []byte, tagNum uint8, data []byte) []byte {
	buf = encodeTagHeader(buf, tagNum, true, len(data))
	return append(buf, data...)
}

func decodeContextOctetString(buf []byte, tagNum uint8) (data []byte, consumed int) {
	hdr, n := decodeTagHeader(buf, tagNum, true)
	if hdr == 0 {
		return nil, 0
	}
	if len(buf) < hdr+n {
		return nil, -1
	}
	return append([]byte(nil), buf[hdr:hdr+n]...), hdr + n
}

// encodeContextCharacterString writes a UTF-8 character string: charset
// octet then the raw bytes (Clause 20.2.9).
func encodeContextCharacterString(buf []byte, tagNum uint8, s string) []byte {
	buf = encodeTagHeader(buf, tagNum, true, len(s)+1)
	buf = append(buf, charsetUTF8)
	return append(buf, s...)
}

func decodeContextCharacterString(buf []byte, tagNum uint8) (s string, consumed int) {
	hdr, n := decodeTagHeader(buf, tagNum, true)
	if hdr == 0 {
		return "", 0
	}
	if n < 1 || len(buf) < hdr+n || buf[hdr] != charsetUTF8 {
		return "", -1
	}
	return string(buf[hdr+1 : hdr+n]), hdr + n
}

// dateWildcard is the Clause 20.2.12 "unspecified" field value, used here
// for zero timestamps (a status record that never connected).
const dateWildcard = 0xFF

func encodeApplicationDate(buf []byte, t time.Time) []byte {
	buf = encodeTagHeader(buf, appTagDate, false, 4)
	if t.IsZero() {
		return append(buf, dateWildcard, dateWildcard, dateWildcard, dateWildcard)
	}
	weekday := byte(t.Weekday())
	if weekday == 0 {
		weekday = 7 // BACnet counts Monday=1..Sunday=7
	}
	return append(buf, byte(t.Year()-1900), byte(t.Month()), byte(t.Day()), weekday)
}

func encodeApplicationTime(buf []byte, t time.Time) []byte {
	buf = encodeTagHeader(buf, appTagTime, false, 4)
	if t.IsZero() {
		return append(buf, dateWildcard, dateWildcard, dateWildcard, dateWildcard)
	}
	const nsPerHundredth = 10 * int(time.Millisecond)
	return append(buf, byte(t.Hour()), byte(t.Minute()), byte(t.Second()), byte(t.Nanosecond()/nsPerHundredth))
}

// EncodeContextDateTime writes a context-tagged BACnetDateTime: opening tag,
// application-tagged Date and Time, closing tag.
func EncodeContextDateTime(buf []byte, tagNum uint8, t time.Time) []byte {
	buf = encodeOpeningTag(buf, tagNum)
	buf = encodeApplicationDate(buf, t)
	buf = encodeApplicationTime(buf, t)
	return encodeClosingTag(buf, tagNum)
}

func decodeApplicationDateTime(buf []byte) (t time.Time, consumed int) {
	hdr, n := decodeTagHeader(buf, appTagDate, false)
	if hdr == 0 || n != 4 || len(buf) < hdr+4 {
		return time.Time{}, -1
	}
	d := buf[hdr : hdr+4]
	pos := hdr + 4

	hdr, n = decodeTagHeader(buf[pos:], appTagTime, false)
	if hdr == 0 || n != 4 || len(buf) < pos+hdr+4 {
		return time.Time{}, -1
	}
	tm := buf[pos+hdr : pos+hdr+4]
	pos += hdr + 4

	if d[0] == dateWildcard {
		return time.Time{}, pos
	}
	const nsPerHundredth = 10 * time.Millisecond
	return time.Date(int(d[0])+1900, time.Month(d[1]), int(d[2]),
		int(tm[0]), int(tm[1]), int(tm[2]), int(tm[3])*int(nsPerHundredth), time.UTC), pos
}

// DecodeContextDateTime parses a context-tagged BACnetDateTime, returning
// the consumed byte count, 0 when the opening tag is absent, -1 on error.
func DecodeContextDateTime(buf []byte, tagNum uint8) (t time.Time, consumed int) {
	if !isOpeningTag(buf, tagNum) {
		return time.Time{}, 0
	}
	pos := 1
	t, n := decodeApplicationDateTime(buf[pos:])
	if n < 0 {
		return time.Time{}, -1
	}
	pos += n
	if !isClosingTag(buf[pos:], tagNum) {
		return time.Time{}, -1
	}
	return t, pos + 1
}
