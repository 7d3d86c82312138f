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

package bvlcsc_test

import (
	"testing"

	"github.com/bacnet-community/bsc-core/internal/bvlcsc"
	"github.com/bacnet-community/bsc-core/internal/scaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustVMAC(t *testing.T, b byte) scaddr.VMAC {
	t.Helper()
	v, err := scaddr.VMACFromBytes([]byte{b, b, b, b, b, b})
	require.NoError(t, err)
	return v
}

func TestEncodeDecodeEncapsulatedNPDU(t *testing.T) {
	orig := mustVMAC(t, 0x01)
	dest := mustVMAC(t, 0x02)
	npdu := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	buf, err := bvlcsc.EncodeEncapsulatedNPDU(42, &orig, &dest, npdu)
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.NotNil(t, dm.EncapsulatedNPDU)

	assert.Equal(t, bvlcsc.FunctionEncapsulatedNPDU, dm.Header.Function)
	assert.Equal(t, uint16(42), dm.Header.MessageID)
	assert.Equal(t, orig, *dm.Header.Origin)
	assert.Equal(t, dest, *dm.Header.Dest)
	assert.Equal(t, npdu, dm.EncapsulatedNPDU.NPDU)
}

func TestEncodeDecodeResultACK(t *testing.T) {
	buf, err := bvlcsc.EncodeResult(7, nil, nil, bvlcsc.FunctionConnectRequest, bvlcsc.ResultACK, 0, 0, 0, "")
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ResultACK, dm.Result.Code)
	assert.Equal(t, bvlcsc.FunctionConnectRequest, dm.Result.RespondingFunction)
}

func TestEncodeDecodeResultNAK(t *testing.T) {
	buf, err := bvlcsc.EncodeResult(7, nil, nil, bvlcsc.FunctionConnectRequest, bvlcsc.ResultNAK, 1,
		bvlcsc.ErrorClassCommunication, bvlcsc.ErrorCodeHeaderNotUnderstood, "bad option")
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.NotNil(t, dm.Result)
	assert.Equal(t, bvlcsc.ResultNAK, dm.Result.Code)
	assert.Equal(t, bvlcsc.ErrorCodeHeaderNotUnderstood, dm.Result.ErrorCode)
	assert.Equal(t, "bad option", dm.Result.Details)
}

func TestEncodeDecodeConnectRequest(t *testing.T) {
	vmac := mustVMAC(t, 0xAB)
	uuid, err := scaddr.NewUUID()
	require.NoError(t, err)

	buf, err := bvlcsc.EncodeConnectRequest(1, vmac, uuid, 1440, 1497)
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.NotNil(t, dm.ConnectRequest)
	assert.Equal(t, vmac, dm.ConnectRequest.VMAC)
	assert.Equal(t, uuid, dm.ConnectRequest.UUID)
	assert.Equal(t, uint16(1440), dm.ConnectRequest.MaxBVLCLen)
	assert.Equal(t, uint16(1497), dm.ConnectRequest.MaxNPDULen)
}

func TestEncodeDecodeAdvertisement(t *testing.T) {
	buf, err := bvlcsc.EncodeAdvertisement(3, nil, nil,
		bvlcsc.HubConnectorStateConnectedPrimary, bvlcsc.DirectConnectionSupported, 1440, 1497)
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.NotNil(t, dm.Advertisement)
	assert.Equal(t, bvlcsc.HubConnectorStateConnectedPrimary, dm.Advertisement.HubStatus)
	assert.Equal(t, bvlcsc.DirectConnectionSupported, dm.Advertisement.Support)
}

func TestEncodeDecodeProprietaryMessage(t *testing.T) {
	buf, err := bvlcsc.EncodeProprietaryMessage(9, nil, nil, 0xBEEF, 5, []byte{1, 2, 3})
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.NotNil(t, dm.Proprietary)
	assert.Equal(t, uint16(0xBEEF), dm.Proprietary.VendorID)
	assert.Equal(t, uint8(5), dm.Proprietary.Function)
	assert.Equal(t, []byte{1, 2, 3}, dm.Proprietary.Data)
}

func TestEncodeDecodeHeaderOptions(t *testing.T) {
	orig := mustVMAC(t, 0x01)
	h := bvlcsc.Header{
		Function:  bvlcsc.FunctionEncapsulatedNPDU,
		MessageID: 5,
		Origin:    &orig,
		DataOptions: []bvlcsc.HeaderOption{
			bvlcsc.EncodeSecurePathOption(true),
			bvlcsc.EncodeProprietaryOption(false, 42, 1, []byte{0xFE, 0xED}),
		},
	}
	buf, err := bvlcsc.EncodeMessage(h, []byte{0x01})
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(buf)
	require.Nil(t, derr)
	require.Len(t, dm.Header.DataOptions, 2)
	assert.Equal(t, bvlcsc.OptionTypeSecurePath, dm.Header.DataOptions[0].Type)
	assert.True(t, dm.Header.DataOptions[0].MustUnderstand)
	assert.Equal(t, bvlcsc.OptionTypeProprietary, dm.Header.DataOptions[1].Type)
	assert.Equal(t, uint16(42), dm.Header.DataOptions[1].VendorID)
	assert.Equal(t, []byte{0xFE, 0xED}, dm.Header.DataOptions[1].Data)
}

func TestDecodeTooShortIsSilentlyDropped(t *testing.T) {
	_, derr := bvlcsc.Decode([]byte{0x01, 0x00, 0x00})
	require.NotNil(t, derr)
	assert.Equal(t, bvlcsc.DecodeErrorTooShort, derr.Kind)
}

func TestIsVMACBroadcastProperty(t *testing.T) {
	assert.True(t, bvlcsc.IsVMACBroadcast(scaddr.BroadcastVMAC))
	assert.False(t, bvlcsc.IsVMACBroadcast(mustVMAC(t, 0x01)))
}

func TestSetOrigAndPDUGetDestProperty(t *testing.T) {
	dest := mustVMAC(t, 0x02)
	buf, err := bvlcsc.EncodeEncapsulatedNPDU(1, nil, &dest, []byte{0x01})
	require.NoError(t, err)

	gotDest, ok, derr := bvlcsc.PDUGetDest(buf)
	require.Nil(t, derr)
	require.True(t, ok)
	assert.Equal(t, dest, gotDest)

	newOrig := mustVMAC(t, 0x03)
	withOrig, err := bvlcsc.SetOrig(buf, newOrig)
	require.NoError(t, err)

	dm, derr := bvlcsc.Decode(withOrig)
	require.Nil(t, derr)
	require.NotNil(t, dm.Header.Origin)
	assert.Equal(t, newOrig, *dm.Header.Origin)
	assert.Equal(t, dest, *dm.Header.Dest)
}

func TestRemoveDestSetOrig(t *testing.T) {
	dest := mustVMAC(t, 0x02)
	buf, err := bvlcsc.EncodeEncapsulatedNPDU(1, nil, &dest, []byte{0x01})
	require.NoError(t, err)

	orig := mustVMAC(t, 0x04)
	out, err := bvlcsc.RemoveDestSetOrig(buf, orig)
	require.NoError(t, err)

	noDest, derr := bvlcsc.PDUHasNoDest(out)
	require.Nil(t, derr)
	assert.True(t, noDest)

	dm, derr := bvlcsc.Decode(out)
	require.Nil(t, derr)
	assert.Equal(t, orig, *dm.Header.Origin)
}

func TestNeedSendBVLCResult(t *testing.T) {
	npdu, err := bvlcsc.EncodeEncapsulatedNPDU(1, nil, nil, []byte{0x01})
	require.NoError(t, err)
	dm, derr := bvlcsc.Decode(npdu)
	require.Nil(t, derr)
	assert.True(t, bvlcsc.NeedSendBVLCResult(dm))

	hb, err := bvlcsc.EncodeHeartbeatRequest(1)
	require.NoError(t, err)
	dm, derr = bvlcsc.Decode(hb)
	require.Nil(t, derr)
	assert.False(t, bvlcsc.NeedSendBVLCResult(dm))
}

func TestDecodeArbitraryBytesDoesNotPanic(t *testing.T) {
	inputs := [][]byte{
		nil,
		{0x00},
		{0x01, 0x08, 0x00, 0x01},
		{0xFF, 0xFF, 0xFF, 0xFF, 0xFF},
		make([]byte, 64),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, _ = bvlcsc.Decode(in)
		})
	}
}
