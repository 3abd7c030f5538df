// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/nmcoind/coins"
	"github.com/bitmark-inc/nmcoind/util"
)

func TestPackUnpackCoinRoundTrip(t *testing.T) {
	coin := coins.NewCoin(wire.TxOut{Value: 123456789, PkScript: []byte{0x51, 0x52, 0x53}}, 654321, true)

	packed := packCoin(coin)
	got, ok := unpackCoin(packed)

	assert.True(t, ok)
	assert.Equal(t, coin.Out.Value, got.Out.Value)
	assert.Equal(t, coin.Out.PkScript, got.Out.PkScript)
	assert.Equal(t, coin.Height, got.Height)
	assert.Equal(t, coin.IsCoinBase, got.IsCoinBase)
}

// pin the exact byte layout: varint height, coinbase flag, varint
// value, varint script length, script
func TestPackCoinGolden(t *testing.T) {
	coin := coins.NewCoin(wire.TxOut{Value: 50, PkScript: []byte{0x51}}, 1, false)

	expected := []byte{0x01, 0x00, 0x32, 0x01, 0x51}

	packed := packCoin(coin)
	if !bytes.Equal(expected, packed) {
		t.Errorf("pack coin: mismatch\n%s", util.FormatBytes("actual", packed))
	}
}

func TestPackUnpackNameRecordRoundTrip(t *testing.T) {
	data := coins.NameData{
		Value:     []byte("some registration payload"),
		Address:   []byte("owner locking script"),
		Height:    42,
		ExpiresAt: 4242,
	}

	packed := packNameRecord(data)
	got, ok := unpackNameRecord(packed)

	assert.True(t, ok)
	assert.Equal(t, data.Value, got.Value)
	assert.Equal(t, data.Address, got.Address)
	assert.Equal(t, data.Height, got.Height)
	assert.Equal(t, data.ExpiresAt, got.ExpiresAt)
}

func TestOutpointKeyDistinctPerIndex(t *testing.T) {
	var hash chainhash.Hash
	hash[0] = 0xAA

	k0 := outpointKey(wire.OutPoint{Hash: hash, Index: 0})
	k1 := outpointKey(wire.OutPoint{Hash: hash, Index: 1})

	assert.NotEqual(t, k0, k1)
	assert.Len(t, k0, chainhash.HashSize+1)
}

func TestHeightKeyPreservesOrdering(t *testing.T) {
	low := heightKey(10)
	high := heightKey(100000)

	assert.True(t, string(low) < string(high), "big-endian height keys must sort numerically")
	assert.Equal(t, int32(100000), decodeHeightKey(high))
}

func TestNameHistoryAndExpiryKeysClusterByName(t *testing.T) {
	k1 := nameHistoryKey("alice", 100)
	k2 := nameHistoryKey("alice", 200)
	k3 := nameHistoryKey("bob", 50)

	assert.True(t, string(k1) < string(k2))
	assert.True(t, string(k2) < string(k3))

	e1 := expiryKey(100, "alice")
	e2 := expiryKey(100, "bob")
	assert.True(t, string(e1) < string(e2))
}
