// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitmark-inc/nmcoind/coins"
	"github.com/bitmark-inc/nmcoind/util"
)

// outpointKey packs an outpoint as txid ++ varint(index), matching
// the "C ++ outpoint" table layout in doc.go.
func outpointKey(outpoint wire.OutPoint) []byte {
	key := make([]byte, chainhash.HashSize, chainhash.HashSize+util.Varint64MaximumBytes)
	copy(key, outpoint.Hash[:])
	return append(key, util.ToVarint64(uint64(outpoint.Index))...)
}

// decodeOutpointKey is the inverse of outpointKey.
func decodeOutpointKey(key []byte) (wire.OutPoint, bool) {
	if len(key) <= chainhash.HashSize {
		return wire.OutPoint{}, false
	}
	var outpoint wire.OutPoint
	copy(outpoint.Hash[:], key[:chainhash.HashSize])
	index, n := util.FromVarint64(key[chainhash.HashSize:])
	if 0 == n || chainhash.HashSize+n != len(key) {
		return wire.OutPoint{}, false
	}
	outpoint.Index = uint32(index)
	return outpoint, true
}

// packCoin encodes an unspent coin as height ++ coinbase flag ++
// value ++ script, all integer fields varint encoded.
func packCoin(coin coins.Coin) []byte {
	buf := append([]byte{}, util.ToVarint64(uint64(coin.Height))...)
	if coin.IsCoinBase {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, util.ToVarint64(uint64(coin.Out.Value))...)
	buf = append(buf, util.ToVarint64(uint64(len(coin.Out.PkScript)))...)
	buf = append(buf, coin.Out.PkScript...)
	return buf
}

// unpackCoin is the inverse of packCoin.
func unpackCoin(data []byte) (coins.Coin, bool) {
	height, n := util.FromVarint64(data)
	if 0 == n || n >= len(data) {
		return coins.Coin{}, false
	}
	data = data[n:]

	isCoinBase := data[0] == 1
	data = data[1:]

	value, n := util.FromVarint64(data)
	if 0 == n {
		return coins.Coin{}, false
	}
	data = data[n:]

	scriptLen, n := util.FromVarint64(data)
	if 0 == n {
		return coins.Coin{}, false
	}
	data = data[n:]
	if uint64(len(data)) < scriptLen {
		return coins.Coin{}, false
	}

	script := make([]byte, scriptLen)
	copy(script, data[:scriptLen])

	return coins.Coin{
		Out:        wire.TxOut{Value: int64(value), PkScript: script},
		Height:     int32(height),
		IsCoinBase: isCoinBase,
	}, true
}

// packNameRecord encodes a name record as length-prefixed value,
// length-prefixed address, then varint height and expiry.
func packNameRecord(data coins.NameData) []byte {
	buf := append([]byte{}, util.ToVarint64(uint64(len(data.Value)))...)
	buf = append(buf, data.Value...)
	buf = append(buf, util.ToVarint64(uint64(len(data.Address)))...)
	buf = append(buf, data.Address...)
	buf = append(buf, util.ToVarint64(uint64(uint32(data.Height)))...)
	buf = append(buf, util.ToVarint64(uint64(uint32(data.ExpiresAt)))...)
	return buf
}

// unpackNameRecord is the inverse of packNameRecord.
func unpackNameRecord(buf []byte) (coins.NameData, bool) {
	valueLen, n := util.FromVarint64(buf)
	if 0 == n {
		return coins.NameData{}, false
	}
	buf = buf[n:]
	if uint64(len(buf)) < valueLen {
		return coins.NameData{}, false
	}
	value := make([]byte, valueLen)
	copy(value, buf[:valueLen])
	buf = buf[valueLen:]

	addrLen, n := util.FromVarint64(buf)
	if 0 == n {
		return coins.NameData{}, false
	}
	buf = buf[n:]
	if uint64(len(buf)) < addrLen {
		return coins.NameData{}, false
	}
	address := make([]byte, addrLen)
	copy(address, buf[:addrLen])
	buf = buf[addrLen:]

	height, n := util.FromVarint64(buf)
	if 0 == n {
		return coins.NameData{}, false
	}
	buf = buf[n:]

	expiresAt, n := util.FromVarint64(buf)
	if 0 == n {
		return coins.NameData{}, false
	}

	return coins.NameData{
		Value:     value,
		Address:   address,
		Height:    int32(int32(uint32(height))),
		ExpiresAt: int32(int32(uint32(expiresAt))),
	}, true
}

// heightKey encodes a height as a fixed 8 byte big-endian value so
// that a byte-order range scan over a pool also orders by height.
func heightKey(height int32) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(uint32(height)))
	return key
}

// decodeHeightKey is the inverse of heightKey.
func decodeHeightKey(key []byte) int32 {
	return int32(uint32(binary.BigEndian.Uint64(key)))
}

// nameHistoryKey packs the "H ++ name ++ height" key.
func nameHistoryKey(name string, height int32) []byte {
	key := make([]byte, 0, len(name)+8)
	key = append(key, []byte(name)...)
	key = append(key, heightKey(height)...)
	return key
}

// expiryKey packs the "E ++ height ++ name" key.
func expiryKey(height int32, name string) []byte {
	key := make([]byte, 0, 8+len(name))
	key = append(key, heightKey(height)...)
	key = append(key, []byte(name)...)
	return key
}
