// Copyright (c) 2014-2017 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// persistent key/value storage backing the chain state
//
// maintains a single LevelDB database split into a series of
// tables (pools). Each table is defined by a prefix byte obtained
// from the prefix tag on the struct defining the available tables.
//
// Notes:
// 1. each separate pool has a single byte prefix (to spread the keys in LevelDB)
// 2. ++             = concatenation of byte data
// 3. height         = block height as big endian uint64 (8 bytes)
// 4. outpoint       = txid (32 bytes) ++ output index (varint)
// 5. name           = namecoin name key, arbitrary byte string up to 255 bytes
//
// Tables:
//
//   C ++ outpoint               - unspent coin store
//                                  data: packed coin (height ++ coinbase flag ++ value ++ script)
//   N ++ name                    - current winning registration for a name
//                                  data: packed name record (value ++ address ++ height ++ expiry)
//   H ++ name ++ height          - historic registration for a name at a height,
//                                  superseded by the current record at the time it
//                                  was written; height is stored big-endian so that
//                                  a range scan returns a name's history oldest-first
//                                  data: packed name record (value ++ address ++ height ++ expiry)
//   E ++ height ++ name          - expiration index: names that expire at height
//                                  data: empty
//   M ++ key                     - chain metadata (best block hash)
//
package storage
