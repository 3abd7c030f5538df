// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins

import (
	"github.com/btcsuite/btcd/wire"
)

// Coin is a spendable output together with the height at which it was
// created and whether that creating transaction was a coinbase.
//
// A coin becomes "spent" once Clear is called on it; spentness is
// represented by a sentinel value (Value == -1) rather than a
// separate boolean so that a Coin can be passed around by value and
// still carry its own spent-ness, mirroring the Coin/Out pairing of
// the backing transaction output.
type Coin struct {
	Out        wire.TxOut
	Height     int32
	IsCoinBase bool
}

// spentValue is the sentinel TxOut.Value of a cleared coin.
const spentValue = -1

// NewCoin wraps an output at the given creation height.
func NewCoin(out wire.TxOut, height int32, isCoinBase bool) Coin {
	return Coin{Out: out, Height: height, IsCoinBase: isCoinBase}
}

// emptyCoin is the shared, process-wide sentinel returned by
// AccessCoin on a cache miss; callers must never mutate it.
var emptyCoin = Coin{Out: wire.TxOut{Value: spentValue}}

// IsSpent reports whether this coin has been cleared.
func (c *Coin) IsSpent() bool {
	return c.Out.Value == spentValue
}

// Clear marks the coin spent and releases its payload.
func (c *Coin) Clear() {
	c.Out.Value = spentValue
	c.Out.PkScript = nil
	c.Height = 0
	c.IsCoinBase = false
}

// DynamicMemoryUsage approximates the heap footprint attributable to
// this coin beyond the fixed size of the Coin struct itself: the
// backing array of the locking script plus a fixed per-entry
// allocator/bookkeeping overhead.
func (c *Coin) DynamicMemoryUsage() int {
	const perEntryOverhead = 32
	return perEntryOverhead + len(c.Out.PkScript)
}

// CacheFlags tags a CacheEntry with the DIRTY/FRESH distinction
// described in the invariants: DIRTY means "differs from parent",
// FRESH means "parent has nothing live here". It is exported, along
// with CacheEntry, so that a concrete BackingView outside this
// package (the persistent store) can implement BatchWrite.
type CacheFlags uint8

const (
	FlagDirty CacheFlags = 1 << 0
	FlagFresh CacheFlags = 1 << 1
)

func (f CacheFlags) IsDirty() bool { return f&FlagDirty != 0 }
func (f CacheFlags) IsFresh() bool { return f&FlagFresh != 0 }

// CacheEntry is the in-memory value held for one outpoint in a
// CacheView's coin map.
type CacheEntry struct {
	Coin  Coin
	Flags CacheFlags
}

// MaxOutputsPerBlock bounds the linear scan performed by
// AccessByTxid: the maximum number of transaction outputs that could
// conceivably fit in a single block, derived from the maximum block
// weight divided by the minimum serialized weight of one output.
const (
	maxBlockWeight         = 4_000_000
	minOutputSerializeSize = 9 // 8 byte value + 1 byte empty script length; scaled by witness factor 4 below
	MaxOutputsPerBlock     = maxBlockWeight / (minOutputSerializeSize * 4)
)
