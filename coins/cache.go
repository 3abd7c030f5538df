// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitmark-inc/nmcoind/fault"
	"github.com/bitmark-inc/nmcoind/trace"
)

// mapOverheadPerEntry approximates the bucket/bookkeeping cost the Go
// map runtime adds per stored entry, independent of the coin payload
// itself; the coin payload's own footprint is tracked separately by
// Coin.DynamicMemoryUsage.
const mapOverheadPerEntry = 57

// CacheView is an in-memory overlay stacked atop a BackingView. Reads
// that miss locally descend to the parent; writes accumulate in the
// entries map until Flush pushes them one level down.
//
// A CacheView is single-threaded within its own lifetime: callers
// must serialise their own access to any mutating method, and reads
// are not safe against concurrent mutation either, since a miss on
// fetchCoin populates the local map.
type CacheView struct {
	parent BackingView

	entries map[wire.OutPoint]*CacheEntry
	usage   int

	best    chainhash.Hash
	bestSet bool

	names          *NameDelta
	historyEnabled bool
}

// NewCacheView stacks a fresh cache atop parent. historyEnabled
// controls whether SetName/DeleteName maintain the per-name history
// stack (disabled during, e.g., mempool-only validation where no
// chain reorganisation can occur).
func NewCacheView(parent BackingView, historyEnabled bool) *CacheView {
	return &CacheView{
		parent:         parent,
		entries:        make(map[wire.OutPoint]*CacheEntry),
		names:          newNameDelta(),
		historyEnabled: historyEnabled,
	}
}

// rawCoinAccessor is implemented by CacheView so that a stacked
// child's fetchCoin can see the parent's literal stored coin,
// including a spent-and-DIRTY tombstone, rather than the
// present-only-if-unspent view that the public BackingView.GetCoin
// contract exposes. A plain backing store never holds tombstones, so
// it needs no such escape hatch and is reached through GetCoin.
type rawCoinAccessor interface {
	fetchCoinRaw(outpoint wire.OutPoint) (Coin, bool)
}

func (c *CacheView) fetchCoinRaw(outpoint wire.OutPoint) (Coin, bool) {
	if e, ok := c.entries[outpoint]; ok {
		return e.Coin, true
	}
	if up, ok := c.parent.(rawCoinAccessor); ok {
		return up.fetchCoinRaw(outpoint)
	}
	return c.parent.GetCoin(outpoint)
}

// fetchCoin returns the local entry for outpoint, pulling it through
// from the parent chain on first access. It returns nil when
// the outpoint is absent everywhere in the stack.
func (c *CacheView) fetchCoin(outpoint wire.OutPoint) *CacheEntry {
	if e, ok := c.entries[outpoint]; ok {
		return e
	}
	coin, ok := c.fetchCoinRaw(outpoint)
	if !ok {
		return nil
	}
	entry := &CacheEntry{Coin: coin}
	if coin.IsSpent() {
		// The parent has nothing live here; our copy asserts absence.
		entry.Flags = FlagFresh
	}
	c.entries[outpoint] = entry
	c.usage += entry.Coin.DynamicMemoryUsage()
	return entry
}

// AccessCoin returns a reference to the locally held coin, or the
// shared empty-coin sentinel on absence. Never nil.
func (c *CacheView) AccessCoin(outpoint wire.OutPoint) *Coin {
	entry := c.fetchCoin(outpoint)
	if nil == entry {
		return &emptyCoin
	}
	return &entry.Coin
}

// GetCoin copies the coin at outpoint out, reporting present only if
// it is not spent.
func (c *CacheView) GetCoin(outpoint wire.OutPoint) (Coin, bool) {
	entry := c.fetchCoin(outpoint)
	if nil == entry || entry.Coin.IsSpent() {
		return Coin{}, false
	}
	return entry.Coin, true
}

// HaveCoin reports presence-and-unspent, descending to the parent on
// a local miss.
func (c *CacheView) HaveCoin(outpoint wire.OutPoint) bool {
	_, ok := c.GetCoin(outpoint)
	return ok
}

// HaveCoinInCache is the local-only variant of HaveCoin: it never
// touches the parent chain.
func (c *CacheView) HaveCoinInCache(outpoint wire.OutPoint) bool {
	e, ok := c.entries[outpoint]
	return ok && !e.Coin.IsSpent()
}

// isUnspendable reports whether pkScript can never be redeemed; such
// outputs are never stored in the cache. Follows the
// bitcoind CTxOut::IsNull-adjacent classification: an OP_RETURN
// output, or one whose script is implausibly large, carries no
// spendable value.
func isUnspendable(pkScript []byte) bool {
	const maxStandardScriptSize = 10000
	if len(pkScript) > maxStandardScriptSize {
		return true
	}
	return len(pkScript) > 0 && pkScript[0] == txscript.OP_RETURN
}

// AddCoin installs coin at outpoint. possibleOverwrite must be true
// whenever the caller cannot prove the outpoint is not already live
// locally (e.g. ordinary spend-then-recreate); passing false when a
// live coin is already cached is a consensus contract violation and
// aborts.
func (c *CacheView) AddCoin(outpoint wire.OutPoint, coin Coin, possibleOverwrite bool) {
	if coin.IsSpent() {
		fault.Panic("coins: AddCoin called with an already-spent coin")
	}
	if isUnspendable(coin.Out.PkScript) {
		return
	}

	entry, existed := c.entries[outpoint]
	if !existed {
		entry = &CacheEntry{Coin: Coin{Out: wire.TxOut{Value: spentValue}}}
		c.entries[outpoint] = entry
	} else {
		c.usage -= entry.Coin.DynamicMemoryUsage()
	}

	fresh := false
	if !possibleOverwrite {
		if !entry.Coin.IsSpent() {
			fault.Panic("coins: AddCoin attempted to overwrite an unspent coin without possibleOverwrite")
		}
		// A spent-but-DIRTY entry hasn't had its spentness flushed to
		// the parent yet; re-adding it here can't be marked FRESH or a
		// flush-then-spend-again sequence would drop the tombstone.
		fresh = !entry.Flags.IsDirty()
	}

	entry.Coin = coin
	entry.Flags |= FlagDirty
	if fresh {
		entry.Flags |= FlagFresh
	}
	c.usage += entry.Coin.DynamicMemoryUsage()

	trace.Publish(trace.EventCoinAdded, encodeCoinEvent(outpoint, coin))
}

// AddCoins adds every output of tx as a new coin at height. With
// checkOverwrite set, AddCoin is told an outpoint might already be
// live exactly when HaveCoin reports it live. Without it, every
// output of a coinbase transaction may overwrite, so that pre-BIP30
// duplicate coinbases are handled correctly, and no output of a
// non-coinbase transaction may.
func AddCoins(cache *CacheView, tx *wire.MsgTx, height int32, checkOverwrite bool) {
	isCoinbase := blockchain.IsCoinBaseTx(tx)
	txHash := tx.TxHash()

	for i, out := range tx.TxOut {
		outpoint := wire.OutPoint{Hash: txHash, Index: uint32(i)}
		possibleOverwrite := isCoinbase
		if checkOverwrite {
			possibleOverwrite = cache.HaveCoin(outpoint)
		}
		cache.AddCoin(outpoint, NewCoin(*out, height, isCoinbase), possibleOverwrite)
	}
}

// SpendCoin marks the coin at outpoint spent, optionally moving its
// pre-spend value into moveout for undo-record construction. It
// returns false if outpoint resolves to nothing anywhere in the
// stack.
func (c *CacheView) SpendCoin(outpoint wire.OutPoint, moveout *Coin) bool {
	entry := c.fetchCoin(outpoint)
	if nil == entry {
		return false
	}

	trace.Publish(trace.EventCoinSpent, encodeCoinEvent(outpoint, entry.Coin))

	if nil != moveout {
		*moveout = entry.Coin
	}

	c.usage -= entry.Coin.DynamicMemoryUsage()
	if entry.Flags.IsFresh() {
		// The parent has nothing; spending returns us to nothing, so
		// there is no need to signal it downward at all.
		delete(c.entries, outpoint)
		return true
	}

	entry.Flags |= FlagDirty
	entry.Coin.Clear()
	c.usage += entry.Coin.DynamicMemoryUsage()
	return true
}

// BatchWrite merges a child cache's delta into this view.
// The child map is consumed: every entry is removed as it is
// processed, and the map is empty when BatchWrite returns.
func (c *CacheView) BatchWrite(childMap map[wire.OutPoint]*CacheEntry, childBest chainhash.Hash, childNames *NameDelta) error {
	for outpoint, ce := range childMap {
		delete(childMap, outpoint)

		if !ce.Flags.IsDirty() {
			continue
		}

		u, exists := c.entries[outpoint]
		if !exists {
			if ce.Flags.IsFresh() && ce.Coin.IsSpent() {
				continue
			}
			nu := &CacheEntry{Coin: ce.Coin, Flags: FlagDirty}
			if ce.Flags.IsFresh() {
				nu.Flags |= FlagFresh
			}
			c.entries[outpoint] = nu
			c.usage += nu.Coin.DynamicMemoryUsage()
			continue
		}

		if ce.Flags.IsFresh() && !u.Coin.IsSpent() {
			fault.Panic("coins: BatchWrite: FRESH flag misapplied to a coin that exists in the parent cache")
		}

		if u.Flags.IsFresh() && ce.Coin.IsSpent() {
			c.usage -= u.Coin.DynamicMemoryUsage()
			delete(c.entries, outpoint)
			continue
		}

		c.usage -= u.Coin.DynamicMemoryUsage()
		u.Coin = ce.Coin
		u.Flags |= FlagDirty
		// Never propagate FRESH here: this layer may already have
		// committed the prior value downward, so it cannot reassert
		// parent-absence on the child's behalf.
		c.usage += u.Coin.DynamicMemoryUsage()
	}

	c.best = childBest
	c.bestSet = true

	if nil != childNames {
		c.applyNameDelta(childNames)
	}
	return nil
}

// Flush pushes this view's accumulated delta into its parent and
// clears local state. It is a no-op success when nothing has ever
// been cached: an empty best-block hash with an empty coin map and
// name delta, which lets mempool validation flush a freshly
// constructed cache safely.
func (c *CacheView) Flush() error {
	if (chainhash.Hash{}) == c.best && 0 == len(c.entries) && c.names.empty() {
		return nil
	}

	if err := c.parent.BatchWrite(c.entries, c.GetBestBlock(), c.names); err != nil {
		return err
	}

	c.entries = make(map[wire.OutPoint]*CacheEntry)
	c.usage = 0
	c.names = newNameDelta()
	return nil
}

// Uncache drops a purely read-through entry (no flags set). Entries
// carrying any pending state are retained.
func (c *CacheView) Uncache(outpoint wire.OutPoint) {
	e, ok := c.entries[outpoint]
	if !ok || 0 != e.Flags {
		return
	}
	c.usage -= e.Coin.DynamicMemoryUsage()
	delete(c.entries, outpoint)
	trace.Publish(trace.EventCoinUncached, encodeCoinEvent(outpoint, e.Coin))
}

// DynamicMemoryUsage reports the map's own bookkeeping overhead plus
// the tracked payload bytes of every cached coin.
func (c *CacheView) DynamicMemoryUsage() int {
	return len(c.entries)*mapOverheadPerEntry + c.usage
}

// GetCacheSize reports the number of cached coin entries, ignoring
// name-cache state.
func (c *CacheView) GetCacheSize() int {
	return len(c.entries)
}

// HaveInputs reports whether every non-coinbase input of tx resolves
// to a live coin.
func (c *CacheView) HaveInputs(tx *wire.MsgTx) bool {
	if blockchain.IsCoinBaseTx(tx) {
		return true
	}
	for _, in := range tx.TxIn {
		if !c.HaveCoin(in.PreviousOutPoint) {
			return false
		}
	}
	return true
}

// ReallocateCache destructively reinitialises the coin map so the
// allocator can release free-list growth accumulated by a
// long-running cache. The map must be empty.
func (c *CacheView) ReallocateCache() {
	if 0 != len(c.entries) {
		fault.Panic("coins: ReallocateCache called on a non-empty cache")
	}
	c.entries = make(map[wire.OutPoint]*CacheEntry)
}

// EmplaceCoinInternalDANGER inserts coin directly, bypassing the
// unspendable-script filter and leaving FRESH exactly as requested
// instead of deriving it. It exists to let tests construct cache
// states (e.g. an already-FRESH|DIRTY entry) that AddCoin would
// otherwise refuse to build; production code must never call it.
func (c *CacheView) EmplaceCoinInternalDANGER(outpoint wire.OutPoint, coin Coin, dirty, fresh bool) {
	if old, ok := c.entries[outpoint]; ok {
		c.usage -= old.Coin.DynamicMemoryUsage()
	}
	entry := &CacheEntry{Coin: coin}
	if dirty {
		entry.Flags |= FlagDirty
	}
	if fresh {
		entry.Flags |= FlagFresh
	}
	c.entries[outpoint] = entry
	c.usage += entry.Coin.DynamicMemoryUsage()
}

// GetBestBlock returns this view's best-block hash, latching it from
// the parent chain on first access.
func (c *CacheView) GetBestBlock() chainhash.Hash {
	if !c.bestSet {
		c.best = c.parent.GetBestBlock()
		c.bestSet = true
	}
	return c.best
}

// GetHeadBlocks defers to the parent chain; only a persistent backing
// store meaningfully tracks an interrupted mid-commit head.
func (c *CacheView) GetHeadBlocks() []chainhash.Hash {
	return c.parent.GetHeadBlocks()
}

// SetBestBlock records the tip this view's cached state now reflects.
func (c *CacheView) SetBestBlock(hash chainhash.Hash) {
	c.best = hash
	c.bestSet = true
}

// EstimateSize defers to the underlying backing store; a cache view
// has no persisted footprint of its own.
func (c *CacheView) EstimateSize() (uint64, error) {
	return c.parent.EstimateSize()
}

// Cursor defers to the parent chain: a cache holds only a partial
// overlay, so offline whole-set iteration is meaningful at the
// persistent leaf alone.
func (c *CacheView) Cursor() CoinIterator {
	return c.parent.Cursor()
}

// AccessByTxid returns the first live coin among outputs 0..
// MaxOutputsPerBlock of txid, or the empty-coin sentinel if none is
// live. Used for legacy duplicate-coinbase checks and other
// outpoint-less lookups.
func AccessByTxid(view BackingView, txid chainhash.Hash) *Coin {
	for i := uint32(0); i < MaxOutputsPerBlock; i++ {
		if coin, ok := view.GetCoin(wire.OutPoint{Hash: txid, Index: i}); ok {
			c := coin
			return &c
		}
	}
	return &emptyCoin
}

// encodeCoinEvent packs the tuple (txid, index, height, value,
// coinbase) that the trace side channel publishes for add/spend/
// uncache transitions.
func encodeCoinEvent(outpoint wire.OutPoint, coin Coin) []byte {
	buf := make([]byte, chainhash.HashSize+4+4+8+1)
	copy(buf, outpoint.Hash[:])
	binary.BigEndian.PutUint32(buf[chainhash.HashSize:], outpoint.Index)
	binary.BigEndian.PutUint32(buf[chainhash.HashSize+4:], uint32(coin.Height))
	binary.BigEndian.PutUint64(buf[chainhash.HashSize+8:], uint64(coin.Out.Value))
	if coin.IsCoinBase {
		buf[chainhash.HashSize+16] = 1
	}
	return buf
}
