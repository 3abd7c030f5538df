// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitmark-inc/nmcoind/coins"
	"github.com/bitmark-inc/nmcoind/fault"
)

// View is the leaf coins.BackingView backed by the LevelDB pools set
// up by Initialise. It carries no state of its own: every method
// reads or stages writes through the package-level Pool.
type View struct{}

// NewView returns the persistent coins.BackingView. Initialise must
// have already opened the database.
func NewView() View {
	return View{}
}

var bestBlockKey = []byte("best")

const iteratorBatchSize = 128

var errStopIteration = errors.New("storage: stop iteration")

func (View) GetCoin(outpoint wire.OutPoint) (coins.Coin, bool) {
	raw := Pool.Coins.Get(outpointKey(outpoint))
	if nil == raw {
		return coins.Coin{}, false
	}
	coin, ok := unpackCoin(raw)
	if !ok {
		fault.Panic("storage: corrupt coin record")
	}
	return coin, true
}

func (View) HaveCoin(outpoint wire.OutPoint) bool {
	return Pool.Coins.Has(outpointKey(outpoint))
}

func (View) GetBestBlock() chainhash.Hash {
	raw := Pool.ChainMeta.Get(bestBlockKey)
	if nil == raw || chainhash.HashSize != len(raw) {
		return chainhash.Hash{}
	}
	var hash chainhash.Hash
	copy(hash[:], raw)
	return hash
}

// GetHeadBlocks reports the tip the database currently commits to.
// Writes through BatchWrite are committed as a single atomic LevelDB
// batch, so there is never more than one head block at rest.
func (v View) GetHeadBlocks() []chainhash.Hash {
	best := v.GetBestBlock()
	if (chainhash.Hash{}) == best {
		return nil
	}
	return []chainhash.Hash{best}
}

// BatchWrite stages every coin and name-registry change onto a fresh
// database batch and commits it atomically. coinMap is consumed as
// it is processed, matching CacheView.BatchWrite's contract.
func (View) BatchWrite(coinMap map[wire.OutPoint]*coins.CacheEntry, bestBlock chainhash.Hash, names *coins.NameDelta) error {
	access, err := Begin()
	if nil != err {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			access.Abort()
		}
	}()

	for outpoint, entry := range coinMap {
		delete(coinMap, outpoint)
		if !entry.Flags.IsDirty() {
			continue
		}
		key := outpointKey(outpoint)
		if entry.Coin.IsSpent() {
			Pool.Coins.Delete(key)
		} else {
			Pool.Coins.Put(key, packCoin(entry.Coin))
		}
	}

	Pool.ChainMeta.Put(bestBlockKey, bestBlock[:])

	if nil != names {
		applyNameDelta(names)
	}

	if err := access.Commit(); nil != err {
		return err
	}
	committed = true
	return nil
}

// applyNameDelta writes a flushed NameDelta into the Names,
// NameHistory and NameExpiry pools.
func applyNameDelta(names *coins.NameDelta) {
	for name := range names.Deletions {
		Pool.Names.Delete([]byte(name))
	}
	for name, data := range names.Changes {
		Pool.Names.Put([]byte(name), packNameRecord(data))
	}
	for name, history := range names.HistoryPatch {
		rewriteNameHistory(name, history)
	}
	for height, patch := range names.ExpiryPatch {
		for name, present := range patch {
			key := expiryKey(height, name)
			if present {
				Pool.NameExpiry.Put(key, []byte{})
			} else {
				Pool.NameExpiry.Delete(key)
			}
		}
	}
}

// rewriteNameHistory replaces the entire stored history stack for
// name with history. The delta only carries the resulting stack, not
// the individual pushes/pops that produced it, so the simplest
// correct update is to delete every existing record for this name and
// write the stack back from scratch.
func rewriteNameHistory(name string, history []coins.NameData) {
	deleteNameHistory(name)
	for _, data := range history {
		Pool.NameHistory.Put(nameHistoryKey(name, data.Height), packNameRecord(data))
	}
}

func deleteNameHistory(name string) {
	prefix := []byte(name)
	cursor := Pool.NameHistory.NewFetchCursor().Seek(prefix)
	var stale [][]byte
	for {
		elements, err := cursor.Fetch(64)
		fault.PanicIfError("storage: name history scan", err)
		if 0 == len(elements) {
			break
		}
		stop := false
		for _, e := range elements {
			if len(e.Key) != len(prefix)+8 || !bytes.Equal(e.Key[:len(prefix)], prefix) {
				stop = true
				break
			}
			stale = append(stale, e.Key)
		}
		if stop || len(elements) < 64 {
			break
		}
	}
	for _, key := range stale {
		Pool.NameHistory.Delete(key)
	}
}

func (View) GetName(name string) (coins.NameData, bool) {
	raw := Pool.Names.Get([]byte(name))
	if nil == raw {
		return coins.NameData{}, false
	}
	data, ok := unpackNameRecord(raw)
	if !ok {
		fault.Panic("storage: corrupt name record")
	}
	return data, true
}

// GetNameHistory returns name's superseded records oldest-first,
// exploiting the big-endian height suffix of the "H" table's keys to
// get chronological order for free from the LevelDB key ordering.
func (View) GetNameHistory(name string) ([]coins.NameData, bool) {
	prefix := []byte(name)
	cursor := Pool.NameHistory.NewFetchCursor().Seek(prefix)

	var history []coins.NameData
	for {
		elements, err := cursor.Fetch(64)
		fault.PanicIfError("storage: name history scan", err)
		if 0 == len(elements) {
			break
		}
		stop := false
		for _, e := range elements {
			if len(e.Key) != len(prefix)+8 || !bytes.Equal(e.Key[:len(prefix)], prefix) {
				stop = true
				break
			}
			data, ok := unpackNameRecord(e.Value)
			if !ok {
				fault.Panic("storage: corrupt name history record")
			}
			history = append(history, data)
		}
		if stop || len(elements) < 64 {
			break
		}
	}
	return history, 0 != len(history)
}

func (View) GetNamesForHeight(height int32) (map[string]struct{}, bool) {
	hkey := heightKey(height)
	cursor := Pool.NameExpiry.NewFetchCursor().Seek(hkey)

	names := make(map[string]struct{})
	for {
		elements, err := cursor.Fetch(64)
		fault.PanicIfError("storage: name expiry scan", err)
		if 0 == len(elements) {
			break
		}
		stop := false
		for _, e := range elements {
			if len(e.Key) < 8 || !bytes.Equal(e.Key[:8], hkey) {
				stop = true
				break
			}
			names[string(e.Key[8:])] = struct{}{}
		}
		if stop || len(elements) < 64 {
			break
		}
	}
	return names, 0 != len(names)
}

// ValidateNameDB walks the current name table verifying that every
// record decodes and has a matching expiry-index entry, aborting
// early if interrupt returns true.
func (View) ValidateNameDB(interrupt func() bool) bool {
	valid := true
	err := Pool.Names.NewFetchCursor().Map(func(key, value []byte) error {
		if nil != interrupt && interrupt() {
			return errStopIteration
		}
		data, ok := unpackNameRecord(value)
		if !ok {
			valid = false
			return nil
		}
		if !Pool.NameExpiry.Has(expiryKey(data.ExpiresAt, string(key))) {
			valid = false
		}
		return nil
	})
	if nil != err && errStopIteration != err {
		valid = false
	}
	return valid
}

func (View) IterateNames() coins.NameIterator {
	return &storeNameIterator{cursor: Pool.Names.NewFetchCursor()}
}

// storeNameIterator walks the Names pool in key order, one fetch
// batch at a time.
type storeNameIterator struct {
	cursor    *FetchCursor
	buffer    []Element
	idx       int
	exhausted bool

	curName string
	curData coins.NameData
}

func (it *storeNameIterator) Next() bool {
	for it.idx >= len(it.buffer) {
		if it.exhausted {
			return false
		}
		elements, err := it.cursor.Fetch(iteratorBatchSize)
		fault.PanicIfError("storage: name iteration", err)
		if len(elements) < iteratorBatchSize {
			it.exhausted = true
		}
		if 0 == len(elements) {
			return false
		}
		it.buffer = elements
		it.idx = 0
	}

	e := it.buffer[it.idx]
	it.idx++
	data, ok := unpackNameRecord(e.Value)
	if !ok {
		fault.Panic("storage: corrupt name record during iteration")
	}
	it.curName = string(e.Key)
	it.curData = data
	return true
}

func (it *storeNameIterator) Name() string         { return it.curName }
func (it *storeNameIterator) Data() coins.NameData { return it.curData }

func (View) EstimateSize() (uint64, error) {
	return DatabaseSize()
}

// Cursor walks every stored unspent coin in outpoint key order.
func (View) Cursor() coins.CoinIterator {
	return &storeCoinIterator{cursor: Pool.Coins.NewFetchCursor()}
}

// storeCoinIterator walks the Coins pool in key order, one fetch
// batch at a time, decoding each record as it goes.
type storeCoinIterator struct {
	cursor    *FetchCursor
	buffer    []Element
	idx       int
	exhausted bool

	curOutpoint wire.OutPoint
	curCoin     coins.Coin
}

func (it *storeCoinIterator) Next() bool {
	for it.idx >= len(it.buffer) {
		if it.exhausted {
			return false
		}
		elements, err := it.cursor.Fetch(iteratorBatchSize)
		fault.PanicIfError("storage: coin iteration", err)
		if len(elements) < iteratorBatchSize {
			it.exhausted = true
		}
		if 0 == len(elements) {
			return false
		}
		it.buffer = elements
		it.idx = 0
	}

	e := it.buffer[it.idx]
	it.idx++
	outpoint, ok := decodeOutpointKey(e.Key)
	if !ok {
		fault.Panic("storage: corrupt outpoint key during iteration")
	}
	coin, ok := unpackCoin(e.Value)
	if !ok {
		fault.Panic("storage: corrupt coin record during iteration")
	}
	it.curOutpoint = outpoint
	it.curCoin = coin
	return true
}

func (it *storeCoinIterator) OutPoint() wire.OutPoint { return it.curOutpoint }
func (it *storeCoinIterator) Coin() coins.Coin        { return it.curCoin }
