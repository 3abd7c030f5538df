// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins

import (
	"fmt"
	"os"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/bitmark-inc/logger"
)

// NameIterator yields names in key order; Next must be called before
// the first Name()/Data() pair. Iteration is forward-only,
// single-pass and not restartable.
type NameIterator interface {
	Next() bool
	Name() string
	Data() NameData
}

type emptyNameIterator struct{}

func (emptyNameIterator) Next() bool      { return false }
func (emptyNameIterator) Name() string    { return "" }
func (emptyNameIterator) Data() NameData  { return NameData{} }

// CoinIterator walks stored unspent coins in outpoint key order, for
// offline whole-set traversal (statistics, database verification).
// Like NameIterator it is forward-only, single-pass and not
// restartable.
type CoinIterator interface {
	Next() bool
	OutPoint() wire.OutPoint
	Coin() Coin
}

type emptyCoinIterator struct{}

func (emptyCoinIterator) Next() bool              { return false }
func (emptyCoinIterator) OutPoint() wire.OutPoint { return wire.OutPoint{} }
func (emptyCoinIterator) Coin() Coin              { return Coin{} }

// BackingView is the read/write contract exposed by every layer of
// the coin-view stack: the persistent store at the leaf, and every
// CacheView stacked above it.
type BackingView interface {
	GetCoin(outpoint wire.OutPoint) (Coin, bool)
	HaveCoin(outpoint wire.OutPoint) bool
	GetBestBlock() chainhash.Hash
	GetHeadBlocks() []chainhash.Hash
	BatchWrite(coins map[wire.OutPoint]*CacheEntry, bestBlock chainhash.Hash, names *NameDelta) error

	GetName(name string) (NameData, bool)
	GetNameHistory(name string) ([]NameData, bool)
	GetNamesForHeight(height int32) (map[string]struct{}, bool)
	IterateNames() NameIterator
	ValidateNameDB(interrupt func() bool) bool

	EstimateSize() (uint64, error)
	Cursor() CoinIterator
}

// NullView supplies the abstract-root defaults:
// absent coins and names, an empty tip, and a no-op ValidateNameDB.
// Concrete backings embed it and override only what they store.
type NullView struct{}

func (NullView) GetCoin(wire.OutPoint) (Coin, bool) { return Coin{}, false }
func (NullView) HaveCoin(wire.OutPoint) bool        { return false }
func (NullView) GetBestBlock() chainhash.Hash       { return chainhash.Hash{} }
func (NullView) GetHeadBlocks() []chainhash.Hash    { return nil }

func (NullView) BatchWrite(map[wire.OutPoint]*CacheEntry, chainhash.Hash, *NameDelta) error {
	return nil
}

func (NullView) GetName(string) (NameData, bool)                     { return NameData{}, false }
func (NullView) GetNameHistory(string) ([]NameData, bool)            { return nil, false }
func (NullView) GetNamesForHeight(int32) (map[string]struct{}, bool) { return nil, false }
func (NullView) IterateNames() NameIterator                          { return emptyNameIterator{} }
func (NullView) ValidateNameDB(func() bool) bool                     { return false }
func (NullView) EstimateSize() (uint64, error)                       { return 0, nil }
func (NullView) Cursor() CoinIterator                                { return emptyCoinIterator{} }

// ErrorCatcher forwards every operation to a backing view unchanged,
// except that GetCoin converts any read fault raised by the backing
// store (a panic, since the backing view has no other channel for
// "this should never happen") into: running every registered
// callback, logging, then terminating the process. Returning "coin
// not found" on an I/O fault would read to consensus code as "output
// absent", silently corrupting validation, so reads are all-or-abort.
type ErrorCatcher struct {
	BackingView

	lock      sync.Mutex
	callbacks []func(error)
}

// NewErrorCatcher wraps parent so that read faults abort the process.
func NewErrorCatcher(parent BackingView) *ErrorCatcher {
	return &ErrorCatcher{BackingView: parent}
}

// AddReadErrorCallback registers a callback invoked before the
// process terminates on a read fault, typically to trigger shutdown
// signalling of other subsystems.
func (e *ErrorCatcher) AddReadErrorCallback(cb func(error)) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// GetCoin is the designated recover() boundary for backing-store read
// faults; see the type comment.
func (e *ErrorCatcher) GetCoin(outpoint wire.OutPoint) (coin Coin, ok bool) {
	defer func() {
		r := recover()
		if nil == r {
			return
		}

		err := fmt.Errorf("%v", r)

		e.lock.Lock()
		callbacks := append([]func(error){}, e.callbacks...)
		e.lock.Unlock()

		for _, cb := range callbacks {
			cb(err)
		}

		logger.Criticalf("coins: backing store read fault for %s: %s", outpoint, err)
		os.Exit(1)
	}()
	return e.BackingView.GetCoin(outpoint)
}
