// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/nmcoind/coins"
)

// The fault path of ErrorCatcher.GetCoin terminates the process and
// cannot be exercised in-process; these tests cover the pass-through
// behaviour that a healthy backing store sees.

func TestErrorCatcherForwardsReads(t *testing.T) {
	parent := newMemoryView()
	o := outpointAt(0x11, 0)
	parent.coinMap[o] = spendableCoin(42, 7, false)

	catcher := coins.NewErrorCatcher(parent)

	got, ok := catcher.GetCoin(o)
	assert.True(t, ok)
	assert.Equal(t, int64(42), got.Out.Value)

	_, ok = catcher.GetCoin(outpointAt(0x12, 0))
	assert.False(t, ok)

	assert.True(t, catcher.HaveCoin(o))
}

func TestErrorCatcherStacksUnderCache(t *testing.T) {
	parent := newMemoryView()
	o := outpointAt(0x13, 0)
	parent.coinMap[o] = spendableCoin(9, 3, false)

	catcher := coins.NewErrorCatcher(parent)
	cache := coins.NewCacheView(catcher, true)

	got, ok := cache.GetCoin(o)
	assert.True(t, ok)
	assert.Equal(t, int64(9), got.Out.Value)

	cache.SpendCoin(o, nil)
	assert.NoError(t, cache.Flush())
	assert.False(t, parent.HaveCoin(o))
}
