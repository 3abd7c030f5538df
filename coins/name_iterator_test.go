// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bitmark-inc/nmcoind/coins"
)

// sortedNameIterator walks a memoryView's name map in key order, the
// same contract a persistent backing's iterator provides.
type sortedNameIterator struct {
	view  *memoryView
	names []string
	idx   int
}

func (v *memoryView) IterateNames() coins.NameIterator {
	names := make([]string, 0, len(v.names))
	for name := range v.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return &sortedNameIterator{view: v, names: names}
}

func (it *sortedNameIterator) Next() bool {
	if it.idx >= len(it.names) {
		return false
	}
	it.idx++
	return true
}

func (it *sortedNameIterator) Name() string { return it.names[it.idx-1] }

func (it *sortedNameIterator) Data() coins.NameData {
	return it.view.names[it.names[it.idx-1]]
}

func collectNames(it coins.NameIterator) ([]string, map[string]coins.NameData) {
	order := []string{}
	data := make(map[string]coins.NameData)
	for it.Next() {
		order = append(order, it.Name())
		data[it.Name()] = it.Data()
	}
	return order, data
}

func TestIterateNamesMergesLocalEdits(t *testing.T) {
	parent := newMemoryView()
	parent.names["bob"] = coins.NameData{Value: []byte("b"), Height: 1, ExpiresAt: 10}
	parent.names["dave"] = coins.NameData{Value: []byte("d"), Height: 1, ExpiresAt: 10}
	parent.names["fred"] = coins.NameData{Value: []byte("f"), Height: 1, ExpiresAt: 10}

	cache := coins.NewCacheView(parent, true)

	// local-only addition before, between and after the parent's keys
	cache.SetName("alice", coins.NameData{Value: []byte("a"), Height: 2, ExpiresAt: 20}, false)
	cache.SetName("carol", coins.NameData{Value: []byte("c"), Height: 2, ExpiresAt: 20}, false)
	cache.SetName("zoe", coins.NameData{Value: []byte("z"), Height: 2, ExpiresAt: 20}, false)

	// local override of a parent name
	cache.SetName("dave", coins.NameData{Value: []byte("d2"), Height: 2, ExpiresAt: 20}, false)

	// local deletion of a parent name
	cache.DeleteName("fred")

	order, data := collectNames(cache.IterateNames())
	assert.Equal(t, []string{"alice", "bob", "carol", "dave", "zoe"}, order)
	assert.Equal(t, []byte("d2"), data["dave"].Value)
	assert.Equal(t, []byte("b"), data["bob"].Value)
}

func TestIterateNamesEmptyEverywhere(t *testing.T) {
	cache := coins.NewCacheView(newMemoryView(), true)
	order, _ := collectNames(cache.IterateNames())
	assert.Empty(t, order)
}

func TestIterateNamesLocalOnly(t *testing.T) {
	cache := coins.NewCacheView(newMemoryView(), true)
	cache.SetName("beta", coins.NameData{Value: []byte("2")}, false)
	cache.SetName("alpha", coins.NameData{Value: []byte("1")}, false)

	order, _ := collectNames(cache.IterateNames())
	assert.Equal(t, []string{"alpha", "beta"}, order)
}
