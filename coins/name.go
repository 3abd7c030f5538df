// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins

// NameData is the current registration record for one name.
type NameData struct {
	Value     []byte // opaque registration payload
	Address   []byte // owner's locking script
	Height    int32  // height the record was written at
	ExpiresAt int32  // height at which the record expires
}

// Equal reports whether two name records carry the same payload,
// used to assert that an undo replay is consistent.
func (d NameData) Equal(other NameData) bool {
	if d.Height != other.Height || d.ExpiresAt != other.ExpiresAt {
		return false
	}
	if len(d.Value) != len(other.Value) || len(d.Address) != len(other.Address) {
		return false
	}
	for i := range d.Value {
		if d.Value[i] != other.Value[i] {
			return false
		}
	}
	for i := range d.Address {
		if d.Address[i] != other.Address[i] {
			return false
		}
	}
	return true
}

// NameDelta is the set of local name-registry edits accumulated by a
// cache view: changed records, deletions, per-name history overrides
// (most-recently-superseded last) and an expiration-index patch. It
// is never a read-through cache: history and height-indexed queries
// must always see the parent's ground truth overlaid with these
// edits. Exported so a persistent BackingView outside this package
// can apply a flushed delta to its own storage.
type NameDelta struct {
	Changes      map[string]NameData
	Deletions    map[string]struct{}
	HistoryPatch map[string][]NameData
	ExpiryPatch  map[int32]map[string]bool // height -> name -> present(true)/removed(false)
}

func newNameDelta() *NameDelta {
	return &NameDelta{
		Changes:      make(map[string]NameData),
		Deletions:    make(map[string]struct{}),
		HistoryPatch: make(map[string][]NameData),
		ExpiryPatch:  make(map[int32]map[string]bool),
	}
}

func (d *NameDelta) empty() bool {
	return 0 == len(d.Changes) && 0 == len(d.Deletions) && 0 == len(d.HistoryPatch) && 0 == len(d.ExpiryPatch)
}

func (d *NameDelta) markExpiry(height int32, name string, present bool) {
	m, ok := d.ExpiryPatch[height]
	if !ok {
		m = make(map[string]bool)
		d.ExpiryPatch[height] = m
	}
	m[name] = present
}

// setChange records a new current value for a name; a
// name in the deletion set is never simultaneously in the change map.
func (d *NameDelta) setChange(name string, data NameData) {
	delete(d.Deletions, name)
	d.Changes[name] = data
}

// setDeleted records that a name has been removed, keeping the change map and deletion set mutually exclusive.
func (d *NameDelta) setDeleted(name string) {
	delete(d.Changes, name)
	d.Deletions[name] = struct{}{}
}
