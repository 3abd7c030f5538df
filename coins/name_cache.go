// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package coins

import (
	"sort"

	"github.com/bitmark-inc/nmcoind/fault"
	"github.com/bitmark-inc/nmcoind/trace"
)

// GetName returns the current record for name: a local deletion wins
// over the parent, a local change wins over the parent, and
// otherwise the parent's ground truth is returned unmodified. The
// cache never caches unmodified parent answers.
func (c *CacheView) GetName(name string) (NameData, bool) {
	if _, deleted := c.names.Deletions[name]; deleted {
		return NameData{}, false
	}
	if d, ok := c.names.Changes[name]; ok {
		return d, true
	}
	return c.parent.GetName(name)
}

// GetNameHistory returns name's history stack: a local patch wins
// outright, otherwise the parent's history is returned.
func (c *CacheView) GetNameHistory(name string) ([]NameData, bool) {
	if h, ok := c.names.HistoryPatch[name]; ok {
		out := make([]NameData, len(h))
		copy(out, h)
		return out, true
	}
	return c.parent.GetNameHistory(name)
}

// GetNamesForHeight fetches the parent's set of names expiring at
// height, then applies any local expiry-index edits for that height.
// A parent miss short-circuits before local-only additions are
// considered: a height the parent has never indexed reports absent
// even when local edits mention it.
func (c *CacheView) GetNamesForHeight(height int32) (map[string]struct{}, bool) {
	base, ok := c.parent.GetNamesForHeight(height)
	if !ok {
		return nil, false
	}

	merged := make(map[string]struct{}, len(base))
	for name := range base {
		merged[name] = struct{}{}
	}
	if patch, ok := c.names.ExpiryPatch[height]; ok {
		for name, present := range patch {
			if present {
				merged[name] = struct{}{}
			} else {
				delete(merged, name)
			}
		}
	}
	return merged, true
}

// ValidateNameDB forwards to the parent; only a persistent backing
// store can meaningfully walk and validate the name database.
func (c *CacheView) ValidateNameDB(interrupt func() bool) bool {
	return c.parent.ValidateNameDB(interrupt)
}

// historyFor returns this view's local history patch for name,
// seeding it from the parent's history on first touch.
func (c *CacheView) historyFor(name string) []NameData {
	h, patched := c.names.HistoryPatch[name]
	if !patched {
		parentHist, _ := c.parent.GetNameHistory(name)
		h = append([]NameData{}, parentHist...)
	}
	return h
}

// SetName records a new current value for name. undo=false is the
// forward direction (a block is being connected): the superseded
// record, if any, is pushed onto the history stack. undo=true rewinds
// a previous SetName while disconnecting a block: the history top is
// popped and must equal data, the value now being restored.
func (c *CacheView) SetName(name string, data NameData, undo bool) {
	oldData, existed := c.GetName(name)
	if existed {
		c.names.markExpiry(oldData.ExpiresAt, name, false)

		if c.historyEnabled {
			h := c.historyFor(name)

			if undo {
				if 0 == len(h) || !h[len(h)-1].Equal(data) {
					fault.Panic("coins: SetName undo does not match the top of the name's history")
				}
				h = h[:len(h)-1]
			} else {
				h = append(h, oldData)
			}
			c.names.HistoryPatch[name] = h
		}
	} else if undo {
		fault.Panic("coins: SetName undo called for a name with no existing record")
	}

	c.names.setChange(name, data)
	c.names.markExpiry(data.ExpiresAt, name, true)

	trace.Publish(trace.EventNameSet, []byte(name))
}

// DeleteName removes name's current record. The name must currently
// exist, and when history tracking is enabled must have no
// remaining history (it is only sound to delete a name whose history
// has already unwound to nothing).
func (c *CacheView) DeleteName(name string) {
	oldData, existed := c.GetName(name)
	if !existed {
		fault.Panic("coins: DeleteName called for a name with no existing record")
	}
	c.names.markExpiry(oldData.ExpiresAt, name, false)

	if c.historyEnabled {
		if hist, ok := c.GetNameHistory(name); ok && len(hist) != 0 {
			fault.Panic("coins: DeleteName requires an empty history")
		}
	}

	c.names.setDeleted(name)
	trace.Publish(trace.EventNameDeleted, []byte(name))
}

// IterateNames returns a merging iterator over the parent's name
// stream overlaid with this view's local edits.
func (c *CacheView) IterateNames() NameIterator {
	return newMergingNameIterator(c.parent.IterateNames(), c.names)
}

// applyNameDelta superimposes a flushed child's name delta onto this
// view's own delta: every change, deletion, history patch and expiry
// patch is propagated, last-writer-wins. Change/deletion exclusivity
// is preserved because setChange/setDeleted each clear the other map
// by construction.
func (c *CacheView) applyNameDelta(child *NameDelta) {
	for name, data := range child.Changes {
		c.names.setChange(name, data)
	}
	for name := range child.Deletions {
		c.names.setDeleted(name)
	}
	for name, h := range child.HistoryPatch {
		c.names.HistoryPatch[name] = h
	}
	for height, patch := range child.ExpiryPatch {
		for name, present := range patch {
			c.names.markExpiry(height, name, present)
		}
	}
}

// mergingNameIterator composes a parent NameIterator with a set of
// local name-cache edits, yielding names in the parent's key order
// with deletions skipped, local overrides substituted, and
// local-only additions interleaved in their sorted position. It is
// forward-only, single-pass and not restartable.
type mergingNameIterator struct {
	parent    NameIterator
	deletions map[string]struct{}
	changes   map[string]NameData

	localNames []string
	localIdx   int
	parentOk   bool

	curName string
	curData NameData
}

func newMergingNameIterator(parent NameIterator, delta *NameDelta) *mergingNameIterator {
	names := make([]string, 0, len(delta.Changes))
	for name := range delta.Changes {
		names = append(names, name)
	}
	sort.Strings(names)

	it := &mergingNameIterator{
		parent:     parent,
		deletions:  delta.Deletions,
		changes:    delta.Changes,
		localNames: names,
	}
	it.parentOk = parent.Next()
	return it
}

func (it *mergingNameIterator) Next() bool {
	for {
		haveLocal := it.localIdx < len(it.localNames)

		if !it.parentOk && !haveLocal {
			return false
		}

		if it.parentOk && haveLocal {
			pname := it.parent.Name()
			lname := it.localNames[it.localIdx]
			switch {
			case lname < pname:
				it.emitLocal()
				if it.consumed() {
					continue
				}
				return true
			case lname > pname:
				if it.emitParent() {
					return true
				}
				continue
			default: // same name: the local change overrides the parent's value
				it.parentOk = it.parent.Next()
				it.emitLocal()
				if it.consumed() {
					continue
				}
				return true
			}
		}

		if haveLocal {
			it.emitLocal()
			if it.consumed() {
				continue
			}
			return true
		}

		if it.emitParent() {
			return true
		}
	}
}

// emitLocal stages the next local-only/override name as current.
func (it *mergingNameIterator) emitLocal() {
	name := it.localNames[it.localIdx]
	it.localIdx++
	it.curName = name
	it.curData = it.changes[name]
}

// emitParent stages the parent's current name as current, unless it
// has been locally deleted or overridden (the latter should already
// have been consumed by the equal-name branch of Next, but the check
// is kept as a defensive no-op). Returns false when the name must be
// skipped, in which case the parent cursor has already been
// advanced.
func (it *mergingNameIterator) emitParent() bool {
	name := it.parent.Name()
	data := it.parent.Data()
	it.parentOk = it.parent.Next()

	if _, deleted := it.deletions[name]; deleted {
		return false
	}
	if _, overridden := it.changes[name]; overridden {
		return false
	}

	it.curName = name
	it.curData = data
	return true
}

// consumed reports whether the just-staged local name must be
// skipped because it is in fact a local deletion; setChange/
// setDeleted make changes and deletions mutually exclusive, so
// this only ever trips on a stale delta, but the check costs nothing.
func (it *mergingNameIterator) consumed() bool {
	_, deleted := it.deletions[it.curName]
	return deleted
}

func (it *mergingNameIterator) Name() string   { return it.curName }
func (it *mergingNameIterator) Data() NameData { return it.curData }
