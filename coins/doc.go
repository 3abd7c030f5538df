// SPDX-License-Identifier: ISC
// Copyright (c) 2014-2020 Bitmark Inc.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// coins implements the hierarchical unspent-output cache that sits
// between in-memory transaction validation and the persistent chain
// database, together with its name-registry overlay.
//
// A BackingView is the leaf of a stack of views; a CacheView is an
// in-memory overlay that may sit on a BackingView, on another
// CacheView, or on an ErrorCatcher wrapping either. Reads descend
// through the stack until they hit a layer that has the answer;
// writes accumulate locally until Flush pushes them one level down.
package coins
