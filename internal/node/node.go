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

// Package node implements the HNSW Node (spec.md §3, §4.4, §6): the graph
// node itself, its fixed-capacity neighbor array with insert-or-evict
// ordering, and the on-disk record layout. A Node never holds a strong
// reference to another Node — neighbors, parent, child and the version
// root are all FileIndex values, resolved back to a live handle only by
// whichever cache owns the node graph. That keeps the object graph
// acyclic in memory even though the logical graph is not.
package node

import (
	"sort"
	"sync"

	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/offsets"
	"github.com/vortexdb/hnsw/internal/propstore"
)

// offsetNone is the sentinel written for an absent file offset.
const offsetNone = offsets.FileOffset(0xFFFFFFFF)
const locNone = propstore.Location(0xFFFFFFFF)

// FileIndex is a node's stable on-disk identity: which file, and the byte
// offset of its record header within that file. It is the "weak
// reference to Lazy Node" spec.md §3 describes — cheap to copy, stable
// across cache evictions, and distinguishable from "absent" via None.
type FileIndex struct {
	FileID offsets.IndexFileID
	Offset offsets.FileOffset
}

// None is the sentinel FileIndex meaning "no such reference".
var None = FileIndex{Offset: offsetNone}

// IsNone reports whether fi is the sentinel value.
func (fi FileIndex) IsNone() bool { return fi.Offset == offsetNone }

// Slot is one occupied neighbor entry. The array has no internal gaps:
// occupied slots are always the prefix [0, len).
type Slot struct {
	ID   distance.InternalID
	Ref  FileIndex
	Dist distance.MetricResult
}

// Node is one HNSW graph node — one version, at one level, of one
// logical embedding. All mutation of the neighbor array goes through
// AddNeighbor/RemoveNeighborByIndexAndID, which take the freeze lock
// internally; Freeze/Unfreeze let a traversal reader hold a longer-lived
// consistent snapshot across several slot reads.
type Node struct {
	Level   uint8
	Version uint32

	PropValue       propstore.Location
	HasPropMetadata bool
	PropMetadata    propstore.Location

	Parent FileIndex
	Child  FileIndex

	RootVersionRef  FileIndex
	HasRootVersion  bool

	// NextVersionFlag mirrors the on-disk byte at offset 41: non-zero
	// means unlinked, zero means NextVersion has been patched in.
	NextVersionFlag uint8
	NextVersion     FileIndex

	mu       sync.RWMutex
	capacity int
	slots    []Slot
}

// New creates an unlinked node with the given neighbor capacity
// (level_0_neighbors_count at level 0, else neighbors_count).
func New(level uint8, version uint32, propValue propstore.Location, capacity int) *Node {
	return &Node{
		Level:           level,
		Version:         version,
		PropValue:       propValue,
		PropMetadata:    locNone,
		Parent:          None,
		Child:           None,
		RootVersionRef:  None,
		NextVersionFlag: 1,
		NextVersion:     None,
		capacity:        capacity,
	}
}

// Freeze acquires the neighbor array's read-side lock, giving the caller
// a consistent snapshot across multiple Neighbors() calls. Unfreeze
// releases it. Mutations (AddNeighbor, RemoveNeighborByIndexAndID) take
// the write side internally and block until any Freeze is released.
func (n *Node) Freeze()   { n.mu.RLock() }
func (n *Node) Unfreeze() { n.mu.RUnlock() }

// Neighbors returns a snapshot copy of the occupied neighbor slots,
// nearest first. Callers wanting a multi-read consistent view should
// bracket their hop with Freeze/Unfreeze.
func (n *Node) Neighbors() []Slot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Slot, len(n.slots))
	copy(out, n.slots)
	return out
}

// Capacity returns the neighbor array's fixed size for this node's level.
func (n *Node) Capacity() int { return n.capacity }

// SetCapacity fixes the neighbor array's capacity after a Decode, once
// the caller has read n.Level and resolved it against the index's
// per-level hyperparameters (the record itself does not carry capacity,
// only the occupied neighbor count).
func (n *Node) SetCapacity(capacity int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.capacity = capacity
}

// AddNeighbor inserts (id, ref, dist) in descending-proximity order. It
// rejects a duplicate id, evicts the current worst slot if the array is
// full and dist is an improvement, and reports the resulting slot index,
// or ok=false if the array is full and dist does not improve on the
// worst resident (spec.md §4.4 invariant 1).
func (n *Node) AddNeighbor(id distance.InternalID, ref FileIndex, dist distance.MetricResult) (idx int, ok bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, s := range n.slots {
		if s.ID == id {
			return 0, false
		}
	}

	pos := sort.Search(len(n.slots), func(i int) bool {
		return !distance.Closer(n.slots[i].Dist, dist)
	})

	if len(n.slots) < n.capacity {
		n.slots = append(n.slots, Slot{})
		copy(n.slots[pos+1:], n.slots[pos:len(n.slots)-1])
		n.slots[pos] = Slot{ID: id, Ref: ref, Dist: dist}
		return pos, true
	}

	if pos >= n.capacity {
		// Not closer than the current worst resident: reject.
		return 0, false
	}

	copy(n.slots[pos+1:], n.slots[pos:n.capacity-1])
	n.slots[pos] = Slot{ID: id, Ref: ref, Dist: dist}
	return pos, true
}

// RemoveNeighborByIndexAndID removes the slot at idx only if it still
// holds id, matching the "CAS-removes only if the slot still matches"
// rollback semantics create_node_edges relies on.
func (n *Node) RemoveNeighborByIndexAndID(idx int, id distance.InternalID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if idx < 0 || idx >= len(n.slots) || n.slots[idx].ID != id {
		return false
	}
	n.slots = append(n.slots[:idx], n.slots[idx+1:]...)
	return true
}

// LinkNextVersion patches this node's in-memory next-version pointer,
// mirroring the on-disk +41 patch applied by the versioning engine.
func (n *Node) LinkNextVersion(next FileIndex) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.NextVersionFlag = 0
	n.NextVersion = next
}

// HasNextVersion reports whether the +41 link has been patched in.
func (n *Node) HasNextVersion() bool { return n.NextVersionFlag == 0 }

// Clone returns a copy of n suitable as the basis for a new version:
// same props, parent, child, and neighbor array, but unlinked.
func (n *Node) Clone(version uint32) *Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c := New(n.Level, version, n.PropValue, n.capacity)
	c.HasPropMetadata = n.HasPropMetadata
	c.PropMetadata = n.PropMetadata
	c.Parent = n.Parent
	c.Child = n.Child
	c.RootVersionRef = n.RootVersionRef
	c.HasRootVersion = n.HasRootVersion
	c.slots = make([]Slot, len(n.slots))
	copy(c.slots, n.slots)
	return c
}
