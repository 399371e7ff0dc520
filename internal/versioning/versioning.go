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

// Package versioning implements the Versioning Engine (spec.md §4.8): the
// version table's get-or-create-with-flag semantics, and the lineage
// patch that links a node's predecessor on-disk header to its successor.
// The table is this repo's TSHashTable: a singleflight.Group dedups
// concurrent materialization of the same (root_id, target_version,
// level) the way a concurrent map with "get-or-create-with-flag" would.
package versioning

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/hnswerr"
	"github.com/vortexdb/hnsw/internal/lazynode"
	"github.com/vortexdb/hnsw/internal/log"
	"github.com/vortexdb/hnsw/internal/metrics"
	"github.com/vortexdb/hnsw/internal/node"
	"github.com/vortexdb/hnsw/internal/nodecache"
	"github.com/vortexdb/hnsw/internal/offsets"
)

// Table is the version table: one per open index.
type Table struct {
	cache       *nodecache.Cache
	counter     *offsets.Counter
	capacityFor nodecache.CapacityForLevel
	log         log.Logger

	group singleflight.Group
}

// New creates a Table backed by cache and counter.
func New(cache *nodecache.Cache, counter *offsets.Counter, capacityFor nodecache.CapacityForLevel) *Table {
	return &Table{cache: cache, counter: counter, capacityFor: capacityFor, log: log.New("component", "versioning")}
}

type result struct {
	lazy  *lazynode.LazyNode
	found bool
}

// GetOrCreateVersion returns the node copy for rootID at targetVersion
// and level, creating one if the chain's tail predates targetVersion.
// found reports whether an existing copy was returned rather than a
// freshly materialized one (spec.md §4.7 uses this to decide between a
// full-record write and a surgical slot patch).
func (t *Table) GetOrCreateVersion(rootID distance.InternalID, root *lazynode.LazyNode, targetVersion uint32, level uint8) (*lazynode.LazyNode, bool, error) {
	key := fmt.Sprintf("%d:%d:%d", rootID, targetVersion, level)
	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		lazy, found, err := t.getOrCreate(root, targetVersion, level)
		if err != nil {
			return nil, err
		}
		return result{lazy: lazy, found: found}, nil
	})
	if err != nil {
		return nil, false, err
	}
	r := v.(result)
	return r.lazy, r.found, nil
}

func (t *Table) getOrCreate(root *lazynode.LazyNode, targetVersion uint32, level uint8) (*lazynode.LazyNode, bool, error) {
	tail, unlock := t.cache.GetAbsoluteLatestVersionForWrite(root)
	defer unlock()

	tailNode, err := t.cache.TryGetData(tail)
	if err != nil {
		return nil, false, err
	}
	if tailNode.Version == targetVersion {
		return tail, true, nil
	}

	clone := tailNode.Clone(targetVersion)
	if !clone.HasRootVersion {
		clone.RootVersionRef = root.FileIndex
		clone.HasRootVersion = true
	}

	size := node.RecordSize(clone.Capacity())
	var alloc offsets.Allocation
	if level == 0 {
		alloc = t.counter.NextLevel0Offset(size)
	} else {
		alloc = t.counter.NextOffset(size)
	}

	bm, err := t.cache.BufferManagerFor(alloc.FileID)
	if err != nil {
		return nil, false, err
	}
	cursor, err := bm.OpenCursor()
	if err != nil {
		return nil, false, err
	}
	defer bm.CloseCursor(cursor)

	if err := node.WriteRecordAt(bm, cursor, alloc.Offset, clone); err != nil {
		return nil, false, hnswerr.Wrap(hnswerr.BufIoError, "write version record", err)
	}

	newIdx := node.FileIndex{FileID: alloc.FileID, Offset: alloc.Offset}
	newLazy := lazynode.New(newIdx, clone)
	t.cache.InsertLazyObject(newLazy)

	if !tail.LinkNext(newLazy) {
		return nil, false, hnswerr.New(hnswerr.ServerError, "version chain tail changed under write guard")
	}

	if err := patchPredecessor(t, tail, newIdx); err != nil {
		return nil, false, err
	}

	metrics.VersionsCreated.Inc()

	if tail.FileIndex != root.FileIndex {
		t.cache.Unload(tail)
	}

	return newLazy, false, nil
}

// patchPredecessor performs the +41 on-disk patch linking
// tail to its successor, and refreshes tail's in-memory header fields to
// match (spec.md §4.8 step 4).
func patchPredecessor(t *Table, tail *lazynode.LazyNode, next node.FileIndex) error {
	tailNode, ok := tail.Resident()
	if ok {
		tailNode.LinkNextVersion(next)
	}

	bm, err := t.cache.BufferManagerFor(tail.FileIndex.FileID)
	if err != nil {
		return err
	}
	cursor, err := bm.OpenCursor()
	if err != nil {
		return err
	}
	defer bm.CloseCursor(cursor)

	if err := node.PatchNextVersion(bm, cursor, tail.FileIndex.Offset, next); err != nil {
		return err
	}
	t.cache.InvalidateClean(tail.FileIndex)
	return nil
}
