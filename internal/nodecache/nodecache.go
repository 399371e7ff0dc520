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

// Package nodecache implements the Node Cache (spec.md §4.3): it maps
// (file_id, offset) to a resolvable in-memory handle, materializing
// bodies lazily from disk, and evicting resident bodies under pressure
// without ever invalidating a handle's identity. The design mirrors
// triedb/pathdb's disk layer — a byte-level clean cache (fastcache) in
// front of the file — plus a typed LRU tracking which handles currently
// hold a resident body, the way the teacher's disk layer and an
// in-process object cache would be layered together.
package nodecache

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/vortexdb/hnsw/internal/bufio"
	"github.com/vortexdb/hnsw/internal/hnswerr"
	"github.com/vortexdb/hnsw/internal/lazynode"
	"github.com/vortexdb/hnsw/internal/log"
	"github.com/vortexdb/hnsw/internal/metrics"
	"github.com/vortexdb/hnsw/internal/node"
	"github.com/vortexdb/hnsw/internal/offsets"
)

// CapacityForLevel returns a node's neighbor-array capacity given its
// level and the index's hyperparameters, matching spec.md §3's "capacity
// is level_0_neighbors_count at level 0 else neighbors_count".
type CapacityForLevel func(level uint8) int

// Cache is the shared node cache. One Cache is created per open index.
type Cache struct {
	log log.Logger

	files *bufio.Factory[offsets.IndexFileID]
	capacityFor CapacityForLevel

	// registry never evicts: a FileIndex, once minted, must always
	// resolve to a handle so weak parent/child/neighbor references
	// stay valid across cache pressure.
	registry sync.Map // node.FileIndex -> *lazynode.LazyNode

	// clean is the byte-level cache of raw encoded records, avoiding a
	// disk read on a cache miss for a handle whose body was unloaded
	// but whose bytes are still hot.
	clean *fastcache.Cache

	// resident tracks which handles currently hold a materialized
	// body; eviction here calls LazyNode.Unload, not a registry
	// deletion, so identity survives (spec.md §4.3 unload/unload).
	resident *lru.Cache[node.FileIndex, struct{}]

	group singleflight.Group
}

// New creates a Cache rooted at dir, opening one BufferManager per
// IndexFileID lazily on first use.
func New(dir string, cleanBytes, residentCapacity int, capacityFor CapacityForLevel) (*Cache, error) {
	c := &Cache{
		log:         log.New("component", "nodecache"),
		capacityFor: capacityFor,
		clean:       fastcache.New(cleanBytes),
	}
	residentLRU, err := lru.NewWithEvict[node.FileIndex, struct{}](residentCapacity, func(fi node.FileIndex, _ struct{}) {
		if v, ok := c.registry.Load(fi); ok {
			if ln := v.(*lazynode.LazyNode); !ln.Pinned() {
				ln.Unload()
			}
		}
	})
	if err != nil {
		return nil, hnswerr.Wrap(hnswerr.ServerError, "create resident lru", err)
	}
	c.resident = residentLRU
	c.files = bufio.NewFactory(dir, func(dir string, id offsets.IndexFileID) string {
		return filepath.Join(dir, fmt.Sprintf("index-%d.dat", id))
	})
	return c, nil
}

func cleanKey(fi node.FileIndex) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(fi.FileID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(fi.Offset))
	return b[:]
}

// InsertLazyObject registers a newly minted handle keyed by its
// FileIndex; used both when a node is freshly created and when a
// version copy is constructed in memory before it is written to disk.
func (c *Cache) InsertLazyObject(lazy *lazynode.LazyNode) {
	c.registry.Store(lazy.FileIndex, lazy)
	if _, ok := lazy.Resident(); ok {
		c.resident.Add(lazy.FileIndex, struct{}{})
	}
}

// Lookup returns the handle registered at fi, if any.
func (c *Cache) Lookup(fi node.FileIndex) (*lazynode.LazyNode, bool) {
	v, ok := c.registry.Load(fi)
	if !ok {
		return nil, false
	}
	return v.(*lazynode.LazyNode), true
}

// LookupOrRegisterUnresident returns the handle at fi, creating and
// registering an unresident one if this is the first time fi is seen
// (e.g. a neighbor reference decoded from a record we have not yet
// touched).
func (c *Cache) LookupOrRegisterUnresident(fi node.FileIndex) *lazynode.LazyNode {
	if ln, ok := c.Lookup(fi); ok {
		return ln
	}
	ln := lazynode.NewUnresident(fi)
	actual, loaded := c.registry.LoadOrStore(fi, ln)
	if loaded {
		return actual.(*lazynode.LazyNode)
	}
	return ln
}

// BufferManagerFor routes to the per-file manager backing fileID.
func (c *Cache) BufferManagerFor(fileID offsets.IndexFileID) (*bufio.BufferManager, error) {
	return c.files.Get(fileID)
}

// TryGetData returns lazy's resident body, materializing it from disk on
// a miss. A miss never recurses into loading the neighbors it
// references — they stay unresolved FileIndex values inside the decoded
// Node (spec.md §4.3).
func (c *Cache) TryGetData(lazy *lazynode.LazyNode) (*node.Node, error) {
	if n, ok := lazy.Resident(); ok {
		metrics.LazyCacheHits.Inc()
		return n, nil
	}
	metrics.LazyCacheMisses.Inc()

	key := fmt.Sprintf("%d:%d", lazy.FileIndex.FileID, lazy.FileIndex.Offset)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if n, ok := lazy.Resident(); ok {
			return n, nil
		}
		n, err := c.load(lazy.FileIndex)
		if err != nil {
			return nil, err
		}
		lazy.SetResident(n)
		c.resident.Add(lazy.FileIndex, struct{}{})
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*node.Node), nil
}

func (c *Cache) load(fi node.FileIndex) (*node.Node, error) {
	ck := cleanKey(fi)
	if raw, ok := c.clean.HasGet(nil, ck); ok {
		metrics.CleanCacheHits.Inc()
		n, err := node.Decode(raw, 0)
		if err != nil {
			return nil, err
		}
		c.fixCapacity(n)
		return n, nil
	}
	metrics.CleanCacheMisses.Inc()

	bm, err := c.BufferManagerFor(fi.FileID)
	if err != nil {
		return nil, err
	}
	cursor, err := bm.OpenCursor()
	if err != nil {
		return nil, err
	}
	defer bm.CloseCursor(cursor)

	n, err := node.ReadRecord(bm, cursor, fi.Offset, 0)
	if err != nil {
		return nil, err
	}
	c.fixCapacity(n)
	c.clean.Set(ck, n.Encode())
	return n, nil
}

func (c *Cache) fixCapacity(n *node.Node) {
	if c.capacityFor != nil {
		n.SetCapacity(c.capacityFor(n.Level))
	}
}

// Unload drops lazy's resident body without destroying its identity.
func (c *Cache) Unload(lazy *lazynode.LazyNode) {
	if lazy.Pinned() {
		c.log.Debug("skipping unload of pinned handle", "file_id", lazy.FileIndex.FileID, "offset", lazy.FileIndex.Offset)
		return
	}
	lazy.Unload()
	c.resident.Remove(lazy.FileIndex)
}

// InvalidateClean drops fi's cached bytes, used after a surgical
// in-place patch so a subsequent load re-reads the file.
func (c *Cache) InvalidateClean(fi node.FileIndex) {
	c.clean.Del(cleanKey(fi))
}

// GetAbsoluteLatestVersion walks lazy's next_version chain to the tail
// and returns it, pinning it for the duration of the caller's use.
// Callers must call Unpin on the returned handle when done.
func (c *Cache) GetAbsoluteLatestVersion(lazy *lazynode.LazyNode) *lazynode.LazyNode {
	tail := lazy.Tail()
	tail.Pin()
	return tail
}

// GetAbsoluteLatestVersionForWrite walks to the tail under the chain's
// write guard, so a concurrent get_or_create_version cannot append a
// successor between the walk and the caller's decision. Callers must
// call root.UnlockChain() (via the returned unlock func) when done.
func (c *Cache) GetAbsoluteLatestVersionForWrite(root *lazynode.LazyNode) (tail *lazynode.LazyNode, unlock func()) {
	root.LockChain()
	tail = root.Tail()
	tail.Pin()
	return tail, func() {
		tail.Unpin()
		root.UnlockChain()
	}
}

// Close flushes and closes every backing file this cache has opened.
func (c *Cache) Close() error { return c.files.CloseAll() }
