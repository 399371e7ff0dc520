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

// Package insertion implements the Insertion Engine (spec.md §4.6, §4.7):
// create_root_node, index_embedding's recursive descent, and
// create_node_edges' reciprocating edge writes.
package insertion

import (
	"math/rand"

	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/fixedset"
	"github.com/vortexdb/hnsw/internal/hnswerr"
	"github.com/vortexdb/hnsw/internal/lazynode"
	"github.com/vortexdb/hnsw/internal/log"
	"github.com/vortexdb/hnsw/internal/metadata"
	"github.com/vortexdb/hnsw/internal/node"
	"github.com/vortexdb/hnsw/internal/nodecache"
	"github.com/vortexdb/hnsw/internal/offsets"
	"github.com/vortexdb/hnsw/internal/propstore"
	"github.com/vortexdb/hnsw/internal/traversal"
	"github.com/vortexdb/hnsw/internal/versioning"
)

// Engine ties the node cache, prop file, offset counter, and version
// table together into the insertion algorithm. One Engine exists per
// open index.
type Engine struct {
	cache    *nodecache.Cache
	props    *propstore.Store
	counter  *offsets.Counter
	versions *versioning.Table
	metric   distance.Metric
	cfg      config.Config
	log      log.Logger

	rng *rand.Rand

	// roots[level] is the chain-root handle created by CreateRootNode,
	// one per level from 0 to cfg.HNSW.NumLayers.
	roots []*lazynode.LazyNode
}

// New creates an insertion Engine. seed deterministically drives the
// per-embedding max_level sampling draw, per spec.md §9's "Randomness"
// note; pass a fixed seed in tests, a real entropy source in production.
func New(cache *nodecache.Cache, props *propstore.Store, counter *offsets.Counter, versions *versioning.Table, metric distance.Metric, cfg config.Config, seed int64) *Engine {
	return &Engine{
		cache:    cache,
		props:    props,
		counter:  counter,
		versions: versions,
		metric:   metric,
		cfg:      cfg,
		log:      log.New("component", "insertion"),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (e *Engine) capacityForLevel(level uint8) int {
	if level == 0 {
		return e.cfg.HNSW.Level0NeighborsCount
	}
	return e.cfg.HNSW.NeighborsCount
}

// CreateRootNode initializes a brand-new index: one chain-root node per
// level from 0 to cfg.HNSW.NumLayers, linked parent↔child across levels.
// It must be called exactly once, before any insertion.
func (e *Engine) CreateRootNode(rootVec distance.Storage, rootID distance.InternalID) error {
	loc, err := e.props.WriteValue(rootID, rootVec)
	if err != nil {
		return err
	}

	numLevels := int(e.cfg.HNSW.NumLayers) + 1
	roots := make([]*lazynode.LazyNode, numLevels)
	for level := 0; level < numLevels; level++ {
		n := node.New(uint8(level), 0, loc, e.capacityForLevel(uint8(level)))
		fi, werr := e.writeNewNode(uint8(level), n)
		if werr != nil {
			return werr
		}
		lazy := lazynode.New(fi, n)
		e.cache.InsertLazyObject(lazy)
		roots[level] = lazy
	}
	for level := 1; level < numLevels; level++ {
		if err := e.linkParentChild(roots[level], roots[level-1]); err != nil {
			return err
		}
		cn, err := e.cache.TryGetData(roots[level-1])
		if err != nil {
			return err
		}
		cn.Parent = roots[level].FileIndex
		if err := e.rewriteFull(roots[level-1], cn); err != nil {
			return err
		}
	}
	e.roots = roots
	return nil
}

func (e *Engine) writeNewNode(level uint8, n *node.Node) (node.FileIndex, error) {
	size := node.RecordSize(n.Capacity())
	var alloc offsets.Allocation
	if level == 0 {
		alloc = e.counter.NextLevel0Offset(size)
	} else {
		alloc = e.counter.NextOffset(size)
	}
	bm, err := e.cache.BufferManagerFor(alloc.FileID)
	if err != nil {
		return node.FileIndex{}, err
	}
	c, err := bm.OpenCursor()
	if err != nil {
		return node.FileIndex{}, err
	}
	defer bm.CloseCursor(c)
	if err := node.WriteRecordAt(bm, c, alloc.Offset, n); err != nil {
		return node.FileIndex{}, err
	}
	return node.FileIndex{FileID: alloc.FileID, Offset: alloc.Offset}, nil
}

// linkParentChild sets parent's Child to point at child, updates the
// in-memory node, and rewrites the parent's full record in place on
// disk — the "Link parent.child ← new" step of spec.md §4.6.3, applied
// once child has been written and has its FileIndex.
func (e *Engine) linkParentChild(parent, child *lazynode.LazyNode) error {
	pn, err := e.cache.TryGetData(parent)
	if err != nil {
		return err
	}
	pn.Child = child.FileIndex
	bm, err := e.cache.BufferManagerFor(parent.FileIndex.FileID)
	if err != nil {
		return err
	}
	c, err := bm.OpenCursor()
	if err != nil {
		return err
	}
	defer bm.CloseCursor(c)
	if err := node.WriteRecordAt(bm, c, parent.FileIndex.Offset, pn); err != nil {
		return err
	}
	e.cache.InvalidateClean(parent.FileIndex)
	return nil
}

// sampleMaxLevel draws one uniform and returns the largest level whose
// cumulative probability is ≤ the draw, or 0 (spec.md §4.6).
func sampleMaxLevel(probs []config.LevelProb, r float64) uint8 {
	var best uint8
	for _, p := range probs {
		if p.CumProb <= r && p.Level >= best {
			best = p.Level
		}
	}
	return best
}

// IndexEmbeddings indexes every replica produced by the metadata
// expansion engine for one input embedding, under one transaction
// version.
func (e *Engine) IndexEmbeddings(version uint32, embeddings []metadata.IndexableEmbedding) error {
	for _, emb := range embeddings {
		if err := e.indexEmbedding(version, emb); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) indexEmbedding(version uint32, emb metadata.IndexableEmbedding) error {
	if len(e.roots) == 0 {
		return hnswerr.New(hnswerr.ServerError, "index has no root; CreateRootNode was never called")
	}
	valueLoc, err := e.props.WriteValue(emb.ID, emb.Vec)
	if err != nil {
		return err
	}

	maxLevel := sampleMaxLevel(emb.LevelsProb, e.rng.Float64())
	topLevel := uint8(len(e.roots) - 1)
	curEntry := e.roots[topLevel]

	var parent *lazynode.LazyNode

	for level := topLevel; ; level-- {
		res, err := e.traverse(emb, curEntry, level, true)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			seed, err := e.seedWith(curEntry, emb)
			if err != nil {
				return err
			}
			res = []traversal.Result{seed}
		}

		if level > maxLevel {
			next, err := e.childOf(res[0].Lazy)
			if err != nil {
				return err
			}
			if level == 0 {
				break
			}
			curEntry = next
			continue
		}

		n := node.New(level, version, valueLoc, e.capacityForLevel(level))
		n.HasPropMetadata = emb.MetaLoc != nil
		if emb.MetaLoc != nil {
			n.PropMetadata = *emb.MetaLoc
		}
		if parent != nil {
			n.Parent = parent.FileIndex
		}
		fi, err := e.writeNewNode(level, n)
		if err != nil {
			return err
		}
		newLazy := lazynode.New(fi, n)
		e.cache.InsertLazyObject(newLazy)

		if parent != nil {
			if err := e.linkParentChild(parent, newLazy); err != nil {
				return err
			}
		}

		if err := e.createNodeEdges(version, level, emb.ID, newLazy, res); err != nil {
			return err
		}

		parent = newLazy
		if level == 0 {
			break
		}
		next, err := e.childOf(res[0].Lazy)
		if err != nil {
			return err
		}
		curEntry = next
	}
	return nil
}

func (e *Engine) traverse(emb metadata.IndexableEmbedding, entry *lazynode.LazyNode, level uint8, isIndexing bool) ([]traversal.Result, error) {
	var meta *distance.Metadata
	if emb.MetaLoc != nil {
		m, err := e.props.ReadMetadata(*emb.MetaLoc)
		if err != nil {
			return nil, err
		}
		meta = &m
	}
	id := emb.ID
	return traversal.FindNearest(e.cache, e.props, entry, traversal.Query{
		Vec:      emb.Vec,
		Metadata: meta,
		SelfID:   &id,
	}, fixedset.New(e.capacityForLevel(level)), traversal.Params{
		Metric:        e.metric,
		IsIndexing:    isIndexing,
		Ef:            int(e.cfg.HNSW.EfConstruction),
		ShortlistSize: e.cfg.Search.ShortlistSize,
		FinalLen:      e.cfg.Search.IndexingFinalLen,
	})
}

func (e *Engine) seedWith(entry *lazynode.LazyNode, emb metadata.IndexableEmbedding) (traversal.Result, error) {
	tail := e.cache.GetAbsoluteLatestVersion(entry)
	defer tail.Unpin()
	n, err := e.cache.TryGetData(tail)
	if err != nil {
		return traversal.Result{}, err
	}
	id, vec, err := e.props.ReadValue(n.PropValue)
	if err != nil {
		return traversal.Result{}, err
	}
	cand := distance.VectorData{ID: &id, Quantized: &vec}
	query := distance.VectorData{Quantized: &emb.Vec}
	dist, err := e.metric.Calculate(query, cand, true)
	if err != nil {
		return traversal.Result{}, err
	}
	return traversal.Result{Lazy: tail, ID: id, Dist: dist}, nil
}

func (e *Engine) childOf(lazy *lazynode.LazyNode) (*lazynode.LazyNode, error) {
	tail := e.cache.GetAbsoluteLatestVersion(lazy)
	defer tail.Unpin()
	n, err := e.cache.TryGetData(tail)
	if err != nil {
		return nil, err
	}
	if n.Child.IsNone() {
		return lazy, nil
	}
	return e.cache.LookupOrRegisterUnresident(n.Child), nil
}

// createNodeEdges implements spec.md §4.7: for each traversal result in
// nearest-first order, version the neighbor into this transaction,
// attempt a reciprocal edge, and either rewrite the neighbor's full
// record (if its version was freshly materialized this call) or patch
// just the one slot that now points at the new node.
func (e *Engine) createNodeEdges(version uint32, level uint8, newID distance.InternalID, newLazy *lazynode.LazyNode, candidates []traversal.Result) error {
	newNode, err := e.cache.TryGetData(newLazy)
	if err != nil {
		return err
	}

	maxEdges := e.capacityForLevel(level)
	successful := 0
	for _, cand := range candidates {
		if successful >= maxEdges {
			break
		}

		neighborRoot, err := e.rootOf(cand.Lazy)
		if err != nil {
			return err
		}
		neighborLazy, found, err := e.versions.GetOrCreateVersion(cand.ID, neighborRoot, version, level)
		if err != nil {
			return err
		}
		neighborNode, err := e.cache.TryGetData(neighborLazy)
		if err != nil {
			return err
		}

		idxInNew, ok := newNode.AddNeighbor(cand.ID, neighborLazy.FileIndex, cand.Dist)
		if !ok {
			continue
		}
		idxInNeighbor, ok := neighborNode.AddNeighbor(newID, newLazy.FileIndex, cand.Dist)
		if !ok {
			newNode.RemoveNeighborByIndexAndID(idxInNew, cand.ID)
			continue
		}
		successful++

		if err := e.persistNeighborEdge(neighborLazy, neighborNode, idxInNeighbor, newID, newLazy.FileIndex, cand.Dist, found); err != nil {
			return err
		}
	}

	return e.rewriteFull(newLazy, newNode)
}

func (e *Engine) rootOf(lazy *lazynode.LazyNode) (*lazynode.LazyNode, error) {
	n, err := e.cache.TryGetData(lazy)
	if err != nil {
		return nil, err
	}
	if !n.HasRootVersion {
		return lazy, nil
	}
	return e.cache.LookupOrRegisterUnresident(n.RootVersionRef), nil
}

func (e *Engine) persistNeighborEdge(neighborLazy *lazynode.LazyNode, neighborNode *node.Node, slotIdx int, id distance.InternalID, ref node.FileIndex, dist distance.MetricResult, found bool) error {
	bm, err := e.cache.BufferManagerFor(neighborLazy.FileIndex.FileID)
	if err != nil {
		return err
	}
	c, err := bm.OpenCursor()
	if err != nil {
		return err
	}
	defer bm.CloseCursor(c)

	if !found {
		if err := node.WriteRecordAt(bm, c, neighborLazy.FileIndex.Offset, neighborNode); err != nil {
			return err
		}
	} else {
		if err := node.PatchNeighborSlot(bm, c, neighborLazy.FileIndex.Offset, slotIdx, id, ref, dist); err != nil {
			return err
		}
	}
	e.cache.InvalidateClean(neighborLazy.FileIndex)
	return nil
}

func (e *Engine) rewriteFull(lazy *lazynode.LazyNode, n *node.Node) error {
	bm, err := e.cache.BufferManagerFor(lazy.FileIndex.FileID)
	if err != nil {
		return err
	}
	c, err := bm.OpenCursor()
	if err != nil {
		return err
	}
	defer bm.CloseCursor(c)
	if err := node.WriteRecordAt(bm, c, lazy.FileIndex.Offset, n); err != nil {
		return err
	}
	e.cache.InvalidateClean(lazy.FileIndex)
	return nil
}

// RootAt returns the chain-root handle for level, used by the query
// engine as the top-level entry point.
func (e *Engine) RootAt(level uint8) *lazynode.LazyNode { return e.roots[level] }

// TopLevel returns the index's highest configured level.
func (e *Engine) TopLevel() uint8 { return uint8(len(e.roots) - 1) }

// RestoreRoots re-establishes the in-memory root handle slice from the
// persisted FileIndexes of a previously created index, without
// recreating any node. Used when reopening an existing index.
func (e *Engine) RestoreRoots(roots []node.FileIndex) {
	e.roots = make([]*lazynode.LazyNode, len(roots))
	for level, fi := range roots {
		e.roots[level] = e.cache.LookupOrRegisterUnresident(fi)
	}
}

// RootFileIndexes returns the current roots' FileIndexes, for
// persistence into the offset manifest.
func (e *Engine) RootFileIndexes() []node.FileIndex {
	out := make([]node.FileIndex, len(e.roots))
	for i, r := range e.roots {
		out[i] = r.FileIndex
	}
	return out
}
