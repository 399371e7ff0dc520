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

// Package traversal implements traverse_find_nearest (spec.md §4.5): a
// best-first greedy beam search over the lazily-resolved node graph.
package traversal

import (
	"container/heap"
	"sort"

	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/fixedset"
	"github.com/vortexdb/hnsw/internal/lazynode"
	"github.com/vortexdb/hnsw/internal/metrics"
	"github.com/vortexdb/hnsw/internal/nodecache"
	"github.com/vortexdb/hnsw/internal/propstore"
)

// Result is one (node, distance) pair returned from a traversal.
type Result struct {
	Lazy *lazynode.LazyNode
	ID   distance.InternalID
	Dist distance.MetricResult
}

type item struct {
	result Result
	seq    int // tie-break: stable within a run, per spec.md §4.5
}

type maxHeap []item

func (h maxHeap) Len() int { return len(h) }
func (h maxHeap) Less(i, j int) bool {
	if h[i].result.Dist.Float() == h[j].result.Dist.Float() {
		return h[i].seq < h[j].seq
	}
	return distance.Closer(h[i].result.Dist, h[j].result.Dist)
}
func (h maxHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(item)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Query bundles everything one traversal call needs about the vector
// being searched for.
type Query struct {
	Vec      distance.Storage
	Metadata *distance.Metadata
	SelfID   *distance.InternalID // excluded from results if resolvable
}

// Params bundles the tunables spec.md §9 open question (b) calls out as
// configuration rather than magic constants.
type Params struct {
	Metric        distance.Metric
	IsIndexing    bool
	Ef            int
	ShortlistSize int
	FinalLen      int
}

// FindNearest runs the best-first beam search described in spec.md §4.5,
// starting from start and sharing the caller-supplied visited set (so a
// multi-filter query, spec.md §4.10, can dedup across several calls).
func FindNearest(cache *nodecache.Cache, props *propstore.Store, start *lazynode.LazyNode, q Query, visited *fixedset.Set, p Params) ([]Result, error) {
	candidates := &maxHeap{}
	heap.Init(candidates)
	var results []Result
	seq := 0
	visitedCount := 0

	// resolveDistance returns (result, traversable, matches, err).
	// traversable is false only for self-exclusion or an already-visited
	// node: those are skipped entirely, not even used to keep exploring
	// the graph. matches reports whether the candidate's own metadata
	// satisfies q.Metadata's hard field=value predicate; a node can be
	// traversable (eligible to keep the beam moving toward matching
	// neighbors) without matching (eligible to appear in results). The
	// replica graph is one shared graph, so a filtered search must walk
	// through non-matching nodes to reach matching ones.
	resolveDistance := func(lazy *lazynode.LazyNode) (Result, bool, bool, error) {
		tail := cache.GetAbsoluteLatestVersion(lazy)
		defer tail.Unpin()

		n, err := cache.TryGetData(tail)
		if err != nil {
			return Result{}, false, false, err
		}
		id, vec, err := props.ReadValue(propstore.Location(n.PropValue))
		if err != nil {
			return Result{}, false, false, err
		}
		if q.SelfID != nil && id == *q.SelfID {
			return Result{}, false, false, nil
		}
		if visited.Insert(id) {
			return Result{}, false, false, nil
		}
		visitedCount++

		var meta *distance.Metadata
		if n.HasPropMetadata {
			m, err := props.ReadMetadata(propstore.Location(n.PropMetadata))
			if err != nil {
				return Result{}, false, false, err
			}
			meta = &m
		}
		candVec := distance.VectorData{ID: &id, Quantized: &vec, Metadata: meta}
		queryVec := distance.VectorData{Quantized: &q.Vec, Metadata: q.Metadata}
		dist, err := p.Metric.Calculate(queryVec, candVec, p.IsIndexing)
		if err != nil {
			return Result{}, false, false, err
		}
		matches := q.Metadata == nil || (meta != nil && meta.Matches(*q.Metadata))
		return Result{Lazy: tail, ID: id, Dist: dist}, true, matches, nil
	}

	first, traversable, matches, err := resolveDistance(start)
	if err != nil {
		return nil, err
	}
	if traversable {
		heap.Push(candidates, item{result: first, seq: seq})
		seq++
		if matches {
			results = append(results, first)
		}
	}

	for candidates.Len() > 0 {
		if visitedCount >= p.Ef {
			break
		}
		best := heap.Pop(candidates).(item).result

		best.Lazy.Pin()
		n, err := cache.TryGetData(best.Lazy)
		if err != nil {
			best.Lazy.Unpin()
			return nil, err
		}
		neighbors := n.Neighbors()
		best.Lazy.Unpin()
		limit := p.ShortlistSize
		if limit <= 0 || limit > len(neighbors) {
			limit = len(neighbors)
		}
		for i := 0; i < limit; i++ {
			slot := neighbors[i]
			neighborLazy := cache.LookupOrRegisterUnresident(slot.Ref)
			res, traversable, matches, err := resolveDistance(neighborLazy)
			if err != nil {
				return nil, err
			}
			if !traversable {
				continue
			}
			heap.Push(candidates, item{result: res, seq: seq})
			seq++
			if matches {
				results = append(results, res)
			}
		}
	}
	metrics.TraversalNodesVisited.Observe(float64(visitedCount))

	sort.SliceStable(results, func(i, j int) bool {
		return distance.Closer(results[i].Dist, results[j].Dist)
	})
	if len(results) > p.FinalLen {
		results = results[:p.FinalLen]
	}
	return results, nil
}
