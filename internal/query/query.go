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

// Package query implements ann_search and finalize_ann_results (spec.md
// §4.10): the recursive multi-level query descent, optionally
// multiplexed across metadata filter dimensions, and the final
// cosine-on-raw-floats re-scoring pass.
package query

import (
	"sort"

	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/fixedset"
	"github.com/vortexdb/hnsw/internal/insertion"
	"github.com/vortexdb/hnsw/internal/lazynode"
	"github.com/vortexdb/hnsw/internal/nodecache"
	"github.com/vortexdb/hnsw/internal/propstore"
	"github.com/vortexdb/hnsw/internal/traversal"
)

// filterTopN is the "keep top 100" bound spec.md §4.10 step 1 applies
// after concatenating per-filter-dimension traversal results.
const filterTopN = 100

// Engine answers ANN queries against an already-populated index.
type Engine struct {
	cache  *nodecache.Cache
	props  *propstore.Store
	ins    *insertion.Engine
	metric distance.Metric
	cfg    config.Config
}

// New creates a query Engine sharing the same cache/props/index as ins.
func New(cache *nodecache.Cache, props *propstore.Store, ins *insertion.Engine, metric distance.Metric, cfg config.Config) *Engine {
	return &Engine{cache: cache, props: props, ins: ins, metric: metric, cfg: cfg}
}

// Request is one ANN query's input.
type Request struct {
	Vec     distance.Storage
	Filters []distance.Metadata // one per filter dimension; nil = unfiltered
	TopK    int
}

// Candidate is a finalized search hit.
type Candidate struct {
	ID   distance.InternalID
	Dist distance.MetricResult
}

// Search runs ann_search from the index's top level down to 0, then
// finalize_ann_results, returning at most req.TopK hits in strictly
// descending cosine order.
func (e *Engine) Search(req Request) ([]Candidate, error) {
	results, err := e.annSearch(req, e.ins.TopLevel(), e.ins.RootAt(e.ins.TopLevel()))
	if err != nil {
		return nil, err
	}
	return e.finalize(req.Vec, results, req.TopK)
}

// visitedCapacity sizes one level's visited set to that level's own
// neighbor capacity (spec.md §4.5), not the upper-level capacity applied
// uniformly everywhere: level 0 is far denser than the upper levels, and a
// visited set sized for the sparse levels evicts level-0 candidates early,
// depressing recall at the level that matters most.
func (e *Engine) visitedCapacity(level uint8) int {
	if level == 0 {
		return e.cfg.HNSW.Level0NeighborsCount
	}
	return e.cfg.HNSW.NeighborsCount
}

func (e *Engine) annSearch(req Request, level uint8, entry *lazynode.LazyNode) ([]traversal.Result, error) {
	var results []traversal.Result
	visited := fixedset.New(e.visitedCapacity(level))

	if len(req.Filters) > 0 {
		var all []traversal.Result
		for i := range req.Filters {
			res, err := traversal.FindNearest(e.cache, e.props, entry, traversal.Query{
				Vec:      req.Vec,
				Metadata: &req.Filters[i],
			}, visited, traversal.Params{
				Metric:        e.metric,
				IsIndexing:    false,
				Ef:            int(e.cfg.HNSW.EfSearch),
				ShortlistSize: e.cfg.Search.ShortlistSize,
				FinalLen:      e.cfg.Search.QueryFinalLen,
			})
			if err != nil {
				return nil, err
			}
			all = append(all, res...)
		}
		sort.SliceStable(all, func(i, j int) bool { return distance.Closer(all[i].Dist, all[j].Dist) })
		if len(all) > filterTopN {
			all = all[:filterTopN]
		}
		results = all
	} else {
		res, err := traversal.FindNearest(e.cache, e.props, entry, traversal.Query{
			Vec: req.Vec,
		}, visited, traversal.Params{
			Metric:        e.metric,
			IsIndexing:    false,
			Ef:            int(e.cfg.HNSW.EfSearch),
			ShortlistSize: e.cfg.Search.ShortlistSize,
			FinalLen:      e.cfg.Search.QueryFinalLen,
		})
		if err != nil {
			return nil, err
		}
		results = res
	}

	// descendFrom is the entry point for the next level down: it must
	// always be set so the recursion has somewhere to continue from, even
	// when no result at this level satisfied the filter. results only
	// ever holds filter-matching hits; a seed that doesn't match req's
	// filters keeps the search moving without masquerading as a match
	// (spec.md §4.10 step 3 seeds the search, it does not relax the
	// filter).
	descendFrom := entry
	if len(results) > 0 {
		descendFrom = results[0].Lazy
	} else {
		seed, matches, err := e.seedWith(req, entry)
		if err != nil {
			return nil, err
		}
		descendFrom = seed.Lazy
		if matches {
			results = []traversal.Result{seed}
		}
	}

	if level == 0 {
		return results, nil
	}

	tail := e.cache.GetAbsoluteLatestVersion(descendFrom)
	n, err := e.cache.TryGetData(tail)
	tail.Unpin()
	if err != nil {
		return nil, err
	}
	var next *lazynode.LazyNode
	if n.Child.IsNone() {
		next = descendFrom
	} else {
		next = e.cache.LookupOrRegisterUnresident(n.Child)
	}

	deeper, err := e.annSearch(req, level-1, next)
	if err != nil {
		return nil, err
	}
	return append(results, deeper...), nil
}

// seedWith computes the distance (or minimum distance across filter
// dimensions) between the query and entry, per spec.md §4.10 step 3, and
// reports whether entry's own metadata hard-matches one of req's filters.
// Always true when req is unfiltered; false for an unfiltered entry (e.g.
// a chain root) under a filtered request, since a root carries no
// metadata to match.
func (e *Engine) seedWith(req Request, entry *lazynode.LazyNode) (traversal.Result, bool, error) {
	tail := e.cache.GetAbsoluteLatestVersion(entry)
	defer tail.Unpin()
	n, err := e.cache.TryGetData(tail)
	if err != nil {
		return traversal.Result{}, false, err
	}
	id, vec, err := e.props.ReadValue(n.PropValue)
	if err != nil {
		return traversal.Result{}, false, err
	}
	cand := distance.VectorData{ID: &id, Quantized: &vec}

	var meta *distance.Metadata
	if n.HasPropMetadata {
		m, err := e.props.ReadMetadata(n.PropMetadata)
		if err != nil {
			return traversal.Result{}, false, err
		}
		meta = &m
	}

	if len(req.Filters) == 0 {
		query := distance.VectorData{Quantized: &req.Vec}
		dist, err := e.metric.Calculate(query, cand, false)
		if err != nil {
			return traversal.Result{}, false, err
		}
		return traversal.Result{Lazy: tail, ID: id, Dist: dist}, true, nil
	}

	var best distance.MetricResult
	matches := false
	for i := range req.Filters {
		query := distance.VectorData{Quantized: &req.Vec, Metadata: &req.Filters[i]}
		dist, err := e.metric.Calculate(query, cand, false)
		if err != nil {
			return traversal.Result{}, false, err
		}
		if i == 0 || !distance.Closer(best, dist) {
			best = dist
		}
		if meta != nil && meta.Matches(req.Filters[i]) {
			matches = true
		}
	}
	return traversal.Result{Lazy: tail, ID: id, Dist: best}, matches, nil
}

// finalize implements finalize_ann_results: dedup by id, re-score with
// cosine similarity on raw float vectors, sort descending, truncate to
// topK.
func (e *Engine) finalize(query distance.Storage, results []traversal.Result, topK int) ([]Candidate, error) {
	seen := make(map[distance.InternalID]bool, len(results))
	cosine := distance.CosineOnFloatBits{}

	var out []Candidate
	for _, r := range results {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true

		n, err := e.cache.TryGetData(r.Lazy)
		if err != nil {
			return nil, err
		}
		_, vec, err := e.props.ReadValue(n.PropValue)
		if err != nil {
			return nil, err
		}
		cand := distance.VectorData{Quantized: &vec}
		q := distance.VectorData{Quantized: &query}
		score, err := cosine.Calculate(q, cand, false)
		if err != nil {
			return nil, err
		}
		out = append(out, Candidate{ID: r.ID, Dist: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return distance.Closer(out[i].Dist, out[j].Dist) })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
