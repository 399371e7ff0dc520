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

// Package hnsw is the public entry point: it wires the buffered file
// manager, offset counter, node cache, prop file, versioning table,
// insertion engine and query engine into one open index.
package hnsw

import (
	"path/filepath"

	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/insertion"
	"github.com/vortexdb/hnsw/internal/log"
	"github.com/vortexdb/hnsw/internal/metadata"
	"github.com/vortexdb/hnsw/internal/node"
	"github.com/vortexdb/hnsw/internal/nodecache"
	"github.com/vortexdb/hnsw/internal/offsets"
	"github.com/vortexdb/hnsw/internal/propstore"
	"github.com/vortexdb/hnsw/internal/query"
	"github.com/vortexdb/hnsw/internal/versioning"
)

// RootID is the internal id assigned to every level's chain-root node.
// It is never returned from a query: the root carries no meaningful
// vector, it only anchors traversal's entry point.
const RootID = distance.InternalID(0)

// Index is one open HNSW index: construction, insertion and query all
// go through it.
type Index struct {
	cfg      config.Config
	metric   distance.Metric
	manifest *offsets.Manifest
	counter  *offsets.Counter
	cache    *nodecache.Cache
	props    *propstore.Store
	versions *versioning.Table
	ins      *insertion.Engine
	qry      *query.Engine
	log      log.Logger
}

// Open opens (creating if necessary) an index rooted at dir. dim is the
// dimensionality of the root placeholder vector used to seed the chain
// roots (their vector content is never itself a search result). seed
// seeds max-level sampling: the same seed, zero included, gives the
// same sequence of sampled levels.
func Open(dir string, cfg config.Config, metric distance.Metric, dim int, seed int64) (*Index, error) {
	manifest, err := offsets.OpenManifest(filepath.Join(dir, "manifest"))
	if err != nil {
		return nil, err
	}
	counter := offsets.NewCounter(manifest)

	capacityFor := func(level uint8) int {
		if level == 0 {
			return cfg.HNSW.Level0NeighborsCount
		}
		return cfg.HNSW.NeighborsCount
	}
	cache, err := nodecache.New(filepath.Join(dir, "nodes"), cfg.Cache.CleanCacheBytes, cfg.Cache.LazyCacheSize, capacityFor)
	if err != nil {
		return nil, err
	}
	props, err := propstore.Open(filepath.Join(dir, "props.dat"))
	if err != nil {
		return nil, err
	}
	versions := versioning.New(cache, counter, capacityFor)
	ins := insertion.New(cache, props, counter, versions, metric, cfg, seed)

	idx := &Index{
		cfg:      cfg,
		metric:   metric,
		manifest: manifest,
		counter:  counter,
		cache:    cache,
		props:    props,
		versions: versions,
		ins:      ins,
		log:      log.New("component", "index"),
	}

	if fileID, off, ok := manifest.ReadRoot(0); ok {
		roots := make([]node.FileIndex, cfg.HNSW.NumLayers+1)
		roots[0] = node.FileIndex{FileID: fileID, Offset: off}
		for level := uint8(1); level <= cfg.HNSW.NumLayers; level++ {
			lvlFileID, lvlOff, _ := manifest.ReadRoot(level)
			roots[level] = node.FileIndex{FileID: lvlFileID, Offset: lvlOff}
		}
		ins.RestoreRoots(roots)
	} else {
		rootVec := make(distance.Storage, dim*4)
		if err := ins.CreateRootNode(rootVec, RootID); err != nil {
			return nil, err
		}
		for level, fi := range ins.RootFileIndexes() {
			if err := manifest.WriteRoot(uint8(level), fi.FileID, fi.Offset); err != nil {
				return nil, err
			}
		}
	}

	idx.qry = query.New(cache, props, ins, metric, cfg)
	return idx, nil
}

// Insert indexes one raw embedding under transaction version. schema may
// be the zero value (no metadata filtering) or a populated
// metadata.Schema; fields carries this embedding's field=value pairs.
func (idx *Index) Insert(version uint32, schema metadata.Schema, vec distance.Storage, fields map[string]string) error {
	replicas, err := metadata.Expand(schema, idx.props, vec, fields, idx.cfg.HNSW.NeighborsCount, idx.cfg.HNSW.LevelsProb)
	if err != nil {
		return err
	}
	return idx.ins.IndexEmbeddings(version, replicas)
}

// PrimeSchema writes the pseudo embeddings that guarantee every declared
// field=value combination has at least one reachable entry point before
// any real data carrying that value is inserted (spec.md §4.6's
// pseudo-embedding override).
func (idx *Index) PrimeSchema(version uint32, schema metadata.Schema) error {
	placeholder := make(distance.Storage, 0)
	replicas, err := metadata.ExpandPseudo(schema, idx.props, placeholder, idx.cfg.HNSW.LevelsProb)
	if err != nil {
		return err
	}
	return idx.ins.IndexEmbeddings(version, replicas)
}

// Query runs an ANN search, optionally filtered by one or more metadata
// dimensions, and returns up to topK hits in descending cosine order.
func (idx *Index) Query(vec distance.Storage, filters []distance.Metadata, topK int) ([]query.Candidate, error) {
	limit := topK
	if limit > 0 {
		limit++
	}
	results, err := idx.qry.Search(query.Request{Vec: vec, Filters: filters, TopK: limit})
	if err != nil {
		return nil, err
	}
	out := make([]query.Candidate, 0, len(results))
	for _, r := range results {
		if r.ID != RootID {
			out = append(out, r)
		}
	}
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Close flushes and releases every file this index has opened.
func (idx *Index) Close() error {
	if err := idx.cache.Close(); err != nil {
		return err
	}
	if err := idx.props.Close(); err != nil {
		return err
	}
	return idx.manifest.Close()
}
