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

// Package metrics mirrors the dirtyHitMeter/dirtyMissMeter/commitBytesMeter
// style of triedb/pathdb, but backed by the real Prometheus client instead
// of go-ethereum's internal metrics registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	registry = prometheus.NewRegistry()

	// CleanCacheHits / CleanCacheMisses count node-cache lookups served
	// from the fastcache clean-node cache, the analogue of disklayer.go's
	// cleanHitMeter / cleanMissMeter.
	CleanCacheHits = counter("hnsw_node_cache_clean_hits_total", "Node records served from the clean cache")
	CleanCacheMisses = counter("hnsw_node_cache_clean_misses_total", "Node records missed in the clean cache")

	// LazyCacheHits / LazyCacheMisses count lookups served from the typed
	// LRU of resident lazy handles.
	LazyCacheHits   = counter("hnsw_node_cache_lazy_hits_total", "Lazy node handles served resident")
	LazyCacheMisses = counter("hnsw_node_cache_lazy_misses_total", "Lazy node handles loaded from disk")

	// BytesFlushed / NodesWritten mirror commitBytesMeter / commitNodesMeter.
	// They are registered, but no package in this module increments them.
	BytesFlushed = counter("hnsw_bytes_flushed_total", "Bytes written by buffered file manager flushes")
	NodesWritten = counter("hnsw_nodes_written_total", "Node records written to the index file")

	// TraversalNodesVisited tracks how many nodes traverse_find_nearest
	// visited per call, bounding against ef (property 6).
	TraversalNodesVisited = histogram("hnsw_traversal_nodes_visited", "Nodes visited per traversal call")

	// VersionsCreated counts materialized node copies from get_or_create_version.
	VersionsCreated = counter("hnsw_versions_created_total", "New node-copy versions materialized")
)

func counter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	registry.MustRegister(c)
	return c
}

func histogram(name, help string) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: prometheus.ExponentialBuckets(1, 2, 12)})
	registry.MustRegister(h)
	return h
}

// Registry exposes the registry for wiring into an HTTP /metrics handler.
func Registry() *prometheus.Registry { return registry }
