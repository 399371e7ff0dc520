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

// Package config holds the hyperparameters and tunables of the HNSW
// engine, loaded from a TOML file with the same naoina/toml library the
// teacher uses for its own node configuration.
package config

import (
	"os"

	"github.com/naoina/toml"
)

// HNSWHyperParams are the construction/search parameters of one index,
// corresponding 1:1 to spec.md §4.6/§4.10.
type HNSWHyperParams struct {
	NumLayers           uint8   `toml:"num_layers"`
	NeighborsCount      int     `toml:"neighbors_count"`
	Level0NeighborsCount int    `toml:"level_0_neighbors_count"`
	EfConstruction      uint32  `toml:"ef_construction"`
	EfSearch            uint32  `toml:"ef_search"`
	// LevelsProb is the cumulative probability table used by
	// getMaxInsertLevel: LevelsProb[i] = (cumulative probability, level).
	LevelsProb []LevelProb `toml:"-"`
}

// LevelProb is one entry of the cumulative level-probability table used
// when sampling an embedding's max insertion level.
type LevelProb struct {
	CumProb float64
	Level   uint8
}

// Search holds the traversal-width knobs that spec.md §9 open question
// (b) calls out as "magic": final_len for indexing vs. querying, and the
// neighbor shortlist size consulted per traversal hop.
type Search struct {
	ShortlistSize    int `toml:"shortlist_size"`
	IndexingFinalLen int `toml:"indexing_final_len"`
	QueryFinalLen    int `toml:"query_final_len"`
}

// Cache holds node-cache sizing.
type Cache struct {
	CleanCacheBytes int `toml:"clean_cache_bytes"`
	LazyCacheSize   int `toml:"lazy_cache_size"`
}

// Config is the top-level configuration tree, analogous to params.Config
// in the teacher but scoped to this engine.
type Config struct {
	HNSW   HNSWHyperParams `toml:"hnsw"`
	Search Search          `toml:"search"`
	Cache  Cache           `toml:"cache"`
}

// Default returns sane defaults matching the values used throughout
// spec.md's worked examples (S1-S6).
func Default() Config {
	return Config{
		HNSW: HNSWHyperParams{
			NumLayers:            2,
			NeighborsCount:       16,
			Level0NeighborsCount: 32,
			EfConstruction:       64,
			EfSearch:             64,
			LevelsProb:           DefaultLevelsProb(2),
		},
		Search: Search{
			ShortlistSize:    64,
			IndexingFinalLen: 64,
			QueryFinalLen:    100,
		},
		Cache: Cache{
			CleanCacheBytes: 32 << 20,
			LazyCacheSize:   1 << 16,
		},
	}
}

// DefaultLevelsProb builds a geometric level-probability table for the
// given layer count, the same shape as the teacher HNSW index's
// levels_prob: P(level=0) is largest, decaying by a factor of ~e per
// level so higher layers stay sparse.
func DefaultLevelsProb(numLayers uint8) []LevelProb {
	probs := make([]LevelProb, 0, numLayers+1)
	var cum float64
	remaining := 1.0
	for l := uint8(0); l <= numLayers; l++ {
		var p float64
		if l == numLayers {
			p = remaining
		} else {
			p = remaining * 0.63
			remaining -= p
		}
		cum += p
		probs = append(probs, LevelProb{CumProb: cum, Level: l})
	}
	return probs
}

// Load reads a Config from a TOML file on disk, falling back to Default
// for any zero-valued section not present in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.HNSW.LevelsProb == nil {
		cfg.HNSW.LevelsProb = DefaultLevelsProb(cfg.HNSW.NumLayers)
	}
	return cfg, nil
}
