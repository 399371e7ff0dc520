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

package hnsw

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/metadata"
)

func smallConfig() config.Config {
	return config.Config{
		HNSW: config.HNSWHyperParams{
			NumLayers:            2,
			NeighborsCount:       8,
			Level0NeighborsCount: 16,
			EfConstruction:       16,
			EfSearch:             16,
			LevelsProb:           config.DefaultLevelsProb(2),
		},
		Search: config.Search{ShortlistSize: 16, IndexingFinalLen: 16, QueryFinalLen: 16},
		Cache:  config.Cache{CleanCacheBytes: 1 << 20, LazyCacheSize: 1024},
	}
}

// TestOpenInsertQueryRoundTrip covers the spec's end-to-end flow: open a
// fresh index, insert a handful of embeddings under one transaction, and
// query back the nearest ones in descending cosine order.
func TestOpenInsertQueryRoundTrip(t *testing.T) {
	idx, err := Open(t.TempDir(), smallConfig(), distance.CosineOnFloatBits{}, 2, 1)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Insert(1, metadata.Schema{}, distance.EncodeFloats([]float32{1, 0}), nil))
	require.NoError(t, idx.Insert(1, metadata.Schema{}, distance.EncodeFloats([]float32{0.9, 0.1}), nil))
	require.NoError(t, idx.Insert(1, metadata.Schema{}, distance.EncodeFloats([]float32{0, 1}), nil))

	results, err := idx.Query(distance.EncodeFloats([]float32{1, 0}), nil, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Dist.Float() >= results[1].Dist.Float())
}

// TestReopenRestoresRootsAndFindsPriorInserts covers crash-recovery:
// closing and reopening an index at the same directory must restore its
// chain roots from the manifest rather than recreate them, so previously
// inserted vectors stay reachable.
func TestReopenRestoresRootsAndFindsPriorInserts(t *testing.T) {
	dir := t.TempDir()
	cfg := smallConfig()

	idx, err := Open(dir, cfg, distance.CosineOnFloatBits{}, 2, 1)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(1, metadata.Schema{}, distance.EncodeFloats([]float32{1, 0}), nil))
	require.NoError(t, idx.Close())

	reopened, err := Open(dir, cfg, distance.CosineOnFloatBits{}, 2, 1)
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Query(distance.EncodeFloats([]float32{1, 0}), nil, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

// TestPrimeSchemaThenFilteredQueryFindsMatchingField covers the metadata
// replica engine end to end: priming a schema's field=value combinations
// before any real data carries them, then inserting real data under that
// schema, then querying filtered to one field value.
func TestPrimeSchemaThenFilteredQueryFindsMatchingField(t *testing.T) {
	idx, err := Open(t.TempDir(), smallConfig(), distance.CosineOnFloatBits{}, 2, 1)
	require.NoError(t, err)
	defer idx.Close()

	schema := metadata.NewSchema(map[string][]string{"color": {"red", "blue"}})
	require.NoError(t, idx.PrimeSchema(1, schema))

	redVec := distance.EncodeFloats([]float32{1, 0})
	blueVec := distance.EncodeFloats([]float32{0, 1})
	require.NoError(t, idx.Insert(1, schema, redVec, map[string]string{"color": "red"}))
	require.NoError(t, idx.Insert(1, schema, blueVec, map[string]string{"color": "blue"}))

	redFilter := metadata.FilterValue("color", "red")
	results, err := idx.Query(redVec, []distance.Metadata{redFilter}, 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	blueReplicaID := distance.InternalID(hashVecForTest(blueVec)*uint64(cfgNeighborsCount(smallConfig())) + 1)
	for _, r := range results {
		require.NotEqual(t, blueReplicaID, r.ID, "color=red filter must not return the color=blue replica")
	}
}

// hashVecForTest mirrors metadata's unexported replica-id derivation
// (fnv-1a over the raw vector bytes) so the test can compute the exact id
// a rejected replica would carry, without exporting that scheme from the
// metadata package for production callers who have no use for it.
func hashVecForTest(vec distance.Storage) uint64 {
	h := fnv.New64a()
	h.Write(vec)
	return h.Sum64()
}

func cfgNeighborsCount(cfg config.Config) int { return cfg.HNSW.NeighborsCount }

// TestInsertUnderDifferentTransactionsCreatesSeparateVersions covers the
// multi-version lineage: two inserts under different transaction
// versions must not collapse onto a single root version, and both
// embeddings stay independently queryable.
func TestInsertUnderDifferentTransactionsCreatesSeparateVersions(t *testing.T) {
	idx, err := Open(t.TempDir(), smallConfig(), distance.CosineOnFloatBits{}, 2, 1)
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.Insert(1, metadata.Schema{}, distance.EncodeFloats([]float32{1, 0}), nil))
	require.NoError(t, idx.Insert(2, metadata.Schema{}, distance.EncodeFloats([]float32{0, 1}), nil))

	results, err := idx.Query(distance.EncodeFloats([]float32{0, 1}), nil, 5)
	require.NoError(t, err)
	found := false
	for _, r := range results {
		if r.Dist.Float() > 0.9 {
			found = true
		}
	}
	require.True(t, found, "second transaction's insert must be reachable by query")
}
