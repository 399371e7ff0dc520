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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultLevelsProbIsMonotoneAndEndsAtOne(t *testing.T) {
	probs := DefaultLevelsProb(3)
	require.Len(t, probs, 4)
	for i := 1; i < len(probs); i++ {
		require.Greater(t, probs[i].CumProb, probs[i-1].CumProb)
	}
	require.InDelta(t, 1.0, probs[len(probs)-1].CumProb, 1e-9)
	require.Equal(t, uint8(3), probs[len(probs)-1].Level)
}

func TestDefaultLevelsProbIsStableAcrossCalls(t *testing.T) {
	a := DefaultLevelsProb(3)
	b := DefaultLevelsProb(3)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("DefaultLevelsProb(3) not stable across calls (-first +second):\n%s", diff)
	}
}

func TestDefaultConfigMatchesWorkedExampleValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, uint8(2), cfg.HNSW.NumLayers)
	require.Equal(t, 16, cfg.HNSW.NeighborsCount)
	require.Equal(t, 32, cfg.HNSW.Level0NeighborsCount)
	require.Len(t, cfg.HNSW.LevelsProb, 3)
}

func TestLoadFallsBackToDefaultsForMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	require.Equal(t, Default().HNSW.NeighborsCount, cfg.HNSW.NeighborsCount)
}

func TestLoadOverridesFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.toml")
	require.NoError(t, os.WriteFile(path, []byte("[hnsw]\nneighbors_count = 8\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.HNSW.NeighborsCount)
	// Load starts from Default(), so fields the partial TOML leaves out
	// keep their default values; LevelsProb is never read from TOML and
	// stays Default's table.
	require.NotNil(t, cfg.HNSW.LevelsProb)
}
