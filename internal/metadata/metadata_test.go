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

package metadata

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/config"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/propstore"
)

func openProps(t *testing.T) *propstore.Store {
	t.Helper()
	s, err := propstore.Open(filepath.Join(t.TempDir(), "props.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestExpandRejectsUnknownField(t *testing.T) {
	schema := NewSchema(map[string][]string{"color": {"red", "blue"}})
	props := openProps(t)
	_, err := Expand(schema, props, distance.Storage{1}, map[string]string{"size": "large"}, 8, nil)
	require.Error(t, err)
}

func TestExpandRejectsUndeclaredValue(t *testing.T) {
	schema := NewSchema(map[string][]string{"color": {"red", "blue"}})
	props := openProps(t)
	_, err := Expand(schema, props, distance.Storage{1}, map[string]string{"color": "green"}, 8, nil)
	require.Error(t, err)
}

func TestExpandProducesBasePlusOneReplicaPerField(t *testing.T) {
	schema := NewSchema(map[string][]string{
		"color": {"red", "blue"},
		"size":  {"large", "small"},
	})
	props := openProps(t)
	vec := distance.EncodeFloats([]float32{1, 2, 3})
	embs, err := Expand(schema, props, vec, map[string]string{"color": "red", "size": "large"}, 8, nil)
	require.NoError(t, err)
	require.Len(t, embs, 3)

	require.Nil(t, embs[0].MetaLoc)
	require.Equal(t, vec, embs[0].Vec)

	for _, e := range embs[1:] {
		require.NotNil(t, e.MetaLoc)
		require.NotEmpty(t, e.FieldName)
	}
}

func TestExpandIsDeterministicAcrossCalls(t *testing.T) {
	schema := NewSchema(map[string][]string{
		"color": {"red"},
		"size":  {"large"},
		"brand": {"acme"},
	})
	vec := distance.EncodeFloats([]float32{1, 2})
	fields := map[string]string{"color": "red", "size": "large", "brand": "acme"}

	props1 := openProps(t)
	embs1, err := Expand(schema, props1, vec, fields, 8, nil)
	require.NoError(t, err)

	props2 := openProps(t)
	embs2, err := Expand(schema, props2, vec, fields, 8, nil)
	require.NoError(t, err)

	require.Len(t, embs1, len(embs2))
	for i := range embs1 {
		require.Equal(t, embs1[i].ID, embs2[i].ID)
		require.Equal(t, embs1[i].FieldName, embs2[i].FieldName)
	}
}

func TestPseudoLevelsProbForcesLevelZero(t *testing.T) {
	base := config.DefaultLevelsProb(2)
	pseudo := PseudoLevelsProb(base)
	require.Equal(t, float64(0), pseudo[0].CumProb)
	// Every other level's probability is untouched.
	for i := 1; i < len(base); i++ {
		require.Equal(t, base[i].CumProb, pseudo[i].CumProb)
	}
}

func TestExpandPseudoCoversEveryDeclaredFieldValue(t *testing.T) {
	schema := NewSchema(map[string][]string{
		"color": {"red", "blue"},
	})
	props := openProps(t)
	levelsProb := config.DefaultLevelsProb(2)

	embs, err := ExpandPseudo(schema, props, distance.Storage{}, levelsProb)
	require.NoError(t, err)
	// One unfiltered base pseudo plus one per declared value.
	require.Len(t, embs, 3)
	require.Equal(t, float64(0), embs[0].LevelsProb[0].CumProb)

	seen := map[string]bool{}
	for _, e := range embs[1:] {
		seen[e.FieldName+"="+e.FieldValue] = true
	}
	require.True(t, seen["color=red"])
	require.True(t, seen["color=blue"])
}
