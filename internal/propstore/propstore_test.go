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

package propstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/distance"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "props.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteValueThenReadValue(t *testing.T) {
	s := openStore(t)
	vec := distance.EncodeFloats([]float32{1, 2, 3})

	loc, err := s.WriteValue(distance.InternalID(7), vec)
	require.NoError(t, err)

	id, got, err := s.ReadValue(loc)
	require.NoError(t, err)
	require.Equal(t, distance.InternalID(7), id)
	require.Equal(t, vec, got)
}

func TestWriteValueAppendsDistinctLocations(t *testing.T) {
	s := openStore(t)
	v1 := distance.EncodeFloats([]float32{1})
	v2 := distance.EncodeFloats([]float32{2, 2})

	loc1, err := s.WriteValue(1, v1)
	require.NoError(t, err)
	loc2, err := s.WriteValue(2, v2)
	require.NoError(t, err)
	require.NotEqual(t, loc1, loc2)

	_, got1, err := s.ReadValue(loc1)
	require.NoError(t, err)
	require.Equal(t, v1, got1)
	_, got2, err := s.ReadValue(loc2)
	require.NoError(t, err)
	require.Equal(t, v2, got2)
}

func TestWriteMetadataThenReadMetadata(t *testing.T) {
	s := openStore(t)
	m := distance.Metadata{Mag: 1.5, MBits: []byte{1, 2, 3, 4}}

	loc, err := s.WriteMetadata(m)
	require.NoError(t, err)

	got, err := s.ReadMetadata(loc)
	require.NoError(t, err)
	require.Equal(t, m, got)
}
