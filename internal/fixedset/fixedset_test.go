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

package fixedset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/distance"
)

func TestInsertAndContains(t *testing.T) {
	s := New(8)
	require.False(t, s.Contains(distance.InternalID(5)))

	already := s.Insert(distance.InternalID(5))
	require.False(t, already)
	require.True(t, s.Contains(distance.InternalID(5)))

	already = s.Insert(distance.InternalID(5))
	require.True(t, already)
}

func TestInsertDistinctIDs(t *testing.T) {
	s := New(4)
	for id := distance.InternalID(0); id < 4; id++ {
		already := s.Insert(id)
		require.False(t, already)
	}
	for id := distance.InternalID(0); id < 4; id++ {
		require.True(t, s.Contains(id))
	}
}

func TestOverflowEvictsRatherThanGrows(t *testing.T) {
	s := New(2)
	for id := distance.InternalID(0); id < 64; id++ {
		s.Insert(id)
	}
	// The backing table never grows past its initial allocation.
	require.LessOrEqual(t, len(s.slots), 16)
}
