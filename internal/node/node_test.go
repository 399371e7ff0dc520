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

package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/distance"
)

func dist(f float32) distance.MetricResult { return distance.FromFloat32(f) }

func TestAddNeighborOrdersByProximityDescending(t *testing.T) {
	n := New(0, 1, 10, 3)

	idx, ok := n.AddNeighbor(1, FileIndex{Offset: 1}, dist(0.5))
	require.True(t, ok)
	require.Equal(t, 0, idx)

	idx, ok = n.AddNeighbor(2, FileIndex{Offset: 2}, dist(0.9))
	require.True(t, ok)
	require.Equal(t, 0, idx)

	neighbors := n.Neighbors()
	require.Len(t, neighbors, 2)
	require.Equal(t, distance.InternalID(2), neighbors[0].ID)
	require.Equal(t, distance.InternalID(1), neighbors[1].ID)
}

func TestAddNeighborRejectsDuplicateID(t *testing.T) {
	n := New(0, 1, 10, 3)
	_, ok := n.AddNeighbor(1, FileIndex{Offset: 1}, dist(0.5))
	require.True(t, ok)

	_, ok = n.AddNeighbor(1, FileIndex{Offset: 9}, dist(0.9))
	require.False(t, ok)
	require.Len(t, n.Neighbors(), 1)
}

func TestAddNeighborEvictsWorstWhenFullAndImproving(t *testing.T) {
	n := New(0, 1, 10, 2)
	_, ok := n.AddNeighbor(1, FileIndex{Offset: 1}, dist(0.9))
	require.True(t, ok)
	_, ok = n.AddNeighbor(2, FileIndex{Offset: 2}, dist(0.8))
	require.True(t, ok)

	// Full; 0.85 beats the current worst (0.8) so id 2 is evicted.
	idx, ok := n.AddNeighbor(3, FileIndex{Offset: 3}, dist(0.85))
	require.True(t, ok)
	require.Equal(t, 1, idx)

	neighbors := n.Neighbors()
	require.Len(t, neighbors, 2)
	require.Equal(t, distance.InternalID(1), neighbors[0].ID)
	require.Equal(t, distance.InternalID(3), neighbors[1].ID)
}

func TestAddNeighborRejectsWhenFullAndNotImproving(t *testing.T) {
	n := New(0, 1, 10, 2)
	n.AddNeighbor(1, FileIndex{Offset: 1}, dist(0.9))
	n.AddNeighbor(2, FileIndex{Offset: 2}, dist(0.8))

	_, ok := n.AddNeighbor(3, FileIndex{Offset: 3}, dist(0.1))
	require.False(t, ok)
	require.Len(t, n.Neighbors(), 2)
}

func TestRemoveNeighborByIndexAndIDIsCAS(t *testing.T) {
	n := New(0, 1, 10, 3)
	idx, _ := n.AddNeighbor(1, FileIndex{Offset: 1}, dist(0.5))

	// Wrong id at that index: rejected.
	require.False(t, n.RemoveNeighborByIndexAndID(idx, 99))
	require.Len(t, n.Neighbors(), 1)

	require.True(t, n.RemoveNeighborByIndexAndID(idx, 1))
	require.Len(t, n.Neighbors(), 0)
}

func TestLinkNextVersion(t *testing.T) {
	n := New(0, 1, 10, 3)
	require.False(t, n.HasNextVersion())

	next := FileIndex{FileID: 1, Offset: 100}
	n.LinkNextVersion(next)
	require.True(t, n.HasNextVersion())
	require.Equal(t, next, n.NextVersion)
}

func TestCloneCopiesStateButUnlinks(t *testing.T) {
	n := New(2, 1, 10, 3)
	n.Parent = FileIndex{FileID: 1, Offset: 7}
	n.Child = FileIndex{FileID: 1, Offset: 9}
	n.AddNeighbor(1, FileIndex{Offset: 1}, dist(0.5))

	c := n.Clone(2)
	require.Equal(t, n.Parent, c.Parent)
	require.Equal(t, n.Child, c.Child)
	require.Equal(t, n.Neighbors(), c.Neighbors())
	require.Equal(t, uint32(2), c.Version)
	require.False(t, c.HasNextVersion())
}

func TestSetCapacityFixesPostDecodeCapacity(t *testing.T) {
	n := &Node{capacity: 0}
	n.SetCapacity(16)
	require.Equal(t, 16, n.Capacity())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	n := New(1, 42, 100, 4)
	n.HasPropMetadata = true
	n.PropMetadata = 55
	n.Parent = FileIndex{FileID: 2, Offset: 300}
	n.Child = FileIndex{FileID: 2, Offset: 400}
	n.RootVersionRef = FileIndex{FileID: 2, Offset: 10}
	n.HasRootVersion = true
	n.AddNeighbor(5, FileIndex{FileID: 2, Offset: 1000}, dist(0.7))
	n.AddNeighbor(6, FileIndex{FileID: 2, Offset: 2000}, dist(0.9))

	buf := n.Encode()
	decoded, err := Decode(buf, 4)
	require.NoError(t, err)

	require.Equal(t, n.Level, decoded.Level)
	require.Equal(t, n.Version, decoded.Version)
	require.Equal(t, n.PropValue, decoded.PropValue)
	require.True(t, decoded.HasPropMetadata)
	require.Equal(t, n.PropMetadata, decoded.PropMetadata)
	require.Equal(t, n.Parent, decoded.Parent)
	require.Equal(t, n.Child, decoded.Child)
	require.Equal(t, n.RootVersionRef, decoded.RootVersionRef)
	require.True(t, decoded.HasRootVersion)
	require.Equal(t, n.Neighbors(), decoded.Neighbors())
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, 4)
	require.Error(t, err)
}
