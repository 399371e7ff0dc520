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

package versioning

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/bufio"
)

func openBM(t *testing.T) (*bufio.BufferManager, bufio.Cursor) {
	t.Helper()
	bm, err := bufio.New(filepath.Join(t.TempDir(), "versioned_items.dat"))
	require.NoError(t, err)
	t.Cleanup(func() { bm.Close() })
	c, err := bm.OpenCursor()
	require.NoError(t, err)
	return bm, c
}

func TestSerializeAppendsThenReadVersionedItemRoundTrips(t *testing.T) {
	bm, c := openBM(t)
	item := NewVersionedItem(1, 42)

	off, err := item.Serialize(bm, c)
	require.NoError(t, err)

	got, err := ReadVersionedItem(bm, c, off)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Version)
	require.Equal(t, uint32(42), got.ValueOffset)
	require.Equal(t, noNext, got.NextOffset)
}

func TestSerializeTwiceOnlyPatchesNextOffset(t *testing.T) {
	bm, c := openBM(t)
	item := NewVersionedItem(1, 42)

	firstOff, err := item.Serialize(bm, c)
	require.NoError(t, err)

	item.SetNext(99)
	secondOff, err := item.Serialize(bm, c)
	require.NoError(t, err)
	require.Equal(t, firstOff, secondOff, "second serialize must patch in place, not append")

	got, err := ReadVersionedItem(bm, c, firstOff)
	require.NoError(t, err)
	require.Equal(t, uint32(99), got.NextOffset)
	require.Equal(t, uint32(1), got.Version)
	require.Equal(t, uint32(42), got.ValueOffset)
}
