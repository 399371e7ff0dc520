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

package lazynode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vortexdb/hnsw/internal/node"
)

func TestResidentReflectsSetAndUnload(t *testing.T) {
	ln := NewUnresident(node.FileIndex{Offset: 1})
	_, ok := ln.Resident()
	require.False(t, ok)

	n := node.New(0, 1, 10, 4)
	ln.SetResident(n)
	got, ok := ln.Resident()
	require.True(t, ok)
	require.Same(t, n, got)

	ln.Unload()
	_, ok = ln.Resident()
	require.False(t, ok)
}

func TestPinUnpinTracksPinned(t *testing.T) {
	ln := NewUnresident(node.FileIndex{Offset: 1})
	require.False(t, ln.Pinned())
	ln.Pin()
	require.True(t, ln.Pinned())
	ln.Pin()
	ln.Unpin()
	require.True(t, ln.Pinned())
	ln.Unpin()
	require.False(t, ln.Pinned())
}

func TestLinkNextOnlySucceedsOnce(t *testing.T) {
	root := NewUnresident(node.FileIndex{Offset: 1})
	v2 := NewUnresident(node.FileIndex{Offset: 2})
	v3 := NewUnresident(node.FileIndex{Offset: 3})

	require.True(t, root.LinkNext(v2))
	require.False(t, root.LinkNext(v3))
	require.Same(t, v2, root.Next())
}

func TestTailWalksToNewestVersion(t *testing.T) {
	root := NewUnresident(node.FileIndex{Offset: 1})
	v2 := NewUnresident(node.FileIndex{Offset: 2})
	v3 := NewUnresident(node.FileIndex{Offset: 3})

	require.Same(t, root, root.Tail())
	root.LinkNext(v2)
	require.Same(t, v2, root.Tail())
	v2.LinkNext(v3)
	require.Same(t, v3, root.Tail())
}

func TestLockChainSerializesConcurrentExtension(t *testing.T) {
	root := NewUnresident(node.FileIndex{Offset: 1})
	root.LockChain()

	acquired := make(chan struct{})
	go func() {
		root.LockChain()
		close(acquired)
		root.UnlockChain()
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second LockChain should have blocked until the first UnlockChain")
	default:
	}
	root.UnlockChain()
	<-acquired
}
