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

// Package fixedset implements the Fixed Set (spec.md §4.5): a bounded
// open-addressed visited-id set used during traversal. It is sized to
// the neighbor capacity of the level being traversed; on overflow an
// older entry is evicted rather than growing, since traversal stays
// correct even if a revisit slips through (it only wastes work).
package fixedset

import "github.com/vortexdb/hnsw/internal/distance"

const empty = ^uint64(0)

// Set is a fixed-capacity, open-addressed set of InternalIDs.
type Set struct {
	slots []uint64
	mask  uint64
}

// New creates a Set with room for roughly capacity entries before it
// starts evicting. The backing table is sized to the next power of two
// at least 2x capacity to keep probe chains short.
func New(capacity int) *Set {
	size := 8
	for size < capacity*2 {
		size *= 2
	}
	s := &Set{slots: make([]uint64, size), mask: uint64(size - 1)}
	for i := range s.slots {
		s.slots[i] = empty
	}
	return s
}

func hash(id distance.InternalID) uint64 {
	x := uint64(id)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}

// Contains reports whether id has been recorded.
func (s *Set) Contains(id distance.InternalID) bool {
	h := hash(id)
	for i := uint64(0); i < uint64(len(s.slots)); i++ {
		idx := (h + i) & s.mask
		v := s.slots[idx]
		if v == empty {
			return false
		}
		if v == uint64(id) {
			return true
		}
	}
	return false
}

// Insert records id as visited, reporting whether it was already
// present. On a full probe chain it evicts the slot at the ideal
// position for id rather than growing — an older entry may be lost,
// which is safe per spec.md §4.5.
func (s *Set) Insert(id distance.InternalID) (alreadyVisited bool) {
	h := hash(id)
	for i := uint64(0); i < uint64(len(s.slots)); i++ {
		idx := (h + i) & s.mask
		v := s.slots[idx]
		if v == uint64(id) {
			return true
		}
		if v == empty {
			s.slots[idx] = uint64(id)
			return false
		}
	}
	// Every slot occupied by a foreign id: evict at the ideal slot.
	s.slots[h&s.mask] = uint64(id)
	return false
}
