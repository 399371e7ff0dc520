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

// Package propstore implements the Prop File (spec.md §4 table, §6): an
// append-only sidecar storing quantized vector values and metadata
// vectors, addressed by the location token returned from a write.
package propstore

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/vortexdb/hnsw/internal/bufio"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/hnswerr"
)

// Location is the offset into the prop file at which a record begins.
type Location uint32

// Store is the prop file: single-writer (guarded by mu, released before
// any subsequent work per spec.md §5), multi-reader (readers resolve a
// Location directly, relying on the append-only invariant that a
// Location once returned is never overwritten).
type Store struct {
	mu sync.Mutex
	bm *bufio.BufferManager
}

// Open opens the prop file at path.
func Open(path string) (*Store, error) {
	bm, err := bufio.New(path)
	if err != nil {
		return nil, err
	}
	return &Store{bm: bm}, nil
}

func (s *Store) Close() error { return s.bm.Close() }

// WriteValue appends a NodePropValue record: id(u32) | len(u32) |
// bytes[len], and returns its location.
func (s *Store) WriteValue(id distance.InternalID, vec distance.Storage) (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 8+len(vec))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(vec)))
	copy(buf[8:], vec)

	cursor, err := s.bm.OpenCursor()
	if err != nil {
		return 0, err
	}
	defer s.bm.CloseCursor(cursor)

	off, err := s.bm.WriteToEndOfFile(cursor, buf)
	if err != nil {
		return 0, hnswerr.Wrap(hnswerr.BufIoError, "write prop value", err)
	}
	return Location(off), nil
}

// ReadValue resolves a Location written by WriteValue back into an id
// and quantized vector. Readers do not hold the writer's lock.
func (s *Store) ReadValue(loc Location) (distance.InternalID, distance.Storage, error) {
	cursor, err := s.bm.OpenCursor()
	if err != nil {
		return 0, nil, err
	}
	defer s.bm.CloseCursor(cursor)

	if err := s.bm.SeekWithCursor(cursor, uint64(loc)); err != nil {
		return 0, nil, err
	}
	id, err := s.bm.ReadU32WithCursor(cursor)
	if err != nil {
		return 0, nil, hnswerr.Wrap(hnswerr.NotFound, "read prop value id", err)
	}
	n, err := s.bm.ReadU32WithCursor(cursor)
	if err != nil {
		return 0, nil, hnswerr.Wrap(hnswerr.BufIoError, "read prop value len", err)
	}
	data, err := s.bm.ReadBytesWithCursor(cursor, int(n))
	if err != nil {
		return 0, nil, hnswerr.Wrap(hnswerr.BufIoError, "read prop value bytes", err)
	}
	return distance.InternalID(id), distance.Storage(data), nil
}

// WriteMetadata appends a NodePropMetadata record: mag(f32) |
// mbits_len(u32) | bytes[mbits_len].
func (s *Store) WriteMetadata(m distance.Metadata) (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 8+len(m.MBits))
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(m.Mag))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(m.MBits)))
	copy(buf[8:], m.MBits)

	cursor, err := s.bm.OpenCursor()
	if err != nil {
		return 0, err
	}
	defer s.bm.CloseCursor(cursor)

	off, err := s.bm.WriteToEndOfFile(cursor, buf)
	if err != nil {
		return 0, hnswerr.Wrap(hnswerr.BufIoError, "write prop metadata", err)
	}
	return Location(off), nil
}

// ReadMetadata resolves a Location written by WriteMetadata.
func (s *Store) ReadMetadata(loc Location) (distance.Metadata, error) {
	cursor, err := s.bm.OpenCursor()
	if err != nil {
		return distance.Metadata{}, err
	}
	defer s.bm.CloseCursor(cursor)

	if err := s.bm.SeekWithCursor(cursor, uint64(loc)); err != nil {
		return distance.Metadata{}, err
	}
	magBits, err := s.bm.ReadU32WithCursor(cursor)
	if err != nil {
		return distance.Metadata{}, hnswerr.Wrap(hnswerr.NotFound, "read prop metadata mag", err)
	}
	n, err := s.bm.ReadU32WithCursor(cursor)
	if err != nil {
		return distance.Metadata{}, hnswerr.Wrap(hnswerr.BufIoError, "read prop metadata len", err)
	}
	data, err := s.bm.ReadBytesWithCursor(cursor, int(n))
	if err != nil {
		return distance.Metadata{}, hnswerr.Wrap(hnswerr.BufIoError, "read prop metadata bytes", err)
	}
	return distance.Metadata{Mag: math.Float32frombits(magBits), MBits: data}, nil
}
