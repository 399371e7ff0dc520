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
	"sync"

	"github.com/vortexdb/hnsw/internal/bufio"
	"github.com/vortexdb/hnsw/internal/hnswerr"
)

// noNext is the on-disk sentinel for "no next offset yet".
const noNext = uint32(0xFFFFFFFF)

// VersionedItem is the generic self-patching serialization form spec.md
// §6 names separately from the node record itself: version(u32) |
// value_offset(u32) | next_offset(u32; sentinel=none). It is a
// standalone primitive exercised by serialize_test.go; no other package
// in this module uses it (the index's per-level chain roots live in the
// offsets manifest, and node records use node.PatchNextVersion). Once
// written, a second Serialize call only patches next_offset in place
// rather than appending a duplicate record, mirroring
// versioned_item.rs's double-checked read-then-write-lock around
// serialized_at.
type VersionedItem struct {
	mu           sync.RWMutex
	Version      uint32
	ValueOffset  uint32
	NextOffset   uint32
	serializedAt *uint64
}

// NewVersionedItem creates an unserialized item with no next pointer.
func NewVersionedItem(version, valueOffset uint32) *VersionedItem {
	return &VersionedItem{Version: version, ValueOffset: valueOffset, NextOffset: noNext}
}

func (v *VersionedItem) encode() []byte {
	buf := make([]byte, 12)
	putU32(buf[0:4], v.Version)
	putU32(buf[4:8], v.ValueOffset)
	putU32(buf[8:12], v.NextOffset)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Serialize writes v to bm, returning the offset its record occupies.
// The first call appends; every subsequent call (after SetNext changed
// NextOffset) patches only the 4 next_offset bytes in place, since
// version and value_offset never change once written.
func (v *VersionedItem) Serialize(bm *bufio.BufferManager, c bufio.Cursor) (uint64, error) {
	v.mu.RLock()
	already := v.serializedAt
	v.mu.RUnlock()

	if already != nil {
		if err := bm.SeekWithCursor(c, *already+8); err != nil {
			return 0, err
		}
		v.mu.RLock()
		next := v.NextOffset
		v.mu.RUnlock()
		if err := bm.UpdateU32WithCursor(c, next); err != nil {
			return 0, hnswerr.Wrap(hnswerr.BufIoError, "patch versioned item next_offset", err)
		}
		return *already, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.serializedAt != nil {
		// Lost the race: another writer already appended.
		if err := bm.SeekWithCursor(c, *v.serializedAt+8); err != nil {
			return 0, err
		}
		if err := bm.UpdateU32WithCursor(c, v.NextOffset); err != nil {
			return 0, hnswerr.Wrap(hnswerr.BufIoError, "patch versioned item next_offset", err)
		}
		return *v.serializedAt, nil
	}

	off, err := bm.WriteToEndOfFile(c, v.encode())
	if err != nil {
		return 0, hnswerr.Wrap(hnswerr.BufIoError, "append versioned item", err)
	}
	v.serializedAt = &off
	return off, nil
}

// SetNext updates the in-memory next_offset; the following Serialize
// call will patch it onto disk without rewriting version/value_offset.
func (v *VersionedItem) SetNext(next uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.NextOffset = next
}

// ReadVersionedItem decodes a VersionedItem record at off.
func ReadVersionedItem(bm *bufio.BufferManager, c bufio.Cursor, off uint64) (*VersionedItem, error) {
	if err := bm.SeekWithCursor(c, off); err != nil {
		return nil, err
	}
	raw, err := bm.ReadBytesWithCursor(c, 12)
	if err != nil {
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "read versioned item", err)
	}
	item := &VersionedItem{
		Version:     getU32(raw[0:4]),
		ValueOffset: getU32(raw[4:8]),
		NextOffset:  getU32(raw[8:12]),
	}
	at := off
	item.serializedAt = &at
	return item, nil
}
