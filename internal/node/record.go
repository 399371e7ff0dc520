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
	"encoding/binary"

	"github.com/vortexdb/hnsw/internal/bufio"
	"github.com/vortexdb/hnsw/internal/distance"
	"github.com/vortexdb/hnsw/internal/hnswerr"
	"github.com/vortexdb/hnsw/internal/offsets"
	"github.com/vortexdb/hnsw/internal/propstore"
)

// headerSize is the fixed 52-byte prefix preceding the neighbor slots
// (spec.md §6).
const headerSize = 52

// slotSize is the width of one on-disk neighbor slot: id(4) | offset(4)
// | file_id(4) | dist_tag(1) | dist_value(4). spec.md §9 open question
// (c) flags this as fixed; centralizing it here is the seam to revisit
// if distance encodings ever grow.
const slotSize = 17

// nextVersionFlagOffset is the byte offset of the next-version linkage
// flag within a record header; the versioning engine patches this
// in-place exactly once per node (spec.md §3 invariant 5).
const nextVersionFlagOffset = 41

// RecordSize returns the maximum on-disk footprint of a node record with
// the given neighbor capacity: the fixed header plus one slot per
// possible neighbor. Encode only emits bytes for the slots currently
// occupied, but neighbor slots are appended in place as edges form over
// the node's lifetime, so any offset reserved for this record ahead of
// time — via the offset counter — must reserve the full capacity, not
// just the size of the record as first written.
func RecordSize(capacity int) uint32 {
	return uint32(headerSize + capacity*slotSize)
}

func putOffsetOrNone(b []byte, off offsets.FileOffset) {
	binary.LittleEndian.PutUint32(b, uint32(off))
}

func readOffsetOrNone(v uint32) offsets.FileOffset { return offsets.FileOffset(v) }

func encodeFileIndex(buf []byte, fi FileIndex) {
	putOffsetOrNone(buf[0:4], fi.Offset)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(fi.FileID))
}

func decodeFileIndex(buf []byte) FileIndex {
	return FileIndex{Offset: readOffsetOrNone(binary.LittleEndian.Uint32(buf[0:4])), FileID: offsets.IndexFileID(binary.LittleEndian.Uint32(buf[4:8]))}
}

// Encode serializes n into the fixed 52+17·count byte record layout.
func (n *Node) Encode() []byte {
	n.mu.RLock()
	defer n.mu.RUnlock()

	buf := make([]byte, headerSize+slotSize*len(n.slots))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(n.Level))
	binary.LittleEndian.PutUint32(buf[4:8], n.Version)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(n.PropValue))
	if n.HasPropMetadata {
		binary.LittleEndian.PutUint32(buf[12:16], uint32(n.PropMetadata))
	} else {
		binary.LittleEndian.PutUint32(buf[12:16], uint32(locNone))
	}
	encodeFileIndex(buf[16:24], n.Parent)
	encodeFileIndex(buf[24:32], n.Child)
	encodeFileIndex(buf[32:40], n.RootVersionRef)
	if n.HasRootVersion {
		buf[40] = 1
	}
	buf[41] = n.NextVersionFlag
	encodeFileIndex(buf[42:50], n.NextVersion)
	binary.LittleEndian.PutUint16(buf[50:52], uint16(len(n.slots)))

	for i, s := range n.slots {
		off := headerSize + i*slotSize
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(s.ID))
		putOffsetOrNone(buf[off+4:off+8], s.Ref.Offset)
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(s.Ref.FileID))
		tag, val := s.Dist.GetTagAndValue()
		buf[off+12] = tag
		binary.LittleEndian.PutUint32(buf[off+13:off+17], val)
	}
	return buf
}

// Decode reconstructs a Node from its on-disk byte representation. The
// neighbor references stay unresolved FileIndex values: decoding never
// recurses into loading a neighbor's own record (spec.md §4.3).
func Decode(buf []byte, capacity int) (*Node, error) {
	if len(buf) < headerSize {
		return nil, hnswerr.New(hnswerr.BufIoError, "node record shorter than header")
	}
	n := &Node{capacity: capacity}
	n.Level = uint8(binary.LittleEndian.Uint32(buf[0:4]))
	n.Version = binary.LittleEndian.Uint32(buf[4:8])
	n.PropValue = propstore.Location(binary.LittleEndian.Uint32(buf[8:12]))
	metaLoc := binary.LittleEndian.Uint32(buf[12:16])
	if metaLoc != uint32(locNone) {
		n.HasPropMetadata = true
		n.PropMetadata = propstore.Location(metaLoc)
	} else {
		n.PropMetadata = locNone
	}
	n.Parent = decodeFileIndex(buf[16:24])
	n.Child = decodeFileIndex(buf[24:32])
	n.RootVersionRef = decodeFileIndex(buf[32:40])
	n.HasRootVersion = buf[40] != 0
	n.NextVersionFlag = buf[41]
	n.NextVersion = decodeFileIndex(buf[42:50])

	count := int(binary.LittleEndian.Uint16(buf[50:52]))
	want := headerSize + count*slotSize
	if len(buf) < want {
		return nil, hnswerr.New(hnswerr.BufIoError, "node record truncated neighbor slots")
	}
	n.slots = make([]Slot, count)
	for i := 0; i < count; i++ {
		off := headerSize + i*slotSize
		id := distance.InternalID(binary.LittleEndian.Uint32(buf[off : off+4]))
		ref := FileIndex{
			Offset: readOffsetOrNone(binary.LittleEndian.Uint32(buf[off+4 : off+8])),
			FileID: offsets.IndexFileID(binary.LittleEndian.Uint32(buf[off+8 : off+12])),
		}
		tag := buf[off+12]
		val := binary.LittleEndian.Uint32(buf[off+13 : off+17])
		n.slots[i] = Slot{ID: id, Ref: ref, Dist: distance.MetricResultFromTagValue(tag, val)}
	}
	return n, nil
}

// WriteRecord appends n's full record to bm via c and returns the
// starting offset — the "write its full record to disk" step of
// create_node_edges and create_node when no offset has already been
// reserved by the offset counter.
func WriteRecord(bm *bufio.BufferManager, c bufio.Cursor, n *Node) (offsets.FileOffset, error) {
	off, err := bm.WriteToEndOfFile(c, n.Encode())
	if err != nil {
		return 0, hnswerr.Wrap(hnswerr.BufIoError, "write node record", err)
	}
	return offsets.FileOffset(off), nil
}

// WriteRecordAt writes n's full record at a byte offset already
// reserved from the offset counter. Used whenever the caller must know
// the offset before the write completes (e.g. to link a parent's child
// pointer), relying on the counter — not the file's current length — as
// the source of truth for "next free offset" (spec.md §4.2, §9 open
// question (a)'s surrounding discussion of crash recovery).
func WriteRecordAt(bm *bufio.BufferManager, c bufio.Cursor, off offsets.FileOffset, n *Node) error {
	if err := bm.SeekWithCursor(c, uint64(off)); err != nil {
		return err
	}
	if err := bm.UpdateWithCursor(c, n.Encode()); err != nil {
		return hnswerr.Wrap(hnswerr.BufIoError, "write node record at offset", err)
	}
	return nil
}

// ReadRecord reads the record at off from bm via c and decodes it.
func ReadRecord(bm *bufio.BufferManager, c bufio.Cursor, off offsets.FileOffset, capacity int) (*Node, error) {
	if err := bm.SeekWithCursor(c, uint64(off)); err != nil {
		return nil, err
	}
	header, err := bm.ReadBytesWithCursor(c, headerSize)
	if err != nil {
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "read node header", err)
	}
	count := int(binary.LittleEndian.Uint16(header[50:52]))
	tail, err := bm.ReadBytesWithCursor(c, count*slotSize)
	if err != nil {
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "read node neighbor slots", err)
	}
	return Decode(append(header, tail...), capacity)
}

// PatchNextVersion performs the +41 surgical patch (spec.md §4.8 step 4):
// writes the zero terminator flag, then the successor's offset and file
// id, in place over the predecessor's header. It touches only those
// header bytes; other in-place updates (parent/child links, neighbor
// edges) rewrite the whole record through WriteRecordAt.
func PatchNextVersion(bm *bufio.BufferManager, c bufio.Cursor, recordOffset offsets.FileOffset, next FileIndex) error {
	if err := bm.SeekWithCursor(c, uint64(recordOffset)+nextVersionFlagOffset); err != nil {
		return err
	}
	if err := bm.UpdateU8WithCursor(c, 0); err != nil {
		return hnswerr.Wrap(hnswerr.BufIoError, "patch next-version flag", err)
	}
	patch := make([]byte, 8)
	encodeFileIndex(patch, next)
	if err := bm.UpdateWithCursor(c, patch); err != nil {
		return hnswerr.Wrap(hnswerr.BufIoError, "patch next-version offset/file_id", err)
	}
	return nil
}

// PatchNeighborSlot performs the 17-byte surgical neighbor-slot update
// described in spec.md §4.7, at (neighborOffset+52)+slotIdx*17.
func PatchNeighborSlot(bm *bufio.BufferManager, c bufio.Cursor, neighborOffset offsets.FileOffset, slotIdx int, id distance.InternalID, ref FileIndex, dist distance.MetricResult) error {
	at := uint64(neighborOffset) + headerSize + uint64(slotIdx)*slotSize
	if err := bm.SeekWithCursor(c, at); err != nil {
		return err
	}
	buf := make([]byte, slotSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(id))
	putOffsetOrNone(buf[4:8], ref.Offset)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(ref.FileID))
	tag, val := dist.GetTagAndValue()
	buf[12] = tag
	binary.LittleEndian.PutUint32(buf[13:17], val)
	if err := bm.UpdateWithCursor(c, buf); err != nil {
		return hnswerr.Wrap(hnswerr.BufIoError, "patch neighbor slot", err)
	}
	return nil
}
