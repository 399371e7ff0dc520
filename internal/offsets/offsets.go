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

// Package offsets implements the Offset Counter (spec.md §4.2): two
// monotone counters handing out non-reusable byte offsets, one for the
// dense level-0 slab and one for the sparse upper-level slab, each in its
// own rotating IndexFileID space so the two slabs never collide on disk
// identity even though both start from offset 0.
//
// Counters are checkpointed into a small embedded pebble store so that,
// on restart after a crash, allocation resumes past every offset that was
// ever handed out — never reusing one, even if the node it was allocated
// for was never fully written (spec.md §7: "failure leaves the file
// unchanged"; orphaned offsets are harmless, reused ones are not).
package offsets

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/vortexdb/hnsw/internal/hnswerr"
)

// IndexFileID is an opaque identifier for one slab-bearing index file.
// Callers must not assume any structure beyond equality and must not
// construct one except via a Counter.
type IndexFileID uint32

// FileOffset is a byte offset within the file identified by an
// accompanying IndexFileID.
type FileOffset uint32

// rotationThreshold bounds how large one file's slabs may grow before a
// new IndexFileID is minted; kept generous since slab rotation semantics
// are explicitly out of scope (spec.md §4.2).
const rotationThreshold = 1 << 30

// Manifest persists the offset counters so they survive a restart,
// mirroring rawdb.WritePersistentStateID/ReadPersistentStateID in
// triedb/pathdb/disklayer.go.
type Manifest struct {
	db *pebble.DB
}

// OpenManifest opens (creating if necessary) the pebble-backed manifest
// store at dir.
func OpenManifest(dir string) (*Manifest, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "open offset manifest", err)
	}
	return &Manifest{db: db}, nil
}

func (m *Manifest) Close() error { return m.db.Close() }

var (
	keyUpperFileID  = []byte("upper_file_id")
	keyUpperOffset  = []byte("upper_offset")
	keyLevel0FileID = []byte("level0_file_id")
	keyLevel0Offset = []byte("level0_offset")
)

func rootKey(level uint8) []byte {
	return []byte{'r', 'o', 'o', 't', level}
}

// WriteRoot persists the chain-root FileIndex for level so a reopened
// index can find its entry points without recreating them.
func (m *Manifest) WriteRoot(level uint8, fileID IndexFileID, off FileOffset) error {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:4], uint32(fileID))
	binary.LittleEndian.PutUint32(b[4:8], uint32(off))
	return m.db.Set(rootKey(level), b[:], pebble.Sync)
}

// ReadRoot returns the persisted chain-root FileIndex for level, or
// ok=false if the index has never been initialized at that level.
func (m *Manifest) ReadRoot(level uint8) (fileID IndexFileID, off FileOffset, ok bool) {
	v, closer, err := m.db.Get(rootKey(level))
	if err != nil {
		return 0, 0, false
	}
	defer closer.Close()
	if len(v) < 8 {
		return 0, 0, false
	}
	return IndexFileID(binary.LittleEndian.Uint32(v[0:4])), FileOffset(binary.LittleEndian.Uint32(v[4:8])), true
}

func (m *Manifest) readU32(key []byte) uint32 {
	v, closer, err := m.db.Get(key)
	if err != nil {
		return 0
	}
	defer closer.Close()
	if len(v) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(v)
}

func (m *Manifest) writeU32(key []byte, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.db.Set(key, b[:], pebble.Sync)
}

// upperFileIDStart and level0FileIDStart seed the two slabs' file-id
// spaces on disjoint parities (odd vs. even) and each rotates by 2, so the
// upper-level slab and the dense level-0 slab never collide on a file id
// — and, via nodecache's IndexFileID-to-path routing, never land in the
// same physical file either.
const (
	upperFileIDStart  = 1
	level0FileIDStart = 2
)

// slab tracks one independent (file id, next free byte offset) pair.
type slab struct {
	fileID IndexFileID
	offset uint32
}

// Allocation is a reserved, byte-addressed span for one node record: the
// file it belongs to and the offset its record starts at. NextOffset and
// NextLevel0Offset return file id and offset together so a caller never
// observes a rotated file id paired with an offset from before the
// rotation.
type Allocation struct {
	FileID IndexFileID
	Offset FileOffset
}

// Counter allocates non-reusable byte offsets within the level-0 slab and
// the upper-level slab, each in its own file-id space, rotating a slab's
// file id when it exceeds rotationThreshold. Every reservation advances
// the slab's offset by the caller-supplied record size, so two records
// never overlap regardless of how large either one is.
type Counter struct {
	mu sync.Mutex

	manifest *Manifest

	upper  slab
	level0 slab
}

// NewCounter creates a Counter, restoring its state from manifest if one
// was provided (non-nil), otherwise starting both slabs at offset 0 on
// their respective file-id parities.
func NewCounter(manifest *Manifest) *Counter {
	c := &Counter{manifest: manifest, upper: slab{fileID: upperFileIDStart}, level0: slab{fileID: level0FileIDStart}}
	if manifest != nil {
		c.upper.fileID = IndexFileID(valueOr(manifest.readU32(keyUpperFileID), upperFileIDStart))
		c.upper.offset = manifest.readU32(keyUpperOffset)
		c.level0.fileID = IndexFileID(valueOr(manifest.readU32(keyLevel0FileID), level0FileIDStart))
		c.level0.offset = manifest.readU32(keyLevel0Offset)
	}
	return c
}

func valueOr(v, fallback uint32) uint32 {
	if v == 0 {
		return fallback
	}
	return v
}

// FileID returns the upper-level slab's current (possibly just-rotated)
// file id.
func (c *Counter) FileID() IndexFileID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upper.fileID
}

// Level0FileID returns the level-0 slab's current (possibly just-rotated)
// file id.
func (c *Counter) Level0FileID() IndexFileID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level0.fileID
}

// NextOffset reserves size bytes in the upper-level slab and returns the
// file id and starting offset of the reservation. size must be the
// record's worst-case (full-capacity) footprint — see node.RecordSize —
// since a node's record grows in place as neighbor edges are added after
// creation.
func (c *Counter) NextOffset(size uint32) Allocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	alloc := Allocation{FileID: c.upper.fileID, Offset: FileOffset(c.upper.offset)}
	c.upper.offset += size
	c.maybePersist(keyUpperOffset, c.upper.offset)
	c.maybeRotate(&c.upper, keyUpperFileID, keyUpperOffset)
	return alloc
}

// NextLevel0Offset reserves size bytes in the dense level-0 slab and
// returns the file id and starting offset of the reservation.
func (c *Counter) NextLevel0Offset(size uint32) Allocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	alloc := Allocation{FileID: c.level0.fileID, Offset: FileOffset(c.level0.offset)}
	c.level0.offset += size
	c.maybePersist(keyLevel0Offset, c.level0.offset)
	c.maybeRotate(&c.level0, keyLevel0FileID, keyLevel0Offset)
	return alloc
}

func (c *Counter) maybePersist(key []byte, v uint32) {
	if c.manifest != nil {
		_ = c.manifest.writeU32(key, v)
	}
}

// maybeRotate must be called with c.mu held. It mints the next file id on
// s's parity (fileID += 2) once s's slab has grown past rotationThreshold,
// leaving the other slab's file-id space untouched.
func (c *Counter) maybeRotate(s *slab, fileIDKey, offsetKey []byte) {
	if s.offset < rotationThreshold {
		return
	}
	s.fileID += 2
	s.offset = 0
	c.maybePersist(fileIDKey, uint32(s.fileID))
	c.maybePersist(offsetKey, 0)
}
