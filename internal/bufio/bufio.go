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

// Package bufio implements the Buffered File Manager (spec.md §4.1): a
// cursor-based random read/write interface over a single on-disk file,
// backed by fixed-size page buffers that are write-through and flushed on
// cursor close. It plays the role triedb/pathdb's disk layer plays for
// trie nodes, but for the HNSW engine's bespoke record format rather than
// a key-value store.
package bufio

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/vortexdb/hnsw/internal/hnswerr"
	"github.com/vortexdb/hnsw/internal/log"
)

// PageSize is the granularity at which the manager caches file content.
// Chosen to match common OS page sizes; not a protocol-visible constant.
const PageSize = 4096

// Cursor identifies one caller's read/write position into the file.
// Cursors are not thread-portable: each goroutine must open its own via
// BufferManager.OpenCursor and must not share it.
type Cursor uint64

type page struct {
	mu    sync.Mutex
	data  []byte
	dirty bool
}

// BufferManager is a single file's buffered, cursor-addressed view. One
// BufferManager exists per on-disk file (one per IndexFileID slab, plus
// one for the prop file).
type BufferManager struct {
	path string
	file *os.File
	lock *flock.Flock
	log  log.Logger

	pagesMu sync.RWMutex
	pages   map[int64]*page

	size      atomic.Int64
	cursors   sync.Map // Cursor -> *int64 (position)
	nextCursor atomic.Uint64
}

// New opens (creating if necessary) the file at path and returns a
// BufferManager over it, holding an advisory exclusive flock for the
// lifetime of the manager so two processes never write the same file
// concurrently.
func New(path string) (*BufferManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "open index file", err)
	}
	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil || !locked {
		f.Close()
		return nil, hnswerr.Wrap(hnswerr.LockError, "lock index file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		fl.Unlock()
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "stat index file", err)
	}
	bm := &BufferManager{
		path:  path,
		file:  f,
		lock:  fl,
		log:   log.New("component", "bufio", "file", path),
		pages: make(map[int64]*page),
	}
	bm.size.Store(info.Size())
	return bm, nil
}

// OpenCursor allocates a new cursor positioned at offset 0.
func (bm *BufferManager) OpenCursor() (Cursor, error) {
	id := Cursor(bm.nextCursor.Add(1))
	pos := new(int64)
	bm.cursors.Store(id, pos)
	return id, nil
}

// CloseCursor releases the cursor and flushes any pages it may have
// dirtied, matching the "flushed on cursor close" contract.
func (bm *BufferManager) CloseCursor(c Cursor) error {
	bm.cursors.Delete(c)
	return bm.Flush()
}

func (bm *BufferManager) pos(c Cursor) (*int64, error) {
	v, ok := bm.cursors.Load(c)
	if !ok {
		return nil, hnswerr.New(hnswerr.BufIoError, "use of closed cursor")
	}
	return v.(*int64), nil
}

// SeekWithCursor repositions the cursor to an absolute file offset.
func (bm *BufferManager) SeekWithCursor(c Cursor, offset uint64) error {
	p, err := bm.pos(c)
	if err != nil {
		return err
	}
	*p = int64(offset)
	return nil
}

func (bm *BufferManager) getPage(idx int64, mustExist bool) (*page, error) {
	bm.pagesMu.RLock()
	pg, ok := bm.pages[idx]
	bm.pagesMu.RUnlock()
	if ok {
		return pg, nil
	}

	bm.pagesMu.Lock()
	defer bm.pagesMu.Unlock()
	if pg, ok = bm.pages[idx]; ok {
		return pg, nil
	}
	buf := make([]byte, PageSize)
	n, err := bm.file.ReadAt(buf, idx*PageSize)
	if err != nil && err != io.EOF && !(err == io.ErrUnexpectedEOF) {
		return nil, hnswerr.Wrap(hnswerr.BufIoError, "read page", err)
	}
	if n == 0 && mustExist {
		return nil, hnswerr.New(hnswerr.BufIoError, "read past end of file")
	}
	pg = &page{data: buf}
	bm.pages[idx] = pg
	return pg, nil
}

// readBytes reads n bytes starting at the cursor's current offset,
// advancing the cursor, crossing page boundaries transparently.
func (bm *BufferManager) readBytes(c Cursor, n int) ([]byte, error) {
	posPtr, err := bm.pos(c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	off := *posPtr
	read := 0
	for read < n {
		pageIdx := off / PageSize
		within := int(off % PageSize)
		pg, err := bm.getPage(pageIdx, true)
		if err != nil {
			return nil, err
		}
		pg.mu.Lock()
		chunk := copy(out[read:], pg.data[within:])
		pg.mu.Unlock()
		if chunk == 0 {
			return nil, hnswerr.New(hnswerr.BufIoError, "short read")
		}
		read += chunk
		off += int64(chunk)
	}
	*posPtr = off
	return out, nil
}

// writeBytes writes bytes at the cursor's current position, extending
// the file and allocating pages as needed, advancing the cursor.
func (bm *BufferManager) writeBytes(c Cursor, data []byte) error {
	posPtr, err := bm.pos(c)
	if err != nil {
		return err
	}
	off := *posPtr
	written := 0
	for written < len(data) {
		pageIdx := off / PageSize
		within := int(off % PageSize)
		pg, err := bm.getPage(pageIdx, false)
		if err != nil {
			return err
		}
		pg.mu.Lock()
		chunk := copy(pg.data[within:], data[written:])
		pg.dirty = true
		pg.mu.Unlock()
		written += chunk
		off += int64(chunk)
	}
	*posPtr = off
	if off > bm.size.Load() {
		bm.size.Store(off)
	}
	return nil
}

// ReadU8WithCursor reads a single byte and advances the cursor.
func (bm *BufferManager) ReadU8WithCursor(c Cursor) (uint8, error) {
	b, err := bm.readBytes(c, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16WithCursor reads a little-endian uint16 and advances the cursor.
func (bm *BufferManager) ReadU16WithCursor(c Cursor) (uint16, error) {
	b, err := bm.readBytes(c, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadU32WithCursor reads a little-endian uint32 and advances the cursor.
func (bm *BufferManager) ReadU32WithCursor(c Cursor) (uint32, error) {
	b, err := bm.readBytes(c, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadBytesWithCursor reads n raw bytes and advances the cursor.
func (bm *BufferManager) ReadBytesWithCursor(c Cursor, n int) ([]byte, error) {
	return bm.readBytes(c, n)
}

// UpdateU8WithCursor writes a single byte at the cursor's position.
func (bm *BufferManager) UpdateU8WithCursor(c Cursor, v uint8) error {
	return bm.writeBytes(c, []byte{v})
}

// UpdateU32WithCursor writes a little-endian uint32 at the cursor's position.
func (bm *BufferManager) UpdateU32WithCursor(c Cursor, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return bm.writeBytes(c, b[:])
}

// UpdateWithCursor writes raw bytes at the cursor's position (the
// "surgical update" use case of §4.7). Like the other cursor writes, it
// allocates pages and grows the file when the range runs past its end.
func (bm *BufferManager) UpdateWithCursor(c Cursor, data []byte) error {
	return bm.writeBytes(c, data)
}

// WriteToEndOfFile appends bytes atomically with respect to the size
// counter and returns the starting offset of the new record — the
// append-to-end primitive both the index file and the prop file use for
// all "first write" of a record.
func (bm *BufferManager) WriteToEndOfFile(c Cursor, data []byte) (uint64, error) {
	offset := uint64(bm.size.Add(int64(len(data))) - int64(len(data)))
	if err := bm.SeekWithCursor(c, offset); err != nil {
		return 0, err
	}
	if err := bm.writeBytes(c, data); err != nil {
		return 0, err
	}
	return offset, nil
}

// Flush writes all dirty pages through to the underlying file.
func (bm *BufferManager) Flush() error {
	bm.pagesMu.RLock()
	defer bm.pagesMu.RUnlock()
	for idx, pg := range bm.pages {
		pg.mu.Lock()
		if pg.dirty {
			if _, err := bm.file.WriteAt(pg.data, idx*PageSize); err != nil {
				pg.mu.Unlock()
				return hnswerr.Wrap(hnswerr.BufIoError, "flush page", err)
			}
			pg.dirty = false
		}
		pg.mu.Unlock()
	}
	return nil
}

// Close flushes and releases the file and its advisory lock.
func (bm *BufferManager) Close() error {
	if err := bm.Flush(); err != nil {
		return err
	}
	bm.lock.Unlock()
	return bm.file.Close()
}

// Size returns the current logical length of the file.
func (bm *BufferManager) Size() uint64 { return uint64(bm.size.Load()) }

// Factory mints and caches one BufferManager per opaque file identifier,
// matching the teacher's BufferManagerFactory[IndexFileId] pattern.
type Factory[K comparable] struct {
	mu       sync.Mutex
	dir      string
	managers map[K]*BufferManager
	pathFor  func(dir string, key K) string
}

// NewFactory creates a Factory that derives each file's path from dir and
// the opaque key via pathFor.
func NewFactory[K comparable](dir string, pathFor func(dir string, key K) string) *Factory[K] {
	return &Factory[K]{dir: dir, managers: make(map[K]*BufferManager), pathFor: pathFor}
}

// Get returns the BufferManager for key, opening it on first use.
func (f *Factory[K]) Get(key K) (*BufferManager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bm, ok := f.managers[key]; ok {
		return bm, nil
	}
	bm, err := New(f.pathFor(f.dir, key))
	if err != nil {
		return nil, err
	}
	f.managers[key] = bm
	return bm, nil
}

// CloseAll flushes and closes every manager the factory has opened.
func (f *Factory[K]) CloseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for k, bm := range f.managers {
		if err := bm.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(f.managers, k)
	}
	return firstErr
}
