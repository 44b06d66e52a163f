// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package filetree implements the page-granular cache every regular file's
// content is read and written through. It generalizes the gcsfuse teacher's
// gcsproxy.MutableContent (a whole-object dirty-threshold cache with one
// upgrade from a read-only lease to a read/write one) to a page-indexed
// cache backed by a driver's block storage, since GXFS and ISO9660 files are
// addressed in fixed-size blocks rather than as one opaque blob.
package filetree

import (
	"fmt"
	"io"
	"sync"
)

// PageSize is the unit of caching and dirty tracking. It matches the GXFS
// default block size; ISO9660's smaller 2048-byte sectors still divide it
// evenly, so both drivers share one cache granularity.
const PageSize = 4096

// Hooks are the driver callbacks a FileTree loads and flushes pages
// through. Both may be nil for an in-memory-only file (none of the shipped
// drivers do this, but tests do).
type Hooks struct {
	// LoadPage fills buf (always len(buf) == PageSize) with the on-disk
	// contents of the page at the given index, zero-padding past EOF.
	LoadPage func(page int64, buf []byte) error

	// FlushPage writes buf back for the page at the given index.
	FlushPage func(page int64, buf []byte) error
}

// FileTree is the in-memory cache of one regular file's content.
//
// External synchronization is required: callers hold the owning inode's
// lock for every method here, the same discipline the teacher's
// MutableContent documents.
type FileTree struct {
	hooks Hooks

	mu    sync.Mutex // guards pages and size only; held briefly, never across a Hooks call
	pages map[int64]*page
	size  int64

	locks []rangeLock
}

type page struct {
	data  [PageSize]byte
	dirty bool
}

// rangeLock is one advisory POSIX-style byte-range lock, scoped to the
// process that holds it.
type rangeLock struct {
	owner      uint64 // process identity, caller-defined
	start, end int64  // [start, end), end == -1 means "to EOF"
	exclusive  bool
}

// New creates a FileTree of the given initial size, backed by hooks.
func New(size int64, hooks Hooks) *FileTree {
	return &FileTree{
		hooks: hooks,
		pages: make(map[int64]*page),
		size:  size,
	}
}

// Size returns the file's current logical size.
func (t *FileTree) Size() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Release drops all cached pages without flushing them; used when an inode
// is destroyed with Links == 0 (its storage is about to be freed on disk
// regardless).
func (t *FileTree) Release() {
	t.mu.Lock()
	t.pages = nil
	t.mu.Unlock()
}

func (t *FileTree) getPage(idx int64) (*page, error) {
	t.mu.Lock()
	p, ok := t.pages[idx]
	t.mu.Unlock()
	if ok {
		return p, nil
	}

	p = &page{}
	if t.hooks.LoadPage != nil {
		if err := t.hooks.LoadPage(idx, p.data[:]); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	if existing, ok := t.pages[idx]; ok {
		t.mu.Unlock()
		return existing, nil
	}
	t.pages[idx] = p
	t.mu.Unlock()
	return p, nil
}

// ReadAt implements io.ReaderAt-like semantics one page at a time.
func (t *FileTree) ReadAt(buf []byte, offset int64) (int, error) {
	size := t.Size()
	if offset >= size {
		return 0, io.EOF
	}
	if int64(len(buf))+offset > size {
		buf = buf[:size-offset]
	}

	var n int
	for n < len(buf) {
		idx := (offset + int64(n)) / PageSize
		pageOff := (offset + int64(n)) % PageSize
		p, err := t.getPage(idx)
		if err != nil {
			return n, err
		}
		c := copy(buf[n:], p.data[pageOff:])
		n += c
	}
	return n, nil
}

// WriteAt implements io.WriterAt-like semantics one page at a time,
// extending the file's size and zero-filling any hole as needed.
func (t *FileTree) WriteAt(buf []byte, offset int64) (int, error) {
	var n int
	for n < len(buf) {
		idx := (offset + int64(n)) / PageSize
		pageOff := (offset + int64(n)) % PageSize
		p, err := t.getPage(idx)
		if err != nil {
			return n, err
		}
		c := copy(p.data[pageOff:], buf[n:])
		p.dirty = true
		n += c
	}

	t.mu.Lock()
	if end := offset + int64(n); end > t.size {
		t.size = end
	}
	t.mu.Unlock()
	return n, nil
}

// Truncate resizes the file to exactly n bytes, dropping cached pages
// entirely past the new end and zero-filling a newly extended tail page.
func (t *FileTree) Truncate(n int64) error {
	t.mu.Lock()
	oldSize := t.size
	t.size = n
	lastPage := n / PageSize
	for idx, p := range t.pages {
		if idx > lastPage {
			delete(t.pages, idx)
		} else if idx == lastPage {
			off := n % PageSize
			for i := off; i < PageSize; i++ {
				p.data[i] = 0
			}
			p.dirty = true
		}
	}
	t.mu.Unlock()

	if n > oldSize && n%PageSize != 0 {
		// Load the new tail page and zero it past the old end, so a later
		// read sees zeros rather than whatever LoadPage returned for stale
		// on-disk data.
		p, err := t.getPage(lastPage)
		if err != nil {
			return err
		}
		from := oldSize - lastPage*PageSize
		if from < 0 {
			from = 0
		}
		t.mu.Lock()
		for i := from; i < PageSize; i++ {
			p.data[i] = 0
		}
		p.dirty = true
		t.mu.Unlock()
	}
	return nil
}

// Flush writes every dirty page back through Hooks.FlushPage and clears
// their dirty bit. A driver with no FlushPage hook treats Flush as a no-op,
// matching a purely in-memory tree used in tests.
func (t *FileTree) Flush() error {
	t.mu.Lock()
	dirty := make([]int64, 0)
	for idx, p := range t.pages {
		if p.dirty {
			dirty = append(dirty, idx)
		}
	}
	t.mu.Unlock()

	if t.hooks.FlushPage == nil {
		return nil
	}
	for _, idx := range dirty {
		t.mu.Lock()
		p := t.pages[idx]
		t.mu.Unlock()
		if p == nil {
			continue
		}
		if err := t.hooks.FlushPage(idx, p.data[:]); err != nil {
			return err
		}
		t.mu.Lock()
		p.dirty = false
		t.mu.Unlock()
	}
	return nil
}

// Lock takes an advisory byte-range lock scoped to owner. Overlapping
// exclusive requests from a different owner fail with an error; POSIX
// mandatory enforcement is out of scope, this is advisory bookkeeping only,
// matching the spec's file-locking Non-goals.
func (t *FileTree) Lock(owner uint64, start, end int64, exclusive bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, l := range t.locks {
		if l.owner == owner {
			continue
		}
		if !(exclusive || l.exclusive) {
			continue
		}
		if rangesOverlap(l.start, l.end, start, end) {
			return fmt.Errorf("filetree: range locked by another owner")
		}
	}
	t.locks = append(t.locks, rangeLock{owner: owner, start: start, end: end, exclusive: exclusive})
	return nil
}

// Unlock releases every range lock owner holds that overlaps [start, end).
func (t *FileTree) Unlock(owner uint64, start, end int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.locks[:0]
	for _, l := range t.locks {
		if l.owner == owner && rangesOverlap(l.start, l.end, start, end) {
			continue
		}
		out = append(out, l)
	}
	t.locks = out
}

func rangesOverlap(aStart, aEnd, bStart, bEnd int64) bool {
	if aEnd == -1 {
		aEnd = 1<<63 - 1
	}
	if bEnd == -1 {
		bEnd = 1<<63 - 1
	}
	return aStart < bEnd && bStart < aEnd
}
