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

package vfs

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// FSFlags are filesystem-wide mount flags.
type FSFlags uint8

const (
	FSReadOnly FSFlags = 1 << iota
	FSNoSUID
)

// Driver is the generic filesystem driver interface every on-disk format
// (GXFS, ISO9660, ...) implements. It corresponds to the "table of hooks"
// the spec describes in §3/§9; in idiomatic Go this is a single interface
// rather than a struct of function pointers, matching the way the teacher's
// fuseutil.FileSystem / NotImplementedFileSystem pattern virtualizes
// optional behavior.
type Driver interface {
	// LoadInode fills a freshly allocated Inode from disk for the given
	// inode number. Called with the owning FileSystem's lock NOT held.
	LoadInode(fs *FileSystem, ino uint64) (*Inode, error)

	// RegInode assigns a fresh inode number to a newly created inode and
	// persists whatever the driver needs to make it loadable again.
	RegInode(fs *FileSystem, in *Inode) (ino uint64, err error)

	// Unmount releases driver-private state. Called only once every
	// inode in the filesystem's inode map is quiescent.
	Unmount(fs *FileSystem) error
}

var nextFSID uint64

// FileSystem is the driver-private state plus bookkeeping shared by the VFS
// core: the inode map, space accounting and mount flags.
type FileSystem struct {
	ID       uint64
	TypeName string

	Driver      Driver
	PrivateData interface{}

	BlockSize            uint32
	TotalBlocks, UsedBlocks, FreeBlocks uint64

	Flags FSFlags

	BootID      [16]byte
	MaxNameLen  int

	// mu is the short-critical-section semaphore guarding only the inode
	// map and the block-accounting counters (spec §5 "Shared-resource
	// policy"). Filesystem-level operations that also touch inode state
	// take mu only briefly, inside the relevant inode lock(s).
	mu       sync.Mutex
	inodeMap map[uint64]*Inode

	// mountRefs counts MountPoint frames rooted at this filesystem (i.e.
	// how many places in the mount table currently have this filesystem
	// mounted). Unmount of the last reference tears down the driver.
	mountRefs int

	// unmounting is set before the inode map is torn down; while true no
	// new references may be taken, and inodes released during unmount
	// skip the "remove me from the map" step (spec §5 "Unmount safety").
	unmounting bool
}

// NewFileSystem allocates filesystem bookkeeping around a driver. The
// filesystem id is assigned monotonically, mirroring how the GXFS
// superblock's boot id and the kernel's fsid allocator work together on the
// real system.
func NewFileSystem(typeName string, driver Driver, blockSize uint32, totalBlocks uint64, flags FSFlags, bootID [16]byte, maxNameLen int) *FileSystem {
	return &FileSystem{
		ID:          atomic.AddUint64(&nextFSID, 1),
		TypeName:    typeName,
		Driver:      driver,
		BlockSize:   blockSize,
		TotalBlocks: totalBlocks,
		FreeBlocks:  totalBlocks,
		Flags:       flags,
		BootID:      bootID,
		MaxNameLen:  maxNameLen,
		inodeMap:    make(map[uint64]*Inode),
	}
}

// ReadOnly reports whether the filesystem was mounted read-only.
func (fs *FileSystem) ReadOnly() bool { return fs.Flags&FSReadOnly != 0 }

// lookupInode returns the cached in-memory inode for ino, if any, without
// taking a reference on it (getInode takes one). The inode map is weak: presence does not by itself
// prevent a concurrently-observed zero refcount, so callers must re-check
// under the inode's own lock before trusting the reference (spec §5).
func (fs *FileSystem) lookupInode(ino uint64) *Inode {
	fs.mu.Lock()
	in := fs.inodeMap[ino]
	fs.mu.Unlock()
	return in
}

// cachedInodes returns a snapshot of every currently in-memory inode, for
// Sync to flush without holding fs.mu across any driver call.
func (fs *FileSystem) cachedInodes() []*Inode {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]*Inode, 0, len(fs.inodeMap))
	for _, in := range fs.inodeMap {
		out = append(out, in)
	}
	return out
}

// getInode returns an in-memory Inode reference for ino, loading it via the
// driver if it is not already cached. The returned inode has had IncRef
// called on it; the caller owns that reference.
func (fs *FileSystem) getInode(ino uint64) (*Inode, error) {
	if in := fs.lookupInode(ino); in != nil {
		in.Mu.Lock()
		in.IncRef()
		in.Mu.Unlock()
		return in, nil
	}

	in, err := fs.Driver.LoadInode(fs, ino)
	if err != nil {
		return nil, err
	}
	in.Ino = ino

	// A driver's LoadInode only fills in Name/TargetIno for a directory's
	// children (it has no access to the unexported dentry-key allocator);
	// wire up Dir and hand out per-directory keys here, in listing order,
	// so the invariant that keys strictly increase as entries are appended
	// holds for entries reconstructed from disk too, not just ones created
	// live via getChild.
	for _, d := range in.Dentries {
		if d.Dir == nil {
			d.Dir = in
			d.Key = in.allocDentryKey()
		}
	}

	fs.mu.Lock()
	if fs.unmounting {
		fs.mu.Unlock()
		return nil, fmt.Errorf("filesystem unmounting: %w", ErrBusy)
	}
	// Another goroutine may have raced us to load the same inode; prefer
	// whichever was registered first so callers never see two live Inode
	// values for the same (fs, ino).
	if existing, ok := fs.inodeMap[ino]; ok {
		fs.mu.Unlock()
		existing.Mu.Lock()
		existing.IncRef()
		existing.Mu.Unlock()
		return existing, nil
	}
	in.refcount.count = 1
	fs.inodeMap[ino] = in
	fs.mu.Unlock()

	return in, nil
}

// registerInode assigns a fresh inode number via the driver and adds the
// inode to the map with an initial refcount of 1, owned by the caller.
func (fs *FileSystem) registerInode(in *Inode) error {
	ino, err := fs.Driver.RegInode(fs, in)
	if err != nil {
		return err
	}
	in.Ino = ino
	in.refcount.count = 1

	fs.mu.Lock()
	fs.inodeMap[ino] = in
	fs.mu.Unlock()
	return nil
}

// forgetInode removes an inode from the map once it has been fully
// destroyed. During unmount this is skipped to avoid mutating a map that is
// being walked to completion (spec §5 "Unmount safety").
func (fs *FileSystem) forgetInode(in *Inode) {
	fs.mu.Lock()
	if !fs.unmounting {
		delete(fs.inodeMap, in.Ino)
	}
	fs.mu.Unlock()
}

// allInodes returns a snapshot of every inode currently in the map, used by
// unmount's quiescence scan.
func (fs *FileSystem) allInodes() []*Inode {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]*Inode, 0, len(fs.inodeMap))
	for _, in := range fs.inodeMap {
		out = append(out, in)
	}
	return out
}
