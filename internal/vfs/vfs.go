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

// Package vfs implements the kernel-independent core of the Glidix virtual
// filesystem: the inode/dentry cache, the mountpoint-aware path resolver,
// the generic filesystem driver interface, and file descriptions. Concrete
// on-disk formats (internal/gxfs, internal/iso9660) plug in by implementing
// Driver and wiring their inodes' Hooks.
package vfs

import (
	"sync"

	"github.com/madd-games/glidix-vfs/internal/clock"
)

// VFS is the root of the whole mounted tree. There is normally exactly one
// VFS value per running instance of the kernel module being modeled here.
type VFS struct {
	// rootFS and root are the filesystem and inode reached at "/". The
	// root has no containing directory of its own (its Parent is nil).
	rootFS *FileSystem
	root   *Inode

	// mountTableMu guards mountTable. It is separate from any inode lock:
	// spec §5 requires that at most one inode lock ever be held across a
	// block-I/O call, and mount-table bookkeeping must never need to call
	// into the block layer.
	mountTableMu sync.Mutex

	// mountTable is keyed by the dentry carrying DentryMountpoint; it is
	// the single source of truth for what is mounted where; a dentry's own
	// TargetIno/Target fields are never rewritten by Mount/Unmount; the
	// resolver consults this table instead whenever it crosses a
	// mountpoint dentry.
	mountTable map[*Dentry]*mountFrame

	// clock timestamps the metadata mutations that set times (MkDir,
	// CreateSymlink, Chmod, Chown, ChangeTimes, Truncate); creating a
	// regular file and writing to it set no timestamps. Defaults to clock.RealClock{}; tests substitute a
	// clock.FakeClock to assert on exact timestamps without wall-clock
	// jitter.
	clock clock.Clock
}

// SetClock overrides the VFS's time source, for tests.
func (v *VFS) SetClock(c clock.Clock) { v.clock = c }

// NewVFS creates a VFS rooted at the given filesystem's root inode
// (ino == the driver's well-known root inode number, typically 1).
func NewVFS(rootFS *FileSystem, rootIno uint64) (*VFS, error) {
	root, err := rootFS.getInode(rootIno)
	if err != nil {
		return nil, err
	}
	root.Mu.Lock()
	root.NoUnlink = true
	root.Mu.Unlock()

	return &VFS{
		rootFS:     rootFS,
		root:       root,
		mountTable: make(map[*Dentry]*mountFrame),
		clock:      clock.RealClock{},
	}, nil
}

// Sync flushes every inode currently cached in v's root filesystem through
// its Hooks.Flush, the way an `umount` or a periodic syncer needs to push
// dirty pages/metadata to the device without waiting for every inode's
// refcount to drop to zero first. It returns the first error encountered
// but keeps flushing the rest.
func (v *VFS) Sync() error {
	var firstErr error
	for _, in := range v.rootFS.cachedInodes() {
		in.Mu.Lock()
		var err error
		if in.Hooks.Flush != nil {
			err = in.Hooks.Flush(in)
		}
		in.Mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RootRef returns a fresh InodeRef to the filesystem root, for use as the
// starting point of a Process's Root and initial CWD.
func (v *VFS) RootRef() InodeRef {
	v.root.Mu.Lock()
	v.root.IncRef()
	v.root.Mu.Unlock()
	return InodeRef{Inode: v.root}
}

// Process carries the per-process context the resolver needs: its notion of
// root and current working directory, and the identity used for permission
// checks. The scheduler/thread subsystem that owns these in the real kernel
// is out of scope (spec §1); this struct is the minimal stand-in the VFS
// core requires from its caller.
type Process struct {
	UID, GID uint32

	// RootEquivalent callers bypass all permission checks in the core,
	// per spec §7.
	RootEquivalent bool

	Root InodeRef
	CWD  InodeRef
}

// depthCap is the strict symlink-nesting limit the resolver enforces (spec
// §2, §4.2, §7): eight hops across nested resolver invocations.
const depthCap = 8
