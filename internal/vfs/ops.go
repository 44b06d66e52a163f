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
	"time"
)

// Stat resolves path and returns a snapshot of the inode it names, following
// a trailing symlink.
func (v *VFS) Stat(proc *Process, start InodeRef, path string) (Stat, error) {
	ref, err := v.ResolveInode(proc, start, path, false)
	if err != nil {
		return Stat{}, err
	}
	defer releaseInodeRef(ref)

	ref.Inode.Mu.Lock()
	defer ref.Inode.Mu.Unlock()
	return ref.Inode.statLocked()
}

// LStat is like Stat but does not follow a trailing symlink.
func (v *VFS) LStat(proc *Process, start InodeRef, path string) (Stat, error) {
	dirRef, dent, err := v.ResolveDentryNoFollow(proc, start, path, false)
	if err != nil {
		return Stat{}, err
	}
	defer releaseInodeRef(dirRef)

	in, mounts, err := v.materialize(dirRef.Mounts, dent)
	if err != nil {
		return Stat{}, err
	}
	_ = mounts
	defer releaseInode(in)

	in.Mu.Lock()
	defer in.Mu.Unlock()
	return in.statLocked()
}

// MkDir creates an empty directory at path. The new directory's owner is
// taken from proc, and its permission bits from perm.
func (v *VFS) MkDir(proc *Process, start InodeRef, path string, perm Mode) error {
	dirRef, name, err := v.ResolveParent(proc, start, path)
	if err != nil {
		return err
	}
	defer releaseInodeRef(dirRef)

	dirRef.Inode.Mu.Lock()
	if err := checkAccess(dirRef.Inode, proc, permWrite); err != nil {
		dirRef.Inode.Mu.Unlock()
		return err
	}
	if dirRef.Inode.ReadOnlyFS() {
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("mkdir: %w", ErrReadOnly)
	}
	existing, _ := dirRef.Inode.getChild(name, false)
	dirRef.Inode.Mu.Unlock()
	if existing != nil {
		return fmt.Errorf("mkdir: %q: %w", path, ErrExists)
	}

	fs := dirRef.Inode.FS
	newIno := newInode(fs, 0, KindDirectory)
	newIno.Perm = perm & (ModePerm | ModeSetUID | ModeSetGID | ModeSticky)
	newIno.UID, newIno.GID = proc.UID, proc.GID
	newIno.Links = 1 // the "." entry implicit in being a directory
	now := v.clock.Now()
	newIno.ATime, newIno.MTime, newIno.CTime, newIno.BirthTime = now, now, now, now

	if err := fs.registerInode(newIno); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	dirRef.Inode.Mu.Lock()
	dent, err := dirRef.Inode.getChild(name, true)
	if err != nil {
		dirRef.Inode.Mu.Unlock()
		releaseInode(newIno)
		return err
	}
	dent.TargetIno = newIno.Ino
	dent.Target = newIno
	dent.Flags &^= DentryTemp
	dirRef.Inode.Links++
	dirRef.Inode.Mu.Unlock()

	newIno.Mu.Lock()
	newIno.Links++ // the new directory's own "." plus this link from its parent
	newIno.Parent = dent
	newIno.Mu.Unlock()

	return nil
}

// ReadOnlyFS reports whether in's filesystem was mounted read-only.
// LOCKS_REQUIRED(in) not required: FS and its flags are immutable after
// mount.
func (in *Inode) ReadOnlyFS() bool { return in.FS.ReadOnly() }

// UnlinkFlags controls Unlink's directory-removal behaviour.
type UnlinkFlags uint8

const (
	// UnlinkRemoveDir requests removal of an empty, singly-referenced
	// directory instead of a non-directory entry. Without it, Unlink
	// refuses any directory target.
	UnlinkRemoveDir UnlinkFlags = 1 << iota
)

// materializedRefCount is the in-memory reference count materialize() leaves
// on a target with no other holder: one for the dentry's own cache pin, one
// transient reference for this call. A directory that is about to be
// removed must have exactly this many references, i.e. nothing else (no
// other dentry, no open file description) is pinning it.
const materializedRefCount = 2

// Unlink removes name from its parent. Without UnlinkRemoveDir it refuses a
// directory target; with UnlinkRemoveDir it requires the target be an empty,
// unreferenced directory. It refuses the filesystem root, a mountpoint, and
// any target with NoUnlink set, and honours the parent's sticky bit: when
// set, only the parent's owner, the entry's owner, or a root-equivalent
// caller may remove the entry.
func (v *VFS) Unlink(proc *Process, start InodeRef, path string, flags UnlinkFlags) error {
	dirRef, dent, err := v.ResolveDentryNoFollow(proc, start, path, false)
	if err != nil {
		return err
	}
	defer releaseInodeRef(dirRef)

	dirRef.Inode.Mu.Lock()
	if err := checkAccess(dirRef.Inode, proc, permWrite); err != nil {
		dirRef.Inode.Mu.Unlock()
		return err
	}
	if dirRef.Inode.ReadOnlyFS() {
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("unlink: %w", ErrReadOnly)
	}
	if dent.hasFlag(DentryMountpoint) {
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("unlink: %q: %w", path, ErrBusy)
	}
	sticky := dirRef.Inode.Perm&ModeSticky != 0
	dirUID := dirRef.Inode.UID
	dirRef.Inode.Mu.Unlock()

	target, _, err := v.materialize(dirRef.Mounts, dent)
	if err != nil {
		return err
	}

	target.Mu.Lock()
	if target == v.root || target.NoUnlink {
		target.Mu.Unlock()
		releaseInode(target)
		return fmt.Errorf("unlink: %q: %w", path, ErrBusy)
	}
	if !proc.RootEquivalent && sticky && proc.UID != dirUID && proc.UID != target.UID {
		target.Mu.Unlock()
		releaseInode(target)
		return fmt.Errorf("unlink: %q: %w", path, ErrAccess)
	}
	if target.Kind == KindDirectory {
		if flags&UnlinkRemoveDir == 0 {
			target.Mu.Unlock()
			releaseInode(target)
			return fmt.Errorf("unlink: %q: %w", path, ErrIsDirectory)
		}
		if len(target.Dentries) != 0 {
			target.Mu.Unlock()
			releaseInode(target)
			return fmt.Errorf("unlink: %q: %w", path, ErrNotEmpty)
		}
		if target.RefCount() != materializedRefCount {
			target.Mu.Unlock()
			releaseInode(target)
			return fmt.Errorf("unlink: %q: %w", path, ErrBusy)
		}
	} else if flags&UnlinkRemoveDir != 0 {
		target.Mu.Unlock()
		releaseInode(target)
		return fmt.Errorf("unlink: %q: %w", path, ErrNotDirectory)
	}
	if target.Links > 0 {
		target.Links--
	}
	removedDir := target.Kind == KindDirectory
	target.Mu.Unlock()

	dirRef.Inode.Mu.Lock()
	dirRef.Inode.removeChild(dent)
	if removedDir && dirRef.Inode.Links > 0 {
		// The removed directory's own ".." entry no longer links back to
		// its parent.
		dirRef.Inode.Links--
	}
	dirRef.Inode.Mu.Unlock()

	// Two references are now owed back: the dentry's own cache pin (dent
	// no longer exists to hold it) and the transient one materialize just
	// handed us.
	err1 := releaseInode(target)
	err2 := releaseInode(target)
	if err1 != nil {
		return err1
	}
	return err2
}

// CreateSymlink creates a symlink at path whose contents are target.
func (v *VFS) CreateSymlink(proc *Process, start InodeRef, path, target string) error {
	dirRef, name, err := v.ResolveParent(proc, start, path)
	if err != nil {
		return err
	}
	defer releaseInodeRef(dirRef)

	dirRef.Inode.Mu.Lock()
	if err := checkAccess(dirRef.Inode, proc, permWrite); err != nil {
		dirRef.Inode.Mu.Unlock()
		return err
	}
	if existing, _ := dirRef.Inode.getChild(name, false); existing != nil {
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("symlink: %q: %w", path, ErrExists)
	}
	dirRef.Inode.Mu.Unlock()

	fs := dirRef.Inode.FS
	sym := newInode(fs, 0, KindSymlink)
	sym.SymlinkTarget = target
	sym.Perm = 0777
	sym.UID, sym.GID = proc.UID, proc.GID
	sym.Links = 1
	now := v.clock.Now()
	sym.ATime, sym.MTime, sym.CTime, sym.BirthTime = now, now, now, now

	if err := fs.registerInode(sym); err != nil {
		return fmt.Errorf("symlink: %w", err)
	}

	dirRef.Inode.Mu.Lock()
	dent, err := dirRef.Inode.getChild(name, true)
	if err != nil {
		dirRef.Inode.Mu.Unlock()
		releaseInode(sym)
		return err
	}
	dent.TargetIno = sym.Ino
	dent.Target = sym
	dent.Flags &^= DentryTemp
	dirRef.Inode.Mu.Unlock()

	sym.Mu.Lock()
	sym.Parent = dent
	sym.Mu.Unlock()
	return nil
}

// ReadLink returns a symlink's target text without following it.
func (v *VFS) ReadLink(proc *Process, start InodeRef, path string) (string, error) {
	dirRef, dent, err := v.ResolveDentryNoFollow(proc, start, path, false)
	if err != nil {
		return "", err
	}
	defer releaseInodeRef(dirRef)

	in, _, err := v.materialize(dirRef.Mounts, dent)
	if err != nil {
		return "", err
	}
	defer releaseInode(in)

	in.Mu.Lock()
	defer in.Mu.Unlock()
	if in.Kind != KindSymlink {
		return "", fmt.Errorf("readlink: %q: %w", path, ErrInvalid)
	}
	return in.SymlinkTarget, nil
}

// CreateLink creates a new hard link at path naming the same inode as
// source (resolved fully, following symlinks).
func (v *VFS) CreateLink(proc *Process, start, sourceStart InodeRef, path, source string) error {
	srcRef, err := v.ResolveInode(proc, sourceStart, source, false)
	if err != nil {
		releaseInodeRef(start)
		return err
	}

	dirRef, name, err := v.ResolveParent(proc, start, path)
	if err != nil {
		releaseInodeRef(srcRef)
		return err
	}
	defer releaseInodeRef(dirRef)
	defer releaseInodeRef(srcRef)

	if srcRef.Inode.FS != dirRef.Inode.FS {
		return fmt.Errorf("link: %w", ErrCrossDevice)
	}

	dirRef.Inode.Mu.Lock()
	if err := checkAccess(dirRef.Inode, proc, permWrite); err != nil {
		dirRef.Inode.Mu.Unlock()
		return err
	}
	if existing, _ := dirRef.Inode.getChild(name, false); existing != nil {
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("link: %q: %w", path, ErrExists)
	}
	dent, err := dirRef.Inode.getChild(name, true)
	if err != nil {
		dirRef.Inode.Mu.Unlock()
		return err
	}
	dirRef.Inode.Mu.Unlock()

	srcRef.Inode.Mu.Lock()
	if srcRef.Inode.Kind == KindDirectory {
		srcRef.Inode.Mu.Unlock()
		dirRef.Inode.Mu.Lock()
		dirRef.Inode.removeChild(dent)
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("link: %q: %w", source, ErrIsDirectory)
	}
	srcRef.Inode.Links++
	srcRef.Inode.IncRef() // this dentry's new cache pin
	srcRef.Inode.Mu.Unlock()

	dirRef.Inode.Mu.Lock()
	dent.TargetIno = srcRef.Inode.Ino
	dent.Target = srcRef.Inode
	dent.Flags &^= DentryTemp
	dirRef.Inode.Mu.Unlock()
	return nil
}

// Chmod changes an inode's permission bits.
func (v *VFS) Chmod(proc *Process, start InodeRef, path string, perm Mode) error {
	ref, err := v.ResolveInode(proc, start, path, false)
	if err != nil {
		return err
	}
	defer releaseInodeRef(ref)

	ref.Inode.Mu.Lock()
	defer ref.Inode.Mu.Unlock()
	if !proc.RootEquivalent && proc.UID != ref.Inode.UID {
		return fmt.Errorf("chmod: %w", ErrPermission)
	}
	ref.Inode.Perm = perm & (ModePerm | ModeSetUID | ModeSetGID | ModeSticky)
	ref.Inode.CTime = v.clock.Now()
	return nil
}

// Chown changes an inode's owning user and group. A -1 argument leaves that
// field unchanged.
func (v *VFS) Chown(proc *Process, start InodeRef, path string, uid, gid int64) error {
	ref, err := v.ResolveInode(proc, start, path, false)
	if err != nil {
		return err
	}
	defer releaseInodeRef(ref)

	ref.Inode.Mu.Lock()
	defer ref.Inode.Mu.Unlock()
	if !proc.RootEquivalent {
		return fmt.Errorf("chown: %w", ErrPermission)
	}
	if uid >= 0 {
		ref.Inode.UID = uint32(uid)
	}
	if gid >= 0 {
		ref.Inode.GID = uint32(gid)
	}
	ref.Inode.CTime = v.clock.Now()
	return nil
}

// ChangeTimes updates the atime/mtime of the inode named by path. A zero
// time.Time for either leaves that field unchanged.
func (v *VFS) ChangeTimes(proc *Process, start InodeRef, path string, atime, mtime time.Time) error {
	ref, err := v.ResolveInode(proc, start, path, false)
	if err != nil {
		return err
	}
	defer releaseInodeRef(ref)

	ref.Inode.Mu.Lock()
	defer ref.Inode.Mu.Unlock()
	if !proc.RootEquivalent && proc.UID != ref.Inode.UID {
		return fmt.Errorf("changeTimes: %w", ErrPermission)
	}
	if !atime.IsZero() {
		ref.Inode.ATime = atime
	}
	if !mtime.IsZero() {
		ref.Inode.MTime = mtime
	}
	ref.Inode.CTime = v.clock.Now()
	return nil
}

// Truncate resizes a regular file's content to exactly size bytes.
func (v *VFS) Truncate(proc *Process, start InodeRef, path string, size int64) error {
	ref, err := v.ResolveInode(proc, start, path, false)
	if err != nil {
		return err
	}
	defer releaseInodeRef(ref)

	ref.Inode.Mu.Lock()
	defer ref.Inode.Mu.Unlock()
	if ref.Inode.Kind != KindRegular {
		return fmt.Errorf("truncate: %w", ErrInvalid)
	}
	if err := checkAccess(ref.Inode, proc, permWrite); err != nil {
		return err
	}
	if ref.Inode.Tree == nil {
		return fmt.Errorf("truncate: %w", ErrInvalid)
	}
	if err := ref.Inode.Tree.Truncate(size); err != nil {
		return err
	}
	ref.Inode.MTime = v.clock.Now()
	ref.Inode.Dirty = true
	return nil
}

// Move renames/moves oldPath to newPath, both resolved relative to their
// own starting references; an in-place rename within one directory is
// handled by taking that directory's lock exactly once rather than
// attempting a true recursive lock (SPEC_FULL.md §4.1/§9).
func (v *VFS) Move(proc *Process, oldStart, newStart InodeRef, oldPath, newPath string) error {
	oldDirRef, oldName, err := v.ResolveParent(proc, oldStart, oldPath)
	if err != nil {
		releaseInodeRef(newStart)
		return err
	}
	newDirRef, newName, err := v.ResolveParent(proc, newStart, newPath)
	if err != nil {
		releaseInodeRef(oldDirRef)
		return err
	}

	if oldDirRef.Inode.FS != newDirRef.Inode.FS {
		releaseInodeRef(oldDirRef)
		releaseInodeRef(newDirRef)
		return fmt.Errorf("move: %w", ErrCrossDevice)
	}

	if oldDirRef.Inode == newDirRef.Inode {
		defer releaseInodeRef(oldDirRef)
		releaseInodeRef(newDirRef) // same inode, second ref not needed
		return v.renameWithinDir(proc, oldDirRef.Inode, oldName, newName)
	}

	defer releaseInodeRef(oldDirRef)
	defer releaseInodeRef(newDirRef)
	return v.renameAcrossDirs(proc, oldDirRef.Inode, oldName, newDirRef.Inode, newName)
}

func (v *VFS) renameWithinDir(proc *Process, dir *Inode, oldName, newName string) error {
	dir.Mu.Lock()
	defer dir.Mu.Unlock()

	if err := checkAccess(dir, proc, permWrite); err != nil {
		return err
	}
	src, err := dir.getChild(oldName, false)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if dst, _ := dir.getChild(newName, false); dst != nil {
		if dst.Target != nil && dst.Target.Kind == KindDirectory && len(dst.Target.Dentries) > 0 {
			return fmt.Errorf("move: %q: %w", newName, ErrNotEmpty)
		}
		dir.removeChild(dst)
	}
	src.Name = newName
	return nil
}

func (v *VFS) renameAcrossDirs(proc *Process, oldDir *Inode, oldName string, newDir *Inode, newName string) error {
	// Lock ordering by ascending inode pointer identity (via Ino once
	// assigned; both directories are already-registered so Ino is stable)
	// avoids a classic cross-directory-rename deadlock.
	first, second := oldDir, newDir
	if first.Ino > second.Ino {
		first, second = second, first
	}
	first.Mu.Lock()
	second.Mu.Lock()
	defer first.Mu.Unlock()
	defer second.Mu.Unlock()

	if err := checkAccess(oldDir, proc, permWrite); err != nil {
		return err
	}
	if err := checkAccess(newDir, proc, permWrite); err != nil {
		return err
	}
	src, err := oldDir.getChild(oldName, false)
	if err != nil {
		return err
	}
	if dst, _ := newDir.getChild(newName, false); dst != nil {
		if dst.Target != nil && dst.Target.Kind == KindDirectory && len(dst.Target.Dentries) > 0 {
			return fmt.Errorf("move: %q: %w", newName, ErrNotEmpty)
		}
		newDir.removeChild(dst)
	}
	oldDir.removeChild(src)
	src.Name = newName
	src.Dir = newDir
	newDir.Dentries = append(newDir.Dentries, src)
	return nil
}
