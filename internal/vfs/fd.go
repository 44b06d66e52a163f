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
	"errors"
	"fmt"
	"io"
	"sync"
)

// Open flags, modeled after the subset of POSIX open(2) flags the spec's
// file description operations need.
const (
	OpenRead      = 1 << 0
	OpenWrite     = 1 << 1
	OpenAppend    = 1 << 2
	OpenCreate    = 1 << 3
	OpenExclusive = 1 << 4
	OpenTruncate  = 1 << 5
)

// FileDescription is an open reference to an inode, carrying its own cursor
// and flags. One inode may back any number of FileDescriptions.
type FileDescription struct {
	mu     sync.Mutex
	Inode  InodeRef
	Flags  int
	offset int64
}

// Open resolves path and returns a file description for it. Directories may
// only be opened without OpenWrite.
func (v *VFS) Open(proc *Process, start InodeRef, path string, flags int, perm Mode) (*FileDescription, error) {
	create := flags&OpenCreate != 0
	ref, err := v.ResolveInode(proc, start, path, create)
	if err != nil {
		if create && isErrNoEntry(err) {
			if mkErr := v.createRegular(proc, v.dupInodeRef(start), path, perm); mkErr != nil {
				releaseInodeRef(start)
				return nil, mkErr
			}
			ref, err = v.ResolveInode(proc, start, path, false)
		}
		if err != nil {
			releaseInodeRef(start)
			return nil, err
		}
	} else {
		releaseInodeRef(start)
		if create && flags&OpenExclusive != 0 {
			releaseInodeRef(ref)
			return nil, fmt.Errorf("open: %q: %w", path, ErrExists)
		}
	}

	ref.Inode.Mu.Lock()
	if ref.Inode.Kind == KindDirectory && flags&(OpenWrite|OpenCreate) != 0 {
		ref.Inode.Mu.Unlock()
		releaseInodeRef(ref)
		return nil, fmt.Errorf("open: %w", ErrIsDirectory)
	}
	want := Mode(0)
	if flags&OpenRead != 0 {
		want |= permRead
	}
	if flags&OpenWrite != 0 {
		want |= permWrite
	}
	if want != 0 {
		if err := checkAccess(ref.Inode, proc, want); err != nil {
			ref.Inode.Mu.Unlock()
			releaseInodeRef(ref)
			return nil, err
		}
	}
	if flags&OpenTruncate != 0 && ref.Inode.Kind == KindRegular && ref.Inode.Tree != nil {
		if err := ref.Inode.Tree.Truncate(0); err != nil {
			ref.Inode.Mu.Unlock()
			releaseInodeRef(ref)
			return nil, err
		}
	}
	if ref.Inode.Hooks.Open != nil {
		if err := ref.Inode.Hooks.Open(ref.Inode, flags); err != nil {
			ref.Inode.Mu.Unlock()
			releaseInodeRef(ref)
			return nil, err
		}
	}
	ref.Inode.openCount++
	ref.Inode.Mu.Unlock()

	return &FileDescription{Inode: ref, Flags: flags}, nil
}

func isErrNoEntry(err error) bool {
	return errors.Is(err, ErrNoEntry)
}

func (v *VFS) createRegular(proc *Process, start InodeRef, path string, perm Mode) error {
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
	if existing, _ := dirRef.Inode.getChild(name, false); existing != nil && existing.TargetIno != 0 {
		dirRef.Inode.Mu.Unlock()
		return fmt.Errorf("open: %q: %w", path, ErrExists)
	}
	dirRef.Inode.Mu.Unlock()

	fs := dirRef.Inode.FS
	fin := newInode(fs, 0, KindRegular)
	fin.Perm = perm & ModePerm
	fin.UID, fin.GID = proc.UID, proc.GID
	fin.Links = 1

	if err := fs.registerInode(fin); err != nil {
		return fmt.Errorf("open: %w", err)
	}

	dirRef.Inode.Mu.Lock()
	dent, err := dirRef.Inode.getChild(name, true)
	if err != nil {
		dirRef.Inode.Mu.Unlock()
		releaseInode(fin)
		return err
	}
	dent.TargetIno = fin.Ino
	dent.Target = fin
	dent.Flags &^= DentryTemp
	dirRef.Inode.Mu.Unlock()

	fin.Mu.Lock()
	fin.Parent = dent
	fin.Mu.Unlock()
	return nil
}

// Close releases the file description's reference on its inode, invoking
// the driver's Close hook first. It does not flush; VFS.Sync and the last
// Unmount do.
func (fd *FileDescription) Close() error {
	in := fd.Inode.Inode
	in.Mu.Lock()
	if in.openCount > 0 {
		in.openCount--
	}
	var err error
	if in.Hooks.Close != nil {
		err = in.Hooks.Close(in)
	}
	in.Mu.Unlock()
	if rerr := releaseInodeRef(fd.Inode); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// PRead reads from a fixed offset without disturbing the description's
// cursor.
func (fd *FileDescription) PRead(buf []byte, off int64) (int, error) {
	in := fd.Inode.Inode
	in.Mu.Lock()
	defer in.Mu.Unlock()
	if in.Hooks.PRead != nil {
		return in.Hooks.PRead(in, buf, off)
	}
	if in.Tree == nil {
		return 0, fmt.Errorf("pread: %w", ErrInvalid)
	}
	n, err := in.Tree.ReadAt(buf, off)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// PWrite writes at a fixed offset without disturbing the description's
// cursor.
func (fd *FileDescription) PWrite(buf []byte, off int64) (int, error) {
	in := fd.Inode.Inode
	in.Mu.Lock()
	defer in.Mu.Unlock()
	if in.FS.ReadOnly() {
		return 0, fmt.Errorf("pwrite: %w", ErrReadOnly)
	}
	if in.Hooks.PWrite != nil {
		return in.Hooks.PWrite(in, buf, off)
	}
	if in.Tree == nil {
		return 0, fmt.Errorf("pwrite: %w", ErrInvalid)
	}
	n, err := in.Tree.WriteAt(buf, off)
	if err == nil {
		in.Dirty = true
	}
	return n, err
}

// Read reads from and advances the description's cursor.
func (fd *FileDescription) Read(buf []byte) (int, error) {
	fd.mu.Lock()
	off := fd.offset
	fd.mu.Unlock()

	n, err := fd.PRead(buf, off)

	fd.mu.Lock()
	fd.offset += int64(n)
	fd.mu.Unlock()
	return n, err
}

// Write writes at and advances the description's cursor; OpenAppend moves
// the cursor to the file's current end first.
func (fd *FileDescription) Write(buf []byte) (int, error) {
	fd.mu.Lock()
	if fd.Flags&OpenAppend != 0 {
		in := fd.Inode.Inode
		in.Mu.Lock()
		size, _ := in.sizeLocked()
		in.Mu.Unlock()
		fd.offset = size
	}
	off := fd.offset
	fd.mu.Unlock()

	n, err := fd.PWrite(buf, off)

	fd.mu.Lock()
	fd.offset += int64(n)
	fd.mu.Unlock()
	return n, err
}

// Seek whence values, matching io.Seeker.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Seek repositions the description's cursor.
func (fd *FileDescription) Seek(offset int64, whence int) (int64, error) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	switch whence {
	case SeekSet:
		fd.offset = offset
	case SeekCur:
		fd.offset += offset
	case SeekEnd:
		in := fd.Inode.Inode
		in.Mu.Lock()
		size, err := in.sizeLocked()
		in.Mu.Unlock()
		if err != nil {
			return 0, err
		}
		fd.offset = size + offset
	default:
		return 0, fmt.Errorf("seek: %w", ErrInvalid)
	}
	if fd.offset < 0 {
		fd.offset = 0
		return 0, fmt.Errorf("seek: %w", ErrInvalid)
	}
	return fd.offset, nil
}

// Dup returns a new FileDescription sharing the same inode reference
// semantics (a fresh reference, independent cursor).
func (fd *FileDescription) Dup() (*FileDescription, error) {
	in := fd.Inode.Inode
	in.Mu.Lock()
	in.IncRef()
	in.openCount++
	mounts := cloneMounts(fd.Inode.Mounts)
	in.Mu.Unlock()

	fd.mu.Lock()
	offset := fd.offset
	flags := fd.Flags
	fd.mu.Unlock()

	return &FileDescription{
		Inode:  InodeRef{Inode: in, Mounts: mounts},
		Flags:  flags,
		offset: offset,
	}, nil
}

// IOCtl issues a driver-specific control command.
func (fd *FileDescription) IOCtl(cmd uint32, arg uintptr) (int, error) {
	in := fd.Inode.Inode
	in.Mu.Lock()
	defer in.Mu.Unlock()
	if in.Hooks.IOCtl == nil {
		return 0, fmt.Errorf("ioctl: %w", ErrInvalid)
	}
	return in.Hooks.IOCtl(in, cmd, arg)
}
