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

package iso9660

import (
	"fmt"

	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

// MountOptions carries the owner/mode applied uniformly to every inode,
// since the ISO9660 format itself carries no POSIX ownership information
// (and Rock Ridge PX records, which would, are out of scope for this port).
type MountOptions struct {
	UID, GID uint32
	Perm     vfs.Mode // applied to every regular file; directories additionally get +0111
}

// state is the driver-private data hung off vfs.FileSystem.PrivateData.
type state struct {
	dev       blockio.Device
	opts      MountOptions
	rockRidge bool
	byteSkip  int
	bootID    [16]byte
}

// Driver implements vfs.Driver for a read-only ISO9660/Rock Ridge image.
type Driver struct{}

// Mount reads dev's Primary Volume Descriptor, detects Rock Ridge on the
// root directory's "." entry, and returns a read-only vfs.FileSystem rooted
// at the PVD's embedded root directory record.
func Mount(dev blockio.Device, opts MountOptions) (*vfs.FileSystem, uint64, error) {
	pvd, err := readPVD(dev)
	if err != nil {
		return nil, 0, err
	}

	self, err := readDirRecord(dev, pvd.RootOffset)
	if err != nil {
		return nil, 0, fmt.Errorf("iso9660: read root directory record: %w", err)
	}
	first, err := readDirRecord(dev, int64(self.ExtentLBA)*SectorSize)
	if err != nil {
		return nil, 0, fmt.Errorf("iso9660: read root directory's first entry: %w", err)
	}
	byteSkip, rockRidge := spByteSkip(scanSU(first.SystemUse))

	st := &state{dev: dev, opts: opts, rockRidge: rockRidge, byteSkip: byteSkip}
	fs := vfs.NewFileSystem("iso9660", Driver{}, SectorSize, uint64(pvd.VolumeSpaceSize), vfs.FSReadOnly, st.bootID, 222)
	fs.PrivateData = st
	return fs, uint64(pvd.RootOffset), nil
}

func (Driver) LoadInode(fs *vfs.FileSystem, ino uint64) (*vfs.Inode, error) {
	st := fs.PrivateData.(*state)

	rec, err := readDirRecord(st.dev, int64(ino))
	if err != nil {
		return nil, err
	}
	if rec.Length == 0 {
		return nil, fmt.Errorf("iso9660: inode %d: %w", ino, vfs.ErrNoEntry)
	}

	kind := vfs.KindRegular
	if rec.isDir() {
		kind = vfs.KindDirectory
	}

	in := vfs.NewInode(fs, kind)
	in.UID, in.GID = st.opts.UID, st.opts.GID
	in.Links = 1
	in.Perm = st.opts.Perm
	if kind == vfs.KindDirectory {
		in.Perm |= 0111
		in.Links = 2
	}

	if kind == vfs.KindDirectory {
		children, err := st.listDir(rec)
		if err != nil {
			return nil, err
		}
		in.Dentries = children
	} else {
		extentOff := int64(rec.ExtentLBA) * SectorSize
		size := int64(rec.DataLength)
		in.Hooks.PRead = func(fin *vfs.Inode, buf []byte, off int64) (int, error) {
			if off >= size {
				return 0, nil
			}
			if off+int64(len(buf)) > size {
				buf = buf[:size-off]
			}
			n, err := st.dev.ReadAt(buf, extentOff+off)
			if err != nil {
				return n, fmt.Errorf("iso9660: read: %w", vfs.ErrIO)
			}
			return n, nil
		}
		in.Hooks.GetSize = func(*vfs.Inode) (int64, error) { return size, nil }
	}

	in.Hooks.Flush = func(*vfs.Inode) error { return nil } // nothing is ever dirty
	in.Hooks.Free = func(*vfs.Inode) error { return nil }  // nothing was ever allocated
	return in, nil
}

func (Driver) RegInode(fs *vfs.FileSystem, in *vfs.Inode) (uint64, error) {
	return 0, fmt.Errorf("iso9660: %w", vfs.ErrReadOnly)
}

func (Driver) Unmount(fs *vfs.FileSystem) error { return nil }

// listDir reads dir's extent and returns one vfs.Dentry per child entry,
// skipping the self ("." identifier byte 0x00) and parent (".." identifier
// byte 0x01) records that
// every ISO9660 directory begins with — the core synthesizes those two
// itself.
func (st *state) listDir(dir *dirRecord) ([]*vfs.Dentry, error) {
	extentOff := int64(dir.ExtentLBA) * SectorSize
	end := extentOff + int64(dir.DataLength)

	var out []*vfs.Dentry
	off := extentOff
	for off < end {
		// A zero-length record marks the unused tail of a sector; ISO9660
		// directory entries never straddle a sector boundary, so skip
		// ahead to the next one.
		rec, err := readDirRecord(st.dev, off)
		if err != nil {
			return nil, err
		}
		if rec.Length == 0 {
			off += SectorSize - (off-extentOff)%SectorSize
			continue
		}
		if !rec.isSelf() && !rec.isParent() {
			name := displayName(rec.RawName)
			if st.rockRidge {
				name = rockRidgeName(rec, st.byteSkip)
			}
			out = append(out, &vfs.Dentry{Name: name, TargetIno: uint64(rec.SelfOffset)})
		}
		off += int64(rec.Length)
	}
	return out, nil
}
