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

package gxfs

import (
	"fmt"
	"sync"

	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/filetree"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

// state is the driver-private data hung off vfs.FileSystem.PrivateData.
type state struct {
	dev blockio.Device
	mu  sync.Mutex // guards sb, every block allocation/free, and blocks
	sb  *Superblock

	// blocks holds the current data-block list for every regular file
	// inode with a live filetree.FileTree, keyed by Ino. The FlushPage
	// hook grows it as pages are first written; flushInode reads it back
	// so a plain Hooks.Flush call (not mid-FlushPage) persists the
	// correct list instead of wiping it.
	blocks map[uint64][]uint64
}

// Driver implements vfs.Driver for a device already formatted by Format.
type Driver struct{}

// Mount opens dev, validates its superblock and returns a ready-to-use
// vfs.FileSystem; the caller obtains the root through
// vfs.NewVFS(fs, gxfs.RootIno).
func Mount(dev blockio.Device, flags vfs.FSFlags) (*vfs.FileSystem, error) {
	sb, err := readSuperblock(dev)
	if err != nil {
		return nil, err
	}
	st := &state{dev: dev, sb: sb, blocks: make(map[uint64][]uint64)}
	fs := vfs.NewFileSystem("gxfs", Driver{}, BlockSize, sb.TotalBlocks, flags, sb.BootID, 255)
	fs.PrivateData = st
	return fs, nil
}

func (Driver) LoadInode(fs *vfs.FileSystem, ino uint64) (*vfs.Inode, error) {
	st := fs.PrivateData.(*state)

	st.mu.Lock()
	buf, err := readBlock(st.dev, ino)
	st.mu.Unlock()
	if err != nil {
		return nil, err
	}

	odi, err := decodeInodeBlock(buf)
	if err != nil {
		return nil, err
	}

	in := vfs.NewInode(fs, odi.Kind)
	in.Perm = odi.Perm
	in.UID, in.GID = odi.UID, odi.GID
	in.Links = odi.Links
	in.ATime, in.MTime, in.CTime, in.BirthTime = odi.ATime, odi.MTime, odi.CTime, odi.BirthTime
	in.ACL = odi.ACL

	switch odi.Kind {
	case vfs.KindDirectory:
		for _, d := range odi.Dentries {
			dent := &vfs.Dentry{Name: d.Name, TargetIno: d.Ino}
			in.Dentries = append(in.Dentries, dent)
		}
	case vfs.KindRegular:
		var size int64
		if len(odi.DataBlocks) > 0 {
			size = int64(len(odi.DataBlocks)) * filetree.PageSize
		}
		st.mu.Lock()
		st.blocks[in.Ino] = odi.DataBlocks
		st.mu.Unlock()
		in.Tree = filetree.New(size, fileTreeHooks(st, in))
	case vfs.KindSymlink:
		in.SymlinkTarget = odi.SymlinkTarget
	}

	persistHooks(st, in)
	return in, nil
}

// persistHooks installs the Flush and Drop hooks shared by LoadInode and
// RegInode: Flush writes the file tree and the inode block back, Drop
// returns the inode's block to the free list once its last link is gone.
func persistHooks(st *state, in *vfs.Inode) {
	in.Hooks.Flush = func(fin *vfs.Inode) error {
		if fin.Tree != nil {
			if err := fin.Tree.Flush(); err != nil {
				return err
			}
		}
		st.mu.Lock()
		blocks := st.blocks[fin.Ino]
		st.mu.Unlock()
		return flushInode(st, fin, blocks)
	}
	in.Hooks.Drop = func(fin *vfs.Inode) error {
		st.mu.Lock()
		delete(st.blocks, fin.Ino)
		st.mu.Unlock()
		return freeInodeBlock(st, fin.Ino)
	}
}

func (Driver) RegInode(fs *vfs.FileSystem, in *vfs.Inode) (uint64, error) {
	st := fs.PrivateData.(*state)
	st.mu.Lock()
	block, err := allocBlock(st.dev, st.sb)
	if err != nil {
		st.mu.Unlock()
		return 0, err
	}
	if err := writeSuperblock(st.dev, st.sb); err != nil {
		st.mu.Unlock()
		return 0, err
	}
	st.mu.Unlock()

	in.Ino = block
	if in.Kind == vfs.KindRegular {
		st.mu.Lock()
		st.blocks[in.Ino] = nil
		st.mu.Unlock()
	}
	if err := flushInode(st, in, nil); err != nil {
		return 0, err
	}

	if in.Kind == vfs.KindRegular {
		in.Tree = filetree.New(0, fileTreeHooks(st, in))
	}
	persistHooks(st, in)
	return block, nil
}

// fileTreeHooks builds the filetree.Hooks wiring a regular file's page
// cache to its GXFS data-block list, shared by LoadInode and RegInode.
func fileTreeHooks(st *state, in *vfs.Inode) filetree.Hooks {
	return filetree.Hooks{
		LoadPage: func(page int64, dst []byte) error {
			st.mu.Lock()
			defer st.mu.Unlock()
			blocks := st.blocks[in.Ino]
			if page < 0 || int(page) >= len(blocks) {
				return nil // sparse hole past what was ever written
			}
			_, err := st.dev.ReadAt(dst, int64(blocks[page])*BlockSize)
			return err
		},
		FlushPage: func(page int64, src []byte) error {
			st.mu.Lock()
			blocks := st.blocks[in.Ino]
			for int64(len(blocks)) <= page {
				b, err := allocBlock(st.dev, st.sb)
				if err != nil {
					st.mu.Unlock()
					return err
				}
				blocks = append(blocks, b)
			}
			st.blocks[in.Ino] = blocks
			st.mu.Unlock()
			if _, err := st.dev.WriteAt(src, int64(blocks[page])*BlockSize); err != nil {
				return err
			}
			return flushInode(st, in, blocks)
		},
	}
}

func (Driver) Unmount(fs *vfs.FileSystem) error {
	st := fs.PrivateData.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := writeSuperblock(st.dev, st.sb); err != nil {
		return err
	}
	return st.dev.Sync()
}

// flushInode re-encodes in's current in-memory state to its on-disk block.
// blocks is the data-block list to record for a regular file; callers other
// than fileTreeHooks read it from state.blocks under st.mu before calling.
func flushInode(st *state, in *vfs.Inode, blocks []uint64) error {
	odi := &onDiskInode{
		Kind:      in.Kind,
		Perm:      in.Perm,
		UID:       in.UID,
		GID:       in.GID,
		Links:     in.Links,
		ATime:     in.ATime,
		MTime:     in.MTime,
		CTime:     in.CTime,
		BirthTime: in.BirthTime,
		ACL:       in.ACL,
	}
	switch in.Kind {
	case vfs.KindDirectory:
		for _, d := range in.Dentries {
			if d.TargetIno == 0 {
				continue
			}
			odi.Dentries = append(odi.Dentries, dentRecord{Name: d.Name, Ino: d.TargetIno})
		}
	case vfs.KindRegular:
		odi.DataBlocks = blocks
	case vfs.KindSymlink:
		odi.SymlinkTarget = in.SymlinkTarget
	}

	buf, err := encodeInodeBlock(odi)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return writeBlock(st.dev, in.Ino, buf)
}

func freeInodeBlock(st *state, ino uint64) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if err := freeBlock(st.dev, st.sb, ino); err != nil {
		return fmt.Errorf("gxfs: free inode %d: %w", ino, err)
	}
	return writeSuperblock(st.dev, st.sb)
}
