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
	"time"

	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

// FormatOptions controls the root directory laid down by Format.
type FormatOptions struct {
	BootID   [16]byte
	RootPerm vfs.Mode // defaults to 0755 if zero
	RootUID  uint32
	RootGID  uint32
}

// Format lays down a fresh GXFS superblock and an empty root directory on
// dev, which must already be at least SuperblockOffset+BlockSize bytes
// long. It is the counterpart cmd/mkgxfs calls before a first Mount; Mount
// itself never creates a filesystem, only opens one.
func Format(dev blockio.Device, opts FormatOptions) error {
	if dev.Size() < SuperblockOffset+BlockSize {
		return fmt.Errorf("gxfs: device too small to hold a superblock at 0x%x", SuperblockOffset)
	}

	perm := opts.RootPerm
	if perm == 0 {
		perm = 0755
	}

	sb := &Superblock{BootID: opts.BootID}

	block, err := allocBlock(dev, sb)
	if err != nil {
		return fmt.Errorf("gxfs: format: %w", err)
	}
	if block != RootIno {
		return fmt.Errorf("gxfs: format: root directory landed on block %d, want %d", block, RootIno)
	}
	sb.RootIno = RootIno

	now := time.Now()
	root := &onDiskInode{
		Kind:      vfs.KindDirectory,
		Perm:      perm,
		UID:       opts.RootUID,
		GID:       opts.RootGID,
		Links:     2, // "." and the synthetic parent link every directory carries
		ATime:     now,
		MTime:     now,
		CTime:     now,
		BirthTime: now,
	}
	buf, err := encodeInodeBlock(root)
	if err != nil {
		return fmt.Errorf("gxfs: format: encode root inode: %w", err)
	}
	if err := writeBlock(dev, RootIno, buf); err != nil {
		return fmt.Errorf("gxfs: format: write root inode: %w", err)
	}

	if err := writeSuperblock(dev, sb); err != nil {
		return fmt.Errorf("gxfs: format: write superblock: %w", err)
	}
	return dev.Sync()
}
