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

// MountFlags controls how a filesystem is attached to a dentry.
type MountFlags uint8

const (
	MountReadOnly MountFlags = 1 << iota
	MountNoSUID
	// MountTemp is recorded on the mount frame only: a MountTemp mount is
	// entered in the mount table like any other and stays there until an
	// explicit Unmount; it is not torn down when its last reference goes.
	MountTemp
)

// mountFrame is one element of the mount-point stack threaded through every
// DentryRef/InodeRef. Traversing into a mountpoint pushes a frame; crossing
// back out via ".." pops one. Frames are referenced by pointer (never
// copied by value) so that every DentryRef/InodeRef descended from the same
// mount observes the same bookkeeping; the VFS's mount table holds the
// canonical pointer for every currently-attached mount.
type mountFrame struct {
	// ParentDentry is the dentry that carries the DentryMountpoint flag —
	// the point in the containing filesystem where the mount is attached.
	ParentDentry *Dentry

	// ParentDir is ParentDentry.Dir, held with an extra reference for the
	// lifetime of the frame so that ".." can return to it even if nothing
	// else keeps the parent directory alive.
	ParentDir *Inode

	// Root is the mounted filesystem's root inode, held with an extra
	// reference for the lifetime of the frame.
	Root *Inode

	// FS is the mounted filesystem.
	FS *FileSystem

	// Flags are the flags this particular mount was attached with.
	Flags MountFlags
}

// pushMount returns a copy of the stack with a new frame appended.
func pushMount(stack []*mountFrame, f *mountFrame) []*mountFrame {
	out := make([]*mountFrame, len(stack)+1)
	copy(out, stack)
	out[len(stack)] = f
	return out
}

// topMount returns the innermost mount frame, or nil if the stack is empty
// (i.e. we are not inside any mount besides the initial filesystem).
func topMount(stack []*mountFrame) *mountFrame {
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// popMount returns the stack with its innermost frame removed.
func popMount(stack []*mountFrame) []*mountFrame {
	if len(stack) == 0 {
		return stack
	}
	return stack[:len(stack)-1]
}
