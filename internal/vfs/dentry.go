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

// DentryFlags are bits carried by a Dentry.
type DentryFlags uint8

const (
	// DentryTemp marks a dentry that has not yet been committed to disk
	// (a freshly-manufactured placeholder, or a bound socket/pipe/mount
	// root that is never written out).
	DentryTemp DentryFlags = 1 << iota
	// DentryMountpoint marks a dentry whose target has been overridden by
	// the root inode of another filesystem.
	DentryMountpoint
)

// Dentry is a named edge inside one directory inode. Dentries are only
// mutated under their Dir inode's lock (spec §3 invariant).
type Dentry struct {
	Name string

	// Dir is the containing directory inode. Holding a Dentry counts as a
	// reference against Dir.
	Dir *Inode

	// TargetIno is the inode number the name resolves to; zero means the
	// dentry is a TEMP placeholder awaiting link().
	TargetIno uint64

	// Target is the cached target inode, or nil. When non-nil it counts
	// as a reference against Target.
	Target *Inode

	// Key is the unique per-directory key used by ReadDir for race-free
	// iteration. Keys strictly increase as entries are appended; 0 and 1
	// are reserved for synthetic "." and "..".
	Key uint64

	Flags DentryFlags
}

func (d *Dentry) hasFlag(f DentryFlags) bool { return d.Flags&f != 0 }

// DentryRef bundles a dentry with the mount-point stack by which it was
// reached. It is the standard argument/return type of resolver operations:
// it tracks locking state and ensures that ".." at a mount root returns to
// the correct parent directory rather than the mounted filesystem's own
// root.
type DentryRef struct {
	Dentry *Dentry
	Mounts []*mountFrame
}

// InodeRef is an inode plus the mount-point stack by which it was reached.
type InodeRef struct {
	Inode  *Inode
	Mounts []*mountFrame
}

// cloneMounts copies the mount stack so that two DentryRef/InodeRef values
// can independently push/pop frames without aliasing each other's backing
// array; the *mountFrame elements themselves are still shared pointers.
func cloneMounts(m []*mountFrame) []*mountFrame {
	out := make([]*mountFrame, len(m))
	copy(out, m)
	return out
}
