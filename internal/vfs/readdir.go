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

import "fmt"

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Key  uint64
	Name string
	Kind Kind
	Ino  uint64
}

// ReadDir returns entries whose key is strictly greater than afterKey, in
// key order, up to limit entries (0 means unlimited). Keys 0 and 1 are the
// synthetic "." and ".." entries: a call with afterKey 0 starts a listing
// and returns both of them first, even when limit is below 2. Callers page
// through a directory by repeating the call with afterKey set to the last
// key returned; an empty result means there is nothing higher than afterKey
// left to return.
func (v *VFS) ReadDir(proc *Process, dirRef InodeRef, afterKey uint64, limit int) ([]DirEntry, error) {
	dirRef.Inode.Mu.Lock()
	defer dirRef.Inode.Mu.Unlock()

	if dirRef.Inode.Kind != KindDirectory {
		return nil, fmt.Errorf("readdir: %w", ErrNotDirectory)
	}
	if err := checkAccess(dirRef.Inode, proc, permRead); err != nil {
		return nil, err
	}

	var out []DirEntry
	if afterKey < 1 {
		out = append(out, DirEntry{Key: 0, Name: ".", Kind: KindDirectory, Ino: dirRef.Inode.Ino})
	}
	if afterKey < 1 {
		parentIno := dirRef.Inode.Ino
		if frame := topMount(dirRef.Mounts); frame != nil {
			parentIno = frame.ParentDir.Ino
		} else if dirRef.Inode.Parent != nil && dirRef.Inode.Parent.Dir != nil {
			parentIno = dirRef.Inode.Parent.Dir.Ino
		}
		out = append(out, DirEntry{Key: 1, Name: "..", Kind: KindDirectory, Ino: parentIno})
	}

	for _, d := range dirRef.Inode.Dentries {
		if limit > 0 && len(out) >= limit {
			break
		}
		if d.Key <= afterKey {
			continue
		}
		if d.TargetIno == 0 && d.Target == nil {
			continue // uncommitted placeholder, not yet linked
		}
		kind := KindRegular
		if d.Target != nil {
			kind = d.Target.Kind
		}
		out = append(out, DirEntry{Key: d.Key, Name: d.Name, Kind: kind, Ino: d.TargetIno})
	}
	return out, nil
}
