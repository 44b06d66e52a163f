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
	"strings"
)

// tokenize splits a path into its non-empty, non-"." components. "/" and
// "." alone tokenize to an empty slice.
func tokenize(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." {
			continue
		}
		out = append(out, p)
	}
	return out
}

// releaseInode drops one reference on in, running destruction (and the
// driver's Drop/Free hooks it calls) if that was the last one.
func releaseInode(in *Inode) error {
	if in == nil {
		return nil
	}
	in.Mu.Lock()
	_, err := in.DecRef(1)
	in.Mu.Unlock()
	return err
}

// releaseInodeRef drops the reference carried by ref.
func releaseInodeRef(ref InodeRef) error {
	return releaseInode(ref.Inode)
}

// dupInodeRef takes a fresh reference on ref's inode and clones its mount
// stack, so the original can still be used or released independently.
func (v *VFS) dupInodeRef(ref InodeRef) InodeRef {
	ref.Inode.Mu.Lock()
	ref.Inode.IncRef()
	ref.Inode.Mu.Unlock()
	return InodeRef{Inode: ref.Inode, Mounts: cloneMounts(ref.Mounts)}
}

// crossUp moves from cur one level up: out of a mount frame if one is on
// top of the stack, to the ultimate root if cur is it, or to cur's cached
// parent directory otherwise. LOCKS_REQUIRED(cur.Inode).
func (v *VFS) crossUp(cur InodeRef) (*Inode, []*mountFrame, error) {
	if frame := topMount(cur.Mounts); frame != nil {
		frame.ParentDir.Mu.Lock()
		frame.ParentDir.IncRef()
		frame.ParentDir.Mu.Unlock()
		return frame.ParentDir, popMount(cur.Mounts), nil
	}
	if cur.Inode == v.root || cur.Inode.Parent == nil || cur.Inode.Parent.Dir == nil {
		// Already at the top of the tree, or detached (e.g. an unlinked
		// working directory): ".." stays put.
		cur.Inode.IncRef()
		return cur.Inode, cur.Mounts, nil
	}
	pd := cur.Inode.Parent.Dir
	pd.Mu.Lock()
	pd.IncRef()
	pd.Mu.Unlock()
	return pd, cur.Mounts, nil
}

// materialize resolves dent to the inode it names, crossing a mountpoint
// substitution if one is attached to dent. The returned reference is owned
// by the caller; dent.Target is left populated as the cache's own
// (unrelated) pin so that future lookups of the same name are cheap.
func (v *VFS) materialize(mounts []*mountFrame, dent *Dentry) (*Inode, []*mountFrame, error) {
	v.mountTableMu.Lock()
	frame := v.mountTable[dent]
	v.mountTableMu.Unlock()

	if frame != nil {
		frame.Root.Mu.Lock()
		frame.Root.IncRef()
		frame.Root.Mu.Unlock()
		return frame.Root, pushMount(mounts, frame), nil
	}

	if dent.Target != nil {
		dent.Target.Mu.Lock()
		dent.Target.IncRef()
		dent.Target.Mu.Unlock()
		return dent.Target, cloneMounts(mounts), nil
	}

	in, err := dent.Dir.FS.getInode(dent.TargetIno)
	if err != nil {
		return nil, nil, err
	}
	dent.Target = in // the dentry's own cache pin; in.refcount already reflects it

	in.Mu.Lock()
	in.IncRef()
	in.Mu.Unlock()
	return in, cloneMounts(mounts), nil
}

// walk is the shared core of every path-resolution entry point. It returns
// either:
//
//   - (res, nil, nil): path resolved directly to res.Inode with no further
//     named component involved (path was "/", ".", ended by crossing "..",
//     or, with followFinal, ended on a mountpoint whose mounted root res
//     is).
//   - (dir, dent, nil): dir is the owned reference to the directory
//     containing the final named component, and dent is that component's
//     dentry (dent.Target may be nil if create manufactured a fresh
//     placeholder awaiting link()).
//
// create only applies to the final component. followFinal expands a
// trailing symlink (and, transitively, whatever it points to) instead of
// stopping at it; it never affects mountpoint crossing, which always
// happens regardless of followFinal.
func (v *VFS) walk(proc *Process, start InodeRef, path string, create, followFinal bool, depth *int) (InodeRef, *Dentry, error) {
	if path == "" {
		releaseInodeRef(start)
		return InodeRef{}, nil, fmt.Errorf("resolve: empty path: %w", ErrNoEntry)
	}

	var cur InodeRef
	if path[0] == '/' {
		releaseInodeRef(start)
		cur = v.dupInodeRef(proc.Root)
	} else {
		cur = start
	}

	pending := tokenize(path)
	if len(pending) == 0 {
		return cur, nil, nil
	}

	for {
		name := pending[0]
		pending = pending[1:]
		last := len(pending) == 0

		cur.Inode.Mu.Lock()
		if cur.Inode.Kind != KindDirectory {
			cur.Inode.Mu.Unlock()
			releaseInodeRef(cur)
			return InodeRef{}, nil, fmt.Errorf("resolve: %q: %w", name, ErrNotDirectory)
		}
		if err := checkAccess(cur.Inode, proc, permExec); err != nil {
			cur.Inode.Mu.Unlock()
			releaseInodeRef(cur)
			return InodeRef{}, nil, err
		}

		if name == ".." {
			nextInode, nextMounts, err := v.crossUp(cur)
			cur.Inode.Mu.Unlock()
			if err != nil {
				releaseInodeRef(cur)
				return InodeRef{}, nil, err
			}
			releaseInodeRef(cur)
			cur = InodeRef{Inode: nextInode, Mounts: nextMounts}
			if last {
				return cur, nil, nil
			}
			continue
		}

		dent, err := cur.Inode.getChild(name, last && create)
		cur.Inode.Mu.Unlock()
		if err != nil {
			releaseInodeRef(cur)
			return InodeRef{}, nil, err
		}

		if dent.TargetIno == 0 && dent.Target == nil {
			// Freshly manufactured placeholder: nothing to descend into or
			// follow, and only valid as the final component.
			return cur, dent, nil
		}

		if last && !followFinal {
			return cur, dent, nil
		}

		target, targetMounts, err := v.materialize(cur.Mounts, dent)
		if err != nil {
			releaseInodeRef(cur)
			return InodeRef{}, nil, err
		}

		target.Mu.Lock()
		kind := target.Kind
		var symTarget string
		if kind == KindSymlink {
			symTarget = target.SymlinkTarget
		}
		target.Mu.Unlock()

		if kind == KindSymlink {
			*depth++
			if *depth > depthCap {
				releaseInode(target)
				releaseInodeRef(cur)
				return InodeRef{}, nil, fmt.Errorf("resolve: %q: %w", name, ErrLoop)
			}
			sub := tokenize(symTarget)
			if strings.HasPrefix(symTarget, "/") {
				releaseInode(target)
				releaseInodeRef(cur)
				cur = v.dupInodeRef(proc.Root)
			} else {
				releaseInode(target)
				// cur (the symlink's containing directory) is still the
				// right base for a relative target.
			}
			pending = append(sub, pending...)
			continue
		}

		if last {
			if len(targetMounts) > len(cur.Mounts) {
				// dent is a mountpoint: hand back the mounted root itself.
				releaseInodeRef(cur)
				return InodeRef{Inode: target, Mounts: targetMounts}, nil, nil
			}
			// followFinal and not a symlink: the caller gets (parent dir,
			// dentry) with dent.Target already cached by materialize.
			releaseInode(target)
			return cur, dent, nil
		}

		releaseInodeRef(cur)
		cur = InodeRef{Inode: target, Mounts: targetMounts}
	}
}

// ResolveInode fully resolves path to the inode it names, following a
// trailing symlink and crossing any mountpoints along the way. If create is
// true and the final component does not exist, ErrNoEntry is returned
// without side effects — callers that want to create something use
// ResolveParent and populate the dentry themselves.
func (v *VFS) ResolveInode(proc *Process, start InodeRef, path string, create bool) (InodeRef, error) {
	depth := 0
	dir, dent, err := v.walk(proc, start, path, create, true, &depth)
	if err != nil {
		return InodeRef{}, err
	}
	if dent == nil {
		return dir, nil
	}
	defer releaseInodeRef(dir)

	if dent.Target == nil {
		// Drop the placeholder walk manufactured for the missing name.
		dir.Inode.Mu.Lock()
		dir.Inode.removeChild(dent)
		dir.Inode.Mu.Unlock()
		return InodeRef{}, fmt.Errorf("resolve: %w", ErrNoEntry)
	}
	dent.Target.Mu.Lock()
	dent.Target.IncRef()
	dent.Target.Mu.Unlock()
	return InodeRef{Inode: dent.Target, Mounts: cloneMounts(dir.Mounts)}, nil
}

// ResolveDentryNoFollow resolves path to the dentry naming its final
// component without following a trailing symlink, returning the owned
// reference to the containing directory alongside it. Used by operations
// that act on the link itself: unlink, readlink, lstat, rename's source.
func (v *VFS) ResolveDentryNoFollow(proc *Process, start InodeRef, path string, create bool) (InodeRef, *Dentry, error) {
	depth := 0
	dir, dent, err := v.walk(proc, start, path, create, false, &depth)
	if err != nil {
		return InodeRef{}, nil, err
	}
	if dent == nil {
		releaseInodeRef(dir)
		return InodeRef{}, nil, fmt.Errorf("resolve: %q: %w", path, ErrInvalid)
	}
	return dir, dent, nil
}

// ResolveParent resolves every component of path except the last, returning
// the owned reference to the parent directory and the final component's
// literal name. Callers needing to create or replace that component lock
// the directory themselves and call its dentry-table methods directly, so
// the check (is there room / is there a collision) and the act happen under
// one critical section even though resolution and mutation are separate
// calls.
func (v *VFS) ResolveParent(proc *Process, start InodeRef, path string) (InodeRef, string, error) {
	depth := 0
	dir, dent, err := v.walk(proc, start, path, true, false, &depth)
	if err != nil {
		return InodeRef{}, "", err
	}
	if dent == nil {
		releaseInodeRef(dir)
		return InodeRef{}, "", fmt.Errorf("resolve: %q: %w", path, ErrInvalid)
	}
	name := dent.Name
	if dent.TargetIno == 0 && dent.Target == nil {
		// The final name does not exist yet: drop the placeholder walk
		// manufactured for it, the caller creates the entry itself.
		dir.Inode.Mu.Lock()
		dir.Inode.removeChild(dent)
		dir.Inode.Mu.Unlock()
	}
	return dir, name, nil
}
