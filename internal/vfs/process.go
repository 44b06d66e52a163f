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

// ChangeDir resolves path and replaces proc's current working directory
// with it. The previous CWD reference is released.
func (v *VFS) ChangeDir(proc *Process, path string) error {
	ref, err := v.ResolveInode(proc, v.dupInodeRef(proc.CWD), path, false)
	if err != nil {
		return err
	}
	ref.Inode.Mu.Lock()
	isDir := ref.Inode.Kind == KindDirectory
	ref.Inode.Mu.Unlock()
	if !isDir {
		releaseInodeRef(ref)
		return fmt.Errorf("changeDir: %q: %w", path, ErrNotDirectory)
	}
	releaseInodeRef(proc.CWD)
	proc.CWD = ref
	return nil
}

// ChangeRoot resolves path and replaces proc's notion of "/" with it.
// Requires RootEquivalent.
func (v *VFS) ChangeRoot(proc *Process, path string) error {
	if !proc.RootEquivalent {
		return fmt.Errorf("changeRoot: %w", ErrPermission)
	}
	ref, err := v.ResolveInode(proc, v.dupInodeRef(proc.CWD), path, false)
	if err != nil {
		return err
	}
	ref.Inode.Mu.Lock()
	isDir := ref.Inode.Kind == KindDirectory
	ref.Inode.Mu.Unlock()
	if !isDir {
		releaseInodeRef(ref)
		return fmt.Errorf("changeRoot: %q: %w", path, ErrNotDirectory)
	}
	releaseInodeRef(proc.Root)
	proc.Root = ref
	return nil
}

// RealPath returns the canonical absolute path of path resolved relative to
// proc's current working directory: every symlink and "." / ".." component
// resolved away. It walks the Parent chain from the resolved inode back
// to the root, so it only reflects paths reachable through dentries that
// are still cached.
func (v *VFS) RealPath(proc *Process, path string) (string, error) {
	ref, err := v.ResolveInode(proc, v.dupInodeRef(proc.CWD), path, false)
	if err != nil {
		return "", err
	}
	defer releaseInodeRef(ref)
	return v.pathOf(ref.Inode)
}

// GetCurrentDirPath returns the canonical absolute path of proc's current
// working directory.
func (v *VFS) GetCurrentDirPath(proc *Process) (string, error) {
	return v.pathOf(proc.CWD.Inode)
}

func (v *VFS) pathOf(in *Inode) (string, error) {
	var parts []string
	for in != nil && in != v.root {
		in.Mu.Lock()
		parent := in.Parent
		in.Mu.Unlock()
		if parent == nil || parent.Dir == nil {
			break
		}
		parts = append([]string{parent.Name}, parts...)
		in = parent.Dir
	}
	if len(parts) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(parts, "/"), nil
}
