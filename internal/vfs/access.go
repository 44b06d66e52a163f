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

// The three bits checkAccess tests for, named the way the permission byte
// itself is laid out (rwx).
const (
	permRead  Mode = 4
	permWrite Mode = 2
	permExec  Mode = 1
)

// checkAccess decides whether proc may perform the access named by bit
// against in, checking owner, ACL user grants, owning group, ACL group
// grants and finally "other" in that order — the first matching class decides the outcome, POSIX-style.
// LOCKS_REQUIRED(in).
func checkAccess(in *Inode, proc *Process, bit Mode) error {
	if proc.RootEquivalent {
		return nil
	}

	if proc.UID == in.UID {
		return accessResult((in.Perm>>6)&bit == bit)
	}
	for _, e := range in.ACL {
		if e.Kind == ACLUser && e.ID == proc.UID {
			return accessResult(e.Perm&bit == bit)
		}
	}
	if proc.GID == in.GID {
		return accessResult((in.Perm>>3)&bit == bit)
	}
	for _, e := range in.ACL {
		if e.Kind == ACLGroup && e.ID == proc.GID {
			return accessResult(e.Perm&bit == bit)
		}
	}
	return accessResult(in.Perm&bit == bit)
}

func accessResult(ok bool) error {
	if ok {
		return nil
	}
	return fmt.Errorf("access: %w", ErrAccess)
}
