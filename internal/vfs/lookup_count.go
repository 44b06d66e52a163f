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

// lookupCount is a helper for implementing inode reference counts. destroy
// is invoked the moment the count hits zero. External synchronization
// (the owning inode's Mu) is required, mirroring fs/inode's lookupCount.
type lookupCount struct {
	count   uint64
	destroy func() error
}

func (lc *lookupCount) Inc() {
	lc.count++
}

func (lc *lookupCount) Dec(n uint64) (destroyed bool, err error) {
	if n > lc.count {
		panic(fmt.Sprintf("lookupCount: n greater than count: %d vs %d", n, lc.count))
	}

	lc.count -= n
	if lc.count == 0 {
		// Errors from destroy propagate to the caller of DecRef instead of
		// being logged and swallowed, since flush failures must be
		// observable per spec §7.
		err = lc.destroy()
		destroyed = true
	}

	return
}
