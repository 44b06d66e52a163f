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

// Command mkgxfs creates and formats a fresh GXFS disk image.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/gxfs"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

func main() {
	var (
		sizeMB = flag.Int64("size-mb", 64, "Size of the new image in megabytes")
		perm   = flag.Uint("perm", 0755, "Root directory permission bits")
		uid    = flag.Uint("uid", 0, "Root directory owning uid")
		gid    = flag.Uint("gid", 0, "Root directory owning gid")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mkgxfs [flags] <image-path>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	if err := run(path, *sizeMB, vfs.Mode(*perm), uint32(*uid), uint32(*gid)); err != nil {
		fmt.Fprintln(os.Stderr, "mkgxfs:", err)
		os.Exit(1)
	}
}

func run(path string, sizeMB int64, perm vfs.Mode, uid, gid uint32) error {
	size := sizeMB * 1024 * 1024
	if size < gxfs.SuperblockOffset+gxfs.BlockSize {
		return fmt.Errorf("size-mb too small: need at least %d bytes", gxfs.SuperblockOffset+gxfs.BlockSize)
	}

	dev, err := blockio.CreateFile(path, size)
	if err != nil {
		return err
	}
	defer dev.Close()

	bootID := uuid.New()
	opts := gxfs.FormatOptions{
		RootPerm: perm,
		RootUID:  uid,
		RootGID:  gid,
	}
	copy(opts.BootID[:], bootID[:])

	if err := gxfs.Format(dev, opts); err != nil {
		return err
	}
	fmt.Printf("formatted %s: %d MB, boot id %s\n", path, sizeMB, bootID)
	return nil
}
