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

package main

import (
	"fmt"

	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/config"
	"github.com/madd-games/glidix-vfs/internal/gxfs"
	"github.com/madd-games/glidix-vfs/internal/iso9660"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

// mountImage opens cfg.ImagePath with the driver named by cfg.FSType and
// returns a ready VFS plus a Process with root-equivalent identity, the
// caller a mount daemon with no notion of uid/gid-checked callers needs.
func mountImage(cfg config.Config) (*vfs.VFS, *vfs.Process, error) {
	dev, err := blockio.OpenFile(cfg.ImagePath)
	if err != nil {
		return nil, nil, err
	}

	var flags vfs.FSFlags
	if cfg.ReadOnly {
		flags |= vfs.FSReadOnly
	}

	var fs *vfs.FileSystem
	var rootIno uint64

	switch cfg.FSType {
	case config.FSTypeGXFS:
		fs, err = gxfs.Mount(dev, flags)
		rootIno = gxfs.RootIno
	case config.FSTypeISO9660:
		fs, rootIno, err = iso9660.Mount(dev, iso9660.MountOptions{
			UID:  cfg.UID,
			GID:  cfg.GID,
			Perm: vfs.Mode(cfg.Mode),
		})
	default:
		err = fmt.Errorf("glidixfsd: unknown fs-type %q", cfg.FSType)
	}
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("glidixfsd: mount: %w", err)
	}

	v, err := vfs.NewVFS(fs, rootIno)
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("glidixfsd: building vfs: %w", err)
	}

	proc := &vfs.Process{RootEquivalent: true, Root: v.RootRef(), CWD: v.RootRef()}
	return v, proc, nil
}
