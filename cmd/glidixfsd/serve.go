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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/madd-games/glidix-vfs/internal/config"
	"github.com/madd-games/glidix-vfs/internal/logger"
	"github.com/madd-games/glidix-vfs/internal/telemetry"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

// serve runs a line-oriented request loop over stdin/stdout: one VFS
// operation per line, until EOF. There is no kernel/FUSE transport in
// scope here (spec §1's kernel module is out of scope); this is the
// narrowest front end that exercises every wired VFS operation end to end.
func serve(v *vfs.VFS, proc *vfs.Process, cfg config.Config) error {
	metrics := telemetry.NewNoop()
	if cfg.MetricsEnabled {
		m, err := telemetry.NewOtel("glidixfsd")
		if err != nil {
			return fmt.Errorf("glidixfsd: telemetry init: %w", err)
		}
		metrics = m
	}

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		op := fields[0]
		args := fields[1:]

		err := telemetry.Track(ctx, metrics, op, func() error {
			return dispatch(v, proc, op, args)
		})
		if err != nil {
			fmt.Fprintf(os.Stdout, "ERR %v\n", err)
			logger.Debugf("%s %v: %v", op, args, err)
			continue
		}
		fmt.Fprintln(os.Stdout, "OK")
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func dispatch(v *vfs.VFS, proc *vfs.Process, op string, args []string) error {
	switch op {
	case "stat":
		if len(args) != 1 {
			return fmt.Errorf("stat: want 1 arg, got %d", len(args))
		}
		st, err := v.Stat(proc, proc.CWD, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("size=%d mode=%o\n", st.Size, st.Perm)
		return nil
	case "ls":
		if len(args) != 1 {
			return fmt.Errorf("ls: want 1 arg, got %d", len(args))
		}
		ref, err := v.ResolveInode(proc, proc.CWD, args[0], false)
		if err != nil {
			return err
		}
		entries, err := v.ReadDir(proc, ref, 0, 1<<20)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Println(e.Name)
		}
		return nil
	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("mkdir: want 1 arg, got %d", len(args))
		}
		return v.MkDir(proc, proc.CWD, args[0], 0755)
	case "unlink":
		if len(args) != 1 {
			return fmt.Errorf("unlink: want 1 arg, got %d", len(args))
		}
		return v.Unlink(proc, proc.CWD, args[0], 0)
	case "rmdir":
		if len(args) != 1 {
			return fmt.Errorf("rmdir: want 1 arg, got %d", len(args))
		}
		return v.Unlink(proc, proc.CWD, args[0], vfs.UnlinkRemoveDir)
	case "sync":
		return v.Sync()
	case "chmod":
		if len(args) != 2 {
			return fmt.Errorf("chmod: want 2 args, got %d", len(args))
		}
		mode, err := strconv.ParseUint(args[1], 8, 16)
		if err != nil {
			return err
		}
		return v.Chmod(proc, proc.CWD, args[0], vfs.Mode(mode))
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}
