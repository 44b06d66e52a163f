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

package gxfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/gxfs"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

func freshVFS(t *testing.T) (*vfs.VFS, *vfs.Process, blockio.Device) {
	t.Helper()
	dev := blockio.NewMem(gxfs.SuperblockOffset + gxfs.BlockSize*64)
	require.NoError(t, gxfs.Format(dev, gxfs.FormatOptions{}))

	fs, err := gxfs.Mount(dev, 0)
	require.NoError(t, err)

	v, err := vfs.NewVFS(fs, gxfs.RootIno)
	require.NoError(t, err)

	proc := &vfs.Process{RootEquivalent: true, Root: v.RootRef(), CWD: v.RootRef()}
	return v, proc, dev
}

func TestFormatAndMountRoot(t *testing.T) {
	v, proc, _ := freshVFS(t)
	st, err := v.Stat(proc, proc.CWD, "/")
	require.NoError(t, err)
	assert.Equal(t, vfs.KindDirectory, st.Kind)
	assert.Equal(t, uint64(gxfs.RootIno), st.Ino)
}

func TestCreateWriteReadFile(t *testing.T) {
	v, proc, _ := freshVFS(t)

	fd, err := v.Open(proc, proc.CWD, "/hello.txt", vfs.OpenCreate|vfs.OpenWrite, 0644)
	require.NoError(t, err)

	payload := []byte("hello, gxfs")
	n, err := fd.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, fd.Close())

	fd2, err := v.Open(proc, proc.CWD, "/hello.txt", vfs.OpenRead, 0)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err = fd2.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(buf[:n]))
	require.NoError(t, fd2.Close())
}

func TestWriteSurvivesRemount(t *testing.T) {
	v, proc, dev := freshVFS(t)

	fd, err := v.Open(proc, proc.CWD, "/persisted.txt", vfs.OpenCreate|vfs.OpenWrite, 0644)
	require.NoError(t, err)
	payload := make([]byte, gxfs.BlockSize*3+17) // spans multiple pages
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = fd.Write(payload)
	require.NoError(t, err)
	require.NoError(t, fd.Close())
	require.NoError(t, v.Sync())

	fs2, err := gxfs.Mount(dev, 0)
	require.NoError(t, err)
	v2, err := vfs.NewVFS(fs2, gxfs.RootIno)
	require.NoError(t, err)
	proc2 := &vfs.Process{RootEquivalent: true, Root: v2.RootRef(), CWD: v2.RootRef()}

	fd2, err := v2.Open(proc2, proc2.CWD, "/persisted.txt", vfs.OpenRead, 0)
	require.NoError(t, err)
	buf := make([]byte, len(payload))
	n, err := fd2.PRead(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
	require.NoError(t, fd2.Close())
}

func TestMkDirAndReadDir(t *testing.T) {
	v, proc, _ := freshVFS(t)

	require.NoError(t, v.MkDir(proc, proc.CWD, "/sub", 0755))
	dirRef, err := v.ResolveInode(proc, proc.CWD, "/sub", false)
	require.NoError(t, err)

	require.NoError(t, v.MkDir(proc, proc.CWD, "/sub/inner", 0755))
	entries, err := v.ReadDir(proc, dirRef, 0, 16)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "inner")
}

func TestUnlinkRemovesFile(t *testing.T) {
	v, proc, _ := freshVFS(t)

	fd, err := v.Open(proc, proc.CWD, "/doomed.txt", vfs.OpenCreate|vfs.OpenWrite, 0644)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	require.NoError(t, v.Unlink(proc, proc.CWD, "/doomed.txt", 0))
	_, err = v.Stat(proc, proc.CWD, "/doomed.txt")
	assert.ErrorIs(t, err, vfs.ErrNoEntry)
}

func TestUnlinkRefusesDirWithoutRemoveDir(t *testing.T) {
	v, proc, _ := freshVFS(t)

	require.NoError(t, v.MkDir(proc, proc.CWD, "/doomed", 0755))
	err := v.Unlink(proc, proc.CWD, "/doomed", 0)
	assert.ErrorIs(t, err, vfs.ErrIsDirectory)

	require.NoError(t, v.Unlink(proc, proc.CWD, "/doomed", vfs.UnlinkRemoveDir))
	_, err = v.Stat(proc, proc.CWD, "/doomed")
	assert.ErrorIs(t, err, vfs.ErrNoEntry)
}

func TestUnlinkRefusesNonEmptyDir(t *testing.T) {
	v, proc, _ := freshVFS(t)

	require.NoError(t, v.MkDir(proc, proc.CWD, "/parent", 0755))
	require.NoError(t, v.MkDir(proc, proc.CWD, "/parent/child", 0755))

	err := v.Unlink(proc, proc.CWD, "/parent", vfs.UnlinkRemoveDir)
	assert.ErrorIs(t, err, vfs.ErrNotEmpty)
}

func TestUnlinkHonoursStickyBit(t *testing.T) {
	v, proc, _ := freshVFS(t)

	require.NoError(t, v.MkDir(proc, proc.CWD, "/tmp", 01777))

	owner := &vfs.Process{Root: v.RootRef(), CWD: v.RootRef(), UID: 100, GID: 100}
	fd, err := v.Open(owner, owner.CWD, "/tmp/f", vfs.OpenCreate|vfs.OpenWrite, 0644)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	intruder := &vfs.Process{Root: v.RootRef(), CWD: v.RootRef(), UID: 200, GID: 200}
	err = v.Unlink(intruder, intruder.CWD, "/tmp/f", 0)
	assert.ErrorIs(t, err, vfs.ErrAccess)

	require.NoError(t, v.Unlink(owner, owner.CWD, "/tmp/f", 0))
}

func TestSymlinkRoundTrip(t *testing.T) {
	v, proc, _ := freshVFS(t)

	fd, err := v.Open(proc, proc.CWD, "/target.txt", vfs.OpenCreate|vfs.OpenWrite, 0644)
	require.NoError(t, err)
	require.NoError(t, fd.Close())

	require.NoError(t, v.CreateSymlink(proc, proc.CWD, "/link.txt", "target.txt"))
	got, err := v.ReadLink(proc, proc.CWD, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, "target.txt", got)

	st, err := v.Stat(proc, proc.CWD, "/link.txt")
	require.NoError(t, err)
	assert.Equal(t, vfs.KindRegular, st.Kind)
}
