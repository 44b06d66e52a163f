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

package iso9660_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madd-games/glidix-vfs/internal/blockio"
	"github.com/madd-games/glidix-vfs/internal/iso9660"
	"github.com/madd-games/glidix-vfs/internal/vfs"
)

const testSectorSize = 2048

// encodeDirRecord builds a minimal ECMA-119 directory record with no
// system-use area, enough for the driver under test: it only reads the
// fields this helper fills in.
func encodeDirRecord(name string, extentLBA, dataLength uint32, isDir bool) []byte {
	nameBytes := []byte(name)
	nameLen := len(nameBytes)
	length := 33 + nameLen
	if nameLen%2 == 0 {
		length++
	}
	buf := make([]byte, length)
	buf[0] = byte(length)
	binary.LittleEndian.PutUint32(buf[2:6], extentLBA)
	binary.LittleEndian.PutUint32(buf[10:14], dataLength)
	if isDir {
		buf[25] = 1 << 1
	}
	buf[32] = byte(nameLen)
	copy(buf[33:33+nameLen], nameBytes)
	return buf
}

// buildImage lays out a tiny read-only image by hand:
//
//	sector 16: PVD, root directory record embedded at offset 156
//	sector 17: root directory extent (".", "..", "README;1", "SUB")
//	sector 18: README's file data
//	sector 19: SUB's directory extent (".", "..")
func buildImage(t *testing.T, payload []byte) blockio.Device {
	t.Helper()
	dev := blockio.NewMem(24 * testSectorSize)

	const rootExtent = 17
	const fileExtent = 18
	const subExtent = 19

	pvd := make([]byte, testSectorSize)
	pvd[0] = 1
	copy(pvd[1:6], "CD001")
	pvd[6] = 1
	binary.LittleEndian.PutUint32(pvd[80:84], 24)
	binary.LittleEndian.PutUint16(pvd[128:130], testSectorSize)
	copy(pvd[156:156+34], encodeDirRecord(string([]byte{0x00}), rootExtent, testSectorSize, true))
	_, err := dev.WriteAt(pvd, 16*testSectorSize)
	require.NoError(t, err)

	root := make([]byte, testSectorSize)
	off := 0
	for _, rec := range [][]byte{
		encodeDirRecord(string([]byte{0x00}), rootExtent, testSectorSize, true),
		encodeDirRecord(string([]byte{0x01}), rootExtent, testSectorSize, true),
		encodeDirRecord("README;1", fileExtent, uint32(len(payload)), false),
		encodeDirRecord("SUB", subExtent, testSectorSize, true),
	} {
		copy(root[off:], rec)
		off += len(rec)
	}
	_, err = dev.WriteAt(root, rootExtent*testSectorSize)
	require.NoError(t, err)

	file := make([]byte, testSectorSize)
	copy(file, payload)
	_, err = dev.WriteAt(file, fileExtent*testSectorSize)
	require.NoError(t, err)

	sub := make([]byte, testSectorSize)
	off = 0
	for _, rec := range [][]byte{
		encodeDirRecord(string([]byte{0x00}), subExtent, testSectorSize, true),
		encodeDirRecord(string([]byte{0x01}), rootExtent, testSectorSize, true),
	} {
		copy(sub[off:], rec)
		off += len(rec)
	}
	_, err = dev.WriteAt(sub, subExtent*testSectorSize)
	require.NoError(t, err)

	return dev
}

func TestMountAndReadRoot(t *testing.T) {
	dev := buildImage(t, []byte("hello from iso9660\n"))

	fs, rootIno, err := iso9660.Mount(dev, iso9660.MountOptions{UID: 1, GID: 1, Perm: 0644})
	require.NoError(t, err)
	assert.True(t, fs.ReadOnly())

	v, err := vfs.NewVFS(fs, rootIno)
	require.NoError(t, err)
	proc := &vfs.Process{RootEquivalent: true, Root: v.RootRef(), CWD: v.RootRef()}

	st, err := v.Stat(proc, proc.CWD, "/")
	require.NoError(t, err)
	assert.Equal(t, vfs.KindDirectory, st.Kind)
}

func TestReadFileCaseFoldedVersionStripped(t *testing.T) {
	payload := []byte("hello from iso9660\n")
	dev := buildImage(t, payload)

	fs, rootIno, err := iso9660.Mount(dev, iso9660.MountOptions{Perm: 0644})
	require.NoError(t, err)
	v, err := vfs.NewVFS(fs, rootIno)
	require.NoError(t, err)
	proc := &vfs.Process{RootEquivalent: true, Root: v.RootRef(), CWD: v.RootRef()}

	fd, err := v.Open(proc, proc.CWD, "/readme", vfs.OpenRead, 0)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := fd.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, string(payload), string(buf[:n]))
	require.NoError(t, fd.Close())
}

func TestSubdirectoryListing(t *testing.T) {
	dev := buildImage(t, []byte("x"))
	fs, rootIno, err := iso9660.Mount(dev, iso9660.MountOptions{Perm: 0644})
	require.NoError(t, err)
	v, err := vfs.NewVFS(fs, rootIno)
	require.NoError(t, err)
	proc := &vfs.Process{RootEquivalent: true, Root: v.RootRef(), CWD: v.RootRef()}

	dirRef, err := v.ResolveInode(proc, proc.CWD, "/sub", false)
	require.NoError(t, err)
	assert.Equal(t, vfs.KindDirectory, dirRef.Inode.Kind)

	entries, err := v.ReadDir(proc, dirRef, 0, 16)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, ".")
	assert.Contains(t, names, "..")
}

func TestWriteIsRefused(t *testing.T) {
	dev := buildImage(t, []byte("x"))
	fs, rootIno, err := iso9660.Mount(dev, iso9660.MountOptions{Perm: 0644})
	require.NoError(t, err)
	v, err := vfs.NewVFS(fs, rootIno)
	require.NoError(t, err)
	proc := &vfs.Process{RootEquivalent: true, Root: v.RootRef(), CWD: v.RootRef()}

	_, err = v.Open(proc, proc.CWD, "/new.txt", vfs.OpenCreate|vfs.OpenWrite, 0644)
	assert.ErrorIs(t, err, vfs.ErrReadOnly)
}
