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

// Package blockio is the thin storage-backend interface GXFS and ISO9660
// read and write their on-disk structures through, playing the role the
// teacher's gcs.Bucket/gcs.Conn interfaces play for gcsfuse: a narrow seam
// between the filesystem driver and wherever its bytes actually live, so
// tests can substitute an in-memory device for a real disk image.
package blockio

import (
	"fmt"
	"os"
	"sync"
)

// Device is a fixed-size, randomly addressable byte store.
type Device interface {
	ReadAt(buf []byte, offset int64) (int, error)
	WriteAt(buf []byte, offset int64) (int, error)
	Size() int64
	Sync() error
	Close() error
}

// FileDevice is a Device backed by a regular host file, the form GXFS and
// ISO9660 images normally take (a disk image file or a raw partition).
type FileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// OpenFile opens path as a block device. The file must already exist; use
// CreateFile to make a fresh fixed-size image.
func OpenFile(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockio: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: stat %s: %w", path, err)
	}
	return &FileDevice{f: f, size: info.Size()}, nil
}

// CreateFile creates a new image file of exactly size bytes at path,
// failing if it already exists.
func CreateFile(path string, size int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockio: create %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("blockio: truncate %s: %w", path, err)
	}
	return &FileDevice{f: f, size: size}, nil
}

func (d *FileDevice) ReadAt(buf []byte, offset int64) (int, error) {
	return d.f.ReadAt(buf, offset)
}

func (d *FileDevice) WriteAt(buf []byte, offset int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.f.WriteAt(buf, offset)
	if end := offset + int64(n); end > d.size {
		d.size = end
	}
	return n, err
}

func (d *FileDevice) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.size
}

func (d *FileDevice) Sync() error { return d.f.Sync() }

func (d *FileDevice) Close() error { return d.f.Close() }

// MemDevice is an in-memory Device, used by driver tests that exercise the
// on-disk format without touching the filesystem.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

// NewMem creates a zero-filled in-memory device of the given size.
func NewMem(size int64) *MemDevice {
	return &MemDevice{data: make([]byte, size)}
}

func (d *MemDevice) ReadAt(buf []byte, offset int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if offset >= int64(len(d.data)) {
		return 0, fmt.Errorf("blockio: read past end at %d", offset)
	}
	n := copy(buf, d.data[offset:])
	return n, nil
}

func (d *MemDevice) WriteAt(buf []byte, offset int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(d.data)) {
		grown := make([]byte, end)
		copy(grown, d.data)
		d.data = grown
	}
	n := copy(d.data[offset:], buf)
	return n, nil
}

func (d *MemDevice) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.data))
}

func (d *MemDevice) Sync() error { return nil }

func (d *MemDevice) Close() error { return nil }
