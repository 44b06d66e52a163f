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

// Package iso9660 implements a read-only driver for ISO9660 images with
// Rock Ridge Unix-name extensions, plugging into internal/vfs the same way
// internal/gxfs does: by implementing vfs.Driver and wiring each loaded
// inode's Hooks.
package iso9660

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/madd-games/glidix-vfs/internal/blockio"
)

const (
	// SectorSize is the fixed logical sector size this driver assumes; the
	// PVD's own logical-block-size field is read but not otherwise acted
	// on, since every ISO9660 image this port has needed to read uses the
	// standard 2 KiB sector.
	SectorSize = 2048

	// PVDSector is the sector holding the Primary Volume Descriptor.
	PVDSector = 16

	// rootRecordOffset is the byte offset of the embedded 34-byte root
	// directory record within the PVD sector (ECMA-119 §8.4.24).
	rootRecordOffset = 156
)

var byteOrder = binary.LittleEndian

// PVD is the subset of the Primary Volume Descriptor this driver reads.
type PVD struct {
	VolumeSpaceSize  uint32 // total sectors
	LogicalBlockSize uint32
	RootOffset       int64 // byte offset of the root directory record
}

func readPVD(dev blockio.Device) (*PVD, error) {
	buf := make([]byte, SectorSize)
	if _, err := dev.ReadAt(buf, int64(PVDSector)*SectorSize); err != nil {
		return nil, fmt.Errorf("iso9660: read PVD: %w", err)
	}
	if buf[0] != 1 {
		return nil, fmt.Errorf("iso9660: not a primary volume descriptor (type %d)", buf[0])
	}
	if string(buf[1:6]) != "CD001" {
		return nil, fmt.Errorf("iso9660: bad standard identifier %q", buf[1:6])
	}
	if buf[6] != 1 {
		return nil, fmt.Errorf("iso9660: unsupported descriptor version %d", buf[6])
	}
	return &PVD{
		VolumeSpaceSize:  byteOrder.Uint32(buf[80:84]),
		LogicalBlockSize: uint16LE(buf[128:130]),
		RootOffset:       int64(PVDSector)*SectorSize + rootRecordOffset,
	}, nil
}

func uint16LE(b []byte) uint32 { return uint32(byteOrder.Uint16(b)) }

// dirRecordFlags bits (ECMA-119 §9.1.6).
const (
	flagDirectory = 1 << 1
)

// dirRecord is one decoded ISO9660 directory record.
type dirRecord struct {
	SelfOffset int64 // byte offset of this record within the image
	Length     int
	ExtentLBA  uint32
	DataLength uint32
	Flags      byte
	RawName    []byte // identifier bytes as stored on disk, before RR/NM
	SystemUse  []byte
}

// isSelf reports whether RawName is the single 0x00 byte meaning ".".
func (d *dirRecord) isSelf() bool { return len(d.RawName) == 1 && d.RawName[0] == 0x00 }

// isParent reports whether RawName is the single 0x01 byte meaning "..".
func (d *dirRecord) isParent() bool { return len(d.RawName) == 1 && d.RawName[0] == 0x01 }

func (d *dirRecord) isDir() bool { return d.Flags&flagDirectory != 0 }

// readDirRecord decodes the directory record at byte offset off. The first
// byte of every record is its own length, including the zero-length
// "skip to next sector" padding records that terminate a sector's worth of
// entries.
func readDirRecord(dev blockio.Device, off int64) (*dirRecord, error) {
	head := make([]byte, 1)
	if _, err := dev.ReadAt(head, off); err != nil {
		return nil, fmt.Errorf("iso9660: read record length at %d: %w", off, err)
	}
	length := int(head[0])
	if length == 0 {
		return &dirRecord{SelfOffset: off, Length: 0}, nil
	}
	if length < 34 {
		return nil, fmt.Errorf("iso9660: record at %d too short (%d bytes)", off, length)
	}
	buf := make([]byte, length)
	if _, err := dev.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("iso9660: read record at %d: %w", off, err)
	}
	nameLen := int(buf[32])
	if 33+nameLen > length {
		return nil, fmt.Errorf("iso9660: record at %d has truncated name", off)
	}
	rec := &dirRecord{
		SelfOffset: off,
		Length:     length,
		ExtentLBA:  byteOrder.Uint32(buf[2:6]),
		DataLength: byteOrder.Uint32(buf[10:14]),
		Flags:      buf[25],
		RawName:    append([]byte(nil), buf[33:33+nameLen]...),
	}
	suStart := 33 + nameLen
	if nameLen%2 == 0 {
		suStart++ // padding byte when the name length is even
	}
	if suStart < length {
		rec.SystemUse = append([]byte(nil), buf[suStart:length]...)
	}
	return rec, nil
}

// displayName renders an ISO9660 identifier as a POSIX-friendly name: strip
// the ";version" suffix and trailing separator dot, and fold to lower case
// the way the reference driver's directory listing does.
func displayName(raw []byte) string {
	name := string(raw)
	if i := strings.IndexByte(name, ';'); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSuffix(name, ".")
	return strings.ToLower(name)
}
