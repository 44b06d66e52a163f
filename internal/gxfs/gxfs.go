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

// Package gxfs implements the reference GXFS on-disk format: a 4 KiB
// superblock at a fixed byte offset, inode blocks built from a small
// tagged-record language (ATTR/DENT/TREE), and a singly-linked free-block
// chain. It plugs into internal/vfs by implementing vfs.Driver.
package gxfs

import (
	"encoding/binary"
	"fmt"

	"github.com/madd-games/glidix-vfs/internal/blockio"
)

const (
	// BlockSize is the unit of allocation; inode headers, directory
	// blocks and file data pages are all exactly one block.
	BlockSize = 4096

	// SuperblockOffset is the fixed byte offset of the superblock, left
	// clear at the front of the device for a boot loader / partition
	// table the way the reference implementation does.
	SuperblockOffset = 0x200000

	// Magic identifies a GXFS superblock.
	Magic = "__GXFS__"

	// RootIno is the well-known inode number of the filesystem root.
	RootIno = 1
)

var byteOrder = binary.LittleEndian

// checksum folds buf (the superblock bytes preceding its Checksum field) down
// to a uint64 by repeatedly rotating and XORing 8-byte words together.
func checksum(buf []byte) uint64 {
	var acc uint64
	for len(buf) >= 8 {
		word := byteOrder.Uint64(buf[:8])
		acc = (acc<<7 | acc>>57) ^ word
		buf = buf[8:]
	}
	if len(buf) > 0 {
		var tail [8]byte
		copy(tail[:], buf)
		acc = (acc<<7 | acc>>57) ^ byteOrder.Uint64(tail[:])
	}
	return acc
}

// Superblock is the filesystem-wide metadata block.
type Superblock struct {
	BootID      [16]byte
	TotalBlocks uint64
	FreeHead    uint64 // first block of the free-list chain, 0 if the chain is empty
	RootIno     uint64
	NextIno     uint64 // next never-yet-used inode/block number
	Checksum    uint64
}

const superblockEncodedSize = 8 + 16 + 8 + 8 + 8 + 8 + 8 // magic + fields

func (sb *Superblock) encode() []byte {
	buf := make([]byte, BlockSize)
	copy(buf[0:8], Magic)
	copy(buf[8:24], sb.BootID[:])
	byteOrder.PutUint64(buf[24:32], sb.TotalBlocks)
	byteOrder.PutUint64(buf[32:40], sb.FreeHead)
	byteOrder.PutUint64(buf[40:48], sb.RootIno)
	byteOrder.PutUint64(buf[48:56], sb.NextIno)
	// Checksum is computed over everything preceding it with the
	// checksum field itself held at zero.
	sum := checksum(buf[:56])
	byteOrder.PutUint64(buf[56:64], sum)
	return buf
}

func decodeSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < BlockSize || string(buf[0:8]) != Magic {
		return nil, fmt.Errorf("gxfs: bad superblock magic")
	}
	want := byteOrder.Uint64(buf[56:64])
	got := checksum(buf[:56])
	if want != got {
		return nil, fmt.Errorf("gxfs: superblock checksum mismatch")
	}
	sb := &Superblock{}
	copy(sb.BootID[:], buf[8:24])
	sb.TotalBlocks = byteOrder.Uint64(buf[24:32])
	sb.FreeHead = byteOrder.Uint64(buf[32:40])
	sb.RootIno = byteOrder.Uint64(buf[40:48])
	sb.NextIno = byteOrder.Uint64(buf[48:56])
	sb.Checksum = want
	return sb, nil
}

func readSuperblock(dev blockio.Device) (*Superblock, error) {
	buf := make([]byte, BlockSize)
	if _, err := dev.ReadAt(buf, SuperblockOffset); err != nil {
		return nil, fmt.Errorf("gxfs: read superblock: %w", err)
	}
	return decodeSuperblock(buf)
}

func writeSuperblock(dev blockio.Device, sb *Superblock) error {
	_, err := dev.WriteAt(sb.encode(), SuperblockOffset)
	return err
}

func readBlock(dev blockio.Device, block uint64) ([]byte, error) {
	buf := make([]byte, BlockSize)
	if _, err := dev.ReadAt(buf, int64(block)*BlockSize); err != nil {
		return nil, fmt.Errorf("gxfs: read block %d: %w", block, err)
	}
	return buf, nil
}

func writeBlock(dev blockio.Device, block uint64, buf []byte) error {
	if len(buf) != BlockSize {
		return fmt.Errorf("gxfs: short block write")
	}
	_, err := dev.WriteAt(buf, int64(block)*BlockSize)
	return err
}
