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

package gxfs

import (
	"fmt"

	"github.com/madd-games/glidix-vfs/internal/blockio"
)

// allocBlock pops the head of the free-list chain, or grows the device by
// one block if the chain is empty. The first 8 bytes of a free block hold
// the block number of the next free block, 0 terminating the chain.
func allocBlock(dev blockio.Device, sb *Superblock) (uint64, error) {
	if sb.FreeHead != 0 {
		block := sb.FreeHead
		buf, err := readBlock(dev, block)
		if err != nil {
			return 0, err
		}
		sb.FreeHead = byteOrder.Uint64(buf[0:8])
		return block, nil
	}

	block := sb.NextIno
	if block == 0 {
		block = RootIno
	}
	sb.NextIno = block + 1
	sb.TotalBlocks = block + 1
	zero := make([]byte, BlockSize)
	if err := writeBlock(dev, block, zero); err != nil {
		return 0, err
	}
	return block, nil
}

// freeBlock pushes block onto the head of the free-list chain.
func freeBlock(dev blockio.Device, sb *Superblock, block uint64) error {
	if block == 0 {
		return fmt.Errorf("gxfs: cannot free block 0")
	}
	buf := make([]byte, BlockSize)
	byteOrder.PutUint64(buf[0:8], sb.FreeHead)
	if err := writeBlock(dev, block, buf); err != nil {
		return err
	}
	sb.FreeHead = block
	return nil
}
