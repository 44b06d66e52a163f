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

	"github.com/madd-games/glidix-vfs/internal/vfs"
)

// Every inode occupies exactly one block: a fixed header followed by a
// chain of tagged records (ATTR/DENT/TREE/SYMT) filling the rest of the
// block. This caps how many directory entries, ACL grants or data block
// pointers one inode can hold; an inode never continues into a second
// block.
const headerSize = 64

// recordTag is a 4-character tag identifying a record's payload layout.
type recordTag [4]byte

var (
	tagAttr = recordTag{'A', 'T', 'T', 'R'}
	tagDent = recordTag{'D', 'E', 'N', 'T'}
	tagTree = recordTag{'T', 'R', 'E', 'E'}
	tagSymt = recordTag{'S', 'Y', 'M', 'T'}
)

type record struct {
	Tag     recordTag
	Payload []byte
}

const recordHeaderSize = 8 // 4-byte tag + 4-byte length

// encodeRecords serializes recs back to back, padding each payload to an
// 8-byte boundary, and returns an error if they would not fit in avail
// bytes.
func encodeRecords(recs []record, avail int) ([]byte, error) {
	buf := make([]byte, 0, avail)
	for _, r := range recs {
		padded := (len(r.Payload) + 7) &^ 7
		if len(buf)+recordHeaderSize+padded > avail {
			return nil, fmt.Errorf("gxfs: inode record area full: %w", vfs.ErrNoSpace)
		}
		var head [recordHeaderSize]byte
		copy(head[0:4], r.Tag[:])
		byteOrder.PutUint32(head[4:8], uint32(len(r.Payload)))
		buf = append(buf, head[:]...)
		buf = append(buf, r.Payload...)
		buf = append(buf, make([]byte, padded-len(r.Payload))...)
	}
	return buf, nil
}

// decodeRecords parses the tagged record stream in buf, stopping at a zero
// tag (the unused tail of the block) or the end of buf.
func decodeRecords(buf []byte) []record {
	var recs []record
	for len(buf) >= recordHeaderSize {
		var tag recordTag
		copy(tag[:], buf[0:4])
		if tag == (recordTag{}) {
			break
		}
		length := byteOrder.Uint32(buf[4:8])
		padded := (int(length) + 7) &^ 7
		if recordHeaderSize+padded > len(buf) {
			break
		}
		payload := make([]byte, length)
		copy(payload, buf[recordHeaderSize:recordHeaderSize+int(length)])
		recs = append(recs, record{Tag: tag, Payload: payload})
		buf = buf[recordHeaderSize+padded:]
	}
	return recs
}
