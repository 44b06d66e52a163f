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
	"time"

	"github.com/madd-games/glidix-vfs/internal/vfs"
)

const aclEntrySize = 7 // kind(1) + id(4) + perm(2)

// onDiskInode is the decoded form of one inode block, independent of the
// in-memory vfs.Inode it is loaded into or registered from.
type onDiskInode struct {
	Kind                           vfs.Kind
	Perm                           vfs.Mode
	UID, GID                       uint32
	Links                          uint32
	ATime, MTime, CTime, BirthTime time.Time
	ACL                            vfs.ACL
	Dentries                       []dentRecord
	DataBlocks                     []uint64
	SymlinkTarget                  string
}

type dentRecord struct {
	Name string
	Ino  uint64
}

func encodeInodeBlock(in *onDiskInode) ([]byte, error) {
	buf := make([]byte, BlockSize)
	copy(buf[0:4], "INOD")
	buf[12] = byte(in.Kind)
	byteOrder.PutUint16(buf[14:16], uint16(in.Perm))
	byteOrder.PutUint32(buf[16:20], in.UID)
	byteOrder.PutUint32(buf[20:24], in.GID)
	byteOrder.PutUint32(buf[24:28], in.Links)
	byteOrder.PutUint64(buf[28:36], uint64(in.ATime.Unix()))
	byteOrder.PutUint64(buf[36:44], uint64(in.MTime.Unix()))
	byteOrder.PutUint64(buf[44:52], uint64(in.CTime.Unix()))
	byteOrder.PutUint64(buf[52:60], uint64(in.BirthTime.Unix()))

	var recs []record

	aclPayload := make([]byte, 0, len(in.ACL)*aclEntrySize)
	for _, e := range in.ACL {
		var entry [aclEntrySize]byte
		entry[0] = byte(e.Kind)
		byteOrder.PutUint32(entry[1:5], e.ID)
		byteOrder.PutUint16(entry[5:7], uint16(e.Perm))
		aclPayload = append(aclPayload, entry[:]...)
	}
	recs = append(recs, record{Tag: tagAttr, Payload: aclPayload})

	switch in.Kind {
	case vfs.KindDirectory:
		for _, d := range in.Dentries {
			payload := make([]byte, 9+len(d.Name))
			byteOrder.PutUint64(payload[0:8], d.Ino)
			payload[8] = byte(len(d.Name))
			copy(payload[9:], d.Name)
			recs = append(recs, record{Tag: tagDent, Payload: payload})
		}
	case vfs.KindRegular:
		payload := make([]byte, 8*len(in.DataBlocks))
		for i, b := range in.DataBlocks {
			byteOrder.PutUint64(payload[i*8:i*8+8], b)
		}
		recs = append(recs, record{Tag: tagTree, Payload: payload})
	case vfs.KindSymlink:
		recs = append(recs, record{Tag: tagSymt, Payload: []byte(in.SymlinkTarget)})
	}

	body, err := encodeRecords(recs, BlockSize-headerSize)
	if err != nil {
		return nil, err
	}
	copy(buf[headerSize:], body)
	return buf, nil
}

func decodeInodeBlock(buf []byte) (*onDiskInode, error) {
	if len(buf) < headerSize || string(buf[0:4]) != "INOD" {
		return nil, fmt.Errorf("gxfs: bad inode magic: %w", vfs.ErrIO)
	}
	out := &onDiskInode{
		Kind:      vfs.Kind(buf[12]),
		Perm:      vfs.Mode(byteOrder.Uint16(buf[14:16])),
		UID:       byteOrder.Uint32(buf[16:20]),
		GID:       byteOrder.Uint32(buf[20:24]),
		Links:     byteOrder.Uint32(buf[24:28]),
		ATime:     time.Unix(int64(byteOrder.Uint64(buf[28:36])), 0),
		MTime:     time.Unix(int64(byteOrder.Uint64(buf[36:44])), 0),
		CTime:     time.Unix(int64(byteOrder.Uint64(buf[44:52])), 0),
		BirthTime: time.Unix(int64(byteOrder.Uint64(buf[52:60])), 0),
	}

	for _, r := range decodeRecords(buf[headerSize:]) {
		switch r.Tag {
		case tagAttr:
			n := len(r.Payload) / aclEntrySize
			for i := 0; i < n && i < len(out.ACL); i++ {
				e := r.Payload[i*aclEntrySize : (i+1)*aclEntrySize]
				out.ACL[i] = vfs.ACLEntry{
					Kind: vfs.ACLKind(e[0]),
					ID:   byteOrder.Uint32(e[1:5]),
					Perm: vfs.Mode(byteOrder.Uint16(e[5:7])),
				}
			}
		case tagDent:
			if len(r.Payload) < 9 {
				continue
			}
			ino := byteOrder.Uint64(r.Payload[0:8])
			nameLen := int(r.Payload[8])
			if 9+nameLen > len(r.Payload) {
				continue
			}
			out.Dentries = append(out.Dentries, dentRecord{
				Name: string(r.Payload[9 : 9+nameLen]),
				Ino:  ino,
			})
		case tagTree:
			for i := 0; i+8 <= len(r.Payload); i += 8 {
				out.DataBlocks = append(out.DataBlocks, byteOrder.Uint64(r.Payload[i:i+8]))
			}
		case tagSymt:
			out.SymlinkTarget = string(r.Payload)
		}
	}
	return out, nil
}
