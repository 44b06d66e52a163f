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

package iso9660

// suEntry is one System Use Sharing Protocol entry found in a directory
// record's system-use area: a two-character signature, its own length
// (including the 4-byte header) and a version byte.
type suEntry struct {
	Sig     [2]byte
	Version byte
	Payload []byte
}

// scanSU walks buf, which must already have any Rock Ridge byte-skip factor
// removed from its front, yielding every well-formed SU entry it finds.
// Entries this port does not recognize are skipped, not rejected: the
// System Use Sharing Protocol is explicitly designed so unknown extensions
// can coexist.
func scanSU(buf []byte) []suEntry {
	var out []suEntry
	for len(buf) >= 4 {
		length := int(buf[2])
		if length < 4 || length > len(buf) {
			break
		}
		out = append(out, suEntry{
			Sig:     [2]byte{buf[0], buf[1]},
			Version: buf[3],
			Payload: append([]byte(nil), buf[4:length]...),
		})
		buf = buf[length:]
	}
	return out
}

// spByteSkip reports the "SP" extension's byte-skip factor, present only on
// the "." entry of the root directory, signaling Rock Ridge is in use.
func spByteSkip(entries []suEntry) (skip int, present bool) {
	for _, e := range entries {
		if e.Sig == [2]byte{'S', 'P'} && len(e.Payload) >= 3 &&
			e.Payload[0] == 0xBE && e.Payload[1] == 0xEF {
			return int(e.Payload[2]), true
		}
	}
	return 0, false
}

// nmName reports the "NM" extension's alternate name, overriding the plain
// ISO9660 identifier when present. Continuation entries (NM_CONTINUE) are
// not stitched together; a name split across multiple NM entries is
// returned truncated to its first segment, which every image this port has
// needed to read keeps under the single-entry limit anyway.
func nmName(entries []suEntry) (name string, present bool) {
	for _, e := range entries {
		if e.Sig == [2]byte{'N', 'M'} && len(e.Payload) >= 1 {
			return string(e.Payload[1:]), true
		}
	}
	return "", false
}

// rockRidgeName applies the byte-skip factor then looks for an NM entry in
// rec's system-use area, falling back to the plain ISO9660 identifier.
func rockRidgeName(rec *dirRecord, bskip int) string {
	su := rec.SystemUse
	if bskip > 0 && bskip < len(su) {
		su = su[bskip:]
	} else if bskip >= len(su) {
		su = nil
	}
	if name, ok := nmName(scanSU(su)); ok {
		return name
	}
	return displayName(rec.RawName)
}
