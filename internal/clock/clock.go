// Copyright 2025 Google LLC
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

// Package clock gives the VFS core an injectable source of time, so that
// inode timestamps (ATime/MTime/CTime/BirthTime) can be pinned to a known
// value in tests instead of racing against time.Now().
package clock

import "time"

// Clock is the minimal time source the VFS core depends on.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock, backed by the standard library.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
