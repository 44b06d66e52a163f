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

package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Octal is a permission-bits field that reads as "0755" in YAML/flags
// rather than decimal, matching how every POSIX tool prints a mode.
type Octal uint32

// hookFunc decodes string-typed YAML/flag values into the handful of
// Config fields that aren't plain strings/ints, the way a mount config
// file written by hand needs ("0755", not 493) to stay readable.
func hookFunc() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		switch t {
		case reflect.TypeOf(Octal(0)):
			v, err := strconv.ParseUint(s, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("config: invalid octal mode %q: %w", s, err)
			}
			return Octal(v), nil
		case reflect.TypeOf(FSType("")):
			ft := FSType(strings.ToLower(s))
			switch ft {
			case FSTypeGXFS, FSTypeISO9660:
				return ft, nil
			default:
				return nil, fmt.Errorf("config: unknown fs-type %q", s)
			}
		}
		return data, nil
	}
}
