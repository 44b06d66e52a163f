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

package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Format: "text", Severity: "WARNING", Writer: &buf}))

	Infof("should not appear")
	Warnf("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
	assert.Contains(t, out, "severity=WARNING")
}

func TestJSONFormatUsesSeverityKey(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Config{Format: "json", Severity: "TRACE", Writer: &buf}))

	Tracef("hello %s", "world")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "TRACE", decoded["severity"])
	assert.Equal(t, "hello world", decoded["msg"])
}

func TestUnknownSeverityRejected(t *testing.T) {
	err := Init(Config{Severity: "NOT-A-LEVEL"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "NOT-A-LEVEL"))
}
