// Copyright 2025 Edgeo SCADA
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

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTargets(t *testing.T) {
	targets, names := parseTargets([]string{
		"ns=2;i=3",
		"Temperature=ns=2;s=Temp",
		"i=2253",
		"Pump=ns=2;i=7",
		"Pump=ns=2;i=8",
	})

	assert.Equal(t, []string{"ns=2;i=3", "Temperature", "i=2253", "Pump"}, names)
	assert.Equal(t, map[string]string{
		"ns=2;i=3":    "ns=2;i=3",
		"Temperature": "ns=2;s=Temp",
		"i=2253":      "i=2253",
		"Pump":        "ns=2;i=8",
	}, targets)
}

func TestParseValue(t *testing.T) {
	v, err := parseValue("42", "auto")
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	v, err = parseValue("42", "int32")
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	v, err = parseValue("on", "BOOL")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = parseValue("x", "double")
	assert.Error(t, err)

	_, err = parseValue("1", "decimal")
	assert.ErrorContains(t, err, "unknown type")
}
