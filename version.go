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

package opcuahub

import "runtime/debug"

// Version information for the opcuahub package.
const (
	// Version is the current version of the opcuahub package.
	Version = "0.3.0"

	VersionMajor = 0
	VersionMinor = 3
	VersionPatch = 0
)

// VersionInfo contains detailed version information.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Major     int    `json:"major" yaml:"major"`
	Minor     int    `json:"minor" yaml:"minor"`
	Patch     int    `json:"patch" yaml:"patch"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	// Protocol is the version of the OPC UA library the binary was built with.
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// GetVersion returns the current version information.
func GetVersion() VersionInfo {
	info := VersionInfo{
		Version: Version,
		Major:   VersionMajor,
		Minor:   VersionMinor,
		Patch:   VersionPatch,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		for _, dep := range bi.Deps {
			if dep.Path == "github.com/gopcua/opcua" {
				info.Protocol = dep.Version
			}
		}
	}
	return info
}
