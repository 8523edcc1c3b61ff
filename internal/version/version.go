/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package version holds build metadata set through -ldflags
package version

var (
	// Version is the drsctl release (overridden via -ldflags)
	Version = "dev"
	// GitSHA is the git commit SHA (overridden via -ldflags)
	GitSHA = "unknown"
)

// String returns a formatted version string
func String() string {
	return "drsctl " + Version + " (" + GitSHA + ")"
}
