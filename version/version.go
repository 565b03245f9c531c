// Package version exposes build metadata stamped in at link time.
package version

import (
	"fmt"
	"runtime"
)

// These variables are set during build time
var (
	// Version is the current version
	Version = "0.0.0"

	// Revision is the short commit hash of source tree
	Revision = "unknown"

	// BuiltAt is the build time
	BuiltAt = "unknown"
)

// Info contains version information
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	BuiltAt   string `json:"builtAt"`
	GoVersion string `json:"goVersion"`
}

// GetVersionInfo returns the build's version information.
func GetVersionInfo() Info {
	return Info{
		Version:   Version,
		Revision:  Revision,
		BuiltAt:   BuiltAt,
		GoVersion: runtime.Version(),
	}
}

// String returns a single-line rendering of the version info.
func (i Info) String() string {
	return fmt.Sprintf("upcast %s (%s, built %s, %s)", i.Version, i.Revision, i.BuiltAt, i.GoVersion)
}
