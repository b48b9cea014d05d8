// Package version reports the build version of the tool.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// version is overridden at build time with
// -ldflags "-X applet-tester/pkg/version.version=1.2.3".
var (
	version = "0.0.0"
	commit  = ""
)

// GetVersion returns the semantic version of the binary.
func GetVersion() string {
	return version
}

// GetCommit returns the VCS revision the binary was built from, if known.
func GetCommit() string {
	if commit != "" {
		return commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				if len(s.Value) > 12 {
					return s.Value[:12]
				}
				return s.Value
			}
		}
	}
	return "unknown"
}

// String renders the line printed by --version.
func String() string {
	return fmt.Sprintf("applet-tester %s (%s, %s/%s)", GetVersion(), GetCommit(), runtime.GOOS, runtime.GOARCH)
}
