// Package capabilities detects the local tools a run depends on.
package capabilities

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Capability names
const (
	CapabilityGit = "git"
)

// Capability represents a local tool that can be detected
type Capability interface {
	// Name returns the name of the capability
	Name() string
	// Version returns the detected version, or a default before detection
	Version() string
	// IsAvailable returns whether the capability is available
	IsAvailable() bool
}

// Require returns an error naming every capability that is not available.
func Require(caps ...Capability) error {
	var errs []error
	for _, c := range caps {
		if !c.IsAvailable() {
			errs = append(errs, fmt.Errorf("%s is not available on this machine", c.Name()))
		}
	}
	return errors.Join(errs...)
}

// detectVersion runs "<binary> --version" and returns the token following marker in
// its first output line.
func detectVersion(binary, marker string) (string, bool) {
	output, err := exec.Command(binary, "--version").Output()
	if err != nil {
		return "", false
	}

	line := strings.SplitN(string(output), "\n", 2)[0]
	idx := strings.Index(line, marker)
	if idx < 0 {
		return "", false
	}
	fields := strings.Fields(line[idx+len(marker):])
	if len(fields) == 0 {
		return "", true
	}
	return strings.TrimSuffix(fields[0], ","), true
}
