package model

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout formats run timestamps as YYYYMMDDhhmmss.
const TimestampLayout = "20060102150405"

// RunIdentity names everything a single invocation creates
type RunIdentity struct {
	Root      string
	StartedAt time.Time
	Nonce     string
}

// NewRunIdentity derives an identity from the applet root directory. The nonce
// keeps concurrent runs started in the same second apart.
func NewRunIdentity(rootDir string, now time.Time) RunIdentity {
	root := filepath.Base(filepath.Clean(rootDir))
	if abs, err := filepath.Abs(rootDir); err == nil {
		root = filepath.Base(abs)
	}
	return RunIdentity{
		Root:      root,
		StartedAt: now,
		Nonce:     strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	}
}

// Timestamp returns the start time in TimestampLayout.
func (r RunIdentity) Timestamp() string {
	return r.StartedAt.Format(TimestampLayout)
}

// Tag is the unique suffix shared by every name of the run.
func (r RunIdentity) Tag() string {
	if r.Nonce == "" {
		return r.Timestamp()
	}
	return r.Timestamp() + "_" + r.Nonce
}

// AppletName is the display name of the temporary applet.
func (r RunIdentity) AppletName() string {
	return r.Root + "_test_" + r.Tag()
}

// JobName is the display name of the launched job.
func (r RunIdentity) JobName() string {
	return "test_" + r.Root + "_" + r.Tag()
}

// RunFolder is the temporary project folder holding the run's objects.
func (r RunIdentity) RunFolder() string {
	return "/" + r.AppletName() + "_tmpdata"
}

// OutputPrefix is passed to the applet to name its outputs.
func (r RunIdentity) OutputPrefix() string {
	return r.Tag()
}

// LogFileName is the name of the local pytest log.
func (r RunIdentity) LogFileName() string {
	return "pytest." + r.Tag() + ".log"
}

// OutputTarballName is the name the applet gives its output tarball.
func (r RunIdentity) OutputTarballName() string {
	return r.OutputPrefix() + ".assoc_results.tar.gz"
}
