package docker

import (
	"strings"

	"applet-tester/internal/domain/model"
)

// MapContainerState maps a Docker container state to the platform job state
// the launcher understands. An exited container is done only when it exited
// cleanly and produced its output tarball.
func MapContainerState(state string, exitCode int, hasOutput bool) model.JobState {
	switch strings.ToLower(state) {
	case "created":
		return "runnable"
	case "running", "restarting", "paused":
		return "running"
	case "removing":
		return "terminating"
	case "exited":
		if exitCode == 0 && hasOutput {
			return "done"
		}
		return "failed"
	case "dead", "oomkilled":
		return "failed"
	default:
		return "idle"
	}
}
