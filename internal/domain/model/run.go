package model

import "time"

// RunResult is the outcome of one invocation
type RunResult struct {
	Identity   RunIdentity
	Backend    string
	AppletID   string
	JobID      string
	JobState   JobState
	Status     RunningStatus
	Summary    TestSummary
	LogPath    string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Success reports whether the job completed and its tests passed.
func (r *RunResult) Success() bool {
	return r.Err == nil && r.Status == StatusComplete && r.Summary.Success()
}

// Duration is the wall clock time of the run.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
