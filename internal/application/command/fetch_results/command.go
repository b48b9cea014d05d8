package fetch_results

import "applet-tester/internal/domain/model"

// FetchResultsCommand retrieves the pytest log of a finished job
type FetchResultsCommand struct {
	Identity model.RunIdentity
	JobID    string
	OutDir   string
	WorkDir  string
	Result   *Result
}

// Result describes the retrieved log
type Result struct {
	LogPath  string
	JobState model.JobState
	Status   model.RunningStatus
	Summary  model.TestSummary
	// FromJobLog is set when the log was rebuilt from the job's platform log.
	FromJobLog bool
}

// Name returns the name of the command
func (c FetchResultsCommand) Name() string {
	return "FetchResults"
}
