package model

import "strings"

// RunningStatus is the coarse state of a job as seen by the launcher
type RunningStatus int

const (
	StatusRunning RunningStatus = iota
	StatusComplete
	StatusFailed
)

func (s RunningStatus) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusFailed:
		return "failed"
	default:
		return "running"
	}
}

// Terminal reports whether polling can stop.
func (s RunningStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// JobState is a platform job state such as "runnable" or "done"
type JobState string

var jobStates = map[JobState]RunningStatus{
	"done":              StatusComplete,
	"idle":              StatusRunning,
	"runnable":          StatusRunning,
	"running":           StatusRunning,
	"waiting_on_input":  StatusRunning,
	"waiting_on_output": StatusRunning,
	"terminating":       StatusRunning,
	"restartable":       StatusRunning,
	"debug_hold":        StatusRunning,
	"failed":            StatusFailed,
	"terminated":        StatusFailed,
}

// Status maps the state to a RunningStatus. Unknown states map to
// StatusRunning with known set to false.
func (s JobState) Status() (status RunningStatus, known bool) {
	status, known = jobStates[JobState(strings.ToLower(strings.TrimSpace(string(s))))]
	if !known {
		return StatusRunning, false
	}
	return status, true
}

// JobDescription is the subset of a job description the launcher reads
type JobDescription struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name,omitempty"`
	State          JobState               `json:"state"`
	Output         map[string]interface{} `json:"output,omitempty"`
	FailureReason  string                 `json:"failureReason,omitempty"`
	FailureMessage string                 `json:"failureMessage,omitempty"`
}

// OutputFileID returns the file id linked from the named output. Both the
// plain {"$dnanexus_link": "file-x"} form and the extended
// {"$dnanexus_link": {"id": "file-x"}} form are accepted.
func (d JobDescription) OutputFileID(name string) (string, bool) {
	raw, ok := d.Output[name]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, strings.HasPrefix(v, LinkPrefix)
	case map[string]interface{}:
		switch link := v["$dnanexus_link"].(type) {
		case string:
			return link, link != ""
		case map[string]interface{}:
			id, _ := link["id"].(string)
			return id, id != ""
		}
	}
	return "", false
}

// JobStatus is the answer to a job status query
type JobStatus struct {
	JobID   string
	State   JobState
	Status  RunningStatus
	Known   bool
	Message string
}

// FileDescription is the subset of a file description the launcher reads
type FileDescription struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Folder string `json:"folder"`
	State  string `json:"state"`
	Size   int64  `json:"size,omitempty"`
}

// Closed reports whether the file can be downloaded.
func (f FileDescription) Closed() bool {
	return f.State == "closed"
}

// LogMessage is one line of a streamed job log
type LogMessage struct {
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	Level     string `json:"level"`
	Job       string `json:"job"`
	Line      int    `json:"line"`
	Message   string `json:"msg"`
}

// IsEnd reports whether the message terminates the stream.
func (m LogMessage) IsEnd() bool {
	return m.Source == "SYSTEM" && m.Message == "END_LOG"
}
