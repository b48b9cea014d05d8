package repository

import (
	"context"

	"applet-tester/internal/domain/model"
)

// PlatformRepository defines the operations the launcher needs from an
// execution platform. Implementations exist for the remote API and for a
// local container engine.
type PlatformRepository interface {
	// Name identifies the backend in logs and reports
	Name() string

	// ProjectID returns the project every object is created in
	ProjectID() string

	// NewFolder creates folder (and its parents) in the project
	NewFolder(ctx context.Context, folder string) error

	// UploadFile uploads a local file, closes it and returns its id
	UploadFile(ctx context.Context, req model.UploadRequest) (string, error)

	// DescribeFile returns the state of a file
	DescribeFile(ctx context.Context, fileID string) (model.FileDescription, error)

	// DownloadFile writes the content of a closed file to localPath
	DownloadFile(ctx context.Context, fileID, localPath string) error

	// CreateApplet builds an applet from a manifest document and returns its id
	CreateApplet(ctx context.Context, req model.AppletRequest) (string, error)

	// RunApplet launches an applet and returns the job id
	RunApplet(ctx context.Context, req model.RunRequest) (string, error)

	// DescribeJob returns the state and outputs of a job
	DescribeJob(ctx context.Context, jobID string) (model.JobDescription, error)

	// TerminateJob stops a job that has not finished yet
	TerminateJob(ctx context.Context, jobID string) error

	// StreamJobLog calls fn for every log message until the log ends or ctx is done
	StreamJobLog(ctx context.Context, jobID string, fn func(model.LogMessage)) error

	// RemoveObjects deletes data objects from the project
	RemoveObjects(ctx context.Context, ids []string) error

	// RemoveFolder deletes a folder and everything below it
	RemoveFolder(ctx context.Context, folder string) error
}
