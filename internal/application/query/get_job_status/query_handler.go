package get_job_status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/log"
)

// GetJobStatusQueryHandler handles the GetJobStatusQuery
type GetJobStatusQueryHandler struct {
	platform repository.PlatformRepository
}

// NewGetJobStatusQueryHandler creates a new GetJobStatusQueryHandler
func NewGetJobStatusQueryHandler(platform repository.PlatformRepository) *GetJobStatusQueryHandler {
	return &GetJobStatusQueryHandler{platform: platform}
}

// Handle executes the GetJobStatusQuery and returns the result
func (h *GetJobStatusQueryHandler) Handle(ctx context.Context, query GetJobStatusQuery) (model.JobStatus, error) {
	if query.JobID == "" {
		return model.JobStatus{}, errors.New("job ID is required")
	}
	if h.platform == nil {
		return model.JobStatus{}, errors.New("no platform configured")
	}

	desc, err := h.platform.DescribeJob(ctx, query.JobID)
	if err != nil {
		return model.JobStatus{}, fmt.Errorf("failed to describe job %s: %w", query.JobID, err)
	}

	status, known := desc.State.Status()
	if !known {
		log.Warn("Unknown job state, treating as running", "job_id", query.JobID, "state", desc.State)
	}

	var parts []string
	for _, p := range []string{desc.FailureReason, desc.FailureMessage} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return model.JobStatus{
		JobID:   query.JobID,
		State:   desc.State,
		Status:  status,
		Known:   known,
		Message: strings.Join(parts, ": "),
	}, nil
}
