package get_job_status

import (
	"context"
	"testing"

	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository/fake"
)

func TestGetJobStatus(t *testing.T) {
	tests := []struct {
		state       model.JobState
		wantStatus  model.RunningStatus
		wantKnown   bool
		wantMessage string
	}{
		{"runnable", model.StatusRunning, true, ""},
		{"done", model.StatusComplete, true, ""},
		{"failed", model.StatusFailed, true, "AppError: boom"},
		{"paused_for_lunch", model.StatusRunning, false, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			platform := fake.NewPlatform()
			platform.States = []model.JobState{tt.state}
			platform.FailureReason = "AppError"
			platform.FailureMessage = "boom"

			got, err := NewGetJobStatusQueryHandler(platform).Handle(context.Background(), GetJobStatusQuery{JobID: "job-1"})
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got.Status != tt.wantStatus || got.Known != tt.wantKnown || got.Message != tt.wantMessage {
				t.Errorf("Handle() = %+v", got)
			}
		})
	}
}

func TestGetJobStatusRequiresJobID(t *testing.T) {
	if _, err := NewGetJobStatusQueryHandler(fake.NewPlatform()).Handle(context.Background(), GetJobStatusQuery{}); err == nil {
		t.Error("expected error without job id")
	}
}
