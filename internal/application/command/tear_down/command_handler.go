package tear_down

import (
	"context"
	"errors"
	"fmt"
	"os"

	"applet-tester/internal/application/session"
	"applet-tester/internal/domain/repository"
	"applet-tester/pkg/log"
)

// TearDownHandler handles the TearDownCommand
type TearDownHandler struct {
	platform repository.PlatformRepository
	tracker  *session.Tracker
}

// NewTearDownHandler creates a new TearDownHandler
func NewTearDownHandler(platform repository.PlatformRepository, tracker *session.Tracker) *TearDownHandler {
	return &TearDownHandler{platform: platform, tracker: tracker}
}

// Handle executes the TearDownCommand. Every step is attempted and the
// failures are returned together.
func (h *TearDownHandler) Handle(ctx context.Context, cmd TearDownCommand) error {
	var errs []error

	jobs := h.tracker.Jobs()
	objects := h.tracker.Objects()
	folders := h.tracker.Folders()
	if h.platform != nil {
		for _, jobID := range jobs {
			if err := h.stopJob(ctx, jobID); err != nil {
				errs = append(errs, err)
			}
		}
		if len(objects) > 0 {
			if err := h.platform.RemoveObjects(ctx, objects); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %d objects: %w", len(objects), err))
			} else {
				log.Info("Removed temporary objects", "count", len(objects))
			}
		}
		for _, folder := range folders {
			if err := h.platform.RemoveFolder(ctx, folder); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove folder %s: %w", folder, err))
				continue
			}
			log.Info("Removed run folder", "folder", folder)
		}
	} else if len(jobs) > 0 || len(objects) > 0 || len(folders) > 0 {
		errs = append(errs, errors.New("no platform configured to remove remote objects"))
	}

	if !cmd.KeepLocal {
		for _, p := range h.tracker.Paths() {
			if err := os.RemoveAll(p); err != nil {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", p, err))
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	h.tracker.Forget()
	return nil
}

// stopJob terminates jobID unless it already reached a terminal state. A job
// that cannot be described is terminated anyway.
func (h *TearDownHandler) stopJob(ctx context.Context, jobID string) error {
	desc, err := h.platform.DescribeJob(ctx, jobID)
	if err == nil {
		if status, _ := desc.State.Status(); status.Terminal() {
			return nil
		}
	}
	log.Warn("Terminating unfinished test job", "job_id", jobID, "state", desc.State)
	if err := h.platform.TerminateJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to terminate job %s: %w", jobID, err)
	}
	return nil
}
