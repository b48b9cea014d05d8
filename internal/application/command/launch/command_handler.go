package launch

import (
	"context"
	"errors"
	"fmt"

	"applet-tester/internal/application/session"
	"applet-tester/internal/domain/model"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/domain/service/manifest"
	"applet-tester/internal/infra/dnanexus"
	"applet-tester/pkg/log"
)

// LaunchTestHandler handles the LaunchTestCommand
type LaunchTestHandler struct {
	platform  repository.PlatformRepository
	manifests manifest.ServiceInterface
	tracker   *session.Tracker
	// applyDefaults fills declared defaults into the input for backends that
	// do not apply them themselves.
	applyDefaults bool
}

// NewLaunchTestHandler creates a new LaunchTestHandler
func NewLaunchTestHandler(platform repository.PlatformRepository, manifests manifest.ServiceInterface, tracker *session.Tracker, applyDefaults bool) *LaunchTestHandler {
	return &LaunchTestHandler{
		platform:      platform,
		manifests:     manifests,
		tracker:       tracker,
		applyDefaults: applyDefaults,
	}
}

// Handle executes the LaunchTestCommand
func (h *LaunchTestHandler) Handle(ctx context.Context, cmd LaunchTestCommand) error {
	if cmd.Result == nil || cmd.Manifest == nil {
		return errors.New("launch test command needs a manifest and a result")
	}
	if !cmd.DryRun && h.platform == nil {
		return errors.New("no platform configured")
	}

	reserved := map[string]interface{}{
		model.InputTestingScript:    model.NewLink(cmd.ScriptID),
		model.InputTestingDirectory: cmd.Folder,
		model.InputOutputPrefix:     cmd.Identity.OutputPrefix(),
	}
	input, err := h.manifests.ResolveInputs(cmd.Manifest, reserved, cmd.Options)
	if err != nil {
		return fmt.Errorf("invalid applet inputs: %w", err)
	}
	if h.applyDefaults {
		input = h.manifests.WithDefaults(cmd.Manifest, input)
	}

	req := model.RunRequest{
		AppletID:     cmd.AppletID,
		Folder:       cmd.Folder,
		Name:         cmd.Identity.JobName(),
		Input:        input,
		InstanceType: cmd.InstanceType,
	}
	if h.platform != nil {
		req.Project = h.platform.ProjectID()
	}
	cmd.Result.Request = req
	if cmd.DryRun {
		return nil
	}

	jobID, err := h.platform.RunApplet(ctx, req)
	if err != nil {
		if dnanexus.IsInvalidInput(err) {
			return fmt.Errorf("platform rejected the job, check that instance type %q is valid: %w", cmd.InstanceType, err)
		}
		return fmt.Errorf("failed to launch %s: %w", req.Name, err)
	}
	cmd.Result.JobID = jobID
	h.tracker.TrackJob(jobID)
	log.Info("Launched test job", "job_id", jobID, "name", req.Name, "instance_type", cmd.InstanceType)
	return nil
}
