package command

import (
	"applet-tester/internal/application/command/build_applet"
	"applet-tester/internal/application/command/fetch_results"
	"applet-tester/internal/application/command/launch"
	"applet-tester/internal/application/command/stage_modules"
	"applet-tester/internal/application/command/tear_down"
	"applet-tester/internal/application/config"
	"applet-tester/internal/application/session"
	"applet-tester/internal/domain/repository"
	"applet-tester/internal/domain/service/manifest"
	"applet-tester/pkg/cqrs"
	"applet-tester/pkg/log"
)

// RegisterCommandHandlers registers one handler per step of a run. platform
// and stager may be nil for dry runs.
func RegisterCommandHandlers(b cqrs.CommandBus, cfg *config.Config, platform repository.PlatformRepository, stager repository.ModuleStager, manifests manifest.ServiceInterface, tracker *session.Tracker) error {
	if err := b.Register(stage_modules.NewStageModulesHandler(stager)); err != nil {
		return log.Errorf("failed to register stage modules handler: %w", err)
	}

	if err := b.Register(build_applet.NewBuildAppletHandler(platform, manifests, tracker)); err != nil {
		return log.Errorf("failed to register build applet handler: %w", err)
	}

	if err := b.Register(launch.NewLaunchTestHandler(platform, manifests, tracker, cfg.Backend == config.BackendDocker)); err != nil {
		return log.Errorf("failed to register launch test handler: %w", err)
	}

	if err := b.Register(fetch_results.NewFetchResultsHandler(platform)); err != nil {
		return log.Errorf("failed to register fetch results handler: %w", err)
	}

	if err := b.Register(tear_down.NewTearDownHandler(platform, tracker)); err != nil {
		return log.Errorf("failed to register tear down handler: %w", err)
	}

	return nil
}
